package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	gcmd "github.com/Laisky/go-utils/v6/cmd"
	"github.com/Laisky/zap"
	"github.com/spf13/cobra"

	"github.com/lirano/guild-archiver/internal/archive/platform"
	"github.com/lirano/guild-archiver/internal/archive/service"
	"github.com/lirano/guild-archiver/library/log"
)

const shutdownTimeout = 30 * time.Second

// platformFactory builds the concrete chat-platform client. The adapter
// binary registers it from its own init; the archiver core stays free of
// any wire-protocol dependency.
var platformFactory func(ctx context.Context) (platform.Client, error)

// RegisterPlatform installs the chat-platform adapter the archiver command
// runs against. Must be called before Execute.
func RegisterPlatform(f func(ctx context.Context) (platform.Client, error)) {
	platformFactory = f
}

var archiverCMD = &cobra.Command{
	Use:   "archiver",
	Short: "archiver",
	Long:  `run the archival service until interrupted`,
	Args:  gcmd.NoExtraArgs,
	PreRun: func(cmd *cobra.Command, args []string) {
		if err := initialize(cmd.Context(), cmd); err != nil {
			log.Logger.Panic("init", zap.Error(err))
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		runArchiver(cmd.Context())
	},
}

func runArchiver(ctx context.Context) {
	if platformFactory == nil {
		log.Logger.Panic("no platform adapter registered")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := platformFactory(ctx)
	if err != nil {
		log.Logger.Panic("new platform client", zap.Error(err))
	}

	service.Initialize(ctx, client)

	go func() {
		if err := service.Instance.RunBootCatchUp(ctx); err != nil {
			log.Logger.Error("boot catch-up", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Logger.Info("shutting down")

	// checkpoints must land before the connection closes
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := service.Instance.RecordShutdownAll(shutdownCtx); err != nil {
		log.Logger.Error("record shutdown checkpoints", zap.Error(err))
	}
	if err := service.Instance.Close(shutdownCtx); err != nil {
		log.Logger.Error("close storage", zap.Error(err))
	}
}

func init() {
	rootCMD.AddCommand(archiverCMD)
}
