// Package service implements the archival pipeline: consent policy, message
// capture, and gap reconciliation.
package service

import (
	"context"
	"slices"
	"sync"
	"time"

	errors "github.com/Laisky/errors/v2"
	gconfig "github.com/Laisky/go-config/v2"
	"github.com/Laisky/zap"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/lirano/guild-archiver/internal/archive/dao"
	"github.com/lirano/guild-archiver/internal/archive/model"
	"github.com/lirano/guild-archiver/internal/archive/platform"
	mongoSDK "github.com/lirano/guild-archiver/library/db/mongo"
	"github.com/lirano/guild-archiver/library/log"
)

const (
	// MaxAttachmentInlineSize is the tier threshold: payloads above it go to
	// the blob store, at or below it are embedded in the document.
	MaxAttachmentInlineSize = 5 * 1024 * 1024
	// MaxDocumentSize is the safety margin under the store's 16MB document cap.
	MaxDocumentSize = 15 * 1024 * 1024

	defaultDownloadConcurrency = 5
	defaultProgressInterval    = 5 * time.Minute
)

// DefaultLookback is where history replay starts for a guild that has never
// been checkpointed.
var DefaultLookback = time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)

// Storage is the persistence contract the service needs; *dao.Storage
// satisfies it.
type Storage interface {
	EnsureIndexes(ctx context.Context) error
	UpsertMessage(ctx context.Context, doc *model.Message) error
	GetMessage(ctx context.Context, messageID int64) (*model.Message, error)
	MarkDeleted(ctx context.Context, messageID int64) error
	MarkBulkDeleted(ctx context.Context, messageIDs []int64) error
	AppendEdit(ctx context.Context, messageID int64, entry model.EditEntry) error
	AppendReactionEvent(ctx context.Context, messageID int64, ev model.ReactionEvent, snapshot []model.ReactionSummary) error
	GetGuildStatus(ctx context.Context, guildID int64) (*model.GuildStatus, error)
	RecordBoot(ctx context.Context, guildID int64, guildName string) error
	RecordShutdown(ctx context.Context, guildID int64, guildName string) error
	GetConsent(ctx context.Context, guildID, userID int64) (*model.ConsentRecord, error)
	UpsertConsent(ctx context.Context, rec *model.ConsentRecord) error
	RevokeConsent(ctx context.Context, guildID, userID int64) (bool, error)
	CountUserMessages(ctx context.Context, guildID, userID int64) (int64, error)
	DeleteUserMessages(ctx context.Context, guildID, userID int64) (int64, error)
	ListUserBlobKeys(ctx context.Context, guildID, userID int64) ([]string, error)
}

// BlobStore is the companion large-object store; *dao.Blobs satisfies it.
type BlobStore interface {
	Put(ctx context.Context, data []byte, meta dao.BlobMeta) (key string, err error)
	Remove(ctx context.Context, key string) error
}

// Downloader fetches attachment bytes from the platform CDN.
type Downloader interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Config is built once at process start and passed into New.
type Config struct {
	InlineThreshold     int64
	DownloadConcurrency int
	ProgressInterval    time.Duration
	DefaultLookback     time.Time
}

func (c *Config) fillDefaults() {
	if c.InlineThreshold <= 0 {
		c.InlineThreshold = MaxAttachmentInlineSize
	}
	if c.DownloadConcurrency <= 0 {
		c.DownloadConcurrency = defaultDownloadConcurrency
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = defaultProgressInterval
	}
	if c.DefaultLookback.IsZero() {
		c.DefaultLookback = DefaultLookback
	}
}

// Service is the archive core: consent engine, capture pipeline and
// reconciliation orchestrator over one Storage.
type Service struct {
	cfg Config

	storage  Storage
	blobs    BlobStore
	client   platform.Client
	fetch    Downloader
	notifier Notifier

	// attachedGuilds are the guilds this process has observed; shutdown
	// checkpoints are written for exactly this set.
	attachedGuilds *sync.Map // guild id -> guild name

	pendingConfirms *sync.Map

	// db is set only when Initialize dialed the database itself.
	db mongoSDK.DB
}

// Close releases the database connection, after shutdown checkpoints are
// written.
func (s *Service) Close(ctx context.Context) error {
	if s.db == nil {
		return nil
	}

	return s.db.Close(ctx)
}

var Instance *Service

// Initialize wires the service from shared settings.
func Initialize(ctx context.Context, client platform.Client) {
	db, err := model.New(ctx)
	if err != nil {
		log.Logger.Panic("dial archive db", zap.Error(err))
	}

	minioCli, err := minio.New(
		gconfig.Shared.GetString("settings.archive.blob.endpoint"),
		&minio.Options{
			Creds: credentials.NewStaticV4(
				gconfig.Shared.GetString("settings.archive.blob.access_key"),
				gconfig.Shared.GetString("settings.archive.blob.access_secret"),
				"",
			),
			Secure: gconfig.Shared.GetBool("settings.archive.blob.secure"),
		},
	)
	if err != nil {
		log.Logger.Panic("new minio client", zap.Error(err))
	}

	blobs := dao.NewBlobs(minioCli,
		gconfig.Shared.GetString("settings.archive.blob.bucket"),
		gconfig.Shared.GetString("settings.archive.blob.prefix"),
	)

	var notifier Notifier
	if slices.Contains(gconfig.Shared.GetStringSlice("tasks"), "telegram") {
		token := gconfig.Shared.GetString("settings.archive.telegram.token")
		notifier, err = NewTelegramNotifier(ctx,
			token,
			gconfig.Shared.GetString("settings.archive.telegram.api"),
			gconfig.Shared.GetInt64("settings.archive.telegram.admin_uid"),
		)
		if err != nil {
			log.Logger.Panic("new telegram notifier", zap.Error(err))
		}
	}

	cfg := Config{
		InlineThreshold:     gconfig.Shared.GetInt64("settings.archive.inline_threshold_bytes"),
		DownloadConcurrency: gconfig.Shared.GetInt("settings.archive.download_concurrency"),
		ProgressInterval:    gconfig.Shared.GetDuration("settings.archive.progress_interval"),
	}
	if raw := gconfig.Shared.GetString("settings.archive.default_lookback"); raw != "" {
		cfg.DefaultLookback, err = time.Parse(time.DateOnly, raw)
		if err != nil {
			log.Logger.Panic("parse default lookback", zap.Error(err), zap.String("raw", raw))
		}
	}

	Instance, err = New(dao.NewStorage(db), blobs, client, notifier, cfg)
	if err != nil {
		log.Logger.Panic("new archive service", zap.Error(err))
	}
	Instance.db = db

	if err = Instance.storage.EnsureIndexes(ctx); err != nil {
		log.Logger.Panic("ensure indexes", zap.Error(err))
	}
}

// New create new archive service
func New(storage Storage, blobs BlobStore, client platform.Client,
	notifier Notifier, cfg Config) (*Service, error) {
	if storage == nil {
		return nil, errors.New("storage is required")
	}

	cfg.fillDefaults()
	return &Service{
		cfg:             cfg,
		storage:         storage,
		blobs:           blobs,
		client:          client,
		fetch:           newHTTPDownloader(),
		notifier:        notifier,
		attachedGuilds:  new(sync.Map),
		pendingConfirms: new(sync.Map),
	}, nil
}

// AttachGuild registers a guild as observed by this process.
func (s *Service) AttachGuild(guildID int64, guildName string) {
	s.attachedGuilds.Store(guildID, guildName)
}
