package service

import (
	"context"
	"io"
	"time"

	errors "github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	gutils "github.com/Laisky/go-utils/v6"
	"github.com/Laisky/zap"

	"github.com/lirano/guild-archiver/internal/archive/dto"
	"github.com/lirano/guild-archiver/internal/archive/platform"
)

// BackfillOptions bounds one history replay. Zero times disable the
// corresponding bound; a zero AuthorID captures every author.
type BackfillOptions struct {
	After    time.Time
	Before   time.Time
	AuthorID int64
}

func (o BackfillOptions) validate() error {
	if !o.After.IsZero() && !o.Before.IsZero() && !o.After.Before(o.Before) {
		return errors.Wrapf(ErrValidation, "after %s must precede before %s",
			o.After.Format(time.RFC3339), o.Before.Format(time.RFC3339))
	}

	return nil
}

// BackfillChannel replays one channel's history window through the capture
// pipeline. Individual message failures are counted and skipped; a forbidden
// channel yields a zero-progress report and a nil error. Cancelling the
// context stops the replay but keeps everything captured so far.
func (s *Service) BackfillChannel(ctx context.Context,
	ch platform.Channel, opts BackfillOptions) (dto.ChannelReport, error) {
	logger := gmw.GetLogger(ctx).Named("backfill_channel").
		With(zap.Int64("channel_id", ch.ID), zap.String("channel", ch.Name))
	report := dto.ChannelReport{ChannelID: ch.ID, ChannelName: ch.Name}

	if err := opts.validate(); err != nil {
		return report, err
	}

	iter, err := s.client.History(ctx, ch.ID, opts.After, opts.Before)
	if err != nil {
		if errors.Is(err, platform.ErrForbidden) {
			logger.Warn("no permission to read channel history")
			report.Forbidden = true
			return report, nil
		}

		return report, errors.Wrap(err, "open channel history")
	}

	lastProgress := gutils.Clock.GetUTCNow()
	for {
		msg, err := iter.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, platform.ErrForbidden) {
				logger.Warn("lost permission mid-replay")
				report.Forbidden = true
				return report, nil
			}

			return report, errors.Wrap(err, "iterate channel history")
		}

		if opts.AuthorID != 0 && msg.Author.ID != opts.AuthorID {
			continue
		}

		if err = s.Capture(ctx, msg, true); err != nil {
			logger.Error("capture history message",
				zap.Error(err), zap.Int64("message_id", msg.ID))
			report.Failed++
			continue
		}
		report.Captured++

		if now := gutils.Clock.GetUTCNow(); now.Sub(lastProgress) >= s.cfg.ProgressInterval {
			lastProgress = now
			logger.Info("backfill progress",
				zap.Int("captured", report.Captured),
				zap.Int("failed", report.Failed))
			// advisory only; a slow delivery must not stall the replay
			go s.notify("backfill progress in #%s: %d captured, %d failed",
				ch.Name, report.Captured, report.Failed)
		}
	}

	logger.Info("channel replay done",
		zap.Int("captured", report.Captured),
		zap.Int("failed", report.Failed))
	return report, nil
}

func (s *Service) backfillChannelSet(ctx context.Context,
	chans []platform.Channel, opts BackfillOptions) (*dto.BackfillReport, error) {
	if len(chans) == 0 {
		return nil, errors.Wrap(ErrValidation, "no matching text channels")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	report := &dto.BackfillReport{Started: gutils.Clock.GetUTCNow()}
	for _, ch := range chans {
		cr, err := s.BackfillChannel(ctx, ch, opts)
		report.Add(cr)
		if err != nil {
			report.Finished = gutils.Clock.GetUTCNow()
			return report, err
		}
	}

	report.Finished = gutils.Clock.GetUTCNow()
	return report, nil
}

// CatchUpGuild replays every text channel of a guild since after.
func (s *Service) CatchUpGuild(ctx context.Context,
	guild platform.Guild, after time.Time) (*dto.BackfillReport, error) {
	chans, err := s.client.Channels(ctx, guild.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "list channels for guild %d", guild.ID)
	}

	return s.backfillChannelSet(ctx, platform.TextChannels(chans),
		BackfillOptions{After: after})
}

// BackfillChannels replays an explicit channel id set within a guild.
// Unknown ids and non-text channels are rejected, not silently dropped.
func (s *Service) BackfillChannels(ctx context.Context,
	guildID int64, channelIDs []int64, opts BackfillOptions) (*dto.BackfillReport, error) {
	chans, err := s.client.Channels(ctx, guildID)
	if err != nil {
		return nil, errors.Wrapf(err, "list channels for guild %d", guildID)
	}

	byID := make(map[int64]platform.Channel, len(chans))
	for _, ch := range chans {
		byID[ch.ID] = ch
	}

	picked := make([]platform.Channel, 0, len(channelIDs))
	for _, id := range channelIDs {
		ch, ok := byID[id]
		if !ok || ch.Kind != platform.ChannelText {
			return nil, errors.Wrapf(ErrValidation, "channel %d is not a text channel of guild %d", id, guildID)
		}
		picked = append(picked, ch)
	}

	return s.backfillChannelSet(ctx, picked, opts)
}

// BackfillCategories replays every text channel under the given categories.
func (s *Service) BackfillCategories(ctx context.Context,
	guildID int64, categoryIDs []int64, opts BackfillOptions) (*dto.BackfillReport, error) {
	chans, err := s.client.Channels(ctx, guildID)
	if err != nil {
		return nil, errors.Wrapf(err, "list channels for guild %d", guildID)
	}

	return s.backfillChannelSet(ctx,
		platform.ChannelsInCategories(chans, categoryIDs), opts)
}

// BackfillUser replays a guild's text channels keeping only one author's
// messages. Used after a consent grant that requested historical backfill.
func (s *Service) BackfillUser(ctx context.Context,
	guildID, userID int64, opts BackfillOptions) (*dto.BackfillReport, error) {
	chans, err := s.client.Channels(ctx, guildID)
	if err != nil {
		return nil, errors.Wrapf(err, "list channels for guild %d", guildID)
	}

	opts.AuthorID = userID
	return s.backfillChannelSet(ctx, platform.TextChannels(chans), opts)
}

// BackfillAllGuilds replays every guild the client can see.
func (s *Service) BackfillAllGuilds(ctx context.Context,
	opts BackfillOptions) (*dto.BackfillReport, error) {
	guilds, err := s.client.Guilds(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list guilds")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	total := &dto.BackfillReport{Started: gutils.Clock.GetUTCNow()}
	for _, g := range guilds {
		chans, err := s.client.Channels(ctx, g.ID)
		if err != nil {
			total.Finished = gutils.Clock.GetUTCNow()
			return total, errors.Wrapf(err, "list channels for guild %d", g.ID)
		}

		for _, ch := range platform.TextChannels(chans) {
			cr, err := s.BackfillChannel(ctx, ch, opts)
			total.Add(cr)
			if err != nil {
				total.Finished = gutils.Clock.GetUTCNow()
				return total, err
			}
		}
	}

	total.Finished = gutils.Clock.GetUTCNow()
	return total, nil
}

// RunBootCatchUp closes the offline gap for every visible guild: replay from
// the last shutdown checkpoint (falling back to last boot, then to the
// default lookback for guilds never seen before), then record the new boot.
func (s *Service) RunBootCatchUp(ctx context.Context) error {
	logger := gmw.GetLogger(ctx).Named("boot_catchup")

	guilds, err := s.client.Guilds(ctx)
	if err != nil {
		return errors.Wrap(err, "list guilds")
	}

	for _, g := range guilds {
		s.AttachGuild(g.ID, g.Name)

		after := s.cfg.DefaultLookback
		status, err := s.storage.GetGuildStatus(ctx, g.ID)
		if err != nil {
			return errors.Wrapf(err, "load status for guild %d", g.ID)
		}
		switch {
		case status != nil && status.LastShutdown != nil:
			after = *status.LastShutdown
		case status != nil && status.LastBoot != nil:
			after = *status.LastBoot
		}

		logger.Info("replaying offline gap",
			zap.Int64("guild_id", g.ID),
			zap.String("guild", g.Name),
			zap.Time("after", after))

		report, err := s.CatchUpGuild(ctx, g, after)
		if err != nil {
			return errors.Wrapf(err, "catch up guild %d", g.ID)
		}

		if err = s.storage.RecordBoot(ctx, g.ID, g.Name); err != nil {
			return errors.Wrapf(err, "record boot for guild %d", g.ID)
		}

		logger.Info("offline gap closed",
			zap.Int64("guild_id", g.ID),
			zap.Int("captured", report.Captured),
			zap.Int("failed", report.Failed))
		s.notify("boot catch-up for %s: %d captured, %d failed",
			g.Name, report.Captured, report.Failed)
	}

	return nil
}

// RecordShutdownAll checkpoints every attached guild. Called on graceful
// shutdown, before the storage connection closes.
func (s *Service) RecordShutdownAll(ctx context.Context) error {
	logger := gmw.GetLogger(ctx).Named("shutdown")

	var firstErr error
	s.attachedGuilds.Range(func(k, v any) bool {
		guildID := k.(int64)
		guildName := v.(string)

		if err := s.storage.RecordShutdown(ctx, guildID, guildName); err != nil {
			logger.Error("record shutdown checkpoint",
				zap.Error(err), zap.Int64("guild_id", guildID))
			if firstErr == nil {
				firstErr = err
			}
			return true
		}

		logger.Info("recorded shutdown checkpoint",
			zap.Int64("guild_id", guildID), zap.String("guild", guildName))
		return true
	})

	return errors.Wrap(firstErr, "record shutdown checkpoints")
}
