package service

import (
	"context"
	"time"

	errors "github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	gutils "github.com/Laisky/go-utils/v6"
	"github.com/Laisky/zap"

	"github.com/lirano/guild-archiver/internal/archive/dto"
	"github.com/lirano/guild-archiver/internal/archive/model"
	"github.com/lirano/guild-archiver/internal/archive/platform"
)

// autoGrantInitials marks records created by AutoGrantForMembers rather
// than an explicit user confirmation.
const autoGrantInitials = "AUTO"

// EffectiveLevel resolves the data-collection level for a (guild, user) pair.
//
// The policy default is auto-consent: no record means FULL. Only an
// explicitly revoked record yields NONE. This opt-out default is deliberate
// and must not be flipped to opt-in.
func (s *Service) EffectiveLevel(ctx context.Context, guildID, userID int64) (model.ConsentLevel, error) {
	rec, err := s.storage.GetConsent(ctx, guildID, userID)
	if err != nil {
		return model.ConsentNone, errors.Wrap(err, "load consent record")
	}

	switch {
	case rec == nil:
		return model.ConsentFull, nil
	case !rec.ConsentActive:
		return model.ConsentNone, nil
	default:
		return rec.ConsentLevel, nil
	}
}

// Grant upserts an active consent record. Level downgrades only affect
// future capture; already archived data is untouched.
func (s *Service) Grant(ctx context.Context, guildID int64, guildName string,
	userID int64, userName string, level model.ConsentLevel, initials string,
	backfillRequested bool, backfillFrom *time.Time) (*dto.GrantResult, error) {
	logger := gmw.GetLogger(ctx).Named("consent_grant")

	if level < model.ConsentNone || level > model.ConsentFull {
		return nil, errors.Wrapf(ErrValidation, "consent level %d out of range", level)
	}

	now := gutils.Clock.GetUTCNow()
	rec := &model.ConsentRecord{
		GuildID:           guildID,
		GuildName:         guildName,
		UserID:            userID,
		UserName:          userName,
		ConsentLevel:      level,
		ConsentActive:     true,
		Initials:          initials,
		ConsentedAt:       now,
		UpdatedAt:         now,
		BackfillRequested: backfillRequested,
		BackfillFromDate:  backfillFrom,
	}

	if err := s.storage.UpsertConsent(ctx, rec); err != nil {
		return nil, errors.Wrap(err, "upsert consent record")
	}

	logger.Info("consent granted",
		zap.Int64("guild_id", guildID),
		zap.Int64("user_id", userID),
		zap.String("level", level.String()),
		zap.Bool("backfill", backfillRequested))

	return &dto.GrantResult{
		Record:            rec,
		BackfillRequested: backfillRequested,
		BackfillFrom:      backfillFrom,
	}, nil
}

// Revoke opts a user out. When no record exists one is created directly in
// the revoked state, otherwise the next lookup would silently fall back to
// the FULL default.
func (s *Service) Revoke(ctx context.Context, guildID, userID int64) error {
	logger := gmw.GetLogger(ctx).Named("consent_revoke")

	rec, err := s.storage.GetConsent(ctx, guildID, userID)
	if err != nil {
		return errors.Wrap(err, "load consent record")
	}

	now := gutils.Clock.GetUTCNow()
	if rec == nil {
		rec = &model.ConsentRecord{
			GuildID:       guildID,
			UserID:        userID,
			ConsentLevel:  model.ConsentNone,
			ConsentActive: false,
			RevokedAt:     &now,
			UpdatedAt:     now,
		}
		if err = s.storage.UpsertConsent(ctx, rec); err != nil {
			return errors.Wrap(err, "create revoked consent record")
		}
	} else {
		if _, err = s.storage.RevokeConsent(ctx, guildID, userID); err != nil {
			return errors.Wrap(err, "revoke consent record")
		}
	}

	logger.Info("consent revoked (opt-out)",
		zap.Int64("guild_id", guildID),
		zap.Int64("user_id", userID))
	return nil
}

// EraseUserData removes every archived document and blob payload of one user
// in one guild. This is the only path in the system that deletes documents.
func (s *Service) EraseUserData(ctx context.Context, guildID, userID int64) (*dto.EraseReport, error) {
	logger := gmw.GetLogger(ctx).Named("consent_erase")

	found, err := s.storage.CountUserMessages(ctx, guildID, userID)
	if err != nil {
		return nil, errors.Wrap(err, "count user messages")
	}

	blobKeys, err := s.storage.ListUserBlobKeys(ctx, guildID, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list user blob keys")
	}

	deleted, err := s.storage.DeleteUserMessages(ctx, guildID, userID)
	if err != nil {
		return nil, errors.Wrap(err, "delete user messages")
	}

	blobsDeleted := 0
	for _, key := range blobKeys {
		if s.blobs == nil {
			break
		}
		if err := s.blobs.Remove(ctx, key); err != nil {
			// best-effort: the document is already gone, log and continue
			logger.Error("delete blob", zap.Error(err), zap.String("key", key))
			continue
		}
		blobsDeleted++
	}

	report := &dto.EraseReport{
		MessagesFound:   found,
		MessagesDeleted: deleted,
		BlobsDeleted:    blobsDeleted,
	}

	logger.Info("user data erased",
		zap.Int64("guild_id", guildID),
		zap.Int64("user_id", userID),
		zap.Int64("messages_deleted", deleted),
		zap.Int("blobs_deleted", blobsDeleted))

	s.notify("erased %d messages (%d blobs) for user %d in guild %d",
		deleted, blobsDeleted, userID, guildID)

	return report, nil
}

// AutoGrantForMembers creates an explicit auto-granted FULL record for every
// member lacking any record. Members with a record, explicit or revoked, are
// never touched; bot accounts are skipped.
func (s *Service) AutoGrantForMembers(ctx context.Context, guildID int64,
	guildName string, members []platform.User) (*dto.AutoGrantReport, error) {
	logger := gmw.GetLogger(ctx).Named("consent_auto_grant")

	report := &dto.AutoGrantReport{Total: len(members)}
	for _, member := range members {
		if member.Bot {
			report.SkippedBots++
			continue
		}

		rec, err := s.storage.GetConsent(ctx, guildID, member.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "load consent for member %d", member.ID)
		}
		if rec != nil {
			report.Existing++
			continue
		}

		now := gutils.Clock.GetUTCNow()
		if err = s.storage.UpsertConsent(ctx, &model.ConsentRecord{
			GuildID:       guildID,
			GuildName:     guildName,
			UserID:        member.ID,
			UserName:      member.Name,
			ConsentLevel:  model.ConsentFull,
			ConsentActive: true,
			AutoGranted:   true,
			Initials:      autoGrantInitials,
			ConsentedAt:   now,
			UpdatedAt:     now,
		}); err != nil {
			return nil, errors.Wrapf(err, "auto-grant consent for member %d", member.ID)
		}
		report.Created++
	}

	logger.Info("auto-consent sweep",
		zap.Int64("guild_id", guildID),
		zap.String("guild_name", guildName),
		zap.Int("created", report.Created),
		zap.Int("existing", report.Existing),
		zap.Int("skipped_bots", report.SkippedBots))

	return report, nil
}
