package service

import (
	"context"
	"strings"

	errors "github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	gutils "github.com/Laisky/go-utils/v6"
	"github.com/Laisky/zap"
	"github.com/jinzhu/copier"
	"golang.org/x/sync/errgroup"

	"github.com/lirano/guild-archiver/internal/archive/dao"
	"github.com/lirano/guild-archiver/internal/archive/model"
	"github.com/lirano/guild-archiver/internal/archive/platform"
)

const redactReasonConsent = "Insufficient consent level"
const redactReasonNotImage = "Non-image attachment not downloaded"

// Capture converts one raw platform message into an archival document and
// upserts it. It is the single code path for live events and replay; the
// unconditional upsert is what makes replay idempotent.
//
// Bot-authored messages always capture at FULL; they are not subject to user
// consent. A user whose effective level is NONE is skipped entirely, with no
// document written and no trace retained.
func (s *Service) Capture(ctx context.Context, msg *platform.Message, isCatchup bool) error {
	logger := gmw.GetLogger(ctx).Named("capture")

	level := model.ConsentFull
	if !msg.Author.Bot {
		var err error
		level, err = s.EffectiveLevel(ctx, msg.GuildID, msg.Author.ID)
		if err != nil {
			return errors.Wrap(err, "resolve effective consent level")
		}

		if level == model.ConsentNone {
			// revoked consent: a silent, successful no-op
			return nil
		}
	}

	doc := s.buildDocument(msg, isCatchup, level)
	doc.Attachments = s.materializeAttachments(ctx, msg, level)

	if err := s.storage.UpsertMessage(ctx, doc); err != nil {
		return errors.Wrap(err, "upsert message")
	}

	if !isCatchup {
		logger.Info("logged message",
			zap.Int64("message_id", msg.ID),
			zap.String("author", msg.Author.Name),
			zap.String("channel", msg.ChannelName),
			zap.String("consent_level", level.String()))
	}

	return nil
}

// buildDocument renders the archival document honoring the consent level.
// Content is recorded verbatim only at CONTENT or above.
func (s *Service) buildDocument(msg *platform.Message, isCatchup bool, level model.ConsentLevel) *model.Message {
	content := msg.Content
	if level < model.ConsentContent {
		content = model.RedactedContent
	}

	doc := &model.Message{
		MessageID:       msg.ID,
		ChannelID:       msg.ChannelID,
		ChannelName:     msg.ChannelName,
		GuildID:         msg.GuildID,
		GuildName:       msg.GuildName,
		AuthorID:        msg.Author.ID,
		AuthorName:      msg.Author.Name,
		AuthorBot:       msg.Author.Bot,
		Content:         content,
		ConsentLevel:    level,
		Timestamp:       msg.CreatedAt,
		EditedTimestamp: msg.EditedAt,
		TTS:             msg.TTS,
		MentionEveryone: msg.MentionEveryone,
		MentionRoles:    msg.MentionRoles,
		MentionChannels: msg.MentionChannels,
		Pinned:          msg.Pinned,
		Type:            msg.Type,
		Flags:           msg.Flags,
		Deleted:         false,
		IsCatchup:       isCatchup,
		LoggedAt:        gutils.Clock.GetUTCNow(),
	}

	doc.Mentions = make([]model.MentionedUser, 0, len(msg.Mentions))
	for _, u := range msg.Mentions {
		doc.Mentions = append(doc.Mentions, model.MentionedUser{
			UserID: u.ID,
			Name:   u.Name,
			Bot:    u.Bot,
		})
	}

	// field-compatible slices
	_ = copier.Copy(&doc.Embeds, &msg.Embeds)
	_ = copier.Copy(&doc.Reactions, &msg.Reactions)

	if msg.Reference != nil {
		doc.Reference = &model.Reference{
			MessageID: msg.Reference.MessageID,
			ChannelID: msg.Reference.ChannelID,
			GuildID:   msg.Reference.GuildID,
		}
	}
	if doc.Embeds == nil {
		doc.Embeds = []model.Embed{}
	}
	if doc.Reactions == nil {
		doc.Reactions = []model.ReactionSummary{}
	}

	return doc
}

// materializeAttachments resolves the stored form of every attachment.
// Payloads are fetched only at FULL consent, and only for images; everything
// else keeps metadata plus a redaction reason. One failed download degrades
// to a recorded error on that attachment, never a capture abort.
func (s *Service) materializeAttachments(ctx context.Context,
	msg *platform.Message, level model.ConsentLevel) []model.Attachment {
	logger := gmw.GetLogger(ctx).Named("capture_attachments")

	out := make([]model.Attachment, len(msg.Attachments))
	for i, ref := range msg.Attachments {
		out[i] = model.Attachment{
			AttachmentID: ref.ID,
			Filename:     ref.Filename,
			Size:         ref.Size,
			URL:          ref.URL,
			ContentType:  ref.ContentType,
			Width:        ref.Width,
			Height:       ref.Height,
		}
	}
	if len(out) == 0 {
		return out
	}

	if level < model.ConsentFull {
		for i := range out {
			out[i].Tier = model.TierRedacted
			out[i].RedactReason = redactReasonConsent
		}
		return out
	}

	var pool errgroup.Group
	pool.SetLimit(s.cfg.DownloadConcurrency)
	for i := range out {
		pool.Go(func() error {
			if !strings.HasPrefix(out[i].ContentType, "image/") {
				out[i].Tier = model.TierRedacted
				out[i].RedactReason = redactReasonNotImage
				return nil
			}

			data, err := s.fetch.Fetch(ctx, out[i].URL)
			if err != nil {
				logger.Error("download attachment",
					zap.Error(err),
					zap.Int64("attachment_id", out[i].AttachmentID))
				out[i].DownloadErr = err.Error()
				out[i].DownloadedAt = gutils.Clock.GetUTCNow()
				return nil // recorded, not fatal
			}

			out[i].DownloadedAt = gutils.Clock.GetUTCNow()

			// tier is fixed here, by actual size, and never renegotiated
			if int64(len(data)) > s.cfg.InlineThreshold {
				key, err := s.blobs.Put(ctx, data, dao.BlobMeta{
					MessageID:    msg.ID,
					AttachmentID: out[i].AttachmentID,
					Filename:     out[i].Filename,
					ContentType:  out[i].ContentType,
				})
				if err != nil {
					logger.Error("store blob attachment",
						zap.Error(err),
						zap.Int64("attachment_id", out[i].AttachmentID))
					out[i].DownloadErr = err.Error()
					return nil
				}

				out[i].Tier = model.TierBlob
				out[i].BlobKey = key
				logger.Info("stored large attachment in blob store",
					zap.Int64("attachment_id", out[i].AttachmentID),
					zap.Int("size", len(data)))
				return nil
			}

			out[i].Tier = model.TierInline
			out[i].Data = data
			return nil
		})
	}
	_ = pool.Wait() // workers never return errors, they record them

	return out
}

// HandleEdit regenerates the document for the message's current state and
// appends one edit-history entry. Edit history is append-only; prior entries
// are never overwritten.
func (s *Service) HandleEdit(ctx context.Context, before, after *platform.Message) error {
	if err := s.Capture(ctx, after, false); err != nil {
		return errors.Wrap(err, "recapture edited message")
	}

	var oldContent string
	if before != nil {
		oldContent = before.Content
	}

	if err := s.storage.AppendEdit(ctx, after.ID, model.EditEntry{
		OldContent: oldContent,
		NewContent: after.Content,
		Timestamp:  gutils.Clock.GetUTCNow(),
	}); err != nil {
		return errors.Wrap(err, "append edit entry")
	}

	return nil
}

// MarkDeleted flags one message deleted. It needs only the id, so uncached
// deletion events are handled identically.
func (s *Service) MarkDeleted(ctx context.Context, messageID int64) error {
	return errors.Wrap(s.storage.MarkDeleted(ctx, messageID), "mark deleted")
}

// MarkBulkDeleted flags a whole id set deleted in one storage call.
func (s *Service) MarkBulkDeleted(ctx context.Context, messageIDs []int64) error {
	if len(messageIDs) == 0 {
		return nil
	}

	return errors.Wrap(s.storage.MarkBulkDeleted(ctx, messageIDs), "mark bulk deleted")
}

// HandleReactionChange appends one reaction event and refreshes the
// aggregate snapshot from the cached message.
func (s *Service) HandleReactionChange(ctx context.Context, msg *platform.Message,
	reactionType, emoji string, user platform.User) error {
	snapshot := make([]model.ReactionSummary, 0, len(msg.Reactions))
	for _, r := range msg.Reactions {
		snapshot = append(snapshot, model.ReactionSummary{
			Emoji: r.Emoji,
			Count: r.Count,
			Me:    r.Me,
		})
	}

	return errors.Wrap(s.storage.AppendReactionEvent(ctx, msg.ID,
		model.ReactionEvent{
			Type:      reactionType,
			Emoji:     emoji,
			UserID:    user.ID,
			UserName:  user.Name,
			Timestamp: gutils.Clock.GetUTCNow(),
		}, snapshot), "append reaction event")
}

// HandleRawReactionChange appends a reaction event for an uncached message;
// with no local copy there is no snapshot to refresh.
func (s *Service) HandleRawReactionChange(ctx context.Context, messageID int64,
	reactionType, emoji string, userID int64) error {
	return errors.Wrap(s.storage.AppendReactionEvent(ctx, messageID,
		model.ReactionEvent{
			Type:      reactionType,
			Emoji:     emoji,
			UserID:    userID,
			Timestamp: gutils.Clock.GetUTCNow(),
		}, nil), "append raw reaction event")
}
