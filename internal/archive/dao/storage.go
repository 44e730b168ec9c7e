// Package dao is the data access object for the archive store.
package dao

import (
	"context"

	gmw "github.com/Laisky/gin-middlewares/v7"
	gutils "github.com/Laisky/go-utils/v6"
	"github.com/Laisky/zap"
	"go.mongodb.org/mongo-driver/bson"
	mongoLib "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/lirano/guild-archiver/internal/archive/model"
	"github.com/lirano/guild-archiver/library/db/mongo"
)

const (
	messagesColName    = "messages"
	guildStatusColName = "guild_status"
	userConsentColName = "user_consent"
)

// Storage persists message documents, guild checkpoints and consent records.
type Storage struct {
	db mongo.DB
}

// NewStorage create new Storage
func NewStorage(db mongo.DB) *Storage {
	return &Storage{db}
}

func (d *Storage) GetMessagesCol() *mongoLib.Collection {
	return d.db.GetCol(messagesColName)
}
func (d *Storage) GetGuildStatusCol() *mongoLib.Collection {
	return d.db.GetCol(guildStatusColName)
}
func (d *Storage) GetConsentCol() *mongoLib.Collection {
	return d.db.GetCol(userConsentColName)
}

// EnsureIndexes creates the query indexes; safe to call on every boot.
func (d *Storage) EnsureIndexes(ctx context.Context) error {
	logger := gmw.GetLogger(ctx).Named("archive_ensure_indexes")

	_, err := d.GetMessagesCol().Indexes().CreateMany(ctx, []mongoLib.IndexModel{
		{Keys: bson.D{{Key: "message_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "channel_id", Value: 1}}},
		{Keys: bson.D{{Key: "author_id", Value: 1}}},
		{Keys: bson.D{{Key: "timestamp", Value: 1}}},
		{Keys: bson.D{{Key: "deleted", Value: 1}}},
		{Keys: bson.D{{Key: "guild_id", Value: 1}}},
		{Keys: bson.D{{Key: "guild_id", Value: 1}, {Key: "author_id", Value: 1}}},
	})
	if err != nil {
		return storageErr("create message indexes", err)
	}

	_, err = d.GetGuildStatusCol().Indexes().CreateOne(ctx, mongoLib.IndexModel{
		Keys:    bson.D{{Key: "guild_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return storageErr("create guild_status indexes", err)
	}

	_, err = d.GetConsentCol().Indexes().CreateMany(ctx, []mongoLib.IndexModel{
		{
			Keys:    bson.D{{Key: "guild_id", Value: 1}, {Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
		{Keys: bson.D{{Key: "consent_active", Value: 1}}},
	})
	if err != nil {
		return storageErr("create user_consent indexes", err)
	}

	logger.Info("indexes created/verified")
	return nil
}

// UpsertMessage inserts or updates the document for doc.MessageID in one
// atomic call. Last write wins; re-capture never duplicates. The update is a
// $set of the full payload so that append-only fields absent from the fresh
// capture (edits, reaction_events) survive a replay.
func (d *Storage) UpsertMessage(ctx context.Context, doc *model.Message) error {
	_, err := d.GetMessagesCol().UpdateOne(ctx,
		bson.M{"message_id": doc.MessageID},
		bson.M{"$set": doc},
		options.Update().SetUpsert(true),
	)

	return storageErr("upsert message docu", err)
}

// UpdateMessage applies a partial field update to one document by message id.
func (d *Storage) UpdateMessage(ctx context.Context, messageID int64, update bson.M) error {
	_, err := d.GetMessagesCol().UpdateOne(ctx,
		bson.M{"message_id": messageID},
		update,
	)

	return storageErr("update message docu", err)
}

// UpdateMessagesBulk applies the same partial update to every id in the set.
func (d *Storage) UpdateMessagesBulk(ctx context.Context, messageIDs []int64, update bson.M) error {
	_, err := d.GetMessagesCol().UpdateMany(ctx,
		bson.M{"message_id": bson.M{"$in": messageIDs}},
		update,
	)

	return storageErr("bulk update message docus", err)
}

// MarkDeleted flags one document deleted without removing it. Works with only
// the message id, so uncached deletion events succeed too.
func (d *Storage) MarkDeleted(ctx context.Context, messageID int64) error {
	return d.UpdateMessage(ctx, messageID, bson.M{
		"$set": bson.M{
			"deleted":    true,
			"deleted_at": gutils.Clock.GetUTCNow(),
		},
	})
}

// MarkBulkDeleted flags every id in the set deleted with a shared timestamp.
func (d *Storage) MarkBulkDeleted(ctx context.Context, messageIDs []int64) error {
	return d.UpdateMessagesBulk(ctx, messageIDs, bson.M{
		"$set": bson.M{
			"deleted":     true,
			"deleted_at":  gutils.Clock.GetUTCNow(),
			"bulk_delete": true,
		},
	})
}

// AppendEdit pushes one edit-history entry; edit history is append-only.
func (d *Storage) AppendEdit(ctx context.Context, messageID int64, entry model.EditEntry) error {
	return d.UpdateMessage(ctx, messageID, bson.M{
		"$push": bson.M{"edits": entry},
	})
}

// AppendReactionEvent pushes one reaction event and, when snapshot is not
// nil, refreshes the aggregate reaction summary in the same update.
func (d *Storage) AppendReactionEvent(ctx context.Context, messageID int64,
	ev model.ReactionEvent, snapshot []model.ReactionSummary) error {
	update := bson.M{
		"$push": bson.M{"reaction_events": ev},
	}
	if snapshot != nil {
		update["$set"] = bson.M{"reactions": snapshot}
	}

	return d.UpdateMessage(ctx, messageID, update)
}

// GetMessage loads one document by message id, nil when absent.
func (d *Storage) GetMessage(ctx context.Context, messageID int64) (*model.Message, error) {
	doc := new(model.Message)
	err := d.GetMessagesCol().FindOne(ctx, bson.M{"message_id": messageID}).Decode(doc)
	if mongo.NotFound(err) {
		return nil, nil
	} else if err != nil {
		return nil, storageErr("load message docu", err)
	}

	return doc, nil
}

// GetGuildStatus loads the checkpoint record for a guild, nil when the guild
// has never been observed.
func (d *Storage) GetGuildStatus(ctx context.Context, guildID int64) (*model.GuildStatus, error) {
	st := new(model.GuildStatus)
	err := d.GetGuildStatusCol().FindOne(ctx, bson.M{"guild_id": guildID}).Decode(st)
	if mongo.NotFound(err) {
		return nil, nil
	} else if err != nil {
		return nil, storageErr("load guild_status docu", err)
	}

	return st, nil
}

// UpsertGuildStatus merges fields into the guild checkpoint record.
func (d *Storage) UpsertGuildStatus(ctx context.Context, guildID int64, guildName string, fields bson.M) error {
	set := bson.M{"guild_name": guildName}
	for k, v := range fields {
		set[k] = v
	}

	_, err := d.GetGuildStatusCol().UpdateOne(ctx,
		bson.M{"guild_id": guildID},
		bson.M{
			"$set":         set,
			"$setOnInsert": bson.M{"guild_id": guildID},
		},
		options.Update().SetUpsert(true),
	)

	return storageErr("upsert guild_status docu", err)
}

// RecordBoot writes the boot checkpoint for a guild.
func (d *Storage) RecordBoot(ctx context.Context, guildID int64, guildName string) error {
	return d.UpsertGuildStatus(ctx, guildID, guildName, bson.M{
		"last_boot": gutils.Clock.GetUTCNow(),
	})
}

// RecordShutdown writes the shutdown checkpoint for a guild. This timestamp
// anchors the next boot's catch-up window.
func (d *Storage) RecordShutdown(ctx context.Context, guildID int64, guildName string) error {
	return d.UpsertGuildStatus(ctx, guildID, guildName, bson.M{
		"last_shutdown": gutils.Clock.GetUTCNow(),
	})
}

// GetConsent loads the consent record for (guild, user), nil when absent.
func (d *Storage) GetConsent(ctx context.Context, guildID, userID int64) (*model.ConsentRecord, error) {
	rec := new(model.ConsentRecord)
	err := d.GetConsentCol().FindOne(ctx,
		bson.M{"guild_id": guildID, "user_id": userID},
	).Decode(rec)
	if mongo.NotFound(err) {
		return nil, nil
	} else if err != nil {
		return nil, storageErr("load user_consent docu", err)
	}

	return rec, nil
}

// UpsertConsent inserts or replaces the consent record for (guild, user).
func (d *Storage) UpsertConsent(ctx context.Context, rec *model.ConsentRecord) error {
	logger := gmw.GetLogger(ctx).Named("archive_upsert_consent")

	info, err := d.GetConsentCol().ReplaceOne(ctx,
		bson.M{"guild_id": rec.GuildID, "user_id": rec.UserID},
		rec,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return storageErr("upsert user_consent docu", err)
	}

	if info.MatchedCount == 0 {
		logger.Info("create consent record",
			zap.Int64("guild_id", rec.GuildID),
			zap.Int64("user_id", rec.UserID),
			zap.String("level", rec.ConsentLevel.String()))
	}

	return nil
}

// RevokeConsent marks an existing record inactive with a revocation time.
// Returns whether a record was modified.
func (d *Storage) RevokeConsent(ctx context.Context, guildID, userID int64) (bool, error) {
	info, err := d.GetConsentCol().UpdateOne(ctx,
		bson.M{"guild_id": guildID, "user_id": userID},
		bson.M{"$set": bson.M{
			"consent_active": false,
			"consent_level":  model.ConsentNone,
			"revoked_at":     gutils.Clock.GetUTCNow(),
			"updated_at":     gutils.Clock.GetUTCNow(),
		}},
	)
	if err != nil {
		return false, storageErr("revoke user_consent docu", err)
	}

	return info.ModifiedCount > 0, nil
}

// CountUserMessages counts archived documents for a user in one guild.
func (d *Storage) CountUserMessages(ctx context.Context, guildID, userID int64) (int64, error) {
	cnt, err := d.GetMessagesCol().CountDocuments(ctx,
		bson.M{"guild_id": guildID, "author_id": userID},
	)
	if err != nil {
		return 0, storageErr("count user messages", err)
	}

	return cnt, nil
}

// DeleteUserMessages removes every document for a user in one guild. This is
// the erasure path, the only operation that deletes rather than flags.
func (d *Storage) DeleteUserMessages(ctx context.Context, guildID, userID int64) (int64, error) {
	info, err := d.GetMessagesCol().DeleteMany(ctx,
		bson.M{"guild_id": guildID, "author_id": userID},
	)
	if err != nil {
		return 0, storageErr("delete user messages", err)
	}

	return info.DeletedCount, nil
}

// ListUserBlobKeys returns the blob references held by a user's documents in
// one guild, for erasure of externally stored attachment payloads.
func (d *Storage) ListUserBlobKeys(ctx context.Context, guildID, userID int64) ([]string, error) {
	cur, err := d.GetMessagesCol().Find(ctx,
		bson.M{
			"guild_id":         guildID,
			"author_id":        userID,
			"attachments.tier": model.TierBlob,
		},
		options.Find().SetProjection(bson.M{"attachments": 1}),
	)
	if err != nil {
		return nil, storageErr("find user blob attachments", err)
	}

	var docs []model.Message
	if err = cur.All(ctx, &docs); err != nil {
		return nil, storageErr("load user blob attachments", err)
	}

	var keys []string
	for i := range docs {
		for _, att := range docs[i].Attachments {
			if att.Tier == model.TierBlob && att.BlobKey != "" {
				keys = append(keys, att.BlobKey)
			}
		}
	}

	return keys, nil
}
