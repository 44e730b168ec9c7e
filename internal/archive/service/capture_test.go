package service

import (
	"bytes"
	"context"
	"testing"
	"time"

	errors "github.com/Laisky/errors/v2"
	"github.com/stretchr/testify/require"

	"github.com/lirano/guild-archiver/internal/archive/model"
	"github.com/lirano/guild-archiver/internal/archive/platform"
)

func testMessage(id int64, authorID int64) *platform.Message {
	return &platform.Message{
		ID:          id,
		ChannelID:   500,
		ChannelName: "general",
		GuildID:     100,
		GuildName:   "guild",
		Author:      platform.User{ID: authorID, Name: "alice"},
		Content:     "hello world",
		CreatedAt:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Type:        "default",
	}
}

func TestCaptureFullConsent(t *testing.T) {
	ctx := context.Background()
	storage := newMemStorage()
	svc := newTestService(t, storage, newMemBlobs(), nil)

	require.NoError(t, svc.Capture(ctx, testMessage(1, 10), false))

	doc, err := storage.GetMessage(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, doc)
	require.Equal(t, "hello world", doc.Content)
	require.Equal(t, model.ConsentFull, doc.ConsentLevel)
	require.False(t, doc.IsCatchup)
	require.False(t, doc.LoggedAt.IsZero())
}

func TestCaptureRedactsContentBelowContentLevel(t *testing.T) {
	ctx := context.Background()
	storage := newMemStorage()
	svc := newTestService(t, storage, newMemBlobs(), nil)

	_, err := svc.Grant(ctx, 100, "guild", 10, "alice", model.ConsentMetadataOnly, "AB", false, nil)
	require.NoError(t, err)

	require.NoError(t, svc.Capture(ctx, testMessage(1, 10), false))

	doc, err := storage.GetMessage(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, model.RedactedContent, doc.Content)
	require.Equal(t, model.ConsentMetadataOnly, doc.ConsentLevel)
	require.Equal(t, int64(500), doc.ChannelID)
	require.False(t, doc.Timestamp.IsZero())
}

func TestCaptureSkipsRevokedUserSilently(t *testing.T) {
	ctx := context.Background()
	storage := newMemStorage()
	svc := newTestService(t, storage, newMemBlobs(), nil)

	require.NoError(t, svc.Revoke(ctx, 100, 10))
	require.NoError(t, svc.Capture(ctx, testMessage(1, 10), false))

	doc, err := storage.GetMessage(ctx, 1)
	require.NoError(t, err)
	require.Nil(t, doc)
	require.Zero(t, storage.upserts)
}

func TestCaptureBotIgnoresConsent(t *testing.T) {
	ctx := context.Background()
	storage := newMemStorage()
	svc := newTestService(t, storage, newMemBlobs(), nil)

	// even an explicit opt-out does not apply to bot authors
	require.NoError(t, svc.Revoke(ctx, 100, 10))

	msg := testMessage(1, 10)
	msg.Author.Bot = true
	require.NoError(t, svc.Capture(ctx, msg, false))

	doc, err := storage.GetMessage(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, doc)
	require.Equal(t, model.ConsentFull, doc.ConsentLevel)
	require.True(t, doc.AuthorBot)
}

func TestCaptureInlineAttachment(t *testing.T) {
	ctx := context.Background()
	storage := newMemStorage()
	svc := newTestService(t, storage, newMemBlobs(), nil)

	msg := testMessage(1, 10)
	msg.Attachments = []platform.AttachmentRef{{
		ID: 77, Filename: "cat.png", Size: 3, URL: "https://cdn/cat.png",
		ContentType: "image/png",
	}}
	svc.fetch.(*stubDownloader).payloads["https://cdn/cat.png"] = []byte("abc")

	require.NoError(t, svc.Capture(ctx, msg, false))

	doc, err := storage.GetMessage(ctx, 1)
	require.NoError(t, err)
	require.Len(t, doc.Attachments, 1)
	att := doc.Attachments[0]
	require.Equal(t, model.TierInline, att.Tier)
	require.Equal(t, []byte("abc"), att.Data)
	require.Empty(t, att.BlobKey)
	require.False(t, att.DownloadedAt.IsZero())
}

func TestCaptureLargeAttachmentGoesToBlobStore(t *testing.T) {
	ctx := context.Background()
	storage := newMemStorage()
	blobs := newMemBlobs()
	svc := newTestService(t, storage, blobs, nil)
	svc.cfg.InlineThreshold = 8

	payload := bytes.Repeat([]byte("x"), 16)
	msg := testMessage(1, 10)
	msg.Attachments = []platform.AttachmentRef{{
		ID: 77, Filename: "big.png", Size: int64(len(payload)), URL: "https://cdn/big.png",
		ContentType: "image/png",
	}}
	svc.fetch.(*stubDownloader).payloads["https://cdn/big.png"] = payload

	require.NoError(t, svc.Capture(ctx, msg, false))

	doc, err := storage.GetMessage(ctx, 1)
	require.NoError(t, err)
	att := doc.Attachments[0]
	require.Equal(t, model.TierBlob, att.Tier)
	require.Nil(t, att.Data)
	require.NotEmpty(t, att.BlobKey)
	require.Equal(t, payload, blobs.objects[att.BlobKey])
}

func TestCaptureNonImageAttachmentNotDownloaded(t *testing.T) {
	ctx := context.Background()
	storage := newMemStorage()
	svc := newTestService(t, storage, newMemBlobs(), nil)

	msg := testMessage(1, 10)
	msg.Attachments = []platform.AttachmentRef{{
		ID: 77, Filename: "doc.pdf", Size: 3, URL: "https://cdn/doc.pdf",
		ContentType: "application/pdf",
	}}

	require.NoError(t, svc.Capture(ctx, msg, false))

	doc, err := storage.GetMessage(ctx, 1)
	require.NoError(t, err)
	att := doc.Attachments[0]
	require.Equal(t, model.TierRedacted, att.Tier)
	require.Nil(t, att.Data)
	require.Equal(t, "doc.pdf", att.Filename)
	require.NotEmpty(t, att.RedactReason)
}

func TestCaptureAttachmentRedactedBelowFull(t *testing.T) {
	ctx := context.Background()
	storage := newMemStorage()
	svc := newTestService(t, storage, newMemBlobs(), nil)

	_, err := svc.Grant(ctx, 100, "guild", 10, "alice", model.ConsentContent, "AB", false, nil)
	require.NoError(t, err)

	msg := testMessage(1, 10)
	msg.Attachments = []platform.AttachmentRef{{
		ID: 77, Filename: "cat.png", Size: 3, URL: "https://cdn/cat.png",
		ContentType: "image/png",
	}}

	require.NoError(t, svc.Capture(ctx, msg, false))

	doc, err := storage.GetMessage(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "hello world", doc.Content)
	att := doc.Attachments[0]
	require.Equal(t, model.TierRedacted, att.Tier)
	require.Nil(t, att.Data)
	require.Equal(t, "cat.png", att.Filename)
	require.Equal(t, int64(3), att.Size)
}

func TestCaptureDownloadFailureRecordedNotFatal(t *testing.T) {
	ctx := context.Background()
	storage := newMemStorage()
	svc := newTestService(t, storage, newMemBlobs(), nil)

	msg := testMessage(1, 10)
	msg.Attachments = []platform.AttachmentRef{{
		ID: 77, Filename: "cat.png", Size: 3, URL: "https://cdn/cat.png",
		ContentType: "image/png",
	}}
	svc.fetch.(*stubDownloader).errs["https://cdn/cat.png"] = errors.New("cdn unreachable")

	require.NoError(t, svc.Capture(ctx, msg, false))

	doc, err := storage.GetMessage(ctx, 1)
	require.NoError(t, err)
	att := doc.Attachments[0]
	require.Contains(t, att.DownloadErr, "cdn unreachable")
	require.Nil(t, att.Data)
	require.Empty(t, att.BlobKey)
}

func TestCaptureIsIdempotentAndKeepsAppendOnlyFields(t *testing.T) {
	ctx := context.Background()
	storage := newMemStorage()
	svc := newTestService(t, storage, newMemBlobs(), nil)

	msg := testMessage(1, 10)
	require.NoError(t, svc.Capture(ctx, msg, false))

	edited := *msg
	edited.Content = "hello edited"
	require.NoError(t, svc.HandleEdit(ctx, msg, &edited))

	// a later history replay re-captures the same message
	require.NoError(t, svc.Capture(ctx, &edited, true))

	doc, err := storage.GetMessage(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "hello edited", doc.Content)
	require.Len(t, doc.Edits, 1)
	require.Equal(t, "hello world", doc.Edits[0].OldContent)
	require.Equal(t, "hello edited", doc.Edits[0].NewContent)
}

func TestMarkBulkDeletedFlagsAllDocuments(t *testing.T) {
	ctx := context.Background()
	storage := newMemStorage()
	svc := newTestService(t, storage, newMemBlobs(), nil)

	require.NoError(t, svc.Capture(ctx, testMessage(1, 10), false))
	require.NoError(t, svc.Capture(ctx, testMessage(2, 10), false))

	require.NoError(t, svc.MarkBulkDeleted(ctx, []int64{1, 2}))

	for _, id := range []int64{1, 2} {
		doc, err := storage.GetMessage(ctx, id)
		require.NoError(t, err)
		require.True(t, doc.Deleted)
		require.True(t, doc.BulkDelete)
		require.NotNil(t, doc.DeletedAt)
		require.Equal(t, "hello world", doc.Content)
	}
}

func TestReactionHandlersAppendEvents(t *testing.T) {
	ctx := context.Background()
	storage := newMemStorage()
	svc := newTestService(t, storage, newMemBlobs(), nil)

	msg := testMessage(1, 10)
	require.NoError(t, svc.Capture(ctx, msg, false))

	msg.Reactions = []platform.Reaction{{Emoji: "👍", Count: 1}}
	require.NoError(t, svc.HandleReactionChange(ctx, msg, "add", "👍",
		platform.User{ID: 20, Name: "bob"}))

	require.NoError(t, svc.HandleRawReactionChange(ctx, 1, "remove", "👍", 20))

	doc, err := storage.GetMessage(ctx, 1)
	require.NoError(t, err)
	require.Len(t, doc.ReactionEvents, 2)
	require.Equal(t, "add", doc.ReactionEvents[0].Type)
	require.Equal(t, "bob", doc.ReactionEvents[0].UserName)
	require.Equal(t, "remove", doc.ReactionEvents[1].Type)
	require.Len(t, doc.Reactions, 1)
	require.Equal(t, 1, doc.Reactions[0].Count)
}
