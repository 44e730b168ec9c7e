package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	errors "github.com/Laisky/errors/v2"
	gutils "github.com/Laisky/go-utils/v6"

	"github.com/lirano/guild-archiver/internal/archive/dao"
	"github.com/lirano/guild-archiver/internal/archive/model"
	"github.com/lirano/guild-archiver/internal/archive/platform"
)

type consentKey struct {
	guildID int64
	userID  int64
}

// memStorage is an in-memory Storage with document-store upsert semantics:
// absent append-only fields survive a re-upsert.
type memStorage struct {
	mu       sync.Mutex
	messages map[int64]*model.Message
	consents map[consentKey]*model.ConsentRecord
	statuses map[int64]*model.GuildStatus
	upserts  int
}

func newMemStorage() *memStorage {
	return &memStorage{
		messages: make(map[int64]*model.Message),
		consents: make(map[consentKey]*model.ConsentRecord),
		statuses: make(map[int64]*model.GuildStatus),
	}
}

func (m *memStorage) EnsureIndexes(ctx context.Context) error { return nil }

func (m *memStorage) UpsertMessage(ctx context.Context, doc *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.upserts++
	cp := *doc
	if prev, ok := m.messages[doc.MessageID]; ok {
		if cp.Edits == nil {
			cp.Edits = prev.Edits
		}
		if cp.ReactionEvents == nil {
			cp.ReactionEvents = prev.ReactionEvents
		}
	}
	m.messages[doc.MessageID] = &cp
	return nil
}

func (m *memStorage) GetMessage(ctx context.Context, messageID int64) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.messages[messageID]
	if !ok {
		return nil, nil
	}
	cp := *doc
	return &cp, nil
}

func (m *memStorage) MarkDeleted(ctx context.Context, messageID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if doc, ok := m.messages[messageID]; ok {
		now := gutils.Clock.GetUTCNow()
		doc.Deleted = true
		doc.DeletedAt = &now
	}
	return nil
}

func (m *memStorage) MarkBulkDeleted(ctx context.Context, messageIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := gutils.Clock.GetUTCNow()
	for _, id := range messageIDs {
		if doc, ok := m.messages[id]; ok {
			doc.Deleted = true
			doc.DeletedAt = &now
			doc.BulkDelete = true
		}
	}
	return nil
}

func (m *memStorage) AppendEdit(ctx context.Context, messageID int64, entry model.EditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if doc, ok := m.messages[messageID]; ok {
		doc.Edits = append(doc.Edits, entry)
	}
	return nil
}

func (m *memStorage) AppendReactionEvent(ctx context.Context, messageID int64,
	ev model.ReactionEvent, snapshot []model.ReactionSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if doc, ok := m.messages[messageID]; ok {
		doc.ReactionEvents = append(doc.ReactionEvents, ev)
		if snapshot != nil {
			doc.Reactions = snapshot
		}
	}
	return nil
}

func (m *memStorage) GetGuildStatus(ctx context.Context, guildID int64) (*model.GuildStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.statuses[guildID]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (m *memStorage) RecordBoot(ctx context.Context, guildID int64, guildName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := gutils.Clock.GetUTCNow()
	st, ok := m.statuses[guildID]
	if !ok {
		st = &model.GuildStatus{GuildID: guildID}
		m.statuses[guildID] = st
	}
	st.GuildName = guildName
	st.LastBoot = &now
	return nil
}

func (m *memStorage) RecordShutdown(ctx context.Context, guildID int64, guildName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := gutils.Clock.GetUTCNow()
	st, ok := m.statuses[guildID]
	if !ok {
		st = &model.GuildStatus{GuildID: guildID}
		m.statuses[guildID] = st
	}
	st.GuildName = guildName
	st.LastShutdown = &now
	return nil
}

func (m *memStorage) GetConsent(ctx context.Context, guildID, userID int64) (*model.ConsentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.consents[consentKey{guildID, userID}]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *memStorage) UpsertConsent(ctx context.Context, rec *model.ConsentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *rec
	m.consents[consentKey{rec.GuildID, rec.UserID}] = &cp
	return nil
}

func (m *memStorage) RevokeConsent(ctx context.Context, guildID, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.consents[consentKey{guildID, userID}]
	if !ok {
		return false, nil
	}

	now := gutils.Clock.GetUTCNow()
	rec.ConsentActive = false
	rec.ConsentLevel = model.ConsentNone
	rec.RevokedAt = &now
	rec.UpdatedAt = now
	return true, nil
}

func (m *memStorage) CountUserMessages(ctx context.Context, guildID, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, doc := range m.messages {
		if doc.GuildID == guildID && doc.AuthorID == userID {
			n++
		}
	}
	return n, nil
}

func (m *memStorage) DeleteUserMessages(ctx context.Context, guildID, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, doc := range m.messages {
		if doc.GuildID == guildID && doc.AuthorID == userID {
			delete(m.messages, id)
			n++
		}
	}
	return n, nil
}

func (m *memStorage) ListUserBlobKeys(ctx context.Context, guildID, userID int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for _, doc := range m.messages {
		if doc.GuildID != guildID || doc.AuthorID != userID {
			continue
		}
		for _, att := range doc.Attachments {
			if att.Tier == model.TierBlob {
				keys = append(keys, att.BlobKey)
			}
		}
	}
	return keys, nil
}

// memBlobs is an in-memory BlobStore with per-key failure injection.
type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	failRm  map[string]bool
}

func newMemBlobs() *memBlobs {
	return &memBlobs{
		objects: make(map[string][]byte),
		failRm:  make(map[string]bool),
	}
}

func (b *memBlobs) Put(ctx context.Context, data []byte, meta dao.BlobMeta) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := fmt.Sprintf("%d/%d_%s", meta.MessageID, meta.AttachmentID, meta.Filename)
	b.objects[key] = data
	return key, nil
}

func (b *memBlobs) Remove(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failRm[key] {
		return errors.New("remove rejected")
	}
	delete(b.objects, key)
	return nil
}

// stubDownloader serves canned payloads by URL.
type stubDownloader struct {
	payloads map[string][]byte
	errs     map[string]error
}

func (d *stubDownloader) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := d.errs[url]; err != nil {
		return nil, err
	}
	return d.payloads[url], nil
}

// sliceIter yields a fixed message slice, oldest first.
type sliceIter struct {
	msgs []*platform.Message
	pos  int
}

func (it *sliceIter) Next(ctx context.Context) (*platform.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if it.pos >= len(it.msgs) {
		return nil, io.EOF
	}

	msg := it.msgs[it.pos]
	it.pos++
	return msg, nil
}

// stubClient is a canned platform.Client.
type stubClient struct {
	guilds    []platform.Guild
	channels  map[int64][]platform.Channel
	members   map[int64][]platform.User
	history   map[int64][]*platform.Message
	forbidden map[int64]bool
}

func (c *stubClient) Guilds(ctx context.Context) ([]platform.Guild, error) {
	return c.guilds, nil
}

func (c *stubClient) Channels(ctx context.Context, guildID int64) ([]platform.Channel, error) {
	return c.channels[guildID], nil
}

func (c *stubClient) Members(ctx context.Context, guildID int64) ([]platform.User, error) {
	return c.members[guildID], nil
}

func (c *stubClient) History(ctx context.Context, channelID int64,
	after, before time.Time) (platform.Iterator, error) {
	if c.forbidden[channelID] {
		return nil, platform.ErrForbidden
	}

	var window []*platform.Message
	for _, msg := range c.history[channelID] {
		if !after.IsZero() && !msg.CreatedAt.After(after) {
			continue
		}
		if !before.IsZero() && msg.CreatedAt.After(before) {
			continue
		}
		window = append(window, msg)
	}
	return &sliceIter{msgs: window}, nil
}

// recordNotifier captures pushed notices.
type recordNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *recordNotifier) Send(msg string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.msgs = append(n.msgs, msg)
	return nil
}

func blobMetaFor(msgID, attID int64) dao.BlobMeta {
	return dao.BlobMeta{MessageID: msgID, AttachmentID: attID, Filename: "f.png"}
}

func newTestService(t interface{ Fatal(args ...any) },
	storage Storage, blobs BlobStore, client platform.Client) *Service {
	svc, err := New(storage, blobs, client, nil, Config{})
	if err != nil {
		t.Fatal(err)
	}

	svc.fetch = &stubDownloader{payloads: map[string][]byte{}, errs: map[string]error{}}
	return svc
}
