// Package model defines the persisted documents of the archive service.
package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ConsentLevel is the ordinal data-collection policy for a (guild, user) pair.
type ConsentLevel int

const (
	ConsentNone         ConsentLevel = 0
	ConsentMetadataOnly ConsentLevel = 1
	ConsentContent      ConsentLevel = 2
	ConsentFull         ConsentLevel = 3
)

func (l ConsentLevel) String() string {
	switch l {
	case ConsentNone:
		return "none"
	case ConsentMetadataOnly:
		return "metadata_only"
	case ConsentContent:
		return "content"
	case ConsentFull:
		return "full"
	default:
		return "unknown"
	}
}

// Description returns the user-facing explanation of a consent level.
func (l ConsentLevel) Description() string {
	switch l {
	case ConsentNone:
		return "No data collection"
	case ConsentMetadataOnly:
		return "Log when messages are sent (timestamp, channel)"
	case ConsentContent:
		return "Log message timestamps and content"
	case ConsentFull:
		return "Log timestamps, content, and attachments"
	default:
		return "Unknown"
	}
}

// Attachment storage tiers. The tier is fixed at capture time and never
// renegotiated for an attachment.
const (
	TierInline   = "inline"
	TierBlob     = "blob"
	TierRedacted = "redacted"
)

// RedactedContent replaces message content below the CONTENT consent level.
const RedactedContent = "[REDACTED - No consent]"

// Attachment is embedded in a Message, one per original attachment.
// Exactly one of Data / BlobKey / RedactReason is populated, matching Tier.
type Attachment struct {
	AttachmentID int64     `bson:"attachment_id" json:"attachment_id"`
	Filename     string    `bson:"filename" json:"filename"`
	Size         int64     `bson:"size" json:"size"`
	URL          string    `bson:"url" json:"url"`
	ContentType  string    `bson:"content_type" json:"content_type"`
	Width        int       `bson:"width,omitempty" json:"width,omitempty"`
	Height       int       `bson:"height,omitempty" json:"height,omitempty"`
	Tier         string    `bson:"tier" json:"tier"`
	Data         []byte    `bson:"data,omitempty" json:"-"`
	BlobKey      string    `bson:"blob_key,omitempty" json:"blob_key,omitempty"`
	RedactReason string    `bson:"redact_reason,omitempty" json:"redact_reason,omitempty"`
	DownloadErr  string    `bson:"download_error,omitempty" json:"download_error,omitempty"`
	DownloadedAt time.Time `bson:"downloaded_at,omitempty" json:"downloaded_at,omitempty"`
}

type MentionedUser struct {
	UserID int64  `bson:"user_id" json:"user_id"`
	Name   string `bson:"name" json:"name"`
	Bot    bool   `bson:"bot" json:"bot"`
}

type ReactionSummary struct {
	Emoji string `bson:"emoji" json:"emoji"`
	Count int    `bson:"count" json:"count"`
	Me    bool   `bson:"me" json:"me"`
}

// ReactionEvent is an append-only record of one reaction mutation.
type ReactionEvent struct {
	Type      string    `bson:"type" json:"type"` // add | remove
	Emoji     string    `bson:"emoji" json:"emoji"`
	UserID    int64     `bson:"user_id" json:"user_id"`
	UserName  string    `bson:"user_name,omitempty" json:"user_name,omitempty"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// EditEntry is an append-only record of one edit.
type EditEntry struct {
	OldContent string    `bson:"old_content" json:"old_content"`
	NewContent string    `bson:"new_content" json:"new_content"`
	Timestamp  time.Time `bson:"timestamp" json:"timestamp"`
}

type Reference struct {
	MessageID int64 `bson:"message_id" json:"message_id"`
	ChannelID int64 `bson:"channel_id" json:"channel_id"`
	GuildID   int64 `bson:"guild_id" json:"guild_id"`
}

type Embed struct {
	Type        string `bson:"type,omitempty" json:"type,omitempty"`
	Title       string `bson:"title,omitempty" json:"title,omitempty"`
	Description string `bson:"description,omitempty" json:"description,omitempty"`
	URL         string `bson:"url,omitempty" json:"url,omitempty"`
}

// Message is the archival document, one per platform message, keyed by
// MessageID. Re-capture replaces the document; deletion only flags it.
type Message struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"mongo_id"`
	MessageID       int64              `bson:"message_id" json:"message_id"`
	ChannelID       int64              `bson:"channel_id" json:"channel_id"`
	ChannelName     string             `bson:"channel_name" json:"channel_name"`
	GuildID         int64              `bson:"guild_id" json:"guild_id"`
	GuildName       string             `bson:"guild_name" json:"guild_name"`
	AuthorID        int64              `bson:"author_id" json:"author_id"`
	AuthorName      string             `bson:"author_name" json:"author_name"`
	AuthorBot       bool               `bson:"author_bot" json:"author_bot"`
	Content         string             `bson:"content" json:"content"`
	ConsentLevel    ConsentLevel       `bson:"consent_level" json:"consent_level"`
	Timestamp       time.Time          `bson:"timestamp" json:"timestamp"`
	EditedTimestamp *time.Time         `bson:"edited_timestamp,omitempty" json:"edited_timestamp,omitempty"`
	TTS             bool               `bson:"tts" json:"tts"`
	MentionEveryone bool               `bson:"mention_everyone" json:"mention_everyone"`
	Mentions        []MentionedUser    `bson:"mentions" json:"mentions"`
	MentionRoles    []int64            `bson:"mention_roles" json:"mention_roles"`
	MentionChannels []int64            `bson:"mention_channels" json:"mention_channels"`
	Embeds          []Embed            `bson:"embeds" json:"embeds"`
	Reactions       []ReactionSummary  `bson:"reactions" json:"reactions"`
	Pinned          bool               `bson:"pinned" json:"pinned"`
	Type            string             `bson:"type" json:"type"`
	Flags           int                `bson:"flags" json:"flags"`
	Reference       *Reference         `bson:"reference,omitempty" json:"reference,omitempty"`
	Attachments     []Attachment       `bson:"attachments" json:"attachments"`
	Deleted         bool               `bson:"deleted" json:"deleted"`
	DeletedAt       *time.Time         `bson:"deleted_at,omitempty" json:"deleted_at,omitempty"`
	BulkDelete      bool               `bson:"bulk_delete,omitempty" json:"bulk_delete,omitempty"`
	IsCatchup       bool               `bson:"is_catchup" json:"is_catchup"`
	LoggedAt        time.Time          `bson:"logged_at" json:"logged_at"`
	Edits           []EditEntry        `bson:"edits,omitempty" json:"edits,omitempty"`
	ReactionEvents  []ReactionEvent    `bson:"reaction_events,omitempty" json:"reaction_events,omitempty"`
}

// ConsentRecord tracks the data-collection policy for one (guild, user) pair.
// Absence of a record means the auto-consent default (FULL) applies.
type ConsentRecord struct {
	ID                primitive.ObjectID `bson:"_id,omitempty" json:"mongo_id"`
	GuildID           int64              `bson:"guild_id" json:"guild_id"`
	GuildName         string             `bson:"guild_name,omitempty" json:"guild_name,omitempty"`
	UserID            int64              `bson:"user_id" json:"user_id"`
	UserName          string             `bson:"user_name,omitempty" json:"user_name,omitempty"`
	ConsentLevel      ConsentLevel       `bson:"consent_level" json:"consent_level"`
	ConsentActive     bool               `bson:"consent_active" json:"consent_active"`
	AutoGranted       bool               `bson:"auto_granted,omitempty" json:"auto_granted,omitempty"`
	Initials          string             `bson:"initials,omitempty" json:"initials,omitempty"`
	ConsentedAt       time.Time          `bson:"consented_at,omitempty" json:"consented_at,omitempty"`
	RevokedAt         *time.Time         `bson:"revoked_at,omitempty" json:"revoked_at,omitempty"`
	UpdatedAt         time.Time          `bson:"updated_at" json:"updated_at"`
	BackfillRequested bool               `bson:"backfill_historical,omitempty" json:"backfill_historical,omitempty"`
	BackfillFromDate  *time.Time         `bson:"backfill_from_date,omitempty" json:"backfill_from_date,omitempty"`
}

// GuildStatus is the per-guild reconciliation checkpoint.
type GuildStatus struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"mongo_id"`
	GuildID      int64              `bson:"guild_id" json:"guild_id"`
	GuildName    string             `bson:"guild_name" json:"guild_name"`
	LastBoot     *time.Time         `bson:"last_boot,omitempty" json:"last_boot,omitempty"`
	LastShutdown *time.Time         `bson:"last_shutdown,omitempty" json:"last_shutdown,omitempty"`
}
