// Package platform declares the boundary to the chat-platform client.
//
// The archiver core never talks to the platform wire protocol itself; it
// consumes these types and interfaces, and an adapter elsewhere binds them
// to the real client (event delivery, rate limiting and pagination are the
// adapter's problem).
package platform

import (
	"context"
	"time"

	errors "github.com/Laisky/errors/v2"
)

// ErrForbidden indicates the bot lacks permission to read a channel.
// History replay treats it as zero progress for that channel, not a failure.
var ErrForbidden = errors.New("channel access forbidden")

// ChannelKind distinguishes message-bearing channels from grouping categories.
type ChannelKind int

const (
	ChannelText ChannelKind = iota
	ChannelCategory
)

type User struct {
	ID   int64
	Name string
	Bot  bool
}

type Guild struct {
	ID   int64
	Name string
}

type Channel struct {
	ID         int64
	GuildID    int64
	Name       string
	Kind       ChannelKind
	CategoryID int64
}

// AttachmentRef describes an attachment as announced by the platform,
// before any bytes are fetched.
type AttachmentRef struct {
	ID          int64
	Filename    string
	Size        int64
	URL         string
	ContentType string
	Width       int
	Height      int
}

type Reaction struct {
	Emoji string
	Count int
	Me    bool
}

type MessageReference struct {
	MessageID int64
	ChannelID int64
	GuildID   int64
}

type Embed struct {
	Type        string
	Title       string
	Description string
	URL         string
}

// Message is a raw platform message as delivered live or via history replay.
type Message struct {
	ID              int64
	ChannelID       int64
	ChannelName     string
	GuildID         int64
	GuildName       string
	Author          User
	Content         string
	CreatedAt       time.Time
	EditedAt        *time.Time
	TTS             bool
	MentionEveryone bool
	Mentions        []User
	MentionRoles    []int64
	MentionChannels []int64
	Embeds          []Embed
	Reactions       []Reaction
	Pinned          bool
	Type            string
	Flags           int
	Reference       *MessageReference
	Attachments     []AttachmentRef
}

// Iterator streams history oldest-to-newest. Next returns io.EOF when the
// window is exhausted.
type Iterator interface {
	Next(ctx context.Context) (*Message, error)
}

// Client is the read surface of the chat platform the orchestrator needs.
type Client interface {
	Guilds(ctx context.Context) ([]Guild, error)
	Channels(ctx context.Context, guildID int64) ([]Channel, error)
	Members(ctx context.Context, guildID int64) ([]User, error)
	// History streams messages strictly within (after, before], oldest first.
	// A zero time disables the corresponding bound.
	History(ctx context.Context, channelID int64, after, before time.Time) (Iterator, error)
}

// TextChannels filters chans down to message-bearing channels.
func TextChannels(chans []Channel) []Channel {
	out := make([]Channel, 0, len(chans))
	for _, ch := range chans {
		if ch.Kind == ChannelText {
			out = append(out, ch)
		}
	}
	return out
}

// ChannelsInCategories expands category ids to the text channels they contain.
func ChannelsInCategories(chans []Channel, categoryIDs []int64) []Channel {
	wanted := make(map[int64]bool, len(categoryIDs))
	for _, id := range categoryIDs {
		wanted[id] = true
	}

	var out []Channel
	for _, ch := range chans {
		if ch.Kind == ChannelText && wanted[ch.CategoryID] {
			out = append(out, ch)
		}
	}
	return out
}
