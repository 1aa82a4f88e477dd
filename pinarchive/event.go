package pinarchive

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"log/slog"
)

var errMessageUnavailable = errors.New("message unavailable")

// MessageFetcher retrieves a single message by ID
type MessageFetcher interface {
	ChannelMessage(
		channelID string,
		messageID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
}

// MessageRef is either an incomplete reference (channel and message ID
// only), as delivered by gateway events, or a complete message. Resolve
// turns an incomplete reference into a complete one.
type MessageRef struct {
	ChannelID string
	ID        string
	message   *discordgo.Message
}

// Incomplete returns a reference to a message which still has to be fetched
func Incomplete(channelID string, messageID string) MessageRef {
	return MessageRef{ChannelID: channelID, ID: messageID}
}

// Complete returns a reference which already holds the full message
func Complete(m *discordgo.Message) MessageRef {
	return MessageRef{ChannelID: m.ChannelID, ID: m.ID, message: m}
}

func (r MessageRef) IsComplete() bool {
	return r.message != nil
}

// Message returns the full message, or nil if the reference is incomplete
func (r MessageRef) Message() *discordgo.Message {
	return r.message
}

func (r MessageRef) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", r.ID),
		slog.String("channel_id", r.ChannelID),
		slog.Bool("complete", r.IsComplete()),
	)
}

// Resolve returns the full message, fetching it if the reference is
// incomplete. A message deleted since the event was sent fails here.
func (r MessageRef) Resolve(
	ctx context.Context,
	fetcher MessageFetcher,
) (*discordgo.Message, error) {
	if r.message != nil {
		return r.message, nil
	}
	if r.ChannelID == "" || r.ID == "" {
		return nil, fmt.Errorf("%w: missing channel or message ID", errMessageUnavailable)
	}
	m, err := fetcher.ChannelMessage(r.ChannelID, r.ID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("error fetching message %s: %w", r.ID, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: %s", errMessageUnavailable, r.ID)
	}
	return m, nil
}

// ReactionAdd carries the fields of a reaction-add gateway event that
// the bot reads.
type ReactionAdd struct {
	GuildID   string
	ChannelID string
	UserID    string
	Emoji     discordgo.Emoji
	Message   MessageRef
}

func newReactionAdd(r *discordgo.MessageReactionAdd) ReactionAdd {
	if r == nil || r.MessageReaction == nil {
		return ReactionAdd{}
	}
	return ReactionAdd{
		GuildID:   r.GuildID,
		ChannelID: r.ChannelID,
		UserID:    r.UserID,
		Emoji:     r.Emoji,
		Message:   Incomplete(r.ChannelID, r.MessageID),
	}
}

func (r ReactionAdd) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("guild_id", r.GuildID),
		slog.String("user_id", r.UserID),
		slog.String("emoji", r.Emoji.Name),
		slog.Any("message", r.Message),
	)
}

// PinNotice is the system message Discord posts in a channel when a
// message there is pinned.
type PinNotice struct {
	GuildID   string
	ChannelID string
	Pinned    MessageRef
}

// newPinNotice returns the pin notice carried by the given message, and
// false if it isn't a pin notice.
func newPinNotice(m *discordgo.MessageCreate) (PinNotice, bool) {
	if m == nil || m.Message == nil {
		return PinNotice{}, false
	}
	if m.Type != discordgo.MessageTypeChannelPinnedMessage {
		return PinNotice{}, false
	}
	ref := m.MessageReference
	if ref == nil || ref.MessageID == "" {
		return PinNotice{}, false
	}
	channelID := ref.ChannelID
	if channelID == "" {
		channelID = m.ChannelID
	}
	return PinNotice{
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		Pinned:    Incomplete(channelID, ref.MessageID),
	}, true
}

func (p PinNotice) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("guild_id", p.GuildID),
		slog.String("channel_id", p.ChannelID),
		slog.Any("pinned", p.Pinned),
	)
}

// reactionCount returns the number of reactions on the message for the
// given emoji. Custom emoji are matched on ID, others on name.
func reactionCount(m *discordgo.Message, emoji discordgo.Emoji) (int, bool) {
	if m == nil {
		return 0, false
	}
	for _, r := range m.Reactions {
		if r == nil || r.Emoji == nil {
			continue
		}
		if emoji.ID != "" {
			if r.Emoji.ID == emoji.ID {
				return r.Count, true
			}
			continue
		}
		if r.Emoji.Name == emoji.Name {
			return r.Count, true
		}
	}
	return 0, false
}
