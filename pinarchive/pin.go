package pinarchive

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
)

// unpinThreshold is the pin count at which the oldest pin is removed
// before pinning another. Discord allows 50 pins per channel; the
// remaining slot absorbs a concurrent pin, since the count check and
// the pin aren't atomic.
const unpinThreshold = 49

// pinnableChannelTypes are the channel types which support pins
var pinnableChannelTypes = map[discordgo.ChannelType]bool{
	discordgo.ChannelTypeGuildText:          true,
	discordgo.ChannelTypeGuildNews:          true,
	discordgo.ChannelTypeGuildVoice:         true,
	discordgo.ChannelTypeGuildNewsThread:    true,
	discordgo.ChannelTypeGuildPublicThread:  true,
	discordgo.ChannelTypeGuildPrivateThread: true,
}

// archiveChannelTypes are the channel types the archive can be sent to
var archiveChannelTypes = map[discordgo.ChannelType]bool{
	discordgo.ChannelTypeGuildText: true,
	discordgo.ChannelTypeGuildNews: true,
}

// pinnable reports whether the message can be pinned: not already
// pinned, a regular (non-system) message, in a channel type with pins,
// and the bot has manage messages permission there.
func pinnable(m *discordgo.Message, ch *discordgo.Channel, botPermissions int64) bool {
	if m == nil || ch == nil || m.Pinned {
		return false
	}
	switch m.Type {
	case discordgo.MessageTypeDefault,
		discordgo.MessageTypeReply,
		discordgo.MessageTypeChatInputCommand,
		discordgo.MessageTypeContextMenuCommand:
	default:
		return false
	}
	if !pinnableChannelTypes[ch.Type] {
		return false
	}
	return botPermissions&discordgo.PermissionManageMessages != 0
}

// safePin makes room in the channel's pin list if needed, then pins the
// message. Unpinnable messages are skipped.
func (p *PinArchive) safePin(ctx context.Context, m *discordgo.Message) error {
	logger := contextLoggerOr(ctx, p.logger).With(messageLogAttrs(m))
	session := p.discord.session

	ch, err := session.Channel(m.ChannelID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("error getting channel %s: %w", m.ChannelID, err)
	}

	var perms int64
	if botID := p.discord.botUserID(); botID != "" {
		perms, err = session.UserChannelPermissions(botID, ch.ID, discordgo.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("error getting bot permissions in %s: %w", ch.ID, err)
		}
	} else {
		// before Ready, let discord reject the pin if it has to
		perms = discordgo.PermissionManageMessages
	}

	if !pinnable(m, ch, perms) {
		logger.InfoContext(
			ctx,
			"message not pinnable",
			"pinned", m.Pinned,
			"message_type", m.Type,
			"channel_type", ch.Type,
		)
		return nil
	}

	if err = p.maybeUnpin(ctx, m.ChannelID); err != nil {
		return err
	}

	if err = session.ChannelMessagePin(m.ChannelID, m.ID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("error pinning message %s: %w", m.ID, err)
	}
	p.metrics.pins.Inc()
	logger.InfoContext(ctx, "pinned message")
	return nil
}

// maybeUnpin removes the oldest pin in the channel once the pin count
// reaches unpinThreshold
func (p *PinArchive) maybeUnpin(ctx context.Context, channelID string) error {
	logger := contextLoggerOr(ctx, p.logger)
	session := p.discord.session

	pinned, err := session.ChannelMessagesPinned(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("error getting pinned messages in %s: %w", channelID, err)
	}
	logger.DebugContext(ctx, "checked pins", "channel_id", channelID, "pins", len(pinned))
	if len(pinned) < unpinThreshold {
		return nil
	}

	// discord returns pins most recent first
	oldest := pinned[len(pinned)-1]
	if err = session.ChannelMessageUnpin(channelID, oldest.ID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("error unpinning message %s: %w", oldest.ID, err)
	}
	p.metrics.unpins.Inc()
	logger.InfoContext(
		ctx,
		"unpinned oldest message",
		"channel_id", channelID,
		"unpinned_id", oldest.ID,
		"pins", len(pinned),
	)
	return nil
}
