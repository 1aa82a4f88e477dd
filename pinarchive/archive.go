package pinarchive

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// archive results
const (
	archiveSent          = "sent"
	archiveUninitialized = "uninitialized"
	archiveLocked        = "locked"
	archiveError         = "error"
)

// handlePinNotice archives the message referenced by a pin notice,
// making room in the channel's pins first. Manual pins go through here
// as well as the bot's own. Pins in uninitialized guilds are left alone.
func (p *PinArchive) handlePinNotice(ctx context.Context, n PinNotice) {
	logger := contextLoggerOr(ctx, p.logger).With("pin_notice", n)
	ctx = WithLogger(ctx, logger)

	if n.GuildID == "" {
		return
	}

	if _, err := p.store.GuildConfig(ctx, n.GuildID); err != nil {
		if errors.Is(err, ErrGuildNotInitialized) {
			logger.DebugContext(ctx, "guild not initialized, ignoring pin")
			p.metrics.archives.WithLabelValues(archiveUninitialized).Inc()
			return
		}
		logger.ErrorContext(ctx, "error getting guild config", tint.Err(err))
		p.metrics.archives.WithLabelValues(archiveError).Inc()
		return
	}

	msg, err := n.Pinned.Resolve(ctx, p.discord.session)
	if err != nil {
		logger.WarnContext(ctx, "unable to resolve pinned message", tint.Err(err))
		return
	}
	if msg.GuildID == "" {
		msg.GuildID = n.GuildID
	}

	if err = p.maybeUnpin(ctx, msg.ChannelID); err != nil {
		logger.ErrorContext(ctx, "error making room for pin", tint.Err(err))
	}

	if err = p.archiveMessage(ctx, msg); err != nil {
		logger.ErrorContext(ctx, "error archiving message", tint.Err(err))
	}
}

// archiveMessage posts a copy of msg to the server's archive channel,
// then reacts to msg with the trigger emoji so the reaction path won't
// pin it again.
func (p *PinArchive) archiveMessage(ctx context.Context, msg *discordgo.Message) error {
	logger := contextLoggerOr(ctx, p.logger).With(messageLogAttrs(msg))
	session := p.discord.session

	cfg, err := p.store.GuildConfig(ctx, msg.GuildID)
	if err != nil {
		if errors.Is(err, ErrGuildNotInitialized) {
			logger.DebugContext(ctx, "guild not initialized, not archiving")
			p.metrics.archives.WithLabelValues(archiveUninitialized).Inc()
			return nil
		}
		p.metrics.archives.WithLabelValues(archiveError).Inc()
		return err
	}
	if cfg.ArchiveChannelID == nil || *cfg.ArchiveChannelID == "" {
		logger.WarnContext(ctx, "guild has no archive channel", "config", cfg)
		p.metrics.archives.WithLabelValues(archiveUninitialized).Inc()
		return nil
	}
	archiveChannelID := *cfg.ArchiveChannelID

	archiveChannel, err := session.Channel(archiveChannelID, discordgo.WithContext(ctx))
	if err != nil {
		logger.ErrorContext(
			ctx,
			"unable to fetch archive channel",
			"archive_channel_id", archiveChannelID,
			tint.Err(err),
		)
		p.metrics.archives.WithLabelValues(archiveError).Inc()
		return nil
	}
	if !archiveChannelTypes[archiveChannel.Type] {
		logger.ErrorContext(
			ctx,
			"archive channel is not a text channel",
			"archive_channel_id", archiveChannelID,
			"channel_type", archiveChannel.Type,
		)
		p.metrics.archives.WithLabelValues(archiveError).Inc()
		return nil
	}

	release, ok := p.locker.TryLock(ctx, msg.ID)
	if !ok {
		p.metrics.archives.WithLabelValues(archiveLocked).Inc()
		return nil
	}

	channelName := "<#" + msg.ChannelID + ">"
	if origin, chErr := session.Channel(msg.ChannelID, discordgo.WithContext(ctx)); chErr != nil {
		logger.WarnContext(ctx, "unable to fetch origin channel", tint.Err(chErr))
	} else if origin.Name != "" {
		channelName = origin.Name
	}

	if msg.Member == nil && msg.Author != nil {
		member, memberErr := session.GuildMember(
			msg.GuildID,
			msg.Author.ID,
			discordgo.WithContext(ctx),
		)
		if memberErr != nil {
			logger.DebugContext(ctx, "unable to fetch author's member", tint.Err(memberErr))
		} else {
			msg.Member = member
		}
	}

	sent, err := session.ChannelMessageSendComplex(
		archiveChannelID,
		&discordgo.MessageSend{
			Content:         archiveContent(msg),
			Embeds:          formatEmbeds(msg, channelName),
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		// let a later pin of the same message retry
		release(ctx)
		p.metrics.archives.WithLabelValues(archiveError).Inc()
		return fmt.Errorf("error sending to archive channel %s: %w", archiveChannelID, err)
	}

	trigger := cfg.Trigger()
	if err = session.MessageReactionAdd(
		msg.ChannelID,
		msg.ID,
		trigger.Emoji,
		discordgo.WithContext(ctx),
	); err != nil {
		logger.ErrorContext(ctx, "error adding own reaction", "emoji", trigger.Emoji, tint.Err(err))
	}

	record := &ArchivedMessage{
		GuildID:          msg.GuildID,
		ChannelID:        msg.ChannelID,
		MessageID:        msg.ID,
		ArchiveChannelID: archiveChannelID,
	}
	if msg.Author != nil {
		record.AuthorID = msg.Author.ID
	}
	if sent != nil {
		record.ArchiveMessageID = sent.ID
	}
	if err = p.store.RecordArchive(ctx, record); err != nil {
		logger.ErrorContext(ctx, "error recording archive", tint.Err(err))
	}

	p.metrics.archives.WithLabelValues(archiveSent).Inc()
	logger.InfoContext(ctx, "archived message", "archive_channel_id", archiveChannelID)
	return nil
}
