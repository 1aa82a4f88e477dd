package pinarchive

import (
	"context"
	"errors"
	"github.com/lmittmann/tint"
)

// Trigger is the emoji a message must be reacted with, and how many of
// those reactions it needs, before it's pinned.
type Trigger struct {
	Emoji     string
	Threshold int
}

// Satisfied reports whether count reactions of emoji reach the trigger.
// A trigger without a positive threshold is never satisfied.
func (t Trigger) Satisfied(emoji string, count int) bool {
	if t.Threshold < 1 {
		return false
	}
	return emoji == t.Emoji && count >= t.Threshold
}

// handleReactionAdd pins the reacted message once it has enough
// trigger reactions. Failed lookups abandon the event.
func (p *PinArchive) handleReactionAdd(ctx context.Context, ev ReactionAdd) {
	logger := contextLoggerOr(ctx, p.logger).With("reaction", ev)
	ctx = WithLogger(ctx, logger)

	if ev.GuildID == "" {
		p.metrics.reactions.WithLabelValues(reactionIgnored).Inc()
		return
	}
	if botID := p.discord.botUserID(); botID != "" && ev.UserID == botID {
		logger.DebugContext(ctx, "ignoring own reaction")
		p.metrics.reactions.WithLabelValues(reactionIgnored).Inc()
		return
	}

	cfg, err := p.store.GuildConfig(ctx, ev.GuildID)
	if err != nil {
		if errors.Is(err, ErrGuildNotInitialized) {
			logger.DebugContext(ctx, "guild not initialized, ignoring reaction")
			p.metrics.reactions.WithLabelValues(reactionUninitialized).Inc()
			return
		}
		logger.ErrorContext(ctx, "error getting guild config", tint.Err(err))
		p.metrics.reactions.WithLabelValues(reactionError).Inc()
		return
	}

	trigger := cfg.Trigger()
	if ev.Emoji.Name != trigger.Emoji {
		p.metrics.reactions.WithLabelValues(reactionIgnored).Inc()
		return
	}

	msg, err := ev.Message.Resolve(ctx, p.discord.session)
	if err != nil {
		logger.WarnContext(ctx, "unable to resolve reacted message", tint.Err(err))
		p.metrics.reactions.WithLabelValues(reactionError).Inc()
		return
	}
	if msg.GuildID == "" {
		msg.GuildID = ev.GuildID
	}

	count, _ := reactionCount(msg, ev.Emoji)
	logger.DebugContext(
		ctx,
		"evaluating reaction",
		"trigger", trigger.Emoji,
		"threshold", trigger.Threshold,
		"count", count,
	)
	if !trigger.Satisfied(ev.Emoji.Name, count) {
		p.metrics.reactions.WithLabelValues(reactionBelowThreshold).Inc()
		return
	}

	p.metrics.reactions.WithLabelValues(reactionTriggered).Inc()
	if err = p.safePin(ctx, msg); err != nil {
		logger.ErrorContext(ctx, "error pinning message", tint.Err(err))
	}
}
