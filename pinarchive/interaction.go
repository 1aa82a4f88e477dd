package pinarchive

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
	"runtime/debug"
)

const msgCommandPanic = "There was an error while executing this command!"

// InteractionHandler responds to a single Discord interaction.
type InteractionHandler interface {
	// Respond sends the initial response to the interaction
	Respond(ctx context.Context, i *discordgo.InteractionResponse) error

	// GetInteraction returns the original InteractionCreate event
	GetInteraction() *discordgo.InteractionCreate

	// Logger returns the logger associated with this handler
	Logger() *slog.Logger
}

// GatewayHandler implements [InteractionHandler] when receiving interactions
// via the discord websocket gateway.
type GatewayHandler struct {
	session     DiscordSessionHandler
	interaction *discordgo.InteractionCreate
	logger      *slog.Logger
}

func (w GatewayHandler) Respond(
	ctx context.Context,
	response *discordgo.InteractionResponse,
) error {
	err := w.session.InteractionRespond(
		w.interaction.Interaction,
		response,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		w.logger.ErrorContext(ctx, "error responding to interaction", tint.Err(err))
	} else {
		w.logger.InfoContext(ctx, "responded to interaction")
	}
	return err
}

func (w GatewayHandler) GetInteraction() *discordgo.InteractionCreate {
	return w.interaction
}

func (w GatewayHandler) Logger() *slog.Logger {
	return w.logger
}

// respondMessage replies to the interaction with plain content. Mentions
// in the content never ping.
func respondMessage(
	ctx context.Context,
	handler InteractionHandler,
	content string,
	ephemeral bool,
) error {
	data := &discordgo.InteractionResponseData{
		Content:         content,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return handler.Respond(
		ctx,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: data,
		},
	)
}

// handleInteraction dispatches slash commands to their handler in the
// command registry. Commands not in the registry are ignored. A panic in
// a command handler is logged, and answered with a generic error.
func (p *PinArchive) handleInteraction(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	if logger == nil {
		logger = p.logger
	}

	discordUser := getDiscordUser(i)
	if discordUser == nil {
		logger.ErrorContext(
			ctx,
			"no user found in interaction",
			"interaction", structToSlogValue(i),
		)
		return
	}
	ctx = WithLogger(ctx, logger)
	logger.InfoContext(ctx, "received new interaction", "user", structToSlogValue(discordUser))

	if discordUser.Bot {
		logger.WarnContext(ctx, "user is bot, ignoring", "user_id", discordUser.ID)
		return
	}

	switch i.Type {
	case discordgo.InteractionPing:
		_ = handler.Respond(
			ctx,
			&discordgo.InteractionResponse{Type: discordgo.InteractionResponsePong},
		)
	case discordgo.InteractionApplicationCommand:
		name := i.ApplicationCommandData().Name
		cmd, ok := p.commands[name]
		if !ok {
			logger.WarnContext(ctx, "unknown command", "command", name)
			return
		}
		p.metrics.commands.WithLabelValues(name).Inc()

		defer func() {
			if rc := recover(); rc != nil {
				p.handleRecover(ctx, rc)
				_ = respondMessage(ctx, handler, msgCommandPanic, true)
			}
		}()
		cmd.Handler(ctx, handler)
	default:
		logger.DebugContext(ctx, "ignoring interaction type")
	}
}

// handleRecover logs a recovered panic with its stack trace
func (*PinArchive) handleRecover(ctx context.Context, rc any) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = slog.Default()
	}
	stackTrace := string(debug.Stack())
	switch v := rc.(type) {
	case error:
		logger.ErrorContext(
			ctx,
			"recovered from panic",
			tint.Err(v),
			"stack_trace", stackTrace,
		)
	case string:
		logger.ErrorContext(
			ctx,
			"recovered from panic",
			tint.Err(errors.New(v)),
			"stack_trace", stackTrace,
		)
	default:
		logger.ErrorContext(
			ctx,
			"recovered from panic",
			tint.Err(fmt.Errorf("%v", v)),
			"stack_trace", stackTrace,
		)
	}
}
