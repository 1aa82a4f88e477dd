package pinarchive

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"sort"
	"time"
)

// command replies
const (
	msgNotInitialized     = "❗ Bot is not initialized. Please use /init."
	msgFetchCountFailed   = "❗ Failed to fetch reaction count"
	msgSetCountFailed     = "❗ Failed to set reaction count"
	msgInvalidReactCount  = "❗ Reaction count must be at least 1"
	msgInitFailed         = "❗ Unable to initialize. Please contact bot author."
	msgInitPermissions    = "❗ You must have send and manage messages permissions in the archive channel."
	msgSetCountPermission = "❗ You must have manage messages permission to change the reaction count."
	msgGuildOnly          = "❗ This command can only be used in a server."
)

// initChannelPermissions are required of the user running /init, in the
// archive channel
const initChannelPermissions = discordgo.PermissionSendMessages | discordgo.PermissionManageMessages

// CommandHandler executes a slash command
type CommandHandler func(ctx context.Context, handler InteractionHandler)

// Command pairs a slash command definition with its handler
type Command struct {
	Definition *discordgo.ApplicationCommand
	Handler    CommandHandler
}

// CommandRegistry maps slash command names to commands
type CommandRegistry map[string]Command

// ApplicationCommands returns the registered command definitions, sorted
// by name, for registration with discord
func (r CommandRegistry) ApplicationCommands() []*discordgo.ApplicationCommand {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)

	commands := make([]*discordgo.ApplicationCommand, 0, len(names))
	for _, name := range names {
		commands = append(commands, r[name].Definition)
	}
	return commands
}

func (p *PinArchive) newCommandRegistry() CommandRegistry {
	var (
		dmPermission         = false
		manageMessages int64 = discordgo.PermissionManageMessages
		minReactCount        = float64(1)
	)

	return CommandRegistry{
		DiscordSlashCommandPing: {
			Definition: &discordgo.ApplicationCommand{
				Name:        DiscordSlashCommandPing,
				Description: "Test the overall round-trip ping time to the bot.",
			},
			Handler: p.commandPing,
		},
		DiscordSlashCommandGetReactCount: {
			Definition: &discordgo.ApplicationCommand{
				Name:         DiscordSlashCommandGetReactCount,
				Description:  "Check the current number of reactions required to pin a message.",
				DMPermission: &dmPermission,
			},
			Handler: p.commandGetReactCount,
		},
		DiscordSlashCommandInit: {
			Definition: &discordgo.ApplicationCommand{
				Name:                     DiscordSlashCommandInit,
				Description:              "Initialize the pin archiver channel",
				DMPermission:             &dmPermission,
				DefaultMemberPermissions: &manageMessages,
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:         discordgo.ApplicationCommandOptionChannel,
						Name:         optionPinArchiveChannel,
						Description:  "Channel to store archive pins",
						Required:     true,
						ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
					},
				},
			},
			Handler: p.commandInit,
		},
		DiscordSlashCommandSetReactCount: {
			Definition: &discordgo.ApplicationCommand{
				Name:                     DiscordSlashCommandSetReactCount,
				Description:              "Set the number of reactions required to pin a message.",
				DMPermission:             &dmPermission,
				DefaultMemberPermissions: &manageMessages,
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        optionReactCount,
						Description: "Number of reactions required to pin a message",
						Required:    true,
						MinValue:    &minReactCount,
					},
				},
			},
			Handler: p.commandSetReactCount,
		},
	}
}

// commandPing replies with the time between the interaction's creation
// and now, in milliseconds
func (p *PinArchive) commandPing(ctx context.Context, handler InteractionHandler) {
	i := handler.GetInteraction()
	created, err := discordgo.SnowflakeTimestamp(i.ID)
	if err != nil {
		handler.Logger().WarnContext(ctx, "invalid interaction id", tint.Err(err))
		created = time.Now()
	}
	delta := time.Since(created).Milliseconds()
	_ = respondMessage(ctx, handler, fmt.Sprintf(":ping_pong: %d", delta), false)
}

func (p *PinArchive) commandGetReactCount(ctx context.Context, handler InteractionHandler) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	if i.GuildID == "" {
		_ = respondMessage(ctx, handler, msgGuildOnly, true)
		return
	}

	cfg, err := p.store.GuildConfig(ctx, i.GuildID)
	switch {
	case errors.Is(err, ErrGuildNotInitialized):
		logger.InfoContext(ctx, "getreactcount used while uninitialized")
		_ = respondMessage(ctx, handler, msgNotInitialized, true)
	case err != nil:
		logger.ErrorContext(ctx, "unable to get reaction count", tint.Err(err))
		_ = respondMessage(ctx, handler, msgFetchCountFailed, true)
	default:
		_ = respondMessage(
			ctx,
			handler,
			fmt.Sprintf("ℹ️ Reaction count is %d", cfg.ReactCount),
			false,
		)
	}
}

// commandInit sets the server's archive channel, creating the server's
// config if needed. The user must be able to send and manage messages in
// the channel.
func (p *PinArchive) commandInit(ctx context.Context, handler InteractionHandler) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	if i.GuildID == "" {
		_ = respondMessage(ctx, handler, msgGuildOnly, true)
		return
	}
	session := p.discord.session

	opt, ok := discordInteractionOptions(i)[optionPinArchiveChannel]
	if !ok || opt == nil {
		logger.WarnContext(ctx, "missing channel option")
		_ = respondMessage(ctx, handler, "❗ Channel not found", true)
		return
	}
	channelID, _ := opt.Value.(string)
	channelName := channelID
	if resolved := i.ApplicationCommandData().Resolved; resolved != nil {
		if rc, found := resolved.Channels[channelID]; found && rc != nil && rc.Name != "" {
			channelName = rc.Name
		}
	}
	notFound := fmt.Sprintf("❗ Channel %s not found", channelName)

	if channelID == "" {
		_ = respondMessage(ctx, handler, notFound, true)
		return
	}
	ch, err := session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil || ch == nil || ch.GuildID != i.GuildID {
		logger.WarnContext(ctx, "archive channel not found", "channel_id", channelID, tint.Err(err))
		_ = respondMessage(ctx, handler, notFound, true)
		return
	}

	user := getDiscordUser(i)
	perms, err := session.UserChannelPermissions(user.ID, ch.ID, discordgo.WithContext(ctx))
	if err != nil {
		logger.ErrorContext(ctx, "error getting user permissions", "channel_id", ch.ID, tint.Err(err))
		_ = respondMessage(ctx, handler, msgInitFailed, true)
		return
	}
	if perms&initChannelPermissions != initChannelPermissions {
		logger.InfoContext(ctx, "user lacks archive channel permissions", "channel_id", ch.ID)
		_ = respondMessage(ctx, handler, msgInitPermissions, true)
		return
	}

	cfg, err := p.store.InitGuild(ctx, i.GuildID, ch.ID)
	if err != nil {
		logger.ErrorContext(ctx, "error initializing guild", tint.Err(err))
		_ = respondMessage(ctx, handler, msgInitFailed, true)
		return
	}
	logger.InfoContext(ctx, "initialized guild", "config", cfg)
	_ = respondMessage(
		ctx,
		handler,
		fmt.Sprintf(
			"✅ Initialized pin archive channel to <#%s>. "+
				"Don't forget to set permissions on the channel for the bot.",
			ch.ID,
		),
		false,
	)
}

func (p *PinArchive) commandSetReactCount(ctx context.Context, handler InteractionHandler) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	if i.GuildID == "" {
		_ = respondMessage(ctx, handler, msgGuildOnly, true)
		return
	}

	if i.Member == nil || i.Member.Permissions&discordgo.PermissionManageMessages == 0 {
		logger.InfoContext(ctx, "user lacks manage messages permission")
		_ = respondMessage(ctx, handler, msgSetCountPermission, true)
		return
	}

	var count int
	if opt, ok := discordInteractionOptions(i)[optionReactCount]; ok && opt != nil {
		count = int(opt.IntValue())
	}

	err := p.store.SetReactCount(ctx, i.GuildID, count)
	switch {
	case errors.Is(err, ErrInvalidReactCount):
		_ = respondMessage(ctx, handler, msgInvalidReactCount, true)
	case errors.Is(err, ErrGuildNotInitialized):
		logger.InfoContext(ctx, "setreactcount used while uninitialized")
		_ = respondMessage(ctx, handler, msgNotInitialized, true)
	case err != nil:
		logger.ErrorContext(ctx, "unable to set reaction count", tint.Err(err))
		_ = respondMessage(ctx, handler, msgSetCountFailed, true)
	default:
		logger.InfoContext(ctx, "set reaction count", "react_count", count)
		_ = respondMessage(ctx, handler, fmt.Sprintf("✅ Set reaction count to %d", count), false)
	}
}
