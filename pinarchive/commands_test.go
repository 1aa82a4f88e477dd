package pinarchive

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strings"
	"testing"
)

func channelOption(channelID string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  optionPinArchiveChannel,
		Type:  discordgo.ApplicationCommandOptionChannel,
		Value: channelID,
	}
}

func reactCountOption(count int) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  optionReactCount,
		Type:  discordgo.ApplicationCommandOptionInteger,
		Value: float64(count),
	}
}

func TestCommandRegistry(t *testing.T) {
	t.Parallel()
	p, _ := newTestPinArchive(t)
	commands := p.Commands().ApplicationCommands()
	require.Len(t, commands, 4)

	byName := map[string]*discordgo.ApplicationCommand{}
	for _, c := range commands {
		byName[c.Name] = c
	}

	initCmd := byName[DiscordSlashCommandInit]
	require.NotNil(t, initCmd)
	require.NotNil(t, initCmd.DMPermission)
	assert.False(t, *initCmd.DMPermission)
	require.Len(t, initCmd.Options, 1)
	assert.True(t, initCmd.Options[0].Required)
	assert.Equal(t, []discordgo.ChannelType{discordgo.ChannelTypeGuildText}, initCmd.Options[0].ChannelTypes)

	setCmd := byName[DiscordSlashCommandSetReactCount]
	require.NotNil(t, setCmd)
	require.Len(t, setCmd.Options, 1)
	require.NotNil(t, setCmd.Options[0].MinValue)
	assert.Equal(t, float64(1), *setCmd.Options[0].MinValue)
	require.NotNil(t, setCmd.DefaultMemberPermissions)
	assert.Equal(t, int64(discordgo.PermissionManageMessages), *setCmd.DefaultMemberPermissions)
}

func TestCommandPing(t *testing.T) {
	t.Parallel()
	p, _ := newTestPinArchive(t)
	handler := newStubHandler(t, newTestCommandInteraction(t, "", DiscordSlashCommandPing))
	p.handleInteraction(context.Background(), handler)

	content, ephemeral := handler.lastResponse(t)
	assert.True(t, strings.HasPrefix(content, ":ping_pong: "), content)
	assert.False(t, ephemeral)
}

func TestCommandGetReactCount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p, session := newTestPinArchive(t)
	g := newTestGuild(t, p, session)

	handler := newStubHandler(t, newTestCommandInteraction(t, g.GuildID, DiscordSlashCommandGetReactCount))
	p.handleInteraction(ctx, handler)
	content, ephemeral := handler.lastResponse(t)
	assert.Equal(t, fmt.Sprintf("ℹ️ Reaction count is %d", DefaultReactCount), content)
	assert.False(t, ephemeral)

	handler = newStubHandler(t, newTestCommandInteraction(t, newSnowflake(t), DiscordSlashCommandGetReactCount))
	p.handleInteraction(ctx, handler)
	content, ephemeral = handler.lastResponse(t)
	assert.Equal(t, msgNotInitialized, content)
	assert.True(t, ephemeral)

	handler = newStubHandler(t, newTestCommandInteraction(t, "", DiscordSlashCommandGetReactCount))
	p.handleInteraction(ctx, handler)
	content, _ = handler.lastResponse(t)
	assert.Equal(t, msgGuildOnly, content)
}

func TestCommandInit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run(
		"initializes", func(t *testing.T) {
			p, session := newTestPinArchive(t)
			guildID := newSnowflake(t)
			ch := &discordgo.Channel{
				ID:      newSnowflake(t),
				GuildID: guildID,
				Name:    "archive",
				Type:    discordgo.ChannelTypeGuildText,
			}
			session.addChannel(ch)

			i := newTestCommandInteraction(t, guildID, DiscordSlashCommandInit, channelOption(ch.ID))
			session.setPermissions(i.Member.User.ID, ch.ID, initChannelPermissions)

			handler := newStubHandler(t, i)
			p.handleInteraction(ctx, handler)
			content, ephemeral := handler.lastResponse(t)
			assert.Equal(
				t,
				fmt.Sprintf(
					"✅ Initialized pin archive channel to <#%s>. "+
						"Don't forget to set permissions on the channel for the bot.",
					ch.ID,
				),
				content,
			)
			assert.False(t, ephemeral)

			cfg, err := p.store.GuildConfig(ctx, guildID)
			require.NoError(t, err)
			require.NotNil(t, cfg.ArchiveChannelID)
			assert.Equal(t, ch.ID, *cfg.ArchiveChannelID)
			assert.Equal(t, DefaultReactTrigger, cfg.ReactTrigger)
			assert.Equal(t, DefaultReactCount, cfg.ReactCount)
		},
	)

	t.Run(
		"reinit keeps count", func(t *testing.T) {
			p, session := newTestPinArchive(t)
			g := newTestGuild(t, p, session)
			require.NoError(t, p.store.SetReactCount(ctx, g.GuildID, 2))

			i := newTestCommandInteraction(t, g.GuildID, DiscordSlashCommandInit, channelOption(g.ChannelID))
			session.setPermissions(i.Member.User.ID, g.ChannelID, initChannelPermissions)
			p.handleInteraction(ctx, newStubHandler(t, i))

			cfg, err := p.store.GuildConfig(ctx, g.GuildID)
			require.NoError(t, err)
			assert.Equal(t, g.ChannelID, *cfg.ArchiveChannelID)
			assert.Equal(t, 2, cfg.ReactCount)
		},
	)

	t.Run(
		"channel not found", func(t *testing.T) {
			p, _ := newTestPinArchive(t)
			channelID := newSnowflake(t)
			i := newTestCommandInteraction(t, newSnowflake(t), DiscordSlashCommandInit, channelOption(channelID))
			i.Data = discordgo.ApplicationCommandInteractionData{
				Name:    DiscordSlashCommandInit,
				Options: []*discordgo.ApplicationCommandInteractionDataOption{channelOption(channelID)},
				Resolved: &discordgo.ApplicationCommandInteractionDataResolved{
					Channels: map[string]*discordgo.Channel{
						channelID: {ID: channelID, Name: "gone"},
					},
				},
			}

			handler := newStubHandler(t, i)
			p.handleInteraction(ctx, handler)
			content, ephemeral := handler.lastResponse(t)
			assert.Equal(t, "❗ Channel gone not found", content)
			assert.True(t, ephemeral)
		},
	)

	t.Run(
		"channel in another guild", func(t *testing.T) {
			p, session := newTestPinArchive(t)
			ch := &discordgo.Channel{
				ID:      newSnowflake(t),
				GuildID: newSnowflake(t),
				Type:    discordgo.ChannelTypeGuildText,
			}
			session.addChannel(ch)
			guildID := newSnowflake(t)

			handler := newStubHandler(
				t,
				newTestCommandInteraction(t, guildID, DiscordSlashCommandInit, channelOption(ch.ID)),
			)
			p.handleInteraction(ctx, handler)
			content, _ := handler.lastResponse(t)
			assert.Equal(t, fmt.Sprintf("❗ Channel %s not found", ch.ID), content)

			_, err := p.store.GuildConfig(ctx, guildID)
			require.ErrorIs(t, err, ErrGuildNotInitialized)
		},
	)

	t.Run(
		"missing permissions", func(t *testing.T) {
			p, session := newTestPinArchive(t)
			guildID := newSnowflake(t)
			ch := &discordgo.Channel{ID: newSnowflake(t), GuildID: guildID, Type: discordgo.ChannelTypeGuildText}
			session.addChannel(ch)

			i := newTestCommandInteraction(t, guildID, DiscordSlashCommandInit, channelOption(ch.ID))
			session.setPermissions(i.Member.User.ID, ch.ID, discordgo.PermissionSendMessages)

			handler := newStubHandler(t, i)
			p.handleInteraction(ctx, handler)
			content, ephemeral := handler.lastResponse(t)
			assert.Equal(t, msgInitPermissions, content)
			assert.True(t, ephemeral)

			_, err := p.store.GuildConfig(ctx, guildID)
			require.ErrorIs(t, err, ErrGuildNotInitialized)
		},
	)

	t.Run(
		"outside a guild", func(t *testing.T) {
			p, _ := newTestPinArchive(t)
			handler := newStubHandler(
				t,
				newTestCommandInteraction(t, "", DiscordSlashCommandInit, channelOption(newSnowflake(t))),
			)
			p.handleInteraction(ctx, handler)
			content, _ := handler.lastResponse(t)
			assert.Equal(t, msgGuildOnly, content)
		},
	)
}

func TestCommandSetReactCount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	newInteraction := func(t *testing.T, guildID string, count int, perms int64) *discordgo.InteractionCreate {
		i := newTestCommandInteraction(t, guildID, DiscordSlashCommandSetReactCount, reactCountOption(count))
		if i.Member != nil {
			i.Member.Permissions = perms
		}
		return i
	}

	t.Run(
		"sets count", func(t *testing.T) {
			p, session := newTestPinArchive(t)
			g := newTestGuild(t, p, session)
			handler := newStubHandler(t, newInteraction(t, g.GuildID, 3, discordgo.PermissionManageMessages))
			p.handleInteraction(ctx, handler)

			content, ephemeral := handler.lastResponse(t)
			assert.Equal(t, "✅ Set reaction count to 3", content)
			assert.False(t, ephemeral)

			cfg, err := p.store.GuildConfig(ctx, g.GuildID)
			require.NoError(t, err)
			assert.Equal(t, 3, cfg.ReactCount)
		},
	)

	t.Run(
		"missing permission", func(t *testing.T) {
			p, session := newTestPinArchive(t)
			g := newTestGuild(t, p, session)
			handler := newStubHandler(t, newInteraction(t, g.GuildID, 3, discordgo.PermissionSendMessages))
			p.handleInteraction(ctx, handler)

			content, ephemeral := handler.lastResponse(t)
			assert.Equal(t, msgSetCountPermission, content)
			assert.True(t, ephemeral)

			cfg, err := p.store.GuildConfig(ctx, g.GuildID)
			require.NoError(t, err)
			assert.Equal(t, DefaultReactCount, cfg.ReactCount)
		},
	)

	t.Run(
		"invalid count", func(t *testing.T) {
			p, session := newTestPinArchive(t)
			g := newTestGuild(t, p, session)
			handler := newStubHandler(t, newInteraction(t, g.GuildID, 0, discordgo.PermissionManageMessages))
			p.handleInteraction(ctx, handler)

			content, _ := handler.lastResponse(t)
			assert.Equal(t, msgInvalidReactCount, content)
		},
	)

	t.Run(
		"uninitialized", func(t *testing.T) {
			p, _ := newTestPinArchive(t)
			handler := newStubHandler(t, newInteraction(t, newSnowflake(t), 3, discordgo.PermissionManageMessages))
			p.handleInteraction(ctx, handler)

			content, _ := handler.lastResponse(t)
			assert.Equal(t, msgNotInitialized, content)
		},
	)

	t.Run(
		"outside a guild", func(t *testing.T) {
			p, _ := newTestPinArchive(t)
			handler := newStubHandler(t, newInteraction(t, "", 3, 0))
			p.handleInteraction(ctx, handler)

			content, _ := handler.lastResponse(t)
			assert.Equal(t, msgGuildOnly, content)
		},
	)
}
