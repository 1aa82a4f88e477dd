package pinarchive

import (
	"context"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestPinnable(t *testing.T) {
	t.Parallel()
	text := &discordgo.Channel{Type: discordgo.ChannelTypeGuildText}
	perms := int64(discordgo.PermissionManageMessages)

	tests := []struct {
		name  string
		msg   *discordgo.Message
		ch    *discordgo.Channel
		perms int64
		want  bool
	}{
		{
			name:  "default message",
			msg:   &discordgo.Message{Type: discordgo.MessageTypeDefault},
			ch:    text,
			perms: perms,
			want:  true,
		},
		{
			name:  "reply",
			msg:   &discordgo.Message{Type: discordgo.MessageTypeReply},
			ch:    text,
			perms: perms,
			want:  true,
		},
		{
			name:  "slash command reply",
			msg:   &discordgo.Message{Type: discordgo.MessageTypeChatInputCommand},
			ch:    text,
			perms: perms,
			want:  true,
		},
		{
			name:  "context menu reply",
			msg:   &discordgo.Message{Type: discordgo.MessageTypeContextMenuCommand},
			ch:    text,
			perms: perms,
			want:  true,
		},
		{
			name:  "already pinned",
			msg:   &discordgo.Message{Type: discordgo.MessageTypeDefault, Pinned: true},
			ch:    text,
			perms: perms,
		},
		{
			name:  "system message",
			msg:   &discordgo.Message{Type: discordgo.MessageTypeGuildMemberJoin},
			ch:    text,
			perms: perms,
		},
		{
			name:  "pin notice",
			msg:   &discordgo.Message{Type: discordgo.MessageTypeChannelPinnedMessage},
			ch:    text,
			perms: perms,
		},
		{
			name:  "category channel",
			msg:   &discordgo.Message{Type: discordgo.MessageTypeDefault},
			ch:    &discordgo.Channel{Type: discordgo.ChannelTypeGuildCategory},
			perms: perms,
		},
		{
			name:  "thread",
			msg:   &discordgo.Message{Type: discordgo.MessageTypeDefault},
			ch:    &discordgo.Channel{Type: discordgo.ChannelTypeGuildPublicThread},
			perms: perms,
			want:  true,
		},
		{
			name:  "missing permission",
			msg:   &discordgo.Message{Type: discordgo.MessageTypeDefault},
			ch:    text,
			perms: discordgo.PermissionSendMessages,
		},
		{
			name:  "nil message",
			ch:    text,
			perms: perms,
		},
	}
	for _, tc := range tests {
		t.Run(
			tc.name, func(t *testing.T) {
				assert.Equal(t, tc.want, pinnable(tc.msg, tc.ch, tc.perms))
			},
		)
	}
}

func TestSafePin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run(
		"room available", func(t *testing.T) {
			p, session := newTestPinArchive(t)
			g := newTestGuild(t, p, session)
			session.fillPins(t, g.ChannelID, unpinThreshold-1)

			msg := newTestMessage(t, g, "pin")
			session.addMessage(msg)
			require.NoError(t, p.safePin(ctx, msg))
			assert.Equal(t, []string{msg.ID}, session.Pins())
			assert.Empty(t, session.Unpins())
		},
	)

	t.Run(
		"unpins oldest at limit", func(t *testing.T) {
			p, session := newTestPinArchive(t)
			g := newTestGuild(t, p, session)
			existing := session.fillPins(t, g.ChannelID, unpinThreshold)
			oldest := existing[len(existing)-1]

			msg := newTestMessage(t, g, "pin")
			session.addMessage(msg)
			require.NoError(t, p.safePin(ctx, msg))
			assert.Equal(t, []string{oldest.ID}, session.Unpins())
			assert.Equal(t, []string{msg.ID}, session.Pins())

			pinned, err := session.ChannelMessagesPinned(g.ChannelID)
			require.NoError(t, err)
			assert.Len(t, pinned, unpinThreshold)
		},
	)

	t.Run(
		"unpinnable is a no-op", func(t *testing.T) {
			p, session := newTestPinArchive(t)
			g := newTestGuild(t, p, session)
			session.fillPins(t, g.ChannelID, 50)

			msg := newTestMessage(t, g, "pinned already")
			msg.Pinned = true
			require.NoError(t, p.safePin(ctx, msg))
			assert.Empty(t, session.Pins())
			assert.Empty(t, session.Unpins())
		},
	)

	t.Run(
		"bot lacks permission", func(t *testing.T) {
			p, session := newTestPinArchive(t)
			g := newTestGuild(t, p, session)
			session.setPermissions(session.botUser.ID, g.ChannelID, discordgo.PermissionSendMessages)

			msg := newTestMessage(t, g, "pin")
			require.NoError(t, p.safePin(ctx, msg))
			assert.Empty(t, session.Pins())
		},
	)

	t.Run(
		"pin error", func(t *testing.T) {
			p, session := newTestPinArchive(t)
			g := newTestGuild(t, p, session)
			session.errPin = errFakeDiscord

			msg := newTestMessage(t, g, "pin")
			err := p.safePin(ctx, msg)
			require.ErrorIs(t, err, errFakeDiscord)
		},
	)

	t.Run(
		"unknown channel", func(t *testing.T) {
			p, _ := newTestPinArchive(t)
			msg := &discordgo.Message{ID: newSnowflake(t), ChannelID: newSnowflake(t)}
			require.Error(t, p.safePin(ctx, msg))
		},
	)
}

func TestMaybeUnpin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p, session := newTestPinArchive(t)
	g := newTestGuild(t, p, session)

	require.NoError(t, p.maybeUnpin(ctx, g.ChannelID))
	assert.Empty(t, session.Unpins())

	existing := session.fillPins(t, g.ChannelID, 50)
	require.NoError(t, p.maybeUnpin(ctx, g.ChannelID))
	assert.Equal(t, []string{existing[49].ID}, session.Unpins())
}
