package pinarchive

import (
	"fmt"
	"github.com/bwmarrin/discordgo"
	"strings"
	"time"
)

const (
	linkEmoji = "🔗"

	// zeroWidthSpace stands in for empty embed field values, which
	// discord rejects
	zeroWidthSpace = "\u200b"
)

// archiveContent is the plain text sent alongside the archive embeds
func archiveContent(m *discordgo.Message) string {
	var authorID string
	if m.Author != nil {
		authorID = m.Author.ID
	}
	return fmt.Sprintf(
		"Message from <@%s>: %s",
		authorID,
		messageURL(m.GuildID, m.ChannelID, m.ID),
	)
}

// authorDisplayName returns the name shown in the archive embed: the
// member's nickname, falling back to the global name and then the
// username, with the discriminator appended for accounts that still
// have one.
func authorDisplayName(m *discordgo.Message) string {
	var name string
	if m.Member != nil && m.Member.Nick != "" {
		name = m.Member.Nick
	}
	if m.Author == nil {
		return name
	}
	if name == "" {
		name = m.Author.GlobalName
	}
	if name == "" {
		name = m.Author.Username
	}
	if d := m.Author.Discriminator; d != "" && d != "0" {
		name = name + "#" + d
	}
	return name
}

func authorIconURL(m *discordgo.Message) string {
	if m.Member != nil && m.Member.Avatar != "" {
		// members embedded in messages carry neither user nor guild
		member := *m.Member
		if member.User == nil {
			member.User = m.Author
		}
		if member.GuildID == "" {
			member.GuildID = m.GuildID
		}
		if member.User != nil {
			return member.AvatarURL("")
		}
	}
	if m.Author != nil {
		return m.Author.AvatarURL("")
	}
	return ""
}

func isImage(a *discordgo.MessageAttachment) bool {
	return a != nil && strings.HasPrefix(a.ContentType, "image/")
}

func fieldValue(s string) string {
	if s == "" {
		return zeroWidthSpace
	}
	return s
}

// formatEmbeds builds the embeds for the archive post of m, which was
// sent in the channel named channelName.
//
// A single embed without attachments is merged into the main embed, as
// is a single image attachment without embeds. When there are both
// attachments and embeds, the remaining embeds follow the main one, then
// one embed per attachment.
func formatEmbeds(m *discordgo.Message, channelName string) []*discordgo.MessageEmbed {
	link := messageURL(m.GuildID, m.ChannelID, m.ID)

	main := &discordgo.MessageEmbed{
		Author: &discordgo.MessageEmbedAuthor{
			Name:    authorDisplayName(m),
			IconURL: authorIconURL(m),
			URL:     link,
		},
		URL:         link,
		Description: m.Content,
		Footer:      &discordgo.MessageEmbedFooter{Text: "Sent in " + channelName},
	}
	if !m.Timestamp.IsZero() {
		main.Timestamp = m.Timestamp.UTC().Format(time.RFC3339)
	}

	switch {
	case len(m.Embeds) == 1 && len(m.Attachments) == 0:
		first := m.Embeds[0]
		switch {
		case first.Image != nil && first.Image.URL != "":
			main.Image = &discordgo.MessageEmbedImage{URL: first.Image.URL}
		case first.Thumbnail != nil && first.Thumbnail.URL != "":
			main.Image = &discordgo.MessageEmbedImage{URL: first.Thumbnail.URL}
		}
		if first.Title != "" {
			main.Fields = append(
				main.Fields,
				&discordgo.MessageEmbedField{
					Name:  first.Title,
					Value: fieldValue(first.Description),
				},
			)
		}
		if first.URL != "" && first.URL != m.Content {
			main.Fields = append(
				main.Fields,
				&discordgo.MessageEmbedField{Name: linkEmoji, Value: first.URL},
			)
		}
		return []*discordgo.MessageEmbed{main}
	case len(m.Attachments) == 1 && len(m.Embeds) == 0 && isImage(m.Attachments[0]):
		main.Image = &discordgo.MessageEmbedImage{URL: m.Attachments[0].URL}
		return []*discordgo.MessageEmbed{main}
	case len(m.Attachments) > 0 && len(m.Embeds) > 0:
		main.Fields = append(
			main.Fields,
			&discordgo.MessageEmbedField{Name: "See attached", Value: linkEmoji},
		)
		embeds := make([]*discordgo.MessageEmbed, 0, len(m.Embeds)+len(m.Attachments))
		embeds = append(embeds, main)
		embeds = append(embeds, m.Embeds[1:]...)
		for _, a := range m.Attachments {
			if a == nil {
				continue
			}
			e := &discordgo.MessageEmbed{
				Title:       linkEmoji,
				URL:         a.URL,
				Description: a.URL,
			}
			if isImage(a) {
				e.Image = &discordgo.MessageEmbedImage{URL: a.ProxyURL}
			}
			embeds = append(embeds, e)
		}
		return embeds
	default:
		return []*discordgo.MessageEmbed{main}
	}
}
