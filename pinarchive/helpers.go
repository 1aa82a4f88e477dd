package pinarchive

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"log/slog"
	"reflect"
	"strings"
)

const loggerContextKey contextKey = "logger"

type contextKey string

// discordInteractionOptions extracts the interaction options from a
// Discord interaction, keyed by option name.
func discordInteractionOptions(
	i *discordgo.InteractionCreate,
) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	options := i.ApplicationCommandData().Options
	optionMap := make(
		map[string]*discordgo.ApplicationCommandInteractionDataOption,
		len(options),
	)
	for _, option := range options {
		optionMap[option.Name] = option
	}
	return optionMap
}

// structToSlogValue converts a struct to a slog.Value, using the struct's
// JSON tag as the key for each field, if set.
// If the `log` tag is set, the value specified will override the
// field's actual value. Ex: `log:"REDACTED"` will cause "REDACTED" to
// be shown as the field's value.
func structToSlogValue(v any) slog.Value {
	typ := reflect.TypeOf(v)
	if typ == nil {
		return slog.AnyValue(nil)
	}
	val := reflect.ValueOf(v)

	if typ.Kind() == reflect.Ptr {
		if val.IsNil() {
			return slog.AnyValue(nil)
		}
		val = val.Elem()
		typ = typ.Elem()
	}

	if typ.Kind() != reflect.Struct {
		return slog.AnyValue(v)
	}

	attrs := make([]slog.Attr, 0, typ.NumField())
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if !field.IsExported() {
			continue
		}
		key := field.Name
		if jsonTag := field.Tag.Get("json"); jsonTag != "" {
			name, _, _ := strings.Cut(jsonTag, ",")
			switch name {
			case "-":
				continue
			case "":
			default:
				key = name
			}
		}
		if logTag := field.Tag.Get("log"); logTag != "" {
			attrs = append(attrs, slog.String(key, logTag))
			continue
		}

		fv := val.Field(i)
		switch {
		case fv.Kind() == reflect.Ptr && fv.IsNil():
			attrs = append(attrs, slog.Any(key, nil))
		case fv.Kind() == reflect.Struct ||
			(fv.Kind() == reflect.Ptr && fv.Elem().Kind() == reflect.Struct):
			if _, isLeveler := fv.Interface().(slog.Leveler); isLeveler {
				attrs = append(attrs, slog.Any(key, fv.Interface()))
				continue
			}
			attrs = append(attrs, slog.Attr{Key: key, Value: structToSlogValue(fv.Interface())})
		default:
			attrs = append(attrs, slog.Any(key, fv.Interface()))
		}
	}
	return slog.GroupValue(attrs...)
}

// WithLogger returns a new context with the provided logger
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey, logger)
}

// ContextLogger returns the logger from the context, if it exists
func ContextLogger(ctx context.Context) (*slog.Logger, bool) {
	logger, ok := ctx.Value(loggerContextKey).(*slog.Logger)
	return logger, ok
}

// contextLoggerOr returns the context logger, or the fallback
// (then slog.Default()) when none is set
func contextLoggerOr(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if logger, ok := ContextLogger(ctx); ok && logger != nil {
		return logger
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}

// interactionLogAttrs returns a slice of slog attributes
// with basic interaction details.
func interactionLogAttrs(i discordgo.InteractionCreate) []any {
	attrs := []any{
		slog.String("id", i.ID),
		slog.String("type", i.Type.String()),
		slog.String("guild_id", i.GuildID),
		slog.String("channel_id", i.ChannelID),
	}
	if i.Type == discordgo.InteractionApplicationCommand {
		attrs = append(attrs, slog.String("command", i.ApplicationCommandData().Name))
	}
	if u := getDiscordUser(&i); u != nil {
		attrs = append(attrs, slog.String("user_id", u.ID))
	}
	return attrs
}

// messageLogAttrs returns a group of message identifiers, for logging
func messageLogAttrs(m *discordgo.Message) slog.Attr {
	if m == nil {
		return slog.Any("message", nil)
	}
	attrs := []any{
		slog.String("id", m.ID),
		slog.String("channel_id", m.ChannelID),
		slog.String("guild_id", m.GuildID),
	}
	if m.Author != nil {
		attrs = append(attrs, slog.String("author_id", m.Author.ID))
	}
	return slog.Group("message", attrs...)
}

// messageURL returns the permalink for the given message
func messageURL(guildID, channelID, messageID string) string {
	return fmt.Sprintf(
		"https://discord.com/channels/%s/%s/%s",
		guildID,
		channelID,
		messageID,
	)
}

// getDiscordUser returns the [discordgo.User] associated with the interaction.
// Users don't always appear in the same place in the interaction object, so
// this checks known areas.
func getDiscordUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i == nil || i.Interaction == nil {
		return nil
	}
	u := i.User
	if u == nil && i.Member != nil {
		u = i.Member.User
	}
	return u
}
