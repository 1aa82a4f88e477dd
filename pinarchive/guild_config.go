package pinarchive

import (
	"context"
	"errors"
	"fmt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"log/slog"
)

const (
	columnGuildID          = "guild_id"
	columnArchiveChannelID = "archive_channel_id"
	columnArchiveMessageID = "archive_message_id"
	columnMessageID        = "message_id"
	columnReactCount       = "react_count"
	columnUpdatedAt        = "updated_at"
)

var (
	// ErrGuildNotInitialized is returned when a server has no config
	// row, meaning /init hasn't been used there yet.
	ErrGuildNotInitialized = errors.New("guild not initialized")

	// ErrInvalidReactCount is returned when a reaction count below 1
	// is given.
	ErrInvalidReactCount = errors.New("reaction count must be at least 1")
)

// ConfigStore persists per-server settings and the archive log.
type ConfigStore interface {
	// GuildConfig returns the config for the given server, or
	// ErrGuildNotInitialized.
	GuildConfig(ctx context.Context, guildID string) (*GuildConfig, error)

	// InitGuild creates the server's config row with default trigger and
	// count, or updates the archive channel of an existing row.
	InitGuild(ctx context.Context, guildID string, archiveChannelID string) (*GuildConfig, error)

	// SetReactCount updates the reaction threshold. Returns
	// ErrInvalidReactCount for counts below 1, and ErrGuildNotInitialized
	// when no row was updated.
	SetReactCount(ctx context.Context, guildID string, count int) error

	// GuildConfigs returns every config row
	GuildConfigs(ctx context.Context) ([]GuildConfig, error)

	// RecordArchive logs a message that was posted to an archive channel
	RecordArchive(ctx context.Context, a *ArchivedMessage) error

	// Archives returns the most recent archive records for a server
	Archives(ctx context.Context, guildID string, limit int) ([]ArchivedMessage, error)
}

// GuildConfig is the per-server config row. A server without one is
// uninitialized, and the bot ignores reactions and pins there.
type GuildConfig struct {
	GuildID          string  `gorm:"primaryKey;column:guild_id" json:"guild_id"`
	ArchiveChannelID *string `gorm:"column:archive_channel_id" json:"archive_channel_id"`
	ReactTrigger     string  `gorm:"column:react_trigger;not null;default:📌" json:"react_trigger"`
	ReactCount       int     `gorm:"column:react_count;not null;default:5;check:react_count > 0" json:"react_count"`
	ModelUnixTime
}

func (GuildConfig) TableName() string {
	return "config"
}

func (c GuildConfig) LogValue() slog.Value {
	archiveChannel := ""
	if c.ArchiveChannelID != nil {
		archiveChannel = *c.ArchiveChannelID
	}
	return slog.GroupValue(
		slog.String(columnGuildID, c.GuildID),
		slog.String(columnArchiveChannelID, archiveChannel),
		slog.String("react_trigger", c.ReactTrigger),
		slog.Int(columnReactCount, c.ReactCount),
	)
}

// Trigger returns the emoji and count which cause a message to be pinned
func (c GuildConfig) Trigger() Trigger {
	return Trigger{Emoji: c.ReactTrigger, Threshold: c.ReactCount}
}

// ArchivedMessage records a message that was copied to an archive channel.
type ArchivedMessage struct {
	ModelUintID
	ModelUnixTime
	GuildID          string `gorm:"index;not null" json:"guild_id"`
	ChannelID        string `gorm:"not null" json:"channel_id"`
	MessageID        string `gorm:"uniqueIndex;not null" json:"message_id"`
	AuthorID         string `json:"author_id"`
	ArchiveChannelID string `gorm:"not null" json:"archive_channel_id"`
	ArchiveMessageID string `json:"archive_message_id"`
}

func (d *database) GuildConfig(ctx context.Context, guildID string) (*GuildConfig, error) {
	db, cancel := d.withTimeout(ctx)
	defer cancel()

	var cfg GuildConfig
	err := db.Where("guild_id = ?", guildID).First(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGuildNotInitialized
		}
		return nil, fmt.Errorf("error getting config for guild %s: %w", guildID, err)
	}
	return &cfg, nil
}

func (d *database) InitGuild(
	ctx context.Context,
	guildID string,
	archiveChannelID string,
) (*GuildConfig, error) {
	d.lock()
	defer d.unlock()

	db, cancel := d.withTimeout(ctx)
	defer cancel()

	cfg := &GuildConfig{
		GuildID:          guildID,
		ArchiveChannelID: &archiveChannelID,
		ReactTrigger:     DefaultReactTrigger,
		ReactCount:       DefaultReactCount,
	}
	err := db.Clauses(
		clause.OnConflict{
			Columns: []clause.Column{{Name: columnGuildID}},
			DoUpdates: clause.AssignmentColumns(
				[]string{columnArchiveChannelID, columnUpdatedAt},
			),
		},
	).Create(cfg).Error
	if err != nil {
		return nil, fmt.Errorf("error initializing guild %s: %w", guildID, err)
	}

	// the upsert leaves the struct with defaults when the row already
	// existed, so read back what's stored
	var stored GuildConfig
	if err = db.Where("guild_id = ?", guildID).First(&stored).Error; err != nil {
		return nil, fmt.Errorf("error reloading guild %s: %w", guildID, err)
	}
	d.logger.InfoContext(ctx, "initialized guild", "config", stored)
	return &stored, nil
}

func (d *database) SetReactCount(ctx context.Context, guildID string, count int) error {
	if err := structValidator.Var(count, "min=1"); err != nil {
		return ErrInvalidReactCount
	}

	d.lock()
	defer d.unlock()

	db, cancel := d.withTimeout(ctx)
	defer cancel()

	rv := db.Model(&GuildConfig{}).
		Where("guild_id = ?", guildID).
		Update(columnReactCount, count)
	if rv.Error != nil {
		return fmt.Errorf("error setting reaction count for guild %s: %w", guildID, rv.Error)
	}
	if rv.RowsAffected == 0 {
		return ErrGuildNotInitialized
	}
	return nil
}

func (d *database) GuildConfigs(ctx context.Context) ([]GuildConfig, error) {
	db, cancel := d.withTimeout(ctx)
	defer cancel()

	var configs []GuildConfig
	if err := db.Order("guild_id asc").Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

func (d *database) RecordArchive(ctx context.Context, a *ArchivedMessage) error {
	d.lock()
	defer d.unlock()

	db, cancel := d.withTimeout(ctx)
	defer cancel()

	return db.Clauses(
		clause.OnConflict{
			Columns: []clause.Column{{Name: columnMessageID}},
			DoUpdates: clause.AssignmentColumns(
				[]string{columnArchiveChannelID, columnArchiveMessageID, columnUpdatedAt},
			),
		},
	).Create(a).Error
}

func (d *database) Archives(
	ctx context.Context,
	guildID string,
	limit int,
) ([]ArchivedMessage, error) {
	db, cancel := d.withTimeout(ctx)
	defer cancel()

	var archives []ArchivedMessage
	q := db.Where("guild_id = ?", guildID).Order("created_at desc, id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&archives).Error; err != nil {
		return nil, err
	}
	return archives, nil
}
