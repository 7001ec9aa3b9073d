package chatbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"
)

var (
	columnBalance               = "balance"
	columnGuildPrefix           = "prefix"
	columnGuildWelcomeChannelID = "welcome_channel_id"
	columnGuildModeratorRoleID  = "moderator_role_id"
	columnGuildAdminRoleID      = "admin_role_id"
	columnMetadataValue         = "value"
)

// ModelUnixTime is an embeddable model with Unix timestamps (in
// milliseconds) for creation and update.
type ModelUnixTime struct {
	CreatedAt int64 `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64 `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
}

// Balance is a single user's point balance. A record is created on the
// first credit to a user, and never deleted. The balance is not
// clamped at zero - callers decide whether a negative result is valid.
type Balance struct {
	// UserID is the Discord user ID
	UserID string `json:"user_id" gorm:"primaryKey;type:string"`

	// Balance is the current point total
	Balance int64 `json:"balance" gorm:"not null;default:0"`

	ModelUnixTime
}

func (Balance) TableName() string {
	return "balances"
}

func (b Balance) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("user_id", b.UserID),
		slog.Int64("balance", b.Balance),
	)
}

// GuildSettings holds per-guild configuration. Each field is
// independently optional: a nil pointer persists as NULL, which is
// distinct from the zero value and means 'not configured'.
type GuildSettings struct {
	// GuildID is the Discord guild (server) ID
	GuildID string `json:"guild_id" gorm:"primaryKey;type:string"`

	// Prefix overrides the default text command prefix
	Prefix *string `json:"prefix" gorm:"type:string"`

	// WelcomeChannelID is the channel new-member greetings are sent to
	WelcomeChannelID *string `json:"welcome_channel_id" gorm:"type:string"`

	// ModeratorRoleID is required for moderation commands, when set
	ModeratorRoleID *string `json:"moderator_role_id" gorm:"type:string"`

	// AdminRoleID is required for settings commands, when set
	AdminRoleID *string `json:"admin_role_id" gorm:"type:string"`

	ModelUnixTime
}

func (GuildSettings) TableName() string {
	return "guild_settings"
}

func (g GuildSettings) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("guild_id", g.GuildID)}
	if g.Prefix != nil {
		attrs = append(attrs, slog.String(columnGuildPrefix, *g.Prefix))
	}
	if g.WelcomeChannelID != nil {
		attrs = append(attrs, slog.String(columnGuildWelcomeChannelID, *g.WelcomeChannelID))
	}
	if g.ModeratorRoleID != nil {
		attrs = append(attrs, slog.String(columnGuildModeratorRoleID, *g.ModeratorRoleID))
	}
	if g.AdminRoleID != nil {
		attrs = append(attrs, slog.String(columnGuildAdminRoleID, *g.AdminRoleID))
	}
	return slog.GroupValue(attrs...)
}

// Metadata is a generic key/value register for operational
// bookkeeping, such as the maintenance loop's last-save timestamp and
// per-user daily claim markers. Rows are upserted, never deleted.
type Metadata struct {
	Key   string `json:"key" gorm:"primaryKey;type:string;column:key"`
	Value string `json:"value" gorm:"not null;type:string"`

	ModelUnixTime
}

func (Metadata) TableName() string {
	return "metadata"
}

// CreateDB initializes and returns a GORM database connection based on
// the specified database type, and idempotently migrates the schema
// for the three aggregates. It's safe to call repeatedly: existing
// tables and data are left untouched.
//
// Parameters:
//   - ctx: The context for the database operations.
//   - databaseType: The type of the database, must be 'sqlite' or 'postgres'.
//   - database: The database connection string, or SQLite file path.
func CreateDB(ctx context.Context, databaseType string, database string) (*gorm.DB, error) {
	handler := tint.NewHandler(
		os.Stdout,
		&tint.Options{
			Level:     slog.LevelWarn,
			AddSource: true,
		},
	)

	gormLogger := newGORMLogger(handler, 500*time.Millisecond)
	dbLogger := slog.New(handler)

	dbLogger.InfoContext(
		ctx,
		"Initializing database",
		"database_type", databaseType,
		"database", database,
	)
	db, err := getDB(databaseType, database, gormLogger)
	if err != nil {
		return db, err
	}

	txn := db.WithContext(ctx).Begin()

	mg := txn.Migrator()
	err = mg.AutoMigrate(
		&Balance{},
		&GuildSettings{},
		&Metadata{},
	)
	if err != nil {
		_ = txn.Rollback()
		return db, err
	}

	commitErr := txn.Commit().Error
	if commitErr != nil {
		return db, commitErr
	}

	return db, nil
}

// getDB initializes and returns a GORM database connection based on the
// specified database type.
func getDB(
	databaseType string,
	database string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	switch databaseType {
	case dbTypeSQLite:
		parentDir := filepath.Dir(database)
		if parentDir != "" {
			if err := os.MkdirAll(parentDir, 0755); err != nil {
				if !errors.Is(err, os.ErrExist) {
					return nil, err
				}
			}
		}
		return gorm.Open(
			sqlite.Open(database),
			&gorm.Config{
				Logger: gormLogger,
				NowFunc: func() time.Time {
					return time.Now().UTC()
				},
			},
		)
	case dbTypePostgres:
		return gorm.Open(
			postgres.Open(database), &gorm.Config{
				Logger: gormLogger,
				NowFunc: func() time.Time {
					return time.Now().UTC()
				},
			},
		)
	default:
		return nil, fmt.Errorf(
			"unsupported database type: %s (must be %q or %q)",
			databaseType, dbTypeSQLite, dbTypePostgres,
		)
	}
}
