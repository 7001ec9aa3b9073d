package chatbot

import (
	"github.com/bwmarrin/discordgo"
	"log/slog"
	"reflect"
	"time"
)

const (
	EnvvarSetEnvPrefix = "CHATBOT_ENV_PREFIX"
	DefaultEnvPrefix   = "QM"

	DefaultDatabaseType          = "sqlite"
	DefaultDatabase              = "chatbot.sqlite3"
	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultDatabaseLogLevel      = slog.LevelInfo

	DefaultLogLevel          = slog.LevelInfo
	DefaultDiscordLogLevel   = slog.LevelWarn
	DefaultDiscordgoLogLevel = slog.LevelWarn

	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	DefaultCommandPrefix        = "!"
	DefaultDiscordCustomStatus  = "Operation Full Stack"
	DefaultDiscordGatewayIntent = discordgo.IntentsAllWithoutPrivileged |
		discordgo.IntentMessageContent

	// DefaultMaintenanceInterval is how often the background maintenance
	// loop records its heartbeat timestamp.
	DefaultMaintenanceInterval = 6 * time.Hour

	DefaultStoreWorkers     = 4
	DefaultStoreBusyRetries = 5
	DefaultStoreBusyBackoff = 50 * time.Millisecond
)

// Config is the top-level bot configuration. Values are populated via
// viper in the cmd package, from defaults, an optional .env file, and
// QM_-prefixed environment variables.
//
//nolint:lll // struct tags can't be split
type Config struct {
	// Database connection string, or SQLite file path
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// Store configures the storage engine worker pool and retry behavior
	Store *StoreConfig `yaml:"store" mapstructure:"store" json:"store"`

	// Discord configures the discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// Maintenance configures the background maintenance loop
	Maintenance *MaintenanceConfig `yaml:"maintenance" mapstructure:"maintenance" json:"maintenance"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// initialize. If this is passed, the bot will abort startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After this
	// elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`
}

// DiscordConfig configures the discord bot itself.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// CommandPrefix is the default prefix for text commands, used when a
	// guild hasn't configured its own
	CommandPrefix string `yaml:"command_prefix" mapstructure:"command_prefix" json:"command_prefix" binding:"required"`

	// CustomStatus is set as the bot's activity after connecting
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`
}

// StoreConfig configures the storage engine's worker pool and its
// retry policy for transient 'database is locked' failures.
//
//nolint:lll // can't break tags
type StoreConfig struct {
	// Workers is the number of goroutines executing blocking storage calls
	Workers int `yaml:"workers" mapstructure:"workers" json:"workers" binding:"min=1"`

	// BusyRetries is the maximum number of attempts for a busy/locked store
	BusyRetries int `yaml:"busy_retries" mapstructure:"busy_retries" json:"busy_retries" binding:"min=0"`

	// BusyBackoff is the base delay between busy retries (doubles per attempt)
	BusyBackoff time.Duration `yaml:"busy_backoff" mapstructure:"busy_backoff" json:"busy_backoff" binding:"min=0"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

func validateStoreConfig(field reflect.Value) any {
	if value, ok := field.Interface().(StoreConfig); ok {
		if value.Workers < 1 {
			return "workers must be >= 1"
		}
		if value.BusyRetries < 0 {
			return "busy_retries must be >= 0"
		}
		if value.BusyBackoff < 0 {
			return "busy_backoff must be >= 0"
		}
	}
	return nil
}

// MaintenanceConfig configures the periodic background save loop.
//
//nolint:lll // can't break tags
type MaintenanceConfig struct {
	// Interval between maintenance cycles
	Interval time.Duration `yaml:"interval" mapstructure:"interval" json:"interval" binding:"min=1s"`
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Store: &StoreConfig{
			Workers:     DefaultStoreWorkers,
			BusyRetries: DefaultStoreBusyRetries,
			BusyBackoff: DefaultStoreBusyBackoff,
		},
		Discord: &DiscordConfig{
			CommandPrefix:     DefaultCommandPrefix,
			CustomStatus:      DefaultDiscordCustomStatus,
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
		},
		Maintenance: &MaintenanceConfig{
			Interval: DefaultMaintenanceInterval,
		},
	}
}
