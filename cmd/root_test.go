package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Steven-Machin/discord-chatbot/chatbot"
	"github.com/bwmarrin/discordgo"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertLogLevel(t testing.TB, expected slog.Level, v any) {
	t.Helper()

	lvl, ok := v.(*slog.LevelVar)
	require.Truef(t, ok, "could not convert %#v (%T) to *slog.LevelVar", v, v)
	assert.Equal(t, expected, lvl.Level())
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	// Save the original environment
	originalEnv := os.Environ()
	t.Cleanup(
		func() {
			os.Clearenv()
			for _, envVar := range originalEnv {
				parts := strings.SplitN(envVar, "=", 2)
				os.Setenv(parts[0], parts[1])
			}
		},
	)

	// Clear the environment before the test
	os.Clearenv()

	tmpdir := t.TempDir()

	envFile := filepath.Join(tmpdir, "test.env")

	envContent := `
# General/database config

QM_DATABASE=/home/foo/chatbot.sqlite3
QM_DATABASE_TYPE=sqlite
QM_DATABASE_LOG_LEVEL=INFO
QM_DATABASE_SLOW_THRESHOLD=200ms
QM_LOG_LEVEL=INFO
QM_STARTUP_TIMEOUT=30s
QM_SHUTDOWN_TIMEOUT=60s

# Storage engine

QM_STORE_WORKERS=8
QM_STORE_BUSY_RETRIES=3
QM_STORE_BUSY_BACKOFF=25ms

# Background maintenance loop

QM_MAINTENANCE_INTERVAL=6h

# Discord bot config

QM_DISCORD_TOKEN=your-discord-bot-token
QM_DISCORD_COMMAND_PREFIX=!
QM_DISCORD_CUSTOM_STATUS=Operation Full Stack
QM_DISCORD_LOG_LEVEL=WARN
QM_DISCORD_DISCORDGO_LOG_LEVEL=WARN
QM_DISCORD_GATEWAY_INTENTS=3243773
`

	err := os.WriteFile(envFile, []byte(envContent), 0644)
	assert.NoError(t, err)

	rootCmd.SetArgs([]string{fmt.Sprintf("--config=%s", envFile), "version"})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "/home/foo/chatbot.sqlite3", cfg.Database)
	assert.Equal(t, "/home/foo/chatbot.sqlite3", viper.GetString("database"))
	assert.Equal(t, "sqlite", viper.GetString("database_type"))
	assert.Equal(t, 200*time.Millisecond, cfg.DatabaseSlowThreshold)

	assert.Equal(t, 30*time.Second, cfg.StartupTimeout)
	assert.Equal(t, 60*time.Second, cfg.ShutdownTimeout)

	require.NotNil(t, cfg.Store)
	assert.Equal(t, 8, cfg.Store.Workers)
	assert.Equal(t, 3, cfg.Store.BusyRetries)
	assert.Equal(t, 25*time.Millisecond, cfg.Store.BusyBackoff)

	require.NotNil(t, cfg.Maintenance)
	assert.Equal(t, 6*time.Hour, cfg.Maintenance.Interval)

	require.NotNil(t, cfg.Discord)
	assert.Equal(t, "your-discord-bot-token", cfg.Discord.Token)
	assert.Equal(t, "!", cfg.Discord.CommandPrefix)
	assert.Equal(t, "Operation Full Stack", cfg.Discord.CustomStatus)
	assert.Equal(t, discordgo.Intent(3243773), cfg.Discord.GatewayIntents)

	assertLogLevel(t, slog.LevelInfo, cfg.LogLevel)
	assertLogLevel(t, slog.LevelInfo, cfg.DatabaseLogLevel)
	assertLogLevel(t, slog.LevelWarn, cfg.Discord.LogLevel)
	assertLogLevel(t, slog.LevelWarn, cfg.Discord.DiscordGoLogLevel)
}

func TestEnvPrefixOverride(t *testing.T) {
	originalEnv := os.Environ()
	t.Cleanup(
		func() {
			os.Clearenv()
			for _, envVar := range originalEnv {
				parts := strings.SplitN(envVar, "=", 2)
				os.Setenv(parts[0], parts[1])
			}
		},
	)
	os.Clearenv()

	require.NoError(t, os.Setenv(chatbot.EnvvarSetEnvPrefix, "MYBOT"))
	require.NoError(t, os.Setenv("MYBOT_DATABASE", "/tmp/other.sqlite3"))

	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "/tmp/other.sqlite3", cfg.Database)
}

func TestGetLogLevel(t *testing.T) {
	for _, tc := range []struct {
		input    string
		expected slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"ERROR", slog.LevelError},
	} {
		lvl, err := getLogLevel(tc.input)
		require.NoError(t, err)
		assert.Equal(t, tc.expected, lvl)
	}

	_, err := getLogLevel("VERBOSE")
	assert.Error(t, err)
}
