package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/Steven-Machin/discord-chatbot/chatbot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestInitCommand(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "test.db")

	os.Setenv("QM_DATABASE_TYPE", "sqlite")
	os.Setenv("QM_DATABASE", dbPath)
	t.Cleanup(
		func() {
			os.Unsetenv("QM_DATABASE_TYPE")
			os.Unsetenv("QM_DATABASE")
		},
	)

	currentOut := rootCmd.OutOrStdout()
	currentErr := rootCmd.OutOrStderr()
	t.Cleanup(
		func() {
			rootCmd.SetOut(currentOut)
			rootCmd.SetErr(currentErr)
		},
	)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)

	rootCmd.SetArgs([]string{"init"})
	err := rootCmd.Execute()
	require.NoError(t, err)

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "Database file should exist")

	output := out.String()
	t.Logf("output: %s", output)
	assert.Contains(t, output, "Initialization complete")

	// Verify the database contents
	db, err := gorm.Open(sqlite.Open(dbPath))
	require.NoError(t, err)

	t.Cleanup(
		func() {
			sqlDB, _ := db.DB()
			if sqlDB != nil {
				_ = sqlDB.Close()
			}
		},
	)

	mg := db.Migrator()
	assert.True(t, mg.HasTable(&chatbot.Balance{}))
	assert.True(t, mg.HasTable(&chatbot.GuildSettings{}))
	assert.True(t, mg.HasTable(&chatbot.Metadata{}))
}

// init is safe to run against an already-migrated database.
func TestInitCommandRerun(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "test.db")

	os.Setenv("QM_DATABASE_TYPE", "sqlite")
	os.Setenv("QM_DATABASE", dbPath)
	t.Cleanup(
		func() {
			os.Unsetenv("QM_DATABASE_TYPE")
			os.Unsetenv("QM_DATABASE")
		},
	)

	rootCmd.SetArgs([]string{"init"})
	require.NoError(t, rootCmd.Execute())

	rootCmd.SetArgs([]string{"init"})
	require.NoError(t, rootCmd.Execute())
}
