package chatbot

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateDB(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.sqlite3")

	db, err := CreateDB(ctx, dbTypeSQLite, dbPath)
	require.NoError(t, err)

	mg := db.Migrator()
	assert.True(t, mg.HasTable(&Balance{}))
	assert.True(t, mg.HasTable(&GuildSettings{}))
	assert.True(t, mg.HasTable(&Metadata{}))
}

// Re-running migrations against an existing database must succeed and
// preserve existing rows.
func TestCreateDBIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.sqlite3")

	db, err := CreateDB(ctx, dbTypeSQLite, dbPath)
	require.NoError(t, err)

	require.NoError(
		t,
		db.Create(&Balance{UserID: "user1", Balance: 250}).Error,
	)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	db, err = CreateDB(ctx, dbTypeSQLite, dbPath)
	require.NoError(t, err)

	var record Balance
	require.NoError(t, db.Where("user_id = ?", "user1").First(&record).Error)
	assert.Equal(t, int64(250), record.Balance)

	var count int64
	require.NoError(t, db.Model(&Balance{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCreateDBCreatesParentDir(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.sqlite3")

	_, err := CreateDB(ctx, dbTypeSQLite, dbPath)
	require.NoError(t, err)
}

func TestCreateDBUnknownType(t *testing.T) {
	t.Parallel()
	_, err := CreateDB(context.Background(), "mysql", "dsn")
	assert.Error(t, err)
}
