package chatbot

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t testing.TB) *Store {
	t.Helper()
	cfg := DefaultTestConfig(t)
	db, err := CreateDB(context.Background(), cfg.DatabaseType, cfg.Database)
	require.NoError(t, err)

	store := NewStore(db, cfg.DatabaseType, cfg.Store, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	store.Start(ctx)
	return store
}

func TestGetBalanceAbsentUser(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	balance, err := store.GetBalance(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestIncrementBalance(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	total, err := store.IncrementBalance(ctx, "user1", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), total)

	total, err = store.IncrementBalance(ctx, "user1", 50)
	require.NoError(t, err)
	assert.Equal(t, int64(150), total)

	balance, err := store.GetBalance(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, int64(150), balance)
}

// Balances are not clamped: a debit below zero persists as a negative
// balance.
func TestIncrementBalanceNegative(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	total, err := store.IncrementBalance(ctx, "user1", -75)
	require.NoError(t, err)
	assert.Equal(t, int64(-75), total)

	balance, err := store.GetBalance(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, int64(-75), balance)
}

// Concurrent increments for the same user must all be applied - the
// final balance is the exact sum, with no lost updates.
func TestIncrementBalanceConcurrent(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	const (
		goroutines = 25
		delta      = int64(10)
	)
	var wg sync.WaitGroup
	errs := make(chan error, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.IncrementBalance(ctx, "user1", delta)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	balance, err := store.GetBalance(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, goroutines*delta, balance)
}

// Readers racing a pair of increments only ever observe a committed
// balance: the value before either increment, between them, or after
// both. No torn or partial state is visible.
func TestGetBalanceDuringIncrements(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	const readers = 50
	valid := map[int64]bool{0: true, 10: true, 15: true}

	var wg sync.WaitGroup
	observed := make(chan int64, readers)
	errs := make(chan error, readers+2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := store.IncrementBalance(ctx, "user42", 10)
		errs <- err
		_, err = store.IncrementBalance(ctx, "user42", 5)
		errs <- err
	}()
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			balance, err := store.GetBalance(ctx, "user42")
			errs <- err
			observed <- balance
		}()
	}
	wg.Wait()
	close(errs)
	close(observed)

	for err := range errs {
		require.NoError(t, err)
	}
	for balance := range observed {
		assert.True(
			t,
			valid[balance],
			"read a balance outside the committed states: %d",
			balance,
		)
	}

	final, err := store.GetBalance(ctx, "user42")
	require.NoError(t, err)
	assert.Equal(t, int64(15), final)
}

func TestTopBalances(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	for _, seed := range []struct {
		userID string
		amount int64
	}{
		{"user1", 50},
		{"user2", 300},
		{"user3", 100},
		{"user4", 300},
		{"user5", 25},
		{"user6", 200},
	} {
		_, err := store.IncrementBalance(ctx, seed.userID, seed.amount)
		require.NoError(t, err)
	}

	top, err := store.TopBalances(ctx, 5)
	require.NoError(t, err)
	require.Len(t, top, 5)

	// highest first; the 300-point tie resolves to the earlier record
	assert.Equal(t, "user2", top[0].UserID)
	assert.Equal(t, "user4", top[1].UserID)
	assert.Equal(t, "user6", top[2].UserID)
	assert.Equal(t, "user3", top[3].UserID)
	assert.Equal(t, "user1", top[4].UserID)
}

func TestTopBalancesEmpty(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	top, err := store.TopBalances(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, top)
}

func TestTopBalancesInvalidLimit(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	_, err := store.TopBalances(context.Background(), 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestGetGuildSettingsAbsent(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	settings, err := store.GetGuildSettings(context.Background(), "guild1")
	require.NoError(t, err)
	assert.Equal(t, "guild1", settings.GuildID)
	assert.Nil(t, settings.Prefix)
	assert.Nil(t, settings.WelcomeChannelID)
	assert.Nil(t, settings.ModeratorRoleID)
	assert.Nil(t, settings.AdminRoleID)
}

// Writing one settings field must not disturb the others, and nil
// clears a field back to unset.
func TestSetGuildFieldsIndependent(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	prefix := "?"
	settings, err := store.SetGuildPrefix(ctx, "guild1", &prefix)
	require.NoError(t, err)
	require.NotNil(t, settings.Prefix)
	assert.Equal(t, "?", *settings.Prefix)

	channelID := "12345"
	settings, err = store.SetWelcomeChannel(ctx, "guild1", &channelID)
	require.NoError(t, err)
	require.NotNil(t, settings.WelcomeChannelID)
	assert.Equal(t, "12345", *settings.WelcomeChannelID)
	require.NotNil(t, settings.Prefix)
	assert.Equal(t, "?", *settings.Prefix)

	roleID := "67890"
	settings, err = store.SetModeratorRole(ctx, "guild1", &roleID)
	require.NoError(t, err)
	require.NotNil(t, settings.ModeratorRoleID)

	adminRoleID := "54321"
	settings, err = store.SetAdminRole(ctx, "guild1", &adminRoleID)
	require.NoError(t, err)
	require.NotNil(t, settings.AdminRoleID)

	settings, err = store.SetWelcomeChannel(ctx, "guild1", nil)
	require.NoError(t, err)
	assert.Nil(t, settings.WelcomeChannelID)
	require.NotNil(t, settings.Prefix)
	assert.Equal(t, "?", *settings.Prefix)
	require.NotNil(t, settings.ModeratorRoleID)
	assert.Equal(t, "67890", *settings.ModeratorRoleID)
	require.NotNil(t, settings.AdminRoleID)
	assert.Equal(t, "54321", *settings.AdminRoleID)
}

// A blank (or whitespace-only) prefix is treated as a clear, not
// stored verbatim.
func TestSetGuildPrefixBlankClears(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	prefix := "!"
	_, err := store.SetGuildPrefix(ctx, "guild1", &prefix)
	require.NoError(t, err)

	blank := "   "
	settings, err := store.SetGuildPrefix(ctx, "guild1", &blank)
	require.NoError(t, err)
	assert.Nil(t, settings.Prefix)
}

func TestClearGuildSettings(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	prefix := "$"
	_, err := store.SetGuildPrefix(ctx, "guild1", &prefix)
	require.NoError(t, err)

	require.NoError(t, store.ClearGuildSettings(ctx, "guild1"))

	settings, err := store.GetGuildSettings(ctx, "guild1")
	require.NoError(t, err)
	assert.Nil(t, settings.Prefix)
}

func TestCommandPrefix(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	// direct messages have no guild, and never touch the store
	prefix, err := store.CommandPrefix(ctx, "", "!")
	require.NoError(t, err)
	assert.Equal(t, "!", prefix)

	prefix, err = store.CommandPrefix(ctx, "guild1", "!")
	require.NoError(t, err)
	assert.Equal(t, "!", prefix)

	custom := "?"
	_, err = store.SetGuildPrefix(ctx, "guild1", &custom)
	require.NoError(t, err)

	prefix, err = store.CommandPrefix(ctx, "guild1", "!")
	require.NoError(t, err)
	assert.Equal(t, "?", prefix)
}

func TestMetadata(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	_, exists, err := store.GetMetadata(ctx, "last_save")
	require.NoError(t, err)
	assert.False(t, exists)

	prev, existed, err := store.SetMetadata(ctx, "last_save", "first")
	require.NoError(t, err)
	assert.False(t, existed)
	assert.Empty(t, prev)

	prev, existed, err = store.SetMetadata(ctx, "last_save", "second")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, "first", prev)

	value, exists, err := store.GetMetadata(ctx, "last_save")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, "second", value)

	// repeated writes upsert in place - no duplicate rows
	var count int64
	require.NoError(
		t,
		store.db.Model(&Metadata{}).Where(
			"key = ?", "last_save",
		).Count(&count).Error,
	)
	assert.Equal(t, int64(1), count)
}

func TestStoreInvalidArguments(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetBalance(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = store.IncrementBalance(ctx, "", 10)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = store.GetGuildSettings(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = store.SetGuildPrefix(ctx, "", nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	assert.ErrorIs(t, store.ClearGuildSettings(ctx, ""), ErrInvalidArgument)

	_, _, err = store.GetMetadata(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, _, err = store.SetMetadata(ctx, "", "value")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestStoreNotRunning(t *testing.T) {
	t.Parallel()
	cfg := DefaultTestConfig(t)
	db, err := CreateDB(context.Background(), cfg.DatabaseType, cfg.Database)
	require.NoError(t, err)

	store := NewStore(db, cfg.DatabaseType, cfg.Store, slog.Default())

	_, err = store.GetBalance(context.Background(), "user1")
	assert.ErrorIs(t, err, ErrStoreNotRunning)
}

func TestStoreCanceledContext(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := store.IncrementBalance(ctx, "user1", 100)
	assert.ErrorIs(t, err, context.Canceled)
}

// A submission that slips past the running check after the workers
// have exited must still fail rather than block on the job channel.
func TestStoreSubmitAfterWorkersExit(t *testing.T) {
	t.Parallel()
	cfg := DefaultTestConfig(t)
	db, err := CreateDB(context.Background(), cfg.DatabaseType, cfg.Database)
	require.NoError(t, err)

	store := NewStore(db, cfg.DatabaseType, cfg.Store, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	store.Start(ctx)
	cancel()
	store.Wait()
	<-store.done

	// reproduce the lost race: the running flag still reads true
	// while no worker is left to accept the job
	store.started.Store(true)
	_, err = store.GetBalance(context.Background(), "user1")
	assert.ErrorIs(t, err, ErrStoreNotRunning)
}

func TestIsBusyError(t *testing.T) {
	t.Parallel()
	assert.False(t, isBusyError(nil))
	assert.False(t, isBusyError(context.Canceled))
	assert.True(
		t,
		isBusyError(errTest("database is locked (5) (SQLITE_BUSY)")),
	)
	assert.True(t, isBusyError(errTest("database table is locked")))
}

type errTest string

func (e errTest) Error() string { return string(e) }

func TestWithBusyRetryGivesUp(t *testing.T) {
	t.Parallel()
	cfg := DefaultTestConfig(t)
	cfg.Store.BusyRetries = 2
	cfg.Store.BusyBackoff = time.Millisecond

	db, err := CreateDB(context.Background(), cfg.DatabaseType, cfg.Database)
	require.NoError(t, err)
	store := NewStore(db, cfg.DatabaseType, cfg.Store, slog.Default())

	attempts := 0
	err = store.withBusyRetry(
		context.Background(), func(context.Context) error {
			attempts++
			return errTest("database is locked")
		},
	)
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithBusyRetryEventualSuccess(t *testing.T) {
	t.Parallel()
	cfg := DefaultTestConfig(t)
	cfg.Store.BusyBackoff = time.Millisecond

	db, err := CreateDB(context.Background(), cfg.DatabaseType, cfg.Database)
	require.NoError(t, err)
	store := NewStore(db, cfg.DatabaseType, cfg.Store, slog.Default())

	attempts := 0
	err = store.withBusyRetry(
		context.Background(), func(context.Context) error {
			attempts++
			if attempts < 3 {
				return errTest("database is locked")
			}
			return nil
		},
	)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}
