package chatbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInvalidArgument indicates a caller error (empty identifier or
	// key, non-positive limit). Never retried.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStoreNotRunning is returned when an operation is submitted
	// before Start, or after the engine has shut down.
	ErrStoreNotRunning = errors.New("storage engine not running")
)

var (
	dbOperationTimeout = 30 * time.Second

	// MetadataKeyLastSave is where the maintenance loop records its
	// heartbeat timestamp (RFC 3339).
	MetadataKeyLastSave = "last_save"

	// metadataKeyDailyPrefix prefixes per-user daily claim markers
	metadataKeyDailyPrefix = "daily_claim:"
)

// storeJob is a single blocking storage operation, executed by one of
// the engine's worker goroutines.
type storeJob struct {
	// key is the aggregate key this job serializes on
	key string

	// write indicates the job mutates the store (SQLite allows a
	// single writer, so writes additionally hold the engine-wide
	// write mutex)
	write bool

	run func(ctx context.Context)

	// done is closed by the worker once run returns
	done chan struct{}
}

// Store is the storage engine: the sole owner of the underlying
// database handle. Every public operation is executed on a small
// bounded pool of worker goroutines, so callers (the command dispatch
// path, the maintenance loop) are never blocked on storage I/O beyond
// awaiting their own result - and may stop waiting early without
// affecting the atomicity of the operation itself.
//
// Operations on the same aggregate key (one user's balance, one
// guild's settings, one metadata key) are serialized in submission
// order; operations on unrelated keys proceed concurrently, subject
// to the single-writer constraint when running on SQLite.
type Store struct {
	db     *gorm.DB
	config *StoreConfig
	logger *slog.Logger

	// writeMu serializes writes when the backing store is SQLite
	writeMu         sync.Mutex
	sqliteWriteLock bool

	// keyLocks holds one *sync.Mutex per active aggregate key
	keyLocks sync.Map

	jobs chan storeJob
	// done is closed once the engine's context is canceled, so
	// submitters never block on a pool with no workers left
	done    chan struct{}
	started atomic.Bool
	wg      sync.WaitGroup
}

// NewStore creates a storage engine over the given database handle.
// Start must be called before any operation is usable.
func NewStore(
	db *gorm.DB,
	databaseType string,
	config *StoreConfig,
	log *slog.Logger,
) *Store {
	if log == nil {
		log = slog.Default()
	}
	if config == nil {
		config = &StoreConfig{
			Workers:     DefaultStoreWorkers,
			BusyRetries: DefaultStoreBusyRetries,
			BusyBackoff: DefaultStoreBusyBackoff,
		}
	}
	return &Store{
		db:              db,
		config:          config,
		logger:          log.With(loggerNameKey, "store"),
		sqliteWriteLock: databaseType == dbTypeSQLite,
		jobs:            make(chan storeJob),
		done:            make(chan struct{}),
	}
}

// Start launches the worker pool. Workers run until ctx is canceled;
// after that, submitted operations fail with ErrStoreNotRunning.
func (s *Store) Start(ctx context.Context) {
	if s.started.Swap(true) {
		return
	}
	workers := s.config.Workers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.worker(ctx)
		}()
	}
	go func() {
		<-ctx.Done()
		s.started.Store(false)
		close(s.done)
	}()
}

// Wait blocks until all workers have exited.
func (s *Store) Wait() {
	s.wg.Wait()
}

func (s *Store) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.jobs:
			s.runJob(ctx, job)
		}
	}
}

func (s *Store) runJob(ctx context.Context, job storeJob) {
	mu := s.keyLock(job.key)
	mu.Lock()
	defer mu.Unlock()

	if job.write && s.sqliteWriteLock {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
	}

	// The operation runs on the worker's context, not the caller's:
	// a caller abandoning its wait must not truncate the operation
	// mid-flight.
	opCtx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	defer cancel()

	job.run(opCtx)
	close(job.done)
}

func (s *Store) keyLock(key string) *sync.Mutex {
	mu, _ := s.keyLocks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// submit hands fn to the worker pool and awaits its completion. The
// returned error is either the operation's own error, or the caller
// context's error if the caller stopped waiting - in which case the
// operation still runs to completion (or not at all), atomically.
func (s *Store) submit(
	ctx context.Context,
	key string,
	write bool,
	fn func(ctx context.Context) error,
) error {
	if !s.started.Load() {
		return ErrStoreNotRunning
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var opErr error
	job := storeJob{
		key:   key,
		write: write,
		done:  make(chan struct{}),
	}
	job.run = func(opCtx context.Context) {
		opErr = s.withBusyRetry(opCtx, fn)
	}

	select {
	case s.jobs <- job:
	case <-s.done:
		return ErrStoreNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-job.done:
		return opErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// withBusyRetry retries fn with doubling backoff while the underlying
// store reports a transient lock. Any other failure is returned
// immediately.
func (s *Store) withBusyRetry(
	ctx context.Context,
	fn func(ctx context.Context) error,
) error {
	backoff := s.config.BusyBackoff
	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil || !isBusyError(err) {
			return err
		}
		if attempt >= s.config.BusyRetries {
			return fmt.Errorf("store busy after %d attempts: %w", attempt+1, err)
		}
		s.logger.WarnContext(
			ctx,
			"store busy, retrying",
			"attempt", attempt+1,
			"backoff", backoff,
			tint.Err(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// isBusyError reports whether err looks like a transient
// lock/busy condition from the underlying store.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

func balanceKey(userID string) string {
	return "balance:" + userID
}

func guildKey(guildID string) string {
	return "guild:" + guildID
}

func metadataKey(key string) string {
	return "meta:" + key
}

// GetBalance returns the user's current balance, or 0 if the user has
// never been credited. An unknown user is not an error.
func (s *Store) GetBalance(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: empty user ID", ErrInvalidArgument)
	}
	var balance int64
	err := s.submit(
		ctx, balanceKey(userID), false, func(opCtx context.Context) error {
			var record Balance
			rv := s.db.WithContext(opCtx).Where(
				"user_id = ?", userID,
			).First(&record)
			if rv.Error != nil {
				if errors.Is(rv.Error, gorm.ErrRecordNotFound) {
					return nil
				}
				return rv.Error
			}
			balance = record.Balance
			return nil
		},
	)
	return balance, err
}

// IncrementBalance atomically adds delta (which may be negative) to
// the user's balance, creating the record on first credit, and returns
// the new balance. Concurrent increments for the same user serialize;
// none are lost. The result is not clamped at zero.
func (s *Store) IncrementBalance(
	ctx context.Context,
	userID string,
	delta int64,
) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: empty user ID", ErrInvalidArgument)
	}
	var newBalance int64
	err := s.submit(
		ctx, balanceKey(userID), true, func(opCtx context.Context) error {
			return s.db.WithContext(opCtx).Transaction(
				func(tx *gorm.DB) error {
					var current Balance
					rv := tx.Where("user_id = ?", userID).First(&current)
					if rv.Error != nil &&
						!errors.Is(rv.Error, gorm.ErrRecordNotFound) {
						return rv.Error
					}
					newBalance = current.Balance + delta
					return tx.Clauses(
						clause.OnConflict{
							Columns: []clause.Column{{Name: "user_id"}},
							DoUpdates: clause.Assignments(
								map[string]any{
									columnBalance: newBalance,
									"updated_at":  time.Now().UTC().UnixMilli(),
								},
							),
						},
					).Create(&Balance{UserID: userID, Balance: newBalance}).Error
				},
			)
		},
	)
	return newBalance, err
}

// TopBalances returns up to limit balance records, highest balance
// first. Exact ties are broken by insertion order (earliest record
// first), then user ID.
func (s *Store) TopBalances(ctx context.Context, limit int) ([]Balance, error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: limit must be >= 1", ErrInvalidArgument)
	}
	var records []Balance
	err := s.submit(
		ctx, "balance:leaderboard", false, func(opCtx context.Context) error {
			return s.db.WithContext(opCtx).Order(
				"balance desc, created_at asc, user_id asc",
			).Limit(limit).Find(&records).Error
		},
	)
	return records, err
}

// GetGuildSettings returns the guild's configuration, or a zero-value
// GuildSettings (with GuildID set) if the guild never configured
// anything. An unknown guild is not an error.
func (s *Store) GetGuildSettings(
	ctx context.Context,
	guildID string,
) (GuildSettings, error) {
	if guildID == "" {
		return GuildSettings{}, fmt.Errorf("%w: empty guild ID", ErrInvalidArgument)
	}
	settings := GuildSettings{GuildID: guildID}
	err := s.submit(
		ctx, guildKey(guildID), false, func(opCtx context.Context) error {
			return s.getGuildSettings(opCtx, guildID, &settings)
		},
	)
	return settings, err
}

func (s *Store) getGuildSettings(
	ctx context.Context,
	guildID string,
	settings *GuildSettings,
) error {
	rv := s.db.WithContext(ctx).Where("guild_id = ?", guildID).First(settings)
	if rv.Error != nil {
		if errors.Is(rv.Error, gorm.ErrRecordNotFound) {
			*settings = GuildSettings{GuildID: guildID}
			return nil
		}
		return rv.Error
	}
	return nil
}

// CommandPrefix returns the effective text command prefix for the
// guild: its configured prefix if set, otherwise fallback. An empty
// guild ID (direct message) returns fallback without touching the
// store.
func (s *Store) CommandPrefix(
	ctx context.Context,
	guildID string,
	fallback string,
) (string, error) {
	if guildID == "" {
		return fallback, nil
	}
	settings, err := s.GetGuildSettings(ctx, guildID)
	if err != nil {
		return fallback, err
	}
	if settings.Prefix == nil || *settings.Prefix == "" {
		return fallback, nil
	}
	return *settings.Prefix, nil
}

// SetGuildPrefix sets or clears (nil, or blank after trimming) the
// guild's command prefix, leaving all other settings untouched.
func (s *Store) SetGuildPrefix(
	ctx context.Context,
	guildID string,
	prefix *string,
) (GuildSettings, error) {
	if prefix != nil {
		trimmed := strings.TrimSpace(*prefix)
		if trimmed == "" {
			prefix = nil
		} else {
			prefix = &trimmed
		}
	}
	return s.setGuildField(ctx, guildID, columnGuildPrefix, prefix)
}

// SetWelcomeChannel sets or clears (nil) the guild's welcome channel.
func (s *Store) SetWelcomeChannel(
	ctx context.Context,
	guildID string,
	channelID *string,
) (GuildSettings, error) {
	return s.setGuildField(ctx, guildID, columnGuildWelcomeChannelID, channelID)
}

// SetModeratorRole sets or clears (nil) the guild's moderator role.
func (s *Store) SetModeratorRole(
	ctx context.Context,
	guildID string,
	roleID *string,
) (GuildSettings, error) {
	return s.setGuildField(ctx, guildID, columnGuildModeratorRoleID, roleID)
}

// SetAdminRole sets or clears (nil) the guild's administrator role.
func (s *Store) SetAdminRole(
	ctx context.Context,
	guildID string,
	roleID *string,
) (GuildSettings, error) {
	return s.setGuildField(ctx, guildID, columnGuildAdminRoleID, roleID)
}

// setGuildField atomically upserts a single guild_settings column,
// creating the row lazily on first write. Only the named column is
// assigned on conflict, so concurrent writers to other fields of the
// same guild are never clobbered.
func (s *Store) setGuildField(
	ctx context.Context,
	guildID string,
	column string,
	value *string,
) (GuildSettings, error) {
	if guildID == "" {
		return GuildSettings{}, fmt.Errorf("%w: empty guild ID", ErrInvalidArgument)
	}

	row := GuildSettings{GuildID: guildID}
	switch column {
	case columnGuildPrefix:
		row.Prefix = value
	case columnGuildWelcomeChannelID:
		row.WelcomeChannelID = value
	case columnGuildModeratorRoleID:
		row.ModeratorRoleID = value
	case columnGuildAdminRoleID:
		row.AdminRoleID = value
	default:
		return GuildSettings{}, fmt.Errorf(
			"%w: unknown settings column %q", ErrInvalidArgument, column,
		)
	}

	updated := GuildSettings{GuildID: guildID}
	err := s.submit(
		ctx, guildKey(guildID), true, func(opCtx context.Context) error {
			rv := s.db.WithContext(opCtx).Clauses(
				clause.OnConflict{
					Columns: []clause.Column{{Name: "guild_id"}},
					DoUpdates: clause.Assignments(
						map[string]any{
							column:       value,
							"updated_at": time.Now().UTC().UnixMilli(),
						},
					),
				},
			).Create(&row)
			if rv.Error != nil {
				return rv.Error
			}
			return s.getGuildSettings(opCtx, guildID, &updated)
		},
	)
	return updated, err
}

// ClearGuildSettings removes all configuration for the guild.
func (s *Store) ClearGuildSettings(ctx context.Context, guildID string) error {
	if guildID == "" {
		return fmt.Errorf("%w: empty guild ID", ErrInvalidArgument)
	}
	return s.submit(
		ctx, guildKey(guildID), true, func(opCtx context.Context) error {
			return s.db.WithContext(opCtx).Where(
				"guild_id = ?", guildID,
			).Delete(&GuildSettings{}).Error
		},
	)
}

// GetMetadata returns the value stored under key, and whether the key
// exists. An absent key is not an error.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, fmt.Errorf("%w: empty metadata key", ErrInvalidArgument)
	}
	var (
		value  string
		exists bool
	)
	err := s.submit(
		ctx, metadataKey(key), false, func(opCtx context.Context) error {
			var record Metadata
			rv := s.db.WithContext(opCtx).Where("key = ?", key).First(&record)
			if rv.Error != nil {
				if errors.Is(rv.Error, gorm.ErrRecordNotFound) {
					return nil
				}
				return rv.Error
			}
			value = record.Value
			exists = true
			return nil
		},
	)
	return value, exists, err
}

// SetMetadata atomically upserts key=value, returning the previous
// value and whether one existed. Repeated writes to the same key
// overwrite in place - no duplicate rows are created.
func (s *Store) SetMetadata(
	ctx context.Context,
	key string,
	value string,
) (previous string, existed bool, err error) {
	if key == "" {
		return "", false, fmt.Errorf("%w: empty metadata key", ErrInvalidArgument)
	}
	err = s.submit(
		ctx, metadataKey(key), true, func(opCtx context.Context) error {
			return s.db.WithContext(opCtx).Transaction(
				func(tx *gorm.DB) error {
					var current Metadata
					rv := tx.Where("key = ?", key).First(&current)
					if rv.Error != nil {
						if !errors.Is(rv.Error, gorm.ErrRecordNotFound) {
							return rv.Error
						}
					} else {
						previous = current.Value
						existed = true
					}
					return tx.Clauses(
						clause.OnConflict{
							Columns: []clause.Column{{Name: "key"}},
							DoUpdates: clause.Assignments(
								map[string]any{
									columnMetadataValue: value,
									"updated_at":        time.Now().UTC().UnixMilli(),
								},
							),
						},
					).Create(&Metadata{Key: key, Value: value}).Error
				},
			)
		},
	)
	return previous, existed, err
}
