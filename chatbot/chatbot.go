package chatbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

var (
	// Overridden at build time via:
	// -ldflags "-X github.com/Steven-Machin/discord-chatbot/chatbot.Version=$$(date +'%Y%m%d')"
	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var structValidator = validator.New()

//nolint:gochecknoinits // gotta register the validators
func init() {
	structValidator.SetTagName("binding")
	structValidator.RegisterCustomTypeFunc(validateStoreConfig, StoreConfig{})
}

// Bot is the main application struct. It owns the database handle,
// the storage engine, the maintenance loop, and the Discord session,
// and wires gateway events to the command handlers.
type Bot struct {
	config     *Config
	db         *gorm.DB
	store      *Store
	discord    *Discord
	logger     *slog.Logger
	logHandler slog.Handler

	commandLimiter *rate.Limiter

	startedAt  time.Time
	runMu      sync.Mutex
	signalStop chan struct{}
}

// New creates a Bot from the given config. The database isn't touched
// until Run.
func New(config *Config) (*Bot, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	b := &Bot{
		config:         config,
		commandLimiter: rate.NewLimiter(rate.Limit(5), 10),
	}

	b.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     b.config.LogLevel,
			AddSource: true,
		},
	)
	b.logger = slog.New(b.logHandler)
	slog.SetDefault(b.logger)

	disc, err := newDiscord(b.config.Discord)
	if err != nil {
		errs = append(errs, err)
	}

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     b.config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	if disc != nil {
		disc.logger = slog.New(
			tint.NewHandler(
				defaultLogWriter, &tint.Options{
					Level:     b.config.Discord.LogLevel,
					AddSource: true,
				},
			),
		).With(loggerNameKey, "discord")
		disc.bot = b
		b.discord = disc
	}

	return b, errors.Join(errs...)
}

// ValidateConfig validates the bot's configuration.
func (b *Bot) ValidateConfig() error {
	return structValidator.Struct(b.config)
}

// Store returns the bot's storage engine. Nil until Run has
// initialized the database.
func (b *Bot) Store() *Store {
	return b.store
}

// Run starts the bot and blocks until ctx is canceled or startup
// fails. On cancellation, the Discord session is closed, the
// maintenance loop stops, and in-flight storage operations drain.
func (b *Bot) Run(ctx context.Context) error {
	// prevents concurrent runs
	b.runMu.Lock()
	defer b.runMu.Unlock()

	b.startedAt = time.Now()
	b.signalStop = make(chan struct{}, 1)
	logger := b.logger

	if err := b.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", b.config))

	// runtime context - canceling it triggers a graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-b.signalStop:
			logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, b.config.StartupTimeout)
	defer startCancel()

	if err := b.initRun(startCtx, ctx); err != nil {
		logger.ErrorContext(ctx, "init error", tint.Err(err))
		return err
	}

	logger.InfoContext(
		ctx,
		"bot started",
		"version", Version,
		"commit", CommitSHA,
		"build_time", BuildTime,
	)

	<-ctx.Done()
	return b.shutdown()
}

// initRun initializes the database, storage engine, maintenance loop
// and Discord connection. startCtx bounds initialization; runCtx is
// the long-lived runtime context the background loops run on.
func (b *Bot) initRun(startCtx context.Context, runCtx context.Context) error {
	db, err := CreateDB(startCtx, b.config.DatabaseType, b.config.Database)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	b.db = db

	b.store = NewStore(
		db,
		b.config.DatabaseType,
		b.config.Store,
		b.logger,
	)
	b.store.Start(runCtx)

	go maintenanceLoop(
		runCtx,
		b.store,
		b.config.Maintenance.Interval,
		b.logger.With(loggerNameKey, "maintenance"),
	)

	session, err := b.discord.newSession()
	if err != nil {
		return err
	}
	b.discord.session = session

	b.discord.discordgoRemoveHandlerFuncs = []func(){
		session.AddHandler(b.discord.handlerReady()),
		session.AddHandler(b.discord.handlerConnect()),
		session.AddHandler(b.discord.handlerDisconnect()),
		session.AddHandler(b.discord.handlerMessageCreate()),
		session.AddHandler(b.discord.handlerGuildMemberAdd()),
	}

	if err = session.Open(); err != nil {
		return fmt.Errorf("error opening discord connection: %w", err)
	}
	return nil
}

// Stop triggers a graceful shutdown from outside Run.
func (b *Bot) Stop() {
	select {
	case b.signalStop <- struct{}{}:
	default:
	}
}

func (b *Bot) shutdown() error {
	b.logger.Info("shutting down", "timeout", b.config.ShutdownTimeout)

	g := new(errgroup.Group)
	g.Go(
		func() error {
			for _, removeHandler := range b.discord.discordgoRemoveHandlerFuncs {
				removeHandler()
			}
			if b.discord.session == nil {
				return nil
			}
			return b.discord.session.Close()
		},
	)
	g.Go(
		func() error {
			b.store.Wait()
			return nil
		},
	)

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			b.logger.Error("error during shutdown", tint.Err(err))
			return err
		}
		b.logger.Info("shutdown complete")
		return nil
	case <-time.After(b.config.ShutdownTimeout):
		return errors.New("shutdown timed out")
	}
}
