package pinarchive

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/go-redis/redis/v8"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/Gibstick/pin-archive-3/pinarchive.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

// PinArchive is the bot. It pins messages once they collect enough
// trigger reactions, and copies pinned messages to each server's archive
// channel.
type PinArchive struct {
	config *Config

	db    *gorm.DB
	store ConfigStore

	// Standard logger. Missing loggers will try to use this,
	// and fall back to slog.Default()
	logger *slog.Logger

	// Handler to use for the above
	logHandler slog.Handler

	// Handles discord integration, sessions
	discord *Discord

	// Optional status/metrics HTTP server
	api *API

	metrics *metrics

	// keeps multiple instances from archiving the same pin
	locker      archiveLocker
	redisClient *redis.Client

	commands CommandRegistry

	// signalStop enables an explicit stop signal to be sent to the bot
	signalStop chan struct{}

	// signalReady has a value sent on it once the database is open, the
	// API is serving and the discord session is connected
	signalReady chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// The time Run was called
	startedAt time.Time

	// getInteractionHandlerFunc returns the InteractionHandler for an
	// incoming interaction. Tests swap it out to capture responses.
	getInteractionHandlerFunc func(
		ctx context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler
}

// New creates a new PinArchive instance from the given configuration.
// Run must be called to open the database and connect to discord.
func New(config *Config) (*PinArchive, error) {
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

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	p := &PinArchive{
		config:      config,
		signalReady: make(chan struct{}, 1),
		signalStop:  make(chan struct{}, 1),
		locker:      noopLocker{},
	}

	p.logHandler = newLogHandler(defaultLogWriter, p.config.LogLevel)
	p.logger = slog.New(p.logHandler)
	slog.SetDefault(p.logger)

	if p.config.Discord == nil {
		return p, errors.Join(append(errs, errors.New("discord config required"))...)
	}
	p.config.Discord.httpClient = p.config.HTTPClient

	disc, err := newDiscord(p.config.Discord)
	if err != nil {
		errs = append(errs, err)
	}

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		newLogHandler(
			defaultLogWriter,
			p.config.Discord.DiscordGoLogLevel,
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	disc.logger = slog.New(
		newLogHandler(defaultLogWriter, p.config.Discord.LogLevel),
	).With(loggerNameKey, "discord")
	p.discord = disc

	p.metrics = newMetrics(disc)
	p.commands = p.newCommandRegistry()

	if config.API != nil && config.API.Enabled {
		api, apiErr := newAPI(p, config.API)
		errs = append(errs, apiErr)
		p.api = api
	}

	return p, errors.Join(errs...)
}

func (p *PinArchive) ValidateConfig() error {
	return structValidator.Struct(p.config)
}

// Commands returns the slash commands the bot handles
func (p *PinArchive) Commands() CommandRegistry {
	return p.commands
}

// RegisterSlashCommands bulk-overwrites the bot's slash commands, globally
// or for the configured guild.
func (p *PinArchive) RegisterSlashCommands(options ...discordgo.RequestOption) (
	[]*discordgo.ApplicationCommand,
	error,
) {
	if p.discord.session == nil {
		session, err := p.discord.newSession()
		if err != nil {
			return nil, err
		}
		p.discord.session = session
	}
	return p.discord.registerCommands(p.commands.ApplicationCommands(), options...)
}

// Stop signals Run to shut down
func (p *PinArchive) Stop() {
	select {
	case p.signalStop <- struct{}{}:
	default:
	}
}

// Run opens the database, starts the API (if enabled), connects to
// discord and handles events until ctx is canceled or Stop is called.
// In-flight event handlers are given ShutdownTimeout to finish.
func (p *PinArchive) Run(ctx context.Context) error {
	// prevents concurrent runs
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if p.signalStop == nil {
		p.signalStop = make(chan struct{}, 1)
	}
	if p.signalReady == nil {
		p.signalReady = make(chan struct{}, 1)
	}

	p.startedAt = time.Now()
	logger := p.logger

	if err := p.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", p.config))

	// every gateway event handler is tracked here, so shutdown can
	// wait on them
	runtimeWG := &sync.WaitGroup{}

	// this is the 'runtime' context, which triggers a graceful shutdown
	// when canceled
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-p.signalStop:
			logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, p.config.StartupTimeout)
	defer startCancel()

	if err := p.initRun(startCtx); err != nil {
		logger.ErrorContext(ctx, "init error", tint.Err(err))
		p.closeResources(ctx)
		return err
	}

	if p.api != nil {
		go func() {
			httpErr := p.api.Serve(ctx)
			if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
				logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
			}
		}()
	}

	if err := p.initDiscordSession(ctx, runtimeWG); err != nil {
		logger.ErrorContext(ctx, "error creating discord session", tint.Err(err))
		p.closeResources(ctx)
		return err
	}

	if err := p.discordInit(startCtx, logger); err != nil {
		_ = p.shutdown(ctx, runtimeWG)
		return err
	}
	startCancel()

	p.signalReady <- struct{}{}
	logger.InfoContext(ctx, "sent ready signal", "startup_duration", time.Since(p.startedAt))

	// block until something cancels the main runtime context - generally
	// from an interrupt, or Stop
	<-ctx.Done()

	return p.shutdown(ctx, runtimeWG)
}

// initRun opens the database and the archive lock
func (p *PinArchive) initRun(ctx context.Context) error {
	p.logger.Debug("initializing DB...")
	if err := p.initDB(ctx); err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	p.logger.Debug("finished initializing DB")

	locker, client, err := newArchiveLocker(ctx, p.config.Redis, p.logger)
	if err != nil {
		return err
	}
	p.locker = locker
	p.redisClient = client
	return nil
}

func (p *PinArchive) initDB(ctx context.Context) error {
	logger := contextLoggerOr(ctx, p.logger)

	handler := newLogHandler(defaultLogWriter, p.config.DatabaseLogLevel)
	gormLogger := newGORMLogger(handler, p.config.DatabaseSlowThreshold)

	db, err := getDB(p.config.DatabaseType, p.config.Database, gormLogger)
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}
	p.db = db

	if p.config.DatabaseType == dbTypeSQLite {
		if err = configureSQLite(ctx, db); err != nil {
			return err
		}
	}

	logger.Debug("migrating database...")
	if err = migrate(ctx, db); err != nil {
		logger.Error("error migrating database", tint.Err(err))
		return fmt.Errorf("error migrating database: %w", err)
	}
	logger.Debug("finished migrating database")

	p.store = NewDatabase(
		db,
		slog.New(handler),
		p.config.DatabaseType == dbTypePostgres,
	)
	return nil
}

// initDiscordSession creates the discord session, if one isn't set
// already, and adds the gateway event handlers. Each event is handled
// on its own goroutine.
func (p *PinArchive) initDiscordSession(ctx context.Context, runtimeWG *sync.WaitGroup) error {
	logger := p.logger.With(loggerNameKey, "discord_session")

	if p.discord.session == nil {
		disc, err := p.discord.newSession()
		if err != nil {
			return fmt.Errorf("error creating discord session: %w", err)
		}
		p.discord.session = disc
	}

	ctx = WithLogger(ctx, logger)

	for _, h := range p.discord.discordgoRemoveHandlerFuncs {
		h()
	}

	p.discord.session.SetIdentify(
		discordgo.Identify{Intents: p.config.Discord.GatewayIntents},
	)

	p.discord.discordgoRemoveHandlerFuncs = []func(){
		p.discord.session.AddHandler(p.discord.handlerConnect()),
		p.discord.session.AddHandler(p.discord.handlerDisconnect()),
		p.discord.session.AddHandler(p.discord.handlerReady()),
		p.discord.session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
				handler := p.getInteractionHandlerFunc(ctx, i)
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					p.handleInteraction(ctx, handler)
				}()
			},
		),
		p.discord.session.AddHandler(
			func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
				ev := newReactionAdd(r)
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					p.handleReactionAdd(ctx, ev)
				}()
			},
		),
		p.discord.session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.MessageCreate) {
				notice, ok := newPinNotice(m)
				if !ok {
					return
				}
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					p.handlePinNotice(ctx, notice)
				}()
			},
		),
	}

	if p.getInteractionHandlerFunc == nil {
		p.getInteractionHandlerFunc = func(
			_ context.Context,
			i *discordgo.InteractionCreate,
		) InteractionHandler {
			return GatewayHandler{
				session:     p.discord.session,
				interaction: i,
				logger: p.logger.With(
					slog.Group("interaction", interactionLogAttrs(*i)...),
				),
			}
		}
	}
	return nil
}

// discordInit opens the discord websocket connection and registers
// commands, if enabled
func (p *PinArchive) discordInit(ctx context.Context, logger *slog.Logger) error {
	logger.InfoContext(ctx, "connecting to discord")
	if err := p.discord.session.Open(); err != nil {
		logger.ErrorContext(ctx, "error connecting to discord!", tint.Err(err))
		return fmt.Errorf("error connecting to discord: %w", err)
	}
	if p.config.Discord.RegisterCommands {
		if _, err := p.discord.registerCommands(
			p.commands.ApplicationCommands(),
			discordgo.WithContext(ctx),
		); err != nil {
			return fmt.Errorf("error registering commands: %w", err)
		}
	}
	return nil
}

// shutdown removes the gateway handlers and closes the session, then
// waits up to ShutdownTimeout for in-flight handlers before closing the
// API, redis and the database.
func (p *PinArchive) shutdown(ctx context.Context, runtimeWG *sync.WaitGroup) error {
	logger := p.logger
	logger.WarnContext(ctx, "shutting down")
	shutdownStart := time.Now()

	for _, h := range p.discord.discordgoRemoveHandlerFuncs {
		h()
	}
	p.discord.discordgoRemoveHandlerFuncs = nil
	if p.discord.session != nil {
		logger.InfoContext(ctx, "closing discord session")
		if err := p.discord.session.Close(); err != nil {
			logger.ErrorContext(ctx, "error closing discord session", tint.Err(err))
		}
	}

	closeCtx, closeCancel := context.WithTimeout(
		context.Background(),
		p.config.ShutdownTimeout,
	)
	defer closeCancel()

	handlersDone := make(chan struct{})
	go func() {
		runtimeWG.Wait()
		close(handlersDone)
	}()

	var shutdownErr error
	select {
	case <-handlersDone:
		logger.InfoContext(
			ctx,
			"finished handling in-flight events",
			"duration", time.Since(shutdownStart),
		)
	case <-closeCtx.Done():
		logger.Warn("event handlers did not stop in time")
		shutdownErr = errors.New("event handlers did not stop in time")
	}

	p.closeResources(closeCtx)
	logger.InfoContext(ctx, "shutdown complete", "shutdown_duration", time.Since(shutdownStart))
	return shutdownErr
}

// closeResources stops the API server and closes the redis and
// database connections
func (p *PinArchive) closeResources(ctx context.Context) {
	g := new(errgroup.Group)
	if p.api != nil && p.api.httpServer != nil {
		g.Go(
			func() error {
				if err := p.api.httpServer.Shutdown(ctx); err != nil {
					_ = p.api.httpServer.Close()
					return fmt.Errorf("error stopping http server: %w", err)
				}
				return nil
			},
		)
	}
	if p.redisClient != nil {
		g.Go(
			func() error {
				return p.redisClient.Close()
			},
		)
	}
	if p.db != nil {
		g.Go(
			func() error {
				sqlDB, err := p.db.DB()
				if err != nil {
					return err
				}
				return sqlDB.Close()
			},
		)
	}
	if err := g.Wait(); err != nil {
		p.logger.ErrorContext(ctx, "error closing resources", tint.Err(err))
	}
}
