package pinarchive

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"
)

const (
	apiPrefix             = "/api"
	apiHealthCheck        = "/healthz"
	apiMetrics            = "/metrics"
	apiPathGuilds         = "/guilds"
	apiPathGuild          = "/guilds/:guild_id"
	apiPathGuildArchives  = "/guilds/:guild_id/archives"
	defaultArchivesLimit  = 25
	discordEpochMilli     = 1420070400000
	pprofPrefix           = "/debug"
	requestIDLength       = 32
	snowflakeValidatorTag = "snowflake"
)

const xRequestIDHeader = "X-Request-ID"

// API serves health, prometheus metrics and read-only views of the
// stored guild configs and archive log.
type API struct {
	config     *APIConfig    // Configuration for the API server
	httpServer *http.Server  // The underlying HTTP server
	listener   net.Listener  // Network listener for the HTTP server
	engine     *gin.Engine   // Gin engine for routing HTTP requests
	limiter    *rate.Limiter // nil when requests aren't limited
	logger     *slog.Logger
	p          *PinArchive
}

func newAPI(p *PinArchive, config *APIConfig) (*API, error) {
	if config == nil {
		return nil, errors.New("api config required")
	}
	logger := slog.New(newLogHandler(defaultLogWriter, config.LogLevel)).With(loggerNameKey, "api")

	r := gin.New()
	api := &API{
		config: config,
		engine: r,
		logger: logger,
		p:      p,
	}
	if config.RequestsPerSecond > 0 {
		burst := int(config.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		api.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}

	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	r.Use(
		gin.Recovery(),
		requestIDMiddleware(),
		ginLoggingMiddleware(logger),
		rateLimitMiddleware(api.limiter),
		cors.New(config.CORS.GINConfig()),
	)

	r.GET(apiHealthCheck, api.healthCheck)
	r.GET(
		apiMetrics,
		gin.WrapH(
			promhttp.HandlerFor(
				p.metrics.registry,
				promhttp.HandlerOpts{Registry: p.metrics.registry},
			),
		),
	)

	if config.Pprof {
		ginPprof.Register(r, pprofPrefix)
	}

	g := r.Group(apiPrefix)
	g.GET(apiPathGuilds, api.getGuilds)
	g.GET(apiPathGuild, api.getGuild)
	g.GET(apiPathGuildArchives, api.getGuildArchives)

	return api, nil
}

// Serve listens on the configured address and serves until the server
// is shut down
func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		network := a.config.ListenNetwork
		if network == "" {
			network = defaultListenNetwork
		}
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, network, a.config.Listen)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
		}
		a.listener = ln
	}
	a.logger.InfoContext(ctx, "serving api", "addr", a.listener.Addr().String())
	return a.httpServer.Serve(a.listener)
}

type healthCheckResponse struct {
	Version                 string `json:"version"`
	Uptime                  string `json:"uptime"`
	DatabaseReady           bool   `json:"database_ready"`
	DiscordGatewayConnected bool   `json:"discord_gateway_connected"`
}

type httpError struct {
	Error string `json:"error"`
}

type guildURI struct {
	GuildID string `uri:"guild_id" binding:"required,snowflake"`
}

type archivesQuery struct {
	Limit *int `form:"limit" binding:"omitnil,min=1,max=100"`
}

type guildResponse struct {
	Config   *GuildConfig      `json:"config"`
	Archives []ArchivedMessage `json:"recent_archives"`
}

func (a *API) healthCheck(c *gin.Context) {
	var uptime time.Duration
	if !a.p.startedAt.IsZero() {
		uptime = time.Since(a.p.startedAt).Round(time.Second)
	}
	c.JSON(
		http.StatusOK,
		healthCheckResponse{
			Version:                 Version,
			Uptime:                  uptime.String(),
			DatabaseReady:           a.p.store != nil,
			DiscordGatewayConnected: a.p.discord.connected.Load(),
		},
	)
}

// store returns the config store, or aborts the request if the
// database isn't open yet
func (a *API) store(c *gin.Context) (ConfigStore, bool) {
	if a.p.store == nil {
		c.AbortWithStatusJSON(
			http.StatusServiceUnavailable,
			httpError{Error: "database not ready"},
		)
		return nil, false
	}
	return a.p.store, true
}

func (a *API) getGuilds(c *gin.Context) {
	store, ok := a.store(c)
	if !ok {
		return
	}
	configs, err := store.GuildConfigs(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: "error listing guilds"})
		return
	}
	c.JSON(http.StatusOK, configs)
}

func (a *API) getGuild(c *gin.Context) {
	var uri guildURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	store, ok := a.store(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	rv := guildResponse{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(
		func() error {
			cfg, err := store.GuildConfig(gctx, uri.GuildID)
			rv.Config = cfg
			return err
		},
	)
	g.Go(
		func() error {
			archives, err := store.Archives(gctx, uri.GuildID, defaultArchivesLimit)
			rv.Archives = archives
			return err
		},
	)
	if err := g.Wait(); err != nil {
		if errors.Is(err, ErrGuildNotInitialized) {
			c.AbortWithStatusJSON(http.StatusNotFound, httpError{Error: err.Error()})
			return
		}
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: "error getting guild"})
		return
	}
	c.JSON(http.StatusOK, rv)
}

func (a *API) getGuildArchives(c *gin.Context) {
	var uri guildURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	var query archivesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	limit := defaultArchivesLimit
	if query.Limit != nil {
		limit = *query.Limit
	}
	store, ok := a.store(c)
	if !ok {
		return
	}

	archives, err := store.Archives(c.Request.Context(), uri.GuildID, limit)
	if err != nil {
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: "error listing archives"})
		return
	}
	c.JSON(http.StatusOK, archives)
}

// requestIDMiddleware assigns a random request ID to each request,
// returned in the X-Request-ID header
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := generateRandomHexString(requestIDLength)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the request's logger, creating it with the
// request details on first use
func ginContextLogger(c *gin.Context, base *slog.Logger) *slog.Logger {
	if logger, ok := c.Get(string(loggerContextKey)); ok {
		if requestLogger, isLogger := logger.(*slog.Logger); isLogger {
			return requestLogger
		}
	}
	if base == nil {
		base = slog.Default()
	}
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		path = path + "?" + raw
	}

	requestLogger := base.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs each request once it's finished, with any
// errors attached to the gin context
func ginLoggingMiddleware(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestLogger := ginContextLogger(c, base)
		c.Next()
		latency := time.Since(start)

		response := slog.Group(
			"response",
			"status_code", c.Writer.Status(),
			"body_size", c.Writer.Size(),
		)
		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf("%s %s finished with errors", c.Request.Method, c.Request.URL),
				"duration", latency,
				"errors", errs.Errors(),
				response,
			)
			return
		}
		requestLogger.Info(
			fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
			"duration", latency,
			response,
		)
	}
}

// rateLimitMiddleware rejects requests beyond the limiter's rate with
// 429. A nil limiter allows everything.
func rateLimitMiddleware(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter != nil && !limiter.Allow() {
			c.AbortWithStatusJSON(
				http.StatusTooManyRequests,
				httpError{Error: "too many requests"},
			)
			return
		}
		c.Next()
	}
}

func generateRandomHexString(length int) (string, error) {
	if length%2 != 0 {
		length++
	}
	b := make([]byte, length/2)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// validSnowflake reports whether s is a discord ID: numeric, and not
// before the discord epoch
func validSnowflake(s string) bool {
	if s == "" {
		return false
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return false
	}
	return n >= discordEpochMilli
}

//nolint:gochecknoinits // gotta register the validators
func init() {
	snowflake := func(fl validator.FieldLevel) bool {
		return validSnowflake(fl.Field().String())
	}
	_ = structValidator.RegisterValidation(snowflakeValidatorTag, snowflake)
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation(snowflakeValidatorTag, snowflake)
	}
}
