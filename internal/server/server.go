// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/paykrypt/paykrypt/internal/config"
	"github.com/paykrypt/paykrypt/internal/dashboard"
	"github.com/paykrypt/paykrypt/internal/health"
	"github.com/paykrypt/paykrypt/internal/idgen"
	"github.com/paykrypt/paykrypt/internal/logging"
	"github.com/paykrypt/paykrypt/internal/metrics"
	"github.com/paykrypt/paykrypt/internal/ratelimit"
	"github.com/paykrypt/paykrypt/internal/realtime"
	"github.com/paykrypt/paykrypt/internal/reputation"
	"github.com/paykrypt/paykrypt/internal/risk"
	"github.com/paykrypt/paykrypt/internal/security"
	"github.com/paykrypt/paykrypt/internal/traces"
	"github.com/paykrypt/paykrypt/internal/transactions"
	"github.com/paykrypt/paykrypt/internal/validation"
)

// Version is reported by the health and info endpoints.
const Version = "0.3.0"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	db           *sql.DB                   // nil if using in-memory
	cache        *transactions.RedisCache  // nil without REDIS_URL
	txStore      transactions.Store
	assessments  risk.Store
	snapshots    reputation.SnapshotStore
	engine       *risk.Engine
	realtimeHub  *realtime.Hub
	repProvider  reputation.MetricsProvider
	repWorker    *reputation.Worker
	rateLimiter  *ratelimit.Limiter
	health       *health.Registry
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	stopTracing  func(context.Context) error
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run
	drainDelay   time.Duration

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithTransactionStore replaces the configured transaction store (for testing)
func WithTransactionStore(store transactions.Store) Option {
	return func(s *Server) {
		s.txStore = store
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		health:     health.NewRegistry(),
		drainDelay: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	if err := s.setupStorage(ctx); err != nil {
		return nil, err
	}
	if err := s.setupHistoryCache(ctx); err != nil {
		return nil, err
	}
	if err := s.seedFixtures(ctx); err != nil {
		return nil, err
	}

	stopTracing, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	s.stopTracing = stopTracing

	// Realtime hub for assessment streaming
	s.realtimeHub = realtime.NewHub(s.logger, cfg.AllowedOrigins...)

	s.engine = risk.NewEngine(s.assessments).
		WithHistorySource(s.txStore).
		WithEvents(s.realtimeHub)

	s.repProvider = reputation.NewTransactionProvider(s.txStore)
	if cfg.ReputationSnapshotInterval > 0 {
		s.repWorker = reputation.NewWorker(s.repProvider, s.snapshots, cfg.ReputationSnapshotInterval, s.logger)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// setupStorage uses Postgres if DATABASE_URL is set, otherwise in-memory stores.
func (s *Server) setupStorage(ctx context.Context) error {
	if s.cfg.DatabaseURL == "" {
		if s.txStore == nil {
			s.txStore = transactions.NewMemoryStore()
		}
		s.assessments = risk.NewMemoryStore()
		s.snapshots = reputation.NewMemorySnapshotStore()
		s.logger.Info("using in-memory storage (data will not persist)")
		return nil
	}

	db, err := sql.Open("postgres", s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	s.db = db
	s.health.Register("database", health.Ping("database", db.PingContext))
	s.logger.Info("using PostgreSQL storage", "url", maskDSN(s.cfg.DatabaseURL))

	txStore := transactions.NewPostgresStore(db)
	if err := txStore.Migrate(ctx); err != nil {
		s.logger.Warn("failed to migrate transaction store", "error", err)
	}
	if s.txStore == nil {
		s.txStore = txStore
	}

	assessments := risk.NewPostgresStore(db)
	if err := assessments.Migrate(ctx); err != nil {
		s.logger.Warn("failed to migrate assessment store", "error", err)
	}
	s.assessments = assessments

	snapshots := reputation.NewPostgresSnapshotStore(db)
	if err := snapshots.Migrate(ctx); err != nil {
		s.logger.Warn("failed to migrate reputation snapshot store", "error", err)
	}
	s.snapshots = snapshots

	return nil
}

// setupHistoryCache puts a Redis cache in front of history lookups when REDIS_URL is set.
func (s *Server) setupHistoryCache(ctx context.Context) error {
	if s.cfg.RedisURL == "" || s.cfg.HistoryCacheTTL == 0 {
		return nil
	}

	cache, err := transactions.NewRedisCache(s.cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to configure history cache: %w", err)
	}
	if err := cache.Ping(ctx); err != nil {
		// The cache degrades to the store on every error, so keep going.
		s.logger.Warn("history cache unreachable at startup", "error", err)
	}

	s.cache = cache
	s.txStore = transactions.NewCachedStore(s.txStore, cache, s.cfg.HistoryCacheTTL, s.logger)
	s.health.Register("history_cache", health.Ping("history_cache", cache.Ping))
	s.logger.Info("history cache enabled", "url", maskDSN(s.cfg.RedisURL), "ttl", s.cfg.HistoryCacheTTL)
	return nil
}

func (s *Server) seedFixtures(ctx context.Context) error {
	if !s.cfg.SeedFixtures {
		return nil
	}

	var (
		fixtures []transactions.Fixture
		err      error
	)
	if s.cfg.FixturesFile != "" {
		fixtures, err = transactions.LoadFixtures(s.cfg.FixturesFile)
	} else {
		fixtures, err = transactions.SampleFixtures()
	}
	if err != nil {
		return fmt.Errorf("failed to load fixtures: %w", err)
	}

	n, err := transactions.Seed(ctx, s.txStore, fixtures, time.Now())
	if err != nil {
		return fmt.Errorf("failed to seed transactions: %w", err)
	}
	if n > 0 {
		s.logger.Info("seeded sample transactions", "count", n)
	}
	return nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.AllowedOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	rlCfg := ratelimit.DefaultConfig()
	rlCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	rlCfg.BurstSize = s.cfg.RateLimitBurst
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Keep an upstream request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = idgen.New()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Debug("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health and metrics
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	s.router.GET("/", s.infoHandler)

	// Realtime assessment stream
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})
	s.router.GET("/ws/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.realtimeHub.Stats())
	})

	v1 := s.router.Group("/v1")

	risk.NewHandler(s.engine).RegisterRoutes(v1)
	transactions.NewHandler(s.txStore, s.engine).RegisterRoutes(v1)
	reputation.NewHandler(s.repProvider, s.snapshots).RegisterRoutes(v1)
	dashboard.NewHandler(s.txStore, s.assessments).RegisterRoutes(v1)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, checks := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	if healthy, checks := s.health.CheckAll(c.Request.Context()); !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	storage := "memory"
	if s.db != nil {
		storage = "postgres"
	}
	c.JSON(http.StatusOK, gin.H{
		"name":         "PayKrypt",
		"description":  "Transaction risk assessment service",
		"version":      Version,
		"storage":      storage,
		"historyCache": s.cache != nil,
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the server and blocks until shutdown
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)

	if s.repWorker != nil {
		go s.repWorker.Start(runCtx)
	}

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		cancel()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Stop hub, worker, and collectors
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var shutdownErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	if s.repWorker != nil {
		s.repWorker.Stop()
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.stopTracing != nil {
		if err := s.stopTracing(ctx); err != nil {
			s.logger.Warn("failed to flush traces", "error", err)
		}
	}

	if s.cache != nil {
		_ = s.cache.Close()
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("failed to close database", "error", err)
		}
	}

	s.healthy.Store(false)
	s.logger.Info("shutdown complete")
	return shutdownErr
}

// Router returns the gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}
