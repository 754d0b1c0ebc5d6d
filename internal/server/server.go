// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
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

	"github.com/ghostspeak/ghostspeak/internal/auction"
	"github.com/ghostspeak/ghostspeak/internal/auth"
	"github.com/ghostspeak/ghostspeak/internal/config"
	"github.com/ghostspeak/ghostspeak/internal/dispute"
	"github.com/ghostspeak/ghostspeak/internal/escrow"
	"github.com/ghostspeak/ghostspeak/internal/events"
	"github.com/ghostspeak/ghostspeak/internal/guard"
	"github.com/ghostspeak/ghostspeak/internal/health"
	"github.com/ghostspeak/ghostspeak/internal/ledger"
	"github.com/ghostspeak/ghostspeak/internal/logging"
	"github.com/ghostspeak/ghostspeak/internal/metrics"
	"github.com/ghostspeak/ghostspeak/internal/payments"
	"github.com/ghostspeak/ghostspeak/internal/ratelimit"
	"github.com/ghostspeak/ghostspeak/internal/realtime"
	"github.com/ghostspeak/ghostspeak/internal/reputation"
	"github.com/ghostspeak/ghostspeak/internal/security"
	"github.com/ghostspeak/ghostspeak/internal/traces"
	"github.com/ghostspeak/ghostspeak/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg               *config.Config
	authMgr           *auth.Manager
	ledger            *ledger.Ledger
	escrowService     *escrow.Service
	escrowTimer       *escrow.Timer
	disputeService    *dispute.Service
	auctionService    *auction.Service
	reputationService *reputation.Service
	reputationWorker  *reputation.Worker
	snapshotStore     reputation.SnapshotStore
	paymentsService   *payments.Service
	realtimeHub       *realtime.Hub
	emitter           *events.Emitter
	rateLimiter       *ratelimit.Limiter
	health            *health.Registry
	db                *sql.DB // nil if using in-memory
	router            *gin.Engine
	httpSrv           *http.Server
	logger            *slog.Logger
	cancelRunCtx      context.CancelFunc // cancels background goroutines started in Run
	traceShutdown     func(context.Context) error

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

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
		health: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	// Realtime hub and event emitter (services publish through the emitter)
	s.realtimeHub = realtime.NewHub(s.logger)
	s.emitter = events.NewEmitter(s.realtimeHub, s.logger)

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		ledgerStore   ledger.Store
		escrowStore   escrow.Store
		disputeStore  dispute.Store
		auctionStore  auction.Store
		repStore      reputation.Store
		snapshotStore reputation.SnapshotStore
		authStore     auth.Store
	)

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		pgAuth := auth.NewPostgresStore(db)
		pgLedger := ledger.NewPostgresStore(db)
		pgEscrow := escrow.NewPostgresStore(db)
		pgDispute := dispute.NewPostgresStore(db)
		pgAuction := auction.NewPostgresStore(db)
		pgRep := reputation.NewPostgresStore(db)
		pgSnapshots := reputation.NewPostgresSnapshotStore(db)

		migrations := []struct {
			name string
			m    interface {
				Migrate(context.Context) error
			}
		}{
			{"auth", pgAuth},
			{"ledger", pgLedger},
			{"escrow", pgEscrow},
			{"dispute", pgDispute},
			{"auction", pgAuction},
			{"reputation", pgRep},
			{"reputation snapshots", pgSnapshots},
		}
		for _, mig := range migrations {
			if err := mig.m.Migrate(ctx); err != nil {
				s.logger.Warn("failed to migrate store", "store", mig.name, "error", err)
			}
		}

		authStore = pgAuth
		ledgerStore = pgLedger
		escrowStore = pgEscrow
		disputeStore = pgDispute
		auctionStore = pgAuction
		repStore = pgRep
		snapshotStore = pgSnapshots

		s.health.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")
		authStore = auth.NewMemoryStore()
		ledgerStore = ledger.NewMemoryStore()
		escrowStore = escrow.NewMemoryStore()
		disputeStore = dispute.NewMemoryStore()
		auctionStore = auction.NewMemoryStore()
		repStore = reputation.NewMemoryStore()
		snapshotStore = reputation.NewMemorySnapshotStore()
	}

	// API keys and agent registration
	s.authMgr = auth.NewManager(authStore, s.emitter, s.logger)
	s.logger.Info("API authentication enabled")

	// Balance ledger (platform fees accrue to the treasury)
	s.ledger = ledger.New(ledgerStore, cfg.TreasuryAddress)
	s.logger.Info("agent balance tracking enabled", "treasury", cfg.TreasuryAddress)

	// Reputation scoring
	s.reputationService = reputation.NewService(repStore, s.logger)
	s.reputationWorker = reputation.NewWorker(repStore, snapshotStore, time.Hour, s.logger)
	s.snapshotStore = snapshotStore

	// Escrow state machine with per-escrow reentrancy guards
	guards := guard.NewRegistry()
	s.escrowService = escrow.NewService(escrowStore, s.ledger, guards, cfg.PlatformFeeBps, s.emitter, s.logger).
		WithReputationRecorder(s.reputationService)
	s.escrowTimer = escrow.NewTimer(s.escrowService, escrowStore, s.logger)
	s.logger.Info("escrow enabled", "fee_bps", cfg.PlatformFeeBps)

	// Dispute resolution, settled through the escrow service
	s.disputeService = dispute.NewService(disputeStore, cfg.Arbitrators, s.emitter, s.logger)
	s.disputeService.SetSettler(s.escrowService)
	s.escrowService.WithDisputeFiler(&disputeFilerAdapter{s.disputeService, s.logger})
	s.logger.Info("dispute resolution enabled", "arbitrators", len(cfg.Arbitrators))

	// Commit-reveal bidding
	s.auctionService = auction.NewService(auctionStore, s.emitter, s.logger).
		WithRevealWindow(
			time.Duration(cfg.MinRevealDelaySeconds)*time.Second,
			time.Duration(cfg.MaxRevealDelaySeconds)*time.Second,
		)
	s.logger.Info("sealed-bid auctions enabled",
		"min_reveal_s", cfg.MinRevealDelaySeconds,
		"max_reveal_s", cfg.MaxRevealDelaySeconds,
	)

	// x402 payment recording feeds reputation
	s.paymentsService = payments.NewService(s.reputationService, s.emitter, s.logger)

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
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
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins in development - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Per-instruction rate limiting (applied on specific routes below)
	s.rateLimiter = ratelimit.New(ratelimit.DefaultLimits)

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
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
			logger.Info("request completed",
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
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :address URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.AddressParamMiddleware())

	// WebSocket for real-time event streaming
	v1.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	authHandler := auth.NewHandler(s.authMgr)

	// REGISTRATION (public but returns API key)
	v1.POST("/agents", s.rateLimiter.Middleware("registration"), authHandler.Register)
	v1.GET("/agents/:address", authHandler.GetAgent)
	v1.GET("/auth/info", authHandler.Info)
	v1.GET("/platform", s.platformHandler)

	// All remaining routes resolve the API key when present; handlers that
	// mutate state check the authenticated agent themselves.
	authed := v1.Group("")
	authed.Use(auth.Middleware(s.authMgr))

	// API key management (must hold a valid key)
	keys := authed.Group("", auth.RequireAuth())
	{
		keys.GET("/auth/keys", authHandler.ListKeys)
		keys.POST("/auth/keys", authHandler.CreateKey)
		keys.DELETE("/auth/keys/:keyId", authHandler.RevokeKey)
		keys.GET("/auth/me", authHandler.GetCurrentAgent)
	}

	// Ledger routes (agent balances and history)
	ledgerHandler := ledger.NewHandler(s.ledger, s.logger)
	ledgerHandler.RegisterRoutes(authed)

	// Escrow routes
	escrowHandler := escrow.NewHandler(s.escrowService)
	escrowHandler.RegisterRoutes(v1)
	protectedEscrow := authed.Group("", auth.RequireAuth(),
		limitRoute(s.rateLimiter, "escrow_create", http.MethodPost, "/v1/escrows"))
	escrowHandler.RegisterProtectedRoutes(protectedEscrow)

	// Dispute routes (arbitrator checks happen in the service)
	disputeHandler := dispute.NewHandler(s.disputeService)
	disputeHandler.RegisterRoutes(authed)

	// Sealed-bid auction routes
	auctionHandler := auction.NewHandler(s.auctionService)
	auctionHandler.RegisterRoutes(authed)

	// Reputation routes
	reputationHandler := reputation.NewHandlerWithHistory(s.reputationService, s.snapshotStore)
	reputationHandler.RegisterRoutes(v1)
	authed.POST("/ratings", auth.RequireAuth(), s.rateLimiter.Middleware("rating"), reputationHandler.SubmitRating)

	// x402 payment recording
	paymentsHandler := payments.NewHandler(s.paymentsService)
	protectedPayments := authed.Group("", auth.RequireAuth(), s.rateLimiter.Middleware("payment"))
	paymentsHandler.RegisterProtectedRoutes(protectedPayments)
}

// limitRoute applies an instruction quota only to one method+route pair.
func limitRoute(l *ratelimit.Limiter, instruction, method, path string) gin.HandlerFunc {
	mw := l.Middleware(instruction)
	return func(c *gin.Context) {
		if c.Request.Method == method && c.FullPath() == path {
			mw(c)
			return
		}
		c.Next()
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, checks := s.health.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   "0.1.0",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
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
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "GhostSpeak",
		"description": "Commerce infrastructure for AI agents",
		"version":     "0.1.0",
		"currency":    s.cfg.TokenMint,
	})
}

// platformHandler returns platform info for onboarding agents
func (s *Server) platformHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"platform": gin.H{
			"name":     "GhostSpeak",
			"version":  "0.1.0",
			"currency": s.cfg.TokenMint,
			"feeBps":   s.cfg.PlatformFeeBps,
		},
		"instructions": gin.H{
			"register": "POST /v1/agents with your base58 address. Store the returned API key.",
			"escrow":   "POST /v1/escrows, then /fund, /submit, /approve to settle a job.",
			"bid":      "POST /v1/auctions/{id}/bids with a SHA-256 commitment, reveal after 60s.",
		},
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Traces (no-op when no OTLP endpoint configured)
	shutdown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.traceShutdown = shutdown
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start escrow expiry timer
	go s.escrowTimer.Start(runCtx)

	// Start reputation snapshot worker
	go s.reputationWorker.Start(runCtx)

	// DB pool stats for Prometheus
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
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

	// Cancel the context for all background goroutines (hub, timer, worker)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.escrowTimer != nil {
		s.escrowTimer.Stop()
		s.logger.Info("escrow timer stopped")
	}

	if s.reputationWorker != nil {
		s.reputationWorker.Stop()
		s.logger.Info("reputation worker stopped")
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.traceShutdown != nil {
		if err := s.traceShutdown(ctx); err != nil {
			s.logger.Error("trace exporter shutdown error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// disputeFilerAdapter adapts dispute.Service to escrow.DisputeFiler
type disputeFilerAdapter struct {
	d      *dispute.Service
	logger *slog.Logger
}

func (a *disputeFilerAdapter) File(ctx context.Context, escrowID, initiator, respondent, reason, evidenceURI string) (string, error) {
	dsp, err := a.d.File(ctx, escrowID, initiator, respondent, reason)
	if err != nil {
		return "", err
	}
	if evidenceURI != "" {
		if _, err := a.d.SubmitEvidence(ctx, dsp.ID, initiator, evidenceURI, "filed with dispute"); err != nil {
			a.logger.Warn("failed to attach initial evidence", "dispute", dsp.ID, "error", err)
		}
	}
	return dsp.ID, nil
}
