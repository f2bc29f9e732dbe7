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
	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/fintrustlab/txgate/internal/audit"
	"github.com/fintrustlab/txgate/internal/config"
	"github.com/fintrustlab/txgate/internal/health"
	"github.com/fintrustlab/txgate/internal/identity"
	"github.com/fintrustlab/txgate/internal/logging"
	"github.com/fintrustlab/txgate/internal/metrics"
	"github.com/fintrustlab/txgate/internal/ratelimit"
	"github.com/fintrustlab/txgate/internal/risk"
	"github.com/fintrustlab/txgate/internal/security"
	"github.com/fintrustlab/txgate/internal/token"
	"github.com/fintrustlab/txgate/internal/transaction"
	"github.com/fintrustlab/txgate/internal/validation"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	identities   *identity.Service
	stepup       *identity.StepUp
	transactions *transaction.Service
	ledger       *audit.Ledger
	issuer       *token.Issuer
	authLimiter  *ratelimit.Limiter
	txLimiter    *ratelimit.Limiter
	checks       *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger

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
		checks: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	var (
		identityStore identity.Store
		txStore       transaction.Store
		auditStore    audit.Store
	)

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		identityStore = identity.NewPostgresStore(db)
		txStore = transaction.NewPostgresStore(db)
		auditStore = audit.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		s.checks.Register("database", func(ctx context.Context) error {
			return db.PingContext(ctx)
		})
	} else {
		identityStore = identity.NewMemoryStore()
		txStore = transaction.NewMemoryStore()
		auditStore = audit.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")

		s.checks.Register("database", func(context.Context) error { return nil })
	}

	s.ledger = audit.NewLedger(auditStore, s.logger)

	s.identities = identity.NewService(identityStore, s.ledger, identity.LockoutPolicy{
		MaxAttempts: cfg.MaxLoginAttempts,
		LockFor:     cfg.LockoutDuration,
	}, s.logger)

	s.stepup = identity.NewStepUp(identityStore, s.ledger, cfg.TOTPIssuer, s.logger)

	s.transactions = transaction.NewService(txStore, risk.NewEngine(), s.ledger, transaction.Thresholds{
		StepUp:   cfg.StepUpThreshold,
		Approval: cfg.ApprovalThreshold,
	}, s.logger)

	s.issuer = token.NewIssuer([]byte(cfg.JWTSecret), cfg.PartialTTL, cfg.FullTTL)

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

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())

	// Rate limits are applied per route group: a tight one for credential
	// endpoints, a looser one for transaction traffic.
	s.authLimiter = ratelimit.New(ratelimit.AuthConfig(s.cfg.AuthRateLimit))
	s.txLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.TransactionRateLimit,
		BurstSize:         10,
		CleanupInterval:   time.Minute,
	})
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		ctx = audit.WithRequestInfo(ctx, c.ClientIP(), c.Request.UserAgent())
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

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info
	s.router.GET("/", s.infoHandler)

	api := s.router.Group("/api")

	// Authentication endpoints. Login and step-up verification sit behind
	// the tight limiter since each request is a guessing opportunity.
	auth := api.Group("/auth")
	auth.POST("/register", s.registerHandler)
	auth.POST("/login", s.authLimiter.Middleware(), s.loginHandler)
	auth.POST("/setup-2fa", s.authenticate(), s.setupStepUpHandler)
	auth.POST("/enable-2fa", s.authenticate(), s.enableStepUpHandler)
	auth.POST("/verify-2fa", s.authLimiter.Middleware(), s.authenticate(), s.verifyStepUpHandler)
	auth.POST("/disable-2fa", s.authenticate(), s.disableStepUpHandler)

	// Transaction endpoints
	tx := api.Group("/transactions")
	tx.Use(s.authenticate())
	tx.POST("", s.txLimiter.Middleware(), s.createTransactionHandler)
	tx.GET("/my-transactions", s.listMyTransactionsHandler)
	tx.GET("/pending/approvals", s.requireApprover(), s.listPendingApprovalsHandler)
	tx.PATCH("/:transactionId/approve", s.requireApprover(), s.approveTransactionHandler)
	tx.PATCH("/:transactionId/reject", s.requireApprover(), s.rejectTransactionHandler)
	tx.GET("/:transactionId", s.getTransactionHandler)

	// Audit endpoints (admin only)
	auditGroup := api.Group("/audit")
	auditGroup.Use(s.authenticate(), s.requireAdmin())
	auditGroup.GET("/logs", s.listAuditLogsHandler)
	auditGroup.GET("/user-activity/:userId", s.userActivityHandler)
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	report := s.checks.Run(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !report.Healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"success":   report.Healthy,
		"status":    status,
		"checks":    report.Checks,
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
		"name":        "txgate",
		"description": "Transaction authorization with step-up authentication and risk-based approval routing",
		"version":     "0.1.0",
		"endpoints": gin.H{
			"POST /api/auth/register":                 "Register a new user",
			"POST /api/auth/login":                    "Log in, returns a bearer token",
			"POST /api/auth/setup-2fa":                "Begin step-up enrollment",
			"POST /api/auth/enable-2fa":               "Confirm step-up enrollment with a code",
			"POST /api/auth/verify-2fa":               "Verify a code, returns an elevated token",
			"POST /api/auth/disable-2fa":              "Disable step-up authentication",
			"POST /api/transactions":                  "Create a transaction",
			"GET /api/transactions/my-transactions":   "List your transactions",
			"GET /api/transactions/:id":               "Fetch a transaction",
			"GET /api/transactions/pending/approvals": "List transactions awaiting approval",
			"PATCH /api/transactions/:id/approve":     "Approve a pending transaction",
			"PATCH /api/transactions/:id/reject":      "Reject a pending transaction",
			"GET /api/audit/logs":                     "Query the audit ledger",
			"GET /api/audit/user-activity/:userId":    "List a user's audit activity",
			"GET /health":                             "Server health check",
		},
	})
}

// Run starts the HTTP server and blocks until shutdown
func (s *Server) Run(ctx context.Context) error {
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

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.authLimiter != nil {
		s.authLimiter.Stop()
	}
	if s.txLimiter != nil {
		s.txLimiter.Stop()
	}

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
