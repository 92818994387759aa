// Package server wires the HTTP API together.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/audit"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/chain"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/config"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/custody"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/escrow"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/identity"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/idgen"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/interaction"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/logging"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/metrics"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/ratelimit"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/realtime"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/reputation"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/security"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/trust"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and all platform services.
type Server struct {
	cfg      *config.Config
	gateway  chain.Gateway
	custody  *custody.Registry
	resolver *identity.Resolver

	boosts           *reputation.BoostLedger
	engine           *trust.Engine
	escrowStore      *escrow.MemoryStore
	escrowMgr        *escrow.Manager
	interactionStore *interaction.MemoryStore
	interactionMgr   *interaction.Manager
	feedback         *reputation.Service

	emitter     *audit.Emitter
	realtimeHub *realtime.Hub
	rateLimiter *ratelimit.Limiter

	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGateway injects a ledger gateway (for testing).
func WithGateway(g chain.Gateway) Option {
	return func(s *Server) {
		s.gateway = g
	}
}

// New creates a server instance with all services wired.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	for _, opt := range opts {
		opt(s)
	}

	operatorKey, err := chain.ParseKey(cfg.OperatorKey)
	if err != nil {
		return nil, fmt.Errorf("parse operator key: %w", err)
	}

	if s.gateway == nil {
		g, err := chain.New(chain.Config{
			RPCURL:             cfg.RPCURL,
			ChainID:            cfg.ChainID,
			IdentityContract:   cfg.IdentityContract,
			EscrowContract:     cfg.EscrowContract,
			ReputationContract: cfg.ReputationContract,
		})
		if err != nil {
			return nil, fmt.Errorf("create ledger gateway: %w", err)
		}
		s.gateway = g
	}

	// Custody keys for permissionless agents, seeded from config.
	s.custody = custody.NewRegistry()
	loaded, loadErrs := s.custody.Load(cfg.CustodyKeys)
	for _, lerr := range loadErrs {
		s.logger.Warn("skipping custody key", "error", lerr)
	}
	if loaded > 0 {
		s.logger.Info("custody keys loaded", "count", loaded)
	}

	s.resolver = identity.NewResolver(s.gateway, s.custody, operatorKey)

	// Audit pipeline. Events always stream to WebSocket subscribers; an
	// external sink is added when configured and safe to post to.
	s.realtimeHub = realtime.NewHub(s.logger)
	sinks := audit.MultiSink{s.realtimeHub}
	if cfg.AuditSinkURL != "" {
		if err := security.ValidateEndpointURL(cfg.AuditSinkURL); err != nil {
			s.logger.Warn("audit sink URL rejected, falling back to log sink",
				"url", cfg.AuditSinkURL, "error", err)
			sinks = append(sinks, audit.NewLogSink(s.logger))
		} else {
			sinks = append(sinks, audit.NewHTTPSink(cfg.AuditSinkURL))
			s.logger.Info("audit sink configured", "url", cfg.AuditSinkURL)
		}
	} else {
		sinks = append(sinks, audit.NewLogSink(s.logger))
	}
	s.emitter = audit.NewEmitter(sinks, 1024, s.logger)

	// Trust engine fed by the official registry, local interaction history,
	// escrow outcomes, and the boost ledger.
	s.boosts = reputation.NewBoostLedger()
	s.escrowStore = escrow.NewMemoryStore()
	s.interactionStore = interaction.NewMemoryStore()
	s.engine = trust.NewEngine(
		trust.Weights{
			Custom:            cfg.TrustWeightCustom,
			Official:          cfg.TrustWeightOfficial,
			TxSuccess:         cfg.TrustWeightTx,
			PaymentCompletion: cfg.TrustWeightPayment,
		},
		float64(cfg.TrustGateThreshold),
		s.gateway,
		s.interactionStore,
		s.escrowStore,
		s.boosts,
	)

	s.escrowMgr = escrow.NewManager(s.escrowStore, s.gateway, s.resolver, s.custody, operatorKey, s.boosts, s.emitter)
	s.interactionMgr = interaction.NewManager(s.interactionStore, s.resolver, s.engine, s.boosts, s.emitter)
	s.feedback = reputation.NewService(s.gateway, s.resolver, s.custody, operatorKey, s.emitter)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
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

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware([]string{"*"}))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	s.rateLimiter = ratelimit.New(s.cfg.RateLimitRPM)
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Honor an upstream request ID when the load balancer set one.
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.WithPrefix("req_")
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
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	s.router.GET("/", s.infoHandler)
	s.router.GET("/ws", s.realtimeHub.ServeWS)

	v1 := s.router.Group("/v1")
	v1.GET("/network/stats", s.statsHandler)

	identity.NewHandler(s.resolver).RegisterRoutes(v1)
	trust.NewHandler(s.resolver, s.engine).RegisterRoutes(v1)
	escrow.NewHandler(s.escrowMgr).RegisterRoutes(v1)
	interaction.NewHandler(s.interactionMgr).RegisterRoutes(v1)
	reputation.NewHandler(s.feedback).RegisterRoutes(v1)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	checks := make(map[string]string)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	// A read on the zero address verifies ledger connectivity; not-found is
	// the expected healthy answer.
	_, err := s.gateway.ReadAgent(ctx, common.Address{})
	if err != nil && !errors.Is(err, chain.ErrNotFound) {
		checks["ledger"] = "unhealthy"
	} else {
		checks["ledger"] = "healthy"
	}

	status := "healthy"
	httpStatus := http.StatusOK
	for _, v := range checks {
		if v != "healthy" {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
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
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Handshake",
		"description": "Trust and settlement infrastructure for autonomous agents",
		"version":     "0.1.0",
		"chainId":     s.cfg.ChainID,
		"trustGate":   s.cfg.TrustGateThreshold,
	})
}

func (s *Server) statsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"escrows":         s.escrowStore.Count(),
		"interactions":    s.interactionStore.Count(),
		"realtimeClients": s.realtimeHub.ClientCount(),
		"custodiedAgents": s.custody.Len(),
		"trustGate":       s.cfg.TrustGateThreshold,
		"updatedAt":       time.Now().UTC().Format(time.RFC3339),
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
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
		s.logger.Info("starting server", "port", s.cfg.Port, "chain_id", s.cfg.ChainID)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Drain audit events in the background.
	go s.emitter.Run(runCtx)

	// Warm the serviceId index from the ledger. Resolution works without it,
	// just with more on-chain reads on the fallback path.
	go func() {
		warmCtx, warmCancel := context.WithTimeout(runCtx, 30*time.Second)
		defer warmCancel()
		if err := s.resolver.WarmIndex(warmCtx); err != nil {
			s.logger.Warn("serviceId index warm-up failed", "error", err)
		}
	}()

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

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Stops the audit drain loop; the emitter flushes what is queued.
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic.
	if s.cfg.IsProduction() {
		time.Sleep(5 * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if err := s.gateway.Close(); err != nil {
		s.logger.Error("gateway close error", "error", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}
