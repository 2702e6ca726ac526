// Package server provides the HTTP/Connect-RPC server for the placement service.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/auth"
	"github.com/limiquantix/placement/internal/config"
	"github.com/limiquantix/placement/internal/localstorage"
	"github.com/limiquantix/placement/internal/overprovision"
	"github.com/limiquantix/placement/internal/repository/etcd"
	"github.com/limiquantix/placement/internal/repository/memory"
	"github.com/limiquantix/placement/internal/repository/postgres"
	"github.com/limiquantix/placement/internal/repository/redis"
	"github.com/limiquantix/placement/internal/scheduler"
	"github.com/limiquantix/placement/internal/server/middleware"
)

// topologyStore is what the server needs from a topology backend.
type topologyStore interface {
	localstorage.Store
	scheduler.HostRepository
}

// Server represents the main HTTP server.
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	httpServer *http.Server
	mux        *http.ServeMux
	registry   *prometheus.Registry

	// Infrastructure
	db    *postgres.DB
	cache *redis.Cache
	etcd  *etcd.Client

	// Topology backend, PostgreSQL or in-memory
	topology    topologyStore
	store       localstorage.Store
	cachedStore *redis.CachedStore

	// Placement
	oracle     *overprovision.Oracle
	watcher    *overprovision.Watcher
	provider   *localstorage.Provider
	strategies *scheduler.Registry
	scheduler  *scheduler.Scheduler
	service    *PlacementService
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithPostgreSQL enables PostgreSQL as the topology store.
func WithPostgreSQL(db *postgres.DB) ServerOption {
	return func(s *Server) {
		s.db = db
	}
}

// WithRedis enables Redis caching of topology lookups.
func WithRedis(cache *redis.Cache) ServerOption {
	return func(s *Server) {
		s.cache = cache
	}
}

// WithEtcd enables etcd-backed over-provisioning ratios.
func WithEtcd(client *etcd.Client) ServerOption {
	return func(s *Server) {
		s.etcd = client
	}
}

// WithTopology replaces the topology backend. It takes precedence over
// WithPostgreSQL.
func WithTopology(topology interface {
	localstorage.Store
	scheduler.HostRepository
}) ServerOption {
	return func(s *Server) {
		s.topology = topology
	}
}

// New creates a new server instance.
func New(cfg *config.Config, logger *zap.Logger, opts ...ServerOption) (*Server, error) {
	mux := http.NewServeMux()

	s := &Server{
		config:   cfg,
		logger:   logger,
		mux:      mux,
		registry: prometheus.NewRegistry(),
	}

	// Apply options
	for _, opt := range opts {
		opt(s)
	}

	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Initialize repositories
	s.initRepositories()

	// Initialize services
	if err := s.initServices(); err != nil {
		return nil, err
	}

	// Register routes
	s.registerRoutes()

	// Create HTTP server
	handler := s.setupMiddleware(mux)
	s.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s, nil
}

// initRepositories initializes the topology store and its cache.
func (s *Server) initRepositories() {
	switch {
	case s.topology != nil:
		s.logger.Info("Using provided topology repository")
	case s.db != nil:
		s.logger.Info("Initializing PostgreSQL repositories")
		s.topology = postgres.NewTopologyRepository(s.db, s.logger)
	default:
		// Development mode
		s.logger.Info("Initializing in-memory repositories")
		repo := memory.NewTopologyRepository()
		repo.SeedDemoData()
		s.topology = repo
	}

	s.store = s.topology
	if s.cache != nil {
		s.cachedStore = redis.NewCachedStore(s.topology, s.cache, s.config.Placement.TopologyCacheTTL, s.logger)
		s.store = s.cachedStore
	}

	s.logger.Info("Repositories initialized",
		zap.Bool("postgres", s.db != nil),
		zap.Bool("redis", s.cache != nil),
		zap.Bool("etcd", s.etcd != nil),
	)
}

// initServices initializes the placement pipeline.
func (s *Server) initServices() error {
	s.logger.Info("Initializing services")

	s.oracle = overprovision.NewOracle(s.config.Placement.DefaultOverProvisioningRatio)

	var ratioWriter overprovision.RatioWriter
	if s.etcd != nil {
		s.watcher = overprovision.NewWatcher(s.etcd, s.oracle, s.config.Placement.RatioKeyPrefix, s.logger)
		ratioWriter = s.etcd
	}
	publisher := overprovision.NewPublisher(ratioWriter, s.config.Placement.RatioKeyPrefix, s.oracle)

	s.provider = localstorage.NewProvider(s.store, s.oracle, localstorage.NewMetrics(s.registry), s.logger)

	strategies, err := scheduler.NewRegistry(s.provider)
	if err != nil {
		return fmt.Errorf("failed to register strategies: %w", err)
	}
	s.strategies = strategies

	schedulerConfig := scheduler.DefaultConfig()
	schedulerConfig.DisabledStrategies = s.config.Placement.DisabledStrategies
	s.scheduler = scheduler.New(s.topology, s.strategies, schedulerConfig, s.logger)

	var topologyCache TopologyCache
	if s.cachedStore != nil {
		topologyCache = s.cachedStore
	}
	s.service = NewPlacementService(s.provider, s.scheduler, publisher, topologyCache, s.config.Auth.Enabled, s.logger)

	s.logger.Info("Services initialized",
		zap.String("default_overprovisioning_ratio", s.oracle.Ratio("").String()),
		zap.Strings("disabled_strategies", schedulerConfig.DisabledStrategies),
		zap.Bool("auth", s.config.Auth.Enabled),
	)
	return nil
}

// registerRoutes registers all HTTP routes and Connect-RPC services.
func (s *Server) registerRoutes() {
	// Health endpoints
	s.mux.HandleFunc("/health", s.healthHandler)
	s.mux.HandleFunc("/healthz", s.healthHandler) // Kubernetes-style endpoint
	s.mux.HandleFunc("/ready", s.readyHandler)
	s.mux.HandleFunc("/live", s.liveHandler)

	// API info
	s.mux.HandleFunc("/api/v1/info", s.infoHandler)

	if s.config.Metrics.Enabled {
		s.mux.Handle(s.config.Metrics.Path, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	}

	var handlerOpts []connect.HandlerOption
	if s.config.Auth.Enabled {
		jwtManager := auth.NewJWTManager(s.config.Auth)
		handlerOpts = append(handlerOpts, connect.WithInterceptors(middleware.NewAuthInterceptor(jwtManager, s.logger)))
	}

	path, handler := NewPlacementServiceHandler(s.service, handlerOpts...)
	s.mux.Handle(path, handler)
	s.logger.Info("Registered Placement service", zap.String("path", path))

	s.logger.Info("All routes registered")
}

// setupMiddleware configures middleware chain.
func (s *Server) setupMiddleware(handler http.Handler) http.Handler {
	// CORS middleware
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.config.CORS.AllowedOrigins,
		AllowedMethods:   s.config.CORS.AllowedMethods,
		AllowedHeaders:   s.config.CORS.AllowedHeaders,
		ExposedHeaders:   []string{BlacklistHeader, requestIDHeader},
		AllowCredentials: s.config.CORS.AllowCredentials,
		MaxAge:           86400, // 24 hours
	})

	// Apply middleware
	handler = corsHandler.Handler(handler)
	handler = s.loggingMiddleware(handler)
	handler = s.recoveryMiddleware(handler)

	return handler
}

const requestIDHeader = "X-Request-ID"

// loggingMiddleware logs HTTP requests and tags them with a request ID.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		// Skip logging for health checks and scrapes
		switch r.URL.Path {
		case "/health", "/healthz", "/ready", "/live", s.config.Metrics.Path:
			return
		}

		s.logger.Info("HTTP request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("user_agent", r.UserAgent()),
		)
	})
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("Panic recovered",
					zap.Any("error", err),
					zap.String("path", r.URL.Path),
				)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// healthHandler returns health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "limiquantix-placement"})
}

// readyHandler returns readiness status.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ready := true
	details := map[string]string{}

	check := func(name string, health func(context.Context) error) {
		if err := health(ctx); err != nil {
			ready = false
			details[name] = "unhealthy"
			return
		}
		details[name] = "healthy"
	}

	if s.db != nil {
		check("postgres", s.db.Health)
	}
	if s.cache != nil {
		check("redis", s.cache.Health)
	}
	if s.etcd != nil {
		check("etcd", s.etcd.Health)
	}
	if s.watcher != nil {
		check("ratio_watch", func(context.Context) error {
			if !s.watcher.Synced() {
				return errors.New("over-provisioning ratios not synced")
			}
			return nil
		})
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{"ready": ready, "components": details})
}

// liveHandler returns liveness status.
func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"alive": true})
}

// infoHandler returns API information.
func (s *Server) infoHandler(w http.ResponseWriter, r *http.Request) {
	var strategies []string
	for _, p := range s.strategies.Providers() {
		strategies = append(strategies, string(p.Name()))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":        "limiquantix Placement",
		"version":     "0.1.0",
		"api_version": "v1",
		"services":    []string{PlacementServiceName},
		"strategies":  strategies,
		"infrastructure": map[string]bool{
			"postgres": s.db != nil,
			"redis":    s.cache != nil,
			"etcd":     s.etcd != nil,
		},
	})
}

// Handler returns the server's HTTP handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting server",
		zap.String("address", s.config.Server.Address()),
	)

	// Follow ratio changes in etcd
	if s.watcher != nil {
		go func() {
			// Run only returns once ctx is done.
			_ = s.watcher.Run(ctx)
			s.logger.Info("Over-provisioning watcher stopped")
		}()
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		s.logger.Info("Shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	// Graceful shutdown
	return s.Shutdown()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down server...")

	// Close HTTP server
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}

	// Close infrastructure connections
	if s.etcd != nil {
		if err := s.etcd.Close(); err != nil {
			s.logger.Warn("Failed to close etcd", zap.Error(err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Warn("Failed to close Redis", zap.Error(err))
		}
	}
	if s.db != nil {
		s.db.Close()
	}

	s.logger.Info("Server stopped gracefully")
	return nil
}

// Address returns the server address.
func (s *Server) Address() string {
	return s.config.Server.Address()
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
