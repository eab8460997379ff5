package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/jackzampolin/swaggerfix/docs"
	"github.com/jackzampolin/swaggerfix/internal/api"
	"github.com/jackzampolin/swaggerfix/internal/config"
	"github.com/jackzampolin/swaggerfix/internal/fetch"
	"github.com/jackzampolin/swaggerfix/internal/home"
	"github.com/jackzampolin/swaggerfix/internal/janitor"
	"github.com/jackzampolin/swaggerfix/internal/llmcall"
	"github.com/jackzampolin/swaggerfix/internal/metrics"
	"github.com/jackzampolin/swaggerfix/internal/openapi"
	"github.com/jackzampolin/swaggerfix/internal/pipeline"
	"github.com/jackzampolin/swaggerfix/internal/providers"
	"github.com/jackzampolin/swaggerfix/internal/server/endpoints"
	"github.com/jackzampolin/swaggerfix/internal/store"
	"github.com/jackzampolin/swaggerfix/internal/svcctx"
)

// Server is the swaggerfix HTTP server.
// It owns the SQLite store, the write sink and the cleanup schedule,
// opening them on start and closing them on shutdown.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	home       *home.Dir
	store      *store.Store
	sink       *store.Sink
	janitor    *janitor.Janitor
	registry   *providers.Registry
	configMgr  *config.Manager
	metrics    *metrics.Metrics
	validator  *openapi.Validator
	logger     *slog.Logger

	// services holds all core services for context enrichment.
	// It is replaced as a whole when the config changes.
	services atomic.Pointer[svcctx.Services]

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8080)
	Port string
	// Home is the data directory (default: ~/.swaggerfix)
	Home *home.Dir
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Home == nil {
		h, err := home.New("")
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		cfg.Home = h
	}

	// Create provider registry
	registry := providers.NewRegistry()
	registry.SetLogger(cfg.Logger)

	s := &Server{
		home:      cfg.Home,
		registry:  registry,
		configMgr: cfg.ConfigManager,
		metrics:   metrics.New(),
		validator: openapi.NewValidator(),
		logger:    cfg.Logger,
	}

	// If config manager provided, set up providers and hot reload
	if cfg.ConfigManager != nil {
		registry.Reload(cfg.ConfigManager.Get().ToProviderRegistryConfig())

		// Watch for config changes
		cfg.ConfigManager.OnChange(func(c *config.Config) {
			registry.Reload(c.ToProviderRegistryConfig())
			s.reloadServices(c)
			cfg.Logger.Info("provider registry reloaded from config")
		})
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All() {
		s.endpointRegistry.Register(ep)
	}

	// Set up HTTP server
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)
	s.mux = mux

	s.httpServer = &http.Server{
		Addr:        net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:     s.observe(s.cors(s.withServices(mux))),
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: correction streams stay open while the LLM works.
		IdleTimeout: 120 * time.Second,
	}

	return s, nil
}

// config returns the current configuration.
func (s *Server) config() *config.Config {
	if s.configMgr != nil {
		if c := s.configMgr.Get(); c != nil {
			return c
		}
	}
	return config.DefaultConfig()
}

// Start opens the store, starts background workers and serves HTTP.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.home.EnsureExists(); err != nil {
		s.setNotRunning()
		return fmt.Errorf("failed to create home directory: %w", err)
	}

	// Open the store
	s.logger.Info("opening store", "path", s.home.DatabasePath())
	st, err := store.Open(s.home.DatabasePath())
	if err != nil {
		s.setNotRunning()
		return fmt.Errorf("failed to open store: %w", err)
	}
	s.store = st

	// Start the write sink
	s.sink = store.NewSink(store.SinkConfig{Store: st, Logger: s.logger})
	s.sink.Start(ctx)

	cfg := s.config()

	// Schedule retention cleanup
	s.janitor, err = janitor.New(janitor.Config{
		Store:     st,
		Schedule:  cfg.Upload.CleanupSchedule,
		Retention: cfg.Upload.RetentionDuration(),
		Logger:    s.logger,
	})
	if err != nil {
		_ = s.shutdown()
		return err
	}
	if err := s.janitor.Start(ctx); err != nil {
		_ = s.shutdown()
		return fmt.Errorf("failed to start cleanup: %w", err)
	}

	s.services.Store(s.buildServices(cfg))

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// buildServices assembles the per-config services. Store, sink and metrics
// are shared across rebuilds.
func (s *Server) buildServices(cfg *config.Config) *svcctx.Services {
	runner := pipeline.NewRunner(pipeline.Config{
		Validator:        s.validator,
		Providers:        s.registry,
		Store:            s.store,
		Recorder:         llmcall.NewRecorder(s.sink),
		Metrics:          s.metrics,
		Logger:           s.logger,
		MaxWorkers:       cfg.Defaults.MaxWorkers,
		MaxAttempts:      cfg.Pipeline.MaxAttempts,
		Temperature:      cfg.Defaults.Temperature,
		MaxTokens:        cfg.Defaults.MaxTokens,
		StructuredOutput: cfg.Pipeline.StructuredOutput,
	})
	fetcher := fetch.New(fetch.Config{
		Timeout:  cfg.Upload.FetchTimeoutDuration(),
		MaxBytes: cfg.Upload.MaxBytes,
		Retries:  cfg.Upload.FetchRetries,
		Logger:   s.logger,
	})

	// Before Start there is no store to query calls from.
	var calls *llmcall.Store
	if s.store != nil {
		calls = llmcall.NewStore(s.store)
	}

	return &svcctx.Services{
		Store:         s.store,
		Sink:          s.sink,
		Registry:      s.registry,
		ConfigManager: s.configMgr,
		Logger:        s.logger,
		Home:          s.home,
		Metrics:       s.metrics,
		LLMCallStore:  calls,
		Runner:        runner,
		Fetcher:       fetcher,
		Validator:     s.validator,
	}
}

// reloadServices rebuilds the runner and fetcher after a config change.
// Runs already in flight keep the runner they started with.
func (s *Server) reloadServices(cfg *config.Config) {
	if s.services.Load() == nil {
		return
	}
	s.services.Store(s.buildServices(cfg))
}

// shutdown stops the HTTP server, the cleanup schedule and the sink, then
// closes the store.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	// Shutdown HTTP server with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.janitor != nil {
		s.janitor.Stop()
	}

	// Flush pending LLM call records before closing the store
	if s.sink != nil {
		s.sink.Stop()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("store close error", "error", err)
		}
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Store returns the SQLite store.
// Returns nil if the server hasn't started yet.
func (s *Server) Store() *store.Store {
	return s.store
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Registry returns the provider registry.
func (s *Server) Registry() *providers.Registry {
	return s.registry
}

// Handler returns the root HTTP handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if services := s.services.Load(); services != nil {
			ctx = svcctx.WithServices(ctx, services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable until the store and runner are ready.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.services.Load() == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
