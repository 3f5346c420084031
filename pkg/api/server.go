// Package api serves the presentation HTTP API: submitting payments,
// inspecting and cancelling reconciliation sessions, and the dashboard.
package api

import (
	"context"
	"net/http"
	"time"

	"payflow/pkg/dashboard"
	"payflow/pkg/idempotency"
	"payflow/pkg/logging"
	"payflow/pkg/reconcile"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Sessions is the session registry the API drives. tracker.Tracker
// implements it.
type Sessions interface {
	Submit(ctx context.Context, attempt *idempotency.Attempt) (*reconcile.Session, error)
	Get(ctx context.Context, sessionID string) (*reconcile.Snapshot, error)
	List(ctx context.Context) ([]reconcile.Snapshot, error)
	Cancel(ctx context.Context, sessionID string) (*reconcile.Snapshot, error)
	Active() int
}

// Dashboard builds the dashboard summary. dashboard.Builder implements it.
type Dashboard interface {
	Build(ctx context.Context) (*dashboard.Summary, error)
}

// Server provides the HTTP API.
type Server struct {
	sessions  Sessions
	dashboard Dashboard
	gatherer  prometheus.Gatherer
	server    *http.Server
	router    *mux.Router
	config    ServerConfig
	logger    *logging.Logger
	started   time.Time
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	// Address to listen on (e.g., ":8080")
	Address string `yaml:"address"`

	// ReadTimeout for HTTP requests
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout for HTTP responses
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout for keep-alive connections
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// RequestTimeout bounds upstream work done for one request
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DefaultServerConfig returns a default configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:        ":8080",
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// Options carries the optional collaborators of a Server.
type Options struct {
	// Dashboard enables GET /api/v1/dashboard.
	Dashboard Dashboard

	// Registerer receives the HTTP request metrics (nil = not collected).
	Registerer prometheus.Registerer

	// Gatherer is exposed on /metrics (nil = prometheus.DefaultGatherer).
	Gatherer prometheus.Gatherer

	// Namespace prefixes the HTTP request metrics (default "payflow").
	Namespace string
}

// NewServer creates the API server. It returns an error only when the HTTP
// metrics cannot be registered.
func NewServer(sessions Sessions, config ServerConfig, opts Options) (*Server, error) {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultServerConfig().RequestTimeout
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		sessions:  sessions,
		dashboard: opts.Dashboard,
		gatherer:  opts.Gatherer,
		config:    config,
		logger:    logging.Global().Named("api"),
		started:   time.Now(),
	}

	r := mux.NewRouter()
	if opts.Registerer != nil {
		m := newHTTPMetrics(opts.Namespace)
		if err := m.register(opts.Registerer); err != nil {
			return nil, err
		}
		r.Use(m.middleware)
	}

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	// Registered on the root router: a subrouter reports a method mismatch as 404.
	r.HandleFunc("/api/v1/payments", s.handleSubmit).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/sessions", s.handleListSessions).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/sessions/{id}", s.handleCancelSession).Methods(http.MethodDelete)
	r.HandleFunc("/api/v1/dashboard", s.handleDashboard).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)

	s.router = r
	s.server = &http.Server{
		Addr:         config.Address,
		Handler:      r,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	go func() {
		s.logger.Info("API listening", zap.String("addr", s.config.Address))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server error", zap.Error(err))
		}
	}()
	return nil
}

// ListenAndServe runs the server on the calling goroutine.
func (s *Server) ListenAndServe() error {
	s.logger.Info("API listening", zap.String("addr", s.config.Address))
	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
