package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/beamline-core/internal/catalogue"
	"github.com/nerrad567/beamline-core/internal/control"
	"github.com/nerrad567/beamline-core/internal/infrastructure/config"
	"github.com/nerrad567/beamline-core/internal/infrastructure/logging"
	"github.com/nerrad567/beamline-core/internal/infrastructure/metrics"
	"github.com/nerrad567/beamline-core/internal/journal"
	"github.com/nerrad567/beamline-core/internal/processing"
	"github.com/nerrad567/beamline-core/internal/registry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Notifier sends start/end notifications for a collection.
type Notifier interface {
	Notify(ctx context.Context, event processing.Event, dcid int64) error
	Environment() string
}

// HealthChecker is any component exposing a connection health check.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Logger    *logging.Logger
	Registry  *registry.Registry
	Catalogue *catalogue.Catalogue // optional
	Factory   control.Factory      // used for resources created over HTTP; nil means simulated only
	Trigger   Notifier
	Collector *processing.Collector
	Journal   journal.Repository  // optional
	Metrics   *metrics.Processing // optional
	Gatherer  prometheus.Gatherer // nil means prometheus.DefaultGatherer
	Bus       HealthChecker       // optional
	Hub       *Hub                // if set, the server uses this hub instead of creating its own
	Version   string
}

// Server is the HTTP API server for the beamline core.
//
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	registry  *registry.Registry
	catalogue *catalogue.Catalogue
	factory   control.Factory
	trigger   Notifier
	collector *processing.Collector
	journal   journal.Repository
	metrics   *metrics.Processing
	gatherer  prometheus.Gatherer
	bus       HealthChecker
	version   string
	startTime time.Time

	server *http.Server
	hub    *Hub
	cancel context.CancelFunc
}

// New creates a new API server. The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("resource registry is required")
	}
	if deps.Trigger == nil {
		return nil, fmt.Errorf("trigger is required")
	}
	if deps.Collector == nil {
		return nil, fmt.Errorf("result collector is required")
	}

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		registry:  deps.Registry,
		catalogue: deps.Catalogue,
		factory:   deps.Factory,
		trigger:   deps.Trigger,
		collector: deps.Collector,
		journal:   deps.Journal,
		metrics:   deps.Metrics,
		gatherer:  gatherer,
		bus:       deps.Bus,
		hub:       deps.Hub,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Start begins listening for HTTP connections in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.logger)
	}
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server, waiting up to 10 seconds for
// in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// Hub returns the websocket hub, creating it if Start has not run yet.
func (s *Server) Hub() *Hub {
	if s.hub == nil {
		s.hub = NewHub(s.logger)
	}
	return s.hub
}
