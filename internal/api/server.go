package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/mqttlightbulb/internal/history"
	"github.com/nerrad567/mqttlightbulb/internal/infrastructure/config"
	"github.com/nerrad567/mqttlightbulb/internal/infrastructure/logging"
	"github.com/nerrad567/mqttlightbulb/internal/light"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Accessory is the read side of a light.Bridge.
type Accessory interface {
	Name() string
	Topics() light.Topics
	Connected() bool
	State() light.LightState
}

// HistoryReader returns recorded state changes, newest first.
type HistoryReader interface {
	GetHistory(ctx context.Context, accessory string, limit int) ([]history.Entry, error)
}

// HealthChecker is implemented by every optional backend (SQLite, InfluxDB).
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	Logger      *logging.Logger
	Accessories []Accessory
	History     HistoryReader            // Optional: history routes return 503 without it
	Checks      map[string]HealthChecker // Optional: reported by /health
	Version     string
}

// Server is the HTTP status server.
//
// It is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	logger      *logging.Logger
	accessories []Accessory
	byName      map[string]Accessory
	history     HistoryReader
	checks      map[string]HealthChecker
	version     string
	server      *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, accessories)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if len(deps.Accessories) == 0 {
		return nil, fmt.Errorf("at least one accessory is required")
	}

	byName := make(map[string]Accessory, len(deps.Accessories))
	for _, acc := range deps.Accessories {
		if _, dup := byName[acc.Name()]; dup {
			return nil, fmt.Errorf("duplicate accessory name %q", acc.Name())
		}
		byName[acc.Name()] = acc
	}

	return &Server{
		cfg:         deps.Config,
		logger:      deps.Logger,
		accessories: deps.Accessories,
		byName:      byName,
		history:     deps.History,
		checks:      deps.Checks,
		version:     deps.Version,
	}, nil
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
//
// Returns:
//   - error: Always nil; listener errors are logged
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.GetReadTimeout(),
		WriteTimeout:      s.cfg.GetWriteTimeout(),
		IdleTimeout:       s.cfg.GetIdleTimeout(),
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
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
