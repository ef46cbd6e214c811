package homekit

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"

	"github.com/nerrad567/mqttlightbulb/internal/infrastructure/config"
)

// ErrNoAccessories is returned by NewServer when there is nothing to serve.
var ErrNoAccessories = errors.New("homekit: no accessories")

// Logger interface for optional logging.
type Logger interface {
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Server is the HAP server publishing the configured lightbulbs.
type Server struct {
	hap     *hap.Server
	bridged bool
	count   int
	logger  Logger
}

// NewServer creates a HAP server for bulbs.
//
// A single bulb is the root accessory. Several bulbs are served behind a
// bridge accessory described by cfg.Bridge, in the given order.
//
// Parameters:
//   - cfg: HomeKit settings (pin, storage path, listen address)
//   - bulbs: Accessories to serve, at least one
//   - logger: Optional logger (may be nil)
//
// Returns:
//   - *Server: Server ready for ListenAndServe
//   - error: ErrNoAccessories, or a HAP setup failure
func NewServer(cfg config.HomeKitConfig, bulbs []*Lightbulb, logger Logger) (*Server, error) {
	if len(bulbs) == 0 {
		return nil, ErrNoAccessories
	}

	store := hap.NewFsStore(cfg.StoragePath)

	var (
		srv     *hap.Server
		err     error
		bridged bool
	)
	if len(bulbs) == 1 {
		srv, err = hap.NewServer(store, bulbs[0].A)
	} else {
		bridge := accessory.NewBridge(accessory.Info{
			Name:         cfg.Bridge.Name,
			Manufacturer: cfg.Bridge.Manufacturer,
			Model:        cfg.Bridge.Model,
			Firmware:     cfg.Bridge.Firmware,
		})
		as := make([]*accessory.A, 0, len(bulbs))
		for _, b := range bulbs {
			as = append(as, b.A)
		}
		srv, err = hap.NewServer(store, bridge.A, as...)
		bridged = true
	}
	if err != nil {
		return nil, fmt.Errorf("creating hap server: %w", err)
	}

	srv.Pin = cfg.NormalizedPin()
	if cfg.Address != "" {
		srv.Addr = cfg.Address
	}

	return &Server{
		hap:     srv,
		bridged: bridged,
		count:   len(bulbs),
		logger:  logger,
	}, nil
}

// Bridged reports whether the accessories are served behind a HAP bridge.
func (s *Server) Bridged() bool {
	return s.bridged
}

// ListenAndServe runs the HAP server until ctx is cancelled.
// A cancelled context is not an error.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.logger != nil {
		s.logger.Info("homekit server starting",
			"accessories", s.count,
			"bridged", s.bridged,
			"addr", s.hap.Addr)
	}

	err := s.hap.ListenAndServe(ctx)
	if err == nil || errors.Is(err, http.ErrServerClosed) || ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("homekit server: %w", err)
}
