// Package api provides the HTTP REST API and WebSocket server for the
// Lares bridge.
//
// It exposes the device registry, the panel connection state, the command
// surface and the audit trail to local consumers (dashboards, automation
// engines, operator tooling), plus a WebSocket hub streaming device and
// connection events in real time.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/lares-bridge/internal/audit"
	"github.com/nerrad567/lares-bridge/internal/bridge"
	"github.com/nerrad567/lares-bridge/internal/device"
	"github.com/nerrad567/lares-bridge/internal/infrastructure/config"
	"github.com/nerrad567/lares-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/lares-bridge/internal/lares"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DeviceSource provides read access to the device registry.
// Satisfied by *device.Registry.
type DeviceSource interface {
	// Get returns a snapshot of one device.
	Get(id string) (device.Device, bool)

	// List returns snapshots of every device.
	List() []device.Device

	// ListKind returns snapshots of every device of one kind.
	ListKind(kind device.Kind) []device.Device

	// Count returns the number of devices.
	Count() int
}

// PanelMonitor exposes the panel session view.
// Satisfied by *lares.Client.
type PanelMonitor interface {
	// Ready reports whether the session is authenticated and serving.
	Ready() bool

	// Stats returns a snapshot of the session counters.
	Stats() lares.Stats
}

// Commander forwards validated device commands to the panel.
// Satisfied by *bridge.Bridge.
type Commander interface {
	// Execute validates a command against the target device and sends it.
	Execute(ctx context.Context, deviceID string, req bridge.CommandRequest, source string) error

	// GetMetrics returns the bridge counters.
	GetMetrics() bridge.Metrics
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Devices  DeviceSource
	Panel    PanelMonitor
	Bridge   Commander        // Optional: commands return 503 without it
	Audit    audit.Repository // Optional: audit endpoints return 503 without it
	Version  string
}

// Server is the HTTP API server for the Lares bridge.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	devices   DeviceSource
	panel     PanelMonitor
	bridge    Commander
	audit     audit.Repository
	version   string
	startTime time.Time
	server    *http.Server
	hub       *Hub
	tickets   *ticketStore
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called. The WebSocket hub
// exists from construction so the server can be registered as a device
// and connection listener before the panel session opens.
//
// Parameters:
//   - deps: Required dependencies (config, logger, registry, panel)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device source is required")
	}
	if deps.Panel == nil {
		return nil, fmt.Errorf("panel monitor is required")
	}
	// Bridge and Audit are optional - the affected endpoints degrade to 503

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		devices:   deps.Devices,
		panel:     deps.Panel,
		bridge:    deps.Bridge,
		audit:     deps.Audit,
		version:   deps.Version,
		startTime: time.Now(),
		tickets:   newTicketStore(),
	}
	s.hub = NewHub(deps.WS, deps.Logger)

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub and ticket cleanup, and
// launches the HTTP listener in a background goroutine. The server can be
// stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server started", "address", s.server.Addr)
	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel background goroutines (hub, ticket cleanup)
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

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
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
