package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/openhandy-bridge/internal/audit"
	"github.com/nerrad567/openhandy-bridge/internal/bridge"
	"github.com/nerrad567/openhandy-bridge/internal/hub"
	"github.com/nerrad567/openhandy-bridge/internal/infrastructure/config"
	"github.com/nerrad567/openhandy-bridge/internal/infrastructure/logging"
)

const (
	// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
	// to complete during shutdown.
	gracefulShutdownTimeout = 10 * time.Second

	// statusPollInterval is how often the status stream checks for a new snapshot.
	statusPollInterval = 250 * time.Millisecond

	// healthCheckTimeout bounds all component checks of one /health request.
	healthCheckTimeout = 3 * time.Second
)

// StatusSource provides the bridge's current state.
type StatusSource interface {
	Snapshot() bridge.Snapshot
}

// HubStatsSource provides hub connection counters.
type HubStatsSource interface {
	Stats() hub.Stats
}

// HealthChecker is a component whose liveness /health reports.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Status  StatusSource
	Hub     HubStatsSource           // optional
	History audit.Repository         // optional; /actions returns an empty page without it
	Checks  map[string]HealthChecker // optional; keyed by component name
	Version string
}

// Server is the HTTP status server.
//
// It manages the HTTP listener, routes, middleware, and the status stream.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	logger   *logging.Logger
	status   StatusSource
	hubStats HubStatsSource
	history  audit.Repository
	checks   map[string]HealthChecker
	version  string

	ws     *Hub
	server *http.Server
	addr   net.Addr
	cancel context.CancelFunc
	wg     sync.WaitGroup

	lastMu  sync.Mutex
	last    bridge.Snapshot
	hasLast bool
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Status == nil {
		return nil, fmt.Errorf("status source is required")
	}

	s := &Server{
		cfg:      deps.Config,
		logger:   deps.Logger,
		status:   deps.Status,
		hubStats: deps.Hub,
		history:  deps.History,
		checks:   deps.Checks,
		version:  deps.Version,
	}
	s.ws = NewHub(deps.Config.WebSocket, deps.Logger)
	s.ws.onSubscribe = s.sendCurrentStatus

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It binds the listener synchronously so an unusable address is reported
// here, then serves in a background goroutine alongside the status stream.
//
// Parameters:
//   - ctx: Parent context for the background goroutines
//
// Returns:
//   - error: If the listener cannot be bound (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.addr = ln.Addr()

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.ws.Run(srvCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.watchStatus(srvCtx)
	}()

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server listening", "address", s.addr.String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
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
	err := s.server.Shutdown(ctx)
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// watchStatus polls the bridge snapshot and broadcasts it on change.
func (s *Server) watchStatus(ctx context.Context) {
	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcastIfChanged()
		}
	}
}

// broadcastIfChanged sends the snapshot to status subscribers when anything
// other than its timestamp differs from the last one sent.
func (s *Server) broadcastIfChanged() bool {
	snap := s.status.Snapshot()

	s.lastMu.Lock()
	cmp, prev := snap, s.last
	cmp.UpdatedAt, prev.UpdatedAt = time.Time{}, time.Time{}
	if s.hasLast && cmp == prev {
		s.lastMu.Unlock()
		return false
	}
	s.last, s.hasLast = snap, true
	s.lastMu.Unlock()

	s.ws.Broadcast(ChannelStatus, snap)
	return true
}
