package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Default connection settings.
const (
	// DefaultKeepAliveInterval is the client ping interval.
	DefaultKeepAliveInterval = 15 * time.Second

	// DefaultReconnectInterval is the delay before each reconnection attempt.
	DefaultReconnectInterval = 5 * time.Second

	// DefaultHandshakeTimeout bounds negotiate, dial and protocol handshake.
	DefaultHandshakeTimeout = 10 * time.Second

	// serverTimeoutFactor scales the keep-alive interval into the read
	// timeout; the server pings at the same cadence as the client.
	serverTimeoutFactor = 2
)

// Listener receives connection lifecycle and message events. Callbacks are
// made from the manager's connection goroutine, one at a time.
type Listener interface {
	OnHubOpen()
	OnHubClose(err error)
	OnHubError(err error)
	OnHubMessage(payload json.RawMessage)
}

// Logger is the logging interface used by the manager.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options holds configuration for creating a Manager.
type Options struct {
	// URL is the hub endpoint, e.g. "http://localhost:5384/hub".
	URL string

	// KeepAliveInterval is the ping interval. Default: 15s.
	KeepAliveInterval time.Duration

	// ReconnectInterval is the delay between attempts. Default: 5s.
	ReconnectInterval time.Duration

	// HandshakeTimeout bounds connection establishment. Default: 10s.
	HandshakeTimeout time.Duration

	// MaxAttempts limits consecutive failed attempts. 0 means unlimited.
	MaxAttempts int

	// SkipNegotiation dials URL directly as a websocket.
	SkipNegotiation bool

	// HTTPClient is used for negotiate. Default: http.DefaultClient.
	HTTPClient *http.Client

	// Listener receives connection events. Required.
	Listener Listener

	// Logger is an optional structured logger.
	Logger Logger
}

// Stats holds connection counters.
type Stats struct {
	Connected      bool   `json:"connected"`
	ConnectionID   string `json:"connection_id,omitempty"`
	Connects       uint64 `json:"connects"`
	FailedAttempts uint64 `json:"failed_attempts"`
	FramesReceived uint64 `json:"frames_received"`
	BatchesSent    uint64 `json:"batches_sent"`
	SendErrors     uint64 `json:"send_errors"`
}

// Manager owns the hub connection. It reconnects after every failure or
// close until stopped, and delivers events to its Listener.
//
// Thread Safety: Send and Stats are safe for concurrent use.
type Manager struct {
	dialer            *dialer
	keepAliveInterval time.Duration
	reconnectInterval time.Duration
	maxAttempts       int
	listener          Listener

	connMu sync.RWMutex
	conn   *conn
	connID string

	connects       atomic.Uint64
	failedAttempts atomic.Uint64
	framesReceived atomic.Uint64
	batchesSent    atomic.Uint64
	sendErrors     atomic.Uint64

	cancel   context.CancelFunc
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	started  atomic.Bool

	logger   Logger
	loggerMu sync.RWMutex
}

// NewManager creates a hub connection manager. Call Start to connect.
func NewManager(opts Options) (*Manager, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("hub URL is required")
	}
	if opts.Listener == nil {
		return nil, fmt.Errorf("listener is required")
	}
	if opts.MaxAttempts < 0 {
		return nil, fmt.Errorf("max attempts must not be negative")
	}

	if opts.KeepAliveInterval <= 0 {
		opts.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = DefaultReconnectInterval
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Manager{
		dialer: &dialer{
			hubURL:           strings.TrimRight(opts.URL, "/"),
			skipNegotiation:  opts.SkipNegotiation,
			handshakeTimeout: opts.HandshakeTimeout,
			httpClient:       opts.HTTPClient,
		},
		keepAliveInterval: opts.KeepAliveInterval,
		reconnectInterval: opts.ReconnectInterval,
		maxAttempts:       opts.MaxAttempts,
		listener:          opts.Listener,
		done:              make(chan struct{}),
		logger:            opts.Logger,
	}, nil
}

// Start launches the connection loop.
func (m *Manager) Start(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.connMu.Lock()
	m.cancel = cancel
	m.connMu.Unlock()

	m.wg.Add(1)
	go m.run(ctx)
}

// Stop closes the connection and waits for the loop to exit. Safe to call
// multiple times.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)

		m.connMu.RLock()
		cancel, c := m.cancel, m.conn
		m.connMu.RUnlock()
		if cancel != nil {
			cancel()
		}
		if c != nil {
			c.close()
		}

		m.wg.Wait()
		m.logInfo("hub manager stopped")
	})
}

// Send invokes SendMessage with the batch elements as arguments. Failures are
// logged; nothing is queued for a later connection.
func (m *Manager) Send(batch []any) {
	c := m.current()
	if c == nil {
		m.sendErrors.Add(1)
		m.logError("cannot send to hub", ErrNotConnected, "messages", len(batch))
		return
	}

	frame := invocation{
		Type:         typeInvocation,
		Target:       TargetSendMessage,
		InvocationID: uuid.NewString(),
		Arguments:    batch,
	}
	if err := c.writeFrame(frame); err != nil {
		m.sendErrors.Add(1)
		m.logError("send to hub failed", err, "messages", len(batch))
		return
	}
	m.batchesSent.Add(1)
}

// IsConnected reports whether a connection is established.
func (m *Manager) IsConnected() bool {
	return m.current() != nil
}

// Stats returns the current connection counters.
func (m *Manager) Stats() Stats {
	m.connMu.RLock()
	connected := m.conn != nil
	connID := m.connID
	m.connMu.RUnlock()

	return Stats{
		Connected:      connected,
		ConnectionID:   connID,
		Connects:       m.connects.Load(),
		FailedAttempts: m.failedAttempts.Load(),
		FramesReceived: m.framesReceived.Load(),
		BatchesSent:    m.batchesSent.Load(),
		SendErrors:     m.sendErrors.Load(),
	}
}

// run connects, serves and reconnects until stopped.
func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()

	failures := 0
	for {
		if m.stopping(ctx) {
			return
		}

		m.logInfo("connecting to hub", "url", m.dialer.hubURL)

		c, pending, err := m.dialer.dial(ctx)
		if err != nil {
			if m.stopping(ctx) {
				return
			}
			failures++
			m.failedAttempts.Add(1)
			m.logError("hub connection failed", err, "attempt", failures)

			if m.maxAttempts > 0 && failures >= m.maxAttempts {
				m.logError("giving up on hub connection", ErrMaxAttempts, "attempts", failures)
				m.listener.OnHubError(ErrMaxAttempts)
				return
			}
			if !m.wait(ctx, m.reconnectInterval) {
				return
			}
			continue
		}

		failures = 0
		m.serve(ctx, c, pending)

		if m.stopping(ctx) {
			return
		}
		m.logInfo("retrying hub connection", "delay", m.reconnectInterval.String())
		if !m.wait(ctx, m.reconnectInterval) {
			return
		}
	}
}

// serve delivers events for one connection until it ends. The close event
// carries a nil error when the connection was closed by Stop or context
// cancellation.
func (m *Manager) serve(ctx context.Context, c *conn, pending [][]byte) {
	connID := uuid.NewString()
	m.setConn(c, connID)
	m.connects.Add(1)

	m.logInfo("hub connection established",
		"connection_id", connID,
		"server_connection_id", c.connectionID)
	m.listener.OnHubOpen()

	serveDone := make(chan struct{})
	var helpers sync.WaitGroup
	helpers.Add(2)
	go func() {
		defer helpers.Done()
		m.keepAlive(c, serveDone)
	}()
	go func() {
		defer helpers.Done()
		select {
		case <-ctx.Done():
		case <-m.done:
		case <-serveDone:
		}
		c.close()
	}()

	err := m.readLoop(c, pending)

	close(serveDone)
	c.close()
	helpers.Wait()
	m.setConn(nil, "")

	if m.stopping(ctx) {
		err = nil
	}

	if err != nil && !errors.Is(err, ErrServerClosed) {
		m.listener.OnHubError(err)
	}
	m.logInfo("hub connection closed", "connection_id", connID, "error", err)
	m.listener.OnHubClose(err)
}

// readLoop processes frames until the connection fails or is closed.
func (m *Manager) readLoop(c *conn, pending [][]byte) error {
	for _, frame := range pending {
		if err := m.handleFrame(frame); err != nil {
			return err
		}
	}

	timeout := m.keepAliveInterval * serverTimeoutFactor
	for {
		frames, err := c.read(timeout)
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return ErrServerClosed
			}
			return fmt.Errorf("reading hub frame: %w", err)
		}

		for _, frame := range frames {
			if err := m.handleFrame(frame); err != nil {
				return err
			}
		}
	}
}

// handleFrame dispatches one frame. A non-nil error ends the connection.
func (m *Manager) handleFrame(frame []byte) error {
	m.framesReceived.Add(1)

	msg, err := decodeFrame(frame)
	if err != nil {
		m.logDebug("dropping hub frame", "error", err)
		return nil
	}

	switch msg.Type {
	case typeInvocation:
		if !strings.EqualFold(msg.Target, TargetReceiveMessage) {
			m.logDebug("ignoring hub invocation", "target", msg.Target)
			return nil
		}
		if len(msg.Arguments) == 0 {
			return nil
		}
		m.listener.OnHubMessage(msg.Arguments[0])

	case typeCompletion:
		if msg.Error != "" {
			m.listener.OnHubError(&CompletionError{
				InvocationID: msg.InvocationID,
				Message:      msg.Error,
				Result:       msg.Result,
			})
		}

	case typePing:

	case typeClose:
		if msg.Error != "" {
			return fmt.Errorf("%w: %s", ErrServerClosed, msg.Error)
		}
		return ErrServerClosed

	default:
		m.logDebug("ignoring hub frame", "type", msg.Type)
	}
	return nil
}

// keepAlive pings the server until done is closed.
func (m *Manager) keepAlive(c *conn, done <-chan struct{}) {
	ticker := time.NewTicker(m.keepAliveInterval)
	defer ticker.Stop()

	ping := message{Type: typePing}
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.writeFrame(ping); err != nil {
				m.logDebug("hub ping failed", "error", err)
			}
		}
	}
}

// wait sleeps for d. It returns false if the manager is stopping.
func (m *Manager) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-m.done:
		return false
	case <-timer.C:
		return true
	}
}

func (m *Manager) stopping(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-m.done:
		return true
	default:
		return false
	}
}

func (m *Manager) current() *conn {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return m.conn
}

func (m *Manager) setConn(c *conn, connID string) {
	m.connMu.Lock()
	m.conn = c
	m.connID = connID
	m.connMu.Unlock()
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.loggerMu.Lock()
	m.logger = logger
	m.loggerMu.Unlock()
}

func (m *Manager) getLogger() Logger {
	m.loggerMu.RLock()
	defer m.loggerMu.RUnlock()
	return m.logger
}

// logInfo logs an info message if logger is set.
func (m *Manager) logInfo(msg string, keysAndValues ...any) {
	if logger := m.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (m *Manager) logError(msg string, err error, keysAndValues ...any) {
	if logger := m.getLogger(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}

// logDebug logs a debug message if logger is set.
func (m *Manager) logDebug(msg string, keysAndValues ...any) {
	if logger := m.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
