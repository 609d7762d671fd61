package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Default listener settings.
const (
	// DefaultPort is the UDP port devices broadcast on.
	DefaultPort = 5390

	// DefaultPrefix marks a discovery announcement.
	DefaultPrefix = "OPENHANDY_DISCOVERY"

	// DefaultReceiveTimeout bounds each receive so Stop is noticed promptly.
	DefaultReceiveTimeout = time.Second

	// maxPacketSize is the receive buffer size.
	maxPacketSize = 4096
)

// ipPattern extracts the announced address from "... ip=10.20.0.101 ...".
var ipPattern = regexp.MustCompile(`\bip=([0-9]+\.[0-9]+\.[0-9]+\.[0-9]+)`)

// Logger is the logging interface used by the listener.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options holds configuration for creating a Listener.
type Options struct {
	// Port is the UDP port to bind on all interfaces. Default: 5390.
	// Use -1 to bind an ephemeral port.
	Port int

	// Prefix is the required packet prefix. Default: "OPENHANDY_DISCOVERY".
	Prefix string

	// ReceiveTimeout bounds each blocking receive. Default: 1s.
	ReceiveTimeout time.Duration

	// OnDiscover is called once, with the first valid announcement. Required.
	OnDiscover func(address, raw string)

	// Logger is an optional structured logger.
	Logger Logger
}

// Listener receives device announcements and reports the first one.
// Later announcements, including from other devices, are ignored.
type Listener struct {
	port           int
	prefix         string
	receiveTimeout time.Duration
	onDiscover     func(address, raw string)

	conn   net.PacketConn
	locked atomic.Bool
	device atomic.Pointer[string]

	packets atomic.Uint64

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a discovery listener. Call Start to bind and receive.
func New(opts Options) (*Listener, error) {
	if opts.OnDiscover == nil {
		return nil, fmt.Errorf("discover callback is required")
	}
	if opts.Port > 65535 || opts.Port < -1 {
		return nil, fmt.Errorf("invalid port %d", opts.Port)
	}

	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.Port == -1 {
		opts.Port = 0
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.ReceiveTimeout <= 0 {
		opts.ReceiveTimeout = DefaultReceiveTimeout
	}

	return &Listener{
		port:           opts.Port,
		prefix:         opts.Prefix,
		receiveTimeout: opts.ReceiveTimeout,
		onDiscover:     opts.OnDiscover,
		done:           make(chan struct{}),
		logger:         opts.Logger,
	}, nil
}

// Start binds the UDP port with SO_REUSEADDR and starts the receive loop.
// A bind failure is returned and the listener stays inactive.
func (l *Listener) Start(ctx context.Context) error {
	lc := net.ListenConfig{Control: reuseAddr}
	conn, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf(":%d", l.port))
	if err != nil {
		l.logError("failed to bind UDP discovery socket", err, "port", l.port)
		return fmt.Errorf("binding discovery port %d: %w", l.port, err)
	}
	l.conn = conn

	l.logInfo("discovery listener started",
		"address", conn.LocalAddr().String(),
		"prefix", l.prefix)

	l.wg.Add(1)
	go l.receiveLoop(ctx)
	return nil
}

// Stop ends the receive loop and closes the socket. Safe to call multiple
// times, and before Start.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
		l.wg.Wait()
		if l.conn != nil {
			l.conn.Close() //nolint:errcheck // best effort on shutdown
		}
		l.logInfo("discovery listener stopped")
	})
}

// Addr returns the bound address, or nil before Start.
func (l *Listener) Addr() net.Addr {
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Device returns the locked device address, or "" if none yet.
func (l *Listener) Device() string {
	if p := l.device.Load(); p != nil {
		return *p
	}
	return ""
}

// PacketsReceived returns the number of datagrams read.
func (l *Listener) PacketsReceived() uint64 {
	return l.packets.Load()
}

// receiveLoop reads datagrams until Stop or context cancellation.
func (l *Listener) receiveLoop(ctx context.Context) {
	defer l.wg.Done()

	buf := make([]byte, maxPacketSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		default:
		}

		l.conn.SetReadDeadline(time.Now().Add(l.receiveTimeout)) //nolint:errcheck // deadline errors surface on read
		n, addr, err := l.conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if !errors.Is(err, net.ErrClosed) {
				l.logError("discovery receive failed", err)
			}
			return
		}

		l.packets.Add(1)
		l.handlePacket(buf[:n], addr)
	}
}

// handlePacket locks onto the first valid announcement.
func (l *Listener) handlePacket(data []byte, from net.Addr) {
	text := strings.TrimSpace(strings.ToValidUTF8(string(data), "�"))

	address, ok := Parse(text, l.prefix, sourceIP(from))
	if !ok {
		return
	}
	if !l.locked.CompareAndSwap(false, true) {
		return
	}
	l.device.Store(&address)

	l.logInfo("device discovered", "device", address, "from", from.String(), "raw", text)
	l.notify(address, text)
}

// notify runs the callback, containing any panic.
func (l *Listener) notify(address, raw string) {
	defer func() {
		if r := recover(); r != nil {
			l.logError("discover callback panic recovered", fmt.Errorf("%v", r))
		}
	}()
	l.onDiscover(address, raw)
}

// Parse reports the device address announced by text. Text must start with
// prefix; the address is taken from an "ip=" field when present, otherwise
// from source. ok is false when no address can be determined.
func Parse(text, prefix string, source net.IP) (address string, ok bool) {
	if !strings.HasPrefix(text, prefix) {
		return "", false
	}
	if m := ipPattern.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	if source == nil {
		return "", false
	}
	return source.String(), true
}

func sourceIP(addr net.Addr) net.IP {
	if udp, ok := addr.(*net.UDPAddr); ok {
		return udp.IP
	}
	return nil
}

// SetLogger sets the logger for the listener.
func (l *Listener) SetLogger(logger Logger) {
	l.loggerMu.Lock()
	l.logger = logger
	l.loggerMu.Unlock()
}

func (l *Listener) getLogger() Logger {
	l.loggerMu.RLock()
	defer l.loggerMu.RUnlock()
	return l.logger
}

// logInfo logs an info message if logger is set.
func (l *Listener) logInfo(msg string, keysAndValues ...any) {
	if logger := l.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (l *Listener) logError(msg string, err error, keysAndValues ...any) {
	if logger := l.getLogger(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
