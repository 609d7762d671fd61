package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/openhandy-bridge/internal/infrastructure/config"
)

// eventQueueSize bounds how many events may wait for the state machine.
// Producers block once it is full.
const eventQueueSize = 64

// Bridge is the state machine that correlates hub connection events, hub
// messages and device discovery into one view of the world, and drives the
// resulting protocol sends and device commands.
//
// All state is owned by a single event loop goroutine started by Start.
// Producers (hub connection, discovery listener) hand events in through Post
// or the On* methods; readers observe state only through Snapshot.
//
// Device commands run synchronously inside the event loop, so a running
// command sequence delays further hub message processing until it completes.
type Bridge struct {
	action        config.ActionConfig
	contextKey    string
	client        string
	clientVersion string

	sender    Sender
	executor  Executor
	publisher MQTTPublisher // optional
	history   ActionHistory // optional
	topics    Topics

	// Loop-owned state. Only touched from the event loop (or tests driving
	// handle directly).
	state state
	stats stats

	snapshot atomic.Pointer[Snapshot]
	lastSent Snapshot

	events   chan Event
	done     chan struct{}
	exited   chan struct{} // closed when the event loop returns
	wg       sync.WaitGroup
	stopOnce sync.Once
	started  atomic.Bool

	logger   Logger
	loggerMu sync.RWMutex
}

// state is the correlated view of the three protocol surfaces.
type state struct {
	connected     bool
	authenticated bool
	userID        string
	userName      string

	session session

	// deviceAddress is latched on the first discovery and never replaced.
	deviceAddress string

	// Injection gates, keyed by session id. Empty means unset.
	injectedFor       string
	loggedNoDeviceFor string
}

// session is the single active chat session. chatID and character are only
// meaningful while id is set.
type session struct {
	id        string
	chatID    string
	character string
}

type stats struct {
	messages   uint64
	actions    uint64
	injections uint64
}

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Sender delivers a message batch over the hub connection. Implementations
// log delivery failures themselves.
type Sender interface {
	Send(batch []any)
}

// Executor runs a device command sequence for an action invocation.
type Executor interface {
	Execute(ctx context.Context, address string, args map[string]string)
}

// Options holds configuration for creating a bridge.
type Options struct {
	// Voxta supplies the context key, client identity and action template.
	Voxta config.VoxtaConfig

	// Sender is the hub connection used for outbound messages.
	Sender Sender

	// Executor runs device command sequences.
	Executor Executor

	// Publisher is an optional MQTT client for status events.
	Publisher MQTTPublisher

	// TopicPrefix roots the status topics. Default: "handybridge".
	TopicPrefix string

	// History is an optional store for action invocations.
	History ActionHistory

	// Logger is an optional structured logger.
	Logger Logger
}

// New creates a bridge. Call Start to begin processing events.
func New(opts Options) (*Bridge, error) {
	if opts.Sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	if opts.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if opts.Voxta.Action.Name == "" {
		return nil, fmt.Errorf("action name is required")
	}

	b := &Bridge{
		action:        opts.Voxta.Action,
		contextKey:    orDefault(opts.Voxta.ContextKey, config.DefaultContextKey),
		client:        orDefault(opts.Voxta.Client, config.DefaultClient),
		clientVersion: orDefault(opts.Voxta.ClientVersion, config.DefaultClientVersion),
		sender:        opts.Sender,
		executor:      opts.Executor,
		publisher:     opts.Publisher,
		history:       opts.History,
		topics:        NewTopics(opts.TopicPrefix),
		events:        make(chan Event, eventQueueSize),
		done:          make(chan struct{}),
		exited:        make(chan struct{}),
		logger:        opts.Logger,
	}
	b.snapshot.Store(&Snapshot{Status: statusOnline, UpdatedAt: time.Now().UTC()})

	return b, nil
}

// Start launches the event loop. Events posted before Start are queued.
func (b *Bridge) Start(ctx context.Context) {
	if !b.started.CompareAndSwap(false, true) {
		return
	}

	b.wg.Add(1)
	go b.run(ctx)

	b.logInfo("bridge started",
		"action", b.action.Name,
		"context_key", b.contextKey)
}

// Stop ends the event loop after the event in progress (including any
// running device sequence) has finished. Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.wg.Wait()
		b.logInfo("bridge stopped")
	})
}

// Post queues an event for the state machine. It returns false once the
// bridge is stopped or its context is cancelled.
func (b *Bridge) Post(ev Event) bool {
	select {
	case <-b.done:
		return false
	case <-b.exited:
		return false
	default:
	}

	select {
	case b.events <- ev:
		return true
	case <-b.done:
		return false
	case <-b.exited:
		return false
	}
}

// OnHubOpen is wired to the hub connection's open notification.
func (b *Bridge) OnHubOpen() { b.Post(Opened{}) }

// OnHubClose is wired to the hub connection's close notification.
func (b *Bridge) OnHubClose(err error) { b.Post(Closed{Err: err}) }

// OnHubError is wired to the hub connection's error notification.
func (b *Bridge) OnHubError(err error) { b.Post(HubError{Err: err}) }

// OnHubMessage is wired to the hub connection's message notification.
func (b *Bridge) OnHubMessage(payload json.RawMessage) { b.Post(MessageBatch{Payload: payload}) }

// OnDeviceDiscovered is wired to the discovery listener callback.
func (b *Bridge) OnDeviceDiscovered(address, raw string) {
	b.Post(Discovered{Address: address, Raw: raw})
}

// Snapshot returns the state as of the last processed event.
func (b *Bridge) Snapshot() Snapshot {
	return *b.snapshot.Load()
}

// run is the event loop; it is the only goroutine touching b.state.
func (b *Bridge) run(ctx context.Context) {
	defer b.wg.Done()
	defer close(b.exited)

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case ev := <-b.events:
			b.dispatch(ctx, ev)
		}
	}
}

// dispatch handles one event, containing any panic so the loop survives.
func (b *Bridge) dispatch(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logError("event handler panic recovered",
				fmt.Errorf("%T: %v", ev, r))
		}
		b.refreshSnapshot()
	}()

	b.handle(ctx, ev)
}

// handle applies one event to the state machine.
func (b *Bridge) handle(ctx context.Context, ev Event) {
	switch e := ev.(type) {
	case Opened:
		b.handleOpened()
	case Closed:
		b.handleClosed(e)
	case HubError:
		b.handleHubError(e)
	case MessageBatch:
		b.handleMessageBatch(ctx, e)
	case Discovered:
		b.handleDiscovered(e)
	default:
		b.logDebug("ignoring unknown event", "event", fmt.Sprintf("%T", ev))
	}
}

// send wraps a single message in a one-element batch.
func (b *Bridge) send(msg any) {
	b.sender.Send([]any{msg})
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if logger is set.
func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
