package device

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// Default executor settings.
const (
	// DefaultRequestTimeout bounds each device HTTP call.
	DefaultRequestTimeout = 2 * time.Second

	// motionPath is the device's motion-control endpoint.
	motionPath = "/api/motion"

	// maxDrainBytes is how much of a response body is read before closing.
	maxDrainBytes = 4096
)

// Step names reported to the Recorder.
const (
	StepSetPattern = "setpattern"
	StepSetSpeed   = "setspeed"
	StepStart      = MotionStart
	StepStop       = MotionStop
)

// Logger is the logging interface used by the executor.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// StepResult describes one device HTTP call.
type StepResult struct {
	Device   string
	Step     string
	Value    int
	HasValue bool
	OK       bool
	Duration time.Duration
	Time     time.Time
}

// Recorder receives a result for every device HTTP call.
type Recorder interface {
	RecordStep(result StepResult)
}

// Options holds configuration for creating an Executor.
type Options struct {
	// Timeout bounds each HTTP call. Default: 2s.
	Timeout time.Duration

	// Debounce is the pause after the pattern and speed calls. Zero
	// disables it; negative values are treated as zero. The configured
	// default (device.debounce_ms) is 100ms.
	Debounce time.Duration

	// HTTPClient issues the device calls. Default: a client with Timeout.
	HTTPClient *http.Client

	// Recorder is an optional sink for per-call telemetry.
	Recorder Recorder

	// Logger is an optional structured logger.
	Logger Logger
}

// Executor translates action arguments into the device's HTTP command
// sequence: setpattern, then setspeed (when given), then start or stop.
//
// Thread Safety: Execute is safe for concurrent use; sequences run one at a
// time in call order.
type Executor struct {
	timeout  time.Duration
	debounce time.Duration
	client   *http.Client
	recorder Recorder

	// mu admits one command sequence at a time.
	mu sync.Mutex

	logger   Logger
	loggerMu sync.RWMutex
}

// NewExecutor creates a device executor.
func NewExecutor(opts Options) *Executor {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultRequestTimeout
	}
	if opts.Debounce < 0 {
		opts.Debounce = 0
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}

	return &Executor{
		timeout:  opts.Timeout,
		debounce: opts.Debounce,
		client:   opts.HTTPClient,
		recorder: opts.Recorder,
		logger:   opts.Logger,
	}
}

// Execute runs the command sequence for one action invocation against the
// device at address (host or host:port). Failed calls are logged and the
// sequence continues; invalid arguments skip or default their step.
func (e *Executor) Execute(ctx context.Context, address string, args map[string]string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if address == "" {
		e.logWarn("cannot execute device action", "error", ErrNoDevice)
		return
	}

	cmd := ParseCommand(args)
	base := "http://" + address

	// 1. Pattern, always.
	mode, err := cmd.Pattern()
	if err != nil {
		e.logWarn("unknown stroke type, defaulting to sine", "stroke_type", cmd.StrokeType, "mode", mode)
	}
	e.call(ctx, base, address, StepSetPattern, url.Values{
		"action": {StepSetPattern},
		"mode":   {strconv.Itoa(mode)},
	}, mode, true)
	e.pause(ctx)

	// 2. Speed, only when it is a valid integer.
	if cmd.HasSpeed() {
		sp, err := cmd.ClampedSpeed()
		if err != nil {
			e.logWarn("invalid speed, skipping setspeed", "speed", cmd.Speed)
		} else {
			e.call(ctx, base, address, StepSetSpeed, url.Values{
				"action": {StepSetSpeed},
				"sp":     {strconv.Itoa(sp)},
			}, sp, true)
			e.pause(ctx)
		}
	}

	// 3. Start or stop.
	motion, err := cmd.Motion()
	if err != nil {
		e.logWarn("unknown motion state, skipping start/stop", "motion_state", cmd.MotionState)
		return
	}
	e.call(ctx, base, address, motion, url.Values{"action": {motion}}, 0, false)
}

// call issues one GET. Only transport failures count as errors; the
// response body is discarded.
func (e *Executor) call(ctx context.Context, base, address, step string, query url.Values, value int, hasValue bool) {
	target := base + motionPath + "?" + encodeQuery(query)

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	err := e.get(ctx, target)
	elapsed := time.Since(start)

	if err != nil {
		e.logError("device request failed", err, "step", step, "device", address)
	} else {
		e.logInfo("device request", "url", target, "duration_ms", elapsed.Milliseconds())
	}

	if e.recorder != nil {
		e.recorder.RecordStep(StepResult{
			Device:   address,
			Step:     step,
			Value:    value,
			HasValue: hasValue,
			OK:       err == nil,
			Duration: elapsed,
			Time:     start.UTC(),
		})
	}
}

func (e *Executor) get(ctx context.Context, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes)) //nolint:errcheck // drain for connection reuse
	return nil
}

// pause waits for the debounce interval. Cancellation cuts it short.
func (e *Executor) pause(ctx context.Context) {
	if e.debounce <= 0 {
		return
	}
	timer := time.NewTimer(e.debounce)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// encodeQuery keeps "action" first so request URLs read naturally in logs.
func encodeQuery(q url.Values) string {
	action := q.Get("action")
	rest := url.Values{}
	for k, v := range q {
		if k != "action" {
			rest[k] = v
		}
	}

	encoded := "action=" + url.QueryEscape(action)
	if len(rest) > 0 {
		encoded += "&" + rest.Encode()
	}
	return encoded
}

// SetLogger sets the logger for the executor.
func (e *Executor) SetLogger(logger Logger) {
	e.loggerMu.Lock()
	e.logger = logger
	e.loggerMu.Unlock()
}

func (e *Executor) getLogger() Logger {
	e.loggerMu.RLock()
	defer e.loggerMu.RUnlock()
	return e.logger
}

// logInfo logs an info message if logger is set.
func (e *Executor) logInfo(msg string, keysAndValues ...any) {
	if logger := e.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if logger is set.
func (e *Executor) logWarn(msg string, keysAndValues ...any) {
	if logger := e.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (e *Executor) logError(msg string, err error, keysAndValues ...any) {
	if logger := e.getLogger(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
