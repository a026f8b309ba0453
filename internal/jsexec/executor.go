package jsexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/standardbeagle/wvbridge/internal/protocol"
	"github.com/standardbeagle/wvbridge/internal/window"
)

// Mode is the strategy used to get a script's value back from a surface.
type Mode string

const (
	// ModeDirect reads the value from the platform's evaluation callback.
	ModeDirect Mode = "direct"
	// ModePolled starts an async snippet and polls a window global for it.
	ModePolled Mode = "polled"
	// ModeReported waits for the page runtime to report the value back.
	ModeReported Mode = "reported"
)

// Options tune an Executor. Zero fields take the defaults.
type Options struct {
	Timeout      time.Duration // 5s
	PollInterval time.Duration // 50ms
	PollTimeout  time.Duration // 5s
	ProbeTimeout time.Duration // 100ms
	Logger       *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 50 * time.Millisecond
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = 5 * time.Second
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 100 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Executor runs snippets in surfaces and waits for their values.
type Executor struct {
	store *Store
	opts  Options
	log   *slog.Logger
}

// NewExecutor creates an executor that correlates runs through store.
func NewExecutor(store *Store, opts Options) *Executor {
	opts.applyDefaults()
	return &Executor{
		store: store,
		opts:  opts,
		log:   opts.Logger.With("component", "jsexec"),
	}
}

// Store returns the correlation store the executor uses.
func (e *Executor) Store() *Store {
	return e.store
}

// ModeFor picks the delivery strategy for script on a surface with caps.
func ModeFor(caps window.Capabilities, script string) Mode {
	switch {
	case !caps.DirectResult:
		return ModeReported
	case IsAsync(script):
		return ModePolled
	default:
		return ModeDirect
	}
}

// Execute runs script in surf. A script that throws yields a Result with
// Success false and a nil error; the error return is reserved for failures of
// the bridge itself such as timeouts or a surface refusing the script.
func (e *Executor) Execute(ctx context.Context, surf window.Surface, script string) (Result, error) {
	if strings.TrimSpace(script) == "" {
		return Result{}, fmt.Errorf("%w: script is empty", protocol.ErrMalformedRequest)
	}

	prepared := Prepare(script)
	mode := ModeFor(surf.Capabilities(), script)
	e.log.Debug("executing script",
		"window", surf.Label(),
		"mode", mode,
		"script", preview(script, 100))

	switch mode {
	case ModeDirect:
		raw, err := e.probe(ctx, surf, WrapSync(prepared), e.opts.Timeout)
		if err != nil {
			return Result{}, err
		}
		return decodeResult(raw), nil
	case ModePolled:
		return e.executePolled(ctx, surf, prepared)
	default:
		return e.executeReported(ctx, surf, prepared)
	}
}

func (e *Executor) executeReported(ctx context.Context, surf window.Surface, prepared string) (Result, error) {
	id, err := e.store.Begin()
	if err != nil {
		return Result{}, err
	}
	if err := surf.Eval(WrapReported(prepared, id)); err != nil {
		e.store.Discard(id)
		return Result{}, fmt.Errorf("eval in window '%s': %w", surf.Label(), err)
	}
	return e.store.Await(ctx, id, e.opts.Timeout)
}

func (e *Executor) executePolled(ctx context.Context, surf window.Surface, prepared string) (Result, error) {
	id := NewID()
	initial, err := e.probe(ctx, surf, WrapPolled(prepared, id), e.opts.ProbeTimeout)
	if err != nil {
		return Result{}, err
	}
	if !isPending(initial) {
		e.cleanup(surf, id)
		return decodeResult(initial), nil
	}

	pollCtx, cancel := context.WithTimeout(ctx, e.opts.PollTimeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(e.opts.PollInterval), 1)
	limiter.Allow() // first poll waits a full interval

	for {
		if err := limiter.Wait(pollCtx); err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			return Result{}, fmt.Errorf("async script %s after %s: %w", id, e.opts.PollTimeout, protocol.ErrTimeout)
		}

		value, err := e.probe(pollCtx, surf, PollExpression(id), e.opts.ProbeTimeout)
		if err != nil {
			if errors.Is(err, protocol.ErrChannelClosed) {
				return Result{}, err
			}
			e.log.Debug("poll probe failed", "exec_id", id, "error", err)
			continue
		}
		if value == "" || value == "null" || value == "undefined" {
			continue
		}
		e.cleanup(surf, id)
		return decodeResult(value), nil
	}
}

// probe evaluates code through the surface's result callback and waits for
// the value, correlating the callback through the store.
func (e *Executor) probe(ctx context.Context, surf window.Surface, code string, timeout time.Duration) (string, error) {
	id, err := e.store.Begin()
	if err != nil {
		return "", err
	}

	err = surf.EvalWithResult(code, func(value string, evalErr error) {
		r := Result{Success: evalErr == nil}
		if evalErr != nil {
			r.Error = evalErr.Error()
		} else {
			r.Data, _ = json.Marshal(value)
		}
		e.store.Resolve(id, r)
	})
	if err != nil {
		e.store.Discard(id)
		return "", fmt.Errorf("eval in window '%s': %w", surf.Label(), err)
	}

	r, err := e.store.Await(ctx, id, timeout)
	if err != nil {
		return "", err
	}
	if !r.Success {
		return "", fmt.Errorf("eval in window '%s': %s", surf.Label(), r.Error)
	}
	var value string
	if err := json.Unmarshal(r.Data, &value); err != nil {
		return "", fmt.Errorf("decode eval value: %w", err)
	}
	return value, nil
}

func (e *Executor) cleanup(surf window.Surface, id string) {
	if err := surf.Eval(CleanupExpression(id)); err != nil {
		e.log.Debug("cleanup failed", "exec_id", id, "error", err)
	}
}

// decodeResult parses the JSON text produced by the wrappers. Some platforms
// hand back the JSON string itself JSON-encoded once more.
func decodeResult(raw string) Result {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, `"`) {
		var inner string
		if err := json.Unmarshal([]byte(raw), &inner); err == nil {
			raw = inner
		}
	}
	var r Result
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return Result{Success: false, Error: fmt.Sprintf("failed to parse result: %v", err)}
	}
	return r
}

func isPending(raw string) bool {
	var p struct {
		Pending bool `json:"pending"`
	}
	return json.Unmarshal([]byte(strings.TrimSpace(raw)), &p) == nil && p.Pending
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
