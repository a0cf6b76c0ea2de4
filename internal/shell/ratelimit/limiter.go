// Package ratelimit wraps outbound RPC calls with HTTP 429 handling: it
// computes a backoff window from server hints, parks concurrent callers while
// the window is open, and replays them together once it clears.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/anchorwave/deployer/internal/shell/events"
)

// ErrClosed is returned to callers parked in a limiter that was closed.
var ErrClosed = errors.New("rate limiter closed")

// Doer issues one HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// =============================================================================
// Config
// =============================================================================

// Config configures the limiter's backoff behavior.
type Config struct {
	// InitialBackoff seeds the exponential window used when the server
	// sends no Retry-After hint. Default: 1 second.
	InitialBackoff time.Duration

	// MaxBackoff caps any computed window. Default: 60 seconds.
	MaxBackoff time.Duration

	// MaxRetries is how many times a single call is re-attempted after 429
	// before the last 429 response is returned untouched. Default: 3.
	MaxRetries int
}

func (c *Config) applyDefaults() {
	if c.InitialBackoff == 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = 60 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

// =============================================================================
// Limiter
// =============================================================================

// Limiter is the shared rate-limit gate in front of RPC HTTP calls. All state
// transitions happen under one mutex; the reset time only ever extends while
// limited, never shrinks.
type Limiter struct {
	doer   Doer
	cfg    Config
	hub    *events.Hub
	logger *slog.Logger

	mu         sync.Mutex
	limited    bool
	resetAt    time.Time
	multiplier int // exponent for the no-hint backoff
	recovering bool
	waitCh     chan struct{}
	closed     bool
}

// New creates a limiter in front of doer. hub may be nil.
func New(doer Doer, cfg Config, hub *events.Hub, logger *slog.Logger) *Limiter {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		doer:   doer,
		cfg:    cfg,
		hub:    hub,
		logger: logger.With("component", "ratelimit"),
		waitCh: make(chan struct{}),
	}
}

// Do issues the request through the limiter. While the shared window is open
// the call parks; after it clears the call is issued (or re-issued). A call
// that keeps hitting 429 past MaxRetries gets the last 429 back untouched so
// the caller decides what to do with it.
func (l *Limiter) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	for try := 0; ; try++ {
		if err := l.await(ctx); err != nil {
			return nil, err
		}

		if try > 0 && req.Body != nil {
			if req.GetBody == nil {
				return nil, fmt.Errorf("cannot replay request without GetBody")
			}
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("replay request body: %w", err)
			}
			req.Body = body
		}

		resp, err := l.doer.Do(req.WithContext(ctx))
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			l.observeSuccess()
			return resp, nil
		}

		if try >= l.cfg.MaxRetries {
			return resp, nil
		}

		l.enterLimited(resp)
		drain(resp)
	}
}

// Close releases any parked callers with ErrClosed and rejects future calls.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.waitCh)
	l.waitCh = make(chan struct{})
}

// Limited reports the current shared state and the time it is believed to
// clear.
func (l *Limiter) Limited() (bool, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limited, l.resetAt
}

// =============================================================================
// State Transitions
// =============================================================================

// await parks the caller until the limiter is healthy, the context ends, or
// the limiter closes.
func (l *Limiter) await(ctx context.Context) error {
	l.mu.Lock()
	for {
		if l.closed {
			l.mu.Unlock()
			return ErrClosed
		}
		if !l.limited {
			l.mu.Unlock()
			return nil
		}
		ch := l.waitCh
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
		l.mu.Lock()
	}
}

// enterLimited opens (or extends) the shared window after a 429.
func (l *Limiter) enterLimited(resp *http.Response) {
	hint := parseRetryAfter(resp)

	l.mu.Lock()
	delay := hint
	if delay <= 0 {
		delay = l.cfg.InitialBackoff << l.multiplier
	}
	if delay > l.cfg.MaxBackoff {
		delay = l.cfg.MaxBackoff
	}
	l.multiplier++
	l.recovering = true

	until := time.Now().Add(delay)
	if until.After(l.resetAt) {
		l.resetAt = until
	}
	l.limited = true
	resetAt := l.resetAt
	l.mu.Unlock()

	l.logger.Warn("rate limited",
		"backoff", delay,
		"reset_at", resetAt,
		"retry_after_hint", hint > 0,
	)
	l.publish(events.Event{
		Type:    events.TypeRateLimit,
		Status:  "limited",
		Message: fmt.Sprintf("rate limited, backing off %s", delay),
		Delay:   delay,
	})

	time.AfterFunc(time.Until(resetAt), l.release)
}

// release closes the window once the reset time has genuinely passed. A
// timer scheduled before the window was extended wakes nobody.
func (l *Limiter) release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || !l.limited || time.Now().Before(l.resetAt) {
		return
	}
	l.limited = false
	close(l.waitCh)
	l.waitCh = make(chan struct{})
}

// observeSuccess resets the backoff multiplier on the first success after a
// limited window and emits the recovery event.
func (l *Limiter) observeSuccess() {
	l.mu.Lock()
	recovered := l.recovering && !l.limited
	if recovered {
		l.recovering = false
		l.multiplier = 0
	}
	l.mu.Unlock()

	if recovered {
		l.logger.Info("rate limit recovered")
		l.publish(events.Event{
			Type:    events.TypeRateLimit,
			Status:  "recovered",
			Message: "rate limit cleared",
		})
	}
}

func (l *Limiter) publish(e events.Event) {
	if l.hub != nil {
		l.hub.Publish(e)
	}
}

// =============================================================================
// Helpers
// =============================================================================

// parseRetryAfter reads the Retry-After header: either delay seconds or an
// HTTP date. Returns 0 when absent or unparseable.
func parseRetryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d < 0 {
			return 0
		}
		return d
	}
	return 0
}

// drain discards a response body we will not return, so the underlying
// connection can be reused.
func drain(resp *http.Response) {
	if resp.Body != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}
}
