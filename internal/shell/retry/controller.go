// Package retry drives deployment attempts through the session state
// machine: IDLE → RUNNING → (SUCCEEDED | WAITING → RUNNING | FAILED |
// CANCELLED). Transient failures are retried with capped exponential
// backoff; permanent failures and cancellations end the session at once.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/anchorwave/deployer/internal/core/backoff"
	"github.com/anchorwave/deployer/internal/core/classify"
	"github.com/anchorwave/deployer/internal/core/domain"
	"github.com/anchorwave/deployer/internal/shell/events"
)

// Deployer performs one deployment attempt. The soroban CLI adapter is the
// production implementation.
type Deployer interface {
	Deploy(ctx context.Context, req domain.DeployRequest) (*domain.DeployOutcome, error)
}

// =============================================================================
// Config
// =============================================================================

// Config configures the retry controller.
type Config struct {
	// MaxAttempts bounds attempts per session. Default: 3.
	MaxAttempts int

	// AttemptTimeout bounds a single attempt. A timed-out attempt counts
	// as a transient failure. Default: 5 minutes.
	AttemptTimeout time.Duration

	// InitialDelay, Multiplier, and MaxDelay shape the backoff schedule.
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration

	// Jitter applies ±15% randomization to computed delays.
	Jitter bool

	// HistoryLimit bounds retained finished sessions. Default: 50.
	HistoryLimit int
}

// DefaultConfig returns the standard controller configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		AttemptTimeout: 5 * time.Minute,
		InitialDelay:   backoff.DefaultInitial,
		Multiplier:     backoff.DefaultMultiplier,
		MaxDelay:       backoff.DefaultMax,
		Jitter:         true,
		HistoryLimit:   50,
	}
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.AttemptTimeout == 0 {
		c.AttemptTimeout = 5 * time.Minute
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = backoff.DefaultInitial
	}
	if c.Multiplier == 0 {
		c.Multiplier = backoff.DefaultMultiplier
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = backoff.DefaultMax
	}
	if c.HistoryLimit == 0 {
		c.HistoryLimit = 50
	}
}

// =============================================================================
// Controller
// =============================================================================

// Controller runs deploy sessions. Safe for concurrent use; each Deploy call
// owns its session exclusively until it is appended to the shared history.
type Controller struct {
	deployer Deployer
	cfg      Config
	policy   backoff.Policy
	hub      *events.Hub
	logger   *slog.Logger

	rndMu sync.Mutex
	rnd   *rand.Rand

	histMu  sync.Mutex
	history []*domain.Session // most recent first
}

// New creates a retry controller. hub may be nil.
func New(deployer Deployer, cfg Config, hub *events.Hub, logger *slog.Logger) *Controller {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	jitter := 0.0
	if cfg.Jitter {
		jitter = backoff.DefaultJitter
	}

	return &Controller{
		deployer: deployer,
		cfg:      cfg,
		policy: backoff.Policy{
			Initial:    cfg.InitialDelay,
			Multiplier: cfg.Multiplier,
			Max:        cfg.MaxDelay,
			Jitter:     jitter,
		},
		hub:    hub,
		logger: logger.With("component", "retry"),
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Deploy runs one session to a terminal status and returns it. The session
// is also appended to the bounded history.
func (c *Controller) Deploy(ctx context.Context, req domain.DeployRequest) *domain.Session {
	sess := domain.NewSession(req)
	logger := c.logger.With("session", sess.ID, "wasm", req.WasmPath, "network", req.Network)

	c.transition(sess, domain.SessionRunning, "", 1, 0)
	logger.Info("deploy session started", "max_attempts", c.cfg.MaxAttempts)

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			c.finish(sess, domain.SessionCancelled, "deployment cancelled")
			return c.record(sess)
		}

		started := time.Now().UTC()
		outcome, err := c.runAttempt(ctx, req)
		rec := domain.Attempt{
			Number:     attempt,
			StartedAt:  started,
			FinishedAt: time.Now().UTC(),
			Duration:   time.Since(started),
			Success:    err == nil,
		}

		if err == nil {
			sess.Attempts = append(sess.Attempts, rec)
			sess.ContractID = outcome.ContractID
			sess.TxHash = outcome.TxHash
			c.finish(sess, domain.SessionSucceeded,
				fmt.Sprintf("deployed on attempt %d: %s", attempt, outcome.ContractID))
			logger.Info("deploy succeeded",
				"attempt", attempt,
				"contract_id", outcome.ContractID,
			)
			return c.record(sess)
		}

		kind := classify.Of(err)
		rec.Error = err.Error()
		rec.ErrorKind = kind

		if kind == domain.KindCancelled {
			sess.Attempts = append(sess.Attempts, rec)
			c.finish(sess, domain.SessionCancelled, "deployment cancelled")
			logger.Info("deploy cancelled", "attempt", attempt)
			return c.record(sess)
		}

		if !kind.Retryable() {
			sess.Attempts = append(sess.Attempts, rec)
			c.finish(sess, domain.SessionFailed,
				fmt.Sprintf("permanent error on attempt %d: %s", attempt, err))
			logger.Warn("deploy failed permanently", "attempt", attempt, "error", err, "kind", kind)
			return c.record(sess)
		}

		if attempt == c.cfg.MaxAttempts {
			sess.Attempts = append(sess.Attempts, rec)
			c.finish(sess, domain.SessionFailed,
				fmt.Sprintf("exhausted %d attempts: %s", c.cfg.MaxAttempts, err))
			logger.Warn("deploy attempts exhausted", "attempts", c.cfg.MaxAttempts, "error", err)
			return c.record(sess)
		}

		delay := c.nextDelay(attempt)
		rec.NextDelay = delay
		sess.Attempts = append(sess.Attempts, rec)

		c.transition(sess, domain.SessionWaiting, err.Error(), attempt, delay)
		logger.Info("attempt failed, backing off",
			"attempt", attempt,
			"error", err,
			"delay", delay,
		)

		if !sleepCtx(ctx, delay) {
			c.finish(sess, domain.SessionCancelled, "deployment cancelled while waiting")
			logger.Info("deploy cancelled during backoff", "attempt", attempt)
			return c.record(sess)
		}

		c.transition(sess, domain.SessionRunning, "", attempt+1, 0)
	}

	// Unreachable: the loop always returns. Kept for the compiler.
	return c.record(sess)
}

// =============================================================================
// History
// =============================================================================

// History returns finished sessions, most recent first.
func (c *Controller) History() []*domain.Session {
	c.histMu.Lock()
	defer c.histMu.Unlock()
	out := make([]*domain.Session, len(c.history))
	copy(out, c.history)
	return out
}

// Session looks a finished session up by ID.
func (c *Controller) Session(id string) (*domain.Session, bool) {
	c.histMu.Lock()
	defer c.histMu.Unlock()
	for _, s := range c.history {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// record appends a terminal session to the bounded history, evicting the
// oldest entry first.
func (c *Controller) record(sess *domain.Session) *domain.Session {
	c.histMu.Lock()
	defer c.histMu.Unlock()
	c.history = append([]*domain.Session{sess}, c.history...)
	if len(c.history) > c.cfg.HistoryLimit {
		c.history = c.history[:c.cfg.HistoryLimit]
	}
	return sess
}

// =============================================================================
// Attempt Execution
// =============================================================================

// runAttempt races the deploy operation against the per-attempt timeout and
// session cancellation. Exactly one outcome is honored; the losing sources
// are cleaned up via the attempt context.
func (c *Controller) runAttempt(ctx context.Context, req domain.DeployRequest) (*domain.DeployOutcome, error) {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type attemptResult struct {
		outcome *domain.DeployOutcome
		err     error
	}
	done := make(chan attemptResult, 1)
	go func() {
		outcome, err := c.deployer.Deploy(attemptCtx, req)
		done <- attemptResult{outcome, err}
	}()

	timer := time.NewTimer(c.cfg.AttemptTimeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.outcome, r.err
	case <-timer.C:
		cancel()
		return nil, &domain.DeployError{
			Kind:    domain.KindTransient,
			Summary: fmt.Sprintf("attempt timed out after %s", c.cfg.AttemptTimeout),
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// nextDelay computes the jittered backoff after the given attempt.
func (c *Controller) nextDelay(attempt int) time.Duration {
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.policy.Delay(attempt, c.rnd)
}

// =============================================================================
// Status Transitions
// =============================================================================

// transition moves a live session to a non-terminal status and emits the
// status event.
func (c *Controller) transition(sess *domain.Session, status domain.SessionStatus, lastError string, attempt int, delay time.Duration) {
	sess.Status = status
	c.publish(sess, lastError, attempt, delay)
}

// finish moves a session to a terminal status, stamps it, and emits the
// status event. Terminal statuses are never left again.
func (c *Controller) finish(sess *domain.Session, status domain.SessionStatus, summary string) {
	sess.Status = status
	sess.Summary = summary
	sess.FinishedAt = time.Now().UTC()
	c.publish(sess, "", len(sess.Attempts), 0)
}

func (c *Controller) publish(sess *domain.Session, lastError string, attempt int, delay time.Duration) {
	if c.hub == nil {
		return
	}
	msg := sess.Summary
	if lastError != "" {
		msg = lastError
	}
	c.hub.Publish(events.Event{
		Type:        events.TypeSession,
		SessionID:   sess.ID,
		Status:      string(sess.Status),
		Message:     msg,
		Attempt:     attempt,
		MaxAttempts: c.cfg.MaxAttempts,
		Delay:       delay,
	})
}

// sleepCtx sleeps for d, returning false if the context ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
