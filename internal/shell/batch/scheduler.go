// Package batch runs many deployment items with declared dependencies,
// either sequentially or in dependency-ordered concurrent waves. One item's
// failure never aborts the batch; it propagates to dependents as a skip.
package batch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anchorwave/deployer/internal/core/domain"
	"github.com/anchorwave/deployer/internal/core/waves"
	"github.com/anchorwave/deployer/internal/shell/events"
)

// Deployer runs one deployment through the retry controller and returns its
// finished session. *retry.Controller satisfies it.
type Deployer interface {
	Deploy(ctx context.Context, req domain.DeployRequest) *domain.Session
}

// Builder compiles a contract directory into a wasm artifact. *soroban.CLI
// satisfies it.
type Builder interface {
	Build(ctx context.Context, dir string) (string, error)
}

// =============================================================================
// Options
// =============================================================================

// Mode selects the execution strategy.
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeParallel   Mode = "parallel"
)

// DefaultConcurrency is the parallel-wave worker pool size.
const DefaultConcurrency = 3

// Options configures one batch run.
type Options struct {
	Mode        Mode
	Concurrency int

	// Network and Source are defaults for items that do not set their own.
	Network string
	Source  string
}

func (o *Options) applyDefaults() {
	if o.Mode == "" {
		o.Mode = ModeSequential
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
}

// =============================================================================
// Scheduler
// =============================================================================

// Scheduler executes deployment batches.
type Scheduler struct {
	deployer Deployer
	builder  Builder
	hub      *events.Hub
	logger   *slog.Logger
}

// New creates a batch scheduler. hub may be nil.
func New(deployer Deployer, builder Builder, hub *events.Hub, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		deployer: deployer,
		builder:  builder,
		hub:      hub,
		logger:   logger.With("component", "batch"),
	}
}

// Run executes the batch and returns one result per input item, in input
// order, regardless of outcome.
func (s *Scheduler) Run(ctx context.Context, items []domain.BatchItem, opts Options) *domain.BatchResult {
	opts.applyDefaults()
	result := domain.NewBatchResult()
	logger := s.logger.With("batch", result.ID)
	logger.Info("batch started",
		"items", len(items),
		"mode", opts.Mode,
		"concurrency", opts.Concurrency,
	)

	run := newBatchRun(s, result, items, opts, logger)
	switch opts.Mode {
	case ModeParallel:
		run.runParallel(ctx)
	default:
		run.runSequential(ctx)
	}

	result.Cancelled = run.sawCancellation()
	result.Items = run.orderedResults()
	result.FinishedAt = time.Now().UTC()
	logger.Info("batch finished",
		"succeeded", result.Succeeded(),
		"total", len(items),
		"cancelled", result.Cancelled,
	)
	return result
}

// =============================================================================
// Batch Run State
// =============================================================================

// batchRun holds the mutable state of one Run call. Result access is guarded
// by mu because parallel-wave workers finish items concurrently.
type batchRun struct {
	sched  *Scheduler
	opts   Options
	items  []domain.BatchItem
	logger *slog.Logger

	batchID string

	mu        sync.Mutex
	results   map[string]*domain.ItemResult
	done      int
	cancelled bool
}

func newBatchRun(s *Scheduler, result *domain.BatchResult, items []domain.BatchItem, opts Options, logger *slog.Logger) *batchRun {
	return &batchRun{
		sched:   s,
		opts:    opts,
		items:   items,
		logger:  logger,
		batchID: result.ID,
		results: make(map[string]*domain.ItemResult, len(items)),
	}
}

// =============================================================================
// Sequential Mode
// =============================================================================

func (r *batchRun) runSequential(ctx context.Context) {
	for _, item := range r.items {
		if ctx.Err() != nil {
			r.markCancelled(item)
			continue
		}
		if dep, blocked := r.blockingDependency(item); blocked {
			r.markSkipped(item, dep)
			continue
		}
		r.execute(ctx, item)
	}
}

// =============================================================================
// Parallel Mode
// =============================================================================

func (r *batchRun) runParallel(ctx context.Context) {
	for _, wave := range waves.Layer(r.items) {
		// Cancellation at a wave boundary cancels this wave and all
		// later ones.
		if ctx.Err() != nil {
			for _, item := range wave {
				r.markCancelled(item)
			}
			continue
		}

		// Pre-skip items whose dependencies already failed, then run
		// the rest through the worker pool.
		var runnable []domain.BatchItem
		for _, item := range wave {
			if dep, blocked := r.blockingDependency(item); blocked {
				r.markSkipped(item, dep)
				continue
			}
			runnable = append(runnable, item)
		}
		r.runWave(ctx, runnable)
	}
}

// runWave drains runnable items through a bounded worker pool. Each worker
// claims the next unclaimed item via an atomic index until the wave is
// exhausted; a worker that observes cancellation marks what it claims as
// cancelled instead of running it.
func (r *batchRun) runWave(ctx context.Context, runnable []domain.BatchItem) {
	if len(runnable) == 0 {
		return
	}

	workers := r.opts.Concurrency
	if workers > len(runnable) {
		workers = len(runnable)
	}

	var next atomic.Int64
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for {
				idx := int(next.Add(1)) - 1
				if idx >= len(runnable) {
					return nil
				}
				item := runnable[idx]
				if ctx.Err() != nil {
					r.markCancelled(item)
					continue
				}
				r.execute(ctx, item)
			}
		})
	}
	_ = g.Wait()
}

// =============================================================================
// Item Execution
// =============================================================================

// execute runs one item: validate, build when needed, deploy via the retry
// controller, and record the outcome.
func (r *batchRun) execute(ctx context.Context, item domain.BatchItem) {
	res := &domain.ItemResult{
		ItemID:    item.ID,
		Name:      item.Name,
		Status:    domain.ItemRunning,
		StartedAt: time.Now().UTC(),
	}
	r.publishItem(res)

	if err := item.Validate(); err != nil {
		r.finishItem(res, domain.ItemFailed,
			domain.NewValidationError("item %s: %v", item.ID, err))
		return
	}

	wasm := item.WasmPath
	if item.SourceDir != "" {
		built, err := r.sched.builder.Build(ctx, item.SourceDir)
		if err != nil {
			r.finishBuildFailure(res, err)
			return
		}
		wasm = built
	}

	sess := r.sched.deployer.Deploy(ctx, domain.DeployRequest{
		WasmPath: wasm,
		Network:  r.network(item),
		Source:   r.source(item),
	})

	res.ContractID = sess.ContractID
	res.TxHash = sess.TxHash
	res.Summary = sess.Summary

	switch sess.Status {
	case domain.SessionSucceeded:
		r.finishItem(res, domain.ItemSucceeded, nil)
	case domain.SessionCancelled:
		r.finishItem(res, domain.ItemCancelled, nil)
	default:
		var derr *domain.DeployError
		if last := sess.LastAttempt(); last != nil {
			derr = &domain.DeployError{
				Kind:    last.ErrorKind,
				Summary: sess.Summary,
				Detail:  last.Error,
			}
		} else {
			derr = &domain.DeployError{Kind: domain.KindExecution, Summary: sess.Summary}
		}
		r.finishItem(res, domain.ItemFailed, derr)
	}
}

func (r *batchRun) finishBuildFailure(res *domain.ItemResult, err error) {
	derr, ok := domain.AsDeployError(err)
	if !ok {
		derr = domain.NewExecutionError("build failed", err.Error(), err)
	}
	if derr.Kind == domain.KindCancelled {
		r.finishItem(res, domain.ItemCancelled, nil)
		return
	}
	r.finishItem(res, domain.ItemFailed, derr)
}

// =============================================================================
// Result Recording
// =============================================================================

func (r *batchRun) finishItem(res *domain.ItemResult, status domain.ItemStatus, derr *domain.DeployError) {
	res.Status = status
	res.FinishedAt = time.Now().UTC()
	res.Error = derr
	if res.Summary == "" && derr != nil {
		res.Summary = derr.Summary
	}

	r.mu.Lock()
	r.results[res.ItemID] = res
	r.done++
	done := r.done
	if status == domain.ItemCancelled {
		r.cancelled = true
	}
	r.mu.Unlock()

	r.publishItem(res)
	r.publishProgress(done)
	r.logger.Debug("item finished", "item", res.ItemID, "status", status)
}

func (r *batchRun) markSkipped(item domain.BatchItem, blockedBy string) {
	now := time.Now().UTC()
	res := &domain.ItemResult{
		ItemID:     item.ID,
		Name:       item.Name,
		Status:     domain.ItemSkipped,
		StartedAt:  now,
		FinishedAt: now,
		BlockedBy:  blockedBy,
		Summary:    "skipped: dependency " + blockedBy + " did not succeed",
	}

	r.mu.Lock()
	r.results[item.ID] = res
	r.done++
	done := r.done
	r.mu.Unlock()

	r.publishItem(res)
	r.publishProgress(done)
	r.logger.Info("item skipped", "item", item.ID, "blocked_by", blockedBy)
}

func (r *batchRun) markCancelled(item domain.BatchItem) {
	now := time.Now().UTC()
	res := &domain.ItemResult{
		ItemID:     item.ID,
		Name:       item.Name,
		Status:     domain.ItemCancelled,
		StartedAt:  now,
		FinishedAt: now,
		Summary:    "batch cancelled",
	}

	r.mu.Lock()
	r.results[item.ID] = res
	r.done++
	done := r.done
	r.cancelled = true
	r.mu.Unlock()

	r.publishItem(res)
	r.publishProgress(done)
}

// blockingDependency returns the first dependency of the item that resolved
// to failed, cancelled, or skipped. Dependencies with no recorded result
// (outside the batch, or not yet run) do not block.
func (r *batchRun) blockingDependency(item domain.BatchItem) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dep := range item.DependsOn {
		if res, ok := r.results[dep]; ok {
			switch res.Status {
			case domain.ItemFailed, domain.ItemCancelled, domain.ItemSkipped:
				return dep, true
			}
		}
	}
	return "", false
}

func (r *batchRun) sawCancellation() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

// orderedResults returns one result per input item, in input order.
func (r *batchRun) orderedResults() []domain.ItemResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.ItemResult, 0, len(r.items))
	for _, item := range r.items {
		if res, ok := r.results[item.ID]; ok {
			out = append(out, *res)
		}
	}
	return out
}

// =============================================================================
// Defaults / Events
// =============================================================================

func (r *batchRun) network(item domain.BatchItem) string {
	if item.Network != "" {
		return item.Network
	}
	return r.opts.Network
}

func (r *batchRun) source(item domain.BatchItem) string {
	if item.Source != "" {
		return item.Source
	}
	return r.opts.Source
}

func (r *batchRun) publishItem(res *domain.ItemResult) {
	if r.sched.hub == nil {
		return
	}
	r.sched.hub.Publish(events.Event{
		Type:    events.TypeBatchItem,
		BatchID: r.batchID,
		ItemID:  res.ItemID,
		Status:  string(res.Status),
		Message: res.Summary,
	})
}

func (r *batchRun) publishProgress(done int) {
	if r.sched.hub == nil {
		return
	}
	r.sched.hub.Publish(events.Event{
		Type:    events.TypeBatchProgress,
		BatchID: r.batchID,
		Done:    done,
		Total:   len(r.items),
	})
}
