// Package reconciler periodically sweeps stored workflow and sandbox
// state to catch what the event-driven orchestrator can miss: a
// workflow owner that stopped making progress, and a sandbox whose
// destroy call never landed. Adapted from the teacher's
// pkg/reconciler.Reconciler, which runs the same ticking loop over
// nodes and containers instead of workflows and sandboxes.
package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/orbitalci/orbital/pkg/log"
	"github.com/orbitalci/orbital/pkg/metrics"
	"github.com/orbitalci/orbital/pkg/orchestrator"
	"github.com/orbitalci/orbital/pkg/storage"
	"github.com/orbitalci/orbital/pkg/types"
)

// DefaultInterval matches the teacher's 10-second reconciliation tick.
const DefaultInterval = 10 * time.Second

// DefaultStuckThreshold is how long a non-terminal workflow can go
// without LastActivity moving before it is cancelled as stuck.
const DefaultStuckThreshold = 45 * time.Minute

// Reconciler ensures stored workflow/sandbox state matches what the
// orchestrator's owners believe is true, catching drift from crashed
// owners, lost cancel signals, or a sandbox destroy that silently failed.
type Reconciler struct {
	orch     *orchestrator.Orchestrator
	store    storage.Store
	sandbox  orchestrator.SandboxProvisioner
	logger   zerolog.Logger
	interval time.Duration
	stuck    time.Duration

	mu     sync.Mutex
	stopCh chan struct{}
}

// New builds a Reconciler. interval and stuckThreshold fall back to
// DefaultInterval/DefaultStuckThreshold when zero.
func New(orch *orchestrator.Orchestrator, store storage.Store, sandbox orchestrator.SandboxProvisioner, interval, stuckThreshold time.Duration) *Reconciler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if stuckThreshold <= 0 {
		stuckThreshold = DefaultStuckThreshold
	}
	return &Reconciler{
		orch:     orch,
		store:    store,
		sandbox:  sandbox,
		logger:   log.WithComponent("reconciler"),
		interval: interval,
		stuck:    stuckThreshold,
	}
}

// Start begins the reconciliation loop in its own goroutine.
func (r *Reconciler) Start() {
	r.mu.Lock()
	r.stopCh = make(chan struct{})
	stopCh := r.stopCh
	r.mu.Unlock()
	go r.run(stopCh)
}

// Stop halts the reconciliation loop.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopCh != nil {
		close(r.stopCh)
		r.stopCh = nil
	}
}

func (r *Reconciler) run(stopCh chan struct{}) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info().Msg("reconciler started")
	for {
		select {
		case <-ticker.C:
			r.reconcile()
		case <-stopCh:
			r.logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

func (r *Reconciler) reconcile() {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	r.reconcileStuckWorkflows()
	r.reconcileSandboxLeaks()
}

// reconcileStuckWorkflows calls Orchestrator.Cancel for any non-terminal
// stored workflow whose LastActivity has not moved in longer than the
// stuck threshold — typically an external event it was waiting on (a PR
// webhook, an agent response) never arrived. Cancel only acts on
// workflows with a live owner in this process; a stored workflow with no
// live owner is left unchanged.
func (r *Reconciler) reconcileStuckWorkflows() {
	if r.store == nil {
		return
	}
	workflows, err := r.store.ListWorkflows()
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to list workflows during reconciliation")
		return
	}

	now := time.Now()
	for _, wf := range workflows {
		if wf.State.Terminal() {
			continue
		}
		if now.Sub(wf.LastActivity) <= r.stuck {
			continue
		}
		r.logger.Warn().
			Str("workflow_id", wf.ID).
			Str("state", string(wf.State)).
			Dur("stuck_for", now.Sub(wf.LastActivity)).
			Msg("workflow stuck past threshold, cancelling")
		r.orch.Cancel(wf.ID)
	}
}

// reconcileSandboxLeaks finds sandboxes whose owning workflow has
// reached a terminal state but whose record was never marked destroyed,
// and retries the destroy call.
func (r *Reconciler) reconcileSandboxLeaks() {
	if r.store == nil || r.sandbox == nil {
		return
	}
	sandboxes, err := r.store.ListSandboxes()
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to list sandboxes during reconciliation")
		return
	}

	for _, sb := range sandboxes {
		if sb.State == types.SandboxDestroyed {
			continue
		}
		wf, err := r.store.GetWorkflow(sb.WorkflowID)
		if err != nil || !wf.State.Terminal() {
			continue
		}

		metrics.SandboxLeaksTotal.Inc()
		r.logger.Warn().
			Str("sandbox_id", sb.ID).
			Str("workflow_id", sb.WorkflowID).
			Msg("leaked sandbox found for terminal workflow, destroying")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := r.sandbox.Destroy(ctx, sb.ID); err != nil {
			r.logger.Error().Err(err).Str("sandbox_id", sb.ID).Msg("failed to destroy leaked sandbox")
		} else {
			sb.State = types.SandboxDestroyed
			sb.DestroyedAt = time.Now()
			if err := r.store.UpdateSandbox(sb); err != nil {
				r.logger.Error().Err(err).Str("sandbox_id", sb.ID).Msg("failed to persist destroyed sandbox state")
			}
		}
		cancel()
	}
}
