package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"driftsync/internal/config"
	"driftsync/internal/executor"
	"driftsync/internal/listener"
	"driftsync/internal/metrics"
	"driftsync/internal/mirror"
	"driftsync/internal/models"
	"driftsync/internal/netmon"
	"driftsync/internal/queue"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Engine is the synchronization orchestrator: it owns the single active
// drain run, applies the per-action retry policy and fans SyncState
// snapshots out through the listener hub.
//
// Retries carry no delay of their own: an action left queued after a
// transient failure is attempted again on the next externally-triggered
// pass (enqueue, online transition or SyncNow).
type Engine struct {
	queue   *queue.Queue
	monitor *netmon.Monitor
	exec    executor.Executor
	hub     *listener.Hub
	mirror  *mirror.Mirror
	metrics *metrics.Metrics
	logger  zerolog.Logger
	limiter *rate.Limiter

	maxAttemptsPerPass int
	defaultMaxRetries  int

	mu           sync.Mutex
	draining     bool
	rerun        bool
	closed       bool
	lastOutcome  string
	lastError    *models.SyncError
	lastSyncedAt *time.Time
	pendingCount int

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	unsubMon func()
}

// New wires the orchestrator to its collaborators. mir and met may be nil.
// The engine subscribes itself to mon; an offline-to-online transition is
// the only monitor event that starts a pass.
func New(
	cfg config.SyncConfig,
	q *queue.Queue,
	mon *netmon.Monitor,
	exec executor.Executor,
	hub *listener.Hub,
	mir *mirror.Mirror,
	met *metrics.Metrics,
	logger *zerolog.Logger,
) *Engine {
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		queue:              q,
		monitor:            mon,
		exec:               exec,
		hub:                hub,
		mirror:             mir,
		metrics:            met,
		logger:             logger.With().Str("component", "engine").Logger(),
		limiter:            rate.NewLimiter(rate.Limit(cfg.SyncNowRate), cfg.SyncNowBurst),
		maxAttemptsPerPass: cfg.MaxAttemptsPerPass,
		defaultMaxRetries:  cfg.DefaultMaxRetries,
		ctx:                ctx,
		cancel:             cancel,
	}

	if count, err := q.PendingCount(ctx); err == nil {
		e.pendingCount = count
	}

	e.unsubMon = mon.Subscribe(e.onNetworkChange)
	return e
}

// EnqueueAndSync durably appends a mutation and, when online, starts a
// sync pass. The returned id is stable for the action's lifetime. A
// *queue.StorageError means the mutation was NOT queued and the caller
// must surface that to the user.
func (e *Engine) EnqueueAndSync(ctx context.Context, kind string, payload []byte, maxRetries int) (string, error) {
	if !models.KnownKind(kind) {
		return "", fmt.Errorf("unknown action kind %q", kind)
	}
	if maxRetries < 0 {
		maxRetries = e.defaultMaxRetries
	}

	action, err := e.queue.Enqueue(ctx, kind, payload, maxRetries)
	if err != nil {
		return "", err
	}

	if e.metrics != nil {
		e.metrics.ActionsEnqueued.WithLabelValues(kind).Inc()
	}

	e.mu.Lock()
	e.lastError = nil
	e.mu.Unlock()
	e.publish()

	e.logger.Debug().Str("action_id", action.ID).Str("kind", kind).Msg("action enqueued")

	if e.monitor.CurrentState().IsOnline {
		e.trigger()
	}
	return action.ID, nil
}

// SyncNow requests an explicit pass. Bursts of manual requests beyond the
// configured rate are dropped; an in-flight pass absorbs the trigger.
func (e *Engine) SyncNow() {
	if !e.limiter.Allow() {
		e.logger.Debug().Msg("sync now throttled")
		return
	}
	e.trigger()
}

// SyncState returns the current externally observable summary.
func (e *Engine) SyncState() models.SyncState {
	e.refreshPending()
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// PendingActions returns the queued actions in submission order.
func (e *Engine) PendingActions(ctx context.Context) ([]models.Action, error) {
	return e.queue.List(ctx)
}

// FailedActions returns terminally failed actions for diagnostics.
func (e *Engine) FailedActions(ctx context.Context) ([]models.Action, error) {
	return e.queue.FailedActions(ctx)
}

// ClearQueue drops all pending actions. User-initiated reset only.
// Terminally failed actions are retained for the FailedActions read
// model; they are no longer part of the queue.
func (e *Engine) ClearQueue(ctx context.Context) error {
	if err := e.queue.Clear(ctx); err != nil {
		return err
	}
	e.publish()
	return nil
}

// DismissError clears lastError without waiting for the next success.
func (e *Engine) DismissError() {
	e.mu.Lock()
	e.lastError = nil
	e.mu.Unlock()
	e.publish()
}

// Subscribe registers a SyncState listener and returns its disposer.
func (e *Engine) Subscribe(fn listener.Callback) func() {
	return e.hub.Subscribe(fn)
}

// LastOutcome reports how the most recent pass ended.
func (e *Engine) LastOutcome() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastOutcome
}

// Close stops the engine and waits for an in-flight pass to finish.
// Triggers arriving after Close are no-ops.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.unsubMon()
	e.cancel()
	e.wg.Wait()
}

func (e *Engine) onNetworkChange(state models.NetworkState) {
	if e.metrics != nil {
		if state.IsOnline {
			e.metrics.Online.Set(1)
		} else {
			e.metrics.Online.Set(0)
		}
	}
	e.publish()

	if state.IsOnline {
		e.trigger()
	}
}

// trigger starts a pass, or coalesces into the in-flight one. The rerun
// flag makes the running drain re-check the queue before going idle.
// The wg.Add happens under e.mu, before Close can observe closed and
// start waiting, so a trigger never races the shutdown wait.
func (e *Engine) trigger() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if e.draining {
		e.rerun = true
		e.mu.Unlock()
		return
	}
	e.draining = true
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		e.runPasses()
	}()
}

func (e *Engine) runPasses() {
	for {
		outcome := e.drain(e.ctx)

		e.mu.Lock()
		e.lastOutcome = outcome
		if e.rerun && e.ctx.Err() == nil {
			e.rerun = false
			e.mu.Unlock()
			continue
		}
		e.draining = false
		e.mu.Unlock()

		e.publish()
		return
	}
}

// drain runs one pass: head-to-tail, strictly one action at a time, until
// the queue is empty, connectivity drops, the per-pass safety valve
// fires, or the store fails.
func (e *Engine) drain(ctx context.Context) string {
	started := time.Now()
	if e.metrics != nil {
		defer func() {
			e.metrics.PassDuration.Observe(time.Since(started).Seconds())
		}()
	}

	e.publish()
	attempts := 0

	for {
		if ctx.Err() != nil {
			return models.OutcomeCompletedPartial
		}
		if !e.monitor.CurrentState().IsOnline {
			e.logger.Info().Msg("pass stopped: connectivity dropped")
			return models.OutcomeCompletedPartial
		}
		if attempts >= e.maxAttemptsPerPass {
			e.logger.Warn().Int("attempts", attempts).Msg("pass stopped: attempt limit reached")
			return models.OutcomeCompletedPartial
		}

		head, err := e.queue.PeekOldest(ctx)
		if err != nil {
			e.logger.Error().Err(err).Msg("pass failed: peek")
			return models.OutcomeFailed
		}
		if head == nil {
			now := time.Now().UTC()
			e.mu.Lock()
			e.lastSyncedAt = &now
			e.mu.Unlock()
			return models.OutcomeCompletedEmpty
		}

		attempts++
		outcome := e.exec.Execute(ctx, head)
		if e.metrics != nil {
			e.metrics.ActionsExecuted.WithLabelValues(head.Kind, outcome.Status).Inc()
		}

		switch {
		case outcome.IsSuccess():
			if err := e.finishSuccess(ctx, head); err != nil {
				return models.OutcomeFailed
			}

		case outcome.IsTransient() && head.RetriesLeft():
			if err := e.finishTransient(ctx, head, outcome.Reason); err != nil {
				return models.OutcomeFailed
			}
			// action stays at the head; retried on the next pass trigger
			return models.OutcomeCompletedPartial

		default:
			reason := outcome.Reason
			if outcome.IsTransient() {
				reason = fmt.Sprintf("retries exhausted after %d attempts: %s", head.RetryCount+1, reason)
			}
			if err := e.finishTerminal(ctx, head, reason); err != nil {
				return models.OutcomeFailed
			}
			// one permanently failing action must not block the rest
		}
	}
}

func (e *Engine) finishSuccess(ctx context.Context, action *models.Action) error {
	if err := e.queue.Remove(ctx, action.ID); err != nil {
		e.logger.Error().Err(err).Str("action_id", action.ID).Msg("pass failed: remove")
		return err
	}

	e.mu.Lock()
	if e.lastError != nil && e.lastError.ActionID == action.ID {
		e.lastError = nil
	}
	e.mu.Unlock()
	e.publish()

	e.logger.Info().Str("action_id", action.ID).Str("kind", action.Kind).Msg("action synced")
	return nil
}

func (e *Engine) finishTransient(ctx context.Context, action *models.Action, reason string) error {
	count, err := e.queue.IncrementRetry(ctx, action.ID)
	if err != nil {
		e.logger.Error().Err(err).Str("action_id", action.ID).Msg("pass failed: increment retry")
		return err
	}
	if e.metrics != nil {
		e.metrics.RetriesTotal.Inc()
	}

	e.mu.Lock()
	e.lastError = &models.SyncError{
		ActionID: action.ID,
		Kind:     action.Kind,
		Reason:   reason,
		At:       time.Now().UTC(),
	}
	e.mu.Unlock()
	e.publish()

	e.logger.Warn().
		Str("action_id", action.ID).
		Str("kind", action.Kind).
		Int("retry_count", count).
		Int("max_retries", action.MaxRetries).
		Str("reason", reason).
		Msg("transient failure, will retry on next pass")
	return nil
}

func (e *Engine) finishTerminal(ctx context.Context, action *models.Action, reason string) error {
	if err := e.queue.MarkFailed(ctx, action.ID, reason); err != nil {
		e.logger.Error().Err(err).Str("action_id", action.ID).Msg("pass failed: mark failed")
		return err
	}
	if e.metrics != nil {
		e.metrics.DeadLettered.Inc()
	}
	e.mirror.PushDeadLetter(ctx, action)

	e.mu.Lock()
	e.lastError = &models.SyncError{
		ActionID: action.ID,
		Kind:     action.Kind,
		Reason:   reason,
		Terminal: true,
		At:       time.Now().UTC(),
	}
	e.mu.Unlock()
	e.publish()

	e.logger.Error().
		Str("action_id", action.ID).
		Str("kind", action.Kind).
		Str("reason", reason).
		Msg("terminal failure, action dead-lettered")
	return nil
}

// snapshotLocked builds a SyncState; callers hold e.mu.
func (e *Engine) snapshotLocked() models.SyncState {
	return models.SyncState{
		IsOnline:     e.monitor.CurrentState().IsOnline,
		IsSyncing:    e.draining,
		PendingCount: e.pendingCount,
		LastError:    e.lastError,
		LastSyncedAt: e.lastSyncedAt,
	}
}

// refreshPending re-derives the pending count from the queue, which stays
// the single source of truth for queued actions.
func (e *Engine) refreshPending() {
	count, err := e.queue.PendingCount(context.Background())
	if err != nil {
		e.logger.Error().Err(err).Msg("pending count read failed")
		return
	}
	e.mu.Lock()
	e.pendingCount = count
	e.mu.Unlock()
}

func (e *Engine) publish() {
	e.refreshPending()
	e.mu.Lock()
	state := e.snapshotLocked()
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.PendingActions.Set(float64(state.PendingCount))
	}
	e.hub.Publish(state)
	e.mirror.PublishState(context.Background(), state)
}
