// Package engine drains the offline action queue against the capture server.
// One sync pass snapshots the queue, replays each action in FIFO order
// through the retry executor, and reconciles the queue from the outcomes:
// applied actions are removed, failed ones are kept with their retry count
// bumped, and actions past the retry cap are evicted with a user-visible
// report.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nadia/dcap/internal/breaker"
	"github.com/nadia/dcap/internal/models"
	"github.com/nadia/dcap/internal/notify"
	"github.com/nadia/dcap/internal/queue"
	"github.com/nadia/dcap/internal/retry"
)

// Remote is the slice of the server client the engine needs.
type Remote interface {
	Apply(ctx context.Context, action models.OfflineAction) error
	TriggerProcess(ctx context.Context) error
}

const (
	// DefaultRetryCap is how many failed passes an action survives before it
	// is evicted from the queue.
	DefaultRetryCap = 3
	// DefaultInterval is the recurring sync period while online.
	DefaultInterval = 30 * time.Second

	syncCircuit = "sync"
)

// Options configures an Engine. Zero values take the defaults.
type Options struct {
	RetryCap int
	Interval time.Duration
	// Retry configures the per-action retry executor. Left zero it takes the
	// executor's own defaults.
	Retry retry.Options
}

func (o Options) withDefaults() Options {
	if o.RetryCap <= 0 {
		o.RetryCap = DefaultRetryCap
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	return o
}

// Summary reports one sync pass.
type Summary struct {
	// Ran is false when the pass was skipped because another pass was
	// already in flight.
	Ran     bool
	Applied int
	Failed  int
	Evicted int
}

// Engine replays queued offline actions against the remote store.
type Engine struct {
	queue    *queue.Queue
	remote   Remote
	circuits *breaker.Registry
	notifier notify.Notifier
	opts     Options

	syncing atomic.Bool
	kick    chan struct{}
}

// New builds an engine. The breaker registry is owned by the caller so the
// same circuits can be shared with other server-facing components.
func New(q *queue.Queue, remote Remote, circuits *breaker.Registry, notifier notify.Notifier, opts Options) *Engine {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &Engine{
		queue:    q,
		remote:   remote,
		circuits: circuits,
		notifier: notifier,
		opts:     opts.withDefaults(),
		kick:     make(chan struct{}, 1),
	}
}

// Sync runs one pass over the current queue snapshot. A call while another
// pass is in flight is a no-op; a call with an empty queue does nothing and
// emits no notifications.
func (e *Engine) Sync(ctx context.Context) (Summary, error) {
	if !e.syncing.CompareAndSwap(false, true) {
		return Summary{}, nil
	}
	defer e.syncing.Store(false)

	pending, err := e.queue.Pending()
	if err != nil {
		return Summary{Ran: true}, fmt.Errorf("read queue: %w", err)
	}
	if len(pending) == 0 {
		return Summary{Ran: true}, nil
	}

	slog.Debug("sync pass starting", "pending", len(pending))
	summary := Summary{Ran: true}
	circuit := e.circuits.Get(syncCircuit, breaker.Options{})

	for _, action := range pending {
		err := circuit.Do(ctx, func(ctx context.Context) error {
			return e.applyWithRetry(ctx, action)
		}, nil)

		switch {
		case err == nil:
			if rmErr := e.queue.Remove(action.ID); rmErr != nil {
				return summary, fmt.Errorf("remove synced action %s: %w", action.ID, rmErr)
			}
			summary.Applied++

		case errors.Is(err, breaker.ErrOpen):
			// The server is down hard. Stop the pass without burning retry
			// counts on actions we never actually sent.
			slog.Warn("sync pass aborted, circuit open", "remaining", len(pending)-summary.Applied-summary.Failed-summary.Evicted)
			e.notifier.Notify(notify.LevelWarning, "Server unavailable, sync paused")
			e.report(summary)
			return summary, nil

		case action.RetryCount >= e.opts.RetryCap:
			if rmErr := e.queue.Remove(action.ID); rmErr != nil {
				return summary, fmt.Errorf("evict action %s: %w", action.ID, rmErr)
			}
			summary.Evicted++
			slog.Warn("action evicted after repeated failures",
				"id", action.ID, "kind", action.Kind, "target", action.TargetID, "error", err)

		default:
			if mfErr := e.queue.MarkFailed(action.ID); mfErr != nil {
				return summary, fmt.Errorf("mark action %s failed: %w", action.ID, mfErr)
			}
			summary.Failed++
			slog.Debug("action failed, kept for next pass",
				"id", action.ID, "kind", action.Kind, "retry_count", action.RetryCount+1, "error", err)
		}

		if ctx.Err() != nil {
			e.report(summary)
			return summary, ctx.Err()
		}
	}

	e.report(summary)

	if summary.Applied > 0 {
		// Advisory nudge to the server-side processor. Detached: the pass is
		// complete whether or not the trigger lands.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := e.remote.TriggerProcess(ctx); err != nil {
				slog.Debug("process trigger failed", "error", err)
			}
		}()
	}

	return summary, nil
}

// applyWithRetry replays one action through the retry executor.
func (e *Engine) applyWithRetry(ctx context.Context, action models.OfflineAction) error {
	res := retry.Do(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.remote.Apply(ctx, action)
	}, e.opts.Retry)
	return res.Err
}

func (e *Engine) report(s Summary) {
	if s.Applied > 0 {
		e.notifier.Notify(notify.LevelSuccess, "Synced %d queued action(s)", s.Applied)
	}
	if s.Failed > 0 {
		e.notifier.Notify(notify.LevelWarning, "%d action(s) failed, will retry", s.Failed)
	}
	if s.Evicted > 0 {
		e.notifier.Notify(notify.LevelError, "Dropped %d action(s) after repeated failures", s.Evicted)
	}
}

// Trigger requests an immediate pass from a running Run loop. Safe to call
// from any goroutine; extra triggers while one is queued coalesce.
func (e *Engine) Trigger() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Run syncs on a recurring timer and on Trigger until ctx is cancelled.
// online gates the timer passes; pass nil to always sync.
func (e *Engine) Run(ctx context.Context, online func() bool) {
	ticker := time.NewTicker(e.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.kick:
		case <-ticker.C:
			if online != nil && !online() {
				continue
			}
			if n, err := e.queue.Count(); err != nil || n == 0 {
				continue
			}
		}
		if _, err := e.Sync(ctx); err != nil && ctx.Err() == nil {
			slog.Error("sync pass failed", "error", err)
		}
	}
}
