// Package connectivity tracks whether the capture server is reachable and
// reports offline-to-online transitions so queued work can be flushed.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Probe checks reachability once. A nil error means online.
type Probe func(ctx context.Context) error

const (
	// DefaultInterval is how often the watcher probes the server.
	DefaultInterval = 15 * time.Second
	// DefaultSettle is how long the connection must stay up before an
	// offline-to-online edge is reported. Flapping links should not trigger
	// a sync pass per blip.
	DefaultSettle = 2 * time.Second
	// DefaultProbeTimeout bounds a single probe.
	DefaultProbeTimeout = 5 * time.Second
)

// Options configures a Watcher. Zero values take the defaults above; a
// negative Settle disables the settle window entirely.
type Options struct {
	Interval     time.Duration
	Settle       time.Duration
	ProbeTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Settle == 0 {
		o.Settle = DefaultSettle
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = DefaultProbeTimeout
	}
	return o
}

// Watcher polls a Probe and invokes OnOnline once per offline-to-online edge.
type Watcher struct {
	probe    Probe
	opts     Options
	onOnline func()

	mu     sync.Mutex
	online bool
	known  bool
}

// NewWatcher builds a watcher. onOnline may be nil when only Online() polling
// is wanted.
func NewWatcher(probe Probe, onOnline func(), opts Options) *Watcher {
	return &Watcher{
		probe:    probe,
		opts:     opts.withDefaults(),
		onOnline: onOnline,
	}
}

// Online reports the last observed state. Before the first probe completes it
// reports false.
func (w *Watcher) Online() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.known && w.online
}

// Check probes immediately and updates the state without waiting for the next
// tick. It does not fire the OnOnline edge callback.
func (w *Watcher) Check(ctx context.Context) bool {
	online := w.probeOnce(ctx)
	w.mu.Lock()
	w.online = online
	w.known = true
	w.mu.Unlock()
	return online
}

// Run polls until ctx is cancelled. The first probe happens immediately.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	w.step(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.step(ctx)
		}
	}
}

func (w *Watcher) step(ctx context.Context) {
	online := w.probeOnce(ctx)

	w.mu.Lock()
	wasKnown, wasOnline := w.known, w.online
	w.online = online
	w.known = true
	w.mu.Unlock()

	if !online {
		if wasKnown && wasOnline {
			slog.Info("connection lost")
		}
		return
	}
	if wasKnown && wasOnline {
		return
	}

	// Edge: we just came (back) online. Confirm the link holds through the
	// settle window before announcing it.
	if w.opts.Settle > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.opts.Settle):
		}
		if !w.probeOnce(ctx) {
			w.mu.Lock()
			w.online = false
			w.mu.Unlock()
			return
		}
	}

	slog.Info("connection restored")
	if w.onOnline != nil {
		w.onOnline()
	}
}

func (w *Watcher) probeOnce(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, w.opts.ProbeTimeout)
	defer cancel()
	return w.probe(ctx) == nil
}
