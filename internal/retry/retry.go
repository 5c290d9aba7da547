// Package retry provides the retry executor used for every remote call the
// client makes: exponential backoff with jitter, a per-attempt deadline, and
// typed error classification so permanent failures fail fast.
package retry

import (
	"context"
	"log/slog"
	"time"
)

// Default tuning for Options fields left zero.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 1 * time.Second
	DefaultMaxDelay   = 30 * time.Second
	DefaultTimeout    = 30 * time.Second
)

// Options controls a retry loop. The zero value gets the defaults above.
type Options struct {
	MaxRetries int           // additional attempts after the first
	BaseDelay  time.Duration // first backoff delay
	MaxDelay   time.Duration // backoff cap
	Timeout    time.Duration // per-attempt deadline
	// RetryIf decides whether err on the given attempt warrants another try.
	// Defaults to Retryable.
	RetryIf func(err error, attempt int) bool
	// OnRetry observes each scheduled retry, for logging and telemetry.
	// A panicking observer never aborts the loop.
	OnRetry func(err error, attempt int, delay time.Duration)
}

func (o Options) withDefaults() Options {
	if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.BaseDelay == 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.MaxDelay == 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	if o.RetryIf == nil {
		o.RetryIf = Retryable
	}
	return o
}

// Result is the outcome of a retry loop.
type Result[T any] struct {
	Value    T
	Err      error         // nil on success; the last attempt's error otherwise
	Attempts int           // attempts actually made, >= 1
	Elapsed  time.Duration // wall clock across all attempts, sleeps included
}

// Success reports whether the operation eventually succeeded.
func (r Result[T]) Success() bool {
	return r.Err == nil
}

// Do runs op until it succeeds, the retry budget is exhausted, or the
// predicate rejects the failure. The last error is always surfaced, never
// swallowed. Backoff sleeps respect ctx cancellation.
func Do[T any](ctx context.Context, op func(context.Context) (T, error), opts Options) Result[T] {
	opts = opts.withDefaults()
	start := time.Now()

	var res Result[T]
	for attempt := 1; ; attempt++ {
		res.Attempts = attempt

		v, err := WithTimeout(ctx, op, opts.Timeout)
		if err == nil {
			res.Value = v
			res.Err = nil
			res.Elapsed = time.Since(start)
			return res
		}
		res.Err = err

		if attempt > opts.MaxRetries || !opts.RetryIf(err, attempt) {
			res.Elapsed = time.Since(start)
			return res
		}

		delay := Delay(attempt, opts.BaseDelay, opts.MaxDelay)
		notifyRetry(opts.OnRetry, err, attempt, delay)

		if err := sleep(ctx, delay); err != nil {
			res.Err = err
			res.Elapsed = time.Since(start)
			return res
		}
	}
}

// notifyRetry invokes the observer hook, absorbing panics so instrumentation
// can never break the retry loop.
func notifyRetry(hook func(error, int, time.Duration), err error, attempt int, delay time.Duration) {
	if hook == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("retry observer panicked", "panic", r)
		}
	}()
	hook(err, attempt, delay)
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WithFallback runs op through Do and degrades to fallback instead of
// propagating the error. The second return reports whether the fallback was
// used, so callers can flag degraded output.
func WithFallback[T any](ctx context.Context, op func(context.Context) (T, error), fallback T, opts Options) (T, bool) {
	res := Do(ctx, op, opts)
	if res.Err != nil {
		slog.Debug("operation degraded to fallback", "err", res.Err, "attempts", res.Attempts)
		return fallback, true
	}
	return res.Value, false
}
