package retry

import (
	"context"
	"time"
)

// WithTimeout races op against a deadline. On expiry it returns a
// *TimeoutError; the straggling operation completes later into a buffered
// channel and is discarded, so a transport without cancellation support can
// finish harmlessly. The child context is cancelled either way so cooperative
// operations stop early.
func WithTimeout[T any](ctx context.Context, op func(context.Context) (T, error), timeout time.Duration) (T, error) {
	type settled struct {
		value T
		err   error
	}

	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan settled, 1)
	go func() {
		v, err := op(opCtx)
		done <- settled{value: v, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var zero T
	select {
	case s := <-done:
		return s.value, s.err
	case <-timer.C:
		return zero, &TimeoutError{Budget: timeout.String()}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
