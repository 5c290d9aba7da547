package retry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// fastOpts returns options with millisecond delays so tests don't sleep for real.
func fastOpts() Options {
	return Options{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Timeout:    time.Second,
	}
}

func retryableErr() error {
	return &HTTPError{Status: 503, Body: "unavailable"}
}

func TestDelay_Bounds(t *testing.T) {
	base := 100 * time.Millisecond
	max := 3 * time.Second

	for attempt := 1; attempt <= 10; attempt++ {
		// Pre-jitter floor: base * 2^(attempt-1), capped at max.
		floor := base << uint(attempt-1)
		if floor > max {
			floor = max
		}

		for i := 0; i < 50; i++ {
			d := Delay(attempt, base, max)
			if d < floor {
				t.Fatalf("attempt %d: delay %v below floor %v", attempt, d, floor)
			}
			if d > max {
				t.Fatalf("attempt %d: delay %v above cap %v", attempt, d, max)
			}
		}
	}
}

func TestDelay_CapReached(t *testing.T) {
	base := 100 * time.Millisecond
	max := 400 * time.Millisecond

	// From attempt 3 on, the pre-jitter value meets the cap, so jitter must
	// never push the result past it.
	for attempt := 3; attempt <= 6; attempt++ {
		for i := 0; i < 50; i++ {
			if d := Delay(attempt, base, max); d != max {
				t.Fatalf("attempt %d: got %v, want cap %v", attempt, d, max)
			}
		}
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	calls := 0
	res := Do(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		return 0, retryableErr()
	}, fastOpts())

	if res.Success() {
		t.Fatal("expected failure")
	}
	if res.Attempts != 4 {
		t.Fatalf("attempts: got %d, want 4", res.Attempts)
	}
	if calls != 4 {
		t.Fatalf("calls: got %d, want 4", calls)
	}
	var he *HTTPError
	if !errors.As(res.Err, &he) || he.Status != 503 {
		t.Fatalf("expected HTTPError 503, got %v", res.Err)
	}
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	res := Do(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", retryableErr()
		}
		return "ok", nil
	}, fastOpts())

	if !res.Success() {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if res.Attempts != 3 {
		t.Fatalf("attempts: got %d, want 3", res.Attempts)
	}
	if res.Value != "ok" {
		t.Fatalf("value: got %q, want ok", res.Value)
	}
}

func TestDo_NonRetryableFailsFast(t *testing.T) {
	calls := 0
	res := Do(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		return 0, &HTTPError{Status: 403, Body: "forbidden"}
	}, fastOpts())

	if res.Success() {
		t.Fatal("expected failure")
	}
	if res.Attempts != 1 {
		t.Fatalf("attempts: got %d, want 1", res.Attempts)
	}
	if calls != 1 {
		t.Fatalf("calls: got %d, want 1", calls)
	}
}

func TestDo_ObserverSeesEachRetry(t *testing.T) {
	var observed []int
	opts := fastOpts()
	opts.OnRetry = func(err error, attempt int, delay time.Duration) {
		if delay <= 0 {
			t.Errorf("attempt %d: non-positive delay %v", attempt, delay)
		}
		observed = append(observed, attempt)
	}

	Do(context.Background(), func(ctx context.Context) (int, error) {
		return 0, retryableErr()
	}, opts)

	if len(observed) != 3 {
		t.Fatalf("observer calls: got %d, want 3", len(observed))
	}
	for i, a := range observed {
		if a != i+1 {
			t.Errorf("observed[%d]: got attempt %d, want %d", i, a, i+1)
		}
	}
}

func TestDo_ObserverPanicIsSwallowed(t *testing.T) {
	opts := fastOpts()
	opts.OnRetry = func(err error, attempt int, delay time.Duration) {
		panic("telemetry gone wrong")
	}

	res := Do(context.Background(), func(ctx context.Context) (int, error) {
		return 0, retryableErr()
	}, opts)

	if res.Attempts != 4 {
		t.Fatalf("attempts: got %d, want 4", res.Attempts)
	}
}

func TestDo_ElapsedIncludesSleeps(t *testing.T) {
	opts := fastOpts()
	opts.BaseDelay = 10 * time.Millisecond
	opts.MaxDelay = 20 * time.Millisecond
	opts.MaxRetries = 2

	res := Do(context.Background(), func(ctx context.Context) (int, error) {
		return 0, retryableErr()
	}, opts)

	// Two sleeps of >= 10ms each.
	if res.Elapsed < 20*time.Millisecond {
		t.Fatalf("elapsed %v too short to include backoff sleeps", res.Elapsed)
	}
}

func TestDo_ContextCancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	opts := fastOpts()
	opts.BaseDelay = time.Second
	opts.MaxDelay = time.Second
	opts.OnRetry = func(err error, attempt int, delay time.Duration) {
		cancel()
	}

	start := time.Now()
	res := Do(ctx, func(ctx context.Context) (int, error) {
		return 0, retryableErr()
	}, opts)

	if !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", res.Err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("cancel did not interrupt backoff sleep")
	}
}

func TestWithTimeout_Expires(t *testing.T) {
	_, err := WithTimeout(context.Background(), func(ctx context.Context) (int, error) {
		select {
		case <-time.After(time.Second):
			return 1, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}, 10*time.Millisecond)

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if Classify(err) != KindTimeout {
		t.Fatalf("classify: got %v, want timeout", Classify(err))
	}
}

func TestWithTimeout_LateCompletionDiscarded(t *testing.T) {
	// An operation that ignores cancellation and settles after the deadline
	// must not block or corrupt anything.
	var finished atomic.Bool
	_, err := WithTimeout(context.Background(), func(ctx context.Context) (int, error) {
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
		return 42, nil
	}, 5*time.Millisecond)

	if err == nil {
		t.Fatal("expected timeout")
	}

	// Let the straggler settle into the buffered channel.
	time.Sleep(50 * time.Millisecond)
	if !finished.Load() {
		t.Fatal("straggling operation never completed")
	}
}

func TestWithFallback(t *testing.T) {
	v, degraded := WithFallback(context.Background(), func(ctx context.Context) (int, error) {
		return 0, &HTTPError{Status: 400, Body: "bad"}
	}, 7, fastOpts())
	if !degraded {
		t.Fatal("expected fallback to be used")
	}
	if v != 7 {
		t.Fatalf("value: got %d, want 7", v)
	}

	v, degraded = WithFallback(context.Background(), func(ctx context.Context) (int, error) {
		return 9, nil
	}, 7, fastOpts())
	if degraded {
		t.Fatal("fallback used despite success")
	}
	if v != 9 {
		t.Fatalf("value: got %d, want 9", v)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{&HTTPError{Status: 429}, KindRateLimited},
		{&HTTPError{Status: 502}, KindServer},
		{&HTTPError{Status: 500}, KindServer},
		{&HTTPError{Status: 404}, KindClient},
		{&TimeoutError{Budget: "1s"}, KindTimeout},
		{context.DeadlineExceeded, KindTimeout},
		{errors.New("mystery"), KindUnknown},
	}
	for _, c := range cases {
		if got := Classify(c.err); got != c.want {
			t.Errorf("Classify(%v): got %v, want %v", c.err, got, c.want)
		}
	}
}

func TestRetryable(t *testing.T) {
	if Retryable(&HTTPError{Status: 500}, 1) {
		t.Error("500 should not be retryable")
	}
	for _, status := range []int{429, 502, 503, 504} {
		if !Retryable(&HTTPError{Status: status}, 1) {
			t.Errorf("%d should be retryable", status)
		}
	}
	if Retryable(&HTTPError{Status: 422}, 1) {
		t.Error("validation rejection should fail fast")
	}
}

func TestFetch_RetriesNon2xx(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	res := Fetch(context.Background(), srv.Client(), func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, "GET", srv.URL, nil)
	}, fastOpts())

	if !res.Success() {
		t.Fatalf("fetch failed: %v", res.Err)
	}
	if res.Attempts != 3 {
		t.Fatalf("attempts: got %d, want 3", res.Attempts)
	}
	if string(res.Value) != `{"ok":true}` {
		t.Fatalf("body: got %q", res.Value)
	}
}

func TestFetch_ErrorEmbedsStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusForbidden)
	}))
	defer srv.Close()

	res := Fetch(context.Background(), srv.Client(), func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, "GET", srv.URL, nil)
	}, fastOpts())

	if res.Success() {
		t.Fatal("expected failure")
	}
	if res.Attempts != 1 {
		t.Fatalf("attempts: got %d, want 1 (403 is not retryable)", res.Attempts)
	}
	var he *HTTPError
	if !errors.As(res.Err, &he) {
		t.Fatalf("expected HTTPError, got %v", res.Err)
	}
	if he.Status != 403 {
		t.Fatalf("status: got %d, want 403", he.Status)
	}
	if he.Body == "" {
		t.Fatal("body text missing from error")
	}
}
