package breaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

// fakeClock lets tests move time past the cooldown without sleeping.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(opts Options) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	reg := NewRegistry()
	reg.now = clock.now
	return reg.Get("test", opts), clock
}

func failing(ctx context.Context) error { return errBoom }

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(Options{FailureThreshold: 3, ResetAfter: time.Minute})

	for i := 0; i < 3; i++ {
		if err := b.Do(context.Background(), failing, nil); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: got %v, want boom", i, err)
		}
	}

	st := b.State()
	if !st.Open {
		t.Fatal("circuit should be open after 3 failures")
	}
	if st.Failures != 3 {
		t.Fatalf("failures: got %d, want 3", st.Failures)
	}

	// Open circuit short-circuits: wrapped op must not run.
	called := false
	err := b.Do(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	}, nil)
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("got %v, want ErrOpen", err)
	}
	if called {
		t.Fatal("operation invoked while circuit open")
	}
}

func TestBreaker_HalfOpenProbeCloses(t *testing.T) {
	b, clock := newTestBreaker(Options{FailureThreshold: 3, ResetAfter: time.Minute})

	for i := 0; i < 3; i++ {
		b.Do(context.Background(), failing, nil)
	}
	if !b.State().Open {
		t.Fatal("circuit should be open")
	}

	clock.advance(61 * time.Second)

	// Cooldown elapsed: the next call goes through and a success fully
	// closes the circuit.
	called := false
	err := b.Do(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !called {
		t.Fatal("probe call was not made")
	}

	st := b.State()
	if st.Open {
		t.Fatal("circuit should be closed after successful probe")
	}
	if st.Failures != 0 {
		t.Fatalf("failures: got %d, want 0", st.Failures)
	}
}

func TestBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(Options{FailureThreshold: 1, ResetAfter: time.Minute})

	b.Do(context.Background(), failing, nil)
	if !b.State().Open {
		t.Fatal("circuit should be open")
	}

	clock.advance(2 * time.Minute)

	if err := b.Do(context.Background(), failing, nil); !errors.Is(err, errBoom) {
		t.Fatalf("probe: got %v, want boom", err)
	}
	if !b.State().Open {
		t.Fatal("failed probe should reopen the circuit")
	}
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b, _ := newTestBreaker(Options{FailureThreshold: 3, ResetAfter: time.Minute})

	b.Do(context.Background(), failing, nil)
	b.Do(context.Background(), failing, nil)
	b.Do(context.Background(), func(ctx context.Context) error { return nil }, nil)

	if got := b.State().Failures; got != 0 {
		t.Fatalf("failures after success: got %d, want 0", got)
	}

	// Two more failures still shouldn't open it; the count restarted.
	b.Do(context.Background(), failing, nil)
	b.Do(context.Background(), failing, nil)
	if b.State().Open {
		t.Fatal("circuit opened before threshold of consecutive failures")
	}
}

func TestBreaker_FallbackOnOpenAndOnFailure(t *testing.T) {
	b, _ := newTestBreaker(Options{FailureThreshold: 1, ResetAfter: time.Minute})

	fallback := func() error { return nil }

	// Failure with fallback: fallback result returned, failure still recorded.
	if err := b.Do(context.Background(), failing, fallback); err != nil {
		t.Fatalf("fallback path: %v", err)
	}
	if !b.State().Open {
		t.Fatal("failure behind fallback should still open the circuit")
	}

	// Open with fallback: short-circuit straight to fallback.
	called := false
	err := b.Do(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	}, fallback)
	if err != nil {
		t.Fatalf("open fallback path: %v", err)
	}
	if called {
		t.Fatal("operation invoked while circuit open")
	}
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := newTestBreaker(Options{FailureThreshold: 1, ResetAfter: time.Hour})

	b.Do(context.Background(), failing, nil)
	if !b.State().Open {
		t.Fatal("circuit should be open")
	}

	b.Reset()
	st := b.State()
	if st.Open || st.Failures != 0 {
		t.Fatalf("after reset: open=%v failures=%d", st.Open, st.Failures)
	}
}

func TestRegistry_SameNameSameCircuit(t *testing.T) {
	reg := NewRegistry()
	a := reg.Get("exports", Options{FailureThreshold: 2})
	b := reg.Get("exports", Options{FailureThreshold: 99})
	if a != b {
		t.Fatal("same name should return the same circuit")
	}
	if a.opts.FailureThreshold != 2 {
		t.Fatalf("options from first Get should win, got threshold %d", a.opts.FailureThreshold)
	}

	c := reg.Get("ocr", Options{})
	if c == a {
		t.Fatal("different names should be independent circuits")
	}
	if len(reg.States()) != 2 {
		t.Fatalf("states: got %d circuits, want 2", len(reg.States()))
	}
}
