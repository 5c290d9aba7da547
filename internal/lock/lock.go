// Package lock manages the per-document advisory editing lock. Acquisition
// races are settled by the server's uniqueness constraint; this side holds
// the lease, renews it on a fixed period, and re-derives the visible state
// from the server's lock change feed.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nadia/dcap/internal/models"
	"github.com/nadia/dcap/internal/remote"
	"github.com/nadia/dcap/internal/retry"
)

// Remote is the slice of the server client the manager needs.
type Remote interface {
	AcquireLock(ctx context.Context, docID string, lease time.Duration) (models.DocumentLock, bool, error)
	RenewLock(ctx context.Context, docID string, lease time.Duration) (models.DocumentLock, error)
	ReleaseLock(ctx context.Context, docID string) error
	GetLock(ctx context.Context, docID string) (*models.DocumentLock, error)
	Changes(ctx context.Context, docID string) (<-chan models.LockChange, error)
}

const (
	// DefaultLease is how long an acquired lock lives without renewal.
	DefaultLease = 10 * time.Minute
	// DefaultRenewEvery is the renewal period while holding. Half the lease,
	// so one missed renewal never loses the lock.
	DefaultRenewEvery = 5 * time.Minute
)

// Options configures a Manager. Zero values take the defaults.
type Options struct {
	Lease      time.Duration
	RenewEvery time.Duration
}

func (o Options) withDefaults() Options {
	if o.Lease <= 0 {
		o.Lease = DefaultLease
	}
	if o.RenewEvery <= 0 {
		o.RenewEvery = DefaultRenewEvery
	}
	return o
}

// Status is the lock situation on one document as seen by this session.
type Status struct {
	State models.LockState
	// Lock is the live row, nil when unlocked.
	Lock *models.DocumentLock
}

// Manager acquires and maintains document locks for one session.
type Manager struct {
	remote    Remote
	sessionID string
	opts      Options
	now       func() time.Time
}

func NewManager(r Remote, sessionID string, opts Options) *Manager {
	return &Manager{
		remote:    r,
		sessionID: sessionID,
		opts:      opts.withDefaults(),
		now:       time.Now,
	}
}

// Acquire takes the lock on a document. Losing the race is not an error: the
// returned status reports LockedByOther with the winner's lock.
func (m *Manager) Acquire(ctx context.Context, docID string) (Status, error) {
	lock, acquired, err := m.remote.AcquireLock(ctx, docID, m.opts.Lease)
	if err != nil {
		return Status{}, fmt.Errorf("acquire lock: %w", err)
	}
	if !acquired {
		return Status{State: models.LockedByOther, Lock: &lock}, nil
	}
	return Status{State: models.LockedBySelf, Lock: &lock}, nil
}

// Hold acquires the lock and, on success, renews it in the background until
// ctx is cancelled, then releases it. The returned status is the immediate
// acquisition outcome.
func (m *Manager) Hold(ctx context.Context, docID string) (Status, error) {
	status, err := m.Acquire(ctx, docID)
	if err != nil || status.State != models.LockedBySelf {
		return status, err
	}
	go m.keepRenewed(ctx, docID)
	return status, nil
}

func (m *Manager) keepRenewed(ctx context.Context, docID string) {
	ticker := time.NewTicker(m.opts.RenewEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Best effort: the session is ending, give the lock back now
			// instead of letting the lease run out.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := m.remote.ReleaseLock(releaseCtx, docID); err != nil {
				slog.Warn("lock release on teardown failed", "document_id", docID, "error", err)
			}
			return
		case <-ticker.C:
			if err := m.renew(ctx, docID); err != nil {
				if errors.Is(err, remote.ErrNotFound) {
					// The lease lapsed and someone else took over.
					slog.Warn("lock lost", "document_id", docID)
					return
				}
				slog.Warn("lock renewal failed", "document_id", docID, "error", err)
			}
		}
	}
}

// renew extends the lease, riding out transient network failures.
func (m *Manager) renew(ctx context.Context, docID string) error {
	res := retry.Do(ctx, func(ctx context.Context) (models.DocumentLock, error) {
		return m.remote.RenewLock(ctx, docID, m.opts.Lease)
	}, retry.Options{MaxRetries: 2, BaseDelay: time.Second, MaxDelay: 10 * time.Second})
	return res.Err
}

// Release gives up this session's lock. Never touches a lock held by another
// session, and releasing an already-gone lock succeeds.
func (m *Manager) Release(ctx context.Context, docID string) error {
	if err := m.remote.ReleaseLock(ctx, docID); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// Status reads the live lock row and derives this session's view of it.
func (m *Manager) Status(ctx context.Context, docID string) (Status, error) {
	lock, err := m.remote.GetLock(ctx, docID)
	if err != nil {
		return Status{}, fmt.Errorf("read lock: %w", err)
	}
	return m.derive(lock), nil
}

// Watch streams lock status for a document. The first status is read
// immediately; every subsequent change event triggers a re-read of the live
// row rather than trusting the event payload, so missed or reordered events
// cannot wedge the derived state. The channel closes when the feed drops or
// ctx is cancelled.
func (m *Manager) Watch(ctx context.Context, docID string) (<-chan Status, error) {
	changes, err := m.remote.Changes(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("subscribe lock changes: %w", err)
	}

	initial, err := m.Status(ctx, docID)
	if err != nil {
		return nil, err
	}

	out := make(chan Status, 1)
	out <- initial

	go func() {
		defer close(out)
		for range changes {
			status, err := m.Status(ctx, docID)
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("lock state re-read failed", "document_id", docID, "error", err)
				}
				continue
			}
			select {
			case out <- status:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// derive maps a live lock row to this session's view. An expired row counts
// as unlocked.
func (m *Manager) derive(lock *models.DocumentLock) Status {
	if lock == nil || lock.Expired(m.now()) {
		return Status{State: models.Unlocked}
	}
	if lock.HolderSessionID == m.sessionID {
		return Status{State: models.LockedBySelf, Lock: lock}
	}
	return Status{State: models.LockedByOther, Lock: lock}
}
