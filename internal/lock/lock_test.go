package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nadia/dcap/internal/models"
)

// fakeRemote is an in-memory lock table keyed by document.
type fakeRemote struct {
	mu       sync.Mutex
	locks    map[string]models.DocumentLock
	changes  chan models.LockChange
	renews   int
	releases int
	now      time.Time
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		locks:   make(map[string]models.DocumentLock),
		changes: make(chan models.LockChange, 16),
		now:     time.Now(),
	}
}

func (f *fakeRemote) AcquireLock(ctx context.Context, docID string, lease time.Duration) (models.DocumentLock, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if held, ok := f.locks[docID]; ok && f.now.Before(held.ExpiresAt) {
		return held, false, nil
	}
	lock := models.DocumentLock{
		DocumentID:      docID,
		HolderSessionID: "sess-self",
		AcquiredAt:      f.now,
		ExpiresAt:       f.now.Add(lease),
	}
	f.locks[docID] = lock
	return lock, true, nil
}

func (f *fakeRemote) RenewLock(ctx context.Context, docID string, lease time.Duration) (models.DocumentLock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renews++
	lock := f.locks[docID]
	lock.ExpiresAt = f.now.Add(lease)
	f.locks[docID] = lock
	return lock, nil
}

func (f *fakeRemote) ReleaseLock(ctx context.Context, docID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
	delete(f.locks, docID)
	return nil
}

func (f *fakeRemote) GetLock(ctx context.Context, docID string) (*models.DocumentLock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if lock, ok := f.locks[docID]; ok {
		l := lock
		return &l, nil
	}
	return nil, nil
}

func (f *fakeRemote) Changes(ctx context.Context, docID string) (<-chan models.LockChange, error) {
	return f.changes, nil
}

func (f *fakeRemote) setLock(lock models.DocumentLock) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locks[lock.DocumentID] = lock
}

func (f *fakeRemote) counts() (renews, releases int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.renews, f.releases
}

func newTestManager(remote *fakeRemote) *Manager {
	return NewManager(remote, "sess-self", Options{
		Lease:      time.Minute,
		RenewEvery: 10 * time.Millisecond,
	})
}

func TestAcquire_Uncontended(t *testing.T) {
	remote := newFakeRemote()
	m := newTestManager(remote)

	status, err := m.Acquire(context.Background(), "d1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if status.State != models.LockedBySelf {
		t.Fatalf("state = %v, want LockedBySelf", status.State)
	}
	if status.Lock == nil || status.Lock.HolderSessionID != "sess-self" {
		t.Fatalf("lock = %+v", status.Lock)
	}
}

func TestAcquire_LostRaceReportsHolder(t *testing.T) {
	remote := newFakeRemote()
	remote.setLock(models.DocumentLock{
		DocumentID:      "d1",
		HolderSessionID: "sess-other",
		ExpiresAt:       remote.now.Add(time.Hour),
	})
	m := newTestManager(remote)

	status, err := m.Acquire(context.Background(), "d1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if status.State != models.LockedByOther {
		t.Fatalf("state = %v, want LockedByOther", status.State)
	}
	if status.Lock.HolderSessionID != "sess-other" {
		t.Fatalf("holder = %q", status.Lock.HolderSessionID)
	}
}

func TestStatus_ExpiredLockIsUnlocked(t *testing.T) {
	remote := newFakeRemote()
	remote.setLock(models.DocumentLock{
		DocumentID:      "d1",
		HolderSessionID: "sess-other",
		ExpiresAt:       time.Now().Add(-time.Minute),
	})
	m := newTestManager(remote)

	status, err := m.Status(context.Background(), "d1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State != models.Unlocked {
		t.Fatalf("state = %v, want Unlocked", status.State)
	}
}

func TestHold_RenewsAndReleasesOnCancel(t *testing.T) {
	remote := newFakeRemote()
	m := newTestManager(remote)

	ctx, cancel := context.WithCancel(context.Background())
	status, err := m.Hold(ctx, "d1")
	if err != nil || status.State != models.LockedBySelf {
		t.Fatalf("hold: status=%+v err=%v", status, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		renews, _ := remote.counts()
		if renews >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("lock never renewed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	deadline = time.Now().Add(2 * time.Second)
	for {
		_, releases := remote.counts()
		if releases == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("lock never released after cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHold_LostRaceDoesNotRenew(t *testing.T) {
	remote := newFakeRemote()
	remote.setLock(models.DocumentLock{
		DocumentID:      "d1",
		HolderSessionID: "sess-other",
		ExpiresAt:       remote.now.Add(time.Hour),
	})
	m := newTestManager(remote)

	status, err := m.Hold(context.Background(), "d1")
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	if status.State != models.LockedByOther {
		t.Fatalf("state = %v", status.State)
	}

	time.Sleep(50 * time.Millisecond)
	if renews, _ := remote.counts(); renews != 0 {
		t.Fatalf("renews = %d, want 0 when not holding", renews)
	}
}

func TestWatch_RederivesStateFromLiveRow(t *testing.T) {
	remote := newFakeRemote()
	m := newTestManager(remote)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	statuses, err := m.Watch(ctx, "d1")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	if s := <-statuses; s.State != models.Unlocked {
		t.Fatalf("initial state = %v, want Unlocked", s.State)
	}

	// Another session takes the lock; the event payload is deliberately
	// empty, the watcher must re-read the live row.
	remote.setLock(models.DocumentLock{
		DocumentID:      "d1",
		HolderSessionID: "sess-other",
		ExpiresAt:       time.Now().Add(time.Hour),
	})
	remote.changes <- models.LockChange{Type: models.ChangeInsert, DocumentID: "d1"}

	select {
	case s := <-statuses:
		if s.State != models.LockedByOther {
			t.Fatalf("state = %v, want LockedByOther", s.State)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no status after insert event")
	}

	close(remote.changes)
	select {
	case _, ok := <-statuses:
		if ok {
			t.Fatal("expected status channel close after feed close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("status channel did not close")
	}
}
