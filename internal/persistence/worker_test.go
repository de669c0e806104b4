package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeDirty struct {
	userID  string
	version byte
	blob    []byte
	dirty   bool
}

func (f *fakeDirty) UserID() string { return f.userID }

func (f *fakeDirty) ConsumeDirty(ctx context.Context) (byte, []byte, bool, error) {
	d := f.dirty
	f.dirty = false
	return f.version, f.blob, d, nil
}

func TestWorkerSweepSkipsClean(t *testing.T) {
	sess := &fakeDirty{userID: "u1", dirty: false}
	store := &fakeStore{}
	w := NewWorker(store, func() []Dirty { return []Dirty{sess} }, time.Second, zerolog.Nop())

	w.sweep(context.Background())

	if store.saveCalls != 0 {
		t.Fatalf("expected no save calls, got %d", store.saveCalls)
	}
}

func TestWorkerSweepFlushesDirty(t *testing.T) {
	sess := &fakeDirty{userID: "u1", dirty: true, version: 1, blob: []byte("snap")}
	store := &fakeStore{}
	w := NewWorker(store, func() []Dirty { return []Dirty{sess} }, time.Second, zerolog.Nop())

	w.sweep(context.Background())

	if store.saveCalls != 1 {
		t.Fatalf("expected one save call, got %d", store.saveCalls)
	}
}

func TestWorkerRetriesFailedFlushUntilSuccess(t *testing.T) {
	sess := &fakeDirty{userID: "u1", dirty: true, version: 1, blob: []byte("snap")}
	store := &fakeStore{saveErr: errors.New("db down")}
	w := NewWorker(store, func() []Dirty { return []Dirty{sess} }, time.Second, zerolog.Nop())

	w.sweep(context.Background())
	if store.saveCalls != 1 {
		t.Fatalf("expected one attempt, got %d", store.saveCalls)
	}

	// No new mutation: sess.dirty is now false, but the worker must
	// still retry the buffered snapshot rather than drop it.
	w.sweep(context.Background())
	if store.saveCalls != 2 {
		t.Fatalf("expected a retry attempt even though the session is no longer dirty, got %d calls", store.saveCalls)
	}

	store.saveErr = nil
	w.sweep(context.Background())
	if store.saveCalls != 3 {
		t.Fatalf("expected the recovered store to be retried, got %d calls", store.saveCalls)
	}

	// Now the retry buffer should be empty: another sweep with nothing
	// dirty should not call Save again.
	w.sweep(context.Background())
	if store.saveCalls != 3 {
		t.Fatalf("expected no further calls once the pending snapshot flushed, got %d", store.saveCalls)
	}
}
