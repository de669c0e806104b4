package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

type fakeStore struct {
	saveErr   error
	saveCalls int
	loadVal   []byte
	loadVer   byte
	loadErr   error
	deleteErr error
}

func (f *fakeStore) Save(_ context.Context, _ string, _ byte, _ []byte) error {
	f.saveCalls++
	return f.saveErr
}

func (f *fakeStore) Load(_ context.Context, _ string) (byte, []byte, error) {
	return f.loadVer, f.loadVal, f.loadErr
}

func (f *fakeStore) Delete(_ context.Context, _ string) error {
	return f.deleteErr
}

func (f *fakeStore) Close() {}

func TestGuardedStorePassesThroughSuccess(t *testing.T) {
	inner := &fakeStore{loadVal: []byte("snap"), loadVer: 3}
	gs := NewGuardedStore(inner, zerolog.Nop())

	if err := gs.Save(context.Background(), "user-1", 1, []byte("a")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	version, blob, err := gs.Load(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if version != 3 || string(blob) != "snap" {
		t.Fatalf("unexpected load result: %d %q", version, blob)
	}
	if err := gs.Delete(context.Background(), "user-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}

func TestGuardedStoreNotFoundDoesNotTripBreaker(t *testing.T) {
	inner := &fakeStore{loadErr: ErrNotFound}
	gs := NewGuardedStore(inner, zerolog.Nop())

	for i := 0; i < 20; i++ {
		_, _, err := gs.Load(context.Background(), "user-1")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("iteration %d: expected ErrNotFound, got %v", i, err)
		}
	}
}

func TestGuardedStoreOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &fakeStore{saveErr: errors.New("connection refused")}
	gs := NewGuardedStore(inner, zerolog.Nop())

	var lastErr error
	for i := 0; i < 5; i++ {
		lastErr = gs.Save(context.Background(), "user-1", 1, []byte("a"))
	}
	if lastErr == nil {
		t.Fatal("expected failures to propagate")
	}

	callsBeforeOpen := inner.saveCalls
	if err := gs.Save(context.Background(), "user-1", 1, []byte("a")); err == nil {
		t.Fatal("expected breaker to reject once open")
	}
	if inner.saveCalls != callsBeforeOpen {
		t.Fatalf("expected open breaker to skip the inner call, inner called %d times", inner.saveCalls-callsBeforeOpen)
	}
}
