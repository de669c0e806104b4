package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tickwatch/alertserver/internal/metrics"
)

// Dirty is the Registry's view of a Session for the purposes of the
// write-behind worker: enough to ask "does this need flushing" and
// "what do I write" without the worker importing the session package.
type Dirty interface {
	UserID() string
	ConsumeDirty(ctx context.Context) (version byte, blob []byte, dirty bool, err error)
}

type pendingBlob struct {
	version byte
	blob    []byte
}

// Worker periodically sweeps a set of sessions supplied by source and
// flushes any that are dirty. ConsumeDirty is a round trip through
// each Session's own command loop (spec.md §5), so it is bounded by a
// per-session timeout rather than assumed instantaneous — a wedged
// Session only delays its own snapshot, not the rest of the sweep. A
// failed save is kept in a per-user retry buffer rather than dropped:
// the next sweep retries the same blob, and if the session goes dirty
// again in the meantime the fresher snapshot simply replaces it in the
// buffer (spec.md §4.2: "on successful recovery the worker retries the
// latest snapshot").
type Worker struct {
	store    Store
	source   func() []Dirty
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	pending map[string]pendingBlob
}

// NewWorker builds a Worker. source is called once per sweep and
// should return a cheap, short-lived slice of the Registry's current
// sessions.
func NewWorker(store Store, source func() []Dirty, interval time.Duration, logger zerolog.Logger) *Worker {
	return &Worker{
		store:    store,
		source:   source,
		interval: interval,
		logger:   logger.With().Str("component", "persistence_worker").Logger(),
		pending:  make(map[string]pendingBlob),
	}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Worker) sweep(ctx context.Context) {
	for _, sess := range w.source() {
		snapCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		version, blob, dirty, err := sess.ConsumeDirty(snapCtx)
		cancel()
		if err != nil {
			w.logger.Error().Err(err).Msg("failed to serialize session snapshot")
			continue
		}
		if dirty {
			w.mu.Lock()
			w.pending[sess.UserID()] = pendingBlob{version: version, blob: blob}
			w.mu.Unlock()
		}
	}

	w.mu.Lock()
	toFlush := make(map[string]pendingBlob, len(w.pending))
	for userID, pb := range w.pending {
		toFlush[userID] = pb
	}
	w.mu.Unlock()

	for userID, pb := range toFlush {
		saveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := w.store.Save(saveCtx, userID, pb.version, pb.blob)
		cancel()
		if err != nil {
			metrics.PersistenceFlushes.WithLabelValues("error").Inc()
			w.logger.Warn().Err(err).Str("user_id", userID).Msg("snapshot flush failed, will retry next sweep")
			continue
		}
		metrics.PersistenceFlushes.WithLabelValues("ok").Inc()
		w.mu.Lock()
		delete(w.pending, userID)
		w.mu.Unlock()
	}
}
