package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tickwatch/alertserver/internal/clock"
	"github.com/tickwatch/alertserver/internal/downstream"
	"github.com/tickwatch/alertserver/internal/metrics"
	"github.com/tickwatch/alertserver/internal/model"
	"github.com/tickwatch/alertserver/internal/persistence"
)

// entry is one live Session plus the bookkeeping the Registry needs
// that does not belong inside Session itself.
type entry struct {
	session  *Session
	cancel   context.CancelFunc
	lastSeen func() time.Time
}

// Registry owns every live Session, keyed both by its ephemeral
// SessionID and its stable UserID, and implements downstream.Hub so
// the transport layer never touches a Session directly (spec.md §4.7).
type Registry struct {
	mu        sync.RWMutex
	byID      map[model.SessionID]*entry
	byUser    map[model.UserID]model.SessionID
	evictedAt map[model.UserID]time.Time

	upstream UpstreamSubscriber
	scrip    model.ScripDirectory
	store    persistence.Store
	clk      clock.Clock
	cfg      Config
	logger   zerolog.Logger

	wg sync.WaitGroup
}

var _ downstream.Hub = (*Registry)(nil)

// NewRegistry builds an empty Registry. Run must be called to start
// its background TTL sweep and persistence flush loop.
func NewRegistry(up UpstreamSubscriber, scrip model.ScripDirectory, store persistence.Store, clk clock.Clock, cfg Config, logger zerolog.Logger) *Registry {
	return &Registry{
		byID:      make(map[model.SessionID]*entry),
		byUser:    make(map[model.UserID]model.SessionID),
		evictedAt: make(map[model.UserID]time.Time),
		upstream:  up,
		scrip:     scrip,
		store:    store,
		clk:      clk,
		cfg:      cfg,
		logger:   logger.With().Str("component", "session_registry").Logger(),
	}
}

// NewSession implements downstream.Hub: it rehydrates from the
// Persistence Adapter if this user has a durable snapshot (e.g. the
// process restarted), or starts fresh otherwise.
func (r *Registry) NewSession(userID model.UserID, conn *downstream.Connection) model.SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byUser[userID]; ok {
		if e, ok := r.byID[existing]; ok {
			e.session.submitAsync(command{kind: cmdBindChannel, bindChannel: &bindChannelCmd{Conn: conn}})
			return existing
		}
	}

	delete(r.evictedAt, userID)

	id := model.NewSessionID()
	sess := newSession(id, userID, r.upstream, r.scrip, r.clk, r.cfg, r.logger)

	if r.store != nil {
		if version, blob, err := r.store.Load(context.Background(), string(userID)); err == nil {
			if snap, uerr := unmarshalSnapshot(blob); uerr == nil {
				snap.Version = version
				sess.restore(snap)
				metrics.SessionsRehydrated.Inc()
			} else {
				r.logger.Warn().Err(uerr).Str("user_id", string(userID)).Msg("failed to unmarshal durable snapshot, starting fresh")
			}
		} else if err != persistence.ErrNotFound {
			r.logger.Warn().Err(err).Str("user_id", string(userID)).Msg("failed to load durable snapshot, starting fresh")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.byID[id] = &entry{session: sess, cancel: cancel, lastSeen: func() time.Time { return sess.lastSeen }}
	r.byUser[userID] = id

	r.wg.Add(1)
	metrics.SessionsActive.Inc()
	go func() {
		defer r.wg.Done()
		defer metrics.SessionsActive.Dec()
		sess.Run(ctx)
	}()

	sess.submitAsync(command{kind: cmdBindChannel, bindChannel: &bindChannelCmd{Conn: conn}})
	return id
}

// Resume implements downstream.Hub: binding an existing in-memory
// Session to a new Connection is the cheap path spec.md §4.7 calls
// out for a reconnect within the warm TTL window.
func (r *Registry) Resume(sessionID model.SessionID, conn *downstream.Connection) bool {
	r.mu.RLock()
	e, ok := r.byID[sessionID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	e.session.submitAsync(command{kind: cmdBindChannel, bindChannel: &bindChannelCmd{Conn: conn}})
	return true
}

// HandleFrame implements downstream.Hub. It reports whether the frame
// was accepted onto the Session's command queue so the transport layer
// can surface a status frame on overflow instead of silently dropping
// the client's request (spec.md §4.7, §8).
func (r *Registry) HandleFrame(sessionID model.SessionID, env downstream.Envelope) bool {
	r.mu.RLock()
	e, ok := r.byID[sessionID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return e.session.submitAsync(command{kind: cmdClientFrame, clientFrame: &clientFrameCmd{Envelope: env}})
}

// Unbind implements downstream.Hub: the Connection closed but the
// Session stays live in memory for the warm TTL window so a quick
// reconnect can Resume it without a durable-store round trip.
func (r *Registry) Unbind(sessionID model.SessionID) {
	r.mu.RLock()
	e, ok := r.byID[sessionID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	e.session.submitAsync(command{kind: cmdUnbindChannel})
}

// dirtySession adapts a *Session to persistence.Dirty without
// exposing Session's internals outside this package.
type dirtySession struct{ s *Session }

func (d dirtySession) UserID() string { return string(d.s.userID) }

// ConsumeDirty asks the Session's own command-loop goroutine for a
// snapshot rather than reading d.s's fields directly: Session state is
// owned by exactly one goroutine (spec.md §5), and the write-behind
// worker calling this runs on its own.
func (d dirtySession) ConsumeDirty(ctx context.Context) (byte, []byte, bool, error) {
	return d.s.SnapshotForPersistence(ctx)
}

// dirtySessions is handed to persistence.Worker as its source
// function; it must stay cheap since it runs on every flush tick.
func (r *Registry) dirtySessions() []persistence.Dirty {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]persistence.Dirty, 0, len(r.byID))
	for _, e := range r.byID {
		out = append(out, dirtySession{s: e.session})
	}
	return out
}

// Run starts the TTL sweep and, if a Store was configured, the
// write-behind persistence worker. It blocks until ctx is cancelled,
// then drains every Session with a bounded deadline (spec.md §5).
func (r *Registry) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.sweepLoop(ctx)
	}()

	if r.store != nil {
		worker := persistence.NewWorker(r.store, r.dirtySessions, r.cfg.PersistenceFlushInterval, r.logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
	}

	<-ctx.Done()
	wg.Wait()
	r.shutdownAll()
}

// sweepLoop evicts sessions that have exceeded the warm TTL from
// memory (their state already lives durably) and permanently forgets
// ones past the cold TTL, per spec.md §6's two-tier retention.
func (r *Registry) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	now := r.clk.NowWall()

	r.mu.Lock()
	var toPurge []model.UserID
	for id, e := range r.byID {
		idle := now.Sub(e.lastSeen())
		if idle < r.cfg.SessionTTLWarm {
			continue
		}
		e.cancel()
		delete(r.byID, id)
		for uid, sid := range r.byUser {
			if sid == id {
				delete(r.byUser, uid)
				r.evictedAt[uid] = now
			}
		}
	}
	for uid, evictedAt := range r.evictedAt {
		if now.Sub(evictedAt) >= r.cfg.SessionTTLCold {
			toPurge = append(toPurge, uid)
			delete(r.evictedAt, uid)
		}
	}
	r.mu.Unlock()

	if r.store == nil {
		return
	}
	for _, uid := range toPurge {
		if err := r.store.Delete(context.Background(), string(uid)); err != nil {
			r.logger.Warn().Err(err).Str("user_id", string(uid)).Msg("failed to purge cold snapshot")
		}
	}
}

// shutdownAll broadcasts a shutdown command to every live Session and
// waits up to 10 seconds for their goroutines to exit, generalizing
// the teacher's unbounded sync.WaitGroup wait into a deadline the rest
// of the process's graceful shutdown can rely on.
func (r *Registry) shutdownAll() {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.byID))
	for _, e := range r.byID {
		sessions = append(sessions, e.session)
	}
	r.mu.RUnlock()

	deadline, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	g, _ := errgroup.WithContext(deadline)
	for _, s := range sessions {
		s := s
		g.Go(func() error {
			s.submitAsync(command{kind: cmdShutdown})
			return nil
		})
	}
	_ = g.Wait()

	waited := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
	case <-deadline.Done():
		r.logger.Warn().Msg("timed out waiting for sessions to shut down")
	}
}
