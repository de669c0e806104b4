package upstream

import (
	"sync"

	"github.com/tickwatch/alertserver/internal/model"
)

// TickSink is how a Session receives decoded ticks. DeliverTick MUST
// be non-blocking and MUST implement the "latest tick per token"
// conflate policy described in spec.md §4.3 — the client overwrites
// rather than queues, so a slow Session sees the newest price, never
// a backlog.
type TickSink interface {
	ID() model.SessionID
	DeliverTick(t model.Tick)
}

// ledger is the Upstream Client's subscription table: a mapping from
// instrument to the set of sessions subscribed to it. The invariant
// from spec.md §3 is that the live upstream subscription set is
// always exactly the union of this ledger's non-empty keys.
//
// This is the one piece of shared mutable state in the whole system
// (spec.md §5); the mutex below is held only for the duration of a
// delta computation.
type ledger struct {
	mu   sync.Mutex
	subs map[model.InstrumentKey]map[model.SessionID]TickSink
}

func newLedger() *ledger {
	return &ledger{subs: make(map[model.InstrumentKey]map[model.SessionID]TickSink)}
}

// delta describes the subscribe/unsubscribe instructions that must be
// sent upstream after a ledger mutation changed the effective token
// set.
type delta struct {
	subscribe   []model.InstrumentKey
	unsubscribe []model.InstrumentKey
}

func (d delta) empty() bool { return len(d.subscribe) == 0 && len(d.unsubscribe) == 0 }

// addSubscriptions registers sink as a subscriber of each key and
// returns the keys that transitioned from zero to one subscriber
// (i.e. need a fresh upstream subscribe).
func (l *ledger) addSubscriptions(keys []model.InstrumentKey, sink TickSink) delta {
	l.mu.Lock()
	defer l.mu.Unlock()

	var d delta
	for _, k := range keys {
		set, ok := l.subs[k]
		if !ok {
			set = make(map[model.SessionID]TickSink)
			l.subs[k] = set
		}
		wasEmpty := len(set) == 0
		if _, already := set[sink.ID()]; !already {
			set[sink.ID()] = sink
		}
		if wasEmpty {
			d.subscribe = append(d.subscribe, k)
		}
	}
	return d
}

// removeSubscriptions unregisters sessionID from each key and returns
// the keys whose subscriber set became empty (i.e. need an upstream
// unsubscribe).
func (l *ledger) removeSubscriptions(keys []model.InstrumentKey, sessionID model.SessionID) delta {
	l.mu.Lock()
	defer l.mu.Unlock()

	var d delta
	for _, k := range keys {
		set, ok := l.subs[k]
		if !ok {
			continue
		}
		delete(set, sessionID)
		if len(set) == 0 {
			delete(l.subs, k)
			d.unsubscribe = append(d.unsubscribe, k)
		}
	}
	return d
}

// removeSession drops sessionID from every key it's subscribed to
// (used on session teardown); returns the keys that became empty.
func (l *ledger) removeSession(sessionID model.SessionID) delta {
	l.mu.Lock()
	defer l.mu.Unlock()

	var d delta
	for k, set := range l.subs {
		if _, ok := set[sessionID]; !ok {
			continue
		}
		delete(set, sessionID)
		if len(set) == 0 {
			delete(l.subs, k)
			d.unsubscribe = append(d.unsubscribe, k)
		}
	}
	return d
}

// subscribers returns the current set of sinks subscribed to key,
// used on the tick-dispatch hot path.
func (l *ledger) subscribers(key model.InstrumentKey) []TickSink {
	l.mu.Lock()
	defer l.mu.Unlock()

	set, ok := l.subs[key]
	if !ok {
		return nil
	}
	out := make([]TickSink, 0, len(set))
	for _, sink := range set {
		out = append(out, sink)
	}
	return out
}

// snapshotKeys returns every token currently subscribed by anyone —
// used to re-subscribe in one batch after a reconnect.
func (l *ledger) snapshotKeys() []model.InstrumentKey {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]model.InstrumentKey, 0, len(l.subs))
	for k := range l.subs {
		out = append(out, k)
	}
	return out
}

// empty reports whether the ledger currently holds no subscriptions.
func (l *ledger) empty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs) == 0
}
