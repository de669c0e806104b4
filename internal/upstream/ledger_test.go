package upstream

import (
	"testing"

	"github.com/tickwatch/alertserver/internal/model"
)

type fakeSink struct {
	id model.SessionID
}

func (f fakeSink) ID() model.SessionID       { return f.id }
func (f fakeSink) DeliverTick(model.Tick)    {}

func TestLedgerFirstSubscriberTriggersUpstreamSubscribe(t *testing.T) {
	l := newLedger()
	key := model.InstrumentKey{Exchange: model.ExchangeNSE, Token: 1}

	d := l.addSubscriptions([]model.InstrumentKey{key}, fakeSink{id: "s1"})
	if len(d.subscribe) != 1 || d.subscribe[0] != key {
		t.Fatalf("expected subscribe delta for %v, got %+v", key, d)
	}

	d2 := l.addSubscriptions([]model.InstrumentKey{key}, fakeSink{id: "s2"})
	if !d2.empty() {
		t.Fatalf("second subscriber should not re-trigger upstream subscribe, got %+v", d2)
	}
}

func TestLedgerLastUnsubscriberTriggersUpstreamUnsubscribe(t *testing.T) {
	l := newLedger()
	key := model.InstrumentKey{Exchange: model.ExchangeNSE, Token: 1}

	l.addSubscriptions([]model.InstrumentKey{key}, fakeSink{id: "s1"})
	l.addSubscriptions([]model.InstrumentKey{key}, fakeSink{id: "s2"})

	d := l.removeSubscriptions([]model.InstrumentKey{key}, "s1")
	if !d.empty() {
		t.Fatalf("removing one of two subscribers should not unsubscribe upstream, got %+v", d)
	}

	d2 := l.removeSubscriptions([]model.InstrumentKey{key}, "s2")
	if len(d2.unsubscribe) != 1 || d2.unsubscribe[0] != key {
		t.Fatalf("removing last subscriber should trigger unsubscribe, got %+v", d2)
	}
}

func TestLedgerRemoveSessionClearsAllItsKeys(t *testing.T) {
	l := newLedger()
	k1 := model.InstrumentKey{Exchange: model.ExchangeNSE, Token: 1}
	k2 := model.InstrumentKey{Exchange: model.ExchangeNSE, Token: 2}

	l.addSubscriptions([]model.InstrumentKey{k1, k2}, fakeSink{id: "s1"})

	d := l.removeSession("s1")
	if len(d.unsubscribe) != 2 {
		t.Fatalf("expected both keys unsubscribed, got %+v", d)
	}
	if !l.empty() {
		t.Fatal("ledger should be empty after removing its only session")
	}
}

func TestLedgerSubscribersReturnsCurrentSet(t *testing.T) {
	l := newLedger()
	key := model.InstrumentKey{Exchange: model.ExchangeNSE, Token: 1}
	l.addSubscriptions([]model.InstrumentKey{key}, fakeSink{id: "s1"})
	l.addSubscriptions([]model.InstrumentKey{key}, fakeSink{id: "s2"})

	subs := l.subscribers(key)
	if len(subs) != 2 {
		t.Fatalf("expected 2 subscribers, got %d", len(subs))
	}
}
