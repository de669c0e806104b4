package alerts

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tickwatch/alertserver/internal/model"
)

func inst() model.Instrument {
	return model.Instrument{
		Key:    model.InstrumentKey{Exchange: model.ExchangeNSE, Token: 1},
		Symbol: "RELIANCE",
	}
}

func TestObserveFiresOnUpwardCrossing(t *testing.T) {
	now := time.Now()
	a := NewManualAlert(inst(), model.ConditionAbove, decimal.NewFromInt(100), decimal.NewFromInt(95), now)

	fired, remaining := Observe([]model.Alert{a}, a.Instrument.Key, decimal.NewFromInt(101), now, false)
	if len(fired) != 1 {
		t.Fatalf("expected 1 fired alert, got %d", len(fired))
	}
	if len(remaining) != 0 {
		t.Fatalf("expected alert removed from active set, got %d remaining", len(remaining))
	}
}

func TestObserveDoesNotFireWhenAlreadyPastLevel(t *testing.T) {
	now := time.Now()
	// seeded baseline already above the ABOVE level: must not fire on
	// the very next tick, only on a genuine crossing.
	a := NewManualAlert(inst(), model.ConditionAbove, decimal.NewFromInt(100), decimal.NewFromInt(105), now)

	fired, remaining := Observe([]model.Alert{a}, a.Instrument.Key, decimal.NewFromInt(110), now, false)
	if len(fired) != 0 {
		t.Fatalf("expected no fire for price already past level, got %d", len(fired))
	}
	if len(remaining) != 1 {
		t.Fatalf("expected alert to remain active, got %d", len(remaining))
	}
}

func TestObserveIgnoresPausedAlerts(t *testing.T) {
	now := time.Now()
	a := NewManualAlert(inst(), model.ConditionAbove, decimal.NewFromInt(100), decimal.NewFromInt(95), now)

	fired, remaining := Observe([]model.Alert{a}, a.Instrument.Key, decimal.NewFromInt(101), now, true)
	if len(fired) != 0 {
		t.Fatalf("expected no fire while paused, got %d", len(fired))
	}
	if len(remaining) != 1 {
		t.Fatalf("expected alert to survive pause untouched, got %d", len(remaining))
	}
}

func TestObserveIgnoresOtherInstruments(t *testing.T) {
	now := time.Now()
	a := NewManualAlert(inst(), model.ConditionAbove, decimal.NewFromInt(100), decimal.NewFromInt(95), now)
	other := model.InstrumentKey{Exchange: model.ExchangeNSE, Token: 2}

	fired, remaining := Observe([]model.Alert{a}, other, decimal.NewFromInt(200), now, false)
	if len(fired) != 0 || len(remaining) != 1 {
		t.Fatalf("expected untouched alert for unrelated token, got fired=%d remaining=%d", len(fired), len(remaining))
	}
}

func TestObserveFiresInCreationOrder(t *testing.T) {
	now := time.Now()
	key := inst()
	high := NewManualAlert(key, model.ConditionAbove, decimal.NewFromInt(150), decimal.NewFromInt(50), now)
	low := NewManualAlert(key, model.ConditionAbove, decimal.NewFromInt(100), decimal.NewFromInt(50), now)
	below := NewManualAlert(key, model.ConditionBelow, decimal.NewFromInt(40), decimal.NewFromInt(50), now)

	// Created order is high, low, below: a single tick that blows
	// through both ABOVE levels must fire them in that creation order,
	// not sorted by price.
	fired, _ := Observe([]model.Alert{high, low, below}, key.Key, decimal.NewFromInt(200), now, false)
	if len(fired) != 2 {
		t.Fatalf("expected 2 ABOVE alerts to fire, got %d", len(fired))
	}
	if !fired[0].Alert.Price.Equal(decimal.NewFromInt(150)) || !fired[1].Alert.Price.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected creation order (150 then 100), got %s then %s", fired[0].Alert.Price, fired[1].Alert.Price)
	}
}

func TestComputePivotsClassicFormula(t *testing.T) {
	pd := model.OHLC{
		High:  decimal.NewFromInt(110),
		Low:   decimal.NewFromInt(90),
		Close: decimal.NewFromInt(100),
	}
	levels := ComputePivots(pd)

	wantPivot := decimal.NewFromInt(100) // (110+90+100)/3
	wantR1 := wantPivot.Mul(two).Sub(pd.Low)
	if !levels[model.KindR1].Equal(wantR1) {
		t.Errorf("R1 = %s, want %s", levels[model.KindR1], wantR1)
	}
	if levels[model.KindS1].GreaterThan(levels[model.KindR1]) {
		t.Errorf("S1 (%s) should be below R1 (%s)", levels[model.KindS1], levels[model.KindR1])
	}
}

func TestGenerateAutoAlertsIsIdempotentInShape(t *testing.T) {
	i := inst()
	i.PDOHLC = model.OHLC{
		High:  decimal.NewFromInt(110),
		Low:   decimal.NewFromInt(90),
		Close: decimal.NewFromInt(100),
	}
	now := time.Now()

	first := GenerateAutoAlerts(i, now)
	second := GenerateAutoAlerts(i, now)

	if len(first) != len(second) {
		t.Fatalf("expected stable alert count across regeneration, got %d and %d", len(first), len(second))
	}
	if len(first) != 14 { // PDH, PDL, R1-R6, S1-S6
		t.Fatalf("expected 14 auto alerts, got %d", len(first))
	}
}
