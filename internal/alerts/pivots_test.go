package alerts

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tickwatch/alertserver/internal/model"
)

func testInstrument() model.Instrument {
	return model.Instrument{
		Key: model.InstrumentKey{Exchange: model.ExchangeNSE, Token: 1},
		PDOHLC: model.OHLC{
			High:  decimal.NewFromInt(110),
			Low:   decimal.NewFromInt(90),
			Close: decimal.NewFromInt(100),
		},
	}
}

func TestGenerateAutoAlertsOrderIsDeterministic(t *testing.T) {
	inst := testInstrument()
	now := time.Now()

	first := GenerateAutoAlerts(inst, now)
	for i := 0; i < 20; i++ {
		got := GenerateAutoAlerts(inst, now)
		if len(got) != len(first) {
			t.Fatalf("run %d: got %d alerts, want %d", i, len(got), len(first))
		}
		for j := range got {
			if got[j].Kind != first[j].Kind {
				t.Fatalf("run %d: alert %d kind = %s, want %s (creation order must be stable across calls)", i, j, got[j].Kind, first[j].Kind)
			}
		}
	}
}

func TestGenerateAutoAlertsIncludesHighAndLow(t *testing.T) {
	inst := testInstrument()
	alerts := GenerateAutoAlerts(inst, time.Now())

	var sawHigh, sawLow bool
	for _, a := range alerts {
		if a.Kind == model.KindHigh {
			sawHigh = true
			if !a.Price.Equal(inst.PDOHLC.High) {
				t.Errorf("HIGH alert price = %s, want %s", a.Price, inst.PDOHLC.High)
			}
		}
		if a.Kind == model.KindLow {
			sawLow = true
			if !a.Price.Equal(inst.PDOHLC.Low) {
				t.Errorf("LOW alert price = %s, want %s", a.Price, inst.PDOHLC.Low)
			}
		}
	}
	if !sawHigh || !sawLow {
		t.Fatal("expected both HIGH and LOW alerts in the generated set")
	}
}
