// Package alerts implements the edge-triggered alert evaluator and
// the pivot-point auto alert generator described in spec.md §4.5.
package alerts

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tickwatch/alertserver/internal/model"
)

var two = decimal.NewFromInt(2)

// ComputePivots derives the classic R1-R6/S1-S6 pivot ladder from a
// previous day's OHLC. It is a pure function: same input, same
// output, every time, so auto alert generation can be replayed
// deterministically during tests and during a rehydrate.
func ComputePivots(pd model.OHLC) map[model.AlertKind]decimal.Decimal {
	pivot := pd.High.Add(pd.Low).Add(pd.Close).Div(decimal.NewFromInt(3))
	r1 := pivot.Mul(two).Sub(pd.Low)
	s1 := pivot.Mul(two).Sub(pd.High)
	r2 := pivot.Add(pd.High).Sub(pd.Low)
	s2 := pivot.Sub(pd.High).Add(pd.Low)
	r3 := pd.High.Add(r1.Sub(s1).Mul(two))
	s3 := pd.Low.Sub(r1.Sub(s1).Mul(two))
	r4 := r3.Add(r2.Sub(r1))
	s4 := s3.Sub(s1.Sub(s2))
	r5 := r4.Add(r2.Sub(r1))
	s5 := s4.Sub(s1.Sub(s2))
	r6 := r5.Add(r2.Sub(r1))
	s6 := s5.Sub(s1.Sub(s2))

	return map[model.AlertKind]decimal.Decimal{
		model.KindR1: r1, model.KindR2: r2, model.KindR3: r3,
		model.KindR4: r4, model.KindR5: r5, model.KindR6: r6,
		model.KindS1: s1, model.KindS2: s2, model.KindS3: s3,
		model.KindS4: s4, model.KindS5: s5, model.KindS6: s6,
	}
}

// conditionForKind reports whether an auto alert of this kind fires on
// an upward (resistance) or downward (support) crossing.
func conditionForKind(kind model.AlertKind) model.Condition {
	switch kind {
	case model.KindLow, model.KindS1, model.KindS2, model.KindS3, model.KindS4, model.KindS5, model.KindS6:
		return model.ConditionBelow
	default:
		return model.ConditionAbove
	}
}

// autoAlertOrder fixes the creation order of auto-generated alerts so
// that tick processing order (spec.md §4.5) is reproducible across a
// restart instead of depending on Go's randomized map iteration.
// Resistance levels outward from the pivot, then support levels
// outward, then the prior day's literal high/low.
var autoAlertOrder = []model.AlertKind{
	model.KindR1, model.KindR2, model.KindR3, model.KindR4, model.KindR5, model.KindR6,
	model.KindS1, model.KindS2, model.KindS3, model.KindS4, model.KindS5, model.KindS6,
	model.KindHigh, model.KindLow,
}

// GenerateAutoAlerts builds the full set of pivot and PDH/PDL alerts
// for one instrument. It only builds the new set; dropping the prior
// auto alerts for the instrument is done by the caller
// (Session.applyGenerateAutoAlerts), so re-running generation does not
// duplicate entries (spec.md §4.5).
func GenerateAutoAlerts(inst model.Instrument, createdAt time.Time) []model.Alert {
	levels := ComputePivots(inst.PDOHLC)
	levels[model.KindHigh] = inst.PDOHLC.High
	levels[model.KindLow] = inst.PDOHLC.Low

	alerts := make([]model.Alert, 0, len(autoAlertOrder))
	for _, kind := range autoAlertOrder {
		price := levels[kind]
		a := model.Alert{
			ID:         uuid.New(),
			Instrument: inst,
			Condition:  conditionForKind(kind),
			Price:      price,
			Kind:       kind,
			Armed:      true,
			CreatedAt:  createdAt,
		}
		a.SeedObservation(inst.PDOHLC.Close)
		alerts = append(alerts, a)
	}
	return alerts
}
