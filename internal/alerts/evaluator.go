package alerts

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tickwatch/alertserver/internal/model"
)

// Fired is one alert crossing, paired with the log entry that should
// be appended to the Session's alert log.
type Fired struct {
	Alert model.Alert
	Entry model.AlertLogEntry
}

// Observe applies one tick to the active alert set. It returns the
// alerts that fired (to be removed from the active set and appended
// to the log) and the surviving alerts with their crossing baseline
// advanced to ltp. The evaluator holds no state of its own; all
// mutable session state stays inside the Session's single-consumer
// command loop, which calls Observe once per inbound tick.
//
// Edge-trigger contract (spec.md §4.5): an alert fires only on the
// tick where price moves from the non-triggering side of its level to
// the triggering side. A price that is already past the level when
// the alert is created, or that never crosses, must not fire.
// Processing order within one tick follows the order alerts were
// created in (spec.md §4.5): active is always appended-to in creation
// order, so candidates are walked in that same order without re-
// sorting — a single tick that blows through several stacked levels
// fires them in the order they were added to the Session, not by
// condition or price.
func Observe(active []model.Alert, token model.InstrumentKey, ltp decimal.Decimal, now time.Time, paused bool) (fired []Fired, remaining []model.Alert) {
	remaining = make([]model.Alert, 0, len(active))

	var candidates []model.Alert
	for _, a := range active {
		if a.Instrument.Key != token {
			remaining = append(remaining, a)
			continue
		}
		candidates = append(candidates, a)
	}

	for _, a := range candidates {
		if !paused && a.Armed && crosses(a, ltp) {
			fired = append(fired, Fired{
				Alert: a,
				Entry: model.AlertLogEntry{Alert: a, TriggeredAt: now, PriceObserved: ltp},
			})
			continue
		}
		a.Observe(ltp)
		remaining = append(remaining, a)
	}
	return fired, remaining
}

// crosses reports whether ltp is on the triggering side of a's level
// given its last observed price — a true edge, not a level check.
func crosses(a model.Alert, ltp decimal.Decimal) bool {
	last := a.LastObserved()
	switch a.Condition {
	case model.ConditionAbove:
		return last.LessThan(a.Price) && ltp.GreaterThanOrEqual(a.Price)
	case model.ConditionBelow:
		return last.GreaterThan(a.Price) && ltp.LessThanOrEqual(a.Price)
	default:
		return false
	}
}

// NewManualAlert builds a user-created alert, seeding its crossing
// baseline from the instrument's current last-traded price so it does
// not immediately fire if price already sits on the triggering side.
func NewManualAlert(inst model.Instrument, condition model.Condition, price, currentLTP decimal.Decimal, createdAt time.Time) model.Alert {
	a := model.Alert{
		ID:         uuid.New(),
		Instrument: inst,
		Condition:  condition,
		Price:      price,
		Kind:       model.KindManual,
		Armed:      true,
		CreatedAt:  createdAt,
	}
	a.Observe(currentLTP)
	return a
}
