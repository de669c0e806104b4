// Package papertrade derives and manages virtual positions opened
// when an alert fires, per spec.md §4.6.
package papertrade

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tickwatch/alertserver/internal/model"
)

// ErrNoBalance is returned when virtual_balance is not positive, or
// when the capped budget cannot buy a single unit at the entry price.
var ErrNoBalance = errors.New("papertrade: virtual balance is not positive")

// ErrPositionExists is returned when averaging is disabled and an
// OPEN trade already exists for the (token, side).
var ErrPositionExists = errors.New("papertrade: open position already exists for token and side")

// DirectionPolicy maps an alert kind to a trade side. The default
// below implements mean-reversion (Open Question 1, pinned): support
// levels and a LOW touched from above buy, resistance levels and a
// HIGH touched from below sell. Callers may substitute a breakout
// policy without touching entry-rule code.
type DirectionPolicy func(kind model.AlertKind) model.Side

// MeanReversionPolicy is the pinned default DirectionPolicy.
func MeanReversionPolicy(kind model.AlertKind) model.Side {
	switch kind {
	case model.KindHigh:
		return model.SideSell
	case model.KindLow:
		return model.SideBuy
	case model.KindS1, model.KindS2, model.KindS3, model.KindS4, model.KindS5, model.KindS6:
		return model.SideBuy
	default:
		return model.SideSell
	}
}

// Engine holds no state of its own; every method is a pure transform
// over the trade slice passed in by the Session's command loop, the
// same pattern as the Alert Evaluator.
type Engine struct {
	Direction     DirectionPolicy
	AllowAverage  bool
}

func NewEngine(allowAverage bool) *Engine {
	return &Engine{Direction: MeanReversionPolicy, AllowAverage: allowAverage}
}

// Enter opens or averages into a position triggered by an alert.
// virtualBalance is the Session's current virtual cash; perTradeCap
// is the configured fraction of it a single trade may use.
func (e *Engine) Enter(
	open []model.PaperTrade,
	inst model.Instrument,
	kind model.AlertKind,
	entryPrice decimal.Decimal,
	virtualBalance decimal.Decimal,
	perTradeCap float64,
	now time.Time,
) ([]model.PaperTrade, model.PaperTrade, error) {
	if virtualBalance.LessThanOrEqual(decimal.Zero) {
		return open, model.PaperTrade{}, ErrNoBalance
	}

	side := e.Direction(kind)
	budget := virtualBalance.Mul(decimal.NewFromFloat(perTradeCap))
	quantity := budget.Div(entryPrice).Truncate(0)
	if quantity.LessThanOrEqual(decimal.Zero) {
		return open, model.PaperTrade{}, ErrNoBalance
	}

	for i, t := range open {
		if t.Status != model.TradeOpen || t.Instrument.Key != inst.Key || t.Side != side {
			continue
		}
		if !e.AllowAverage {
			return open, model.PaperTrade{}, ErrPositionExists
		}
		totalQty := t.Quantity.Add(quantity)
		weighted := t.EntryPrice.Mul(t.Quantity).Add(entryPrice.Mul(quantity)).Div(totalQty)
		t.EntryPrice = weighted
		t.Quantity = totalQty
		t.Mode = model.TradeModeAveraged
		open[i] = t
		return open, t, nil
	}

	trade := model.PaperTrade{
		ID:           uuid.New(),
		Instrument:   inst,
		Side:         side,
		Quantity:     quantity,
		EntryPrice:   entryPrice,
		Status:       model.TradeOpen,
		TriggerLevel: kind,
		Mode:         model.TradeModeNew,
		OpenedAt:     now,
	}
	open = append(open, trade)
	return open, trade, nil
}

// Closed describes one trade transitioning to CLOSED.
type Closed struct {
	Trade  model.PaperTrade
	PnL    decimal.Decimal
	Reason string
}

// ObserveTick applies a tick to every OPEN trade on the given
// instrument, closing any that hit their stop loss, target, or the
// auto square-off window.
func (e *Engine) ObserveTick(
	open []model.PaperTrade,
	token model.InstrumentKey,
	ltp decimal.Decimal,
	now time.Time,
	squareOffWindow bool,
	autoSquareOff bool,
) (remaining []model.PaperTrade, closed []Closed) {
	remaining = make([]model.PaperTrade, 0, len(open))

	for _, t := range open {
		if t.Status != model.TradeOpen || t.Instrument.Key != token {
			remaining = append(remaining, t)
			continue
		}

		reason, shouldClose := exitCondition(t, ltp, squareOffWindow, autoSquareOff)
		if !shouldClose {
			remaining = append(remaining, t)
			continue
		}

		closedAt := now
		t.ExitPrice = &ltp
		t.Status = model.TradeClosed
		t.ClosedAt = &closedAt
		closed = append(closed, Closed{Trade: t, PnL: t.PnL(ltp), Reason: reason})
		remaining = append(remaining, t)
	}
	return remaining, closed
}

// CloseManual force-closes one trade at the given price regardless of
// stop loss or target.
func CloseManual(open []model.PaperTrade, tradeID uuid.UUID, closePrice decimal.Decimal, now time.Time) ([]model.PaperTrade, *Closed) {
	for i, t := range open {
		if t.ID != tradeID || t.Status != model.TradeOpen {
			continue
		}
		closedAt := now
		t.ExitPrice = &closePrice
		t.Status = model.TradeClosed
		t.ClosedAt = &closedAt
		open[i] = t
		return open, &Closed{Trade: t, PnL: t.PnL(closePrice)}
	}
	return open, nil
}

func exitCondition(t model.PaperTrade, ltp decimal.Decimal, squareOffWindow, autoSquareOff bool) (string, bool) {
	if t.StopLoss != nil {
		if t.Side == model.SideBuy && ltp.LessThanOrEqual(*t.StopLoss) {
			return "stop_loss", true
		}
		if t.Side == model.SideSell && ltp.GreaterThanOrEqual(*t.StopLoss) {
			return "stop_loss", true
		}
	}
	if t.Target != nil {
		if t.Side == model.SideBuy && ltp.GreaterThanOrEqual(*t.Target) {
			return "target", true
		}
		if t.Side == model.SideSell && ltp.LessThanOrEqual(*t.Target) {
			return "target", true
		}
	}
	if squareOffWindow && autoSquareOff {
		return "square_off", true
	}
	return "", false
}

// SetStopLoss updates the stop loss for an OPEN trade.
func SetStopLoss(open []model.PaperTrade, tradeID uuid.UUID, price decimal.Decimal) []model.PaperTrade {
	for i, t := range open {
		if t.ID == tradeID && t.Status == model.TradeOpen {
			open[i].StopLoss = &price
		}
	}
	return open
}

// SetTarget updates the target for an OPEN trade.
func SetTarget(open []model.PaperTrade, tradeID uuid.UUID, price decimal.Decimal) []model.PaperTrade {
	for i, t := range open {
		if t.ID == tradeID && t.Status == model.TradeOpen {
			open[i].Target = &price
		}
	}
	return open
}

// TrimClosed keeps every OPEN trade plus only the most recent ringSize
// CLOSED ones, per spec.md §6's persisted layout ("paper trades (open
// + last N closed)"). CLOSED trades are immutable, so trimming only
// ever drops the oldest ones, never mutates a surviving entry.
func TrimClosed(trades []model.PaperTrade, ringSize int) []model.PaperTrade {
	var open, closed []model.PaperTrade
	for _, t := range trades {
		if t.Status == model.TradeOpen {
			open = append(open, t)
		} else {
			closed = append(closed, t)
		}
	}
	if len(closed) > ringSize {
		closed = closed[len(closed)-ringSize:]
	}
	return append(open, closed...)
}
