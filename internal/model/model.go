// Package model defines the data shapes shared across the server:
// instruments, watchlist items, alerts, paper trades, ticks and the
// session's durable fields. None of these types own synchronization —
// that is the Session command loop's job (internal/session).
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Exchange identifies the market an instrument trades on.
type Exchange string

const (
	ExchangeNSE Exchange = "NSE"
	ExchangeBSE Exchange = "BSE"
)

// Token is the broker's opaque numeric instrument identifier.
type Token int64

// InstrumentKey identifies an instrument by its natural key.
type InstrumentKey struct {
	Exchange Exchange
	Token    Token
}

// OHLC is a previous-day price reference, used to seed auto alerts
// and as the "previous observation" fallback before any tick has
// been seen this day.
type OHLC struct {
	Open  decimal.Decimal
	High  decimal.Decimal
	Low   decimal.Decimal
	Close decimal.Decimal
}

// Instrument is immutable within a market day; PDOHLC is re-cached on
// the first access of a new day by the ScripDirectory collaborator.
type Instrument struct {
	Key    InstrumentKey
	Symbol string
	PDOHLC OHLC
}

// WatchlistItem is owned by exactly one Session.
type WatchlistItem struct {
	Instrument Instrument
	LTP        decimal.Decimal
	AddedAt    time.Time
}

// Condition is the crossing direction an Alert watches for.
type Condition string

const (
	ConditionAbove Condition = "ABOVE"
	ConditionBelow Condition = "BELOW"
)

// AlertKind distinguishes a user-created alert from one generated by
// the pivot auto-generation pass.
type AlertKind string

const (
	KindManual  AlertKind = "MANUAL"
	KindHigh    AlertKind = "AUTO_HIGH"
	KindLow     AlertKind = "AUTO_LOW"
	KindR1      AlertKind = "AUTO_R1"
	KindR2      AlertKind = "AUTO_R2"
	KindR3      AlertKind = "AUTO_R3"
	KindR4      AlertKind = "AUTO_R4"
	KindR5      AlertKind = "AUTO_R5"
	KindR6      AlertKind = "AUTO_R6"
	KindS1      AlertKind = "AUTO_S1"
	KindS2      AlertKind = "AUTO_S2"
	KindS3      AlertKind = "AUTO_S3"
	KindS4      AlertKind = "AUTO_S4"
	KindS5      AlertKind = "AUTO_S5"
	KindS6      AlertKind = "AUTO_S6"
)

// IsAuto reports whether the kind was produced by auto-generation
// rather than a user action.
func (k AlertKind) IsAuto() bool {
	return k != KindManual
}

// Alert fires at most once; after firing it is removed from the
// active set and appended to the Session's alert log.
type Alert struct {
	ID         uuid.UUID
	Instrument Instrument
	Condition  Condition
	Price      decimal.Decimal
	Kind       AlertKind
	Armed      bool
	CreatedAt  time.Time

	// LastObservedPrice is the last ltp this Session saw for the
	// alert's token, used to detect a true crossing rather than
	// "already past the level". It is seeded from PDC when no tick has
	// been seen yet, and must survive a snapshot round-trip (§4.2) —
	// exported rather than kept private, since an
	// unexported field would silently reset every alert's crossing
	// baseline on rehydrate.
	LastObservedPrice decimal.Decimal
	Seeded            bool
}

// SeedObservation initializes the crossing baseline from the cached
// previous-day close, if it has not already been seeded from a live
// tick.
func (a *Alert) SeedObservation(pdc decimal.Decimal) {
	if !a.Seeded {
		a.LastObservedPrice = pdc
		a.Seeded = true
	}
}

// Observe records the latest ltp as the new crossing baseline.
func (a *Alert) Observe(ltp decimal.Decimal) {
	a.LastObservedPrice = ltp
	a.Seeded = true
}

// LastObserved returns the last ltp used as the crossing baseline.
func (a *Alert) LastObserved() decimal.Decimal {
	return a.LastObservedPrice
}

// AlertLogEntry is appended when an Alert fires.
type AlertLogEntry struct {
	Alert          Alert
	TriggeredAt    time.Time
	PriceObserved  decimal.Decimal
}

// Side is the direction of a paper trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// TradeStatus tracks a paper trade's lifecycle.
type TradeStatus string

const (
	TradeOpen   TradeStatus = "OPEN"
	TradeClosed TradeStatus = "CLOSED"
)

// TradeMode records whether an entry opened a new position or
// averaged into an existing one.
type TradeMode string

const (
	TradeModeNew      TradeMode = "NEW"
	TradeModeAveraged TradeMode = "AVERAGED"
)

// PaperTrade is a simulated position derived from an alert trigger.
// CLOSED trades are immutable; at most one OPEN trade exists per
// (session, token, side) unless averaging was enabled at entry.
type PaperTrade struct {
	ID           uuid.UUID
	Instrument   Instrument
	Side         Side
	Quantity     decimal.Decimal
	EntryPrice   decimal.Decimal
	ExitPrice    *decimal.Decimal
	StopLoss     *decimal.Decimal
	Target       *decimal.Decimal
	Status       TradeStatus
	TriggerLevel AlertKind
	Mode         TradeMode
	OpenedAt     time.Time
	ClosedAt     *time.Time
}

// PnL computes the derived, never-stored profit/loss at the given
// last-traded price.
func (t PaperTrade) PnL(ltp decimal.Decimal) decimal.Decimal {
	diff := ltp.Sub(t.EntryPrice)
	pnl := diff.Mul(t.Quantity)
	if t.Side == SideSell {
		pnl = pnl.Neg()
	}
	return pnl
}

// Tick is a single, ephemeral price observation from the broker feed.
// It is never persisted verbatim.
type Tick struct {
	Instrument InstrumentKey
	LTP        decimal.Decimal
	TSServer   time.Time
}
