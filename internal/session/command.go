package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tickwatch/alertserver/internal/downstream"
	"github.com/tickwatch/alertserver/internal/model"
)

// command is the sum type flowing through a Session's single
// consumer loop (spec.md §4.7). Every mutating command carries a
// reply channel for producers that need a synchronous result; Tick
// and other fire-and-forget commands leave it nil.
type command struct {
	kind  commandKind
	reply chan<- result

	// releaseSem is set only by submitSync, on the command whose
	// semaphore permit Run must release once it is dequeued. A
	// reply-carrying command submitted through a different path (e.g.
	// cmdSnapshot from the persistence worker) never acquired the
	// semaphore and must not release it.
	releaseSem bool

	addToWatchlist     *addToWatchlistCmd
	removeFromWatchlist *removeFromWatchlistCmd
	setReferenceDate   *setReferenceDateCmd
	createAlert        *createAlertCmd
	deleteAlert        *deleteAlertCmd
	deleteAlerts       *deleteAlertsCmd
	pauseAlerts        *pauseAlertsCmd
	generateAutoAlerts *generateAutoAlertsCmd
	setPaperEnabled    *setPaperEnabledCmd
	setVirtualBalance  *setVirtualBalanceCmd
	setStopLoss        *setStopLossCmd
	setTarget          *setTargetCmd
	closeTrade         *closeTradeCmd
	tick               *tickCmd
	bindChannel        *bindChannelCmd
	unbindChannel      *unbindChannelCmd
	clientFrame        *clientFrameCmd
}

// snapshotResult carries back a serialized Session snapshot, captured
// on the command loop so the Persistence Adapter's write-behind
// worker never touches Session-owned fields from its own goroutine.
type snapshotResult struct {
	Version byte
	Blob    []byte
	Dirty   bool
}

type commandKind int

const (
	cmdAddToWatchlist commandKind = iota
	cmdRemoveFromWatchlist
	cmdSetReferenceDate
	cmdCreateAlert
	cmdDeleteAlert
	cmdDeleteAlerts
	cmdClearAlerts
	cmdPauseAlerts
	cmdGenerateAutoAlerts
	cmdSetPaperEnabled
	cmdSetVirtualBalance
	cmdSetStopLoss
	cmdSetTarget
	cmdCloseTrade
	cmdTick
	cmdBindChannel
	cmdUnbindChannel
	cmdClientFrame
	cmdSnapshot
	cmdShutdown
)

// result is returned on a command's reply channel. Exactly one of the
// payload fields is set, depending on the command kind; Err is set on
// any user-error (spec.md §7's "surfaced synchronously" category).
type result struct {
	Err       error
	Watchlist []model.WatchlistItem
	Alert     *model.Alert
	Alerts    []model.Alert
	Trade     *model.PaperTrade
	Trades    []model.PaperTrade
	Snapshot  snapshotResult
}

type addToWatchlistCmd struct {
	Instrument model.Instrument
}

type removeFromWatchlistCmd struct {
	Key model.InstrumentKey
}

type setReferenceDateCmd struct {
	Date time.Time
}

type createAlertCmd struct {
	Instrument model.Instrument
	Condition  model.Condition
	Price      decimal.Decimal
}

type deleteAlertCmd struct {
	AlertID uuid.UUID
}

type deleteAlertsCmd struct {
	AlertIDs []uuid.UUID
}

type pauseAlertsCmd struct {
	Paused bool
}

type generateAutoAlertsCmd struct {
	Instrument model.Instrument
}

type setPaperEnabledCmd struct {
	Enabled bool
}

type setVirtualBalanceCmd struct {
	Balance decimal.Decimal
}

type setStopLossCmd struct {
	TradeID uuid.UUID
	Price   decimal.Decimal
}

type setTargetCmd struct {
	TradeID uuid.UUID
	Price   decimal.Decimal
}

type closeTradeCmd struct {
	TradeID    uuid.UUID
	ClosePrice decimal.Decimal
}

// tickCmd is never queued directly — it is delivered through the
// single-slot mailbox described in spec.md §4.3, which the command
// loop drains opportunistically between queued commands.
type tickCmd struct {
	Tick model.Tick
}

type bindChannelCmd struct {
	Conn *downstream.Connection
}

type unbindChannelCmd struct{}

type clientFrameCmd struct {
	Envelope downstream.Envelope
}
