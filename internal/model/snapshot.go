package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SnapshotVersion is bumped whenever the serialized shape changes in
// a way that requires migration logic in the Persistence Adapter.
const SnapshotVersion byte = 1

// AlertLogRingSize bounds the cumulative alert log kept per session,
// per spec.md's default of "cumulative, bounded ring of 500".
const AlertLogRingSize = 500

// ClosedTradeRingSize bounds how many CLOSED paper trades a session
// keeps alongside its OPEN ones, per spec.md §6's persisted layout
// ("paper trades (open + last N closed)").
const ClosedTradeRingSize = 200

// Snapshot is everything in a Session that is not ephemeral — i.e.
// excludes `channel` and `last_seen` per spec.md §4.2 — serialized
// for the Persistence Adapter. It is blob-keyed by UserID; a save is
// always a full replacement, never a partial write.
type Snapshot struct {
	Version          byte
	UserID           string
	Watchlist        []WatchlistItem
	ActiveAlerts     []Alert
	AlertLog         []AlertLogEntry
	PaperTrades      []PaperTrade
	VirtualBalance   decimal.Decimal
	AutoPaperEnabled bool
	AlertsPaused     bool
	ReferenceDate    time.Time
	LogicalClock     int64
}

// ScripDirectory resolves token/symbol/exchange identity and supplies
// historical OHLC for pivot seeding. It is a collaborator interface
// per spec.md §1/§3 — its HTTP-facing implementation (scrip-master
// lookup, historical OHLC fetch) is out of scope for this core.
type ScripDirectory interface {
	Lookup(key InstrumentKey) (Instrument, error)
	SearchByPrefix(exchange Exchange, prefix string) ([]Instrument, error)
	PreviousDayOHLC(key InstrumentKey, day time.Time) (OHLC, error)
}

// SessionID is ephemeral — one per login, re-issued on rehydrate.
type SessionID string

// UserID is stable and survives process restarts.
type UserID string

// NewSessionID mints a fresh, opaque session identifier.
func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}
