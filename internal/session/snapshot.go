package session

import (
	"encoding/json"
	"fmt"

	"github.com/tickwatch/alertserver/internal/model"
)

// toSnapshot captures everything in §3's Session definition that is
// not ephemeral — it excludes the bound channel and last_seen, per
// spec.md §4.2.
func (s *Session) toSnapshot() model.Snapshot {
	return model.Snapshot{
		Version:          model.SnapshotVersion,
		UserID:           string(s.userID),
		Watchlist:        append([]model.WatchlistItem(nil), s.watchlist...),
		ActiveAlerts:     append([]model.Alert(nil), s.activeAlerts...),
		AlertLog:         append([]model.AlertLogEntry(nil), s.alertLog...),
		PaperTrades:      append([]model.PaperTrade(nil), s.paperTrades...),
		VirtualBalance:   s.balance,
		AutoPaperEnabled: s.autoPaper,
		AlertsPaused:     s.alertsPaused,
		ReferenceDate:    s.referenceDate,
	}
}

// toSnapshotView is the payload sent to a newly bound channel — the
// same shape as the durable snapshot, since the client needs exactly
// the same picture of session state on (re)connect.
func (s *Session) toSnapshotView() model.Snapshot {
	return s.toSnapshot()
}

// restore applies a previously persisted snapshot to a freshly
// constructed Session, used on rehydrate-on-miss.
func (s *Session) restore(snap model.Snapshot) {
	s.watchlist = snap.Watchlist
	s.activeAlerts = snap.ActiveAlerts
	s.alertLog = snap.AlertLog
	s.paperTrades = snap.PaperTrades
	s.balance = snap.VirtualBalance
	s.autoPaper = snap.AutoPaperEnabled
	s.alertsPaused = snap.AlertsPaused
	s.referenceDate = snap.ReferenceDate

	for _, it := range s.watchlist {
		s.upstream.Subscribe([]model.InstrumentKey{it.Instrument.Key}, s)
	}
}

// marshalSnapshot/unmarshalSnapshot are the Persistence Adapter's
// wire format for a Session: plain JSON keeps decimal.Decimal and
// time.Time exact without a bespoke binary encoder.
func marshalSnapshot(snap model.Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("session: marshal snapshot: %w", err)
	}
	return data, nil
}

// applySnapshot serializes the Session's current durable state for the
// Persistence Adapter, entirely on the command-loop goroutine: the
// dirty flag, the field reads in toSnapshot, and the marshal all
// happen here so the write-behind worker never touches Session fields
// from its own goroutine.
func (s *Session) applySnapshot() result {
	if !s.consumeDirty() {
		return result{Snapshot: snapshotResult{Dirty: false}}
	}
	snap := s.toSnapshot()
	blob, err := marshalSnapshot(snap)
	if err != nil {
		return result{Err: err, Snapshot: snapshotResult{Dirty: true}}
	}
	return result{Snapshot: snapshotResult{Version: snap.Version, Blob: blob, Dirty: true}}
}

func unmarshalSnapshot(data []byte) (model.Snapshot, error) {
	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return model.Snapshot{}, fmt.Errorf("session: unmarshal snapshot: %w", err)
	}
	return snap, nil
}
