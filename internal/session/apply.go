package session

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tickwatch/alertserver/internal/alerts"
	"github.com/tickwatch/alertserver/internal/downstream"
	"github.com/tickwatch/alertserver/internal/model"
	"github.com/tickwatch/alertserver/internal/papertrade"
)

// apply is the single point of mutation for a Session: every command
// that reaches the command loop is dispatched here, strictly in
// submission order, which is what gives the whole Session
// linearizable semantics without field-level locking (spec.md §5(a)).
func (s *Session) apply(c command) {
	var r result

	switch c.kind {
	case cmdAddToWatchlist:
		r = s.applyAddToWatchlist(c.addToWatchlist)
	case cmdRemoveFromWatchlist:
		r = s.applyRemoveFromWatchlist(c.removeFromWatchlist)
	case cmdSetReferenceDate:
		s.referenceDate = c.setReferenceDate.Date
		s.markDirty()
	case cmdCreateAlert:
		r = s.applyCreateAlert(c.createAlert)
	case cmdDeleteAlert:
		r = s.applyDeleteAlert(c.deleteAlert)
	case cmdDeleteAlerts:
		r = s.applyDeleteAlerts(c.deleteAlerts)
	case cmdClearAlerts:
		s.activeAlerts = nil
		s.markDirty()
	case cmdPauseAlerts:
		s.alertsPaused = c.pauseAlerts.Paused
		s.markDirty()
	case cmdGenerateAutoAlerts:
		r = s.applyGenerateAutoAlerts(c.generateAutoAlerts)
	case cmdSetPaperEnabled:
		s.autoPaper = c.setPaperEnabled.Enabled
		s.markDirty()
	case cmdSetVirtualBalance:
		s.balance = c.setVirtualBalance.Balance
		s.markDirty()
	case cmdSetStopLoss:
		s.paperTrades = papertrade.SetStopLoss(s.paperTrades, c.setStopLoss.TradeID, c.setStopLoss.Price)
		s.markDirty()
	case cmdSetTarget:
		s.paperTrades = papertrade.SetTarget(s.paperTrades, c.setTarget.TradeID, c.setTarget.Price)
		s.markDirty()
	case cmdCloseTrade:
		r = s.applyCloseTrade(c.closeTrade)
	case cmdBindChannel:
		s.applyBindChannel(c.bindChannel)
	case cmdUnbindChannel:
		s.conn = nil
		s.lastSeen = s.clk.NowWall()
	case cmdClientFrame:
		s.applyClientFrame(c.clientFrame)
	case cmdSnapshot:
		r = s.applySnapshot()
	case cmdShutdown:
		s.shutdown()
	}

	if c.reply != nil {
		c.reply <- r
	}
}

func (s *Session) applyAddToWatchlist(cmd *addToWatchlistCmd) result {
	before := tokenSet(s.watchlist)
	for _, it := range s.watchlist {
		if it.Instrument.Key == cmd.Instrument.Key {
			return result{Watchlist: s.watchlist}
		}
	}
	s.watchlist = append(s.watchlist, model.WatchlistItem{
		Instrument: cmd.Instrument,
		AddedAt:    s.clk.NowWall(),
	})
	s.reconcileSubscriptions(before)
	s.markDirty()
	return result{Watchlist: s.watchlist}
}

func (s *Session) applyRemoveFromWatchlist(cmd *removeFromWatchlistCmd) result {
	before := tokenSet(s.watchlist)
	out := s.watchlist[:0]
	for _, it := range s.watchlist {
		if it.Instrument.Key != cmd.Key {
			out = append(out, it)
		}
	}
	s.watchlist = out
	s.reconcileSubscriptions(before)
	s.markDirty()
	return result{Watchlist: s.watchlist}
}

func (s *Session) applyCreateAlert(cmd *createAlertCmd) result {
	ltp := s.lastLTP(cmd.Instrument.Key)
	a := alerts.NewManualAlert(cmd.Instrument, cmd.Condition, cmd.Price, ltp, s.clk.NowWall())
	s.activeAlerts = append(s.activeAlerts, a)
	s.markDirty()
	return result{Alert: &a}
}

func (s *Session) applyDeleteAlert(cmd *deleteAlertCmd) result {
	out := s.activeAlerts[:0]
	for _, a := range s.activeAlerts {
		if a.ID != cmd.AlertID {
			out = append(out, a)
		}
	}
	s.activeAlerts = out
	s.markDirty()
	return result{Alerts: s.activeAlerts}
}

func (s *Session) applyDeleteAlerts(cmd *deleteAlertsCmd) result {
	remove := make(map[uuid.UUID]struct{}, len(cmd.AlertIDs))
	for _, id := range cmd.AlertIDs {
		remove[id] = struct{}{}
	}
	out := s.activeAlerts[:0]
	for _, a := range s.activeAlerts {
		if _, drop := remove[a.ID]; !drop {
			out = append(out, a)
		}
	}
	s.activeAlerts = out
	s.markDirty()
	return result{Alerts: s.activeAlerts}
}

// applyGenerateAutoAlerts idempotently replaces any existing armed
// auto alerts for the instrument's token before installing the new
// pivot ladder (spec.md §4.5).
func (s *Session) applyGenerateAutoAlerts(cmd *generateAutoAlertsCmd) result {
	kept := s.activeAlerts[:0]
	for _, a := range s.activeAlerts {
		if a.Instrument.Key == cmd.Instrument.Key && a.Kind.IsAuto() {
			continue
		}
		kept = append(kept, a)
	}
	fresh := alerts.GenerateAutoAlerts(cmd.Instrument, s.clk.NowWall())
	s.activeAlerts = append(kept, fresh...)
	s.markDirty()
	return result{Alerts: s.activeAlerts}
}

func (s *Session) applyCloseTrade(cmd *closeTradeCmd) result {
	trades, closed := papertrade.CloseManual(s.paperTrades, cmd.TradeID, cmd.ClosePrice, s.clk.NowWall())
	s.paperTrades = trades
	if closed == nil {
		return result{Err: alertsErrUserError("trade %s not found or already closed", cmd.TradeID)}
	}
	s.paperTrades = papertrade.TrimClosed(s.paperTrades, model.ClosedTradeRingSize)
	s.markDirty()
	s.pushTradeUpdate()
	return result{Trade: &closed.Trade}
}

func (s *Session) applyBindChannel(cmd *bindChannelCmd) {
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = cmd.Conn
	s.lastSeen = s.clk.NowWall()
	s.pushFrame(downstream.MsgSnapshot, s.toSnapshotView())
}

func (s *Session) lastLTP(key model.InstrumentKey) decimal.Decimal {
	for _, it := range s.watchlist {
		if it.Instrument.Key == key {
			return it.LTP
		}
	}
	return decimal.Zero
}
