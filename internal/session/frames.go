package session

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tickwatch/alertserver/internal/alerts"
	"github.com/tickwatch/alertserver/internal/downstream"
	"github.com/tickwatch/alertserver/internal/metrics"
	"github.com/tickwatch/alertserver/internal/model"
	"github.com/tickwatch/alertserver/internal/papertrade"
)

// applyTick is the per-tick hot path: update last-seen price, run the
// alert evaluator, run the paper-trade engine, push the resulting
// frames. It runs on the same command-loop goroutine as every other
// mutation, so no locking is needed even though ticks arrive through
// a different channel than queued commands (spec.md §5(b)).
func (s *Session) applyTick(t model.Tick) {
	found := false
	for i, it := range s.watchlist {
		if it.Instrument.Key == t.Instrument {
			s.watchlist[i].LTP = t.LTP
			found = true
			s.pushFrame(downstream.MsgPriceUpdate, priceUpdate{
				Token:  int64(t.Instrument.Token),
				Symbol: it.Instrument.Symbol,
				LTP:    t.LTP.String(),
			})
		}
	}
	if !found {
		return
	}

	tradesChanged := false

	fired, remaining := alerts.Observe(s.activeAlerts, t.Instrument, t.LTP, s.clk.NowWall(), s.alertsPaused)
	s.activeAlerts = remaining
	for _, f := range fired {
		s.appendAlertLog(f.Entry)
		s.pushFrame(downstream.MsgAlertTriggered, alertTriggered{Alert: f.Alert, Log: f.Entry})
		s.markDirty()
		metrics.AlertsFired.WithLabelValues(string(f.Alert.Kind)).Inc()

		if s.autoPaper {
			open, _, err := s.tradeEngine.Enter(s.paperTrades, f.Alert.Instrument, f.Alert.Kind, t.LTP, s.balance, s.cfg.PerTradeCap, s.clk.NowWall())
			if err != nil {
				s.logger.Debug().Err(err).Str("instrument", f.Alert.Instrument.Symbol).Msg("auto paper entry skipped")
			} else {
				s.paperTrades = open
				tradesChanged = true
				s.markDirty()
				metrics.TradesOpened.Inc()
			}
		}
	}

	remainingTrades, closed := s.tradeEngine.ObserveTick(s.paperTrades, t.Instrument, t.LTP, s.clk.NowWall(), s.clk.IsSquareOffWindow(s.clk.NowWall()), s.cfg.AutoSquareOff)
	s.paperTrades = remainingTrades
	for _, c := range closed {
		tradesChanged = true
		s.markDirty()
		metrics.TradesClosed.WithLabelValues(c.Reason).Inc()
	}
	if len(closed) > 0 {
		s.paperTrades = papertrade.TrimClosed(s.paperTrades, model.ClosedTradeRingSize)
	}

	if tradesChanged {
		s.pushTradeUpdate()
	}
}

// priceUpdate is the wire shape for MsgPriceUpdate.
type priceUpdate struct {
	Token  int64  `json:"token"`
	Symbol string `json:"symbol"`
	LTP    string `json:"ltp"`
}

// alertTriggered is the wire shape for MsgAlertTriggered.
type alertTriggered struct {
	Alert model.Alert         `json:"alert"`
	Log   model.AlertLogEntry `json:"log"`
}

// tradeUpdate is the wire shape for MsgTradeUpdate: the paper-engine's
// full current book, sent whenever a trade opens, closes, or averages
// (spec.md §4.4's "paper-engine state has changed").
type tradeUpdate struct {
	Trades []model.PaperTrade `json:"trades"`
}

func (s *Session) pushTradeUpdate() {
	s.pushFrame(downstream.MsgTradeUpdate, tradeUpdate{Trades: append([]model.PaperTrade(nil), s.paperTrades...)})
}

func (s *Session) appendAlertLog(e model.AlertLogEntry) {
	s.alertLog = append(s.alertLog, e)
	if len(s.alertLog) > model.AlertLogRingSize {
		s.alertLog = s.alertLog[len(s.alertLog)-model.AlertLogRingSize:]
	}
}

// applyClientFrame decodes one downstream envelope and dispatches it
// as the equivalent typed command, reusing the same apply* functions
// an HTTP-origin submitter would go through.
func (s *Session) applyClientFrame(cmd *clientFrameCmd) {
	env := cmd.Envelope
	switch env.Type {
	case downstream.MsgPing:
		s.pushFrame(downstream.MsgPong, struct {
			TS int64 `json:"ts"`
		}{TS: s.clk.NowWall().Unix()})

	case downstream.MsgSubscribe:
		var payload downstream.ClientSubscribe
		if err := env.Decode(&payload); err != nil {
			s.pushError("BAD_FRAME", err.Error())
			return
		}
		for _, token := range payload.Tokens {
			inst, err := s.scrip.Lookup(model.InstrumentKey{Exchange: model.Exchange(payload.Exchange), Token: model.Token(token)})
			if err != nil {
				s.pushError("UNKNOWN_INSTRUMENT", err.Error())
				continue
			}
			s.applyAddToWatchlist(&addToWatchlistCmd{Instrument: inst})
		}

	case downstream.MsgUnsubscribe:
		var payload downstream.ClientUnsubscribe
		if err := env.Decode(&payload); err != nil {
			s.pushError("BAD_FRAME", err.Error())
			return
		}
		for _, token := range payload.Tokens {
			s.applyRemoveFromWatchlist(&removeFromWatchlistCmd{
				Key: model.InstrumentKey{Exchange: model.Exchange(payload.Exchange), Token: model.Token(token)},
			})
		}

	case downstream.MsgSetAlert:
		var payload downstream.ClientSetAlert
		if err := env.Decode(&payload); err != nil {
			s.pushError("BAD_FRAME", err.Error())
			return
		}
		price, err := parseDecimal(payload.Price)
		if err != nil {
			s.pushError("BAD_PRICE", err.Error())
			return
		}
		inst, err := s.scrip.Lookup(model.InstrumentKey{Exchange: model.Exchange(payload.Exchange), Token: model.Token(payload.Token)})
		if err != nil {
			s.pushError("UNKNOWN_INSTRUMENT", err.Error())
			return
		}
		s.applyCreateAlert(&createAlertCmd{Instrument: inst, Condition: model.Condition(payload.Condition), Price: price})

	case downstream.MsgRemoveAlert:
		var payload downstream.ClientRemoveAlert
		if err := env.Decode(&payload); err != nil {
			s.pushError("BAD_FRAME", err.Error())
			return
		}
		id, err := parseUUID(payload.AlertID)
		if err != nil {
			s.pushError("BAD_ALERT_ID", err.Error())
			return
		}
		s.applyDeleteAlert(&deleteAlertCmd{AlertID: id})

	case downstream.MsgPauseAlerts:
		s.alertsPaused = true
		s.markDirty()

	case downstream.MsgResumeAlerts:
		s.alertsPaused = false
		s.markDirty()

	case downstream.MsgEnableAutoPaper:
		s.autoPaper = true
		s.markDirty()

	case downstream.MsgCloseTrade:
		var payload downstream.ClientCloseTrade
		if err := env.Decode(&payload); err != nil {
			s.pushError("BAD_FRAME", err.Error())
			return
		}
		id, err := parseUUID(payload.TradeID)
		if err != nil {
			s.pushError("BAD_TRADE_ID", err.Error())
			return
		}
		ltp := s.currentLTPForTrade(id)
		s.applyCloseTrade(&closeTradeCmd{TradeID: id, ClosePrice: ltp})

	default:
		s.pushError("UNKNOWN_TYPE", "unrecognized message type: "+env.Type)
	}
}

func (s *Session) pushError(code, detail string) {
	s.pushFrame(downstream.MsgError, downstream.ServerError{Code: code, Detail: detail})
}

// currentLTPForTrade finds the current LTP for the instrument a trade
// is open on, so a client-initiated close can use "current market
// price" without the client needing to supply one.
func (s *Session) currentLTPForTrade(tradeID uuid.UUID) decimal.Decimal {
	for _, t := range s.paperTrades {
		if t.ID == tradeID {
			return s.lastLTP(t.Instrument.Key)
		}
	}
	return decimal.Zero
}
