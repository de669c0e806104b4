package papertrade

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tickwatch/alertserver/internal/model"
)

func reliance() model.Instrument {
	return model.Instrument{
		Key:    model.InstrumentKey{Exchange: model.ExchangeNSE, Token: 738561},
		Symbol: "RELIANCE",
	}
}

func TestEnterSizesWithinPerTradeCap(t *testing.T) {
	e := NewEngine(false)
	balance := decimal.NewFromInt(10000)

	open, trade, err := e.Enter(nil, reliance(), model.KindLow, decimal.NewFromInt(2500), balance, 0.5, time.Now())
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected 1 open trade, got %d", len(open))
	}
	maxSpend := balance.Mul(decimal.NewFromFloat(0.5))
	if trade.Quantity.Mul(trade.EntryPrice).GreaterThan(maxSpend) {
		t.Fatalf("trade notional %s exceeds cap %s", trade.Quantity.Mul(trade.EntryPrice), maxSpend)
	}
	if trade.Side != model.SideBuy {
		t.Fatalf("KindLow should map to BUY under mean reversion, got %s", trade.Side)
	}
}

func TestEnterRefusedWithNonPositiveBalance(t *testing.T) {
	e := NewEngine(false)
	_, _, err := e.Enter(nil, reliance(), model.KindLow, decimal.NewFromInt(100), decimal.Zero, 1.0, time.Now())
	if err != ErrNoBalance {
		t.Fatalf("expected ErrNoBalance, got %v", err)
	}
}

func TestEnterRefusesSecondConcurrentTradeWithoutAveraging(t *testing.T) {
	e := NewEngine(false)
	balance := decimal.NewFromInt(100000)

	open, _, err := e.Enter(nil, reliance(), model.KindLow, decimal.NewFromInt(100), balance, 1.0, time.Now())
	if err != nil {
		t.Fatalf("first Enter: %v", err)
	}

	_, _, err = e.Enter(open, reliance(), model.KindLow, decimal.NewFromInt(110), balance, 1.0, time.Now())
	if err != ErrPositionExists {
		t.Fatalf("expected ErrPositionExists, got %v", err)
	}
}

func TestEnterAveragesWhenEnabled(t *testing.T) {
	e := NewEngine(true)
	balance := decimal.NewFromInt(100000)

	open, first, err := e.Enter(nil, reliance(), model.KindLow, decimal.NewFromInt(100), balance, 0.1, time.Now())
	if err != nil {
		t.Fatalf("first Enter: %v", err)
	}
	firstQty := first.Quantity

	open, second, err := e.Enter(open, reliance(), model.KindLow, decimal.NewFromInt(120), balance, 0.1, time.Now())
	if err != nil {
		t.Fatalf("second Enter: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected averaging to keep a single open trade, got %d", len(open))
	}
	if second.Mode != model.TradeModeAveraged {
		t.Fatalf("expected AVERAGED mode, got %s", second.Mode)
	}
	if !second.Quantity.GreaterThan(firstQty) {
		t.Fatalf("expected averaged quantity to grow, got %s vs %s", second.Quantity, firstQty)
	}
}

func TestObserveTickClosesOnStopLoss(t *testing.T) {
	e := NewEngine(false)
	sl := decimal.NewFromInt(2490)
	trade := model.PaperTrade{
		ID:         uuid.New(),
		Instrument: reliance(),
		Side:       model.SideBuy,
		Quantity:   decimal.NewFromInt(10),
		EntryPrice: decimal.NewFromInt(2500),
		StopLoss:   &sl,
		Status:     model.TradeOpen,
		OpenedAt:   time.Now(),
	}

	remaining, closed := e.ObserveTick([]model.PaperTrade{trade}, trade.Instrument.Key, decimal.NewFromInt(2489), time.Now(), false, true)
	if len(closed) != 1 {
		t.Fatalf("expected 1 closed trade, got %d", len(closed))
	}
	if closed[0].Reason != "stop_loss" {
		t.Fatalf("expected stop_loss reason, got %s", closed[0].Reason)
	}
	if remaining[0].Status != model.TradeClosed {
		t.Fatalf("expected trade marked CLOSED in remaining slice")
	}
}

func TestObserveTickClosesOnSquareOffWindow(t *testing.T) {
	e := NewEngine(false)
	trade := model.PaperTrade{
		ID:         uuid.New(),
		Instrument: reliance(),
		Side:       model.SideBuy,
		Quantity:   decimal.NewFromInt(10),
		EntryPrice: decimal.NewFromInt(2500),
		Status:     model.TradeOpen,
		OpenedAt:   time.Now(),
	}

	_, closed := e.ObserveTick([]model.PaperTrade{trade}, trade.Instrument.Key, decimal.NewFromInt(2510), time.Now(), true, true)
	if len(closed) != 1 {
		t.Fatalf("expected square-off to close the trade, got %d closed", len(closed))
	}
	if !closed[0].PnL.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("pnl = %s, want 100", closed[0].PnL)
	}
}

func TestTrimClosedKeepsAllOpenAndBoundsClosed(t *testing.T) {
	var trades []model.PaperTrade
	for i := 0; i < 5; i++ {
		trades = append(trades, model.PaperTrade{ID: uuid.New(), Status: model.TradeClosed})
	}
	trades = append(trades, model.PaperTrade{ID: uuid.New(), Status: model.TradeOpen})

	trimmed := TrimClosed(trades, 2)

	var open, closed int
	for _, t := range trimmed {
		if t.Status == model.TradeOpen {
			open++
		} else {
			closed++
		}
	}
	if open != 1 {
		t.Fatalf("expected the OPEN trade to survive trimming, got %d open", open)
	}
	if closed != 2 {
		t.Fatalf("expected closed trades bounded to ring size 2, got %d", closed)
	}
}

func TestObserveTickDoesNotSquareOffWhenDisabled(t *testing.T) {
	e := NewEngine(false)
	trade := model.PaperTrade{
		ID:         uuid.New(),
		Instrument: reliance(),
		Side:       model.SideBuy,
		Quantity:   decimal.NewFromInt(10),
		EntryPrice: decimal.NewFromInt(2500),
		Status:     model.TradeOpen,
		OpenedAt:   time.Now(),
	}

	_, closed := e.ObserveTick([]model.PaperTrade{trade}, trade.Instrument.Key, decimal.NewFromInt(2510), time.Now(), true, false)
	if len(closed) != 0 {
		t.Fatalf("expected trade to stay open when auto_square_off is disabled, got %d closed", len(closed))
	}
}
