package upstream

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tickwatch/alertserver/internal/model"
)

func TestBinaryDecoderRoundTrip(t *testing.T) {
	want := model.Tick{
		Instrument: model.InstrumentKey{Exchange: model.ExchangeNSE, Token: 738561},
		LTP:        decimal.NewFromFloat(2456.75),
		TSServer:   time.UnixMilli(1_700_000_000_000),
	}

	frame := EncodeForTest(want)

	var d BinaryDecoder
	got, err := d.Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.Instrument != want.Instrument {
		t.Errorf("instrument = %+v, want %+v", got.Instrument, want.Instrument)
	}
	if !got.LTP.Equal(want.LTP) {
		t.Errorf("ltp = %s, want %s", got.LTP, want.LTP)
	}
	if !got.TSServer.Equal(want.TSServer) {
		t.Errorf("ts = %s, want %s", got.TSServer, want.TSServer)
	}
}

func TestBinaryDecoderBSE(t *testing.T) {
	want := model.Tick{
		Instrument: model.InstrumentKey{Exchange: model.ExchangeBSE, Token: 500325},
		LTP:        decimal.NewFromFloat(100.05),
		TSServer:   time.UnixMilli(1_700_000_001_000),
	}
	var d BinaryDecoder
	got, err := d.Decode(EncodeForTest(want))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Instrument.Exchange != model.ExchangeBSE {
		t.Errorf("exchange = %s, want BSE", got.Instrument.Exchange)
	}
}

func TestBinaryDecoderRejectsShortFrame(t *testing.T) {
	var d BinaryDecoder
	if _, err := d.Decode([]byte{0, 1, 2, 3}); err == nil {
		t.Fatal("expected error for short frame, got nil")
	}
}

func TestBinaryDecoderRejectsUnknownExchange(t *testing.T) {
	tick := model.Tick{
		Instrument: model.InstrumentKey{Exchange: model.ExchangeNSE, Token: 1},
		LTP:        decimal.NewFromInt(1),
		TSServer:   time.Unix(0, 0),
	}
	frame := EncodeForTest(tick)
	frame[0] = 9

	var d BinaryDecoder
	if _, err := d.Decode(frame); err == nil {
		t.Fatal("expected error for unknown exchange code, got nil")
	}
}
