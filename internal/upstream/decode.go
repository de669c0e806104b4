package upstream

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tickwatch/alertserver/internal/model"
)

// Decoder turns a raw broker tick frame into the server's Tick shape.
// The wire format mirrors the compact binary packets used by Indian
// broker tick feeds (token + price-in-paise + exchange-timestamp),
// the same layout family as Kite Connect's streaming ticker: a fixed
// header of exchange code, token and price, followed by a server
// timestamp. Decode errors on a single frame are logged and dropped
// by the caller (spec.md §4.3); they never propagate as Session-
// visible errors.
type Decoder interface {
	Decode(raw []byte) (model.Tick, error)
}

// BinaryDecoder decodes the fixed-width frame:
//
//	byte 0:    exchange code (0 = NSE, 1 = BSE)
//	bytes 1-8: token (int64, big-endian)
//	bytes 9-16: last traded price in paise (int64, big-endian)
//	bytes 17-24: exchange server timestamp, unix millis (int64, big-endian)
//
// 25 bytes total.
type BinaryDecoder struct{}

const binaryTickSize = 25

var exchangeByCode = map[byte]model.Exchange{
	0: model.ExchangeNSE,
	1: model.ExchangeBSE,
}

func (BinaryDecoder) Decode(raw []byte) (model.Tick, error) {
	if len(raw) != binaryTickSize {
		return model.Tick{}, fmt.Errorf("upstream: malformed tick frame: want %d bytes, got %d", binaryTickSize, len(raw))
	}

	exch, ok := exchangeByCode[raw[0]]
	if !ok {
		return model.Tick{}, fmt.Errorf("upstream: unknown exchange code %d", raw[0])
	}

	token := int64(binary.BigEndian.Uint64(raw[1:9]))
	paise := int64(binary.BigEndian.Uint64(raw[9:17]))
	millis := int64(binary.BigEndian.Uint64(raw[17:25]))

	return model.Tick{
		Instrument: model.InstrumentKey{Exchange: exch, Token: model.Token(token)},
		LTP:        decimal.New(paise, -2),
		TSServer:   time.UnixMilli(millis),
	}, nil
}

// EncodeForTest is the BinaryDecoder's inverse, used by upstream tests
// and by any fake feed publisher to build well-formed frames.
func EncodeForTest(t model.Tick) []byte {
	buf := make([]byte, binaryTickSize)
	switch t.Instrument.Exchange {
	case model.ExchangeBSE:
		buf[0] = 1
	default:
		buf[0] = 0
	}
	binary.BigEndian.PutUint64(buf[1:9], uint64(t.Instrument.Token))
	binary.BigEndian.PutUint64(buf[9:17], uint64(t.LTP.Shift(2).IntPart()))
	binary.BigEndian.PutUint64(buf[17:25], uint64(t.TSServer.UnixMilli()))
	return buf
}
