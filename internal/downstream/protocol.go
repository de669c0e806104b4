package downstream

import (
	"encoding/json"
	"fmt"
)

// The wire protocol is a single JSON envelope shape in both
// directions: {"type": "...", "data": {...}}. Each concrete message
// is a Go struct; Envelope bridges it to/from the tagged wire shape,
// mirroring the teacher's WrapMessage/envelope pattern but replacing
// its raw-NATS-passthrough payload with typed client/server messages.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Client → server message types.
const (
	MsgSubscribe       = "subscribe"
	MsgUnsubscribe     = "unsubscribe"
	MsgSetAlert        = "set_alert"
	MsgRemoveAlert     = "remove_alert"
	MsgPauseAlerts     = "pause_alerts"
	MsgResumeAlerts    = "resume_alerts"
	MsgEnableAutoPaper = "enable_auto_paper"
	MsgCloseTrade      = "close_trade"
	MsgPing            = "ping"
)

// Server → client message types, matching spec.md §4.4's table.
const (
	MsgConnected      = "connected"
	MsgPriceUpdate    = "price_update"
	MsgAlertTriggered = "alert_triggered"
	MsgTradeUpdate    = "trade_update"
	MsgSnapshot       = "snapshot"
	MsgStatus         = "status"
	MsgError          = "error"
	MsgPong           = "pong"
	MsgHeartbeat      = "heartbeat"
)

// ClientSubscribe requests ticks for a set of instruments.
type ClientSubscribe struct {
	Exchange string  `json:"exchange"`
	Tokens   []int64 `json:"tokens"`
}

// ClientUnsubscribe drops interest in a set of instruments.
type ClientUnsubscribe struct {
	Exchange string  `json:"exchange"`
	Tokens   []int64 `json:"tokens"`
}

// ClientSetAlert creates or replaces a manual alert.
type ClientSetAlert struct {
	Exchange  string `json:"exchange"`
	Token     int64  `json:"token"`
	Condition string `json:"condition"`
	Price     string `json:"price"`
}

// ClientRemoveAlert removes a single alert by id.
type ClientRemoveAlert struct {
	AlertID string `json:"alert_id"`
}

// ClientCloseTrade force-closes a paper trade at the current LTP.
type ClientCloseTrade struct {
	TradeID string `json:"trade_id"`
}

// ServerError reports a rejected command without tearing down the
// connection, shaped as spec.md §4.4's {code, detail}.
type ServerError struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// ServerConnected is sent once, immediately after a connection is
// bound to a session (fresh, resumed, or rehydrated from a durable
// snapshot under a new session_id), per spec.md §4.4/§4.7.
type ServerConnected struct {
	SessionID string `json:"session_id"`
}

// ServerStatus carries a misc, non-fatal notice — e.g. a command
// rejected because the session's command queue is momentarily full
// (spec.md §4.4's `status` row, §8's command-queue-overflow property).
type ServerStatus struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DecodeEnvelope parses a raw client frame into its envelope. The data
// field stays raw; callers decode it per type with Envelope.Decode.
// The type is not checked here, so an unknown type still decodes and
// the caller can reply with ServerError rather than dropping the
// connection.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("downstream: malformed envelope: %w", err)
	}
	return env, nil
}

// Decode unmarshals the envelope's data field into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("downstream: decode %s payload: %w", e.Type, err)
	}
	return nil
}

// EncodeEnvelope wraps a typed payload for transmission, routing
// through the package's default pooled buffer so frequent small frames
// (price updates, heartbeats) don't each allocate fresh scratch space.
func EncodeEnvelope(msgType string, payload any) ([]byte, error) {
	return defaultBufferPool.EncodeEnvelope(msgType, payload, 1024)
}
