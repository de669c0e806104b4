// Package upstream owns the single connection to the broker's tick
// feed. It multiplexes one live NATS subscription set across every
// Session in the process, deduplicating subscribe/unsubscribe traffic
// so the upstream never sees more than one request per token-delta
// (spec.md §4.3).
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/tickwatch/alertserver/internal/config"
	"github.com/tickwatch/alertserver/internal/metrics"
	"github.com/tickwatch/alertserver/internal/model"
)

// subjectForKey maps an instrument to the NATS subject carrying its
// ticks. The broker-side publisher is expected to publish one
// tick frame per instrument per subject; see SPEC_FULL.md §0 for why
// NATS subjects stand in for the broker's native streaming endpoint.
func subjectForKey(key model.InstrumentKey) string {
	return fmt.Sprintf("ticks.%s.%d", key.Exchange, key.Token)
}

// controlSubject is where this client publishes subscribe/unsubscribe
// intents for the upstream gateway to act on. The gateway process
// (out of scope here, same as ScripDirectory) owns the actual
// exchange-facing session.
const controlSubject = "ticks.control"

type controlOp string

const (
	opSubscribe   controlOp = "SUBSCRIBE"
	opUnsubscribe controlOp = "UNSUBSCRIBE"
)

type controlMessage struct {
	Op    controlOp `json:"op"`
	NSE   []int64   `json:"nse,omitempty"`
	BSE   []int64   `json:"bse,omitempty"`
}

// Stats is a point-in-time copy of the client's counters, returned by
// Client.Stats.
type Stats struct {
	FramesReceived   uint64
	TicksDecoded     uint64
	DecodeErrors     uint64
	ConnectionGen    uint64
	State            ConnState
}

// Guard is the resource guard's view from the Upstream Feed Client:
// an admission check on per-tick processing so a broker-side burst
// cannot outrun the host's CPU budget (internal/limits.Guard).
type Guard interface {
	AllowTick() bool
	ShouldPauseUpstream() bool
}

// Client is the Upstream Feed Client: it owns the NATS connection,
// the subscription ledger, and the reconnect state machine.
type Client struct {
	cfg     *config.Config
	logger  zerolog.Logger
	decoder Decoder
	guard   Guard

	ledger *ledger

	mu    sync.RWMutex
	state ConnState
	nc    *nats.Conn
	sub   *nats.Subscription

	connGen atomic.Uint64

	framesReceived atomic.Uint64
	ticksDecoded   atomic.Uint64
	decodeErrors   atomic.Uint64

	coalesce chan struct{}
	pending  delta
	pendMu   sync.Mutex

	rnd *rand.Rand
}

// New builds an unconnected Client; call Run to start it.
func New(cfg *config.Config, logger zerolog.Logger) *Client {
	return &Client{
		cfg:      cfg,
		logger:   logger.With().Str("component", "upstream").Logger(),
		decoder:  BinaryDecoder{},
		ledger:   newLedger(),
		state:    StateDisconnected,
		coalesce: make(chan struct{}, 1),
		rnd:      rand.New(rand.NewSource(1)),
	}
}

// SetGuard wires the resource guard's admission checks into the tick
// hot path. Optional — a Client with no guard processes every frame.
func (c *Client) SetGuard(g Guard) {
	c.guard = g
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Stats returns a point-in-time snapshot of the client's counters.
func (c *Client) Stats() Stats {
	return Stats{
		FramesReceived: c.framesReceived.Load(),
		TicksDecoded:   c.ticksDecoded.Load(),
		DecodeErrors:   c.decodeErrors.Load(),
		ConnectionGen:  c.connGen.Load(),
		State:          c.State(),
	}
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		c.logger.Info().Str("from", prev.String()).Str("to", s.String()).Msg("upstream state transition")
		if s == StateLive {
			metrics.UpstreamConnected.Set(1)
		} else if prev == StateLive {
			metrics.UpstreamConnected.Set(0)
		}
	}
}

// Subscribe registers sink for each key. If any key transitions from
// zero to one subscriber, an upstream SUBSCRIBE control message is
// coalesced and flushed within SubscriptionBatchWindow.
func (c *Client) Subscribe(keys []model.InstrumentKey, sink TickSink) {
	d := c.ledger.addSubscriptions(keys, sink)
	c.queueDelta(d)
}

// Unsubscribe removes sessionID's interest in each key.
func (c *Client) Unsubscribe(keys []model.InstrumentKey, sessionID model.SessionID) {
	d := c.ledger.removeSubscriptions(keys, sessionID)
	c.queueDelta(d)
}

// RemoveSession drops sessionID from every token it held.
func (c *Client) RemoveSession(sessionID model.SessionID) {
	d := c.ledger.removeSession(sessionID)
	c.queueDelta(d)
}

func (c *Client) queueDelta(d delta) {
	if d.empty() {
		return
	}
	c.pendMu.Lock()
	c.pending.subscribe = append(c.pending.subscribe, d.subscribe...)
	c.pending.unsubscribe = append(c.pending.unsubscribe, d.unsubscribe...)
	c.pendMu.Unlock()

	select {
	case c.coalesce <- struct{}{}:
	default:
	}
}

// Run drives the client until ctx is canceled: connect, hold one
// wildcard subscription on the tick subjects, publish subscribe and
// unsubscribe control messages as the ledger changes, decode and fan
// out ticks, and reconnect with backoff on failure. Run blocks; callers
// should invoke it from its own goroutine.
func (c *Client) Run(ctx context.Context) {
	go c.coalesceLoop(ctx)

	backoff := c.cfg.ReconnectBackoffBase
	for {
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return
		}

		if err := c.connectAndServe(ctx); err != nil {
			c.logger.Warn().Err(err).Dur("backoff", backoff).Msg("upstream connection failed, retrying")
			metrics.UpstreamReconnects.Inc()
		}

		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return
		}

		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return
		case <-time.After(withJitter(backoff, c.cfg.ReconnectBackoffJitter, c.rnd)):
		}

		backoff *= 2
		if backoff > c.cfg.ReconnectBackoffMax {
			backoff = c.cfg.ReconnectBackoffMax
		}
	}
}

func withJitter(d time.Duration, jitter float64, rnd *rand.Rand) time.Duration {
	if jitter <= 0 {
		return d
	}
	spread := float64(d) * jitter
	offset := (rnd.Float64()*2 - 1) * spread
	return time.Duration(float64(d) + offset)
}

// connectAndServe establishes one NATS session, subscribes to the
// wildcard tick subject plus the current ledger, and blocks until the
// connection drops or ctx is canceled. Each call represents one
// "connection generation".
func (c *Client) connectAndServe(ctx context.Context) error {
	c.setState(StateConnecting)

	nc, err := nats.Connect(c.cfg.NATSUrl,
		nats.Name("tickwatch-upstream"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(c.cfg.ReconnectBackoffBase),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.logger.Warn().Err(err).Msg("nats transport disconnected")
			c.setState(StateConnecting)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats transport reconnected")
			c.setState(StateAuthenticating)
			c.resubscribeAll(nc)
			c.setState(StateLive)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.setState(StateDisconnected)
		}),
	)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()

	c.mu.Lock()
	c.nc = nc
	c.mu.Unlock()

	c.setState(StateAuthenticating)

	sub, err := nc.Subscribe("ticks.>", c.handleMessage)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("nats subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()

	c.connGen.Add(1)
	c.setState(StateLive)
	c.resubscribeAll(nc)

	<-ctx.Done()
	c.setState(StateDraining)
	_ = nc.Drain()
	return nil
}

// resubscribeAll re-announces every token currently held by the
// ledger — used both on first connect and after a transport
// reconnect, since the upstream gateway holds no memory of what a
// stale session had been streaming.
func (c *Client) resubscribeAll(nc *nats.Conn) {
	keys := c.ledger.snapshotKeys()
	if len(keys) == 0 {
		return
	}
	if err := publishControl(nc, opSubscribe, keys); err != nil {
		c.logger.Error().Err(err).Int("count", len(keys)).Msg("failed to resubscribe after reconnect")
	}
}

// coalesceLoop batches subscription deltas over SubscriptionBatchWindow
// so a burst of watchlist adds produces one control message instead of
// one per token (spec.md §4.3's coalescing requirement).
func (c *Client) coalesceLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.coalesce:
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.SubscriptionBatchWindow):
		}

		c.pendMu.Lock()
		d := c.pending
		c.pending = delta{}
		c.pendMu.Unlock()

		if d.empty() {
			continue
		}

		c.mu.RLock()
		nc := c.nc
		c.mu.RUnlock()
		if nc == nil || !nc.IsConnected() {
			continue
		}

		if len(d.subscribe) > 0 {
			if err := publishControl(nc, opSubscribe, d.subscribe); err != nil {
				c.logger.Error().Err(err).Msg("failed to publish subscribe delta")
			}
		}
		if len(d.unsubscribe) > 0 {
			if err := publishControl(nc, opUnsubscribe, d.unsubscribe); err != nil {
				c.logger.Error().Err(err).Msg("failed to publish unsubscribe delta")
			}
		}
	}
}

func publishControl(nc *nats.Conn, op controlOp, keys []model.InstrumentKey) error {
	msg := controlMessage{Op: op}
	for _, k := range keys {
		switch k.Exchange {
		case model.ExchangeBSE:
			msg.BSE = append(msg.BSE, int64(k.Token))
		default:
			msg.NSE = append(msg.NSE, int64(k.Token))
		}
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal control message: %w", err)
	}
	return nc.Publish(controlSubject, payload)
}

// handleMessage decodes one tick frame and fans it out to every
// subscribed sink. A malformed frame is logged and dropped; it never
// blocks or tears down the connection (spec.md §4.3).
func (c *Client) handleMessage(msg *nats.Msg) {
	c.framesReceived.Add(1)

	if c.guard != nil && (c.guard.ShouldPauseUpstream() || !c.guard.AllowTick()) {
		metrics.TicksDropped.WithLabelValues("rate_limited").Inc()
		return
	}

	tick, err := c.decoder.Decode(msg.Data)
	if err != nil {
		c.decodeErrors.Add(1)
		metrics.TicksDropped.WithLabelValues("decode_error").Inc()
		c.logger.Debug().Err(err).Str("subject", msg.Subject).Msg("dropping malformed tick frame")
		return
	}
	c.ticksDecoded.Add(1)
	metrics.TicksReceived.Inc()

	for _, sink := range c.ledger.subscribers(tick.Instrument) {
		sink.DeliverTick(tick)
	}
}
