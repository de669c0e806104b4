// Package session implements the Session Registry: per-user state,
// the single-consumer command loop that serializes every mutation
// without locks, and the reconnect-rebind contract described in
// spec.md §4.7.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"github.com/tickwatch/alertserver/internal/clock"
	"github.com/tickwatch/alertserver/internal/downstream"
	"github.com/tickwatch/alertserver/internal/metrics"
	"github.com/tickwatch/alertserver/internal/model"
	"github.com/tickwatch/alertserver/internal/papertrade"
	"github.com/tickwatch/alertserver/internal/upstream"
)

// ErrQueueFull is returned to an HTTP-origin submitter when the
// command queue is at capacity — the retriable error spec.md §4.7
// mandates for that producer class.
var ErrQueueFull = errors.New("session: command queue full, retry")

// UpstreamSubscriber is the Session's view of the Upstream Feed
// Client: enough to issue subscribe/unsubscribe deltas without
// depending on its connection machinery.
type UpstreamSubscriber interface {
	Subscribe(keys []model.InstrumentKey, sink upstream.TickSink)
	Unsubscribe(keys []model.InstrumentKey, sessionID model.SessionID)
	RemoveSession(sessionID model.SessionID)
}

// Session owns one logged-in user's mutable state. Every field below
// is touched only from the command-loop goroutine started by Run;
// everything else communicates with it through commands.
type Session struct {
	id     model.SessionID
	userID model.UserID

	watchlist     []model.WatchlistItem
	activeAlerts  []model.Alert
	alertLog      []model.AlertLogEntry
	paperTrades   []model.PaperTrade
	balance       decimal.Decimal
	autoPaper     bool
	alertsPaused  bool
	referenceDate time.Time

	conn     *downstream.Connection
	lastSeen time.Time
	dirty    bool

	queue chan command
	sem   *semaphore.Weighted
	tick  chan model.Tick

	upstream    UpstreamSubscriber
	scrip       model.ScripDirectory
	tradeEngine *papertrade.Engine
	clk         clock.Clock
	cfg         Config
	logger      zerolog.Logger

	quarantined bool
}

// Config bundles the Session-relevant slice of the server's
// configuration so this package does not need to import the top-level
// config package wholesale.
type Config struct {
	PerTradeCap              float64
	AutoSquareOff            bool
	AllowAveraging           bool
	QueueDepth               int
	PersistenceFlushInterval time.Duration
	SessionTTLWarm           time.Duration
	SessionTTLCold           time.Duration
}

func newSession(id model.SessionID, userID model.UserID, up UpstreamSubscriber, scrip model.ScripDirectory, clk clock.Clock, cfg Config, logger zerolog.Logger) *Session {
	return &Session{
		id:          id,
		userID:      userID,
		balance:     decimal.Zero,
		lastSeen:    clk.NowWall(),
		queue:       make(chan command, cfg.QueueDepth),
		sem:         semaphore.NewWeighted(int64(cfg.QueueDepth)),
		tick:        make(chan model.Tick, 1),
		upstream:    up,
		scrip:       scrip,
		tradeEngine: papertrade.NewEngine(cfg.AllowAveraging),
		clk:         clk,
		cfg:         cfg,
		logger:      logger.With().Str("session_id", string(id)).Str("user_id", string(userID)).Logger(),
	}
}

// ID implements upstream.TickSink.
func (s *Session) ID() model.SessionID { return s.id }

// DeliverTick implements upstream.TickSink's non-blocking, latest-
// value-wins mailbox (spec.md §4.3).
func (s *Session) DeliverTick(t model.Tick) {
	select {
	case s.tick <- t:
		return
	default:
	}
	select {
	case <-s.tick:
	default:
	}
	select {
	case s.tick <- t:
	default:
	}
}

// submitSync sends a command from an HTTP-origin producer and blocks
// for its reply. Backpressure is TryAcquire-based and non-blocking: if
// the queue is already full the caller gets ErrQueueFull immediately
// rather than waiting behind 1024 other commands.
func (s *Session) submitSync(ctx context.Context, c command) (result, error) {
	if !s.sem.TryAcquire(1) {
		return result{}, ErrQueueFull
	}
	reply := make(chan result, 1)
	c.reply = reply
	c.releaseSem = true
	select {
	case s.queue <- c:
	default:
		s.sem.Release(1)
		return result{}, ErrQueueFull
	}
	select {
	case r := <-reply:
		return r, r.Err
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
}

// submitAsync is used by channel-origin producers (decoded client
// frames): a non-blocking send that, on overflow, is reported back to
// the caller as a status frame rather than blocking the read pump.
func (s *Session) submitAsync(c command) bool {
	select {
	case s.queue <- c:
		return true
	default:
		return false
	}
}

// Run is the Session's single consumer. It must be started exactly
// once per Session, in its own goroutine.
func (s *Session) Run(ctx context.Context) {
	heartbeat := time.NewTicker(10 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return

		case c := <-s.queue:
			if c.releaseSem {
				s.sem.Release(1)
			}
			s.apply(c)
			if c.kind == cmdShutdown {
				return
			}

		case t := <-s.tick:
			s.applyTick(t)

		case <-heartbeat.C:
			s.pushHeartbeat()
		}
	}
}

func (s *Session) shutdown() {
	if s.conn != nil {
		s.conn.Close()
	}
	if s.upstream != nil {
		s.upstream.RemoveSession(s.id)
	}
}

func (s *Session) markDirty() { s.dirty = true }

// consumeDirty reports and clears the dirty flag. It only ever runs on
// the command-loop goroutine, inside applySnapshot — never called
// directly by the Registry or the persistence worker, which would
// race with this same goroutine's own mutations.
func (s *Session) consumeDirty() bool {
	d := s.dirty
	s.dirty = false
	return d
}

// SnapshotForPersistence is the Persistence Adapter's only way to read
// a Session's durable state. It submits a cmdSnapshot command and
// blocks for the reply, so consumeDirty/toSnapshot/marshalSnapshot all
// run inside the single command-loop consumer (spec.md §5's "Session
// state is owned by exactly one task") instead of racing it from the
// write-behind worker's own goroutine. Unlike submitSync it does not
// acquire the HTTP-origin semaphore: the worker is an internal,
// trusted producer, not a request that needs admission control.
func (s *Session) SnapshotForPersistence(ctx context.Context) (version byte, blob []byte, dirty bool, err error) {
	reply := make(chan result, 1)
	c := command{kind: cmdSnapshot, reply: reply}
	select {
	case s.queue <- c:
	case <-ctx.Done():
		return 0, nil, false, ctx.Err()
	}
	select {
	case r := <-reply:
		if r.Err != nil {
			return 0, nil, false, r.Err
		}
		return r.Snapshot.Version, r.Snapshot.Blob, r.Snapshot.Dirty, nil
	case <-ctx.Done():
		return 0, nil, false, ctx.Err()
	}
}

func (s *Session) pushFrame(msgType string, payload any) {
	if s.conn == nil {
		return
	}
	frame, err := downstream.EncodeEnvelope(msgType, payload)
	if err != nil {
		s.logger.Error().Err(err).Str("frame_type", msgType).Msg("failed to encode outbound frame")
		return
	}
	if !s.conn.Send(frame) {
		// Send-queue overflow: close the channel with the slow-consumer
		// code rather than silently dropping frames (spec.md §4.4, §8).
		// The Session itself is untouched — it stays warm for a
		// reconnect and keeps its last-seen tick mailbox.
		s.logger.Warn().Str("frame_type", msgType).Msg("send queue full, closing slow consumer")
		metrics.SlowConsumerDisconnects.Inc()
		s.conn.CloseWithCode(downstream.CloseSlowConsumer, "slow consumer")
		s.conn = nil
	}
}

func (s *Session) pushHeartbeat() {
	s.pushFrame(downstream.MsgHeartbeat, struct {
		TS int64 `json:"ts"`
	}{TS: s.clk.NowWall().Unix()})
}

func tokenSet(items []model.WatchlistItem) map[model.InstrumentKey]struct{} {
	set := make(map[model.InstrumentKey]struct{}, len(items))
	for _, it := range items {
		set[it.Instrument.Key] = struct{}{}
	}
	return set
}

func diffKeys(before, after map[model.InstrumentKey]struct{}) (added, removed []model.InstrumentKey) {
	for k := range after {
		if _, ok := before[k]; !ok {
			added = append(added, k)
		}
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			removed = append(removed, k)
		}
	}
	return added, removed
}

func (s *Session) reconcileSubscriptions(before map[model.InstrumentKey]struct{}) {
	after := tokenSet(s.watchlist)
	added, removed := diffKeys(before, after)
	if len(added) > 0 {
		s.upstream.Subscribe(added, s)
	}
	if len(removed) > 0 {
		s.upstream.Unsubscribe(removed, s.id)
	}
}

// alertsErrUserError wraps user-facing rejections (bad price, unknown
// token) so the caller's frame carries a stable code rather than a Go
// error string.
func alertsErrUserError(format string, args ...any) error {
	return fmt.Errorf("user_error: "+format, args...)
}
