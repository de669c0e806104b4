// Package metrics exposes Prometheus collectors for the alert server,
// following the same registration and naming style as the teacher's
// WebSocket metrics but retargeted at sessions, alerts, and trades.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tw_connections_total",
		Help: "Total number of WebSocket connections established",
	})

	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tw_connections_active",
		Help: "Current number of active WebSocket connections",
	})

	ConnectionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tw_connections_rejected_total",
		Help: "Total connection attempts rejected, by reason",
	}, []string{"reason"})

	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tw_sessions_active",
		Help: "Current number of live Session goroutines",
	})

	SessionsRehydrated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tw_sessions_rehydrated_total",
		Help: "Total sessions restored from a durable snapshot",
	})

	TicksReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tw_ticks_received_total",
		Help: "Total ticks decoded from the upstream feed",
	})

	TicksDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tw_ticks_dropped_total",
		Help: "Total ticks dropped, by reason",
	}, []string{"reason"})

	UpstreamConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tw_upstream_connected",
		Help: "1 if the upstream NATS connection is live, else 0",
	})

	UpstreamReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tw_upstream_reconnects_total",
		Help: "Total upstream reconnect attempts",
	})

	AlertsFired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tw_alerts_fired_total",
		Help: "Total alerts fired, by kind",
	}, []string{"kind"})

	AlertsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tw_alerts_active",
		Help: "Current number of armed alerts across all sessions",
	})

	TradesOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tw_paper_trades_opened_total",
		Help: "Total paper trades opened",
	})

	TradesClosed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tw_paper_trades_closed_total",
		Help: "Total paper trades closed, by reason",
	}, []string{"reason"})

	PersistenceFlushes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tw_persistence_flushes_total",
		Help: "Total snapshot flush attempts, by outcome",
	}, []string{"outcome"})

	FrameSendQueueDepth = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tw_frame_send_queue_depth",
		Help:    "Observed depth of a connection's outbound send queue at send time",
		Buckets: []float64{0, 4, 16, 32, 64, 128, 192, 256},
	})

	SlowConsumerDisconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tw_slow_consumer_disconnects_total",
		Help: "Total channels closed for exceeding their send-queue bound",
	})
)

// Register adds every collector to the default registry. Call once at
// startup; safe to skip in tests that never call MustRegister twice.
func Register() {
	prometheus.MustRegister(
		ConnectionsTotal,
		ConnectionsActive,
		ConnectionsRejected,
		SessionsActive,
		SessionsRehydrated,
		TicksReceived,
		TicksDropped,
		UpstreamConnected,
		UpstreamReconnects,
		AlertsFired,
		AlertsActive,
		TradesOpened,
		TradesClosed,
		PersistenceFlushes,
		FrameSendQueueDepth,
		SlowConsumerDisconnects,
	)
}
