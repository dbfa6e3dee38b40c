package observ

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics updated across the bot. Registered in init() and served
// by Handler() at /metrics in text exposition format.
var (
	Decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_decisions_total",
			Help: "Fused trade decisions by direction",
		},
		[]string{"symbol", "direction"},
	)

	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_orders_total",
			Help: "Orders sent to the venue",
		},
		[]string{"symbol", "side", "status"},
	)

	PartialCloses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_partial_closes_total",
			Help: "Partial closes triggered by reward:risk scaling",
		},
		[]string{"symbol"},
	)

	EquityUSD = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_equity_usd",
			Help: "Last observed account equity",
		},
	)

	DailyPnLFraction = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "risk_daily_pnl_fraction",
			Help: "Equity change versus the daily baseline",
		},
	)

	DailyHalted = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "risk_daily_halted",
			Help: "1 while the daily-loss circuit breaker blocks new entries",
		},
	)

	BridgeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_sessions",
			Help: "Open bridge sessions",
		},
	)

	BridgeMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_messages_total",
			Help: "Inbound bridge messages by type (unknown types included)",
		},
		[]string{"type"},
	)

	BridgeBroadcastErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_broadcast_errors_total",
			Help: "Broadcast sends that failed and closed a session",
		},
	)

	VenueCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venue_calls_total",
			Help: "Execution venue calls by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	VenueLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "venue_call_latency_seconds",
			Help:    "Execution venue call latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(
		Decisions, Orders, PartialCloses,
		EquityUSD, DailyPnLFraction, DailyHalted,
		BridgeSessions, BridgeMessages, BridgeBroadcastErrors,
		VenueCalls, VenueLatency,
	)
}

// Handler serves the Prometheus exposition endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HealthHandler reports liveness; the process is healthy as long as it can
// serve this endpoint.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "healthy",
			"ts":     time.Now().UTC().Format(time.RFC3339),
		})
	})
}
