package trading

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricJobsClaimed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raptor_jobs_claimed_total",
			Help: "Trade jobs claimed and started, by action",
		},
		[]string{"action"},
	)
	metricExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raptor_executions_total",
			Help: "Swap executions by router and outcome",
		},
		[]string{"router", "outcome"},
	)
	metricSwapDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "raptor_swap_duration_seconds",
			Help:    "Quote-to-confirmation latency per swap",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"router", "side"},
	)
	metricPositionsOpened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "raptor_positions_opened_total",
			Help: "Positions opened from confirmed buys",
		},
	)
	metricPositionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raptor_positions_closed_total",
			Help: "Positions fully closed, by trigger",
		},
		[]string{"trigger"},
	)
	metricTriggerClaims = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raptor_trigger_claims_total",
			Help: "Exit triggers claimed by this worker, by trigger",
		},
		[]string{"trigger"},
	)
	metricTriggerExits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raptor_trigger_exits_total",
			Help: "Queue-driven exit attempts, by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)
	metricWatchedPositions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "raptor_watched_positions",
			Help: "Positions in this worker's monitor watch set",
		},
	)
)
