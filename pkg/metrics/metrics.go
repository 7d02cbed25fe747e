package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RPCTotal counts coordinator RPCs by method and outcome.
	RPCTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flclient_rpc_total",
			Help: "Total number of coordinator RPCs handled",
		},
		[]string{"cid", "method", "status"},
	)

	RPCDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flclient_rpc_duration_seconds",
			Help:    "Coordinator RPC duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		},
		[]string{"cid", "method"},
	)

	// LastLoss is the most recent loss reported for a phase: train,
	// evaluate or pre_train_val.
	LastLoss = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flclient_last_loss",
			Help: "Most recent loss reported by the client",
		},
		[]string{"cid", "phase"},
	)

	Examples = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flclient_examples",
			Help: "Number of examples in each data split",
		},
		[]string{"cid", "split"},
	)

	ServerRound = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flclient_server_round",
			Help: "Last server round seen by the client",
		},
		[]string{"cid"},
	)

	InstructionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flclient_instructions_total",
			Help: "Total number of coordinator instructions received",
		},
		[]string{"cid", "transport", "type"},
	)
)
