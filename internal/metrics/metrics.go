/*
Package metrics exposes shardkv's Prometheus collectors: transport
health, cache flush behavior, and per-operation latency.
*/
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Transport metrics.
	PeersConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shardkv_peers_connected",
			Help: "Number of peers currently connected",
		},
	)

	MessagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardkv_messages_sent_total",
			Help: "Total messages sent, by sub-channel tag",
		},
		[]string{"tag"},
	)

	MessagesReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardkv_messages_received_total",
			Help: "Total messages received, by sub-channel tag",
		},
		[]string{"tag"},
	)

	MessagesDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shardkv_messages_dropped_total",
			Help: "Total messages dropped because the target peer was not connected or no client was registered for the sub-channel tag",
		},
	)

	HandshakeFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardkv_handshake_failures_total",
			Help: "Total handshake failures, by reason",
		},
		[]string{"reason"},
	)

	// Cache metrics.
	DirtyBlocksGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shardkv_cache_dirty_blocks",
			Help: "Number of blocks currently dirty and pending flush",
		},
	)

	FlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shardkv_cache_flush_duration_seconds",
			Help:    "Time taken to flush all dirty blocks",
			Buckets: prometheus.DefBuckets,
		},
	)

	FlushedBlocksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shardkv_cache_flushed_blocks_total",
			Help: "Total blocks written back to the serializer",
		},
	)

	// Slice operation metrics.
	SliceOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shardkv_slice_op_duration_seconds",
			Help:    "Slice operation duration in seconds, by operation and outcome",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(PeersConnected)
	prometheus.MustRegister(MessagesSentTotal)
	prometheus.MustRegister(MessagesReceivedTotal)
	prometheus.MustRegister(MessagesDroppedTotal)
	prometheus.MustRegister(HandshakeFailuresTotal)
	prometheus.MustRegister(DirtyBlocksGauge)
	prometheus.MustRegister(FlushDuration)
	prometheus.MustRegister(FlushedBlocksTotal)
	prometheus.MustRegister(SliceOpDuration)
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times one operation and reports its duration to a labeled
// histogram on Observe.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveSliceOp records the elapsed time under op/outcome.
func (t *Timer) ObserveSliceOp(op, outcome string) {
	SliceOpDuration.WithLabelValues(op, outcome).Observe(time.Since(t.start).Seconds())
}
