// Copyright 2026 Scalaris Ledger
//
// Prometheus instrumentation of the shard server.

package network

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts the traffic of one shard server.
type Metrics struct {
	MessagesHandled   *prometheus.CounterVec
	HandlerErrors     *prometheus.CounterVec
	CrossShardSent    prometheus.Counter
	CrossShardRetries prometheus.Counter
	QueueDepth        prometheus.Gauge
}

// NewMetrics registers the shard server metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer, shard uint32) *Metrics {
	constLabels := prometheus.Labels{"shard": strconv.FormatUint(uint64(shard), 10)}
	factory := promauto.With(reg)
	return &Metrics{
		MessagesHandled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "scalaris",
			Subsystem:   "server",
			Name:        "messages_handled_total",
			Help:        "Messages handled by the shard server, by message type.",
			ConstLabels: constLabels,
		}, []string{"type"}),
		HandlerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "scalaris",
			Subsystem:   "server",
			Name:        "handler_errors_total",
			Help:        "Typed errors returned to clients, by error code.",
			ConstLabels: constLabels,
		}, []string{"code"}),
		CrossShardSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "scalaris",
			Subsystem:   "server",
			Name:        "cross_shard_sent_total",
			Help:        "Cross-shard requests handed to the reliable sender.",
			ConstLabels: constLabels,
		}),
		CrossShardRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "scalaris",
			Subsystem:   "server",
			Name:        "cross_shard_retries_total",
			Help:        "Cross-shard delivery retries.",
			ConstLabels: constLabels,
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "scalaris",
			Subsystem:   "server",
			Name:        "queue_depth",
			Help:        "Messages waiting in the shard actor queue.",
			ConstLabels: constLabels,
		}),
	}
}
