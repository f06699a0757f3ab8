// Package metrics exports pool and transaction activity to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Aeglx/WeDrawOS-sub006/event"
)

// Collector is an event.Observer that counts events and records transaction
// durations. Subscribe it to the event bus.
type Collector struct {
	eventsTotal  *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	txDuration   *prometheus.HistogramVec
	acquireWaits *prometheus.CounterVec
}

// NewCollector registers the event metrics with reg under namespace.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		eventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Total number of pool and transaction events",
			},
			[]string{"type", "pool_id"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transaction_errors_total",
				Help:      "Total number of failed transaction begins, commits and rollbacks",
			},
			[]string{"pool_id"},
		),
		txDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transaction_duration_seconds",
				Help:      "Transaction duration in seconds by outcome",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"pool_id", "outcome"},
		),
		acquireWaits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_acquire_waits_total",
				Help:      "Total number of connection requests that had to wait",
			},
			[]string{"pool_id"},
		),
	}
}

// Observe implements event.Observer.
func (c *Collector) Observe(e event.Event) {
	c.eventsTotal.WithLabelValues(string(e.Type), e.PoolID).Inc()

	switch e.Type {
	case event.Enqueue:
		c.acquireWaits.WithLabelValues(e.PoolID).Inc()
	case event.TxError:
		c.errorsTotal.WithLabelValues(e.PoolID).Inc()
	case event.TxCommit:
		c.txDuration.WithLabelValues(e.PoolID, "commit").Observe(e.Duration.Seconds())
	case event.TxRollback:
		c.txDuration.WithLabelValues(e.PoolID, "rollback").Observe(e.Duration.Seconds())
	case event.TxTimeout:
		c.txDuration.WithLabelValues(e.PoolID, "timeout").Observe(e.Duration.Seconds())
	}
}
