package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Aeglx/WeDrawOS-sub006/pool"
)

// StatusSource returns the current status of every pool. *pool.Manager's
// GetAllPoolsStatus satisfies it.
type StatusSource func() []pool.Status

// PoolCollector is a prometheus.Collector reading pool status at scrape time.
type PoolCollector struct {
	source StatusSource

	connections *prometheus.Desc
	size        *prometheus.Desc
	waiting     *prometheus.Desc
	utilization *prometheus.Desc
	healthy     *prometheus.Desc
	acquired    *prometheus.Desc
	created     *prometheus.Desc
	destroyed   *prometheus.Desc
	queries     *prometheus.Desc
	queryErrors *prometheus.Desc
}

func NewPoolCollector(namespace string, source StatusSource) *PoolCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", name), help, append([]string{"pool_id"}, labels...), nil)
	}
	return &PoolCollector{
		source:      source,
		connections: desc("connections", "Connections by state", "state"),
		size:        desc("size", "Current pool size limit"),
		waiting:     desc("waiting", "Callers waiting for a connection"),
		utilization: desc("utilization_ratio", "Checked-out connections as a fraction of the pool size"),
		healthy:     desc("health", "1 for the pool's current health grade", "health"),
		acquired:    desc("acquired_total", "Total connections checked out"),
		created:     desc("created_total", "Total physical connections opened"),
		destroyed:   desc("destroyed_total", "Total physical connections closed"),
		queries:     desc("queries_total", "Total statements run"),
		queryErrors: desc("query_errors_total", "Total statements that failed"),
	}
}

func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connections
	ch <- c.size
	ch <- c.waiting
	ch <- c.utilization
	ch <- c.healthy
	ch <- c.acquired
	ch <- c.created
	ch <- c.destroyed
	ch <- c.queries
	ch <- c.queryErrors
}

func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.source() {
		id := s.PoolID
		ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(s.Active), id, "active")
		ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(s.Idle), id, "idle")
		ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(s.Open), id, "open")
		ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(s.Size), id)
		ch <- prometheus.MustNewConstMetric(c.waiting, prometheus.GaugeValue, float64(s.Waiting), id)
		ch <- prometheus.MustNewConstMetric(c.utilization, prometheus.GaugeValue, s.Utilization/100, id)
		ch <- prometheus.MustNewConstMetric(c.healthy, prometheus.GaugeValue, 1, id, string(s.Health))
		ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.CounterValue, float64(s.TotalAcquired), id)
		ch <- prometheus.MustNewConstMetric(c.created, prometheus.CounterValue, float64(s.TotalCreated), id)
		ch <- prometheus.MustNewConstMetric(c.destroyed, prometheus.CounterValue, float64(s.TotalDestroyed), id)
		ch <- prometheus.MustNewConstMetric(c.queries, prometheus.CounterValue, float64(s.Queries), id)
		ch <- prometheus.MustNewConstMetric(c.queryErrors, prometheus.CounterValue, float64(s.QueryErrors), id)
	}
}
