package pool

import (
	"time"
)

// Health grades pool utilisation.
type Health string

const (
	Healthy  Health = "healthy"
	Warning  Health = "warning"
	Critical Health = "critical"
)

// HealthFor grades a utilisation percentage: below 80 is healthy, up to 95
// is a warning and anything above is critical.
func HealthFor(utilization float64) Health {
	switch {
	case utilization < 80:
		return Healthy
	case utilization <= 95:
		return Warning
	default:
		return Critical
	}
}

// Status is a point-in-time snapshot of a pool.
type Status struct {
	PoolID string `json:"pool_id"`
	Driver string `json:"driver"`
	Closed bool   `json:"closed"`

	Size    int `json:"size"`
	Min     int `json:"min"`
	Max     int `json:"max"`
	Open    int `json:"open"`
	Active  int `json:"active"`
	Idle    int `json:"idle"`
	Free    int `json:"free"`
	Waiting int `json:"waiting"`

	// Utilization is Active as a percentage of Size.
	Utilization float64 `json:"utilization"`
	Health      Health  `json:"health"`

	TotalCreated   int64         `json:"total_created"`
	TotalDestroyed int64         `json:"total_destroyed"`
	TotalAcquired  int64         `json:"total_acquired"`
	TotalReleased  int64         `json:"total_released"`
	Waits          int64         `json:"waits"`
	AcquireErrors  int64         `json:"acquire_errors"`
	Queries        int64         `json:"queries"`
	QueryErrors    int64         `json:"query_errors"`
	AvgQueryTime   time.Duration `json:"avg_query_time"`
	PeakActive     int           `json:"peak_active"`
	Uptime         time.Duration `json:"uptime"`
}

// Status snapshots the pool's counters.
func (p *Pool) Status() Status {
	p.mu.Lock()
	idle := len(p.idle)
	closed := p.closed
	p.mu.Unlock()

	size := int(p.size.Load())
	active := int(p.stats.inUse.Load())
	s := Status{
		PoolID:         p.id,
		Driver:         p.cfg.Conn.Driver,
		Closed:         closed,
		Size:           size,
		Min:            p.cfg.Min,
		Max:            p.cfg.Max,
		Open:           int(p.stats.open.Load()),
		Active:         active,
		Idle:           idle,
		Free:           max(size-active, 0),
		Waiting:        int(p.stats.waiting.Load()),
		TotalCreated:   p.stats.created.Load(),
		TotalDestroyed: p.stats.destroyed.Load(),
		TotalAcquired:  p.stats.acquired.Load(),
		TotalReleased:  p.stats.released.Load(),
		Waits:          p.stats.waits.Load(),
		AcquireErrors:  p.stats.acquireErrors.Load(),
		Queries:        p.stats.queries.Load(),
		QueryErrors:    p.stats.queryErrors.Load(),
		PeakActive:     int(p.stats.peak.Load()),
		Uptime:         time.Since(p.started),
	}
	if s.Driver == "" {
		s.Driver = p.Dialect().Name()
	}
	if size > 0 {
		s.Utilization = float64(active) / float64(size) * 100
	}
	s.Health = HealthFor(s.Utilization)
	if s.Queries > 0 {
		s.AvgQueryTime = time.Duration(p.stats.queryNanos.Load() / s.Queries)
	}
	return s
}
