// Package middleware holds pool.QueryMiddleware implementations and event
// observers that plug into the pool and transaction managers.
package middleware

import (
	"context"
	"time"

	"github.com/Aeglx/WeDrawOS-sub006/driver"
	"github.com/Aeglx/WeDrawOS-sub006/logger"
	"github.com/Aeglx/WeDrawOS-sub006/pool"
)

// SlowLogMiddleware logs statements that take longer than Threshold.
type SlowLogMiddleware struct {
	Threshold time.Duration
	log       logger.Logger
}

// SlowLog returns a middleware logging statements slower than threshold at
// Warn. Parameter values are never logged, only their count.
func SlowLog(threshold time.Duration, l logger.Logger) *SlowLogMiddleware {
	if l == nil {
		l = logger.NewNop()
	}
	return &SlowLogMiddleware{
		Threshold: threshold,
		log:       l.WithFields(map[string]any{"component": "slow_log"}),
	}
}

func (m *SlowLogMiddleware) Name() string {
	return "SlowLog"
}

func (m *SlowLogMiddleware) Process(ctx context.Context, stmt *pool.Statement, next pool.QueryFunc) (*driver.Result, error) {
	start := time.Now()
	res, err := next(ctx, stmt)
	duration := time.Since(start)

	if duration > m.Threshold {
		var rows int64
		if res != nil {
			rows = res.RowsAffected
			if stmt.ReturnsRows {
				rows = int64(len(res.Rows))
			}
		}
		m.log.Warn("slow statement on pool %q: duration=%v | sql=%s | params=%d | rows=%d | err=%v",
			stmt.PoolID, duration, stmt.SQL, len(stmt.Params), rows, err)
	}
	return res, err
}
