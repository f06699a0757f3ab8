// Package core assembles the pool manager, transaction manager, event bus
// and observability into a single DB handle.
package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/Aeglx/WeDrawOS-sub006/config"
	"github.com/Aeglx/WeDrawOS-sub006/driver"
	"github.com/Aeglx/WeDrawOS-sub006/event"
	"github.com/Aeglx/WeDrawOS-sub006/logger"
	"github.com/Aeglx/WeDrawOS-sub006/metrics"
	"github.com/Aeglx/WeDrawOS-sub006/middleware"
	"github.com/Aeglx/WeDrawOS-sub006/pool"
	"github.com/Aeglx/WeDrawOS-sub006/query"
	"github.com/Aeglx/WeDrawOS-sub006/transaction"
)

// DB is the main entry point. It owns the connection pools, the transaction
// manager and the event bus they report to.
type DB struct {
	cfg    *config.Config
	log    logger.Logger
	bus    *event.Bus
	pools  *pool.Manager
	txs    *transaction.Manager
	closer func() error
}

// Open initialises every configured pool and wires the managers together.
// If any pool fails to initialise, the pools already opened are closed and
// the error is returned.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*DB, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	log := o.log
	if log == nil {
		log = logger.New(logger.ParseLevel(cfg.Log.Level), logger.LogFormat(cfg.Log.Format), os.Stderr)
	}
	db := &DB{cfg: cfg, log: log}
	db.bus = event.NewBus(event.WithBufferSize(cfg.Events.BufferSize), event.WithLogger(log))
	for _, obs := range o.observers {
		db.bus.Subscribe(obs)
	}

	if err := db.setupRedis(ctx, o); err != nil {
		db.bus.Close()
		return nil, err
	}

	db.pools = pool.NewManager(
		pool.WithLogger(log),
		pool.WithPublisher(db.bus),
		pool.WithRetryPolicy(cfg.Retry),
		pool.WithMiddleware(db.middleware(o)...),
	)

	if err := db.setupMetrics(o); err != nil {
		_ = db.shutdown(ctx)
		return nil, err
	}

	for _, id := range poolIDs(cfg, o.connectors) {
		pc := pool.DefaultConfig()
		if entry, ok := cfg.Pools[id]; ok {
			pc = entry.Config
		}
		if c, ok := o.connectors[id]; ok {
			pc.Connector = c
		}
		if _, err := db.pools.InitializePool(ctx, id, pc); err != nil {
			_ = db.shutdown(ctx)
			return nil, err
		}
	}

	isolation, err := driver.ParseIsolation(cfg.Transaction.Isolation)
	if err != nil {
		_ = db.shutdown(ctx)
		return nil, err
	}
	defaultPool := cfg.Transaction.DefaultPool
	if ids := db.pools.PoolIDs(); defaultPool == "" && len(ids) == 1 {
		defaultPool = ids[0]
	}
	db.txs = transaction.NewManager(transaction.FromPool(db.pools),
		transaction.WithLogger(log),
		transaction.WithPublisher(db.bus),
		transaction.WithRetryPolicy(cfg.Retry),
		transaction.WithDefaults(defaultPool, cfg.Transaction.Timeout, isolation),
	)

	log.Info("opened %d pool(s): %v", len(db.pools.PoolIDs()), db.pools.PoolIDs())
	return db, nil
}

func poolIDs(cfg *config.Config, connectors map[string]driver.Connector) []string {
	seen := make(map[string]bool)
	var ids []string
	for id := range cfg.Pools {
		seen[id] = true
		ids = append(ids, id)
	}
	for id := range connectors {
		if !seen[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// middleware builds the ExecuteQuery chain. Tracing is outermost so its
// spans cover statements the breaker rejects.
func (db *DB) middleware(o options) []pool.QueryMiddleware {
	var mws []pool.QueryMiddleware
	q := db.cfg.Query
	switch {
	case o.tracer != nil:
		mws = append(mws, middleware.Tracing(o.tracer))
	case q.Tracing:
		mws = append(mws, middleware.Tracing(nil))
	}
	if q.SlowThreshold > 0 {
		mws = append(mws, middleware.SlowLog(q.SlowThreshold, db.log))
	}
	if q.CircuitThreshold > 0 {
		mws = append(mws, middleware.CircuitBreaker(q.CircuitThreshold, q.CircuitReset))
	}
	return append(mws, o.middleware...)
}

func (db *DB) setupRedis(ctx context.Context, o options) error {
	client, owned := o.redis, false
	if client == nil {
		if db.cfg.Events.RedisAddr == "" {
			return nil
		}
		client, owned = redis.NewClient(&redis.Options{Addr: db.cfg.Events.RedisAddr}), true
	}
	pub := middleware.NewRedisPublisher(client,
		middleware.WithStream(db.cfg.Events.RedisStream),
		middleware.WithPublisherLogger(db.log))
	if err := pub.Ping(ctx); err != nil {
		if owned {
			_ = client.Close()
		}
		return fmt.Errorf("connecting to event stream at redis: %w", err)
	}
	db.bus.Subscribe(pub)
	if owned {
		db.closer = pub.Close
	}
	return nil
}

func (db *DB) setupMetrics(o options) error {
	ns := db.cfg.Metrics.Namespace
	if ns == "" {
		return nil
	}
	reg := o.registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if err := reg.Register(metrics.NewPoolCollector(ns, db.pools.GetAllPoolsStatus)); err != nil {
		return fmt.Errorf("registering pool metrics: %w", err)
	}
	db.bus.Subscribe(metrics.NewCollector(ns, reg))
	return nil
}

// Pools returns the pool manager.
func (db *DB) Pools() *pool.Manager { return db.pools }

// Transactions returns the transaction manager.
func (db *DB) Transactions() *transaction.Manager { return db.txs }

// Events returns the event bus. Subscribe to observe pool and transaction activity.
func (db *DB) Events() *event.Bus { return db.bus }

func (db *DB) Logger() logger.Logger { return db.log }

// Builder starts a query builder speaking the dialect of poolID.
func (db *DB) Builder(poolID string) (*query.Builder, error) {
	p, err := db.pools.GetPool(poolID)
	if err != nil {
		return nil, err
	}
	return query.New(p.Dialect()), nil
}

// Close rolls back every active transaction, closes every pool and stops
// the event bus. Failures are joined; Close always runs every step.
func (db *DB) Close(ctx context.Context) error {
	if n := db.txs.ForceRollbackAll(ctx); n > 0 {
		db.log.Warn("closed with %d active transaction(s) rolled back", n)
	}
	return db.shutdown(ctx)
}

func (db *DB) shutdown(ctx context.Context) error {
	var errs []error
	if db.pools != nil {
		errs = append(errs, db.pools.CloseAllPools(ctx))
	}
	db.bus.Close()
	if db.closer != nil {
		errs = append(errs, db.closer())
	}
	return errors.Join(errs...)
}
