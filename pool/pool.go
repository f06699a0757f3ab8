package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Aeglx/WeDrawOS-sub006/dberr"
	"github.com/Aeglx/WeDrawOS-sub006/dialect"
	"github.com/Aeglx/WeDrawOS-sub006/driver"
	"github.com/Aeglx/WeDrawOS-sub006/event"
	"github.com/Aeglx/WeDrawOS-sub006/logger"
	"github.com/Aeglx/WeDrawOS-sub006/retry"
)

// Pool is a bounded set of reusable connections identified by an ID.
//
// Checkouts are bounded by a weighted semaphore sized at Config.Max. When the
// pool is resized below Max the difference is held by the pool itself, so a
// shrink waits for checked-out connections to come back.
type Pool struct {
	id        string
	cfg       Config
	connector driver.Connector
	owned     bool
	log       logger.Logger
	pub       event.Publisher

	sem      *semaphore.Weighted
	resizeMu sync.Mutex
	size     atomic.Int64

	mu     sync.Mutex
	idle   []idleConn
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	stats   counters
	started time.Time
}

type idleConn struct {
	conn  driver.Conn
	since time.Time
}

type counters struct {
	open          atomic.Int64
	inUse         atomic.Int64
	waiting       atomic.Int64
	peak          atomic.Int64
	created       atomic.Int64
	destroyed     atomic.Int64
	acquired      atomic.Int64
	released      atomic.Int64
	waits         atomic.Int64
	acquireErrors atomic.Int64
	queries       atomic.Int64
	queryErrors   atomic.Int64
	queryNanos    atomic.Int64
}

func newPool(ctx context.Context, id string, cfg Config, log logger.Logger, pub event.Publisher) (*Pool, error) {
	connector, owned := cfg.Connector, false
	if connector == nil {
		c, err := driver.Open(ctx, cfg.Conn)
		if err != nil {
			return nil, err
		}
		connector, owned = c, true
	}

	p := &Pool{
		id:        id,
		cfg:       cfg,
		connector: connector,
		owned:     owned,
		log:       log.WithFields(map[string]any{"pool_id": id}),
		pub:       pub,
		sem:       semaphore.NewWeighted(int64(cfg.Max)),
		done:      make(chan struct{}),
		started:   time.Now(),
	}
	p.size.Store(int64(cfg.Max))
	p.ctx, p.cancel = context.WithCancel(context.Background())

	for i := 0; i < cfg.Min; i++ {
		conn, err := p.open(ctx)
		if err != nil {
			close(p.done)
			_ = p.Close(ctx)
			return nil, err
		}
		p.idle = append(p.idle, idleConn{conn: conn, since: time.Now()})
	}

	go p.maintain()
	return p, nil
}

// ID returns the pool identifier.
func (p *Pool) ID() string { return p.id }

// Config returns the configuration the pool was created with.
func (p *Pool) Config() Config { return p.cfg }

// Dialect returns the SQL dialect of the database behind the pool.
func (p *Pool) Dialect() dialect.Dialect { return p.connector.Dialect() }

// Size returns the current checkout bound.
func (p *Pool) Size() int { return int(p.size.Load()) }

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool) publish(e event.Event) {
	e.PoolID = p.id
	p.pub.Publish(event.Stamp(e))
}

func (p *Pool) open(ctx context.Context) (driver.Conn, error) {
	start := time.Now()
	conn, err := p.connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	p.stats.created.Add(1)
	p.stats.open.Add(1)
	p.publish(event.Event{Type: event.Connection, Duration: time.Since(start)})
	return conn, nil
}

func (p *Pool) destroy(conn driver.Conn) {
	if err := conn.Close(); err != nil {
		p.log.Debug("closing connection: %v", err)
	}
	p.stats.destroyed.Add(1)
	p.stats.open.Add(-1)
}

// acquire checks out one connection, waiting at most timeout for a free slot.
// A wait that runs out yields a POOL_ACQUIRE_TIMEOUT error, which is retryable.
func (p *Pool) acquire(ctx context.Context, timeout time.Duration) (*Conn, error) {
	if p.isClosed() {
		return nil, dberr.ErrPoolClosed
	}
	if timeout <= 0 {
		timeout = p.cfg.AcquireTimeout
	}

	start := time.Now()
	if !p.sem.TryAcquire(1) {
		p.stats.waits.Add(1)
		p.stats.waiting.Add(1)
		p.publish(event.Event{Type: event.Enqueue})

		wctx, cancel := context.WithTimeout(ctx, timeout)
		stop := context.AfterFunc(p.ctx, cancel)
		err := p.sem.Acquire(wctx, 1)
		stop()
		cancel()
		p.stats.waiting.Add(-1)

		if err != nil {
			p.stats.acquireErrors.Add(1)
			switch {
			case p.ctx.Err() != nil:
				return nil, dberr.ErrPoolClosed
			case ctx.Err() != nil:
				return nil, ctx.Err()
			}
			return nil, &dberr.CodedError{
				ErrCode: retry.CodeAcquireTimeout,
				Message: fmt.Sprintf("no free connection within %s", timeout),
			}
		}
	}

	if p.isClosed() {
		p.sem.Release(1)
		return nil, dberr.ErrPoolClosed
	}

	raw := p.takeIdle()
	if raw == nil {
		var err error
		if raw, err = p.open(ctx); err != nil {
			p.sem.Release(1)
			p.stats.acquireErrors.Add(1)
			return nil, err
		}
	}

	inUse := p.stats.inUse.Add(1)
	for {
		peak := p.stats.peak.Load()
		if inUse <= peak || p.stats.peak.CompareAndSwap(peak, inUse) {
			break
		}
	}
	p.stats.acquired.Add(1)
	p.log.Debug("connection acquired in %s", time.Since(start))
	return &Conn{pool: p, raw: raw, acquiredAt: time.Now()}, nil
}

// release returns a connection to this pool. Broken connections and
// connections over capacity are closed instead of kept idle.
func (p *Pool) release(c *Conn, broken bool) {
	p.stats.inUse.Add(-1)
	p.stats.released.Add(1)
	if broken || !p.putIdle(idleConn{conn: c.raw, since: time.Now()}) {
		p.destroy(c.raw)
	}
	p.sem.Release(1)
	p.publish(event.Event{Type: event.Release, Duration: time.Since(c.acquiredAt)})
}

func (p *Pool) takeIdle() driver.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.idle)
	if n == 0 {
		return nil
	}
	ic := p.idle[n-1]
	p.idle = p.idle[:n-1]
	return ic.conn
}

func (p *Pool) putIdle(ic idleConn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || int64(len(p.idle))+p.stats.inUse.Load() >= p.size.Load() {
		return false
	}
	p.idle = append(p.idle, ic)
	return true
}

func (p *Pool) recordQuery(d time.Duration, err error) {
	p.stats.queries.Add(1)
	p.stats.queryNanos.Add(int64(d))
	if err != nil {
		p.stats.queryErrors.Add(1)
	}
}

// resize changes the checkout bound to n, clamped to [max(Min,1), Max], and
// returns the size applied. Shrinking waits for checked-out connections up to ctx.
func (p *Pool) resize(ctx context.Context, n int) (int, error) {
	p.resizeMu.Lock()
	defer p.resizeMu.Unlock()

	lo := max(p.cfg.Min, 1)
	target := int64(min(max(n, lo), p.cfg.Max))
	cur := p.size.Load()
	switch {
	case target < cur:
		if err := p.sem.Acquire(ctx, cur-target); err != nil {
			return int(cur), err
		}
	case target > cur:
		p.sem.Release(target - cur)
	}
	p.size.Store(target)

	p.mu.Lock()
	var excess []idleConn
	if over := len(p.idle) - int(target); over > 0 {
		excess = append(excess, p.idle[:over]...)
		p.idle = append(p.idle[:0], p.idle[over:]...)
	}
	p.mu.Unlock()
	for _, ic := range excess {
		p.destroy(ic.conn)
	}
	return int(target), nil
}

// Close stops maintenance, closes idle connections and waits up to ctx for
// checked-out connections to be released. Connections released afterwards
// are closed rather than pooled.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	p.cancel()
	<-p.done
	for _, ic := range idle {
		p.destroy(ic.conn)
	}

	p.resizeMu.Lock()
	size := p.size.Load()
	p.resizeMu.Unlock()
	var err error
	if werr := p.sem.Acquire(ctx, size); werr != nil {
		err = fmt.Errorf("pool %q: %d connection(s) still checked out: %w", p.id, p.stats.inUse.Load(), werr)
	}

	if p.owned {
		if cerr := p.connector.Close(); cerr != nil {
			return cerr
		}
	}
	p.log.Info("pool closed")
	return err
}

func (p *Pool) maintain() {
	defer close(p.done)

	var reapC, healthC <-chan time.Time
	if p.cfg.IdleTimeout > 0 {
		t := time.NewTicker(max(p.cfg.IdleTimeout/2, time.Millisecond))
		defer t.Stop()
		reapC = t.C
	}
	if p.cfg.HealthCheckInterval > 0 {
		t := time.NewTicker(p.cfg.HealthCheckInterval)
		defer t.Stop()
		healthC = t.C
	}

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-reapC:
			p.reapIdle()
		case <-healthC:
			p.checkHealth()
		}
	}
}

// reapIdle closes connections idle longer than IdleTimeout, oldest first,
// while more than Min remain open.
func (p *Pool) reapIdle() {
	now := time.Now()
	p.mu.Lock()
	var expired []idleConn
	open := p.stats.open.Load()
	kept := p.idle[:0]
	for _, ic := range p.idle {
		if now.Sub(ic.since) > p.cfg.IdleTimeout && open > int64(p.cfg.Min) {
			expired = append(expired, ic)
			open--
			continue
		}
		kept = append(kept, ic)
	}
	p.idle = kept
	p.mu.Unlock()

	for _, ic := range expired {
		p.destroy(ic.conn)
	}
	if len(expired) > 0 {
		p.log.Debug("reaped %d idle connection(s)", len(expired))
	}
}

func (p *Pool) checkHealth() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, ic := range idle {
		ctx, cancel := context.WithTimeout(p.ctx, p.cfg.AcquireTimeout)
		err := ic.conn.Ping(ctx)
		cancel()
		if err != nil {
			p.log.Warn("idle connection failed health check: %v", err)
			p.destroy(ic.conn)
			continue
		}
		if !p.putIdle(ic) {
			p.destroy(ic.conn)
		}
	}
}
