package middleware

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Aeglx/WeDrawOS-sub006/event"
	"github.com/Aeglx/WeDrawOS-sub006/logger"
)

// DefaultStream is the Redis stream RedisPublisher writes to by default.
const DefaultStream = "dbcore:events"

// RedisPublisher is an event.Observer that appends every event to a capped
// Redis stream, one entry per event with the JSON encoding in "payload".
// Subscribe it to an event.Bus so the network write happens off the
// caller's path.
type RedisPublisher struct {
	Client  redis.UniversalClient
	Stream  string
	MaxLen  int64
	Timeout time.Duration

	log    logger.Logger
	failed atomic.Uint64
}

// RedisPublisherOption configures a RedisPublisher.
type RedisPublisherOption func(*RedisPublisher)

func WithStream(name string) RedisPublisherOption {
	return func(p *RedisPublisher) { p.Stream = name }
}

// WithMaxLen caps the stream at approximately n entries.
func WithMaxLen(n int64) RedisPublisherOption {
	return func(p *RedisPublisher) { p.MaxLen = n }
}

func WithPublisherLogger(l logger.Logger) RedisPublisherOption {
	return func(p *RedisPublisher) { p.log = l }
}

func NewRedisPublisher(client redis.UniversalClient, opts ...RedisPublisherOption) *RedisPublisher {
	p := &RedisPublisher{
		Client:  client,
		Stream:  DefaultStream,
		MaxLen:  10000,
		Timeout: time.Second,
		log:     logger.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.WithFields(map[string]any{"component": "redis_publisher"})
	return p
}

// Ping checks that the Redis server is reachable.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.Client.Ping(ctx).Err()
}

// Observe implements event.Observer. Write failures are logged and counted,
// never returned.
func (p *RedisPublisher) Observe(e event.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		p.failed.Add(1)
		p.log.Warn("encoding %s event: %v", e.Type, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.Timeout)
	defer cancel()
	err = p.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.Stream,
		MaxLen: p.MaxLen,
		Approx: true,
		Values: map[string]any{
			"type":    string(e.Type),
			"pool_id": e.PoolID,
			"tx_id":   e.TxID,
			"payload": payload,
		},
	}).Err()
	if err != nil {
		p.failed.Add(1)
		p.log.Warn("publishing %s event to %s: %v", e.Type, p.Stream, err)
	}
}

// Failed reports how many events could not be written.
func (p *RedisPublisher) Failed() uint64 {
	return p.failed.Load()
}

// Close closes the Redis client.
func (p *RedisPublisher) Close() error {
	return p.Client.Close()
}
