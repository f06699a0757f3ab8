package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"github.com/Aeglx/WeDrawOS-sub006/driver"
	"github.com/Aeglx/WeDrawOS-sub006/event"
	"github.com/Aeglx/WeDrawOS-sub006/logger"
	"github.com/Aeglx/WeDrawOS-sub006/pool"
)

type options struct {
	log        logger.Logger
	connectors map[string]driver.Connector
	middleware []pool.QueryMiddleware
	observers  []event.Observer
	registerer prometheus.Registerer
	tracer     trace.Tracer
	redis      redis.UniversalClient
}

// Option customises Open.
type Option func(*options)

// WithLogger replaces the logger built from the log configuration.
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithConnector serves poolID from an existing connector, such as one from
// driver.FromDB or driver.FromGorm, instead of its configured driver. The
// pool does not close it. The pool needs no configuration entry; a missing
// one takes pool.DefaultConfig.
func WithConnector(poolID string, c driver.Connector) Option {
	return func(o *options) {
		if o.connectors == nil {
			o.connectors = make(map[string]driver.Connector)
		}
		o.connectors[poolID] = c
	}
}

// WithMiddleware appends query middleware after the configured ones.
func WithMiddleware(mws ...pool.QueryMiddleware) Option {
	return func(o *options) { o.middleware = append(o.middleware, mws...) }
}

// WithObserver subscribes observers to the event bus.
func WithObserver(obs ...event.Observer) Option {
	return func(o *options) { o.observers = append(o.observers, obs...) }
}

// WithRegisterer registers metrics with reg instead of the default registerer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithTracer enables statement tracing with tracer regardless of configuration.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithRedisClient publishes events to Redis through client instead of one
// built from the configured address. The caller keeps ownership of client.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) { o.redis = client }
}
