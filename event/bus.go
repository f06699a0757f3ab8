package event

import (
	"sync"
	"sync/atomic"

	"github.com/Aeglx/WeDrawOS-sub006/logger"
)

// Bus is a bounded, asynchronous fan-out of events. Publish enqueues into a
// fixed-size buffer drained by one dispatch goroutine, so observers see events
// in publish order. When the buffer is full the event is dropped and counted,
// unless the bus was built with WithBlockOnFull. Observers must not call back
// into the Bus.
type Bus struct {
	ch          chan Event
	blockOnFull bool
	log         logger.Logger

	// closeMu guards closed and sends on ch; obsMu guards observers.
	closeMu   sync.RWMutex
	closed    bool
	obsMu     sync.RWMutex
	observers map[uint64]Observer
	nextID    uint64

	dropped atomic.Uint64
	done    chan struct{}
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBufferSize sets the queue capacity. The default is 1024.
func WithBufferSize(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.ch = make(chan Event, n)
		}
	}
}

// WithBlockOnFull makes Publish wait for room instead of dropping.
func WithBlockOnFull() BusOption {
	return func(b *Bus) { b.blockOnFull = true }
}

// WithLogger sets the logger used to report observer panics.
func WithLogger(l logger.Logger) BusOption {
	return func(b *Bus) {
		if l != nil {
			b.log = l
		}
	}
}

// NewBus starts a bus and its dispatch goroutine. Call Close to stop it.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		ch:        make(chan Event, 1024),
		log:       logger.NewNop(),
		observers: make(map[uint64]Observer),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.WithFields(map[string]any{"component": "event_bus"})
	go b.dispatch()
	return b
}

// Publish implements Publisher. Events published after Close are dropped.
func (b *Bus) Publish(e Event) {
	e = Stamp(e)
	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		b.dropped.Add(1)
		return
	}
	if b.blockOnFull {
		b.ch <- e
		return
	}
	select {
	case b.ch <- e:
	default:
		b.dropped.Add(1)
	}
}

// Subscribe registers o and returns a function that removes it.
func (b *Bus) Subscribe(o Observer) (unsubscribe func()) {
	b.obsMu.Lock()
	defer b.obsMu.Unlock()
	id := b.nextID
	b.nextID++
	b.observers[id] = o
	return func() {
		b.obsMu.Lock()
		defer b.obsMu.Unlock()
		delete(b.observers, id)
	}
}

// Channel returns a subscription delivered over a channel with capacity n.
// Events that do not fit are dropped and counted. The channel is closed by
// the returned cancel function or by Close.
func (b *Bus) Channel(n int) (<-chan Event, func()) {
	if n <= 0 {
		n = 64
	}
	ch := make(chan Event, n)
	var once sync.Once
	var closing atomic.Bool
	unsubscribe := b.Subscribe(ObserverFunc(func(e Event) {
		if closing.Load() {
			return
		}
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}))
	stop := make(chan struct{})
	cancel := func() {
		once.Do(func() {
			close(stop)
			closing.Store(true)
			unsubscribe()
			// dispatch runs observers under the read lock, so after
			// unsubscribe returns no send can be in flight
			close(ch)
		})
	}
	go func() {
		select {
		case <-b.done:
			cancel()
		case <-stop:
		}
	}()
	return ch, cancel
}

// Dropped reports how many events were discarded because a buffer was full
// or the bus was closed.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close stops accepting events, delivers everything already queued and waits
// for the dispatch goroutine to exit. It is safe to call more than once.
func (b *Bus) Close() {
	b.closeMu.Lock()
	if b.closed {
		b.closeMu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	close(b.ch)
	b.closeMu.Unlock()
	<-b.done
}

func (b *Bus) dispatch() {
	defer close(b.done)
	for e := range b.ch {
		b.obsMu.RLock()
		for _, o := range b.observers {
			b.deliver(o, e)
		}
		b.obsMu.RUnlock()
	}
}

func (b *Bus) deliver(o Observer, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event observer panicked on %s: %v", e.Type, r)
		}
	}()
	o.Observe(e)
}
