// Package event carries structured observability events from the pool and
// transaction managers to subscribers.
package event

import (
	"encoding/json"
	"time"
)

// Type names an event.
type Type string

const (
	// Connection is emitted when a pool opens a new physical connection.
	Connection Type = "connection"
	// Release is emitted when a connection is returned to its pool.
	Release Type = "release"
	// Enqueue is emitted when a caller has to wait for a free connection.
	Enqueue Type = "enqueue"

	TxStart    Type = "transaction.start"
	TxCommit   Type = "transaction.commit"
	TxRollback Type = "transaction.rollback"
	TxTimeout  Type = "transaction.timeout"
	TxError    Type = "transaction.error"
	TxComplete Type = "transaction.complete"
)

// Event is a single observation. Duration and Err are set where relevant;
// Attempt is the 1-based attempt for retried operations.
type Event struct {
	Type     Type
	PoolID   string
	TxID     string
	Time     time.Time
	Duration time.Duration
	Err      error
	Attempt  int
}

type wireEvent struct {
	Type       Type      `json:"type"`
	PoolID     string    `json:"pool_id,omitempty"`
	TxID       string    `json:"tx_id,omitempty"`
	Time       time.Time `json:"time"`
	DurationMS float64   `json:"duration_ms,omitempty"`
	Error      string    `json:"error,omitempty"`
	Attempt    int       `json:"attempt,omitempty"`
}

// MarshalJSON encodes the event with the error as its message and the duration in milliseconds.
func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{
		Type:       e.Type,
		PoolID:     e.PoolID,
		TxID:       e.TxID,
		Time:       e.Time,
		DurationMS: float64(e.Duration) / float64(time.Millisecond),
		Attempt:    e.Attempt,
	}
	if e.Err != nil {
		w.Error = e.Err.Error()
	}
	return json.Marshal(w)
}

// Publisher accepts events from the managers. Implementations must not block
// for long; the managers call Publish on their hot paths.
type Publisher interface {
	Publish(e Event)
}

// Observer receives events from a Bus.
type Observer interface {
	Observe(e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

func (f PublisherFunc) Publish(e Event) { f(e) }

type nop struct{}

func (nop) Publish(Event) {}

// Nop is a Publisher that discards every event.
var Nop Publisher = nop{}

// Stamp fills in Time when it is zero.
func Stamp(e Event) Event {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	return e
}
