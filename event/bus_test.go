package event

import (
	"encoding/json"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	var got []int
	bus.Subscribe(ObserverFunc(func(e Event) {
		mu.Lock()
		got = append(got, e.Attempt)
		mu.Unlock()
	}))

	for i := 1; i <= 100; i++ {
		bus.Publish(Event{Type: Release, PoolID: "p", Attempt: i})
	}
	bus.Close()

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i+1, v)
	}
	assert.Zero(t, bus.Dropped())
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := NewBus(WithBufferSize(1))
	release := make(chan struct{})
	bus.Subscribe(ObserverFunc(func(Event) { <-release }))

	for i := 0; i < 10; i++ {
		bus.Publish(Event{Type: Enqueue})
	}
	assert.Positive(t, bus.Dropped())
	close(release)
	bus.Close()

	bus.Publish(Event{Type: Enqueue})
	before := bus.Dropped()
	bus.Publish(Event{Type: Enqueue})
	assert.Equal(t, before+1, bus.Dropped(), "publish after close is dropped")
}

func TestBusBlockOnFull(t *testing.T) {
	bus := NewBus(WithBufferSize(1), WithBlockOnFull())
	var mu sync.Mutex
	count := 0
	bus.Subscribe(ObserverFunc(func(Event) {
		time.Sleep(time.Millisecond)
		mu.Lock()
		count++
		mu.Unlock()
	}))
	for i := 0; i < 20; i++ {
		bus.Publish(Event{Type: Connection})
	}
	bus.Close()
	assert.Equal(t, 20, count)
	assert.Zero(t, bus.Dropped())
}

func TestBusChannelAndUnsubscribe(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Channel(8)

	bus.Publish(Event{Type: TxStart, TxID: "t1"})
	select {
	case e := <-ch:
		assert.Equal(t, TxStart, e.Type)
		assert.False(t, e.Time.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	cancel()
	bus.Close()
}

func TestBusClosesChannels(t *testing.T) {
	bus := NewBus()
	ch, _ := bus.Channel(1)
	bus.Close()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestCancelledChannelsDoNotLeakGoroutines(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	before := runtime.NumGoroutine()
	for i := 0; i < 200; i++ {
		_, cancel := bus.Channel(1)
		cancel()
	}
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+5
	}, time.Second, 10*time.Millisecond)

	// a channel still open when the bus closes is closed by it
	ch, cancel := bus.Channel(1)
	defer cancel()
	bus.Close()
	_, open := <-ch
	assert.False(t, open)
}

func TestObserverPanicIsContained(t *testing.T) {
	bus := NewBus()
	var seen sync.WaitGroup
	seen.Add(1)
	bus.Subscribe(ObserverFunc(func(Event) { panic("boom") }))
	bus.Subscribe(ObserverFunc(func(Event) { seen.Done() }))
	bus.Publish(Event{Type: TxError})
	seen.Wait()
	bus.Close()
}

func TestEventJSON(t *testing.T) {
	e := Event{
		Type:     TxRollback,
		PoolID:   "main",
		TxID:     "abc",
		Time:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Duration: 1500 * time.Microsecond,
		Err:      errors.New("deadlock detected"),
	}
	data, err := json.Marshal(e)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "transaction.rollback", m["type"])
	assert.Equal(t, "deadlock detected", m["error"])
	assert.InDelta(t, 1.5, m["duration_ms"], 1e-9)
	assert.NotContains(t, m, "attempt")
}

func TestNop(t *testing.T) {
	Nop.Publish(Event{Type: Release})
	var got Event
	PublisherFunc(func(e Event) { got = e }).Publish(Event{Type: Enqueue})
	assert.Equal(t, Enqueue, got.Type)
}
