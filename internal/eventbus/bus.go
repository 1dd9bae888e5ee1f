// Package eventbus is an in-memory, non-blocking fanout used to decouple the
// reminder engine from its observers (audit journal, metrics).
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the reminder engine.
const (
	TypeReminderSent   = "reminder.sent"
	TypeReminderFailed = "reminder.failed"
	TypeTickDone       = "reminder.tick"
	TypeFetchFailed    = "calendar.fetch_failed"
)

// Event is a small signal. Data is one of the payload types below or nil.
//
// Publish never blocks; a subscriber whose buffer is full misses the event.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Delivery is the payload of reminder.sent and reminder.failed.
type Delivery struct {
	Key      string
	EventID  string
	Label    string
	State    string
	Audience string
	Took     time.Duration
	Err      string
}

// Tick is the payload of reminder.tick.
type Tick struct {
	Events    int
	Sent      int
	Failed    int
	Malformed int
	Took      time.Duration
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			// Holding the write lock excludes in-flight Publish calls, so
			// closing cannot race a send.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Nop discards everything; used when no observers are wired.
type Nop struct{}

func (Nop) Publish(Event) {}
func (Nop) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}
