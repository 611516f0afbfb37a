package event

import (
	"sync"
	"time"
)

// Kind enumerates the event categories published by the supervisor core.
type Kind int

const (
	// KindStateChange is emitted on every real service state transition.
	KindStateChange Kind = iota
	// KindLog is emitted for every captured output line.
	KindLog
	// KindFailure is emitted when a service enters the failed state.
	// Detail distinguishes a terminal failure (restart budget exhausted).
	KindFailure
	// KindRestart is emitted for every auto-restart attempt.
	KindRestart
)

func (k Kind) String() string {
	switch k {
	case KindStateChange:
		return "state_change"
	case KindLog:
		return "log"
	case KindFailure:
		return "failure"
	case KindRestart:
		return "restart"
	default:
		return "unknown"
	}
}

// Event is the single message type delivered to subscribers. Fields not
// relevant for a given Kind are zero.
type Event struct {
	Kind     Kind      `json:"kind"`
	Service  string    `json:"service"`
	OldState string    `json:"old_state,omitempty"`
	NewState string    `json:"new_state,omitempty"`
	Line     string    `json:"line,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

// Bus fans events out to any number of subscribers. Publish is
// fire-and-forget: a subscriber that cannot keep up loses events rather
// than blocking the supervisor.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber with the given channel buffer and
// returns the receive channel plus a cancel function. Cancel is safe to
// call more than once.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish delivers e to all current subscribers without blocking.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			// subscriber is full; drop
		}
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
