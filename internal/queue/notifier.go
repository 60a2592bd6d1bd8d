package queue

import (
	"sync"
	"time"
)

// ProcessedEvent is published once per processing pass. It carries only
// aggregate state; callers needing per-action feedback use the completion
// channel returned by Enqueue or poll Snapshot.
type ProcessedEvent struct {
	Remaining int       `json:"remaining"`
	Completed int       `json:"completed"`
	Abandoned int       `json:"abandoned"`
	At        time.Time `json:"at"`
}

// Notifier fans ProcessedEvents out to subscribers.
type Notifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(ProcessedEvent)
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]func(ProcessedEvent))}
}

// Subscribe registers fn and returns a cancel func that removes it.
func (n *Notifier) Subscribe(fn func(ProcessedEvent)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	n.subs[id] = fn

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

// Notify delivers ev to every subscriber. Callbacks run outside the lock so
// a subscriber may subscribe or unsubscribe from within its callback.
func (n *Notifier) Notify(ev ProcessedEvent) {
	n.mu.Lock()
	fns := make([]func(ProcessedEvent), 0, len(n.subs))
	for _, fn := range n.subs {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
