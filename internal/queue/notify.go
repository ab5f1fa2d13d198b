package queue

import (
	"sync"

	"github.com/rs/zerolog"
)

// Listener receives queue snapshots after every state change.
type Listener func(Snapshot)

type subscription struct {
	id uint64
	fn Listener
}

// Notifier fans snapshots out to listeners synchronously. A listener that
// panics is logged and skipped; the others still run.
type Notifier struct {
	mu        sync.RWMutex
	listeners []subscription
	nextID    uint64
	log       zerolog.Logger
}

func NewNotifier(logger zerolog.Logger) *Notifier {
	return &Notifier{log: logger}
}

// Subscribe registers fn and returns a function that removes it again.
func (n *Notifier) Subscribe(fn Listener) (unsubscribe func()) {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.listeners = append(n.listeners, subscription{id: id, fn: fn})
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { n.remove(id) })
	}
}

func (n *Notifier) Publish(snap Snapshot) {
	n.mu.RLock()
	listeners := make([]subscription, len(n.listeners))
	copy(listeners, n.listeners)
	n.mu.RUnlock()

	for _, l := range listeners {
		n.call(l, snap)
	}
}

func (n *Notifier) call(l subscription, snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Error().Interface("panic", r).Uint64("listener", l.id).Msg("queue listener panicked")
		}
	}()
	l.fn(snap)
}

func (n *Notifier) remove(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, l := range n.listeners {
		if l.id == id {
			n.listeners = append(n.listeners[:i], n.listeners[i+1:]...)
			return
		}
	}
}
