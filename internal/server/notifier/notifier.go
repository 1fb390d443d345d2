// Package notifier fans reload events out to subscribers such as SSE
// streams.
package notifier

import (
	"sync"
	"time"
)

// Event describes a finished reload.
type Event struct {
	Grammars int       `json:"grammars"`
	Failed   int       `json:"failed"`
	Trigger  string    `json:"trigger"`
	At       time.Time `json:"at"`
}

// Notifier broadcasts events to every subscriber. A slow subscriber only
// ever sees the latest event.
type Notifier struct {
	mu        sync.RWMutex
	listeners map[chan Event]struct{}
}

// New creates a Notifier.
func New() *Notifier {
	return &Notifier{listeners: make(map[chan Event]struct{})}
}

// Subscribe returns a channel receiving events. Call Unsubscribe when done.
func (n *Notifier) Subscribe() chan Event {
	ch := make(chan Event, 1)
	n.mu.Lock()
	n.listeners[ch] = struct{}{}
	n.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch.
func (n *Notifier) Unsubscribe(ch chan Event) {
	n.mu.Lock()
	if _, ok := n.listeners[ch]; ok {
		delete(n.listeners, ch)
		close(ch)
	}
	n.mu.Unlock()
}

// Len returns the number of subscribers.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.listeners)
}

// Broadcast sends ev to every subscriber without blocking, replacing any
// event a subscriber has not consumed yet.
func (n *Notifier) Broadcast(ev Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for ch := range n.listeners {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}
