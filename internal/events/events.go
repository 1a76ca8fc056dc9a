// Package events provides a change broadcaster so views can react to engine
// state transitions without polling.
package events

import (
	"sync"
	"time"
)

const (
	EventTree   = "tree"   // tree content changed, TreeVersion carries the new version
	EventNav    = "nav"    // current disk or path changed
	EventSearch = "search" // search results or searching flag changed
	EventUsage  = "usage"  // disk/user usage recomputed
)

// Event describes a single engine state change.
type Event struct {
	Type        string `json:"type"`
	DiskID      string `json:"disk_id,omitempty"`
	TreeVersion uint64 `json:"tree_version,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

// Broadcaster fans events out to subscribers.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe adds a subscriber and returns its event channel.
// The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe() chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	close(ch)
	b.mu.Unlock()
}

// Publish sends an event to all subscribers. Non-blocking: drops events
// for slow consumers.
func (b *Broadcaster) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Drop event for slow consumer
		}
	}
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
