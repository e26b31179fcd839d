// Package notify is a small in-process event bus decoupling the store and
// sweeper from whatever renders their state. Delivery is best effort: a
// subscriber that stops draining loses events rather than stalling
// publishers.
package notify

import (
	"log/slog"
	"sync"
	"time"
)

// Kind labels what changed.
type Kind string

const (
	KindIngest  Kind = "ingest"
	KindRemove  Kind = "remove"
	KindRename  Kind = "rename"
	KindArchive Kind = "archive"
	KindRestore Kind = "restore"
	KindSweep   Kind = "sweep"
	KindRefresh Kind = "refresh"
)

// Event describes one store change. Name is empty for whole-store events
// such as refresh and sweep.
type Event struct {
	Kind Kind      `json:"kind"`
	Name string    `json:"name,omitempty"`
	At   time.Time `json:"at"`
}

const subscriberBuffer = 16

// Bus fans events out to subscribers. The zero value is not usable; use
// NewBus.
type Bus struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	logger *slog.Logger
}

// NewBus creates an event bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[chan Event]struct{}),
		logger: logger,
	}
}

// Subscribe registers a new listener and returns its channel plus a cancel
// function. Cancel must be called when the listener goes away.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber without blocking. A full
// subscriber buffer drops the event for that subscriber only.
func (b *Bus) Publish(event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropping event for slow subscriber", "kind", event.Kind)
		}
	}
}

// Len returns the current subscriber count.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
