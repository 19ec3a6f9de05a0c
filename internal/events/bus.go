// Package events is the in-process notification hub for queue changes.
// Nothing published here is persisted or leaves the process.
package events

import (
	"log/slog"
	"sync"

	"consult-queue/models"
)

const TopicFrontChanged = "queue:front-changed"

// Bus fans FrontChanged events out to every subscriber. Publish never blocks:
// a subscriber whose buffer is full misses the event.
type Bus struct {
	mu   sync.Mutex
	subs map[chan models.FrontChanged]struct{}
	size int
}

func NewBus(buffer int) *Bus {
	if buffer < 1 {
		buffer = 1
	}
	return &Bus{
		subs: make(map[chan models.FrontChanged]struct{}),
		size: buffer,
	}
}

func (b *Bus) Subscribe() chan models.FrontChanged {
	ch := make(chan models.FrontChanged, b.size)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	return ch
}

func (b *Bus) Unsubscribe(ch chan models.FrontChanged) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

func (b *Bus) Publish(ev models.FrontChanged) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("dropped local event, subscriber is behind",
				"topic", TopicFrontChanged, "creator_id", ev.CreatorID)
		}
	}
}
