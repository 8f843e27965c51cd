package sync

import (
	"sync"

	"github.com/hyperengineering/vitalsync/internal/types"
)

// StatusUpdate is one progress or terminal signal from a sync cycle.
type StatusUpdate struct {
	Status   types.FetchStatus
	Terminal bool
	// Fetched counts the records applied by the page that produced a
	// Fetched signal; zero otherwise.
	Fetched int
	// Err carries the failure behind a FetchedFailed signal.
	Err error
}

// Broadcaster fans sync status updates out to registered listeners.
// Delivery is non-blocking: a listener that has fallen behind drops updates
// rather than stalling the sync cycle.
type Broadcaster struct {
	mu        sync.Mutex
	listeners map[chan StatusUpdate]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{listeners: make(map[chan StatusUpdate]struct{})}
}

// Subscribe registers a listener and returns its channel plus a cancel
// function. The channel is buffered; cancel closes it.
func (b *Broadcaster) Subscribe() (<-chan StatusUpdate, func()) {
	ch := make(chan StatusUpdate, 16)
	b.mu.Lock()
	b.listeners[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.listeners[ch]; ok {
			delete(b.listeners, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an update to every listener that has buffer room.
func (b *Broadcaster) Publish(update StatusUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.listeners {
		select {
		case ch <- update:
		default:
		}
	}
}
