package grpc

import (
	"sync"
	"sync/atomic"

	"github.com/mr1hm/go-hazard-alerts/internal/models"
)

const subscriberBuffer = 100

// Broadcaster fans newly ingested hazards out to alert stream subscribers.
// Slow subscribers miss records rather than blocking ingestion.
type Broadcaster struct {
	subscribers map[uint64]chan *models.HazardRecord
	nextID      atomic.Uint64
	dropped     atomic.Uint64
	mu          sync.RWMutex
	closed      bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[uint64]chan *models.HazardRecord),
	}
}

// Subscribe registers a new listener. After Close it returns an already
// closed channel.
func (b *Broadcaster) Subscribe() (uint64, <-chan *models.HazardRecord) {
	id := b.nextID.Add(1)
	ch := make(chan *models.HazardRecord, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		close(ch)
	} else {
		b.subscribers[id] = ch
	}
	b.mu.Unlock()

	return id, ch
}

func (b *Broadcaster) Unsubscribe(id uint64) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) Broadcast(h *models.HazardRecord) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- h:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped reports how many deliveries were skipped for full subscribers.
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes all subscriber channels, causing streams to exit gracefully
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
