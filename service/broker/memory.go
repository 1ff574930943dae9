package broker

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// MemoryBroker is the in-process implementation: used by unit tests and
// by single-node deployments that run without an external broker.
// Publishes are serialized per broker, so FIFO per topic holds.
type MemoryBroker struct {
	mu      sync.Mutex
	topics  map[string]map[int64]chan []byte // topic -> sub id -> stream
	nextID  int64
	up      bool
	closed  bool
	watches []StatusFunc
}

const memStreamBuffer = 256

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		topics: make(map[string]map[int64]chan []byte),
		up:     true,
	}
}

func (b *MemoryBroker) Publish(_ context.Context, topic string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || !b.up {
		return unavailable(errNotRunning)
	}
	for _, ch := range b.topics[topic] {
		// Slow subscriber: drop rather than block the publisher.
		select {
		case ch <- data:
		default:
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(topic string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || !b.up {
		return nil, unavailable(errNotRunning)
	}
	b.nextID++
	id := b.nextID
	ch := make(chan []byte, memStreamBuffer)
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[int64]chan []byte)
	}
	b.topics[topic][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if subs := b.topics[topic]; subs != nil {
				if c, ok := subs[id]; ok {
					delete(subs, id)
					close(c)
					if len(subs) == 0 {
						delete(b.topics, topic)
					}
				}
			}
		})
	}
	return &Subscription{Topic: topic, C: ch, cancel: cancel}, nil
}

func (b *MemoryBroker) Notify(fn StatusFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watches = append(b.watches, fn)
}

// SetAvailable flips broker health; used to simulate an outage.
func (b *MemoryBroker) SetAvailable(up bool) {
	b.mu.Lock()
	if b.up == up || b.closed {
		b.mu.Unlock()
		return
	}
	b.up = up
	watches := append([]StatusFunc(nil), b.watches...)
	b.mu.Unlock()

	st := StatusDown
	if up {
		st = StatusUp
	}
	for _, fn := range watches {
		fn(st)
	}
}

// SubscriberCount reports live streams for a topic (test hook, also the
// cheapest way to assert garbage-free subscription state).
func (b *MemoryBroker) SubscriberCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for topic, subs := range b.topics {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(b.topics, topic)
	}
	return nil
}

var errNotRunning = errors.New("broker not running")
