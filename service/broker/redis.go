package broker

import (
	"context"
	"sync"
	"time"

	"GotMail/logger"
	"GotMail/tools/safe"

	"github.com/redis/go-redis/v9"
)

// RedisBroker rides on Redis Pub/Sub. One PubSub connection per topic:
// the registry only subscribes once per user, so the connection count
// tracks distinct online users, not sockets.
type RedisBroker struct {
	rdb *redis.Client

	mu      sync.Mutex
	up      bool
	watches []StatusFunc

	pingEvery time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
}

const redisStreamBuffer = 256

func NewRedisBroker(rdb *redis.Client) *RedisBroker {
	b := &RedisBroker{
		rdb:       rdb,
		up:        true,
		pingEvery: 3 * time.Second,
		stopCh:    make(chan struct{}),
	}
	safe.SafeGoNamed("redis-broker-health", b.healthLoop)
	return b
}

func (b *RedisBroker) Publish(ctx context.Context, topic string, data []byte) error {
	if err := b.rdb.Publish(ctx, topic, data).Err(); err != nil {
		b.setStatus(false)
		return unavailable(err)
	}
	b.setStatus(true)
	return nil
}

func (b *RedisBroker) Subscribe(topic string) (*Subscription, error) {
	ps := b.rdb.Subscribe(context.Background(), topic)

	// Force the SUBSCRIBE round trip so a dead broker fails here,
	// not silently on the first missed message.
	waitCtx, cancelWait := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelWait()
	if _, err := ps.Receive(waitCtx); err != nil {
		_ = ps.Close()
		return nil, unavailable(err)
	}

	out := make(chan []byte, redisStreamBuffer)
	safe.SafeGoNamed("redis-broker-pump:"+topic, func() {
		defer close(out)
		for msg := range ps.Channel() {
			select {
			case out <- []byte(msg.Payload):
			default:
				logger.Warnf("[RedisBroker] slow consumer, drop message topic=%s", topic)
			}
		}
	})

	var once sync.Once
	cancel := func() {
		once.Do(func() { _ = ps.Close() })
	}
	return &Subscription{Topic: topic, C: out, cancel: cancel}, nil
}

func (b *RedisBroker) Notify(fn StatusFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watches = append(b.watches, fn)
}

func (b *RedisBroker) Close() error {
	// Shared *redis.Client belongs to the caller; only stop our loop.
	b.stopOnce.Do(func() { close(b.stopCh) })
	return nil
}

func (b *RedisBroker) healthLoop() {
	t := time.NewTicker(b.pingEvery)
	defer t.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			err := b.rdb.Ping(ctx).Err()
			cancel()
			b.setStatus(err == nil)
		}
	}
}

func (b *RedisBroker) setStatus(up bool) {
	b.mu.Lock()
	if b.up == up {
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
	logger.Warnf("[RedisBroker] status -> %s", st)
	for _, fn := range watches {
		fn(st)
	}
}
