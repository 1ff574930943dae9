package broker

import (
	"context"
	"strings"
	"sync"
	"time"

	"GotMail/logger"
	"GotMail/tools/safe"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

// NatsConfig 客户端配置
type NatsConfig struct {
	Servers       []string
	Name          string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// NatsBroker delivers over core NATS (no persistence; the replay buffer
// covers reconnect gaps, so JetStream is not needed here).
type NatsBroker struct {
	nc *nats.Conn

	mu      sync.Mutex
	up      bool
	watches []StatusFunc
}

const natsStreamBuffer = 256

func NewNatsBroker(cfg NatsConfig) (*NatsBroker, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	b := &NatsBroker{up: true}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warnf("[NatsBroker] disconnected: %v", err)
			b.setStatus(false)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("[NatsBroker] reconnected to %s", nc.ConnectedUrl())
			b.setStatus(true)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			b.setStatus(false)
		}),
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, unavailable(err)
	}
	b.nc = nc
	return b, nil
}

// subjectOf maps a topic to a NATS subject. Topics use ":" as the
// namespace separator, subjects use ".".
func subjectOf(topic string) string {
	return strings.ReplaceAll(topic, ":", ".")
}

func (b *NatsBroker) Publish(_ context.Context, topic string, data []byte) error {
	// The client buffers while reconnecting; callers need a hard signal
	// instead, so an interrupted connection reports unavailable.
	if !b.nc.IsConnected() {
		return unavailable(errors.New("nats connection down"))
	}
	if err := b.nc.Publish(subjectOf(topic), data); err != nil {
		return unavailable(err)
	}
	return nil
}

func (b *NatsBroker) Subscribe(topic string) (*Subscription, error) {
	in := make(chan *nats.Msg, natsStreamBuffer)
	sub, err := b.nc.ChanSubscribe(subjectOf(topic), in)
	if err != nil {
		return nil, unavailable(err)
	}

	out := make(chan []byte, natsStreamBuffer)
	done := make(chan struct{})
	safe.SafeGoNamed("nats-broker-pump:"+topic, func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- m.Data:
				default:
					logger.Warnf("[NatsBroker] slow consumer, drop message topic=%s", topic)
				}
			}
		}
	})

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			close(done)
		})
	}
	return &Subscription{Topic: topic, C: out, cancel: cancel}, nil
}

func (b *NatsBroker) Notify(fn StatusFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watches = append(b.watches, fn)
}

func (b *NatsBroker) Close() error {
	if b.nc != nil {
		return b.nc.Drain()
	}
	return nil
}

func (b *NatsBroker) setStatus(up bool) {
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
	for _, fn := range watches {
		fn(st)
	}
}
