package broker

import (
	"context"

	"GotMail/tools/errs"
)

// Topic naming scheme shared by every process: one channel per user.
// The topic exists only while at least one process is subscribed.
const userTopicPrefix = "user:"

func UserTopic(userID string) string { return userTopicPrefix + userID }

// Status 广播层连接健康状态
type Status int

const (
	StatusUp Status = iota
	StatusDown
)

func (s Status) String() string {
	if s == StatusDown {
		return "down"
	}
	return "up"
}

// StatusFunc receives health transitions. Called from the adapter's
// watcher goroutine; must not block.
type StatusFunc func(Status)

// Subscription is one live stream of a topic's messages. Cancel is
// idempotent and closes C.
type Subscription struct {
	Topic  string
	C      <-chan []byte
	cancel func()
}

func (s *Subscription) Cancel() {
	if s != nil && s.cancel != nil {
		s.cancel()
	}
}

// Broker wraps the shared process-external pub/sub mechanism.
// Delivery is best-effort, at-most-once per hop, FIFO within a topic.
// Refcounting of per-user subscriptions lives in the connection
// registry, not here: the gateway subscribes a topic exactly once.
type Broker interface {
	// Publish sends one message to every current subscriber of topic.
	// Returns an error wrapping errs.ErrBrokerUnavailable when the
	// broker connection is down.
	Publish(ctx context.Context, topic string, data []byte) error

	// Subscribe opens a dedicated stream for topic. The returned
	// subscription's channel is closed by Cancel and by Close.
	Subscribe(topic string) (*Subscription, error)

	// Notify registers a health-transition listener.
	Notify(fn StatusFunc)

	Close() error
}

func unavailable(err error) error {
	if err == nil {
		return nil
	}
	return errs.ErrBrokerUnavailable.WrapMsg(err.Error())
}
