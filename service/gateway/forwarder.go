package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"GotMail/logger"
	"GotMail/module/mailbox/event"
	"GotMail/service/broker"
	"GotMail/service/storage"
)

const (
	presenceTTL     = 90 * time.Second
	presenceRefresh = 30 * time.Second
)

// forwarder owns one user's broker subscription: one goroutine reading
// the topic stream and fanning out to every local connection of that
// user. It lives exactly while the user has >=1 live connection here.
type forwarder struct {
	user  string
	topic string
	g     *Gateway

	handle broker.Handler

	stopCh   chan struct{}
	stopOnce sync.Once
	degraded atomic.Bool
}

func newForwarder(g *Gateway, user string) *forwarder {
	f := &forwarder{
		user:   user,
		topic:  broker.UserTopic(user),
		g:      g,
		stopCh: make(chan struct{}),
	}
	// 投递路径里 panic 只打断当前这条消息, 不能带走整个 drain 协程
	f.handle = broker.Chain(f.deliver, broker.RecoverMiddleware())
	return f
}

func (f *forwarder) stop() { f.stopOnce.Do(func() { close(f.stopCh) }) }

func (f *forwarder) run() {
	f.presenceUp()
	defer f.presenceDown()

	failures := 0
	for {
		select {
		case <-f.stopCh:
			return
		default:
		}

		sub, err := f.g.brk.Subscribe(f.topic)
		if err != nil {
			failures++
			logger.Warnf("[Forwarder] subscribe failed user=%s n=%d err=%v", f.user, failures, err)
			if failures >= f.g.conf.FailThreshold {
				f.markDegraded()
			}
			if !f.sleep(f.backoff(failures)) {
				return
			}
			f.presenceUp()
			continue
		}
		failures = 0
		f.markRestored()

		if stopped := f.drain(sub); stopped {
			sub.Cancel()
			return
		}
		// Stream broke underneath us; resubscribe after a short pause.
		sub.Cancel()
		failures++
		if !f.sleep(f.backoff(failures)) {
			return
		}
	}
}

// drain pumps the stream until stop or stream end. Returns true when
// the forwarder was stopped, false when the stream broke.
func (f *forwarder) drain(sub *broker.Subscription) bool {
	refresh := time.NewTicker(presenceRefresh)
	defer refresh.Stop()
	for {
		select {
		case <-f.stopCh:
			return true
		case <-refresh.C:
			f.presenceUp()
		case data, ok := <-sub.C:
			if !ok {
				return false
			}
			if err := f.handle(context.Background(), broker.Message{Topic: f.topic, Data: data}); err != nil {
				logger.Errorf("[Forwarder] deliver failed user=%s err=%v", f.user, err)
			}
		}
	}
}

func (f *forwarder) deliver(_ context.Context, msg broker.Message) error {
	e, err := event.Decode(msg.Data)
	if err != nil {
		logger.Warnf("[Forwarder] drop malformed event user=%s err=%v", f.user, err)
		return nil
	}
	// Kind is forwarded as-is; kinds this binary does not know about are
	// still delivered.
	frame := BuildEvent(e)
	for _, c := range f.g.mgr.LiveConnections(f.user) {
		if !c.Push(frame) {
			logger.Warnf("[Forwarder] slow client, skip frame user=%s conn=%s seq=%d", f.user, c.ID, e.Sequence)
		}
	}
	if e.Kind == event.KindSessionRevoked {
		f.closeRevoked(e.Payload)
	}
	return nil
}

// closeRevoked force-closes connections bound to a revoked session.
// Empty session_id in the payload means every session of the user.
func (f *forwarder) closeRevoked(payload []byte) {
	var p struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		logger.Warnf("[Forwarder] bad revoke payload user=%s err=%v", f.user, err)
		return
	}
	for _, c := range f.g.mgr.LiveConnections(f.user) {
		if p.SessionID != "" && c.SessionID != p.SessionID {
			continue
		}
		logger.Infof("[Forwarder] session revoked, closing conn=%s user=%s session=%s", c.ID, f.user, c.SessionID)
		f.g.mgr.Drop(c.ID)
		closeWithCode(c.WS, CloseAuthFailed, "session revoked")
	}
}

func (f *forwarder) markDegraded() {
	if !f.degraded.CompareAndSwap(false, true) {
		return
	}
	logger.Warnf("[Forwarder] degraded user=%s", f.user)
	for _, c := range f.g.mgr.LiveConnections(f.user) {
		f.g.noticeDegraded(c)
	}
}

func (f *forwarder) markRestored() {
	if !f.degraded.CompareAndSwap(true, false) {
		return
	}
	logger.Infof("[Forwarder] restored user=%s", f.user)
	for _, c := range f.g.mgr.LiveConnections(f.user) {
		f.g.noticeRestored(c)
	}
}

func (f *forwarder) isDegraded() bool { return f.degraded.Load() }

func (f *forwarder) backoff(n int) time.Duration {
	d := f.g.conf.RetryBase << uint(n-1)
	if d > f.g.conf.RetryMax || d <= 0 {
		d = f.g.conf.RetryMax
	}
	return d
}

func (f *forwarder) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-f.stopCh:
		return false
	}
}

func (f *forwarder) presenceUp() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := storage.PresenceOnline(ctx, f.user, f.g.conf.ID, presenceTTL); err != nil {
		logger.Warnf("[Forwarder] presence up failed user=%s err=%v", f.user, err)
	}
}

func (f *forwarder) presenceDown() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := storage.PresenceOffline(ctx, f.user); err != nil {
		logger.Warnf("[Forwarder] presence down failed user=%s err=%v", f.user, err)
	}
}
