package gateway

import (
	"sync"
	"time"

	"GotMail/logger"
	"GotMail/module/mailbox/event"
	"GotMail/service/broker"
	"GotMail/tools/safe"
)

// ===== 配置 =====

type Conf struct {
	ID      string // 网关节点ID
	Manager ManagerConf

	PingInterval  time.Duration // 服务端 ws ping 周期
	PongWait      time.Duration // 授权后读超时（收到 pong/任意帧即续期）
	WriteWait     time.Duration // 单帧写超时
	FailThreshold int           // 连续订阅失败多少次进入降级
	RetryBase     time.Duration
	RetryMax      time.Duration
}

func (c *Conf) norm() {
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 75 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 5 * time.Second
	}
	if c.FailThreshold <= 0 {
		c.FailThreshold = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 30 * time.Second
	}
}

// Gateway ties the registry, the broker and the replay buffer together
// behind the WebSocket endpoint.
type Gateway struct {
	conf   Conf
	mgr    *ConnManager
	brk    broker.Broker
	replay event.ReplayBuffer
	auth   AuthProvider
	disp   *Dispatcher

	fwdMu      sync.Mutex
	forwarders map[string]*forwarder
	degraded   bool // broker 整体不可用

	closeOnce sync.Once
}

func NewGateway(conf Conf, auth AuthProvider, brk broker.Broker, replay event.ReplayBuffer) *Gateway {
	safe.MustNotNil(auth, "gateway auth")
	safe.MustNotNil(brk, "gateway broker")
	safe.MustNotNil(replay, "gateway replay buffer")
	conf.norm()
	g := &Gateway{
		conf:       conf,
		brk:        brk,
		replay:     replay,
		auth:       auth,
		disp:       NewDispatcher(),
		forwarders: make(map[string]*forwarder),
	}
	// The registry computes first/last under its lock and calls straight
	// back in; start/stop only mutate the forwarder map and spawn, so
	// nothing slow runs inside the critical section.
	conf.Manager.OnFirst = g.startForwarder
	conf.Manager.OnLast = g.stopForwarder
	g.mgr = NewConnManager(conf.Manager, conf.ID)

	brk.Notify(g.onBrokerStatus)
	return g
}

func (g *Gateway) Disp() *Dispatcher          { return g.disp }
func (g *Gateway) ConnMgr() *ConnManager      { return g.mgr }
func (g *Gateway) Broker() broker.Broker      { return g.brk }
func (g *Gateway) Replay() event.ReplayBuffer { return g.replay }
func (g *Gateway) Auth() AuthProvider         { return g.auth }

func (g *Gateway) Close() {
	g.closeOnce.Do(func() {
		// Registry close fires OnLast per user, which stops forwarders
		// and cancels topic subscriptions before we return.
		g.mgr.Close()
		g.fwdMu.Lock()
		for user, f := range g.forwarders {
			f.stop()
			delete(g.forwarders, user)
		}
		g.fwdMu.Unlock()
	})
}

// ===== 订阅生命周期 =====

func (g *Gateway) startForwarder(user string) {
	g.fwdMu.Lock()
	defer g.fwdMu.Unlock()
	if _, ok := g.forwarders[user]; ok {
		return
	}
	f := newForwarder(g, user)
	g.forwarders[user] = f
	go f.run()
}

func (g *Gateway) stopForwarder(user string) {
	g.fwdMu.Lock()
	defer g.fwdMu.Unlock()
	if f, ok := g.forwarders[user]; ok {
		f.stop()
		delete(g.forwarders, user)
	}
}

func (g *Gateway) userForwarder(user string) *forwarder {
	g.fwdMu.Lock()
	defer g.fwdMu.Unlock()
	return g.forwarders[user]
}

// ===== 降级通知 =====

func (g *Gateway) onBrokerStatus(st broker.Status) {
	switch st {
	case broker.StatusDown:
		g.fwdMu.Lock()
		g.degraded = true
		g.fwdMu.Unlock()
		logger.Warnf("[Gateway] broker down, notifying local connections")
		for _, c := range g.mgr.AllConnections() {
			g.noticeDegraded(c)
		}
	case broker.StatusUp:
		g.fwdMu.Lock()
		g.degraded = false
		g.fwdMu.Unlock()
		logger.Infof("[Gateway] broker restored")
		for _, c := range g.mgr.AllConnections() {
			g.noticeRestored(c)
		}
	}
}

func (g *Gateway) brokerDegraded() bool {
	g.fwdMu.Lock()
	defer g.fwdMu.Unlock()
	return g.degraded
}

// noticeDegraded delivers the unavailable notice at most once per
// outage per connection, whichever layer noticed first.
func (g *Gateway) noticeDegraded(c *Conn) {
	if c.MarkNoticed() {
		c.Push(BuildNotice(NoticeUnavailable))
	}
}

func (g *Gateway) noticeRestored(c *Conn) {
	if c.ClearNoticed() {
		c.Push(BuildNotice(NoticeRestored))
	}
}

// NoticeIfDegraded catches connections that authenticate in the middle
// of an outage; they are affected too and get the same single notice.
func (g *Gateway) NoticeIfDegraded(c *Conn) {
	if g.brokerDegraded() {
		g.noticeDegraded(c)
		return
	}
	if f := g.userForwarder(c.UserID); f != nil && f.isDegraded() {
		g.noticeDegraded(c)
	}
}
