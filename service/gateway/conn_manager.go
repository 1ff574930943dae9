package gateway

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"GotMail/logger"
	"GotMail/tools/errs"
	"GotMail/tools/ids"

	"github.com/gorilla/websocket"
)

// ===== 配置 =====

type ManagerConf struct {
	AuthTimeout time.Duration    // 未授权连接的 TTL（默认 10s）
	SweepEvery  time.Duration    // 清理周期（默认 2s）
	SendQueue   int              // 每连接发送队列长度
	MaxPerUser  int              // 每用户最大连接数（<=0 不限制）
	EvictOldest bool             // 超限时是否淘汰最老连接（否则 Bind 直接报错）
	Clock       func() time.Time // 可注入时钟（单测用）；nil => time.Now

	// OnFirst/OnLast fire inside the registry critical section, in the
	// exact order the transitions happened. Keep them cheap and never
	// call back into the manager from them.
	OnFirst func(user string)
	OnLast  func(user string)
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = 10 * time.Second
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 2 * time.Second
	}
	if c.SendQueue <= 0 {
		c.SendQueue = 64
	}
}

// ===== 数据结构 =====

// Conn is one WebSocket session. UserID is written once at Bind and
// never changes afterwards; a rebind to another user is an error.
type Conn struct {
	ID         string
	UserID     string
	SessionID  string
	Authorized bool

	WS     *websocket.Conn
	Remote net.Addr

	SendChan chan []byte // 每连接独立发送队列（写协程消费）

	CreatedAt time.Time
	ExpireAt  time.Time // 未授权到期时间（过期由 sweeper 清理）
	Heartbeat time.Time

	noticed atomic.Bool // degraded notice already delivered this outage
	done    chan struct{}
	once    sync.Once
}

// Push enqueues without blocking. A full queue means a slow client;
// the frame is skipped and the caller may count it.
func (c *Conn) Push(data []byte) bool {
	select {
	case c.SendChan <- data:
		return true
	default:
		return false
	}
}

// Done closes when the connection is deregistered.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) stop() { c.once.Do(func() { close(c.done) }) }

// MarkNoticed flips the degraded-notice flag; reports whether this call
// did the flip. One notice per outage per connection hangs off this.
func (c *Conn) MarkNoticed() bool  { return c.noticed.CompareAndSwap(false, true) }
func (c *Conn) ClearNoticed() bool { return c.noticed.CompareAndSwap(true, false) }

type ConnManager struct {
	mu     sync.RWMutex
	byConn map[string]*Conn            // 主索引：connID -> conn
	byUser map[string]map[string]*Conn // 辅助索引：userID -> (connID -> conn)

	conf     ManagerConf
	stopOnce sync.Once
	stopCh   chan struct{}
	gwID     string // 节点ID
}

// ===== 构造/关闭 =====

func NewConnManager(conf ManagerConf, gwID string) *ConnManager {
	conf.norm()
	m := &ConnManager{
		byConn: make(map[string]*Conn),
		byUser: make(map[string]map[string]*Conn),
		conf:   conf,
		gwID:   gwID,
		stopCh: make(chan struct{}),
	}
	go m.sweeper()
	return m
}

func (m *ConnManager) AuthTimeout() time.Duration { return m.conf.AuthTimeout }

// Close deregisters everything. OnLast fires for every user that still
// had live connections, so topic interest is torn down before return.
func (m *ConnManager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })

	var victims []*Conn
	m.mu.Lock()
	for user, mm := range m.byUser {
		for id, c := range mm {
			delete(mm, id)
			delete(m.byConn, id)
			victims = append(victims, c)
		}
		delete(m.byUser, user)
		if m.conf.OnLast != nil {
			m.conf.OnLast(user)
		}
	}
	for id, c := range m.byConn { // 未授权连接
		delete(m.byConn, id)
		victims = append(victims, c)
	}
	m.mu.Unlock()

	for _, c := range victims {
		c.stop()
		closeQuiet(c.WS)
	}
}

// ===== 登记 / 绑定 / 注销 =====

// Track registers a fresh, unauthenticated socket. It is not visible to
// LiveConnections until Bind succeeds.
func (m *ConnManager) Track(ws *websocket.Conn) *Conn {
	now := m.conf.Clock()
	c := &Conn{
		ID:        ids.GenerateString(),
		WS:        ws,
		SendChan:  make(chan []byte, m.conf.SendQueue),
		CreatedAt: now,
		ExpireAt:  now.Add(m.conf.AuthTimeout),
		Heartbeat: now,
		done:      make(chan struct{}),
	}
	if ws != nil {
		if ra := ws.RemoteAddr(); ra != nil {
			c.Remote = ra
		}
	}
	m.mu.Lock()
	m.byConn[c.ID] = c
	m.mu.Unlock()
	return c
}

// Bind attaches a tracked connection to a user. first reports whether
// this is the user's first live connection in this process; the
// subscribe decision keys off it and is made here, under the lock, so
// it can never double-fire.
func (m *ConnManager) Bind(connID, userID, sessionID string) (first bool, err error) {
	if connID == "" || userID == "" {
		return false, errors.New("connID/userID empty")
	}
	now := m.conf.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.byConn[connID]
	if !ok {
		return false, errors.New("connID not found")
	}
	if c.Authorized {
		if c.UserID != userID {
			return false, errors.New("conn already bound to another user")
		}
		return false, nil // 重复 auth：幂等
	}

	if m.conf.MaxPerUser > 0 {
		if err := m.ensureRoomLocked(userID); err != nil {
			return false, err
		}
	}

	first = len(m.byUser[userID]) == 0
	if m.byUser[userID] == nil {
		m.byUser[userID] = make(map[string]*Conn)
	}
	m.byUser[userID][connID] = c

	c.UserID = userID
	c.SessionID = sessionID
	c.Authorized = true
	c.ExpireAt = time.Time{} // 授权后不再按 TTL 清理
	c.Heartbeat = now

	if first && m.conf.OnFirst != nil {
		m.conf.OnFirst(userID)
	}
	return first, nil
}

// Drop deregisters a connection. last reports whether the user now has
// zero live connections here; unsubscribe keys off it. Unknown ids are
// a no-op (the sweeper may have won the race).
func (m *ConnManager) Drop(connID string) (userID string, last bool) {
	if connID == "" {
		return "", false
	}
	m.mu.Lock()
	c, ok := m.byConn[connID]
	if !ok {
		m.mu.Unlock()
		return "", false
	}
	delete(m.byConn, connID)
	if c.Authorized && c.UserID != "" {
		userID = c.UserID
		if mm := m.byUser[userID]; mm != nil {
			delete(mm, connID)
			if len(mm) == 0 {
				delete(m.byUser, userID)
				last = true
				if m.conf.OnLast != nil {
					m.conf.OnLast(userID)
				}
			}
		}
	}
	m.mu.Unlock()

	c.stop()
	closeQuiet(c.WS)
	return userID, last
}

// ===== 查询 =====

func (m *ConnManager) Get(connID string) (*Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byConn[connID]
	return c, ok
}

// LiveConnections snapshots the user's authorized connections.
func (m *ConnManager) LiveConnections(user string) []*Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mm := m.byUser[user]
	if len(mm) == 0 {
		return nil
	}
	out := make([]*Conn, 0, len(mm))
	for _, c := range mm {
		out = append(out, c)
	}
	return out
}

func (m *ConnManager) CountUser(user string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byUser[user])
}

// AllConnections snapshots every authorized connection (broker-level
// notices; use sparingly).
func (m *ConnManager) AllConnections() []*Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Conn, 0, len(m.byConn))
	for _, c := range m.byConn {
		if c.Authorized {
			out = append(out, c)
		}
	}
	return out
}

// Touch : 刷新某条连接的心跳时间
func (m *ConnManager) Touch(connID string) {
	now := m.conf.Clock()
	m.mu.Lock()
	if c, ok := m.byConn[connID]; ok {
		c.Heartbeat = now
	}
	m.mu.Unlock()
}

// ===== 清理协程 =====
// The read-deadline on the socket is the primary auth-timeout path; the
// sweeper is the backstop for sockets that never produce a read error.

func (m *ConnManager) sweeper() {
	t := time.NewTicker(m.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-t.C:
			m.sweepOnce(m.conf.Clock())
		}
	}
}

func (m *ConnManager) sweepOnce(now time.Time) {
	var expired []*Conn

	m.mu.Lock()
	for id, c := range m.byConn {
		if !c.Authorized && now.After(c.ExpireAt) {
			// 收集后统一关闭，避免持锁期间关闭 socket
			expired = append(expired, c)
			delete(m.byConn, id)
		}
	}
	m.mu.Unlock()

	for _, c := range expired {
		closeWithCode(c.WS, CloseAuthTimeout, errs.ErrAuthTimeout.EMsg())
		c.stop()
	}
	if len(expired) > 0 {
		logger.Infof("[ConnManager] swept unauthorized conns gw=%s n=%d", m.gwID, len(expired))
	}
}

// ===== 最大连接数/挤下线 =====

// 需要在持锁状态下调用（*_Locked）
func (m *ConnManager) ensureRoomLocked(user string) error {
	mm := m.byUser[user]
	if len(mm) < m.conf.MaxPerUser {
		return nil
	}
	if !m.conf.EvictOldest {
		return errors.New("too many connections for user")
	}

	// 选择最老的一条淘汰（CreatedAt 更早）
	var oldest *Conn
	for _, c := range mm {
		if oldest == nil || c.CreatedAt.Before(oldest.CreatedAt) {
			oldest = c
		}
	}
	if oldest != nil {
		delete(mm, oldest.ID)
		delete(m.byConn, oldest.ID)
		oldest.stop()
		go closeQuiet(oldest.WS) // 解锁后关闭
		logger.Infof("[ConnManager] evict oldest user=%s conn=%s gw=%s", user, oldest.ID, m.gwID)
	}
	return nil
}

// ===== 工具函数 =====

func closeQuiet(ws *websocket.Conn) {
	if ws != nil {
		_ = ws.Close()
	}
}

// closeWithCode sends a close frame with an application code, then
// closes. WriteControl is safe to call concurrently with the writer.
func closeWithCode(ws *websocket.Conn, code int, reason string) {
	if ws == nil {
		return
	}
	msg := websocket.FormatCloseMessage(code, reason)
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = ws.Close()
}
