package gateway

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestBindFirstLastFlags(t *testing.T) {
	var firsts, lasts int32
	m := NewConnManager(ManagerConf{
		OnFirst: func(string) { atomic.AddInt32(&firsts, 1) },
		OnLast:  func(string) { atomic.AddInt32(&lasts, 1) },
	}, "gw-test")
	defer m.Close()

	c1 := m.Track(nil)
	c2 := m.Track(nil)

	first, err := m.Bind(c1.ID, "u1", "s1")
	if err != nil || !first {
		t.Fatalf("bind c1: first=%v err=%v, want first", first, err)
	}
	first, err = m.Bind(c2.ID, "u1", "s2")
	if err != nil || first {
		t.Fatalf("bind c2: first=%v err=%v, want not-first", first, err)
	}
	if n := m.CountUser("u1"); n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}

	user, last := m.Drop(c1.ID)
	if user != "u1" || last {
		t.Fatalf("drop c1: user=%s last=%v, want u1/not-last", user, last)
	}
	user, last = m.Drop(c2.ID)
	if user != "u1" || !last {
		t.Fatalf("drop c2: user=%s last=%v, want u1/last", user, last)
	}

	if f, l := atomic.LoadInt32(&firsts), atomic.LoadInt32(&lasts); f != 1 || l != 1 {
		t.Fatalf("firsts=%d lasts=%d, want 1/1", f, l)
	}
}

func TestBindUserImmutable(t *testing.T) {
	m := NewConnManager(ManagerConf{}, "gw-test")
	defer m.Close()

	c := m.Track(nil)
	if _, err := m.Bind(c.ID, "u1", "s1"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if _, err := m.Bind(c.ID, "u2", "s2"); err == nil {
		t.Fatalf("rebinding to another user must fail")
	}
	// Same user again is an idempotent no-op.
	first, err := m.Bind(c.ID, "u1", "s1")
	if err != nil || first {
		t.Fatalf("rebind same user: first=%v err=%v", first, err)
	}
	if n := m.CountUser("u1"); n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
}

func TestDropUnknownIsNoop(t *testing.T) {
	m := NewConnManager(ManagerConf{}, "gw-test")
	defer m.Close()

	user, last := m.Drop("no-such-conn")
	if user != "" || last {
		t.Fatalf("drop unknown: user=%q last=%v", user, last)
	}
}

func TestSweepEvictsOnlyUnauth(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	m := NewConnManager(ManagerConf{
		AuthTimeout: 10 * time.Second,
		SweepEvery:  time.Hour, // 手动触发
		Clock:       clk.Now,
	}, "gw-test")
	defer m.Close()

	pending := m.Track(nil)
	authed := m.Track(nil)
	if _, err := m.Bind(authed.ID, "u1", "s1"); err != nil {
		t.Fatalf("bind: %v", err)
	}

	clk.Advance(11 * time.Second)
	m.sweepOnce(clk.Now())

	if _, ok := m.Get(pending.ID); ok {
		t.Fatalf("unauth conn should be swept after timeout")
	}
	if _, ok := m.Get(authed.ID); !ok {
		t.Fatalf("authorized conn must survive the sweep")
	}
	select {
	case <-pending.Done():
	default:
		t.Fatalf("swept conn should be stopped")
	}
}

func TestMaxPerUserEvictsOldest(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	m := NewConnManager(ManagerConf{
		MaxPerUser:  2,
		EvictOldest: true,
		Clock:       clk.Now,
	}, "gw-test")
	defer m.Close()

	c1 := m.Track(nil)
	clk.Advance(time.Second)
	c2 := m.Track(nil)
	clk.Advance(time.Second)
	c3 := m.Track(nil)

	m.Bind(c1.ID, "u1", "s1")
	m.Bind(c2.ID, "u1", "s2")
	if _, err := m.Bind(c3.ID, "u1", "s3"); err != nil {
		t.Fatalf("bind third: %v", err)
	}

	if n := m.CountUser("u1"); n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
	if _, ok := m.Get(c1.ID); ok {
		t.Fatalf("oldest conn should be evicted")
	}
}

func TestMaxPerUserRejectsWithoutEviction(t *testing.T) {
	m := NewConnManager(ManagerConf{MaxPerUser: 1}, "gw-test")
	defer m.Close()

	c1 := m.Track(nil)
	c2 := m.Track(nil)
	m.Bind(c1.ID, "u1", "s1")
	if _, err := m.Bind(c2.ID, "u1", "s2"); err == nil {
		t.Fatalf("bind over cap must fail when eviction is off")
	}
	if n := m.CountUser("u1"); n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
}

// Transition flags may never double-fire: under arbitrary churn the
// callbacks alternate first,last,first,last per user.
func TestTransitionFlagsNeverDoubleFire(t *testing.T) {
	var active, violations int32
	m := NewConnManager(ManagerConf{
		OnFirst: func(string) {
			if !atomic.CompareAndSwapInt32(&active, 0, 1) {
				atomic.AddInt32(&violations, 1)
			}
		},
		OnLast: func(string) {
			if !atomic.CompareAndSwapInt32(&active, 1, 0) {
				atomic.AddInt32(&violations, 1)
			}
		},
	}, "gw-test")
	defer m.Close()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				c := m.Track(nil)
				if _, err := m.Bind(c.ID, "churn-user", "s"); err != nil {
					continue
				}
				m.Drop(c.ID)
			}
		}()
	}
	wg.Wait()

	if v := atomic.LoadInt32(&violations); v != 0 {
		t.Fatalf("first/last double-fired %d times", v)
	}
	if n := m.CountUser("churn-user"); n != 0 {
		t.Fatalf("count after churn = %d, want 0", n)
	}
	if a := atomic.LoadInt32(&active); a != 0 {
		t.Fatalf("active gauge = %d after churn, want 0", a)
	}
}
