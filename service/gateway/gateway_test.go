package gateway_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"GotMail/module/mailbox/event"
	"GotMail/service/broker"
	"GotMail/service/gateway"
	"GotMail/service/gateway/handlers"
	"GotMail/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type stubAuth map[string][2]string // token -> (userID, sessionID)

func (s stubAuth) Authenticate(_ context.Context, token string) (string, string, error) {
	if v, ok := s[token]; ok {
		return v[0], v[1], nil
	}
	return "", "", errs.ErrTokenInvalid.Wrap()
}

type rig struct {
	g   *gateway.Gateway
	brk *broker.MemoryBroker
	buf *event.MemoryReplay
	pub *event.Publisher
	url string
}

func newRig(t *testing.T, conf gateway.Conf, opts event.Options) *rig {
	t.Helper()
	gin.SetMode(gin.TestMode)

	seq := event.NewMemorySequencer()
	buf := event.NewMemoryReplay(seq, opts)
	brk := broker.NewMemoryBroker()
	pub := event.NewPublisher(seq, buf, brk)

	auth := stubAuth{
		"tok-u1":  {"u1", "s1"},
		"tok-u1b": {"u1", "s1b"},
		"tok-u2":  {"u2", "s2"},
	}

	// Short retries so degraded/recovery paths settle inside the test.
	if conf.RetryBase == 0 {
		conf.RetryBase = 50 * time.Millisecond
	}
	if conf.RetryMax == 0 {
		conf.RetryMax = 200 * time.Millisecond
	}
	if conf.FailThreshold == 0 {
		conf.FailThreshold = 2
	}

	g := gateway.NewGateway(conf, auth, brk, buf)
	handlers.RegisterAll(g.Disp())

	r := gin.New()
	r.GET("/ws", g.HandleWS)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		g.Close()
		srv.Close()
		brk.Close()
	})

	return &rig{
		g:   g,
		brk: brk,
		buf: buf,
		pub: pub,
		url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

func (r *rig) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(r.url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

type sframe struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Sequence  int64           `json:"sequence"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Reason    string          `json:"reason"`
}

func send(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	data, _ := json.Marshal(v)
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readFrame(t *testing.T, ws *websocket.Conn, within time.Duration) *sframe {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(within))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	f := &sframe{}
	if err := json.Unmarshal(data, f); err != nil {
		t.Fatalf("unmarshal frame %q: %v", data, err)
	}
	return f
}

func expectSilence(t *testing.T, ws *websocket.Conn, within time.Duration) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(within))
	if _, data, err := ws.ReadMessage(); err == nil {
		t.Fatalf("expected no frame, got %q", data)
	}
}

func expectClose(t *testing.T, ws *websocket.Conn, code int) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue // 忽略关闭前残留的帧
		}
		ce, ok := err.(*websocket.CloseError)
		if !ok {
			t.Fatalf("want close error %d, got %v", code, err)
		}
		if ce.Code != code {
			t.Fatalf("close code = %d, want %d", ce.Code, code)
		}
		return
	}
}

func authOK(t *testing.T, ws *websocket.Conn, token string) string {
	t.Helper()
	send(t, ws, map[string]any{"type": "auth", "token": token})
	f := readFrame(t, ws, 3*time.Second)
	if f.Type != "ok" || f.SessionID == "" {
		t.Fatalf("auth reply = %+v, want ok with session_id", f)
	}
	return f.SessionID
}

func waitSubscribers(t *testing.T, brk *broker.MemoryBroker, topic string, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if brk.SubscriberCount(topic) == n {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("subscriber count for %s never reached %d (now %d)", topic, n, brk.SubscriberCount(topic))
}

// ===== 场景 =====

func TestAuthAndLiveDelivery(t *testing.T) {
	r := newRig(t, gateway.Conf{ID: "gw-1"}, event.Options{})
	ws := r.dial(t)

	if sid := authOK(t, ws, "tok-u1"); sid != "s1" {
		t.Fatalf("session_id = %s, want s1", sid)
	}
	waitSubscribers(t, r.brk, broker.UserTopic("u1"), 1)

	if _, err := r.pub.PublishJSON(context.Background(), "u1", event.KindNewMessage, map[string]any{"mail_id": "m1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	f := readFrame(t, ws, 3*time.Second)
	if f.Type != "event" || f.Sequence != 1 || f.Kind != "NewMessage" {
		t.Fatalf("frame = %+v, want event seq=1 kind=NewMessage", f)
	}
}

func TestBadTokenCloses4401(t *testing.T) {
	r := newRig(t, gateway.Conf{ID: "gw-1"}, event.Options{})
	ws := r.dial(t)

	send(t, ws, map[string]any{"type": "auth", "token": "nope"})
	expectClose(t, ws, 4401)
}

func TestFrameBeforeAuthCloses4401(t *testing.T) {
	r := newRig(t, gateway.Conf{ID: "gw-1"}, event.Options{})
	ws := r.dial(t)

	send(t, ws, map[string]any{"type": "ping"})
	expectClose(t, ws, 4401)
}

func TestAuthTimeoutCloses4408(t *testing.T) {
	conf := gateway.Conf{ID: "gw-1"}
	conf.Manager.AuthTimeout = 200 * time.Millisecond
	r := newRig(t, conf, event.Options{})
	ws := r.dial(t)

	// Say nothing and wait for the server to lose patience.
	expectClose(t, ws, 4408)
}

// The reconnect walkthrough: events published while offline are served
// by resync, later ones arrive unsolicited.
func TestResyncThenLivePush(t *testing.T) {
	r := newRig(t, gateway.Conf{ID: "gw-1"}, event.Options{})

	// Offline publish: no forwarding work, but it lands in the buffer.
	if _, err := r.pub.PublishJSON(context.Background(), "u1", event.KindNewMessage, map[string]any{"mail_id": "m1"}); err != nil {
		t.Fatalf("publish offline: %v", err)
	}

	ws := r.dial(t)
	authOK(t, ws, "tok-u1")
	waitSubscribers(t, r.brk, broker.UserTopic("u1"), 1)

	send(t, ws, map[string]any{"type": "resync", "last_sequence": 0})
	f := readFrame(t, ws, 3*time.Second)
	if f.Type != "event" || f.Sequence != 1 || f.Kind != "NewMessage" {
		t.Fatalf("replayed frame = %+v, want event seq=1", f)
	}

	if _, err := r.pub.PublishJSON(context.Background(), "u1", event.KindMessageRead, map[string]any{"mail_id": "m1"}); err != nil {
		t.Fatalf("publish live: %v", err)
	}
	f = readFrame(t, ws, 3*time.Second)
	if f.Type != "event" || f.Sequence != 2 || f.Kind != "MessageRead" {
		t.Fatalf("live frame = %+v, want event seq=2", f)
	}
}

func TestResyncGapRequiresFullResync(t *testing.T) {
	r := newRig(t, gateway.Conf{ID: "gw-1"}, event.Options{MaxEntries: 2})

	for i := 0; i < 4; i++ {
		if _, err := r.pub.PublishJSON(context.Background(), "u1", event.KindNewMessage, map[string]any{"n": i}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	ws := r.dial(t)
	authOK(t, ws, "tok-u1")

	// Sequences 1..2 were evicted; cursor 0 cannot be served.
	send(t, ws, map[string]any{"type": "resync", "last_sequence": 0})
	if f := readFrame(t, ws, 3*time.Second); f.Type != "resync_required" {
		t.Fatalf("frame = %+v, want resync_required", f)
	}

	// Cursor ahead of anything ever assigned: same answer.
	send(t, ws, map[string]any{"type": "resync", "last_sequence": 99})
	if f := readFrame(t, ws, 3*time.Second); f.Type != "resync_required" {
		t.Fatalf("frame = %+v, want resync_required", f)
	}

	// A cursor inside the window still replays.
	send(t, ws, map[string]any{"type": "resync", "last_sequence": 2})
	if f := readFrame(t, ws, 3*time.Second); f.Type != "event" || f.Sequence != 3 {
		t.Fatalf("frame = %+v, want event seq=3", f)
	}
	if f := readFrame(t, ws, 3*time.Second); f.Type != "event" || f.Sequence != 4 {
		t.Fatalf("frame = %+v, want event seq=4", f)
	}
}

func TestTwoConnectionsBothReceiveInOrder(t *testing.T) {
	r := newRig(t, gateway.Conf{ID: "gw-1"}, event.Options{})

	wsA := r.dial(t)
	wsB := r.dial(t)
	authOK(t, wsA, "tok-u1")
	authOK(t, wsB, "tok-u1b")

	// One forwarder per user, not per connection.
	waitSubscribers(t, r.brk, broker.UserTopic("u1"), 1)

	for i := 0; i < 3; i++ {
		if _, err := r.pub.PublishJSON(context.Background(), "u1", event.KindNewMessage, map[string]any{"n": i}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	for _, ws := range []*websocket.Conn{wsA, wsB} {
		for want := int64(1); want <= 3; want++ {
			f := readFrame(t, ws, 3*time.Second)
			if f.Type != "event" || f.Sequence != want {
				t.Fatalf("frame = %+v, want event seq=%d", f, want)
			}
		}
	}
}

func TestLastCloseUnsubscribes(t *testing.T) {
	r := newRig(t, gateway.Conf{ID: "gw-1"}, event.Options{})

	wsA := r.dial(t)
	wsB := r.dial(t)
	authOK(t, wsA, "tok-u1")
	authOK(t, wsB, "tok-u1b")
	waitSubscribers(t, r.brk, broker.UserTopic("u1"), 1)

	_ = wsA.Close()
	time.Sleep(200 * time.Millisecond)
	if n := r.brk.SubscriberCount(broker.UserTopic("u1")); n != 1 {
		t.Fatalf("subscription should survive while one conn remains, count=%d", n)
	}

	_ = wsB.Close()
	waitSubscribers(t, r.brk, broker.UserTopic("u1"), 0)

	// Publishing with nobody online records into the buffer only.
	e, err := r.pub.PublishJSON(context.Background(), "u1", event.KindNewMessage, map[string]any{"n": 9})
	if err != nil {
		t.Fatalf("publish offline: %v", err)
	}
	got, err := r.buf.EventsSince(context.Background(), "u1", e.Sequence-1)
	if err != nil || len(got) != 1 {
		t.Fatalf("buffer after offline publish: %+v err=%v", got, err)
	}
}

func TestDegradedNoticeOncePerOutage(t *testing.T) {
	r := newRig(t, gateway.Conf{ID: "gw-1"}, event.Options{})
	ws := r.dial(t)
	authOK(t, ws, "tok-u1")
	waitSubscribers(t, r.brk, broker.UserTopic("u1"), 1)

	r.brk.SetAvailable(false)
	if f := readFrame(t, ws, 3*time.Second); f.Type != "notice" || f.Reason != "live-updates-unavailable" {
		t.Fatalf("frame = %+v, want unavailable notice", f)
	}
	expectSilence(t, ws, 300*time.Millisecond)

	r.brk.SetAvailable(true)
	if f := readFrame(t, ws, 3*time.Second); f.Type != "notice" || f.Reason != "live-updates-restored" {
		t.Fatalf("frame = %+v, want restored notice", f)
	}
	expectSilence(t, ws, 300*time.Millisecond)

	// Second outage is a fresh cycle: the notice fires again.
	r.brk.SetAvailable(false)
	if f := readFrame(t, ws, 3*time.Second); f.Type != "notice" || f.Reason != "live-updates-unavailable" {
		t.Fatalf("frame = %+v, want unavailable notice on second outage", f)
	}
}

func TestAuthDuringOutageRecovers(t *testing.T) {
	r := newRig(t, gateway.Conf{ID: "gw-1"}, event.Options{})
	r.brk.SetAvailable(false)

	ws := r.dial(t)
	authOK(t, ws, "tok-u1")

	// Affected from the moment it authenticated; exactly one notice even
	// though the forwarder keeps failing behind the scenes.
	if f := readFrame(t, ws, 3*time.Second); f.Type != "notice" || f.Reason != "live-updates-unavailable" {
		t.Fatalf("frame = %+v, want unavailable notice", f)
	}
	expectSilence(t, ws, 500*time.Millisecond)

	r.brk.SetAvailable(true)
	if f := readFrame(t, ws, 3*time.Second); f.Type != "notice" || f.Reason != "live-updates-restored" {
		t.Fatalf("frame = %+v, want restored notice", f)
	}
	waitSubscribers(t, r.brk, broker.UserTopic("u1"), 1)

	if _, err := r.pub.PublishJSON(context.Background(), "u1", event.KindNewMessage, map[string]any{"n": 1}); err != nil {
		t.Fatalf("publish after recovery: %v", err)
	}
	if f := readFrame(t, ws, 3*time.Second); f.Type != "event" || f.Sequence != 1 {
		t.Fatalf("frame = %+v, want event seq=1", f)
	}
}

func TestUnknownKindForwarded(t *testing.T) {
	r := newRig(t, gateway.Conf{ID: "gw-1"}, event.Options{})
	ws := r.dial(t)
	authOK(t, ws, "tok-u1")
	waitSubscribers(t, r.brk, broker.UserTopic("u1"), 1)

	raw := []byte(`{"user_id":"u1","sequence":7,"kind":"MailboxExported","payload":{"x":1},"published_at":"2026-01-02T03:04:05Z"}`)
	if err := r.brk.Publish(context.Background(), broker.UserTopic("u1"), raw); err != nil {
		t.Fatalf("publish raw: %v", err)
	}

	f := readFrame(t, ws, 3*time.Second)
	if f.Type != "event" || f.Kind != "MailboxExported" || f.Sequence != 7 {
		t.Fatalf("frame = %+v, want forwarded unknown kind", f)
	}
}

func TestPingPong(t *testing.T) {
	r := newRig(t, gateway.Conf{ID: "gw-1"}, event.Options{})
	ws := r.dial(t)
	authOK(t, ws, "tok-u1")

	send(t, ws, map[string]any{"type": "ping"})
	if f := readFrame(t, ws, 3*time.Second); f.Type != "pong" {
		t.Fatalf("frame = %+v, want pong", f)
	}
}

func TestUsersIsolated(t *testing.T) {
	r := newRig(t, gateway.Conf{ID: "gw-1"}, event.Options{})

	ws1 := r.dial(t)
	ws2 := r.dial(t)
	authOK(t, ws1, "tok-u1")
	authOK(t, ws2, "tok-u2")
	waitSubscribers(t, r.brk, broker.UserTopic("u1"), 1)
	waitSubscribers(t, r.brk, broker.UserTopic("u2"), 1)

	if _, err := r.pub.PublishJSON(context.Background(), "u2", event.KindNewMessage, map[string]any{"n": 1}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if f := readFrame(t, ws2, 3*time.Second); f.Type != "event" || f.Sequence != 1 {
		t.Fatalf("u2 frame = %+v", f)
	}
	expectSilence(t, ws1, 300*time.Millisecond)
}
