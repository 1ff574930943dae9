package service

import (
	"context"
	"sync"
	"testing"

	"GotMail/module/mailbox/model"
	"GotMail/tools/errs"
)

// fakeResolver 地址簿: addr -> userID。记录见过的查询用于断言归一化。
type fakeResolver struct {
	mu    sync.Mutex
	addrs map[string]string
	seen  []string
}

func newFakeResolver(addrs map[string]string) *fakeResolver {
	return &fakeResolver{addrs: addrs}
}

func (f *fakeResolver) ResolveAddress(_ context.Context, addr string) (string, error) {
	f.mu.Lock()
	f.seen = append(f.seen, addr)
	f.mu.Unlock()
	if uid, ok := f.addrs[addr]; ok {
		return uid, nil
	}
	return "", errs.ErrRecordNotFound.WrapMsg("no such mailbox", "addr", addr)
}

func (f *fakeResolver) AddressOf(_ context.Context, userID string) (string, error) {
	for a, uid := range f.addrs {
		if uid == userID {
			return a, nil
		}
	}
	return "", errs.ErrRecordNotFound.WrapMsg("no such user")
}

func newTestService(r Resolver) *Service {
	return New(Config{Resolver: r})
}

func TestResolveRecipientsDedupeAndPriority(t *testing.T) {
	r := newFakeResolver(map[string]string{
		"alice@gotmail.com": "u-alice",
		"alias@gotmail.com": "u-alice", // 同一用户的别名地址
		"bob@gotmail.com":   "u-bob",
	})
	s := newTestService(r)

	rcpts, err := s.resolveRecipients(context.Background(), SendParams{
		To:  []string{"  Alice@GotMail.com "},
		Cc:  []string{"alias@gotmail.com", "bob@gotmail.com"},
		Bcc: []string{"alice@gotmail.com"},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(rcpts) != 2 {
		t.Fatalf("want 2 rcpts, got %d: %+v", len(rcpts), rcpts)
	}
	if rcpts[0].userID != "u-alice" || rcpts[0].field != model.FieldTo {
		t.Fatalf("alice should win the to slot: %+v", rcpts[0])
	}
	if rcpts[1].userID != "u-bob" || rcpts[1].field != model.FieldCc {
		t.Fatalf("bob should be cc: %+v", rcpts[1])
	}

	// 大小写和空白在查询前归一
	r.mu.Lock()
	first := r.seen[0]
	r.mu.Unlock()
	if first != "alice@gotmail.com" {
		t.Fatalf("address not normalized before lookup: %q", first)
	}
}

func TestResolveRecipientsUnknownRejected(t *testing.T) {
	s := newTestService(newFakeResolver(map[string]string{"a@x.com": "u1"}))
	_, err := s.resolveRecipients(context.Background(), SendParams{To: []string{"ghost@x.com"}})
	if err == nil || !errs.ErrRecordNotFound.Is(err) {
		t.Fatalf("want record-not-found, got %v", err)
	}
}

func TestResolveRecipientsSkipsEmptyEntries(t *testing.T) {
	s := newTestService(newFakeResolver(map[string]string{"a@x.com": "u1"}))
	rcpts, err := s.resolveRecipients(context.Background(), SendParams{
		To:  []string{"", "   ", "a@x.com"},
		Bcc: []string{""},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(rcpts) != 1 || rcpts[0].field != model.FieldTo {
		t.Fatalf("rcpts=%+v", rcpts)
	}
}

func TestSendRequiresRecipients(t *testing.T) {
	s := newTestService(newFakeResolver(map[string]string{"me@x.com": "u-me"}))
	_, err := s.Send(context.Background(), "u-me", SendParams{Subject: "hi"})
	if err == nil || !errs.ErrArgs.Is(err) {
		t.Fatalf("want args error, got %v", err)
	}
}

func TestClampPage(t *testing.T) {
	cases := []struct {
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{0, 0, 50, 0},
		{-5, -3, 50, 0},
		{10, 20, 10, 20},
		{500, 0, 100, 0},
	}
	for _, c := range cases {
		l, o := clampPage(c.limit, c.offset)
		if l != c.wantLimit || o != c.wantOffset {
			t.Fatalf("clampPage(%d,%d)=(%d,%d) want (%d,%d)", c.limit, c.offset, l, o, c.wantLimit, c.wantOffset)
		}
	}
}

func TestJoinAddrs(t *testing.T) {
	got := joinAddrs([]string{" A@x.com", "", "b@x.com ", "  "})
	if got != "a@x.com, b@x.com" {
		t.Fatalf("joinAddrs=%q", got)
	}
	if joinAddrs(nil) != "" {
		t.Fatalf("empty input should give empty string")
	}
}

func TestCreateLabelValidation(t *testing.T) {
	s := newTestService(nil)

	if _, err := s.CreateLabel(context.Background(), "u1", "   ", ""); err == nil || !errs.ErrArgs.Is(err) {
		t.Fatalf("blank name: %v", err)
	}
	long := make([]byte, 51)
	for i := range long {
		long[i] = 'x'
	}
	if _, err := s.CreateLabel(context.Background(), "u1", string(long), ""); err == nil || !errs.ErrArgs.Is(err) {
		t.Fatalf("long name: %v", err)
	}
	if _, err := s.CreateLabel(context.Background(), "u1", "work", "red"); err == nil || !errs.ErrArgs.Is(err) {
		t.Fatalf("bad color: %v", err)
	}
	if _, err := s.CreateLabel(context.Background(), "u1", "work", "#12GG34"); err == nil || !errs.ErrArgs.Is(err) {
		t.Fatalf("non-hex color: %v", err)
	}
}
