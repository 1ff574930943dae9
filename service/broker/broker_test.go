package broker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"GotMail/tools/errs"
)

func recvOne(t *testing.T, sub *Subscription) []byte {
	t.Helper()
	select {
	case data, ok := <-sub.C:
		if !ok {
			t.Fatalf("stream closed unexpectedly topic=%s", sub.Topic)
		}
		return data
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for message topic=%s", sub.Topic)
	}
	return nil
}

func TestMemoryBrokerFIFO(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()

	sub, err := b.Subscribe(UserTopic("u1"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Cancel()

	for i := 0; i < 20; i++ {
		if err := b.Publish(context.Background(), UserTopic("u1"), []byte(fmt.Sprintf("m%d", i))); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	for i := 0; i < 20; i++ {
		got := string(recvOne(t, sub))
		want := fmt.Sprintf("m%d", i)
		if got != want {
			t.Fatalf("order broken: got %s want %s", got, want)
		}
	}
}

func TestMemoryBrokerFanout(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()

	s1, _ := b.Subscribe("user:a")
	s2, _ := b.Subscribe("user:a")
	other, _ := b.Subscribe("user:b")
	defer s1.Cancel()
	defer s2.Cancel()
	defer other.Cancel()

	if err := b.Publish(context.Background(), "user:a", []byte("hello")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := string(recvOne(t, s1)); got != "hello" {
		t.Fatalf("s1 got %q", got)
	}
	if got := string(recvOne(t, s2)); got != "hello" {
		t.Fatalf("s2 got %q", got)
	}
	select {
	case data := <-other.C:
		t.Fatalf("user:b must not see user:a traffic, got %q", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBrokerCancel(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()

	sub, _ := b.Subscribe("user:a")
	if n := b.SubscriberCount("user:a"); n != 1 {
		t.Fatalf("subscriber count = %d, want 1", n)
	}
	sub.Cancel()
	sub.Cancel() // idempotent
	if n := b.SubscriberCount("user:a"); n != 0 {
		t.Fatalf("subscriber count after cancel = %d, want 0", n)
	}

	// Publishing into a topic with no subscribers is fine.
	if err := b.Publish(context.Background(), "user:a", []byte("x")); err != nil {
		t.Fatalf("publish after cancel: %v", err)
	}
	if _, ok := <-sub.C; ok {
		t.Fatalf("stream should be closed after cancel")
	}
}

func TestMemoryBrokerOutage(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()

	var transitions []Status
	b.Notify(func(st Status) { transitions = append(transitions, st) })

	b.SetAvailable(false)
	b.SetAvailable(false) // no duplicate notification

	err := b.Publish(context.Background(), "user:a", []byte("x"))
	if err == nil {
		t.Fatalf("publish during outage should fail")
	}
	if !errs.ErrBrokerUnavailable.Is(err) {
		t.Fatalf("want broker unavailable error, got %v", err)
	}

	b.SetAvailable(true)
	if err := b.Publish(context.Background(), "user:a", []byte("x")); err != nil {
		t.Fatalf("publish after recovery: %v", err)
	}

	want := []Status{StatusDown, StatusUp}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", transitions, want)
		}
	}
}

func TestUserTopic(t *testing.T) {
	if got := UserTopic("42"); got != "user:42" {
		t.Fatalf("UserTopic = %q", got)
	}
	if got := subjectOf(UserTopic("42")); got != "user.42" {
		t.Fatalf("subjectOf = %q", got)
	}
}
