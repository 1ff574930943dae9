package event

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"GotMail/service/broker"
	"GotMail/tools/errs"

	"github.com/pkg/errors"
)

func newTestPublisher() (*Publisher, *MemorySequencer, *MemoryReplay, *broker.MemoryBroker) {
	seq := NewMemorySequencer()
	buf := NewMemoryReplay(seq, Options{})
	brk := broker.NewMemoryBroker()
	return NewPublisher(seq, buf, brk), seq, buf, brk
}

func TestPublishAssignsAndDelivers(t *testing.T) {
	pub, _, _, brk := newTestPublisher()
	defer brk.Close()

	sub, err := brk.Subscribe(broker.UserTopic("u1"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Cancel()

	for i := 1; i <= 3; i++ {
		e, err := pub.PublishJSON(context.Background(), "u1", KindNewMessage, map[string]any{"n": i})
		if err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
		if e.Sequence != int64(i) {
			t.Fatalf("sequence = %d, want %d", e.Sequence, i)
		}
	}

	for i := 1; i <= 3; i++ {
		select {
		case data := <-sub.C:
			e, err := Decode(data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if e.Sequence != int64(i) || e.Kind != KindNewMessage || e.UserID != "u1" {
				t.Fatalf("got %+v, want seq %d", e, i)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for event %d", i)
		}
	}
}

func TestPublishDegradedOnBrokerOutage(t *testing.T) {
	pub, _, buf, brk := newTestPublisher()
	defer brk.Close()

	brk.SetAvailable(false)

	e, err := pub.PublishEvent(context.Background(), "u1", KindMessageRead, json.RawMessage(`{}`))
	if !errs.ErrPublishDegraded.Is(err) {
		t.Fatalf("want publish degraded, got %v", err)
	}
	if e == nil || e.Sequence != 1 {
		t.Fatalf("degraded publish must still return the sequenced event, got %+v", e)
	}

	// The mutation's event is in the buffer, so reconnect replay covers it.
	got, rerr := buf.EventsSince(context.Background(), "u1", 0)
	if rerr != nil {
		t.Fatalf("events since: %v", rerr)
	}
	if len(got) != 1 || got[0].Sequence != 1 {
		t.Fatalf("buffered = %+v, want seq 1", got)
	}

	// Outage over: sequences continue with no gap.
	brk.SetAvailable(true)
	e2, err := pub.PublishEvent(context.Background(), "u1", KindMessageRead, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("publish after recovery: %v", err)
	}
	if e2.Sequence != 2 {
		t.Fatalf("sequence after degraded publish = %d, want 2", e2.Sequence)
	}
}

type brokenBuffer struct{}

func (brokenBuffer) Record(context.Context, *MailboxEvent) error { return errors.New("buffer down") }
func (brokenBuffer) EventsSince(context.Context, string, int64) ([]*MailboxEvent, error) {
	return nil, errors.New("buffer down")
}

func TestPublishBufferFailureStillDeliversLive(t *testing.T) {
	seq := NewMemorySequencer()
	brk := broker.NewMemoryBroker()
	defer brk.Close()
	pub := NewPublisher(seq, brokenBuffer{}, brk)

	sub, _ := brk.Subscribe(broker.UserTopic("u1"))
	defer sub.Cancel()

	e, err := pub.PublishEvent(context.Background(), "u1", KindNewMessage, json.RawMessage(`{}`))
	if !errs.ErrPublishDegraded.Is(err) {
		t.Fatalf("want publish degraded, got %v", err)
	}
	if e.Sequence != 1 {
		t.Fatalf("sequence = %d, want 1", e.Sequence)
	}

	// Online clients still get the live push even though buffering failed.
	select {
	case data := <-sub.C:
		got, derr := Decode(data)
		if derr != nil || got.Sequence != 1 {
			t.Fatalf("live event = %+v err=%v", got, derr)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for live event")
	}
}
