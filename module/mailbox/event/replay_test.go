package event

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"GotMail/tools/errs"
)

func mustRecord(t *testing.T, buf ReplayBuffer, seq Sequencer, user string, at time.Time) *MailboxEvent {
	t.Helper()
	n, err := seq.Next(context.Background(), user)
	if err != nil {
		t.Fatalf("next seq: %v", err)
	}
	e := &MailboxEvent{
		UserID:      user,
		Sequence:    n,
		Kind:        KindNewMessage,
		Payload:     json.RawMessage(fmt.Sprintf(`{"n":%d}`, n)),
		PublishedAt: at,
	}
	if err := buf.Record(context.Background(), e); err != nil {
		t.Fatalf("record seq=%d: %v", n, err)
	}
	return e
}

func TestReplayDefaults(t *testing.T) {
	o := Options{}.norm()
	if o.MaxEntries != 200 {
		t.Fatalf("default MaxEntries = %d, want 200", o.MaxEntries)
	}
	if o.TTL != 10*time.Minute {
		t.Fatalf("default TTL = %v, want 10m", o.TTL)
	}
}

func TestReplayWindowByCount(t *testing.T) {
	seq := NewMemorySequencer()
	buf := NewMemoryReplay(seq, Options{MaxEntries: 5, TTL: time.Hour})

	now := time.Now()
	for i := 0; i < 10; i++ {
		mustRecord(t, buf, seq, "u1", now)
	}

	// Sequences 6..10 are retained; asking from 5 replays all of them.
	got, err := buf.EventsSince(context.Background(), "u1", 5)
	if err != nil {
		t.Fatalf("events since 5: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("len = %d, want 5", len(got))
	}
	for i, e := range got {
		if e.Sequence != int64(6+i) {
			t.Fatalf("events[%d].Sequence = %d, want %d", i, e.Sequence, 6+i)
		}
	}

	// Sequence 3 was evicted by the count bound.
	_, err = buf.EventsSince(context.Background(), "u1", 2)
	if !errs.ErrReplayGap.Is(err) {
		t.Fatalf("want replay gap, got %v", err)
	}
}

func TestReplayWindowByTTL(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }

	seq := NewMemorySequencer()
	buf := NewMemoryReplay(seq, Options{MaxEntries: 100, TTL: 10 * time.Minute, Clock: clock})

	mustRecord(t, buf, seq, "u1", now)               // seq 1, will expire
	now = now.Add(9 * time.Minute)                   // advance
	mustRecord(t, buf, seq, "u1", now)               // seq 2, still fresh later
	now = now.Add(2 * time.Minute)                   // seq 1 is now 11m old

	got, err := buf.EventsSince(context.Background(), "u1", 1)
	if err != nil {
		t.Fatalf("events since 1: %v", err)
	}
	if len(got) != 1 || got[0].Sequence != 2 {
		t.Fatalf("got %+v, want just seq 2", got)
	}

	// seq 1 itself is gone, so replaying from 0 cannot be answered.
	_, err = buf.EventsSince(context.Background(), "u1", 0)
	if !errs.ErrReplayGap.Is(err) {
		t.Fatalf("want replay gap after TTL expiry, got %v", err)
	}

	// Once everything expired, any stale cursor is a gap.
	now = now.Add(20 * time.Minute)
	_, err = buf.EventsSince(context.Background(), "u1", 1)
	if !errs.ErrReplayGap.Is(err) {
		t.Fatalf("want replay gap, got %v", err)
	}
}

func TestReplayAtHeadAndAhead(t *testing.T) {
	seq := NewMemorySequencer()
	buf := NewMemoryReplay(seq, Options{})

	mustRecord(t, buf, seq, "u1", time.Now())
	mustRecord(t, buf, seq, "u1", time.Now())

	// Cursor at the newest sequence: nothing to replay, not an error.
	got, err := buf.EventsSince(context.Background(), "u1", 2)
	if err != nil {
		t.Fatalf("events since head: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("len = %d, want 0", len(got))
	}

	// Cursor ahead of the counter: client state is bogus.
	_, err = buf.EventsSince(context.Background(), "u1", 7)
	if !errs.ErrReplayGap.Is(err) {
		t.Fatalf("want replay gap for cursor ahead of counter, got %v", err)
	}
}

func TestReplayRecordIdempotent(t *testing.T) {
	seq := NewMemorySequencer()
	buf := NewMemoryReplay(seq, Options{})

	e := mustRecord(t, buf, seq, "u1", time.Now())
	if err := buf.Record(context.Background(), e); err != nil {
		t.Fatalf("duplicate record: %v", err)
	}
	got, err := buf.EventsSince(context.Background(), "u1", 0)
	if err != nil {
		t.Fatalf("events since 0: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
}

func TestReplayUsersIsolated(t *testing.T) {
	seq := NewMemorySequencer()
	buf := NewMemoryReplay(seq, Options{})

	mustRecord(t, buf, seq, "a", time.Now())
	mustRecord(t, buf, seq, "b", time.Now())
	mustRecord(t, buf, seq, "a", time.Now())

	got, err := buf.EventsSince(context.Background(), "a", 0)
	if err != nil {
		t.Fatalf("events since: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("user a len = %d, want 2", len(got))
	}
	got, err = buf.EventsSince(context.Background(), "b", 0)
	if err != nil {
		t.Fatalf("events since: %v", err)
	}
	if len(got) != 1 || got[0].Sequence != 1 {
		t.Fatalf("user b got %+v", got)
	}
}
