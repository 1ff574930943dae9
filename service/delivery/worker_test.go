package delivery

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"GotMail/module/mailbox/event"
	"GotMail/module/mailbox/model"
	"GotMail/service/broker"
)

type fakeNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeNotifier) NotifyUser(_ context.Context, userID, message, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, userID+"|"+message)
	return nil
}

func (f *fakeNotifier) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeReplier struct {
	mu   sync.Mutex
	jobs []model.DeliveryJob
}

func (f *fakeReplier) EvaluateAutoReply(_ context.Context, job model.DeliveryJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return nil
}

func testJob(id, rcpt string) model.DeliveryJob {
	return model.DeliveryJob{
		JobID:       id,
		EmailID:     42,
		Sender:      "u-sender",
		SenderAddr:  "alice@gotmail.com",
		RecipientID: rcpt,
		Field:       "to",
		Subject:     "hello",
	}
}

func newTestPublisher() (*event.Publisher, *broker.MemoryBroker) {
	seq := event.NewMemorySequencer()
	buf := event.NewMemoryReplay(seq, event.Options{})
	brk := broker.NewMemoryBroker()
	return event.NewPublisher(seq, buf, brk), brk
}

func TestWorkerProcessDeliversAll(t *testing.T) {
	pub, brk := newTestPublisher()
	defer brk.Close()

	fn := &fakeNotifier{}
	fr := &fakeReplier{}
	w := NewWorker(WorkerConfig{Notifier: fn, Replier: fr, Pub: pub})

	sub, err := brk.Subscribe(broker.UserTopic("u-rcpt"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Cancel()

	if err := w.Process(context.Background(), testJob("j1", "u-rcpt")); err != nil {
		t.Fatalf("process: %v", err)
	}

	calls := fn.snapshot()
	if len(calls) != 1 {
		t.Fatalf("notify calls = %d, want 1", len(calls))
	}
	if want := "u-rcpt|New mail from alice@gotmail.com: hello"; calls[0] != want {
		t.Fatalf("notify = %q, want %q", calls[0], want)
	}

	select {
	case data := <-sub.C:
		e, derr := event.Decode(data)
		if derr != nil {
			t.Fatalf("decode: %v", derr)
		}
		if e.Kind != event.KindNewMessage || e.UserID != "u-rcpt" {
			t.Fatalf("event = %+v, want NewMessage for u-rcpt", e)
		}
		if !strings.Contains(string(e.Payload), `"email_id":"42"`) {
			t.Fatalf("payload = %s, want email_id 42", e.Payload)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for NewMessage event")
	}

	fr.mu.Lock()
	defer fr.mu.Unlock()
	if len(fr.jobs) != 1 || fr.jobs[0].JobID != "j1" {
		t.Fatalf("replier jobs = %+v, want j1", fr.jobs)
	}
}

func TestWorkerDuplicateJobSkipped(t *testing.T) {
	fn := &fakeNotifier{}
	w := NewWorker(WorkerConfig{Notifier: fn})

	job := testJob("dup", "u1")
	for i := 0; i < 3; i++ {
		if err := w.Process(context.Background(), job); err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
	}
	if got := len(fn.snapshot()); got != 1 {
		t.Fatalf("notify calls = %d, want 1 (redelivery must be swallowed)", got)
	}
}

func TestWorkerAutoReplyMessageText(t *testing.T) {
	fn := &fakeNotifier{}
	w := NewWorker(WorkerConfig{Notifier: fn})

	job := testJob("ar", "u1")
	job.IsAutoReplied = true
	if err := w.Process(context.Background(), job); err != nil {
		t.Fatalf("process: %v", err)
	}
	calls := fn.snapshot()
	if len(calls) != 1 || !strings.Contains(calls[0], "Auto-reply from alice@gotmail.com") {
		t.Fatalf("notify = %v, want auto-reply text", calls)
	}
}

func TestInlineOrderingPerRecipient(t *testing.T) {
	fn := &fakeNotifier{}
	w := NewWorker(WorkerConfig{Notifier: fn})

	p := NewPipeline(w)
	const n = 20
	jobs := make([]model.DeliveryJob, 0, n)
	for i := 0; i < n; i++ {
		j := testJob("ord-"+strconv.Itoa(i), "u-same")
		j.Subject = "s" + strconv.Itoa(i)
		jobs = append(jobs, j)
	}
	if err := p.Enqueue(context.Background(), jobs); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	p.Close() // 关闭会排干分片

	calls := fn.snapshot()
	if len(calls) != n {
		t.Fatalf("processed = %d, want %d", len(calls), n)
	}
	for i, c := range calls {
		if want := ": s" + strconv.Itoa(i); !strings.HasSuffix(c, want) {
			t.Fatalf("call %d = %q, want suffix %q (same-recipient order must hold)", i, c, want)
		}
	}
}

func TestInlineFanoutAcrossRecipients(t *testing.T) {
	fn := &fakeNotifier{}
	w := NewWorker(WorkerConfig{Notifier: fn})

	p := NewPipeline(w)
	var jobs []model.DeliveryJob
	for i := 0; i < 8; i++ {
		jobs = append(jobs, testJob("fan-"+strconv.Itoa(i), "u-"+strconv.Itoa(i)))
	}
	if err := p.Enqueue(context.Background(), jobs); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	p.Close()

	if got := len(fn.snapshot()); got != 8 {
		t.Fatalf("processed = %d, want 8", got)
	}
}

func TestMemIdemSeenOnce(t *testing.T) {
	idem := NewMemIdem(time.Minute)

	seen, err := idem.SeenOnce(context.Background(), "k1", time.Minute)
	if err != nil || seen {
		t.Fatalf("first SeenOnce = (%v, %v), want (false, nil)", seen, err)
	}
	seen, err = idem.SeenOnce(context.Background(), "k1", time.Minute)
	if err != nil || !seen {
		t.Fatalf("second SeenOnce = (%v, %v), want (true, nil)", seen, err)
	}
	seen, _ = idem.SeenOnce(context.Background(), "k2", time.Minute)
	if seen {
		t.Fatalf("different key must not be seen")
	}
}
