package gateway

import (
	"encoding/json"
	"testing"

	"GotMail/module/mailbox/event"
)

func TestParseFrameLenientSequence(t *testing.T) {
	// JS 端 int64 走字符串, 原生端走数字, 两种都要认
	f, err := ParseFrame([]byte(`{"type":"resync","last_sequence":42}`))
	if err != nil {
		t.Fatalf("numeric seq: %v", err)
	}
	if f.Type != FrameResync || f.LastSequence != 42 {
		t.Fatalf("frame=%+v", f)
	}

	f, err = ParseFrame([]byte(`{"type":"resync","last_sequence":"42"}`))
	if err != nil {
		t.Fatalf("string seq: %v", err)
	}
	if f.LastSequence != 42 {
		t.Fatalf("string seq not coerced: %+v", f)
	}
}

func TestParseFrameRejectsGarbage(t *testing.T) {
	if _, err := ParseFrame([]byte(`{"token":"x"}`)); err == nil {
		t.Fatalf("missing type must fail")
	}
	if _, err := ParseFrame([]byte(`not json`)); err == nil {
		t.Fatalf("bad json must fail")
	}
	if _, err := ParseFrame(nil); err == nil {
		t.Fatalf("empty frame must fail")
	}
}

func TestBuildEventFrameShape(t *testing.T) {
	e := &event.MailboxEvent{
		UserID:   "u1",
		Sequence: 7,
		Kind:     event.KindNewMessage,
		Payload:  json.RawMessage(`{"email_id":"9"}`),
	}
	var out struct {
		Type     string          `json:"type"`
		Sequence int64           `json:"sequence"`
		Kind     string          `json:"kind"`
		Payload  json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(BuildEvent(e), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Type != FrameEvent || out.Sequence != 7 || out.Kind != string(event.KindNewMessage) {
		t.Fatalf("frame=%+v", out)
	}
	if string(out.Payload) != `{"email_id":"9"}` {
		t.Fatalf("payload passthrough broken: %s", out.Payload)
	}
}
