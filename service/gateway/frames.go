package gateway

import (
	"encoding/json"

	"GotMail/module/mailbox/event"
	"GotMail/tools/decode"
	"GotMail/tools/errs"
)

// 帧类型（客户端与服务端共用 type 字段）
const (
	FrameAuth           = "auth"
	FrameOK             = "ok"
	FrameResync         = "resync"
	FrameResyncRequired = "resync_required"
	FrameEvent          = "event"
	FramePing           = "ping"
	FramePong           = "pong"
	FrameNotice         = "notice"
)

// 应用层关闭码
const (
	CloseAuthFailed  = 4401
	CloseAuthTimeout = 4408
)

// notice reasons
const (
	NoticeUnavailable = "live-updates-unavailable"
	NoticeRestored    = "live-updates-restored"
)

// ClientFrame is everything a client may send. One struct, the type
// field says which of the rest is meaningful.
type ClientFrame struct {
	Type         string `json:"type"`
	Token        string `json:"token,omitempty"`
	LastSequence int64  `json:"last_sequence,omitempty"`
}

// ParseFrame 宽松解码: last_sequence 数字或字符串都收,
// JS 客户端传 int64 习惯转成字符串。
func ParseFrame(raw []byte) (*ClientFrame, error) {
	f, err := decode.DecodeJSON[ClientFrame](raw)
	if err != nil {
		return nil, errs.WrapMsg(err, "unmarshal frame failed")
	}
	if f.Type == "" {
		return nil, errs.New("frame missing type")
	}
	return f, nil
}

type serverFrame struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Sequence  int64           `json:"sequence,omitempty"`
	Kind      string          `json:"kind,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

// ---- 构造若干服务端回执 ----

func BuildOK(sessionID string) []byte {
	b, _ := json.Marshal(serverFrame{Type: FrameOK, SessionID: sessionID})
	return b
}

func BuildEvent(e *event.MailboxEvent) []byte {
	b, _ := json.Marshal(serverFrame{
		Type:     FrameEvent,
		Sequence: e.Sequence,
		Kind:     string(e.Kind),
		Payload:  e.Payload,
	})
	return b
}

func BuildResyncRequired() []byte {
	b, _ := json.Marshal(serverFrame{Type: FrameResyncRequired})
	return b
}

func BuildPong() []byte {
	b, _ := json.Marshal(serverFrame{Type: FramePong})
	return b
}

func BuildNotice(reason string) []byte {
	b, _ := json.Marshal(serverFrame{Type: FrameNotice, Reason: reason})
	return b
}
