package event

import (
	"encoding/json"
	"time"

	"GotMail/tools/errs"
)

// Kind 事件类型
// Unknown kinds coming off the broker are forwarded untouched; only the
// producer side restricts itself to the named set.
type Kind string

const (
	KindNewMessage     Kind = "NewMessage"
	KindMessageRead    Kind = "MessageRead"
	KindMessageDeleted Kind = "MessageDeleted"
	KindFolderChanged  Kind = "FolderChanged"
	KindNotification   Kind = "Notification"
	KindSessionRevoked Kind = "SessionRevoked"
)

// MailboxEvent is one mailbox change for one user. Sequence is assigned
// at publish time and is strictly increasing per user with no gaps.
type MailboxEvent struct {
	UserID      string          `json:"user_id"`
	Sequence    int64           `json:"sequence"`
	Kind        Kind            `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	PublishedAt time.Time       `json:"published_at"`
}

// Encode 序列化为 broker/缓冲 使用的载荷
func (e *MailboxEvent) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errs.WrapMsg(err, "encode mailbox event", "user", e.UserID)
	}
	return data, nil
}

func Decode(data []byte) (*MailboxEvent, error) {
	var e MailboxEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, errs.WrapMsg(err, "decode mailbox event")
	}
	return &e, nil
}
