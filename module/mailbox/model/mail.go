package model

import "time"

// 收件副本的 field 取值
const (
	FieldSender = "sender"
	FieldTo     = "to"
	FieldCc     = "cc"
	FieldBcc    = "bcc"
)

// 副本所在基础目录。回收站/星标是副本上的标志位, 不是目录。
const (
	FolderInbox  = "inbox"
	FolderSent   = "sent"
	FolderDrafts = "drafts"
)

// 信箱视图名, 列表接口的 mailbox 参数
const (
	BoxInbox   = "inbox"
	BoxSent    = "sent"
	BoxStarred = "starred"
	BoxAll     = "all"
	BoxDrafts  = "drafts"
	BoxTrash   = "trash"
)

// Email 信件正文, 全体收件人共享一行。
// 已读/星标/回收站等标志按收件人在 Recipient 副本上各自维护。
type Email struct {
	EmailID       int64             `json:"email_id,string"`
	Sender        string            `json:"sender"`
	Subject       string            `json:"subject"`
	Body          string            `json:"body"`
	ReplyTo       int64             `json:"reply_to,string"` // 0 表示不是回信
	Headers       map[string]string `json:"headers,omitempty"`
	IsDraft       bool              `json:"is_draft"`
	IsAutoReplied bool              `json:"is_auto_replied"`
	SentAt        time.Time         `json:"sent_at"`
}

// Recipient 单个用户对一封信的副本。发件人也有一行 field=sender 的
// 副本, 这样发件箱/草稿箱的标志位走同一套查询。
type Recipient struct {
	EmailID   int64  `json:"email_id,string"`
	UserID    string `json:"user_id"`
	Field     string `json:"field"`
	Folder    string `json:"folder"`
	IsRead    bool   `json:"is_read"`
	IsStarred bool   `json:"is_starred"`
	IsTrashed bool   `json:"is_trashed"`
}

// MailItem 信箱列表/详情用的联合投影: 信件 + 当前用户的副本标志。
type MailItem struct {
	Email
	Field     string  `json:"field"`
	Folder    string  `json:"folder"`
	IsRead    bool    `json:"is_read"`
	IsStarred bool    `json:"is_starred"`
	IsTrashed bool    `json:"is_trashed"`
	LabelIDs  []int64 `json:"label_ids,omitempty"`
}

type Label struct {
	LabelID    int64     `json:"label_id,string"`
	UserID     string    `json:"user_id"`
	Name       string    `json:"name"`
	Color      string    `json:"color"`
	CreateTime time.Time `json:"create_time"`
}

// UserSettings 邮箱偏好, 一人一行。自动回复窗口为空表示不限时段。
type UserSettings struct {
	UserID               string     `json:"user_id"`
	NotificationsEnabled bool       `json:"notifications_enabled"`
	DarkMode             bool       `json:"dark_mode"`
	FontSize             int        `json:"font_size"`
	FontFamily           string     `json:"font_family"`
	AutoReplyEnabled     bool       `json:"auto_reply_enabled"`
	AutoReplySubject     string     `json:"auto_reply_subject"`
	AutoReplyBody        string     `json:"auto_reply_body"`
	AutoReplyStart       *time.Time `json:"auto_reply_start,omitempty"`
	AutoReplyEnd         *time.Time `json:"auto_reply_end,omitempty"`
	UpdateTime           time.Time  `json:"update_time"`
}

// DefaultSettings 注册开通时的初始偏好
func DefaultSettings(userID string) *UserSettings {
	return &UserSettings{
		UserID:               userID,
		NotificationsEnabled: true,
		DarkMode:             false,
		FontSize:             14,
		FontFamily:           "sans-serif",
	}
}

// AutoReplyActive 判断 t 时刻自动回复是否生效
func (s *UserSettings) AutoReplyActive(t time.Time) bool {
	if s == nil || !s.AutoReplyEnabled {
		return false
	}
	if s.AutoReplyStart != nil && t.Before(*s.AutoReplyStart) {
		return false
	}
	if s.AutoReplyEnd != nil && t.After(*s.AutoReplyEnd) {
		return false
	}
	return true
}
