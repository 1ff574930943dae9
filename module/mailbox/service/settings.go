package service

import (
	"context"
	"strings"
	"time"

	"GotMail/logger"
	"GotMail/module/mailbox/model"
	"GotMail/module/mailbox/store"
	"GotMail/tools/errs"
	"GotMail/tools/ids"
)

var fontFamilies = map[string]bool{
	"sans-serif": true,
	"serif":      true,
	"monospace":  true,
}

func validFontSize(n int) bool {
	return n == 12 || n == 14 || n == 16
}

// Settings 没落过库的用户给默认行, 首次改动时才真正写入。
func (s *Service) Settings(ctx context.Context, userID string) (*model.UserSettings, error) {
	st, err := store.GetSettings(ctx, userID)
	if err != nil {
		if errs.ErrRecordNotFound.Is(err) {
			return model.DefaultSettings(userID), nil
		}
		return nil, err
	}
	return st, nil
}

type SettingsParams struct {
	NotificationsEnabled *bool      `json:"notifications_enabled"`
	DarkMode             *bool      `json:"dark_mode"`
	FontSize             *int       `json:"font_size"`
	FontFamily           *string    `json:"font_family"`
	AutoReplyEnabled     *bool      `json:"auto_reply_enabled"`
	AutoReplySubject     *string    `json:"auto_reply_subject"`
	AutoReplyBody        *string    `json:"auto_reply_body"`
	AutoReplyStart       *time.Time `json:"auto_reply_start"`
	AutoReplyEnd         *time.Time `json:"auto_reply_end"`
}

// UpdateSettings 部分更新, nil 字段保持原值。
func (s *Service) UpdateSettings(ctx context.Context, userID string, p SettingsParams) (*model.UserSettings, error) {
	st, err := s.Settings(ctx, userID)
	if err != nil {
		return nil, err
	}

	if p.NotificationsEnabled != nil {
		st.NotificationsEnabled = *p.NotificationsEnabled
	}
	if p.DarkMode != nil {
		st.DarkMode = *p.DarkMode
	}
	if p.FontSize != nil {
		if !validFontSize(*p.FontSize) {
			return nil, errs.ErrArgs.WrapMsg("font_size must be 12/14/16")
		}
		st.FontSize = *p.FontSize
	}
	if p.FontFamily != nil {
		if !fontFamilies[*p.FontFamily] {
			return nil, errs.ErrArgs.WrapMsg("unsupported font_family", "font_family", *p.FontFamily)
		}
		st.FontFamily = *p.FontFamily
	}
	if p.AutoReplyEnabled != nil {
		st.AutoReplyEnabled = *p.AutoReplyEnabled
	}
	if p.AutoReplySubject != nil {
		st.AutoReplySubject = strings.TrimSpace(*p.AutoReplySubject)
	}
	if p.AutoReplyBody != nil {
		st.AutoReplyBody = strings.TrimSpace(*p.AutoReplyBody)
	}
	if p.AutoReplyStart != nil {
		t := p.AutoReplyStart.UTC()
		st.AutoReplyStart = &t
	}
	if p.AutoReplyEnd != nil {
		t := p.AutoReplyEnd.UTC()
		st.AutoReplyEnd = &t
	}

	if st.AutoReplyEnabled && st.AutoReplyBody == "" {
		return nil, errs.ErrArgs.WrapMsg("auto_reply_body required when auto reply enabled")
	}
	if st.AutoReplyStart != nil && st.AutoReplyEnd != nil && st.AutoReplyEnd.Before(*st.AutoReplyStart) {
		return nil, errs.ErrArgs.WrapMsg("auto reply window end before start")
	}

	st.UpdateTime = s.clock().UTC()
	if err := store.UpsertSettings(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// ToggleAutoReply 开关一把梭。开的时候没配窗口就给 now..+30d。
func (s *Service) ToggleAutoReply(ctx context.Context, userID string) (*model.UserSettings, error) {
	st, err := s.Settings(ctx, userID)
	if err != nil {
		return nil, err
	}
	st.AutoReplyEnabled = !st.AutoReplyEnabled
	if st.AutoReplyEnabled {
		now := s.clock().UTC()
		if st.AutoReplyStart == nil {
			st.AutoReplyStart = &now
		}
		if st.AutoReplyEnd == nil {
			end := now.Add(30 * 24 * time.Hour)
			st.AutoReplyEnd = &end
		}
	}
	st.UpdateTime = s.clock().UTC()
	if err := store.UpsertSettings(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// ProvisionUser 注册后初始开通: 默认偏好 + 三个内置标签。
// 幂等, 已有的跳过。
func (s *Service) ProvisionUser(ctx context.Context, userID string) error {
	if err := store.EnsureSettings(ctx, userID); err != nil {
		return err
	}

	defaults := []struct {
		name  string
		color string
	}{
		{"Important", "#FF0000"},
		{"Personal", "#00FF00"},
		{"Work", "#0000FF"},
	}
	now := s.clock().UTC()
	for _, d := range defaults {
		l := &model.Label{
			LabelID:    ids.Generate(),
			UserID:     userID,
			Name:       d.name,
			Color:      d.color,
			CreateTime: now,
		}
		if err := store.CreateLabel(ctx, l); err != nil {
			if errs.ErrDuplicate.Is(err) {
				continue
			}
			return err
		}
	}
	return nil
}

// EvaluateAutoReply 投递 worker 对每个收件副本调用。命中窗口且当天
// 没回过这个发件人才生成回信, 回信本身也走投递管线,
// IsAutoReplied 标志挡住二次评估。
func (s *Service) EvaluateAutoReply(ctx context.Context, job model.DeliveryJob) error {
	if job.IsAutoReplied {
		return nil
	}

	st, err := s.Settings(ctx, job.RecipientID)
	if err != nil {
		return err
	}
	now := s.clock().UTC()
	if !st.AutoReplyActive(now) || st.AutoReplyBody == "" {
		return nil
	}

	dayStart := now.Truncate(24 * time.Hour)
	replied, err := store.HasAutoReplySince(ctx, job.RecipientID, job.Sender, dayStart)
	if err != nil {
		return err
	}
	if replied {
		return nil
	}

	replyAddr, err := s.resolver.AddressOf(ctx, job.RecipientID)
	if err != nil {
		return err
	}

	subject := st.AutoReplySubject
	if subject == "" {
		subject = "Re: " + job.Subject
	}

	e := &model.Email{
		EmailID:       ids.Generate(),
		Sender:        job.RecipientID,
		Subject:       subject,
		Body:          st.AutoReplyBody,
		ReplyTo:       job.EmailID,
		Headers:       map[string]string{"from": replyAddr, "to": job.SenderAddr},
		IsAutoReplied: true,
		SentAt:        now,
	}
	copies := []model.Recipient{
		{EmailID: e.EmailID, UserID: job.RecipientID, Field: model.FieldSender, Folder: model.FolderSent, IsRead: true},
		{EmailID: e.EmailID, UserID: job.Sender, Field: model.FieldTo, Folder: model.FolderInbox},
	}
	if err := store.CreateMail(ctx, e, copies); err != nil {
		return err
	}
	logger.Infof("[Mailbox] auto reply email=%d from=%s to=%s", e.EmailID, job.RecipientID, job.Sender)

	if s.queue == nil {
		return nil
	}
	reply := model.DeliveryJob{
		JobID:         ids.GenerateString(),
		EmailID:       e.EmailID,
		Sender:        job.RecipientID,
		SenderAddr:    replyAddr,
		RecipientID:   job.Sender,
		Field:         model.FieldTo,
		Subject:       subject,
		IsAutoReplied: true,
	}
	if err := s.queue.Enqueue(ctx, []model.DeliveryJob{reply}); err != nil {
		logger.Warnf("[Mailbox] enqueue auto reply failed email=%d err=%v", e.EmailID, err)
	}
	return nil
}
