package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"GotMail/module/mailbox/model"
	"GotMail/tools/errs"
)

func GetSettings(ctx context.Context, userID string) (*model.UserSettings, error) {
	var (
		s     model.UserSettings
		start *time.Time
		end   *time.Time
		ut    time.Time
	)
	err := Pool().QueryRow(ctx, `
		SELECT user_id, notifications_enabled, dark_mode, font_size, font_family,
		       auto_reply_enabled, auto_reply_subject, auto_reply_body,
		       auto_reply_start, auto_reply_end, update_time
		FROM user_settings
		WHERE user_id = $1
	`, userID).Scan(
		&s.UserID, &s.NotificationsEnabled, &s.DarkMode, &s.FontSize, &s.FontFamily,
		&s.AutoReplyEnabled, &s.AutoReplySubject, &s.AutoReplyBody,
		&start, &end, &ut,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrRecordNotFound.WrapMsg("settings not found", "user", userID)
		}
		return nil, errs.WrapMsg(err, "get settings", "user", userID)
	}
	s.AutoReplyStart = start
	s.AutoReplyEnd = end
	s.UpdateTime = ut.UTC()
	return &s, nil
}

// UpsertSettings 整行写入。调用方先 Get 再改再写, 避免半行更新。
func UpsertSettings(ctx context.Context, s *model.UserSettings) error {
	_, err := Pool().Exec(ctx, `
		INSERT INTO user_settings
			(user_id, notifications_enabled, dark_mode, font_size, font_family,
			 auto_reply_enabled, auto_reply_subject, auto_reply_body,
			 auto_reply_start, auto_reply_end, update_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id) DO UPDATE SET
			notifications_enabled = EXCLUDED.notifications_enabled,
			dark_mode             = EXCLUDED.dark_mode,
			font_size             = EXCLUDED.font_size,
			font_family           = EXCLUDED.font_family,
			auto_reply_enabled    = EXCLUDED.auto_reply_enabled,
			auto_reply_subject    = EXCLUDED.auto_reply_subject,
			auto_reply_body       = EXCLUDED.auto_reply_body,
			auto_reply_start      = EXCLUDED.auto_reply_start,
			auto_reply_end        = EXCLUDED.auto_reply_end,
			update_time           = EXCLUDED.update_time
	`, s.UserID, s.NotificationsEnabled, s.DarkMode, s.FontSize, s.FontFamily,
		s.AutoReplyEnabled, s.AutoReplySubject, s.AutoReplyBody,
		s.AutoReplyStart, s.AutoReplyEnd, s.UpdateTime.UTC())
	if err != nil {
		return errs.WrapMsg(err, "upsert settings", "user", s.UserID)
	}
	return nil
}

// EnsureSettings 开通默认偏好, 已有行保持原样。
func EnsureSettings(ctx context.Context, userID string) error {
	s := model.DefaultSettings(userID)
	_, err := Pool().Exec(ctx, `
		INSERT INTO user_settings
			(user_id, notifications_enabled, dark_mode, font_size, font_family,
			 auto_reply_enabled, auto_reply_subject, auto_reply_body,
			 auto_reply_start, auto_reply_end, update_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id) DO NOTHING
	`, s.UserID, s.NotificationsEnabled, s.DarkMode, s.FontSize, s.FontFamily,
		s.AutoReplyEnabled, s.AutoReplySubject, s.AutoReplyBody,
		s.AutoReplyStart, s.AutoReplyEnd, time.Now().UTC())
	if err != nil {
		return errs.WrapMsg(err, "ensure settings", "user", userID)
	}
	return nil
}
