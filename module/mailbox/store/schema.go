package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"GotMail/tools/errs"
)

// 表结构启动时自建, 不走迁移工具。列改动需要兼容旧行。
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS emails (
		email_id        BIGINT PRIMARY KEY,
		sender          TEXT NOT NULL,
		subject         TEXT NOT NULL DEFAULT '',
		body            TEXT NOT NULL DEFAULT '',
		reply_to        BIGINT NOT NULL DEFAULT 0,
		headers         JSONB,
		is_draft        BOOLEAN NOT NULL DEFAULT FALSE,
		is_auto_replied BOOLEAN NOT NULL DEFAULT FALSE,
		sent_at         TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_emails_sender_sent ON emails (sender, sent_at DESC)`,

	`CREATE TABLE IF NOT EXISTS email_recipients (
		email_id   BIGINT NOT NULL REFERENCES emails(email_id) ON DELETE CASCADE,
		user_id    TEXT NOT NULL,
		field      TEXT NOT NULL,
		folder     TEXT NOT NULL,
		is_read    BOOLEAN NOT NULL DEFAULT FALSE,
		is_starred BOOLEAN NOT NULL DEFAULT FALSE,
		is_trashed BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (email_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_recipients_user ON email_recipients (user_id)`,

	`CREATE TABLE IF NOT EXISTS labels (
		label_id    BIGINT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		name        TEXT NOT NULL,
		color       TEXT NOT NULL DEFAULT '#808080',
		create_time TIMESTAMPTZ NOT NULL,
		UNIQUE (user_id, name)
	)`,

	`CREATE TABLE IF NOT EXISTS email_labels (
		label_id BIGINT NOT NULL REFERENCES labels(label_id) ON DELETE CASCADE,
		email_id BIGINT NOT NULL REFERENCES emails(email_id) ON DELETE CASCADE,
		PRIMARY KEY (label_id, email_id)
	)`,

	`CREATE TABLE IF NOT EXISTS user_settings (
		user_id               TEXT PRIMARY KEY,
		notifications_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		dark_mode             BOOLEAN NOT NULL DEFAULT FALSE,
		font_size             INT NOT NULL DEFAULT 14,
		font_family           TEXT NOT NULL DEFAULT 'sans-serif',
		auto_reply_enabled    BOOLEAN NOT NULL DEFAULT FALSE,
		auto_reply_subject    TEXT NOT NULL DEFAULT '',
		auto_reply_body       TEXT NOT NULL DEFAULT '',
		auto_reply_start      TIMESTAMPTZ,
		auto_reply_end        TIMESTAMPTZ,
		update_time           TIMESTAMPTZ NOT NULL
	)`,
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range schemaDDL {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return errs.WrapMsg(err, "ensure mail schema")
		}
	}
	return nil
}
