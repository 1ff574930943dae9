package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"GotMail/module/mailbox/model"
	"GotMail/tools/errs"
)

// rowScanner 兼容 pgx.Row / pgx.Rows 的扫描口
type rowScanner interface {
	Scan(dest ...any) error
}

const mailItemColumns = `e.email_id, e.sender, e.subject, e.body, e.reply_to, e.headers,
	       e.is_draft, e.is_auto_replied, e.sent_at,
	       r.field, r.folder, r.is_read, r.is_starred, r.is_trashed`

func scanMailItem(sc rowScanner) (*model.MailItem, error) {
	var (
		item       model.MailItem
		headersRaw []byte
		sentAt     time.Time
	)
	err := sc.Scan(
		&item.EmailID, &item.Sender, &item.Subject, &item.Body, &item.ReplyTo, &headersRaw,
		&item.IsDraft, &item.IsAutoReplied, &sentAt,
		&item.Field, &item.Folder, &item.IsRead, &item.IsStarred, &item.IsTrashed,
	)
	if err != nil {
		return nil, err
	}
	if len(headersRaw) > 0 {
		_ = json.Unmarshal(headersRaw, &item.Headers)
	}
	item.SentAt = sentAt.UTC()
	return &item, nil
}

// CreateMail 一个事务里落信件和所有副本。任何一行失败整体回滚,
// 不会出现有信无副本的悬空状态。
func CreateMail(ctx context.Context, e *model.Email, copies []model.Recipient) error {
	headersRaw, err := json.Marshal(e.Headers)
	if err != nil {
		return errs.WrapMsg(err, "marshal headers", "email", e.EmailID)
	}

	tx, err := Pool().Begin(ctx)
	if err != nil {
		return errs.WrapMsg(err, "begin tx")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO emails (email_id, sender, subject, body, reply_to, headers, is_draft, is_auto_replied, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.EmailID, e.Sender, e.Subject, e.Body, e.ReplyTo, headersRaw, e.IsDraft, e.IsAutoReplied, e.SentAt.UTC())
	if err != nil {
		return errs.WrapMsg(err, "insert email", "email", e.EmailID)
	}

	for _, c := range copies {
		_, err = tx.Exec(ctx, `
			INSERT INTO email_recipients (email_id, user_id, field, folder, is_read, is_starred, is_trashed)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (email_id, user_id) DO NOTHING
		`, c.EmailID, c.UserID, c.Field, c.Folder, c.IsRead, c.IsStarred, c.IsTrashed)
		if err != nil {
			return errs.WrapMsg(err, "insert recipient", "email", c.EmailID, "user", c.UserID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errs.WrapMsg(err, "commit mail", "email", e.EmailID)
	}
	return nil
}

// UpdateDraftMail 重写草稿内容并整组替换副本。草稿发出时也走这里:
// is_draft 翻成 false、sent_at 换成发送时刻。
func UpdateDraftMail(ctx context.Context, e *model.Email, copies []model.Recipient) error {
	headersRaw, err := json.Marshal(e.Headers)
	if err != nil {
		return errs.WrapMsg(err, "marshal headers", "email", e.EmailID)
	}

	tx, err := Pool().Begin(ctx)
	if err != nil {
		return errs.WrapMsg(err, "begin tx")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE emails
		SET subject = $2, body = $3, reply_to = $4, headers = $5, is_draft = $6, sent_at = $7
		WHERE email_id = $1 AND sender = $8
	`, e.EmailID, e.Subject, e.Body, e.ReplyTo, headersRaw, e.IsDraft, e.SentAt.UTC(), e.Sender)
	if err != nil {
		return errs.WrapMsg(err, "update draft", "email", e.EmailID)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrRecordNotFound.WrapMsg("draft not found", "email", e.EmailID)
	}

	if _, err = tx.Exec(ctx, `DELETE FROM email_recipients WHERE email_id = $1`, e.EmailID); err != nil {
		return errs.WrapMsg(err, "clear recipients", "email", e.EmailID)
	}
	for _, c := range copies {
		_, err = tx.Exec(ctx, `
			INSERT INTO email_recipients (email_id, user_id, field, folder, is_read, is_starred, is_trashed)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (email_id, user_id) DO NOTHING
		`, c.EmailID, c.UserID, c.Field, c.Folder, c.IsRead, c.IsStarred, c.IsTrashed)
		if err != nil {
			return errs.WrapMsg(err, "insert recipient", "email", c.EmailID, "user", c.UserID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errs.WrapMsg(err, "commit draft", "email", e.EmailID)
	}
	return nil
}

// boxPredicate 信箱视图到副本谓词。draft 的收件副本在发出前对收件人
// 不可见, 所以收件类视图都排除 is_draft。
func boxPredicate(box string) (string, bool) {
	switch box {
	case model.BoxInbox:
		return `r.field IN ('to','cc','bcc') AND NOT r.is_trashed AND NOT e.is_draft`, true
	case model.BoxSent:
		return `r.field = 'sender' AND NOT r.is_trashed AND NOT e.is_draft`, true
	case model.BoxStarred:
		return `r.is_starred AND NOT r.is_trashed AND NOT e.is_draft`, true
	case model.BoxAll:
		return `r.field IN ('to','cc','bcc') AND NOT e.is_draft`, true
	case model.BoxDrafts:
		return `r.field = 'sender' AND e.is_draft AND NOT r.is_trashed`, true
	case model.BoxTrash:
		return `r.is_trashed`, true
	}
	return "", false
}

// ListMailbox 按视图分页拉取, 新邮件在前。
func ListMailbox(ctx context.Context, userID, box string, limit, offset int) ([]*model.MailItem, error) {
	pred, ok := boxPredicate(box)
	if !ok {
		return nil, errs.ErrArgs.WrapMsg("unknown mailbox", "mailbox", box)
	}

	query := `
		SELECT ` + mailItemColumns + `
		FROM email_recipients r
		JOIN emails e ON e.email_id = r.email_id
		WHERE r.user_id = $1 AND ` + pred + `
		ORDER BY e.sent_at DESC, e.email_id DESC
		LIMIT $2 OFFSET $3`

	rows, err := Pool().Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, errs.WrapMsg(err, "list mailbox", "user", userID, "mailbox", box)
	}
	defer rows.Close()

	var out []*model.MailItem
	for rows.Next() {
		item, err := scanMailItem(rows)
		if err != nil {
			return nil, errs.WrapMsg(err, "scan mail item")
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// GetMail 拉取单封信 + 当前用户副本。没有副本就当不存在,
// 不向无关用户泄露信件是否存在。
func GetMail(ctx context.Context, emailID int64, userID string) (*model.MailItem, error) {
	row := Pool().QueryRow(ctx, `
		SELECT `+mailItemColumns+`
		FROM email_recipients r
		JOIN emails e ON e.email_id = r.email_id
		WHERE r.email_id = $1 AND r.user_id = $2
	`, emailID, userID)

	item, err := scanMailItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrRecordNotFound.WrapMsg("mail not found", "email", emailID)
		}
		return nil, errs.WrapMsg(err, "get mail", "email", emailID)
	}

	ids, err := labelIDsOfMail(ctx, emailID, userID)
	if err != nil {
		return nil, err
	}
	item.LabelIDs = ids
	return item, nil
}

func setCopyFlag(ctx context.Context, emailID int64, userID, column string, val bool) (bool, error) {
	// column 只来自下面三个包装函数, 不拼接外部输入
	tag, err := Pool().Exec(ctx, `
		UPDATE email_recipients SET `+column+` = $3
		WHERE email_id = $1 AND user_id = $2 AND `+column+` <> $3
	`, emailID, userID, val)
	if err != nil {
		return false, errs.WrapMsg(err, "set "+column, "email", emailID, "user", userID)
	}
	return tag.RowsAffected() > 0, nil
}

// SetRead 返回值表示状态是否真的翻转, 供上层决定要不要发事件。
func SetRead(ctx context.Context, emailID int64, userID string, read bool) (bool, error) {
	return setCopyFlag(ctx, emailID, userID, "is_read", read)
}

func SetStarred(ctx context.Context, emailID int64, userID string, starred bool) (bool, error) {
	return setCopyFlag(ctx, emailID, userID, "is_starred", starred)
}

func SetTrashed(ctx context.Context, emailID int64, userID string, trashed bool) (bool, error) {
	return setCopyFlag(ctx, emailID, userID, "is_trashed", trashed)
}

// DeleteCopy 永久删除当前用户的副本。最后一个副本删掉后信件本体
// 一并清掉, email_labels 靠外键级联。
func DeleteCopy(ctx context.Context, emailID int64, userID string) (bool, error) {
	tx, err := Pool().Begin(ctx)
	if err != nil {
		return false, errs.WrapMsg(err, "begin tx")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		DELETE FROM email_recipients WHERE email_id = $1 AND user_id = $2
	`, emailID, userID)
	if err != nil {
		return false, errs.WrapMsg(err, "delete copy", "email", emailID, "user", userID)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx, `
		DELETE FROM emails e WHERE e.email_id = $1
		AND NOT EXISTS (SELECT 1 FROM email_recipients r WHERE r.email_id = e.email_id)
	`, emailID)
	if err != nil {
		return false, errs.WrapMsg(err, "gc orphan email", "email", emailID)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, errs.WrapMsg(err, "commit delete", "email", emailID)
	}
	return true, nil
}

// HasAutoReplySince 查 from 在 since 之后有没有给 to 发过自动回复,
// 自动回复一天一封的去重依据。
func HasAutoReplySince(ctx context.Context, fromUser, toUser string, since time.Time) (bool, error) {
	var exists bool
	err := Pool().QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM emails e
			JOIN email_recipients r ON r.email_id = e.email_id
			WHERE e.sender = $1 AND r.user_id = $2 AND r.field <> 'sender'
			  AND e.is_auto_replied AND e.sent_at >= $3
		)
	`, fromUser, toUser, since.UTC()).Scan(&exists)
	if err != nil {
		return false, errs.WrapMsg(err, "check auto reply", "from", fromUser, "to", toUser)
	}
	return exists, nil
}
