package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"GotMail/module/mailbox/model"
	"GotMail/tools/errs"
)

// 23505 = unique_violation
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func CreateLabel(ctx context.Context, l *model.Label) error {
	_, err := Pool().Exec(ctx, `
		INSERT INTO labels (label_id, user_id, name, color, create_time)
		VALUES ($1, $2, $3, $4, $5)
	`, l.LabelID, l.UserID, l.Name, l.Color, l.CreateTime.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return errs.ErrDuplicate.WrapMsg("label name taken", "name", l.Name)
		}
		return errs.WrapMsg(err, "create label", "user", l.UserID, "name", l.Name)
	}
	return nil
}

func ListLabels(ctx context.Context, userID string) ([]*model.Label, error) {
	rows, err := Pool().Query(ctx, `
		SELECT label_id, user_id, name, color, create_time
		FROM labels
		WHERE user_id = $1
		ORDER BY create_time
	`, userID)
	if err != nil {
		return nil, errs.WrapMsg(err, "list labels", "user", userID)
	}
	defer rows.Close()

	var out []*model.Label
	for rows.Next() {
		var (
			l  model.Label
			ct time.Time
		)
		if err := rows.Scan(&l.LabelID, &l.UserID, &l.Name, &l.Color, &ct); err != nil {
			return nil, errs.WrapMsg(err, "scan label")
		}
		l.CreateTime = ct.UTC()
		out = append(out, &l)
	}
	return out, rows.Err()
}

// GetLabel 带属主过滤, 拿不到别人的标签。
func GetLabel(ctx context.Context, userID string, labelID int64) (*model.Label, error) {
	var (
		l  model.Label
		ct time.Time
	)
	err := Pool().QueryRow(ctx, `
		SELECT label_id, user_id, name, color, create_time
		FROM labels
		WHERE label_id = $1 AND user_id = $2
	`, labelID, userID).Scan(&l.LabelID, &l.UserID, &l.Name, &l.Color, &ct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrRecordNotFound.WrapMsg("label not found", "label", labelID)
		}
		return nil, errs.WrapMsg(err, "get label", "label", labelID)
	}
	l.CreateTime = ct.UTC()
	return &l, nil
}

func UpdateLabel(ctx context.Context, l *model.Label) error {
	tag, err := Pool().Exec(ctx, `
		UPDATE labels SET name = $3, color = $4
		WHERE label_id = $1 AND user_id = $2
	`, l.LabelID, l.UserID, l.Name, l.Color)
	if err != nil {
		if isUniqueViolation(err) {
			return errs.ErrDuplicate.WrapMsg("label name taken", "name", l.Name)
		}
		return errs.WrapMsg(err, "update label", "label", l.LabelID)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrRecordNotFound.WrapMsg("label not found", "label", l.LabelID)
	}
	return nil
}

func DeleteLabel(ctx context.Context, userID string, labelID int64) error {
	tag, err := Pool().Exec(ctx, `
		DELETE FROM labels WHERE label_id = $1 AND user_id = $2
	`, labelID, userID)
	if err != nil {
		return errs.WrapMsg(err, "delete label", "label", labelID)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrRecordNotFound.WrapMsg("label not found", "label", labelID)
	}
	return nil
}

// AttachLabel 幂等, 已贴过返回 false。
func AttachLabel(ctx context.Context, labelID, emailID int64) (bool, error) {
	tag, err := Pool().Exec(ctx, `
		INSERT INTO email_labels (label_id, email_id)
		VALUES ($1, $2)
		ON CONFLICT (label_id, email_id) DO NOTHING
	`, labelID, emailID)
	if err != nil {
		return false, errs.WrapMsg(err, "attach label", "label", labelID, "email", emailID)
	}
	return tag.RowsAffected() > 0, nil
}

func DetachLabel(ctx context.Context, labelID, emailID int64) (bool, error) {
	tag, err := Pool().Exec(ctx, `
		DELETE FROM email_labels WHERE label_id = $1 AND email_id = $2
	`, labelID, emailID)
	if err != nil {
		return false, errs.WrapMsg(err, "detach label", "label", labelID, "email", emailID)
	}
	return tag.RowsAffected() > 0, nil
}

func labelIDsOfMail(ctx context.Context, emailID int64, userID string) ([]int64, error) {
	rows, err := Pool().Query(ctx, `
		SELECT l.label_id
		FROM email_labels el
		JOIN labels l ON l.label_id = el.label_id
		WHERE el.email_id = $1 AND l.user_id = $2
		ORDER BY l.create_time
	`, emailID, userID)
	if err != nil {
		return nil, errs.WrapMsg(err, "labels of mail", "email", emailID)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errs.WrapMsg(err, "scan label id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
