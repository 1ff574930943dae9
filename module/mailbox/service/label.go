package service

import (
	"context"
	"regexp"
	"strings"

	"GotMail/module/mailbox/event"
	"GotMail/module/mailbox/model"
	"GotMail/module/mailbox/store"
	"GotMail/tools/errs"
	"GotMail/tools/ids"
)

var colorRe = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

const defaultLabelColor = "#808080"

func (s *Service) Labels(ctx context.Context, userID string) ([]*model.Label, error) {
	return store.ListLabels(ctx, userID)
}

func (s *Service) CreateLabel(ctx context.Context, userID, name, color string) (*model.Label, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 50 {
		return nil, errs.ErrArgs.WrapMsg("label name must be 1~50 chars")
	}
	if color == "" {
		color = defaultLabelColor
	}
	if !colorRe.MatchString(color) {
		return nil, errs.ErrArgs.WrapMsg("color must look like #RRGGBB", "color", color)
	}

	l := &model.Label{
		LabelID:    ids.Generate(),
		UserID:     userID,
		Name:       name,
		Color:      color,
		CreateTime: s.clock().UTC(),
	}
	if err := store.CreateLabel(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// UpdateLabel 只改送来的字段, nil 表示保持原值。
func (s *Service) UpdateLabel(ctx context.Context, userID string, labelID int64, name, color *string) (*model.Label, error) {
	l, err := store.GetLabel(ctx, userID, labelID)
	if err != nil {
		return nil, err
	}
	if name != nil {
		n := strings.TrimSpace(*name)
		if n == "" || len(n) > 50 {
			return nil, errs.ErrArgs.WrapMsg("label name must be 1~50 chars")
		}
		l.Name = n
	}
	if color != nil {
		if !colorRe.MatchString(*color) {
			return nil, errs.ErrArgs.WrapMsg("color must look like #RRGGBB", "color", *color)
		}
		l.Color = *color
	}
	if err := store.UpdateLabel(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

func (s *Service) DeleteLabel(ctx context.Context, userID string, labelID int64) error {
	return store.DeleteLabel(ctx, userID, labelID)
}

// AttachLabel 先验标签属主和信件可见性再贴。重复贴是幂等的,
// 不再发事件。
func (s *Service) AttachLabel(ctx context.Context, userID string, labelID, emailID int64) error {
	if _, err := store.GetLabel(ctx, userID, labelID); err != nil {
		return err
	}
	if err := ensureVisible(ctx, emailID, userID); err != nil {
		return err
	}
	attached, err := store.AttachLabel(ctx, labelID, emailID)
	if err != nil {
		return err
	}
	if attached {
		s.publish(ctx, userID, event.KindFolderChanged, folderPayload{EmailID: emailID, Change: "label", LabelID: labelID})
	}
	return nil
}

func (s *Service) DetachLabel(ctx context.Context, userID string, labelID, emailID int64) error {
	if _, err := store.GetLabel(ctx, userID, labelID); err != nil {
		return err
	}
	if err := ensureVisible(ctx, emailID, userID); err != nil {
		return err
	}
	detached, err := store.DetachLabel(ctx, labelID, emailID)
	if err != nil {
		return err
	}
	if detached {
		s.publish(ctx, userID, event.KindFolderChanged, folderPayload{EmailID: emailID, Change: "unlabel", LabelID: labelID})
	}
	return nil
}
