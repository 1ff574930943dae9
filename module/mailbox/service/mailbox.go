package service

import (
	"context"
	"strings"
	"time"

	"GotMail/logger"
	"GotMail/module/mailbox/event"
	"GotMail/module/mailbox/model"
	"GotMail/module/mailbox/store"
	"GotMail/tools/errs"
	"GotMail/tools/ids"
)

// Resolver 收件地址和本站用户的互查, 账号模块实现。
type Resolver interface {
	ResolveAddress(ctx context.Context, addr string) (userID string, err error)
	AddressOf(ctx context.Context, userID string) (addr string, err error)
}

// Enqueuer 投递管线入口, 可能走 Kafka 也可能同进程直调。
type Enqueuer interface {
	Enqueue(ctx context.Context, jobs []model.DeliveryJob) error
}

type Config struct {
	Pub      *event.Publisher
	Resolver Resolver
	Queue    Enqueuer
}

type Service struct {
	pub      *event.Publisher
	resolver Resolver
	queue    Enqueuer
	clock    func() time.Time
}

func New(cfg Config) *Service {
	return &Service{
		pub:      cfg.Pub,
		resolver: cfg.Resolver,
		queue:    cfg.Queue,
		clock:    time.Now,
	}
}

// SetQueue / SetResolver 晚绑定。worker 侧反过来依赖本服务做自动回复,
// 账号服务的 Provision 又指回这里, 环上必有一头后注入, 启动时在
// 路由挂载前补齐即可。
func (s *Service) SetQueue(q Enqueuer) { s.queue = q }

func (s *Service) SetResolver(r Resolver) { s.resolver = r }

// publish 尽力而为。写库已提交, 事件降级只记日志不回滚。
func (s *Service) publish(ctx context.Context, userID string, kind event.Kind, v any) {
	if s.pub == nil {
		return
	}
	if _, err := s.pub.PublishJSON(ctx, userID, kind, v); err != nil {
		logger.Warnf("[Mailbox] publish %s degraded user=%s err=%v", kind, userID, err)
	}
}

// ===== 发信 =====

type SendParams struct {
	To          []string `json:"to"`
	Cc          []string `json:"cc"`
	Bcc         []string `json:"bcc"`
	Subject     string   `json:"subject"`
	Body        string   `json:"body"`
	ReplyTo     int64    `json:"reply_to,string"`
	DraftID     int64    `json:"draft_id,string"` // 非 0 表示把已有草稿改写/发出
	SaveAsDraft bool     `json:"save_as_draft"`
}

type resolvedRcpt struct {
	userID string
	field  string
}

// resolveRecipients 地址去重后解析成本站用户。同一用户出现在多个
// 栏位时按 to > cc > bcc 取第一次。
func (s *Service) resolveRecipients(ctx context.Context, p SendParams) ([]resolvedRcpt, error) {
	seen := make(map[string]bool)
	var out []resolvedRcpt

	add := func(addrs []string, field string) error {
		for _, a := range addrs {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" {
				continue
			}
			uid, err := s.resolver.ResolveAddress(ctx, a)
			if err != nil {
				return errs.ErrRecordNotFound.WrapMsg("no such mailbox", "addr", a)
			}
			if seen[uid] {
				continue
			}
			seen[uid] = true
			out = append(out, resolvedRcpt{userID: uid, field: field})
		}
		return nil
	}

	if err := add(p.To, model.FieldTo); err != nil {
		return nil, err
	}
	if err := add(p.Cc, model.FieldCc); err != nil {
		return nil, err
	}
	if err := add(p.Bcc, model.FieldBcc); err != nil {
		return nil, err
	}
	return out, nil
}

func joinAddrs(addrs []string) string {
	var kept []string
	for _, a := range addrs {
		if a = strings.TrimSpace(a); a != "" {
			kept = append(kept, strings.ToLower(a))
		}
	}
	return strings.Join(kept, ", ")
}

// Send 落库后把每个收件副本交给投递管线。草稿只落发件人副本,
// 不解析收件人也不投递。
func (s *Service) Send(ctx context.Context, senderID string, p SendParams) (*model.MailItem, error) {
	senderAddr, err := s.resolver.AddressOf(ctx, senderID)
	if err != nil {
		return nil, err
	}

	var rcpts []resolvedRcpt
	if !p.SaveAsDraft {
		if rcpts, err = s.resolveRecipients(ctx, p); err != nil {
			return nil, err
		}
		if len(rcpts) == 0 {
			return nil, errs.ErrArgs.WrapMsg("at least one recipient required")
		}
	}

	now := s.clock().UTC()
	headers := map[string]string{"from": senderAddr}
	if v := joinAddrs(p.To); v != "" {
		headers["to"] = v
	}
	if v := joinAddrs(p.Cc); v != "" {
		headers["cc"] = v
	}
	// bcc 不进头部

	e := &model.Email{
		EmailID: ids.Generate(),
		Sender:  senderID,
		Subject: p.Subject,
		Body:    p.Body,
		ReplyTo: p.ReplyTo,
		Headers: headers,
		IsDraft: p.SaveAsDraft,
		SentAt:  now,
	}

	senderFolder := model.FolderSent
	if p.SaveAsDraft {
		senderFolder = model.FolderDrafts
	}
	copies := []model.Recipient{{
		EmailID: e.EmailID,
		UserID:  senderID,
		Field:   model.FieldSender,
		Folder:  senderFolder,
		IsRead:  true,
	}}
	for _, r := range rcpts {
		copies = append(copies, model.Recipient{
			EmailID: e.EmailID,
			UserID:  r.userID,
			Field:   r.field,
			Folder:  model.FolderInbox,
		})
	}

	if p.DraftID != 0 {
		e.EmailID = p.DraftID
		for i := range copies {
			copies[i].EmailID = p.DraftID
		}
		err = store.UpdateDraftMail(ctx, e, copies)
	} else {
		err = store.CreateMail(ctx, e, copies)
	}
	if err != nil {
		return nil, err
	}

	if !p.SaveAsDraft {
		jobs := make([]model.DeliveryJob, 0, len(rcpts))
		for _, r := range rcpts {
			jobs = append(jobs, model.DeliveryJob{
				JobID:         ids.GenerateString(),
				EmailID:       e.EmailID,
				Sender:        senderID,
				SenderAddr:    senderAddr,
				RecipientID:   r.userID,
				Field:         r.field,
				Subject:       e.Subject,
				IsAutoReplied: e.IsAutoReplied,
			})
		}
		if s.queue != nil {
			if err := s.queue.Enqueue(ctx, jobs); err != nil {
				// 信已经在收件人信箱里, 只是通知/事件这条边掉了
				logger.Warnf("[Mailbox] enqueue delivery failed email=%d err=%v", e.EmailID, err)
			}
		}
		logger.Infof("[Mailbox] sent email=%d sender=%s rcpts=%d", e.EmailID, senderID, len(rcpts))
	}

	item := &model.MailItem{
		Email:  *e,
		Field:  model.FieldSender,
		Folder: senderFolder,
		IsRead: true,
	}
	return item, nil
}

// ===== 信箱查询 =====

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *Service) Mailbox(ctx context.Context, userID, box string, limit, offset int) ([]*model.MailItem, error) {
	if box == "" {
		box = model.BoxInbox
	}
	limit, offset = clampPage(limit, offset)
	return store.ListMailbox(ctx, userID, box, limit, offset)
}

func (s *Service) Get(ctx context.Context, userID string, emailID int64) (*model.MailItem, error) {
	return store.GetMail(ctx, emailID, userID)
}

// ===== 副本动作 =====

type readPayload struct {
	EmailID int64 `json:"email_id,string"`
	IsRead  bool  `json:"is_read"`
}

type folderPayload struct {
	EmailID int64  `json:"email_id,string"`
	Change  string `json:"change"`
	LabelID int64  `json:"label_id,string,omitempty"`
}

type deletedPayload struct {
	EmailID int64 `json:"email_id,string"`
}

// ensureVisible 动作没改到任何行时区分“幂等重放”和“查无此信”。
func ensureVisible(ctx context.Context, emailID int64, userID string) error {
	_, err := store.GetMail(ctx, emailID, userID)
	return err
}

func (s *Service) MarkRead(ctx context.Context, userID string, emailID int64, read bool) error {
	changed, err := store.SetRead(ctx, emailID, userID, read)
	if err != nil {
		return err
	}
	if !changed {
		return ensureVisible(ctx, emailID, userID)
	}
	s.publish(ctx, userID, event.KindMessageRead, readPayload{EmailID: emailID, IsRead: read})
	return nil
}

func (s *Service) Star(ctx context.Context, userID string, emailID int64, starred bool) error {
	changed, err := store.SetStarred(ctx, emailID, userID, starred)
	if err != nil {
		return err
	}
	if !changed {
		return ensureVisible(ctx, emailID, userID)
	}
	change := "star"
	if !starred {
		change = "unstar"
	}
	s.publish(ctx, userID, event.KindFolderChanged, folderPayload{EmailID: emailID, Change: change})
	return nil
}

func (s *Service) Trash(ctx context.Context, userID string, emailID int64, trashed bool) error {
	changed, err := store.SetTrashed(ctx, emailID, userID, trashed)
	if err != nil {
		return err
	}
	if !changed {
		return ensureVisible(ctx, emailID, userID)
	}
	change := "trash"
	if !trashed {
		change = "restore"
	}
	s.publish(ctx, userID, event.KindFolderChanged, folderPayload{EmailID: emailID, Change: change})
	return nil
}

// Delete 永久删除自己的副本, 别的收件人不受影响。
func (s *Service) Delete(ctx context.Context, userID string, emailID int64) error {
	deleted, err := store.DeleteCopy(ctx, emailID, userID)
	if err != nil {
		return err
	}
	if !deleted {
		return errs.ErrRecordNotFound.WrapMsg("mail not found", "email", emailID)
	}
	s.publish(ctx, userID, event.KindMessageDeleted, deletedPayload{EmailID: emailID})
	return nil
}
