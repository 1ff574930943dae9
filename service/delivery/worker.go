package delivery

import (
	"context"
	"strconv"
	"time"

	"GotMail/logger"
	"GotMail/module/mailbox/event"
	"GotMail/module/mailbox/model"
)

// Notifier 站内通知口, 账号模块实现。
type Notifier interface {
	NotifyUser(ctx context.Context, userID, message, ntype, relatedEmailID string) error
}

// AutoReplier 自动回复评估口, 信箱模块实现。
type AutoReplier interface {
	EvaluateAutoReply(ctx context.Context, job model.DeliveryJob) error
}

type WorkerConfig struct {
	Notifier Notifier
	Replier  AutoReplier
	Pub      *event.Publisher
	Idem     IdemStore
	IdemTTL  time.Duration
}

// Worker 消费一跳投递: 站内通知、NewMessage 推送、自动回复评估。
// Kafka 消费组和进程内分片跑的是同一份逻辑。
type Worker struct {
	notifier Notifier
	replier  AutoReplier
	pub      *event.Publisher
	idem     IdemStore
	idemTTL  time.Duration
}

func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.IdemTTL <= 0 {
		cfg.IdemTTL = 24 * time.Hour
	}
	if cfg.Idem == nil {
		cfg.Idem = NewMemIdem(cfg.IdemTTL)
	}
	return &Worker{
		notifier: cfg.Notifier,
		replier:  cfg.Replier,
		pub:      cfg.Pub,
		idem:     cfg.Idem,
		idemTTL:  cfg.IdemTTL,
	}
}

type newMailPayload struct {
	EmailID int64  `json:"email_id,string"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	Field   string `json:"field"`
}

// Process 幂等闸在最前, 重复投递直接吞掉。后面三步彼此独立,
// 单步失败记日志不拦别的步骤。
func (w *Worker) Process(ctx context.Context, job model.DeliveryJob) error {
	seen, err := w.idem.SeenOnce(ctx, "mail:job:"+job.JobID, w.idemTTL)
	if err != nil {
		// 幂等存储失效时宁可重复也不丢投递
		logger.Warnf("[Delivery] idem check failed job=%s err=%v", job.JobID, err)
	} else if seen {
		logger.Debugf("[Delivery] duplicate job skipped job=%s", job.JobID)
		return nil
	}

	msg := "New mail from " + job.SenderAddr
	if job.IsAutoReplied {
		msg = "Auto-reply from " + job.SenderAddr
	}
	if job.Subject != "" {
		msg += ": " + job.Subject
	}
	if w.notifier != nil {
		if err := w.notifier.NotifyUser(ctx, job.RecipientID, msg, "email", strconv.FormatInt(job.EmailID, 10)); err != nil {
			logger.Warnf("[Delivery] notify failed job=%s user=%s err=%v", job.JobID, job.RecipientID, err)
		}
	}

	if w.pub != nil {
		payload := newMailPayload{
			EmailID: job.EmailID,
			From:    job.SenderAddr,
			Subject: job.Subject,
			Field:   job.Field,
		}
		if _, err := w.pub.PublishJSON(ctx, job.RecipientID, event.KindNewMessage, payload); err != nil {
			logger.Warnf("[Delivery] NewMessage degraded job=%s err=%v", job.JobID, err)
		}
	}

	if w.replier != nil {
		if err := w.replier.EvaluateAutoReply(ctx, job); err != nil {
			logger.Warnf("[Delivery] auto reply eval failed job=%s err=%v", job.JobID, err)
		}
	}
	return nil
}
