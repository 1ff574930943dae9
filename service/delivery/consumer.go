package delivery

import (
	"context"
	"errors"

	"github.com/Shopify/sarama"

	"GotMail/logger"
	"GotMail/module/mailbox/model"
	"GotMail/tools/decode"
	"GotMail/tools/errs"
	"GotMail/tools/safe"
)

type consumerHandler struct {
	worker *Worker
}

func (h *consumerHandler) Setup(sarama.ConsumerGroupSession) error {
	logger.Infof("[Delivery] consumer group setup")
	return nil
}

func (h *consumerHandler) Cleanup(sarama.ConsumerGroupSession) error {
	logger.Infof("[Delivery] consumer group cleanup")
	return nil
}

func (h *consumerHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		// 宽松解码, email_id 数字/字符串的生产者都兼容
		job, err := decode.DecodeJSON[model.DeliveryJob](msg.Value)
		if err != nil {
			// 坏消息跳过并提交位点, 不能卡死整个分区
			logger.Errorf("[Delivery] bad job payload partition=%d offset=%d err=%v", msg.Partition, msg.Offset, err)
			session.MarkMessage(msg, "")
			continue
		}
		if err := h.worker.Process(session.Context(), *job); err != nil {
			logger.Errorf("[Delivery] job failed job=%s err=%v", job.JobID, err)
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

// StartConsumerGroup 阻塞消费直到 ctx 取消。再均衡后自动重进循环。
func StartConsumerGroup(ctx context.Context, w *Worker) error {
	group, err := sarama.NewConsumerGroupFromClient(Cfg.GroupID, KafkaClient)
	if err != nil {
		return errs.WrapMsg(err, "create consumer group", "group", Cfg.GroupID)
	}
	defer group.Close()

	safe.SafeGoNamed("delivery-consumer-errors", func() {
		for err := range group.Errors() {
			logger.Errorf("[Delivery] consumer group error: %v", err)
		}
	})

	h := &consumerHandler{worker: w}
	for {
		if err := group.Consume(ctx, []string{Cfg.Topic}, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			logger.Errorf("[Delivery] consume error: %v", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
