package delivery

import (
	"encoding/json"

	"github.com/Shopify/sarama"

	"GotMail/global"
	"GotMail/logger"
	"GotMail/module/mailbox/model"
	"GotMail/tools/errs"
)

// SendJob 同步产一跳投递。acks=all, key 按收件人哈希,
// 同一收件人的投递在分区内有序。
func SendJob(job model.DeliveryJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return errs.WrapMsg(err, "marshal delivery job", "job", job.JobID)
	}
	msg := &sarama.ProducerMessage{
		Topic: Cfg.Topic,
		Key:   sarama.StringEncoder(global.DeliveryKey(job.RecipientID)),
		Value: sarama.ByteEncoder(data),
	}
	partition, offset, err := SyncProd.SendMessage(msg)
	if err != nil {
		return errs.WrapMsg(err, "produce delivery job", "job", job.JobID)
	}
	logger.Debugf("[Delivery] produced job=%s partition=%d offset=%d", job.JobID, partition, offset)
	return nil
}
