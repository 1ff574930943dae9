package delivery

import (
	"errors"

	"github.com/Shopify/sarama"

	"GotMail/logger"
	"GotMail/tools/errs"
)

// EnsureTopic 不存在就建, 已存在且分区数低于期望就扩
// （Kafka 只支持加分区, 不能减）。
func EnsureTopic(admin sarama.ClusterAdmin) error {
	t := Cfg.Topic
	descs, err := admin.DescribeTopics([]string{t})
	if err != nil {
		return errs.WrapMsg(err, "describe topic", "topic", t)
	}
	exists := len(descs) == 1 && descs[0].Err == sarama.ErrNoError

	minISR := "1"
	if Cfg.ReplicationFactor >= 3 {
		minISR = "2"
	}

	if !exists {
		td := &sarama.TopicDetail{
			NumPartitions:     Cfg.Partitions,
			ReplicationFactor: Cfg.ReplicationFactor,
			ConfigEntries: map[string]*string{
				"cleanup.policy":                 strPtr("delete"),
				"min.insync.replicas":            strPtr(minISR),
				"unclean.leader.election.enable": strPtr("false"),
				"compression.type":               strPtr("producer"),
			},
		}
		if err := admin.CreateTopic(t, td, false); err != nil {
			// CreateTopic 可能返回 *sarama.TopicError 或通用 error
			var te *sarama.TopicError
			if errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists {
				logger.Infof("[Delivery] topic exists (race): %s", t)
				return nil
			}
			if errors.Is(err, sarama.ErrTopicAlreadyExists) {
				logger.Infof("[Delivery] topic exists (race): %s", t)
				return nil
			}
			return errs.WrapMsg(err, "create topic", "topic", t)
		}
		logger.Infof("[Delivery] topic created: %s (partitions=%d, rf=%d)", t, Cfg.Partitions, Cfg.ReplicationFactor)
		return nil
	}

	curParts := int32(len(descs[0].Partitions))
	if Cfg.Partitions > curParts {
		if err := admin.CreatePartitions(t, Cfg.Partitions, nil, false); err != nil {
			return errs.WrapMsg(err, "expand partitions", "topic", t, "from", curParts, "to", Cfg.Partitions)
		}
		logger.Infof("[Delivery] partitions expanded: %s (%d -> %d)", t, curParts, Cfg.Partitions)
	} else {
		logger.Infof("[Delivery] topic exists: %s (partitions=%d)", t, curParts)
	}
	return nil
}

func strPtr(s string) *string { return &s }
