package delivery

import (
	"github.com/Shopify/sarama"

	"GotMail/tools"
)

// In-code 配置（不读 YAML）, 环境变量只覆盖节点相关的几项
type AppConfig struct {
	Brokers           []string
	GroupID           string
	Topic             string
	Partitions        int32 // 单机演示 8, 生产按量扩
	ReplicationFactor int16 // 单机=1, 生产=3
	ProducerRetries   int
	Compression       string // none/snappy/lz4/zstd
	InitialOffset     string // newest/oldest
	KafkaVersion      sarama.KafkaVersion
	InlineWorkers     int // 不接 Kafka 时进程内消费的分片数
}

// 默认配置（可直接改）。Brokers 为空 = 不接 Kafka, 投递走进程内分片。
var Cfg = AppConfig{
	Brokers:           nil,
	GroupID:           "gotmail-delivery",
	Topic:             "mail.delivery",
	Partitions:        8,
	ReplicationFactor: 1,
	ProducerRetries:   5,
	Compression:       "snappy",
	InitialOffset:     "newest",
	KafkaVersion:      sarama.V2_1_0_0,
	InlineWorkers:     4,
}

// LoadFromEnv KAFKA_BROKERS 不设就保持进程内模式
func LoadFromEnv() {
	Cfg.Brokers = tools.GetEnvList("KAFKA_BROKERS")
	Cfg.GroupID = tools.GetEnv("KAFKA_GROUP", Cfg.GroupID)
	Cfg.Topic = tools.GetEnv("KAFKA_TOPIC", Cfg.Topic)
}
