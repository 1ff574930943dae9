package delivery

import (
	"strings"
	"time"

	"github.com/Shopify/sarama"

	"GotMail/logger"
	"GotMail/tools/errs"
)

var (
	KafkaClient sarama.Client
	SyncProd    sarama.SyncProducer
)

func BuildBaseConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = Cfg.KafkaVersion

	// Producer
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	if Cfg.ProducerRetries <= 0 {
		Cfg.ProducerRetries = 1
	}
	cfg.Producer.Retry.Max = Cfg.ProducerRetries
	cfg.Producer.Partitioner = sarama.NewHashPartitioner // Key 控制分区, 同收件人保序
	switch strings.ToLower(Cfg.Compression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	// Consumer
	switch strings.ToLower(Cfg.InitialOffset) {
	case "oldest":
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Return.Errors = true

	// Net
	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}

// InitKafka 建连 + 同步生产者 + 确保 topic 存在。Brokers 为空时是显式错误,
// 调用方应该先判断再进 Kafka 模式。
func InitKafka() error {
	if len(Cfg.Brokers) == 0 {
		return errs.New("kafka brokers not configured")
	}

	cfg := BuildBaseConfig()
	c, err := sarama.NewClient(Cfg.Brokers, cfg)
	if err != nil {
		return errs.WrapMsg(err, "kafka client", "brokers", strings.Join(Cfg.Brokers, ","))
	}
	KafkaClient = c

	p, err := sarama.NewSyncProducerFromClient(c)
	if err != nil {
		return errs.WrapMsg(err, "kafka sync producer")
	}
	SyncProd = p

	admin, err := sarama.NewClusterAdmin(Cfg.Brokers, BuildBaseConfig())
	if err != nil {
		return errs.WrapMsg(err, "kafka cluster admin")
	}
	defer admin.Close()
	if err := EnsureTopic(admin); err != nil {
		return err
	}

	logger.Infof("[Delivery] kafka ready brokers=%v topic=%s", Cfg.Brokers, Cfg.Topic)
	return nil
}

func CloseKafka() {
	if SyncProd != nil {
		_ = SyncProd.Close()
	}
	if KafkaClient != nil {
		_ = KafkaClient.Close()
	}
}
