package global

import (
	"hash/crc32"
)

// 投递管线的 Kafka key 约定: 以收件人作 key, 同一收件人的投递
// 永远落在同一分区, 消费侧天然保序。

func DeliveryKey(recipient string) string {
	return "rcpt:" + recipient
}

// HashPartition 数值型分区, 自定义 Partitioner 或人工定位分区时用
func HashPartition(key string, numPartitions int) int32 {
	checksum := crc32.ChecksumIEEE([]byte(key))
	return int32(checksum % uint32(numPartitions))
}
