package tools

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"
)

// 环境变量：
// NODE_ROLE        (gateway | worker | all，默认 all)
// NODE_ID          (雪花节点号，默认 1)
// HTTP_PORT        (默认 8080)
// BROKER           (redis | nats | memory，默认 redis)
// REDIS_ADDR       (默认 127.0.0.1:6379)
// MONGO_URI        (默认 mongodb://localhost:27017)
// DATABASE_URL     (Postgres DSN)
// NATS_SERVERS     (默认 nats://127.0.0.1:4222)
// KAFKA_BROKERS    (逗号分隔；为空则投递管线走 inline 模式)
// SMTP_ADDR        (为空则系统邮件只记日志)

func GetEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func GetEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func GetEnvBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	return v == "true" || v == "1" || v == "yes"
}

func GetEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// GetEnvList splits a comma separated env value; empty -> nil.
func GetEnvList(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// RandToken returns a 32-hex-char random token (password reset links).
func RandToken() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// RandDigits returns an n-digit numeric code (phone / 2FA verification).
func RandDigits(n int) string {
	if n <= 0 {
		n = 6
	}
	var sb strings.Builder
	for i := 0; i < n; i++ {
		x, _ := rand.Int(rand.Reader, big.NewInt(10))
		sb.WriteString(x.String())
	}
	return sb.String()
}
