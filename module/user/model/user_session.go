package model

import (
	"time"

	mgo "GotMail/service/mgo"

	"go.mongodb.org/mongo-driver/mongo"
)

// Session Status
const (
	SessionOnline  = "online"
	SessionOffline = "offline"
	SessionKicked  = "kicked"
	SessionExpired = "expired"
)

// UserSession 登录会话。同一 (user, device_type, device_id) 只保留一条
// 活跃记录, 重登时旧记录归档到 user_session_log。
// 只落 token 哈希, 原始 token 不入库。
type UserSession struct {
	// —— 基础标识 ——
	SessionID string `bson:"session_id" json:"session_id"` // 雪花ID
	UserID    string `bson:"user_id" json:"user_id"`

	// —— 设备与环境 ——
	DeviceType string `bson:"device_type" json:"device_type"` // web/ios/android/pc
	DeviceID   string `bson:"device_id,omitempty" json:"device_id"`
	IP         string `bson:"ip" json:"ip"`
	UserAgent  string `bson:"user_agent,omitempty" json:"user_agent"`

	// —— 认证 ——
	AccessTokenHash string `bson:"access_token_hash" json:"-"`
	IsValid         bool   `bson:"is_valid" json:"is_valid"`

	// —— 时间与状态 ——
	LoginTime  time.Time  `bson:"login_time" json:"login_time"`
	LastActive time.Time  `bson:"last_active" json:"last_active"`
	ExpireTime time.Time  `bson:"expire_time" json:"expire_time"` // 业务过期
	ExpireAt   time.Time  `bson:"expire_at" json:"-"`             // TTL索引用
	LogoutTime *time.Time `bson:"logout_time,omitempty" json:"logout_time,omitempty"`
	Status     string     `bson:"status" json:"status"`
	Reason     string     `bson:"reason,omitempty" json:"reason,omitempty"`

	CreateTime time.Time `bson:"create_time" json:"create_time"`
	UpdateTime time.Time `bson:"update_time" json:"update_time"`
}

func (s *UserSession) GetTableName() string {
	return "sessions"
}

func (s *UserSession) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(s.GetTableName())
}
