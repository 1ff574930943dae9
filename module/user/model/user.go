package model

import (
	"time"

	mgo "GotMail/service/mgo"

	"go.mongodb.org/mongo-driver/mongo"
)

// Status
const (
	UserNormal int32 = 0
	UserBanned int32 = 1
	UserClosed int32 = 2
)

// User 用户主档。偏好（主题/自动回复）在 Postgres user_settings,
// 这里只放账号与安全字段。
type User struct {
	// —— 基础标识 ——
	UserID   string `bson:"user_id" json:"user_id"`   // 全局唯一、不可变（主键）
	Username string `bson:"username" json:"username"` // 登录名, 唯一
	Email    string `bson:"email" json:"email"`       // <username>@<domain>, 唯一
	Phone    string `bson:"phone" json:"phone"`       // 登录/验证手机号, 唯一
	Nickname string `bson:"nickname" json:"nickname"` // 显示名
	FaceURL  string `bson:"face_url" json:"face_url"` // 头像URL
	Bio      string `bson:"bio,omitempty" json:"bio"`

	// —— 凭证与状态 ——
	PasswordHash string `bson:"password_hash" json:"-"` // bcrypt, 永不外发
	Status       int32  `bson:"status,omitempty" json:"status"`

	// —— 验证状态 ——
	PhoneVerified bool `bson:"phone_verified,omitempty" json:"phone_verified"`
	TwoFAEnabled  bool `bson:"two_fa_enabled,omitempty" json:"two_fa_enabled"`

	// —— 一次性验证码（登录二验/手机验证/找回密码）——
	TwoFACode          string     `bson:"two_fa_code,omitempty" json:"-"`
	TwoFACodeExpireAt  *time.Time `bson:"two_fa_code_expire_at,omitempty" json:"-"`
	VerifyCode         string     `bson:"verify_code,omitempty" json:"-"`
	VerifyCodeExpireAt *time.Time `bson:"verify_code_expire_at,omitempty" json:"-"`
	ResetToken         string     `bson:"reset_token,omitempty" json:"-"`
	ResetTokenExpireAt *time.Time `bson:"reset_token_expire_at,omitempty" json:"-"`

	// —— 审计 ——
	LastLoginIP   string     `bson:"last_login_ip,omitempty" json:"-"`
	LastLoginTime *time.Time `bson:"last_login_time,omitempty" json:"last_login_time,omitempty"`

	// —— 时间与扩展 ——
	CreateTime time.Time `bson:"create_time" json:"create_time"`
	UpdateTime time.Time `bson:"update_time" json:"update_time"` // 任何字段变化都刷新
	Ex         string    `bson:"ex,omitempty" json:"-"`          // 预留扩展(JSON)
}

func (u *User) GetUserID() string {
	return u.UserID
}

func (u *User) GetNickname() string {
	return u.Nickname
}

func (u *User) GetTableName() string {
	return "users"
}

func (u *User) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(u.GetTableName())
}
