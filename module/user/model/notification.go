package model

import (
	"time"

	mgo "GotMail/service/mgo"

	"go.mongodb.org/mongo-driver/mongo"
)

// Notification Type
const (
	NotifyTypeEmail  = "email"
	NotifyTypeSystem = "system"
)

// Notification 站内通知, 投递 worker 为每个收件人各写一条
type Notification struct {
	NotificationID string    `bson:"notification_id" json:"notification_id"` // 雪花ID
	UserID         string    `bson:"user_id" json:"user_id"`
	Message        string    `bson:"message" json:"message"`
	Type           string    `bson:"type" json:"type"` // email/system
	RelatedEmailID string    `bson:"related_email_id,omitempty" json:"related_email_id,omitempty"`
	IsRead         bool      `bson:"is_read" json:"is_read"`
	CreateTime     time.Time `bson:"create_time" json:"create_time"`
}

func (n *Notification) GetTableName() string {
	return "notifications"
}

func (n *Notification) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(n.GetTableName())
}
