package model

import (
	"time"

	mgo "GotMail/service/mgo"

	"go.mongodb.org/mongo-driver/mongo"
)

// UserSessionLog 重登/踢出时归档的旧会话
type UserSessionLog struct {
	LogID       string `bson:"session_log_id" json:"session_log_id"` // 雪花ID
	UserSession `bson:",inline"`

	ArchivedAt   time.Time `bson:"archived_at" json:"archived_at"`
	ArchiveCause string    `bson:"archive_cause" json:"archive_cause"` // relogin/revoked
}

func (l *UserSessionLog) GetTableName() string {
	return "user_session_log"
}

func (l *UserSessionLog) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(l.GetTableName())
}
