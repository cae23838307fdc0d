package model

import "time"

// ConversationRecord 是账号归档在 MySQL 中的一行，Messages 为整段对话的 JSON。
type ConversationRecord struct {
	RecordKey string    `gorm:"column:record_key;type:varchar(255);primaryKey"`
	Messages  string    `gorm:"type:longtext;not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (ConversationRecord) TableName() string {
	return "chat_archives"
}
