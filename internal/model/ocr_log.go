package model

import "time"

// OCRLog 记录一次 OCR 识别结果，对应 ocr_logs 表。
type OCRLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Email     string    `gorm:"type:varchar(255);index;not null" json:"email"`
	Text      string    `gorm:"type:longtext;not null" json:"text"`
	Time      int64     `gorm:"not null" json:"time"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (OCRLog) TableName() string {
	return "ocr_logs"
}
