package repository

import (
	"guptaai/internal/model"

	"gorm.io/gorm"
)

// OCRLogRepository 负责 OCR 日志的持久化。
type OCRLogRepository interface {
	Create(entry *model.OCRLog) error
	FindByEmail(email string, limit int) ([]model.OCRLog, error)
}

type ocrLogRepository struct {
	db *gorm.DB
}

// NewOCRLogRepository 创建一个新的 OCRLogRepository 实例。
func NewOCRLogRepository(db *gorm.DB) OCRLogRepository {
	return &ocrLogRepository{db: db}
}

func (r *ocrLogRepository) Create(entry *model.OCRLog) error {
	return r.db.Create(entry).Error
}

// FindByEmail 按时间倒序返回某账号的 OCR 日志。
func (r *ocrLogRepository) FindByEmail(email string, limit int) ([]model.OCRLog, error) {
	var logs []model.OCRLog
	q := r.db.Where("email = ?", email).Order("time desc, id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&logs).Error
	return logs, err
}
