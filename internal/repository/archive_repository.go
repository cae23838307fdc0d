package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"guptaai/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// gormArchive 是账号归档的 GORM 实现，每个 key 一行，整段覆盖写入。
type gormArchive struct {
	db    *gorm.DB
	limit int
}

// NewGormArchive 创建基于 MySQL（GORM）的账号归档。
func NewGormArchive(db *gorm.DB, limit int) ConversationStore {
	return &gormArchive{db: db, limit: limit}
}

func (r *gormArchive) Get(ctx context.Context, key string) (model.Conversation, error) {
	var rec model.ConversationRecord
	err := r.db.WithContext(ctx).Where("record_key = ?", key).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get archive: %w", err)
	}
	return model.DecodeConversation([]byte(rec.Messages))
}

func (r *gormArchive) Set(ctx context.Context, key string, conv model.Conversation) error {
	data, err := encodeConversation(conv, r.limit)
	if err != nil {
		return err
	}
	rec := model.ConversationRecord{
		RecordKey: key,
		Messages:  string(data),
		UpdatedAt: time.Now(),
	}
	// 后写者覆盖：存在则整体更新
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "record_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"messages", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to save archive: %w", err)
	}
	return nil
}

func (r *gormArchive) Remove(ctx context.Context, key string) error {
	err := r.db.WithContext(ctx).Where("record_key = ?", key).Delete(&model.ConversationRecord{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete archive: %w", err)
	}
	return nil
}
