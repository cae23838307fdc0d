// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"guptaai/internal/model"
)

var (
	// ErrNotFound 表示 key 不存在，属于正常情况而不是故障。
	ErrNotFound = errors.New("record not found")
	// ErrPayloadTooLarge 表示序列化后的对话超过了存储上限，写入被拒绝而不是截断。
	ErrPayloadTooLarge = errors.New("payload too large")
)

// ConversationStore 是标签页缓存与账号归档共用的键值接口。
type ConversationStore interface {
	Get(ctx context.Context, key string) (model.Conversation, error)
	Set(ctx context.Context, key string, conv model.Conversation) error
	// Remove 删除 key；key 不存在时不返回错误。
	Remove(ctx context.Context, key string) error
}

// PrefixRemover 由支持按前缀批量删除的存储实现，用于清空某账号所有标签页的缓存。
type PrefixRemover interface {
	RemovePrefix(ctx context.Context, prefix string) error
}

// TabKey 返回标签页缓存的 key：账号身份 + 标签页会话身份。
func TabKey(account, session string) string {
	return fmt.Sprintf("chat:tab:%s:%s", model.NormalizeIdentity(account), session)
}

// TabKeyPrefix 返回某账号所有标签页缓存 key 的公共前缀。
func TabKeyPrefix(account string) string {
	return fmt.Sprintf("chat:tab:%s:", model.NormalizeIdentity(account))
}

// ArchiveKey 返回账号归档的 key：仅账号身份。
func ArchiveKey(account string) string {
	return fmt.Sprintf("chat:archive:%s", model.NormalizeIdentity(account))
}

// encodeConversation 序列化对话并检查大小上限，limit <= 0 表示不限制。
func encodeConversation(conv model.Conversation, limit int) ([]byte, error) {
	if conv == nil {
		conv = model.Conversation{}
	}
	data, err := json.Marshal(conv)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal conversation: %w", err)
	}
	if limit > 0 && len(data) > limit {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit %d", ErrPayloadTooLarge, len(data), limit)
	}
	return data, nil
}
