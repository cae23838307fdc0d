package service

import (
	"context"
	"errors"

	"guptaai/internal/model"
	"guptaai/internal/repository"
	"guptaai/pkg/log"
)

// ErrGuestDevice 表示访客请求没有绑定设备，不能读写所有访客共享的记录。
var ErrGuestDevice = errors.New("guest history requires a device id")

// HistoryService 是 /api/history 背后的服务端账号归档。
type HistoryService interface {
	Get(ctx context.Context, account string) model.Conversation
	// Save 整体覆盖归档；空对话不会覆盖已有记录。
	Save(ctx context.Context, account string, conv model.Conversation) error
	Delete(ctx context.Context, account string) error
}

type historyService struct {
	archive repository.ConversationStore
	tabs    repository.ConversationStore
}

// NewHistoryService 创建一个新的 HistoryService 实例。
func NewHistoryService(archive, tabs repository.ConversationStore) HistoryService {
	return &historyService{archive: archive, tabs: tabs}
}

// Get 读取归档，没有记录或读取失败时返回空对话。
func (s *historyService) Get(ctx context.Context, account string) model.Conversation {
	if sharedGuest(account) {
		return model.Conversation{}
	}
	conv, err := s.archive.Get(ctx, repository.ArchiveKey(account))
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			log.Warnw("读取历史失败", "account", model.NormalizeIdentity(account), "error", err)
		}
		return model.Conversation{}
	}
	return conv
}

func (s *historyService) Save(ctx context.Context, account string, conv model.Conversation) error {
	if sharedGuest(account) {
		return ErrGuestDevice
	}
	valid := make(model.Conversation, 0, len(conv))
	for _, m := range conv {
		if m.Valid() {
			valid = append(valid, m)
		}
	}
	if valid.IsEmpty() {
		return nil
	}
	return s.archive.Set(ctx, repository.ArchiveKey(account), valid)
}

// Delete 删除归档以及该账号所有标签页的缓存记录。
func (s *historyService) Delete(ctx context.Context, account string) error {
	if sharedGuest(account) {
		return ErrGuestDevice
	}
	if err := s.archive.Remove(ctx, repository.ArchiveKey(account)); err != nil {
		return err
	}
	if remover, ok := s.tabs.(repository.PrefixRemover); ok {
		if err := remover.RemovePrefix(ctx, repository.TabKeyPrefix(account)); err != nil {
			log.Warnw("批量删除标签页缓存失败", "account", model.NormalizeIdentity(account), "error", err)
		}
	}
	return nil
}

func sharedGuest(account string) bool {
	return model.NormalizeIdentity(account) == model.GuestIdentity
}
