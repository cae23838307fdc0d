// Package synchronizer 维护一个标签页当前账号下唯一的内存对话，
// 并让标签页缓存和账号归档两个存储与之保持一致。
//
// 存储只通过注入的 ConversationStore 访问。所有存储错误只记录日志，
// 不会返回给调用方，此时内存中的对话仍然是权威副本。
package synchronizer

import (
	"context"
	"errors"
	"sync"

	"guptaai/internal/model"
	"guptaai/internal/repository"
	"guptaai/pkg/log"
)

// Synchronizer 可以被并发调用，内部用互斥锁串行化所有操作。
type Synchronizer struct {
	mu      sync.Mutex
	tabs    repository.ConversationStore
	archive repository.ConversationStore

	account string
	session string
	conv    model.Conversation
}

// New 创建一个尚未加载的 Synchronizer，初始身份为 guest。
func New(tabs, archive repository.ConversationStore, session string) *Synchronizer {
	return &Synchronizer{
		tabs:    tabs,
		archive: archive,
		account: model.GuestIdentity,
		session: session,
		conv:    model.Conversation{},
	}
}

// Load 依次尝试标签页缓存、账号归档，都没有时返回空对话，并替换内存状态。
func (s *Synchronizer) Load(ctx context.Context, account, session string) model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx, account, session)
}

func (s *Synchronizer) loadLocked(ctx context.Context, account, session string) model.Conversation {
	account = model.NormalizeIdentity(account)
	s.account = account
	s.session = session
	s.conv = s.restore(ctx, account, session)
	return s.conv.Clone()
}

func (s *Synchronizer) restore(ctx context.Context, account, session string) model.Conversation {
	if conv, ok := s.read(ctx, s.tabs, repository.TabKey(account, session)); ok {
		return conv
	}
	if conv, ok := s.read(ctx, s.archive, repository.ArchiveKey(account)); ok {
		return conv
	}
	return model.Conversation{}
}

// read 把缺失、损坏和读取失败都当作“没有记录”。
func (s *Synchronizer) read(ctx context.Context, store repository.ConversationStore, key string) (model.Conversation, bool) {
	conv, err := store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			log.Warnw("读取对话失败，按空记录处理", "key", key, "error", err)
		}
		return nil, false
	}
	if conv.IsEmpty() {
		return nil, false
	}
	return conv, true
}

// OnChange 把对话镜像到两个存储：非空时整体覆盖写入标签页缓存和账号归档；
// 为空时只删除标签页缓存记录，账号归档保持不变。
func (s *Synchronizer) OnChange(ctx context.Context, conv model.Conversation, account, session string) {
	account = model.NormalizeIdentity(account)
	tabKey := repository.TabKey(account, session)
	if conv.IsEmpty() {
		s.remove(ctx, s.tabs, tabKey)
		return
	}
	if err := s.tabs.Set(ctx, tabKey, conv); err != nil {
		log.Warnw("写入标签页缓存失败", "key", tabKey, "error", err)
	}
	archiveKey := repository.ArchiveKey(account)
	if err := s.archive.Set(ctx, archiveKey, conv); err != nil {
		log.Warnw("写入账号归档失败", "key", archiveKey, "error", err)
	}
}

func (s *Synchronizer) remove(ctx context.Context, store repository.ConversationStore, key string) {
	if err := store.Remove(ctx, key); err != nil {
		log.Warnw("删除对话记录失败", "key", key, "error", err)
	}
}

// Append 追加一条消息并立即同步到存储，返回追加后的对话副本。
// 不合法的消息（未知角色或空内容）被忽略。
func (s *Synchronizer) Append(ctx context.Context, msg model.Message) model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !msg.Valid() {
		log.Warnw("忽略不合法的消息", "role", msg.Role, "account", s.account)
		return s.conv.Clone()
	}
	s.conv = s.conv.Append(msg)
	s.OnChange(ctx, s.conv, s.account, s.session)
	return s.conv.Clone()
}

// Flush 用当前对话强制执行一次 OnChange，用于后台超时前的最后一次归档。
func (s *Synchronizer) Flush(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv.IsEmpty() {
		return
	}
	s.OnChange(ctx, s.conv, s.account, s.session)
}

// ClearActive 清空内存对话并删除标签页缓存记录，账号归档不受影响。
func (s *Synchronizer) ClearActive(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearActiveLocked(ctx)
}

func (s *Synchronizer) clearActiveLocked(ctx context.Context) {
	s.conv = model.Conversation{}
	s.remove(ctx, s.tabs, repository.TabKey(s.account, s.session))
}

// ClearArchive 是用户主动触发的删除：移除该账号的归档和所有标签页缓存，
// 并清空当前内存对话。
func (s *Synchronizer) ClearArchive(ctx context.Context, account string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account = model.NormalizeIdentity(account)
	s.remove(ctx, s.archive, repository.ArchiveKey(account))
	if remover, ok := s.tabs.(repository.PrefixRemover); ok {
		if err := remover.RemovePrefix(ctx, repository.TabKeyPrefix(account)); err != nil {
			log.Warnw("批量删除标签页缓存失败", "account", account, "error", err)
		}
	}
	s.clearActiveLocked(ctx)
}

// SwitchAccount 按新身份和当前会话重新加载，不会合并或复制上一个身份的对话。
func (s *Synchronizer) SwitchAccount(ctx context.Context, account string) model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx, account, s.session)
}

// Archived 读取当前账号的归档，不影响内存对话。
func (s *Synchronizer) Archived(ctx context.Context) model.Conversation {
	s.mu.Lock()
	account := s.account
	s.mu.Unlock()
	if conv, ok := s.read(ctx, s.archive, repository.ArchiveKey(account)); ok {
		return conv
	}
	return model.Conversation{}
}

// Conversation 返回内存对话的副本。
func (s *Synchronizer) Conversation() model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.Clone()
}

func (s *Synchronizer) Account() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account
}

func (s *Synchronizer) Session() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}
