package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"guptaai/internal/model"
	"guptaai/internal/repository"
	"guptaai/internal/synchronizer"
	"guptaai/internal/visibility"
	"guptaai/pkg/log"

	"github.com/google/uuid"
)

var ErrInvalidSession = errors.New("invalid session id")

// Snapshot 是发给前端的当前对话状态。
type Snapshot struct {
	Account  string             `json:"account"`
	Session  string             `json:"session"`
	Messages model.Conversation `json:"messages"`
}

// TabService 管理所有打开的标签页。同一个会话 ID 重新打开时先关闭旧的标签页。
type TabService interface {
	NewSessionID() string
	// Open 打开标签页。account 为裸的 guest 时按会话隔离，
	// 调用方应尽量传入 model.GuestFor(device)，让同一浏览器的访客共享归档。
	Open(ctx context.Context, sessionID, account string) (*Tab, error)
	// ResetAccount 清空某账号所有已打开标签页的内存对话，用于服务端删除历史之后。
	ResetAccount(ctx context.Context, account string)
	CloseAll()
}

type tabService struct {
	tabs           repository.ConversationStore
	archive        repository.ConversationStore
	clock          visibility.Clock
	autoClearAfter time.Duration

	mu   sync.Mutex
	open map[string]*Tab
}

// NewTabService 创建一个新的 TabService 实例。
func NewTabService(tabs, archive repository.ConversationStore, clock visibility.Clock, autoClearAfter time.Duration) TabService {
	if clock == nil {
		clock = visibility.RealClock()
	}
	return &tabService{
		tabs:           tabs,
		archive:        archive,
		clock:          clock,
		autoClearAfter: autoClearAfter,
		open:           make(map[string]*Tab),
	}
}

func (s *tabService) NewSessionID() string {
	return uuid.NewString()
}

// Open 为会话创建标签页并加载对话。sessionID 为空时生成新的 ID。
func (s *tabService) Open(ctx context.Context, sessionID, account string) (*Tab, error) {
	if sessionID == "" {
		sessionID = s.NewSessionID()
	} else if _, err := uuid.Parse(sessionID); err != nil {
		return nil, ErrInvalidSession
	}

	s.mu.Lock()
	old := s.open[sessionID]
	s.mu.Unlock()
	if old != nil {
		log.Infow("同一会话重新连接，关闭旧标签页", "session", sessionID)
		old.Close()
	}

	account = model.NormalizeIdentity(account)
	guest := model.GuestFor(sessionID)
	if model.IsGuest(account) && account != model.GuestIdentity {
		guest = account
	}

	t := &Tab{
		id:      sessionID,
		guest:   guest,
		service: s,
		sync:    synchronizer.New(s.tabs, s.archive, sessionID),
	}
	t.monitor = visibility.NewMonitor(s.clock, s.autoClearAfter, t.expire)
	t.sync.Load(ctx, t.scope(account), sessionID)

	s.mu.Lock()
	s.open[sessionID] = t
	s.mu.Unlock()
	log.Infow("标签页已打开", "session", sessionID, "account", t.sync.Account())
	return t, nil
}

func (s *tabService) ResetAccount(ctx context.Context, account string) {
	account = model.NormalizeIdentity(account)
	if account == model.GuestIdentity {
		return
	}
	s.resetAccount(ctx, account, nil)
}

func (s *tabService) resetAccount(ctx context.Context, account string, except *Tab) {
	for _, t := range s.snapshotOpen() {
		if t != except && t.Account() == account {
			t.reset(ctx)
		}
	}
}

func (s *tabService) CloseAll() {
	for _, t := range s.snapshotOpen() {
		t.Close()
	}
}

func (s *tabService) snapshotOpen() []*Tab {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Tab, 0, len(s.open))
	for _, t := range s.open {
		out = append(out, t)
	}
	return out
}

func (s *tabService) remove(t *Tab) {
	s.mu.Lock()
	if s.open[t.id] == t {
		delete(s.open, t.id)
	}
	s.mu.Unlock()
}

// Tab 对应一个浏览器标签页，所有事件在 mu 下串行执行。
//
// monitor 在自己的锁外回调 expire；Tab 持有 mu 时不调用 monitor。
type Tab struct {
	id      string
	guest   string
	service *tabService
	sync    *synchronizer.Synchronizer
	monitor *visibility.Monitor

	mu        sync.Mutex
	epoch     uint64
	closed    bool
	busy      bool
	onCleared func()
}

func (t *Tab) ID() string {
	return t.id
}

func (t *Tab) Account() string {
	return t.sync.Account()
}

// Guest 返回该标签页登出后使用的访客身份。
func (t *Tab) Guest() string {
	return t.guest
}

// scope 把裸的 guest 换成本标签页的访客身份，从不使用所有访客共享的记录。
func (t *Tab) scope(account string) string {
	account = model.NormalizeIdentity(account)
	if account == model.GuestIdentity {
		return t.guest
	}
	return account
}

// Epoch 在切换账号、对话被清空和关闭时递增。
func (t *Tab) Epoch() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.epoch
}

func (t *Tab) Conversation() model.Conversation {
	return t.sync.Conversation()
}

// AppendAt 只有在 epoch 未变化时才追加消息。
func (t *Tab) AppendAt(ctx context.Context, epoch uint64, msg model.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || epoch != t.epoch {
		return false
	}
	t.sync.Append(ctx, msg)
	return true
}

// SetOnCleared 设置对话被服务端清空时的通知回调。
func (t *Tab) SetOnCleared(f func()) {
	t.mu.Lock()
	t.onCleared = f
	t.mu.Unlock()
}

// TryBegin 标记开始处理一条消息并返回此刻的 epoch，已有消息在处理时返回 false。
func (t *Tab) TryBegin() (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.busy || t.closed {
		return 0, false
	}
	t.busy = true
	return t.epoch, true
}

func (t *Tab) Finish() {
	t.mu.Lock()
	t.busy = false
	t.mu.Unlock()
}

func (t *Tab) Hidden() {
	t.monitor.Hidden()
}

func (t *Tab) Visible() {
	t.monitor.Visible()
}

func (t *Tab) VisibilityState() visibility.State {
	return t.monitor.State()
}

// SwitchAccount 登录或登出后按新身份重新加载。
func (t *Tab) SwitchAccount(ctx context.Context, account string) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.epoch++
	t.sync.SwitchAccount(ctx, t.scope(account))
	return t.snapshotLocked()
}

// ClearHistory 删除当前账号的归档，并清空该账号其他已打开的标签页。
func (t *Tab) ClearHistory(ctx context.Context) {
	t.mu.Lock()
	account := t.sync.Account()
	t.sync.ClearArchive(ctx, account)
	t.epoch++
	t.mu.Unlock()
	t.service.resetAccount(ctx, account, t)
}

// History 返回账号归档，不影响当前对话。
func (t *Tab) History(ctx context.Context) model.Conversation {
	return t.sync.Archived(ctx)
}

func (t *Tab) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tab) snapshotLocked() Snapshot {
	return Snapshot{Account: t.sync.Account(), Session: t.id, Messages: t.sync.Conversation()}
}

// Close 停止计时器并注销标签页，之后不会再有任何写入。
func (t *Tab) Close() {
	t.monitor.Stop()
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.epoch++
	t.mu.Unlock()
	t.service.remove(t)
	log.Infow("标签页已关闭", "session", t.id)
}

// expire 由 monitor 在后台超时后调用：先归档再清空。
func (t *Tab) expire() {
	ctx := context.Background()
	// 定时器触发后用户可能已经回来了
	if t.monitor.State() != visibility.Background {
		return
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.sync.Flush(ctx)
	t.sync.ClearActive(ctx)
	t.epoch++
	notify := t.onCleared
	t.mu.Unlock()
	log.Infow("标签页在后台超时，对话已归档并清空", "session", t.id)
	if notify != nil {
		notify()
	}
}

func (t *Tab) reset(ctx context.Context) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.sync.ClearActive(ctx)
	t.epoch++
	notify := t.onCleared
	t.mu.Unlock()
	if notify != nil {
		notify()
	}
}
