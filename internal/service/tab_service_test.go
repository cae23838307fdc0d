package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"guptaai/internal/model"
	"guptaai/internal/repository"
	"guptaai/internal/visibility"
)

type tabFixture struct {
	svc     TabService
	tabs    *repository.MemoryStore
	archive *repository.MemoryStore
	clock   *visibility.FakeClock
}

func newTabFixture() *tabFixture {
	f := &tabFixture{
		tabs:    repository.NewMemoryStore(0),
		archive: repository.NewMemoryStore(0),
		clock:   visibility.NewFakeClock(time.Unix(1700000000, 0)),
	}
	f.svc = NewTabService(f.tabs, f.archive, f.clock, 120*time.Second)
	return f
}

func (f *tabFixture) open(t *testing.T, account string) *Tab {
	t.Helper()
	tab, err := f.svc.Open(context.Background(), "", account)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(tab.Close)
	return tab
}

func userMsg(content string, at int64) model.Message {
	return model.Message{Role: model.RoleUser, Content: content, Time: at}
}

func TestTabOpen_RejectsMalformedSession(t *testing.T) {
	f := newTabFixture()
	if _, err := f.svc.Open(context.Background(), "../etc", "guest"); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("err = %v, want ErrInvalidSession", err)
	}
}

func TestTabOpen_RestoresSameSession(t *testing.T) {
	f := newTabFixture()
	ctx := context.Background()
	first := f.open(t, "guest")
	first.AppendAt(ctx, first.Epoch(), userMsg("hi", 1))
	first.Close()

	again, err := f.svc.Open(ctx, first.ID(), "guest")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer again.Close()
	if got := again.Conversation(); len(got) != 1 || got[0].Content != "hi" {
		t.Fatalf("conversation = %+v", got)
	}
}

func TestTabOpen_ReplacesPreviousTabWithSameSession(t *testing.T) {
	f := newTabFixture()
	ctx := context.Background()
	old := f.open(t, "guest")
	oldEpoch := old.Epoch()

	fresh, err := f.svc.Open(ctx, old.ID(), "guest")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer fresh.Close()

	if old.AppendAt(ctx, oldEpoch, userMsg("late", 1)) {
		t.Error("closed tab must not accept writes")
	}
}

func TestTab_BackgroundTimeoutArchivesThenClears(t *testing.T) {
	f := newTabFixture()
	ctx := context.Background()
	tab := f.open(t, "guest")
	var cleared int32
	tab.SetOnCleared(func() { atomic.AddInt32(&cleared, 1) })

	tab.AppendAt(ctx, tab.Epoch(), userMsg("hi", 1))
	tab.Hidden()
	f.clock.Advance(121 * time.Second)

	if !tab.Conversation().IsEmpty() {
		t.Fatal("conversation should be empty after timeout")
	}
	if f.tabs.Has(repository.TabKey(tab.Account(), tab.ID())) {
		t.Error("tab record should be removed")
	}
	archived, err := f.archive.Get(ctx, repository.ArchiveKey(tab.Account()))
	if err != nil || len(archived) != 1 || archived[0].Content != "hi" {
		t.Fatalf("archive = %+v, err = %v", archived, err)
	}
	if atomic.LoadInt32(&cleared) != 1 {
		t.Errorf("cleared notifications = %d, want 1", cleared)
	}
}

func TestTab_ForegroundBeforeTimeoutKeepsConversation(t *testing.T) {
	f := newTabFixture()
	ctx := context.Background()
	tab := f.open(t, "guest")
	tab.AppendAt(ctx, tab.Epoch(), userMsg("hi", 1))

	tab.Hidden()
	f.clock.Advance(119 * time.Second)
	tab.Visible()
	f.clock.Advance(time.Hour)

	if got := tab.Conversation(); len(got) != 1 {
		t.Fatalf("conversation = %+v, want the one message", got)
	}
	if tab.VisibilityState() != visibility.Foreground {
		t.Errorf("state = %v", tab.VisibilityState())
	}
}

func TestTab_CloseStopsTimer(t *testing.T) {
	f := newTabFixture()
	ctx := context.Background()
	tab := f.open(t, "guest")
	tab.AppendAt(ctx, tab.Epoch(), userMsg("hi", 1))

	tab.Hidden()
	tab.Close()
	f.clock.Advance(time.Hour)

	if !f.tabs.Has(repository.TabKey(tab.Account(), tab.ID())) {
		t.Error("timer fired after the tab was closed")
	}
}

func TestTab_SwitchAccountDiscardsStaleAppends(t *testing.T) {
	f := newTabFixture()
	ctx := context.Background()
	tab := f.open(t, "guest")
	epoch := tab.Epoch()

	snap := tab.SwitchAccount(ctx, "a@x.com")
	if snap.Account != "a@x.com" || len(snap.Messages) != 0 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if tab.AppendAt(ctx, epoch, model.Message{Role: model.RoleAssistant, Content: "late", Time: 2}) {
		t.Fatal("reply issued before the switch must be discarded")
	}
	if !tab.Conversation().IsEmpty() {
		t.Error("stale reply leaked into the new account")
	}
}

func TestTab_ClearHistoryResetsOtherTabsOfSameAccount(t *testing.T) {
	f := newTabFixture()
	ctx := context.Background()
	a1 := f.open(t, "a@x.com")
	a2 := f.open(t, "a@x.com")
	b := f.open(t, "b@x.com")
	a1.AppendAt(ctx, a1.Epoch(), userMsg("satu", 1))
	a2.AppendAt(ctx, a2.Epoch(), userMsg("dua", 2))
	b.AppendAt(ctx, b.Epoch(), userMsg("lain", 3))
	var notified int32
	a2.SetOnCleared(func() { atomic.AddInt32(&notified, 1) })

	a1.ClearHistory(ctx)

	if !a1.Conversation().IsEmpty() || !a2.Conversation().IsEmpty() {
		t.Fatal("both tabs of a@x.com should be empty")
	}
	if atomic.LoadInt32(&notified) != 1 {
		t.Error("other tab should be notified")
	}
	if len(b.Conversation()) != 1 {
		t.Error("other accounts must be untouched")
	}
	if f.archive.Has(repository.ArchiveKey("a@x.com")) {
		t.Error("archive should be removed")
	}
	if !f.archive.Has(repository.ArchiveKey("b@x.com")) {
		t.Error("b@x.com archive should remain")
	}
}

func TestTab_HistoryDoesNotTouchActive(t *testing.T) {
	f := newTabFixture()
	ctx := context.Background()
	device := model.GuestFor("5d0f6a43-8c1b-4e2a-9f7d-2b6c3e1a0d94")
	_ = f.archive.Set(ctx, repository.ArchiveKey(device), model.Conversation{userMsg("lama", 1)})
	tab := f.open(t, device)
	tab.SwitchAccount(ctx, "guest")
	tab.AppendAt(ctx, tab.Epoch(), userMsg("baru", 2))

	hist := tab.History(ctx)
	if len(hist) != 2 {
		t.Fatalf("history = %+v", hist)
	}
	if len(tab.Conversation()) != 2 {
		t.Errorf("active conversation changed: %+v", tab.Conversation())
	}
}

func TestTab_TryBeginIsExclusive(t *testing.T) {
	f := newTabFixture()
	tab := f.open(t, "guest")
	if _, ok := tab.TryBegin(); !ok {
		t.Fatal("first TryBegin should succeed")
	}
	if _, ok := tab.TryBegin(); ok {
		t.Fatal("second TryBegin should fail while busy")
	}
	tab.Finish()
	if _, ok := tab.TryBegin(); !ok {
		t.Fatal("TryBegin should succeed after Finish")
	}
}

func TestTabOpen_BareGuestNeverSharesRecords(t *testing.T) {
	f := newTabFixture()
	ctx := context.Background()
	a := f.open(t, "guest")
	a.AppendAt(ctx, a.Epoch(), userMsg("diagnosa rahasia saya", 1))
	a.Hidden()
	f.clock.Advance(121 * time.Second)
	a.Close()

	b := f.open(t, "guest")
	if !b.Conversation().IsEmpty() {
		t.Fatalf("new visitor sees %+v", b.Conversation())
	}
	if !b.History(ctx).IsEmpty() {
		t.Fatalf("new visitor history = %+v", b.History(ctx))
	}
	if a.Account() == b.Account() || a.Account() == model.GuestIdentity {
		t.Errorf("accounts = %q and %q, want distinct device guests", a.Account(), b.Account())
	}
	if f.archive.Has(repository.ArchiveKey(model.GuestIdentity)) {
		t.Error("nothing may be stored under the shared guest key")
	}
}

func TestTab_GuestDevicesAreIsolated(t *testing.T) {
	f := newTabFixture()
	ctx := context.Background()
	devA := model.GuestFor("0b9f1c2d-3e4a-4b5c-8d6e-7f8091a2b3c4")
	devB := model.GuestFor("9a8b7c6d-5e4f-4a3b-8c2d-1e0f9a8b7c6d")

	a1 := f.open(t, devA)
	a1.AppendAt(ctx, a1.Epoch(), userMsg("milik A", 1))
	a1.Close()

	// 同一设备的新标签页从归档恢复，另一台设备看不到
	a2 := f.open(t, devA)
	if got := a2.Conversation(); len(got) != 1 || got[0].Content != "milik A" {
		t.Fatalf("same device conversation = %+v", got)
	}
	b := f.open(t, devB)
	if !b.Conversation().IsEmpty() || !b.History(ctx).IsEmpty() {
		t.Fatalf("other device sees %+v / %+v", b.Conversation(), b.History(ctx))
	}

	// 清空 B 的历史不影响 A
	b.AppendAt(ctx, b.Epoch(), userMsg("milik B", 2))
	b.ClearHistory(ctx)
	if len(a2.Conversation()) != 1 || !f.archive.Has(repository.ArchiveKey(devA)) {
		t.Error("clearing device B touched device A")
	}
}

func TestTab_LogoutReturnsToOwnGuest(t *testing.T) {
	f := newTabFixture()
	ctx := context.Background()
	device := model.GuestFor("3c2b1a09-8f7e-4d6c-9b5a-4a3b2c1d0e9f")
	tab := f.open(t, device)
	tab.AppendAt(ctx, tab.Epoch(), userMsg("sebelum login", 1))

	tab.SwitchAccount(ctx, "a@x.com")
	snap := tab.SwitchAccount(ctx, "guest")
	if snap.Account != device || tab.Guest() != device {
		t.Fatalf("account after logout = %q, want %q", snap.Account, device)
	}
	if len(snap.Messages) != 1 || snap.Messages[0].Content != "sebelum login" {
		t.Errorf("messages after logout = %+v", snap.Messages)
	}
}
