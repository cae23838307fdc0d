package visibility

import (
	"sync"
	"time"
)

// State 是标签页的可见状态。
type State int

const (
	Foreground State = iota
	Background
)

func (s State) String() string {
	if s == Background {
		return "BACKGROUND"
	}
	return "FOREGROUND"
}

// Monitor 是只有一个定时器的两态状态机。
//
// 进入后台时先取消旧定时器再启动新的；回到前台时取消定时器；
// 定时器在仍处于后台时到期，则调用 onExpire 一次。
// 只有代数检查在锁内完成，onExpire 在锁外执行，可能与 Stop 并发，
// 回调方需要自己判断是否已经关闭。
type Monitor struct {
	mu       sync.Mutex
	clock    Clock
	after    time.Duration
	onExpire func()

	state   State
	timer   Timer
	gen     uint64
	stopped bool
}

// NewMonitor 创建处于前台状态的 Monitor。
func NewMonitor(clock Clock, after time.Duration, onExpire func()) *Monitor {
	if clock == nil {
		clock = RealClock()
	}
	return &Monitor{clock: clock, after: after, onExpire: onExpire}
}

// Hidden 处理标签页失去可见性。
func (m *Monitor) Hidden() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.cancelLocked()
	m.state = Background
	gen := m.gen
	m.timer = m.clock.AfterFunc(m.after, func() { m.fire(gen) })
}

// Visible 处理标签页重新可见，取消未触发的定时器。
func (m *Monitor) Visible() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.cancelLocked()
	m.state = Foreground
}

// Stop 在标签页销毁时调用，之后定时器不会再触发。
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelLocked()
	m.stopped = true
}

// State 返回当前状态。
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Armed 判断是否有待触发的定时器。
func (m *Monitor) Armed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timer != nil
}

// cancelLocked 取消当前定时器并作废已经在路上的回调。
func (m *Monitor) cancelLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.gen++
}

func (m *Monitor) fire(gen uint64) {
	m.mu.Lock()
	if m.stopped || m.state != Background || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	// 同一个后台周期只触发一次
	m.gen++
	m.mu.Unlock()

	if m.onExpire != nil {
		m.onExpire()
	}
}
