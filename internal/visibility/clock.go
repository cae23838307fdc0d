// Package visibility 实现标签页前台/后台状态机：后台超过固定时长后触发一次归档并清空。
package visibility

import "time"

// Timer 是可取消的定时器。
type Timer interface {
	Stop() bool
}

// Clock 抽象了时间来源，便于在测试中注入假时钟。
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

// RealClock 返回基于 time 包的时钟。
func RealClock() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
