package clock

import (
	"sync"
	"time"
)

// Clock 时间源接口，测试中可注入模拟时间
type Clock interface {
	Now() time.Time
}

// System 使用系统时间
type System struct{}

// Now 返回当前系统时间
func (System) Now() time.Time {
	return time.Now()
}

// Fake 可手动控制的时钟，并发安全
type Fake struct {
	mu  sync.RWMutex
	now time.Time
}

// NewFake 创建指定初始时间的模拟时钟
func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

// Now 返回模拟的当前时间
func (f *Fake) Now() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.now
}

// Set 设置模拟时间
func (f *Fake) Set(now time.Time) {
	f.mu.Lock()
	f.now = now
	f.mu.Unlock()
}

// Advance 将模拟时间向前推进d
func (f *Fake) Advance(d time.Duration) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	return f.now
}
