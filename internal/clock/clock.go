package clock

import (
	"sync"
	"time"
)

// Clock 提供当前时间，策略与指令构建均通过它读取时间。
type Clock interface {
	Now() time.Time
}

// System 返回真实 UTC 时间。
type System struct{}

// Now 实现 Clock。
func (System) Now() time.Time {
	return time.Now().UTC()
}

// Simulated 为回测与重放使用的可控时钟。
type Simulated struct {
	mu  sync.RWMutex
	now time.Time
}

// NewSimulated 以给定时间创建模拟时钟。
func NewSimulated(start time.Time) *Simulated {
	return &Simulated{now: start.UTC()}
}

// Now 实现 Clock。
func (s *Simulated) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now
}

// Set 将时钟拨到指定时间，时间不会倒退。
func (s *Simulated) Set(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t = t.UTC()
	if t.After(s.now) {
		s.now = t
	}
}

// Advance 向前推进时钟。
func (s *Simulated) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = s.now.Add(d)
}
