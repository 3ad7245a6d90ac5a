package market

import (
	"fmt"
	"strings"
	"sync"
)

const defaultHistoryCapacity = 500

// History 以固定容量保存单一标的的K线序列，并实现 Snapshot。
type History struct {
	mu       sync.RWMutex
	symbol   string
	capacity int
	bars     []Bar
}

// NewHistory 创建 History，capacity<=0 时使用默认容量。
func NewHistory(symbol string, capacity int) *History {
	if capacity <= 0 {
		capacity = defaultHistoryCapacity
	}
	return &History{
		symbol:   symbol,
		capacity: capacity,
		bars:     make([]Bar, 0, capacity),
	}
}

// Symbol 返回标的。
func (h *History) Symbol() string {
	return h.symbol
}

// Append 追加一根K线。时间戳与最后一根相同则覆盖，更早的K线被拒绝。
func (h *History) Append(bar Bar) error {
	if bar.Symbol == "" {
		bar.Symbol = h.symbol
	}
	if !strings.EqualFold(bar.Symbol, h.symbol) {
		return fmt.Errorf("market: K线标的 %s 与历史 %s 不一致", bar.Symbol, h.symbol)
	}
	if bar.Timestamp.IsZero() {
		return fmt.Errorf("market: K线缺少时间戳")
	}
	bar.Timestamp = bar.Timestamp.UTC()

	h.mu.Lock()
	defer h.mu.Unlock()

	if n := len(h.bars); n > 0 {
		last := h.bars[n-1]
		switch {
		case bar.Timestamp.Equal(last.Timestamp):
			h.bars[n-1] = bar
			return nil
		case bar.Timestamp.Before(last.Timestamp):
			return fmt.Errorf("market: K线时间 %s 早于最新K线 %s", bar.Timestamp, last.Timestamp)
		}
	}

	if len(h.bars) == h.capacity {
		copy(h.bars, h.bars[1:])
		h.bars = h.bars[:len(h.bars)-1]
	}
	h.bars = append(h.bars, bar)
	return nil
}

// BarCount 实现 Snapshot。
func (h *History) BarCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.bars)
}

// RecentBars 实现 Snapshot，返回副本。
func (h *History) RecentBars(n int) ([]Bar, error) {
	if n <= 0 {
		return nil, fmt.Errorf("market: 请求的K线数量必须大于0，当前为 %d", n)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.bars) < n {
		return nil, fmt.Errorf("%w: 需要 %d 根，仅有 %d 根", ErrInsufficientBars, n, len(h.bars))
	}
	out := make([]Bar, n)
	copy(out, h.bars[len(h.bars)-n:])
	return out, nil
}

// CurrentBar 实现 Snapshot。
func (h *History) CurrentBar() (Bar, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.bars) == 0 {
		return Bar{}, ErrNoBars
	}
	return h.bars[len(h.bars)-1], nil
}

var _ Snapshot = (*History)(nil)
