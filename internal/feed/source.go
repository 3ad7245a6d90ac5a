package feed

import (
	"context"
	"sort"

	"trades-signal/internal/market"
)

// Source 逐根提供已收盘K线。ok 为 false 表示数据源已耗尽。
type Source interface {
	Next(ctx context.Context) (bar market.Bar, ok bool, err error)
}

// SliceSource 按时间顺序回放内存中的K线。
type SliceSource struct {
	bars []market.Bar
	pos  int
}

// NewSliceSource 创建回放源，输入会按时间排序（复制后排序，不修改调用方切片）。
func NewSliceSource(bars []market.Bar) *SliceSource {
	sorted := make([]market.Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return &SliceSource{bars: sorted}
}

// Next 实现 Source。
func (s *SliceSource) Next(ctx context.Context) (market.Bar, bool, error) {
	if err := ctx.Err(); err != nil {
		return market.Bar{}, false, err
	}
	if s.pos >= len(s.bars) {
		return market.Bar{}, false, nil
	}
	bar := s.bars[s.pos]
	s.pos++
	return bar, true, nil
}

// Len 返回K线总数。
func (s *SliceSource) Len() int { return len(s.bars) }
