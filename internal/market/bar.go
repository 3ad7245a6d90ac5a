package market

import (
	"errors"
	"time"
)

// ErrInsufficientBars 表示历史K线数量不足以满足请求。
var ErrInsufficientBars = errors.New("market: 历史K线不足")

// ErrNoBars 表示尚未收到任何K线。
var ErrNoBars = errors.New("market: 暂无K线")

// Bar 代表单根已收盘的K线。
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Snapshot 为策略提供只读的行情视图。
type Snapshot interface {
	// BarCount 返回可用K线数量。
	BarCount() int
	// RecentBars 按时间升序返回最近 n 根K线，不足 n 根时返回 ErrInsufficientBars。
	RecentBars(n int) ([]Bar, error)
	// CurrentBar 返回最新一根K线。
	CurrentBar() (Bar, error)
}
