package position

import (
	"context"
	"strings"
	"time"
)

// Side 表示持仓方向。
type Side string

const (
	SideFlat  Side = "FLAT"
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Position 为单一标的的只读持仓视图。
type Position struct {
	Symbol     string
	Side       Side
	Size       float64
	EntryPrice float64
	UpdatedAt  time.Time
}

// Flat 返回指定标的的空仓。
func Flat(symbol string) Position {
	return Position{Symbol: symbol, Side: SideFlat}
}

// IsOpen 判断是否持有仓位。
func (p Position) IsOpen() bool {
	return p.Side != SideFlat && p.Side != "" && p.Size > 0
}

// Provider 提供当前持仓，实现方必须保证只读。
type Provider interface {
	Current(ctx context.Context, symbol string) (Position, error)
}

// Static 为固定持仓表，多用于测试与离线重放。
type Static map[string]Position

// Current 实现 Provider。
func (s Static) Current(_ context.Context, symbol string) (Position, error) {
	for k, p := range s {
		if strings.EqualFold(k, symbol) {
			return p, nil
		}
	}
	return Flat(symbol), nil
}

var _ Provider = Static(nil)
