package intent

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"trades-signal/internal/config"
)

// Sizer 将决策的 size 换算为下单数量。返回 0 表示数量不足最小下单量。
type Sizer interface {
	Quantity(size, refPrice float64) (float64, error)
}

type lotRule struct {
	step decimal.Decimal
	min  decimal.Decimal
}

func (r lotRule) apply(qty decimal.Decimal) float64 {
	if r.step.IsPositive() {
		qty = qty.Div(r.step).Floor().Mul(r.step)
	}
	if !qty.IsPositive() || qty.LessThan(r.min) {
		return 0
	}
	f, _ := qty.Float64()
	return f
}

// FixedSizer 数量 = size × 基础数量。
type FixedSizer struct {
	base decimal.Decimal
	lot  lotRule
}

// NewFixedSizer 创建固定基数换算器，lotStep<=0 表示不取整。
func NewFixedSizer(base, lotStep, minQty float64) *FixedSizer {
	return &FixedSizer{
		base: decimal.NewFromFloat(base),
		lot:  lotRule{step: decimal.NewFromFloat(lotStep), min: decimal.NewFromFloat(minQty)},
	}
}

// Quantity 实现 Sizer。
func (s *FixedSizer) Quantity(size, _ float64) (float64, error) {
	return s.lot.apply(decimal.NewFromFloat(size).Mul(s.base)), nil
}

// NotionalSizer 数量 = size × 名义金额 ÷ 参考价。
type NotionalSizer struct {
	notional decimal.Decimal
	lot      lotRule
}

// NewNotionalSizer 创建名义金额换算器。
func NewNotionalSizer(notional, lotStep, minQty float64) *NotionalSizer {
	return &NotionalSizer{
		notional: decimal.NewFromFloat(notional),
		lot:      lotRule{step: decimal.NewFromFloat(lotStep), min: decimal.NewFromFloat(minQty)},
	}
}

// Quantity 实现 Sizer。
func (s *NotionalSizer) Quantity(size, refPrice float64) (float64, error) {
	if !(refPrice > 0) || math.IsInf(refPrice, 0) {
		return 0, fmt.Errorf("intent: 名义金额换算需要正的参考价，当前为 %v", refPrice)
	}
	qty := decimal.NewFromFloat(size).Mul(s.notional).Div(decimal.NewFromFloat(refPrice))
	return s.lot.apply(qty), nil
}

// NewSizer 根据配置创建换算器。
func NewSizer(cfg config.SizingConfig) (Sizer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case "", "fixed":
		base := cfg.BaseQuantity
		if base <= 0 {
			base = 1
		}
		return NewFixedSizer(base, cfg.LotStep, cfg.MinQuantity), nil
	case "notional":
		if cfg.Notional <= 0 {
			return nil, fmt.Errorf("intent: notional 模式需要正的 notional")
		}
		return NewNotionalSizer(cfg.Notional, cfg.LotStep, cfg.MinQuantity), nil
	default:
		return nil, fmt.Errorf("intent: 未知 sizing.mode %q", cfg.Mode)
	}
}
