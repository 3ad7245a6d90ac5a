package hypothesis

import (
	"trades-signal/internal/clock"
	"trades-signal/internal/market"
	"trades-signal/internal/position"
)

// Regime 为市场状态分类。
type Regime string

const (
	RegimeTrendUp   Regime = "TREND_UP"
	RegimeTrendDown Regime = "TREND_DOWN"
	RegimeRange     Regime = "RANGE"
	RegimeHighVol   Regime = "HIGH_VOL"
	RegimeUnknown   Regime = "UNKNOWN"
)

// Parameters 为策略参数快照，用于审计与策略哈希。
type Parameters map[string]interface{}

// Clone 返回浅拷贝。
func (p Parameters) Clone() Parameters {
	if p == nil {
		return Parameters{}
	}
	out := make(Parameters, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Strategy 为纯决策函数：相同的行情、持仓与时钟输入必须得到相同的决策。
// Evaluate 在历史不足时返回 HOLD，返回 error 仅表示意外的内部错误。
type Strategy interface {
	ID() string
	Parameters() Parameters
	// AllowedRegimes 为空表示不限制。
	AllowedRegimes() []Regime
	Evaluate(snap market.Snapshot, pos position.Position, clk clock.Clock) (Decision, error)
}

// AllRegimes 供不做状态过滤的策略直接返回。
func AllRegimes() []Regime {
	return nil
}

// RegimeAllowed 判断策略是否允许在给定市场状态下交易。
func RegimeAllowed(s Strategy, r Regime) bool {
	allowed := s.AllowedRegimes()
	if len(allowed) == 0 {
		return true
	}
	for _, candidate := range allowed {
		if candidate == r {
			return true
		}
	}
	return false
}

// RegimeClassifier 判定当前市场状态，用于按 AllowedRegimes 过滤评估。
type RegimeClassifier interface {
	Classify(snap market.Snapshot) (Regime, error)
}
