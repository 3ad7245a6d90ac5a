package strategies

import (
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"

	"trades-signal/internal/clock"
	"trades-signal/internal/hypothesis"
	"trades-signal/internal/indicator"
	"trades-signal/internal/market"
	"trades-signal/internal/position"
)

// HailMaryName 为竞赛激进策略的注册名。
const HailMaryName = "competition_hail_mary"

// HailMaryParams 为竞赛策略参数。
type HailMaryParams struct {
	Lookback      int     `mapstructure:"lookback"`
	ATRMult       float64 `mapstructure:"atr_mult"`
	MinBodyRatio  float64 `mapstructure:"min_body_ratio"`
	FastPeriod    int     `mapstructure:"fast_period"`
	SlowPeriod    int     `mapstructure:"slow_period"`
	ROCPeriod     int     `mapstructure:"roc_period"`
	ROCThreshold  float64 `mapstructure:"roc_threshold"`
	RSIPeriod     int     `mapstructure:"rsi_period"`
	RSIOversold   float64 `mapstructure:"rsi_oversold"`
	RSIOverbought float64 `mapstructure:"rsi_overbought"`
	Size          float64 `mapstructure:"size"`
}

// DefaultHailMaryParams 返回默认参数。
func DefaultHailMaryParams() HailMaryParams {
	return HailMaryParams{
		Lookback:      14,
		ATRMult:       1.0,
		MinBodyRatio:  0.35,
		FastPeriod:    5,
		SlowPeriod:    13,
		ROCPeriod:     3,
		ROCThreshold:  0.001,
		RSIPeriod:     7,
		RSIOversold:   20,
		RSIOverbought: 80,
		Size:          1.0,
	}
}

// HailMary 始终在场：快慢 EMA 决定基础方向，RSI 极值配合K线方向可反转信号。
// 波动扩张、ROC 与实体比例只影响置信度。已持有同向仓位时不再加仓。
type HailMary struct {
	params HailMaryParams
}

// NewHailMary 由配置参数构造策略。
func NewHailMary(raw map[string]interface{}) (hypothesis.Strategy, error) {
	p := DefaultHailMaryParams()
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	switch {
	case p.FastPeriod < 2 || p.SlowPeriod <= p.FastPeriod:
		return nil, fmt.Errorf("fast_period/slow_period 非法: %d/%d", p.FastPeriod, p.SlowPeriod)
	case p.Lookback < 2 || p.RSIPeriod < 2 || p.ROCPeriod < 1:
		return nil, fmt.Errorf("lookback/rsi_period/roc_period 非法: %d/%d/%d", p.Lookback, p.RSIPeriod, p.ROCPeriod)
	case p.RSIOversold >= p.RSIOverbought:
		return nil, fmt.Errorf("rsi_oversold 必须小于 rsi_overbought")
	case !(p.Size > 0):
		return nil, fmt.Errorf("size 必须大于 0，当前为 %v", p.Size)
	}
	return &HailMary{params: p}, nil
}

func (h *HailMary) ID() string { return HailMaryName }

func (h *HailMary) Parameters() hypothesis.Parameters { return encodeParams(h.params) }

// AllowedRegimes 不做状态过滤。
func (h *HailMary) AllowedRegimes() []hypothesis.Regime { return hypothesis.AllRegimes() }

func (h *HailMary) requiredBars() int {
	need := h.params.Lookback
	if h.params.SlowPeriod > need {
		need = h.params.SlowPeriod
	}
	if h.params.RSIPeriod+1 > need {
		need = h.params.RSIPeriod + 1
	}
	return need + 10
}

// Evaluate 实现 hypothesis.Strategy。
func (h *HailMary) Evaluate(snap market.Snapshot, pos position.Position, _ clock.Clock) (hypothesis.Decision, error) {
	need := h.requiredBars()
	if snap.BarCount() < need {
		return hypothesis.HoldDecision(), nil
	}
	bars, err := snap.RecentBars(need)
	if err != nil {
		return hypothesis.HoldDecision(), nil
	}

	p := h.params
	s := indicator.NewSeries(bars)
	n := s.Len()

	fast := indicator.Last(talib.Ema(s.Close, p.FastPeriod))
	slow := indicator.Last(talib.Ema(s.Close, p.SlowPeriod))
	rsi := indicator.Last(talib.Rsi(s.Close, p.RSIPeriod))
	atr := indicator.Last(talib.Atr(s.High, s.Low, s.Close, p.Lookback))
	if !indicator.Valid(fast) || !indicator.Valid(slow) {
		return hypothesis.HoldDecision(), nil
	}

	last := s.Close[n-1]
	open := s.Open[n-1]
	rng := s.High[n-1] - s.Low[n-1]

	kind := hypothesis.Sell
	if fast > slow {
		kind = hypothesis.Buy
	}
	reason := "动量"
	if rsi < p.RSIOversold && last > open {
		kind, reason = hypothesis.Buy, "RSI超卖反转"
	} else if rsi > p.RSIOverbought && last < open {
		kind, reason = hypothesis.Sell, "RSI超买反转"
	}

	if pos.IsOpen() {
		if (kind == hypothesis.Buy && pos.Side == position.SideLong) ||
			(kind == hypothesis.Sell && pos.Side == position.SideShort) {
			return hypothesis.HoldDecision(), nil
		}
	}

	confidence := 0.25
	if atr > 0 && rng > atr*p.ATRMult {
		confidence += 0.25
	}
	if prev := s.Close[n-1-p.ROCPeriod]; prev > 0 && math.Abs(last/prev-1) > p.ROCThreshold {
		confidence += 0.25
	}
	if rng > 0 && math.Abs(last-open)/rng >= p.MinBodyRatio {
		confidence += 0.25
	}

	return hypothesis.NewDecision(kind, p.Size, hypothesis.WithConfidence(confidence), hypothesis.WithReason(reason))
}

var _ hypothesis.Strategy = (*HailMary)(nil)
