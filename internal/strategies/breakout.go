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

// BreakoutName 为波动突破策略的注册名。
const BreakoutName = "volatility_breakout"

// BreakoutParams 为波动突破策略参数。
type BreakoutParams struct {
	// Lookback 包含当前K线；均值取之前 Lookback-1 根收盘价，ATR 周期同 Lookback。
	Lookback       int      `mapstructure:"lookback"`
	ATRMult        float64  `mapstructure:"atr_mult"`
	Size           float64  `mapstructure:"size"`
	AllowShort     bool     `mapstructure:"allow_short"`
	AllowedRegimes []string `mapstructure:"allowed_regimes"`
}

// DefaultBreakoutParams 返回默认参数。
func DefaultBreakoutParams() BreakoutParams {
	return BreakoutParams{
		Lookback:   14,
		ATRMult:    1.0,
		Size:       1.0,
		AllowShort: true,
	}
}

// Breakout 在收盘价偏离之前均值超过 ATR 倍数时顺势入场，反向突破时平仓。
type Breakout struct {
	params  BreakoutParams
	regimes []hypothesis.Regime
}

// NewBreakout 由配置参数构造策略。
func NewBreakout(raw map[string]interface{}) (hypothesis.Strategy, error) {
	p := DefaultBreakoutParams()
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.Lookback < 3 {
		return nil, fmt.Errorf("lookback 必须不小于 3，当前为 %d", p.Lookback)
	}
	if !(p.ATRMult > 0) {
		return nil, fmt.Errorf("atr_mult 必须大于 0，当前为 %v", p.ATRMult)
	}
	if !(p.Size > 0) {
		return nil, fmt.Errorf("size 必须大于 0，当前为 %v", p.Size)
	}
	regimes, err := parseRegimes(p.AllowedRegimes)
	if err != nil {
		return nil, err
	}
	return &Breakout{params: p, regimes: regimes}, nil
}

func (b *Breakout) ID() string { return BreakoutName }

func (b *Breakout) Parameters() hypothesis.Parameters { return encodeParams(b.params) }

func (b *Breakout) AllowedRegimes() []hypothesis.Regime { return b.regimes }

// requiredBars 为当前K线加上计算前一根 ATR 所需的窗口。
func (b *Breakout) requiredBars() int {
	return b.params.Lookback + 2
}

// Evaluate 实现 hypothesis.Strategy。
func (b *Breakout) Evaluate(snap market.Snapshot, pos position.Position, _ clock.Clock) (hypothesis.Decision, error) {
	need := b.requiredBars()
	if snap.BarCount() < need {
		return hypothesis.HoldDecision(), nil
	}
	bars, err := snap.RecentBars(need)
	if err != nil {
		return hypothesis.HoldDecision(), nil
	}

	series := indicator.NewSeries(bars)
	n := series.Len()
	last := series.Close[n-1]
	mean := indicator.Mean(series.Close[n-b.params.Lookback : n-1])

	// ATR 取到上一根K线为止，避免突破K线自身放大阈值。
	prior := series.Slice(0, n-1)
	atr := indicator.Last(talib.Atr(prior.High, prior.Low, prior.Close, b.params.Lookback))
	if !indicator.Valid(atr) || atr < 0 {
		return hypothesis.HoldDecision(), nil
	}

	band := atr * b.params.ATRMult
	up := last > mean+band
	down := last < mean-band
	confidence := math.Min(1, math.Abs(last-mean)/(2*band))

	switch {
	case pos.IsOpen() && pos.Side == position.SideLong:
		if down {
			return hypothesis.NewDecision(hypothesis.Close, pos.Size, hypothesis.WithConfidence(confidence), hypothesis.WithReason("向下突破平多"))
		}
	case pos.IsOpen() && pos.Side == position.SideShort:
		if up {
			return hypothesis.NewDecision(hypothesis.Close, pos.Size, hypothesis.WithConfidence(confidence), hypothesis.WithReason("向上突破平空"))
		}
	case up:
		return hypothesis.NewDecision(hypothesis.Buy, b.params.Size, hypothesis.WithConfidence(confidence), hypothesis.WithReason("向上突破"))
	case down && b.params.AllowShort:
		return hypothesis.NewDecision(hypothesis.Sell, b.params.Size, hypothesis.WithConfidence(confidence), hypothesis.WithReason("向下突破"))
	}
	return hypothesis.HoldDecision(), nil
}

var _ hypothesis.Strategy = (*Breakout)(nil)
