package indicator

import (
	"errors"

	"trades-signal/internal/hypothesis"
	"trades-signal/internal/market"
)

// RegimeThresholds 控制市场状态分类。
type RegimeThresholds struct {
	// TrendADX 为判定趋势的最小 ADX。
	TrendADX float64
	// VolExpansion 为当前 ATR 相对 ATR 均值的扩张倍数。
	VolExpansion float64
}

// DefaultRegimeThresholds 返回默认阈值。
func DefaultRegimeThresholds() RegimeThresholds {
	return RegimeThresholds{TrendADX: 25, VolExpansion: 1.5}
}

// ClassifyRegime 由指标结果判定市场状态。波动扩张优先于趋势判断。
func ClassifyRegime(r Result, th RegimeThresholds) hypothesis.Regime {
	if !Valid(r.ATR.Absolute) || !Valid(r.ADX) || !Valid(r.EMATrend) {
		return hypothesis.RegimeUnknown
	}
	if r.ATR.Average > 0 && r.ATR.Absolute > r.ATR.Average*th.VolExpansion {
		return hypothesis.RegimeHighVol
	}
	if r.ADX >= th.TrendADX {
		if r.Close >= r.EMATrend {
			return hypothesis.RegimeTrendUp
		}
		return hypothesis.RegimeTrendDown
	}
	return hypothesis.RegimeRange
}

// RegimeClassifier 基于最近K线计算市场状态，实现 hypothesis.RegimeClassifier。
type RegimeClassifier struct {
	calc       *Calculator
	thresholds RegimeThresholds
}

// NewRegimeClassifier 创建分类器。
func NewRegimeClassifier(calc *Calculator, th RegimeThresholds) *RegimeClassifier {
	if calc == nil {
		calc = NewCalculator()
	}
	if th.TrendADX <= 0 || th.VolExpansion <= 0 {
		th = DefaultRegimeThresholds()
	}
	return &RegimeClassifier{calc: calc, thresholds: th}
}

// Classify 历史不足时返回 UNKNOWN 而非错误。
func (c *RegimeClassifier) Classify(snap market.Snapshot) (hypothesis.Regime, error) {
	result, err := c.calc.ComputeSnapshot(snap, 2*c.calc.Periods().MinBars())
	if errors.Is(err, market.ErrInsufficientBars) {
		return hypothesis.RegimeUnknown, nil
	}
	if err != nil {
		return hypothesis.RegimeUnknown, err
	}
	return ClassifyRegime(result, c.thresholds), nil
}

var _ hypothesis.RegimeClassifier = (*RegimeClassifier)(nil)
