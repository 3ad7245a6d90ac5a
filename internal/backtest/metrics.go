package backtest

import (
	"math"
	"time"
)

const year = 365 * 24 * time.Hour

// Metrics 为回测绩效指标。比率均为小数形式。
type Metrics struct {
	TotalReturn float64
	MaxDrawdown float64
	// SharpeRatio 与 Volatility 按K线周期年化，无风险利率取 0。
	SharpeRatio float64
	Volatility  float64
	// Exposure 为持有仓位的K线占比。
	Exposure float64
}

func calculateMetrics(equity, returns []float64, period time.Duration) Metrics {
	if len(equity) == 0 {
		return Metrics{}
	}
	var m Metrics
	if first := equity[0]; first > 0 {
		m.TotalReturn = equity[len(equity)-1]/first - 1
	}
	m.MaxDrawdown = maxDrawdown(equity)

	mean, std := meanStd(returns)
	scale := annualization(period)
	m.Volatility = std * scale
	if std > 0 {
		m.SharpeRatio = mean / std * scale
	}
	return m
}

// maxDrawdown 返回相对历史峰值的最大回撤，正数表示。
func maxDrawdown(equity []float64) float64 {
	var peak, worst float64
	for _, v := range equity {
		peak = math.Max(peak, v)
		if peak > 0 {
			worst = math.Max(worst, (peak-v)/peak)
		}
	}
	return worst
}

// meanStd 返回均值与样本标准差。
func meanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	if len(xs) < 2 {
		return mean, 0
	}
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(ss / float64(len(xs)-1))
}

func annualization(period time.Duration) float64 {
	if period <= 0 {
		period = time.Hour
	}
	return math.Sqrt(float64(year) / float64(period))
}
