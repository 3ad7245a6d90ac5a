package indicator

import (
	"math"
	"time"

	"trades-signal/internal/market"
)

// Series 为按列展开的K线，供 talib 计算使用。
type Series struct {
	Timestamps []time.Time
	Open       []float64
	High       []float64
	Low        []float64
	Close      []float64
	Volume     []float64
}

// NewSeries 从按时间升序的K线创建 Series。
func NewSeries(bars []market.Bar) Series {
	var s Series
	s.Timestamps = make([]time.Time, 0, len(bars))
	s.Open = make([]float64, 0, len(bars))
	s.High = make([]float64, 0, len(bars))
	s.Low = make([]float64, 0, len(bars))
	s.Close = make([]float64, 0, len(bars))
	s.Volume = make([]float64, 0, len(bars))
	for _, bar := range bars {
		s.Timestamps = append(s.Timestamps, bar.Timestamp.UTC())
		s.Open = append(s.Open, bar.Open)
		s.High = append(s.High, bar.High)
		s.Low = append(s.Low, bar.Low)
		s.Close = append(s.Close, bar.Close)
		s.Volume = append(s.Volume, bar.Volume)
	}
	return s
}

// Len 返回序列长度。
func (s Series) Len() int { return len(s.Close) }

// Slice 返回 [from, to) 区间的视图，与原序列共享底层数组。
func (s Series) Slice(from, to int) Series {
	return Series{
		Timestamps: s.Timestamps[from:to],
		Open:       s.Open[from:to],
		High:       s.High[from:to],
		Low:        s.Low[from:to],
		Close:      s.Close[from:to],
		Volume:     s.Volume[from:to],
	}
}

// Last 返回最后一个值，空序列返回 NaN。
func Last(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return values[len(values)-1]
}

// Prev 返回倒数第二个值，不足两个返回 NaN。
func Prev(values []float64) float64 {
	if len(values) < 2 {
		return math.NaN()
	}
	return values[len(values)-2]
}

// SliceTail 复制末尾 n 个值。
func SliceTail(values []float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n > len(values) {
		n = len(values)
	}
	return append([]float64(nil), values[len(values)-n:]...)
}

// Mean 返回算术平均，空序列返回 0。
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Valid 判断指标值可用。talib 预热期输出 0。
func Valid(v float64) bool {
	return v != 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

// SafeDivide 除数为 0 时返回 0。
func SafeDivide(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
