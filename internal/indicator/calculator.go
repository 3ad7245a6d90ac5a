package indicator

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	talib "github.com/markcheno/go-talib"

	"trades-signal/internal/market"
)

// MinBars 为默认周期下 Compute 所需的最少K线数量。
var MinBars = DefaultPeriods().MinBars()

// Periods 为各指标的计算周期。
type Periods struct {
	EMAFast   int
	EMASlow   int
	EMATrend  int
	MACDSig   int
	RSI       int
	ATR       int
	ADX       int
	Bollinger int
	Volume    int
}

// DefaultPeriods 返回常用周期：EMA 12/26/50，RSI/ATR/ADX 14，布林带 20。
func DefaultPeriods() Periods {
	return Periods{
		EMAFast:   12,
		EMASlow:   26,
		EMATrend:  50,
		MACDSig:   9,
		RSI:       14,
		ATR:       14,
		ADX:       14,
		Bollinger: 20,
		Volume:    20,
	}
}

// MinBars 返回预热所需K线数：最长 EMA 与两倍 ADX 周期取大者，再留出余量。
func (p Periods) MinBars() int {
	n := p.EMATrend
	if adx := 2 * p.ADX; adx > n {
		n = adx
	}
	return n + 10
}

// Result 为一次指标计算的汇总。
type Result struct {
	Symbol  string
	BarTime time.Time
	Series  Series

	Close         float64
	PreviousClose float64
	EMAFast       float64
	EMASlow       float64
	EMATrend      float64
	RSI           float64
	ADX           float64

	MACD struct {
		Value, Signal, Histogram, PrevHistogram float64
	}
	Bollinger struct {
		Upper, Middle, Lower float64
		// Bandwidth 为 (上轨-下轨)/中轨。
		Bandwidth float64
		// Position 为收盘价在带内的位置，限制在 [0,1]。
		Position float64
	}
	ATR struct {
		Absolute, Relative, Previous float64
		// Average 为最近 ATR 周期内 ATR 的均值，用于判断波动扩张。
		Average float64
	}
	Volume struct {
		Current, Average, Ratio float64
	}
}

// Calculator 基于 talib 计算指标，并按标的缓存最近一根K线的结果。结果只取决于输入K线。
type Calculator struct {
	periods Periods

	mu    sync.Mutex
	cache map[string]cached
}

type cached struct {
	at     time.Time
	count  int
	close  float64
	result Result
}

// NewCalculator 使用默认周期创建 Calculator。
func NewCalculator() *Calculator {
	return NewCalculatorWith(DefaultPeriods())
}

// NewCalculatorWith 使用指定周期创建 Calculator。
func NewCalculatorWith(p Periods) *Calculator {
	return &Calculator{periods: p, cache: make(map[string]cached)}
}

// Periods 返回计算周期。
func (c *Calculator) Periods() Periods { return c.periods }

// ComputeSnapshot 取最近 window 根K线计算，历史不足 MinBars 时返回 ErrInsufficientBars。
func (c *Calculator) ComputeSnapshot(snap market.Snapshot, window int) (Result, error) {
	need := c.periods.MinBars()
	if snap.BarCount() < need {
		return Result{}, fmt.Errorf("indicator: %w (需要 %d, 当前 %d)", market.ErrInsufficientBars, need, snap.BarCount())
	}
	if window < need {
		window = need
	}
	if window > snap.BarCount() {
		window = snap.BarCount()
	}
	bars, err := snap.RecentBars(window)
	if err != nil {
		return Result{}, err
	}
	return c.Compute(bars)
}

// Compute 依据按时间升序的K线计算指标。
func (c *Calculator) Compute(bars []market.Bar) (Result, error) {
	if len(bars) == 0 {
		return Result{}, errors.New("indicator: 输入K线为空")
	}
	if need := c.periods.MinBars(); len(bars) < need {
		return Result{}, fmt.Errorf("indicator: %w (需要 %d, 当前 %d)", market.ErrInsufficientBars, need, len(bars))
	}

	last := bars[len(bars)-1]
	key := cached{at: last.Timestamp, count: len(bars), close: last.Close}

	c.mu.Lock()
	if hit, ok := c.cache[last.Symbol]; ok && hit.at.Equal(key.at) && hit.count == key.count && hit.close == key.close {
		c.mu.Unlock()
		return hit.result, nil
	}
	c.mu.Unlock()

	key.result = c.calculate(last.Symbol, NewSeries(bars))

	c.mu.Lock()
	c.cache[last.Symbol] = key
	c.mu.Unlock()
	return key.result, nil
}

func (c *Calculator) calculate(symbol string, s Series) Result {
	p := c.periods
	r := Result{
		Symbol:        symbol,
		BarTime:       s.Timestamps[s.Len()-1],
		Series:        s,
		Close:         Last(s.Close),
		PreviousClose: Prev(s.Close),
		EMAFast:       Last(talib.Ema(s.Close, p.EMAFast)),
		EMASlow:       Last(talib.Ema(s.Close, p.EMASlow)),
		EMATrend:      Last(talib.Ema(s.Close, p.EMATrend)),
		RSI:           Last(talib.Rsi(s.Close, p.RSI)),
		ADX:           Last(talib.Adx(s.High, s.Low, s.Close, p.ADX)),
	}

	macd, signal, hist := talib.Macd(s.Close, p.EMAFast, p.EMASlow, p.MACDSig)
	r.MACD.Value, r.MACD.Signal = Last(macd), Last(signal)
	r.MACD.Histogram, r.MACD.PrevHistogram = Last(hist), Prev(hist)

	upper, middle, lower := talib.BBands(s.Close, p.Bollinger, 2, 2, talib.EMA)
	r.Bollinger.Upper, r.Bollinger.Middle, r.Bollinger.Lower = Last(upper), Last(middle), Last(lower)
	if width := r.Bollinger.Upper - r.Bollinger.Lower; width > 0 {
		r.Bollinger.Bandwidth = SafeDivide(width, r.Bollinger.Middle)
		r.Bollinger.Position = math.Max(0, math.Min(1, (r.Close-r.Bollinger.Lower)/width))
	}

	atr := talib.Atr(s.High, s.Low, s.Close, p.ATR)
	r.ATR.Absolute, r.ATR.Previous = Last(atr), Prev(atr)
	r.ATR.Relative = SafeDivide(r.ATR.Absolute, r.Close)
	r.ATR.Average = Mean(SliceTail(atr, p.ATR))

	r.Volume.Current = Last(s.Volume)
	r.Volume.Average = Mean(SliceTail(s.Volume, p.Volume))
	r.Volume.Ratio = SafeDivide(r.Volume.Current, r.Volume.Average)
	return r
}
