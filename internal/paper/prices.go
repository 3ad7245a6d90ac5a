package paper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"trades-signal/internal/exchange"
)

// ErrNoPrice 表示没有可用的成交参考价。
var ErrNoPrice = errors.New("paper: 无可用价格")

// PriceSource 提供模拟成交价。
type PriceSource interface {
	Price(ctx context.Context, symbol string) (float64, error)
}

// Quotes 为内存报价表，回测时按K线收盘价更新。
type Quotes struct {
	mu     sync.RWMutex
	prices map[string]float64
}

// NewQuotes 创建空报价表。
func NewQuotes() *Quotes {
	return &Quotes{prices: make(map[string]float64)}
}

// Set 更新标的最新价。
func (q *Quotes) Set(symbol string, price float64) {
	q.mu.Lock()
	q.prices[strings.ToUpper(symbol)] = price
	q.mu.Unlock()
}

// Price 实现 PriceSource。
func (q *Quotes) Price(_ context.Context, symbol string) (float64, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	p, ok := q.prices[strings.ToUpper(symbol)]
	if !ok || p <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoPrice, symbol)
	}
	return p, nil
}

// CandlePrices 以交易所最近一根K线收盘价作为成交价。
type CandlePrices struct {
	fetcher   exchange.CandleFetcher
	timeframe string
	// markets 将意图标的映射到行情交易对，缺省相同。
	markets map[string]string
}

// NewCandlePrices 创建基于K线的报价源。
func NewCandlePrices(fetcher exchange.CandleFetcher, timeframe string, markets map[string]string) *CandlePrices {
	normalized := make(map[string]string, len(markets))
	for k, v := range markets {
		normalized[strings.ToUpper(k)] = v
	}
	return &CandlePrices{fetcher: fetcher, timeframe: timeframe, markets: normalized}
}

// Price 实现 PriceSource。
func (c *CandlePrices) Price(ctx context.Context, symbol string) (float64, error) {
	market := symbol
	if m, ok := c.markets[strings.ToUpper(symbol)]; ok && m != "" {
		market = m
	}
	bars, err := c.fetcher.FetchCandles(ctx, market, c.timeframe, 1)
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 || bars[len(bars)-1].Close <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoPrice, symbol)
	}
	return bars[len(bars)-1].Close, nil
}
