package exchange

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"trades-signal/internal/config"
	"trades-signal/internal/market"
)

// Client 为 Binance USDⓈ-M 的只读封装：K线与持仓查询，不提供下单接口。
type Client struct {
	retry   backoff
	logger  *zap.Logger
	binance *ccxt.Binanceusdm

	mu     sync.Mutex
	loaded bool
}

// NewClient 构造客户端，一个客户端可服务多个交易对。
func NewClient(cfg config.ExchangeConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "future",
		},
	}
	for key, val := range map[string]string{
		"apiKey":   cfg.APIKey,
		"secret":   cfg.APISecret,
		"password": cfg.APIPass,
	} {
		if val != "" {
			opts[key] = val
		}
	}

	ex := ccxt.NewBinanceusdm(opts)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}
	return &Client{
		retry:   newBackoff(cfg.Retry),
		logger:  logger.With(zap.String("exchange", cfg.Name)),
		binance: ex,
	}, nil
}

// FetchCandles 获取最近 limit 根K线，按时间升序去重返回，最后一根可能尚未收盘。
func (c *Client) FetchCandles(ctx context.Context, symbol, timeframe string, limit int64) ([]market.Bar, error) {
	if limit <= 0 {
		limit = 1
	}
	if err := c.loadMarkets(ctx); err != nil {
		return nil, err
	}

	var raw []ccxt.OHLCV
	err := c.retry.run(ctx, c.logger, fmt.Sprintf("ohlcv %s %s", symbol, timeframe), func() error {
		rows, err := c.binance.FetchOHLCV(
			symbol,
			ccxt.WithFetchOHLCVTimeframe(timeframe),
			ccxt.WithFetchOHLCVLimit(limit),
		)
		raw = rows
		return err
	})
	if err != nil {
		return nil, err
	}
	return toBars(symbol, raw), nil
}

// FetchPositions 读取账户持仓，供 position.ExchangeProvider 使用。
func (c *Client) FetchPositions(options ...ccxt.FetchPositionsOptions) ([]ccxt.Position, error) {
	var positions []ccxt.Position
	err := c.retry.run(context.Background(), c.logger, "positions", func() error {
		rows, err := c.binance.FetchPositions(options...)
		positions = rows
		return err
	})
	return positions, err
}

func (c *Client) loadMarkets(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return nil
	}
	err := c.retry.run(ctx, c.logger, "markets", func() error {
		_, err := c.binance.LoadMarkets()
		return err
	})
	if err != nil {
		return err
	}
	c.loaded = true
	c.logger.Info("交易对元数据已加载")
	return nil
}

// toBars 转换 OHLCV，丢弃收盘价非正的行，同一时间戳保留最后一条。
func toBars(symbol string, rows []ccxt.OHLCV) []market.Bar {
	byTime := make(map[int64]market.Bar, len(rows))
	for _, row := range rows {
		if row.Close <= 0 {
			continue
		}
		byTime[row.Timestamp] = market.Bar{
			Symbol:    symbol,
			Timestamp: time.UnixMilli(row.Timestamp).UTC(),
			Open:      row.Open,
			High:      row.High,
			Low:       row.Low,
			Close:     row.Close,
			Volume:    row.Volume,
		}
	}
	bars := make([]market.Bar, 0, len(byTime))
	for _, bar := range byTime {
		bars = append(bars, bar)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars
}
