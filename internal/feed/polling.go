package feed

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trades-signal/internal/clock"
	"trades-signal/internal/exchange"
	"trades-signal/internal/market"
)

// PollingSource 定期从交易所拉取K线，只输出已收盘且比上次更新的K线。
type PollingSource struct {
	fetcher   exchange.CandleFetcher
	symbol    string
	timeframe string
	period    time.Duration
	interval  time.Duration
	clk       clock.Clock
	logger    *zap.Logger

	last    time.Time
	pending []market.Bar
}

// PollingConfig 为轮询源参数。
type PollingConfig struct {
	Symbol    string
	Timeframe string
	Interval  time.Duration
	// After 之前（含）的K线不再输出，通常为回填历史的最后时间。
	After time.Time
}

// NewPollingSource 创建轮询源。
func NewPollingSource(fetcher exchange.CandleFetcher, cfg PollingConfig, clk clock.Clock, logger *zap.Logger) (*PollingSource, error) {
	period, err := exchange.TimeframeDuration(cfg.Timeframe)
	if err != nil {
		return nil, err
	}
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("feed: symbol 不能为空")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PollingSource{
		fetcher:   fetcher,
		symbol:    cfg.Symbol,
		timeframe: cfg.Timeframe,
		period:    period,
		interval:  cfg.Interval,
		clk:       clk,
		logger:    logger,
		last:      cfg.After,
	}, nil
}

// Next 阻塞直到出现新的已收盘K线或 ctx 结束。拉取失败只记录日志并在下个周期重试。
func (p *PollingSource) Next(ctx context.Context) (market.Bar, bool, error) {
	for {
		if len(p.pending) > 0 {
			bar := p.pending[0]
			p.pending = p.pending[1:]
			return bar, true, nil
		}

		if err := p.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return market.Bar{}, false, ctx.Err()
			}
			p.logger.Warn("拉取K线失败，等待下次轮询",
				zap.String("symbol", p.symbol),
				zap.Error(err),
			)
		}
		if len(p.pending) > 0 {
			continue
		}

		timer := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return market.Bar{}, false, ctx.Err()
		case <-timer.C:
		}
	}
}

func (p *PollingSource) poll(ctx context.Context) error {
	bars, err := p.fetcher.FetchCandles(ctx, p.symbol, p.timeframe, 5)
	if err != nil {
		return err
	}
	now := p.clk.Now()
	for _, bar := range bars {
		if !bar.Timestamp.After(p.last) {
			continue
		}
		// 开盘时间 + 周期 未到当前时间的K线仍在形成中。
		if bar.Timestamp.Add(p.period).After(now) {
			continue
		}
		p.pending = append(p.pending, bar)
		p.last = bar.Timestamp
	}
	return nil
}

// Last 返回最近输出（或排队）的K线时间。
func (p *PollingSource) Last() time.Time { return p.last }
