package exchange

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trades-signal/internal/market"
)

// CandleFetcher 为K线拉取接口，Client 实现该接口。
type CandleFetcher interface {
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int64) ([]market.Bar, error)
}

// MarketDataService 聚合多个交易对的K线获取。
type MarketDataService struct {
	client CandleFetcher
	logger *zap.Logger
}

// NewMarketDataService 创建市场数据服务。
func NewMarketDataService(client CandleFetcher, logger *zap.Logger) *MarketDataService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MarketDataService{
		client: client,
		logger: logger,
	}
}

// Backfill 并发拉取各交易对的历史K线，任一失败则整体失败。
func (s *MarketDataService) Backfill(ctx context.Context, req BackfillRequest) (map[string][]market.Bar, error) {
	if req.Timeframe == "" {
		req.Timeframe = Timeframe1h
	}
	if req.Limit <= 0 {
		req.Limit = 200
	}

	var (
		mu     sync.Mutex
		result = make(map[string][]market.Bar, len(req.Symbols))
	)

	group, groupCtx := errgroup.WithContext(ctx)
	for _, symbol := range req.Symbols {
		symbol := symbol
		group.Go(func() error {
			data, err := s.client.FetchCandles(groupCtx, symbol, req.Timeframe, int64(req.Limit))
			if err != nil {
				return err
			}
			mu.Lock()
			result[symbol] = data
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	for symbol, bars := range result {
		s.logger.Debug("历史K线获取完成",
			zap.String("symbol", symbol),
			zap.String("timeframe", req.Timeframe),
			zap.Int("count", len(bars)),
		)
	}
	return result, nil
}
