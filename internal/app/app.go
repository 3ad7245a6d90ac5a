package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trades-signal/internal/clock"
	"trades-signal/internal/config"
	"trades-signal/internal/exchange"
	"trades-signal/internal/feed"
	"trades-signal/internal/intent"
	"trades-signal/internal/journal"
	"trades-signal/internal/market"
	"trades-signal/internal/metrics"
	"trades-signal/internal/position"
	"trades-signal/internal/queue"
	"trades-signal/internal/store"
	"trades-signal/internal/strategies"
)

// staleTempAge 之前的临时文件视为崩溃残留。
const staleTempAge = time.Hour

// App 聚合核心依赖并驱动信号侧生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store

	fetcher   exchange.CandleFetcher
	positions position.Provider
	completer strategies.Completer
	clock     clock.Clock
}

// Option 用于替换外部依赖。
type Option func(*App)

// WithCandleFetcher 替换行情来源。
func WithCandleFetcher(f exchange.CandleFetcher) Option {
	return func(a *App) { a.fetcher = f }
}

// WithPositions 替换持仓来源。
func WithPositions(p position.Provider) Option {
	return func(a *App) { a.positions = p }
}

// WithCompleter 替换大模型客户端。
func WithCompleter(c strategies.Completer) Option {
	return func(a *App) { a.completer = c }
}

// WithClock 替换时钟。
func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clock = c }
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store, opts ...Option) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
		clock:  clock.System{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run 回填历史后为每个策略启动轮询流水线，任一流水线写入失败即整体退出。
func (a *App) Run(ctx context.Context) error {
	mode, err := intent.ParseMode(a.cfg.App.Mode)
	if err != nil {
		return err
	}

	a.logger.Info("信号系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("mode", string(mode)),
		zap.String("exchange", a.cfg.Exchange.Name),
		zap.Int("strategies", len(a.cfg.Strategies)),
	)

	journalSvc, err := journal.NewService(a.store, a.logger)
	if err != nil {
		return fmt.Errorf("初始化审计服务失败: %w", err)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	sink, err := queue.NewFileSink(a.cfg.Queue.Root, queue.Options{
		Suffix: a.cfg.Queue.Suffix,
		Fsync:  a.cfg.Queue.Fsync,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("初始化指令队列失败: %w", err)
	}
	if swept, err := sink.SweepTemp(staleTempAge); err != nil {
		a.logger.Warn("清理残留临时文件失败", zap.Error(err))
	} else if swept > 0 {
		a.logger.Info("已清理残留临时文件", zap.Int("count", swept))
	}

	consumer, err := queue.NewConsumer(a.cfg.Queue.Root, a.cfg.Queue.Suffix, a.logger)
	if err != nil {
		return fmt.Errorf("初始化队列统计失败: %w", err)
	}

	if err := a.ensureProviders(mode); err != nil {
		return err
	}

	registry, err := NewStrategyRegistry(a.cfg, a.completer, a.logger)
	if err != nil {
		return err
	}

	pipelines, err := BuildPipelines(a.cfg, Deps{
		Mode:      mode,
		Registry:  registry,
		Sink:      sink,
		Positions: a.positions,
		Clock:     a.clock,
		Journal:   journalSvc,
		Metrics:   m,
	}, a.logger)
	if err != nil {
		return err
	}

	markets := make([]string, 0, len(a.cfg.Strategies))
	for _, sc := range a.cfg.Strategies {
		markets = append(markets, sc.MarketSymbol())
	}
	seeded, err := a.backfill(ctx, markets)
	if err != nil {
		journalSvc.RecordError(ctx, "回填历史K线失败", err, nil)
		return err
	}

	if a.cfg.Server.Port > 0 {
		startOpsServer(ctx, newOpsHandler(journalSvc, consumer, promReg, m, a.logger), a.cfg.Server.Port, a.logger)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for i, p := range pipelines {
		sc := a.cfg.Strategies[i]
		bars := seeded[sc.MarketSymbol()]
		if err := p.Seed(relabel(bars, sc.Symbol)); err != nil {
			return fmt.Errorf("预加载K线失败 (%s): %w", sc.Symbol, err)
		}

		var after time.Time
		if len(bars) > 0 {
			after = bars[len(bars)-1].Timestamp
		}
		src, err := feed.NewPollingSource(a.fetcher, feed.PollingConfig{
			Symbol:    sc.MarketSymbol(),
			Timeframe: a.cfg.Exchange.Timeframe,
			Interval:  a.cfg.Scheduler.PollInterval,
			After:     after,
		}, a.clock, a.logger)
		if err != nil {
			return err
		}

		p := p
		symbol := sc.Symbol
		group.Go(func() error {
			return p.Run(groupCtx, &relabelSource{inner: src, symbol: symbol})
		})
	}

	group.Go(func() error {
		a.refreshQueueGauge(groupCtx, consumer, m)
		return nil
	})

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		journalSvc.RecordError(context.Background(), "流水线异常退出", err, nil)
		return fmt.Errorf("系统异常退出: %w", err)
	}
	a.logger.Info("系统收到退出信号，正在停止")
	return nil
}

func (a *App) ensureProviders(mode intent.Mode) error {
	if a.fetcher != nil && a.positions != nil {
		return nil
	}

	var client *exchange.Client
	if a.fetcher == nil || mode == intent.ModeLive {
		c, err := exchange.NewClient(a.cfg.Exchange, a.logger)
		if err != nil {
			return fmt.Errorf("初始化行情客户端失败: %w", err)
		}
		client = c
	}
	if a.fetcher == nil {
		a.fetcher = client
	}
	if a.positions == nil {
		if mode == intent.ModeLive {
			a.positions = position.NewExchangeProvider(client, a.logger)
		} else {
			ledger, err := position.NewLedger(a.store, a.logger)
			if err != nil {
				return fmt.Errorf("初始化模拟持仓失败: %w", err)
			}
			a.positions = ledger
		}
	}
	return nil
}

// backfill 拉取历史K线并剔除尚未收盘的最后一根。
func (a *App) backfill(ctx context.Context, markets []string) (map[string][]market.Bar, error) {
	period, err := exchange.TimeframeDuration(a.cfg.Exchange.Timeframe)
	if err != nil {
		return nil, err
	}
	svc := exchange.NewMarketDataService(a.fetcher, a.logger)
	data, err := svc.Backfill(ctx, exchange.BackfillRequest{
		Symbols:   unique(markets),
		Timeframe: a.cfg.Exchange.Timeframe,
		Limit:     a.cfg.Exchange.HistoryLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("回填历史K线失败: %w", err)
	}
	now := a.clock.Now()
	for symbol, bars := range data {
		data[symbol] = closedBars(bars, period, now)
	}
	return data, nil
}

func (a *App) refreshQueueGauge(ctx context.Context, consumer *queue.Consumer, m *metrics.Metrics) {
	ticker := time.NewTicker(a.cfg.Scheduler.PollInterval)
	defer ticker.Stop()
	for {
		if stats, err := consumer.Counts(); err == nil {
			m.SetQueue(stats.Pending, stats.InFlight, stats.Done, stats.Failed)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func closedBars(bars []market.Bar, period time.Duration, now time.Time) []market.Bar {
	out := bars[:0:0]
	for _, bar := range bars {
		if bar.Timestamp.Add(period).After(now) {
			continue
		}
		out = append(out, bar)
	}
	return out
}

func unique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// relabel 将行情交易对上的K线改写为策略标的。
func relabel(bars []market.Bar, symbol string) []market.Bar {
	out := make([]market.Bar, len(bars))
	for i, bar := range bars {
		bar.Symbol = symbol
		out[i] = bar
	}
	return out
}

type relabelSource struct {
	inner  feed.Source
	symbol string
}

func (s *relabelSource) Next(ctx context.Context) (market.Bar, bool, error) {
	bar, ok, err := s.inner.Next(ctx)
	if ok {
		bar.Symbol = s.symbol
	}
	return bar, ok, err
}
