package backtest

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"trades-signal/internal/app"
	"trades-signal/internal/clock"
	"trades-signal/internal/config"
	"trades-signal/internal/feed"
	"trades-signal/internal/intent"
	"trades-signal/internal/journal"
	"trades-signal/internal/paper"
	"trades-signal/internal/position"
	"trades-signal/internal/queue"
	"trades-signal/internal/store"
)

// Result 汇总回测结果。
type Result struct {
	Metrics      Metrics
	EquityCurve  []float64
	ReturnSeries []float64
	Bars         int
	Intents      int
	Rejected     int
	Trades       int
	RealizedPnL  float64
	FinalEquity  float64
	Position     position.Position
}

// Engine 串联K线回放、策略流水线、持久化队列与模拟执行端。
// 每根K线：推进模拟时钟，更新报价，流水线写入意图后由执行端立即按收盘价成交。
type Engine struct {
	cfg       Config
	symbol    string
	store     *store.Store
	clock     *clock.Simulated
	quotes    *paper.Quotes
	ledger    *position.Ledger
	pipeline  *app.Pipeline
	executor  *paper.Executor
	simulator *Simulator
	logger    *zap.Logger
}

// NewEngine 构建回测引擎。回测使用内存 SQLite 与独立队列目录，不影响线上数据。
func NewEngine(cfg Config, appCfg *config.Config, logger *zap.Logger) (*Engine, error) {
	if appCfg == nil {
		return nil, fmt.Errorf("backtest: 配置不能为空")
	}
	if cfg.Strategy.Name == "" || cfg.Strategy.Symbol == "" {
		return nil, fmt.Errorf("backtest: 需要指定策略名称与标的")
	}
	if cfg.QueueRoot == "" {
		return nil, fmt.Errorf("backtest: 队列目录不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.normalize()

	runCfg := *appCfg
	runCfg.Strategies = []config.StrategyConfig{cfg.Strategy}

	mem, err := store.NewMemory()
	if err != nil {
		return nil, err
	}
	e, err := assemble(cfg, &runCfg, mem, logger)
	if err != nil {
		_ = mem.Close()
		return nil, err
	}
	return e, nil
}

func assemble(cfg Config, runCfg *config.Config, mem *store.Store, logger *zap.Logger) (*Engine, error) {
	if err := os.MkdirAll(cfg.QueueRoot, 0o755); err != nil {
		return nil, fmt.Errorf("backtest: 创建队列目录失败: %w", err)
	}

	svc, err := journal.NewService(mem, logger)
	if err != nil {
		return nil, err
	}
	ledger, err := position.NewLedger(mem, logger)
	if err != nil {
		return nil, err
	}
	sink, err := queue.NewFileSink(cfg.QueueRoot, queue.Options{Suffix: runCfg.Queue.Suffix}, logger)
	if err != nil {
		return nil, err
	}
	consumer, err := queue.NewConsumer(cfg.QueueRoot, runCfg.Queue.Suffix, logger)
	if err != nil {
		return nil, err
	}

	clk := clock.NewSimulated(cfg.StartTime)
	registry, err := app.NewStrategyRegistry(runCfg, cfg.Completer, logger)
	if err != nil {
		return nil, err
	}
	pipelines, err := app.BuildPipelines(runCfg, app.Deps{
		Mode:      intent.ModePaper,
		Registry:  registry,
		Sink:      sink,
		Positions: ledger,
		Clock:     clk,
		Journal:   svc,
	}, logger)
	if err != nil {
		return nil, err
	}

	quotes := paper.NewQuotes()
	executor, err := paper.NewExecutor(paper.Config{
		Consumer: consumer,
		Ledger:   ledger,
		Prices:   quotes,
		Journal:  svc,
		Clock:    clk,
		Options:  paper.Options{Mode: intent.ModePaper, Slippage: cfg.Slippage},
	}, logger)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:       cfg,
		symbol:    cfg.Strategy.Symbol,
		store:     mem,
		clock:     clk,
		quotes:    quotes,
		ledger:    ledger,
		pipeline:  pipelines[0],
		executor:  executor,
		simulator: NewSimulator(cfg.InitialEquity),
		logger:    logger,
	}, nil
}

// Close 释放回测使用的内存数据库。
func (e *Engine) Close() error {
	return e.store.Close()
}

// Run 执行完整回测流程。
func (e *Engine) Run(ctx context.Context, src feed.Source) (Result, error) {
	var res Result
	src = newWindowSource(src, e.cfg.StartTime, e.cfg.EndTime)

	for {
		bar, ok, err := src.Next(ctx)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			break
		}
		bar.Symbol = e.symbol
		res.Bars++

		e.clock.Set(bar.Timestamp)
		e.quotes.Set(e.symbol, bar.Close)

		out, err := e.pipeline.Process(ctx, bar)
		if err != nil {
			return Result{}, err
		}
		if out.Rejected != nil {
			res.Rejected++
		}
		if out.Emitted() {
			res.Intents++
			fills, err := e.executor.ProcessPending(ctx)
			if err != nil {
				return Result{}, err
			}
			for _, f := range fills {
				if f.Outcome == paper.OutcomeFilled {
					e.simulator.RecordTrade()
				}
			}
		}

		pos, err := e.ledger.Current(ctx, e.symbol)
		if err != nil {
			return Result{}, err
		}
		realized, err := e.ledger.RealizedPnL(ctx, e.symbol)
		if err != nil {
			return Result{}, err
		}
		e.simulator.Mark(bar.Close, pos, realized)
		res.Position = pos
		res.RealizedPnL = realized
	}

	res.Metrics = calculateMetrics(e.simulator.EquityHistory(), e.simulator.ReturnHistory(), e.cfg.Period)
	res.Metrics.Exposure = e.simulator.Exposure()
	res.EquityCurve = e.simulator.EquityHistory()
	res.ReturnSeries = e.simulator.ReturnHistory()
	res.Trades = e.simulator.TradeCount()
	res.FinalEquity = e.simulator.Equity()

	e.logger.Info("回测完成",
		zap.String("strategy", e.pipeline.Strategy().ID()),
		zap.String("symbol", e.symbol),
		zap.Int("bars", res.Bars),
		zap.Int("intents", res.Intents),
		zap.Int("trades", res.Trades),
		zap.Float64("total_return", res.Metrics.TotalReturn),
		zap.Float64("max_drawdown", res.Metrics.MaxDrawdown),
		zap.Float64("sharpe", res.Metrics.SharpeRatio),
		zap.Float64("exposure", res.Metrics.Exposure),
	)
	return res, nil
}
