package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"trades-signal/internal/backtest"
	"trades-signal/internal/config"
	"trades-signal/internal/exchange"
	"trades-signal/internal/feed"
)

type backtestFlags struct {
	csvPath  string
	strategy string
	symbol   string
	from     string
	to       string
	equity   float64
	slippage float64
	keep     bool
}

func newBacktestCmd(e *env) *cobra.Command {
	var f backtestFlags
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "基于 CSV K线回放单个策略",
		Long: `backtest 使用配置中的一个策略实例回放历史K线，意图经由临时队列
写入并由模拟执行端按收盘价成交，最后输出收益、回撤与夏普比率。

CSV 格式: timestamp,open,high,low,close[,volume]

示例:
  signal backtest --csv data/btcusdt_1h.csv --strategy volatility_breakout
  signal backtest --csv data/btcusdt_1h.csv --strategy 1 --from 2024-01-01`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBacktest(cmd, e, f)
		},
	}
	cmd.Flags().StringVar(&f.csvPath, "csv", "", "K线 CSV 文件路径 (必填)")
	cmd.Flags().StringVarP(&f.strategy, "strategy", "s", "", "策略名称或在配置中的序号，默认第一个")
	cmd.Flags().StringVar(&f.symbol, "symbol", "", "同名策略有多个时按标的筛选")
	cmd.Flags().StringVar(&f.from, "from", "", "开始时间，RFC3339 或 2006-01-02")
	cmd.Flags().StringVar(&f.to, "to", "", "结束时间，RFC3339 或 2006-01-02")
	cmd.Flags().Float64Var(&f.equity, "equity", 0, "初始净值，默认取 paper.initial_equity")
	cmd.Flags().Float64Var(&f.slippage, "slippage", 0, "模拟成交滑点比例")
	cmd.Flags().BoolVar(&f.keep, "keep-queue", false, "保留回测产生的队列目录")
	_ = cmd.MarkFlagRequired("csv")
	return cmd
}

func runBacktest(cmd *cobra.Command, e *env, f backtestFlags) error {
	sc, err := selectStrategy(e.cfg.Strategies, f.strategy, f.symbol)
	if err != nil {
		return err
	}
	from, err := parseTime(f.from)
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	to, err := parseTime(f.to)
	if err != nil {
		return fmt.Errorf("--to: %w", err)
	}
	period, err := exchange.TimeframeDuration(e.cfg.Exchange.Timeframe)
	if err != nil {
		return err
	}
	equity := f.equity
	if equity <= 0 {
		equity = e.cfg.Paper.InitialEquity
	}

	bars, err := feed.LoadCSV(f.csvPath, sc.Symbol)
	if err != nil {
		return err
	}

	queueRoot, err := os.MkdirTemp("", "signal-backtest-*")
	if err != nil {
		return fmt.Errorf("创建回测队列目录失败: %w", err)
	}
	if !f.keep {
		defer os.RemoveAll(queueRoot)
	}

	engine, err := backtest.NewEngine(backtest.Config{
		Strategy:      sc,
		InitialEquity: equity,
		StartTime:     from,
		EndTime:       to,
		Period:        period,
		QueueRoot:     queueRoot,
		Slippage:      f.slippage,
	}, e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	res, err := engine.Run(contextOrBackground(cmd), feed.NewSliceSource(bars))
	if err != nil {
		return err
	}
	printResult(cmd.OutOrStdout(), sc, res)
	if f.keep {
		fmt.Fprintf(cmd.OutOrStdout(), "  Queue:        %s\n", queueRoot)
	}
	return nil
}

// selectStrategy 按序号或名称选择策略实例，selector 为空时取第一个。
func selectStrategy(strategies []config.StrategyConfig, selector, symbol string) (config.StrategyConfig, error) {
	if len(strategies) == 0 {
		return config.StrategyConfig{}, fmt.Errorf("配置中没有策略")
	}
	selector = strings.TrimSpace(selector)
	if idx, err := strconv.Atoi(selector); err == nil {
		if idx < 0 || idx >= len(strategies) {
			return config.StrategyConfig{}, fmt.Errorf("策略序号 %d 超出范围 [0,%d)", idx, len(strategies))
		}
		return strategies[idx], nil
	}

	var matches []config.StrategyConfig
	for _, sc := range strategies {
		if selector != "" && !strings.EqualFold(sc.Name, selector) {
			continue
		}
		if symbol != "" && !strings.EqualFold(sc.Symbol, symbol) {
			continue
		}
		matches = append(matches, sc)
	}
	switch {
	case len(matches) == 0:
		return config.StrategyConfig{}, fmt.Errorf("未找到策略 %q (symbol=%q)", selector, symbol)
	case len(matches) > 1 && selector != "" && symbol == "":
		return config.StrategyConfig{}, fmt.Errorf("策略 %q 有 %d 个实例，请用 --symbol 指定", selector, len(matches))
	}
	return matches[0], nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("无法解析时间 %q", s)
	}
	return t.UTC(), nil
}

func printResult(w io.Writer, sc config.StrategyConfig, res backtest.Result) {
	fmt.Fprintf(w, "Backtest %s on %s\n", sc.Name, sc.Symbol)
	fmt.Fprintf(w, "  Bars:         %d\n", res.Bars)
	fmt.Fprintf(w, "  Intents:      %d (rejected %d)\n", res.Intents, res.Rejected)
	fmt.Fprintf(w, "  Trades:       %d\n", res.Trades)
	fmt.Fprintf(w, "  Position:     %s %.6f @ %.4f\n", res.Position.Side, res.Position.Size, res.Position.EntryPrice)
	fmt.Fprintf(w, "  Realized PnL: %.2f\n", res.RealizedPnL)
	fmt.Fprintf(w, "  Final Equity: %.2f\n", res.FinalEquity)
	fmt.Fprintf(w, "  Total Return: %.2f%%\n", res.Metrics.TotalReturn*100)
	fmt.Fprintf(w, "  Max Drawdown: %.2f%%\n", res.Metrics.MaxDrawdown*100)
	fmt.Fprintf(w, "  Sharpe:       %.3f\n", res.Metrics.SharpeRatio)
	fmt.Fprintf(w, "  Volatility:   %.2f%%\n", res.Metrics.Volatility*100)
	fmt.Fprintf(w, "  Exposure:     %.2f%%\n", res.Metrics.Exposure*100)
}
