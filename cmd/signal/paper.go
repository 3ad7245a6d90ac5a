package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"trades-signal/internal/exchange"
	"trades-signal/internal/intent"
	"trades-signal/internal/journal"
	"trades-signal/internal/metrics"
	"trades-signal/internal/paper"
	"trades-signal/internal/position"
	"trades-signal/internal/queue"
)

func newPaperCmd(e *env) *cobra.Command {
	var slippage float64
	cmd := &cobra.Command{
		Use:   "paper",
		Short: "以模拟持仓消费 PAPER 队列",
		Long: `paper 认领 pending 中的条目，按交易所最新收盘价模拟成交并记入本地持仓。
只接受 mode=PAPER 的意图，其它模式的条目移入 failed。`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if slippage < 0 {
				return fmt.Errorf("slippage 不能为负")
			}
			s, closeStore, err := e.openStore()
			if err != nil {
				return err
			}
			defer closeStore()

			svc, err := journal.NewService(s, e.logger)
			if err != nil {
				return fmt.Errorf("初始化审计服务失败: %w", err)
			}
			ledger, err := position.NewLedger(s, e.logger)
			if err != nil {
				return fmt.Errorf("初始化模拟持仓失败: %w", err)
			}
			consumer, err := queue.NewConsumer(e.cfg.Queue.Root, e.cfg.Queue.Suffix, e.logger)
			if err != nil {
				return err
			}
			client, err := exchange.NewClient(e.cfg.Exchange, e.logger)
			if err != nil {
				return fmt.Errorf("初始化行情客户端失败: %w", err)
			}

			markets := make(map[string]string, len(e.cfg.Strategies))
			for _, sc := range e.cfg.Strategies {
				markets[sc.Symbol] = sc.MarketSymbol()
			}

			executor, err := paper.NewExecutor(paper.Config{
				Consumer: consumer,
				Ledger:   ledger,
				Prices:   paper.NewCandlePrices(client, e.cfg.Exchange.Timeframe, markets),
				Journal:  svc,
				Metrics:  metrics.New(prometheus.NewRegistry()),
				Options:  paper.Options{Mode: intent.ModePaper, Slippage: slippage},
			}, e.logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(contextOrBackground(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := executor.Run(ctx, e.cfg.Paper.PollInterval); err != nil {
				e.logger.Error("模拟执行端异常", zap.Error(err))
				return err
			}
			e.logger.Info("模拟执行端已退出")
			return nil
		},
	}
	cmd.Flags().Float64Var(&slippage, "slippage", 0, "相对参考价的不利滑点比例，如 0.0005")
	return cmd
}
