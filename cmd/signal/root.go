package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"trades-signal/internal/config"
	"trades-signal/internal/log"
	"trades-signal/internal/store"
)

// env 为子命令共享的运行环境，由 PersistentPreRunE 填充。
type env struct {
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
}

func newRootCmd() *cobra.Command {
	e := &env{}
	root := &cobra.Command{
		Use:   "signal",
		Short: "策略信号生成与执行意图队列",
		Long: `signal 按收盘K线驱动交易策略，将非 HOLD 决策转换为执行意图，
以原子文件写入持久化队列，交由独立的执行端消费。

子命令:
  run       轮询行情并持续产出执行意图
  paper     以模拟持仓消费 PAPER 队列
  backtest  基于 CSV K线回放单个策略
  queue     查看队列状态与条目`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.load(cmd.Name())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if e.logger != nil {
				_ = e.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&e.configPath, "config", "c", "", "配置文件路径，默认使用 configs/config.yaml")

	root.AddCommand(
		newRunCmd(e),
		newPaperCmd(e),
		newBacktestCmd(e),
		newQueueCmd(e),
	)
	return root
}

// load 读取配置并创建以子命令命名的 logger。
func (e *env) load(component string) error {
	cfg, err := config.Load(e.configPath)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}
	logger, err := log.NewNamedLogger(cfg.Logging, component)
	if err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	e.cfg = cfg
	e.logger = logger
	return nil
}

// openStore 打开配置中的数据库，调用方负责关闭。
func (e *env) openStore() (*store.Store, func(), error) {
	s, err := store.NewSQLite(e.cfg.Database)
	if err != nil {
		e.logger.Error("初始化数据库失败", zap.Error(err))
		return nil, nil, err
	}
	return s, func() {
		if closeErr := s.Close(); closeErr != nil {
			e.logger.Warn("关闭数据库失败", zap.Error(closeErr))
		}
	}, nil
}
