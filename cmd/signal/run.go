package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"trades-signal/internal/app"
)

func newRunCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "轮询行情并持续产出执行意图",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeStore, err := e.openStore()
			if err != nil {
				return err
			}
			defer closeStore()

			ctx, stop := signal.NotifyContext(contextOrBackground(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := app.New(e.cfg, e.logger, s).Run(ctx); err != nil {
				e.logger.Error("系统运行异常", zap.Error(err))
				return err
			}
			e.logger.Info("系统已安全退出")
			return nil
		},
	}
}

// contextOrBackground 保证子命令在测试中直接调用 RunE 时也有 ctx。
func contextOrBackground(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
