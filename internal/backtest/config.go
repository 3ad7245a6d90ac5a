package backtest

import (
	"time"

	"trades-signal/internal/config"
	"trades-signal/internal/strategies"
)

// Config 定义回测参数。
type Config struct {
	Strategy      config.StrategyConfig // 回测的策略实例
	InitialEquity float64               // 初始净值
	StartTime     time.Time             // 开始时间，零值表示不限
	EndTime       time.Time             // 结束时间，零值表示不限
	Period        time.Duration         // K线周期，用于年化
	QueueRoot     string                // 回测专用队列目录
	Slippage      float64               // 模拟成交滑点
	// Completer 为 llm 策略注入的模型客户端，可为空。
	Completer strategies.Completer
}

func (c *Config) normalize() Config {
	cfg := *c
	if cfg.InitialEquity <= 0 {
		cfg.InitialEquity = 10000
	}
	if cfg.Period <= 0 {
		cfg.Period = time.Hour
	}
	return cfg
}
