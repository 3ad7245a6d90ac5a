package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Exchange   ExchangeConfig   `mapstructure:"exchange"`
	Strategies []StrategyConfig `mapstructure:"strategies"`
	Intent     IntentConfig     `mapstructure:"intent"`
	Queue      QueueConfig      `mapstructure:"queue"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Server     ServerConfig     `mapstructure:"server"`
	Paper      PaperConfig      `mapstructure:"paper"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
	// Mode 为 PAPER 或 LIVE，决定产出指令的 mode 字段。
	Mode string `mapstructure:"mode"`
}

// ExchangeConfig 描述行情交易所连接信息，仅用于只读行情与持仓查询。
type ExchangeConfig struct {
	Name         string      `mapstructure:"name"`
	APIKey       string      `mapstructure:"api_key"`
	APISecret    string      `mapstructure:"api_secret"`
	APIPass      string      `mapstructure:"api_password"`
	UseSandbox   bool        `mapstructure:"use_sandbox"`
	Timeframe    string      `mapstructure:"timeframe"`
	HistoryLimit int         `mapstructure:"history_limit"`
	Retry        RetryConfig `mapstructure:"retry"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// StrategyConfig 描述单个策略实例。
type StrategyConfig struct {
	// Name 为注册表中的策略名称。
	Name string `mapstructure:"name"`
	// Symbol 为写入执行指令的标的。
	Symbol string `mapstructure:"symbol"`
	// Market 为行情交易所上的交易对，缺省与 Symbol 相同。
	Market           string                 `mapstructure:"market"`
	Parameters       map[string]interface{} `mapstructure:"parameters"`
	ExplainDecisions bool                   `mapstructure:"explain_decisions"`
	RegimeGating     bool                   `mapstructure:"regime_gating"`
}

// MarketSymbol 返回行情使用的交易对。
func (s StrategyConfig) MarketSymbol() string {
	if strings.TrimSpace(s.Market) != "" {
		return s.Market
	}
	return s.Symbol
}

// IntentConfig 控制执行指令的构建。
type IntentConfig struct {
	TimeInForce   string       `mapstructure:"time_in_force"`
	StopLossPct   float64      `mapstructure:"stop_loss_pct"`
	TakeProfitPct float64      `mapstructure:"take_profit_pct"`
	Sizing        SizingConfig `mapstructure:"sizing"`
}

// SizingConfig 控制 size 到下单数量的换算。
type SizingConfig struct {
	// Mode 为 fixed 或 notional。
	Mode         string  `mapstructure:"mode"`
	BaseQuantity float64 `mapstructure:"base_quantity"`
	Notional     float64 `mapstructure:"notional"`
	LotStep      float64 `mapstructure:"lot_step"`
	MinQuantity  float64 `mapstructure:"min_quantity"`
}

// QueueConfig 描述持久化指令队列。
type QueueConfig struct {
	Root        string        `mapstructure:"root"`
	Suffix      string        `mapstructure:"suffix"`
	Fsync       bool          `mapstructure:"fsync"`
	EmitRetries int           `mapstructure:"emit_retries"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

// OpenAIConfig 描述大模型调用参数。
type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// SchedulerConfig 控制主循环节奏。
type SchedulerConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	HistoryCapacity int           `mapstructure:"history_capacity"`
}

// ServerConfig 控制运维 HTTP 接口，Port<=0 时不启动。
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// PaperConfig 控制模拟执行端。
type PaperConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	InitialEquity float64       `mapstructure:"initial_equity"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	switch strings.ToUpper(c.App.Mode) {
	case "PAPER":
	case "LIVE":
		if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
			err = multierr.Append(err, errors.New("LIVE 模式需要配置 exchange.api_key 与 exchange.api_secret 以读取持仓"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("app.mode 必须为 PAPER 或 LIVE，当前为 %q", c.App.Mode))
	}
	if c.Exchange.Name == "" {
		err = multierr.Append(err, errors.New("exchange.name 不能为空"))
	}
	if c.Exchange.Timeframe == "" {
		err = multierr.Append(err, errors.New("exchange.timeframe 不能为空"))
	}
	if c.Exchange.HistoryLimit <= 0 {
		err = multierr.Append(err, errors.New("exchange.history_limit 必须大于0"))
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}

	if len(c.Strategies) == 0 {
		err = multierr.Append(err, errors.New("strategies 至少包含一个策略"))
	}
	seen := make(map[string]struct{}, len(c.Strategies))
	for i, s := range c.Strategies {
		if strings.TrimSpace(s.Name) == "" {
			err = multierr.Append(err, fmt.Errorf("strategies[%d].name 不能为空", i))
		}
		if strings.TrimSpace(s.Symbol) == "" {
			err = multierr.Append(err, fmt.Errorf("strategies[%d].symbol 不能为空", i))
		}
		key := s.Name + "|" + s.Symbol
		if _, dup := seen[key]; dup {
			err = multierr.Append(err, fmt.Errorf("strategies[%d] 与前面的策略重复: %s", i, key))
		}
		seen[key] = struct{}{}
	}

	if c.Intent.TimeInForce == "" {
		err = multierr.Append(err, errors.New("intent.time_in_force 不能为空"))
	}
	if c.Intent.StopLossPct < 0 || c.Intent.StopLossPct >= 1 {
		err = multierr.Append(err, errors.New("intent.stop_loss_pct 必须位于[0,1)"))
	}
	if c.Intent.TakeProfitPct < 0 {
		err = multierr.Append(err, errors.New("intent.take_profit_pct 不能为负"))
	}
	switch strings.ToLower(c.Intent.Sizing.Mode) {
	case "fixed":
		if c.Intent.Sizing.BaseQuantity <= 0 {
			err = multierr.Append(err, errors.New("intent.sizing.base_quantity 必须大于0"))
		}
	case "notional":
		if c.Intent.Sizing.Notional <= 0 {
			err = multierr.Append(err, errors.New("intent.sizing.notional 必须大于0"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("intent.sizing.mode 必须为 fixed 或 notional，当前为 %q", c.Intent.Sizing.Mode))
	}
	if c.Intent.Sizing.LotStep < 0 {
		err = multierr.Append(err, errors.New("intent.sizing.lot_step 不能为负"))
	}
	if c.Intent.Sizing.MinQuantity < 0 {
		err = multierr.Append(err, errors.New("intent.sizing.min_quantity 不能为负"))
	}

	if c.Queue.Root == "" {
		err = multierr.Append(err, errors.New("queue.root 不能为空"))
	}
	if !strings.HasPrefix(c.Queue.Suffix, ".") || len(c.Queue.Suffix) < 2 {
		err = multierr.Append(err, fmt.Errorf("queue.suffix 必须以 . 开头，当前为 %q", c.Queue.Suffix))
	}
	if c.Queue.EmitRetries < 0 {
		err = multierr.Append(err, errors.New("queue.emit_retries 不能为负"))
	}
	if c.Queue.RetryDelay < 0 {
		err = multierr.Append(err, errors.New("queue.retry_delay 不能为负"))
	}

	for _, s := range c.Strategies {
		if strings.EqualFold(s.Name, "llm") && c.OpenAI.APIKey == "" {
			err = multierr.Append(err, errors.New("llm 策略需要配置 openai.api_key"))
			break
		}
	}
	if c.OpenAI.Timeout <= 0 {
		err = multierr.Append(err, errors.New("openai.timeout 必须大于0"))
	}

	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Scheduler.PollInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.poll_interval 必须大于0"))
	}
	if c.Scheduler.HistoryCapacity < c.Exchange.HistoryLimit {
		err = multierr.Append(err, errors.New("scheduler.history_capacity 不应小于 exchange.history_limit"))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		err = multierr.Append(err, errors.New("server.port 必须位于[0,65535]"))
	}
	if c.Paper.PollInterval <= 0 {
		err = multierr.Append(err, errors.New("paper.poll_interval 必须大于0"))
	}
	if c.Paper.InitialEquity <= 0 {
		err = multierr.Append(err, errors.New("paper.initial_equity 必须大于0"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
