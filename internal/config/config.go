package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "signal"
)

// Load 读取配置文件并结合环境变量返回 Config。
// 当前目录存在 .env 时先加载，便于本地注入密钥。
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.App.Mode = strings.ToUpper(strings.TrimSpace(cfg.App.Mode))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.mode", "PAPER")

	v.SetDefault("exchange.name", "binance")
	v.SetDefault("exchange.api_key", "")
	v.SetDefault("exchange.api_secret", "")
	v.SetDefault("exchange.api_password", "")
	v.SetDefault("exchange.use_sandbox", false)
	v.SetDefault("exchange.timeframe", "1h")
	v.SetDefault("exchange.history_limit", 200)
	v.SetDefault("exchange.retry.max_attempts", 5)
	v.SetDefault("exchange.retry.min_delay", "500ms")
	v.SetDefault("exchange.retry.max_delay", "5s")

	v.SetDefault("intent.time_in_force", "GTC")
	v.SetDefault("intent.stop_loss_pct", 0)
	v.SetDefault("intent.take_profit_pct", 0)
	v.SetDefault("intent.sizing.mode", "fixed")
	v.SetDefault("intent.sizing.base_quantity", 1.0)
	v.SetDefault("intent.sizing.notional", 0)
	v.SetDefault("intent.sizing.lot_step", 0)
	v.SetDefault("intent.sizing.min_quantity", 0)

	v.SetDefault("queue.root", "data/intents")
	v.SetDefault("queue.suffix", ".json")
	v.SetDefault("queue.fsync", true)
	v.SetDefault("queue.emit_retries", 3)
	v.SetDefault("queue.retry_delay", "200ms")

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4.1")
	v.SetDefault("openai.timeout", "15s")

	v.SetDefault("database.path", "data/trades_signal.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("scheduler.poll_interval", "30s")
	v.SetDefault("scheduler.history_capacity", 500)

	v.SetDefault("server.port", 0)

	v.SetDefault("paper.poll_interval", "2s")
	v.SetDefault("paper.initial_equity", 10000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
