package log

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"trades-signal/internal/config"
)

const service = "trades-signal"

// NewLogger 根据配置创建 zap.Logger。
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	return NewNamedLogger(cfg, "")
}

// NewNamedLogger 创建带组件名的 logger，run 与 paper 等子命令据此区分日志来源。
func NewNamedLogger(cfg config.LoggingConfig, name string) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.Set(strings.ToLower(strings.TrimSpace(cfg.Level))); err != nil {
		return nil, fmt.Errorf("解析日志级别失败: %w", err)
	}

	zapCfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Development,
		Encoding:          encoding(cfg.Encoding),
		EncoderConfig:     encoderConfig(encoding(cfg.Encoding)),
		OutputPaths:       orDefault(cfg.OutputPaths, "stdout"),
		ErrorOutputPaths:  orDefault(cfg.ErrorOutputPaths, "stderr"),
		DisableStacktrace: !cfg.Development,
		InitialFields:     map[string]interface{}{"service": service},
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("创建日志实例失败: %w", err)
	}
	if name != "" {
		logger = logger.Named(name)
	}
	return logger, nil
}

func encoding(enc string) string {
	if enc == "" {
		return "console"
	}
	return enc
}

// encoderConfig 在 console 输出时使用彩色级别，json 输出保持纯文本。
func encoderConfig(enc string) zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "ts"
	ec.NameKey = "logger"
	ec.FunctionKey = zapcore.OmitKey
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeDuration = zapcore.StringDurationEncoder
	ec.EncodeCaller = zapcore.ShortCallerEncoder
	if enc == "console" {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		ec.EncodeLevel = zapcore.LowercaseLevelEncoder
	}
	return ec
}

func orDefault(paths []string, def string) []string {
	if len(paths) == 0 {
		return []string{def}
	}
	return paths
}
