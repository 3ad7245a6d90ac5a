package app

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"trades-signal/internal/clock"
	"trades-signal/internal/config"
	"trades-signal/internal/hypothesis"
	"trades-signal/internal/indicator"
	"trades-signal/internal/intent"
	"trades-signal/internal/journal"
	"trades-signal/internal/market"
	"trades-signal/internal/metrics"
	"trades-signal/internal/position"
	"trades-signal/internal/queue"
	"trades-signal/internal/strategies"
)

// Deps 为构建流水线所需的共享依赖。
type Deps struct {
	Mode      intent.Mode
	Registry  *hypothesis.Registry
	Sink      queue.Sink
	Positions position.Provider
	Clock     clock.Clock
	Journal   *journal.Service
	Metrics   *metrics.Metrics
}

// NewStrategyRegistry 注册内置策略。配置了 llm 策略且未提供 completer 时创建 OpenAI 客户端。
func NewStrategyRegistry(cfg *config.Config, completer strategies.Completer, logger *zap.Logger) (*hypothesis.Registry, error) {
	if completer == nil && needsLLM(cfg.Strategies) {
		client, err := strategies.NewOpenAIClient(cfg.OpenAI)
		if err != nil {
			return nil, fmt.Errorf("初始化AI客户端失败: %w", err)
		}
		completer = client
	}

	reg := hypothesis.NewRegistry(logger)
	if err := strategies.Register(reg, completer, cfg.OpenAI, logger); err != nil {
		return nil, err
	}
	return reg, nil
}

func needsLLM(list []config.StrategyConfig) bool {
	for _, s := range list {
		if strings.EqualFold(s.Name, strategies.LLMName) {
			return true
		}
	}
	return false
}

// BuildPipelines 为每个策略实例构建独立流水线。策略哈希在此计算一次，之后不再变化。
func BuildPipelines(cfg *config.Config, deps Deps, logger *zap.Logger) ([]*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("app: 缺少策略注册表")
	}

	sizer, err := intent.NewSizer(cfg.Intent.Sizing)
	if err != nil {
		return nil, err
	}

	var classifier hypothesis.RegimeClassifier
	pipelines := make([]*Pipeline, 0, len(cfg.Strategies))
	for _, sc := range cfg.Strategies {
		strategy, err := deps.Registry.Build(sc.Name, sc.Parameters, sc.ExplainDecisions)
		if err != nil {
			return nil, err
		}

		hash, err := intent.PolicyHash(strategy.ID(), strategy.Parameters(), sc.Symbol, cfg.Intent)
		if err != nil {
			return nil, err
		}

		builder, err := intent.NewBuilder(intent.BuilderConfig{
			Symbol:      sc.Symbol,
			Mode:        deps.Mode,
			PolicyHash:  hash,
			TimeInForce: cfg.Intent.TimeInForce,
			Sizer:       sizer,
			Protection: intent.Protection{
				StopLossPct:   cfg.Intent.StopLossPct,
				TakeProfitPct: cfg.Intent.TakeProfitPct,
			},
			Clock: deps.Clock,
		})
		if err != nil {
			return nil, fmt.Errorf("app: 策略 %s/%s: %w", sc.Name, sc.Symbol, err)
		}

		pc := PipelineConfig{
			Strategy:    strategy,
			Builder:     builder,
			History:     market.NewHistory(sc.Symbol, cfg.Scheduler.HistoryCapacity),
			Positions:   deps.Positions,
			Sink:        deps.Sink,
			Clock:       deps.Clock,
			EmitRetries: cfg.Queue.EmitRetries,
			RetryDelay:  cfg.Queue.RetryDelay,
			Journal:     deps.Journal,
			Metrics:     deps.Metrics,
		}
		if sc.RegimeGating {
			if classifier == nil {
				classifier = indicator.NewRegimeClassifier(indicator.NewCalculator(), indicator.DefaultRegimeThresholds())
			}
			pc.Classifier = classifier
		}

		p, err := NewPipeline(pc, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("策略流水线已就绪",
			zap.String("strategy", strategy.ID()),
			zap.String("symbol", sc.Symbol),
			zap.String("market", sc.MarketSymbol()),
			zap.String("policy_hash", hash),
			zap.Bool("regime_gating", sc.RegimeGating),
		)
		pipelines = append(pipelines, p)
	}
	return pipelines, nil
}
