package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trades-signal/internal/clock"
	"trades-signal/internal/feed"
	"trades-signal/internal/hypothesis"
	"trades-signal/internal/intent"
	"trades-signal/internal/journal"
	"trades-signal/internal/market"
	"trades-signal/internal/metrics"
	"trades-signal/internal/position"
	"trades-signal/internal/queue"
	"trades-signal/internal/wire"
)

// ErrEmitExhausted 表示重试耗尽后仍无法写入队列，调用方应停止运行而不是丢弃意图。
var ErrEmitExhausted = errors.New("app: 写入队列重试耗尽")

// PipelineConfig 为单个策略实例的流水线依赖。
type PipelineConfig struct {
	Strategy  hypothesis.Strategy
	Builder   *intent.Builder
	History   *market.History
	Positions position.Provider
	// Classifier 为空时不做市场状态过滤。
	Classifier  hypothesis.RegimeClassifier
	Sink        queue.Sink
	Clock       clock.Clock
	EmitRetries int
	RetryDelay  time.Duration
	Journal     *journal.Service
	Metrics     *metrics.Metrics
}

// Outcome 描述一次K线处理的结果。
type Outcome struct {
	Decision hypothesis.Decision
	Regime   hypothesis.Regime
	// Skipped 非空表示本周期未评估或未产生意图的原因。
	Skipped  string
	Rejected error
	Intent   intent.Intent
	Entry    queue.Entry
	Attempts int
}

// Emitted 表示本周期是否写入了队列条目。
func (o Outcome) Emitted() bool {
	return o.Entry.Name != ""
}

const (
	skipRegime     = "regime"
	skipHold       = "hold"
	skipEvaluation = "evaluation_error"
	skipPosition   = "position_error"
	skipRejected   = "rejected"
	skipEncode     = "encode_error"
)

// Pipeline 串联 评估 -> 构建 -> 序列化 -> 写入。一个实例只服务一个策略，单线程驱动。
type Pipeline struct {
	cfg    PipelineConfig
	logger *zap.Logger
}

// NewPipeline 校验依赖并创建流水线。
func NewPipeline(cfg PipelineConfig, logger *zap.Logger) (*Pipeline, error) {
	if cfg.Strategy == nil {
		return nil, fmt.Errorf("app: 流水线缺少策略")
	}
	if cfg.Builder == nil {
		return nil, fmt.Errorf("app: 流水线缺少意图构建器")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("app: 流水线缺少队列")
	}
	if cfg.History == nil {
		cfg.History = market.NewHistory(cfg.Builder.Symbol(), 0)
	}
	if cfg.Positions == nil {
		cfg.Positions = position.Static{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.EmitRetries < 0 {
		cfg.EmitRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg: cfg,
		logger: logger.With(
			zap.String("strategy", cfg.Strategy.ID()),
			zap.String("symbol", cfg.Builder.Symbol()),
			zap.String("mode", string(cfg.Builder.Mode())),
		),
	}, nil
}

// Strategy 返回流水线的策略。
func (p *Pipeline) Strategy() hypothesis.Strategy { return p.cfg.Strategy }

// History 返回流水线的K线历史。
func (p *Pipeline) History() *market.History { return p.cfg.History }

// Seed 预加载历史K线，不触发评估。
func (p *Pipeline) Seed(bars []market.Bar) error {
	for _, bar := range bars {
		if err := p.cfg.History.Append(bar); err != nil {
			return err
		}
	}
	return nil
}

// Process 处理一根新收盘的K线。策略错误、构建拒绝与序列化失败只影响本周期；
// 只有写入重试耗尽才返回错误。
func (p *Pipeline) Process(ctx context.Context, bar market.Bar) (Outcome, error) {
	var out Outcome
	if err := p.cfg.History.Append(bar); err != nil {
		return out, fmt.Errorf("app: 追加K线失败: %w", err)
	}

	strategyID := p.cfg.Strategy.ID()
	symbol := p.cfg.Builder.Symbol()

	if p.cfg.Classifier != nil {
		regime, err := p.cfg.Classifier.Classify(p.cfg.History)
		if err != nil {
			p.logger.Debug("市场状态判定失败", zap.Error(err))
			regime = hypothesis.RegimeUnknown
		}
		out.Regime = regime
		if !hypothesis.RegimeAllowed(p.cfg.Strategy, regime) {
			out.Skipped = skipRegime
			p.cfg.Metrics.IncRegimeSkip(strategyID, string(regime))
			p.cfg.Journal.Emit(ctx, journal.EventRegimeSkipped, journal.RegimePayload{
				Strategy: strategyID,
				Symbol:   symbol,
				BarTime:  bar.Timestamp,
				Regime:   string(regime),
			})
			return out, nil
		}
	}

	pos, err := p.cfg.Positions.Current(ctx, symbol)
	if err != nil {
		out.Skipped = skipPosition
		p.logger.Error("获取持仓失败，跳过本周期", zap.Error(err))
		p.cfg.Journal.RecordError(ctx, "获取持仓失败", err, map[string]interface{}{"strategy": strategyID, "symbol": symbol})
		return out, nil
	}

	decision, err := hypothesis.EvaluateSafely(p.cfg.Strategy, p.cfg.History, pos, p.cfg.Clock)
	if err != nil {
		out.Skipped = skipEvaluation
		p.logger.Error("策略评估失败，本周期无决策", zap.Error(err))
		p.cfg.Metrics.IncEvaluationError(strategyID)
		p.cfg.Journal.Emit(ctx, journal.EventEvaluationError, journal.ErrorPayload{
			Message: "策略评估失败",
			Error:   err.Error(),
			Context: map[string]interface{}{"strategy": strategyID, "symbol": symbol, "bar_time": bar.Timestamp},
		})
		return out, nil
	}
	out.Decision = decision
	p.cfg.Metrics.IncDecision(strategyID, decision.Kind().String())

	if hypothesis.IsHold(decision) {
		out.Skipped = skipHold
		return out, nil
	}

	p.cfg.Journal.Emit(ctx, journal.EventDecision, journal.DecisionPayload{
		Strategy:   strategyID,
		Symbol:     symbol,
		BarTime:    bar.Timestamp,
		Kind:       decision.Kind().String(),
		Size:       decision.Size(),
		Confidence: decision.Confidence(),
		Reason:     decision.Reason(),
	})

	built, err := p.cfg.Builder.Build(decision, pos, bar.Close)
	if err != nil {
		out.Skipped = skipRejected
		out.Rejected = err
		p.logger.Warn("决策被拒绝", zap.String("kind", decision.Kind().String()), zap.Error(err))
		p.cfg.Metrics.IncRejected(strategyID, rejectionLabel(err))
		p.cfg.Journal.Emit(ctx, journal.EventIntentRejected, journal.RejectionPayload{
			Strategy: strategyID,
			Symbol:   symbol,
			Kind:     decision.Kind().String(),
			Reason:   err.Error(),
		})
		return out, nil
	}
	out.Intent = built

	payload, err := wire.Encode(built)
	if err != nil {
		out.Skipped = skipEncode
		p.logger.Error("序列化执行意图失败", zap.String("intent_id", built.ID()), zap.Error(err))
		p.cfg.Journal.RecordError(ctx, "序列化执行意图失败", err, map[string]interface{}{"intent_id": built.ID()})
		return out, nil
	}

	entry, attempts, err := p.emit(ctx, payload)
	out.Attempts = attempts
	if err != nil {
		p.cfg.Journal.Emit(ctx, journal.EventEmitFailed, journal.IntentPayload{
			Strategy:   strategyID,
			IntentID:   built.ID(),
			Symbol:     built.Symbol(),
			Side:       string(built.Side()),
			Quantity:   built.Quantity(),
			Mode:       string(built.Mode()),
			PolicyHash: built.PolicyHash(),
			Attempts:   attempts,
		})
		return out, err
	}
	out.Entry = entry

	p.logger.Info("执行意图已写入队列",
		zap.String("entry", entry.Name),
		zap.String("intent_id", built.ID()),
		zap.String("side", string(built.Side())),
		zap.Float64("quantity", built.Quantity()),
	)
	p.cfg.Metrics.IncEmitted(strategyID, string(built.Side()), string(built.Mode()))
	p.cfg.Journal.Emit(ctx, journal.EventIntentEmitted, journal.IntentPayload{
		Strategy:   strategyID,
		Entry:      entry.Name,
		IntentID:   built.ID(),
		Symbol:     built.Symbol(),
		Side:       string(built.Side()),
		Quantity:   built.Quantity(),
		Mode:       string(built.Mode()),
		PolicyHash: built.PolicyHash(),
		Attempts:   attempts,
	})
	return out, nil
}

// emit 写入同一载荷，失败时按配置重试（包括 queue.ErrNotDurable）。每次重试产生新的条目名，intent_id 不变。
func (p *Pipeline) emit(ctx context.Context, payload []byte) (queue.Entry, int, error) {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.EmitRetries+1; attempt++ {
		entry, err := p.cfg.Sink.Emit(payload)
		if err == nil {
			return entry, attempt, nil
		}
		lastErr = err
		p.cfg.Metrics.IncEmitFailure(p.cfg.Strategy.ID())
		// 条目已可见但未落盘时仍然重试，重复条目由消费端按 intent_id 去重。
		p.logger.Warn("写入队列失败",
			zap.String("visible_entry", entry.Name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.cfg.EmitRetries+1),
			zap.Error(err),
		)

		if attempt > p.cfg.EmitRetries {
			break
		}
		if p.cfg.RetryDelay > 0 {
			timer := time.NewTimer(p.cfg.RetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return queue.Entry{}, attempt, fmt.Errorf("%w: %w", ErrEmitExhausted, ctx.Err())
			case <-timer.C:
			}
		}
	}
	return queue.Entry{}, p.cfg.EmitRetries + 1, fmt.Errorf("%w: %v", ErrEmitExhausted, lastErr)
}

// Run 从数据源逐根读取K线直到耗尽或 ctx 结束。
func (p *Pipeline) Run(ctx context.Context, src feed.Source) error {
	for {
		bar, ok, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("app: 读取K线失败: %w", err)
		}
		if !ok {
			return nil
		}
		if _, err := p.Process(ctx, bar); err != nil {
			p.logger.Error("流水线停止", zap.Error(err))
			return err
		}
	}
}

func rejectionLabel(err error) string {
	var rej *intent.RejectionError
	if !errors.As(err, &rej) {
		return "unknown"
	}
	switch {
	case errors.Is(rej.Reason, intent.ErrHoldDecision):
		return "hold"
	case errors.Is(rej.Reason, intent.ErrNonPositiveSize):
		return "non_positive_size"
	case errors.Is(rej.Reason, intent.ErrNoOpenPosition):
		return "no_open_position"
	case errors.Is(rej.Reason, intent.ErrMissingSymbol):
		return "missing_symbol"
	case errors.Is(rej.Reason, intent.ErrMissingMode):
		return "missing_mode"
	case errors.Is(rej.Reason, intent.ErrSymbolMismatch):
		return "symbol_mismatch"
	default:
		return "other"
	}
}
