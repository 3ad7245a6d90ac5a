package hypothesis

import (
	"time"

	"go.uber.org/zap"

	"trades-signal/internal/clock"
	"trades-signal/internal/market"
	"trades-signal/internal/position"
)

// Diagnosed 在内层策略评估后记录非 HOLD 决策，不改变决策本身。
type Diagnosed struct {
	inner   Strategy
	logger  *zap.Logger
	enabled bool
}

// WithDiagnostics 为策略包装诊断日志。已包装的策略原样返回。
func WithDiagnostics(inner Strategy, logger *zap.Logger, enabled bool) Strategy {
	if d, ok := inner.(*Diagnosed); ok {
		return d
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Diagnosed{
		inner:   inner,
		logger:  logger.With(zap.String("strategy", inner.ID())),
		enabled: enabled,
	}
}

// Unwrap 返回内层策略。
func (d *Diagnosed) Unwrap() Strategy { return d.inner }

func (d *Diagnosed) ID() string { return d.inner.ID() }

func (d *Diagnosed) Parameters() Parameters { return d.inner.Parameters() }

func (d *Diagnosed) AllowedRegimes() []Regime { return d.inner.AllowedRegimes() }

// Evaluate 委托内层策略，随后执行诊断记录。
func (d *Diagnosed) Evaluate(snap market.Snapshot, pos position.Position, clk clock.Clock) (Decision, error) {
	decision, err := d.inner.Evaluate(snap, pos, clk)
	if err != nil {
		return decision, err
	}
	d.record(decision, snap)
	return decision, nil
}

func (d *Diagnosed) record(decision Decision, snap market.Snapshot) {
	if !d.enabled || IsHold(decision) {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Debug("诊断记录异常，已忽略", zap.Any("panic", r))
		}
	}()

	bar, err := snap.CurrentBar()
	if err != nil {
		d.logger.Debug("诊断记录跳过：无法获取当前K线", zap.Error(err))
		return
	}

	d.logger.Info("策略信号",
		zap.String("symbol", bar.Symbol),
		zap.String("ts", bar.Timestamp.UTC().Format(time.RFC3339Nano)),
		zap.String("direction", Direction(decision)),
		zap.Float64("confidence", decision.Confidence()),
		zap.Float64("size", decision.Size()),
		zap.String("reason", decision.Reason()),
	)
}

var _ Strategy = (*Diagnosed)(nil)
