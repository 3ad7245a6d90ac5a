package hypothesis

import (
	"fmt"
	"runtime/debug"

	"trades-signal/internal/clock"
	"trades-signal/internal/market"
	"trades-signal/internal/position"
)

// PanicError 表示策略评估期间发生 panic。
type PanicError struct {
	Strategy string
	Value    interface{}
	Stack    []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("hypothesis: 策略 %s 评估 panic: %v", e.Strategy, e.Value)
}

// EvaluateSafely 执行一次评估，将 panic 转为错误。出错时决策为 HOLD。
func EvaluateSafely(s Strategy, snap market.Snapshot, pos position.Position, clk clock.Clock) (decision Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			decision = HoldDecision()
			err = &PanicError{Strategy: s.ID(), Value: r, Stack: debug.Stack()}
		}
	}()

	decision, err = s.Evaluate(snap, pos, clk)
	if err != nil {
		return HoldDecision(), fmt.Errorf("hypothesis: 策略 %s 评估失败: %w", s.ID(), err)
	}
	return decision, nil
}
