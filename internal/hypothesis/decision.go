package hypothesis

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidDecision 表示决策构造参数非法。
var ErrInvalidDecision = errors.New("hypothesis: 决策非法")

// Kind 为交易决策类型，零值为 HOLD。
type Kind uint8

const (
	Hold Kind = iota
	Buy
	Sell
	Close
)

// String 返回决策类型的大写名称。
func (k Kind) String() string {
	switch k {
	case Hold:
		return "HOLD"
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	case Close:
		return "CLOSE"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Decision 为策略单次评估的不可变输出，零值等价于 HOLD。
type Decision struct {
	kind          Kind
	size          float64
	confidence    float64
	hasConfidence bool
	reason        string
}

// DecisionOption 用于设置决策的可选字段。
type DecisionOption func(*Decision)

// WithConfidence 设置置信度，未设置时取 size。
func WithConfidence(c float64) DecisionOption {
	return func(d *Decision) {
		d.confidence = c
		d.hasConfidence = true
	}
}

// WithReason 附带简要原因，仅用于诊断日志。
func WithReason(reason string) DecisionOption {
	return func(d *Decision) {
		d.reason = reason
	}
}

// NewDecision 构造决策。非 HOLD 决策的 size 必须为正有限数。
func NewDecision(kind Kind, size float64, opts ...DecisionOption) (Decision, error) {
	if kind > Close {
		return Decision{}, fmt.Errorf("%w: 未知类型 %d", ErrInvalidDecision, uint8(kind))
	}
	if kind != Hold {
		if !(size > 0) || math.IsInf(size, 0) {
			return Decision{}, fmt.Errorf("%w: %s 的 size 必须大于 0，当前为 %v", ErrInvalidDecision, kind, size)
		}
	} else {
		size = 0
	}

	d := Decision{kind: kind, size: size}
	for _, opt := range opts {
		opt(&d)
	}
	if d.hasConfidence && (math.IsNaN(d.confidence) || math.IsInf(d.confidence, 0)) {
		return Decision{}, fmt.Errorf("%w: confidence 非法 %v", ErrInvalidDecision, d.confidence)
	}
	return d, nil
}

// HoldDecision 返回 HOLD。
func HoldDecision() Decision {
	return Decision{}
}

// Kind 返回决策类型。
func (d Decision) Kind() Kind { return d.kind }

// Size 返回仓位大小或比例，HOLD 时为 0。
func (d Decision) Size() float64 { return d.size }

// Confidence 返回置信度，未显式设置时等于 size。
func (d Decision) Confidence() float64 {
	if d.hasConfidence {
		return d.confidence
	}
	return d.size
}

// Reason 返回诊断原因。
func (d Decision) Reason() string { return d.reason }

// IsHold 判断决策是否为 HOLD。
func IsHold(d Decision) bool {
	return d.kind == Hold
}

// Direction 将决策映射为诊断方向：LONG、SHORT、CLOSE 或 FLAT。
func Direction(d Decision) string {
	switch d.kind {
	case Buy:
		return "LONG"
	case Sell:
		return "SHORT"
	case Close:
		return "CLOSE"
	default:
		return "FLAT"
	}
}
