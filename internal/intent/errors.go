package intent

import (
	"errors"
	"fmt"
)

// ErrRejected 匹配所有构建拒绝错误。
var ErrRejected = errors.New("intent: 意图被拒绝")

var (
	ErrHoldDecision    = errors.New("HOLD 决策不生成意图")
	ErrNonPositiveSize = errors.New("数量必须大于 0")
	ErrNoOpenPosition  = errors.New("无持仓无法平仓")
	ErrMissingSymbol   = errors.New("缺少 symbol")
	ErrMissingMode     = errors.New("缺少或非法的 mode")
	ErrSymbolMismatch  = errors.New("持仓标的与策略标的不一致")
)

// RejectionError 为输入约束违规，不产生任何意图。
type RejectionError struct {
	Reason error
	Detail string
}

func reject(reason error, format string, args ...interface{}) error {
	return &RejectionError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

func (e *RejectionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("intent: 意图被拒绝: %v", e.Reason)
	}
	return fmt.Sprintf("intent: 意图被拒绝: %v (%s)", e.Reason, e.Detail)
}

// Is 使 errors.Is(err, ErrRejected) 成立。
func (e *RejectionError) Is(target error) bool {
	return target == ErrRejected
}

func (e *RejectionError) Unwrap() error {
	return e.Reason
}
