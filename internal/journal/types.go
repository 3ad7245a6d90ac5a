package journal

import (
	"time"
)

// EventType 表示审计事件类型。
type EventType string

const (
	EventDecision        EventType = "decision"
	EventIntentEmitted   EventType = "intent_emitted"
	EventIntentRejected  EventType = "intent_rejected"
	EventEmitFailed      EventType = "emit_failed"
	EventEvaluationError EventType = "evaluation_error"
	EventRegimeSkipped   EventType = "regime_skipped"
	EventIntentProcessed EventType = "intent_processed"
	EventIntentFailed    EventType = "intent_failed"
	EventError           EventType = "error"
)

// Event 封装通用审计事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// DecisionPayload 记录一次非 HOLD 决策。
type DecisionPayload struct {
	Strategy   string    `json:"strategy"`
	Symbol     string    `json:"symbol"`
	BarTime    time.Time `json:"bar_time"`
	Kind       string    `json:"kind"`
	Size       float64   `json:"size"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason,omitempty"`
}

// IntentPayload 记录写入队列的意图。
type IntentPayload struct {
	Strategy   string  `json:"strategy"`
	Entry      string  `json:"entry"`
	IntentID   string  `json:"intent_id"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Quantity   float64 `json:"quantity"`
	Mode       string  `json:"mode"`
	PolicyHash string  `json:"policy_hash"`
	Attempts   int     `json:"attempts"`
}

// RejectionPayload 记录被拒绝的决策。
type RejectionPayload struct {
	Strategy string `json:"strategy"`
	Symbol   string `json:"symbol"`
	Kind     string `json:"kind"`
	Reason   string `json:"reason"`
}

// RegimePayload 记录因市场状态被跳过的评估。
type RegimePayload struct {
	Strategy string    `json:"strategy"`
	Symbol   string    `json:"symbol"`
	BarTime  time.Time `json:"bar_time"`
	Regime   string    `json:"regime"`
}

// ProcessedPayload 记录消费端处理结果。
type ProcessedPayload struct {
	Entry       string  `json:"entry"`
	IntentID    string  `json:"intent_id"`
	Symbol      string  `json:"symbol,omitempty"`
	Side        string  `json:"side,omitempty"`
	Quantity    float64 `json:"quantity,omitempty"`
	Price       float64 `json:"price,omitempty"`
	RealizedPnL float64 `json:"realized_pnl,omitempty"`
	Outcome     string  `json:"outcome"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
