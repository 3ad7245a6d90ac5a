package strategies

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"
	"time"

	"trades-signal/internal/indicator"
	"trades-signal/internal/position"
)

const decisionTemplate = `
你是一个专业的加密货币量化交易员。请根据以下 {{ .Symbol }} 的技术指标与当前持仓，给出本根K线的交易决策。

技术指标：
{{ .IndicatorsJSON }}

当前持仓：
- 持仓方向: {{ .Position.Side }}
- 仓位大小: {{ printf "%.6f" .Position.Size }}
- 入场价格: {{ printf "%.6f" .Position.EntryPrice }}

决策规则：
1. 只在趋势与动量一致时开仓，不确定时返回 HOLD；
2. 持有仓位且信号反转时返回 CLOSE；
3. 无持仓时不得返回 CLOSE；
4. size 为 (0,1] 的仓位比例，HOLD 时填 0。

请严格输出唯一的 JSON 对象：
{
  "action": "BUY|SELL|CLOSE|HOLD",
  "size": 0.0-1.0,
  "confidence": 0.0-1.0,
  "reason": "..."
}
`

var tmpl = template.Must(template.New("decision").Parse(decisionTemplate))

// promptIndicators 为提示词中的指标摘要，字段顺序固定以保证提示词稳定。
type promptIndicators struct {
	Close             float64 `json:"close"`
	PreviousClose     float64 `json:"previous_close"`
	EMAFast           float64 `json:"ema_fast"`
	EMASlow           float64 `json:"ema_slow"`
	EMATrend          float64 `json:"ema_trend"`
	MACD              float64 `json:"macd"`
	MACDSignal        float64 `json:"macd_signal"`
	MACDHistogram     float64 `json:"macd_histogram"`
	RSI               float64 `json:"rsi14"`
	ATR               float64 `json:"atr14"`
	ATRRelative       float64 `json:"atr_relative"`
	ADX               float64 `json:"adx14"`
	BollingerPosition float64 `json:"bollinger_position"`
	BollingerWidth    float64 `json:"bollinger_bandwidth"`
	VolumeRatio       float64 `json:"volume_ratio"`
	BarTime           string  `json:"bar_time"`
}

// PromptContext 用于渲染提示词。
type PromptContext struct {
	Symbol         string
	Position       position.Position
	IndicatorsJSON string
}

// BuildPrompt 将指标与持仓渲染成提示词。
func BuildPrompt(r indicator.Result, pos position.Position) (string, error) {
	summary := promptIndicators{
		Close:             r.Close,
		PreviousClose:     r.PreviousClose,
		EMAFast:           r.EMAFast,
		EMASlow:           r.EMASlow,
		EMATrend:          r.EMATrend,
		MACD:              r.MACD.Value,
		MACDSignal:        r.MACD.Signal,
		MACDHistogram:     r.MACD.Histogram,
		RSI:               r.RSI,
		ATR:               r.ATR.Absolute,
		ATRRelative:       r.ATR.Relative,
		ADX:               r.ADX,
		BollingerPosition: r.Bollinger.Position,
		BollingerWidth:    r.Bollinger.Bandwidth,
		VolumeRatio:       r.Volume.Ratio,
	}
	if !r.BarTime.IsZero() {
		summary.BarTime = r.BarTime.UTC().Format(time.RFC3339)
	}

	raw, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("序列化指标失败: %w", err)
	}

	if pos.Side == "" {
		pos.Side = position.SideFlat
	}
	ctx := PromptContext{
		Symbol:         r.Symbol,
		Position:       pos,
		IndicatorsJSON: string(raw),
	}

	var buf bytes.Buffer
	if err = tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("渲染提示词失败: %w", err)
	}
	return buf.String(), nil
}
