// Package wire 定义执行意图的线上编码：紧凑 JSON 对象，键顺序固定，
// 可选价格以 null 表示缺省，时间为 UTC 且固定纳秒宽度。
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"trades-signal/internal/intent"
)

// TimestampLayout 为时间字段的固定格式。
const TimestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrMalformed 表示载荷无法解码为合法意图。
var ErrMalformed = errors.New("wire: 载荷格式非法")

// Keys 为编码中字段的固定顺序。
var Keys = []string{
	"intent_id",
	"timestamp",
	"symbol",
	"side",
	"order_type",
	"quantity",
	"stop_loss",
	"take_profit",
	"time_in_force",
	"policy_hash",
	"mode",
}

// Encode 将意图编码为字节。对任何经 intent.New 构造的意图都成功。
func Encode(in intent.Intent) ([]byte, error) {
	if in.IsZero() {
		return nil, errors.New("wire: 不能编码空意图")
	}

	var buf bytes.Buffer
	buf.Grow(320)
	buf.WriteByte('{')
	for i, key := range Keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeString(&buf, key)
		buf.WriteByte(':')

		var err error
		switch key {
		case "intent_id":
			writeString(&buf, in.ID())
		case "timestamp":
			writeString(&buf, in.Timestamp().UTC().Format(TimestampLayout))
		case "symbol":
			writeString(&buf, in.Symbol())
		case "side":
			writeString(&buf, string(in.Side()))
		case "order_type":
			writeString(&buf, string(in.OrderType()))
		case "quantity":
			err = writeFloat(&buf, in.Quantity())
		case "stop_loss":
			err = writePrice(&buf, in.StopLoss())
		case "take_profit":
			err = writePrice(&buf, in.TakeProfit())
		case "time_in_force":
			writeString(&buf, in.TimeInForce())
		case "policy_hash":
			writeString(&buf, in.PolicyHash())
		case "mode":
			writeString(&buf, string(in.Mode()))
		}
		if err != nil {
			return nil, fmt.Errorf("wire: 编码 %s 失败: %w", key, err)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeString(buf *bytes.Buffer, s string) {
	// json.Marshal 对 string 不会失败。
	raw, _ := json.Marshal(s)
	buf.Write(raw)
}

// writeFloat 使用最短往返表示，保证解码后位级相同。
func writeFloat(buf *bytes.Buffer, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("非有限数值 %v", v)
	}
	buf.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	return nil
}

func writePrice(buf *bytes.Buffer, p intent.Price) error {
	v, ok := p.Get()
	if !ok {
		buf.WriteString("null")
		return nil
	}
	return writeFloat(buf, v)
}
