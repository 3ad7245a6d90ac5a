package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"trades-signal/internal/intent"
)

// Decode 严格解码：拒绝未知键、重复键、缺失键与非法枚举值。键顺序不作要求。
func Decode(data []byte) (intent.Intent, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return intent.Intent{}, malformed("读取起始符失败: %v", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return intent.Intent{}, malformed("载荷必须为 JSON 对象")
	}

	known := make(map[string]bool, len(Keys))
	for _, k := range Keys {
		known[k] = true
	}
	values := make(map[string]interface{}, len(Keys))

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return intent.Intent{}, malformed("读取键失败: %v", err)
		}
		key, ok := tok.(string)
		if !ok {
			return intent.Intent{}, malformed("键类型非法")
		}
		if !known[key] {
			return intent.Intent{}, malformed("未知键 %q", key)
		}
		if _, dup := values[key]; dup {
			return intent.Intent{}, malformed("重复键 %q", key)
		}

		var v interface{}
		if err := dec.Decode(&v); err != nil {
			return intent.Intent{}, malformed("读取 %s 失败: %v", key, err)
		}
		values[key] = v
	}

	if tok, err := dec.Token(); err != nil || tok != json.Delim('}') {
		return intent.Intent{}, malformed("对象未正确结束")
	}
	if _, err := dec.Token(); err != io.EOF {
		return intent.Intent{}, malformed("对象之后存在多余内容")
	}

	for _, k := range Keys {
		if _, ok := values[k]; !ok {
			return intent.Intent{}, malformed("缺少键 %q", k)
		}
	}

	f := intent.Fields{}
	if f.ID, err = stringField(values, "intent_id"); err != nil {
		return intent.Intent{}, err
	}
	tsRaw, err := stringField(values, "timestamp")
	if err != nil {
		return intent.Intent{}, err
	}
	if f.Timestamp, err = time.Parse(TimestampLayout, tsRaw); err != nil {
		return intent.Intent{}, malformed("timestamp 格式非法: %v", err)
	}
	if f.Symbol, err = stringField(values, "symbol"); err != nil {
		return intent.Intent{}, err
	}
	side, err := stringField(values, "side")
	if err != nil {
		return intent.Intent{}, err
	}
	f.Side = intent.Side(side)
	orderType, err := stringField(values, "order_type")
	if err != nil {
		return intent.Intent{}, err
	}
	f.OrderType = intent.OrderType(orderType)
	if f.Quantity, err = numberField(values, "quantity"); err != nil {
		return intent.Intent{}, err
	}
	if f.StopLoss, err = priceField(values, "stop_loss"); err != nil {
		return intent.Intent{}, err
	}
	if f.TakeProfit, err = priceField(values, "take_profit"); err != nil {
		return intent.Intent{}, err
	}
	if f.TimeInForce, err = stringField(values, "time_in_force"); err != nil {
		return intent.Intent{}, err
	}
	if f.PolicyHash, err = stringField(values, "policy_hash"); err != nil {
		return intent.Intent{}, err
	}
	mode, err := stringField(values, "mode")
	if err != nil {
		return intent.Intent{}, err
	}
	f.Mode = intent.Mode(mode)

	in, err := intent.New(f)
	if err != nil {
		return intent.Intent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return in, nil
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

func stringField(values map[string]interface{}, key string) (string, error) {
	s, ok := values[key].(string)
	if !ok {
		return "", malformed("%s 必须为字符串", key)
	}
	return s, nil
}

func numberField(values map[string]interface{}, key string) (float64, error) {
	n, ok := values[key].(json.Number)
	if !ok {
		return 0, malformed("%s 必须为数值", key)
	}
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return 0, malformed("%s 数值非法: %v", key, err)
	}
	return f, nil
}

func priceField(values map[string]interface{}, key string) (intent.Price, error) {
	if values[key] == nil {
		return intent.NoPrice(), nil
	}
	f, err := numberField(values, key)
	if err != nil {
		return intent.Price{}, err
	}
	return intent.PriceOf(f), nil
}
