package intent

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

// Side 为执行方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid 判断方向是否合法。
func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// Opposite 返回反方向。
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType 为执行方式，目前仅支持市价。
type OrderType string

const OrderTypeMarket OrderType = "MARKET"

// Valid 判断执行方式是否受支持。
func (t OrderType) Valid() bool { return t == OrderTypeMarket }

// Mode 区分模拟与实盘，两者的意图在消费端互不通用。
type Mode string

const (
	ModePaper Mode = "PAPER"
	ModeLive  Mode = "LIVE"
)

// Valid 判断模式是否合法。
func (m Mode) Valid() bool { return m == ModePaper || m == ModeLive }

// ParseMode 解析大小写不敏感的模式字符串。
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToUpper(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("intent: 未知模式 %q", s)
	}
	return m, nil
}

// Price 为可选价格，零值表示不设置；0 本身也是合法价格。
type Price struct {
	value float64
	set   bool
}

// PriceOf 返回已设置的价格。
func PriceOf(v float64) Price { return Price{value: v, set: true} }

// NoPrice 返回未设置的价格。
func NoPrice() Price { return Price{} }

// Get 返回价格及是否设置。
func (p Price) Get() (float64, bool) { return p.value, p.set }

// IsSet 判断是否设置。
func (p Price) IsSet() bool { return p.set }

func (p Price) String() string {
	if !p.set {
		return "none"
	}
	return fmt.Sprintf("%g", p.value)
}

// Fields 为构造 Intent 的输入。
type Fields struct {
	ID          string
	Timestamp   time.Time
	Symbol      string
	Side        Side
	OrderType   OrderType
	Quantity    float64
	StopLoss    Price
	TakeProfit  Price
	TimeInForce string
	PolicyHash  string
	Mode        Mode
}

// Intent 为跨进程传递的执行意图，构造后不可修改。
type Intent struct {
	f Fields
}

var errInvalidIntent = errors.New("intent: 字段非法")

// New 校验字段并构造 Intent。时间统一转为 UTC，保留同一时刻。
func New(f Fields) (Intent, error) {
	var problems []string
	if strings.TrimSpace(f.ID) == "" {
		problems = append(problems, "intent_id 不能为空")
	}
	if f.Timestamp.IsZero() {
		problems = append(problems, "timestamp 不能为空")
	} else if y := f.Timestamp.UTC().Year(); y < 0 || y > 9999 {
		problems = append(problems, fmt.Sprintf("timestamp 年份超出 0-9999: %d", y))
	}
	if strings.TrimSpace(f.Symbol) == "" {
		problems = append(problems, "symbol 不能为空")
	}
	if !f.Side.Valid() {
		problems = append(problems, fmt.Sprintf("side 非法: %q", f.Side))
	}
	if !f.OrderType.Valid() {
		problems = append(problems, fmt.Sprintf("order_type 非法: %q", f.OrderType))
	}
	if !(f.Quantity > 0) || math.IsInf(f.Quantity, 0) {
		problems = append(problems, fmt.Sprintf("quantity 必须为正数: %v", f.Quantity))
	}
	if !finitePrice(f.StopLoss) {
		problems = append(problems, fmt.Sprintf("stop_loss 非法: %s", f.StopLoss))
	}
	if !finitePrice(f.TakeProfit) {
		problems = append(problems, fmt.Sprintf("take_profit 非法: %s", f.TakeProfit))
	}
	if !f.Mode.Valid() {
		problems = append(problems, fmt.Sprintf("mode 非法: %q", f.Mode))
	}
	// 序列化后必须能原样读回。
	for _, field := range []struct{ name, value string }{
		{"intent_id", f.ID},
		{"symbol", f.Symbol},
		{"time_in_force", f.TimeInForce},
		{"policy_hash", f.PolicyHash},
	} {
		if !utf8.ValidString(field.value) {
			problems = append(problems, fmt.Sprintf("%s 不是合法 UTF-8", field.name))
		}
	}
	if len(problems) > 0 {
		return Intent{}, fmt.Errorf("%w: %s", errInvalidIntent, strings.Join(problems, "; "))
	}

	f.Timestamp = f.Timestamp.UTC()
	return Intent{f: f}, nil
}

func finitePrice(p Price) bool {
	v, ok := p.Get()
	return !ok || !(math.IsNaN(v) || math.IsInf(v, 0))
}

// IsInvalid 判断错误是否来自 New 的字段校验。
func IsInvalid(err error) bool { return errors.Is(err, errInvalidIntent) }

func (i Intent) ID() string { return i.f.ID }
func (i Intent) Timestamp() time.Time { return i.f.Timestamp }
func (i Intent) Symbol() string { return i.f.Symbol }
func (i Intent) Side() Side { return i.f.Side }
func (i Intent) OrderType() OrderType { return i.f.OrderType }
func (i Intent) Quantity() float64 { return i.f.Quantity }
func (i Intent) StopLoss() Price { return i.f.StopLoss }
func (i Intent) TakeProfit() Price { return i.f.TakeProfit }
func (i Intent) TimeInForce() string { return i.f.TimeInForce }
func (i Intent) PolicyHash() string { return i.f.PolicyHash }
func (i Intent) Mode() Mode { return i.f.Mode }

// Fields 返回字段副本。
func (i Intent) Fields() Fields { return i.f }

// IsZero 判断是否为未构造的零值。
func (i Intent) IsZero() bool { return i.f.ID == "" }

// WithStops 返回替换止损止盈后的新 Intent，原值不变。
func (i Intent) WithStops(stopLoss, takeProfit Price) (Intent, error) {
	f := i.f
	f.StopLoss = stopLoss
	f.TakeProfit = takeProfit
	return New(f)
}

// Equal 逐字段比较，时间按同一时刻比较。
func (i Intent) Equal(o Intent) bool {
	a, b := i.f, o.f
	return a.ID == b.ID &&
		a.Timestamp.Equal(b.Timestamp) &&
		a.Symbol == b.Symbol &&
		a.Side == b.Side &&
		a.OrderType == b.OrderType &&
		a.Quantity == b.Quantity &&
		a.StopLoss == b.StopLoss &&
		a.TakeProfit == b.TakeProfit &&
		a.TimeInForce == b.TimeInForce &&
		a.PolicyHash == b.PolicyHash &&
		a.Mode == b.Mode
}

func (i Intent) String() string {
	return fmt.Sprintf("%s %s %s %g %s sl=%s tp=%s %s",
		i.f.ID, i.f.Mode, i.f.Side, i.f.Quantity, i.f.Symbol, i.f.StopLoss, i.f.TakeProfit, i.f.Timestamp.Format(time.RFC3339Nano))
}
