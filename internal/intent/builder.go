package intent

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"trades-signal/internal/clock"
	"trades-signal/internal/hypothesis"
	"trades-signal/internal/position"
)

// Protection 为相对参考价的止损止盈比例，<=0 表示不设置。
type Protection struct {
	StopLossPct   float64
	TakeProfitPct float64
}

// Levels 计算给定方向的止损止盈价。
func (p Protection) Levels(side Side, refPrice float64) (Price, Price) {
	if !(refPrice > 0) || math.IsInf(refPrice, 0) {
		return NoPrice(), NoPrice()
	}
	stop, take := NoPrice(), NoPrice()
	sign := 1.0
	if side == SideSell {
		sign = -1.0
	}
	if p.StopLossPct > 0 {
		stop = PriceOf(refPrice * (1 - sign*p.StopLossPct))
	}
	if p.TakeProfitPct > 0 {
		take = PriceOf(refPrice * (1 + sign*p.TakeProfitPct))
	}
	return stop, take
}

// BuilderConfig 为单个策略实例的构建上下文。
type BuilderConfig struct {
	Symbol      string
	Mode        Mode
	PolicyHash  string
	TimeInForce string
	Sizer       Sizer
	Protection  Protection
	Clock       clock.Clock
	// NewID 缺省为随机 UUID v4。
	NewID func() string
}

// Builder 将非 HOLD 决策转换为执行意图。每个策略实例持有一个 Builder，策略哈希在创建时确定。
type Builder struct {
	cfg BuilderConfig
}

// NewBuilder 校验上下文并创建 Builder。
func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	cfg.Symbol = strings.TrimSpace(cfg.Symbol)
	if cfg.Symbol == "" {
		return nil, reject(ErrMissingSymbol, "创建构建器")
	}
	if !cfg.Mode.Valid() {
		return nil, reject(ErrMissingMode, "mode=%q", cfg.Mode)
	}
	if cfg.TimeInForce == "" {
		cfg.TimeInForce = "GTC"
	}
	if cfg.Sizer == nil {
		cfg.Sizer = NewFixedSizer(1, 0, 0)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Builder{cfg: cfg}, nil
}

// Mode 返回构建器的模式。
func (b *Builder) Mode() Mode { return b.cfg.Mode }

// Symbol 返回构建器的标的。
func (b *Builder) Symbol() string { return b.cfg.Symbol }

// PolicyHash 返回构建器绑定的策略哈希。
func (b *Builder) PolicyHash() string { return b.cfg.PolicyHash }

// Build 构建执行意图。refPrice 为决策时的参考价（通常是当前收盘价），用于名义金额换算与止损止盈。
// 违反输入约束时返回 *RejectionError，errors.Is(err, ErrRejected) 成立。
func (b *Builder) Build(d hypothesis.Decision, pos position.Position, refPrice float64) (Intent, error) {
	if b == nil || b.cfg.Symbol == "" {
		return Intent{}, reject(ErrMissingSymbol, "")
	}
	if !b.cfg.Mode.Valid() {
		return Intent{}, reject(ErrMissingMode, "mode=%q", b.cfg.Mode)
	}
	if hypothesis.IsHold(d) {
		return Intent{}, reject(ErrHoldDecision, "")
	}
	if !(d.Size() > 0) {
		return Intent{}, reject(ErrNonPositiveSize, "size=%v", d.Size())
	}
	if pos.Symbol != "" && !strings.EqualFold(pos.Symbol, b.cfg.Symbol) {
		return Intent{}, reject(ErrSymbolMismatch, "position=%s strategy=%s", pos.Symbol, b.cfg.Symbol)
	}

	var (
		side     Side
		quantity float64
		stop     = NoPrice()
		take     = NoPrice()
	)

	switch d.Kind() {
	case hypothesis.Buy, hypothesis.Sell:
		side = SideBuy
		if d.Kind() == hypothesis.Sell {
			side = SideSell
		}
		qty, err := b.cfg.Sizer.Quantity(d.Size(), refPrice)
		if err != nil {
			return Intent{}, reject(ErrNonPositiveSize, "%v", err)
		}
		if !(qty > 0) {
			return Intent{}, reject(ErrNonPositiveSize, "size=%v 换算后数量为 0", d.Size())
		}
		quantity = qty
		stop, take = b.cfg.Protection.Levels(side, refPrice)
	case hypothesis.Close:
		if !pos.IsOpen() {
			return Intent{}, reject(ErrNoOpenPosition, "symbol=%s", b.cfg.Symbol)
		}
		side = SideSell
		if pos.Side == position.SideShort {
			side = SideBuy
		}
		quantity = pos.Size
	default:
		return Intent{}, fmt.Errorf("intent: 未知决策类型 %s", d.Kind())
	}

	return New(Fields{
		ID:          b.cfg.NewID(),
		Timestamp:   b.cfg.Clock.Now(),
		Symbol:      b.cfg.Symbol,
		Side:        side,
		OrderType:   OrderTypeMarket,
		Quantity:    quantity,
		StopLoss:    stop,
		TakeProfit:  take,
		TimeInForce: b.cfg.TimeInForce,
		PolicyHash:  b.cfg.PolicyHash,
		Mode:        b.cfg.Mode,
	})
}
