package backtest

import (
	"trades-signal/internal/position"
)

// Simulator 根据模拟持仓与已实现盈亏逐根K线记录账户权益。
type Simulator struct {
	initialEquity float64
	equity        float64

	equityHistory []float64
	returnHistory []float64
	tradeCount    int
	marked        int
	exposed       int
}

// NewSimulator 创建模拟账户，初始净值非正时取 10000。
func NewSimulator(initialEquity float64) *Simulator {
	if initialEquity <= 0 {
		initialEquity = 10000
	}
	return &Simulator{
		initialEquity: initialEquity,
		equity:        initialEquity,
		equityHistory: []float64{initialEquity},
	}
}

// Mark 以最新价格对持仓估值。realized 为累计已实现盈亏。
func (s *Simulator) Mark(price float64, pos position.Position, realized float64) {
	if price <= 0 {
		return
	}
	s.marked++
	if pos.IsOpen() {
		s.exposed++
	}
	prev := s.equity
	s.equity = s.initialEquity + realized + unrealized(pos, price)
	if prev != 0 {
		s.returnHistory = append(s.returnHistory, s.equity/prev-1)
	}
	s.equityHistory = append(s.equityHistory, s.equity)
}

// RecordTrade 记录一次成交。
func (s *Simulator) RecordTrade() {
	s.tradeCount++
}

func unrealized(pos position.Position, price float64) float64 {
	if !pos.IsOpen() || pos.EntryPrice <= 0 {
		return 0
	}
	switch pos.Side {
	case position.SideLong:
		return pos.Size * (price - pos.EntryPrice)
	case position.SideShort:
		return pos.Size * (pos.EntryPrice - price)
	default:
		return 0
	}
}

// Exposure 返回持仓K线占已估值K线的比例。
func (s *Simulator) Exposure() float64 {
	if s.marked == 0 {
		return 0
	}
	return float64(s.exposed) / float64(s.marked)
}

func (s *Simulator) Equity() float64 {
	return s.equity
}

func (s *Simulator) TradeCount() int {
	return s.tradeCount
}

func (s *Simulator) EquityHistory() []float64 {
	return append([]float64(nil), s.equityHistory...)
}

func (s *Simulator) ReturnHistory() []float64 {
	return append([]float64(nil), s.returnHistory...)
}
