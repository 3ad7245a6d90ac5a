package hypothesis

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"trades-signal/internal/clock"
	"trades-signal/internal/market"
	"trades-signal/internal/position"
)

type fixedStrategy struct {
	decision Decision
	err      error
	panicVal interface{}
	regimes  []Regime
	calls    int
}

func (f *fixedStrategy) ID() string { return "fixed" }
func (f *fixedStrategy) Parameters() Parameters { return Parameters{"k": 1} }
func (f *fixedStrategy) AllowedRegimes() []Regime {
	if f.regimes == nil {
		return AllRegimes()
	}
	return f.regimes
}
func (f *fixedStrategy) Evaluate(market.Snapshot, position.Position, clock.Clock) (Decision, error) {
	f.calls++
	if f.panicVal != nil {
		panic(f.panicVal)
	}
	return f.decision, f.err
}

type brokenSnapshot struct{}

func (brokenSnapshot) BarCount() int { return 0 }
func (brokenSnapshot) RecentBars(int) ([]market.Bar, error) { return nil, market.ErrNoBars }
func (brokenSnapshot) CurrentBar() (market.Bar, error) { return market.Bar{}, market.ErrNoBars }

type panickySnapshot struct{ brokenSnapshot }

func (panickySnapshot) CurrentBar() (market.Bar, error) { panic("boom") }

func historyWithBar(t *testing.T) *market.History {
	t.Helper()
	h := market.NewHistory("BTC/USDT", 10)
	require.NoError(t, h.Append(market.Bar{
		Symbol:    "BTC/USDT",
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Open:      1, High: 2, Low: 1, Close: 2,
	}))
	return h
}

func TestNewDecision(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		size    float64
		wantErr bool
	}{
		{name: "buy", kind: Buy, size: 1},
		{name: "hold ignores size", kind: Hold, size: -5},
		{name: "zero size", kind: Sell, size: 0, wantErr: true},
		{name: "negative size", kind: Close, size: -1, wantErr: true},
		{name: "unknown kind", kind: Kind(9), size: 1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDecision(tt.kind, tt.size)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidDecision)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, d.Kind())
		})
	}
}

func TestDecisionDefaults(t *testing.T) {
	var zero Decision
	assert.True(t, IsHold(zero))
	assert.Equal(t, "FLAT", Direction(zero))

	d, err := NewDecision(Buy, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 0.5, d.Confidence())
	assert.Equal(t, "LONG", Direction(d))

	d, err = NewDecision(Sell, 0.5, WithConfidence(0.9), WithReason("rsi"))
	require.NoError(t, err)
	assert.Equal(t, 0.9, d.Confidence())
	assert.Equal(t, "rsi", d.Reason())
	assert.Equal(t, "SELL", d.Kind().String())
}

func TestRegimeAllowed(t *testing.T) {
	open := &fixedStrategy{}
	assert.True(t, RegimeAllowed(open, RegimeRange))

	gated := &fixedStrategy{regimes: []Regime{RegimeTrendUp}}
	assert.True(t, RegimeAllowed(gated, RegimeTrendUp))
	assert.False(t, RegimeAllowed(gated, RegimeRange))
}

func TestDiagnosticsLogsNonHold(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	buy, err := NewDecision(Buy, 2)
	require.NoError(t, err)

	s := WithDiagnostics(&fixedStrategy{decision: buy}, zap.New(core), true)
	got, err := s.Evaluate(historyWithBar(t), position.Flat("BTC/USDT"), clock.System{})
	require.NoError(t, err)
	assert.Equal(t, buy, got)

	entries := logs.FilterMessage("策略信号").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "fixed", fields["strategy"])
	assert.Equal(t, "BTC/USDT", fields["symbol"])
	assert.Equal(t, "LONG", fields["direction"])
	assert.Equal(t, 2.0, fields["confidence"])
}

func TestDiagnosticsSkipsHoldAndDisabled(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	buy, err := NewDecision(Buy, 1)
	require.NoError(t, err)

	_, err = WithDiagnostics(&fixedStrategy{}, zap.New(core), true).
		Evaluate(historyWithBar(t), position.Position{}, clock.System{})
	require.NoError(t, err)
	_, err = WithDiagnostics(&fixedStrategy{decision: buy}, zap.New(core), false).
		Evaluate(historyWithBar(t), position.Position{}, clock.System{})
	require.NoError(t, err)

	assert.Zero(t, logs.Len())
}

func TestDiagnosticsSwallowsFailures(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	closeDecision, err := NewDecision(Close, 1)
	require.NoError(t, err)

	s := WithDiagnostics(&fixedStrategy{decision: closeDecision}, zap.New(core), true)

	got, err := s.Evaluate(brokenSnapshot{}, position.Position{}, clock.System{})
	require.NoError(t, err)
	assert.Equal(t, closeDecision, got)

	got, err = s.Evaluate(panickySnapshot{}, position.Position{}, clock.System{})
	require.NoError(t, err)
	assert.Equal(t, closeDecision, got)

	assert.Equal(t, 2, logs.FilterLevelExact(zapcore.DebugLevel).Len())
	assert.Zero(t, logs.FilterMessage("策略信号").Len())
}

func TestWithDiagnosticsWrapsOnce(t *testing.T) {
	inner := &fixedStrategy{}
	once := WithDiagnostics(inner, nil, true)
	twice := WithDiagnostics(once, nil, true)
	assert.Same(t, once, twice)
	assert.Same(t, inner, twice.(*Diagnosed).Unwrap())
	assert.Equal(t, inner.Parameters(), twice.Parameters())
}

func TestEvaluateSafely(t *testing.T) {
	snap := historyWithBar(t)

	_, err := EvaluateSafely(&fixedStrategy{panicVal: "bad"}, snap, position.Position{}, clock.System{})
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "fixed", pe.Strategy)

	inner := errors.New("inner")
	d, err := EvaluateSafely(&fixedStrategy{err: inner}, snap, position.Position{}, clock.System{})
	assert.ErrorIs(t, err, inner)
	assert.True(t, IsHold(d))
}

func TestEvaluateIsRepeatable(t *testing.T) {
	sell, err := NewDecision(Sell, 1)
	require.NoError(t, err)
	s := WithDiagnostics(&fixedStrategy{decision: sell}, nil, true)
	snap := historyWithBar(t)
	clk := clock.NewSimulated(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	first, err := s.Evaluate(snap, position.Position{}, clk)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := s.Evaluate(snap, position.Position{}, clk)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register("fixed", func(map[string]interface{}) (Strategy, error) {
		return &fixedStrategy{}, nil
	}))
	assert.Error(t, r.Register("fixed", func(map[string]interface{}) (Strategy, error) { return nil, nil }))
	require.NoError(t, r.Register("broken", func(map[string]interface{}) (Strategy, error) {
		return nil, errors.New("bad params")
	}))

	assert.Equal(t, []string{"broken", "fixed"}, r.Names())

	s, err := r.Build("fixed", nil, true)
	require.NoError(t, err)
	_, ok := s.(*Diagnosed)
	assert.True(t, ok)

	_, err = r.Build("broken", nil, false)
	assert.Error(t, err)
	_, err = r.Build("missing", nil, false)
	assert.Error(t, err)
}
