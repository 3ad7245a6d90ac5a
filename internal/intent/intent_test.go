package intent

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trades-signal/internal/clock"
	"trades-signal/internal/config"
	"trades-signal/internal/hypothesis"
	"trades-signal/internal/position"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC)

func newTestBuilder(t *testing.T, mode Mode, opts ...func(*BuilderConfig)) *Builder {
	t.Helper()
	cfg := BuilderConfig{
		Symbol:     "BTC/USDT",
		Mode:       mode,
		PolicyHash: "abc",
		Clock:      clock.NewSimulated(testNow),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	b, err := NewBuilder(cfg)
	require.NoError(t, err)
	return b
}

func decision(t *testing.T, kind hypothesis.Kind, size float64) hypothesis.Decision {
	t.Helper()
	d, err := hypothesis.NewDecision(kind, size)
	require.NoError(t, err)
	return d
}

func TestBuildBuyAndSell(t *testing.T) {
	b := newTestBuilder(t, ModePaper, func(c *BuilderConfig) {
		c.Protection = Protection{StopLossPct: 0.1, TakeProfitPct: 0.2}
	})

	buy, err := b.Build(decision(t, hypothesis.Buy, 2), position.Flat("BTC/USDT"), 100)
	require.NoError(t, err)
	assert.Equal(t, SideBuy, buy.Side())
	assert.Equal(t, OrderTypeMarket, buy.OrderType())
	assert.Equal(t, 2.0, buy.Quantity())
	assert.Equal(t, "GTC", buy.TimeInForce())
	assert.Equal(t, "abc", buy.PolicyHash())
	assert.True(t, buy.Timestamp().Equal(testNow))
	sl, ok := buy.StopLoss().Get()
	require.True(t, ok)
	assert.InDelta(t, 90, sl, 1e-9)
	tp, ok := buy.TakeProfit().Get()
	require.True(t, ok)
	assert.InDelta(t, 120, tp, 1e-9)

	sell, err := b.Build(decision(t, hypothesis.Sell, 1), position.Position{}, 100)
	require.NoError(t, err)
	assert.Equal(t, SideSell, sell.Side())
	sl, _ = sell.StopLoss().Get()
	assert.InDelta(t, 110, sl, 1e-9)
	assert.NotEqual(t, buy.ID(), sell.ID())
}

func TestBuildWithoutProtectionLeavesStopsAbsent(t *testing.T) {
	b := newTestBuilder(t, ModePaper)
	in, err := b.Build(decision(t, hypothesis.Buy, 1), position.Position{}, 100)
	require.NoError(t, err)
	assert.False(t, in.StopLoss().IsSet())
	assert.False(t, in.TakeProfit().IsSet())
}

func TestBuildClose(t *testing.T) {
	b := newTestBuilder(t, ModePaper)

	long := position.Position{Symbol: "BTC/USDT", Side: position.SideLong, Size: 0.7}
	in, err := b.Build(decision(t, hypothesis.Close, 1), long, 100)
	require.NoError(t, err)
	assert.Equal(t, SideSell, in.Side())
	assert.Equal(t, 0.7, in.Quantity())
	assert.False(t, in.StopLoss().IsSet())

	short := position.Position{Symbol: "BTC/USDT", Side: position.SideShort, Size: 3}
	in, err = b.Build(decision(t, hypothesis.Close, 1), short, 100)
	require.NoError(t, err)
	assert.Equal(t, SideBuy, in.Side())
	assert.Equal(t, 3.0, in.Quantity())
}

func TestBuildRejections(t *testing.T) {
	b := newTestBuilder(t, ModePaper, func(c *BuilderConfig) {
		c.Sizer = NewFixedSizer(1, 0.1, 0.1)
	})

	tests := []struct {
		name   string
		d      hypothesis.Decision
		pos    position.Position
		reason error
	}{
		{name: "close without position", d: decision(t, hypothesis.Close, 1), pos: position.Flat("BTC/USDT"), reason: ErrNoOpenPosition},
		{name: "hold", d: hypothesis.HoldDecision(), reason: ErrHoldDecision},
		{name: "quantity rounds to zero", d: decision(t, hypothesis.Buy, 0.05), reason: ErrNonPositiveSize},
		{name: "foreign position", d: decision(t, hypothesis.Close, 1), pos: position.Position{Symbol: "ETH/USDT", Side: position.SideLong, Size: 1}, reason: ErrSymbolMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := b.Build(tt.d, tt.pos, 100)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrRejected))
			assert.ErrorIs(t, err, tt.reason)
			assert.True(t, in.IsZero())
		})
	}
}

func TestNewBuilderRequiresContext(t *testing.T) {
	_, err := NewBuilder(BuilderConfig{Mode: ModePaper})
	assert.ErrorIs(t, err, ErrMissingSymbol)

	_, err = NewBuilder(BuilderConfig{Symbol: "BTC/USDT"})
	assert.ErrorIs(t, err, ErrMissingMode)

	var zero Builder
	_, err = zero.Build(decision(t, hypothesis.Buy, 1), position.Position{}, 1)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestPaperBuilderNeverProducesLive(t *testing.T) {
	b := newTestBuilder(t, ModePaper)
	pos := position.Position{Symbol: "BTC/USDT", Side: position.SideLong, Size: 1}
	for _, kind := range []hypothesis.Kind{hypothesis.Buy, hypothesis.Sell, hypothesis.Close} {
		in, err := b.Build(decision(t, kind, 1), pos, 50)
		require.NoError(t, err)
		assert.Equal(t, ModePaper, in.Mode())
	}
}

func TestNewValidatesFields(t *testing.T) {
	valid := Fields{
		ID:          "id-1",
		Timestamp:   time.Date(2024, 1, 1, 8, 0, 0, 0, time.FixedZone("UTC+8", 8*3600)),
		Symbol:      "BTC/USDT",
		Side:        SideBuy,
		OrderType:   OrderTypeMarket,
		Quantity:    1,
		TimeInForce: "GTC",
		Mode:        ModeLive,
	}
	in, err := New(valid)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, in.Timestamp().Location())
	assert.True(t, in.Timestamp().Equal(valid.Timestamp))

	bad := valid
	bad.Side = "HOLD"
	bad.Quantity = 0
	bad.Mode = "DEMO"
	_, err = New(bad)
	require.Error(t, err)
	assert.True(t, IsInvalid(err))
	assert.Contains(t, err.Error(), "side")
	assert.Contains(t, err.Error(), "quantity")
	assert.Contains(t, err.Error(), "mode")

	unencodable := []struct {
		name   string
		mutate func(*Fields)
		want   string
	}{
		{name: "invalid utf8 symbol", mutate: func(f *Fields) { f.Symbol = "BTC\xff" }, want: "symbol"},
		{name: "invalid utf8 id", mutate: func(f *Fields) { f.ID = "\xc3\x28" }, want: "intent_id"},
		{name: "invalid utf8 time in force", mutate: func(f *Fields) { f.TimeInForce = "G\xfeTC" }, want: "time_in_force"},
		{name: "invalid utf8 policy hash", mutate: func(f *Fields) { f.PolicyHash = "\x80" }, want: "policy_hash"},
		{name: "year after 9999", mutate: func(f *Fields) { f.Timestamp = time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC) }, want: "timestamp"},
		{name: "negative year", mutate: func(f *Fields) { f.Timestamp = time.Date(-1, 1, 1, 0, 0, 0, 0, time.UTC) }, want: "timestamp"},
		{name: "year shifted past 9999 by utc", mutate: func(f *Fields) {
			f.Timestamp = time.Date(9999, 12, 31, 23, 0, 0, 0, time.FixedZone("UTC-5", -5*3600))
		}, want: "timestamp"},
	}
	for _, tt := range unencodable {
		t.Run(tt.name, func(t *testing.T) {
			f := valid
			tt.mutate(&f)
			_, err := New(f)
			require.Error(t, err)
			assert.True(t, IsInvalid(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	edge := valid
	edge.Timestamp = time.Date(9999, 12, 31, 23, 59, 59, 999999999, time.UTC)
	_, err = New(edge)
	require.NoError(t, err)
}

func TestWithStopsReturnsNewValue(t *testing.T) {
	b := newTestBuilder(t, ModePaper)
	orig, err := b.Build(decision(t, hypothesis.Buy, 1), position.Position{}, 100)
	require.NoError(t, err)

	updated, err := orig.WithStops(PriceOf(0), NoPrice())
	require.NoError(t, err)
	assert.False(t, orig.StopLoss().IsSet())
	v, ok := updated.StopLoss().Get()
	assert.True(t, ok)
	assert.Zero(t, v)
	assert.False(t, orig.Equal(updated))
	assert.True(t, orig.Equal(orig))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" paper ")
	require.NoError(t, err)
	assert.Equal(t, ModePaper, m)
	_, err = ParseMode("")
	assert.Error(t, err)
}

func TestSizers(t *testing.T) {
	fixed := NewFixedSizer(0.1, 0.1, 0)
	qty, err := fixed.Quantity(3, 0)
	require.NoError(t, err)
	assert.Equal(t, 0.3, qty)

	notional := NewNotionalSizer(1000, 0.001, 0.001)
	qty, err = notional.Quantity(0.5, 30000)
	require.NoError(t, err)
	assert.Equal(t, 0.016, qty)

	_, err = notional.Quantity(1, 0)
	assert.Error(t, err)

	s, err := NewSizer(config.SizingConfig{Mode: "NOTIONAL", Notional: 10})
	require.NoError(t, err)
	assert.IsType(t, &NotionalSizer{}, s)
	_, err = NewSizer(config.SizingConfig{Mode: "notional"})
	assert.Error(t, err)
	_, err = NewSizer(config.SizingConfig{Mode: "kelly"})
	assert.Error(t, err)
}

func TestPolicyHash(t *testing.T) {
	exec := config.IntentConfig{TimeInForce: "GTC", Sizing: config.SizingConfig{Mode: "fixed", BaseQuantity: 1}}
	h1, err := PolicyHash("volatility_breakout", map[string]interface{}{"lookback": 14, "atr_mult": 1.0}, "BTC/USDT", exec)
	require.NoError(t, err)
	h2, err := PolicyHash("volatility_breakout", map[string]interface{}{"atr_mult": 1.0, "lookback": 14}, "btc/usdt", exec)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	h3, err := PolicyHash("volatility_breakout", map[string]interface{}{"lookback": 20, "atr_mult": 1.0}, "BTC/USDT", exec)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)

	exec.StopLossPct = 0.02
	h4, err := PolicyHash("volatility_breakout", map[string]interface{}{"lookback": 14, "atr_mult": 1.0}, "BTC/USDT", exec)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h4)
}
