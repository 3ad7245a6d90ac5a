package strategies

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trades-signal/internal/clock"
	"trades-signal/internal/config"
	"trades-signal/internal/hypothesis"
	"trades-signal/internal/market"
	"trades-signal/internal/position"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func flatHistory(t *testing.T, n int, lastClose float64) *market.History {
	t.Helper()
	h := market.NewHistory("BTC/USDT", 500)
	for i := 0; i < n; i++ {
		c := 100.0
		high, low := 101.0, 99.0
		if i == n-1 {
			c = lastClose
			if c > high {
				high = c
			}
			if c < low {
				low = c
			}
		}
		require.NoError(t, h.Append(market.Bar{
			Symbol: "BTC/USDT", Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open: 100, High: high, Low: low, Close: c, Volume: 1,
		}))
	}
	return h
}

func trendHistory(t *testing.T, n int, step float64) *market.History {
	t.Helper()
	h := market.NewHistory("BTC/USDT", 500)
	for i := 0; i < n; i++ {
		c := 1000 + step*float64(i)
		require.NoError(t, h.Append(market.Bar{
			Symbol: "BTC/USDT", Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open: c - step/2, High: c + 1, Low: c - 1, Close: c, Volume: 1,
		}))
	}
	return h
}

func TestBreakoutBuysOnUpsideBreakout(t *testing.T) {
	s, err := NewBreakout(map[string]interface{}{"lookback": 14})
	require.NoError(t, err)

	d, err := s.Evaluate(flatHistory(t, 30, 105), position.Flat("BTC/USDT"), clock.System{})
	require.NoError(t, err)
	assert.Equal(t, hypothesis.Buy, d.Kind())
	assert.Equal(t, 1.0, d.Size())
	assert.Greater(t, d.Confidence(), 0.0)
}

func TestBreakoutDecisions(t *testing.T) {
	long := position.Position{Symbol: "BTC/USDT", Side: position.SideLong, Size: 2}
	short := position.Position{Symbol: "BTC/USDT", Side: position.SideShort, Size: 3}

	tests := []struct {
		name   string
		params map[string]interface{}
		bars   int
		last   float64
		pos    position.Position
		want   hypothesis.Kind
		size   float64
	}{
		{name: "inside band", bars: 30, last: 101.5, want: hypothesis.Hold},
		{name: "not enough bars", bars: 10, last: 200, want: hypothesis.Hold},
		{name: "downside sells", bars: 30, last: 95, want: hypothesis.Sell, size: 1},
		{name: "downside without shorts", params: map[string]interface{}{"allow_short": "false"}, bars: 30, last: 95, want: hypothesis.Hold},
		{name: "long closes on downside", bars: 30, last: 95, pos: long, want: hypothesis.Close, size: 2},
		{name: "long holds on upside", bars: 30, last: 105, pos: long, want: hypothesis.Hold},
		{name: "short closes on upside", bars: 30, last: 105, pos: short, want: hypothesis.Close, size: 3},
		{name: "custom size", params: map[string]interface{}{"size": "0.25"}, bars: 30, last: 105, want: hypothesis.Buy, size: 0.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewBreakout(tt.params)
			require.NoError(t, err)
			d, err := s.Evaluate(flatHistory(t, tt.bars, tt.last), tt.pos, clock.System{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Kind())
			if tt.want != hypothesis.Hold {
				assert.Equal(t, tt.size, d.Size())
			}
		})
	}
}

func TestBreakoutIsPure(t *testing.T) {
	s, err := NewBreakout(nil)
	require.NoError(t, err)
	snap := flatHistory(t, 30, 100.5)
	clk := clock.NewSimulated(start)

	first, err := s.Evaluate(snap, position.Position{}, clk)
	require.NoError(t, err)
	assert.True(t, hypothesis.IsHold(first))
	for i := 0; i < 3; i++ {
		again, err := s.Evaluate(snap, position.Position{}, clk)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestBreakoutParameters(t *testing.T) {
	_, err := NewBreakout(map[string]interface{}{"lookbak": 14})
	assert.Error(t, err)
	_, err = NewBreakout(map[string]interface{}{"lookback": 1})
	assert.Error(t, err)
	_, err = NewBreakout(map[string]interface{}{"allowed_regimes": []string{"sideways"}})
	assert.Error(t, err)

	s, err := NewBreakout(map[string]interface{}{"lookback": "20", "allowed_regimes": []string{"trend_up"}})
	require.NoError(t, err)
	assert.Equal(t, BreakoutName, s.ID())
	assert.Equal(t, 20, s.Parameters()["lookback"])
	assert.Equal(t, []hypothesis.Regime{hypothesis.RegimeTrendUp}, s.AllowedRegimes())
	assert.False(t, hypothesis.RegimeAllowed(s, hypothesis.RegimeRange))
}

func TestHailMary(t *testing.T) {
	s, err := NewHailMary(nil)
	require.NoError(t, err)
	assert.Empty(t, s.AllowedRegimes())
	assert.Len(t, s.Parameters(), 11)

	d, err := s.Evaluate(trendHistory(t, 10, 1), position.Position{}, clock.System{})
	require.NoError(t, err)
	assert.True(t, hypothesis.IsHold(d))

	up := trendHistory(t, 40, 1)
	d, err = s.Evaluate(up, position.Position{}, clock.System{})
	require.NoError(t, err)
	assert.Equal(t, hypothesis.Buy, d.Kind())

	d, err = s.Evaluate(up, position.Position{Side: position.SideLong, Size: 1}, clock.System{})
	require.NoError(t, err)
	assert.True(t, hypothesis.IsHold(d))

	d, err = s.Evaluate(trendHistory(t, 40, -1), position.Position{Side: position.SideLong, Size: 1}, clock.System{})
	require.NoError(t, err)
	assert.Equal(t, hypothesis.Sell, d.Kind())
}

func TestHailMaryRejectsBadParams(t *testing.T) {
	_, err := NewHailMary(map[string]interface{}{"fast_period": 20, "slow_period": 10})
	assert.Error(t, err)
	_, err = NewHailMary(map[string]interface{}{"rsi_oversold": 90})
	assert.Error(t, err)
}

type fakeCompleter struct {
	content string
	err     error
	calls   int
	lastReq openai.ChatCompletionRequest
}

func (f *fakeCompleter) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: f.content}}},
	}, nil
}

func TestLLMStrategy(t *testing.T) {
	fake := &fakeCompleter{content: "结论如下：{\"action\":\"BUY\",\"size\":0.5,\"confidence\":0.8,\"reason\":\"trend\"}"}
	s, err := NewLLM(fake, config.OpenAIConfig{Model: "gpt-test", Timeout: time.Second}, map[string]interface{}{"size": 2}, nil)
	require.NoError(t, err)

	snap := trendHistory(t, 80, 1)
	d, err := s.Evaluate(snap, position.Position{}, clock.System{})
	require.NoError(t, err)
	assert.Equal(t, hypothesis.Buy, d.Kind())
	assert.Equal(t, 1.0, d.Size())
	assert.Equal(t, 0.8, d.Confidence())
	assert.Equal(t, "gpt-test", fake.lastReq.Model)
	assert.Contains(t, fake.lastReq.Messages[0].Content, "BTC/USDT")
	assert.Contains(t, fake.lastReq.Messages[0].Content, `"ema_trend"`)

	again, err := s.Evaluate(snap, position.Position{}, clock.System{})
	require.NoError(t, err)
	assert.Equal(t, d, again)
	assert.Equal(t, 1, fake.calls)

	d, err = s.Evaluate(trendHistory(t, 20, 1), position.Position{}, clock.System{})
	require.NoError(t, err)
	assert.True(t, hypothesis.IsHold(d))
	assert.Equal(t, 1, fake.calls)
}

func TestLLMStrategyReplies(t *testing.T) {
	snap := trendHistory(t, 80, 1)
	tests := []struct {
		name    string
		content string
		err     error
		pos     position.Position
		want    hypothesis.Kind
		wantErr bool
	}{
		{name: "close without position", content: `{"action":"CLOSE","size":0,"confidence":0.9,"reason":"x"}`, want: hypothesis.Hold},
		{name: "close long", content: `{"action":"CLOSE","size":0,"confidence":0.9,"reason":"x"}`, pos: position.Position{Side: position.SideLong, Size: 1}, want: hypothesis.Close},
		{name: "low confidence", content: `{"action":"SELL","size":1,"confidence":0.1,"reason":"x"}`, want: hypothesis.Hold},
		{name: "bad size", content: `{"action":"SELL","size":3,"confidence":0.9,"reason":"x"}`, wantErr: true},
		{name: "not json", content: `no idea`, wantErr: true},
		{name: "unknown action", content: `{"action":"SHORT","size":1,"confidence":0.9,"reason":"x"}`, wantErr: true},
		{name: "api error", err: errors.New("429"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeCompleter{content: tt.content, err: tt.err}
			s, err := NewLLM(fake, config.OpenAIConfig{Model: "m"}, nil, nil)
			require.NoError(t, err)
			d, err := s.Evaluate(snap, tt.pos, clock.System{})
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, hypothesis.IsHold(d))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Kind())
		})
	}
}

func TestRegister(t *testing.T) {
	reg := hypothesis.NewRegistry(nil)
	require.NoError(t, Register(reg, nil, config.OpenAIConfig{}, nil))
	assert.Equal(t, []string{HailMaryName, BreakoutName}, reg.Names())

	reg = hypothesis.NewRegistry(nil)
	require.NoError(t, Register(reg, &fakeCompleter{}, config.OpenAIConfig{Model: "m"}, nil))
	assert.Contains(t, reg.Names(), LLMName)

	s, err := reg.Build(BreakoutName, map[string]interface{}{"lookback": 14}, true)
	require.NoError(t, err)
	assert.Equal(t, BreakoutName, s.ID())
}
