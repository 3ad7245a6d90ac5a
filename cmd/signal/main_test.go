package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trades-signal/internal/config"
	"trades-signal/internal/intent"
	"trades-signal/internal/queue"
	"trades-signal/internal/wire"
)

func TestSelectStrategy(t *testing.T) {
	strategies := []config.StrategyConfig{
		{Name: "breakout", Symbol: "BTCUSDT"},
		{Name: "momentum", Symbol: "BTCUSDT"},
		{Name: "breakout", Symbol: "ETHUSDT"},
	}

	tests := []struct {
		name     string
		selector string
		symbol   string
		want     config.StrategyConfig
		wantErr  bool
	}{
		{name: "default first", want: strategies[0]},
		{name: "by index", selector: "1", want: strategies[1]},
		{name: "index out of range", selector: "3", wantErr: true},
		{name: "unique name", selector: "MOMENTUM", want: strategies[1]},
		{name: "ambiguous name", selector: "breakout", wantErr: true},
		{name: "name and symbol", selector: "breakout", symbol: "ethusdt", want: strategies[2]},
		{name: "unknown", selector: "llm", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := selectStrategy(strategies, tt.selector, tt.symbol)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := selectStrategy(nil, "", "")
	require.Error(t, err)
}

func TestParseTime(t *testing.T) {
	got, err := parseTime("")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = parseTime("2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), got)

	got, err = parseTime("2024-03-01T08:00:00+08:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), got)

	_, err = parseTime("yesterday")
	require.Error(t, err)
}

func TestQueueStatsAndShow(t *testing.T) {
	root := t.TempDir()
	sink, err := queue.NewFileSink(root, queue.Options{Suffix: ".json"}, nil)
	require.NoError(t, err)
	consumer, err := queue.NewConsumer(root, ".json", nil)
	require.NoError(t, err)

	in, err := intent.New(intent.Fields{
		ID:          "0f9a6d0e-5a41-4c47-9a0b-0d2b0c5e8a11",
		Timestamp:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Symbol:      "BTCUSDT",
		Side:        intent.SideBuy,
		OrderType:   intent.OrderTypeMarket,
		Quantity:    0.01,
		StopLoss:    intent.PriceOf(95),
		TakeProfit:  intent.NoPrice(),
		TimeInForce: "GTC",
		PolicyHash:  "abc",
		Mode:        intent.ModePaper,
	})
	require.NoError(t, err)
	payload, err := wire.Encode(in)
	require.NoError(t, err)
	entry, err := sink.Emit(payload)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, queueStats(&out, consumer))
	var stats queue.Stats
	require.NoError(t, json.Unmarshal(out.Bytes(), &stats))
	assert.Equal(t, queue.Stats{Pending: 1}, stats)

	out.Reset()
	require.NoError(t, queueShow(&out, consumer, entry.Name))
	assert.Contains(t, out.String(), "state: pending")
	assert.Contains(t, out.String(), in.ID())
	assert.Contains(t, out.String(), `"mode": "PAPER"`)

	out.Reset()
	require.Error(t, queueShow(&out, consumer, "missing.json"))
}
