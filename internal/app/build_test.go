package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trades-signal/internal/config"
	"trades-signal/internal/intent"
	"trades-signal/internal/position"
)

func testConfig(root string) *config.Config {
	return &config.Config{
		App: config.AppConfig{Environment: "test", Mode: "PAPER"},
		Exchange: config.ExchangeConfig{
			Name:         "binance",
			Timeframe:    "1h",
			HistoryLimit: 100,
		},
		Strategies: []config.StrategyConfig{
			{Name: "volatility_breakout", Symbol: testSymbol, Parameters: map[string]interface{}{"lookback": 14}},
			{Name: "competition_hail_mary", Symbol: "ETH/USDT", RegimeGating: true},
		},
		Intent: config.IntentConfig{
			TimeInForce: "GTC",
			Sizing:      config.SizingConfig{Mode: "fixed", BaseQuantity: 0.01, LotStep: 0.001},
		},
		Queue: config.QueueConfig{
			Root:        root,
			Suffix:      ".json",
			Fsync:       true,
			EmitRetries: 1,
			RetryDelay:  time.Millisecond,
		},
		Scheduler: config.SchedulerConfig{PollInterval: 10 * time.Millisecond, HistoryCapacity: 200},
	}
}

func TestBuildPipelines(t *testing.T) {
	h := newHarness(t)
	cfg := testConfig(h.root)

	reg, err := NewStrategyRegistry(cfg, nil, nil)
	require.NoError(t, err)

	pipelines, err := BuildPipelines(cfg, Deps{
		Mode:      intent.ModePaper,
		Registry:  reg,
		Sink:      h.sink,
		Positions: position.Static{},
	}, nil)
	require.NoError(t, err)
	require.Len(t, pipelines, 2)

	first, second := pipelines[0], pipelines[1]
	assert.Equal(t, "volatility_breakout", first.Strategy().ID())
	assert.Nil(t, first.cfg.Classifier)
	assert.NotNil(t, second.cfg.Classifier)
	assert.NotEmpty(t, first.cfg.Builder.PolicyHash())
	assert.NotEqual(t, first.cfg.Builder.PolicyHash(), second.cfg.Builder.PolicyHash())
	assert.Equal(t, intent.ModePaper, first.cfg.Builder.Mode())

	again, err := BuildPipelines(cfg, Deps{Mode: intent.ModePaper, Registry: reg, Sink: h.sink}, nil)
	require.NoError(t, err)
	assert.Equal(t, first.cfg.Builder.PolicyHash(), again[0].cfg.Builder.PolicyHash())

	cfg.Strategies[0].Parameters = map[string]interface{}{"lookback": 20}
	changed, err := BuildPipelines(cfg, Deps{Mode: intent.ModePaper, Registry: reg, Sink: h.sink}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.cfg.Builder.PolicyHash(), changed[0].cfg.Builder.PolicyHash())
}

func TestBuildPipelinesErrors(t *testing.T) {
	h := newHarness(t)
	cfg := testConfig(h.root)
	reg, err := NewStrategyRegistry(cfg, nil, nil)
	require.NoError(t, err)

	_, err = BuildPipelines(cfg, Deps{Mode: intent.ModePaper, Sink: h.sink}, nil)
	assert.Error(t, err)

	bad := testConfig(h.root)
	bad.Strategies = []config.StrategyConfig{{Name: "missing", Symbol: testSymbol}}
	_, err = BuildPipelines(bad, Deps{Mode: intent.ModePaper, Registry: reg, Sink: h.sink}, nil)
	assert.Error(t, err)

	noMode := testConfig(h.root)
	_, err = BuildPipelines(noMode, Deps{Registry: reg, Sink: h.sink}, nil)
	assert.ErrorIs(t, err, intent.ErrMissingMode)
}

func TestNewStrategyRegistryRequiresKeyForLLM(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Strategies = append(cfg.Strategies, config.StrategyConfig{Name: "llm", Symbol: testSymbol})
	_, err := NewStrategyRegistry(cfg, nil, nil)
	assert.Error(t, err)
}
