package paper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trades-signal/internal/clock"
	"trades-signal/internal/intent"
	"trades-signal/internal/journal"
	"trades-signal/internal/market"
	"trades-signal/internal/position"
	"trades-signal/internal/queue"
	"trades-signal/internal/store"
	"trades-signal/internal/wire"
)

const symbol = "BTC/USDT"

type env struct {
	sink     *queue.FileSink
	consumer *queue.Consumer
	ledger   *position.Ledger
	journal  *journal.Service
	quotes   *Quotes
	exec     *Executor
}

func newEnv(t *testing.T, opts Options) *env {
	t.Helper()
	root := t.TempDir()
	sink, err := queue.NewFileSink(root, queue.Options{Suffix: ".json"}, nil)
	require.NoError(t, err)
	consumer, err := queue.NewConsumer(root, ".json", nil)
	require.NoError(t, err)

	s, err := store.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ledger, err := position.NewLedger(s, nil)
	require.NoError(t, err)
	svc, err := journal.NewService(s, nil)
	require.NoError(t, err)

	quotes := NewQuotes()
	exec, err := NewExecutor(Config{
		Consumer: consumer,
		Ledger:   ledger,
		Prices:   quotes,
		Journal:  svc,
		Clock:    clock.NewSimulated(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)),
		Options:  opts,
	}, nil)
	require.NoError(t, err)

	return &env{sink: sink, consumer: consumer, ledger: ledger, journal: svc, quotes: quotes, exec: exec}
}

func newIntent(t *testing.T, side intent.Side, qty float64, mode intent.Mode) intent.Intent {
	t.Helper()
	return newIntentFor(t, symbol, side, qty, mode)
}

func newIntentFor(t *testing.T, sym string, side intent.Side, qty float64, mode intent.Mode) intent.Intent {
	t.Helper()
	in, err := intent.New(intent.Fields{
		ID:          uuid.NewString(),
		Timestamp:   time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Symbol:      sym,
		Side:        side,
		OrderType:   intent.OrderTypeMarket,
		Quantity:    qty,
		StopLoss:    intent.NoPrice(),
		TakeProfit:  intent.NoPrice(),
		TimeInForce: "GTC",
		PolicyHash:  "h",
		Mode:        mode,
	})
	require.NoError(t, err)
	return in
}

func (e *env) emit(t *testing.T, in intent.Intent) queue.Entry {
	t.Helper()
	raw, err := wire.Encode(in)
	require.NoError(t, err)
	entry, err := e.sink.Emit(raw)
	require.NoError(t, err)
	return entry
}

func (e *env) stats(t *testing.T) queue.Stats {
	t.Helper()
	st, err := e.consumer.Counts()
	require.NoError(t, err)
	return st
}

func TestExecutorFillsIntent(t *testing.T) {
	e := newEnv(t, Options{})
	e.quotes.Set(symbol, 100)
	in := newIntent(t, intent.SideBuy, 2, intent.ModePaper)
	entry := e.emit(t, in)

	results, err := e.exec.ProcessPending(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeFilled, results[0].Outcome)
	assert.Equal(t, entry.Name, results[0].Entry)
	assert.Equal(t, in.ID(), results[0].IntentID)
	assert.Equal(t, 100.0, results[0].Fill.Price)

	pos, err := e.ledger.Current(context.Background(), symbol)
	require.NoError(t, err)
	assert.Equal(t, position.SideLong, pos.Side)
	assert.Equal(t, 2.0, pos.Size)

	assert.Equal(t, queue.Stats{Done: 1}, e.stats(t))

	processed, err := e.journal.IsProcessed(context.Background(), in.ID())
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestExecutorDeduplicatesOnIntentID(t *testing.T) {
	e := newEnv(t, Options{})
	e.quotes.Set(symbol, 100)
	in := newIntent(t, intent.SideBuy, 1, intent.ModePaper)
	first := e.emit(t, in)
	second := e.emit(t, in)
	require.NotEqual(t, first.Name, second.Name)

	results, err := e.exec.ProcessPending(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)

	outcomes := []string{results[0].Outcome, results[1].Outcome}
	assert.ElementsMatch(t, []string{OutcomeFilled, OutcomeDuplicate}, outcomes)

	pos, err := e.ledger.Current(context.Background(), symbol)
	require.NoError(t, err)
	assert.Equal(t, 1.0, pos.Size)
	assert.Equal(t, queue.Stats{Done: 2}, e.stats(t))
}

func TestExecutorRejectsOtherMode(t *testing.T) {
	e := newEnv(t, Options{})
	e.quotes.Set(symbol, 100)
	e.emit(t, newIntent(t, intent.SideBuy, 1, intent.ModeLive))

	results, err := e.exec.ProcessPending(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeFailed, results[0].Outcome)
	assert.ErrorIs(t, results[0].Err, ErrModeMismatch)

	pos, err := e.ledger.Current(context.Background(), symbol)
	require.NoError(t, err)
	assert.False(t, pos.IsOpen())
	assert.Equal(t, queue.Stats{Failed: 1}, e.stats(t))

	events, err := e.journal.ListEvents(context.Background(), journal.EventIntentFailed, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestExecutorFailsMalformedEntry(t *testing.T) {
	e := newEnv(t, Options{})
	_, err := e.sink.Emit([]byte(`{"intent_id":"x"}`))
	require.NoError(t, err)

	results, err := e.exec.ProcessPending(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, ErrMalformedEntry)
	assert.Equal(t, queue.Stats{Failed: 1}, e.stats(t))
}

func TestExecutorRetriesAfterMissingPrice(t *testing.T) {
	e := newEnv(t, Options{})
	e.emit(t, newIntent(t, intent.SideBuy, 1, intent.ModePaper))

	results, err := e.exec.ProcessPending(context.Background())
	require.ErrorIs(t, err, ErrNoPrice)
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Outcome)
	assert.Equal(t, queue.Stats{InFlight: 1}, e.stats(t))

	e.quotes.Set(symbol, 50)
	results, err = e.exec.ProcessPending(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeFilled, results[0].Outcome)
	assert.Equal(t, queue.Stats{Done: 1}, e.stats(t))
}

func TestExecutorUnpricedSymbolDoesNotBlockOthers(t *testing.T) {
	const eth = "ETH/USDT"
	e := newEnv(t, Options{})
	e.quotes.Set(symbol, 100)
	stuck := e.emit(t, newIntentFor(t, eth, intent.SideBuy, 1, intent.ModePaper))
	e.emit(t, newIntentFor(t, symbol, intent.SideBuy, 2, intent.ModePaper))

	results, err := e.exec.ProcessPending(context.Background())
	require.ErrorIs(t, err, ErrNoPrice)
	require.Len(t, results, 2)
	byEntry := map[string]Result{}
	for _, r := range results {
		byEntry[r.Entry] = r
	}
	assert.Empty(t, byEntry[stuck.Name].Outcome)
	assert.Equal(t, queue.Stats{InFlight: 1, Done: 1}, e.stats(t))

	pos, err := e.ledger.Current(context.Background(), symbol)
	require.NoError(t, err)
	assert.Equal(t, 2.0, pos.Size)

	// 后续轮次仍先恢复 ETH 的认领，新条目不受影响。
	e.emit(t, newIntentFor(t, symbol, intent.SideSell, 2, intent.ModePaper))
	results, err = e.exec.ProcessPending(context.Background())
	require.ErrorIs(t, err, ErrNoPrice)
	require.Len(t, results, 2)
	assert.Equal(t, queue.Stats{InFlight: 1, Done: 2}, e.stats(t))

	e.quotes.Set(eth, 3000)
	results, err = e.exec.ProcessPending(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeFilled, results[0].Outcome)
	assert.Equal(t, queue.Stats{Done: 3}, e.stats(t))
}

func TestExecutorRealizesPnL(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()

	e.quotes.Set(symbol, 100)
	e.emit(t, newIntent(t, intent.SideBuy, 2, intent.ModePaper))
	_, err := e.exec.ProcessPending(ctx)
	require.NoError(t, err)

	e.quotes.Set(symbol, 110)
	e.emit(t, newIntent(t, intent.SideSell, 2, intent.ModePaper))
	results, err := e.exec.ProcessPending(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 20.0, results[0].RealizedPnL, 1e-9)
	assert.False(t, results[0].Position.IsOpen())
}

func TestExecutorSlippage(t *testing.T) {
	tests := []struct {
		side intent.Side
		want float64
	}{
		{intent.SideBuy, 101},
		{intent.SideSell, 99},
	}
	for _, tt := range tests {
		t.Run(string(tt.side), func(t *testing.T) {
			e := newEnv(t, Options{Slippage: 0.01})
			e.quotes.Set(symbol, 100)
			e.emit(t, newIntent(t, tt.side, 1, intent.ModePaper))
			results, err := e.exec.ProcessPending(context.Background())
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.InDelta(t, tt.want, results[0].Fill.Price, 1e-9)
		})
	}
}

func TestExecutorRun(t *testing.T) {
	e := newEnv(t, Options{})
	e.quotes.Set(symbol, 100)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.exec.Run(ctx, 10*time.Millisecond) }()

	e.emit(t, newIntent(t, intent.SideBuy, 1, intent.ModePaper))
	require.Eventually(t, func() bool {
		st, err := e.consumer.Counts()
		return err == nil && st.Done == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run 未在取消后退出")
	}
}

func TestNewExecutorValidation(t *testing.T) {
	_, err := NewExecutor(Config{}, nil)
	assert.Error(t, err)

	e := newEnv(t, Options{})
	cfg := e.exec.cfg
	cfg.Options.Mode = "DEMO"
	_, err = NewExecutor(cfg, nil)
	assert.Error(t, err)

	cfg.Options = Options{Slippage: -1}
	_, err = NewExecutor(cfg, nil)
	assert.Error(t, err)
}

type stubFetcher struct {
	bars []market.Bar
	err  error
	got  string
}

func (f *stubFetcher) FetchCandles(_ context.Context, sym, _ string, _ int64) ([]market.Bar, error) {
	f.got = sym
	return f.bars, f.err
}

func TestCandlePrices(t *testing.T) {
	f := &stubFetcher{bars: []market.Bar{{Close: 99}, {Close: 101}}}
	prices := NewCandlePrices(f, "1h", map[string]string{"btc/usdt": "BTC/USDT:USDT"})

	p, err := prices.Price(context.Background(), symbol)
	require.NoError(t, err)
	assert.Equal(t, 101.0, p)
	assert.Equal(t, "BTC/USDT:USDT", f.got)

	f.bars = nil
	_, err = prices.Price(context.Background(), symbol)
	assert.ErrorIs(t, err, ErrNoPrice)

	f.err = errors.New("down")
	_, err = prices.Price(context.Background(), symbol)
	assert.Error(t, err)
}

func TestQuotes(t *testing.T) {
	q := NewQuotes()
	_, err := q.Price(context.Background(), symbol)
	assert.ErrorIs(t, err, ErrNoPrice)
	q.Set("btc/usdt", 10)
	p, err := q.Price(context.Background(), symbol)
	require.NoError(t, err)
	assert.Equal(t, 10.0, p)
}
