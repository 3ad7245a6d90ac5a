package position

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trades-signal/internal/store"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	s, err := store.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	l, err := NewLedger(s, nil)
	require.NoError(t, err)
	return l
}

func TestLedgerOpenAddAndClose(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	pos, err := l.Current(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.False(t, pos.IsOpen())

	pos, realized, err := l.Apply(ctx, Fill{Symbol: "BTC/USDT", Buy: true, Quantity: 1, Price: 100, Time: ts})
	require.NoError(t, err)
	assert.Equal(t, SideLong, pos.Side)
	assert.Zero(t, realized)

	pos, _, err = l.Apply(ctx, Fill{Symbol: "btc/usdt", Buy: true, Quantity: 1, Price: 110, Time: ts})
	require.NoError(t, err)
	assert.InDelta(t, 2, pos.Size, 1e-9)
	assert.InDelta(t, 105, pos.EntryPrice, 1e-9)

	pos, realized, err = l.Apply(ctx, Fill{Symbol: "BTC/USDT", Buy: false, Quantity: 2, Price: 120, Time: ts})
	require.NoError(t, err)
	assert.False(t, pos.IsOpen())
	assert.InDelta(t, 30, realized, 1e-9)

	total, err := l.RealizedPnL(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.InDelta(t, 30, total, 1e-9)
}

func TestApplyFillFlipsSide(t *testing.T) {
	net, entry, realized := applyFill(1, 100, Fill{Buy: false, Quantity: 3, Price: 90})
	assert.InDelta(t, -2, net, 1e-12)
	assert.InDelta(t, 90, entry, 1e-12)
	assert.InDelta(t, -10, realized, 1e-12)

	net, entry, realized = applyFill(-2, 90, Fill{Buy: true, Quantity: 1, Price: 80})
	assert.InDelta(t, -1, net, 1e-12)
	assert.InDelta(t, 90, entry, 1e-12)
	assert.InDelta(t, 10, realized, 1e-12)
}

func TestLedgerRejectsInvalidFill(t *testing.T) {
	l := newTestLedger(t)
	_, _, err := l.Apply(context.Background(), Fill{Symbol: "BTC/USDT", Buy: true, Quantity: 0, Price: 1})
	assert.Error(t, err)
	_, _, err = l.Apply(context.Background(), Fill{Symbol: "BTC/USDT", Buy: true, Quantity: 1, Price: 0})
	assert.Error(t, err)
}

func TestStaticProvider(t *testing.T) {
	p := Static{"ETH/USDT": {Symbol: "ETH/USDT", Side: SideShort, Size: 2}}
	pos, err := p.Current(context.Background(), "eth/usdt")
	require.NoError(t, err)
	assert.True(t, pos.IsOpen())

	pos, err = p.Current(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, SideFlat, pos.Side)
}
