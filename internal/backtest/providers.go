package backtest

import (
	"context"
	"time"

	"trades-signal/internal/feed"
	"trades-signal/internal/market"
)

// windowSource 只输出 [start, end] 内的K线，零值边界表示不限。
type windowSource struct {
	inner      feed.Source
	start, end time.Time
}

func newWindowSource(inner feed.Source, start, end time.Time) feed.Source {
	if start.IsZero() && end.IsZero() {
		return inner
	}
	return &windowSource{inner: inner, start: start, end: end}
}

func (w *windowSource) Next(ctx context.Context) (market.Bar, bool, error) {
	for {
		bar, ok, err := w.inner.Next(ctx)
		if err != nil || !ok {
			return bar, ok, err
		}
		if !w.start.IsZero() && bar.Timestamp.Before(w.start) {
			continue
		}
		if !w.end.IsZero() && bar.Timestamp.After(w.end) {
			return market.Bar{}, false, nil
		}
		return bar, true, nil
	}
}
