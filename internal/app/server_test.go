package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trades-signal/internal/journal"
	"trades-signal/internal/metrics"
	"trades-signal/internal/queue"
)

func TestOpsHandler(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.journal.Emit(ctx, journal.EventDecision, journal.DecisionPayload{Strategy: "s", Kind: "BUY"})
	h.journal.Emit(ctx, journal.EventIntentEmitted, journal.IntentPayload{Strategy: "s", IntentID: "id"})
	_, err := h.sink.Emit([]byte(`{}`))
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.IncDecision("s", "BUY")

	srv := httptest.NewServer(newOpsHandler(h.journal, h.consumer, reg, m, nil))
	defer srv.Close()

	t.Run("events", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/events?type=DECISION&limit=5")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var events []journal.Event
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&events))
		require.Len(t, events, 1)
		assert.Equal(t, journal.EventDecision, events[0].Type)
	})

	t.Run("queue", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/queue")
		require.NoError(t, err)
		defer resp.Body.Close()

		var stats queue.Stats
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
		assert.Equal(t, 1, stats.Pending)
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "signal_decisions_total")
		assert.Contains(t, string(body), "queue_entries")
	})
}

func TestOpsHandlerDisabled(t *testing.T) {
	srv := httptest.NewServer(newOpsHandler(nil, nil, nil, nil, nil))
	defer srv.Close()

	for _, path := range []string{"/events", "/queue"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, path)
	}
}
