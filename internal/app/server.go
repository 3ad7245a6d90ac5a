package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"trades-signal/internal/journal"
	"trades-signal/internal/metrics"
	"trades-signal/internal/queue"
)

// queueCounter 由 queue.Consumer 实现。
type queueCounter interface {
	Counts() (queue.Stats, error)
}

// newOpsHandler 组装运维接口：/events 审计事件，/queue 队列统计，/metrics Prometheus。
func newOpsHandler(svc *journal.Service, counter queueCounter, gatherer prometheus.Gatherer, m *metrics.Metrics, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			http.Error(w, "journal disabled", http.StatusServiceUnavailable)
			return
		}
		q := r.URL.Query()
		limit := 200
		if qs := q.Get("limit"); qs != "" {
			if v, err := strconv.Atoi(qs); err == nil && v > 0 {
				if v > 1000 {
					v = 1000
				}
				limit = v
			}
		}

		eventType := journal.EventType("")
		if typ := strings.TrimSpace(q.Get("type")); typ != "" {
			eventType = journal.EventType(strings.ToLower(typ))
		}

		events, err := svc.ListEvents(r.Context(), eventType, limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, events, logger)
	})

	mux.HandleFunc("/queue", func(w http.ResponseWriter, r *http.Request) {
		if counter == nil {
			http.Error(w, "queue disabled", http.StatusServiceUnavailable)
			return
		}
		stats, err := counter.Counts()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		m.SetQueue(stats.Pending, stats.InFlight, stats.Done, stats.Failed)
		writeJSON(w, stats, logger)
	})

	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func writeJSON(w http.ResponseWriter, v interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("写入运维响应失败", zap.Error(err))
	}
}

func startOpsServer(ctx context.Context, handler http.Handler, port int, logger *zap.Logger) {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("关闭运维服务失败", zap.Error(err))
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("运维服务异常", zap.Error(err))
		}
	}()

	logger.Info("运维接口已启动", zap.String("addr", addr))
}
