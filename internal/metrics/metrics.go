package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 汇总信号流水线与模拟消费端的 Prometheus 指标。
type Metrics struct {
	decisions       *prometheus.CounterVec
	intentsEmitted  *prometheus.CounterVec
	intentsRejected *prometheus.CounterVec
	emitFailures    *prometheus.CounterVec
	evalErrors      *prometheus.CounterVec
	regimeSkips     *prometheus.CounterVec
	paperFills      *prometheus.CounterVec
	paperFailures   *prometheus.CounterVec
	queueEntries    *prometheus.GaugeVec
	realizedPnL     *prometheus.GaugeVec
}

// New 创建指标并注册到 reg；reg 为空时仅创建不注册。
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_decisions_total",
			Help: "Decisions produced by strategies",
		}, []string{"strategy", "kind"}),
		intentsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_intents_emitted_total",
			Help: "Intents durably written to the pending partition",
		}, []string{"strategy", "side", "mode"}),
		intentsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_intents_rejected_total",
			Help: "Decisions rejected by the intent builder",
		}, []string{"strategy", "reason"}),
		emitFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_emit_failures_total",
			Help: "Failed emit attempts",
		}, []string{"strategy"}),
		evalErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_evaluation_errors_total",
			Help: "Strategy evaluations that returned an error or panicked",
		}, []string{"strategy"}),
		regimeSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_regime_skips_total",
			Help: "Evaluations skipped because the market regime was not allowed",
		}, []string{"strategy", "regime"}),
		paperFills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paper_fills_total",
			Help: "Intents filled by the paper consumer",
		}, []string{"symbol", "side"}),
		paperFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paper_failures_total",
			Help: "Intents moved to the failed partition",
		}, []string{"reason"}),
		queueEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_entries",
			Help: "Queue entries by partition",
		}, []string{"partition"}),
		realizedPnL: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "paper_realized_pnl",
			Help: "Realized PnL of the paper ledger",
		}, []string{"symbol"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.decisions, m.intentsEmitted, m.intentsRejected, m.emitFailures,
			m.evalErrors, m.regimeSkips, m.paperFills, m.paperFailures,
			m.queueEntries, m.realizedPnL,
		)
	}
	return m
}

func (m *Metrics) IncDecision(strategy, kind string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(strategy, kind).Inc()
}

func (m *Metrics) IncEmitted(strategy, side, mode string) {
	if m == nil {
		return
	}
	m.intentsEmitted.WithLabelValues(strategy, side, mode).Inc()
}

func (m *Metrics) IncRejected(strategy, reason string) {
	if m == nil {
		return
	}
	m.intentsRejected.WithLabelValues(strategy, reason).Inc()
}

func (m *Metrics) IncEmitFailure(strategy string) {
	if m == nil {
		return
	}
	m.emitFailures.WithLabelValues(strategy).Inc()
}

func (m *Metrics) IncEvaluationError(strategy string) {
	if m == nil {
		return
	}
	m.evalErrors.WithLabelValues(strategy).Inc()
}

func (m *Metrics) IncRegimeSkip(strategy, regime string) {
	if m == nil {
		return
	}
	m.regimeSkips.WithLabelValues(strategy, regime).Inc()
}

func (m *Metrics) IncPaperFill(symbol, side string) {
	if m == nil {
		return
	}
	m.paperFills.WithLabelValues(symbol, side).Inc()
}

func (m *Metrics) IncPaperFailure(reason string) {
	if m == nil {
		return
	}
	m.paperFailures.WithLabelValues(reason).Inc()
}

// SetQueue 刷新各分区条目数。
func (m *Metrics) SetQueue(pending, inflight, done, failed int) {
	if m == nil {
		return
	}
	m.queueEntries.WithLabelValues("pending").Set(float64(pending))
	m.queueEntries.WithLabelValues("inflight").Set(float64(inflight))
	m.queueEntries.WithLabelValues("done").Set(float64(done))
	m.queueEntries.WithLabelValues("failed").Set(float64(failed))
}

func (m *Metrics) SetRealizedPnL(symbol string, v float64) {
	if m == nil {
		return
	}
	m.realizedPnL.WithLabelValues(symbol).Set(v)
}
