package paper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"trades-signal/internal/clock"
	"trades-signal/internal/intent"
	"trades-signal/internal/journal"
	"trades-signal/internal/metrics"
	"trades-signal/internal/position"
	"trades-signal/internal/queue"
	"trades-signal/internal/wire"
)

// 处理结果。
const (
	OutcomeFilled    = "filled"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

var (
	// ErrModeMismatch 表示意图的 mode 与消费端不一致，PAPER 与 LIVE 不可互换。
	ErrModeMismatch = errors.New("paper: 意图模式与执行端不一致")
	// ErrMalformedEntry 表示条目无法解析。
	ErrMalformedEntry = errors.New("paper: 条目无法解析")
)

// Options 控制模拟成交。
type Options struct {
	// Mode 为可接受的意图模式，缺省 PAPER。
	Mode intent.Mode
	// Slippage 为相对参考价的不利滑点比例。
	Slippage float64
}

// Config 为执行端依赖。
type Config struct {
	Consumer *queue.Consumer
	Ledger   *position.Ledger
	Prices   PriceSource
	Journal  *journal.Service
	Metrics  *metrics.Metrics
	Clock    clock.Clock
	Options  Options
}

// Result 为单个条目的处理结果。
type Result struct {
	Entry       string
	IntentID    string
	Outcome     string
	Fill        position.Fill
	Position    position.Position
	RealizedPnL float64
	Err         error
}

// Executor 为模拟执行端：认领 pending 条目，按 intent_id 去重，成交记入模拟持仓后移入 done。
type Executor struct {
	cfg    Config
	logger *zap.Logger
}

// NewExecutor 创建模拟执行端。
func NewExecutor(cfg Config, logger *zap.Logger) (*Executor, error) {
	if cfg.Consumer == nil || cfg.Ledger == nil || cfg.Prices == nil || cfg.Journal == nil {
		return nil, errors.New("paper: consumer、ledger、prices 与 journal 均不能为空")
	}
	if cfg.Options.Mode == "" {
		cfg.Options.Mode = intent.ModePaper
	}
	if !cfg.Options.Mode.Valid() {
		return nil, fmt.Errorf("paper: 非法模式 %q", cfg.Options.Mode)
	}
	if cfg.Options.Slippage < 0 {
		return nil, fmt.Errorf("paper: 滑点不能为负")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{cfg: cfg, logger: logger}, nil
}

// ProcessPending 先恢复遗留的认领，再按顺序处理 pending 中的条目。
// 价格或存储等暂时性错误只影响对应条目：认领保留在 inflight，下次调用时重试，
// 其余条目照常处理，这些错误在本轮结束后合并返回。只有列目录或认领失败会提前结束本轮。
func (e *Executor) ProcessPending(ctx context.Context) ([]Result, error) {
	var (
		results   []Result
		transient error
	)

	inflight, err := e.cfg.Consumer.InFlight()
	if err != nil {
		return nil, err
	}
	for _, name := range inflight {
		if err := ctx.Err(); err != nil {
			return results, multierr.Append(transient, err)
		}
		cl, err := e.cfg.Consumer.Resume(name)
		if err != nil {
			e.logger.Warn("恢复认领失败", zap.String("entry", name), zap.Error(err))
			continue
		}
		e.logger.Info("恢复遗留认领", zap.String("entry", name))
		res := e.handle(ctx, cl)
		results = append(results, res)
		transient = e.deferred(transient, res)
	}

	names, err := e.cfg.Consumer.Pending()
	if err != nil {
		return results, multierr.Append(transient, err)
	}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return results, multierr.Append(transient, err)
		}
		cl, err := e.cfg.Consumer.Claim(name)
		if errors.Is(err, queue.ErrAlreadyClaimed) {
			continue
		}
		if err != nil {
			return results, multierr.Append(transient, err)
		}
		res := e.handle(ctx, cl)
		results = append(results, res)
		transient = e.deferred(transient, res)
	}
	return results, transient
}

// deferred 记录暂时性失败并继续处理下一个条目。
func (e *Executor) deferred(acc error, res Result) error {
	if res.Err == nil || res.Outcome != "" {
		return acc
	}
	e.logger.Warn("条目暂缓处理，保留认领", zap.String("entry", res.Entry), zap.Error(res.Err))
	return multierr.Append(acc, fmt.Errorf("paper: %s: %w", res.Entry, res.Err))
}

// handle 处理一个认领。Outcome 为空表示暂时性失败，认领保持 inflight。
func (e *Executor) handle(ctx context.Context, cl queue.Claim) Result {
	res := Result{Entry: cl.Name}

	raw, err := e.cfg.Consumer.Read(cl)
	if err != nil {
		res.Err = err
		return res
	}

	in, err := wire.Decode(raw)
	if err != nil {
		return e.fail(ctx, cl, res, "malformed", fmt.Errorf("%w: %v", ErrMalformedEntry, err))
	}
	res.IntentID = in.ID()

	if in.Mode() != e.cfg.Options.Mode {
		return e.fail(ctx, cl, res, "mode", fmt.Errorf("%w: intent=%s executor=%s", ErrModeMismatch, in.Mode(), e.cfg.Options.Mode))
	}

	seen, err := e.cfg.Journal.IsProcessed(ctx, in.ID())
	if err != nil {
		res.Err = err
		return res
	}
	if seen {
		if err := e.cfg.Consumer.Complete(cl); err != nil {
			res.Err = err
			return res
		}
		res.Outcome = OutcomeDuplicate
		e.logger.Info("重复意图已跳过", zap.String("entry", cl.Name), zap.String("intent_id", in.ID()))
		e.record(ctx, res, in)
		return res
	}

	ref, err := e.cfg.Prices.Price(ctx, in.Symbol())
	if err != nil {
		res.Err = err
		return res
	}

	fill := position.Fill{
		Symbol:   in.Symbol(),
		Buy:      in.Side() == intent.SideBuy,
		Quantity: in.Quantity(),
		Price:    e.fillPrice(in.Side(), ref),
		Time:     e.cfg.Clock.Now(),
	}
	pos, realized, err := e.cfg.Ledger.Apply(ctx, fill)
	if err != nil {
		res.Err = err
		return res
	}
	// 成交与登记之间崩溃会在重启后重复成交，登记失败同理，这里只记录日志。
	if _, err := e.cfg.Journal.MarkProcessed(ctx, in.ID(), cl.Name); err != nil {
		e.logger.Error("登记意图失败", zap.String("intent_id", in.ID()), zap.Error(err))
	}
	if err := e.cfg.Consumer.Complete(cl); err != nil {
		res.Err = err
		return res
	}

	res.Outcome = OutcomeFilled
	res.Fill = fill
	res.Position = pos
	res.RealizedPnL = realized

	e.logger.Info("模拟成交",
		zap.String("entry", cl.Name),
		zap.String("intent_id", in.ID()),
		zap.String("symbol", fill.Symbol),
		zap.String("side", string(in.Side())),
		zap.Float64("quantity", fill.Quantity),
		zap.Float64("price", fill.Price),
		zap.String("position", string(pos.Side)),
		zap.Float64("realized_pnl", realized),
	)
	e.cfg.Metrics.IncPaperFill(fill.Symbol, string(in.Side()))
	if total, err := e.cfg.Ledger.RealizedPnL(ctx, fill.Symbol); err == nil {
		e.cfg.Metrics.SetRealizedPnL(fill.Symbol, total)
	}
	e.record(ctx, res, in)
	return res
}

func (e *Executor) fail(ctx context.Context, cl queue.Claim, res Result, label string, reason error) Result {
	res.Err = reason
	if err := e.cfg.Consumer.Fail(cl, reason); err != nil {
		res.Err = fmt.Errorf("%v; %w", reason, err)
		res.Outcome = ""
		return res
	}
	res.Outcome = OutcomeFailed
	e.cfg.Metrics.IncPaperFailure(label)
	e.cfg.Journal.Emit(ctx, journal.EventIntentFailed, journal.ProcessedPayload{
		Entry:    res.Entry,
		IntentID: res.IntentID,
		Outcome:  label + ": " + reason.Error(),
	})
	return res
}

func (e *Executor) record(ctx context.Context, res Result, in intent.Intent) {
	e.cfg.Journal.Emit(ctx, journal.EventIntentProcessed, journal.ProcessedPayload{
		Entry:       res.Entry,
		IntentID:    res.IntentID,
		Symbol:      in.Symbol(),
		Side:        string(in.Side()),
		Quantity:    in.Quantity(),
		Price:       res.Fill.Price,
		RealizedPnL: res.RealizedPnL,
		Outcome:     res.Outcome,
	})
}

func (e *Executor) fillPrice(side intent.Side, ref float64) float64 {
	if e.cfg.Options.Slippage <= 0 {
		return ref
	}
	if side == intent.SideBuy {
		return ref * (1 + e.cfg.Options.Slippage)
	}
	return ref * (1 - e.cfg.Options.Slippage)
}

// Run 监听 pending 并持续处理，直到 ctx 结束。单次处理失败只记录日志。
func (e *Executor) Run(ctx context.Context, interval time.Duration) error {
	e.logger.Info("模拟执行端已启动",
		zap.String("mode", string(e.cfg.Options.Mode)),
		zap.String("root", e.cfg.Consumer.Layout().Root),
	)
	for range e.cfg.Consumer.Watch(ctx, interval) {
		results, err := e.ProcessPending(ctx)
		if err != nil && ctx.Err() == nil {
			e.logger.Warn("处理队列失败", zap.Error(err))
		}
		if len(results) > 0 {
			e.logger.Debug("本轮处理完成", zap.Int("count", len(results)))
		}
		if stats, err := e.cfg.Consumer.Counts(); err == nil {
			e.cfg.Metrics.SetQueue(stats.Pending, stats.InFlight, stats.Done, stats.Failed)
		}
	}
	return nil
}
