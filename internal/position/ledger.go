package position

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"trades-signal/internal/store"
)

const sizeEpsilon = 1e-12

// Fill 为一次模拟成交。
type Fill struct {
	Symbol   string
	Buy      bool
	Quantity float64
	Price    float64
	Time     time.Time
}

// Ledger 在 SQLite 中维护模拟持仓，生产端与模拟执行端可跨进程共享。
type Ledger struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewLedger 创建持仓账本并初始化表结构。
func NewLedger(s *store.Store, logger *zap.Logger) (*Ledger, error) {
	if s == nil {
		return nil, errors.New("position: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := s.Migrate("paper_positions", ledgerSchema); err != nil {
		return nil, err
	}
	return &Ledger{db: s.DB(), logger: logger}, nil
}

const ledgerSchema = `CREATE TABLE IF NOT EXISTS paper_positions (
	symbol TEXT PRIMARY KEY,
	net_size REAL NOT NULL,
	entry_price REAL NOT NULL,
	realized_pnl REAL NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
)`

// Current 实现 Provider。
func (l *Ledger) Current(ctx context.Context, symbol string) (Position, error) {
	net, entry, _, updated, err := l.load(ctx, l.db, symbol)
	if err != nil {
		return Position{}, err
	}
	return toPosition(symbol, net, entry, updated), nil
}

// RealizedPnL 返回指定标的累计已实现盈亏。
func (l *Ledger) RealizedPnL(ctx context.Context, symbol string) (float64, error) {
	_, _, realized, _, err := l.load(ctx, l.db, symbol)
	return realized, err
}

// Apply 记入一笔成交，返回成交后的持仓与本次已实现盈亏。
func (l *Ledger) Apply(ctx context.Context, fill Fill) (Position, float64, error) {
	if fill.Quantity <= 0 || math.IsNaN(fill.Quantity) || math.IsInf(fill.Quantity, 0) {
		return Position{}, 0, fmt.Errorf("position: 成交数量无效 %v", fill.Quantity)
	}
	if fill.Price <= 0 {
		return Position{}, 0, fmt.Errorf("position: 成交价格无效 %v", fill.Price)
	}
	if fill.Time.IsZero() {
		fill.Time = time.Now().UTC()
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Position{}, 0, fmt.Errorf("position: 开启事务失败: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	net, entry, realizedTotal, _, err := l.load(ctx, tx, fill.Symbol)
	if err != nil {
		return Position{}, 0, err
	}

	newNet, newEntry, realized := applyFill(net, entry, fill)
	realizedTotal += realized

	_, err = tx.ExecContext(ctx, `
INSERT INTO paper_positions (symbol, net_size, entry_price, realized_pnl, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(symbol) DO UPDATE SET
	net_size = excluded.net_size,
	entry_price = excluded.entry_price,
	realized_pnl = excluded.realized_pnl,
	updated_at = excluded.updated_at`,
		normalizeSymbol(fill.Symbol), newNet, newEntry, realizedTotal, fill.Time.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return Position{}, 0, fmt.Errorf("position: 写入持仓失败: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Position{}, 0, fmt.Errorf("position: 提交事务失败: %w", err)
	}

	pos := toPosition(fill.Symbol, newNet, newEntry, fill.Time.UTC())
	l.logger.Info("模拟持仓已更新",
		zap.String("symbol", fill.Symbol),
		zap.String("side", string(pos.Side)),
		zap.Float64("size", pos.Size),
		zap.Float64("entry_price", pos.EntryPrice),
		zap.Float64("realized_pnl", realized),
	)
	return pos, realized, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (l *Ledger) load(ctx context.Context, q queryer, symbol string) (float64, float64, float64, time.Time, error) {
	var (
		net, entry, realized float64
		updated              string
	)
	err := q.QueryRowContext(ctx,
		`SELECT net_size, entry_price, realized_pnl, updated_at FROM paper_positions WHERE symbol = ?`,
		normalizeSymbol(symbol),
	).Scan(&net, &entry, &realized, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, 0, time.Time{}, nil
	}
	if err != nil {
		return 0, 0, 0, time.Time{}, fmt.Errorf("position: 查询持仓失败: %w", err)
	}
	ts, parseErr := time.Parse(time.RFC3339Nano, updated)
	if parseErr != nil {
		ts = time.Time{}
	}
	return net, entry, realized, ts, nil
}

// applyFill 以带符号数量计算新持仓：同向加仓取加权均价，反向先平仓并计入盈亏，超出部分按成交价反向开仓。
func applyFill(net, entry float64, fill Fill) (float64, float64, float64) {
	delta := fill.Quantity
	if !fill.Buy {
		delta = -delta
	}

	switch {
	case math.Abs(net) < sizeEpsilon:
		return delta, fill.Price, 0
	case (net > 0) == (delta > 0):
		total := net + delta
		avg := (math.Abs(net)*entry + math.Abs(delta)*fill.Price) / math.Abs(total)
		return total, avg, 0
	}

	closed := math.Min(math.Abs(net), math.Abs(delta))
	direction := 1.0
	if net < 0 {
		direction = -1.0
	}
	realized := closed * (fill.Price - entry) * direction

	total := net + delta
	switch {
	case math.Abs(total) < sizeEpsilon:
		return 0, 0, realized
	case (total > 0) == (net > 0):
		return total, entry, realized
	default:
		return total, fill.Price, realized
	}
}

func toPosition(symbol string, net, entry float64, updated time.Time) Position {
	if math.Abs(net) < sizeEpsilon {
		return Position{Symbol: symbol, Side: SideFlat, UpdatedAt: updated}
	}
	pos := Position{
		Symbol:     symbol,
		Side:       SideLong,
		Size:       math.Abs(net),
		EntryPrice: entry,
		UpdatedAt:  updated,
	}
	if net < 0 {
		pos.Side = SideShort
	}
	return pos
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

var _ Provider = (*Ledger)(nil)
