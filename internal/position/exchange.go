package position

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"
)

type positionClient interface {
	FetchPositions(options ...ccxt.FetchPositionsOptions) ([]ccxt.Position, error)
}

// ExchangeProvider 通过交易所接口读取实盘持仓，不做任何写操作。
type ExchangeProvider struct {
	client positionClient
	logger *zap.Logger
}

// NewExchangeProvider 创建实盘持仓读取器。
func NewExchangeProvider(client positionClient, logger *zap.Logger) *ExchangeProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExchangeProvider{
		client: client,
		logger: logger,
	}
}

// Current 实现 Provider，同一标的的多条持仓按方向净额合并。
func (p *ExchangeProvider) Current(ctx context.Context, symbol string) (Position, error) {
	if err := ctx.Err(); err != nil {
		return Position{}, err
	}

	rawPositions, err := p.client.FetchPositions()
	if err != nil {
		return Position{}, fmt.Errorf("position: 获取持仓失败: %w", err)
	}

	now := time.Now().UTC()
	var (
		net      float64
		notional float64
	)
	for _, rawPos := range rawPositions {
		rawSymbol := derefString(rawPos.Symbol)
		if rawSymbol == "" || !strings.EqualFold(rawSymbol, symbol) {
			continue
		}

		size := math.Abs(derefFloat(rawPos.Contracts))
		if size == 0 && rawPos.Info != nil {
			if info, ok := rawPos.Info["position"].(map[string]interface{}); ok {
				size = math.Abs(parseNumeric(info["szi"]))
			}
		}
		if size == 0 {
			continue
		}

		side := strings.ToUpper(strings.TrimSpace(derefString(rawPos.Side)))
		if side == "SHORT" {
			size = -size
		}
		net += size
		notional += size * derefFloat(rawPos.EntryPrice)
	}

	if math.Abs(net) < 1e-12 {
		return Position{Symbol: symbol, Side: SideFlat, UpdatedAt: now}, nil
	}

	pos := Position{
		Symbol:     symbol,
		Side:       SideLong,
		Size:       math.Abs(net),
		EntryPrice: notional / net,
		UpdatedAt:  now,
	}
	if net < 0 {
		pos.Side = SideShort
	}

	p.logger.Debug("已读取交易所持仓",
		zap.String("symbol", symbol),
		zap.String("side", string(pos.Side)),
		zap.Float64("size", pos.Size),
	)
	return pos, nil
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func parseNumeric(value interface{}) float64 {
	switch v := value.(type) {
	case nil:
		return 0
	case float64:
		return v
	case *float64:
		if v != nil {
			return *v
		}
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return 0
}

var _ Provider = (*ExchangeProvider)(nil)
