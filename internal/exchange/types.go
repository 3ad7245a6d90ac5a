package exchange

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// Timeframe1h 为默认决策周期。
	Timeframe1h = "1h"
	// Timeframe4h 为较慢的决策周期。
	Timeframe4h = "4h"
)

// TimeframeDuration 将 ccxt 周期字符串（如 1m、15m、1h、1d、1w）转换为时长。
func TimeframeDuration(tf string) (time.Duration, error) {
	tf = strings.TrimSpace(tf)
	if len(tf) < 2 {
		return 0, fmt.Errorf("exchange: 非法周期 %q", tf)
	}
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("exchange: 非法周期 %q", tf)
	}

	var unit time.Duration
	switch tf[len(tf)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("exchange: 非法周期 %q", tf)
	}
	return time.Duration(n) * unit, nil
}

// BackfillRequest 控制一次多交易对历史K线拉取。
type BackfillRequest struct {
	Symbols   []string
	Timeframe string
	Limit     int
}
