package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

// ErrMaintenance 表示交易所维护中，行情轮询应等待下一周期而不是重试。
var ErrMaintenance = errors.New("exchange: 交易所维护中")

type failure int

const (
	failurePermanent failure = iota
	failureTransient
	failureMaintenance
)

// IsRetryable 判断 ccxt 错误是否属于网络、限频等暂时性故障。
func IsRetryable(err error) bool {
	var ccxtErr *ccxt.Error
	if !errors.As(err, &ccxtErr) {
		return false
	}
	switch ccxtErr.Type {
	case ccxt.NetworkErrorErrType, ccxt.RequestTimeoutErrType, ccxt.ExchangeNotAvailableErrType,
		ccxt.RateLimitExceededErrType, ccxt.DDoSProtectionErrType,
		ccxt.BadResponseErrType, ccxt.NullResponseErrType:
		return true
	}
	return false
}

// classify 归类错误，维护状态统一包装为 ErrMaintenance。
func classify(err error) (error, failure) {
	switch {
	case err == nil:
		return nil, failurePermanent
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err, failurePermanent
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) && ccxtErr.Type == ccxt.OnMaintenanceErrType {
		msg := strings.TrimSpace(ccxtErr.Message)
		if msg == "" {
			return ErrMaintenance, failureMaintenance
		}
		return fmt.Errorf("%w: %s", ErrMaintenance, msg), failureMaintenance
	}
	if IsRetryable(err) {
		return err, failureTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return err, failureTransient
	}
	return err, failurePermanent
}
