package exchange

import (
	"context"
	"time"

	"go.uber.org/zap"

	"trades-signal/internal/config"
)

// backoff 为指数退避策略，等待时长从 min 翻倍直至 max。
type backoff struct {
	attempts int
	min      time.Duration
	max      time.Duration
}

func newBackoff(cfg config.RetryConfig) backoff {
	b := backoff{attempts: cfg.MaxAttempts, min: cfg.MinDelay, max: cfg.MaxDelay}
	if b.attempts <= 0 {
		b.attempts = 1
	}
	if b.min <= 0 {
		b.min = 500 * time.Millisecond
	}
	if b.max < b.min {
		b.max = b.min
	}
	return b
}

// wait 返回第 attempt 次失败后的等待时长，attempt 从 1 开始。
func (b backoff) wait(attempt int) time.Duration {
	d := b.min
	for i := 1; i < attempt && d < b.max; i++ {
		d *= 2
	}
	if d > b.max {
		d = b.max
	}
	return d
}

// run 执行 fn，暂时性故障按退避重试；维护与永久性错误立即返回。
func (b backoff) run(ctx context.Context, logger *zap.Logger, op string, fn func() error) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		started := time.Now()
		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info("行情请求重试后成功",
					zap.String("op", op),
					zap.Int("attempts", attempt),
					zap.Duration("latency", time.Since(started)),
				)
			}
			return nil
		}

		err, kind := classify(err)
		switch {
		case kind == failureMaintenance:
			logger.Warn("交易所维护中", zap.String("op", op), zap.Error(err))
			return err
		case kind == failurePermanent || attempt >= b.attempts:
			logger.Error("行情请求失败", zap.String("op", op), zap.Int("attempts", attempt), zap.Error(err))
			return err
		}

		pause := b.wait(attempt)
		logger.Warn("行情请求失败，等待重试",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("wait", pause),
			zap.Error(err),
		)
		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
