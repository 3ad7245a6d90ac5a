package queue

import (
	"context"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch 在 pending 出现新条目时发出通知，并以 interval 定期兜底通知。
// 通道在 ctx 结束后关闭；通知会合并，接收方应在每次通知后重新列举 Pending。
func (c *Consumer) Watch(ctx context.Context, interval time.Duration) <-chan struct{} {
	if interval <= 0 {
		interval = time.Second
	}
	out := make(chan struct{}, 1)
	notify := func() {
		select {
		case out <- struct{}{}:
		default:
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		c.logger.Warn("创建文件监听失败，仅使用轮询", zap.Error(err))
		watcher = nil
	} else if err := watcher.Add(c.layout.Pending()); err != nil {
		c.logger.Warn("监听 pending 失败，仅使用轮询", zap.Error(err))
		_ = watcher.Close()
		watcher = nil
	}

	go func() {
		defer close(out)
		if watcher != nil {
			defer watcher.Close()
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var (
			events <-chan fsnotify.Event
			errs   <-chan error
		)
		if watcher != nil {
			events = watcher.Events
			errs = watcher.Errors
		}

		notify()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				notify()
			case ev, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				if ev.Op&(fsnotify.Create|fsnotify.Rename) != 0 && strings.HasSuffix(ev.Name, c.suffix) {
					notify()
				}
			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				c.logger.Warn("文件监听错误", zap.Error(err))
			}
		}
	}()
	return out
}
