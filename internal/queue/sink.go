package queue

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrDurability 表示写入未能完整完成。除 ErrNotDurable 外，pending 中没有留下可见条目。
	ErrDurability = errors.New("queue: 持久化写入失败")
	// ErrNotDurable 表示条目已重命名进 pending 并对消费端可见，但目录项落盘失败，
	// 崩溃后条目可能丢失。此时 Emit 同时返回该条目；调用方重试会产生第二个条目，
	// 两者 intent_id 相同，由消费端去重。errors.Is(err, ErrDurability) 同样成立。
	ErrNotDurable = fmt.Errorf("%w: 条目已可见但未落盘", ErrDurability)
)

// Entry 为成功写入 pending 的队列条目。
type Entry struct {
	Name string
	Path string
}

// Sink 接收已序列化的意图并保证原子可见。
type Sink interface {
	Emit(payload []byte) (Entry, error)
}

// Options 控制 FileSink 行为。
type Options struct {
	Suffix string
	// Fsync 为 false 时跳过文件与目录落盘，仅用于测试或临时目录。
	Fsync bool
}

// FileSink 基于本地文件系统实现持久化队列：先写隐藏临时文件，落盘后原子重命名进 pending。
// 多个进程可以写同一个根目录，条目名由随机 UUID 保证唯一。
type FileSink struct {
	layout Layout
	opts   Options
	logger *zap.Logger

	newName      func() string
	beforeRename func(tmpPath string) error
	syncPending  func(dir string) error
}

// NewFileSink 创建队列并确保分区目录存在。
func NewFileSink(root string, opts Options, logger *zap.Logger) (*FileSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.Suffix = normalizeSuffix(opts.Suffix)

	layout := Layout{Root: root}
	if err := layout.Ensure(); err != nil {
		return nil, err
	}

	return &FileSink{
		layout:  layout,
		opts:    opts,
		logger:  logger,
		newName:     uuid.NewString,
		syncPending: syncDir,
	}, nil
}

// Layout 返回队列分区。
func (s *FileSink) Layout() Layout { return s.layout }

// Suffix 返回条目后缀。
func (s *FileSink) Suffix() string { return s.opts.Suffix }

// Emit 写入一条载荷。不解析载荷内容。失败时一般不会留下可见条目，调用方可以重试，
// 重试会产生新的条目名。唯一例外是目录落盘失败：返回 ErrNotDurable 与已可见的条目。
func (s *FileSink) Emit(payload []byte) (Entry, error) {
	name := s.newName() + s.opts.Suffix
	pendingDir := s.layout.Pending()
	finalPath := filepath.Join(pendingDir, name)
	tmpPath := filepath.Join(pendingDir, "."+name+tempSuffix)

	if err := s.writeTemp(tmpPath, payload); err != nil {
		_ = os.Remove(tmpPath)
		return Entry{}, s.fail("写入临时文件", err)
	}

	if s.beforeRename != nil {
		if err := s.beforeRename(tmpPath); err != nil {
			_ = os.Remove(tmpPath)
			return Entry{}, s.fail("重命名前中断", err)
		}
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return Entry{}, s.fail("原子重命名", err)
	}

	if s.opts.Fsync {
		if err := s.syncPending(pendingDir); err != nil {
			s.logger.Error("队列条目已可见但目录落盘失败", zap.String("entry", name), zap.Error(err))
			return Entry{Name: name, Path: finalPath}, fmt.Errorf("%w: %v", ErrNotDurable, err)
		}
	}

	s.logger.Debug("队列条目已写入",
		zap.String("entry", name),
		zap.Int("bytes", len(payload)),
	)
	return Entry{Name: name, Path: finalPath}, nil
}

func (s *FileSink) writeTemp(path string, payload []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(payload); err != nil {
		_ = f.Close()
		return err
	}
	if s.opts.Fsync {
		if err := f.Sync(); err != nil {
			_ = f.Close()
			return err
		}
	}
	return f.Close()
}

func (s *FileSink) fail(stage string, err error) error {
	s.logger.Error("队列写入失败", zap.String("stage", stage), zap.Error(err))
	return fmt.Errorf("%w: %s: %v", ErrDurability, stage, err)
}

// SweepTemp 删除早于 olderThan 的残留临时文件（生产进程崩溃遗留），返回删除数量。
func (s *FileSink) SweepTemp(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(s.layout.Pending())
	if err != nil {
		return 0, fmt.Errorf("queue: 读取 pending 失败: %w", err)
	}
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, ".") || !strings.HasSuffix(name, tempSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.layout.Pending(), name)); err == nil {
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("已清理残留临时文件", zap.Int("count", removed))
	}
	return removed, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

var _ Sink = (*FileSink)(nil)
