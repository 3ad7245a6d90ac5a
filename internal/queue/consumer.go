package queue

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrAlreadyClaimed 表示条目已被其他消费者认领或已不在 pending。
var ErrAlreadyClaimed = errors.New("queue: 条目已被认领")

// Claim 为一次认领，持有者独占该条目直至 Complete 或 Fail。
type Claim struct {
	Name string
	path string
}

// Stats 为各分区条目数量。
type Stats struct {
	Pending  int `json:"pending"`
	InFlight int `json:"inflight"`
	Done     int `json:"done"`
	Failed   int `json:"failed"`
}

// Consumer 为参考消费端实现：通过在 pending 内原子重命名为 .inflight 认领条目，
// 多个消费者竞争同一条目时只有一个成功。
type Consumer struct {
	layout Layout
	suffix string
	logger *zap.Logger
}

// NewConsumer 创建消费端。
func NewConsumer(root, suffix string, logger *zap.Logger) (*Consumer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	layout := Layout{Root: root}
	if err := layout.Ensure(); err != nil {
		return nil, err
	}
	return &Consumer{
		layout: layout,
		suffix: normalizeSuffix(suffix),
		logger: logger,
	}, nil
}

// Layout 返回队列分区。
func (c *Consumer) Layout() Layout { return c.layout }

// Pending 列出可认领的条目名，按修改时间再按名称排序。临时文件与已认领条目不会出现。
func (c *Consumer) Pending() ([]string, error) {
	entries, err := os.ReadDir(c.layout.Pending())
	if err != nil {
		return nil, fmt.Errorf("queue: 读取 pending 失败: %w", err)
	}

	type item struct {
		name string
		mod  time.Time
	}
	items := make([]item, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !validName(e.Name(), c.suffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// 期间被其他消费者认领。
			continue
		}
		items = append(items, item{name: e.Name(), mod: info.ModTime()})
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].mod.Equal(items[j].mod) {
			return items[i].mod.Before(items[j].mod)
		}
		return items[i].name < items[j].name
	})

	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.name
	}
	return names, nil
}

// Claim 认领条目。
func (c *Consumer) Claim(name string) (Claim, error) {
	if !validName(name, c.suffix) {
		return Claim{}, fmt.Errorf("queue: 条目名非法 %q", name)
	}
	src := filepath.Join(c.layout.Pending(), name)
	dst := src + inflightSuffix

	// 目标已存在说明已被认领，rename 会覆盖，先检查。
	if _, err := os.Lstat(dst); err == nil {
		return Claim{}, ErrAlreadyClaimed
	}
	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Claim{}, ErrAlreadyClaimed
		}
		return Claim{}, fmt.Errorf("queue: 认领 %s 失败: %w", name, err)
	}
	return Claim{Name: name, path: dst}, nil
}

// Read 读取已认领条目的载荷。
func (c *Consumer) Read(cl Claim) ([]byte, error) {
	data, err := os.ReadFile(cl.path)
	if err != nil {
		return nil, fmt.Errorf("queue: 读取 %s 失败: %w", cl.Name, err)
	}
	return data, nil
}

// Complete 将条目移入 done。
func (c *Consumer) Complete(cl Claim) error {
	return c.finish(cl, c.layout.Done())
}

// Fail 将条目移入 failed。
func (c *Consumer) Fail(cl Claim, reason error) error {
	c.logger.Warn("队列条目处理失败", zap.String("entry", cl.Name), zap.Error(reason))
	return c.finish(cl, c.layout.Failed())
}

func (c *Consumer) finish(cl Claim, dir string) error {
	if cl.path == "" {
		return fmt.Errorf("queue: 无效认领 %q", cl.Name)
	}
	dst := filepath.Join(dir, cl.Name)
	if err := os.Rename(cl.path, dst); err != nil {
		return fmt.Errorf("queue: 移动 %s 到 %s 失败: %w", cl.Name, filepath.Base(dir), err)
	}
	if err := syncDir(dir); err != nil {
		c.logger.Warn("目录落盘失败", zap.String("dir", dir), zap.Error(err))
	}
	return nil
}

// InFlight 列出已认领但未完成的条目，通常是消费端崩溃后的遗留。
func (c *Consumer) InFlight() ([]string, error) {
	entries, err := os.ReadDir(c.layout.Pending())
	if err != nil {
		return nil, fmt.Errorf("queue: 读取 pending 失败: %w", err)
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, inflightSuffix) {
			names = append(names, strings.TrimSuffix(name, inflightSuffix))
		}
	}
	sort.Strings(names)
	return names, nil
}

// Resume 重新获得一个遗留的认领，用于消费端重启后继续处理。
func (c *Consumer) Resume(name string) (Claim, error) {
	if !validName(name, c.suffix) {
		return Claim{}, fmt.Errorf("queue: 条目名非法 %q", name)
	}
	path := filepath.Join(c.layout.Pending(), name+inflightSuffix)
	if _, err := os.Lstat(path); err != nil {
		return Claim{}, fmt.Errorf("queue: 认领 %s 不存在: %w", name, err)
	}
	return Claim{Name: name, path: path}, nil
}

// Locate 查找条目所在分区并返回路径。
func (c *Consumer) Locate(name string) (string, string, error) {
	if !validName(name, c.suffix) {
		return "", "", fmt.Errorf("queue: 条目名非法 %q", name)
	}
	candidates := []struct {
		state string
		path  string
	}{
		{PendingDir, filepath.Join(c.layout.Pending(), name)},
		{"inflight", filepath.Join(c.layout.Pending(), name+inflightSuffix)},
		{DoneDir, filepath.Join(c.layout.Done(), name)},
		{FailedDir, filepath.Join(c.layout.Failed(), name)},
	}
	for _, cand := range candidates {
		if _, err := os.Stat(cand.path); err == nil {
			return cand.state, cand.path, nil
		}
	}
	return "", "", fmt.Errorf("queue: 条目 %s 不存在: %w", name, os.ErrNotExist)
}

// Counts 统计各分区条目数量。
func (c *Consumer) Counts() (Stats, error) {
	var st Stats
	pending, err := os.ReadDir(c.layout.Pending())
	if err != nil {
		return st, fmt.Errorf("queue: 读取 pending 失败: %w", err)
	}
	for _, e := range pending {
		switch {
		case strings.HasSuffix(e.Name(), inflightSuffix):
			st.InFlight++
		case validName(e.Name(), c.suffix):
			st.Pending++
		}
	}
	if st.Done, err = countEntries(c.layout.Done(), c.suffix); err != nil {
		return st, err
	}
	if st.Failed, err = countEntries(c.layout.Failed(), c.suffix); err != nil {
		return st, err
	}
	return st, nil
}

func countEntries(dir, suffix string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("queue: 读取 %s 失败: %w", dir, err)
	}
	n := 0
	for _, e := range entries {
		if validName(e.Name(), suffix) {
			n++
		}
	}
	return n, nil
}
