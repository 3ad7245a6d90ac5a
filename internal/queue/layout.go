package queue

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	PendingDir = "pending"
	DoneDir    = "done"
	FailedDir  = "failed"

	// DefaultSuffix 标识载荷为 JSON。
	DefaultSuffix = ".json"

	inflightSuffix = ".inflight"
	tempSuffix     = ".tmp"
)

// Layout 为队列根目录下的三个生命周期分区。
type Layout struct {
	Root string
}

func (l Layout) Pending() string { return filepath.Join(l.Root, PendingDir) }

func (l Layout) Done() string { return filepath.Join(l.Root, DoneDir) }

func (l Layout) Failed() string { return filepath.Join(l.Root, FailedDir) }

// Ensure 创建缺失的分区目录，已存在时不做任何修改。
func (l Layout) Ensure() error {
	if strings.TrimSpace(l.Root) == "" {
		return fmt.Errorf("queue: root 不能为空")
	}
	for _, dir := range []string{l.Pending(), l.Done(), l.Failed()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("queue: 创建目录 %s 失败: %w", dir, err)
		}
	}
	return nil
}

func normalizeSuffix(suffix string) string {
	suffix = strings.TrimSpace(suffix)
	if suffix == "" {
		return DefaultSuffix
	}
	if !strings.HasPrefix(suffix, ".") {
		suffix = "." + suffix
	}
	return suffix
}

// validName 拒绝带路径或临时、认领标记的名称。
func validName(name, suffix string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	if strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return false
	}
	return strings.HasSuffix(name, suffix)
}
