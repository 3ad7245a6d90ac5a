package hypothesis

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Factory 根据参数构造策略实例。
type Factory func(params map[string]interface{}) (Strategy, error)

// Registry 维护策略名称到工厂的映射，构造出的实例统一包装诊断钩子一次。
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	logger    *zap.Logger
}

// NewRegistry 创建空注册表。
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logger,
	}
}

// Register 注册工厂，重复注册返回错误。
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" || factory == nil {
		return fmt.Errorf("hypothesis: 注册参数非法 name=%q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("hypothesis: 策略 %s 已注册", name)
	}
	r.factories[name] = factory
	return nil
}

// Names 返回已注册策略名称（有序）。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build 构造策略并包装诊断钩子。
func (r *Registry) Build(name string, params map[string]interface{}, explain bool) (Strategy, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("hypothesis: 未知策略 %s", name)
	}

	strategy, err := factory(params)
	if err != nil {
		return nil, fmt.Errorf("hypothesis: 构造策略 %s 失败: %w", name, err)
	}
	return WithDiagnostics(strategy, r.logger, explain), nil
}
