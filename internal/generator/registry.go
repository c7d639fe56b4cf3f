package generator

import (
	"fmt"
	"strings"
	"sync"
)

type entry struct {
	gen          Generator
	packageTypes map[string]struct{}
}

func (e entry) appliesTo(packageType string) bool {
	if len(e.packageTypes) == 0 {
		return true
	}
	_, ok := e.packageTypes[packageType]
	return ok
}

// Registry 按注册顺序保存生成器，询问顺序即注册顺序。
type Registry struct {
	mu      sync.RWMutex
	entries []entry
}

// NewRegistry 创建空注册表。
func NewRegistry() *Registry {
	return &Registry{}
}

// Register 注册生成器；packageTypes 为空时对所有包类型生效。重名返回错误。
func (r *Registry) Register(g Generator, packageTypes ...string) error {
	if g == nil {
		return fmt.Errorf("generator is required")
	}
	name := strings.TrimSpace(g.Name())
	if name == "" {
		return fmt.Errorf("generator name is required")
	}

	var scope map[string]struct{}
	if len(packageTypes) > 0 {
		scope = make(map[string]struct{}, len(packageTypes))
		for _, pt := range packageTypes {
			scope[strings.ToLower(strings.TrimSpace(pt))] = struct{}{}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.gen.Name() == name {
			return fmt.Errorf("generator %s already registered", name)
		}
	}
	r.entries = append(r.entries, entry{gen: g, packageTypes: scope})
	return nil
}

// MustRegister 在注册失败时 panic，适合装配阶段调用。
func (r *Registry) MustRegister(g Generator, packageTypes ...string) {
	if err := r.Register(g, packageTypes...); err != nil {
		panic(err)
	}
}

// For 返回适用于该包类型且声明可处理该路径的生成器，保持注册顺序。
func (r *Registry) For(packageType, path string) []Generator {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Generator
	for _, e := range r.entries {
		if e.appliesTo(packageType) && e.gen.CanProcess(path) {
			result = append(result, e.gen)
		}
	}
	return result
}

// Names 返回全部生成器名称，供诊断使用。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, len(r.entries))
	for i, e := range r.entries {
		result[i] = e.gen.Name()
	}
	return result
}

// All 返回适用于该包类型的全部生成器，不检查 CanProcess，供写入/删除回调使用。
func (r *Registry) All(packageType string) []Generator {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Generator
	for _, e := range r.entries {
		if e.appliesTo(packageType) {
			result = append(result, e.gen)
		}
	}
	return result
}
