package pkgtype

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/any-hub/content-hub/internal/generator"
	"github.com/any-hub/content-hub/internal/pathgen"
)

var globalRegistry = newRegistry()

type registry struct {
	mu    sync.RWMutex
	types map[string]Metadata
}

func newRegistry() *registry {
	return &registry{types: make(map[string]Metadata)}
}

// Register 将包类型元数据加入全局注册表，重复键会返回错误。
func Register(meta Metadata) error {
	return globalRegistry.register(meta)
}

// MustRegister 在注册失败时 panic，适合 init() 中调用。
func MustRegister(meta Metadata) {
	if err := Register(meta); err != nil {
		panic(err)
	}
}

// Resolve 返回指定键的元数据。
func Resolve(key string) (Metadata, bool) {
	return globalRegistry.resolve(key)
}

// List 返回按键排序的元数据列表。
func List() []Metadata {
	return globalRegistry.list()
}

// Keys 返回所有已注册包类型的键值，供校验或诊断使用。
func Keys() []string {
	items := List()
	result := make([]string, len(items))
	for i, meta := range items {
		result[i] = meta.Key
	}
	return result
}

// IsSnapshot 按仓库包类型判断路径是否为快照；未注册的包类型视为发布版本。
func IsSnapshot(packageType, path string) bool {
	meta, ok := Resolve(packageType)
	return ok && meta.Snapshot(path)
}

// IsImmutable 按仓库包类型判断远程缓存是否不可变。
func IsImmutable(packageType, path string) bool {
	meta, ok := Resolve(packageType)
	return ok && meta.Immutable(path)
}

// Install 将已注册包类型的路径计算器与生成器装配到 paths 与 gens，按键排序。
func Install(paths *pathgen.Generator, gens *generator.Registry) error {
	for _, meta := range List() {
		if meta.PathCalculator != nil && paths != nil {
			paths.Register(pathgen.ForPackageType(meta.Key, meta.PathCalculator))
		}
		if meta.Generators == nil || gens == nil {
			continue
		}
		for _, g := range meta.Generators() {
			if err := gens.Register(g, meta.Key); err != nil {
				return fmt.Errorf("install %s generators: %w", meta.Key, err)
			}
		}
	}
	return nil
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (r *registry) register(meta Metadata) error {
	key := normalizeKey(meta.Key)
	if key == "" {
		return fmt.Errorf("package type key is required")
	}
	meta.Key = key

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[key]; exists {
		return fmt.Errorf("package type %s already registered", key)
	}
	r.types[key] = meta
	return nil
}

func (r *registry) resolve(key string) (Metadata, bool) {
	if key == "" {
		return Metadata{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	meta, ok := r.types[normalizeKey(key)]
	return meta, ok
}

func (r *registry) list() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.types) == 0 {
		return nil
	}
	keys := make([]string, 0, len(r.types))
	for key := range r.types {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]Metadata, 0, len(keys))
	for _, key := range keys {
		result = append(result, r.types[key])
	}
	return result
}
