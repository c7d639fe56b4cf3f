// Package content 实现内容解析管线：按序查询缓存与上游、回退到生成器，
// 并在写入、删除时驱动摘要与失效机制。
//
// 单个 group 请求的解析顺序：
//  1. group 自身已生成且仍为 fresh 的合并物；
//  2. 声明可处理该路径的 group 级生成器（合并类内容）；
//  3. 按成员顺序查询缓存或上游；
//  4. 按成员顺序尝试单仓库生成器。
//
// 所有未命中都以 (nil, nil) 表示，只有单目标查询 Retrieve 返回 ErrNotFound。
package content

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/any-hub/content-hub/internal/cache"
	"github.com/any-hub/content-hub/internal/digest"
	"github.com/any-hub/content-hub/internal/event"
	"github.com/any-hub/content-hub/internal/generator"
	"github.com/any-hub/content-hub/internal/invalidate"
	"github.com/any-hub/content-hub/internal/pathgen"
	"github.com/any-hub/content-hub/internal/pkgtype"
	"github.com/any-hub/content-hub/internal/store"
	"github.com/any-hub/content-hub/internal/topology"
	"github.com/any-hub/content-hub/internal/transfer"
	"github.com/any-hub/content-hub/internal/transport"
)

// Operation 描述 GetTransfer 的目标操作。
type Operation string

const (
	OpDownload Operation = "download"
	OpUpload   Operation = "upload"
	OpDelete   Operation = "delete"
	OpList     Operation = "list"
)

// maxGenerationAttempts 是依赖在生成期间持续变化时的重试上限。
const maxGenerationAttempts = 3

// Options 汇集管线依赖；Fetcher、Bus、Logger 以外均为必填。
type Options struct {
	Data        store.DataManager
	Topology    *topology.Resolver
	Storage     cache.Store
	Paths       *pathgen.Generator
	Fetcher     transport.Fetcher
	Digester    *digest.Digester
	Generators  *generator.Registry
	Coordinator *invalidate.Coordinator
	Bus         *event.Bus
	Logger      *logrus.Logger

	// DigestAlgorithms 是写入钩子被动捕获的算法。
	DigestAlgorithms []digest.Algorithm
	// WaitTimeout 限制单飞等待者的等待时间，0 表示不限。
	WaitTimeout time.Duration
	// IsSnapshot 与 IsImmutable 默认取自 pkgtype 注册表。
	IsSnapshot  func(packageType, path string) bool
	IsImmutable func(packageType, path string) bool
	// Now 便于测试注入时间。
	Now func() time.Time
}

// Manager 是内容解析管线，可并发使用。
type Manager struct {
	data        store.DataManager
	topology    *topology.Resolver
	storage     cache.Store
	paths       *pathgen.Generator
	fetcher     transport.Fetcher
	digester    *digest.Digester
	generators  *generator.Registry
	coordinator *invalidate.Coordinator
	bus         *event.Bus
	logger      *logrus.Logger

	algorithms  []digest.Algorithm
	waitTimeout time.Duration
	isSnapshot  func(packageType, path string) bool
	isImmutable func(packageType, path string) bool
	now         func() time.Time

	flights singleflight.Group
}

// NewManager 校验依赖并构建管线。
func NewManager(opts Options) (*Manager, error) {
	switch {
	case opts.Data == nil:
		return nil, errors.New("content: data manager required")
	case opts.Storage == nil:
		return nil, errors.New("content: storage required")
	case opts.Digester == nil:
		return nil, errors.New("content: digester required")
	case opts.Coordinator == nil:
		return nil, errors.New("content: invalidation coordinator required")
	}
	m := &Manager{
		data:        opts.Data,
		topology:    opts.Topology,
		storage:     opts.Storage,
		paths:       opts.Paths,
		fetcher:     opts.Fetcher,
		digester:    opts.Digester,
		generators:  opts.Generators,
		coordinator: opts.Coordinator,
		bus:         opts.Bus,
		logger:      opts.Logger,
		algorithms:  opts.DigestAlgorithms,
		waitTimeout: opts.WaitTimeout,
		isSnapshot:  opts.IsSnapshot,
		isImmutable: opts.IsImmutable,
		now:         opts.Now,
	}
	if m.topology == nil {
		m.topology = topology.NewResolver(opts.Data)
	}
	if m.paths == nil {
		m.paths = pathgen.New()
	}
	if m.generators == nil {
		m.generators = generator.NewRegistry()
	}
	if m.logger == nil {
		m.logger = logrus.StandardLogger()
	}
	if len(m.algorithms) == 0 {
		m.algorithms = digest.DefaultAlgorithms
	}
	if m.isSnapshot == nil {
		m.isSnapshot = pkgtype.IsSnapshot
	}
	if m.isImmutable == nil {
		m.isImmutable = pkgtype.IsImmutable
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// Locator 返回 (仓库键, 逻辑路径) → 物理路径的解析函数，供摘要器与失效协调器共享。
func Locator(data store.DataManager, paths *pathgen.Generator) func(context.Context, store.StoreKey, string) (string, error) {
	return func(ctx context.Context, key store.StoreKey, logical string) (string, error) {
		s, err := data.GetStore(ctx, key)
		if err != nil {
			return "", err
		}
		return paths.PhysicalPath(s.Common(), logical)
	}
}

func (m *Manager) locate(s store.ArtifactStore, logical string) (string, error) {
	return m.paths.PhysicalPath(s.Common(), logical)
}

func (m *Manager) newTransfer(key store.StoreKey, logical, physical string, generated bool) *transfer.Transfer {
	t := transfer.New(m.storage, key, logical, physical)
	t.Generated = generated
	return t
}

func (m *Manager) publish(ctx context.Context, ev event.Event) {
	if m.bus != nil {
		m.bus.Publish(ctx, ev)
	}
}

func (m *Manager) getStore(ctx context.Context, op string, key store.StoreKey, path string) (store.ArtifactStore, error) {
	s, err := m.data.GetStore(ctx, key)
	if err != nil {
		return nil, wrap(KindNotFound, op, key, path, err)
	}
	return s, nil
}

func cleanPath(op string, key store.StoreKey, raw string) (string, error) {
	clean, err := pathgen.CleanLogical(raw)
	if err != nil {
		return "", wrap(KindPolicyViolation, op, key, raw, err)
	}
	return clean, nil
}

// GetTransfer 解析某个操作的候选位置，不写入内容也不触发任何事件。
func (m *Manager) GetTransfer(ctx context.Context, key store.StoreKey, path string, op Operation) (*transfer.Transfer, error) {
	const opName = "get_transfer"
	clean, err := cleanPath(opName, key, path)
	if err != nil {
		return nil, err
	}
	s, err := m.getStore(ctx, opName, key, clean)
	if err != nil {
		return nil, err
	}

	switch op {
	case OpUpload:
		target, err := m.writeTarget(ctx, s, clean)
		if err != nil {
			return nil, err
		}
		physical, err := m.locate(target, clean)
		if err != nil {
			return nil, wrap(KindPolicyViolation, opName, key, clean, err)
		}
		return m.newTransfer(target.Common().Key, clean, physical, false), nil
	case OpList:
		physical, err := m.paths.PhysicalDir(s.Common(), clean)
		if err != nil {
			return nil, wrap(KindPolicyViolation, opName, key, clean, err)
		}
		return m.newTransfer(key, clean, physical, false), nil
	case OpDownload:
		if g, ok := s.(*store.Group); ok {
			return m.downloadCandidate(ctx, g, clean)
		}
	}

	physical, err := m.locate(s, clean)
	if err != nil {
		return nil, wrap(KindPolicyViolation, opName, key, clean, err)
	}
	return m.newTransfer(key, clean, physical, false), nil
}

// downloadCandidate 返回 group 中第一个已存在的位置，没有时返回 group 自身位置。
func (m *Manager) downloadCandidate(ctx context.Context, g *store.Group, path string) (*transfer.Transfer, error) {
	own, err := m.locate(g, path)
	if err != nil {
		return nil, wrap(KindPolicyViolation, "get_transfer", g.Key, path, err)
	}
	ref := transfer.Ref{Store: g.Key, Path: path}
	if state, ok := m.coordinator.State(ref); ok && state == invalidate.Fresh {
		if t := m.newTransfer(g.Key, path, own, true); t.Exists(ctx) {
			return t, nil
		}
	}

	locs, err := m.topology.Expand(ctx, g.Key)
	if err != nil {
		return nil, wrap(KindTopology, "get_transfer", g.Key, path, err)
	}
	for _, loc := range locs {
		if !loc.Base().AllowsPath(path) {
			continue
		}
		physical, err := m.locate(loc.Store, path)
		if err != nil {
			continue
		}
		if t := m.newTransfer(loc.Key, path, physical, false); t.Exists(ctx) {
			return t, nil
		}
	}
	return m.newTransfer(g.Key, path, own, false), nil
}

// Digest 返回内容摘要；group 以实际提供内容的成员为准。
func (m *Manager) Digest(ctx context.Context, key store.StoreKey, path string, algs ...digest.Algorithm) (*digest.Record, error) {
	t, err := m.Retrieve(ctx, key, path)
	if err != nil {
		return nil, err
	}
	rec, err := m.digester.Digest(ctx, t.Origin, t.Path, algs...)
	if err != nil {
		if errors.Is(err, digest.ErrNotFound) {
			return nil, wrap(KindNotFound, "digest", key, path, err)
		}
		return nil, wrap(KindStorageFault, "digest", key, path, err)
	}
	return rec, nil
}

func (m *Manager) isFreshRemote(loc topology.Location, path string, entry *cache.Entry) bool {
	if loc.Remote == nil || loc.Remote.CacheTTL <= 0 {
		return true
	}
	if m.isImmutable(loc.Key.PackageType, path) {
		return true
	}
	return m.now().Sub(entry.ModTime) < loc.Remote.CacheTTL
}
