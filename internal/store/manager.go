package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrStoreNotFound 表示拓扑中不存在该仓库。
var ErrStoreNotFound = errors.New("store not found")

// ErrNotGroup 表示对非 group 仓库执行了成员操作。
var ErrNotGroup = errors.New("store is not a group")

// DataManager 是拓扑查询契约，所有返回值均为快照副本。
type DataManager interface {
	// GetStore 返回仓库定义；不存在时返回 ErrStoreNotFound。
	GetStore(ctx context.Context, key StoreKey) (ArtifactStore, error)
	// GetConstituents 返回 group 当前的有序成员列表快照。
	GetConstituents(ctx context.Context, group StoreKey) ([]StoreKey, error)
	// GetGroupsContaining 返回（传递地）包含该仓库的所有 group，按键排序。
	GetGroupsContaining(ctx context.Context, key StoreKey) ([]*Group, error)
	// ListStores 返回全部仓库，按键排序。
	ListStores(ctx context.Context) ([]ArtifactStore, error)
}

// TopologyChange 描述一次成员变更；新建或删除 group 时 Added/Removed 为其全部成员。
type TopologyChange struct {
	Group   StoreKey
	Added   []StoreKey
	Removed []StoreKey
}

// ChangeNotifier 接收拓扑变更通知，通常由 event.Bus 实现。
type ChangeNotifier interface {
	TopologyChanged(ctx context.Context, change TopologyChange)
}

// MemoryDataManager 是基于内存的 DataManager，并维护 成员 → 直接父 group 反向索引。
type MemoryDataManager struct {
	mu       sync.RWMutex
	stores   map[StoreKey]ArtifactStore
	parents  map[StoreKey]map[StoreKey]struct{}
	notifier ChangeNotifier
}

// NewMemoryDataManager 构建空拓扑；notifier 可为 nil。
func NewMemoryDataManager(notifier ChangeNotifier) *MemoryDataManager {
	return &MemoryDataManager{
		stores:   make(map[StoreKey]ArtifactStore),
		parents:  make(map[StoreKey]map[StoreKey]struct{}),
		notifier: notifier,
	}
}

// SetNotifier 在装配阶段注入通知器。
func (m *MemoryDataManager) SetNotifier(notifier ChangeNotifier) {
	m.mu.Lock()
	m.notifier = notifier
	m.mu.Unlock()
}

func (m *MemoryDataManager) GetStore(_ context.Context, key StoreKey) (ArtifactStore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.stores[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStoreNotFound, key)
	}
	return Clone(s), nil
}

func (m *MemoryDataManager) GetConstituents(_ context.Context, group StoreKey) ([]StoreKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.stores[group]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStoreNotFound, group)
	}
	g, ok := s.(*Group)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotGroup, group)
	}
	return append([]StoreKey(nil), g.Constituents...), nil
}

func (m *MemoryDataManager) GetGroupsContaining(_ context.Context, key StoreKey) ([]*Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := map[StoreKey]struct{}{key: {}}
	queue := []StoreKey{key}
	var result []*Group
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for parent := range m.parents[current] {
			if _, ok := seen[parent]; ok {
				continue
			}
			seen[parent] = struct{}{}
			if g, ok := m.stores[parent].(*Group); ok {
				result = append(result, Clone(g).(*Group))
				queue = append(queue, parent)
			}
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Key.Compare(result[j].Key) < 0
	})
	return result, nil
}

func (m *MemoryDataManager) ListStores(_ context.Context) ([]ArtifactStore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ArtifactStore, 0, len(m.stores))
	for _, s := range m.stores {
		result = append(result, Clone(s))
	}
	sort.Slice(result, func(i, j int) bool {
		return KeyOf(result[i]).Compare(KeyOf(result[j])) < 0
	})
	return result, nil
}

// PutStore 新增或替换仓库定义；group 的成员差异会以 TopologyChange 广播。
func (m *MemoryDataManager) PutStore(ctx context.Context, s ArtifactStore) error {
	key := KeyOf(s)
	if key.IsZero() || !key.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key.String())
	}

	m.mu.Lock()
	prev := m.stores[key]
	m.stores[key] = Clone(s)
	// 成员顺序变化同样影响合并结果，因此 group 每次写入都会广播。
	var changes []TopologyChange
	if _, isGroup := s.(*Group); isGroup {
		added, removed := diffMembers(groupMembers(prev), groupMembers(s))
		changes = append(changes, TopologyChange{Group: key, Added: added, Removed: removed})
	}
	// 禁用、路径风格或掩码变化会改变父 group 的展开结果。
	if prev != nil && visibilityChanged(prev.Common(), s.Common()) {
		for parent := range m.parents[key] {
			change := TopologyChange{Group: parent}
			switch {
			case s.Common().Disabled && !prev.Common().Disabled:
				change.Removed = []StoreKey{key}
			case !s.Common().Disabled && prev.Common().Disabled:
				change.Added = []StoreKey{key}
			default:
				change.Removed = []StoreKey{key}
				change.Added = []StoreKey{key}
			}
			changes = append(changes, change)
		}
	}
	m.rebuildParentsLocked()
	notifier := m.notifier
	m.mu.Unlock()

	if notifier != nil {
		sort.Slice(changes, func(i, j int) bool {
			return changes[i].Group.Compare(changes[j].Group) < 0
		})
		for _, change := range changes {
			notifier.TopologyChanged(ctx, change)
		}
	}
	return nil
}

func visibilityChanged(prev, next StoreBase) bool {
	if prev.Disabled != next.Disabled || prev.PathStyle != next.PathStyle {
		return true
	}
	if len(prev.PathMaskPatterns) != len(next.PathMaskPatterns) {
		return true
	}
	for i := range prev.PathMaskPatterns {
		if prev.PathMaskPatterns[i] != next.PathMaskPatterns[i] {
			return true
		}
	}
	return false
}

// DeleteStore 删除仓库定义；仍引用它的 group 将在下次展开时报告悬空引用。
func (m *MemoryDataManager) DeleteStore(ctx context.Context, key StoreKey) error {
	m.mu.Lock()
	prev, ok := m.stores[key]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStoreNotFound, key)
	}
	delete(m.stores, key)
	var changes []TopologyChange
	if g, isGroup := prev.(*Group); isGroup {
		changes = append(changes, TopologyChange{Group: key, Removed: append([]StoreKey(nil), g.Constituents...)})
	}
	for parent := range m.parents[key] {
		changes = append(changes, TopologyChange{Group: parent, Removed: []StoreKey{key}})
	}
	m.rebuildParentsLocked()
	notifier := m.notifier
	m.mu.Unlock()

	if notifier != nil {
		for _, change := range changes {
			notifier.TopologyChanged(ctx, change)
		}
	}
	return nil
}

// AddConstituent 在 group 末尾追加成员（已存在则不变）。
func (m *MemoryDataManager) AddConstituent(ctx context.Context, group, member StoreKey) error {
	return m.editGroup(ctx, group, func(g *Group) ([]StoreKey, []StoreKey) {
		for _, existing := range g.Constituents {
			if existing == member {
				return nil, nil
			}
		}
		g.Constituents = append(g.Constituents, member)
		return []StoreKey{member}, nil
	})
}

// RemoveConstituent 从 group 中移除成员。
func (m *MemoryDataManager) RemoveConstituent(ctx context.Context, group, member StoreKey) error {
	return m.editGroup(ctx, group, func(g *Group) ([]StoreKey, []StoreKey) {
		kept := g.Constituents[:0]
		removed := false
		for _, existing := range g.Constituents {
			if existing == member {
				removed = true
				continue
			}
			kept = append(kept, existing)
		}
		g.Constituents = kept
		if !removed {
			return nil, nil
		}
		return nil, []StoreKey{member}
	})
}

func (m *MemoryDataManager) editGroup(ctx context.Context, group StoreKey, edit func(*Group) ([]StoreKey, []StoreKey)) error {
	m.mu.Lock()
	s, ok := m.stores[group]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStoreNotFound, group)
	}
	current, ok := s.(*Group)
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotGroup, group)
	}
	// 写时复制：进行中的展开持有旧快照，不会看到半更新的成员列表。
	next := Clone(current).(*Group)
	added, removed := edit(next)
	if len(added) == 0 && len(removed) == 0 {
		m.mu.Unlock()
		return nil
	}
	m.stores[group] = next
	m.rebuildParentsLocked()
	notifier := m.notifier
	m.mu.Unlock()

	if notifier != nil {
		notifier.TopologyChanged(ctx, TopologyChange{Group: group, Added: added, Removed: removed})
	}
	return nil
}

func (m *MemoryDataManager) rebuildParentsLocked() {
	parents := make(map[StoreKey]map[StoreKey]struct{}, len(m.parents))
	for key, s := range m.stores {
		g, ok := s.(*Group)
		if !ok {
			continue
		}
		for _, member := range g.Constituents {
			set := parents[member]
			if set == nil {
				set = make(map[StoreKey]struct{})
				parents[member] = set
			}
			set[key] = struct{}{}
		}
	}
	m.parents = parents
}

func groupMembers(s ArtifactStore) []StoreKey {
	if g, ok := s.(*Group); ok {
		return g.Constituents
	}
	return nil
}

func diffMembers(prev, next []StoreKey) (added, removed []StoreKey) {
	prevSet := make(map[StoreKey]struct{}, len(prev))
	for _, k := range prev {
		prevSet[k] = struct{}{}
	}
	nextSet := make(map[StoreKey]struct{}, len(next))
	for _, k := range next {
		nextSet[k] = struct{}{}
		if _, ok := prevSet[k]; !ok {
			added = append(added, k)
		}
	}
	for _, k := range prev {
		if _, ok := nextSet[k]; !ok {
			removed = append(removed, k)
		}
	}
	return added, removed
}
