package content

import (
	"context"
	"errors"
	"path"

	"github.com/any-hub/content-hub/internal/cache"
	"github.com/any-hub/content-hub/internal/store"
	"github.com/any-hub/content-hub/internal/transfer"
)

// List 返回目录的直接子项。group 按成员顺序合并，同名项保留第一个提供者。
func (m *Manager) List(ctx context.Context, key store.StoreKey, dir string) ([]transfer.Resource, error) {
	const op = "list"
	clean, err := cleanPath(op, key, dir)
	if err != nil {
		return nil, err
	}
	s, err := m.getStore(ctx, op, key, clean)
	if err != nil {
		return nil, err
	}
	if s.Common().Disabled {
		return nil, nil
	}
	if g, ok := s.(*store.Group); ok {
		return m.listGroup(ctx, g, clean)
	}
	return m.listConcrete(ctx, s, clean)
}

func (m *Manager) listConcrete(ctx context.Context, s store.ArtifactStore, dir string) ([]transfer.Resource, error) {
	key := s.Common().Key
	existing, err := m.listPhysical(ctx, s, dir)
	if err != nil {
		return nil, err
	}
	for _, gen := range m.generators.All(key.PackageType) {
		extra, err := gen.GenerateDirectoryContent(ctx, m, s, dir, existing)
		if err != nil {
			return nil, &Error{Kind: KindGenerationFault, Op: "list", Store: key, Path: dir, Err: err}
		}
		existing = union(existing, extra)
	}
	return existing, nil
}

func (m *Manager) listGroup(ctx context.Context, g *store.Group, dir string) ([]transfer.Resource, error) {
	locs, err := m.topology.Expand(ctx, g.Key)
	if err != nil {
		return nil, wrap(KindTopology, "list", g.Key, dir, err)
	}
	result, err := m.listPhysical(ctx, g, dir)
	if err != nil {
		return nil, err
	}

	members := make([]store.StoreKey, 0, len(locs))
	for _, loc := range locs {
		if !loc.Base().AllowsPath(dir) {
			continue
		}
		members = append(members, loc.Key)
		items, err := m.listConcrete(ctx, loc.Store, dir)
		if err != nil {
			if fatal(err) {
				return nil, err
			}
			m.logMemberFailure(loc.Key, dir, err)
			continue
		}
		result = union(result, items)
	}

	for _, gen := range m.generators.All(g.Key.PackageType) {
		extra, err := gen.GenerateGroupDirectoryContent(ctx, m, g, members, dir, result)
		if err != nil {
			return nil, &Error{Kind: KindGenerationFault, Op: "list", Store: g.Key, Path: dir, Err: err}
		}
		result = union(result, extra)
	}
	return result, nil
}

// listPhysical 读取本地目录；目录不存在视为空。
func (m *Manager) listPhysical(ctx context.Context, s store.ArtifactStore, dir string) ([]transfer.Resource, error) {
	base := s.Common()
	physical, err := m.paths.PhysicalDir(base, dir)
	if err != nil {
		return nil, wrap(KindPolicyViolation, "list", base.Key, dir, err)
	}
	entries, err := m.storage.List(ctx, physical)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, nil
		}
		return nil, wrap(KindStorageFault, "list", base.Key, dir, err)
	}
	result := make([]transfer.Resource, 0, len(entries))
	for _, e := range entries {
		// hashed 布局的桶目录下只有文件，子目录属于其他桶。
		if e.IsDir && base.PathStyle == store.PathStyleHashed {
			continue
		}
		result = append(result, transfer.Resource{
			Store:   base.Key,
			Path:    path.Join(dir, e.Name),
			Name:    e.Name,
			IsDir:   e.IsDir,
			Size:    e.SizeBytes,
			ModTime: e.ModTime,
		})
	}
	return result, nil
}

// union 追加 extra 中名称尚未出现的项，保持原有顺序。
func union(base, extra []transfer.Resource) []transfer.Resource {
	if len(extra) == 0 {
		return base
	}
	seen := make(map[string]struct{}, len(base)+len(extra))
	for _, r := range base {
		seen[r.Name] = struct{}{}
	}
	for _, r := range extra {
		if _, ok := seen[r.Name]; ok {
			continue
		}
		seen[r.Name] = struct{}{}
		base = append(base, r)
	}
	return base
}
