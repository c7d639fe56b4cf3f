package content

import (
	"context"
	"errors"

	"github.com/any-hub/content-hub/internal/cache"
	"github.com/any-hub/content-hub/internal/event"
	"github.com/any-hub/content-hub/internal/generator"
	"github.com/any-hub/content-hub/internal/invalidate"
	"github.com/any-hub/content-hub/internal/logging"
	"github.com/any-hub/content-hub/internal/store"
	"github.com/any-hub/content-hub/internal/topology"
	"github.com/any-hub/content-hub/internal/transfer"
	"github.com/any-hub/content-hub/internal/transport"
)

type mode int

const (
	modeAll mode = iota
	modeDirect
	modeGenerate
)

// Retrieve 解析单个仓库；未命中返回 Kind 为 NotFound 的错误。
func (m *Manager) Retrieve(ctx context.Context, key store.StoreKey, path string) (*transfer.Transfer, error) {
	t, err := m.RetrieveFirst(ctx, []store.StoreKey{key}, path)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, &Error{Kind: KindNotFound, Op: "retrieve", Store: key, Path: path, Err: ErrNotFound}
	}
	return t, nil
}

// RetrieveFirst 按给定顺序解析，返回第一个命中；都未命中时返回 (nil, nil)。
func (m *Manager) RetrieveFirst(ctx context.Context, keys []store.StoreKey, path string) (*transfer.Transfer, error) {
	const op = "retrieve"
	clean, err := cleanPath(op, store.StoreKey{}, path)
	if err != nil {
		return nil, err
	}

	var failures []error
	attempted := 0
	for _, key := range keys {
		s, err := m.getStore(ctx, op, key, clean)
		if err != nil {
			return nil, err
		}
		t, tried, err := m.retrieveStore(ctx, s, clean)
		if !tried {
			continue
		}
		attempted++
		if err != nil {
			if fatal(err) {
				return nil, err
			}
			failures = append(failures, err)
			m.logMemberFailure(key, clean, err)
			continue
		}
		if t != nil {
			return t, nil
		}
	}
	if attempted > 0 && len(failures) == attempted {
		return nil, aggregate(op, clean, failures)
	}
	return nil, nil
}

// RetrieveAll 展开全部仓库（group 展开为成员），按序收集每个命中的仓库。
func (m *Manager) RetrieveAll(ctx context.Context, keys []store.StoreKey, path string) ([]*transfer.Transfer, error) {
	const op = "retrieve_all"
	clean, err := cleanPath(op, store.StoreKey{}, path)
	if err != nil {
		return nil, err
	}
	locs, err := m.topology.ExpandAll(ctx, keys)
	if err != nil {
		return nil, wrap(KindTopology, op, firstKey(keys), clean, err)
	}

	var (
		result    []*transfer.Transfer
		failures  []error
		attempted int
	)
	for _, loc := range locs {
		t, tried, err := m.retrieveConcrete(ctx, loc, clean, modeAll)
		if !tried {
			continue
		}
		attempted++
		if err != nil {
			if fatal(err) {
				return nil, err
			}
			failures = append(failures, err)
			m.logMemberFailure(loc.Key, clean, err)
			continue
		}
		if t != nil {
			result = append(result, t)
		}
	}
	if len(result) == 0 && attempted > 0 && len(failures) == attempted {
		return nil, aggregate(op, clean, failures)
	}
	return result, nil
}

func (m *Manager) retrieveStore(ctx context.Context, s store.ArtifactStore, path string) (*transfer.Transfer, bool, error) {
	base := s.Common()
	if base.Disabled || !base.AllowsPath(path) {
		return nil, false, nil
	}
	if g, ok := s.(*store.Group); ok {
		t, err := m.retrieveGroup(ctx, g, path)
		return t, true, err
	}
	loc, err := m.topology.Locate(s)
	if err != nil {
		return nil, true, wrap(KindTopology, "retrieve", base.Key, path, err)
	}
	return m.retrieveConcrete(ctx, loc, path, modeAll)
}

func (m *Manager) retrieveGroup(ctx context.Context, g *store.Group, path string) (*transfer.Transfer, error) {
	const op = "retrieve"
	locs, err := m.topology.Expand(ctx, g.Key)
	if err != nil {
		return nil, wrap(KindTopology, op, g.Key, path, err)
	}
	own, err := m.locate(g, path)
	if err != nil {
		return nil, wrap(KindPolicyViolation, op, g.Key, path, err)
	}
	if t := m.freshGenerated(ctx, g.Key, path, own); t != nil {
		return t, nil
	}

	if gens := m.generators.For(g.Key.PackageType, path); len(gens) > 0 {
		members := make([]store.StoreKey, 0, len(locs))
		for _, loc := range locs {
			if loc.Base().AllowsPath(path) {
				members = append(members, loc.Key)
			}
		}
		t, err := m.flight(ctx, flightKey(g.Key, path, "group"), func(fctx context.Context) (*transfer.Transfer, error) {
			if t := m.freshGenerated(fctx, g.Key, path, own); t != nil {
				return t, nil
			}
			ref := transfer.Ref{Store: g.Key, Path: path}
			return m.generate(fctx, ref, own, gens, func(gctx context.Context, r generator.Resolver, gen generator.Generator) (*generator.Generated, error) {
				return gen.GenerateGroupFileContent(gctx, r, g, members, path)
			})
		})
		switch {
		case errors.Is(err, ErrWaitTimeout):
			m.logMemberFailure(g.Key, path, err)
		case err != nil:
			return nil, wrap(KindGenerationFault, op, g.Key, path, err)
		case t != nil:
			return t, nil
		}
	}

	var failures []error
	attempted := 0
	for _, phase := range []mode{modeDirect, modeGenerate} {
		for _, loc := range locs {
			t, tried, err := m.retrieveConcrete(ctx, loc, path, phase)
			if !tried {
				continue
			}
			if phase == modeDirect {
				attempted++
			}
			if err != nil {
				if fatal(err) {
					return nil, err
				}
				if phase == modeDirect {
					failures = append(failures, err)
				}
				m.logMemberFailure(loc.Key, path, err)
				continue
			}
			if t != nil {
				return t, nil
			}
		}
	}
	if attempted > 0 && len(failures) == attempted {
		return nil, aggregate(op, path, failures)
	}
	return nil, nil
}

// retrieveConcrete 解析单个具体仓库；tried 为 false 表示仓库被禁用或路径掩码排除。
func (m *Manager) retrieveConcrete(ctx context.Context, loc topology.Location, path string, phase mode) (*transfer.Transfer, bool, error) {
	base := loc.Base()
	if base.Disabled || !base.AllowsPath(path) {
		return nil, false, nil
	}
	physical, err := m.locate(loc.Store, path)
	if err != nil {
		return nil, true, wrap(KindPolicyViolation, "retrieve", loc.Key, path, err)
	}

	var t *transfer.Transfer
	if phase != modeGenerate {
		t, err = m.direct(ctx, loc, path, physical)
		if err != nil || t != nil || phase == modeDirect {
			return t, true, err
		}
	}
	t, err = m.generateConcrete(ctx, loc, path, physical)
	return t, true, err
}

// direct 查询本地缓存，remote 仓库缓存缺失或过期时回源。
func (m *Manager) direct(ctx context.Context, loc topology.Location, path, physical string) (*transfer.Transfer, error) {
	entry, err := m.cachedEntry(ctx, loc.Key, path, physical)
	if err != nil {
		return nil, err
	}
	if entry != nil && m.isFreshRemote(loc, path, entry) {
		return m.newTransfer(loc.Key, path, physical, false), nil
	}
	if loc.Remote == nil || m.fetcher == nil {
		return nil, nil
	}

	t, err := m.flight(ctx, flightKey(loc.Key, path, "fetch"), func(fctx context.Context) (*transfer.Transfer, error) {
		entry, err := m.cachedEntry(fctx, loc.Key, path, physical)
		if err != nil {
			return nil, err
		}
		if entry != nil && m.isFreshRemote(loc, path, entry) {
			return m.newTransfer(loc.Key, path, physical, false), nil
		}
		return m.fetch(fctx, loc, path, physical, entry)
	})
	if errors.Is(err, ErrWaitTimeout) {
		return nil, wrap(KindTransportFault, "remote_fetch", loc.Key, path, err)
	}
	return t, err
}

// cachedEntry 返回可直接使用的缓存条目；失效中的生成物视为未命中。
func (m *Manager) cachedEntry(ctx context.Context, key store.StoreKey, path, physical string) (*cache.Entry, error) {
	entry, err := m.storage.Stat(ctx, physical)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, nil
		}
		return nil, wrap(KindStorageFault, "retrieve", key, path, err)
	}
	if state, ok := m.coordinator.State(transfer.Ref{Store: key, Path: path}); ok && state != invalidate.Fresh {
		return nil, nil
	}
	return entry, nil
}

func (m *Manager) fetch(ctx context.Context, loc topology.Location, path, physical string, stale *cache.Entry) (*transfer.Transfer, error) {
	resp, err := m.fetcher.Fetch(ctx, loc, path)
	switch {
	case errors.Is(err, transport.ErrNotFound):
		if stale != nil {
			if _, rmErr := m.removeCached(ctx, loc.Key, path, physical); rmErr != nil {
				m.logger.WithFields(logging.StoreFields("remote_fetch", loc.Key, path)).
					WithField("error", rmErr.Error()).
					Warn("remove_failed")
			}
		}
		return nil, nil
	case err != nil:
		if stale != nil {
			m.logger.WithFields(logging.StoreFields("remote_fetch", loc.Key, path)).
				WithField("error", err.Error()).
				Warn("serve_stale_cache")
			return m.newTransfer(loc.Key, path, physical, false), nil
		}
		return nil, wrap(KindTransportFault, "remote_fetch", loc.Key, path, err)
	}
	defer resp.Body.Close()

	if err := m.put(ctx, loc.Key, path, physical, resp.Body); err != nil {
		return nil, err
	}
	m.publish(ctx, event.ContentStored{Store: loc.Key, Path: path})
	return m.newTransfer(loc.Key, path, physical, false), nil
}

// freshGenerated 返回仍为 fresh 的 group 生成物。
func (m *Manager) freshGenerated(ctx context.Context, key store.StoreKey, path, physical string) *transfer.Transfer {
	state, ok := m.coordinator.State(transfer.Ref{Store: key, Path: path})
	if !ok || state != invalidate.Fresh {
		return nil
	}
	t := m.newTransfer(key, path, physical, true)
	if !t.Exists(ctx) {
		return nil
	}
	return t
}

func (m *Manager) logMemberFailure(key store.StoreKey, path string, err error) {
	m.logger.WithFields(logging.StoreFields("retrieve", key, path)).
		WithField("error", err.Error()).
		Warn("member_retrieve_failed")
}

func firstKey(keys []store.StoreKey) store.StoreKey {
	if len(keys) == 0 {
		return store.StoreKey{}
	}
	return keys[0]
}

// aggregate 合并成员失败；只有一个失败时原样返回。
func aggregate(op, path string, failures []error) error {
	if len(failures) == 1 {
		return failures[0]
	}
	return &AggregateError{Op: op, Path: path, Errors: failures}
}
