package content

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/any-hub/content-hub/internal/cache"
	"github.com/any-hub/content-hub/internal/event"
	"github.com/any-hub/content-hub/internal/logging"
	"github.com/any-hub/content-hub/internal/store"
	"github.com/any-hub/content-hub/internal/transfer"
)

var (
	// ErrNoWritableMember 表示 group 中没有可写的 hosted 成员。
	ErrNoWritableMember = fmt.Errorf("%w: group has no writable hosted member", store.ErrPolicyViolation)
	// ErrRemoteReadOnly 表示对 remote 仓库执行了写入。
	ErrRemoteReadOnly = fmt.Errorf("%w: remote repository is read-only", store.ErrPolicyViolation)
)

// Store 写入内容；group 写入第一个可写的 hosted 成员，remote 拒绝写入。
func (m *Manager) Store(ctx context.Context, key store.StoreKey, path string, body io.Reader) (*transfer.Transfer, error) {
	const op = "store"
	clean, err := cleanPath(op, key, path)
	if err != nil {
		return nil, err
	}
	s, err := m.getStore(ctx, op, key, clean)
	if err != nil {
		return nil, err
	}
	target, err := m.writeTarget(ctx, s, clean)
	if err != nil {
		return nil, err
	}
	targetKey := target.Common().Key
	physical, err := m.locate(target, clean)
	if err != nil {
		return nil, wrap(KindPolicyViolation, op, targetKey, clean, err)
	}

	if err := m.put(ctx, targetKey, clean, physical, body); err != nil {
		return nil, err
	}
	m.publish(ctx, event.ContentStored{Store: targetKey, Path: clean})
	m.logger.WithFields(logging.StoreFields(op, targetKey, clean)).Debug("content_stored")

	m.notifyGenerators(ctx, target, clean, false)
	return m.newTransfer(targetKey, clean, physical, false), nil
}

// writeTarget 选出实际接收写入的仓库并校验写入策略。
// group 只取第一个非只读的 hosted 成员，策略不允许时直接拒绝。
func (m *Manager) writeTarget(ctx context.Context, s store.ArtifactStore, path string) (store.ArtifactStore, error) {
	const op = "store"
	switch v := s.(type) {
	case *store.RemoteRepository:
		return nil, &Error{Kind: KindPolicyViolation, Op: op, Store: v.Key, Path: path, Err: ErrRemoteReadOnly}
	case *store.Group:
		locs, err := m.topology.Expand(ctx, v.Key)
		if err != nil {
			return nil, wrap(KindTopology, op, v.Key, path, err)
		}
		for _, loc := range locs {
			if h, ok := loc.Store.(*store.HostedRepository); ok && !h.ReadOnly {
				if err := m.checkHosted(h, path); err != nil {
					return nil, err
				}
				return h, nil
			}
		}
		return nil, &Error{Kind: KindPolicyViolation, Op: op, Store: v.Key, Path: path, Err: ErrNoWritableMember}
	case *store.HostedRepository:
		if err := m.checkHosted(v, path); err != nil {
			return nil, err
		}
		return v, nil
	}
	return nil, &Error{Kind: KindTopology, Op: op, Store: store.KeyOf(s), Path: path, Err: errors.New("unsupported store type")}
}

func (m *Manager) checkHosted(h *store.HostedRepository, path string) error {
	if h.Disabled {
		return &Error{Kind: KindPolicyViolation, Op: "store", Store: h.Key, Path: path,
			Err: fmt.Errorf("%w: %s is disabled", store.ErrPolicyViolation, h.Key)}
	}
	if err := h.CheckWrite(m.isSnapshot(h.Key.PackageType, path)); err != nil {
		return wrap(KindPolicyViolation, "store", h.Key, path, err)
	}
	return nil
}

// put 写入存储，同时通过钩子捕获摘要；不发布事件。
func (m *Manager) put(ctx context.Context, key store.StoreKey, path, physical string, body io.Reader) error {
	_, err := m.storage.Put(ctx, physical, body, cache.PutOptions{
		ModTime: m.now().UTC(),
		Hooks:   []cache.WriteHook{m.digester.WriteHook(key, path, m.algorithms...)},
	})
	if err != nil {
		return wrap(KindStorageFault, "store", key, path, err)
	}
	return nil
}

// Delete 删除内容，返回是否确实删除了文件。group 同时删除自身生成物与所有成员中的副本。
func (m *Manager) Delete(ctx context.Context, key store.StoreKey, path string) (bool, error) {
	const op = "delete"
	clean, err := cleanPath(op, key, path)
	if err != nil {
		return false, err
	}
	s, err := m.getStore(ctx, op, key, clean)
	if err != nil {
		return false, err
	}

	g, isGroup := s.(*store.Group)
	if !isGroup {
		return m.deleteConcrete(ctx, s, clean)
	}

	deleted, err := m.deleteConcrete(ctx, g, clean)
	if err != nil {
		return false, err
	}
	members, err := m.topology.ConcreteKeys(ctx, g.Key)
	if err != nil {
		return deleted, wrap(KindTopology, op, g.Key, clean, err)
	}
	for _, member := range members {
		ms, err := m.getStore(ctx, op, member, clean)
		if err != nil {
			return deleted, err
		}
		if h, ok := ms.(*store.HostedRepository); ok && h.ReadOnly {
			continue
		}
		ok, err := m.deleteConcrete(ctx, ms, clean)
		if err != nil {
			return deleted, err
		}
		deleted = deleted || ok
	}
	return deleted, nil
}

// DeleteAll 对每个键执行 Delete，任一删除成功即返回 true。
func (m *Manager) DeleteAll(ctx context.Context, keys []store.StoreKey, path string) (bool, error) {
	deleted := false
	for _, key := range keys {
		ok, err := m.Delete(ctx, key, path)
		if err != nil {
			return deleted, err
		}
		deleted = deleted || ok
	}
	return deleted, nil
}

func (m *Manager) deleteConcrete(ctx context.Context, s store.ArtifactStore, path string) (bool, error) {
	const op = "delete"
	key := s.Common().Key
	if h, ok := s.(*store.HostedRepository); ok && h.ReadOnly {
		return false, &Error{Kind: KindPolicyViolation, Op: op, Store: key, Path: path,
			Err: fmt.Errorf("%w: %s is read-only", store.ErrPolicyViolation, key)}
	}
	physical, err := m.locate(s, path)
	if err != nil {
		return false, wrap(KindPolicyViolation, op, key, path, err)
	}
	removed, err := m.removeCached(ctx, key, path, physical)
	if err != nil {
		return false, wrap(KindStorageFault, op, key, path, err)
	}
	if !removed {
		return false, nil
	}
	m.logger.WithFields(logging.StoreFields(op, key, path)).Debug("content_deleted")
	m.notifyGenerators(ctx, s, path, true)
	return true, nil
}

// removeCached 删除文件并发布 ContentDeleted；文件不存在时返回 (false, nil)。
func (m *Manager) removeCached(ctx context.Context, key store.StoreKey, path, physical string) (bool, error) {
	if err := m.storage.Remove(ctx, physical); err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	m.digester.Invalidate(key, path)
	m.publish(ctx, event.ContentDeleted{Store: key, Path: path})
	return true, nil
}

// notifyGenerators 调用生成器的写入/删除回调；回调失败只记录日志。
func (m *Manager) notifyGenerators(ctx context.Context, s store.ArtifactStore, path string, deleted bool) {
	key := s.Common().Key
	for _, gen := range m.generators.All(key.PackageType) {
		var err error
		if deleted {
			err = gen.HandleContentDeletion(ctx, m, s, path)
		} else {
			err = gen.HandleContentStorage(ctx, m, s, path)
		}
		if err != nil {
			m.logger.WithFields(logging.StoreFields("generator_callback", key, path)).
				WithField("generator", gen.Name()).
				WithField("error", err.Error()).
				Warn("generator_callback_failed")
		}
	}
}
