package content

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/any-hub/content-hub/internal/digest"
	"github.com/any-hub/content-hub/internal/event"
	"github.com/any-hub/content-hub/internal/generator"
	"github.com/any-hub/content-hub/internal/invalidate"
	"github.com/any-hub/content-hub/internal/logging"
	"github.com/any-hub/content-hub/internal/pathgen"
	"github.com/any-hub/content-hub/internal/store"
	"github.com/any-hub/content-hub/internal/topology"
	"github.com/any-hub/content-hub/internal/transfer"
)

type generateFunc func(ctx context.Context, r generator.Resolver, gen generator.Generator) (*generator.Generated, error)

// pendingResolver 在回调管线之前登记依赖，检索期间发生的变更也会被捕获。
type pendingResolver struct {
	m       *Manager
	pending *invalidate.Pending
}

func (r *pendingResolver) observe(keys []store.StoreKey, path string) {
	clean, err := pathgen.CleanLogical(path)
	if err != nil {
		return
	}
	deps := make([]transfer.Ref, len(keys))
	for i, key := range keys {
		deps[i] = transfer.Ref{Store: key, Path: clean}
	}
	r.pending.Observe(deps...)
}

func (r *pendingResolver) RetrieveFirst(ctx context.Context, keys []store.StoreKey, path string) (*transfer.Transfer, error) {
	r.observe(keys, path)
	return r.m.RetrieveFirst(ctx, keys, path)
}

func (r *pendingResolver) RetrieveAll(ctx context.Context, keys []store.StoreKey, path string) ([]*transfer.Transfer, error) {
	r.observe(keys, path)
	return r.m.RetrieveAll(ctx, keys, path)
}

func (r *pendingResolver) Digest(ctx context.Context, key store.StoreKey, path string, algs ...digest.Algorithm) (*digest.Record, error) {
	r.observe([]store.StoreKey{key}, path)
	return r.m.Digest(ctx, key, path, algs...)
}

// generateConcrete 在单飞保护下调用单仓库生成器。
func (m *Manager) generateConcrete(ctx context.Context, loc topology.Location, path, physical string) (*transfer.Transfer, error) {
	gens := m.generators.For(loc.Key.PackageType, path)
	if len(gens) == 0 {
		return nil, nil
	}
	t, err := m.flight(ctx, flightKey(loc.Key, path, "generate"), func(fctx context.Context) (*transfer.Transfer, error) {
		entry, err := m.cachedEntry(fctx, loc.Key, path, physical)
		if err != nil {
			return nil, err
		}
		ref := transfer.Ref{Store: loc.Key, Path: path}
		if entry != nil {
			_, recorded := m.coordinator.State(ref)
			return m.newTransfer(loc.Key, path, physical, recorded), nil
		}
		return m.generate(fctx, ref, physical, gens, func(gctx context.Context, r generator.Resolver, gen generator.Generator) (*generator.Generated, error) {
			return gen.GenerateFileContent(gctx, r, loc.Store, path)
		})
	})
	if errors.Is(err, ErrWaitTimeout) {
		m.logMemberFailure(loc.Key, path, err)
		return nil, nil
	}
	return t, err
}

// generate 依次询问生成器，写入第一个结果并提交依赖；依赖在生成期间变化时丢弃重试。
func (m *Manager) generate(ctx context.Context, ref transfer.Ref, physical string, gens []generator.Generator, call generateFunc) (*transfer.Transfer, error) {
	for attempt := 1; attempt <= maxGenerationAttempts; attempt++ {
		pending := m.coordinator.Begin(ref)
		gctx := invalidate.WithPending(ctx, pending)
		r := &pendingResolver{m: m, pending: pending}

		out, name, err := firstGenerated(gctx, r, gens, call)
		if err != nil {
			pending.Abort()
			return nil, &Error{Kind: KindGenerationFault, Op: "generate", Store: ref.Store, Path: ref.Path, Err: fmt.Errorf("%s: %w", name, err)}
		}
		if out == nil {
			pending.Abort()
			return nil, nil
		}

		err = m.put(gctx, ref.Store, ref.Path, physical, out.Content)
		closeContent(out.Content)
		if err != nil {
			pending.Abort()
			return nil, err
		}

		if err := pending.Commit(out.Dependencies); err != nil {
			m.discard(gctx, ref, physical)
			if errors.Is(err, invalidate.ErrStale) {
				m.logger.WithFields(logging.StoreFields("generate", ref.Store, ref.Path)).
					WithField("generator", name).
					WithField("attempt", attempt).
					Debug("generation_stale_retry")
				continue
			}
			return nil, &Error{Kind: KindGenerationFault, Op: "generate", Store: ref.Store, Path: ref.Path, Err: err}
		}

		m.publish(gctx, event.ContentStored{Store: ref.Store, Path: ref.Path, Generated: true})
		m.logger.WithFields(logging.StoreFields("generate", ref.Store, ref.Path)).
			WithField("generator", name).
			WithField("dependencies", len(out.Dependencies)).
			Debug("content_generated")
		return m.newTransfer(ref.Store, ref.Path, physical, true), nil
	}
	m.coordinator.Forget(ref)
	return nil, &Error{
		Kind:  KindGenerationFault,
		Op:    "generate",
		Store: ref.Store,
		Path:  ref.Path,
		Err:   fmt.Errorf("dependencies changed during %d attempts", maxGenerationAttempts),
	}
}

func firstGenerated(ctx context.Context, r generator.Resolver, gens []generator.Generator, call generateFunc) (*generator.Generated, string, error) {
	for _, gen := range gens {
		out, err := call(ctx, r, gen)
		if err != nil {
			return nil, gen.Name(), err
		}
		if out != nil && out.Content != nil {
			return out, gen.Name(), nil
		}
	}
	return nil, "", nil
}

// discard 删除未能提交的生成物，不发布事件。
func (m *Manager) discard(ctx context.Context, ref transfer.Ref, physical string) {
	_ = m.storage.Remove(ctx, physical)
	m.digester.Invalidate(ref.Store, ref.Path)
}

func closeContent(r io.Reader) {
	if c, ok := r.(io.Closer); ok {
		_ = c.Close()
	}
}
