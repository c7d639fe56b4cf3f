package content

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/content-hub/internal/cache"
	"github.com/any-hub/content-hub/internal/digest"
	"github.com/any-hub/content-hub/internal/event"
	"github.com/any-hub/content-hub/internal/generator"
	"github.com/any-hub/content-hub/internal/invalidate"
	"github.com/any-hub/content-hub/internal/pathgen"
	"github.com/any-hub/content-hub/internal/store"
	"github.com/any-hub/content-hub/internal/topology"
	"github.com/any-hub/content-hub/internal/transfer"
	"github.com/any-hub/content-hub/internal/transport"
)

func key(raw string) store.StoreKey { return store.MustParseKey(raw) }

func hosted(name string) *store.HostedRepository {
	return &store.HostedRepository{
		StoreBase:      store.StoreBase{Key: key("maven:hosted:" + name)},
		AllowReleases:  true,
		AllowSnapshots: true,
	}
}

func remote(name string, ttl time.Duration) *store.RemoteRepository {
	return &store.RemoteRepository{
		StoreBase: store.StoreBase{Key: key("maven:remote:" + name)},
		URL:       "http://upstream.example/" + name + "/",
		CacheTTL:  ttl,
	}
}

func group(name string, members ...store.ArtifactStore) *store.Group {
	g := &store.Group{StoreBase: store.StoreBase{Key: key("maven:group:" + name)}}
	for _, m := range members {
		g.Constituents = append(g.Constituents, store.KeyOf(m))
	}
	return g
}

// stubFetcher 按 "仓库名:路径" 返回预置内容，未预置的路径视为上游不存在。
type stubFetcher struct {
	mu     sync.Mutex
	bodies map[string]string
	faults map[string]error
	gate   chan struct{}
	calls  atomic.Int32
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{bodies: map[string]string{}, faults: map[string]error{}}
}

func (f *stubFetcher) set(name, p, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[name+":"+p] = body
	delete(f.faults, name+":"+p)
}

func (f *stubFetcher) fail(name, p string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[name+":"+p] = err
}

func (f *stubFetcher) remove(name, p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.bodies, name+":"+p)
	delete(f.faults, name+":"+p)
}

func (f *stubFetcher) Fetch(ctx context.Context, loc topology.Location, p string) (*transport.Response, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := loc.Key.Name + ":" + p
	if err, ok := f.faults[id]; ok {
		return nil, err
	}
	body, ok := f.bodies[id]
	if !ok {
		return nil, transport.ErrNotFound
	}
	return &transport.Response{Status: 200, Body: io.NopCloser(strings.NewReader(body))}, nil
}

func (f *stubFetcher) Exists(ctx context.Context, loc topology.Location, p string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.bodies[loc.Key.Name+":"+p]
	return ok, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	t        *testing.T
	data     *store.MemoryDataManager
	storage  cache.Store
	paths    *pathgen.Generator
	bus      *event.Bus
	gens     *generator.Registry
	fetcher  *stubFetcher
	coord    *invalidate.Coordinator
	digester *digest.Digester
	clock    *fakeClock
	m        *Manager
}

type harnessOption func(*Options)

func withWaitTimeout(d time.Duration) harnessOption {
	return func(o *Options) { o.WaitTimeout = d }
}

// failingRemoveStore 让 Remove 对已存在的文件返回固定错误，模拟存储后端故障。
type failingRemoveStore struct {
	cache.Store
	err error
}

func (s *failingRemoveStore) Remove(ctx context.Context, physicalPath string) error {
	if _, err := s.Store.Stat(ctx, physicalPath); err != nil {
		return err
	}
	return s.err
}

func withFailingRemove(err error) harnessOption {
	return func(o *Options) { o.Storage = &failingRemoveStore{Store: o.Storage, err: err} }
}

func newHarness(t *testing.T, stores []store.ArtifactStore, opts ...harnessOption) *harness {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	bus := event.NewBus(logger)
	data := store.NewMemoryDataManager(bus)
	for _, s := range stores {
		require.NoError(t, data.PutStore(context.Background(), s))
	}
	storage, err := cache.NewStore(t.TempDir())
	require.NoError(t, err)

	paths := pathgen.New()
	locate := Locator(data, paths)
	digester := digest.New(storage, locate)
	coord := invalidate.New(data, storage, locate, digester, logger)
	coord.Subscribe(bus)

	h := &harness{
		t:        t,
		data:     data,
		storage:  storage,
		paths:    paths,
		bus:      bus,
		gens:     generator.NewRegistry(),
		fetcher:  newStubFetcher(),
		coord:    coord,
		digester: digester,
		clock:    &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	o := Options{
		Data:        data,
		Storage:     storage,
		Paths:       paths,
		Fetcher:     h.fetcher,
		Digester:    digester,
		Generators:  h.gens,
		Coordinator: coord,
		Bus:         bus,
		Logger:      logger,
		IsSnapshot:  func(_, p string) bool { return strings.Contains(p, "SNAPSHOT") },
		IsImmutable: func(_, p string) bool { return strings.HasSuffix(p, ".jar") },
		Now:         h.clock.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	h.m, err = NewManager(o)
	require.NoError(t, err)
	return h
}

func (h *harness) store(s store.ArtifactStore, p, body string) {
	h.t.Helper()
	_, err := h.m.Store(context.Background(), store.KeyOf(s), p, strings.NewReader(body))
	require.NoError(h.t, err)
}

func (h *harness) read(tr *transfer.Transfer) string {
	h.t.Helper()
	require.NotNil(h.t, tr)
	body, err := tr.ReadAll(context.Background())
	require.NoError(h.t, err)
	return string(body)
}

func (h *harness) exists(s store.ArtifactStore, p string) bool {
	h.t.Helper()
	physical, err := h.paths.PhysicalPath(s.Common(), p)
	require.NoError(h.t, err)
	_, err = h.storage.Stat(context.Background(), physical)
	return err == nil
}

// concatGenerator 将各成员的 part.txt 按成员顺序拼接为 group 的 merged.txt。
type concatGenerator struct {
	generator.Base
	calls atomic.Int32
	gate  chan struct{}
}

func (g *concatGenerator) Name() string { return "concat" }

func (g *concatGenerator) CanProcess(p string) bool { return p == "merged.txt" }

func (g *concatGenerator) GenerateGroupFileContent(ctx context.Context, r generator.Resolver, _ *store.Group, members []store.StoreKey, _ string) (*generator.Generated, error) {
	g.calls.Add(1)
	if g.gate != nil {
		<-g.gate
	}
	parts, err := r.RetrieveAll(ctx, members, "part.txt")
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	deps := make([]transfer.Ref, 0, len(parts))
	for _, part := range parts {
		body, err := part.ReadAll(ctx)
		if err != nil {
			return nil, err
		}
		buf.Write(body)
		deps = append(deps, transfer.Ref{Store: part.Origin, Path: part.Path})
	}
	return &generator.Generated{Content: &buf, Dependencies: deps}, nil
}

// loopGenerator 尝试读取自身正在生成的路径。
type loopGenerator struct {
	generator.Base
	calls atomic.Int32
}

func (g *loopGenerator) Name() string { return "loop" }

func (g *loopGenerator) CanProcess(p string) bool { return p == "loop.txt" }

func (g *loopGenerator) GenerateFileContent(ctx context.Context, r generator.Resolver, s store.ArtifactStore, p string) (*generator.Generated, error) {
	g.calls.Add(1)
	t, err := r.RetrieveFirst(ctx, []store.StoreKey{store.KeyOf(s)}, p)
	if err != nil || t == nil {
		return nil, err
	}
	return &generator.Generated{Content: strings.NewReader("never")}, nil
}
