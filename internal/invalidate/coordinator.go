// Package invalidate 维护生成内容的依赖索引，并在来源内容或拓扑变化时主动清除
// 受影响的生成物。
//
// 每个生成物的状态为 fresh、stale 或 regenerating。生成开始时登记为
// regenerating，生成过程中观察到的依赖立即入索引；若依赖在提交前发生变化，
// 本次生成被标记为脏，Commit 拒绝提交，调用方需丢弃结果重新生成。
package invalidate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/content-hub/internal/cache"
	"github.com/any-hub/content-hub/internal/event"
	"github.com/any-hub/content-hub/internal/store"
	"github.com/any-hub/content-hub/internal/transfer"
)

// State 是生成物的生命周期状态。
type State int

const (
	Fresh State = iota + 1
	Stale
	Regenerating
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	case Regenerating:
		return "regenerating"
	}
	return "unknown"
}

// ErrStale 表示生成期间依赖已变化，结果不可提交。
var ErrStale = errors.New("generated artifact went stale during generation")

// Locator 将逻辑引用解析为物理路径。
type Locator func(ctx context.Context, key store.StoreKey, logicalPath string) (string, error)

// DigestInvalidator 丢弃某个键的摘要记录。
type DigestInvalidator interface {
	Invalidate(key store.StoreKey, logicalPath string)
}

const deleteConcurrency = 8

type record struct {
	state State
	gen   uint64
	dirty bool
	deps  map[transfer.Ref]struct{}
}

// Pending 是一次进行中的生成。
type Pending struct {
	Ref transfer.Ref
	gen uint64
	c   *Coordinator
}

// Coordinator 是进程共享的失效协调器，可并发使用。
type Coordinator struct {
	data    store.DataManager
	storage cache.Store
	locate  Locator
	digests DigestInvalidator
	logger  *logrus.Logger

	mu      sync.Mutex
	records map[transfer.Ref]*record
	byDep   map[transfer.Ref]map[transfer.Ref]struct{}
	byStore map[store.StoreKey]map[transfer.Ref]struct{}
	nextGen uint64
}

// New 构建协调器；digests 与 logger 可为 nil。
func New(data store.DataManager, storage cache.Store, locate Locator, digests DigestInvalidator, logger *logrus.Logger) *Coordinator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Coordinator{
		data:    data,
		storage: storage,
		locate:  locate,
		digests: digests,
		logger:  logger,
		records: make(map[transfer.Ref]*record),
		byDep:   make(map[transfer.Ref]map[transfer.Ref]struct{}),
		byStore: make(map[store.StoreKey]map[transfer.Ref]struct{}),
	}
}

// Subscribe 将协调器挂到事件总线上，返回取消函数。
func (c *Coordinator) Subscribe(bus *event.Bus) func() {
	return bus.Subscribe(c.Handle)
}

// State 返回生成物状态；未登记时 ok 为 false。
func (c *Coordinator) State(ref transfer.Ref) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[ref]
	if !ok {
		return 0, false
	}
	return rec.state, true
}

// Dependencies 返回已登记的依赖集合。
func (c *Coordinator) Dependencies(ref transfer.Ref) []transfer.Ref {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[ref]
	if !ok {
		return nil
	}
	out := make([]transfer.Ref, 0, len(rec.deps))
	for dep := range rec.deps {
		out = append(out, dep)
	}
	return out
}

// Begin 开始一次生成：清空旧依赖并进入 regenerating。
func (c *Coordinator) Begin(ref transfer.Ref) *Pending {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.records[ref]
	if rec == nil {
		rec = &record{}
		c.records[ref] = rec
		c.indexStoreLocked(ref)
	}
	c.clearDepsLocked(ref, rec)
	c.nextGen++
	rec.gen = c.nextGen
	rec.state = Regenerating
	rec.dirty = false
	return &Pending{Ref: ref, gen: rec.gen, c: c}
}

// Observe 在读取依赖之前登记依赖，依赖此后的任何变化都会令本次生成变脏。
func (p *Pending) Observe(deps ...transfer.Ref) {
	c := p.c
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.records[p.Ref]
	if rec == nil || rec.gen != p.gen {
		return
	}
	for _, dep := range deps {
		if dep == p.Ref {
			continue
		}
		c.addDepLocked(p.Ref, rec, dep)
	}
}

// Commit 提交生成结果；deps 与观察到的依赖合并。依赖已变化时返回 ErrStale。
func (p *Pending) Commit(deps []transfer.Ref) error {
	c := p.c
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.records[p.Ref]
	if rec == nil || rec.gen != p.gen {
		return fmt.Errorf("%w: %s superseded", ErrStale, p.Ref)
	}
	if rec.dirty {
		rec.state = Stale
		c.clearDepsLocked(p.Ref, rec)
		return fmt.Errorf("%w: %s", ErrStale, p.Ref)
	}
	for _, dep := range deps {
		if dep != p.Ref {
			c.addDepLocked(p.Ref, rec, dep)
		}
	}
	rec.state = Fresh
	return nil
}

// Abort 放弃生成并移除登记。
func (p *Pending) Abort() {
	c := p.c
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.records[p.Ref]
	if rec == nil || rec.gen != p.gen {
		return
	}
	c.removeLocked(p.Ref, rec)
}

// Forget 移除登记但不删除文件，用于生成物被真实内容覆盖或删除的情况。
func (c *Coordinator) Forget(ref transfer.Ref) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.records[ref]; ok {
		c.removeLocked(ref, rec)
	}
}

// Handle 是事件总线回调。
func (c *Coordinator) Handle(ctx context.Context, ev event.Event) {
	var err error
	switch e := ev.(type) {
	case event.ContentStored:
		err = c.contentChanged(ctx, e.Store, e.Path, !e.Generated)
	case event.ContentDeleted:
		err = c.contentChanged(ctx, e.Store, e.Path, true)
	case event.TopologyChanged:
		err = c.topologyChanged(ctx, e.Group)
	}
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"action":     "invalidate",
			"event_type": string(ev.EventType()),
			"error":      err.Error(),
		}).Warn("invalidate_failed")
	}
}

func (c *Coordinator) contentChanged(ctx context.Context, key store.StoreKey, p string, replaced bool) error {
	changed := transfer.Ref{Store: key, Path: p}
	groups, err := c.data.GetGroupsContaining(ctx, key)
	if err != nil && !errors.Is(err, store.ErrStoreNotFound) {
		return err
	}

	c.mu.Lock()
	if replaced {
		// 真实内容覆盖或删除了此处的生成物：撤销登记，文件由写入方负责。
		if rec, ok := c.records[changed]; ok {
			if rec.state != Regenerating {
				c.removeLocked(changed, rec)
			} else if _, mine := pendingFrom(ctx)[rec.gen]; !mine {
				rec.dirty = true
			}
		}
	}
	seeds := c.dependentsLocked(changed)
	for _, g := range groups {
		ref := transfer.Ref{Store: g.Key, Path: p}
		if _, ok := c.records[ref]; ok {
			seeds = append(seeds, ref)
		}
	}
	victims := c.markLocked(ctx, seeds)
	c.mu.Unlock()

	return c.purge(ctx, victims)
}

func (c *Coordinator) topologyChanged(ctx context.Context, group store.StoreKey) error {
	groups, err := c.data.GetGroupsContaining(ctx, group)
	if err != nil && !errors.Is(err, store.ErrStoreNotFound) {
		return err
	}

	c.mu.Lock()
	var seeds []transfer.Ref
	for ref := range c.byStore[group] {
		seeds = append(seeds, ref)
	}
	for _, g := range groups {
		for ref := range c.byStore[g.Key] {
			seeds = append(seeds, ref)
		}
	}
	victims := c.markLocked(ctx, seeds)
	c.mu.Unlock()

	return c.purge(ctx, victims)
}

// Invalidate 主动令指定生成物及其传递依赖者失效。
func (c *Coordinator) Invalidate(ctx context.Context, refs ...transfer.Ref) error {
	c.mu.Lock()
	victims := c.markLocked(ctx, refs)
	c.mu.Unlock()
	return c.purge(ctx, victims)
}

// markLocked 从 seeds 出发沿反向依赖传递：fresh 置为 stale 并返回待清除项，
// regenerating 标记为脏（由当前上下文自身触发的除外）。
func (c *Coordinator) markLocked(ctx context.Context, seeds []transfer.Ref) []transfer.Ref {
	owned := pendingFrom(ctx)
	visited := make(map[transfer.Ref]struct{}, len(seeds))
	queue := append([]transfer.Ref(nil), seeds...)
	var victims []transfer.Ref

	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]
		if _, seen := visited[ref]; seen {
			continue
		}
		visited[ref] = struct{}{}

		rec, ok := c.records[ref]
		if !ok {
			continue
		}
		switch rec.state {
		case Fresh:
			rec.state = Stale
			c.clearDepsLocked(ref, rec)
			victims = append(victims, ref)
		case Regenerating:
			if _, mine := owned[rec.gen]; !mine {
				rec.dirty = true
			}
		}
		queue = append(queue, c.dependentsLocked(ref)...)
	}
	return victims
}

// purge 并发删除失效生成物的物理文件与摘要记录。
func (c *Coordinator) purge(ctx context.Context, victims []transfer.Ref) error {
	if len(victims) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(deleteConcurrency)
	for _, ref := range victims {
		g.Go(func() error {
			if c.digests != nil {
				c.digests.Invalidate(ref.Store, ref.Path)
			}
			physical, err := c.locate(gctx, ref.Store, ref.Path)
			if err != nil {
				return err
			}
			if err := c.storage.Remove(gctx, physical); err != nil && !errors.Is(err, cache.ErrNotFound) {
				return fmt.Errorf("remove %s: %w", ref, err)
			}
			c.dropStale(ref)
			c.logger.WithFields(logrus.Fields{
				"action": "invalidate",
				"store":  ref.Store.String(),
				"path":   ref.Path,
			}).Debug("generated_artifact_cleared")
			return nil
		})
	}
	return g.Wait()
}

// dropStale 在文件清除后移除仍为 stale 的登记；期间已重新开始生成的保留。
func (c *Coordinator) dropStale(ref transfer.Ref) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.records[ref]; ok && rec.state == Stale {
		c.removeLocked(ref, rec)
	}
}

func (c *Coordinator) dependentsLocked(dep transfer.Ref) []transfer.Ref {
	set := c.byDep[dep]
	out := make([]transfer.Ref, 0, len(set))
	for ref := range set {
		out = append(out, ref)
	}
	return out
}

func (c *Coordinator) addDepLocked(ref transfer.Ref, rec *record, dep transfer.Ref) {
	if rec.deps == nil {
		rec.deps = make(map[transfer.Ref]struct{})
	}
	rec.deps[dep] = struct{}{}
	set := c.byDep[dep]
	if set == nil {
		set = make(map[transfer.Ref]struct{})
		c.byDep[dep] = set
	}
	set[ref] = struct{}{}
}

func (c *Coordinator) clearDepsLocked(ref transfer.Ref, rec *record) {
	for dep := range rec.deps {
		if set := c.byDep[dep]; set != nil {
			delete(set, ref)
			if len(set) == 0 {
				delete(c.byDep, dep)
			}
		}
	}
	rec.deps = nil
}

func (c *Coordinator) indexStoreLocked(ref transfer.Ref) {
	set := c.byStore[ref.Store]
	if set == nil {
		set = make(map[transfer.Ref]struct{})
		c.byStore[ref.Store] = set
	}
	set[ref] = struct{}{}
}

func (c *Coordinator) removeLocked(ref transfer.Ref, rec *record) {
	c.clearDepsLocked(ref, rec)
	delete(c.records, ref)
	if set := c.byStore[ref.Store]; set != nil {
		delete(set, ref)
		if len(set) == 0 {
			delete(c.byStore, ref.Store)
		}
	}
}

type pendingKey struct{}

// WithPending 标记 ctx 属于该生成流程；流程内部触发的事件不会令其自身变脏。
func WithPending(ctx context.Context, p *Pending) context.Context {
	prev := pendingFrom(ctx)
	next := make(map[uint64]struct{}, len(prev)+1)
	for gen := range prev {
		next[gen] = struct{}{}
	}
	next[p.gen] = struct{}{}
	return context.WithValue(ctx, pendingKey{}, next)
}

func pendingFrom(ctx context.Context) map[uint64]struct{} {
	if ctx == nil {
		return nil
	}
	set, _ := ctx.Value(pendingKey{}).(map[uint64]struct{})
	return set
}
