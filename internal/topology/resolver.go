package topology

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/content-hub/internal/store"
)

// ErrDanglingReference 表示 group 引用了不存在的成员。
var ErrDanglingReference = errors.New("dangling group constituent")

// DanglingError 记录悬空引用所在的 group 与成员键。
type DanglingError struct {
	Group  store.StoreKey
	Member store.StoreKey
}

func (e *DanglingError) Error() string {
	return fmt.Sprintf("group %s references missing store %s", e.Group, e.Member)
}

func (e *DanglingError) Unwrap() error { return ErrDanglingReference }

// Resolver 基于 DataManager 展开仓库拓扑。
type Resolver struct {
	data           store.DataManager
	defaultTimeout time.Duration
	logger         *logrus.Logger
}

// Option 配置 Resolver。
type Option func(*Resolver)

// WithDefaultTimeout 设置 remote 未配置 Timeout 时使用的回源超时。
func WithDefaultTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.defaultTimeout = d
		}
	}
}

// WithLogger 注入 logger。
func WithLogger(logger *logrus.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResolver 构建展开器。
func NewResolver(data store.DataManager, opts ...Option) *Resolver {
	r := &Resolver{
		data:           data,
		defaultTimeout: 30 * time.Second,
		logger:         logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// frame 是工作栈中的一层：某个 group 的成员快照与下一个待处理下标。
type frame struct {
	group   store.StoreKey
	members []store.StoreKey
	next    int
}

// Expand 将 key 展开为具体位置。具体仓库返回自身（禁用时为空列表）。
func (r *Resolver) Expand(ctx context.Context, key store.StoreKey) ([]Location, error) {
	return r.ExpandAll(ctx, []store.StoreKey{key})
}

// ExpandAll 按调用方给定顺序展开多个键，跨键去重。
func (r *Resolver) ExpandAll(ctx context.Context, keys []store.StoreKey) ([]Location, error) {
	visited := make(map[store.StoreKey]struct{})
	var result []Location

	for _, root := range keys {
		if _, ok := visited[root]; ok {
			continue
		}
		visited[root] = struct{}{}

		s, err := r.data.GetStore(ctx, root)
		if err != nil {
			return nil, err
		}
		locs, err := r.expandFrom(ctx, s, visited)
		if err != nil {
			return nil, err
		}
		result = append(result, locs...)
	}
	return result, nil
}

func (r *Resolver) expandFrom(ctx context.Context, root store.ArtifactStore, visited map[store.StoreKey]struct{}) ([]Location, error) {
	if root.Common().Disabled {
		r.logSkipDisabled(store.KeyOf(root))
		return nil, nil
	}
	g, ok := root.(*store.Group)
	if !ok {
		loc, err := r.locate(root)
		if err != nil {
			return nil, err
		}
		return []Location{loc}, nil
	}

	var result []Location
	stack := []*frame{{group: g.Key, members: g.Constituents}}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		top := stack[len(stack)-1]
		if top.next >= len(top.members) {
			stack = stack[:len(stack)-1]
			continue
		}
		key := top.members[top.next]
		top.next++

		if _, seen := visited[key]; seen {
			continue
		}
		visited[key] = struct{}{}

		member, err := r.data.GetStore(ctx, key)
		if err != nil {
			if errors.Is(err, store.ErrStoreNotFound) {
				return nil, &DanglingError{Group: top.group, Member: key}
			}
			return nil, err
		}
		if member.Common().Disabled {
			r.logSkipDisabled(key)
			continue
		}
		if sub, isGroup := member.(*store.Group); isGroup {
			stack = append(stack, &frame{group: sub.Key, members: sub.Constituents})
			continue
		}
		loc, err := r.locate(member)
		if err != nil {
			return nil, err
		}
		result = append(result, loc)
	}
	return result, nil
}

// ConcreteKeys 返回 group 展开后的具体仓库键，等价于 getOrderedConcreteStoresInGroup。
func (r *Resolver) ConcreteKeys(ctx context.Context, group store.StoreKey) ([]store.StoreKey, error) {
	locs, err := r.Expand(ctx, group)
	if err != nil {
		return nil, err
	}
	keys := make([]store.StoreKey, len(locs))
	for i, loc := range locs {
		keys[i] = loc.Key
	}
	return keys, nil
}

// Locate 将单个具体仓库转换为 Location。
func (r *Resolver) Locate(s store.ArtifactStore) (Location, error) {
	if _, isGroup := s.(*store.Group); isGroup {
		return Location{}, fmt.Errorf("cannot locate group %s directly", store.KeyOf(s))
	}
	return r.locate(s)
}

func (r *Resolver) locate(s store.ArtifactStore) (Location, error) {
	loc := Location{Key: store.KeyOf(s), Store: s}
	remote, ok := s.(*store.RemoteRepository)
	if !ok || remote.CacheOnly {
		return loc, nil
	}

	upstream, err := url.Parse(remote.URL)
	if err != nil {
		return Location{}, fmt.Errorf("invalid upstream for %s: %w", remote.Key, err)
	}
	attrs := &RemoteAttributes{
		URL:      upstream,
		Username: remote.Username,
		Password: remote.Password,
		Timeout:  remote.Timeout,
		CacheTTL: remote.CacheTTL,
	}
	if attrs.Timeout <= 0 {
		attrs.Timeout = r.defaultTimeout
	}
	if remote.Proxy != "" {
		proxyURL, err := url.Parse(remote.Proxy)
		if err != nil {
			return Location{}, fmt.Errorf("invalid proxy for %s: %w", remote.Key, err)
		}
		attrs.ProxyURL = proxyURL
	}
	loc.Remote = attrs
	return loc, nil
}

func (r *Resolver) logSkipDisabled(key store.StoreKey) {
	r.logger.WithFields(logrus.Fields{
		"action": "expand",
		"store":  key.String(),
	}).Debug("skip_disabled_store")
}
