// Package event 提供进程内的类型化事件总线：内容写入/删除与拓扑变更。
// 订阅者以回调注册，Publish 在调用方 goroutine 内按订阅顺序同步派发，
// 因此 Publish 返回时所有失效动作都已完成。
package event

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/content-hub/internal/store"
)

// Type 标识事件类别。
type Type string

const (
	TypeContentStored   Type = "content_stored"
	TypeContentDeleted  Type = "content_deleted"
	TypeTopologyChanged Type = "topology_changed"
)

// Event 是所有事件的公共接口。
type Event interface {
	EventType() Type
}

// ContentStored 在某个具体仓库的路径写入完成后发布（包括远程缓存写入）。
type ContentStored struct {
	Store store.StoreKey
	Path  string
	// Generated 表示内容由生成器产出，而非上传或回源。
	Generated bool
}

// ContentDeleted 在路径被删除后发布。
type ContentDeleted struct {
	Store store.StoreKey
	Path  string
}

// TopologyChanged 在 group 成员变更后发布。
type TopologyChanged struct {
	store.TopologyChange
}

func (ContentStored) EventType() Type   { return TypeContentStored }
func (ContentDeleted) EventType() Type  { return TypeContentDeleted }
func (TopologyChanged) EventType() Type { return TypeTopologyChanged }

// Handler 处理单个事件。
type Handler func(ctx context.Context, ev Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus 是同步派发的事件总线，零值不可用，请使用 NewBus。
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	logger *logrus.Logger
}

// NewBus 创建事件总线；logger 为 nil 时使用 logrus 标准 logger。
func NewBus(logger *logrus.Logger) *Bus {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Bus{logger: logger}
}

// Subscribe 注册回调并返回取消函数。
func (b *Bus) Subscribe(handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.subs {
			if sub.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish 同步派发事件；单个订阅者 panic 只记录日志，不影响其余订阅者。
func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs...)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.dispatch(ctx, sub, ev)
	}
}

func (b *Bus) dispatch(ctx context.Context, sub subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithFields(logrus.Fields{
				"action":     "event_dispatch",
				"event_type": string(ev.EventType()),
				"error":      fmt.Sprintf("panic: %v", r),
			}).Error("event_handler_panic")
		}
	}()
	sub.handler(ctx, ev)
}

// TopologyChanged 使 Bus 满足 store.ChangeNotifier。
func (b *Bus) TopologyChanged(ctx context.Context, change store.TopologyChange) {
	b.Publish(ctx, TopologyChanged{TopologyChange: change})
}
