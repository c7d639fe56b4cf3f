package content

import (
	"context"
	"time"

	"github.com/any-hub/content-hub/internal/store"
	"github.com/any-hub/content-hub/internal/transfer"
)

type heldKey struct{}

// flightKey 标识一次 (仓库, 路径) 解析；生成与直接解析使用不同的键。
func flightKey(key store.StoreKey, path, phase string) string {
	return key.String() + "|" + path + "|" + phase
}

func heldFrom(ctx context.Context) map[string]struct{} {
	set, _ := ctx.Value(heldKey{}).(map[string]struct{})
	return set
}

func withHeld(ctx context.Context, key string) context.Context {
	prev := heldFrom(ctx)
	next := make(map[string]struct{}, len(prev)+1)
	for k := range prev {
		next[k] = struct{}{}
	}
	next[key] = struct{}{}
	return context.WithValue(ctx, heldKey{}, next)
}

// flight 保证同一键同时只有一次解析在执行，并发调用方共享其结果。
//
// fn 在脱离调用方取消信号的上下文中运行，单个调用方放弃等待不会中断其他等待者；
// 调用链中已持有的键直接返回未命中，生成器读取自身产物时不会死锁。
func (m *Manager) flight(ctx context.Context, key string, fn func(context.Context) (*transfer.Transfer, error)) (*transfer.Transfer, error) {
	if _, held := heldFrom(ctx)[key]; held {
		return nil, nil
	}

	ch := m.flights.DoChan(key, func() (any, error) {
		fctx := withHeld(context.WithoutCancel(ctx), key)
		return fn(fctx)
	})

	var timeout <-chan time.Time
	if m.waitTimeout > 0 {
		timer := time.NewTimer(m.waitTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		t, _ := res.Val.(*transfer.Transfer)
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, ErrWaitTimeout
	}
}
