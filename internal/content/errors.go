package content

import (
	"errors"
	"fmt"
	"strings"

	"github.com/any-hub/content-hub/internal/cache"
	"github.com/any-hub/content-hub/internal/pathgen"
	"github.com/any-hub/content-hub/internal/store"
	"github.com/any-hub/content-hub/internal/topology"
	"github.com/any-hub/content-hub/internal/transport"
)

// ErrNotFound 由单目标查询在所有来源都未命中时返回。
var ErrNotFound = errors.New("content not found")

// ErrWaitTimeout 表示等待进行中的解析超过 GenerationLockTimeout。
var ErrWaitTimeout = errors.New("timed out waiting for in-flight resolution")

// Kind 是错误分类，供访问入口映射状态码。
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindTopology
	KindStorageFault
	KindTransportFault
	KindPolicyViolation
	KindGenerationFault
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindTopology:
		return "topology_error"
	case KindStorageFault:
		return "storage_fault"
	case KindTransportFault:
		return "transport_fault"
	case KindPolicyViolation:
		return "policy_violation"
	case KindGenerationFault:
		return "generation_fault"
	}
	return "unknown"
}

// Error 携带分类与出错位置。
type Error struct {
	Kind  Kind
	Op    string
	Store store.StoreKey
	Path  string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s:%s: %s: %v", e.Op, e.Store, e.Path, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// AggregateError 在多仓库解析中所有成员均失败时返回。
type AggregateError struct {
	Op     string
	Path   string
	Errors []error
}

func (e *AggregateError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		parts[i] = err.Error()
	}
	return fmt.Sprintf("%s %s: all %d stores failed: %s", e.Op, e.Path, len(e.Errors), strings.Join(parts, "; "))
}

func (e *AggregateError) Unwrap() []error { return e.Errors }

// Kind 在所有成员都是上游失败时为 TransportFault，否则为 StorageFault。
func (e *AggregateError) Kind() Kind {
	for _, err := range e.Errors {
		if KindOf(err) != KindTransportFault {
			return KindStorageFault
		}
	}
	return KindTransportFault
}

// KindOf 提取错误分类；nil 返回 KindUnknown。
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	var agg *AggregateError
	if errors.As(err, &agg) {
		return agg.Kind()
	}
	return classify(err)
}

func classify(err error) Kind {
	var fault *transport.FaultError
	switch {
	case errors.Is(err, topology.ErrDanglingReference):
		return KindTopology
	case errors.Is(err, store.ErrStoreNotFound),
		errors.Is(err, ErrNotFound),
		errors.Is(err, transport.ErrNotFound),
		errors.Is(err, cache.ErrNotFound):
		return KindNotFound
	case errors.Is(err, store.ErrPolicyViolation),
		errors.Is(err, pathgen.ErrInvalidPath),
		errors.Is(err, cache.ErrInvalidPath):
		return KindPolicyViolation
	case errors.As(err, &fault):
		return KindTransportFault
	}
	return KindStorageFault
}

func wrap(kind Kind, op string, key store.StoreKey, path string, err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	if kind == KindUnknown {
		kind = classify(err)
	}
	return &Error{Kind: kind, Op: op, Store: key, Path: path, Err: err}
}

// fatal 表示错误应终止整个请求，而不是视为单个成员未命中。
func fatal(err error) bool {
	switch KindOf(err) {
	case KindTopology, KindGenerationFault, KindPolicyViolation, KindNotFound:
		return true
	}
	return false
}
