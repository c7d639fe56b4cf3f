// Package topology 将仓库键展开为有序、去重的具体仓库位置列表。
//
// 展开采用显式工作栈的前序遍历：group 的成员按声明顺序输出，子 group 的成员
// 插入在子 group 所在的位置；每个键首次出现即标记为已访问，环与菱形引用都只会
// 产出一次。任何悬空成员引用都会让整个展开失败，不返回部分结果。
package topology

import (
	"net/url"
	"time"

	"github.com/any-hub/content-hub/internal/store"
)

// Location 是展开后的具体（非 group）仓库位置。
type Location struct {
	Key   store.StoreKey
	Store store.ArtifactStore
	// Remote 仅对需要访问上游的 remote 仓库非空；hosted 与 cache-only remote 为 nil。
	Remote *RemoteAttributes
}

// RemoteAttributes 携带回源所需的传输属性。
type RemoteAttributes struct {
	URL      *url.URL
	ProxyURL *url.URL
	Username string
	Password string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// HasCredentials 表示是否需要附加 Basic 认证头。
func (r *RemoteAttributes) HasCredentials() bool {
	return r != nil && r.Username != "" && r.Password != ""
}

// IsRemote 判断是否需要回源。
func (l Location) IsRemote() bool {
	return l.Remote != nil
}

// Base 返回仓库的共享字段。
func (l Location) Base() store.StoreBase {
	return l.Store.Common()
}
