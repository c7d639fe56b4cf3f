package store

import (
	"path"
	"regexp"
	"strings"
	"time"
)

// PathStyle 决定逻辑路径到物理路径的映射方式。
type PathStyle string

const (
	PathStylePlain  PathStyle = "plain"
	PathStyleHashed PathStyle = "hashed"
)

// StoreBase 是三类仓库共享的字段。
type StoreBase struct {
	Key                StoreKey
	Description        string
	Disabled           bool
	PathStyle          PathStyle
	PathMaskPatterns   []string
	AuthoritativeIndex bool
}

// Common 返回共享字段副本，供不关心具体变体的调用方使用。
func (b *StoreBase) Common() StoreBase {
	out := *b
	out.PathMaskPatterns = append([]string(nil), b.PathMaskPatterns...)
	return out
}

// AllowsPath 根据 PathMaskPatterns 判断仓库是否可能包含该路径；未配置掩码时总是允许。
// 掩码支持 path.Match 通配、目录前缀，以及 r|regex| 形式的正则。
func (b StoreBase) AllowsPath(p string) bool {
	if len(b.PathMaskPatterns) == 0 {
		return true
	}
	clean := strings.TrimPrefix(path.Clean("/"+p), "/")
	for _, pattern := range b.PathMaskPatterns {
		if matchMask(pattern, clean) {
			return true
		}
	}
	return false
}

func matchMask(pattern, clean string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return false
	}
	if strings.HasPrefix(pattern, "r|") && strings.HasSuffix(pattern, "|") && len(pattern) > 3 {
		re, err := regexp.Compile(pattern[2 : len(pattern)-1])
		return err == nil && re.MatchString(clean)
	}
	trimmed := strings.Trim(pattern, "/")
	if ok, err := path.Match(trimmed, clean); err == nil && ok {
		return true
	}
	if clean == "" {
		return true
	}
	// 按路径段比较：掩码的前缀段命中即视为其下的内容，父目录（浏览请求）同样放行。
	want := strings.Split(trimmed, "/")
	got := strings.Split(clean, "/")
	n := len(want)
	if len(got) < n {
		n = len(got)
	}
	for i := 0; i < n; i++ {
		if ok, err := path.Match(want[i], got[i]); err != nil || !ok {
			return false
		}
	}
	return true
}

// ArtifactStore 是 hosted/remote/group 的封闭变体，调用方通过类型分支区分。
type ArtifactStore interface {
	Common() StoreBase
	clone() ArtifactStore
}

// HostedRepository 是可写入的本地仓库。
type HostedRepository struct {
	StoreBase
	AllowReleases  bool
	AllowSnapshots bool
	ReadOnly       bool
}

// RemoteRepository 代理并缓存上游内容。
type RemoteRepository struct {
	StoreBase
	URL      string
	Proxy    string
	Username string
	Password string
	// Timeout 为 0 时使用全局 UpstreamTimeout。
	Timeout time.Duration
	// CacheTTL 为 0 表示缓存永不过期。
	CacheTTL time.Duration
	// CacheOnly 仓库只读取本地缓存，从不访问上游。
	CacheOnly bool
}

// HasCredentials 表示是否配置了完整的上游凭证。
func (r *RemoteRepository) HasCredentials() bool {
	return r.Username != "" && r.Password != ""
}

// Group 是成员仓库的有序虚拟并集，成员顺序即解析优先级。
type Group struct {
	StoreBase
	Constituents []StoreKey
}

func (h *HostedRepository) clone() ArtifactStore {
	out := *h
	out.StoreBase = h.Common()
	return &out
}

func (r *RemoteRepository) clone() ArtifactStore {
	out := *r
	out.StoreBase = r.Common()
	return &out
}

func (g *Group) clone() ArtifactStore {
	out := *g
	out.StoreBase = g.Common()
	out.Constituents = append([]StoreKey(nil), g.Constituents...)
	return &out
}

// Clone 返回深拷贝，保证调用方拿到的是快照。
func Clone(s ArtifactStore) ArtifactStore {
	if s == nil {
		return nil
	}
	return s.clone()
}

// KeyOf 返回仓库键。
func KeyOf(s ArtifactStore) StoreKey {
	if s == nil {
		return StoreKey{}
	}
	return s.Common().Key
}
