package pkgtype

import (
	"time"

	"github.com/any-hub/content-hub/internal/generator"
	"github.com/any-hub/content-hub/internal/pathgen"
)

// Metadata 记录一个包类型的静态信息，供配置校验、路径计算与生成器装配使用。
type Metadata struct {
	Key         string
	Description string
	// CacheTTLHint 是 remote 仓库未配置 CacheTTL 时的默认值；0 表示永不过期。
	CacheTTLHint time.Duration
	// PathCalculator 在风格路径之后进一步改写物理路径，可为 nil。
	PathCalculator pathgen.Calculator
	// IsSnapshot 判断路径是否属于快照版本；nil 表示从不是快照。
	IsSnapshot func(path string) bool
	// IsImmutable 判断远程缓存是否无需按 TTL 重新获取；nil 表示全部可变。
	IsImmutable func(path string) bool
	// Generators 返回该包类型专属的生成器，每次调用返回新实例。
	Generators func() []generator.Generator
}

// Snapshot 判断路径是否为快照。
func (m Metadata) Snapshot(path string) bool {
	return m.IsSnapshot != nil && m.IsSnapshot(path)
}

// Immutable 判断远程缓存是否不可变。
func (m Metadata) Immutable(path string) bool {
	return m.IsImmutable != nil && m.IsImmutable(path)
}
