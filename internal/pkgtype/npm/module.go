// Package npm 注册 npm Registry 包类型：metadata 落盘路径改写、tarball 不可变判定，
// 以及 group 级 package.json 合并生成器。
package npm

import (
	"strings"
	"time"

	"github.com/any-hub/content-hub/internal/generator"
	"github.com/any-hub/content-hub/internal/pathgen"
	"github.com/any-hub/content-hub/internal/pkgtype"
	"github.com/any-hub/content-hub/internal/store"
)

const npmDefaultTTL = 30 * time.Minute

func init() {
	pkgtype.MustRegister(pkgtype.Metadata{
		Key:            "npm",
		Description:    "NPM registry with metadata/tarball layout split and group metadata merge",
		CacheTTLHint:   npmDefaultTTL,
		PathCalculator: pathgen.CalculatorFunc(rewritePhysical),
		IsImmutable:    isTarball,
		Generators: func() []generator.Generator {
			return []generator.Generator{NewMetadataMerger()}
		},
	})
}

func isTarball(p string) bool {
	return strings.Contains("/"+strings.TrimPrefix(p, "/"), "/-/") && strings.HasSuffix(p, ".tgz")
}

// IsMetadataPath 判断逻辑路径是否为包 metadata：`pkg`、`@scope/pkg` 或其 package.json。
func IsMetadataPath(p string) bool {
	clean := strings.Trim(p, "/")
	if clean == "" || strings.Contains("/"+clean+"/", "/-/") {
		return false
	}
	clean = strings.TrimSuffix(clean, "/package.json")
	segs := strings.Split(clean, "/")
	switch len(segs) {
	case 1:
		return !strings.HasPrefix(segs[0], "@") && !hasFileSuffix(segs[0])
	case 2:
		return strings.HasPrefix(segs[0], "@")
	}
	return false
}

// 包名允许包含 "."，因此只排除常见文件后缀。
var fileSuffixes = []string{".tgz", ".json", ".md5", ".sha1", ".sha256", ".sha512"}

func hasFileSuffix(name string) bool {
	for _, suffix := range fileSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// rewritePhysical 将 metadata JSON 落盘至 package.json，避免与 tarball 所在的 `/-/`
// 子目录冲突；tarball 保持原始路径。仅对 plain 布局生效。
func rewritePhysical(key store.StoreKey, physical string) string {
	root := pathgen.StoreRoot(key) + "/"
	if !strings.HasPrefix(physical, root) {
		return physical
	}
	rel := strings.TrimPrefix(physical, root)
	if strings.HasSuffix(rel, "/package.json") || !IsMetadataPath(rel) {
		return physical
	}
	return root + strings.TrimSuffix(rel, "/") + "/package.json"
}
