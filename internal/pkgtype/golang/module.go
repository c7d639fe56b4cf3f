// Package golang 注册 Go module proxy 包类型：模块文件不可变判定与 @v/list 合并生成器。
package golang

import (
	"strings"
	"time"

	"github.com/any-hub/content-hub/internal/generator"
	"github.com/any-hub/content-hub/internal/pkgtype"
)

const goDefaultTTL = 30 * time.Minute

func init() {
	pkgtype.MustRegister(pkgtype.Metadata{
		Key:          "golang",
		Description:  "Go module proxy with versions list merge across group members",
		CacheTTLHint: goDefaultTTL,
		IsImmutable:  isModuleFile,
		Generators: func() []generator.Generator {
			return []generator.Generator{NewListMerger()}
		},
	})
}

// isModuleFile 判断 /@v/ 下的 .zip/.mod/.info 是否为不可变模块文件。
func isModuleFile(p string) bool {
	return strings.Contains(p, "/@v/") &&
		(strings.HasSuffix(p, ".zip") ||
			strings.HasSuffix(p, ".mod") ||
			strings.HasSuffix(p, ".info"))
}
