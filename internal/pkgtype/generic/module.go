// Package generic 注册不区分快照、不改写路径的通用 HTTP 包类型。
package generic

import "github.com/any-hub/content-hub/internal/pkgtype"

func init() {
	pkgtype.MustRegister(pkgtype.Metadata{
		Key:         "generic-http",
		Description: "Generic HTTP content with raw path layout",
	})
}
