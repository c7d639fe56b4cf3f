// Package maven 注册 Maven 仓库的快照判定与远程缓存策略。
package maven

import (
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/any-hub/content-hub/internal/pkgtype"
)

const mavenDefaultTTL = 30 * time.Minute

// 带时间戳的快照文件名，例如 demo-1.0-20240102.030405-7.jar。
var timestampedSnapshot = regexp.MustCompile(`-\d{8}\.\d{6}-\d+(-[^/.]+)?\.[^/]+$`)

func init() {
	pkgtype.MustRegister(pkgtype.Metadata{
		Key:          "maven",
		Description:  "Maven repository layout with release/snapshot classification",
		CacheTTLHint: mavenDefaultTTL,
		IsSnapshot:   isSnapshot,
		IsImmutable:  isImmutable,
	})
}

func isSnapshot(p string) bool {
	clean := strings.Trim(p, "/")
	for _, seg := range strings.Split(clean, "/") {
		if strings.HasSuffix(seg, "-SNAPSHOT") {
			return true
		}
	}
	return timestampedSnapshot.MatchString(path.Base(clean))
}

// isImmutable 发布版本的构件不会变化；maven-metadata.xml 与快照需按 TTL 刷新。
func isImmutable(p string) bool {
	if strings.Contains(path.Base(p), "maven-metadata") {
		return false
	}
	return !isSnapshot(p)
}
