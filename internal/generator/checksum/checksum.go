// Package checksum 为仓库中的任意文件按需生成 .md5/.sha1/.sha256/.sha512 校验文件。
package checksum

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/any-hub/content-hub/internal/digest"
	"github.com/any-hub/content-hub/internal/generator"
	"github.com/any-hub/content-hub/internal/store"
	"github.com/any-hub/content-hub/internal/transfer"
)

// Name 是生成器名称。
const Name = "checksum"

var suffixes = map[string]digest.Algorithm{
	".md5":    digest.MD5,
	".sha1":   digest.SHA1,
	".sha256": digest.SHA256,
	".sha512": digest.SHA512,
}

// Generator 由内容摘要生成校验文件，依赖即被校验的原文件。
type Generator struct {
	generator.Base
	// Listed 控制目录列表中额外展示的校验文件类型。
	Listed []digest.Algorithm
}

// New 返回默认在目录中展示 md5/sha1 的生成器。
func New() *Generator {
	return &Generator{Listed: []digest.Algorithm{digest.MD5, digest.SHA1}}
}

func (g *Generator) Name() string { return Name }

func (g *Generator) CanProcess(p string) bool {
	_, _, ok := Split(p)
	return ok
}

// Split 将校验文件路径拆为原文件路径与算法。
func Split(p string) (string, digest.Algorithm, bool) {
	ext := strings.ToLower(path.Ext(p))
	alg, ok := suffixes[ext]
	if !ok {
		return "", "", false
	}
	base := strings.TrimSuffix(p, p[len(p)-len(ext):])
	if base == "" || strings.HasSuffix(base, "/") {
		return "", "", false
	}
	return base, alg, true
}

func (g *Generator) GenerateFileContent(ctx context.Context, r generator.Resolver, s store.ArtifactStore, p string) (*generator.Generated, error) {
	base, alg, ok := Split(p)
	if !ok {
		return nil, nil
	}
	key := store.KeyOf(s)
	t, err := r.RetrieveFirst(ctx, []store.StoreKey{key}, base)
	if err != nil || t == nil {
		return nil, err
	}

	rec, err := r.Digest(ctx, t.Origin, t.Path, alg)
	if err != nil {
		if errors.Is(err, digest.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	sum, _ := rec.Checksum(alg)
	return &generator.Generated{
		Content:      strings.NewReader(sum),
		Dependencies: []transfer.Ref{{Store: t.Origin, Path: t.Path}},
	}, nil
}

// GenerateDirectoryContent 为列表中尚无校验文件的普通文件补充虚拟条目。
func (g *Generator) GenerateDirectoryContent(_ context.Context, _ generator.Resolver, s store.ArtifactStore, dir string, existing []transfer.Resource) ([]transfer.Resource, error) {
	present := make(map[string]struct{}, len(existing))
	for _, res := range existing {
		present[res.Name] = struct{}{}
	}

	var extra []transfer.Resource
	for _, res := range existing {
		if res.IsDir {
			continue
		}
		if _, _, isChecksum := Split(res.Name); isChecksum {
			continue
		}
		for _, alg := range g.Listed {
			name := res.Name + "." + string(alg)
			if _, ok := present[name]; ok {
				continue
			}
			present[name] = struct{}{}
			extra = append(extra, transfer.Resource{
				Store:   store.KeyOf(s),
				Path:    path.Join(dir, name),
				Name:    name,
				ModTime: res.ModTime,
			})
		}
	}
	return extra, nil
}
