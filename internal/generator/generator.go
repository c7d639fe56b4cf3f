// Package generator 定义内容生成器插件契约与有序注册表。
//
// 当直接解析未命中时，ResolutionPipeline 依注册顺序询问生成器：单个具体仓库的
// 文件/目录生成，group 级别的合并生成，以及写入/删除后的回调。生成器经由
// Resolver 回调管线获取依赖内容，该路径不会重新获取当前调用持有的单飞锁。
package generator

import (
	"context"
	"io"

	"github.com/any-hub/content-hub/internal/digest"
	"github.com/any-hub/content-hub/internal/store"
	"github.com/any-hub/content-hub/internal/transfer"
)

// Resolver 是生成器回调管线的入口。
type Resolver interface {
	RetrieveFirst(ctx context.Context, keys []store.StoreKey, path string) (*transfer.Transfer, error)
	RetrieveAll(ctx context.Context, keys []store.StoreKey, path string) ([]*transfer.Transfer, error)
	Digest(ctx context.Context, key store.StoreKey, path string, algs ...digest.Algorithm) (*digest.Record, error)
}

// Generated 是生成结果；Dependencies 为内容来源，任一变化都会令结果失效。
type Generated struct {
	Content      io.Reader
	Dependencies []transfer.Ref
}

// Generator 是内容生成器插件。返回 (nil, nil) 表示无法生成该路径。
type Generator interface {
	Name() string
	CanProcess(path string) bool

	GenerateFileContent(ctx context.Context, r Resolver, s store.ArtifactStore, path string) (*Generated, error)
	GenerateDirectoryContent(ctx context.Context, r Resolver, s store.ArtifactStore, path string, existing []transfer.Resource) ([]transfer.Resource, error)
	GenerateGroupFileContent(ctx context.Context, r Resolver, g *store.Group, members []store.StoreKey, path string) (*Generated, error)
	GenerateGroupDirectoryContent(ctx context.Context, r Resolver, g *store.Group, members []store.StoreKey, path string, existing []transfer.Resource) ([]transfer.Resource, error)

	HandleContentStorage(ctx context.Context, r Resolver, s store.ArtifactStore, path string) error
	HandleContentDeletion(ctx context.Context, r Resolver, s store.ArtifactStore, path string) error
}

// Base 提供全部方法的空实现，具体生成器嵌入后只需覆盖关心的部分。
type Base struct{}

func (Base) GenerateFileContent(context.Context, Resolver, store.ArtifactStore, string) (*Generated, error) {
	return nil, nil
}

func (Base) GenerateDirectoryContent(context.Context, Resolver, store.ArtifactStore, string, []transfer.Resource) ([]transfer.Resource, error) {
	return nil, nil
}

func (Base) GenerateGroupFileContent(context.Context, Resolver, *store.Group, []store.StoreKey, string) (*Generated, error) {
	return nil, nil
}

func (Base) GenerateGroupDirectoryContent(context.Context, Resolver, *store.Group, []store.StoreKey, string, []transfer.Resource) ([]transfer.Resource, error) {
	return nil, nil
}

func (Base) HandleContentStorage(context.Context, Resolver, store.ArtifactStore, string) error {
	return nil
}

func (Base) HandleContentDeletion(context.Context, Resolver, store.ArtifactStore, string) error {
	return nil
}
