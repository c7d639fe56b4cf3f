// Package transfer 定义内容句柄：已定位、可能尚未落盘的 (仓库, 逻辑路径, 物理路径)。
package transfer

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/any-hub/content-hub/internal/cache"
	"github.com/any-hub/content-hub/internal/store"
)

// Transfer 是内容句柄，本身不持有任何资源，可被多个调用方共享。
type Transfer struct {
	Origin   store.StoreKey
	Path     string
	Physical string
	// Generated 表示内容由生成器产出。
	Generated bool

	storage cache.Store
}

// New 创建句柄。
func New(storage cache.Store, origin store.StoreKey, logical, physical string) *Transfer {
	return &Transfer{Origin: origin, Path: logical, Physical: physical, storage: storage}
}

// Exists 判断物理路径上是否已有内容。
func (t *Transfer) Exists(ctx context.Context) bool {
	if t == nil || t.storage == nil {
		return false
	}
	_, err := t.storage.Stat(ctx, t.Physical)
	return err == nil
}

// WriteLocked 表示物理路径上是否有写入尚未提交。
func (t *Transfer) WriteLocked() bool {
	return t != nil && t.storage != nil && t.storage.IsWriteLocked(t.Physical)
}

// Stat 返回落盘条目信息。
func (t *Transfer) Stat(ctx context.Context) (*cache.Entry, error) {
	return t.storage.Stat(ctx, t.Physical)
}

// Open 打开内容以流式读取，调用方负责关闭 Reader。
func (t *Transfer) Open(ctx context.Context) (*cache.ReadResult, error) {
	return t.storage.Get(ctx, t.Physical)
}

// ReadAll 读取全部内容，仅用于小体积元数据。
func (t *Transfer) ReadAll(ctx context.Context) ([]byte, error) {
	res, err := t.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer res.Reader.Close()
	return io.ReadAll(res.Reader)
}

// Storage 返回句柄所在的字节存储。
func (t *Transfer) Storage() cache.Store {
	return t.storage
}

func (t *Transfer) String() string {
	if t == nil {
		return "<nil>"
	}
	return t.Origin.String() + ":" + t.Path
}

// IsNotFound 判断存储层错误是否表示内容不存在。
func IsNotFound(err error) bool {
	return errors.Is(err, cache.ErrNotFound)
}

// Resource 是目录列表中的一项，Store 为第一个提供该项的仓库。
type Resource struct {
	Store   store.StoreKey `json:"store"`
	Path    string         `json:"path"`
	Name    string         `json:"name"`
	IsDir   bool           `json:"is_dir"`
	Size    int64          `json:"size"`
	ModTime time.Time      `json:"mod_time"`
}

// Ref 标识某个仓库中的一个逻辑路径，用于记录生成内容的依赖。
type Ref struct {
	Store store.StoreKey `json:"store"`
	Path  string         `json:"path"`
}

func (r Ref) String() string {
	return r.Store.String() + ":" + r.Path
}
