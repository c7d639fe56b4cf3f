package cache

import (
	"context"
	"errors"
	"io"
	"time"
)

// Store 负责管理磁盘字节存储的读写。磁盘布局遵循：
//
//	<StoragePath>/<physical path>
//
// 物理路径由 pathgen 计算，文件的 ModTime/Size 由文件系统提供。
type Store interface {
	// Get 返回一个可流式读取的条目。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, physicalPath string) (*ReadResult, error)

	// Stat 返回条目信息而不打开文件。
	Stat(ctx context.Context, physicalPath string) (*Entry, error)

	// Put 写入正文，并产出新的 Entry 描述。实现需通过临时文件 + rename
	// 保证写入原子性，并在失败时清理临时文件；成功后按顺序回调 opts.Hooks。
	Put(ctx context.Context, physicalPath string, body io.Reader, opts PutOptions) (*Entry, error)

	// Remove 删除正文文件；文件不存在时返回 ErrNotFound。
	Remove(ctx context.Context, physicalPath string) error

	// List 列出目录下的直接子项（不含临时文件）；目录不存在时返回 ErrNotFound。
	List(ctx context.Context, physicalDir string) ([]ListEntry, error)

	// IsWriteLocked 表示该路径当前是否有写入进行中。
	IsWriteLocked(physicalPath string) bool
}

// WriteHook 观察写入字节流，并在 rename 完成后收到最终 Entry。
type WriteHook interface {
	Writer() io.Writer
	Complete(entry Entry)
}

// PutOptions 控制写入过程中的可选属性。
type PutOptions struct {
	ModTime time.Time
	Hooks   []WriteHook
}

// Entry 表示一个已落盘条目，包含绝对文件路径及文件信息。
type Entry struct {
	Path      string    `json:"path"`
	FilePath  string    `json:"file_path"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
}

// ListEntry 是目录列表中的一项。
type ListEntry struct {
	Name      string    `json:"name"`
	IsDir     bool      `json:"is_dir"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
}

// ReadResult 组合 Entry 与正文 Reader，便于上层直接流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

var (
	// ErrNotFound 表示条目不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrInvalidPath 表示物理路径越出存储根目录。
	ErrInvalidPath = errors.New("invalid cache path")
)
