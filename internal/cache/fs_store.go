package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const tempPrefix = ".cache-"

// NewStore 以 basePath 为根目录构建磁盘存储，整站复用一份实例。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一物理路径并发写入，锁表随写入结束自动收缩。
type fileStore struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Get(ctx context.Context, physicalPath string) (*ReadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filePath, err := s.entryPath(physicalPath)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &ReadResult{
		Entry:  s.entryFromInfo(physicalPath, filePath, info),
		Reader: f,
	}, nil
}

func (s *fileStore) Stat(ctx context.Context, physicalPath string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filePath, err := s.entryPath(physicalPath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}
	entry := s.entryFromInfo(physicalPath, filePath, info)
	return &entry, nil
}

func (s *fileStore) Put(ctx context.Context, physicalPath string, body io.Reader, opts PutOptions) (*Entry, error) {
	filePath, err := s.entryPath(physicalPath)
	if err != nil {
		return nil, err
	}

	unlock := s.lockEntry(physicalPath)
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), tempPrefix+"*")
	if err != nil {
		return nil, err
	}
	tempName := tempFile.Name()

	var dst io.Writer = tempFile
	if len(opts.Hooks) > 0 {
		writers := []io.Writer{tempFile}
		for _, hook := range opts.Hooks {
			if w := hook.Writer(); w != nil {
				writers = append(writers, w)
			}
		}
		dst = io.MultiWriter(writers...)
	}

	written, err := copyWithContext(ctx, dst, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return nil, err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return nil, err
	}

	modTime := opts.ModTime
	if modTime.IsZero() {
		modTime = time.Now().UTC()
	}
	if err := os.Chtimes(filePath, modTime, modTime); err != nil {
		return nil, err
	}

	entry := Entry{
		Path:      physicalPath,
		FilePath:  filePath,
		SizeBytes: written,
		ModTime:   modTime,
	}
	// 回调在锁内执行：Put 返回前摘要等派生状态已与新内容一致。
	for _, hook := range opts.Hooks {
		hook.Complete(entry)
	}
	return &entry, nil
}

func (s *fileStore) Remove(ctx context.Context, physicalPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	filePath, err := s.entryPath(physicalPath)
	if err != nil {
		return err
	}

	unlock := s.lockEntry(physicalPath)
	defer unlock()

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	if info.IsDir() {
		return ErrNotFound
	}
	if err := os.Remove(filePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (s *fileStore) List(ctx context.Context, physicalDir string) ([]ListEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dirPath, err := s.entryPath(physicalDir)
	if err != nil {
		return nil, err
	}
	items, err := os.ReadDir(dirPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrInvalid) {
			return nil, ErrNotFound
		}
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			if info, statErr := os.Stat(dirPath); statErr == nil && !info.IsDir() {
				return nil, ErrNotFound
			}
		}
		return nil, err
	}

	result := make([]ListEntry, 0, len(items))
	for _, item := range items {
		if strings.HasPrefix(item.Name(), tempPrefix) {
			continue
		}
		info, err := item.Info()
		if err != nil {
			continue
		}
		entry := ListEntry{
			Name:    item.Name(),
			IsDir:   item.IsDir(),
			ModTime: info.ModTime(),
		}
		if !item.IsDir() {
			entry.SizeBytes = info.Size()
		}
		result = append(result, entry)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *fileStore) IsWriteLocked(physicalPath string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock := s.locks[physicalPath]
	return lock != nil && lock.refs > 0
}

func (s *fileStore) lockEntry(physicalPath string) func() {
	key := physicalPath
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func (s *fileStore) entryPath(physicalPath string) (string, error) {
	rel := path.Clean("/" + strings.ReplaceAll(physicalPath, "\\", "/"))
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		return s.basePath, nil
	}

	filePath := filepath.Join(s.basePath, filepath.FromSlash(rel))
	if filePath != s.basePath && !strings.HasPrefix(filePath, s.basePath+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}
	return filePath, nil
}

func (s *fileStore) entryFromInfo(physicalPath, filePath string, info fs.FileInfo) Entry {
	return Entry{
		Path:      physicalPath,
		FilePath:  filePath,
		SizeBytes: info.Size(),
		ModTime:   info.ModTime(),
	}
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
