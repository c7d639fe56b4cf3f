package cache

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestStorePutAndGet(t *testing.T) {
	store := newTestStore(t)
	physical := "maven/hosted-local/org/demo/1.0/demo-1.0.jar"

	modTime := time.Now().Add(-time.Hour).UTC()
	payload := []byte("payload")
	if _, err := store.Put(context.Background(), physical, bytes.NewReader(payload), PutOptions{ModTime: modTime}); err != nil {
		t.Fatalf("put error: %v", err)
	}

	result, err := store.Get(context.Background(), physical)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	defer result.Reader.Close()

	body, err := io.ReadAll(result.Reader)
	if err != nil {
		t.Fatalf("read cached body error: %v", err)
	}
	if string(body) != string(payload) {
		t.Fatalf("cached payload mismatch: %s", string(body))
	}
	if result.Entry.SizeBytes != int64(len(payload)) {
		t.Fatalf("size mismatch: %d", result.Entry.SizeBytes)
	}
	if !result.Entry.ModTime.Equal(modTime) {
		t.Fatalf("modtime mismatch: expected %v got %v", modTime, result.Entry.ModTime)
	}
}

func TestStoreGetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "maven/hosted-local/missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Stat(context.Background(), "maven/hosted-local/missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from stat, got %v", err)
	}
}

func TestStoreGetDirectoryIsMissing(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Put(context.Background(), "npm/remote-npmjs/a/b", strings.NewReader("x"), PutOptions{}); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if _, err := store.Get(context.Background(), "npm/remote-npmjs/a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("directory should read as missing, got %v", err)
	}
}

func TestStoreRemove(t *testing.T) {
	store := newTestStore(t)
	physical := "maven/hosted-local/cache/remove"
	if _, err := store.Put(context.Background(), physical, bytes.NewReader([]byte("data")), PutOptions{}); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if err := store.Remove(context.Background(), physical); err != nil {
		t.Fatalf("remove error: %v", err)
	}
	if _, err := store.Get(context.Background(), physical); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}
	if err := store.Remove(context.Background(), physical); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second remove should report ErrNotFound, got %v", err)
	}
}

func TestStoreIgnoresDirectoryPaths(t *testing.T) {
	store := newTestStore(t)
	fs, ok := store.(*fileStore)
	if !ok {
		t.Fatalf("unexpected store type %T", store)
	}

	dir := filepath.Join(fs.basePath, "golang", "remote-proxy", "dir")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}
	if err := store.Remove(context.Background(), "golang/remote-proxy/dir"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("removing a directory should report ErrNotFound, got %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("directory should survive remove: %v", err)
	}
}

func TestStoreRejectsEscapingPath(t *testing.T) {
	store := newTestStore(t)
	// Clean 把 ../ 收敛在根目录内，不会越界。
	entry, err := store.Put(context.Background(), "../../etc/passwd", strings.NewReader("x"), PutOptions{})
	if err != nil {
		t.Fatalf("put error: %v", err)
	}
	fs := store.(*fileStore)
	if !strings.HasPrefix(entry.FilePath, fs.basePath) {
		t.Fatalf("file escaped base path: %s", entry.FilePath)
	}
}

func TestStoreList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, p := range []string{"maven/hosted-local/org/b.pom", "maven/hosted-local/org/a.jar", "maven/hosted-local/org/sub/c.jar"} {
		if _, err := store.Put(ctx, p, strings.NewReader(p), PutOptions{}); err != nil {
			t.Fatalf("put %s error: %v", p, err)
		}
	}

	items, err := store.List(ctx, "maven/hosted-local/org")
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(items))
	}
	if items[0].Name != "a.jar" || items[1].Name != "b.pom" || items[2].Name != "sub" || !items[2].IsDir {
		t.Fatalf("unexpected listing: %+v", items)
	}

	if _, err := store.List(ctx, "maven/hosted-local/nothing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing dir, got %v", err)
	}
}

func TestStorePutRunsHooks(t *testing.T) {
	store := newTestStore(t)
	hook := &sha1Hook{h: sha1.New(), store: store}
	payload := "hook payload"

	entry, err := store.Put(context.Background(), "generic-http/hosted-files/a.txt", strings.NewReader(payload), PutOptions{Hooks: []WriteHook{hook}})
	if err != nil {
		t.Fatalf("put error: %v", err)
	}

	sum := sha1.Sum([]byte(payload))
	if hook.sum != hex.EncodeToString(sum[:]) {
		t.Fatalf("hook digest mismatch: %s", hook.sum)
	}
	if hook.entry.SizeBytes != entry.SizeBytes || hook.entry.Path != entry.Path {
		t.Fatalf("hook entry mismatch: %+v vs %+v", hook.entry, entry)
	}
	if !hook.lockedDuringComplete {
		t.Fatalf("complete should run while the entry lock is held")
	}
	if store.IsWriteLocked("generic-http/hosted-files/a.txt") {
		t.Fatalf("lock should be released after put")
	}
}

func TestStorePutCanceledContextLeavesNoFile(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.Put(ctx, "maven/hosted-local/canceled", strings.NewReader("data"), PutOptions{}); err == nil {
		t.Fatalf("expected error for canceled context")
	}
	if _, err := store.Stat(context.Background(), "maven/hosted-local/canceled"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("canceled put must not leave a file, got %v", err)
	}
	items, err := store.List(context.Background(), "maven/hosted-local")
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("temp files should be cleaned up: %+v", items)
	}
}

type sha1Hook struct {
	h                    hash.Hash
	sum                  string
	entry                Entry
	lockedDuringComplete bool
	store                Store
}

func (h *sha1Hook) Writer() io.Writer { return h.h }

func (h *sha1Hook) Complete(entry Entry) {
	h.sum = hex.EncodeToString(h.h.Sum(nil))
	h.entry = entry
	if h.store != nil {
		h.lockedDuringComplete = h.store.IsWriteLocked(entry.Path)
	}
}

func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	return store
}
