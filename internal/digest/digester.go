// Package digest 计算并缓存内容的校验和、大小与修改时间。
//
// 记录以 (仓库键, 逻辑路径) 为键，按需惰性计算，并可通过 WriteHook 在写入时
// 被动捕获，省去一次额外读取。每个键维护一个代次计数：写入完成或失效都会
// 推进代次，跨代次完成的计算结果会被丢弃并重算，保证读到的记录不早于最后
// 一次完成的写入或删除。
package digest

import (
	"context"
	"errors"
	"fmt"
	"hash"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/any-hub/content-hub/internal/cache"
	"github.com/any-hub/content-hub/internal/store"
)

// ErrNotFound 表示被摘要的内容不存在。
var ErrNotFound = errors.New("digest target not found")

const maxAttempts = 3

// Record 是一个内容的摘要记录。
type Record struct {
	Size         int64                `json:"size"`
	LastModified time.Time            `json:"last_modified"`
	Checksums    map[Algorithm]string `json:"checksums"`
}

// Covers 判断记录是否包含全部算法。
func (r *Record) Covers(algs []Algorithm) bool {
	if r == nil {
		return false
	}
	for _, a := range algs {
		if _, ok := r.Checksums[a]; !ok {
			return false
		}
	}
	return true
}

// Checksum 返回某个算法的十六进制值。
func (r *Record) Checksum(a Algorithm) (string, bool) {
	if r == nil {
		return "", false
	}
	v, ok := r.Checksums[a]
	return v, ok
}

func (r *Record) clone() *Record {
	out := &Record{Size: r.Size, LastModified: r.LastModified, Checksums: make(map[Algorithm]string, len(r.Checksums))}
	for k, v := range r.Checksums {
		out.Checksums[k] = v
	}
	return out
}

func (r *Record) matches(entry cache.Entry) bool {
	return r.Size == entry.SizeBytes && r.LastModified.Equal(entry.ModTime)
}

// Locator 将 (仓库键, 逻辑路径) 解析为字节存储中的物理路径。
type Locator func(ctx context.Context, key store.StoreKey, logicalPath string) (string, error)

type ref struct {
	store store.StoreKey
	path  string
}

func newRef(key store.StoreKey, logical string) ref {
	return ref{store: key, path: strings.TrimPrefix(path.Clean("/"+logical), "/")}
}

// Digester 是进程共享的摘要缓存，可并发使用。
type Digester struct {
	storage cache.Store
	locate  Locator

	mu      sync.Mutex
	records map[ref]*Record
	// gens 只为有计算进行中的键保留代次，计算全部结束后即清除。
	gens     map[ref]uint64
	inflight map[ref]int
}

// New 构建摘要器。
func New(storage cache.Store, locate Locator) *Digester {
	return &Digester{
		storage: storage,
		locate:  locate,
		records:  make(map[ref]*Record),
		gens:     make(map[ref]uint64),
		inflight: make(map[ref]int),
	}
}

// Digest 返回覆盖 algs 的记录；缺失的算法通过一次流式读取补齐。
func (d *Digester) Digest(ctx context.Context, key store.StoreKey, logicalPath string, algs ...Algorithm) (*Record, error) {
	algs = normalize(algs)
	if len(algs) == 0 {
		algs = DefaultAlgorithms
	}
	r := newRef(key, logicalPath)

	var last *Record
	for attempt := 0; attempt < maxAttempts; attempt++ {
		d.mu.Lock()
		cached := d.records[r]
		if cached.Covers(algs) {
			out := cached.clone()
			d.mu.Unlock()
			return out, nil
		}
		gen := d.gens[r]
		d.inflight[r]++
		var snapshot *Record
		if cached != nil {
			snapshot = cached.clone()
		}
		d.mu.Unlock()

		computed, err := d.compute(ctx, key, r.path, snapshot, algs)

		d.mu.Lock()
		current := err == nil && d.gens[r] == gen
		if current {
			d.records[r] = computed
		}
		d.releaseLocked(r)
		d.mu.Unlock()

		if err != nil {
			return nil, err
		}
		if current {
			return computed.clone(), nil
		}
		last = computed
	}
	// 持续有写入竞争时返回最后一次计算结果，但不缓存。
	return last.clone(), nil
}

func (d *Digester) compute(ctx context.Context, key store.StoreKey, logical string, snapshot *Record, algs []Algorithm) (*Record, error) {
	physical, err := d.locate(ctx, key, logical)
	if err != nil {
		return nil, err
	}
	res, err := d.storage.Get(ctx, physical)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, key, logical)
		}
		return nil, err
	}
	defer res.Reader.Close()

	next := &Record{Size: res.Entry.SizeBytes, LastModified: res.Entry.ModTime, Checksums: make(map[Algorithm]string)}
	missing := algs
	if snapshot != nil && snapshot.matches(res.Entry) {
		next = snapshot
		missing = missing[:0:0]
		for _, a := range algs {
			if _, ok := snapshot.Checksums[a]; !ok {
				missing = append(missing, a)
			}
		}
	}

	hashes := newHashSet(missing)
	if _, err := io.Copy(hashes.writer(), contextReader{ctx: ctx, r: res.Reader}); err != nil {
		return nil, err
	}
	hashes.sumInto(next.Checksums)
	return next, nil
}

// Cached 返回当前缓存的记录（不触发计算）。
func (d *Digester) Cached(key store.StoreKey, logicalPath string) (*Record, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.records[newRef(key, logicalPath)]
	if !ok {
		return nil, false
	}
	return rec.clone(), true
}

// Invalidate 丢弃记录并推进代次，进行中的计算结果将不会被缓存。
func (d *Digester) Invalidate(key store.StoreKey, logicalPath string) {
	r := newRef(key, logicalPath)
	d.mu.Lock()
	delete(d.records, r)
	d.bumpLocked(r)
	d.mu.Unlock()
}

// bumpLocked 令进行中的计算结果失效；没有进行中的计算时无需保留代次。
func (d *Digester) bumpLocked(r ref) {
	if d.inflight[r] > 0 {
		d.gens[r]++
		return
	}
	delete(d.gens, r)
}

func (d *Digester) releaseLocked(r ref) {
	d.inflight[r]--
	if d.inflight[r] <= 0 {
		delete(d.inflight, r)
		delete(d.gens, r)
	}
}

// tracked 返回仍保留代次的键数量。
func (d *Digester) tracked() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.gens) + len(d.inflight)
}

// WriteHook 返回被动捕获摘要的写入钩子，写入完成后整体替换记录。
func (d *Digester) WriteHook(key store.StoreKey, logicalPath string, algs ...Algorithm) cache.WriteHook {
	algs = normalize(algs)
	if len(algs) == 0 {
		algs = DefaultAlgorithms
	}
	return &writeHook{d: d, ref: newRef(key, logicalPath), hashes: newHashSet(algs)}
}

type writeHook struct {
	d      *Digester
	ref    ref
	hashes hashSet
}

func (h *writeHook) Writer() io.Writer { return h.hashes.writer() }

func (h *writeHook) Complete(entry cache.Entry) {
	rec := &Record{Size: entry.SizeBytes, LastModified: entry.ModTime, Checksums: make(map[Algorithm]string)}
	h.hashes.sumInto(rec.Checksums)

	h.d.mu.Lock()
	h.d.records[h.ref] = rec
	h.d.bumpLocked(h.ref)
	h.d.mu.Unlock()
}

type hashSet map[Algorithm]hash.Hash

func newHashSet(algs []Algorithm) hashSet {
	set := make(hashSet, len(algs))
	for _, a := range algs {
		if h := a.New(); h != nil {
			set[a] = h
		}
	}
	return set
}

func (s hashSet) writer() io.Writer {
	writers := make([]io.Writer, 0, len(s))
	for _, h := range s {
		writers = append(writers, h)
	}
	if len(writers) == 0 {
		return io.Discard
	}
	return io.MultiWriter(writers...)
}

func (s hashSet) sumInto(dst map[Algorithm]string) {
	for a, h := range s {
		dst[a] = fmt.Sprintf("%x", h.Sum(nil))
	}
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
