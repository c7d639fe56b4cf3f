package digest

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"

	"github.com/any-hub/content-hub/internal/cache"
	"github.com/any-hub/content-hub/internal/pathgen"
	"github.com/any-hub/content-hub/internal/store"
)

var hostedKey = store.MustParseKey("maven:hosted:local")

type fixture struct {
	storage  cache.Store
	digester *Digester
	locates  atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	storage, err := cache.NewStore(t.TempDir())
	require.NoError(t, err)
	gen := pathgen.New()
	f := &fixture{storage: storage}
	f.digester = New(storage, func(_ context.Context, key store.StoreKey, logical string) (string, error) {
		f.locates.Add(1)
		return gen.PhysicalPath(store.StoreBase{Key: key}, logical)
	})
	return f
}

func (f *fixture) put(t *testing.T, logical string, body []byte, hooks ...cache.WriteHook) {
	t.Helper()
	physical, err := pathgen.New().PhysicalPath(store.StoreBase{Key: hostedKey}, logical)
	require.NoError(t, err)
	_, err = f.storage.Put(context.Background(), physical, bytes.NewReader(body), cache.PutOptions{
		ModTime: time.Now().Add(-time.Minute),
		Hooks:   hooks,
	})
	require.NoError(t, err)
}

func md5Hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func TestDigestComputesRequestedAlgorithms(t *testing.T) {
	f := newFixture(t)
	body := []byte("jar bytes")
	f.put(t, "/a/b.jar", body)

	rec, err := f.digester.Digest(context.Background(), hostedKey, "/a/b.jar", MD5, SHA256)
	require.NoError(t, err)
	assert.Equal(t, md5Hex(body), rec.Checksums[MD5])
	assert.Equal(t, sha256Hex(body), rec.Checksums[SHA256])
	assert.Equal(t, int64(len(body)), rec.Size)
	assert.NotContains(t, rec.Checksums, SHA1)
}

func TestDigestServesCachedRecord(t *testing.T) {
	f := newFixture(t)
	f.put(t, "a/b.jar", []byte("x"))

	_, err := f.digester.Digest(context.Background(), hostedKey, "a/b.jar", MD5)
	require.NoError(t, err)
	_, err = f.digester.Digest(context.Background(), hostedKey, "/a/b.jar", MD5)
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.locates.Load(), "second call should be served from cache")
}

func TestDigestMergesMissingAlgorithms(t *testing.T) {
	f := newFixture(t)
	body := []byte("merge me")
	f.put(t, "a/c.pom", body)

	_, err := f.digester.Digest(context.Background(), hostedKey, "a/c.pom", MD5)
	require.NoError(t, err)
	rec, err := f.digester.Digest(context.Background(), hostedKey, "a/c.pom", SHA256, BLAKE3)
	require.NoError(t, err)

	want := blake3.Sum256(body)
	assert.Equal(t, md5Hex(body), rec.Checksums[MD5])
	assert.Equal(t, sha256Hex(body), rec.Checksums[SHA256])
	assert.Equal(t, hex.EncodeToString(want[:]), rec.Checksums[BLAKE3])
}

func TestWriteHookReplacesStaleRecord(t *testing.T) {
	f := newFixture(t)
	first := []byte("first")
	second := []byte("second version")

	f.put(t, "/a/b.jar", first, f.digester.WriteHook(hostedKey, "/a/b.jar", MD5, SHA256))
	rec, err := f.digester.Digest(context.Background(), hostedKey, "/a/b.jar", MD5, SHA256)
	require.NoError(t, err)
	assert.Equal(t, md5Hex(first), rec.Checksums[MD5])
	assert.Equal(t, int32(0), f.locates.Load(), "write hook should have captured checksums")

	f.put(t, "/a/b.jar", second, f.digester.WriteHook(hostedKey, "/a/b.jar", MD5, SHA256))
	rec, err = f.digester.Digest(context.Background(), hostedKey, "/a/b.jar", MD5, SHA256)
	require.NoError(t, err)
	assert.Equal(t, md5Hex(second), rec.Checksums[MD5])
	assert.Equal(t, sha256Hex(second), rec.Checksums[SHA256])
	assert.Equal(t, int64(len(second)), rec.Size)
}

func TestDigestDetectsOverwriteWithoutHook(t *testing.T) {
	f := newFixture(t)
	f.put(t, "x.txt", []byte("one"))
	_, err := f.digester.Digest(context.Background(), hostedKey, "x.txt", MD5)
	require.NoError(t, err)

	f.put(t, "x.txt", []byte("two two"))
	rec, err := f.digester.Digest(context.Background(), hostedKey, "x.txt", MD5, SHA256)
	require.NoError(t, err)
	assert.Equal(t, md5Hex([]byte("two two")), rec.Checksums[MD5])
}

func TestInvalidateDropsRecord(t *testing.T) {
	f := newFixture(t)
	f.put(t, "x.txt", []byte("one"), f.digester.WriteHook(hostedKey, "x.txt"))
	_, ok := f.digester.Cached(hostedKey, "x.txt")
	require.True(t, ok)

	f.digester.Invalidate(hostedKey, "/x.txt")
	_, ok = f.digester.Cached(hostedKey, "x.txt")
	assert.False(t, ok)
}

func TestGenerationCountersAreReleased(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		f.put(t, name, []byte(name), f.digester.WriteHook(hostedKey, name))
		_, err := f.digester.Digest(context.Background(), hostedKey, name, SHA256)
		require.NoError(t, err)
		f.digester.Invalidate(hostedKey, name)
	}
	_, err := f.digester.Digest(context.Background(), hostedKey, "missing.txt", MD5)
	require.Error(t, err)

	assert.Zero(t, f.digester.tracked())
}

func TestDigestMissingContent(t *testing.T) {
	f := newFixture(t)
	_, err := f.digester.Digest(context.Background(), hostedKey, "nope", MD5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestParseAlgorithms(t *testing.T) {
	algs, err := ParseAlgorithms([]string{"SHA-256", "md5", "sha256"})
	require.NoError(t, err)
	assert.Equal(t, []Algorithm{MD5, SHA256}, algs)

	_, err = ParseAlgorithm("crc32")
	assert.Error(t, err)
}
