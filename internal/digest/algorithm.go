package digest

import (
	"crypto/md5"
	"crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"fmt"
	"hash"
	"sort"
	"strings"

	godigest "github.com/opencontainers/go-digest"
	"github.com/zeebo/blake3"
)

// Algorithm 是受支持的摘要算法名称，同时用作校验文件扩展名。
type Algorithm string

const (
	MD5    Algorithm = "md5"
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
	BLAKE3 Algorithm = "blake3"
)

// DefaultAlgorithms 是写入钩子默认捕获的算法。
var DefaultAlgorithms = []Algorithm{MD5, SHA1, SHA256}

// All 返回全部受支持算法，按名称排序。
func All() []Algorithm {
	return []Algorithm{BLAKE3, MD5, SHA1, SHA256, SHA512}
}

// ParseAlgorithm 解析大小写不敏感的算法名，兼容 "sha-256" 写法。
func ParseAlgorithm(raw string) (Algorithm, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	name = strings.ReplaceAll(name, "-", "")
	alg := Algorithm(name)
	if !alg.Available() {
		return "", fmt.Errorf("unsupported digest algorithm %q", raw)
	}
	return alg, nil
}

// ParseAlgorithms 解析算法列表并去重。
func ParseAlgorithms(raw []string) ([]Algorithm, error) {
	out := make([]Algorithm, 0, len(raw))
	for _, item := range raw {
		alg, err := ParseAlgorithm(item)
		if err != nil {
			return nil, err
		}
		out = append(out, alg)
	}
	return normalize(out), nil
}

// Available 判断算法是否受支持。
func (a Algorithm) Available() bool {
	switch a {
	case MD5, SHA1, SHA256, SHA512, BLAKE3:
		return true
	}
	return false
}

// New 返回新的哈希实例；sha256/sha512 经由 go-digest 获取。
func (a Algorithm) New() hash.Hash {
	switch a {
	case MD5:
		return md5.New()
	case SHA1:
		return sha1.New()
	case SHA256:
		return godigest.SHA256.Hash()
	case SHA512:
		return godigest.SHA512.Hash()
	case BLAKE3:
		return blake3.New()
	}
	return nil
}

func normalize(algs []Algorithm) []Algorithm {
	seen := make(map[Algorithm]struct{}, len(algs))
	out := make([]Algorithm, 0, len(algs))
	for _, a := range algs {
		if _, ok := seen[a]; ok || !a.Available() {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
