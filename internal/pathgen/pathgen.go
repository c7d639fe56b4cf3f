// Package pathgen 将 (仓库, 逻辑路径) 映射为字节存储中的物理路径。
//
// plain 布局：<packageType>/<type>-<name>/<logicalPath>
// hashed 布局：<packageType>/<type>-<name>/<h[0:2]>/<h[2:4]>/<h>/<filename>，
// 其中 h 为逻辑目录的 sha256 十六进制摘要。同目录文件落在同一个桶中，
// 但文件系统不再保留逻辑目录结构，需要结构时应查询索引。
//
// 风格路径算出后，依注册顺序应用包类型相关的 Calculator 链。
package pathgen

import (
	_ "crypto/sha256"
	"errors"
	"path"
	"strings"
	"sync"

	"github.com/opencontainers/go-digest"

	"github.com/any-hub/content-hub/internal/store"
)

// ErrInvalidPath 表示逻辑路径试图越出仓库根目录。
var ErrInvalidPath = errors.New("invalid content path")

// Calculator 对上一步产出的物理路径做进一步改写。
type Calculator interface {
	Calculate(key store.StoreKey, physicalPath string) string
}

// CalculatorFunc 适配普通函数。
type CalculatorFunc func(key store.StoreKey, physicalPath string) string

func (f CalculatorFunc) Calculate(key store.StoreKey, physicalPath string) string {
	return f(key, physicalPath)
}

// ForPackageType 仅对指定包类型的仓库生效。
func ForPackageType(packageType string, c Calculator) Calculator {
	packageType = strings.ToLower(strings.TrimSpace(packageType))
	return CalculatorFunc(func(key store.StoreKey, physical string) string {
		if key.PackageType != packageType {
			return physical
		}
		return c.Calculate(key, physical)
	})
}

// Generator 计算物理路径，可并发使用。
type Generator struct {
	mu          sync.RWMutex
	calculators []Calculator
}

// New 以初始 Calculator 列表构建 Generator。
func New(calculators ...Calculator) *Generator {
	g := &Generator{}
	for _, c := range calculators {
		g.Register(c)
	}
	return g
}

// Register 追加 Calculator；应用顺序即注册顺序。
func (g *Generator) Register(c Calculator) {
	if c == nil {
		return
	}
	g.mu.Lock()
	g.calculators = append(g.calculators, c)
	g.mu.Unlock()
}

// StoreRoot 返回仓库的物理根目录。
func StoreRoot(key store.StoreKey) string {
	return key.PackageType + "/" + string(key.Type) + "-" + key.Name
}

// CleanLogical 规范化逻辑路径：去掉前导斜杠，拒绝 ".." 越界。根路径返回空串。
func CleanLogical(logical string) (string, error) {
	raw := strings.ReplaceAll(logical, "\\", "/")
	for _, seg := range strings.Split(raw, "/") {
		if seg == ".." {
			return "", ErrInvalidPath
		}
	}
	clean := strings.TrimPrefix(path.Clean("/"+raw), "/")
	return clean, nil
}

// PhysicalPath 计算文件的物理路径。
func (g *Generator) PhysicalPath(base store.StoreBase, logical string) (string, error) {
	clean, err := CleanLogical(logical)
	if err != nil {
		return "", err
	}
	root := StoreRoot(base.Key)

	var physical string
	switch {
	case clean == "":
		physical = root
	case base.PathStyle == store.PathStyleHashed:
		dir, file := path.Split(clean)
		physical = path.Join(root, hashedBucket(dir), file)
	default:
		physical = path.Join(root, clean)
	}
	return g.apply(base.Key, physical), nil
}

// PhysicalDir 计算目录的物理路径；hashed 布局下即该目录对应的桶。
func (g *Generator) PhysicalDir(base store.StoreBase, logicalDir string) (string, error) {
	clean, err := CleanLogical(logicalDir)
	if err != nil {
		return "", err
	}
	root := StoreRoot(base.Key)
	if base.PathStyle == store.PathStyleHashed {
		dir := clean
		if dir != "" {
			dir += "/"
		}
		return path.Join(root, hashedBucket(dir)), nil
	}
	if clean == "" {
		return root, nil
	}
	return path.Join(root, clean), nil
}

func (g *Generator) apply(key store.StoreKey, physical string) string {
	g.mu.RLock()
	calculators := g.calculators
	g.mu.RUnlock()

	for _, c := range calculators {
		physical = c.Calculate(key, physical)
	}
	return physical
}

// hashedBucket 对逻辑目录（含结尾斜杠，根目录为 "/"）做 sha256，返回两级分桶路径。
func hashedBucket(dir string) string {
	if dir == "" {
		dir = "/"
	}
	sum := digest.SHA256.FromString(dir).Encoded()
	return sum[0:2] + "/" + sum[2:4] + "/" + sum
}
