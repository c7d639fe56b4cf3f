package store

import (
	"errors"
	"fmt"
	"strings"
)

// StoreType 表示仓库种类。
type StoreType string

const (
	TypeHosted StoreType = "hosted"
	TypeRemote StoreType = "remote"
	TypeGroup  StoreType = "group"
)

// Valid 判断种类是否为三种之一。
func (t StoreType) Valid() bool {
	switch t {
	case TypeHosted, TypeRemote, TypeGroup:
		return true
	}
	return false
}

// StoreKey 是仓库的全局唯一标识 (packageType, type, name)。
// 它是可比较的值类型：经 NewKey 规范化后，相等的键即同一个 map 键。
type StoreKey struct {
	PackageType string
	Type        StoreType
	Name        string
}

// ErrInvalidKey 表示无法解析的仓库键。
var ErrInvalidKey = errors.New("invalid store key")

// NewKey 规范化大小写与空白后构建 StoreKey。
func NewKey(packageType string, storeType StoreType, name string) StoreKey {
	return StoreKey{
		PackageType: strings.ToLower(strings.TrimSpace(packageType)),
		Type:        StoreType(strings.ToLower(strings.TrimSpace(string(storeType)))),
		Name:        strings.TrimSpace(name),
	}
}

// ParseKey 解析 "maven:hosted:local" 形式的键；兼容省略包类型的 "hosted:local"（默认 maven）。
func ParseKey(raw string) (StoreKey, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	var key StoreKey
	switch len(parts) {
	case 3:
		key = NewKey(parts[0], StoreType(parts[1]), parts[2])
	case 2:
		key = NewKey("maven", StoreType(parts[0]), parts[1])
	default:
		return StoreKey{}, fmt.Errorf("%w: %q", ErrInvalidKey, raw)
	}
	if key.PackageType == "" || key.Name == "" || !key.Type.Valid() {
		return StoreKey{}, fmt.Errorf("%w: %q", ErrInvalidKey, raw)
	}
	return key, nil
}

// MustParseKey 供测试与静态配置使用，解析失败时 panic。
func MustParseKey(raw string) StoreKey {
	key, err := ParseKey(raw)
	if err != nil {
		panic(err)
	}
	return key
}

func (k StoreKey) String() string {
	return k.PackageType + ":" + string(k.Type) + ":" + k.Name
}

// IsZero 判断是否为空键。
func (k StoreKey) IsZero() bool {
	return k == StoreKey{}
}

// Compare 按 (packageType, type, name) 字典序比较，返回 -1/0/1。
func (k StoreKey) Compare(other StoreKey) int {
	if c := strings.Compare(k.PackageType, other.PackageType); c != 0 {
		return c
	}
	if c := strings.Compare(string(k.Type), string(other.Type)); c != 0 {
		return c
	}
	return strings.Compare(k.Name, other.Name)
}

// MarshalText 以 "pkg:type:name" 形式序列化，便于 JSON 输出与配置解码。
func (k StoreKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText 解析 "pkg:type:name" 形式的键。
func (k *StoreKey) UnmarshalText(text []byte) error {
	parsed, err := ParseKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
