package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/any-hub/content-hub/internal/store"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为，所有仓库共享同一份参数。
type GlobalConfig struct {
	ListenPort            int      `mapstructure:"ListenPort"`
	LogLevel              string   `mapstructure:"LogLevel"`
	LogFilePath           string   `mapstructure:"LogFilePath"`
	LogMaxSize            int      `mapstructure:"LogMaxSize"`
	LogMaxBackups         int      `mapstructure:"LogMaxBackups"`
	LogCompress           bool     `mapstructure:"LogCompress"`
	StoragePath           string   `mapstructure:"StoragePath"`
	UpstreamTimeout       Duration `mapstructure:"UpstreamTimeout"`
	DefaultPathStyle      string   `mapstructure:"DefaultPathStyle"`
	DigestAlgorithms      []string `mapstructure:"DigestAlgorithms"`
	GenerationLockTimeout Duration `mapstructure:"GenerationLockTimeout"`
}

// StoreConfig 描述单个 [[Store]] 条目，按 Type 只读取对应变体的字段。
type StoreConfig struct {
	PackageType        string   `mapstructure:"PackageType"`
	Type               string   `mapstructure:"Type"`
	Name               string   `mapstructure:"Name"`
	Description        string   `mapstructure:"Description"`
	Disabled           bool     `mapstructure:"Disabled"`
	PathStyle          string   `mapstructure:"PathStyle"`
	PathMaskPatterns   []string `mapstructure:"PathMaskPatterns"`
	AuthoritativeIndex bool     `mapstructure:"AuthoritativeIndex"`

	// hosted
	AllowReleases  *bool `mapstructure:"AllowReleases"`
	AllowSnapshots bool  `mapstructure:"AllowSnapshots"`
	ReadOnly       bool  `mapstructure:"ReadOnly"`

	// remote
	Upstream  string   `mapstructure:"Upstream"`
	Proxy     string   `mapstructure:"Proxy"`
	Username  string   `mapstructure:"Username"`
	Password  string   `mapstructure:"Password"`
	Timeout   Duration `mapstructure:"Timeout"`
	CacheTTL  Duration `mapstructure:"CacheTTL"`
	CacheOnly bool     `mapstructure:"CacheOnly"`

	// group
	Constituents []string `mapstructure:"Constituents"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig  `mapstructure:",squash"`
	Stores []StoreConfig `mapstructure:"Store"`
}

// Key 返回规范化后的仓库键。
func (s StoreConfig) Key() store.StoreKey {
	return store.NewKey(s.PackageType, store.StoreType(s.Type), s.Name)
}

// HasCredentials 表示当前仓库是否配置了完整的上游凭证。
func (s StoreConfig) HasCredentials() bool {
	return s.Username != "" && s.Password != ""
}

// AuthMode 输出 `credentialed` 或 `anonymous`，供日志字段使用。
func (s StoreConfig) AuthMode() string {
	if s.HasCredentials() {
		return "credentialed"
	}
	return "anonymous"
}

// CredentialModes 返回所有 remote 仓库的鉴权模式摘要，例如 maven:remote:central:anonymous。
func CredentialModes(stores []StoreConfig) []string {
	var result []string
	for _, s := range stores {
		if store.StoreType(s.Type) != store.TypeRemote {
			continue
		}
		result = append(result, fmt.Sprintf("%s:%s", s.Key(), s.AuthMode()))
	}
	return result
}
