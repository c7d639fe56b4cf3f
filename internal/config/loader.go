package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/any-hub/content-hub/internal/pkgtype"
	"github.com/any-hub/content-hub/internal/store"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	if err := rejectStoreLevelPorts(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	for i := range cfg.Stores {
		applyStoreDefaults(&cfg.Stores[i], cfg.Global)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("DefaultPathStyle", string(store.PathStylePlain))
	v.SetDefault("DigestAlgorithms", []string{"md5", "sha1", "sha256"})
	v.SetDefault("GenerationLockTimeout", 0)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	g.DefaultPathStyle = strings.ToLower(strings.TrimSpace(g.DefaultPathStyle))
	if g.DefaultPathStyle == "" {
		g.DefaultPathStyle = string(store.PathStylePlain)
	}
}

// applyStoreDefaults 规范化键字段并填充默认值。
// remote 的 CacheTTL 未配置时取包类型建议值，配置为负数表示永不过期。
func applyStoreDefaults(s *StoreConfig, g GlobalConfig) {
	s.PackageType = strings.ToLower(strings.TrimSpace(s.PackageType))
	s.Type = strings.ToLower(strings.TrimSpace(s.Type))
	s.Name = strings.TrimSpace(s.Name)
	s.PathStyle = strings.ToLower(strings.TrimSpace(s.PathStyle))
	if s.PathStyle == "" {
		s.PathStyle = g.DefaultPathStyle
	}
	if s.AllowReleases == nil {
		allow := true
		s.AllowReleases = &allow
	}

	switch ttl := s.CacheTTL.DurationValue(); {
	case ttl < 0:
		s.CacheTTL = Duration(0)
	case ttl == 0 && store.StoreType(s.Type) == store.TypeRemote:
		if meta, ok := pkgtype.Resolve(s.PackageType); ok {
			s.CacheTTL = Duration(meta.CacheTTLHint)
		}
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

func rejectStoreLevelPorts(v *viper.Viper) error {
	var stores []map[string]interface{}
	switch raw := v.Get("Store").(type) {
	case []map[string]interface{}:
		stores = raw
	case []interface{}:
		for _, entry := range raw {
			if m, ok := entry.(map[string]interface{}); ok {
				stores = append(stores, m)
			}
		}
	default:
		return nil
	}

	for idx, m := range stores {
		if _, exists := lookupFold(m, "Port"); exists {
			name := fmt.Sprintf("#%d", idx)
			if rawName, ok := lookupFold(m, "Name"); ok {
				if str, ok := rawName.(string); ok && str != "" {
					name = str
				}
			}
			return newFieldError(storeField(name, "Port"), "仓库不支持独立端口，请使用全局 ListenPort")
		}
	}

	return nil
}

// lookupFold 按大小写无关方式取值，viper 可能已将键转为小写。
func lookupFold(m map[string]interface{}, key string) (interface{}, bool) {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}
