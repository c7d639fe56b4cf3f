package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/any-hub/content-hub/internal/digest"
	"github.com/any-hub/content-hub/internal/pkgtype"
	"github.com/any-hub/content-hub/internal/store"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
// 悬空的 group 成员不在此处拒绝，由请求时的拓扑展开报告。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.GenerationLockTimeout.DurationValue() < 0 {
		return newFieldError("Global.GenerationLockTimeout", "不能为负数")
	}
	if !validPathStyle(g.DefaultPathStyle) {
		return newFieldError("Global.DefaultPathStyle", "仅支持 plain/hashed")
	}
	if _, err := digest.ParseAlgorithms(g.DigestAlgorithms); err != nil {
		return newFieldError("Global.DigestAlgorithms", err.Error())
	}

	if len(c.Stores) == 0 {
		return errors.New("至少需要配置一个 Store")
	}

	seen := make(map[store.StoreKey]struct{}, len(c.Stores))
	for i := range c.Stores {
		s := &c.Stores[i]
		if s.Name == "" {
			return newFieldError("Store[].Name", "不能为空")
		}
		if strings.ContainsAny(s.Name, ":/ ") {
			return newFieldError(storeField(s.Name, "Name"), "不允许包含冒号、斜杠或空格")
		}
		if _, ok := pkgtype.Resolve(s.PackageType); !ok {
			return newFieldError(storeField(s.Name, "PackageType"), "仅支持 "+strings.Join(pkgtype.Keys(), "|"))
		}
		key := s.Key()
		if !key.Type.Valid() {
			return newFieldError(storeField(s.Name, "Type"), "仅支持 hosted/remote/group")
		}
		if _, dup := seen[key]; dup {
			return newFieldError(storeField(key.String(), "Name"), "重复")
		}
		seen[key] = struct{}{}

		if !validPathStyle(s.PathStyle) {
			return newFieldError(storeField(key.String(), "PathStyle"), "仅支持 plain/hashed")
		}
		if err := validateMasks(s.PathMaskPatterns); err != nil {
			return fmt.Errorf("%s: %w", storeField(key.String(), "PathMaskPatterns"), err)
		}

		switch key.Type {
		case store.TypeRemote:
			if err := validateRemote(s); err != nil {
				return err
			}
		case store.TypeGroup:
			if err := validateConstituents(s); err != nil {
				return err
			}
		}
	}

	return nil
}

func validateRemote(s *StoreConfig) error {
	name := s.Key().String()
	if (s.Username == "") != (s.Password == "") {
		return newFieldError(storeField(name, "Username/Password"), "必须同时提供或同时留空")
	}
	if s.Timeout.DurationValue() < 0 {
		return newFieldError(storeField(name, "Timeout"), "不能为负数")
	}
	if err := validateUpstream(s.Upstream); err != nil {
		return fmt.Errorf("%s: %w", storeField(name, "Upstream"), err)
	}
	if s.Proxy != "" {
		if err := validateUpstream(s.Proxy); err != nil {
			return fmt.Errorf("%s: %w", storeField(name, "Proxy"), err)
		}
	}
	return nil
}

func validateConstituents(s *StoreConfig) error {
	name := s.Key().String()
	for _, raw := range s.Constituents {
		member, err := store.ParseKey(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", storeField(name, "Constituents"), err)
		}
		if member.PackageType != s.PackageType {
			return newFieldError(storeField(name, "Constituents"), fmt.Sprintf("%s 的包类型与 group 不一致", member))
		}
	}
	return nil
}

func validateMasks(patterns []string) error {
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			return errors.New("掩码不能为空")
		}
		if !strings.HasPrefix(pattern, "r|") {
			continue
		}
		if !strings.HasSuffix(pattern, "|") || len(pattern) <= 3 {
			return fmt.Errorf("正则掩码需以 r| 开头并以 | 结尾: %s", pattern)
		}
		if _, err := regexp.Compile(pattern[2 : len(pattern)-1]); err != nil {
			return fmt.Errorf("正则掩码无效: %w", err)
		}
	}
	return nil
}

func validPathStyle(style string) bool {
	switch store.PathStyle(style) {
	case store.PathStylePlain, store.PathStyleHashed:
		return true
	}
	return false
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
