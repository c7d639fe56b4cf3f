package config

import (
	"fmt"
	"time"

	"github.com/any-hub/content-hub/internal/digest"
	"github.com/any-hub/content-hub/internal/store"
)

// BuildStores 将 [[Store]] 条目转换为仓库定义（假定 Validate 已经通过）。
func (c *Config) BuildStores() ([]store.ArtifactStore, error) {
	result := make([]store.ArtifactStore, 0, len(c.Stores))
	for _, sc := range c.Stores {
		base := store.StoreBase{
			Key:                sc.Key(),
			Description:        sc.Description,
			Disabled:           sc.Disabled,
			PathStyle:          store.PathStyle(sc.PathStyle),
			PathMaskPatterns:   append([]string(nil), sc.PathMaskPatterns...),
			AuthoritativeIndex: sc.AuthoritativeIndex,
		}
		switch base.Key.Type {
		case store.TypeHosted:
			allowReleases := sc.AllowReleases == nil || *sc.AllowReleases
			result = append(result, &store.HostedRepository{
				StoreBase:      base,
				AllowReleases:  allowReleases,
				AllowSnapshots: sc.AllowSnapshots,
				ReadOnly:       sc.ReadOnly,
			})
		case store.TypeRemote:
			result = append(result, &store.RemoteRepository{
				StoreBase: base,
				URL:       sc.Upstream,
				Proxy:     sc.Proxy,
				Username:  sc.Username,
				Password:  sc.Password,
				Timeout:   c.EffectiveTimeout(sc),
				CacheTTL:  sc.CacheTTL.DurationValue(),
				CacheOnly: sc.CacheOnly,
			})
		case store.TypeGroup:
			members := make([]store.StoreKey, 0, len(sc.Constituents))
			for _, raw := range sc.Constituents {
				key, err := store.ParseKey(raw)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", storeField(base.Key.String(), "Constituents"), err)
				}
				members = append(members, key)
			}
			result = append(result, &store.Group{StoreBase: base, Constituents: members})
		default:
			return nil, newFieldError(storeField(sc.Name, "Type"), "仅支持 hosted/remote/group")
		}
	}
	return result, nil
}

// EffectiveTimeout 返回 remote 仓库生效的回源超时，未覆盖时回退至全局值。
func (c *Config) EffectiveTimeout(s StoreConfig) time.Duration {
	if s.Timeout.DurationValue() > 0 {
		return s.Timeout.DurationValue()
	}
	return c.Global.UpstreamTimeout.DurationValue()
}

// Algorithms 返回写入钩子需要捕获的摘要算法。
func (c *Config) Algorithms() []digest.Algorithm {
	algs, err := digest.ParseAlgorithms(c.Global.DigestAlgorithms)
	if err != nil || len(algs) == 0 {
		return digest.DefaultAlgorithms
	}
	return algs
}
