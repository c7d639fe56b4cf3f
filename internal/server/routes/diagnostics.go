package routes

import (
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/content-hub/internal/pkgtype"
	"github.com/any-hub/content-hub/internal/store"
)

// RegisterDiagnosticRoutes 暴露 /-/stores 与 /-/package-types 诊断接口，供 SRE 查询拓扑与包类型。
func RegisterDiagnosticRoutes(app *fiber.App, data store.DataManager) {
	if app == nil || data == nil {
		return
	}

	app.Get("/-/stores", func(c fiber.Ctx) error {
		stores, err := data.ListStores(c.Context())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "list_stores_failed"})
		}
		return c.JSON(fiber.Map{"stores": encodeStores(stores)})
	})

	app.Get("/-/stores/:key", func(c fiber.Ctx) error {
		key, err := store.ParseKey(c.Params("key"))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_store_key"})
		}
		s, err := data.GetStore(c.Context(), key)
		if err != nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "store_not_found"})
		}
		return c.JSON(encodeStore(s))
	})

	app.Get("/-/package-types", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"package_types": encodePackageTypes(pkgtype.List())})
	})
}

type storePayload struct {
	Key                string   `json:"key"`
	PackageType        string   `json:"package_type"`
	Type               string   `json:"type"`
	Description        string   `json:"description,omitempty"`
	Disabled           bool     `json:"disabled"`
	PathStyle          string   `json:"path_style"`
	PathMaskPatterns   []string `json:"path_mask_patterns,omitempty"`
	AuthoritativeIndex bool     `json:"authoritative_index"`

	AllowReleases  *bool `json:"allow_releases,omitempty"`
	AllowSnapshots *bool `json:"allow_snapshots,omitempty"`
	ReadOnly       *bool `json:"read_only,omitempty"`

	Upstream        string `json:"upstream,omitempty"`
	AuthMode        string `json:"auth_mode,omitempty"`
	CacheTTLSeconds *int64 `json:"cache_ttl_seconds,omitempty"`
	CacheOnly       *bool  `json:"cache_only,omitempty"`

	Constituents []string `json:"constituents,omitempty"`
}

type packageTypePayload struct {
	Key             string `json:"key"`
	Description     string `json:"description"`
	CacheTTLSeconds int64  `json:"cache_ttl_seconds"`
	RewritesPaths   bool   `json:"rewrites_paths"`
}

func encodeStores(stores []store.ArtifactStore) []storePayload {
	if len(stores) == 0 {
		return nil
	}
	result := make([]storePayload, 0, len(stores))
	for _, s := range stores {
		result = append(result, encodeStore(s))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Key < result[j].Key
	})
	return result
}

// encodeStore 输出仓库定义，凭证只以 auth_mode 形式出现。
func encodeStore(s store.ArtifactStore) storePayload {
	base := s.Common()
	payload := storePayload{
		Key:                base.Key.String(),
		PackageType:        base.Key.PackageType,
		Type:               string(base.Key.Type),
		Description:        base.Description,
		Disabled:           base.Disabled,
		PathStyle:          string(base.PathStyle),
		PathMaskPatterns:   base.PathMaskPatterns,
		AuthoritativeIndex: base.AuthoritativeIndex,
	}
	if payload.PathStyle == "" {
		payload.PathStyle = string(store.PathStylePlain)
	}

	switch v := s.(type) {
	case *store.HostedRepository:
		payload.AllowReleases = boolPtr(v.AllowReleases)
		payload.AllowSnapshots = boolPtr(v.AllowSnapshots)
		payload.ReadOnly = boolPtr(v.ReadOnly)
	case *store.RemoteRepository:
		payload.Upstream = v.URL
		payload.AuthMode = "anonymous"
		if v.HasCredentials() {
			payload.AuthMode = "credentialed"
		}
		ttl := int64(v.CacheTTL / time.Second)
		payload.CacheTTLSeconds = &ttl
		payload.CacheOnly = boolPtr(v.CacheOnly)
	case *store.Group:
		payload.Constituents = make([]string, len(v.Constituents))
		for i, member := range v.Constituents {
			payload.Constituents[i] = member.String()
		}
	}
	return payload
}

func encodePackageTypes(metas []pkgtype.Metadata) []packageTypePayload {
	if len(metas) == 0 {
		return nil
	}
	result := make([]packageTypePayload, 0, len(metas))
	for _, meta := range metas {
		result = append(result, packageTypePayload{
			Key:             meta.Key,
			Description:     meta.Description,
			CacheTTLSeconds: int64(meta.CacheTTLHint / time.Second),
			RewritesPaths:   meta.PathCalculator != nil,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return strings.Compare(result[i].Key, result[j].Key) < 0
	})
	return result
}

func boolPtr(v bool) *bool {
	return &v
}
