package config

import (
	"testing"
	"time"

	"github.com/any-hub/content-hub/internal/digest"
	"github.com/any-hub/content-hub/internal/store"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := testConfigPath(t, "valid.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.StoragePath == "" {
		t.Fatalf("StoragePath 应该被保留")
	}
	if cfg.Global.ListenPort == 0 {
		t.Fatalf("ListenPort 应当被解析")
	}
	if cfg.Global.DefaultPathStyle != "plain" {
		t.Fatalf("DefaultPathStyle 默认应为 plain，实际 %s", cfg.Global.DefaultPathStyle)
	}
	if len(cfg.Stores) != 5 {
		t.Fatalf("应解析 5 个仓库，实际 %d", len(cfg.Stores))
	}
	if cfg.Stores[0].AllowReleases == nil || !*cfg.Stores[0].AllowReleases {
		t.Fatalf("hosted 默认允许 release")
	}
	if cfg.Stores[1].PathStyle != "hashed" {
		t.Fatalf("显式 PathStyle 应保留")
	}
	central := cfg.Stores[2]
	if central.CacheTTL.DurationValue() != 30*time.Minute {
		t.Fatalf("remote 未配置 TTL 时应使用包类型建议值，实际 %s", central.CacheTTL.DurationValue())
	}
	npmjs := cfg.Stores[4]
	if npmjs.CacheTTL.DurationValue() != 0 {
		t.Fatalf("负数 TTL 应表示永不过期")
	}
	if cfg.EffectiveTimeout(npmjs) != 5*time.Second {
		t.Fatalf("整数 Timeout 应按秒解析")
	}
	if cfg.EffectiveTimeout(central) != 10*time.Second {
		t.Fatalf("未覆盖 Timeout 时应退回全局 UpstreamTimeout")
	}
}

func TestValidateRejectsBadStore(t *testing.T) {
	cfgPath := testConfigPath(t, "missing.toml")

	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("不合法的配置应返回错误")
	}
}

func TestBuildStores(t *testing.T) {
	cfg, err := Load(testConfigPath(t, "valid.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	stores, err := cfg.BuildStores()
	if err != nil {
		t.Fatalf("BuildStores 返回错误: %v", err)
	}

	snapshots, ok := stores[1].(*store.HostedRepository)
	if !ok {
		t.Fatalf("第二个仓库应为 hosted，实际 %T", stores[1])
	}
	if snapshots.AllowReleases || !snapshots.AllowSnapshots || snapshots.PathStyle != store.PathStyleHashed {
		t.Fatalf("hosted 策略解析错误: %+v", snapshots)
	}

	central, ok := stores[2].(*store.RemoteRepository)
	if !ok {
		t.Fatalf("第三个仓库应为 remote，实际 %T", stores[2])
	}
	if central.Timeout != 10*time.Second || len(central.PathMaskPatterns) != 2 {
		t.Fatalf("remote 属性解析错误: %+v", central)
	}

	public, ok := stores[3].(*store.Group)
	if !ok {
		t.Fatalf("第四个仓库应为 group，实际 %T", stores[3])
	}
	want := []store.StoreKey{
		store.MustParseKey("maven:hosted:releases"),
		store.MustParseKey("maven:hosted:snapshots"),
		store.MustParseKey("maven:remote:central"),
	}
	if len(public.Constituents) != len(want) {
		t.Fatalf("成员数量不符: %v", public.Constituents)
	}
	for i := range want {
		if public.Constituents[i] != want[i] {
			t.Fatalf("成员顺序应保持声明顺序: %v", public.Constituents)
		}
	}
}

func TestAlgorithmsFromConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Global.DigestAlgorithms = []string{"SHA-256", "md5"}
	algs := cfg.Algorithms()
	if len(algs) != 2 || algs[0] != digest.MD5 || algs[1] != digest.SHA256 {
		t.Fatalf("算法应规范化并排序: %v", algs)
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestPackageTypeValidation(t *testing.T) {
	testCases := []struct {
		name        string
		packageType string
		shouldErr   bool
	}{
		{"maven ok", "maven", false},
		{"npm ok", "npm", false},
		{"golang ok", "golang", false},
		{"generic ok", "generic-http", false},
		{"missing type", "", true},
		{"unsupported type", "rubygems", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			for i := range cfg.Stores {
				cfg.Stores[i].PackageType = tc.packageType
			}
			cfg.Stores[2].Constituents = []string{tc.packageType + ":remote:upstream"}
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for package type %q", tc.packageType)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for package type %q: %v", tc.packageType, err)
			}
		})
	}
}

func TestValidateRejectsDuplicateKeys(t *testing.T) {
	cfg := validConfig()
	cfg.Stores = append(cfg.Stores, cfg.Stores[0])
	if err := cfg.Validate(); err == nil {
		t.Fatalf("重复的仓库键应报错")
	}
}

func TestValidateAllowsSameNameAcrossTypes(t *testing.T) {
	cfg := validConfig()
	cfg.Stores[1].Name = "upstream"
	cfg.Stores[1].Type = "hosted"
	cfg.Stores[1].Upstream = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("不同类型允许同名: %v", err)
	}
}

func TestValidateRejectsCrossPackageConstituent(t *testing.T) {
	cfg := validConfig()
	cfg.Stores[2].Constituents = []string{"maven:remote:upstream"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("跨包类型的成员应报错")
	}
}

func TestValidateAllowsDanglingConstituent(t *testing.T) {
	cfg := validConfig()
	cfg.Stores[2].Constituents = []string{"npm:hosted:ghost"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("悬空成员应在请求时报告，而不是加载时: %v", err)
	}
}

func TestValidateRequiresUpstreamForRemote(t *testing.T) {
	cfg := validConfig()
	cfg.Stores[1].Upstream = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("remote 缺少 Upstream 应报错")
	}
}

func TestValidateRequiresCredentialPairs(t *testing.T) {
	cfg := validConfig()
	cfg.Stores[1].Username = "foo"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("仅提供 Username 时应报错")
	}
}

func TestValidateRejectsBadMask(t *testing.T) {
	cfg := validConfig()
	cfg.Stores[0].PathMaskPatterns = []string{"r|[|"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("非法正则掩码应报错")
	}
}

func TestCredentialModes(t *testing.T) {
	cfg := validConfig()
	cfg.Stores[1].Username, cfg.Stores[1].Password = "u", "p"
	modes := CredentialModes(cfg.Stores)
	if len(modes) != 1 || modes[0] != "npm:remote:upstream:credentialed" {
		t.Fatalf("鉴权摘要不符: %v", modes)
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:       5000,
			StoragePath:      "./data",
			UpstreamTimeout:  Duration(time.Second),
			DefaultPathStyle: "plain",
		},
		Stores: []StoreConfig{
			{PackageType: "npm", Type: "hosted", Name: "local", PathStyle: "plain"},
			{PackageType: "npm", Type: "remote", Name: "upstream", PathStyle: "plain", Upstream: "https://registry.npmjs.org"},
			{PackageType: "npm", Type: "group", Name: "all", PathStyle: "plain", Constituents: []string{"npm:hosted:local", "npm:remote:upstream"}},
		},
	}
}
