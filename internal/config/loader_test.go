package config

import "testing"

func TestLoadFailsWithMissingFields(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺失字段的配置应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
LogLevel = "info"
StoragePath = "./data"
UpstreamTimeout = "boom"

[[Store]]
PackageType = "maven"
Type = "hosted"
Name = "local"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadRejectsStoreLevelPort(t *testing.T) {
	cfg := `
StoragePath = "./data"

[[Store]]
PackageType = "maven"
Type = "hosted"
Name = "local"
Port = 8080
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("仓库级 Port 字段应被拒绝")
	}
}

func TestLoadRejectsUnknownAlgorithm(t *testing.T) {
	cfg := `
StoragePath = "./data"
DigestAlgorithms = ["crc32"]

[[Store]]
PackageType = "maven"
Type = "hosted"
Name = "local"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("未知摘要算法应失败")
	}
}
