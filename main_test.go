package main

import (
	"fmt"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/content-hub/internal/config"
)

func TestParseCLIFlagsPriority(t *testing.T) {
	t.Setenv("CONTENT_HUB_CONFIG", "/tmp/env.toml")

	opts, err := parseCLIFlags([]string{})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/env.toml" {
		t.Fatalf("应优先使用环境变量，得到 %s", opts.configPath)
	}

	opts, err = parseCLIFlags([]string{"--config", "/tmp/flag.toml"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/flag.toml" {
		t.Fatalf("flag 应高于环境变量，得到 %s", opts.configPath)
	}
}

func TestRunCheckConfigSuccess(t *testing.T) {
	captureOutput(t)
	code := run(cliOptions{configPath: configFixture(t, "valid.toml"), checkOnly: true})
	if code != 0 {
		t.Fatalf("期望退出码 0，得到 %d", code)
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	_, errOut := captureOutput(t)
	code := run(cliOptions{configPath: configFixture(t, "missing.toml"), checkOnly: true})
	if code == 0 {
		t.Fatalf("无效配置应返回非零退出码")
	}
	if errOut.Len() == 0 {
		t.Fatalf("配置错误应输出到 stderr")
	}
}

func TestRunVersionOutput(t *testing.T) {
	out, _ := captureOutput(t)
	code := run(cliOptions{showVersion: true})
	if code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.Contains(out.String(), "content-hub") {
		t.Fatalf("version 输出应包含 content-hub 标识")
	}
}

func TestBuildAppServesHostedContent(t *testing.T) {
	cfg := writeConfigFile(t, fmt.Sprintf(`
StoragePath = "%s"
ListenPort = 5000

[[Store]]
PackageType = "maven"
Type = "hosted"
Name = "local"

[[Store]]
PackageType = "maven"
Type = "group"
Name = "public"
Constituents = ["maven:hosted:local"]
`, filepath.Join(t.TempDir(), "storage")))

	loaded, err := config.Load(cfg)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	app, err := buildApp(loaded, logger)
	if err != nil {
		t.Fatalf("装配失败: %v", err)
	}

	put := httptest.NewRequest("PUT", "/api/content/maven/group/public/org/demo/1.0/demo-1.0.jar", strings.NewReader("jar"))
	resp, err := app.Test(put)
	if err != nil {
		t.Fatalf("上传失败: %v", err)
	}
	if resp.StatusCode != 201 {
		t.Fatalf("期望 201，得到 %d", resp.StatusCode)
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/api/content/maven/group/public/org/demo/1.0/demo-1.0.jar.sha1", nil))
	if err != nil {
		t.Fatalf("下载失败: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 200 || strings.TrimSpace(string(body)) != "f92e777f4341930bad9b2422283c4680d00dbc06" {
		t.Fatalf("校验和生成异常: status=%d body=%s", resp.StatusCode, body)
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/-/stores", nil))
	if err != nil {
		t.Fatalf("诊断接口失败: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("期望 200，得到 %d", resp.StatusCode)
	}
}
