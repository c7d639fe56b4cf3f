package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/content-hub/internal/cache"
	"github.com/any-hub/content-hub/internal/config"
	"github.com/any-hub/content-hub/internal/content"
	"github.com/any-hub/content-hub/internal/digest"
	"github.com/any-hub/content-hub/internal/event"
	"github.com/any-hub/content-hub/internal/generator"
	"github.com/any-hub/content-hub/internal/generator/checksum"
	"github.com/any-hub/content-hub/internal/invalidate"
	"github.com/any-hub/content-hub/internal/logging"
	"github.com/any-hub/content-hub/internal/pathgen"
	"github.com/any-hub/content-hub/internal/pkgtype"
	"github.com/any-hub/content-hub/internal/server"
	"github.com/any-hub/content-hub/internal/server/routes"
	"github.com/any-hub/content-hub/internal/store"
	"github.com/any-hub/content-hub/internal/topology"
	"github.com/any-hub/content-hub/internal/transport"
	"github.com/any-hub/content-hub/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["stores"] = len(cfg.Stores)
		fields["credentials"] = config.CredentialModes(cfg.Stores)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	app, err := buildApp(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化服务失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["stores"] = len(cfg.Stores)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["credentials"] = config.CredentialModes(cfg.Stores)
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(app, cfg.Global.ListenPort, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// buildApp 按“仓库定义 → 磁盘存储 → 路径/生成器 → 摘要与失效 → 内容管线 → Fiber”顺序装配，
// 所有请求共享同一组实例，保证单飞与失效记录在进程内唯一。
func buildApp(cfg *config.Config, logger *logrus.Logger) (*fiber.App, error) {
	bus := event.NewBus(logger)
	data := store.NewMemoryDataManager(bus)
	stores, err := cfg.BuildStores()
	if err != nil {
		return nil, err
	}
	for _, s := range stores {
		if err := data.PutStore(context.Background(), s); err != nil {
			return nil, fmt.Errorf("注册仓库 %s 失败: %w", store.KeyOf(s), err)
		}
	}

	storage, err := cache.NewStore(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("初始化存储目录失败: %w", err)
	}

	paths := pathgen.New()
	gens := generator.NewRegistry()
	if err := gens.Register(checksum.New()); err != nil {
		return nil, err
	}
	if err := pkgtype.Install(paths, gens); err != nil {
		return nil, err
	}

	locate := content.Locator(data, paths)
	digester := digest.New(storage, locate)
	coordinator := invalidate.New(data, storage, locate, digester, logger)
	coordinator.Subscribe(bus)

	manager, err := content.NewManager(content.Options{
		Data:             data,
		Topology:         topology.NewResolver(data, topology.WithDefaultTimeout(cfg.Global.UpstreamTimeout.DurationValue()), topology.WithLogger(logger)),
		Storage:          storage,
		Paths:            paths,
		Fetcher:          transport.NewHTTPFetcher(transport.NewClient(), logger),
		Digester:         digester,
		Generators:       gens,
		Coordinator:      coordinator,
		Bus:              bus,
		Logger:           logger,
		DigestAlgorithms: cfg.Algorithms(),
		WaitTimeout:      cfg.Global.GenerationLockTimeout.DurationValue(),
	})
	if err != nil {
		return nil, err
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Content:    manager,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		return nil, err
	}
	routes.RegisterDiagnosticRoutes(app, data)
	return app, nil
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("content-hub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 CONTENT_HUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("CONTENT_HUB_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(app *fiber.App, port int, logger *logrus.Logger) error {
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
