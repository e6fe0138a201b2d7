// =============================================================================
// CatalogFlow 主入口
// =============================================================================
// 联邦目录服务入口点，包含 HTTP 服务、WebSocket 流式查询、健康检查、Prometheus 指标
//
// 使用方法:
//
//	catalogflow serve                       # 启动服务
//	catalogflow serve --config config.yaml  # 指定配置文件
//	catalogflow version                     # 显示版本信息
//	catalogflow health                      # 健康检查
//	catalogflow migrate up                  # 运行数据库迁移
//	catalogflow migrate down                # 回滚最后一次迁移
//	catalogflow migrate status              # 查看迁移状态
// =============================================================================

package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/catalogflow/config"
	"github.com/BaSui01/catalogflow/internal/telemetry"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	// 加载配置，热重载时沿用同一校验器
	loader := config.NewLoader().WithValidator((*config.Config).Validate)
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger, level := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting CatalogFlow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	// 初始化 OpenTelemetry，失败时降级为 noop
	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	server := NewServer(cfg, loader, logger,
		WithLogLevel(level),
		WithTelemetry(otelProviders),
	)

	if err := server.Start(); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	// 等待关闭信号
	server.WaitForShutdown()

	logger.Info("CatalogFlow stopped")
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("CatalogFlow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`CatalogFlow - Federated Catalog Query Engine

Usage:
  catalogflow <command> [options]

Commands:
  serve     Start the CatalogFlow server
  migrate   Database migration commands
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Options for 'migrate':
  --config <path>   Path to configuration file (YAML)
  --db-type <type>  Database type (postgres, mysql, sqlite)
  --db-url <url>    Database URL, overrides the config file

Migration subcommands:
  migrate up        Apply all pending migrations
  migrate down      Rollback the last migration
  migrate down-all  Rollback all migrations
  migrate steps <n> Apply or rollback n migrations
  migrate status    Show migration status
  migrate version   Show current migration version
  migrate info      Show migration summary
  migrate goto <v>  Migrate to a specific version
  migrate force <v> Force set migration version

Examples:
  catalogflow serve
  catalogflow serve --config /etc/catalogflow/config.yaml
  catalogflow migrate up --config /etc/catalogflow/config.yaml
  catalogflow migrate status --db-type sqlite --db-url catalog.db
  catalogflow health --addr http://localhost:8080
  catalogflow version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

// initLogger 根据日志配置构建 logger，返回的 AtomicLevel 用于热更新日志级别
func initLogger(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel) {
	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputPaths := cfg.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:            level,
		Development:      cfg.Format == "console",
		Encoding:         "json",
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	var opts []zap.Option
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger, err := zapConfig.Build(opts...)
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}

	return logger, level
}

// parseLevel 解析日志级别，未知值按 info 处理
func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
