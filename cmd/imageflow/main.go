// =============================================================================
// imageflow 主入口
// =============================================================================
// HTTP 服务、命令行生成与工作流模板管理
//
// 使用方法:
//
//	imageflow serve                          # 启动服务
//	imageflow serve --config config.yaml     # 指定配置文件
//	imageflow generate --prompt "a cat"      # 生成一张图像
//	imageflow workflow list                  # 列出工作流模板
//	imageflow version                        # 显示版本信息
//	imageflow health                         # 健康检查
// =============================================================================

// @title imageflow API
// @version 1.0.0
// @description Image generation orchestration over a hosted platform, OpenAI-compatible APIs and local ComfyUI.

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/imageflow/config"
	"github.com/BaSui01/imageflow/internal/metrics"
	"github.com/BaSui01/imageflow/internal/telemetry"
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
		printUsage(os.Stderr)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "generate":
		err = runGenerate(os.Args[2:], os.Stdout, os.Stderr)
	case "workflow":
		err = runWorkflow(os.Args[2:], os.Stdout)
	case "version":
		printVersion(os.Stdout)
	case "health":
		err = runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, formatError(err))
		os.Exit(1)
	}
}

// =============================================================================
// ⚙️ 配置加载
// =============================================================================

// configFlags 注册所有子命令共享的配置参数
type configFlags struct {
	path   string
	dotEnv string
}

func (c *configFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.path, "config", "", "Path to config file (YAML)")
	fs.StringVar(&c.dotEnv, "env-file", ".env", "Path to .env file, ignored when missing")
}

func (c *configFlags) load() (*config.Config, error) {
	loader := config.NewLoader().WithDotEnv(c.dotEnv)
	if c.path != "" {
		loader = loader.WithConfigPath(c.path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	var cf configFlags
	cf.register(fs)
	_ = fs.Parse(args)

	cfg, err := cf.load()
	if err != nil {
		return err
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting imageflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, Version, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	collector := metrics.NewCollector("imageflow", logger)
	app, err := buildApp(cfg, collector, logger)
	if err != nil {
		return err
	}

	srv := NewServer(cfg, app, collector, logger)
	if err := srv.Start(); err != nil {
		srv.Shutdown()
		return err
	}
	srv.WaitForShutdown(context.Background())

	if otelProviders != nil {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := otelProviders.Shutdown(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}

	logger.Info("imageflow stopped")
	return nil
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	ready := fs.Bool("ready", false, "Check readiness (backends and workflows) instead of liveness")
	_ = fs.Parse(args)

	path := "/health"
	if *ready {
		path = "/ready"
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(*addr + path)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("health check failed: status %d: %s", resp.StatusCode, body)
	}

	fmt.Println("OK")
	return nil
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "imageflow %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `imageflow - image generation orchestrator

Usage:
  imageflow <command> [options]

Commands:
  serve      Start the HTTP API server
  generate   Generate one image and save it locally
  workflow   Manage ComfyUI workflow templates
  version    Show version information
  health     Check server health
  help       Show this help message

Common options:
  --config <path>     Path to configuration file (YAML)
  --env-file <path>   Path to .env file (default .env)

Workflow subcommands:
  workflow list
  workflow view [name]
  workflow import <path> [--name <name>]
  workflow modify [--name <name>] <node_id> <input> <json_value>
  workflow resize [--name <name>] <aspect_ratio>
  workflow delete <name>
  workflow checkpoints

Examples:
  imageflow serve --config /etc/imageflow/config.yaml
  imageflow generate --prompt "a lighthouse at dusk" --aspect-ratio 16:9
  imageflow generate --provider comfyui --workflow portrait --prompt "a cat"
  imageflow workflow import ~/Downloads/sdxl_api.json --name sdxl
  imageflow workflow modify --name sdxl 3 steps 30
  imageflow health --addr http://localhost:8080 --ready
  imageflow version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Format == "console",
		Encoding:          "json",
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
