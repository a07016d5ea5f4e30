package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/config"
	"github.com/BaSui01/imageflow/generation"
	"github.com/BaSui01/imageflow/image"
	"github.com/BaSui01/imageflow/internal/admission"
	"github.com/BaSui01/imageflow/internal/metrics"
	"github.com/BaSui01/imageflow/workflow"
)

// =============================================================================
// 🧩 组件装配
// =============================================================================

// App 是 serve 与命令行子命令共享的组件集合
type App struct {
	Catalog      *workflow.Catalog
	ComfyUI      *image.ComfyUIProvider
	Admission    *admission.Controller
	Orchestrator *generation.Orchestrator
	Providers    []string
}

// buildApp 按配置装配模板库、后端与编排器。collector 为 nil 时不上报指标。
// 只有配置了密钥的远程后端会被创建；ComfyUI 总是创建，是否可用取决于模板库。
func buildApp(cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) (*App, error) {
	dir, err := workflow.ExpandHome(cfg.ComfyUI.WorkflowsDir)
	if err != nil {
		return nil, fmt.Errorf("resolve workflows directory: %w", err)
	}
	store := workflow.NewFileStore(dir, logger)
	catalog := workflow.NewCatalog(store, cfg.ComfyUI.DefaultWorkflow, logger)

	var (
		imageOpts []image.Option
		admOpts   []admission.Option
		genOpts   []generation.Option
	)
	if collector != nil {
		imageOpts = append(imageOpts, image.WithRecorder(collector))
		admOpts = append(admOpts, admission.WithObserver(collector))
		genOpts = append(genOpts, generation.WithRecorder(collector))
	}

	var providers []image.Provider
	if cfg.Platform.Configured() {
		providers = append(providers, image.NewPlatformProvider(cfg.Platform, logger, imageOpts...))
	}
	if cfg.OpenAI.Configured() {
		providers = append(providers, image.NewOpenAIProvider(cfg.OpenAI, logger, imageOpts...))
	}
	comfy := image.NewComfyUIProvider(cfg.ComfyUI, catalog, logger, imageOpts...)
	providers = append(providers, comfy)

	adm := admission.New(cfg.Admission, logger, admOpts...)
	orch, err := generation.New(cfg.Generation, adm, providers, logger, genOpts...)
	if err != nil {
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}

	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Name())
	}
	logger.Info("providers configured",
		zap.Strings("providers", names),
		zap.String("workflows_dir", dir),
	)

	return &App{
		Catalog:      catalog,
		ComfyUI:      comfy,
		Admission:    adm,
		Orchestrator: orch,
		Providers:    names,
	}, nil
}
