package image

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/types"
	"github.com/BaSui01/imageflow/workflow"
)

// Warnings attached to successful ComfyUI results.
const (
	WarningNoPromptNode = "no prompt node detected, the workflow was submitted with its stored prompt; set it with a workflow modify first"
	WarningNoLoadImage  = "reference images were provided but the workflow has no LoadImage node, they were ignored"
)

// ComfyUIProvider runs stored workflow templates on a local ComfyUI server.
type ComfyUIProvider struct {
	cfg     ComfyUIConfig
	catalog *workflow.Catalog
	client  *ComfyUIClient
	logger  *zap.Logger
}

// NewComfyUIProvider creates a ComfyUI provider that reads templates from
// catalog.
func NewComfyUIProvider(cfg ComfyUIConfig, catalog *workflow.Catalog, logger *zap.Logger, opts ...Option) *ComfyUIProvider {
	defaults := DefaultComfyUIConfig()
	if cfg.URL == "" {
		cfg.URL = defaults.URL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = defaults.PingTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "image_provider"), zap.String("provider", ProviderComfyUI))
	o := buildOptions(opts)

	return &ComfyUIProvider{
		cfg:     cfg,
		catalog: catalog,
		client: &ComfyUIClient{
			baseURL:     strings.TrimRight(cfg.URL, "/"),
			pingTimeout: cfg.PingTimeout,
			transport: &transport{
				provider: ProviderComfyUI,
				client:   o.client,
				recorder: o.recorder,
				logger:   logger,
			},
		},
		logger: logger,
	}
}

func (p *ComfyUIProvider) Name() string { return ProviderComfyUI }

// Client exposes the underlying API client.
func (p *ComfyUIProvider) Client() *ComfyUIClient { return p.client }

// Available reports whether at least one template is stored. Reachability
// is checked at generation time.
func (p *ComfyUIProvider) Available(ctx context.Context) bool {
	names, err := p.catalog.Store().List(ctx)
	return err == nil && len(names) > 0
}

// ListCheckpoints lists the models installed on the server.
func (p *ComfyUIProvider) ListCheckpoints(ctx context.Context) []string {
	return p.client.ListCheckpoints(ctx)
}

// Generate runs a copy of the selected template. The stored template is
// never modified. Timeout bounds the whole run, from the reachability check
// to the final /view download.
func (p *ComfyUIProvider) Generate(ctx context.Context, req *Request, progress ProgressFunc) (*Result, error) {
	return withDeadline(ctx, p.client.transport, p.cfg.Timeout, func(ctx context.Context) (*Result, error) {
		return p.generate(ctx, req, progress)
	})
}

func (p *ComfyUIProvider) generate(ctx context.Context, req *Request, progress ProgressFunc) (*Result, error) {
	name, err := p.catalog.ResolveName(ctx, req.Workflow)
	if err != nil {
		return nil, err
	}
	template, err := p.catalog.Store().Load(ctx, name)
	if err != nil {
		return nil, err
	}

	g := template.Clone()
	nodes := workflow.Detect(g)
	var warnings []string

	if node, ok := g.Node(nodes.PositivePrompt); ok {
		node.SetInput("text", workflow.LiteralString(req.Prompt))
	} else {
		warnings = append(warnings, WarningNoPromptNode)
	}
	if req.NegativePrompt != "" {
		if node, ok := g.Node(nodes.NegativePrompt); ok {
			node.SetInput("text", workflow.LiteralString(req.NegativePrompt))
		}
	}

	if err := p.client.Ping(ctx); err != nil {
		return nil, err
	}

	if len(req.ReferenceImages) > 0 {
		if len(nodes.ReferenceImages) == 0 {
			warnings = append(warnings, WarningNoLoadImage)
		} else if err := p.injectReferences(ctx, g, nodes.ReferenceImages, req.ReferenceImages); err != nil {
			return nil, err
		}
	}

	promptID, err := p.client.SubmitPrompt(ctx, g, uuid.NewString())
	if err != nil {
		return nil, err
	}
	p.logger.Info("prompt queued", zap.String("workflow", name), zap.String("prompt_id", promptID))

	entry, err := p.wait(ctx, promptID, progress)
	if err != nil {
		return nil, err
	}
	ref, ok := pickImage(entry, nodes.Output)
	if !ok {
		return nil, types.NewError(types.ErrNodeError, "ComfyUI run completed without output images").
			WithProvider(ProviderComfyUI)
	}

	data, mimeType, err := p.client.View(ctx, ref)
	if err != nil {
		return nil, err
	}
	model := req.Model
	if ckpt, ok := g.Node(nodes.Checkpoint); ok {
		if v, ok := ckpt.Input("ckpt_name"); ok {
			if s, ok := v.AsString(); ok {
				model = s
			}
		}
	}
	return &Result{
		Data:     data,
		MIMEType: mimeType,
		Provider: ProviderComfyUI,
		Model:    model,
		Workflow: name,
		Warnings: warnings,
	}, nil
}

// injectReferences uploads min(len(urls), len(loaders)) images and points
// each loader at its upload. Extra URLs are dropped.
func (p *ComfyUIProvider) injectReferences(ctx context.Context, g *workflow.Graph, loaders, urls []string) error {
	n := min(len(urls), len(loaders))
	if n < len(urls) {
		p.logger.Debug("dropping extra reference images", zap.Int("requested", len(urls)), zap.Int("loaders", len(loaders)))
	}
	images, err := p.client.transport.downloadAll(ctx, urls[:n])
	if err != nil {
		return err
	}

	batch := uuid.NewString()[:8]
	for i, img := range images {
		filename := fmt.Sprintf("ref_%s_%d.%s", batch, i, imageExt(img.url, img.mimeType))
		uploaded, err := p.client.UploadImage(ctx, img.data, filename)
		if err != nil {
			return err
		}
		node, _ := g.Node(loaders[i])
		node.SetInput("image", workflow.LiteralString(uploaded))
		p.logger.Debug("reference image injected", zap.String("node", loaders[i]), zap.String("image", uploaded))
	}
	return nil
}

func (p *ComfyUIProvider) wait(ctx context.Context, promptID string, progress ProgressFunc) (*HistoryEntry, error) {
	reporter := newProgressReporter(progress, p.cfg.ProgressInterval, p.logger)

	var final *HistoryEntry
	err := pollUntil(ctx, p.client.transport, p.cfg.PollInterval, reporter, func(ctx context.Context) (bool, error) {
		entry, found, err := p.client.History(ctx, promptID)
		if err != nil {
			// Any failed history read, 4xx included, is retried until the deadline.
			p.logger.Debug("history read failed, retrying", zap.String("prompt_id", promptID), zap.Error(err))
			return false, nil
		}
		if !found {
			return false, nil
		}
		if entry.StatusStr == "error" {
			return false, types.NewError(types.ErrNodeError, "ComfyUI generation failed").
				WithProvider(ProviderComfyUI).
				WithEndpoint("/history")
		}
		if entry.Completed {
			final = entry
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return final, nil
}

// pickImage returns the first image of the preferred output node if it
// produced one, else the first image across the run's outputs in history
// order.
func pickImage(entry *HistoryEntry, preferred string) (ImageRef, bool) {
	for _, out := range entry.Outputs {
		if out.NodeID == preferred && len(out.Images) > 0 {
			return out.Images[0], true
		}
	}
	for _, out := range entry.Outputs {
		if len(out.Images) > 0 {
			return out.Images[0], true
		}
	}
	return ImageRef{}, false
}
