package image

import (
	"context"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/types"
)

// PlatformProvider generates images through the hosted platform API, which
// accepts a job, returns its id, and is polled until the job settles.
type PlatformProvider struct {
	cfg       PlatformConfig
	transport *transport
	logger    *zap.Logger
}

// NewPlatformProvider creates a hosted platform provider.
func NewPlatformProvider(cfg PlatformConfig, logger *zap.Logger, opts ...Option) *PlatformProvider {
	defaults := DefaultPlatformConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "image_provider"), zap.String("provider", ProviderPlatform))
	o := buildOptions(opts)

	return &PlatformProvider{
		cfg: cfg,
		transport: &transport{
			provider: ProviderPlatform,
			client:   o.client,
			recorder: o.recorder,
			logger:   logger,
		},
		logger: logger,
	}
}

func (p *PlatformProvider) Name() string { return ProviderPlatform }

type platformRequest struct {
	Prompt          string   `json:"prompt"`
	ModelID         string   `json:"modelId,omitempty"`
	AspectRatio     string   `json:"aspectRatio"`
	ReferenceImages []string `json:"referenceImages,omitempty"`
}

type platformSubmitResponse struct {
	GenerationID string `json:"generationId"`
}

type platformStatus struct {
	Status   string `json:"status"` // pending, processing, completed, failed
	ImageURL string `json:"imageUrl,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Generate submits the job and polls its status until completed or failed.
// Timeout bounds the whole run, submission and image download included.
// Endpoints: POST /api/generate, GET /api/generate/{id}/status
func (p *PlatformProvider) Generate(ctx context.Context, req *Request, progress ProgressFunc) (*Result, error) {
	return withDeadline(ctx, p.transport, p.cfg.Timeout, func(ctx context.Context) (*Result, error) {
		return p.generate(ctx, req, progress)
	})
}

func (p *PlatformProvider) generate(ctx context.Context, req *Request, progress ProgressFunc) (*Result, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	aspectRatio := req.AspectRatio
	if aspectRatio == "" {
		aspectRatio = "1:1"
	}

	body := platformRequest{
		Prompt:          req.Prompt,
		ModelID:         model,
		AspectRatio:     aspectRatio,
		ReferenceImages: req.ReferenceImages,
	}
	var submitted platformSubmitResponse
	if err := p.transport.doJSON(ctx, "submit", http.MethodPost,
		joinURL(p.cfg.BaseURL, "/api/generate"), bearer(p.cfg.APIKey), body, &submitted); err != nil {
		return nil, err
	}
	if submitted.GenerationID == "" {
		return nil, types.NewError(types.ErrUpstreamRejected, "no generation ID returned").
			WithProvider(ProviderPlatform).
			WithEndpoint("/api/generate")
	}
	p.logger.Info("generation submitted", zap.String("generation_id", submitted.GenerationID))

	status, err := p.wait(ctx, submitted.GenerationID, progress)
	if err != nil {
		return nil, err
	}
	if status.Status == "failed" {
		reason := status.Error
		if reason == "" {
			reason = "generation failed"
		}
		return nil, types.NewError(types.ErrUpstreamRejected, reason).WithProvider(ProviderPlatform)
	}
	if status.ImageURL == "" {
		return nil, types.NewError(types.ErrUpstreamRejected, "no image URL in completed generation").
			WithProvider(ProviderPlatform)
	}

	img, err := p.transport.download(ctx, "image_download", status.ImageURL, "image/jpeg")
	if err != nil {
		return nil, err
	}
	return &Result{
		Data:     img.data,
		MIMEType: img.mimeType,
		Provider: ProviderPlatform,
		Model:    model,
		ImageURL: status.ImageURL,
	}, nil
}

func (p *PlatformProvider) wait(ctx context.Context, id string, progress ProgressFunc) (*platformStatus, error) {
	statusURL := joinURL(p.cfg.BaseURL, "/api/generate/"+url.PathEscape(id)+"/status")
	reporter := newProgressReporter(progress, p.cfg.ProgressInterval, p.logger)

	var final platformStatus
	err := pollUntil(ctx, p.transport, p.cfg.PollInterval, reporter, func(ctx context.Context) (bool, error) {
		var st platformStatus
		if err := p.transport.doJSON(ctx, "status", http.MethodGet, statusURL, bearer(p.cfg.APIKey), nil, &st); err != nil {
			if transient(p.logger, err) {
				return false, nil
			}
			return false, err
		}
		switch st.Status {
		case "completed", "failed":
			final = st
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return &final, nil
}
