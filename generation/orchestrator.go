package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/image"
	"github.com/BaSui01/imageflow/internal/admission"
	"github.com/BaSui01/imageflow/internal/telemetry"
	"github.com/BaSui01/imageflow/types"
)

// providerOrder is the fallback order when neither the request nor the
// configuration names a provider.
var providerOrder = []string{image.ProviderPlatform, image.ProviderOpenAI, image.ProviderComfyUI}

// Config configures the orchestrator.
type Config struct {
	DefaultProvider string   `json:"default_provider,omitempty" yaml:"default_provider,omitempty" env:"DEFAULT_PROVIDER" validate:"omitempty,oneof=platform openai comfyui"`
	OutputDir       string   `json:"output_dir" yaml:"output_dir" env:"OUTPUT_DIR"`
	SaveImages      bool     `json:"save_images" yaml:"save_images" env:"SAVE_IMAGES"`
	Defaults        Defaults `json:"defaults" yaml:"defaults" env:"DEFAULTS"`
}

// Defaults fill request fields the caller left empty.
type Defaults struct {
	AspectRatio    string `json:"aspect_ratio,omitempty" yaml:"aspect_ratio,omitempty" env:"ASPECT_RATIO"`
	Size           string `json:"size,omitempty" yaml:"size,omitempty" env:"SIZE"`
	Quality        string `json:"quality,omitempty" yaml:"quality,omitempty" env:"QUALITY"`
	NegativePrompt string `json:"negative_prompt,omitempty" yaml:"negative_prompt,omitempty" env:"NEGATIVE_PROMPT"`
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		OutputDir:  DefaultOutputDir,
		SaveImages: true,
	}
}

// Recorder receives one event per finished generation.
type Recorder interface {
	RecordGeneration(provider, status, category string, duration time.Duration, warnings int)
}

// Generation is a successful result plus where the image was kept.
type Generation struct {
	*image.Result
	SavedPath string        `json:"saved_path,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder reports generations to r.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithTracer replaces the global OTel tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithClock overrides the time source used for durations and file names.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator picks a provider, admits the request, runs it, classifies
// failures and keeps a local copy of the image.
type Orchestrator struct {
	cfg       Config
	providers map[string]image.Provider
	admission *admission.Controller
	validate  *validator.Validate
	recorder  Recorder
	tracer    trace.Tracer
	now       func() time.Time
	logger    *zap.Logger
}

// New creates an orchestrator over the configured providers. Only pass
// providers that are configured; unknown names are rejected.
func New(cfg Config, adm *admission.Controller, providers []image.Provider, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if adm == nil {
		adm = admission.New(admission.DefaultConfig(), logger)
	}
	o := &Orchestrator{
		cfg:       cfg,
		providers: make(map[string]image.Provider, len(providers)),
		admission: adm,
		validate:  validator.New(),
		tracer:    telemetry.Tracer("generation"),
		now:       time.Now,
		logger:    logger.With(zap.String("component", "orchestrator")),
	}
	for _, opt := range opts {
		opt(o)
	}
	for _, p := range providers {
		if _, err := poolFor(p.Name()); err != nil {
			return nil, err
		}
		o.providers[p.Name()] = p
	}
	return o, nil
}

func poolFor(provider string) (admission.Pool, error) {
	switch provider {
	case image.ProviderPlatform, image.ProviderOpenAI:
		return admission.PoolRemote, nil
	case image.ProviderComfyUI:
		return admission.PoolLocal, nil
	}
	return "", types.Errorf(types.ErrValidation, "unknown provider %q", provider)
}

func (o *Orchestrator) available(ctx context.Context, name string) (image.Provider, bool) {
	p, ok := o.providers[name]
	if !ok {
		return nil, false
	}
	if checker, ok := p.(image.AvailabilityChecker); ok && !checker.Available(ctx) {
		return nil, false
	}
	return p, true
}

// Available lists usable providers in fallback order.
func (o *Orchestrator) Available(ctx context.Context) []string {
	names := make([]string, 0, len(providerOrder))
	for _, name := range providerOrder {
		if _, ok := o.available(ctx, name); ok {
			names = append(names, name)
		}
	}
	return names
}

// Resolve picks the provider for a request: the explicit one if usable,
// else the configured default if usable, else the first usable in order.
func (o *Orchestrator) Resolve(ctx context.Context, explicit string) (image.Provider, error) {
	if explicit != "" {
		if p, ok := o.available(ctx, explicit); ok {
			return p, nil
		}
		return nil, types.Errorf(types.ErrNotAvailable, "provider %q is not available, configure it or choose one of: %s",
			explicit, strings.Join(o.Available(ctx), ", "))
	}
	if d := o.cfg.DefaultProvider; d != "" {
		if p, ok := o.available(ctx, d); ok {
			return p, nil
		}
		o.logger.Debug("default provider unavailable, falling back", zap.String("provider", d))
	}
	for _, name := range providerOrder {
		if p, ok := o.available(ctx, name); ok {
			return p, nil
		}
	}
	return nil, types.NewError(types.ErrNotConfigured,
		"no image provider configured, set a platform API key, an OpenAI API key, or import a ComfyUI workflow")
}

func (o *Orchestrator) prepare(req *image.Request) (*image.Request, error) {
	if req == nil {
		return nil, types.NewError(types.ErrValidation, "request is required")
	}
	r := *req
	r.Prompt = strings.TrimSpace(r.Prompt)
	defaults := image.Request{
		AspectRatio:    o.cfg.Defaults.AspectRatio,
		Size:           o.cfg.Defaults.Size,
		Quality:        o.cfg.Defaults.Quality,
		NegativePrompt: o.cfg.Defaults.NegativePrompt,
	}
	if err := mergo.Merge(&r, defaults); err != nil {
		return nil, fmt.Errorf("apply request defaults: %w", err)
	}
	if err := o.validate.Struct(&r); err != nil {
		return nil, types.Errorf(types.ErrValidation, "invalid request: %s", describeValidation(err)).WithCause(err)
	}
	return &r, nil
}

func describeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// Generate runs one request end to end. Failures come back classified with
// a category and hint. A failed local save is a warning on the result.
func (o *Orchestrator) Generate(ctx context.Context, req *image.Request, progress image.ProgressFunc) (*Generation, error) {
	start := o.now()

	r, err := o.prepare(req)
	if err != nil {
		return nil, err
	}
	provider, err := o.Resolve(ctx, r.Provider)
	if err != nil {
		return nil, err
	}
	pool, err := poolFor(provider.Name())
	if err != nil {
		return nil, err
	}

	ctx, span := o.tracer.Start(ctx, "generation.generate", trace.WithAttributes(
		attribute.String("imageflow.provider", provider.Name()),
		attribute.String("imageflow.pool", string(pool)),
		attribute.Int("imageflow.reference_images", len(r.ReferenceImages)),
	))
	defer span.End()

	ctx = types.WithProvider(ctx, provider.Name())
	logger := o.logger
	if id, ok := types.RequestID(ctx); ok {
		logger = logger.With(zap.String("request_id", id))
	}

	logger.Info("generation started",
		zap.String("provider", provider.Name()),
		zap.String("pool", string(pool)),
		zap.Int("reference_images", len(r.ReferenceImages)),
	)

	var result *image.Result
	err = o.admission.Do(ctx, pool, func(ctx context.Context) error {
		var genErr error
		result, genErr = provider.Generate(ctx, r, progress)
		return genErr
	})
	duration := o.now().Sub(start)

	if err != nil {
		classified := Classify(err)
		category := CategoryUnknown
		if e, ok := types.AsError(classified); ok {
			category = e.Category
		}
		span.RecordError(classified)
		span.SetStatus(codes.Error, category)
		o.record(provider.Name(), "error", category, duration, 0)
		logger.Warn("generation failed",
			zap.String("provider", provider.Name()),
			zap.String("category", category),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return nil, classified
	}

	gen := &Generation{Result: result, Duration: duration}
	if result.Provider == "" {
		result.Provider = provider.Name()
	}
	if o.cfg.SaveImages && len(result.Data) > 0 {
		path, saveErr := saveImage(o.outputDir(), o.now(), result.Data, result.MIMEType)
		if saveErr != nil {
			result.Warnings = append(result.Warnings, "image generated but not saved locally: "+saveErr.Error())
			logger.Warn("local save failed", zap.Error(saveErr))
		} else {
			gen.SavedPath = path
		}
	}

	span.SetAttributes(
		attribute.String("imageflow.mime_type", result.MIMEType),
		attribute.Int("imageflow.warnings", len(result.Warnings)),
	)
	o.record(provider.Name(), "success", "", duration, len(result.Warnings))
	logger.Info("generation finished",
		zap.String("provider", provider.Name()),
		zap.Duration("duration", duration),
		zap.Int("bytes", len(result.Data)),
		zap.String("saved_path", gen.SavedPath),
		zap.Strings("warnings", result.Warnings),
	)
	return gen, nil
}

func (o *Orchestrator) outputDir() string {
	if o.cfg.OutputDir == "" {
		return DefaultOutputDir
	}
	return o.cfg.OutputDir
}

func (o *Orchestrator) record(provider, status, category string, d time.Duration, warnings int) {
	if o.recorder != nil {
		o.recorder.RecordGeneration(provider, status, category, d, warnings)
	}
}

// AdmissionStats reports both permit pools.
func (o *Orchestrator) AdmissionStats() map[admission.Pool]admission.Stats {
	return map[admission.Pool]admission.Stats{
		admission.PoolRemote: o.admission.Stats(admission.PoolRemote),
		admission.PoolLocal:  o.admission.Stats(admission.PoolLocal),
	}
}
