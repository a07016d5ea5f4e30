package image

import (
	"context"
	"time"
)

// Provider names.
const (
	ProviderPlatform = "platform"
	ProviderOpenAI   = "openai"
	ProviderComfyUI  = "comfyui"
)

// Request is a provider-agnostic image generation request.
type Request struct {
	Prompt          string   `json:"prompt" validate:"required"`
	Model           string   `json:"model,omitempty"`
	Size            string   `json:"size,omitempty"`         // 1024x1024, 1536x1024, auto
	AspectRatio     string   `json:"aspect_ratio,omitempty"` // 1:1, 3:4, 4:3, 16:9, 9:16
	Quality         string   `json:"quality,omitempty"`      // low, medium, high
	ReferenceImages []string `json:"reference_images,omitempty" validate:"omitempty,max=16,dive,url"`
	NegativePrompt  string   `json:"negative_prompt,omitempty"`
	Provider        string   `json:"provider,omitempty" validate:"omitempty,oneof=platform openai comfyui"`
	Workflow        string   `json:"workflow,omitempty"`
}

// Result is a generated image.
type Result struct {
	Data     []byte `json:"-"`
	MIMEType string `json:"mime_type"`
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
	// ImageURL is the hosted copy, when the backend keeps one.
	ImageURL string `json:"image_url,omitempty"`
	// Workflow is the ComfyUI template used.
	Workflow string   `json:"workflow,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// ProgressFunc reports liveness while a generation waits on its backend.
// It is called at most once per progress interval. Its errors and panics are
// logged and otherwise ignored.
type ProgressFunc func(ctx context.Context, elapsed time.Duration) error

// Provider generates images from one backend.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req *Request, progress ProgressFunc) (*Result, error)
}

// AvailabilityChecker is implemented by providers whose usability depends on
// more than configuration.
type AvailabilityChecker interface {
	Available(ctx context.Context) bool
}
