package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/internal/xjson"
	"github.com/BaSui01/imageflow/types"
)

// OpenAIProvider generates images through an OpenAI-compatible images API
// with a single synchronous call.
type OpenAIProvider struct {
	cfg       OpenAIConfig
	transport *transport
	logger    *zap.Logger
}

// NewOpenAIProvider creates an OpenAI-compatible provider.
func NewOpenAIProvider(cfg OpenAIConfig, logger *zap.Logger, opts ...Option) *OpenAIProvider {
	defaults := DefaultOpenAIConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "image_provider"), zap.String("provider", ProviderOpenAI))
	o := buildOptions(opts)

	return &OpenAIProvider{
		cfg: cfg,
		transport: &transport{
			provider: ProviderOpenAI,
			client:   o.client,
			recorder: o.recorder,
			logger:   logger,
		},
		logger: logger,
	}
}

func (p *OpenAIProvider) Name() string { return ProviderOpenAI }

type openAIRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	N       int    `json:"n"`
	Size    string `json:"size,omitempty"`
	Quality string `json:"quality,omitempty"`
}

type openAIResponse struct {
	Created int64 `json:"created"`
	Data    []struct {
		URL           string `json:"url,omitempty"`
		B64JSON       string `json:"b64_json,omitempty"`
		RevisedPrompt string `json:"revised_prompt,omitempty"`
	} `json:"data"`
}

// Generate creates one image. With reference images it downloads them and
// calls the edits endpoint instead.
// Endpoints: POST /v1/images/generations, POST /v1/images/edits
func (p *OpenAIProvider) Generate(ctx context.Context, req *Request, _ ProgressFunc) (*Result, error) {
	return withDeadline(ctx, p.transport, p.cfg.Timeout, func(ctx context.Context) (*Result, error) {
		return p.generate(ctx, req)
	})
}

func (p *OpenAIProvider) generate(ctx context.Context, req *Request) (*Result, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	prompt := composePrompt(req.Prompt, req.NegativePrompt)

	var (
		resp openAIResponse
		err  error
	)
	if len(req.ReferenceImages) > 0 {
		resp, err = p.edit(ctx, model, prompt, req)
	} else {
		err = p.transport.doJSON(ctx, "generations", http.MethodPost,
			joinURL(p.cfg.BaseURL, "/v1/images/generations"), bearer(p.cfg.APIKey),
			openAIRequest{Model: model, Prompt: prompt, N: 1, Size: req.Size, Quality: req.Quality}, &resp)
	}
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, types.NewError(types.ErrUpstreamRejected, "openai returned no image data").WithProvider(ProviderOpenAI)
	}

	item := resp.Data[0]
	result := &Result{Provider: ProviderOpenAI, Model: model, MIMEType: "image/png"}
	switch {
	case item.B64JSON != "":
		data, err := base64.StdEncoding.DecodeString(item.B64JSON)
		if err != nil {
			return nil, types.NewError(types.ErrUpstreamRejected, "openai returned invalid base64 image").
				WithCause(err).
				WithProvider(ProviderOpenAI)
		}
		result.Data = data
	case item.URL != "":
		img, err := p.transport.download(ctx, "image_download", item.URL, "image/png")
		if err != nil {
			return nil, err
		}
		result.Data = img.data
		result.MIMEType = img.mimeType
		result.ImageURL = item.URL
	default:
		return nil, types.NewError(types.ErrUpstreamRejected, "openai image has neither b64_json nor url").WithProvider(ProviderOpenAI)
	}
	return result, nil
}

func (p *OpenAIProvider) edit(ctx context.Context, model, prompt string, req *Request) (openAIResponse, error) {
	var out openAIResponse

	refs, err := p.transport.downloadAll(ctx, req.ReferenceImages)
	if err != nil {
		return out, err
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for i, ref := range refs {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image[]"; filename="%s"`, referenceFilename(i, ref)))
		h.Set("Content-Type", ref.mimeType)
		part, err := writer.CreatePart(h)
		if err != nil {
			return out, err
		}
		if _, err := part.Write(ref.data); err != nil {
			return out, err
		}
	}
	_ = writer.WriteField("prompt", prompt)
	_ = writer.WriteField("model", model)
	_ = writer.WriteField("n", "1")
	if req.Size != "" {
		_ = writer.WriteField("size", req.Size)
	}
	if req.Quality != "" {
		_ = writer.WriteField("quality", req.Quality)
	}
	if err := writer.Close(); err != nil {
		return out, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(p.cfg.BaseURL, "/v1/images/edits"), &buf)
	if err != nil {
		return out, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header = bearer(p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.transport.do(ctx, "edits", httpReq)
	if err != nil {
		return out, err
	}
	if err := xjson.Unmarshal(resp.body, &out); err != nil {
		return out, types.NewError(types.ErrUpstreamRejected, "openai edits: malformed response").
			WithCause(err).
			WithProvider(ProviderOpenAI)
	}
	return out, nil
}

// composePrompt folds a negative prompt into the text, since the images API
// has no dedicated field for it.
func composePrompt(prompt, negative string) string {
	negative = strings.TrimSpace(negative)
	if negative == "" {
		return prompt
	}
	return prompt + "\n\nAvoid: " + negative
}

func referenceFilename(i int, d *download) string {
	return fmt.Sprintf("reference_%d.%s", i, imageExt(d.url, d.mimeType))
}

// imageExt picks a file extension from the URL path, falling back to the
// content type and then png.
func imageExt(rawURL, mimeType string) string {
	p := rawURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	switch ext := strings.ToLower(strings.TrimPrefix(path.Ext(p), ".")); ext {
	case "jpg", "jpeg", "png", "webp", "gif":
		return ext
	}
	switch {
	case strings.Contains(mimeType, "jpeg"):
		return "jpg"
	case strings.Contains(mimeType, "webp"):
		return "webp"
	case strings.Contains(mimeType, "gif"):
		return "gif"
	}
	return "png"
}
