package handlers

import (
	"context"
	"encoding/base64"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/generation"
	"github.com/BaSui01/imageflow/image"
	"github.com/BaSui01/imageflow/internal/admission"
	"github.com/BaSui01/imageflow/types"
)

// =============================================================================
// 🎨 图像生成 Handler
// =============================================================================

// Generator 是 generation.Orchestrator 在 HTTP 层使用的子集
type Generator interface {
	Generate(ctx context.Context, req *image.Request, progress image.ProgressFunc) (*generation.Generation, error)
	Available(ctx context.Context) []string
	AdmissionStats() map[admission.Pool]admission.Stats
}

// GenerateResponse 图像生成响应
type GenerateResponse struct {
	ImageBase64 string   `json:"image_base64"`
	MIMEType    string   `json:"mime_type"`
	Provider    string   `json:"provider"`
	Model       string   `json:"model,omitempty"`
	ImageURL    string   `json:"image_url,omitempty"`
	Workflow    string   `json:"workflow,omitempty"`
	SavedPath   string   `json:"saved_path,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	DurationMS  int64    `json:"duration_ms"`
}

// ProvidersResponse 可用后端与许可池状态
type ProvidersResponse struct {
	Available []string                           `json:"available"`
	Admission map[admission.Pool]admission.Stats `json:"admission"`
}

// GenerateHandler 图像生成处理器
type GenerateHandler struct {
	generator Generator
	logger    *zap.Logger
}

// NewGenerateHandler 创建图像生成处理器
func NewGenerateHandler(generator Generator, logger *zap.Logger) *GenerateHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GenerateHandler{
		generator: generator,
		logger:    logger.With(zap.String("handler", "generate")),
	}
}

// HandleGenerate 处理 POST /api/v1/images/generations
// @Summary 生成图像
// @Description 选择后端、排队、生成并返回 base64 图像
// @Tags 图像
// @Accept json
// @Produce json
// @Param request body image.Request true "生成请求"
// @Success 200 {object} Response{data=GenerateResponse}
// @Failure 400 {object} Response "请求无效"
// @Failure 503 {object} Response "没有可用后端"
// @Failure 504 {object} Response "生成超时"
// @Router /api/v1/images/generations [post]
func (h *GenerateHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req image.Request
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	requestID := w.Header().Get("X-Request-ID")
	progress := func(ctx context.Context, elapsed time.Duration) error {
		provider, _ := types.Provider(ctx)
		h.logger.Debug("generation in progress",
			zap.String("request_id", requestID),
			zap.String("provider", provider),
			zap.Duration("elapsed", elapsed),
		)
		return nil
	}

	gen, err := h.generator.Generate(r.Context(), &req, progress)
	if err != nil {
		WriteFailure(w, err, h.logger)
		return
	}

	WriteSuccess(w, GenerateResponse{
		ImageBase64: base64.StdEncoding.EncodeToString(gen.Data),
		MIMEType:    gen.MIMEType,
		Provider:    gen.Provider,
		Model:       gen.Model,
		ImageURL:    gen.ImageURL,
		Workflow:    gen.Workflow,
		SavedPath:   gen.SavedPath,
		Warnings:    gen.Warnings,
		DurationMS:  gen.Duration.Milliseconds(),
	})
}

// HandleProviders 处理 GET /api/v1/providers
// @Summary 可用后端
// @Tags 图像
// @Produce json
// @Success 200 {object} Response{data=ProvidersResponse}
// @Router /api/v1/providers [get]
func (h *GenerateHandler) HandleProviders(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, ProvidersResponse{
		Available: h.generator.Available(r.Context()),
		Admission: h.generator.AdmissionStats(),
	})
}
