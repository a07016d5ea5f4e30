package handlers

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/internal/xjson"
	"github.com/BaSui01/imageflow/types"
	"github.com/BaSui01/imageflow/workflow"
)

// =============================================================================
// 🗂️ Workflow 模板 Handler
// =============================================================================

// CheckpointLister 列出后端可用的模型检查点
type CheckpointLister interface {
	ListCheckpoints(ctx context.Context) []string
}

// OperationRecorder 记录模板操作结果
type OperationRecorder interface {
	RecordWorkflowOperation(operation string, err error)
}

// WorkflowHandler 工作流模板管理处理器
type WorkflowHandler struct {
	catalog     *workflow.Catalog
	checkpoints CheckpointLister
	recorder    OperationRecorder
	logger      *zap.Logger
}

// ImportWorkflowRequest 导入请求。path 与 workflow 二选一。
type ImportWorkflowRequest struct {
	Name     string           `json:"name,omitempty"`
	Path     string           `json:"path,omitempty"`
	Workflow xjson.RawMessage `json:"workflow,omitempty"`
}

// ModifyWorkflowRequest 修改单个节点输入
type ModifyWorkflowRequest struct {
	NodeID string           `json:"node_id"`
	Input  string           `json:"input"`
	Value  xjson.RawMessage `json:"value"`
}

// ResizeWorkflowRequest 按宽高比调整潜空间尺寸
type ResizeWorkflowRequest struct {
	AspectRatio string `json:"aspect_ratio"`
}

// NewWorkflowHandler 创建工作流处理器。checkpoints 可为 nil。
func NewWorkflowHandler(catalog *workflow.Catalog, checkpoints CheckpointLister, logger *zap.Logger) *WorkflowHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowHandler{
		catalog:     catalog,
		checkpoints: checkpoints,
		logger:      logger.With(zap.String("handler", "workflow")),
	}
}

// WithRecorder 设置操作记录器并返回 h
func (h *WorkflowHandler) WithRecorder(r OperationRecorder) *WorkflowHandler {
	h.recorder = r
	return h
}

func (h *WorkflowHandler) record(operation string, err error) {
	if h.recorder != nil {
		h.recorder.RecordWorkflowOperation(operation, err)
	}
}

// HandleList 处理 GET /api/v1/workflows
// @Summary 列出工作流模板
// @Tags 工作流
// @Produce json
// @Success 200 {object} Response{data=[]workflow.Entry}
// @Router /api/v1/workflows [get]
func (h *WorkflowHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	entries, err := h.catalog.List(r.Context())
	h.record("list", err)
	if err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	WriteSuccess(w, entries)
}

// HandleView 处理 GET /api/v1/workflows/{name}
// @Summary 查看工作流模板
// @Tags 工作流
// @Produce json
// @Success 200 {object} Response{data=workflow.View}
// @Failure 404 {object} Response
// @Router /api/v1/workflows/{name} [get]
func (h *WorkflowHandler) HandleView(w http.ResponseWriter, r *http.Request) {
	view, err := h.catalog.View(r.Context(), r.PathValue("name"))
	h.record("view", err)
	if err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	WriteSuccess(w, view)
}

// HandleImport 处理 POST /api/v1/workflows/import
// @Summary 导入工作流模板
// @Tags 工作流
// @Accept json
// @Produce json
// @Success 200 {object} Response{data=workflow.ImportReport}
// @Failure 400 {object} Response
// @Router /api/v1/workflows/import [post]
func (h *WorkflowHandler) HandleImport(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req ImportWorkflowRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	var (
		report *workflow.ImportReport
		err    error
	)
	switch {
	case len(req.Workflow) > 0 && req.Path != "":
		err = types.NewError(types.ErrValidation, "provide either path or workflow, not both")
	case len(req.Workflow) > 0:
		if req.Name == "" {
			err = types.NewError(types.ErrValidation, "name is required when importing inline workflow content")
			break
		}
		report, err = h.catalog.ImportBytes(r.Context(), req.Name, req.Workflow)
	default:
		report, err = h.catalog.Import(r.Context(), req.Name, req.Path)
	}
	h.record("import", err)
	if err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	WriteSuccess(w, report)
}

// HandleModify 处理 POST /api/v1/workflows/{name}/modify
// @Summary 修改节点输入
// @Tags 工作流
// @Accept json
// @Produce json
// @Success 200 {object} Response{data=workflow.Modification}
// @Failure 400 {object} Response
// @Router /api/v1/workflows/{name}/modify [post]
func (h *WorkflowHandler) HandleModify(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req ModifyWorkflowRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if len(req.Value) == 0 {
		WriteError(w, types.NewError(types.ErrValidation, "value is required"), h.logger)
		return
	}

	mod, err := h.catalog.Modify(r.Context(), r.PathValue("name"), req.NodeID, req.Input, string(req.Value))
	h.record("modify", err)
	if err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	WriteSuccess(w, mod)
}

// HandleResize 处理 POST /api/v1/workflows/{name}/resize
// @Summary 调整输出宽高比
// @Tags 工作流
// @Accept json
// @Produce json
// @Success 200 {object} Response{data=workflow.ResizeReport}
// @Router /api/v1/workflows/{name}/resize [post]
func (h *WorkflowHandler) HandleResize(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req ResizeWorkflowRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	report, err := h.catalog.Resize(r.Context(), r.PathValue("name"), strings.TrimSpace(req.AspectRatio))
	h.record("resize", err)
	if err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	WriteSuccess(w, report)
}

// HandleDelete 处理 DELETE /api/v1/workflows/{name}
// @Summary 删除工作流模板
// @Tags 工作流
// @Produce json
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Router /api/v1/workflows/{name} [delete]
func (h *WorkflowHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	err := h.catalog.Delete(r.Context(), name)
	h.record("delete", err)
	if err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{"deleted": name})
}

// HandleCheckpoints 处理 GET /api/v1/checkpoints
// @Summary 列出 ComfyUI 模型检查点
// @Tags 工作流
// @Produce json
// @Success 200 {object} Response{data=[]string}
// @Router /api/v1/checkpoints [get]
func (h *WorkflowHandler) HandleCheckpoints(w http.ResponseWriter, r *http.Request) {
	if h.checkpoints == nil {
		WriteSuccess(w, []string{})
		return
	}
	WriteSuccess(w, h.checkpoints.ListCheckpoints(r.Context()))
}
