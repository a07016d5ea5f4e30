package image

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	"github.com/BaSui01/imageflow/internal/xjson"
	"github.com/BaSui01/imageflow/types"
	"github.com/BaSui01/imageflow/workflow"
)

// ComfyUIClient speaks the ComfyUI HTTP API.
type ComfyUIClient struct {
	baseURL     string
	pingTimeout time.Duration
	transport   *transport
}

// ImageRef locates a file in ComfyUI's input or output store.
type ImageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// NodeOutput lists the images one output node produced.
type NodeOutput struct {
	NodeID string
	Images []ImageRef
}

// HistoryEntry is the state of one submitted prompt.
type HistoryEntry struct {
	StatusStr string
	Completed bool
	// Outputs keeps the order of the history document.
	Outputs []NodeOutput
}

type promptRequest struct {
	Prompt   *workflow.Graph `json:"prompt"`
	ClientID string          `json:"client_id,omitempty"`
}

type promptResponse struct {
	PromptID   string           `json:"prompt_id"`
	Number     int              `json:"number"`
	NodeErrors xjson.RawMessage `json:"node_errors,omitempty"`
	Error      xjson.RawMessage `json:"error,omitempty"`
}

// Ping checks that ComfyUI answers GET / within the ping timeout. Any HTTP
// reply counts as reachable; only a transport failure does not.
func (c *ComfyUIClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.pingTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return types.Errorf(types.ErrValidation, "invalid ComfyUI url %q", c.baseURL).WithCause(err)
	}
	if _, err := c.transport.send(ctx, "ping", req); err != nil {
		return types.Errorf(types.ErrNetwork, "ComfyUI is not reachable at %s, make sure ComfyUI is running", c.baseURL).
			WithCause(err).
			WithProvider(ProviderComfyUI).
			WithEndpoint("/")
	}
	return nil
}

// UploadImage stores data in ComfyUI's input directory and returns the name
// ComfyUI assigned.
// Endpoint: POST /upload/image
func (c *ComfyUIClient) UploadImage(ctx context.Context, data []byte, filename string) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	_ = writer.WriteField("overwrite", "true")
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(c.baseURL, "/upload/image"), &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.transport.do(ctx, "upload_image", req)
	if err != nil {
		return "", err
	}
	var uploaded ImageRef
	if err := xjson.Unmarshal(resp.body, &uploaded); err != nil || uploaded.Filename == "" {
		name := gjson.GetBytes(resp.body, "name").String()
		if name == "" {
			return "", types.NewError(types.ErrUpstreamRejected, "ComfyUI image upload returned no name").
				WithProvider(ProviderComfyUI).
				WithEndpoint("/upload/image")
		}
		return name, nil
	}
	return uploaded.Filename, nil
}

// ListCheckpoints returns the installed checkpoint names, or an empty list
// when ComfyUI cannot be asked.
// Endpoint: GET /models/checkpoints
func (c *ComfyUIClient) ListCheckpoints(ctx context.Context) []string {
	var names []string
	err := c.transport.doJSON(ctx, "list_checkpoints", http.MethodGet, joinURL(c.baseURL, "/models/checkpoints"), nil, nil, &names)
	if err != nil || names == nil {
		return []string{}
	}
	return names
}

// SubmitPrompt queues a graph for execution and returns its prompt id.
// Node-level validation errors fail with NODE_ERROR whatever the HTTP status.
// Endpoint: POST /prompt
func (c *ComfyUIClient) SubmitPrompt(ctx context.Context, g *workflow.Graph, clientID string) (string, error) {
	payload, err := xjson.Marshal(promptRequest{Prompt: g, ClientID: clientID})
	if err != nil {
		return "", fmt.Errorf("encode prompt: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(c.baseURL, "/prompt"), bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.transport.send(ctx, "submit_prompt", req)
	if err != nil {
		return "", err
	}

	var pr promptResponse
	_ = xjson.Unmarshal(resp.body, &pr)
	if hasEntries(pr.NodeErrors) {
		return "", types.Errorf(types.ErrNodeError, "ComfyUI node_errors: %s", string(pr.NodeErrors)).
			WithProvider(ProviderComfyUI).
			WithEndpoint("/prompt").
			WithHTTPStatus(resp.status)
	}
	if err := c.transport.checkStatus("submit_prompt", "/prompt", resp); err != nil {
		return "", err
	}
	if pr.PromptID == "" {
		return "", types.NewError(types.ErrUpstreamRejected, "ComfyUI returned no prompt_id").
			WithProvider(ProviderComfyUI).
			WithEndpoint("/prompt")
	}
	return pr.PromptID, nil
}

// History fetches the run state of a prompt. found is false while ComfyUI
// has not recorded the prompt yet.
// Endpoint: GET /history/{prompt_id}
func (c *ComfyUIClient) History(ctx context.Context, promptID string) (entry *HistoryEntry, found bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, joinURL(c.baseURL, "/history/"+url.PathEscape(promptID)), nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.transport.do(ctx, "history", req)
	if err != nil {
		return nil, false, err
	}
	if !gjson.ValidBytes(resp.body) {
		return nil, false, nil
	}

	var raw gjson.Result
	gjson.ParseBytes(resp.body).ForEach(func(key, value gjson.Result) bool {
		if key.String() == promptID {
			raw = value
			return false
		}
		return true
	})
	if !raw.Exists() {
		return nil, false, nil
	}
	return parseHistoryEntry(raw), true, nil
}

func parseHistoryEntry(raw gjson.Result) *HistoryEntry {
	entry := &HistoryEntry{
		StatusStr: raw.Get("status.status_str").String(),
		Completed: raw.Get("status.completed").Bool(),
	}
	raw.Get("outputs").ForEach(func(nodeID, output gjson.Result) bool {
		out := NodeOutput{NodeID: nodeID.String()}
		output.Get("images").ForEach(func(_, img gjson.Result) bool {
			out.Images = append(out.Images, ImageRef{
				Filename:  img.Get("filename").String(),
				Subfolder: img.Get("subfolder").String(),
				Type:      img.Get("type").String(),
			})
			return true
		})
		entry.Outputs = append(entry.Outputs, out)
		return true
	})
	return entry
}

// View downloads an output image.
// Endpoint: GET /view?filename=&subfolder=&type=
func (c *ComfyUIClient) View(ctx context.Context, ref ImageRef) ([]byte, string, error) {
	q := url.Values{}
	q.Set("filename", ref.Filename)
	q.Set("subfolder", ref.Subfolder)
	q.Set("type", ref.Type)

	img, err := c.transport.download(ctx, "view", joinURL(c.baseURL, "/view?"+q.Encode()), "image/png")
	if err != nil {
		return nil, "", fmt.Errorf("failed to download image from ComfyUI: %w", err)
	}
	return img.data, img.mimeType, nil
}

func hasEntries(raw xjson.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	r := gjson.ParseBytes(raw)
	switch {
	case r.IsObject():
		return len(r.Map()) > 0
	case r.IsArray():
		return len(r.Array()) > 0
	}
	return false
}
