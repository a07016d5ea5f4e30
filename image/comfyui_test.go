package image

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/types"
	"github.com/BaSui01/imageflow/workflow"
)

const ksamplerTemplate = `{"3":{"class_type":"KSampler","inputs":{"positive":["5",0],"steps":20}},"5":{"class_type":"CLIPTextEncode","inputs":{"text":"old"}}}`

const img2imgTemplate = `{
  "1":{"class_type":"LoadImage","inputs":{"image":"placeholder.png"}},
  "2":{"class_type":"LoadImage","inputs":{"image":"placeholder.png"}},
  "3":{"class_type":"KSampler","inputs":{"positive":["5",0],"steps":20}},
  "5":{"class_type":"CLIPTextEncode","inputs":{"text":"old"}},
  "9":{"class_type":"SaveImage","inputs":{"images":["3",0]}}
}`

// fakeComfyUI is a minimal ComfyUI server. History reports the prompt as
// running for pendingPolls polls, then completed with one output image.
type fakeComfyUI struct {
	*httptest.Server

	hits         atomic.Int32
	historyCalls atomic.Int32
	pendingPolls int32
	nodeErrors   string
	statusStr    string
	noImages     bool

	// historyFailures answers that many /history reads with 404 first.
	historyFailures int32
	// rootStatus overrides the GET / reply code.
	rootStatus int
	// hangPath makes requests under it block until the client gives up.
	hangPath string

	mu        sync.Mutex
	submitted []json.RawMessage
	uploads   []string
}

func newFakeComfyUI(t *testing.T, configure func(f *fakeComfyUI)) *fakeComfyUI {
	t.Helper()
	f := &fakeComfyUI{statusStr: "success"}
	if configure != nil {
		configure(f)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		if f.rootStatus != 0 {
			w.WriteHeader(f.rootStatus)
		}
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /refs/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("ref"))
	})
	mux.HandleFunc("POST /upload/image", func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("image")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "true", r.FormValue("overwrite"))
		f.mu.Lock()
		f.uploads = append(f.uploads, header.Filename)
		f.mu.Unlock()
		_, _ = fmt.Fprintf(w, `{"name":%q,"subfolder":"","type":"input"}`, "stored_"+header.Filename)
	})
	mux.HandleFunc("GET /models/checkpoints", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`["sdxl.safetensors","sd15.ckpt"]`))
	})
	mux.HandleFunc("POST /prompt", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Prompt json.RawMessage `json:"prompt"`
		}
		data, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(data, &body))
		f.mu.Lock()
		f.submitted = append(f.submitted, body.Prompt)
		f.mu.Unlock()
		if f.nodeErrors != "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = fmt.Fprintf(w, `{"error":{"type":"prompt_outputs_failed_validation"},"node_errors":%s}`, f.nodeErrors)
			return
		}
		_, _ = w.Write([]byte(`{"prompt_id":"p-1","number":1,"node_errors":{}}`))
	})
	mux.HandleFunc("GET /history/{id}", func(w http.ResponseWriter, r *http.Request) {
		n := f.historyCalls.Add(1)
		if n <= f.historyFailures {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if n-f.historyFailures <= f.pendingPolls {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		outputs := `{"8":{"text":["debug"]},"9":{"images":[{"filename":"out_0001.png","subfolder":"","type":"output"}]}}`
		if f.noImages {
			outputs = `{}`
		}
		completed := f.statusStr != "error"
		_, _ = fmt.Fprintf(w, `{%q:{"status":{"status_str":%q,"completed":%t},"outputs":%s}}`,
			r.PathValue("id"), f.statusStr, completed, outputs)
	})
	mux.HandleFunc("GET /view", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "out_0001.png", r.URL.Query().Get("filename"))
		assert.Equal(t, "output", r.URL.Query().Get("type"))
		_, _ = w.Write([]byte("comfy-png"))
	})

	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		if f.hangPath != "" && strings.HasPrefix(r.URL.Path, f.hangPath) {
			<-r.Context().Done()
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeComfyUI) lastSubmitted(t *testing.T) *workflow.Graph {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.submitted)
	g, err := workflow.Parse(f.submitted[len(f.submitted)-1])
	require.NoError(t, err)
	return g
}

func newTestComfyUI(t *testing.T, url string, templates map[string]string) (*ComfyUIProvider, *workflow.Catalog) {
	t.Helper()
	catalog := workflow.NewCatalog(workflow.NewFileStore(t.TempDir(), zap.NewNop()), "", zap.NewNop())
	for name, data := range templates {
		_, err := catalog.ImportBytes(context.Background(), name, []byte(data))
		require.NoError(t, err)
	}
	p := NewComfyUIProvider(ComfyUIConfig{
		URL:          url,
		PollInterval: 5 * time.Millisecond,
		Timeout:      5 * time.Second,
	}, catalog, zap.NewNop())
	return p, catalog
}

func TestComfyUIProvider_InjectsPromptIntoCopy(t *testing.T) {
	srv := newFakeComfyUI(t, func(f *fakeComfyUI) { f.pendingPolls = 2 })
	p, catalog := newTestComfyUI(t, srv.URL, map[string]string{"basic": ksamplerTemplate})

	before, err := catalog.Store().Load(context.Background(), "basic")
	require.NoError(t, err)
	beforeBytes, err := before.MarshalIndent()
	require.NoError(t, err)

	res, err := p.Generate(context.Background(), &Request{Prompt: "new"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("comfy-png"), res.Data)
	assert.Equal(t, "image/png", res.MIMEType, "view without content type defaults to png")
	assert.Equal(t, "basic", res.Workflow)
	assert.Empty(t, res.Warnings)

	sent := srv.lastSubmitted(t)
	node, ok := sent.Node("5")
	require.True(t, ok)
	text, _ := node.Input("text")
	s, _ := text.AsString()
	assert.Equal(t, "new", s)

	after, err := catalog.Store().Load(context.Background(), "basic")
	require.NoError(t, err)
	afterBytes, err := after.MarshalIndent()
	require.NoError(t, err)
	assert.Equal(t, string(beforeBytes), string(afterBytes), "stored template is untouched")
}

func TestComfyUIProvider_ReferenceInjection(t *testing.T) {
	tests := []struct {
		name    string
		refs    int
		uploads int
	}{
		{name: "fewer urls than loaders", refs: 1, uploads: 1},
		{name: "as many as loaders", refs: 2, uploads: 2},
		{name: "extras dropped", refs: 3, uploads: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newFakeComfyUI(t, nil)
			p, _ := newTestComfyUI(t, srv.URL, map[string]string{"i2i": img2imgTemplate})

			refs := make([]string, tt.refs)
			for i := range refs {
				refs[i] = fmt.Sprintf("%s/refs/%d.png", srv.URL, i)
			}
			res, err := p.Generate(context.Background(), &Request{Prompt: "p", ReferenceImages: refs}, nil)
			require.NoError(t, err)
			assert.Empty(t, res.Warnings)
			assert.Len(t, srv.uploads, tt.uploads)

			sent := srv.lastSubmitted(t)
			for i, id := range []string{"1", "2"} {
				node, _ := sent.Node(id)
				v, _ := node.Input("image")
				s, _ := v.AsString()
				if i < tt.uploads {
					assert.Equal(t, "stored_"+srv.uploads[i], s)
					assert.Regexp(t, `^ref_[0-9a-f]{8}_`+fmt.Sprint(i)+`\.png$`, srv.uploads[i])
				} else {
					assert.Equal(t, "placeholder.png", s)
				}
			}
		})
	}
}

func TestComfyUIProvider_NoLoaderWarning(t *testing.T) {
	srv := newFakeComfyUI(t, nil)
	p, _ := newTestComfyUI(t, srv.URL, map[string]string{"basic": ksamplerTemplate})

	res, err := p.Generate(context.Background(), &Request{Prompt: "p", ReferenceImages: []string{srv.URL + "/refs/a.png"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{WarningNoLoadImage}, res.Warnings)
	assert.Empty(t, srv.uploads)
}

func TestComfyUIProvider_NoPromptNodeWarning(t *testing.T) {
	srv := newFakeComfyUI(t, nil)
	p, _ := newTestComfyUI(t, srv.URL, map[string]string{
		"bare": `{"1":{"class_type":"EmptyLatentImage","inputs":{"width":512,"height":512}}}`,
	})

	res, err := p.Generate(context.Background(), &Request{Prompt: "p"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{WarningNoPromptNode}, res.Warnings)
	assert.True(t, srv.lastSubmitted(t).Equal(mustParseGraph(t, `{"1":{"class_type":"EmptyLatentImage","inputs":{"width":512,"height":512}}}`)))
}

func TestComfyUIProvider_NodeErrors(t *testing.T) {
	srv := newFakeComfyUI(t, func(f *fakeComfyUI) {
		f.nodeErrors = `{"3":{"errors":[{"type":"value_not_in_list"}]}}`
	})
	p, _ := newTestComfyUI(t, srv.URL, map[string]string{"basic": ksamplerTemplate})

	_, err := p.Generate(context.Background(), &Request{Prompt: "p"}, nil)
	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrNodeError, e.Code)
	assert.Contains(t, e.Message, "value_not_in_list")
	assert.Zero(t, srv.historyCalls.Load(), "no polling after rejected submission")
}

func TestComfyUIProvider_RunFailures(t *testing.T) {
	t.Run("status error", func(t *testing.T) {
		srv := newFakeComfyUI(t, func(f *fakeComfyUI) { f.statusStr = "error" })
		p, _ := newTestComfyUI(t, srv.URL, map[string]string{"basic": ksamplerTemplate})
		_, err := p.Generate(context.Background(), &Request{Prompt: "p"}, nil)
		assert.True(t, types.IsErrorCode(err, types.ErrNodeError))
	})
	t.Run("no images", func(t *testing.T) {
		srv := newFakeComfyUI(t, func(f *fakeComfyUI) { f.noImages = true })
		p, _ := newTestComfyUI(t, srv.URL, map[string]string{"basic": ksamplerTemplate})
		_, err := p.Generate(context.Background(), &Request{Prompt: "p"}, nil)
		assert.True(t, types.IsErrorCode(err, types.ErrNodeError))
	})
	t.Run("timeout", func(t *testing.T) {
		srv := newFakeComfyUI(t, func(f *fakeComfyUI) { f.pendingPolls = 1 << 30 })
		p, catalog := newTestComfyUI(t, srv.URL, map[string]string{"basic": ksamplerTemplate})
		p = NewComfyUIProvider(ComfyUIConfig{URL: srv.URL, PollInterval: 5 * time.Millisecond, Timeout: 30 * time.Millisecond}, catalog, nil)
		_, err := p.Generate(context.Background(), &Request{Prompt: "p"}, nil)
		assert.True(t, types.IsErrorCode(err, types.ErrTimeout))
	})
}

func TestComfyUIProvider_DeadlineCoversWholeRun(t *testing.T) {
	tests := []struct {
		name     string
		hangPath string
		template string
		refs     bool
	}{
		{name: "prompt submission", hangPath: "/prompt", template: ksamplerTemplate},
		{name: "reference download", hangPath: "/refs/", template: img2imgTemplate, refs: true},
		{name: "reference upload", hangPath: "/upload/", template: img2imgTemplate, refs: true},
		{name: "image view", hangPath: "/view", template: ksamplerTemplate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newFakeComfyUI(t, func(f *fakeComfyUI) { f.hangPath = tt.hangPath })
			_, catalog := newTestComfyUI(t, srv.URL, map[string]string{"basic": tt.template})
			p := NewComfyUIProvider(ComfyUIConfig{
				URL:          srv.URL,
				PollInterval: 5 * time.Millisecond,
				Timeout:      500 * time.Millisecond,
			}, catalog, zap.NewNop())

			req := &Request{Prompt: "p"}
			if tt.refs {
				req.ReferenceImages = []string{srv.URL + "/refs/a.png"}
			}
			done := make(chan error, 1)
			go func() {
				_, err := p.Generate(context.Background(), req, nil)
				done <- err
			}()

			select {
			case err := <-done:
				e, ok := types.AsError(err)
				require.True(t, ok, "got %v", err)
				assert.Equal(t, types.ErrTimeout, e.Code)
				assert.Equal(t, ProviderComfyUI, e.Provider)
				assert.Nil(t, e.Cause)
			case <-time.After(3 * time.Second):
				t.Fatal("generation outlived its timeout")
			}
		})
	}
}

func TestComfyUIProvider_CallerCancellationPassesThrough(t *testing.T) {
	srv := newFakeComfyUI(t, func(f *fakeComfyUI) { f.hangPath = "/prompt" })
	p, _ := newTestComfyUI(t, srv.URL, map[string]string{"basic": ksamplerTemplate})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.Generate(ctx, &Request{Prompt: "p"}, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, types.IsErrorCode(err, types.ErrTimeout))
}

func TestComfyUIProvider_HistoryRejectionsKeepPolling(t *testing.T) {
	srv := newFakeComfyUI(t, func(f *fakeComfyUI) { f.historyFailures = 3 })
	p, _ := newTestComfyUI(t, srv.URL, map[string]string{"basic": ksamplerTemplate})

	res, err := p.Generate(context.Background(), &Request{Prompt: "p"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("comfy-png"), res.Data)
	assert.Equal(t, int32(4), srv.historyCalls.Load())
}

func TestComfyUIProvider_AnyRootReplyIsReachable(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusUnauthorized, http.StatusInternalServerError} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			srv := newFakeComfyUI(t, func(f *fakeComfyUI) { f.rootStatus = status })
			p, _ := newTestComfyUI(t, srv.URL, map[string]string{"basic": ksamplerTemplate})

			require.NoError(t, p.Client().Ping(context.Background()))
			res, err := p.Generate(context.Background(), &Request{Prompt: "p"}, nil)
			require.NoError(t, err)
			assert.Equal(t, []byte("comfy-png"), res.Data)
		})
	}
}

func TestComfyUIProvider_MissingTemplateFailsBeforeNetwork(t *testing.T) {
	srv := newFakeComfyUI(t, nil)

	p, _ := newTestComfyUI(t, srv.URL, nil)
	_, err := p.Generate(context.Background(), &Request{Prompt: "p"}, nil)
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))

	p, _ = newTestComfyUI(t, srv.URL, map[string]string{"basic": ksamplerTemplate})
	_, err = p.Generate(context.Background(), &Request{Prompt: "p", Workflow: "missing"}, nil)
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))

	assert.Zero(t, srv.hits.Load())
}

func TestComfyUIProvider_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p, _ := newTestComfyUI(t, url, map[string]string{"basic": ksamplerTemplate})
	_, err := p.Generate(context.Background(), &Request{Prompt: "p"}, nil)
	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrNetwork, e.Code)
	assert.Contains(t, e.Message, "not reachable at "+url)
}

func TestComfyUIProvider_AvailableAndCheckpoints(t *testing.T) {
	srv := newFakeComfyUI(t, nil)
	empty, _ := newTestComfyUI(t, srv.URL, nil)
	assert.False(t, empty.Available(context.Background()))

	p, _ := newTestComfyUI(t, srv.URL, map[string]string{"basic": ksamplerTemplate})
	assert.True(t, p.Available(context.Background()))
	assert.Equal(t, []string{"sdxl.safetensors", "sd15.ckpt"}, p.ListCheckpoints(context.Background()))

	down, _ := newTestComfyUI(t, "http://127.0.0.1:1", nil)
	assert.Equal(t, []string{}, down.ListCheckpoints(context.Background()))
}

func TestParseHistoryEntry_KeepsOutputOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"other":{},"p.1":{"status":{"status_str":"success","completed":true},"outputs":{
			"20":{"images":[{"filename":"b.png","subfolder":"s","type":"output"}]},
			"10":{"images":[{"filename":"a.png","subfolder":"","type":"temp"}]}}}}`))
	}))
	defer srv.Close()
	p, _ := newTestComfyUI(t, srv.URL, nil)

	entry, found, err := p.Client().History(context.Background(), "p.1")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, entry.Completed)
	require.Len(t, entry.Outputs, 2)
	assert.Equal(t, "20", entry.Outputs[0].NodeID)

	ref, ok := pickImage(entry, "")
	require.True(t, ok)
	assert.Equal(t, ImageRef{Filename: "b.png", Subfolder: "s", Type: "output"}, ref)

	ref, ok = pickImage(entry, "10")
	require.True(t, ok)
	assert.Equal(t, "a.png", ref.Filename, "detected output node wins")

	_, found, err = p.Client().History(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, found)
}

func mustParseGraph(t *testing.T, data string) *workflow.Graph {
	t.Helper()
	g, err := workflow.Parse([]byte(data))
	require.NoError(t, err)
	return g
}
