package image

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/types"
)

type platformServer struct {
	*httptest.Server
	statusCalls atomic.Int32
	submitted   atomic.Pointer[platformRequest]
}

// newPlatformServer reports status "pending" until statusAfter polls, then
// returns final.
func newPlatformServer(t *testing.T, generationID string, statusAfter int32, final func(base string) platformStatus) *platformServer {
	t.Helper()
	s := &platformServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/generate", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var req platformRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		s.submitted.Store(&req)
		_ = json.NewEncoder(w).Encode(platformSubmitResponse{GenerationID: generationID})
	})
	mux.HandleFunc("GET /api/generate/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, generationID, r.PathValue("id"))
		if s.statusCalls.Add(1) < statusAfter {
			_ = json.NewEncoder(w).Encode(platformStatus{Status: "processing"})
			return
		}
		_ = json.NewEncoder(w).Encode(final(s.URL))
	})
	mux.HandleFunc("GET /images/out.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes"))
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func newTestPlatform(baseURL string, timeout time.Duration) *PlatformProvider {
	return NewPlatformProvider(PlatformConfig{
		APIKey:       "test-key",
		BaseURL:      baseURL,
		PollInterval: 5 * time.Millisecond,
		Timeout:      timeout,
	}, zap.NewNop())
}

func TestPlatformProvider_Generate(t *testing.T) {
	srv := newPlatformServer(t, "gen-1", 3, func(base string) platformStatus {
		return platformStatus{Status: "completed", ImageURL: base + "/images/out.jpg"}
	})
	p := newTestPlatform(srv.URL, 5*time.Second)

	res, err := p.Generate(context.Background(), &Request{
		Prompt:          "a lighthouse",
		Model:           "flux",
		ReferenceImages: []string{"https://example.com/a.png"},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, []byte("jpeg-bytes"), res.Data)
	assert.Equal(t, "image/jpeg", res.MIMEType)
	assert.Equal(t, ProviderPlatform, res.Provider)
	assert.Equal(t, srv.URL+"/images/out.jpg", res.ImageURL)
	assert.GreaterOrEqual(t, srv.statusCalls.Load(), int32(3))

	sent := srv.submitted.Load()
	require.NotNil(t, sent)
	assert.Equal(t, "a lighthouse", sent.Prompt)
	assert.Equal(t, "flux", sent.ModelID)
	assert.Equal(t, "1:1", sent.AspectRatio)
	assert.Equal(t, []string{"https://example.com/a.png"}, sent.ReferenceImages)
}

func TestPlatformProvider_GenerateFailed(t *testing.T) {
	srv := newPlatformServer(t, "gen-2", 1, func(string) platformStatus {
		return platformStatus{Status: "failed", Error: "prompt flagged by safety system"}
	})
	p := newTestPlatform(srv.URL, 5*time.Second)

	_, err := p.Generate(context.Background(), &Request{Prompt: "x"}, nil)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrUpstreamRejected))
	assert.Contains(t, err.Error(), "prompt flagged by safety system")
}

func TestPlatformProvider_Timeout(t *testing.T) {
	srv := newPlatformServer(t, "gen-3", 1<<30, nil)
	p := newTestPlatform(srv.URL, 40*time.Millisecond)

	start := time.Now()
	_, err := p.Generate(context.Background(), &Request{Prompt: "x"}, nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrTimeout, e.Code)
	assert.Nil(t, e.Cause, "timeout is reported once, not wrapped around a poll error")
}

func TestPlatformProvider_DeadlineCoversSubmitAndDownload(t *testing.T) {
	tests := []struct {
		name string
		hang string
	}{
		{name: "submit", hang: "/api/generate"},
		{name: "image download", hang: "/images/out.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var srv *httptest.Server
			srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				switch {
				case r.URL.Path == tt.hang:
					<-r.Context().Done()
				case r.Method == http.MethodPost:
					_ = json.NewEncoder(w).Encode(platformSubmitResponse{GenerationID: "gen-4"})
				default:
					_ = json.NewEncoder(w).Encode(platformStatus{Status: "completed", ImageURL: srv.URL + "/images/out.jpg"})
				}
			}))
			t.Cleanup(srv.Close)
			p := newTestPlatform(srv.URL, 300*time.Millisecond)

			done := make(chan error, 1)
			go func() {
				_, err := p.Generate(context.Background(), &Request{Prompt: "x"}, nil)
				done <- err
			}()
			select {
			case err := <-done:
				assert.True(t, types.IsErrorCode(err, types.ErrTimeout), "got %v", err)
			case <-time.After(3 * time.Second):
				t.Fatal("generation outlived its timeout")
			}
		})
	}
}

func TestPlatformProvider_MissingGenerationID(t *testing.T) {
	srv := newPlatformServer(t, "", 1, nil)
	p := newTestPlatform(srv.URL, time.Second)

	_, err := p.Generate(context.Background(), &Request{Prompt: "x"}, nil)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrUpstreamRejected))
	assert.Contains(t, err.Error(), "no generation ID returned")
	assert.Zero(t, srv.statusCalls.Load())
}

func TestPlatformProvider_SubmitRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":"insufficient credits"}`))
	}))
	defer srv.Close()
	p := newTestPlatform(srv.URL, time.Second)

	_, err := p.Generate(context.Background(), &Request{Prompt: "x"}, nil)
	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrUpstreamRejected, e.Code)
	assert.Equal(t, http.StatusPaymentRequired, e.HTTPStatus)
	assert.Equal(t, "/api/generate", e.Endpoint)
	assert.False(t, e.Retryable)
	assert.Contains(t, e.Message, `insufficient credits`)
}

func TestPlatformProvider_ProgressCallback(t *testing.T) {
	srv := newPlatformServer(t, "gen-4", 20, func(base string) platformStatus {
		return platformStatus{Status: "completed", ImageURL: base + "/images/out.jpg"}
	})
	p := NewPlatformProvider(PlatformConfig{
		APIKey:           "test-key",
		BaseURL:          srv.URL,
		PollInterval:     5 * time.Millisecond,
		Timeout:          5 * time.Second,
		ProgressInterval: 10 * time.Millisecond,
	}, zap.NewNop())

	var calls atomic.Int32
	_, err := p.Generate(context.Background(), &Request{Prompt: "x"}, func(ctx context.Context, elapsed time.Duration) error {
		calls.Add(1)
		return assert.AnError
	})
	require.NoError(t, err, "progress errors never fail the generation")
	assert.Eventually(t, func() bool { return calls.Load() > 0 }, time.Second, 5*time.Millisecond)
}
