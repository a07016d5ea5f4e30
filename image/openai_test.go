package image

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/types"
)

func TestOpenAIProvider_Generations(t *testing.T) {
	png := []byte("\x89PNG fake")
	var got openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/images/generations", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"created":1,"data":[{"b64_json":"` + base64.StdEncoding.EncodeToString(png) + `"}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL}, zap.NewNop())
	res, err := p.Generate(context.Background(), &Request{
		Prompt:         "a cat",
		NegativePrompt: "blur",
		Size:           "1024x1024",
		Quality:        "high",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, png, res.Data)
	assert.Equal(t, "image/png", res.MIMEType)
	assert.Equal(t, "gpt-image-1", res.Model)
	assert.Equal(t, "a cat\n\nAvoid: blur", got.Prompt)
	assert.Equal(t, 1, got.N)
	assert.Equal(t, "1024x1024", got.Size)
	assert.Equal(t, "high", got.Quality)
}

func TestOpenAIProvider_URLResponse(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/v1/images/generations", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"url":"` + srv.URL + `/files/out.webp"}]}`))
	})
	mux.HandleFunc("/files/out.webp", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/webp")
		_, _ = w.Write([]byte("webp"))
	})

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL}, zap.NewNop())
	res, err := p.Generate(context.Background(), &Request{Prompt: "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("webp"), res.Data)
	assert.Equal(t, "image/webp", res.MIMEType)
	assert.Equal(t, srv.URL+"/files/out.webp", res.ImageURL)
}

func TestOpenAIProvider_EditsWithReferences(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/refs/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("ref:" + r.URL.Path))
	})
	var (
		images   []string
		filename []string
		fields   = map[string]string{}
	)
	mux.HandleFunc("/v1/images/edits", func(w http.ResponseWriter, r *http.Request) {
		mr, err := r.MultipartReader()
		require.NoError(t, err)
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			data, _ := io.ReadAll(part)
			if part.FormName() == "image[]" {
				images = append(images, string(data))
				filename = append(filename, part.FileName())
				continue
			}
			fields[part.FormName()] = string(data)
		}
		_, _ = w.Write([]byte(`{"data":[{"b64_json":"` + base64.StdEncoding.EncodeToString([]byte("edited")) + `"}]}`))
	})

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL, Model: "dall-e-2"}, zap.NewNop())
	res, err := p.Generate(context.Background(), &Request{
		Prompt:          "combine",
		ReferenceImages: []string{srv.URL + "/refs/a.png", srv.URL + "/refs/b"},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, []byte("edited"), res.Data)
	assert.Equal(t, []string{"ref:/refs/a.png", "ref:/refs/b"}, images, "reference order is preserved")
	assert.Equal(t, []string{"reference_0.png", "reference_1.jpg"}, filename)
	assert.Equal(t, "combine", fields["prompt"])
	assert.Equal(t, "dall-e-2", fields["model"])
	assert.Equal(t, "1", fields["n"])
}

func TestOpenAIProvider_ErrorBodyVerbatim(t *testing.T) {
	body := `{"error":{"message":"Your request was rejected by our safety system","type":"invalid_request_error"}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL}, zap.NewNop())
	_, err := p.Generate(context.Background(), &Request{Prompt: "x"}, nil)

	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrUpstreamRejected, e.Code)
	assert.Equal(t, http.StatusBadRequest, e.HTTPStatus)
	assert.Equal(t, ProviderOpenAI, e.Provider)
	assert.Contains(t, e.Message, "status=400")
	assert.Contains(t, e.Message, body)
}

func TestOpenAIProvider_ReferenceDownloadFailure(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/missing.png", http.NotFound)
	mux.HandleFunc("/v1/images/edits", func(w http.ResponseWriter, r *http.Request) {
		t.Error("edits must not be called when a reference cannot be fetched")
	})

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL}, zap.NewNop())
	_, err := p.Generate(context.Background(), &Request{Prompt: "x", ReferenceImages: []string{srv.URL + "/missing.png"}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to download reference image from")
}

func TestImageExt(t *testing.T) {
	tests := []struct {
		url, mime, want string
	}{
		{"https://x/a.JPEG?sig=1", "", "jpeg"},
		{"https://x/a.webp", "image/png", "webp"},
		{"https://x/a", "image/jpeg", "jpg"},
		{"https://x/a.bin", "image/gif", "gif"},
		{"https://x/a", "", "png"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, imageExt(tt.url, tt.mime), tt.url)
	}
}

func TestOpenAIProvider_TimeoutBoundsCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL, Timeout: 200 * time.Millisecond}, zap.NewNop())
	start := time.Now()
	_, err := p.Generate(context.Background(), &Request{Prompt: "x"}, nil)
	assert.Less(t, time.Since(start), 3*time.Second)

	e, ok := types.AsError(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, types.ErrTimeout, e.Code)
	assert.Equal(t, ProviderOpenAI, e.Provider)
	assert.True(t, e.Retryable)
}
