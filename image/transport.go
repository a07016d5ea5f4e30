package image

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/imageflow/internal/tlsutil"
	"github.com/BaSui01/imageflow/internal/xjson"
	"github.com/BaSui01/imageflow/types"
)

const (
	maxResponseBytes   = 64 << 20
	maxErrorBodyBytes  = 4 << 10
	downloadConcurrent = 4
)

// CallRecorder receives one event per backend HTTP call and per poll.
type CallRecorder interface {
	RecordUpstreamCall(provider, operation string, status int)
	RecordPoll(provider string)
}

type options struct {
	client   *http.Client
	recorder CallRecorder
}

// Option customizes a provider.
type Option func(*options)

// WithHTTPClient replaces the provider's HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithRecorder reports backend calls to r.
func WithRecorder(r CallRecorder) Option {
	return func(o *options) { o.recorder = r }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.client == nil {
		o.client = tlsutil.SecureHTTPClient(0)
	}
	return o
}

// transport wraps an HTTP client with the error mapping shared by all
// backends.
type transport struct {
	provider string
	client   *http.Client
	recorder CallRecorder
	logger   *zap.Logger
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// send executes req and reads the body without judging the status code.
func (t *transport) send(ctx context.Context, operation string, req *http.Request) (*response, error) {
	endpoint := req.URL.Path
	resp, err := t.client.Do(req.WithContext(ctx))
	if err != nil {
		t.record(operation, 0)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, types.Errorf(types.ErrNetwork, "%s %s request failed: network error", t.provider, operation).
			WithCause(err).
			WithProvider(t.provider).
			WithEndpoint(endpoint).
			WithRetryable(true)
	}
	defer resp.Body.Close()
	t.record(operation, resp.StatusCode)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, types.Errorf(types.ErrNetwork, "%s %s: read response failed", t.provider, operation).
			WithCause(err).
			WithProvider(t.provider).
			WithEndpoint(endpoint)
	}
	return &response{status: resp.StatusCode, header: resp.Header, body: body}, nil
}

// do is send plus the status check: 4xx and 5xx become UPSTREAM_REJECTED
// carrying the upstream body.
func (t *transport) do(ctx context.Context, operation string, req *http.Request) (*response, error) {
	resp, err := t.send(ctx, operation, req)
	if err != nil {
		return nil, err
	}
	if err := t.checkStatus(operation, req.URL.Path, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (t *transport) checkStatus(operation, endpoint string, resp *response) error {
	if resp.status < 400 {
		return nil
	}
	t.logger.Warn("upstream rejected request",
		zap.String("operation", operation),
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.status),
	)
	return types.Errorf(types.ErrUpstreamRejected, "%s %s error: status=%d body=%s",
		t.provider, operation, resp.status, truncate(resp.body, maxErrorBodyBytes)).
		WithHTTPStatus(resp.status).
		WithProvider(t.provider).
		WithEndpoint(endpoint).
		WithRetryable(resp.status == http.StatusTooManyRequests || resp.status >= 500)
}

// doJSON sends payload as JSON (when non-nil) and decodes the reply into out
// (when non-nil).
func (t *transport) doJSON(ctx context.Context, operation, method, url string, header http.Header, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := xjson.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", operation, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.do(ctx, operation, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := xjson.Unmarshal(resp.body, out); err != nil {
		return types.Errorf(types.ErrUpstreamRejected, "%s %s: malformed response", t.provider, operation).
			WithCause(err).
			WithProvider(t.provider).
			WithEndpoint(req.URL.Path)
	}
	return nil
}

type download struct {
	url      string
	data     []byte
	mimeType string
}

// download fetches url and returns its bytes with the response content type,
// or fallbackMIME when the server sends none.
func (t *transport) download(ctx context.Context, operation, url, fallbackMIME string) (*download, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, types.Errorf(types.ErrValidation, "invalid image url %q", url).WithCause(err)
	}
	resp, err := t.do(ctx, operation, req)
	if err != nil {
		return nil, err
	}
	mimeType := resp.header.Get("Content-Type")
	if mimeType == "" {
		mimeType = fallbackMIME
	}
	return &download{url: url, data: resp.body, mimeType: mimeType}, nil
}

// downloadAll fetches urls concurrently, preserving order. The first failure
// cancels the rest.
func (t *transport) downloadAll(ctx context.Context, urls []string) ([]*download, error) {
	out := make([]*download, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(downloadConcurrent)
	for i, u := range urls {
		g.Go(func() error {
			d, err := t.download(gctx, "reference_download", u, "image/png")
			if err != nil {
				return fmt.Errorf("failed to download reference image from %s: %w", u, err)
			}
			out[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *transport) record(operation string, status int) {
	if t.recorder != nil {
		t.recorder.RecordUpstreamCall(t.provider, operation, status)
	}
}

func (t *transport) recordPoll() {
	if t.recorder != nil {
		t.recorder.RecordPoll(t.provider)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}

func bearer(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}
