package generation

import (
	"context"
	"errors"
	"strings"

	"github.com/BaSui01/imageflow/types"
)

// Guidance categories attached to failed generations.
const (
	CategoryContentSafety       = "content_safety"
	CategoryInsufficientCredits = "insufficient_credits"
	CategoryTimeout             = "timeout"
	CategoryInvalidModel        = "invalid_model"
	CategoryUnsupportedRatio    = "unsupported_ratio"
	CategoryExpiredCredential   = "expired_credential"
	CategoryNetwork             = "network"
	CategoryLocalPipeline       = "local_pipeline"
	CategoryUnknown             = "unknown"
)

type classifyRule struct {
	category string
	hint     string
	match    func(lower, raw string) bool
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// classifyRules are checked in order; the first match wins. Matching is on
// message text only and may misclassify unexpected upstream phrasing.
var classifyRules = []classifyRule{
	{
		category: CategoryContentSafety,
		hint:     "The prompt may have triggered a content safety filter. Try rephrasing it to avoid sensitive content.",
		match: func(lower, _ string) bool {
			return containsAny(lower, "safety", "policy", "flagged", "content")
		},
	},
	{
		category: CategoryInsufficientCredits,
		hint:     "Insufficient credits. Wait for the daily refresh, top up the account, or switch provider.",
		match: func(lower, raw string) bool {
			return containsAny(lower, "credit", "insufficient") || strings.Contains(raw, "402")
		},
	},
	{
		category: CategoryTimeout,
		hint:     "Generation timed out. This can happen during high demand, a retry may succeed.",
		match: func(lower, _ string) bool {
			return containsAny(lower, "timed out", "timeout")
		},
	},
	{
		category: CategoryInvalidModel,
		hint:     "This model may be unavailable. List the available models and pick another one.",
		match: func(lower, _ string) bool {
			return strings.Contains(lower, "model") && containsAny(lower, "invalid", "inactive")
		},
	},
	{
		category: CategoryUnsupportedRatio,
		hint:     "This aspect ratio is not supported by the selected model. Check the ratios it supports.",
		match: func(lower, _ string) bool {
			return strings.Contains(lower, "ratio") && strings.Contains(lower, "not supported")
		},
	},
	{
		category: CategoryExpiredCredential,
		hint:     "The API token is invalid or expired. Update it in the configuration.",
		match: func(lower, _ string) bool {
			return strings.Contains(lower, "token") && containsAny(lower, "invalid", "expired")
		},
	},
	{
		category: CategoryNetwork,
		hint:     "Network connection issue. Check the connection and the backend URL, then try again.",
		match: func(lower, _ string) bool {
			return containsAny(lower, "econnrefused", "connection refused", "fetch failed", "network")
		},
	},
	{
		category: CategoryLocalPipeline,
		hint:     "ComfyUI workflow error. View the workflow to inspect it, or try a different one.",
		match: func(lower, _ string) bool {
			return containsAny(lower, "comfyui", "node_errors")
		},
	},
}

const unknownHint = "You can try again, or use a different prompt/model."

// Categorize maps an error message to a guidance category and hint.
func Categorize(message string) (category, hint string) {
	lower := strings.ToLower(message)
	for _, r := range classifyRules {
		if r.match(lower, message) {
			return r.category, r.hint
		}
	}
	return CategoryUnknown, unknownHint
}

// Classify returns err as a *types.Error carrying a category and hint. The
// original error stays reachable through Unwrap. Caller cancellation is
// returned unchanged.
func Classify(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	category, hint := Categorize(err.Error())

	if e, ok := err.(*types.Error); ok {
		c := *e
		return c.WithGuidance(category, hint)
	}

	out := types.NewError(fallbackCode(err, category), err.Error()).WithCause(err)
	if inner, ok := types.AsError(err); ok {
		out.Code = inner.Code
		out.HTTPStatus = inner.HTTPStatus
		out.Retryable = inner.Retryable
		out.Provider = inner.Provider
		out.Endpoint = inner.Endpoint
	}
	return out.WithGuidance(category, hint)
}

func fallbackCode(err error, category string) types.ErrorCode {
	switch {
	case errors.Is(err, context.DeadlineExceeded), category == CategoryTimeout:
		return types.ErrTimeout
	case category == CategoryNetwork:
		return types.ErrNetwork
	case category == CategoryLocalPipeline:
		return types.ErrNodeError
	}
	return types.ErrUpstreamRejected
}
