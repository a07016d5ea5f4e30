// Package api documents the imageflow HTTP API.
//
// # API Overview
//
// imageflow exposes a small JSON API over the generation orchestrator and
// the workflow template catalog:
//   - POST /api/v1/images/generations generates one image
//   - GET /api/v1/providers lists usable backends and permit pool usage
//   - /api/v1/workflows lists, views, imports, modifies, resizes and deletes
//     ComfyUI templates
//   - GET /api/v1/checkpoints lists ComfyUI model checkpoints
//   - /health, /healthz, /ready and /version report service state
//
// Every response uses the envelope in handlers.Response:
//
//	{"success": true, "data": {...}, "timestamp": "...", "request_id": "..."}
//
// Failures carry error.code, error.message and, for generation failures,
// error.category and error.hint.
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
//
// Prometheus metrics are served separately on the metrics port (default
// 9091) at /metrics.
package api
