// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 生成指标
	generationsTotal   *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	generationWarnings *prometheus.CounterVec
	upstreamCalls      *prometheus.CounterVec
	pollsTotal         *prometheus.CounterVec

	// 准入指标
	admissionWait  *prometheus.HistogramVec
	admissionInUse *prometheus.GaugeVec

	// 模板指标
	workflowOperations *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 生成指标
	c.generationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Total number of image generations by outcome",
		},
		[]string{"provider", "status", "category"},
	)

	c.generationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Image generation duration in seconds, admission wait excluded",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 180, 300},
		},
		[]string{"provider"},
	)

	c.generationWarnings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_warnings_total",
			Help:      "Warnings attached to successful generations",
		},
		[]string{"provider"},
	)

	c.upstreamCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_calls_total",
			Help:      "Total number of backend HTTP calls",
		},
		[]string{"provider", "operation", "status"},
	)

	c.pollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Total number of completion polls",
		},
		[]string{"provider"},
	)

	// 准入指标
	c.admissionWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "admission_wait_seconds",
			Help:      "Time spent waiting for an admission permit",
			Buckets:   []float64{0.001, 0.01, 0.1, 1, 5, 15, 30, 60, 300},
		},
		[]string{"pool"},
	)

	c.admissionInUse = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "admission_permits_in_use",
			Help:      "Admission permits currently held",
		},
		[]string{"pool"},
	)

	// 模板指标
	c.workflowOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_operations_total",
			Help:      "Total number of workflow template operations",
		},
		[]string{"operation", "status"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🖼️ 生成指标记录
// =============================================================================

// RecordGeneration 记录一次生成结果。category 仅在失败时有意义。
func (c *Collector) RecordGeneration(provider, status, category string, duration time.Duration, warnings int) {
	c.generationsTotal.WithLabelValues(provider, status, category).Inc()
	c.generationDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if warnings > 0 {
		c.generationWarnings.WithLabelValues(provider).Add(float64(warnings))
	}
}

// RecordUpstreamCall 记录后端 HTTP 调用
func (c *Collector) RecordUpstreamCall(provider, operation string, status int) {
	c.upstreamCalls.WithLabelValues(provider, operation, statusCode(status)).Inc()
}

// RecordPoll 记录一次轮询
func (c *Collector) RecordPoll(provider string) {
	c.pollsTotal.WithLabelValues(provider).Inc()
}

// =============================================================================
// 🚦 准入指标记录
// =============================================================================

// ObserveAdmissionWait 记录许可等待时间
func (c *Collector) ObserveAdmissionWait(pool string, wait time.Duration) {
	c.admissionWait.WithLabelValues(pool).Observe(wait.Seconds())
}

// SetAdmissionInUse 记录当前占用的许可数
func (c *Collector) SetAdmissionInUse(pool string, inUse int) {
	c.admissionInUse.WithLabelValues(pool).Set(float64(inUse))
}

// =============================================================================
// 🗂️ 模板指标记录
// =============================================================================

// RecordWorkflowOperation 记录模板操作
func (c *Collector) RecordWorkflowOperation(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.workflowOperations.WithLabelValues(operation, status).Inc()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	case code == 0:
		return "transport_error"
	default:
		return "unknown"
	}
}
