// =============================================================================
// 📦 imageflow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/imageflow/generation"
	"github.com/BaSui01/imageflow/image"
	"github.com/BaSui01/imageflow/internal/admission"
	"github.com/BaSui01/imageflow/internal/telemetry"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Platform:   image.DefaultPlatformConfig(),
		OpenAI:     image.DefaultOpenAIConfig(),
		ComfyUI:    image.DefaultComfyUIConfig(),
		Generation: generation.DefaultConfig(),
		Admission:  admission.DefaultConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    330 * time.Second, // 生成截止 300s + 下载余量
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    10,
		RateLimitBurst:  20,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() telemetry.Config {
	return telemetry.DefaultConfig()
}
