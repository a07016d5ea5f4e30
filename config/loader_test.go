// 配置加载器测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	// 不指定配置文件，应该返回默认值
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "http://localhost:8188", cfg.ComfyUI.URL)
	assert.Equal(t, 4, cfg.Admission.RemoteCapacity)
	assert.Equal(t, 1, cfg.Admission.LocalCapacity)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s

platform:
  api_key: "mg-yaml"
  poll_interval: 5s

comfyui:
  url: "http://gpu-box:8188"
  default_workflow: "portrait"
  workflows_dir: "/srv/workflows"

generation:
  default_provider: comfyui
  output_dir: /tmp/out
  defaults:
    aspect_ratio: "16:9"

admission:
  remote_capacity: 8
  local_capacity: 2

log:
  level: "debug"
  format: "console"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	// 验证 YAML 值覆盖了默认值
	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "mg-yaml", cfg.Platform.APIKey)
	assert.Equal(t, 5*time.Second, cfg.Platform.PollInterval)
	assert.Equal(t, 300*time.Second, cfg.Platform.Timeout, "unset fields keep defaults")
	assert.Equal(t, "http://gpu-box:8188", cfg.ComfyUI.URL)
	assert.Equal(t, "portrait", cfg.ComfyUI.DefaultWorkflow)
	assert.Equal(t, "/srv/workflows", cfg.ComfyUI.WorkflowsDir)
	assert.Equal(t, "comfyui", cfg.Generation.DefaultProvider)
	assert.Equal(t, "/tmp/out", cfg.Generation.OutputDir)
	assert.Equal(t, "16:9", cfg.Generation.Defaults.AspectRatio)
	assert.Equal(t, 8, cfg.Admission.RemoteCapacity)
	assert.Equal(t, 2, cfg.Admission.LocalCapacity)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("IMAGEFLOW_SERVER_HTTP_PORT", "7777")
	t.Setenv("IMAGEFLOW_OPENAI_API_KEY", "sk-env")
	t.Setenv("IMAGEFLOW_OPENAI_TIMEOUT", "90s")
	t.Setenv("IMAGEFLOW_COMFYUI_URL", "http://env-comfy:8188")
	t.Setenv("IMAGEFLOW_GENERATION_SAVE_IMAGES", "false")
	t.Setenv("IMAGEFLOW_GENERATION_DEFAULTS_QUALITY", "high")
	t.Setenv("IMAGEFLOW_ADMISSION_REMOTE_CAPACITY", "6")
	t.Setenv("IMAGEFLOW_SERVER_RATE_LIMIT_RPS", "2.5")
	t.Setenv("IMAGEFLOW_LOG_OUTPUT_PATHS", "stdout, /var/log/imageflow.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, "sk-env", cfg.OpenAI.APIKey)
	assert.True(t, cfg.OpenAI.Configured())
	assert.Equal(t, 90*time.Second, cfg.OpenAI.Timeout)
	assert.Equal(t, "http://env-comfy:8188", cfg.ComfyUI.URL)
	assert.False(t, cfg.Generation.SaveImages)
	assert.Equal(t, "high", cfg.Generation.Defaults.Quality)
	assert.Equal(t, 6, cfg.Admission.RemoteCapacity)
	assert.Equal(t, 2.5, cfg.Server.RateLimitRPS)
	assert.Equal(t, []string{"stdout", "/var/log/imageflow.log"}, cfg.Log.OutputPaths)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("platform:\n  api_key: yaml-key\n  model: yaml-model\n"), 0o644))

	t.Setenv("IMAGEFLOW_PLATFORM_API_KEY", "env-key")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	// 环境变量应该覆盖 YAML
	assert.Equal(t, "env-key", cfg.Platform.APIKey)
	// YAML 值应该保留（没有被环境变量覆盖）
	assert.Equal(t, "yaml-model", cfg.Platform.Model)
}

func TestLoader_DotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("IMAGEFLOW_TEST_PLATFORM_API_KEY=from-dotenv\nIMAGEFLOW_TEST_LOG_LEVEL=warn\n"), 0o644))

	// 已存在的环境变量优先于 .env
	t.Setenv("IMAGEFLOW_TEST_LOG_LEVEL", "error")
	t.Cleanup(func() { os.Unsetenv("IMAGEFLOW_TEST_PLATFORM_API_KEY") })

	cfg, err := NewLoader().WithEnvPrefix("IMAGEFLOW_TEST").WithDotEnv(envPath).Load()
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Platform.APIKey)
	assert.Equal(t, "error", cfg.Log.Level)

	_, err = NewLoader().WithDotEnv(filepath.Join(dir, "missing.env")).Load()
	assert.NoError(t, err, "a missing .env file is ignored")
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_SERVER_HTTP_PORT", "6666")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, 6666, cfg.Server.HTTPPort)
}

func TestLoader_FileNotFound(t *testing.T) {
	// 配置文件不存在时使用默认值
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [unclosed"), 0o644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("IMAGEFLOW_SERVER_HTTP_PORT", "not-a-number")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IMAGEFLOW_SERVER_HTTP_PORT")
}

func TestLoader_WithValidator(t *testing.T) {
	_, err := NewLoader().WithValidator(func(c *Config) error { return c.Validate() }).Load()
	assert.NoError(t, err)

	t.Setenv("IMAGEFLOW_ADMISSION_LOCAL_CAPACITY", "0")
	_, err = NewLoader().WithValidator(func(c *Config) error { return c.Validate() }).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LocalCapacity")
}

// --- Validate 测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.Server.HTTPPort = 70000 }, wantErr: "HTTPPort"},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "trace" }, wantErr: "Level"},
		{name: "bad provider", mutate: func(c *Config) { c.Generation.DefaultProvider = "midjourney" }, wantErr: "DefaultProvider"},
		{name: "bad comfyui url", mutate: func(c *Config) { c.ComfyUI.URL = "not a url" }, wantErr: "URL"},
		{name: "sample rate", mutate: func(c *Config) { c.Telemetry.SampleRate = 2 }, wantErr: "SampleRate"},
		{
			name:    "write timeout shorter than generation",
			mutate:  func(c *Config) { c.Server.WriteTimeout = time.Minute },
			wantErr: "write_timeout",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMustLoad_Panics(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("log: [x"), 0o644))
	assert.Panics(t, func() { MustLoad(configPath) })
}
