package image

import "time"

// DefaultProgressInterval is the minimum spacing between progress reports.
const DefaultProgressInterval = 15 * time.Second

// PlatformConfig configures the hosted platform backend.
type PlatformConfig struct {
	APIKey           string        `json:"api_key" yaml:"api_key" env:"API_KEY"`
	BaseURL          string        `json:"base_url" yaml:"base_url" env:"BASE_URL" validate:"omitempty,url"`
	Model            string        `json:"model,omitempty" yaml:"model,omitempty" env:"MODEL"`
	PollInterval     time.Duration `json:"poll_interval" yaml:"poll_interval" env:"POLL_INTERVAL"`
	Timeout          time.Duration `json:"timeout" yaml:"timeout" env:"TIMEOUT"`
	ProgressInterval time.Duration `json:"progress_interval" yaml:"progress_interval" env:"PROGRESS_INTERVAL"`
}

// Configured reports whether the backend can be used.
func (c PlatformConfig) Configured() bool { return c.APIKey != "" }

// OpenAIConfig configures an OpenAI-compatible images API.
type OpenAIConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key" env:"API_KEY"`
	BaseURL string        `json:"base_url" yaml:"base_url" env:"BASE_URL" validate:"omitempty,url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty" env:"MODEL"` // gpt-image-1, dall-e-3
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" env:"TIMEOUT"`
}

// Configured reports whether the backend can be used.
func (c OpenAIConfig) Configured() bool { return c.APIKey != "" }

// ComfyUIConfig configures a local ComfyUI server.
type ComfyUIConfig struct {
	URL              string        `json:"url" yaml:"url" env:"URL" validate:"omitempty,url"`
	DefaultWorkflow  string        `json:"default_workflow,omitempty" yaml:"default_workflow,omitempty" env:"DEFAULT_WORKFLOW"`
	WorkflowsDir     string        `json:"workflows_dir" yaml:"workflows_dir" env:"WORKFLOWS_DIR"`
	PollInterval     time.Duration `json:"poll_interval" yaml:"poll_interval" env:"POLL_INTERVAL"`
	Timeout          time.Duration `json:"timeout" yaml:"timeout" env:"TIMEOUT"`
	ProgressInterval time.Duration `json:"progress_interval" yaml:"progress_interval" env:"PROGRESS_INTERVAL"`
	PingTimeout      time.Duration `json:"ping_timeout" yaml:"ping_timeout" env:"PING_TIMEOUT"`
}

// DefaultPlatformConfig returns the default platform configuration.
func DefaultPlatformConfig() PlatformConfig {
	return PlatformConfig{
		BaseURL:          "https://www.meigen.ai",
		PollInterval:     3 * time.Second,
		Timeout:          300 * time.Second,
		ProgressInterval: DefaultProgressInterval,
	}
}

// DefaultOpenAIConfig returns the default OpenAI configuration.
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		BaseURL: "https://api.openai.com",
		Model:   "gpt-image-1",
		Timeout: 180 * time.Second,
	}
}

// DefaultComfyUIConfig returns the default ComfyUI configuration.
func DefaultComfyUIConfig() ComfyUIConfig {
	return ComfyUIConfig{
		URL:              "http://localhost:8188",
		WorkflowsDir:     "~/.config/imageflow/workflows",
		PollInterval:     2 * time.Second,
		Timeout:          300 * time.Second,
		ProgressInterval: DefaultProgressInterval,
		PingTimeout:      3 * time.Second,
	}
}
