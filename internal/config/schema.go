package config

import (
	"time"
)

// Config holds swaggerfix configuration.
// Stored at: {home}/config.yaml
type Config struct {
	LLMProviders map[string]LLMProviderCfg `mapstructure:"llm_providers" yaml:"llm_providers" json:"llm_providers" validate:"dive"`
	Defaults     DefaultsCfg               `mapstructure:"defaults" yaml:"defaults" json:"defaults"`
	Pipeline     PipelineCfg               `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`
	Upload       UploadCfg                 `mapstructure:"upload" yaml:"upload" json:"upload"`
	Server       ServerCfg                 `mapstructure:"server" yaml:"server" json:"server"`
}

// LLMProviderCfg configures an LLM provider.
// APIKey supports ${ENV_VAR} syntax. RateLimit is in requests per minute; 0 disables limiting.
type LLMProviderCfg struct {
	Type      string  `mapstructure:"type" yaml:"type" json:"type" validate:"oneof=groq openai anthropic"`
	Model     string  `mapstructure:"model" yaml:"model" json:"model" validate:"required"`
	APIKey    string  `mapstructure:"api_key" yaml:"api_key" json:"api_key"`
	BaseURL   string  `mapstructure:"base_url" yaml:"base_url,omitempty" json:"base_url,omitempty" validate:"omitempty,url"`
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit" validate:"gte=0"`
	Enabled   bool    `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
}

// DefaultsCfg specifies default provider selection and generation settings.
type DefaultsCfg struct {
	LLMProvider string  `mapstructure:"llm_provider" yaml:"llm_provider" json:"llm_provider"`
	MaxWorkers  int     `mapstructure:"max_workers" yaml:"max_workers" json:"max_workers" validate:"gte=1"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature" json:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens" json:"max_tokens" validate:"gte=1"`
}

// PipelineCfg configures the correction graph.
type PipelineCfg struct {
	MaxAttempts       int    `mapstructure:"max_attempts" yaml:"max_attempts" json:"max_attempts" validate:"gte=1,lte=10"`
	StructuredOutput  bool   `mapstructure:"structured_output" yaml:"structured_output" json:"structured_output"`
	HeartbeatInterval string `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval" json:"heartbeat_interval" validate:"duration"`
}

// Heartbeat returns the SSE heartbeat interval.
func (p PipelineCfg) Heartbeat() time.Duration {
	return parseDuration(p.HeartbeatInterval, 15*time.Second)
}

// UploadCfg configures uploads, URL fetching and retention.
type UploadCfg struct {
	MaxBytes        int64  `mapstructure:"max_bytes" yaml:"max_bytes" json:"max_bytes" validate:"gte=1"`
	FetchTimeout    string `mapstructure:"fetch_timeout" yaml:"fetch_timeout" json:"fetch_timeout" validate:"duration"`
	FetchRetries    uint   `mapstructure:"fetch_retries" yaml:"fetch_retries" json:"fetch_retries" validate:"gte=1"`
	Retention       string `mapstructure:"retention" yaml:"retention" json:"retention" validate:"duration"`
	CleanupSchedule string `mapstructure:"cleanup_schedule" yaml:"cleanup_schedule" json:"cleanup_schedule"`
}

// FetchTimeoutDuration returns the per-request timeout for URL uploads.
func (u UploadCfg) FetchTimeoutDuration() time.Duration {
	return parseDuration(u.FetchTimeout, 15*time.Second)
}

// RetentionDuration returns how long uploads and history are kept. Zero keeps forever.
func (u UploadCfg) RetentionDuration() time.Duration {
	return parseDuration(u.Retention, 0)
}

// ServerCfg configures the HTTP server.
type ServerCfg struct {
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins" json:"cors_origins"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LLMProviders: map[string]LLMProviderCfg{
			"groq": {
				Type:      "groq",
				Model:     "llama-3.1-8b-instant",
				APIKey:    "${GROQ_API_KEY}",
				RateLimit: 30,
				Enabled:   true,
			},
			"openai": {
				Type:    "openai",
				Model:   "gpt-4o-mini",
				APIKey:  "${OPENAI_API_KEY}",
				Enabled: false,
			},
			"anthropic": {
				Type:    "anthropic",
				Model:   "claude-sonnet-4-20250514",
				APIKey:  "${ANTHROPIC_API_KEY}",
				Enabled: false,
			},
		},
		Defaults: DefaultsCfg{
			LLMProvider: "groq",
			MaxWorkers:  4,
			Temperature: 0.2,
			MaxTokens:   4096,
		},
		Pipeline: PipelineCfg{
			MaxAttempts:       3,
			StructuredOutput:  false,
			HeartbeatInterval: "15s",
		},
		Upload: UploadCfg{
			MaxBytes:        5 << 20,
			FetchTimeout:    "15s",
			FetchRetries:    3,
			Retention:       "168h",
			CleanupSchedule: "@hourly",
		},
		Server: ServerCfg{
			CORSOrigins: []string{"*"},
		},
	}
}

// GetLLMProvider returns an LLM provider config by name.
func (c *Config) GetLLMProvider(name string) (LLMProviderCfg, bool) {
	cfg, ok := c.LLMProviders[name]
	return cfg, ok
}

// EnabledLLMProviders returns all enabled LLM providers.
func (c *Config) EnabledLLMProviders() map[string]LLMProviderCfg {
	result := make(map[string]LLMProviderCfg)
	for name, cfg := range c.LLMProviders {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
