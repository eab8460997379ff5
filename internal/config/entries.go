package config

import (
	"fmt"
	"sort"
)

// Entry describes one effective setting next to its default.
type Entry struct {
	Key         string `json:"key"`
	Value       any    `json:"value"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description"`
}

type entryDef struct {
	key         string
	description string
	get         func(*Config) any
}

var entryDefs = []entryDef{
	// ===================
	// Defaults
	// ===================
	{"defaults.llm_provider", "Default LLM provider used for corrections and generation", func(c *Config) any { return c.Defaults.LLMProvider }},
	{"defaults.max_workers", "Maximum concurrent correction runs", func(c *Config) any { return c.Defaults.MaxWorkers }},
	{"defaults.temperature", "Sampling temperature for LLM calls", func(c *Config) any { return c.Defaults.Temperature }},
	{"defaults.max_tokens", "Maximum completion tokens per LLM call", func(c *Config) any { return c.Defaults.MaxTokens }},

	// ===================
	// Pipeline
	// ===================
	{"pipeline.max_attempts", "Correction attempts before giving up", func(c *Config) any { return c.Pipeline.MaxAttempts }},
	{"pipeline.structured_output", "Ask the LLM for a JSON object instead of YAML/JSON/EXPLANATIONS sections", func(c *Config) any { return c.Pipeline.StructuredOutput }},
	{"pipeline.heartbeat_interval", "Interval between SSE heartbeat comments", func(c *Config) any { return c.Pipeline.HeartbeatInterval }},

	// ===================
	// Uploads
	// ===================
	{"upload.max_bytes", "Maximum accepted document size in bytes", func(c *Config) any { return c.Upload.MaxBytes }},
	{"upload.fetch_timeout", "Timeout for each URL fetch attempt", func(c *Config) any { return c.Upload.FetchTimeout }},
	{"upload.fetch_retries", "Retries after a failed URL fetch", func(c *Config) any { return c.Upload.FetchRetries }},
	{"upload.retention", "How long uploads, runs and LLM calls are kept (0 keeps forever)", func(c *Config) any { return c.Upload.Retention }},
	{"upload.cleanup_schedule", "Cron schedule for retention cleanup", func(c *Config) any { return c.Upload.CleanupSchedule }},

	// ===================
	// Server
	// ===================
	{"server.cors_origins", "Allowed CORS origins", func(c *Config) any { return c.Server.CORSOrigins }},
}

// Entries lists the effective settings with their defaults, followed by one
// entry per provider field. Callers should pass a Redacted config.
func (c *Config) Entries() []Entry {
	defaults := DefaultConfig()

	entries := make([]Entry, 0, len(entryDefs)+len(c.LLMProviders)*5)
	for _, def := range entryDefs {
		entries = append(entries, Entry{
			Key:         def.key,
			Value:       def.get(c),
			Default:     def.get(defaults),
			Description: def.description,
		})
	}

	names := make([]string, 0, len(c.LLMProviders))
	for name := range c.LLMProviders {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := c.LLMProviders[name]
		def, hasDefault := defaults.LLMProviders[name]
		field := func(key, description string, value, defValue any) {
			e := Entry{
				Key:         fmt.Sprintf("llm_providers.%s.%s", name, key),
				Value:       value,
				Description: description,
			}
			if hasDefault {
				e.Default = defValue
			}
			entries = append(entries, e)
		}
		field("type", fmt.Sprintf("Provider type for %s", name), p.Type, def.Type)
		field("model", fmt.Sprintf("Model used by %s", name), p.Model, def.Model)
		field("api_key", fmt.Sprintf("%s API key (supports ${ENV_VAR})", name), p.APIKey, def.APIKey)
		field("rate_limit", fmt.Sprintf("Requests per minute for %s", name), p.RateLimit, def.RateLimit)
		field("enabled", fmt.Sprintf("Whether %s is enabled", name), p.Enabled, def.Enabled)
	}
	return entries
}

// GetEntry returns the entry for key, or nil.
func (c *Config) GetEntry(key string) *Entry {
	for _, e := range c.Entries() {
		if e.Key == key {
			return &e
		}
	}
	return nil
}
