package providers

import (
	"os"
)

// TestConfig holds provider configurations loaded from environment variables.
// This allows tests to use the same configuration pattern as production.
type TestConfig struct {
	GroqAPIKey      string
	OpenAIAPIKey    string
	AnthropicAPIKey string
}

// LoadTestConfig loads provider API keys from environment variables.
// Returns a TestConfig with whatever keys are available.
func LoadTestConfig() TestConfig {
	return TestConfig{
		GroqAPIKey:      os.Getenv("GROQ_API_KEY"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
	}
}

// HasGroq returns true if a Groq API key is configured.
func (c TestConfig) HasGroq() bool {
	return c.GroqAPIKey != ""
}

// HasAnyLLM returns true if any LLM provider is configured.
func (c TestConfig) HasAnyLLM() bool {
	return c.GroqAPIKey != "" || c.OpenAIAPIKey != "" || c.AnthropicAPIKey != ""
}

// ToRegistryConfig converts test config to a RegistryConfig for the provider registry.
// Only includes providers that have API keys configured.
func (c TestConfig) ToRegistryConfig() RegistryConfig {
	cfg := RegistryConfig{
		LLMProviders:    make(map[string]LLMProviderConfig),
		DefaultProvider: GroqName,
	}

	if c.GroqAPIKey != "" {
		cfg.LLMProviders[GroqName] = LLMProviderConfig{
			Type:      "groq",
			Model:     groqDefaultModel,
			APIKey:    c.GroqAPIKey,
			RateLimit: 30,
			Enabled:   true,
		}
	}
	if c.OpenAIAPIKey != "" {
		cfg.LLMProviders[OpenAIName] = LLMProviderConfig{
			Type:    "openai",
			Model:   openAIDefaultModel,
			APIKey:  c.OpenAIAPIKey,
			Enabled: true,
		}
	}
	if c.AnthropicAPIKey != "" {
		cfg.LLMProviders[AnthropicName] = LLMProviderConfig{
			Type:    "anthropic",
			Model:   anthropicDefaultModel,
			APIKey:  c.AnthropicAPIKey,
			Enabled: true,
		}
	}

	return cfg
}
