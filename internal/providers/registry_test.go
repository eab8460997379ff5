package providers

import (
	"errors"
	"sync"
	"testing"
)

func TestRegistry(t *testing.T) {
	t.Run("register and get LLM", func(t *testing.T) {
		r := NewRegistry()
		mock := NewMockClient()

		r.RegisterLLM("test-llm", mock)

		client, err := r.GetLLM("test-llm")
		if err != nil {
			t.Fatalf("GetLLM() error = %v", err)
		}
		if client != mock {
			t.Error("got different client than registered")
		}
	})

	t.Run("get nonexistent LLM", func(t *testing.T) {
		r := NewRegistry()

		_, err := r.GetLLM("nonexistent")
		if err == nil {
			t.Error("expected error for nonexistent LLM")
		}
	})

	t.Run("list providers", func(t *testing.T) {
		r := NewRegistry()
		r.RegisterLLM("llm2", NewMockClient())
		r.RegisterLLM("llm1", NewMockClient())

		llmList := r.ListLLM()
		if len(llmList) != 2 {
			t.Fatalf("ListLLM() returned %d items, want 2", len(llmList))
		}
		if llmList[0] != "llm1" {
			t.Errorf("ListLLM() not sorted: %v", llmList)
		}
	})

	t.Run("has and unregister", func(t *testing.T) {
		r := NewRegistry()
		r.RegisterLLM("my-llm", NewMockClient())

		if !r.HasLLM("my-llm") {
			t.Error("HasLLM() = false for registered LLM")
		}
		if r.HasLLM("other-llm") {
			t.Error("HasLLM() = true for unregistered LLM")
		}

		r.UnregisterLLM("my-llm")
		if r.HasLLM("my-llm") {
			t.Error("HasLLM() = true after UnregisterLLM")
		}
	})

	t.Run("default", func(t *testing.T) {
		r := NewRegistry()
		if _, _, err := r.Default(); !errors.Is(err, ErrNoProvider) {
			t.Errorf("expected ErrNoProvider, got %v", err)
		}

		a, b := NewMockClient(), NewMockClient()
		r.RegisterLLM("beta", b)
		r.RegisterLLM("alpha", a)

		// Unknown default falls back to the first name.
		r.SetDefault("missing")
		client, name, err := r.Default()
		if err != nil {
			t.Fatalf("Default() error = %v", err)
		}
		if name != "alpha" || client != a {
			t.Errorf("Default() = %s, want alpha", name)
		}

		r.SetDefault("beta")
		client, name, _ = r.Default()
		if name != "beta" || client != b {
			t.Errorf("Default() = %s, want beta", name)
		}
		if r.DefaultName() != "beta" {
			t.Errorf("DefaultName() = %s, want beta", r.DefaultName())
		}
	})

	t.Run("resolve", func(t *testing.T) {
		r := NewRegistry()
		mock := NewMockClient()
		r.RegisterLLM("groq", mock)
		r.SetDefault("groq")

		_, name, err := r.Resolve("")
		if err != nil || name != "groq" {
			t.Errorf("Resolve(\"\") = %s, %v", name, err)
		}
		if _, _, err := r.Resolve("nope"); err == nil {
			t.Error("expected error resolving unknown provider")
		}
	})

	t.Run("concurrent access", func(t *testing.T) {
		r := NewRegistry()

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				r.RegisterLLM("concurrent-llm", NewMockClient())
			}()
			go func() {
				defer wg.Done()
				r.GetLLM("concurrent-llm") // May fail, that's ok
			}()
		}
		wg.Wait()
	})
}

func unwrapClient(t *testing.T, client LLMClient) LLMClient {
	t.Helper()
	if limited, ok := client.(*LimitedClient); ok {
		return limited.Unwrap()
	}
	return client
}

func TestNewRegistryFromConfig(t *testing.T) {
	t.Run("registers providers from config", func(t *testing.T) {
		r := NewRegistryFromConfig(RegistryConfig{
			LLMProviders: map[string]LLMProviderConfig{
				"groq": {
					Type:      "groq",
					Model:     "llama-3.1-8b-instant",
					APIKey:    "test-groq-key",
					RateLimit: 30,
					Enabled:   true,
				},
				"claude": {
					Type:    "anthropic",
					APIKey:  "test-anthropic-key",
					Enabled: true,
				},
			},
			DefaultProvider: "groq",
		})

		if !r.HasLLM("groq") {
			t.Error("expected groq to be registered")
		}
		if !r.HasLLM("claude") {
			t.Error("expected claude to be registered")
		}
		client, _ := r.GetLLM("groq")
		if _, ok := client.(*LimitedClient); !ok {
			t.Errorf("expected rate limited client, got %T", client)
		}
		if r.DefaultName() != "groq" {
			t.Errorf("DefaultName() = %s, want groq", r.DefaultName())
		}
	})

	t.Run("skips disabled providers", func(t *testing.T) {
		r := NewRegistryFromConfig(RegistryConfig{
			LLMProviders: map[string]LLMProviderConfig{
				"groq": {
					Type:    "groq",
					APIKey:  "test-key",
					Enabled: false,
				},
			},
		})

		if r.HasLLM("groq") {
			t.Error("disabled provider should not be registered")
		}
	})

	t.Run("skips providers without API keys", func(t *testing.T) {
		r := NewRegistryFromConfig(RegistryConfig{
			LLMProviders: map[string]LLMProviderConfig{
				"groq": {
					Type:    "groq",
					APIKey:  "",
					Enabled: true,
				},
			},
		})

		if r.HasLLM("groq") {
			t.Error("provider without API key should not be registered")
		}
	})

	t.Run("local openai endpoint needs no key", func(t *testing.T) {
		r := NewRegistryFromConfig(RegistryConfig{
			LLMProviders: map[string]LLMProviderConfig{
				"local": {
					Type:    "openai",
					BaseURL: "http://localhost:11434/v1",
					Model:   "llama3",
					Enabled: true,
				},
			},
		})

		if !r.HasLLM("local") {
			t.Error("expected keyless local endpoint to be registered")
		}
	})

	t.Run("skips unknown types", func(t *testing.T) {
		r := NewRegistryFromConfig(RegistryConfig{
			LLMProviders: map[string]LLMProviderConfig{
				"weird": {Type: "carrier-pigeon", APIKey: "k", Enabled: true},
			},
		})

		if r.HasLLM("weird") {
			t.Error("unknown provider type should not be registered")
		}
	})

	t.Run("uses custom model for LLM provider", func(t *testing.T) {
		r := NewRegistryFromConfig(RegistryConfig{
			LLMProviders: map[string]LLMProviderConfig{
				"groq": {
					Type:    "groq",
					Model:   "custom-model",
					APIKey:  "test-key",
					Enabled: true,
				},
			},
		})

		client, _ := r.GetLLM("groq")
		oc, ok := unwrapClient(t, client).(*OpenAIClient)
		if !ok {
			t.Fatal("expected OpenAIClient")
		}
		if oc.Model() != "custom-model" {
			t.Errorf("expected custom-model, got %s", oc.Model())
		}
		if oc.baseURL != GroqBaseURL {
			t.Errorf("expected groq base URL, got %s", oc.baseURL)
		}
	})
}

func TestRegistry_Reload(t *testing.T) {
	t.Run("adds new providers on reload", func(t *testing.T) {
		r := NewRegistryFromConfig(RegistryConfig{})

		if r.HasLLM("groq") {
			t.Error("should start without groq")
		}

		r.Reload(RegistryConfig{
			LLMProviders: map[string]LLMProviderConfig{
				"groq": {
					Type:    "groq",
					APIKey:  "new-key",
					Enabled: true,
				},
			},
		})

		if !r.HasLLM("groq") {
			t.Error("expected groq after reload")
		}
	})

	t.Run("removes providers on reload", func(t *testing.T) {
		r := NewRegistryFromConfig(RegistryConfig{
			LLMProviders: map[string]LLMProviderConfig{
				"groq": {
					Type:    "groq",
					APIKey:  "key",
					Enabled: true,
				},
			},
		})
		r.RegisterLLM("manual", NewMockClient())

		r.Reload(RegistryConfig{})

		if r.HasLLM("groq") {
			t.Error("groq should be removed after reload")
		}
		if !r.HasLLM("manual") {
			t.Error("directly registered clients should survive reload")
		}
	})

	t.Run("updates providers with changed API keys", func(t *testing.T) {
		r := NewRegistryFromConfig(RegistryConfig{
			LLMProviders: map[string]LLMProviderConfig{
				"openai": {
					Type:    "openai",
					APIKey:  "old-key",
					Enabled: true,
				},
			},
		})

		client, _ := r.GetLLM("openai")
		if unwrapClient(t, client).(*OpenAIClient).apiKey != "old-key" {
			t.Error("should start with old key")
		}

		r.Reload(RegistryConfig{
			LLMProviders: map[string]LLMProviderConfig{
				"openai": {
					Type:    "openai",
					APIKey:  "new-key",
					Enabled: true,
				},
			},
		})

		client, _ = r.GetLLM("openai")
		if got := unwrapClient(t, client).(*OpenAIClient).apiKey; got != "new-key" {
			t.Errorf("expected new-key, got %s", got)
		}
	})

	t.Run("keeps providers with unchanged config", func(t *testing.T) {
		cfg := RegistryConfig{
			LLMProviders: map[string]LLMProviderConfig{
				"groq": {
					Type:      "groq",
					Model:     "test-model",
					APIKey:    "same-key",
					RateLimit: 60,
					Enabled:   true,
				},
			},
		}
		r := NewRegistryFromConfig(cfg)
		client1, _ := r.GetLLM("groq")

		r.Reload(cfg)
		client2, _ := r.GetLLM("groq")

		if client1 != client2 {
			t.Error("client should not be replaced when config unchanged")
		}
	})

	t.Run("concurrent reload is safe", func(t *testing.T) {
		r := NewRegistryFromConfig(RegistryConfig{
			LLMProviders: map[string]LLMProviderConfig{
				"groq": {
					Type:    "groq",
					APIKey:  "key",
					Enabled: true,
				},
			},
		})

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(2)
			go func(n int) {
				defer wg.Done()
				r.Reload(RegistryConfig{
					LLMProviders: map[string]LLMProviderConfig{
						"groq": {
							Type:    "groq",
							APIKey:  "key-" + string(rune('a'+n)),
							Enabled: true,
						},
					},
				})
			}(i)
			go func() {
				defer wg.Done()
				r.GetLLM("groq") // May fail, that's ok
			}()
		}
		wg.Wait()
	})
}
