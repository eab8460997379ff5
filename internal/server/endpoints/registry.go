package endpoints

import (
	"github.com/jackzampolin/swaggerfix/internal/api"
)

// All returns all endpoint instances.
func All() []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{},

		// Document endpoints
		&UploadEndpoint{},
		&ValidateEndpoint{},
		&CorrectEndpoint{},
		&GenerateEndpoint{},

		// Spec endpoints
		&ListSpecsEndpoint{},
		&GetSpecEndpoint{},
		&DeleteSpecEndpoint{},

		// Run endpoints
		&ListRunsEndpoint{},
		&GetRunEndpoint{},

		// LLM call history endpoints
		&ListLLMCallsEndpoint{},
		&GetLLMCallEndpoint{},
		&LLMCallCountsEndpoint{},

		// Settings endpoints
		&ListSettingsEndpoint{},
		&GetSettingEndpoint{},

		// Metrics and Swagger endpoints
		&MetricsEndpoint{},
		&SwaggerEndpoint{},
		&SwaggerUIEndpoint{},
	}
}

// SpecCommands returns endpoints for stored spec operations.
// This groups spec-related commands under "specs" subcommand.
func SpecCommands() []api.Endpoint {
	return []api.Endpoint{
		&ListSpecsEndpoint{},
		&GetSpecEndpoint{},
		&DeleteSpecEndpoint{},
	}
}

// RunCommands returns endpoints for run history operations.
// This groups run-related commands under "runs" subcommand.
func RunCommands() []api.Endpoint {
	return []api.Endpoint{
		&ListRunsEndpoint{},
		&GetRunEndpoint{},
	}
}

// SettingsCommands returns endpoints for settings operations.
// This groups settings-related commands under "settings" subcommand.
func SettingsCommands() []api.Endpoint {
	return []api.Endpoint{
		&ListSettingsEndpoint{},
		&GetSettingEndpoint{},
	}
}

// LLMCallCommands returns endpoints for LLM call history operations.
// This groups llmcall-related commands under "llmcalls" subcommand.
func LLMCallCommands() []api.Endpoint {
	return []api.Endpoint{
		&ListLLMCallsEndpoint{},
		&GetLLMCallEndpoint{},
		&LLMCallCountsEndpoint{},
	}
}
