package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/swaggerfix/internal/api"
	"github.com/jackzampolin/swaggerfix/internal/server/endpoints"
)

var serverURL string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running swaggerfix server via HTTP.

These commands require a running server (swaggerfix serve).
Use --server to specify a custom server URL.

Examples:
  swaggerfix api health                  # Check server health
  swaggerfix api upload petstore.yaml    # Upload a spec
  swaggerfix api correct --id <spec-id>  # Stream an LLM correction
  swaggerfix api runs list               # List correction runs`,
}

var specsCmd = &cobra.Command{
	Use:   "specs",
	Short: "Uploaded document commands",
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Correction and generation run history",
}

var llmcallsCmd = &cobra.Command{
	Use:   "llmcalls",
	Short: "LLM call history commands",
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Configuration settings commands",
}

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

func addGroup(parent *cobra.Command, eps []api.Endpoint) {
	for _, ep := range eps {
		parent.AddCommand(ep.Command(getServerURL))
	}
}

func init() {
	// Add --server flag to api command (persistent so all subcommands inherit it)
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8080", "Server URL",
	)

	// Health endpoints at top level of api
	apiCmd.AddCommand((&endpoints.HealthEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.ReadyEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.StatusEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.MetricsEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.SwaggerEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.SwaggerUIEndpoint{}).Command(getServerURL))

	// Document operations
	apiCmd.AddCommand((&endpoints.UploadEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.ValidateEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.CorrectEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.GenerateEndpoint{}).Command(getServerURL))

	addGroup(specsCmd, endpoints.SpecCommands())
	addGroup(runsCmd, endpoints.RunCommands())
	addGroup(llmcallsCmd, endpoints.LLMCallCommands())
	addGroup(settingsCmd, endpoints.SettingsCommands())

	apiCmd.AddCommand(specsCmd)
	apiCmd.AddCommand(runsCmd)
	apiCmd.AddCommand(llmcallsCmd)
	apiCmd.AddCommand(settingsCmd)

	rootCmd.AddCommand(apiCmd)
}
