package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/swaggerfix/internal/api"
	"github.com/jackzampolin/swaggerfix/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "swaggerfix",
	Short: "Validate and repair OpenAPI/Swagger documents with LLM assistance",
	Long: `swaggerfix validates OpenAPI 3.x and Swagger 2.0 documents and repairs
invalid ones with an LLM.

It provides:
  - Structural and semantic validation with JSON pointer locations
  - Iterative LLM correction streamed as Server-Sent Events
  - Document generation from a plain-language API description
  - Upload history, run history and LLM call records in SQLite`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.swaggerfix/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "swaggerfix home directory (default: ~/.swaggerfix)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}
