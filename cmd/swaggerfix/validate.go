package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/swaggerfix/internal/api"
	"github.com/jackzampolin/swaggerfix/internal/openapi"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a document locally without a server",
	Long: `Validate an OpenAPI 3.x or Swagger 2.0 document on this machine.

Exits with status 1 when the document is invalid.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		res := openapi.Validate(cmd.Context(), string(data))
		if err := api.Output(res); err != nil {
			return err
		}
		if !res.Valid {
			cmd.SilenceUsage = true
			return fmt.Errorf("%s is invalid: %d error(s)", args[0], len(res.Errors))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
