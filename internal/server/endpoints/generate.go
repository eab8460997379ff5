package endpoints

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/swaggerfix/internal/api"
	"github.com/jackzampolin/swaggerfix/internal/pipeline"
	"github.com/jackzampolin/swaggerfix/internal/providers"
	"github.com/jackzampolin/swaggerfix/internal/svcctx"
)

// GenerateRequest is the body of POST /generate.
type GenerateRequest struct {
	Description string `json:"description" validate:"required"`
	Provider    string `json:"provider,omitempty"`
	Model       string `json:"model,omitempty"`
}

// GenerateEndpoint handles POST /generate.
type GenerateEndpoint struct{}

func (e *GenerateEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/generate", e.handler
}

func (e *GenerateEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Generate a document
//	@Description	Ask the LLM for an OpenAPI 3.0 document matching a plain-language API description
//	@Tags			validation
//	@Accept			json
//	@Produce		json
//	@Param			request	body		GenerateRequest	true	"API description"
//	@Success		200		{object}	pipeline.Generated
//	@Failure		400		{object}	ErrorResponse
//	@Failure		502		{object}	ErrorResponse
//	@Router			/generate [post]
func (e *GenerateEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	runner := svcctx.RunnerFrom(r.Context())
	if runner == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not available")
		return
	}

	gen, err := runner.Generate(r.Context(), pipeline.GenerateRequest{
		Description: req.Description,
		Provider:    req.Provider,
		Model:       req.Model,
	})
	switch {
	case errors.Is(err, pipeline.ErrEmptyDescription), errors.Is(err, providers.ErrNoProvider):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		svcctx.LoggerFrom(r.Context()).Error("generation failed", "error", err)
		writeError(w, http.StatusBadGateway, fmt.Sprintf("generation failed: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, gen)
}

func (e *GenerateEndpoint) Command(getServerURL func() string) *cobra.Command {
	var provider, model, outFile string
	cmd := &cobra.Command{
		Use:   "generate <description>",
		Short: "Generate an OpenAPI 3.0 document from a description",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp pipeline.Generated
			err := client.Post(cmd.Context(), "/generate", GenerateRequest{
				Description: strings.Join(args, " "),
				Provider:    provider,
				Model:       model,
			}, &resp)
			if err != nil {
				return err
			}

			if outFile != "" {
				doc := resp.YAML
				if isJSONPath(outFile) && resp.JSON != "" {
					doc = resp.JSON
				}
				if err := os.WriteFile(outFile, []byte(doc), 0o644); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", outFile)
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "LLM provider (default from config)")
	cmd.Flags().StringVar(&model, "model", "", "Override the provider's model")
	cmd.Flags().StringVar(&outFile, "out", "", "Write the generated document to this file")
	return cmd
}
