package endpoints

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/swaggerfix/internal/api"
	"github.com/jackzampolin/swaggerfix/internal/openapi"
	"github.com/jackzampolin/swaggerfix/internal/svcctx"
)

// ValidateRequest is the body of POST /validate.
type ValidateRequest struct {
	SpecSource
}

// ValidateResponse reports the validation result.
type ValidateResponse struct {
	Valid    bool              `json:"valid"`
	Errors   []string          `json:"errors"`
	Problems []openapi.Problem `json:"problems"`
	Format   string            `json:"format,omitempty"`
	Version  string            `json:"version,omitempty"`
	SpecID   string            `json:"spec_id,omitempty"`
}

func newValidateResponse(res openapi.Result, specID string) ValidateResponse {
	resp := ValidateResponse{
		Valid:    res.Valid,
		Errors:   res.Errors,
		Problems: res.Problems,
		Format:   string(res.Format),
		Version:  string(res.Version),
		SpecID:   specID,
	}
	if resp.Errors == nil {
		resp.Errors = []string{}
	}
	if resp.Problems == nil {
		resp.Problems = []openapi.Problem{}
	}
	return resp
}

// ValidateEndpoint handles POST /validate.
type ValidateEndpoint struct{}

func (e *ValidateEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/validate", e.handler
}

func (e *ValidateEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary		Validate a document
//	@Description	Validate inline content or a stored spec against its declared OpenAPI version
//	@Tags			validation
//	@Accept			json
//	@Produce		json
//	@Param			request	body		ValidateRequest	true	"Document content or stored spec ID"
//	@Success		200		{object}	ValidateResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/validate [post]
func (e *ValidateEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	content, specID, ok := resolveContent(r.Context(), w, req.SpecSource)
	if !ok {
		return
	}

	res := svcctx.ValidatorFrom(r.Context()).Validate(r.Context(), content)
	observeValidation(svcctx.MetricsFrom(r.Context()), res)

	writeJSON(w, http.StatusOK, newValidateResponse(res, specID))
}

func (e *ValidateEndpoint) Command(getServerURL func() string) *cobra.Command {
	var specID string
	cmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a document file or a stored spec on the server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req ValidateRequest
			switch {
			case len(args) == 1:
				data, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				req.Content = string(data)
			case specID != "":
				req.ID = specID
			default:
				return fmt.Errorf("a file argument or --id is required")
			}

			client := api.NewClient(getServerURL())
			var resp ValidateResponse
			if err := client.Post(cmd.Context(), "/validate", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&specID, "id", "", "Validate a previously uploaded spec")
	return cmd
}
