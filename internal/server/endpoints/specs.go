package endpoints

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/swaggerfix/internal/api"
	"github.com/jackzampolin/swaggerfix/internal/store"
	"github.com/jackzampolin/swaggerfix/internal/svcctx"
)

// SpecsResponse contains a page of stored specs.
type SpecsResponse struct {
	Specs []store.Spec `json:"specs"`
	Total int          `json:"total"`
}

// ListSpecsEndpoint handles GET /api/specs.
type ListSpecsEndpoint struct{}

func (e *ListSpecsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/specs", e.handler
}

func (e *ListSpecsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List specs
//	@Description	List uploaded documents, newest first, without content
//	@Tags			specs
//	@Produce		json
//	@Param			limit	query		int	false	"Max results (default 50)"
//	@Param			offset	query		int	false	"Result offset"
//	@Success		200		{object}	SpecsResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/specs [get]
func (e *ListSpecsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusInternalServerError, "store not available")
		return
	}

	opts, ok := listOptions(w, r)
	if !ok {
		return
	}

	specs, err := st.ListSpecs(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, SpecsResponse{Specs: specs, Total: len(specs)})
}

func (e *ListSpecsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List uploaded specs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp SpecsResponse
			if err := client.Get(cmd.Context(), "/api/specs"+pageQuery(url.Values{}, limit, offset), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Max results")
	cmd.Flags().IntVar(&offset, "offset", 0, "Result offset")
	return cmd
}

// GetSpecEndpoint handles GET /api/specs/{id}.
type GetSpecEndpoint struct{}

func (e *GetSpecEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/specs/{id}", e.handler
}

func (e *GetSpecEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get a spec
//	@Description	Get an uploaded document including its content
//	@Tags			specs
//	@Produce		json
//	@Param			id	path		string	true	"Spec ID"
//	@Success		200	{object}	store.Spec
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/specs/{id} [get]
func (e *GetSpecEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusInternalServerError, "store not available")
		return
	}

	spec, err := st.GetSpec(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "spec not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, spec)
}

func (e *GetSpecEndpoint) Command(getServerURL func() string) *cobra.Command {
	var outFile string
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get an uploaded spec",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var spec store.Spec
			if err := client.Get(cmd.Context(), "/api/specs/"+args[0], &spec); err != nil {
				return err
			}
			if outFile != "" {
				return os.WriteFile(outFile, []byte(spec.Content), 0o644)
			}
			return api.Output(spec)
		},
	}
	cmd.Flags().StringVar(&outFile, "out", "", "Write the document content to this file")
	return cmd
}

// DeleteSpecEndpoint handles DELETE /api/specs/{id}.
type DeleteSpecEndpoint struct{}

func (e *DeleteSpecEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/api/specs/{id}", e.handler
}

func (e *DeleteSpecEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Delete a spec
//	@Description	Delete an uploaded document and its stored file
//	@Tags			specs
//	@Param			id	path	string	true	"Spec ID"
//	@Success		204
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/specs/{id} [delete]
func (e *DeleteSpecEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusInternalServerError, "store not available")
		return
	}

	spec, err := st.GetSpec(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "spec not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := st.DeleteSpec(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if spec.Path != "" {
		if err := os.Remove(spec.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			svcctx.LoggerFrom(r.Context()).Warn("failed to remove upload", "path", spec.Path, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (e *DeleteSpecEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an uploaded spec",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			if err := client.Delete(cmd.Context(), "/api/specs/"+args[0]); err != nil {
				return err
			}
			if !api.IsStructuredOutput() {
				fmt.Printf("Deleted spec %s\n", args[0])
			}
			return nil
		},
	}
}

// listOptions reads limit and offset query parameters.
func listOptions(w http.ResponseWriter, r *http.Request) (store.ListOptions, bool) {
	var opts store.ListOptions
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit: %q must be an integer", v))
			return opts, false
		}
		opts.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid offset: %q must be an integer", v))
			return opts, false
		}
		opts.Offset = offset
	}
	return opts, true
}

// pageQuery adds limit and offset to params and encodes them.
func pageQuery(params url.Values, limit, offset int) string {
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		params.Set("offset", strconv.Itoa(offset))
	}
	if len(params) == 0 {
		return ""
	}
	return "?" + params.Encode()
}
