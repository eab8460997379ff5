package endpoints

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/swaggerfix/internal/api"
	"github.com/jackzampolin/swaggerfix/internal/store"
	"github.com/jackzampolin/swaggerfix/internal/svcctx"
)

// RunsResponse contains a page of runs.
type RunsResponse struct {
	Runs  []store.Run `json:"runs"`
	Total int         `json:"total"`
}

// ListRunsEndpoint handles GET /api/runs.
type ListRunsEndpoint struct{}

func (e *ListRunsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/runs", e.handler
}

func (e *ListRunsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List runs
//	@Description	List correction and generation runs, newest first
//	@Tags			runs
//	@Produce		json
//	@Param			spec_id	query		string	false	"Filter by spec ID"
//	@Param			kind	query		string	false	"Filter by kind (correct or generate)"
//	@Param			status	query		string	false	"Filter by status (running, valid, invalid, failed)"
//	@Param			limit	query		int		false	"Max results (default 50)"
//	@Param			offset	query		int		false	"Result offset"
//	@Success		200		{object}	RunsResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/runs [get]
func (e *ListRunsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusInternalServerError, "store not available")
		return
	}

	opts, ok := listOptions(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := store.RunFilter{
		SpecID:      q.Get("spec_id"),
		Kind:        q.Get("kind"),
		Status:      q.Get("status"),
		ListOptions: opts,
	}

	runs, err := st.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, RunsResponse{Runs: runs, Total: len(runs)})
}

func (e *ListRunsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var specID, kind, status string
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List correction and generation runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			if specID != "" {
				params.Set("spec_id", specID)
			}
			if kind != "" {
				params.Set("kind", kind)
			}
			if status != "" {
				params.Set("status", status)
			}

			client := api.NewClient(getServerURL())
			var resp RunsResponse
			if err := client.Get(cmd.Context(), "/api/runs"+pageQuery(params, limit, offset), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&specID, "spec-id", "", "Filter by spec ID")
	cmd.Flags().StringVar(&kind, "kind", "", "Filter by kind (correct or generate)")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().IntVar(&limit, "limit", 50, "Max results")
	cmd.Flags().IntVar(&offset, "offset", 0, "Result offset")
	return cmd
}

// GetRunEndpoint handles GET /api/runs/{id}.
type GetRunEndpoint struct{}

func (e *GetRunEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/runs/{id}", e.handler
}

func (e *GetRunEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get a run
//	@Description	Get a run with its stored result
//	@Tags			runs
//	@Produce		json
//	@Param			id	path		string	true	"Run ID"
//	@Success		200	{object}	store.Run
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/runs/{id} [get]
func (e *GetRunEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusInternalServerError, "store not available")
		return
	}

	run, err := st.GetRun(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (e *GetRunEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get a run by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var run store.Run
			if err := client.Get(cmd.Context(), "/api/runs/"+args[0], &run); err != nil {
				return err
			}
			return api.Output(run)
		},
	}
}
