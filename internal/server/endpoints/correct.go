package endpoints

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/swaggerfix/internal/api"
	"github.com/jackzampolin/swaggerfix/internal/openapi"
	"github.com/jackzampolin/swaggerfix/internal/pipeline"
	"github.com/jackzampolin/swaggerfix/internal/svcctx"
)

// CorrectRequest is the body of POST /llm-correct.
type CorrectRequest struct {
	SpecSource
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	MaxAttempts  int    `json:"max_attempts,omitempty" validate:"omitempty,min=1,max=10"`
	StreamTokens bool   `json:"stream_tokens,omitempty"`
}

// CorrectEndpoint handles POST /llm-correct.
type CorrectEndpoint struct{}

func (e *CorrectEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/llm-correct", e.handler
}

func (e *CorrectEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Correct a document with an LLM
//	@Description	Validates the document and, when invalid, asks the LLM for corrections until one validates.
//	@Description	Streams Server-Sent Events: progress, token (opt-in), correction, then done or error.
//	@Tags			validation
//	@Accept			json
//	@Produce		text/event-stream
//	@Param			request	body		CorrectRequest	true	"Document content or stored spec ID"
//	@Success		200		{object}	pipeline.Done	"Payload of the final done event"
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/llm-correct [post]
func (e *CorrectEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req CorrectRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	content, specID, ok := resolveContent(r.Context(), w, req.SpecSource)
	if !ok {
		return
	}

	runner := svcctx.RunnerFrom(r.Context())
	if runner == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not available")
		return
	}

	ctx := r.Context()
	logger := svcctx.LoggerFrom(ctx)
	heartbeat := svcctx.ConfigFrom(ctx).Pipeline.Heartbeat()
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}

	sse := newEventWriter(w)
	sse.start()

	events := make(chan pipeline.Event, 16)
	emit := func(ev pipeline.Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	var runErr error
	go func() {
		defer close(events)
		_, runErr = runner.Correct(ctx, pipeline.CorrectRequest{
			Content:      content,
			SpecID:       specID,
			Provider:     req.Provider,
			Model:        req.Model,
			MaxAttempts:  req.MaxAttempts,
			StreamTokens: req.StreamTokens,
		}, emit)
	}()

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	terminal := false
	for {
		select {
		case ev, open := <-events:
			if !open {
				// runErr is written before close(events).
				if runErr != nil && !terminal && ctx.Err() == nil {
					sse.event(pipeline.EventError, pipeline.Failure{Error: runErr.Error()})
				}
				return
			}
			if ev.Type == pipeline.EventDone || ev.Type == pipeline.EventError {
				terminal = true
			}
			if err := sse.event(ev.Type, ev.Data); err != nil {
				logger.Debug("sse write failed", "error", err)
			}
		case <-ticker.C:
			sse.comment("heartbeat")
		case <-ctx.Done():
			logger.Info("client disconnected from correction stream")
			// Drain so the run can finish its bookkeeping.
			for range events {
			}
			return
		}
	}
}

// eventWriter writes text/event-stream frames and flushes after each one.
type eventWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func newEventWriter(w http.ResponseWriter) *eventWriter {
	return &eventWriter{w: w, rc: http.NewResponseController(w)}
}

func (s *eventWriter) start() {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.rc.Flush()
}

func (s *eventWriter) event(typ string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", typ, payload); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *eventWriter) comment(text string) {
	io.WriteString(s.w, ": "+text+"\n\n")
	s.rc.Flush()
}

func (e *CorrectEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		specID, provider, model, outFile string
		maxAttempts                      int
		streamTokens                     bool
	)
	cmd := &cobra.Command{
		Use:   "correct [file]",
		Short: "Correct a document with the LLM pipeline, streaming progress",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := CorrectRequest{
				Provider:     provider,
				Model:        model,
				MaxAttempts:  maxAttempts,
				StreamTokens: streamTokens,
			}
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

			var done *pipeline.Done
			stderr := cmd.ErrOrStderr()
			client := api.NewClient(getServerURL())
			err := client.Stream(cmd.Context(), "/llm-correct", req, func(event string, data []byte) error {
				switch event {
				case pipeline.EventProgress:
					var p pipeline.Progress
					if err := json.Unmarshal(data, &p); err != nil {
						return err
					}
					printProgress(stderr, p)
				case pipeline.EventToken:
					var t pipeline.Token
					if err := json.Unmarshal(data, &t); err == nil {
						fmt.Fprint(stderr, t.Delta)
					}
				case pipeline.EventCorrection:
					var c pipeline.Correction
					if err := json.Unmarshal(data, &c); err == nil {
						fmt.Fprintf(stderr, "\nattempt %d: valid=%t remaining=%d\n", c.Attempt, c.Valid, len(c.RemainingErrors))
					}
				case pipeline.EventDone:
					done = &pipeline.Done{}
					return json.Unmarshal(data, done)
				case pipeline.EventError:
					var f pipeline.Failure
					if err := json.Unmarshal(data, &f); err != nil {
						return err
					}
					return fmt.Errorf("correction failed: %s", f.Error)
				}
				return nil
			})
			if err != nil {
				return err
			}
			if done == nil {
				return fmt.Errorf("stream ended without a result")
			}

			if outFile != "" && done.Corrected != nil {
				format := openapi.FormatYAML
				if isJSONPath(outFile) {
					format = openapi.FormatJSON
				}
				if err := os.WriteFile(outFile, []byte(done.Corrected.Document(format)), 0o644); err != nil {
					return err
				}
				fmt.Fprintf(stderr, "wrote %s\n", outFile)
			}
			return api.Output(done)
		},
	}
	cmd.Flags().StringVar(&specID, "id", "", "Correct a previously uploaded spec")
	cmd.Flags().StringVar(&provider, "provider", "", "LLM provider (default from config)")
	cmd.Flags().StringVar(&model, "model", "", "Override the provider's model")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "Correction attempts (default from config)")
	cmd.Flags().BoolVar(&streamTokens, "stream-tokens", false, "Print model output as it is generated")
	cmd.Flags().StringVar(&outFile, "out", "", "Write the corrected document to this file")
	return cmd
}

func printProgress(w io.Writer, p pipeline.Progress) {
	switch {
	case p.Valid != nil:
		fmt.Fprintf(w, "[%s] valid=%t errors=%d\n", p.Step, *p.Valid, len(p.Errors))
	case p.Attempt > 0:
		fmt.Fprintf(w, "[%s] attempt %d\n", p.Step, p.Attempt)
	default:
		fmt.Fprintf(w, "[%s]\n", p.Step)
	}
}
