// Package pipeline runs LLM-backed correction and generation of OpenAPI
// documents and records each run.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/semaphore"

	"github.com/jackzampolin/swaggerfix/internal/llmcall"
	"github.com/jackzampolin/swaggerfix/internal/metrics"
	"github.com/jackzampolin/swaggerfix/internal/openapi"
	"github.com/jackzampolin/swaggerfix/internal/providers"
	"github.com/jackzampolin/swaggerfix/internal/store"
)

// Config configures a Runner.
type Config struct {
	Validator *openapi.Validator
	Providers *providers.Registry

	// Optional recording
	Store    *store.Store
	Recorder *llmcall.Recorder
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	MaxWorkers       int     // Concurrent runs (default 4)
	MaxAttempts      int     // Correction attempts per run (default 3)
	Temperature      float64 // Sampling temperature
	MaxTokens        int     // Response token limit (0 = provider default)
	StructuredOutput bool    // Request JSON output instead of sections
}

// Runner executes correction and generation runs, bounded by MaxWorkers.
type Runner struct {
	cfg    Config
	sem    *semaphore.Weighted
	logger *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(cfg Config) *Runner {
	if cfg.Validator == nil {
		cfg.Validator = openapi.NewValidator()
	}
	if cfg.Providers == nil {
		cfg.Providers = providers.NewRegistry()
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:    cfg,
		sem:    semaphore.NewWeighted(int64(cfg.MaxWorkers)),
		logger: logger,
	}
}

// MaxAttempts returns the default attempt limit.
func (r *Runner) MaxAttempts() int {
	return r.cfg.MaxAttempts
}

// CorrectRequest describes one correction run.
type CorrectRequest struct {
	Content      string
	SpecID       string
	Provider     string // Registry name (default provider when empty)
	Model        string // Overrides the provider's model
	MaxAttempts  int    // Overrides Config.MaxAttempts when positive
	StreamTokens bool   // Emit token events while the model writes
}

// Outcome is the result of a correction run.
type Outcome struct {
	RunID       string
	InputValid  bool
	Valid       bool
	Errors      []string
	Attempts    int
	Corrections []Correction
	Steps       []string
}

// Final returns the last correction, or nil when the input was valid.
func (o *Outcome) Final() *Correction {
	if len(o.Corrections) == 0 {
		return nil
	}
	return &o.Corrections[len(o.Corrections)-1]
}

// Correct runs the correction graph over req.Content. Events are delivered to
// emit in order: the first is progress/validate and the last is done, or
// error when the run fails.
func (r *Runner) Correct(ctx context.Context, req CorrectRequest, emit Emitter) (*Outcome, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer r.sem.Release(1)

	maxAttempts := r.cfg.MaxAttempts
	if req.MaxAttempts > 0 {
		maxAttempts = req.MaxAttempts
	}

	// Resolved up front for the run record; only the correct node needs it.
	client, providerName, resolveErr := r.cfg.Providers.Resolve(req.Provider)

	run := &store.Run{
		SpecID:   req.SpecID,
		Kind:     store.KindCorrect,
		Provider: providerName,
		Model:    req.Model,
	}
	r.createRun(ctx, run)
	r.cfg.Metrics.RunStarted()

	state := &State{
		RunID:       run.ID,
		SpecID:      req.SpecID,
		Content:     req.Content,
		MaxAttempts: maxAttempts,
	}
	c := &correction{
		runner:    r,
		req:       req,
		client:    client,
		clientErr: resolveErr,
		emit:      emit,
	}

	g, err := c.graph()
	if err == nil {
		err = g.Run(ctx, state)
	}

	out := &Outcome{
		RunID:       run.ID,
		InputValid:  state.Input.Valid,
		Valid:       state.Valid(),
		Errors:      nonNil(state.Errors),
		Attempts:    state.Attempt,
		Corrections: state.Corrections,
		Steps:       state.Steps,
	}

	if err != nil {
		r.logger.Warn("correction run failed", "run_id", run.ID, "attempts", state.Attempt, "error", err)
		emit.emit(EventError, Failure{RunID: run.ID, Error: err.Error()})
		r.finishRun(ctx, run.ID, store.KindCorrect, store.RunOutcome{
			Status:     store.StatusFailed,
			Attempts:   state.Attempt,
			InputValid: state.Input.Valid,
			Errors:     out.Errors,
			Error:      err.Error(),
		})
		return out, err
	}

	status := store.StatusInvalid
	if out.Valid {
		status = store.StatusValid
	}
	result, _ := json.Marshal(doneData(state))
	r.finishRun(ctx, run.ID, store.KindCorrect, store.RunOutcome{
		Status:     status,
		Attempts:   state.Attempt,
		InputValid: out.InputValid,
		Valid:      out.Valid,
		Errors:     out.Errors,
		Result:     result,
	})
	r.logger.Info("correction run finished",
		"run_id", run.ID, "status", status, "attempts", state.Attempt, "steps", len(state.Steps))
	return out, nil
}

func (r *Runner) createRun(ctx context.Context, run *store.Run) {
	if r.cfg.Store == nil {
		return
	}
	if err := r.cfg.Store.CreateRun(ctx, run); err != nil {
		r.logger.Warn("failed to record run", "error", err)
	}
}

// finishRun records the outcome even when the caller's context is gone.
func (r *Runner) finishRun(ctx context.Context, id, kind string, out store.RunOutcome) {
	r.cfg.Metrics.RunFinished(kind, out.Status, out.Attempts)
	if r.cfg.Store == nil || id == "" {
		return
	}
	if err := r.cfg.Store.FinishRun(context.WithoutCancel(ctx), id, out); err != nil {
		r.logger.Warn("failed to finish run", "run_id", id, "error", err)
	}
}

// chat sends one request, streaming deltas to onDelta when set, and records
// the call.
func (r *Runner) chat(ctx context.Context, client providers.LLMClient, req *providers.ChatRequest, opts llmcall.RecordOptions, onDelta func(string)) (*providers.ChatResult, error) {
	var (
		result *providers.ChatResult
		err    error
	)
	if sc, ok := client.(providers.StreamingClient); ok && onDelta != nil && req.ResponseFormat == nil {
		result, err = sc.ChatStream(ctx, req, onDelta)
	} else {
		result, err = client.Chat(ctx, req)
	}

	temp := req.Temperature
	opts.Temperature = &temp
	if result == nil && err != nil {
		result = &providers.ChatResult{Provider: client.Name(), ErrorMessage: err.Error()}
	}
	r.cfg.Recorder.Record(result, opts)
	r.cfg.Metrics.RecordLLMCall(result)

	if err != nil {
		return result, fmt.Errorf("%s: %w", client.Name(), err)
	}
	if !result.Success {
		return result, fmt.Errorf("%s: %s", client.Name(), result.ErrorMessage)
	}
	return result, nil
}

func (r *Runner) chatRequest(model, prompt string) *providers.ChatRequest {
	return &providers.ChatRequest{
		Model:       model,
		Temperature: r.cfg.Temperature,
		MaxTokens:   r.cfg.MaxTokens,
		Messages: []providers.Message{
			{Role: providers.RoleUser, Content: prompt},
		},
	}
}

func (r *Runner) observeValidation(res openapi.Result) {
	if r.cfg.Metrics == nil {
		return
	}
	counts := make([]metrics.ProblemCount, 0, len(res.Problems))
	for _, p := range res.Problems {
		counts = append(counts, metrics.ProblemCount{Rule: p.Rule, Severity: string(p.Severity)})
	}
	r.cfg.Metrics.ObserveValidation(string(res.Version), res.Valid, counts)
}
