package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/jackzampolin/swaggerfix/internal/llmcall"
	"github.com/jackzampolin/swaggerfix/internal/openapi"
	"github.com/jackzampolin/swaggerfix/internal/store"
)

// ErrEmptyDescription is returned by Generate for a blank description.
var ErrEmptyDescription = errors.New("description is required")

// GenerateRequest describes one generation run.
type GenerateRequest struct {
	Description string
	Provider    string
	Model       string
}

// Generated is a document produced from a description.
type Generated struct {
	RunID    string            `json:"run_id,omitempty"`
	YAML     string            `json:"yaml"`
	JSON     string            `json:"json"`
	Raw      string            `json:"raw"`
	Valid    bool              `json:"valid"`
	Errors   []string          `json:"errors"`
	Problems []openapi.Problem `json:"problems,omitempty"`
}

// Generate asks the model for an OpenAPI 3.0 document matching
// req.Description and validates what comes back.
func (r *Runner) Generate(ctx context.Context, req GenerateRequest) (*Generated, error) {
	if strings.TrimSpace(req.Description) == "" {
		return nil, ErrEmptyDescription
	}
	client, providerName, err := r.cfg.Providers.Resolve(req.Provider)
	if err != nil {
		return nil, err
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer r.sem.Release(1)

	run := &store.Run{
		Kind:     store.KindGenerate,
		Provider: providerName,
		Model:    req.Model,
	}
	r.createRun(ctx, run)
	r.cfg.Metrics.RunStarted()

	result, err := r.chat(ctx, client, r.chatRequest(req.Model, GeneratePrompt(req.Description)),
		llmcall.RecordOptions{RunID: run.ID, PromptKey: llmcall.PromptGenerate}, nil)
	if err != nil {
		r.finishRun(ctx, run.ID, store.KindGenerate, store.RunOutcome{
			Status:   store.StatusFailed,
			Attempts: 1,
			Error:    err.Error(),
		})
		return nil, err
	}

	parsed := ParseCorrection(result.Content)
	gen := &Generated{
		RunID:  run.ID,
		YAML:   parsed.YAML,
		JSON:   parsed.JSON,
		Raw:    result.Content,
		Errors: []string{},
	}

	candidate := parsed.YAML
	if candidate == "" {
		candidate = parsed.JSON
	}
	if strings.TrimSpace(candidate) == "" {
		gen.Errors = []string{ErrEmptyCorrection.Error()}
	} else {
		res := r.cfg.Validator.Validate(ctx, candidate)
		r.observeValidation(res)
		gen.Valid = res.Valid
		gen.Errors = nonNil(res.Errors)
		gen.Problems = res.Problems
	}

	status := store.StatusInvalid
	if gen.Valid {
		status = store.StatusValid
	}
	stored, _ := json.Marshal(gen)
	r.finishRun(ctx, run.ID, store.KindGenerate, store.RunOutcome{
		Status:   status,
		Attempts: 1,
		Valid:    gen.Valid,
		Errors:   gen.Errors,
		Result:   stored,
	})
	r.logger.Info("generation run finished", "run_id", run.ID, "status", status)
	return gen, nil
}
