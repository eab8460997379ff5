// Package llmcall provides LLM call recording and querying for traceability.
// Every LLM API call is recorded with its prompt key, response, and metrics.
package llmcall

import (
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/swaggerfix/internal/providers"
)

// Prompt keys used by the pipeline.
const (
	PromptCorrect  = "correct"
	PromptRetry    = "correct.retry"
	PromptGenerate = "generate"
)

// Call represents a recorded LLM API call.
type Call struct {
	// Unique identifier
	ID string `json:"id"`

	// Timing
	Timestamp time.Time `json:"timestamp"`
	LatencyMs int       `json:"latency_ms"`

	// Context references
	RunID  string `json:"run_id,omitempty"`
	SpecID string `json:"spec_id,omitempty"`

	// Prompt traceability
	PromptKey string `json:"prompt_key"`

	// Model info
	Provider    string   `json:"provider"`
	Model       string   `json:"model"`
	Temperature *float64 `json:"temperature,omitempty"`

	// Token usage
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	Attempts     int `json:"attempts"`

	// Response
	Response string `json:"response"`

	// Status
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// RecordOptions provides context for recording an LLM call.
type RecordOptions struct {
	// Context references (all optional)
	RunID  string
	SpecID string

	// Prompt identification (required for traceability)
	PromptKey string

	// Request parameters (pointer to distinguish "not set" from "set to 0")
	Temperature *float64
}

// FromChatResult creates a Call from a ChatResult.
// Returns nil if result is nil.
func FromChatResult(result *providers.ChatResult, opts RecordOptions) *Call {
	if result == nil {
		return nil
	}

	call := &Call{
		ID:           uuid.New().String(),
		Timestamp:    time.Now().UTC(),
		LatencyMs:    int(result.ExecutionTime.Milliseconds()),
		RunID:        opts.RunID,
		SpecID:       opts.SpecID,
		PromptKey:    opts.PromptKey,
		Provider:     result.Provider,
		Model:        result.ModelUsed,
		InputTokens:  result.PromptTokens,
		OutputTokens: result.CompletionTokens,
		Attempts:     result.Attempts,
		Response:     result.Content,
		Success:      result.Success,
	}

	if opts.Temperature != nil {
		t := *opts.Temperature
		call.Temperature = &t
	}
	if call.Attempts == 0 {
		call.Attempts = 1
	}

	if !result.Success {
		call.Error = result.ErrorMessage
	}

	return call
}

// ToRow converts the Call to a row for the llm_calls table.
func (c *Call) ToRow() map[string]any {
	m := map[string]any{
		"id":            c.ID,
		"timestamp":     c.Timestamp,
		"latency_ms":    c.LatencyMs,
		"run_id":        c.RunID,
		"spec_id":       c.SpecID,
		"prompt_key":    c.PromptKey,
		"provider":      c.Provider,
		"model":         c.Model,
		"input_tokens":  c.InputTokens,
		"output_tokens": c.OutputTokens,
		"attempts":      c.Attempts,
		"response":      c.Response,
		"success":       c.Success,
		"error":         c.Error,
	}
	if c.Temperature != nil {
		m["temperature"] = *c.Temperature
	}
	return m
}
