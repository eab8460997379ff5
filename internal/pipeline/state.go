package pipeline

import (
	"github.com/jackzampolin/swaggerfix/internal/openapi"
)

// Graph node names.
const (
	NodeValidate   = "validate"
	NodeCorrect    = "correct"
	NodeRevalidate = "revalidate"
	NodeFinish     = "finish"
)

// State flows through the correction graph.
type State struct {
	RunID  string
	SpecID string

	// Content is the document as submitted.
	Content string
	Input   openapi.Result

	// Errors are the errors the next correction must fix.
	Errors []string

	Attempt     int
	MaxAttempts int
	Corrections []Correction

	// Steps lists executed nodes in order.
	Steps []string
}

// Last returns the most recent correction, or nil.
func (s *State) Last() *Correction {
	if len(s.Corrections) == 0 {
		return nil
	}
	return &s.Corrections[len(s.Corrections)-1]
}

// Valid reports whether the input or the latest correction is valid.
func (s *State) Valid() bool {
	if s.Input.Valid {
		return true
	}
	last := s.Last()
	return last != nil && last.Valid
}

// Correction is one LLM correction attempt.
type Correction struct {
	Attempt         int      `json:"attempt"`
	YAML            string   `json:"yaml"`
	JSON            string   `json:"json"`
	Explanations    []string `json:"explanations"`
	RawResponse     string   `json:"raw_response"`
	Valid           bool     `json:"valid"`
	RemainingErrors []string `json:"remaining_errors"`
	Diff            string   `json:"diff,omitempty"`
}

// Document returns the corrected document in the given format, falling back
// to whichever rendering is present.
func (c *Correction) Document(format openapi.Format) string {
	if format == openapi.FormatJSON && c.JSON != "" {
		return c.JSON
	}
	if c.YAML != "" {
		return c.YAML
	}
	return c.JSON
}

// Event types streamed while a run progresses.
const (
	EventProgress   = "progress"
	EventToken      = "token"
	EventCorrection = "correction"
	EventDone       = "done"
	EventError      = "error"
)

// Event is one streamed run event.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Emitter receives events in order. It is called from the run's goroutine.
type Emitter func(Event)

// Progress is the payload of progress events.
type Progress struct {
	Step    string   `json:"step"`
	Attempt int      `json:"attempt,omitempty"`
	Valid   *bool    `json:"valid,omitempty"`
	Errors  []string `json:"errors"`
}

// Token is the payload of token events.
type Token struct {
	Attempt int    `json:"attempt"`
	Delta   string `json:"delta"`
}

// Done is the payload of the final done event.
type Done struct {
	RunID        string      `json:"run_id,omitempty"`
	Valid        bool        `json:"valid"`
	InputValid   bool        `json:"input_valid"`
	Errors       []string    `json:"errors"`
	Attempts     int         `json:"attempts"`
	Corrected    *Correction `json:"corrected"`
	Explanations []string    `json:"explanations"`
}

// Failure is the payload of error events.
type Failure struct {
	RunID string `json:"run_id,omitempty"`
	Error string `json:"error"`
}

func (e Emitter) emit(typ string, data any) {
	if e != nil {
		e(Event{Type: typ, Data: data})
	}
}

func boolPtr(b bool) *bool { return &b }

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
