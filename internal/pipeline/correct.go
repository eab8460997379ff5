package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackzampolin/swaggerfix/internal/llmcall"
	"github.com/jackzampolin/swaggerfix/internal/openapi"
	"github.com/jackzampolin/swaggerfix/internal/providers"
)

// ErrEmptyCorrection is recorded when a response holds no document.
var ErrEmptyCorrection = errors.New("response contained no corrected document")

// correction is the per-run context shared by the graph nodes.
type correction struct {
	runner    *Runner
	req       CorrectRequest
	client    providers.LLMClient
	clientErr error
	emit      Emitter
}

// graph wires the correction flow:
//
//	validate --valid--> finish
//	validate --invalid--> correct --> revalidate --valid--> finish
//	revalidate --invalid, attempts left--> correct
//	revalidate --invalid, exhausted--> finish
func (c *correction) graph() (*Graph, error) {
	g := NewGraph(0)
	for _, n := range []Node{
		NewNode(NodeValidate, c.validate),
		NewNode(NodeCorrect, c.correct),
		NewNode(NodeRevalidate, c.revalidate),
		NewNode(NodeFinish, c.finish),
	} {
		if err := g.AddNode(n); err != nil {
			return nil, err
		}
	}
	g.SetEntry(NodeValidate)

	g.AddConditionalEdge(NodeValidate, func(s *State) string {
		if s.Input.Valid {
			return NodeFinish
		}
		return NodeCorrect
	})
	g.AddEdge(NodeCorrect, NodeRevalidate)
	g.AddConditionalEdge(NodeRevalidate, func(s *State) string {
		if last := s.Last(); last != nil && last.Valid {
			return NodeFinish
		}
		if s.Attempt < s.MaxAttempts {
			return NodeCorrect
		}
		return NodeFinish
	})
	g.AddEdge(NodeFinish, End)

	// validate + finish, plus correct and revalidate per attempt.
	g.maxSteps = 2 + 2*c.maxAttempts()
	return g, nil
}

func (c *correction) maxAttempts() int {
	if c.req.MaxAttempts > 0 {
		return c.req.MaxAttempts
	}
	return c.runner.cfg.MaxAttempts
}

func (c *correction) validate(ctx context.Context, s *State) error {
	res := c.runner.cfg.Validator.Validate(ctx, s.Content)
	c.runner.observeValidation(res)
	s.Input = res
	s.Errors = nonNil(res.Errors)
	c.emit.emit(EventProgress, Progress{
		Step:   NodeValidate,
		Valid:  boolPtr(res.Valid),
		Errors: s.Errors,
	})
	return nil
}

func (c *correction) correct(ctx context.Context, s *State) error {
	if c.client == nil {
		if c.clientErr != nil {
			return c.clientErr
		}
		return providers.ErrNoProvider
	}
	s.Attempt++
	c.emit.emit(EventProgress, Progress{Step: NodeCorrect, Attempt: s.Attempt, Errors: s.Errors})

	promptKey := llmcall.PromptCorrect
	prompt := CorrectionPrompt(s.Content, s.Errors)
	if last := s.Last(); last != nil {
		promptKey = llmcall.PromptRetry
		prompt = RetryPrompt(s.Content, last.Document(s.Input.Format), s.Errors)
	}

	structured := c.runner.cfg.StructuredOutput
	if structured {
		prompt += StructuredInstructions
	}
	req := c.runner.chatRequest(c.req.Model, prompt)
	if structured {
		req.ResponseFormat = &providers.ResponseFormat{
			Type:       providers.ResponseFormatJSONSchema,
			JSONSchema: correctionSchemaJSON(),
		}
	}

	var onDelta func(string)
	if c.req.StreamTokens {
		attempt := s.Attempt
		onDelta = func(delta string) {
			c.emit.emit(EventToken, Token{Attempt: attempt, Delta: delta})
		}
	}

	result, err := c.runner.chat(ctx, c.client, req, llmcall.RecordOptions{
		RunID:     s.RunID,
		SpecID:    s.SpecID,
		PromptKey: promptKey,
	}, onDelta)
	if err != nil {
		return err
	}

	parsed, err := parseResult(result, structured)
	if err != nil {
		return err
	}
	s.Corrections = append(s.Corrections, Correction{
		Attempt:         s.Attempt,
		YAML:            parsed.YAML,
		JSON:            parsed.JSON,
		Explanations:    parsed.Explanations,
		RawResponse:     result.Content,
		RemainingErrors: []string{},
	})
	return nil
}

// parseResult reads a correction from sectioned text or structured JSON.
func parseResult(result *providers.ChatResult, structured bool) (Parsed, error) {
	if !structured {
		return ParseCorrection(result.Content), nil
	}
	raw := result.ParsedJSON
	if len(raw) == 0 {
		raw = json.RawMessage(result.Content)
	}
	var sc StructuredCorrection
	if err := json.Unmarshal(raw, &sc); err != nil {
		return Parsed{}, fmt.Errorf("decode structured correction: %w", err)
	}
	p := Parsed{YAML: strings.TrimSpace(sc.YAML), Explanations: nonNil(sc.Explanations)}
	derive(&p)
	return p, nil
}

func (c *correction) revalidate(ctx context.Context, s *State) error {
	last := s.Last()
	if last == nil {
		return fmt.Errorf("revalidate without a correction")
	}

	candidate := last.Document(s.Input.Format)
	if strings.TrimSpace(candidate) == "" {
		last.Valid = false
		last.RemainingErrors = []string{ErrEmptyCorrection.Error()}
	} else {
		res := c.runner.cfg.Validator.Validate(ctx, candidate)
		c.runner.observeValidation(res)
		last.Valid = res.Valid
		last.RemainingErrors = nonNil(res.Errors)
		if diff, err := openapi.UnifiedDiff("original", "corrected", s.Content, candidate); err == nil {
			last.Diff = diff
		}
	}
	s.Errors = last.RemainingErrors

	c.emit.emit(EventProgress, Progress{
		Step:    NodeRevalidate,
		Attempt: s.Attempt,
		Valid:   boolPtr(last.Valid),
		Errors:  s.Errors,
	})
	c.emit.emit(EventCorrection, *last)
	return nil
}

func (c *correction) finish(ctx context.Context, s *State) error {
	c.emit.emit(EventDone, doneData(s))
	return nil
}

func doneData(s *State) Done {
	d := Done{
		RunID:        s.RunID,
		Valid:        s.Valid(),
		InputValid:   s.Input.Valid,
		Errors:       nonNil(s.Errors),
		Attempts:     s.Attempt,
		Explanations: []string{},
	}
	if last := s.Last(); last != nil {
		corrected := *last
		d.Corrected = &corrected
		d.Explanations = nonNil(last.Explanations)
	}
	return d
}
