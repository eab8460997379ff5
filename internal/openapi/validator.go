package openapi

import (
	"context"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator checks documents for structural, semantic and lint problems.
// It is safe for concurrent use.
type Validator struct {
	lint bool

	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
}

// Option configures a Validator.
type Option func(*Validator)

// WithoutLint disables the lint rules, leaving structural and semantic checks.
func WithoutLint() Option {
	return func(v *Validator) {
		v.lint = false
	}
}

// NewValidator creates a Validator with lint rules enabled.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{lint: true}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

var defaultValidator = NewValidator()

// Validate checks content with the default validator.
func Validate(ctx context.Context, content string) Result {
	return defaultValidator.Validate(ctx, content)
}

// Validate parses content and checks it.
func (v *Validator) Validate(ctx context.Context, content string) Result {
	doc, err := Parse(content)
	if err != nil {
		return failedResult(Problem{
			Severity: SeverityError,
			Message:  err.Error(),
			Rule:     RuleParse,
		})
	}
	return v.ValidateDocument(ctx, doc)
}

// ValidateDocument checks an already parsed document.
func (v *Validator) ValidateDocument(ctx context.Context, doc *Document) Result {
	var (
		problems    []Problem
		semanticRan bool
	)

	switch doc.Version {
	case VersionSwagger2:
		problems, semanticRan = v.validateSwagger2(ctx, doc)
	case VersionOpenAPI30:
		problems, semanticRan = validateOpenAPI30(ctx, doc)
	case VersionOpenAPI31:
		problems = validateOpenAPI31(doc)
	default:
		return newResult(doc, []Problem{versionProblem(doc)})
	}

	if v.lint {
		problems = append(problems, lint(doc, !semanticRan)...)
	}
	return newResult(doc, problems)
}

func versionProblem(doc *Document) Problem {
	msg := "unsupported or missing version: expected swagger: \"2.0\" or openapi: 3.0.x/3.1.x"
	if doc.VersionString != "" {
		msg = fmt.Sprintf("unsupported or missing version %q: expected swagger: \"2.0\" or openapi: 3.0.x/3.1.x", doc.VersionString)
	}
	return Problem{
		Severity: SeverityError,
		Message:  msg,
		Rule:     RuleVersion,
	}
}
