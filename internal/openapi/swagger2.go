package openapi

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/getkin/kin-openapi/openapi2"
	"github.com/getkin/kin-openapi/openapi2conv"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/swagger2.json
var swagger2SchemaJSON []byte

const swagger2SchemaURL = "http://swagger.io/v2/schema.json"

// maxSchemaProblems caps the leaf errors reported from one schema validation.
const maxSchemaProblems = 50

func (v *Validator) swagger2Schema() (*jsonschema.Schema, error) {
	v.schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft4
		if err := compiler.AddResource(swagger2SchemaURL, bytes.NewReader(swagger2SchemaJSON)); err != nil {
			v.schemaErr = fmt.Errorf("failed to load swagger 2.0 schema: %w", err)
			return
		}
		v.schema, v.schemaErr = compiler.Compile(swagger2SchemaURL)
	})
	return v.schema, v.schemaErr
}

// validateSwagger2 runs the structural schema check and, when that passes,
// converts to OpenAPI 3 for semantic checks. The bool reports whether the
// semantic pass ran.
func (v *Validator) validateSwagger2(ctx context.Context, doc *Document) ([]Problem, bool) {
	schema, err := v.swagger2Schema()
	if err != nil {
		return []Problem{{Severity: SeverityError, Message: err.Error(), Rule: RuleSchema}}, false
	}

	if err := schema.Validate(any(doc.Tree)); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return schemaProblems(verr), false
		}
		return []Problem{{Severity: SeverityError, Message: err.Error(), Rule: RuleSchema}}, false
	}

	var d2 openapi2.T
	if err := json.Unmarshal(doc.JSON, &d2); err != nil {
		return []Problem{semanticProblem(err)}, false
	}
	d3, err := openapi2conv.ToV3(&d2)
	if err != nil {
		return []Problem{semanticProblem(fmt.Errorf("conversion to OpenAPI 3 failed: %w", err))}, false
	}
	// An empty paths object converts to nil, which openapi3 rejects.
	if d3.Paths == nil {
		d3.Paths = openapi3.NewPaths()
	}
	if err := d3.Validate(ctx); err != nil {
		return []Problem{semanticProblem(err)}, true
	}
	return nil, true
}

// schemaProblems flattens a validation error tree into its leaf causes.
func schemaProblems(verr *jsonschema.ValidationError) []Problem {
	var out []Problem
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(out) >= maxSchemaProblems {
			return
		}
		if len(e.Causes) == 0 {
			out = append(out, Problem{
				Severity: SeverityError,
				Path:     e.InstanceLocation,
				Message:  e.Message,
				Rule:     RuleSchema,
			})
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)
	return out
}

func semanticProblem(err error) Problem {
	return Problem{
		Severity: SeverityError,
		Message:  err.Error(),
		Rule:     RuleSemantic,
	}
}
