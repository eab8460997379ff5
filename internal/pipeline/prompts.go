package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CorrectionPromptTemplate asks for a corrected document.
// Use fmt.Sprintf(CorrectionPromptTemplate, content, errors)
const CorrectionPromptTemplate = `You are an expert in OpenAPI/Swagger specifications. The following OpenAPI spec has validation errors. Please correct the errors and explain each change you make.

Original Spec:
%s

Errors:
%s

Return the corrected spec in both YAML and JSON, and a list of explanations for each change.
Format:
---
YAML:
<corrected_yaml>
---
JSON:
<corrected_json>
---
EXPLANATIONS:
- <explanation1>
- <explanation2>
...
`

// RetryPromptTemplate follows up on a correction that still fails validation.
// Use fmt.Sprintf(RetryPromptTemplate, content, previous, errors)
const RetryPromptTemplate = `You are an expert in OpenAPI/Swagger specifications. A previous attempt to correct the OpenAPI spec below still has validation errors. Fix the remaining errors and explain each change you make relative to the original spec.

Original Spec:
%s

Previous Attempt:
%s

Remaining Errors:
%s

Return the corrected spec in both YAML and JSON, and a list of explanations for each change.
Format:
---
YAML:
<corrected_yaml>
---
JSON:
<corrected_json>
---
EXPLANATIONS:
- <explanation1>
- <explanation2>
...
`

// GeneratePromptTemplate turns a description into a new document.
// Use fmt.Sprintf(GeneratePromptTemplate, description)
const GeneratePromptTemplate = `Generate a complete OpenAPI 3.0 spec (YAML and JSON) for the following API description:
%s
Return YAML and JSON.
Format:
---
YAML:
<spec_yaml>
---
JSON:
<spec_json>
`

// StructuredInstructions is appended to correction prompts in structured mode.
const StructuredInstructions = `

Respond with a single JSON object instead of the format above:
{"yaml": "<corrected spec as YAML>", "explanations": ["<explanation1>", "<explanation2>"]}`

// CorrectionSchema is the JSON schema for structured correction output.
var CorrectionSchema = map[string]any{
	"name":   "openapi_correction",
	"strict": true,
	"schema": map[string]any{
		"type": "object",
		"properties": map[string]any{
			"yaml": map[string]any{
				"type":        "string",
				"description": "The full corrected document as YAML",
			},
			"explanations": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "One entry per change",
			},
		},
		"required":             []string{"yaml", "explanations"},
		"additionalProperties": false,
	},
}

// StructuredCorrection is the parsed structured output.
type StructuredCorrection struct {
	YAML         string   `json:"yaml"`
	Explanations []string `json:"explanations"`
}

// CorrectionPrompt builds the prompt for the first attempt.
func CorrectionPrompt(content string, errors []string) string {
	return fmt.Sprintf(CorrectionPromptTemplate, content, formatErrors(errors))
}

// RetryPrompt builds the prompt for a follow-up attempt.
func RetryPrompt(content, previous string, errors []string) string {
	return fmt.Sprintf(RetryPromptTemplate, content, previous, formatErrors(errors))
}

// GeneratePrompt builds the prompt for generation.
func GeneratePrompt(description string) string {
	return fmt.Sprintf(GeneratePromptTemplate, strings.TrimSpace(description))
}

func formatErrors(errors []string) string {
	if len(errors) == 0 {
		return "- (none reported)"
	}
	var b strings.Builder
	for i, e := range errors {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(e)
	}
	return b.String()
}

func correctionSchemaJSON() json.RawMessage {
	b, err := json.Marshal(CorrectionSchema)
	if err != nil {
		panic(fmt.Sprintf("marshal correction schema: %v", err))
	}
	return b
}
