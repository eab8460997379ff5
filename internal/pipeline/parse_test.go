package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sectionedResponse = `Here is the corrected spec.
---
YAML:
openapi: 3.0.3
info:
  title: Petstore
  version: 1.0.0
paths: {}
---
JSON:
{"openapi": "3.0.3", "info": {"title": "Petstore", "version": "1.0.0"}, "paths": {}}
---
EXPLANATIONS:
- Added the missing info.version field.
- Kept the title unchanged.
`

func TestParseCorrection_Sections(t *testing.T) {
	p := ParseCorrection(sectionedResponse)

	assert.True(t, strings.HasPrefix(p.YAML, "openapi: 3.0.3\n"))
	assert.True(t, strings.HasSuffix(p.YAML, "paths: {}"))
	assert.True(t, strings.HasPrefix(p.JSON, `{"openapi": "3.0.3"`))
	assert.Equal(t, []string{
		"Added the missing info.version field.",
		"Kept the title unchanged.",
	}, p.Explanations)
}

func TestParseCorrection_FencedSections(t *testing.T) {
	raw := "YAML:\n```yaml\nopenapi: 3.0.3\ninfo:\n  title: T\n  version: '1'\npaths: {}\n```\n---\nEXPLANATIONS:\n* Fixed version\n"
	p := ParseCorrection(raw)

	assert.Equal(t, "openapi: 3.0.3\ninfo:\n  title: T\n  version: '1'\npaths: {}", p.YAML)
	// JSON is derived from the YAML.
	assert.Contains(t, p.JSON, `"openapi": "3.0.3"`)
	assert.Equal(t, []string{"Fixed version"}, p.Explanations)
}

func TestParseCorrection_FencedBlocksWithoutLabels(t *testing.T) {
	raw := "Sure! The fixed document:\n\n```json\n{\"openapi\": \"3.0.3\", \"info\": {\"title\": \"T\", \"version\": \"1\"}, \"paths\": {}}\n```\n"
	p := ParseCorrection(raw)

	require.NotEmpty(t, p.JSON)
	assert.Contains(t, p.JSON, `"title": "T"`)
	assert.Contains(t, p.YAML, "title: T")
	assert.Empty(t, p.Explanations)
	assert.NotNil(t, p.Explanations)
}

func TestParseCorrection_UntaggedFence(t *testing.T) {
	raw := "```\nopenapi: 3.0.3\ninfo:\n  title: T\n  version: '1'\npaths: {}\n```"
	p := ParseCorrection(raw)

	assert.Contains(t, p.YAML, "openapi: 3.0.3")
	assert.Contains(t, p.JSON, `"openapi": "3.0.3"`)
}

func TestParseCorrection_Nothing(t *testing.T) {
	p := ParseCorrection("I cannot help with that.")
	assert.Empty(t, p.YAML)
	assert.Empty(t, p.JSON)
	assert.Empty(t, p.Explanations)
}

func TestParseCorrection_SectionsWithoutSeparators(t *testing.T) {
	raw := "YAML:\nopenapi: 3.1.0\nJSON:\n{\"openapi\": \"3.1.0\"}\nEXPLANATIONS:\n- one"
	p := ParseCorrection(raw)

	assert.Equal(t, "openapi: 3.1.0", p.YAML)
	assert.Equal(t, `{"openapi": "3.1.0"}`, p.JSON)
	assert.Equal(t, []string{"one"}, p.Explanations)
}

func TestParseCorrection_LabelsInsideValues(t *testing.T) {
	raw := "YAML:\nopenapi: 3.0.3\ninfo:\n  title: T\n  version: '1'\n  description: \"Returns JSON: list\"\npaths: {}\n---\nEXPLANATIONS:\n- Added version."
	p := ParseCorrection(raw)

	assert.Contains(t, p.YAML, `description: "Returns JSON: list"`)
	assert.Contains(t, p.YAML, "paths: {}")
	assert.Contains(t, p.JSON, `"description": "Returns JSON: list"`)
	assert.Equal(t, []string{"Added version."}, p.Explanations)
}

func TestPrompts(t *testing.T) {
	prompt := CorrectionPrompt("openapi: 3.0.0", []string{"/info: missing title", "/paths: bad"})
	assert.True(t, strings.HasPrefix(prompt, "You are an expert in OpenAPI/Swagger specifications."))
	assert.Contains(t, prompt, "Original Spec:\nopenapi: 3.0.0\n")
	assert.Contains(t, prompt, "Errors:\n- /info: missing title\n- /paths: bad\n")
	assert.Contains(t, prompt, "---\nYAML:\n<corrected_yaml>\n---\nJSON:\n<corrected_json>\n---\nEXPLANATIONS:\n")

	retry := RetryPrompt("orig", "prev", nil)
	assert.Contains(t, retry, "Previous Attempt:\nprev\n")
	assert.Contains(t, retry, "Remaining Errors:\n- (none reported)\n")

	gen := GeneratePrompt("  a todo API  ")
	assert.True(t, strings.HasPrefix(gen,
		"Generate a complete OpenAPI 3.0 spec (YAML and JSON) for the following API description:\na todo API\nReturn YAML and JSON."))
}
