package openapi

import (
	"context"
	"fmt"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// validateOpenAPI30 loads the document with kin-openapi and validates it.
// External references are refused so validation never touches the network.
func validateOpenAPI30(ctx context.Context, doc *Document) ([]Problem, bool) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false
	loader.Context = ctx

	t, err := loader.LoadFromData(doc.JSON)
	if err != nil {
		return []Problem{semanticProblem(fmt.Errorf("invalid OpenAPI specification: %w", err))}, false
	}
	if err := t.Validate(ctx); err != nil {
		return []Problem{semanticProblem(err)}, true
	}
	return nil, true
}

var oas31Methods = []string{"get", "put", "post", "delete", "options", "head", "patch", "trace"}

// validateOpenAPI31 applies structural rules for 3.1 documents.
func validateOpenAPI31(doc *Document) []Problem {
	var problems []Problem
	add := func(path, format string, args ...any) {
		problems = append(problems, Problem{
			Severity: SeverityError,
			Path:     path,
			Message:  fmt.Sprintf(format, args...),
			Rule:     RuleStructure,
		})
	}

	tree := doc.Tree
	info, ok := tree["info"].(map[string]any)
	if !ok {
		add("", "missing required field: info")
	} else {
		for _, field := range []string{"title", "version"} {
			v, present := info[field]
			if !present {
				add(pointer("info"), "missing required field: %s", field)
				continue
			}
			if _, isStr := v.(string); !isStr {
				add(pointer("info", field), "must be a string")
			}
		}
	}

	_, hasPaths := tree["paths"]
	_, hasWebhooks := tree["webhooks"]
	_, hasComponents := tree["components"]
	if !hasPaths && !hasWebhooks && !hasComponents {
		add("", "document must contain at least one of paths, webhooks or components")
	}

	if raw, present := tree["paths"]; present {
		paths, ok := raw.(map[string]any)
		if !ok {
			add(pointer("paths"), "must be an object")
		} else {
			for _, key := range sortedKeys(paths) {
				if strings.HasPrefix(key, "x-") {
					continue
				}
				if !strings.HasPrefix(key, "/") {
					add(pointer("paths", key), "path must begin with /")
					continue
				}
				item, ok := paths[key].(map[string]any)
				if !ok {
					add(pointer("paths", key), "path item must be an object")
					continue
				}
				for _, method := range oas31Methods {
					raw, present := item[method]
					if !present {
						continue
					}
					op, ok := raw.(map[string]any)
					if !ok {
						add(pointer("paths", key, method), "operation must be an object")
						continue
					}
					if responses, present := op["responses"]; present {
						if _, ok := responses.(map[string]any); !ok {
							add(pointer("paths", key, method, "responses"), "must be an object")
						}
					} else {
						add(pointer("paths", key, method), "missing required field: responses")
					}
				}
			}
		}
	}

	if raw, present := tree["components"]; present {
		components, ok := raw.(map[string]any)
		if !ok {
			add(pointer("components"), "must be an object")
		} else {
			for _, key := range sortedKeys(components) {
				if strings.HasPrefix(key, "x-") {
					continue
				}
				if _, ok := components[key].(map[string]any); !ok {
					add(pointer("components", key), "must be an object")
				}
			}
		}
	}

	if raw, present := tree["servers"]; present {
		if _, ok := raw.([]any); !ok {
			add(pointer("servers"), "must be an array")
		}
	}
	return problems
}
