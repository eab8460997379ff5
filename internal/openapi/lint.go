package openapi

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/go-openapi/strfmt"
)

var (
	swagger2Methods  = []string{"get", "put", "post", "delete", "options", "head", "patch"}
	pathTemplateExpr = regexp.MustCompile(`\{([^{}]+)\}`)
)

type operationRef struct {
	path   string
	method string
	item   map[string]any
	op     map[string]any
}

func (o operationRef) pointer(tokens ...string) string {
	return pointer(append([]string{"paths", o.path, o.method}, tokens...)...)
}

// lint applies best-practice rules shared by all versions. Identity rules
// (duplicate operationId, undeclared path parameters) are only applied when
// no semantic pass already covered them.
func lint(doc *Document, identityRules bool) []Problem {
	ops := operations(doc)

	var problems []Problem
	problems = append(problems, lintOperationIDs(ops, identityRules)...)
	if identityRules {
		problems = append(problems, lintPathParams(doc, ops)...)
	}
	problems = append(problems, lintFormats(doc, ops)...)
	problems = append(problems, lintExamples(doc)...)
	if doc.Version != VersionSwagger2 {
		problems = append(problems, lintServers(doc)...)
	}
	return problems
}

func operations(doc *Document) []operationRef {
	paths, _ := doc.Tree["paths"].(map[string]any)
	methods := oas31Methods
	if doc.Version == VersionSwagger2 {
		methods = swagger2Methods
	}

	var ops []operationRef
	for _, path := range sortedKeys(paths) {
		item, ok := paths[path].(map[string]any)
		if !ok || !strings.HasPrefix(path, "/") {
			continue
		}
		for _, method := range methods {
			op, ok := item[method].(map[string]any)
			if !ok {
				continue
			}
			ops = append(ops, operationRef{path: path, method: method, item: item, op: op})
		}
	}
	return ops
}

func lintOperationIDs(ops []operationRef, checkDuplicates bool) []Problem {
	var problems []Problem
	first := make(map[string]operationRef)
	for _, o := range ops {
		id, _ := o.op["operationId"].(string)
		if id == "" {
			problems = append(problems, Problem{
				Severity: SeverityWarning,
				Path:     o.pointer(),
				Message:  "operation has no operationId",
				Rule:     RuleOperationID,
			})
			continue
		}
		if prev, dup := first[id]; dup {
			if checkDuplicates {
				problems = append(problems, Problem{
					Severity: SeverityError,
					Path:     o.pointer("operationId"),
					Message:  fmt.Sprintf("duplicate operationId %q (also used by %s %s)", id, strings.ToUpper(prev.method), prev.path),
					Rule:     RuleDuplicateOpID,
				})
			}
			continue
		}
		first[id] = o
	}
	return problems
}

func lintPathParams(doc *Document, ops []operationRef) []Problem {
	var problems []Problem
	for _, o := range ops {
		declared := make(map[string]bool)
		for _, p := range pathParameters(doc, o.item["parameters"]) {
			declared[p] = true
		}
		for _, p := range pathParameters(doc, o.op["parameters"]) {
			declared[p] = true
		}

		templated := make(map[string]bool)
		for _, m := range pathTemplateExpr.FindAllStringSubmatch(o.path, -1) {
			name := m[1]
			templated[name] = true
			if !declared[name] {
				problems = append(problems, Problem{
					Severity: SeverityError,
					Path:     o.pointer(),
					Message:  fmt.Sprintf("path parameter %q is not declared", name),
					Rule:     RulePathParams,
				})
			}
		}
		for _, name := range sortedKeys(declared) {
			if !templated[name] {
				problems = append(problems, Problem{
					Severity: SeverityError,
					Path:     o.pointer(),
					Message:  fmt.Sprintf("path parameter %q is declared but not present in the path template", name),
					Rule:     RulePathParams,
				})
			}
		}
	}
	return problems
}

// pathParameters returns the names of in: path parameters, following local refs.
func pathParameters(doc *Document, raw any) []string {
	list, _ := raw.([]any)
	var names []string
	for _, entry := range list {
		param, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if ref, ok := param["$ref"].(string); ok {
			param, ok = resolveLocalRef(doc.Tree, ref).(map[string]any)
			if !ok {
				continue
			}
		}
		if in, _ := param["in"].(string); in != "path" {
			continue
		}
		if name, _ := param["name"].(string); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// resolveLocalRef follows a "#/..." reference within the document tree.
func resolveLocalRef(tree map[string]any, ref string) any {
	if !strings.HasPrefix(ref, "#/") {
		return nil
	}
	var cur any = tree
	for _, tok := range strings.Split(strings.TrimPrefix(ref, "#/"), "/") {
		tok = strings.ReplaceAll(tok, "~1", "/")
		tok = strings.ReplaceAll(tok, "~0", "~")
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[tok]
	}
	return cur
}

func lintFormats(doc *Document, ops []operationRef) []Problem {
	var problems []Problem
	check := func(path, format string, value any) {
		s, ok := value.(string)
		if !ok || s == "" {
			return
		}
		if !strfmt.Default.Validates(format, s) {
			problems = append(problems, Problem{
				Severity: SeverityWarning,
				Path:     path,
				Message:  fmt.Sprintf("%q is not a valid %s", s, format),
				Rule:     RuleFormat,
			})
		}
	}

	if info, ok := doc.Tree["info"].(map[string]any); ok {
		if contact, ok := info["contact"].(map[string]any); ok {
			check(pointer("info", "contact", "email"), "email", contact["email"])
			check(pointer("info", "contact", "url"), "uri", contact["url"])
		}
		if license, ok := info["license"].(map[string]any); ok {
			check(pointer("info", "license", "url"), "uri", license["url"])
		}
	}
	if docs, ok := doc.Tree["externalDocs"].(map[string]any); ok {
		check(pointer("externalDocs", "url"), "uri", docs["url"])
	}
	if tags, ok := doc.Tree["tags"].([]any); ok {
		for i, raw := range tags {
			tag, _ := raw.(map[string]any)
			if docs, ok := tag["externalDocs"].(map[string]any); ok {
				check(pointer("tags", fmt.Sprint(i), "externalDocs", "url"), "uri", docs["url"])
			}
		}
	}
	for _, o := range ops {
		if docs, ok := o.op["externalDocs"].(map[string]any); ok {
			check(o.pointer("externalDocs", "url"), "uri", docs["url"])
		}
	}
	return problems
}

// lintExamples checks string examples in named schemas against their format.
func lintExamples(doc *Document) []Problem {
	var (
		schemas map[string]any
		base    []string
	)
	if doc.Version == VersionSwagger2 {
		schemas, _ = doc.Tree["definitions"].(map[string]any)
		base = []string{"definitions"}
	} else {
		components, _ := doc.Tree["components"].(map[string]any)
		schemas, _ = components["schemas"].(map[string]any)
		base = []string{"components", "schemas"}
	}

	var problems []Problem
	var walk func(node any, tokens []string, depth int)
	walk = func(node any, tokens []string, depth int) {
		if depth > 64 {
			return
		}
		switch n := node.(type) {
		case map[string]any:
			typ, _ := n["type"].(string)
			format, _ := n["format"].(string)
			example, isStr := n["example"].(string)
			if typ == "string" && format != "" && isStr && strfmt.Default.ContainsName(format) && !strfmt.Default.Validates(format, example) {
				problems = append(problems, Problem{
					Severity: SeverityWarning,
					Path:     pointer(append(tokens, "example")...),
					Message:  fmt.Sprintf("example %q does not match format %q", example, format),
					Rule:     RuleExample,
				})
			}
			for _, key := range sortedKeys(n) {
				if key == "example" || key == "examples" || key == "enum" || key == "default" {
					continue
				}
				walk(n[key], append(append([]string(nil), tokens...), key), depth+1)
			}
		case []any:
			for i, item := range n {
				walk(item, append(append([]string(nil), tokens...), fmt.Sprint(i)), depth+1)
			}
		}
	}
	for _, name := range sortedKeys(schemas) {
		walk(schemas[name], append(append([]string(nil), base...), name), 0)
	}
	return problems
}

func lintServers(doc *Document) []Problem {
	servers, _ := doc.Tree["servers"].([]any)
	var problems []Problem
	for i, raw := range servers {
		server, _ := raw.(map[string]any)
		if u, _ := server["url"].(string); strings.TrimSpace(u) == "" {
			problems = append(problems, Problem{
				Severity: SeverityWarning,
				Path:     pointer("servers", fmt.Sprint(i), "url"),
				Message:  "server url is empty",
				Rule:     RuleServerURL,
			})
		}
	}
	return problems
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
