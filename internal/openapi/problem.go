package openapi

import (
	"sort"
	"strings"
)

// Severity grades a problem.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Rule identifiers attached to problems.
const (
	RuleParse         = "parse"
	RuleVersion       = "version"
	RuleSchema        = "schema"
	RuleSemantic      = "semantic"
	RuleStructure     = "structure"
	RuleOperationID   = "operation-id"
	RuleDuplicateOpID = "operation-id-unique"
	RulePathParams    = "path-params"
	RuleFormat        = "format"
	RuleExample       = "example-format"
	RuleServerURL     = "server-url"
)

// Problem is a single finding about a document.
type Problem struct {
	Severity Severity `json:"severity"`
	// Path is a JSON pointer into the document; empty for the root.
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
	Rule    string `json:"rule"`
}

func (p Problem) String() string {
	if p.Path == "" {
		return p.Message
	}
	return p.Path + ": " + p.Message
}

// Result is the outcome of validating one document.
type Result struct {
	Valid   bool    `json:"valid"`
	Format  Format  `json:"format,omitempty"`
	Version Version `json:"version,omitempty"`
	// Errors holds error-severity problems as "path: message" strings.
	Errors   []string  `json:"errors"`
	Problems []Problem `json:"problems"`
}

// ErrorCount returns the number of error-severity problems.
func (r Result) ErrorCount() int {
	return len(r.Errors)
}

// Warnings returns the warning-severity problems.
func (r Result) Warnings() []Problem {
	var out []Problem
	for _, p := range r.Problems {
		if p.Severity == SeverityWarning {
			out = append(out, p)
		}
	}
	return out
}

func newResult(doc *Document, problems []Problem) Result {
	problems = normalizeProblems(problems)

	res := Result{
		Errors:   []string{},
		Problems: problems,
	}
	if doc != nil {
		res.Format = doc.Format
		res.Version = doc.Version
	}
	for _, p := range problems {
		if p.Severity == SeverityError {
			res.Errors = append(res.Errors, p.String())
		}
	}
	res.Valid = len(res.Errors) == 0
	return res
}

func failedResult(p Problem) Result {
	return newResult(nil, []Problem{p})
}

// normalizeProblems sorts by path then message and drops duplicates.
func normalizeProblems(problems []Problem) []Problem {
	out := make([]Problem, 0, len(problems))
	seen := make(map[Problem]bool, len(problems))
	for _, p := range problems {
		p.Message = strings.TrimSpace(p.Message)
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		if out[i].Message != out[j].Message {
			return out[i].Message < out[j].Message
		}
		return out[i].Severity < out[j].Severity
	})
	return out
}

// pointer builds a JSON pointer from path tokens.
func pointer(tokens ...string) string {
	var b strings.Builder
	for _, t := range tokens {
		b.WriteByte('/')
		t = strings.ReplaceAll(t, "~", "~0")
		t = strings.ReplaceAll(t, "/", "~1")
		b.WriteString(t)
	}
	return b.String()
}
