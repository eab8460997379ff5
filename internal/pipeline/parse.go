package pipeline

import (
	"regexp"
	"strings"

	"github.com/jackzampolin/swaggerfix/internal/openapi"
)

// Section labels in LLM responses.
const (
	labelYAML         = "YAML:"
	labelJSON         = "JSON:"
	labelExplanations = "EXPLANATIONS:"
)

var (
	sectionEnds = []string{"\n---", "\n" + labelYAML, "\n" + labelJSON, "\n" + labelExplanations}
	fenceRe     = regexp.MustCompile("(?s)```([A-Za-z0-9_-]*)[ \t]*\r?\n(.*?)\r?\n?```")

	// Labels only count at the start of a line, so a value such as
	// `description: "Returns JSON: list"` does not open a section.
	labelRes = map[string]*regexp.Regexp{
		labelYAML:         labelRe(labelYAML),
		labelJSON:         labelRe(labelJSON),
		labelExplanations: labelRe(labelExplanations),
	}
)

func labelRe(label string) *regexp.Regexp {
	return regexp.MustCompile(`(?m)^[ \t]*` + regexp.QuoteMeta(label))
}

// Parsed holds the documents and explanations found in a response.
type Parsed struct {
	YAML         string
	JSON         string
	Explanations []string
}

// ParseCorrection extracts YAML, JSON and explanations from raw. Sections
// are labelled "YAML:", "JSON:" and "EXPLANATIONS:" and separated by "---".
// Without sections, fenced yaml/json blocks are used. A missing rendering is
// derived from the other one.
func ParseCorrection(raw string) Parsed {
	var p Parsed
	p.YAML = stripFence(section(raw, labelYAML))
	p.JSON = stripFence(section(raw, labelJSON))
	p.Explanations = explanationLines(section(raw, labelExplanations))

	if p.YAML == "" || p.JSON == "" {
		fromFences(raw, &p)
	}
	derive(&p)
	return p
}

// section returns the text after label up to the next separator or label.
func section(raw, label string) string {
	loc := labelRes[label].FindStringIndex(raw)
	if loc == nil {
		return ""
	}
	rest := raw[loc[1]:]
	end := len(rest)
	for _, sep := range sectionEnds {
		if i := strings.Index(rest, sep); i >= 0 && i < end {
			end = i
		}
	}
	return strings.TrimSpace(rest[:end])
}

// stripFence unwraps a section that is itself a fenced code block.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[2])
	}
	return strings.TrimSpace(strings.Trim(s, "`"))
}

func fromFences(raw string, p *Parsed) {
	for _, m := range fenceRe.FindAllStringSubmatch(raw, -1) {
		lang := strings.ToLower(m[1])
		body := strings.TrimSpace(m[2])
		if body == "" {
			continue
		}
		switch lang {
		case "yaml", "yml":
			if p.YAML == "" {
				p.YAML = body
			}
		case "json":
			if p.JSON == "" {
				p.JSON = body
			}
		case "":
			doc, err := openapi.Parse(body)
			if err != nil {
				continue
			}
			if doc.Format == openapi.FormatJSON && p.JSON == "" {
				p.JSON = body
			} else if doc.Format == openapi.FormatYAML && p.YAML == "" {
				p.YAML = body
			}
		}
	}
}

func derive(p *Parsed) {
	if p.YAML == "" && p.JSON != "" {
		if out, err := openapi.Convert(p.JSON, openapi.FormatYAML); err == nil {
			p.YAML = strings.TrimSpace(out)
		}
	}
	if p.JSON == "" && p.YAML != "" {
		if out, err := openapi.Convert(p.YAML, openapi.FormatJSON); err == nil {
			p.JSON = strings.TrimSpace(out)
		}
	}
}

// explanationLines returns non-empty lines with bullet markers removed.
func explanationLines(s string) []string {
	out := []string{}
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*•"))
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
