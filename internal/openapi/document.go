// Package openapi parses, validates, renders and diffs OpenAPI/Swagger documents.
//
// Documents are held as an order-preserving yaml.Node tree so that a JSON input can be
// rendered back as YAML (and vice versa) without reshuffling keys. A JSON-compatible
// map view of the same tree is kept alongside for schema validation and lint rules.
package openapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is the serialization a document was supplied in.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Version is the OpenAPI family a document declares.
type Version string

const (
	VersionUnknown   Version = ""
	VersionSwagger2  Version = "2.0"
	VersionOpenAPI30 Version = "3.0"
	VersionOpenAPI31 Version = "3.1"
)

// ParseError reports content that could not be decoded into a document.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return "Parsing error: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Document is a parsed OpenAPI/Swagger document.
type Document struct {
	// Raw is the content as supplied.
	Raw    string
	Format Format
	// Version is the detected family; VersionString is the raw declared value.
	Version       Version
	VersionString string

	// Root is the top-level mapping node.
	Root *yaml.Node
	// Tree is the JSON-compatible view of Root.
	Tree map[string]any
	// JSON is the compact, key-ordered JSON encoding of Root.
	JSON []byte
}

// Parse decodes content as JSON when it starts with "{" and as YAML otherwise.
func Parse(content string) (*Document, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, &ParseError{Err: errors.New("document is empty")}
	}

	var (
		root   *yaml.Node
		format Format
	)
	if strings.HasPrefix(trimmed, "{") {
		format = FormatJSON
		n, err := decodeJSON([]byte(trimmed))
		if err != nil {
			return nil, &ParseError{Err: err}
		}
		root = n
	} else {
		format = FormatYAML
		var doc yaml.Node
		if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
			return nil, &ParseError{Err: err}
		}
		if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
			return nil, &ParseError{Err: errors.New("document is empty")}
		}
		root = doc.Content[0]
	}

	root = resolveAlias(root)
	if root.Kind != yaml.MappingNode {
		return nil, &ParseError{Err: fmt.Errorf("document root must be a mapping, got %s", kindName(root.Kind))}
	}

	compact, err := nodeJSON(root, jsonBudget(len(content)))
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	var tree map[string]any
	if err := json.Unmarshal(compact, &tree); err != nil {
		return nil, &ParseError{Err: fmt.Errorf("failed to build document tree: %w", err)}
	}

	doc := &Document{
		Raw:    content,
		Format: format,
		Root:   root,
		Tree:   tree,
		JSON:   compact,
	}
	doc.VersionString, doc.Version = DetectVersion(root)
	return doc, nil
}

// DetectVersion reads the raw swagger/openapi scalar of a root mapping so that
// an unquoted `swagger: 2.0` is still recognized.
func DetectVersion(root *yaml.Node) (string, Version) {
	if v := mappingValue(root, "swagger"); v != nil && v.Kind == yaml.ScalarNode {
		if v.Value == "2.0" {
			return v.Value, VersionSwagger2
		}
		return v.Value, VersionUnknown
	}
	if v := mappingValue(root, "openapi"); v != nil && v.Kind == yaml.ScalarNode {
		switch {
		case v.Value == "3.0" || strings.HasPrefix(v.Value, "3.0."):
			return v.Value, VersionOpenAPI30
		case v.Value == "3.1" || strings.HasPrefix(v.Value, "3.1."):
			return v.Value, VersionOpenAPI31
		}
		return v.Value, VersionUnknown
	}
	return "", VersionUnknown
}

// Render returns the document in the requested format.
func (d *Document) Render(format Format) (string, error) {
	var (
		out []byte
		err error
	)
	switch format {
	case FormatJSON:
		if d.JSON != nil {
			out, err = indentJSON(d.JSON)
		} else {
			out, err = ToJSON(d.Root)
		}
	case FormatYAML:
		out, err = ToYAML(d.Root)
	default:
		return "", fmt.Errorf("unknown format: %s", format)
	}
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Convert parses content and renders it in the requested format.
func Convert(content string, format Format) (string, error) {
	doc, err := Parse(content)
	if err != nil {
		return "", err
	}
	return doc.Render(format)
}

// ToJSON renders a node tree as indented JSON, preserving mapping key order.
func ToJSON(n *yaml.Node) ([]byte, error) {
	compact, err := nodeJSON(n, maxRenderBytes)
	if err != nil {
		return nil, err
	}
	return indentJSON(compact)
}

func indentJSON(compact []byte) ([]byte, error) {
	var out bytes.Buffer
	if err := json.Indent(&out, compact, "", "  "); err != nil {
		return nil, fmt.Errorf("failed to indent JSON: %w", err)
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

// ToYAML renders a node tree as YAML with two-space indentation.
func ToYAML(n *yaml.Node) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(n); err != nil {
		return nil, fmt.Errorf("failed to encode YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode YAML: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeJSON reads a JSON document into a yaml.Node tree, keeping key order.
func decodeJSON(data []byte) (*yaml.Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	n, err := decodeJSONValue(dec)
	if err != nil {
		return nil, describeJSONError(data, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after top-level value at offset %d", dec.InputOffset())
	}
	return n, nil
}

func decodeJSONValue(dec *json.Decoder) (*yaml.Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("expected object key at offset %d", dec.InputOffset())
				}
				val, err := decodeJSONValue(dec)
				if err != nil {
					return nil, err
				}
				n.Content = append(n.Content, strNode(key), val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return n, nil
		case '[':
			n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
			for dec.More() {
				val, err := decodeJSONValue(dec)
				if err != nil {
					return nil, err
				}
				n.Content = append(n.Content, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return n, nil
		default:
			return nil, fmt.Errorf("unexpected delimiter %q at offset %d", v, dec.InputOffset())
		}
	case string:
		return strNode(v), nil
	case json.Number:
		tag := "!!int"
		if strings.ContainsAny(v.String(), ".eE") {
			tag = "!!float"
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: v.String()}, nil
	case bool:
		val := "false"
		if v {
			val = "true"
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: val}, nil
	case nil:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}, nil
	}
	return nil, fmt.Errorf("unexpected token %v", tok)
}

// describeJSONError adds line/column information to syntax errors.
func describeJSONError(data []byte, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := lineCol(data, syntaxErr.Offset)
		return fmt.Errorf("%s (line %d, column %d)", syntaxErr.Error(), line, col)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return errors.New("unexpected end of JSON input")
	}
	return err
}

func lineCol(data []byte, offset int64) (int, int) {
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	line, col := 1, 1
	for _, b := range data[:offset] {
		if b == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}

// nodeJSON encodes a node tree as compact JSON in document order. Output is
// capped at limit bytes so that nested aliases cannot expand without bound.
func nodeJSON(n *yaml.Node, limit int) ([]byte, error) {
	w := &jsonWriter{limit: limit}
	if err := w.write(n, 0); err != nil {
		return nil, err
	}
	return w.buf.Bytes(), nil
}

// maxNodeDepth bounds recursion on alias cycles and pathological nesting.
const maxNodeDepth = 512

const (
	// aliasExpansionRatio is how many times larger than its source a
	// document's JSON may grow through alias expansion.
	aliasExpansionRatio = 16
	// minJSONBudget keeps small documents with legitimate anchors working.
	minJSONBudget = 4 << 20
	// maxRenderBytes caps ToJSON on trees that did not come through Parse.
	maxRenderBytes = 64 << 20
)

// ErrExpansionLimit is returned when alias expansion exceeds the JSON budget.
var ErrExpansionLimit = errors.New("document expands beyond the allowed size (excessive aliasing)")

func jsonBudget(inputLen int) int {
	return max(inputLen*aliasExpansionRatio, minJSONBudget)
}

type jsonWriter struct {
	buf   bytes.Buffer
	limit int
	// merged counts entries produced by merge keys; they cost budget even
	// before they are written.
	merged int
}

func (w *jsonWriter) overBudget() bool {
	return w.limit > 0 && w.buf.Len()+w.merged > w.limit
}

// keyValue is one resolved mapping entry after merge keys are applied.
type keyValue struct {
	key   string
	value *yaml.Node
}

func (w *jsonWriter) write(n *yaml.Node, depth int) error {
	if depth > maxNodeDepth {
		return errors.New("document nesting too deep")
	}
	if w.overBudget() {
		return ErrExpansionLimit
	}
	n = resolveAlias(n)

	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			w.buf.WriteString("null")
			return nil
		}
		return w.write(n.Content[0], depth+1)
	case yaml.MappingNode:
		entries, err := w.mappingEntries(n, depth)
		if err != nil {
			return err
		}
		w.buf.WriteByte('{')
		for i, kv := range entries {
			if i > 0 {
				w.buf.WriteByte(',')
			}
			w.buf.Write(jsonString(kv.key))
			w.buf.WriteByte(':')
			if err := w.write(kv.value, depth+1); err != nil {
				return err
			}
		}
		w.buf.WriteByte('}')
		return nil
	case yaml.SequenceNode:
		w.buf.WriteByte('[')
		for i, item := range n.Content {
			if i > 0 {
				w.buf.WriteByte(',')
			}
			if err := w.write(item, depth+1); err != nil {
				return err
			}
		}
		w.buf.WriteByte(']')
		return nil
	case yaml.ScalarNode:
		w.buf.Write(scalarJSON(n))
		return nil
	}
	return fmt.Errorf("unsupported YAML node kind %s at line %d", kindName(n.Kind), n.Line)
}

// mappingEntries flattens a mapping into its key/value pairs in document
// order. A merge key (<<) contributes the entries of the mapping, or list of
// mappings, it refers to at its own position. Explicit keys always win over
// merged ones, and earlier merge sources win over later ones.
func (w *jsonWriter) mappingEntries(n *yaml.Node, depth int) ([]keyValue, error) {
	if depth > maxNodeDepth {
		return nil, errors.New("document nesting too deep")
	}

	explicit := make(map[string]bool, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		if key := resolveAlias(n.Content[i]); !isMergeKey(key) {
			explicit[key.Value] = true
		}
	}

	seen := make(map[string]bool, len(n.Content)/2)
	entries := make([]keyValue, 0, len(n.Content)/2)
	add := func(kv keyValue, merged bool) {
		if seen[kv.key] || (merged && explicit[kv.key]) {
			return
		}
		seen[kv.key] = true
		entries = append(entries, kv)
	}

	for i := 0; i+1 < len(n.Content); i += 2 {
		key := resolveAlias(n.Content[i])
		if !isMergeKey(key) {
			add(keyValue{key: key.Value, value: n.Content[i+1]}, false)
			continue
		}

		value := resolveAlias(n.Content[i+1])
		var sources []*yaml.Node
		switch value.Kind {
		case yaml.MappingNode:
			sources = []*yaml.Node{value}
		case yaml.SequenceNode:
			sources = value.Content
		default:
			return nil, fmt.Errorf("merge key at line %d must refer to a mapping or a list of mappings", key.Line)
		}
		for _, src := range sources {
			src = resolveAlias(src)
			if src.Kind != yaml.MappingNode {
				return nil, fmt.Errorf("merge key at line %d must refer to a mapping or a list of mappings", key.Line)
			}
			merged, err := w.mappingEntries(src, depth+1)
			if err != nil {
				return nil, err
			}
			w.merged += len(merged) + 1
			if w.overBudget() {
				return nil, ErrExpansionLimit
			}
			for _, kv := range merged {
				add(kv, true)
			}
		}
	}
	return entries, nil
}

func isMergeKey(key *yaml.Node) bool {
	return key.Kind == yaml.ScalarNode && key.ShortTag() == "!!merge"
}

func scalarJSON(n *yaml.Node) []byte {
	switch n.ShortTag() {
	case "!!null":
		return []byte("null")
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err == nil {
			if b {
				return []byte("true")
			}
			return []byte("false")
		}
	case "!!int":
		var i int64
		if err := n.Decode(&i); err == nil {
			return []byte(fmt.Sprintf("%d", i))
		}
		var f float64
		if err := n.Decode(&f); err == nil {
			return formatFloat(f, n.Value)
		}
	case "!!float":
		var f float64
		if err := n.Decode(&f); err == nil {
			return formatFloat(f, n.Value)
		}
	}
	return jsonString(n.Value)
}

func formatFloat(f float64, raw string) []byte {
	out, err := json.Marshal(f)
	if err != nil {
		// NaN and Inf have no JSON form.
		return jsonString(raw)
	}
	return out
}

func jsonString(s string) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return bytes.TrimRight(buf.Bytes(), "\n")
}

func strNode(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func resolveAlias(n *yaml.Node) *yaml.Node {
	for i := 0; n != nil && n.Kind == yaml.AliasNode && n.Alias != nil && i < maxNodeDepth; i++ {
		n = n.Alias
	}
	return n
}

// mappingValue returns the value node for key in a mapping node.
func mappingValue(n *yaml.Node, key string) *yaml.Node {
	n = resolveAlias(n)
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if resolveAlias(n.Content[i]).Value == key {
			return resolveAlias(n.Content[i+1])
		}
	}
	return nil
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	}
	return "unknown"
}
