package providers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseStructuredJSON_StripsCodeFence(t *testing.T) {
	content := "```json\n{\"ok\":true}\n```"
	got, err := parseStructuredJSON(content)
	if err != nil {
		t.Fatalf("parseStructuredJSON() error = %v", err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(got, &parsed); err != nil {
		t.Fatalf("failed to unmarshal parsed JSON: %v", err)
	}
	if ok, _ := parsed["ok"].(bool); !ok {
		t.Fatalf("expected ok=true, got %#v", parsed)
	}
}

func TestParseStructuredJSON_ExtractsFromProse(t *testing.T) {
	got, err := parseStructuredJSON("Sure, here it is: {\"a\":1} hope that helps")
	if err != nil {
		t.Fatalf("parseStructuredJSON() error = %v", err)
	}
	if string(got) != `{"a":1}` {
		t.Errorf("got %s, want {\"a\":1}", got)
	}

	if _, err := parseStructuredJSON("no json here"); err == nil {
		t.Error("expected error for content without JSON")
	}
}

func TestValidateStructuredJSON_EnforcesCanonicalBounds(t *testing.T) {
	schema := json.RawMessage(`{
		"name":"correction",
		"strict":true,
		"schema":{
			"type":"object",
			"properties":{
				"level":{"type":"integer","minimum":1,"maximum":3}
			},
			"required":["level"],
			"additionalProperties":false
		}
	}`)

	valid := json.RawMessage(`{"level":2}`)
	if err := validateStructuredJSON(schema, valid); err != nil {
		t.Fatalf("validateStructuredJSON(valid) error = %v", err)
	}

	invalid := json.RawMessage(`{"level":5}`)
	if err := validateStructuredJSON(schema, invalid); err == nil {
		t.Fatal("validateStructuredJSON(invalid) expected error, got nil")
	}
}

func scriptedCall(outputs ...string) (chatFunc, *[]*ChatRequest) {
	var seen []*ChatRequest
	call := func(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
		seen = append(seen, req)
		idx := len(seen) - 1
		if idx >= len(outputs) {
			idx = len(outputs) - 1
		}
		return &ChatResult{
			Content:      outputs[idx],
			Success:      true,
			Attempts:     1,
			PromptTokens: 10,
			TotalTokens:  10,
		}, nil
	}
	return call, &seen
}

func TestCompleteStructured(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","required":["yaml"],"properties":{"yaml":{"type":"string"}}}`)
	req := &ChatRequest{
		Messages:       []Message{{Role: RoleUser, Content: "fix it"}},
		ResponseFormat: &ResponseFormat{Type: ResponseFormatJSONSchema, JSONSchema: schema},
	}

	t.Run("passes through without response format", func(t *testing.T) {
		call, seen := scriptedCall("plain text")
		result, err := completeStructured(context.Background(), &ChatRequest{}, call)
		if err != nil {
			t.Fatalf("completeStructured() error = %v", err)
		}
		if result.ParsedJSON != nil || len(*seen) != 1 {
			t.Error("expected a single unparsed call")
		}
	})

	t.Run("valid on first try", func(t *testing.T) {
		call, seen := scriptedCall(`{"yaml":"a: 1"}`)
		result, err := completeStructured(context.Background(), req, call)
		if err != nil {
			t.Fatalf("completeStructured() error = %v", err)
		}
		if len(*seen) != 1 || result.Attempts != 1 {
			t.Errorf("calls = %d, attempts = %d, want 1/1", len(*seen), result.Attempts)
		}
		if string(result.ParsedJSON) != `{"yaml":"a: 1"}` {
			t.Errorf("ParsedJSON = %s", result.ParsedJSON)
		}
	})

	t.Run("repairs invalid output", func(t *testing.T) {
		call, seen := scriptedCall(`{"json":"{}"}`, `{"yaml":"a: 1"}`)
		result, err := completeStructured(context.Background(), req, call)
		if err != nil {
			t.Fatalf("completeStructured() error = %v", err)
		}
		if result.Attempts != 2 {
			t.Errorf("Attempts = %d, want 2", result.Attempts)
		}
		if result.PromptTokens != 20 {
			t.Errorf("PromptTokens = %d, want accumulated 20", result.PromptTokens)
		}
		repair := (*seen)[1]
		if len(repair.Messages) != 3 {
			t.Fatalf("repair request has %d messages, want 3", len(repair.Messages))
		}
		if repair.Messages[1].Role != RoleAssistant {
			t.Errorf("expected previous output echoed as assistant, got %s", repair.Messages[1].Role)
		}
		if !strings.Contains(repair.Messages[2].Content, "Validation issue") {
			t.Error("repair prompt should carry the validation issue")
		}
		if len(req.Messages) != 1 {
			t.Error("original request must not be modified")
		}
	})

	t.Run("gives up after repeated failures", func(t *testing.T) {
		call, seen := scriptedCall("not json")
		result, err := completeStructured(context.Background(), req, call)
		if err == nil {
			t.Fatal("expected error")
		}
		if len(*seen) != maxStructuredRepairAttempts+1 {
			t.Errorf("calls = %d, want %d", len(*seen), maxStructuredRepairAttempts+1)
		}
		if result.ErrorType != "structured_output" {
			t.Errorf("ErrorType = %s, want structured_output", result.ErrorType)
		}
	})

	t.Run("propagates call errors", func(t *testing.T) {
		boom := errors.New("boom")
		call := func(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
			return &ChatResult{}, boom
		}
		if _, err := completeStructured(context.Background(), req, call); !errors.Is(err, boom) {
			t.Errorf("expected boom, got %v", err)
		}
	})
}
