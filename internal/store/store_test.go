package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "swaggerfix-test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	for _, table := range []string{TableSpecs, TableRuns, TableLLMCalls} {
		n, err := s.Count(ctx, table)
		if err != nil {
			t.Fatalf("Count(%s) failed: %v", table, err)
		}
		if n != 0 {
			t.Errorf("expected empty %s, got %d rows", table, n)
		}
	}

	// Re-opening applies the schema idempotently.
	again, err := Open(s.Path())
	if err != nil {
		t.Fatalf("re-Open failed: %v", err)
	}
	again.Close()
}

func TestOpenMemory(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	defer s.Close()

	if err := s.CreateSpec(context.Background(), &Spec{Source: SourceInline, Content: "openapi: 3.0.0"}); err != nil {
		t.Fatalf("CreateSpec failed: %v", err)
	}
}

func TestSpecCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	spec := &Spec{
		Source:   SourceFile,
		Filename: "petstore.yaml",
		Format:   "yaml",
		Version:  "3.0",
		Content:  "openapi: 3.0.0\n",
		SHA256:   "abc",
	}
	if err := s.CreateSpec(ctx, spec); err != nil {
		t.Fatalf("CreateSpec failed: %v", err)
	}
	if spec.ID == "" {
		t.Fatal("expected ID to be assigned")
	}
	if spec.Size != int64(len(spec.Content)) {
		t.Errorf("expected size %d, got %d", len(spec.Content), spec.Size)
	}

	got, err := s.GetSpec(ctx, spec.ID)
	if err != nil {
		t.Fatalf("GetSpec failed: %v", err)
	}
	if got.Content != spec.Content || got.Filename != "petstore.yaml" || got.Version != "3.0" {
		t.Errorf("unexpected spec: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to round-trip")
	}

	second := &Spec{Source: SourceURL, URL: "https://example.com/api.json", Content: "{}"}
	if err := s.CreateSpec(ctx, second); err != nil {
		t.Fatalf("CreateSpec failed: %v", err)
	}

	list, err := s.ListSpecs(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("ListSpecs failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 specs, got %d", len(list))
	}
	if list[0].ID != second.ID {
		t.Errorf("expected newest first, got %s", list[0].ID)
	}
	if list[0].Content != "" {
		t.Error("list should omit content")
	}

	limited, err := s.ListSpecs(ctx, ListOptions{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("ListSpecs failed: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != spec.ID {
		t.Errorf("unexpected page: %+v", limited)
	}

	if err := s.DeleteSpec(ctx, spec.ID); err != nil {
		t.Fatalf("DeleteSpec failed: %v", err)
	}
	if _, err := s.GetSpec(ctx, spec.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteSpec(ctx, spec.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := &Run{
		SpecID:   "spec-1",
		Kind:     KindCorrect,
		Provider: "groq",
		Model:    "llama-3.1-8b-instant",
		Errors:   []string{"/info: missing title"},
	}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != StatusRunning {
		t.Errorf("expected status %s, got %s", StatusRunning, got.Status)
	}
	if got.FinishedAt != nil {
		t.Error("running run should not have FinishedAt")
	}
	if len(got.Errors) != 1 {
		t.Errorf("expected 1 error, got %v", got.Errors)
	}

	result := json.RawMessage(`{"yaml":"openapi: 3.0.0"}`)
	if err := s.FinishRun(ctx, run.ID, RunOutcome{
		Status:   StatusValid,
		Attempts: 2,
		Valid:    true,
		Result:   result,
	}); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	got, err = s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != StatusValid || got.Attempts != 2 || !got.Valid {
		t.Errorf("unexpected finished run: %+v", got)
	}
	if got.FinishedAt == nil {
		t.Error("expected FinishedAt")
	}
	if len(got.Errors) != 0 {
		t.Errorf("expected errors cleared, got %v", got.Errors)
	}
	if string(got.Result) != string(result) {
		t.Errorf("expected result %s, got %s", result, got.Result)
	}

	if err := s.FinishRun(ctx, "missing", RunOutcome{Status: StatusFailed}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListRunsFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, r := range []Run{
		{SpecID: "a", Kind: KindCorrect},
		{SpecID: "a", Kind: KindGenerate},
		{SpecID: "b", Kind: KindCorrect},
	} {
		r := r
		r.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second)
		if err := s.CreateRun(ctx, &r); err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter RunFilter
		want   int
	}{
		{"all", RunFilter{}, 3},
		{"by spec", RunFilter{SpecID: "a"}, 2},
		{"by kind", RunFilter{Kind: KindCorrect}, 2},
		{"by spec and kind", RunFilter{SpecID: "a", Kind: KindGenerate}, 1},
		{"by status", RunFilter{Status: StatusValid}, 0},
		{"limit", RunFilter{ListOptions: ListOptions{Limit: 1}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := s.ListRuns(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListRuns failed: %v", err)
			}
			if len(runs) != tt.want {
				t.Errorf("expected %d runs, got %d", tt.want, len(runs))
			}
		})
	}
}

func TestPurgeBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	oldSpec := &Spec{Source: SourceFile, Content: "x", Path: "/tmp/old.yaml", CreatedAt: old}
	newSpec := &Spec{Source: SourceFile, Content: "y"}
	for _, sp := range []*Spec{oldSpec, newSpec} {
		if err := s.CreateSpec(ctx, sp); err != nil {
			t.Fatalf("CreateSpec failed: %v", err)
		}
	}
	if err := s.CreateRun(ctx, &Run{Kind: KindCorrect, CreatedAt: old}); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if err := s.Insert(ctx, TableLLMCalls, map[string]any{
		"id": "call-1", "timestamp": old, "prompt_key": "correct",
	}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	res, err := s.PurgeBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeBefore failed: %v", err)
	}
	if res.SpecRows != 1 || res.RunRows != 1 || res.CallRows != 1 {
		t.Errorf("unexpected purge counts: %+v", res)
	}
	if len(res.Specs) != 1 || res.Specs[0].Path != "/tmp/old.yaml" {
		t.Errorf("expected purged spec with path, got %+v", res.Specs)
	}
	if _, err := s.GetSpec(ctx, newSpec.ID); err != nil {
		t.Errorf("new spec should survive purge: %v", err)
	}
}

func TestInsertRejectsUnknownTablesAndColumns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Insert(ctx, "users", map[string]any{"id": "1"}); err == nil {
		t.Error("expected error for unknown table")
	}
	if err := s.Insert(ctx, TableSpecs, map[string]any{"id; DROP TABLE specs": "1"}); err == nil {
		t.Error("expected error for invalid column")
	}
}
