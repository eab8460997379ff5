package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Run kinds.
const (
	KindCorrect  = "correct"
	KindGenerate = "generate"
)

// Run statuses.
const (
	StatusRunning = "running"
	StatusValid   = "valid"   // input was already valid, or a correction validated
	StatusInvalid = "invalid" // attempts exhausted without a valid document
	StatusFailed  = "failed"  // the run stopped on an error
)

// Run is one correction or generation run.
type Run struct {
	ID         string          `json:"id"`
	SpecID     string          `json:"spec_id,omitempty"`
	Kind       string          `json:"kind"`
	Provider   string          `json:"provider,omitempty"`
	Model      string          `json:"model,omitempty"`
	Status     string          `json:"status"`
	Attempts   int             `json:"attempts"`
	InputValid bool            `json:"input_valid"`
	Valid      bool            `json:"valid"`
	Errors     []string        `json:"errors"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// RunOutcome is the final state written by FinishRun.
type RunOutcome struct {
	Status     string
	Attempts   int
	InputValid bool
	Valid      bool
	Errors     []string
	Result     json.RawMessage
	Error      string
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	SpecID string
	Kind   string
	Status string
	ListOptions
}

// CreateRun inserts run in the running state.
func (s *Store) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}
	errs, err := encodeErrors(run.Errors)
	if err != nil {
		return err
	}
	return s.Insert(ctx, TableRuns, map[string]any{
		"id":          run.ID,
		"spec_id":     run.SpecID,
		"kind":        run.Kind,
		"provider":    run.Provider,
		"model":       run.Model,
		"status":      run.Status,
		"input_valid": run.InputValid,
		"errors":      errs,
		"created_at":  run.CreatedAt,
	})
}

// FinishRun records the outcome of run id.
func (s *Store) FinishRun(ctx context.Context, id string, out RunOutcome) error {
	errs, err := encodeErrors(out.Errors)
	if err != nil {
		return err
	}
	return s.Update(ctx, TableRuns, id, map[string]any{
		"status":      out.Status,
		"attempts":    out.Attempts,
		"input_valid": out.InputValid,
		"valid":       out.Valid,
		"errors":      errs,
		"result":      string(out.Result),
		"error":       out.Error,
		"finished_at": time.Now().UTC(),
	})
}

const runColumns = `id, spec_id, kind, provider, model, status, attempts, input_valid, valid, errors, result, error, created_at, finished_at`

// GetRun returns the run with id.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNotFound
	}
	return &runs[0], nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.SpecID != "" {
		conditions = append(conditions, "spec_id = ?")
		args = append(args, filter.SpecID)
	}
	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	page, pageArgs := filter.clause()
	query += " ORDER BY created_at DESC, id" + page
	args = append(args, pageArgs...)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return scanRuns(rows)
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	defer rows.Close()
	runs := []Run{}
	for rows.Next() {
		var (
			run      Run
			errs     string
			result   string
			finished sql.NullTime
		)
		if err := rows.Scan(
			&run.ID, &run.SpecID, &run.Kind, &run.Provider, &run.Model, &run.Status,
			&run.Attempts, &run.InputValid, &run.Valid, &errs, &result, &run.Error,
			&run.CreatedAt, &finished,
		); err != nil {
			return nil, err
		}
		run.Errors = []string{}
		if errs != "" {
			if err := json.Unmarshal([]byte(errs), &run.Errors); err != nil {
				return nil, fmt.Errorf("decode run errors: %w", err)
			}
		}
		if result != "" {
			run.Result = json.RawMessage(result)
		}
		if finished.Valid {
			t := finished.Time
			run.FinishedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func encodeErrors(errs []string) (string, error) {
	if errs == nil {
		errs = []string{}
	}
	b, err := json.Marshal(errs)
	if err != nil {
		return "", fmt.Errorf("encode errors: %w", err)
	}
	return string(b), nil
}

// PurgeResult reports what PurgeBefore removed.
type PurgeResult struct {
	Specs    []Spec `json:"-"`
	SpecRows int64  `json:"specs"`
	RunRows  int64  `json:"runs"`
	CallRows int64  `json:"llm_calls"`
}

// PurgeBefore deletes specs, runs and LLM calls older than cutoff. The
// removed specs are returned so callers can delete their files.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (*PurgeResult, error) {
	cutoff = cutoff.UTC()
	specs, err := s.SpecsBefore(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	result := &PurgeResult{Specs: specs}
	for _, q := range []struct {
		query string
		n     *int64
	}{
		{`DELETE FROM specs WHERE created_at < ?`, &result.SpecRows},
		{`DELETE FROM runs WHERE created_at < ?`, &result.RunRows},
		{`DELETE FROM llm_calls WHERE timestamp < ?`, &result.CallRows},
	} {
		res, err := tx.ExecContext(ctx, q.query, cutoff)
		if err != nil {
			return nil, fmt.Errorf("purge: %w", err)
		}
		if *q.n, err = res.RowsAffected(); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}
