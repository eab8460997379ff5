package llmcall

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackzampolin/swaggerfix/internal/store"
)

// Store provides access to LLM call records.
type Store struct {
	db *sql.DB
}

// NewStore creates a new LLM call store.
func NewStore(s *store.Store) *Store {
	return &Store{db: s.DB()}
}

// QueryFilter specifies filters for listing LLM calls.
type QueryFilter struct {
	RunID     string
	SpecID    string
	PromptKey string
	Provider  string
	Model     string
	After     *time.Time
	Before    *time.Time
	Success   *bool
	Limit     int
	Offset    int
}

const callColumns = `id, timestamp, latency_ms, run_id, spec_id, prompt_key, provider, model,
	temperature, input_tokens, output_tokens, attempts, response, success, error`

// Get retrieves a single LLM call by ID.
func (s *Store) Get(ctx context.Context, id string) (*Call, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+callColumns+` FROM llm_calls WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	calls, err := scanCalls(rows)
	if err != nil {
		return nil, err
	}
	if len(calls) == 0 {
		return nil, store.ErrNotFound
	}
	return &calls[0], nil
}

// List retrieves LLM calls matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter QueryFilter) ([]Call, error) {
	where, args := filter.where()

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, max(filter.Offset, 0))

	query := `SELECT ` + callColumns + ` FROM llm_calls` + where + ` ORDER BY timestamp DESC, id LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return scanCalls(rows)
}

// CountByPromptKey returns call counts grouped by prompt key.
func (s *Store) CountByPromptKey(ctx context.Context, filter QueryFilter) (map[string]int, error) {
	where, args := filter.where()
	rows, err := s.db.QueryContext(ctx,
		`SELECT prompt_key, COUNT(*) FROM llm_calls`+where+` GROUP BY prompt_key`, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		counts[key] = n
	}
	return counts, rows.Err()
}

// Totals sums token usage for calls matching the filter.
type Totals struct {
	Calls        int `json:"calls"`
	Failures     int `json:"failures"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Totals aggregates call counts and token usage.
func (s *Store) Totals(ctx context.Context, filter QueryFilter) (Totals, error) {
	where, args := filter.where()
	var t Totals
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN success THEN 0 ELSE 1 END), 0),
		COALESCE(SUM(input_tokens), 0),
		COALESCE(SUM(output_tokens), 0)
		FROM llm_calls`+where, args...).Scan(&t.Calls, &t.Failures, &t.InputTokens, &t.OutputTokens)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Totals{}, fmt.Errorf("query failed: %w", err)
	}
	return t, nil
}

func (f QueryFilter) where() (string, []any) {
	var (
		conditions []string
		args       []any
	)
	add := func(cond string, arg any) {
		conditions = append(conditions, cond)
		args = append(args, arg)
	}

	if f.RunID != "" {
		add("run_id = ?", f.RunID)
	}
	if f.SpecID != "" {
		add("spec_id = ?", f.SpecID)
	}
	if f.PromptKey != "" {
		add("prompt_key = ?", f.PromptKey)
	}
	if f.Provider != "" {
		add("provider = ?", f.Provider)
	}
	if f.Model != "" {
		add("model = ?", f.Model)
	}
	if f.Success != nil {
		add("success = ?", *f.Success)
	}
	if f.After != nil {
		add("timestamp > ?", f.After.UTC())
	}
	if f.Before != nil {
		add("timestamp < ?", f.Before.UTC())
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func scanCalls(rows *sql.Rows) ([]Call, error) {
	defer rows.Close()
	calls := []Call{}
	for rows.Next() {
		var (
			call        Call
			temperature sql.NullFloat64
		)
		if err := rows.Scan(
			&call.ID, &call.Timestamp, &call.LatencyMs, &call.RunID, &call.SpecID,
			&call.PromptKey, &call.Provider, &call.Model, &temperature,
			&call.InputTokens, &call.OutputTokens, &call.Attempts, &call.Response,
			&call.Success, &call.Error,
		); err != nil {
			return nil, err
		}
		if temperature.Valid {
			t := temperature.Float64
			call.Temperature = &t
		}
		calls = append(calls, call)
	}
	return calls, rows.Err()
}
