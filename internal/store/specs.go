package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Spec sources.
const (
	SourceFile   = "file"
	SourceURL    = "url"
	SourceInline = "inline"
)

// Spec is an uploaded OpenAPI document.
type Spec struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Filename  string    `json:"filename,omitempty"`
	URL       string    `json:"url,omitempty"`
	Path      string    `json:"path,omitempty"`
	Format    string    `json:"format,omitempty"`
	Version   string    `json:"version,omitempty"`
	Size      int64     `json:"size"`
	SHA256    string    `json:"sha256,omitempty"`
	Content   string    `json:"content,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateSpec inserts spec, assigning an ID and timestamp when unset.
func (s *Store) CreateSpec(ctx context.Context, spec *Spec) error {
	if spec.ID == "" {
		spec.ID = uuid.New().String()
	}
	if spec.CreatedAt.IsZero() {
		spec.CreatedAt = time.Now().UTC()
	}
	if spec.Size == 0 {
		spec.Size = int64(len(spec.Content))
	}
	return s.Insert(ctx, TableSpecs, map[string]any{
		"id":         spec.ID,
		"source":     spec.Source,
		"filename":   spec.Filename,
		"url":        spec.URL,
		"path":       spec.Path,
		"format":     spec.Format,
		"version":    spec.Version,
		"size":       spec.Size,
		"sha256":     spec.SHA256,
		"content":    spec.Content,
		"created_at": spec.CreatedAt,
	})
}

const specColumns = `id, source, filename, url, path, format, version, size, sha256, created_at`

// GetSpec returns the spec with id, including its content.
func (s *Store) GetSpec(ctx context.Context, id string) (*Spec, error) {
	var spec Spec
	err := s.db.QueryRowContext(ctx,
		`SELECT `+specColumns+`, content FROM specs WHERE id = ?`, id,
	).Scan(
		&spec.ID, &spec.Source, &spec.Filename, &spec.URL, &spec.Path, &spec.Format,
		&spec.Version, &spec.Size, &spec.SHA256, &spec.CreatedAt, &spec.Content,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get spec: %w", err)
	}
	return &spec, nil
}

// ListSpecs returns specs newest first, without content.
func (s *Store) ListSpecs(ctx context.Context, opts ListOptions) ([]Spec, error) {
	page, args := opts.clause()
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+specColumns+` FROM specs ORDER BY created_at DESC, id`+page, args...)
	if err != nil {
		return nil, fmt.Errorf("list specs: %w", err)
	}
	return scanSpecs(rows)
}

// SpecsBefore returns specs created before cutoff, without content.
func (s *Store) SpecsBefore(ctx context.Context, cutoff time.Time) ([]Spec, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+specColumns+` FROM specs WHERE created_at < ? ORDER BY created_at`, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("list specs before: %w", err)
	}
	return scanSpecs(rows)
}

// DeleteSpec removes the spec with id.
func (s *Store) DeleteSpec(ctx context.Context, id string) error {
	return s.Delete(ctx, TableSpecs, id)
}

func scanSpecs(rows *sql.Rows) ([]Spec, error) {
	defer rows.Close()
	specs := []Spec{}
	for rows.Next() {
		var spec Spec
		if err := rows.Scan(
			&spec.ID, &spec.Source, &spec.Filename, &spec.URL, &spec.Path, &spec.Format,
			&spec.Version, &spec.Size, &spec.SHA256, &spec.CreatedAt,
		); err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, rows.Err()
}
