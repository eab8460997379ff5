// Package janitor periodically purges old uploads and run history.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jackzampolin/swaggerfix/internal/store"
)

// Config configures a Janitor.
type Config struct {
	Store     *store.Store
	Schedule  string        // Cron expression or descriptor, e.g. "@hourly"
	Retention time.Duration // Zero disables purging
	Logger    *slog.Logger
}

// Janitor runs Purge on a cron schedule.
type Janitor struct {
	store     *store.Store
	schedule  string
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// New creates a Janitor. The schedule is parsed eagerly so bad config fails
// at startup.
func New(cfg Config) (*Janitor, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("janitor: store is required")
	}
	schedule := strings.TrimSpace(cfg.Schedule)
	if schedule != "" {
		if _, err := cron.ParseStandard(schedule); err != nil {
			return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		store:     cfg.Store,
		schedule:  schedule,
		retention: cfg.Retention,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Enabled reports whether Start schedules anything.
func (j *Janitor) Enabled() bool {
	return j.schedule != "" && j.retention > 0
}

// Start schedules Purge. It is a no-op when disabled.
func (j *Janitor) Start(ctx context.Context) error {
	if !j.Enabled() {
		j.logger.Info("cleanup disabled", "schedule", j.schedule, "retention", j.retention)
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(j.schedule, func() {
		if _, err := j.Purge(ctx); err != nil {
			j.logger.Error("cleanup failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule cleanup: %w", err)
	}
	c.Start()
	j.cron = c

	j.logger.Info("cleanup scheduled", "schedule", j.schedule, "retention", j.retention)
	return nil
}

// Stop stops the scheduler and waits for a running purge.
func (j *Janitor) Stop() {
	j.mu.Lock()
	c := j.cron
	j.cron = nil
	j.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

// Purge deletes rows older than the retention window and the files of
// purged uploads.
func (j *Janitor) Purge(ctx context.Context) (*store.PurgeResult, error) {
	if j.retention <= 0 {
		return &store.PurgeResult{}, nil
	}
	cutoff := j.now().Add(-j.retention)

	result, err := j.store.PurgeBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("purge before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	var removed int
	for _, spec := range result.Specs {
		if spec.Path == "" {
			continue
		}
		if err := os.Remove(spec.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			j.logger.Warn("failed to remove upload", "id", spec.ID, "path", spec.Path, "error", err)
			continue
		}
		removed++
	}

	j.logger.Info("cleanup complete",
		"specs", result.SpecRows,
		"runs", result.RunRows,
		"llm_calls", result.CallRows,
		"files", removed,
	)
	return result, nil
}
