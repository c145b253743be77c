// Package maintenance provides entity-frequency housekeeping for storyline.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/thebtf/storyline/internal/db/gorm"
)

// DefaultRetentionDays is how long entity occurrence records are kept.
const DefaultRetentionDays = 30

// OccurrencePruner deletes entity occurrence records created before a cutoff.
type OccurrencePruner interface {
	PruneOccurrences(ctx context.Context, cutoff time.Time) (int64, error)
}

var _ OccurrencePruner = (*gorm.EntityStore)(nil)

// Service prunes entity occurrence records past the retention window.
// Runs are idempotent; running zero, one or many times per cycle is safe.
type Service struct {
	log             zerolog.Logger
	lastRunTime     time.Time
	pruner          OccurrencePruner
	now             func() time.Time
	lastRunDuration time.Duration
	retentionDays   int
	totalPruned     int64
	totalRuns       int64
	lastErr         string
	mu              sync.Mutex
}

// NewService creates a new maintenance service.
func NewService(pruner OccurrencePruner, retentionDays int, log zerolog.Logger) *Service {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Service{
		pruner:        pruner,
		retentionDays: retentionDays,
		now:           time.Now,
		log:           log.With().Str("component", "maintenance").Logger(),
	}
}

// RunNow deletes every occurrence record older than the retention window and returns the count.
func (s *Service) RunNow(ctx context.Context) (int64, error) {
	start := s.now()
	cutoff := start.AddDate(0, 0, -s.retentionDays)

	pruned, err := s.pruner.PruneOccurrences(ctx, cutoff)

	s.mu.Lock()
	s.lastRunTime = start
	s.lastRunDuration = time.Since(start)
	s.totalRuns++
	if err != nil {
		s.lastErr = err.Error()
	} else {
		s.lastErr = ""
		s.totalPruned += pruned
	}
	s.mu.Unlock()

	if err != nil {
		return 0, fmt.Errorf("prune entity occurrences: %w", err)
	}

	s.log.Info().
		Int64("pruned", pruned).
		Time("cutoff", cutoff).
		Msg("Entity occurrence maintenance completed")
	return pruned, nil
}

// Stats returns maintenance statistics.
func (s *Service) Stats() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	return map[string]any{
		"retention_days":   s.retentionDays,
		"last_run":         s.lastRunTime,
		"last_duration_ms": s.lastRunDuration.Milliseconds(),
		"last_error":       s.lastErr,
		"total_pruned":     s.totalPruned,
		"total_runs":       s.totalRuns,
	}
}
