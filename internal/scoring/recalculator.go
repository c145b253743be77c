package scoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/thebtf/storyline/internal/db/gorm"
	"github.com/thebtf/storyline/pkg/models"
)

// ClusterStore defines the storage operations needed by the recalculator.
type ClusterStore interface {
	RecentClusters(ctx context.Context, since time.Time) ([]*models.Cluster, error)
	RecentClusterMembers(ctx context.Context, since time.Time) ([]models.ClusterMember, error)
	UpdateClusterScores(ctx context.Context, scores map[int64]models.ClusterScore) error
}

// Recalculator recomputes rank and category of recently updated clusters, on demand and
// optionally on a ticker.
type Recalculator struct {
	lastRun    time.Time
	log        zerolog.Logger
	store      ClusterStore
	calculator *Calculator
	now        func() time.Time
	stopCh     chan struct{}
	doneCh     chan struct{}
	window     time.Duration
	interval   time.Duration
	lastCount  int
	totalRuns  int64
	mu         sync.Mutex
	running    bool
}

// NewRecalculator creates a recalculator over clusters updated within window.
func NewRecalculator(store ClusterStore, calc *Calculator, window, interval time.Duration, log zerolog.Logger) *Recalculator {
	if calc == nil {
		calc = NewCalculator()
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Recalculator{
		store:      store,
		calculator: calc,
		log:        log.With().Str("component", "recalculator").Logger(),
		now:        time.Now,
		window:     window,
		interval:   interval,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start begins the background recalculation loop.
// This should be called in a goroutine.
func (r *Recalculator) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	interval := r.interval
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		close(r.doneCh)
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("recalculator shutting down due to context cancellation")
			return
		case <-r.stopCh:
			r.log.Info().Msg("recalculator stopping")
			return
		case <-ticker.C:
			if err := r.RecalculateNow(ctx); err != nil {
				r.log.Error().Err(err).Msg("scheduled recalculation failed")
			}
		}
	}
}

// Stop stops the background recalculation loop.
func (r *Recalculator) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh
}

// RecalculateNow recomputes and persists the scores of every cluster updated within the window.
func (r *Recalculator) RecalculateNow(ctx context.Context) error {
	now := r.now()
	since := now.Add(-r.window)

	clusters, err := r.store.RecentClusters(ctx, since)
	if err != nil {
		return fmt.Errorf("load recent clusters: %w", err)
	}
	if len(clusters) == 0 {
		r.record(now, 0)
		return nil
	}

	members, err := r.store.RecentClusterMembers(ctx, since)
	if err != nil {
		return fmt.Errorf("load cluster members: %w", err)
	}

	ids := make([]int64, len(clusters))
	for i, c := range clusters {
		ids[i] = c.ID
	}
	scores := r.calculator.BatchCalculate(ids, members, now)

	if err := r.store.UpdateClusterScores(ctx, scores); err != nil {
		return fmt.Errorf("update cluster scores: %w", err)
	}
	r.record(now, len(scores))

	r.log.Info().
		Int("clusters", len(scores)).
		Dur("elapsed", time.Since(now)).
		Msg("recalculated cluster scores")
	return nil
}

func (r *Recalculator) record(at time.Time, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastRun = at
	r.lastCount = count
	r.totalRuns++
}

// Stats returns statistics about the recalculator.
type Stats struct {
	LastRun   time.Time     `json:"last_run"`
	Running   bool          `json:"running"`
	Window    time.Duration `json:"window"`
	Interval  time.Duration `json:"interval"`
	LastCount int           `json:"last_count"`
	TotalRuns int64         `json:"total_runs"`
}

// GetStats returns current recalculator statistics.
func (r *Recalculator) GetStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Stats{
		Running:   r.running,
		Window:    r.window,
		Interval:  r.interval,
		LastRun:   r.lastRun,
		LastCount: r.lastCount,
		TotalRuns: r.totalRuns,
	}
}

// Ensure ClusterStore satisfies the interface
var _ ClusterStore = (*gorm.ClusterStore)(nil)
