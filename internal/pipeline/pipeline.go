package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/thebtf/storyline/internal/clustering"
	"github.com/thebtf/storyline/internal/config"
	"github.com/thebtf/storyline/internal/db/gorm"
	"github.com/thebtf/storyline/internal/maintenance"
	"github.com/thebtf/storyline/internal/privacy"
	"github.com/thebtf/storyline/internal/scoring"
	"github.com/thebtf/storyline/pkg/models"
)

// Collaborators bundles the external capabilities the pipeline consumes.
type Collaborators struct {
	Source     ArticleSource
	Extractor  ContentExtractor
	Classifier Classifier
	Entities   EntityExtractor
}

// RunStats describes one full ingestion cycle.
type RunStats struct {
	StartedAt       time.Time     `json:"started_at"`
	RunID           string        `json:"run_id"`
	Error           string        `json:"error,omitempty"`
	ClusterIDs      []int64       `json:"cluster_ids"`
	Duration        time.Duration `json:"duration_ns"`
	Fetched         int           `json:"fetched"`
	SourceErrors    int           `json:"source_errors"`
	Enriched        int           `json:"enriched"`
	ClustersCreated int           `json:"clusters_created"`
	Attached        int           `json:"attached"`
	Unclustered     int           `json:"unclustered"`
	Pruned          int64         `json:"pruned"`
}

// Pipeline wires processing, clustering and maintenance over one store.
type Pipeline struct {
	log          zerolog.Logger
	source       ArticleSource
	scheduler    *Scheduler
	clusters     *gorm.ClusterStore
	engine       *clustering.Engine
	recalculator *scoring.Recalculator
	maintenance  *maintenance.Service
	metrics      *metrics
	now          func() time.Time
	recentWindow time.Duration
	fetchWindow  time.Duration
	mu           sync.Mutex
}

// New builds a pipeline from configuration, a store and the collaborators.
func New(cfg *config.Config, store *gorm.Store, c Collaborators, log zerolog.Logger) *Pipeline {
	articles := gorm.NewArticleStore(store)
	entities := gorm.NewEntityStore(store)
	clusters := gorm.NewClusterStore(store)

	processor := NewProcessor(articles, entities, c.Extractor, c.Classifier, c.Entities, ProcessorConfig{
		MinTokens:      cfg.Pipeline.MinTokens,
		ArticleTimeout: cfg.Pipeline.ArticleTimeout,
		Retry: RetryPolicy{
			MaxAttempts: cfg.Entities.MaxAttempts,
			BaseDelay:   cfg.Entities.RetryBaseDelay,
			MaxDelay:    cfg.Entities.RetryMaxDelay,
		},
	}, log)

	scheduler := NewScheduler(processor, SchedulerConfig{
		BatchSize:    cfg.Pipeline.BatchSize,
		Workers:      cfg.Pipeline.Workers,
		ProgressStep: cfg.Pipeline.ProgressStep,
	}, log)

	engine := clustering.NewEngine(clusters, clustering.Config{
		Threshold:       cfg.Clustering.SimilarityThreshold,
		ExcludedSources: cfg.ExcludedSourceSet(),
		TiebreakRange:   cfg.Clustering.TiebreakRange,
	}, log)

	return &Pipeline{
		source:       c.Source,
		scheduler:    scheduler,
		clusters:     clusters,
		engine:       engine,
		recalculator: scoring.NewRecalculator(clusters, scoring.NewCalculator(), cfg.Clustering.RecentWindow, cfg.Worker.RecalcInterval, log),
		maintenance:  maintenance.NewService(entities, cfg.Entities.RetentionDays, log),
		metrics:      newMetrics(),
		now:          time.Now,
		recentWindow: cfg.Clustering.RecentWindow,
		fetchWindow:  cfg.Pipeline.FetchWindow,
		log:          log.With().Str("component", "pipeline").Logger(),
	}
}

// Recalculator returns the cluster score recalculator so callers can run it on its own schedule.
func (p *Pipeline) Recalculator() *scoring.Recalculator {
	return p.recalculator
}

// Maintenance returns the entity occurrence maintenance service.
func (p *Pipeline) Maintenance() *maintenance.Service {
	return p.maintenance
}

// RunBatch processes raw articles and returns the enriched results in submission order.
func (p *Pipeline) RunBatch(ctx context.Context, raw []models.RawArticle) ([]*models.EnrichedArticle, error) {
	return p.scheduler.Run(ctx, raw)
}

// RunClusteringPass loads the recent-cluster cache and assigns the enriched results.
// It returns the ids of clusters created or extended.
func (p *Pipeline) RunClusteringPass(ctx context.Context, enriched []*models.EnrichedArticle) ([]int64, error) {
	out, err := p.clusteringPass(ctx, enriched)
	if err != nil {
		return nil, err
	}
	return out.ClusterIDs, nil
}

func (p *Pipeline) clusteringPass(ctx context.Context, enriched []*models.EnrichedArticle) (*clustering.Assignment, error) {
	if len(enriched) == 0 {
		return &clustering.Assignment{}, nil
	}
	cache, err := clustering.LoadCache(ctx, p.clusters, p.now().Add(-p.recentWindow))
	if err != nil {
		return nil, err
	}
	out, err := p.engine.Assign(ctx, enriched, cache)
	if err != nil {
		return nil, fmt.Errorf("clustering pass: %w", err)
	}
	p.metrics.add(ctx, p.metrics.clustersCreated, int64(out.Created))
	p.metrics.add(ctx, p.metrics.clustered, int64(out.Attached))
	return out, nil
}

// RunMaintenance recalculates cluster scores, then prunes expired entity occurrences.
func (p *Pipeline) RunMaintenance(ctx context.Context) error {
	_, err := p.runMaintenance(ctx)
	return err
}

func (p *Pipeline) runMaintenance(ctx context.Context) (int64, error) {
	recalcErr := p.recalculator.RecalculateNow(ctx)
	if recalcErr != nil {
		p.log.Error().Err(recalcErr).Msg("cluster recalculation failed")
	}
	pruned, pruneErr := p.maintenance.RunNow(ctx)
	return pruned, errors.Join(recalcErr, pruneErr)
}

// Run executes one full cycle: fetch, process, cluster, maintain.
// Concurrent calls are serialized so two runs never share a cluster cache.
func (p *Pipeline) Run(ctx context.Context) (*RunStats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := &RunStats{RunID: uuid.NewString(), StartedAt: p.now()}
	log := p.log.With().Str("run_id", stats.RunID).Logger()

	err := p.run(ctx, log, stats)
	stats.Duration = time.Since(stats.StartedAt)
	if err != nil {
		// Driver errors can echo the DSN; the error is served over the control API.
		stats.Error = privacy.RedactSecrets(err.Error())
		log.Error().Str("error", stats.Error).Dur("duration", stats.Duration).Msg("run failed")
		return stats, err
	}

	log.Info().
		Int("fetched", stats.Fetched).
		Int("enriched", stats.Enriched).
		Int("clusters_created", stats.ClustersCreated).
		Int("attached", stats.Attached).
		Int64("pruned", stats.Pruned).
		Dur("duration", stats.Duration).
		Msg("run complete")
	return stats, nil
}

func (p *Pipeline) run(ctx context.Context, log zerolog.Logger, stats *RunStats) error {
	since := stats.StartedAt.Add(-p.fetchWindow)
	log.Info().Time("since", since).Msg("fetching articles")

	var raw []models.RawArticle
	for article, err := range p.source.Articles(ctx, since) {
		if err != nil {
			stats.SourceErrors++
			log.Warn().Err(err).Msg("article source error")
			continue
		}
		raw = append(raw, article)
	}
	stats.Fetched = len(raw)
	if err := ctx.Err(); err != nil {
		return err
	}

	enriched, err := p.RunBatch(ctx, raw)
	if err != nil {
		return fmt.Errorf("process articles: %w", err)
	}
	stats.Enriched = len(enriched)

	out, err := p.clusteringPass(ctx, enriched)
	if err != nil {
		return err
	}
	stats.ClusterIDs = out.ClusterIDs
	stats.ClustersCreated = out.Created
	stats.Attached = out.Attached
	stats.Unclustered = out.Unclustered

	pruned, err := p.runMaintenance(ctx)
	stats.Pruned = pruned
	if err != nil {
		return fmt.Errorf("maintenance: %w", err)
	}
	return nil
}
