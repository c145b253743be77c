package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/storyline/internal/db/gorm"
	"github.com/thebtf/storyline/pkg/models"
)

// ArticleProcessor processes one raw article. A nil result means the article was rejected.
type ArticleProcessor interface {
	Process(ctx context.Context, raw models.RawArticle) (*models.EnrichedArticle, error)
}

var _ ArticleProcessor = (*Processor)(nil)

// ProgressFunc receives the processed and total article counts after every window.
type ProgressFunc func(processed, total int)

// SchedulerConfig configures batch windows and the worker pool.
type SchedulerConfig struct {
	Progress     ProgressFunc
	BatchSize    int
	Workers      int
	ProgressStep float64 // percent between progress log lines
}

// Scheduler processes articles in fixed-size windows on a bounded worker pool.
type Scheduler struct {
	log       zerolog.Logger
	processor ArticleProcessor
	metrics   *metrics
	cfg       SchedulerConfig
}

// NewScheduler creates a batch scheduler.
func NewScheduler(processor ArticleProcessor, cfg SchedulerConfig, log zerolog.Logger) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Scheduler{
		processor: processor,
		cfg:       cfg,
		metrics:   newMetrics(),
		log:       log.With().Str("component", "scheduler").Logger(),
	}
}

type indexedResult struct {
	article *models.EnrichedArticle
	index   int
}

// Run processes articles window by window and returns the enriched results in submission order.
// Rejected and failed articles are left out. A store outage aborts the run; any other per-article
// error is logged and the article is skipped.
func (s *Scheduler) Run(ctx context.Context, articles []models.RawArticle) ([]*models.EnrichedArticle, error) {
	total := len(articles)
	out := make([]*models.EnrichedArticle, 0, total)
	lastLogged := 0.0

	for start := 0; start < total; start += s.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		end := min(start+s.cfg.BatchSize, total)
		window, err := s.runWindow(ctx, articles[start:end])
		if err != nil {
			return out, fmt.Errorf("window %d-%d: %w", start, end, err)
		}
		out = append(out, window...)

		if s.cfg.Progress != nil {
			s.cfg.Progress(end, total)
		}
		percent := float64(end) / float64(total) * 100
		if s.cfg.ProgressStep <= 0 || percent-lastLogged >= s.cfg.ProgressStep || end == total {
			lastLogged = math.Floor(percent)
			s.log.Info().
				Int("processed", end).
				Int("total", total).
				Str("percent", fmt.Sprintf("%.1f", percent)).
				Msg("batch progress")
		}
	}
	return out, nil
}

// runWindow fans the window out to the pool and reassembles results by index once every worker
// has returned.
func (s *Scheduler) runWindow(ctx context.Context, window []models.RawArticle) ([]*models.EnrichedArticle, error) {
	results := make(chan indexedResult, len(window))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, raw := range window {
		g.Go(func() error {
			article, err := s.process(gctx, raw)
			if err != nil {
				if errors.Is(err, gorm.ErrStoreUnavailable) {
					return err
				}
				s.logFailure(raw, err)
				s.metrics.add(gctx, s.metrics.failed, 1)
				article = nil
			}
			results <- indexedResult{index: i, article: article}
			return nil
		})
	}
	err := g.Wait()
	close(results)
	if err != nil {
		return nil, err
	}

	ordered := make([]*models.EnrichedArticle, len(window))
	for r := range results {
		ordered[r.index] = r.article
	}

	kept := ordered[:0]
	for _, a := range ordered {
		if a != nil {
			kept = append(kept, a)
		}
	}
	return kept, nil
}

// process calls the processor and converts a panic into an error for that article.
func (s *Scheduler) process(ctx context.Context, raw models.RawArticle) (article *models.EnrichedArticle, err error) {
	defer func() {
		if r := recover(); r != nil {
			article, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return s.processor.Process(ctx, raw)
}

func (s *Scheduler) logFailure(raw models.RawArticle, err error) {
	stage := "process"
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		stage = stageErr.Stage
	}
	s.log.Error().
		Err(err).
		Str("title", raw.Title).
		Str("url", raw.URL).
		Str("stage", stage).
		Msg("article processing failed")
}
