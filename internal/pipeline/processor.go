package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/thebtf/storyline/internal/db/gorm"
	"github.com/thebtf/storyline/pkg/models"
	"github.com/thebtf/storyline/pkg/similarity"
)

// DefaultMinTokens is the minimum number of normalized tokens an article needs.
const DefaultMinTokens = 40

// Processing stages reported in errors.
const (
	StageDedup         = "dedup"
	StageStoreArticle  = "store_article"
	StageStoreEntities = "store_entities"
)

// StageError records the stage at which processing of one article failed.
type StageError struct {
	Err   error
	Stage string
}

func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }

func (e *StageError) Unwrap() error { return e.Err }

// ProcessorConfig configures the article processor.
type ProcessorConfig struct {
	Retry          RetryPolicy
	MinTokens      int
	ArticleTimeout time.Duration
}

// Processor turns one raw article into a persisted, enriched article.
type Processor struct {
	log        zerolog.Logger
	articles   ArticleStore
	entities   EntityStore
	extractor  ContentExtractor
	classifier Classifier
	annotator  EntityExtractor
	metrics    *metrics
	now        func() time.Time
	cfg        ProcessorConfig
}

// NewProcessor creates an article processor.
func NewProcessor(
	articles ArticleStore,
	entities EntityStore,
	extractor ContentExtractor,
	classifier Classifier,
	annotator EntityExtractor,
	cfg ProcessorConfig,
	log zerolog.Logger,
) *Processor {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	return &Processor{
		articles:   articles,
		entities:   entities,
		extractor:  extractor,
		classifier: classifier,
		annotator:  annotator,
		cfg:        cfg,
		metrics:    newMetrics(),
		now:        time.Now,
		log:        log.With().Str("component", "processor").Logger(),
	}
}

// Process persists one article and its entities.
// It returns nil, nil when the article is rejected: missing title, already stored title or too
// little text. Rejections leave no rows behind.
func (p *Processor) Process(ctx context.Context, raw models.RawArticle) (*models.EnrichedArticle, error) {
	raw = raw.Normalized()
	if raw.Title == "" {
		p.reject(ctx, raw, "missing_title")
		return nil, nil
	}

	exists, err := p.articles.TitleExists(ctx, raw.Title)
	if err != nil {
		return nil, &StageError{Stage: StageDedup, Err: err}
	}
	if exists {
		p.reject(ctx, raw, "duplicate_title")
		return nil, nil
	}

	text, normalized, category, entities := p.collect(ctx, raw)
	if similarity.TokenCount(normalized) < p.cfg.MinTokens {
		p.reject(ctx, raw, "short_text")
		return nil, nil
	}

	article := &models.EnrichedArticle{
		Title:          raw.Title,
		Description:    raw.Description,
		URL:            raw.URL,
		ImageURL:       raw.ImageURL,
		Source:         raw.SourceName(),
		Text:           text,
		NormalizedText: normalized,
		Category:       category,
		Entities:       entities,
		CreatedAt:      p.now(),
	}

	id, err := p.articles.StoreArticle(ctx, article)
	if errors.Is(err, gorm.ErrDuplicateTitle) {
		p.reject(ctx, raw, "duplicate_title")
		return nil, nil
	}
	if err != nil {
		return nil, &StageError{Stage: StageStoreArticle, Err: err}
	}
	article.ID = id

	if err := p.storeEntities(ctx, article); err != nil {
		return nil, &StageError{Stage: StageStoreEntities, Err: err}
	}

	p.metrics.add(ctx, p.metrics.processed, 1)
	p.log.Debug().
		Int64("article_id", id).
		Str("title", article.Title).
		Str("category", category).
		Int("entities", len(entities)).
		Msg("article stored")
	return article, nil
}

// collect runs the external collaborators under the per-article timeout.
func (p *Processor) collect(ctx context.Context, raw models.RawArticle) (text, normalized, category string, entities map[string]float64) {
	if p.cfg.ArticleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.ArticleTimeout)
		defer cancel()
	}

	text = p.extractor.GetText(ctx, raw.URL)
	normalized = p.extractor.CleanText(text)
	if similarity.TokenCount(normalized) < p.cfg.MinTokens {
		return text, normalized, "", nil
	}

	category = p.classifier.Category(normalized)
	entities = p.annotator.Entities(ctx, text)
	if entities == nil {
		entities = map[string]float64{}
	}
	return text, normalized, category, entities
}

// storeEntities records every entity of the article in name order, retrying write conflicts.
func (p *Processor) storeEntities(ctx context.Context, article *models.EnrichedArticle) error {
	for _, e := range cleanEntities(article.Entities) {
		err := p.cfg.Retry.Do(ctx, gorm.IsConflict, func() error {
			_, err := p.entities.RecordMention(ctx, article.ID, e.name, e.score, article.CreatedAt)
			return err
		})
		if err != nil {
			return fmt.Errorf("entity %q: %w", e.name, err)
		}
	}
	return nil
}

type scoredEntity struct {
	name  string
	score float64
}

// cleanEntities drops blank names, repairs invalid UTF-8 and returns entities sorted by name.
// Names that collapse to the same cleaned form keep the first score in sorted order.
func cleanEntities(raw map[string]float64) []scoredEntity {
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	slices.Sort(names)

	seen := make(map[string]bool, len(names))
	out := make([]scoredEntity, 0, len(names))
	for _, name := range names {
		clean := strings.TrimSpace(strings.ToValidUTF8(name, ""))
		if clean == "" || seen[clean] {
			continue
		}
		seen[clean] = true
		out = append(out, scoredEntity{name: clean, score: raw[name]})
	}
	slices.SortFunc(out, func(a, b scoredEntity) int { return strings.Compare(a.name, b.name) })
	return out
}

func (p *Processor) reject(ctx context.Context, raw models.RawArticle, reason string) {
	p.metrics.add(ctx, p.metrics.rejected, 1, attribute.String("reason", reason))
	p.log.Debug().
		Str("title", raw.Title).
		Str("url", raw.URL).
		Str("reason", reason).
		Msg("article rejected")
}
