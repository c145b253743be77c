// Package pipeline runs batch ingestion: article processing, clustering and maintenance.
package pipeline

import (
	"context"
	"iter"
	"time"

	"github.com/thebtf/storyline/internal/db/gorm"
	"github.com/thebtf/storyline/pkg/models"
)

// ArticleSource produces a lazy, finite sequence of raw articles published since a given time.
type ArticleSource interface {
	Articles(ctx context.Context, since time.Time) iter.Seq2[models.RawArticle, error]
}

// ContentExtractor fetches and normalizes article text.
// GetText returns "" on failure and never reports an error.
type ContentExtractor interface {
	GetText(ctx context.Context, url string) string
	CleanText(text string) string
}

// Classifier labels normalized text with a category.
type Classifier interface {
	Category(normalized string) string
}

// EntityExtractor maps raw text to entity names and relevance scores.
// It returns an empty map on failure and never reports an error.
type EntityExtractor interface {
	Entities(ctx context.Context, text string) map[string]float64
}

// ArticleStore is the article persistence used by the processor.
type ArticleStore interface {
	TitleExists(ctx context.Context, title string) (bool, error)
	StoreArticle(ctx context.Context, a *models.EnrichedArticle) (int64, error)
}

// EntityStore is the entity persistence used by the processor.
type EntityStore interface {
	RecordMention(ctx context.Context, articleID int64, name string, score float64, at time.Time) (int64, error)
}

var (
	_ ArticleStore = (*gorm.ArticleStore)(nil)
	_ EntityStore  = (*gorm.EntityStore)(nil)
)
