package pipeline

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/storyline/internal/db/gorm"
	"github.com/thebtf/storyline/pkg/models"
)

type processorFixture struct {
	articles   *fakeArticleStore
	entities   *fakeEntityStore
	extractor  *stubExtractor
	classifier *stubClassifier
	annotator  *stubAnnotator
	processor  *Processor
}

func newProcessorFixture() *processorFixture {
	f := &processorFixture{
		articles:   newFakeArticleStore(),
		entities:   &fakeEntityStore{},
		extractor:  &stubExtractor{texts: map[string]string{"https://example.com/a": longText}},
		classifier: &stubClassifier{category: "business"},
		annotator:  &stubAnnotator{entities: map[string]float64{"Wall Street": 0.4, "Dow Jones": 0.9}},
	}
	f.processor = NewProcessor(f.articles, f.entities, f.extractor, f.classifier, f.annotator, ProcessorConfig{
		MinTokens:      DefaultMinTokens,
		ArticleTimeout: time.Second,
		Retry:          RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond},
	}, zerolog.Nop())
	return f
}

func rawArticle(title string) models.RawArticle {
	return models.RawArticle{
		Title:       title,
		URL:         "https://example.com/a",
		Description: "markets",
		ImageURL:    "https://example.com/a.png",
		Source:      models.SourceRef{Name: "Reuters"},
	}
}

func TestProcessor_StoresArticleAndEntities(t *testing.T) {
	f := newProcessorFixture()

	got, err := f.processor.Process(context.Background(), rawArticle("  Markets rally  "))
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, int64(1), got.ID)
	assert.Equal(t, "Markets rally", got.Title)
	assert.Equal(t, "Reuters", got.Source)
	assert.Equal(t, "business", got.Category)
	assert.Equal(t, longText, got.Text)
	assert.Contains(t, got.NormalizedText, "ralli")
	assert.Len(t, got.Entities, 2)
	assert.False(t, got.CreatedAt.IsZero())

	require.Len(t, f.entities.calls, 2)
	assert.Equal(t, mentionCall{articleID: 1, name: "Dow Jones", score: 0.9}, f.entities.calls[0])
	assert.Equal(t, mentionCall{articleID: 1, name: "Wall Street", score: 0.4}, f.entities.calls[1])
}

func TestProcessor_DuplicateTitleIsIdempotent(t *testing.T) {
	f := newProcessorFixture()

	first, err := f.processor.Process(context.Background(), rawArticle("Markets rally"))
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := f.processor.Process(context.Background(), rawArticle("Markets rally"))
	require.NoError(t, err)
	assert.Nil(t, second)
	assert.Len(t, f.articles.stored, 1)
	assert.Len(t, f.entities.calls, 2)
}

func TestProcessor_MissingTitle(t *testing.T) {
	f := newProcessorFixture()

	got, err := f.processor.Process(context.Background(), rawArticle("   "))
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Zero(t, f.articles.existsCalls)
}

func TestProcessor_ShortTextNeverPersists(t *testing.T) {
	f := newProcessorFixture()
	f.extractor.texts["https://example.com/a"] = repeatWords("stock market", 19)

	got, err := f.processor.Process(context.Background(), rawArticle("Short"))
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Empty(t, f.articles.stored)
	assert.Empty(t, f.entities.calls)
	assert.Zero(t, f.classifier.calls)
}

func TestProcessor_ExtractionFailureRejects(t *testing.T) {
	f := newProcessorFixture()
	f.extractor.texts = map[string]string{}

	got, err := f.processor.Process(context.Background(), rawArticle("No text"))
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Empty(t, f.articles.stored)
}

func TestProcessor_TimeoutBoundsCollaborators(t *testing.T) {
	f := newProcessorFixture()
	f.extractor.block = true
	f.processor.cfg.ArticleTimeout = 20 * time.Millisecond

	start := time.Now()
	got, err := f.processor.Process(context.Background(), rawArticle("Slow"))
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Less(t, time.Since(start), time.Second)
}

func TestProcessor_StoreRaceOnTitle(t *testing.T) {
	f := newProcessorFixture()
	f.articles.storeErr = gorm.ErrDuplicateTitle

	got, err := f.processor.Process(context.Background(), rawArticle("Raced"))
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Empty(t, f.entities.calls)
}

func TestProcessor_RetriesEntityConflicts(t *testing.T) {
	f := newProcessorFixture()
	f.annotator.entities = map[string]float64{"NASA": 1}
	f.entities.err = &pgconn.PgError{Code: "40001"}
	f.entities.failFirst = 2

	got, err := f.processor.Process(context.Background(), rawArticle("Launch"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, f.entities.calls, 3)
}

func TestProcessor_EntityRetriesExhausted(t *testing.T) {
	f := newProcessorFixture()
	f.annotator.entities = map[string]float64{"NASA": 1}
	f.entities.err = &pgconn.PgError{Code: "40P01"}
	f.entities.failFirst = -1

	got, err := f.processor.Process(context.Background(), rawArticle("Launch"))
	assert.Nil(t, got)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEntityRetriesExhausted)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageStoreEntities, stageErr.Stage)
	assert.Len(t, f.entities.calls, 3)
}

func TestProcessor_NonConflictEntityErrorIsNotRetried(t *testing.T) {
	f := newProcessorFixture()
	f.annotator.entities = map[string]float64{"NASA": 1}
	f.entities.err = errors.New("syntax error")
	f.entities.failFirst = -1

	_, err := f.processor.Process(context.Background(), rawArticle("Launch"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEntityRetriesExhausted)
	assert.Len(t, f.entities.calls, 1)
}

func TestProcessor_StoreUnavailable(t *testing.T) {
	f := newProcessorFixture()
	f.articles.existsErr = errors.Join(gorm.ErrStoreUnavailable, driver.ErrBadConn)

	_, err := f.processor.Process(context.Background(), rawArticle("Anything"))
	require.Error(t, err)
	assert.ErrorIs(t, err, gorm.ErrStoreUnavailable)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageDedup, stageErr.Stage)
}

func TestCleanEntities(t *testing.T) {
	raw := map[string]float64{}
	raw["  Zeta "] = 0.1
	raw[""] = 0.2
	raw["   "] = 0.3
	raw["Alpha"] = 0.4
	raw["Al\xffpha"] = 0.5
	raw["Mid"] = 0.6
	got := cleanEntities(raw)

	names := make([]string, len(got))
	for i, e := range got {
		names[i] = e.name
	}
	assert.Equal(t, []string{"Alpha", "Mid", "Zeta"}, names)
	assert.InDelta(t, 0.4, got[0].score, 1e-9)
}
