package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/thebtf/storyline/pkg/models"
)

// ArticleStore provides article-related database operations using GORM.
type ArticleStore struct {
	store *Store
	db    *gorm.DB
}

// NewArticleStore creates a new article store.
func NewArticleStore(store *Store) *ArticleStore {
	return &ArticleStore{store: store, db: store.DB}
}

// TitleExists reports whether an article with exactly this title is stored.
func (s *ArticleStore) TitleExists(ctx context.Context, title string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Article{}).
		Where("title = ?", title).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, classify(err)
	}
	return count > 0, nil
}

// StoreArticle inserts an article and returns its new id.
// A unique title violation yields ErrDuplicateTitle.
func (s *ArticleStore) StoreArticle(ctx context.Context, a *models.EnrichedArticle) (int64, error) {
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	row := &Article{
		Title:          a.Title,
		Description:    a.Description,
		Text:           a.Text,
		NormalizedText: a.NormalizedText,
		URL:            a.URL,
		ImageURL:       a.ImageURL,
		Source:         a.Source,
		Category:       a.Category,
		CreatedAt:      created.UTC().Format(time.RFC3339),
		CreatedAtEpoch: created.UnixMilli(),
	}

	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		if isUniqueViolation(err) {
			log.Debug().Str("title", a.Title).Msg("Article title already stored")
			return 0, fmt.Errorf("%w: %s", ErrDuplicateTitle, a.Title)
		}
		return 0, classify(err)
	}
	return row.ID, nil
}

// GetArticleByID retrieves an article by id. Returns nil, nil when absent.
func (s *ArticleStore) GetArticleByID(ctx context.Context, id int64) (*models.Article, error) {
	var row Article
	err := s.db.WithContext(ctx).First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return toModelArticle(&row), nil
}

// GetArticleByTitle retrieves an article by title. Returns nil, nil when absent.
func (s *ArticleStore) GetArticleByTitle(ctx context.Context, title string) (*models.Article, error) {
	var row Article
	err := s.db.WithContext(ctx).Where("title = ?", title).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return toModelArticle(&row), nil
}

// GetArticlesByIDs retrieves articles by id, ordered by id.
func (s *ArticleStore) GetArticlesByIDs(ctx context.Context, ids []int64) ([]*models.Article, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []Article
	err := s.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, classify(err)
	}
	result := make([]*models.Article, len(rows))
	for i := range rows {
		result[i] = toModelArticle(&rows[i])
	}
	return result, nil
}

// CountArticles returns the number of stored articles.
func (s *ArticleStore) CountArticles(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Article{}).Count(&count).Error; err != nil {
		return 0, classify(err)
	}
	return count, nil
}
