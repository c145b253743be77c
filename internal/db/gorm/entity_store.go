package gorm

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/storyline/pkg/models"
)

// EntityStore provides entity-related database operations using GORM.
type EntityStore struct {
	store *Store
	db    *gorm.DB
}

// NewEntityStore creates a new entity store.
func NewEntityStore(store *Store) *EntityStore {
	return &EntityStore{store: store, db: store.DB}
}

// RecordMention upserts the entity by name, incrementing its total occurrence count,
// and records one mention and one occurrence marker for the article. All writes share
// one transaction: on failure nothing is persisted and the caller may retry.
func (s *EntityStore) RecordMention(ctx context.Context, articleID int64, name string, score float64, at time.Time) (int64, error) {
	var entityID int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entity := &Entity{Name: name, TotalOccurrences: 1}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "name"}},
			DoUpdates: clause.Assignments(map[string]any{
				"total_occurrences": gorm.Expr("entities.total_occurrences + 1"),
			}),
		}).Create(entity).Error
		if err != nil {
			return err
		}

		// The upsert does not reliably return the id of an updated row.
		var stored Entity
		if err := tx.Select("id").Where("name = ?", name).Take(&stored).Error; err != nil {
			return err
		}
		id := stored.ID
		entityID = id

		if err := tx.Create(&EntityMention{ArticleID: articleID, EntityID: id, Score: score}).Error; err != nil {
			return err
		}

		return tx.Create(&EntityOccurrence{
			EntityID:       id,
			CreatedAt:      at.UTC().Format(time.RFC3339),
			CreatedAtEpoch: at.UnixMilli(),
		}).Error
	})
	if err != nil {
		return 0, classify(err)
	}
	return entityID, nil
}

// GetEntityByName retrieves an entity by exact name. Returns nil, nil when absent.
func (s *EntityStore) GetEntityByName(ctx context.Context, name string) (*models.Entity, error) {
	var row Entity
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &models.Entity{ID: row.ID, Name: row.Name, TotalOccurrences: row.TotalOccurrences}, nil
}

// GetMentions returns the mentions recorded for an article, ordered by entity id.
func (s *EntityStore) GetMentions(ctx context.Context, articleID int64) ([]models.EntityMention, error) {
	var rows []EntityMention
	err := s.db.WithContext(ctx).
		Where("article_id = ?", articleID).
		Order("entity_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, classify(err)
	}
	result := make([]models.EntityMention, len(rows))
	for i, r := range rows {
		result[i] = models.EntityMention{ID: r.ID, ArticleID: r.ArticleID, EntityID: r.EntityID, Score: r.Score}
	}
	return result, nil
}

// CountOccurrences returns the number of occurrence markers for an entity.
func (s *EntityStore) CountOccurrences(ctx context.Context, entityID int64) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&EntityOccurrence{}).
		Where("entity_id = ?", entityID).
		Count(&count).Error
	if err != nil {
		return 0, classify(err)
	}
	return count, nil
}

// PruneOccurrences deletes occurrence markers created before cutoff.
// Entities and mentions are kept.
func (s *EntityStore) PruneOccurrences(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := s.store.WithTimeout(ctx, SlowQueryTimeout, "prune_occurrences")
	defer cancel()

	result := s.db.WithContext(ctx).
		Where("created_at_epoch < ?", cutoff.UnixMilli()).
		Delete(&EntityOccurrence{})
	if result.Error != nil {
		return 0, classify(result.Error)
	}
	return result.RowsAffected, nil
}

// EntityFrequency is the windowed occurrence count of one entity.
type EntityFrequency struct {
	Name  string `json:"name"`
	ID    int64  `json:"id"`
	Count int64  `json:"count"`
}

// EntityFrequencies returns entities ordered by occurrence count since the given time.
func (s *EntityStore) EntityFrequencies(ctx context.Context, since time.Time, limit int) ([]EntityFrequency, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []EntityFrequency
	err := s.db.WithContext(ctx).
		Table("entity_occurrences AS o").
		Select("e.id AS id, e.name AS name, COUNT(*) AS count").
		Joins("JOIN entities e ON e.id = o.entity_id").
		Where("o.created_at_epoch >= ?", since.UnixMilli()).
		Group("e.id, e.name").
		Order("count DESC, e.name ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, classify(err)
	}
	return rows, nil
}
