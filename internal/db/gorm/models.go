// Package gorm provides GORM-based database operations for storyline.
package gorm

import (
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/storyline/pkg/models"
)

// GORM Models

// Article represents a persisted news article. Title is the deduplication key.
type Article struct {
	Title          string `gorm:"type:text;uniqueIndex:idx_articles_title;not null"`
	Description    string `gorm:"type:text;not null;default:''"`
	Text           string `gorm:"type:text;not null;default:''"`
	NormalizedText string `gorm:"type:text;not null;default:''"`
	URL            string `gorm:"column:url;type:text;not null;default:''"`
	ImageURL       string `gorm:"column:image_url;type:text;not null;default:''"`
	Source         string `gorm:"type:text;index:idx_articles_source;not null;default:''"`
	Category       string `gorm:"type:text;index:idx_articles_category;not null;default:''"`
	CreatedAt      string `gorm:"not null"`
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	CreatedAtEpoch int64  `gorm:"index:idx_articles_created,sort:desc;not null"`
}

func (Article) TableName() string { return "articles" }

// BeforeCreate hook to ensure timestamps are set.
func (a *Article) BeforeCreate(tx *gorm.DB) error {
	if a.CreatedAtEpoch == 0 {
		a.CreatedAtEpoch = time.Now().UnixMilli()
	}
	if a.CreatedAt == "" {
		a.CreatedAt = time.UnixMilli(a.CreatedAtEpoch).UTC().Format(time.RFC3339)
	}
	return nil
}

// Entity represents a named entity with its cumulative occurrence count.
type Entity struct {
	Name             string `gorm:"type:text;uniqueIndex:idx_entities_name;not null"`
	ID               int64  `gorm:"primaryKey;autoIncrement"`
	TotalOccurrences int64  `gorm:"not null;default:0"`
}

func (Entity) TableName() string { return "entities" }

// EntityMention links an article to an entity. One row per (article, entity) pair.
type EntityMention struct {
	ID        int64   `gorm:"primaryKey;autoIncrement"`
	ArticleID int64   `gorm:"index:idx_mentions_article;uniqueIndex:idx_mentions_unique,priority:1;not null"`
	EntityID  int64   `gorm:"index:idx_mentions_entity;uniqueIndex:idx_mentions_unique,priority:2;not null"`
	Score     float64 `gorm:"type:real;not null;default:0"`
}

func (EntityMention) TableName() string { return "entity_mentions" }

// EntityOccurrence is a timestamped marker of one mention, kept for windowed frequency accounting.
type EntityOccurrence struct {
	CreatedAt      string `gorm:"not null"`
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	EntityID       int64  `gorm:"index:idx_occurrences_entity;not null"`
	CreatedAtEpoch int64  `gorm:"index:idx_occurrences_created;not null"`
}

func (EntityOccurrence) TableName() string { return "entity_occurrences" }

// BeforeCreate hook to ensure timestamps are set.
func (o *EntityOccurrence) BeforeCreate(tx *gorm.DB) error {
	if o.CreatedAtEpoch == 0 {
		o.CreatedAtEpoch = time.Now().UnixMilli()
	}
	if o.CreatedAt == "" {
		o.CreatedAt = time.UnixMilli(o.CreatedAtEpoch).UTC().Format(time.RFC3339)
	}
	return nil
}

// Cluster represents a story cluster.
type Cluster struct {
	LastUpdated      string  `gorm:"not null"`
	Category         string  `gorm:"type:text;not null;default:''"`
	ID               int64   `gorm:"primaryKey;autoIncrement"`
	LastUpdatedEpoch int64   `gorm:"index:idx_clusters_last_updated,sort:desc;not null"`
	Rank             float64 `gorm:"column:rank;type:real;not null;default:0;index:idx_clusters_rank,sort:desc"`
	Tiebreak         int     `gorm:"not null;default:0"`
}

func (Cluster) TableName() string { return "clusters" }

// BeforeCreate hook to ensure timestamps are set.
func (c *Cluster) BeforeCreate(tx *gorm.DB) error {
	if c.LastUpdatedEpoch == 0 {
		c.LastUpdatedEpoch = time.Now().UnixMilli()
	}
	if c.LastUpdated == "" {
		c.LastUpdated = time.UnixMilli(c.LastUpdatedEpoch).UTC().Format(time.RFC3339)
	}
	return nil
}

// ClusterMembership links a cluster to an article. Rows are never removed.
type ClusterMembership struct {
	ID        int64 `gorm:"primaryKey;autoIncrement"`
	ClusterID int64 `gorm:"index:idx_memberships_cluster;uniqueIndex:idx_memberships_unique,priority:1;not null"`
	ArticleID int64 `gorm:"index:idx_memberships_article;uniqueIndex:idx_memberships_unique,priority:2;not null"`
}

func (ClusterMembership) TableName() string { return "cluster_memberships" }

// toModelArticle converts a GORM Article to pkg/models.Article.
func toModelArticle(a *Article) *models.Article {
	return &models.Article{
		ID:             a.ID,
		Title:          a.Title,
		Description:    a.Description,
		Text:           a.Text,
		NormalizedText: a.NormalizedText,
		URL:            a.URL,
		ImageURL:       a.ImageURL,
		Source:         a.Source,
		Category:       a.Category,
		CreatedAt:      a.CreatedAt,
		CreatedAtEpoch: a.CreatedAtEpoch,
	}
}

// toModelCluster converts a GORM Cluster to pkg/models.Cluster.
func toModelCluster(c *Cluster) *models.Cluster {
	return &models.Cluster{
		ID:               c.ID,
		LastUpdated:      c.LastUpdated,
		LastUpdatedEpoch: c.LastUpdatedEpoch,
		Category:         c.Category,
		Rank:             c.Rank,
		Tiebreak:         c.Tiebreak,
	}
}

// toModelClusters converts a slice of GORM Cluster to pkg/models.Cluster.
func toModelClusters(clusters []Cluster) []*models.Cluster {
	result := make([]*models.Cluster, len(clusters))
	for i := range clusters {
		result[i] = toModelCluster(&clusters[i])
	}
	return result
}
