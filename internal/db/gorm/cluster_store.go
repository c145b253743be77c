package gorm

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/storyline/pkg/models"
)

// ClusterWriter is the write surface available inside a clustering transaction.
type ClusterWriter interface {
	// CreateCluster creates a cluster whose first member is articleID and returns its id.
	CreateCluster(ctx context.Context, articleID int64, tiebreak int, at time.Time) (int64, error)
	// AddMember appends articleID to the cluster and advances its last-updated time.
	AddMember(ctx context.Context, clusterID, articleID int64, at time.Time) error
}

// ClusterStore provides cluster-related database operations using GORM.
type ClusterStore struct {
	store *Store
	db    *gorm.DB
}

// NewClusterStore creates a new cluster store.
func NewClusterStore(store *Store) *ClusterStore {
	return &ClusterStore{store: store, db: store.DB}
}

// WithTransaction runs fn against a ClusterWriter bound to one transaction.
// Any error returned by fn rolls back every write made through the writer.
func (s *ClusterStore) WithTransaction(ctx context.Context, fn func(w ClusterWriter) error) error {
	return s.store.TransactionWithTimeout(ctx, SlowQueryTimeout, "clustering_pass", func(tx *gorm.DB) error {
		return fn(&txClusterWriter{tx: tx})
	})
}

type txClusterWriter struct {
	tx *gorm.DB
}

func (w *txClusterWriter) CreateCluster(ctx context.Context, articleID int64, tiebreak int, at time.Time) (int64, error) {
	cluster := &Cluster{
		LastUpdated:      at.UTC().Format(time.RFC3339),
		LastUpdatedEpoch: at.UnixMilli(),
		Tiebreak:         tiebreak,
	}
	if err := w.tx.WithContext(ctx).Create(cluster).Error; err != nil {
		return 0, err
	}
	membership := &ClusterMembership{ClusterID: cluster.ID, ArticleID: articleID}
	if err := w.tx.WithContext(ctx).Create(membership).Error; err != nil {
		return 0, err
	}
	return cluster.ID, nil
}

func (w *txClusterWriter) AddMember(ctx context.Context, clusterID, articleID int64, at time.Time) error {
	err := w.tx.WithContext(ctx).
		Model(&Cluster{}).
		Where("id = ?", clusterID).
		Updates(map[string]any{
			"last_updated":       at.UTC().Format(time.RFC3339),
			"last_updated_epoch": at.UnixMilli(),
		}).Error
	if err != nil {
		return err
	}
	return w.tx.WithContext(ctx).Create(&ClusterMembership{ClusterID: clusterID, ArticleID: articleID}).Error
}

// RecentClusters returns clusters updated after since, ordered by id.
func (s *ClusterStore) RecentClusters(ctx context.Context, since time.Time) ([]*models.Cluster, error) {
	var rows []Cluster
	err := s.db.WithContext(ctx).
		Where("last_updated_epoch > ?", since.UnixMilli()).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, classify(err)
	}
	return toModelClusters(rows), nil
}

// memberRow is the scan target of the membership/article join.
type memberRow struct {
	NormalizedText string
	Category       string
	ClusterID      int64
	ArticleID      int64
	CreatedAtEpoch int64
}

// RecentClusterMembers returns the members of every cluster updated after since,
// ordered by cluster id then article id.
func (s *ClusterStore) RecentClusterMembers(ctx context.Context, since time.Time) ([]models.ClusterMember, error) {
	ctx, cancel := s.store.WithTimeout(ctx, SlowQueryTimeout, "recent_cluster_members")
	defer cancel()

	var rows []memberRow
	err := s.db.WithContext(ctx).
		Table("cluster_memberships AS m").
		Select("m.cluster_id AS cluster_id, a.id AS article_id, a.normalized_text AS normalized_text, a.category AS category, a.created_at_epoch AS created_at_epoch").
		Joins("JOIN clusters c ON c.id = m.cluster_id").
		Joins("JOIN articles a ON a.id = m.article_id").
		Where("c.last_updated_epoch > ?", since.UnixMilli()).
		Order("m.cluster_id ASC, a.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, classify(err)
	}

	members := make([]models.ClusterMember, len(rows))
	for i, r := range rows {
		members[i] = models.ClusterMember{
			ClusterID:      r.ClusterID,
			ArticleID:      r.ArticleID,
			NormalizedText: r.NormalizedText,
			Category:       r.Category,
			CreatedAtEpoch: r.CreatedAtEpoch,
		}
	}
	return members, nil
}

// UpdateClusterScores persists the recalculated category and rank of each cluster in one transaction.
func (s *ClusterStore) UpdateClusterScores(ctx context.Context, scores map[int64]models.ClusterScore) error {
	if len(scores) == 0 {
		return nil
	}
	return s.store.TransactionWithTimeout(ctx, SlowQueryTimeout, "update_cluster_scores", func(tx *gorm.DB) error {
		for id, score := range scores {
			err := tx.Model(&Cluster{}).
				Where("id = ?", id).
				Updates(map[string]any{
					"category": score.Category,
					"rank":     score.Rank,
				}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// GetCluster retrieves a cluster by id. Returns nil, nil when absent.
func (s *ClusterStore) GetCluster(ctx context.Context, id int64) (*models.Cluster, error) {
	var row Cluster
	err := s.db.WithContext(ctx).First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return toModelCluster(&row), nil
}

// ClusterArticleIDs returns the article ids of a cluster in ascending order.
func (s *ClusterStore) ClusterArticleIDs(ctx context.Context, clusterID int64) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).
		Model(&ClusterMembership{}).
		Where("cluster_id = ?", clusterID).
		Order("article_id ASC").
		Pluck("article_id", &ids).Error
	if err != nil {
		return nil, classify(err)
	}
	return ids, nil
}

// CountMemberships returns the number of clusters an article belongs to.
func (s *ClusterStore) CountMemberships(ctx context.Context, articleID int64) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&ClusterMembership{}).
		Where("article_id = ?", articleID).
		Count(&count).Error
	if err != nil {
		return 0, classify(err)
	}
	return count, nil
}

// TopClusters returns recently updated clusters ordered by rank, then tiebreak.
func (s *ClusterStore) TopClusters(ctx context.Context, since time.Time, limit int) ([]*models.Cluster, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []Cluster
	err := s.db.WithContext(ctx).
		Where("last_updated_epoch > ?", since.UnixMilli()).
		Order(clause.OrderBy{Columns: []clause.OrderByColumn{
			{Column: clause.Column{Name: "rank"}, Desc: true},
			{Column: clause.Column{Name: "tiebreak"}, Desc: true},
			{Column: clause.Column{Name: "id"}},
		}}).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, classify(err)
	}
	return toModelClusters(rows), nil
}
