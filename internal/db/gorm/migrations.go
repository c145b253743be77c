// Package gorm provides GORM-based database operations for storyline.
package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: Articles
		{
			ID: "001_articles",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&Article{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("articles")
			},
		},

		// Migration 002: Entities, mentions and occurrence markers
		{
			ID: "002_entities",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&Entity{}); err != nil {
					return err
				}
				if err := tx.AutoMigrate(&EntityMention{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&EntityOccurrence{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("entity_occurrences", "entity_mentions", "entities")
			},
		},

		// Migration 003: Clusters and memberships
		{
			ID: "003_clusters",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&Cluster{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&ClusterMembership{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("cluster_memberships", "clusters")
			},
		},

		// Migration 004: Composite index for the recent-member join
		{
			ID: "004_membership_article_order",
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_memberships_cluster_article
					ON cluster_memberships (cluster_id, article_id)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Exec("DROP INDEX IF EXISTS idx_memberships_cluster_article").Error
			},
		},
	})

	return m.Migrate()
}
