// Package models contains domain models for storyline.
package models

import "time"

// Cluster is a persisted group of articles covering the same story.
type Cluster struct {
	LastUpdated      string  `json:"last_updated"`
	Category         string  `json:"category"`
	ID               int64   `json:"id"`
	LastUpdatedEpoch int64   `json:"last_updated_epoch"`
	Rank             float64 `json:"rank"`
	Tiebreak         int     `json:"tiebreak"`
}

// ClusterMember is one article of a cluster as seen by the clustering and ranking passes.
type ClusterMember struct {
	NormalizedText string `json:"normalized_text"`
	Category       string `json:"category"`
	ClusterID      int64  `json:"cluster_id"`
	ArticleID      int64  `json:"article_id"`
	CreatedAtEpoch int64  `json:"created_at_epoch"`
}

// CreatedTime returns the member article's creation time.
func (m ClusterMember) CreatedTime() time.Time {
	return time.UnixMilli(m.CreatedAtEpoch)
}

// ClusterScore holds the recalculated category and rank of a cluster.
type ClusterScore struct {
	Category string  `json:"category"`
	Rank     float64 `json:"rank"`
}
