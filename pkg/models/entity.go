// Package models contains domain models for storyline.
package models

// Entity is a named entity seen across processed articles.
type Entity struct {
	Name             string `json:"name"`
	ID               int64  `json:"id"`
	TotalOccurrences int64  `json:"total_occurrences"`
}

// EntityMention links an article to an entity with the extractor's relevance score.
type EntityMention struct {
	ID        int64   `json:"id"`
	ArticleID int64   `json:"article_id"`
	EntityID  int64   `json:"entity_id"`
	Score     float64 `json:"score"`
}
