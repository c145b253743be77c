// Package models contains domain models for storyline.
package models

import (
	"strings"
	"time"
)

// SourceRef identifies the publisher of a raw article.
type SourceRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RawArticle is one candidate article as produced by an article source.
// The JSON layout mirrors the newsapi.org "articles" array; null fields decode to "".
type RawArticle struct {
	Source      SourceRef `json:"source"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	URL         string    `json:"url"`
	ImageURL    string    `json:"urlToImage"`
	PublishedAt string    `json:"publishedAt,omitempty"`
}

// SourceName returns the publisher display name.
func (r RawArticle) SourceName() string {
	return r.Source.Name
}

// Normalized returns a copy with surrounding whitespace trimmed from every display field.
func (r RawArticle) Normalized() RawArticle {
	r.Title = strings.TrimSpace(r.Title)
	r.Description = strings.TrimSpace(r.Description)
	r.URL = strings.TrimSpace(r.URL)
	r.ImageURL = strings.TrimSpace(r.ImageURL)
	r.Source.Name = strings.TrimSpace(r.Source.Name)
	return r
}

// Article is a persisted article.
type Article struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	Text           string `json:"text"`
	NormalizedText string `json:"normalized_text"`
	URL            string `json:"url"`
	ImageURL       string `json:"image_url"`
	Source         string `json:"source"`
	Category       string `json:"category"`
	CreatedAt      string `json:"created_at"`
	ID             int64  `json:"id"`
	CreatedAtEpoch int64  `json:"created_at_epoch"`
}

// EnrichedArticle is the output of the article processor for one persisted article.
// It is the only input the clustering engine reads.
type EnrichedArticle struct {
	CreatedAt      time.Time          `json:"created_at"`
	Entities       map[string]float64 `json:"entities"`
	Title          string             `json:"title"`
	Description    string             `json:"description"`
	URL            string             `json:"url"`
	ImageURL       string             `json:"image_url"`
	Source         string             `json:"source"`
	Text           string             `json:"text"`
	NormalizedText string             `json:"normalized_text"`
	Category       string             `json:"category"`
	ID             int64              `json:"id"`
}
