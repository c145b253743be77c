// Package source reads raw articles from newsapi-shaped JSON dumps.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/thebtf/storyline/pkg/models"
)

// ErrMalformedArticle marks a record that could not be decoded; the remaining records still flow.
var ErrMalformedArticle = errors.New("malformed article record")

// listing is the newsapi response envelope.
type listing struct {
	Status   string            `json:"status"`
	Articles []json.RawMessage `json:"articles"`
}

// File is an ArticleSource over a JSON file holding either a newsapi response envelope
// ({"status": "ok", "articles": [...]}) or a bare array of articles.
// The file is re-read on every call so an external fetcher may replace it between runs.
type File struct {
	log  zerolog.Logger
	path string
}

// NewFile creates a file-backed article source.
func NewFile(path string, log zerolog.Logger) *File {
	return &File{
		path: path,
		log:  log.With().Str("component", "source").Str("path", path).Logger(),
	}
}

// Articles yields the records published at or after since. Records without publishedAt are
// always yielded. Decoding problems are yielded as errors alongside a zero article.
func (f *File) Articles(ctx context.Context, since time.Time) iter.Seq2[models.RawArticle, error] {
	return func(yield func(models.RawArticle, error) bool) {
		records, err := f.load()
		if err != nil {
			yield(models.RawArticle{}, err)
			return
		}

		skipped := 0
		for i, rec := range records {
			if ctx.Err() != nil {
				yield(models.RawArticle{}, ctx.Err())
				return
			}

			var a models.RawArticle
			if err := json.Unmarshal(rec, &a); err != nil {
				if !yield(models.RawArticle{}, fmt.Errorf("%w: record %d: %w", ErrMalformedArticle, i, err)) {
					return
				}
				continue
			}

			if a.PublishedAt != "" {
				published, err := time.Parse(time.RFC3339, a.PublishedAt)
				if err != nil {
					if !yield(models.RawArticle{}, fmt.Errorf("%w: record %d: publishedAt: %w", ErrMalformedArticle, i, err)) {
						return
					}
					continue
				}
				if published.Before(since) {
					skipped++
					continue
				}
			}

			if !yield(a, nil) {
				return
			}
		}
		f.log.Debug().Int("records", len(records)).Int("too_old", skipped).Msg("source read")
	}
}

func (f *File) load() ([]json.RawMessage, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read article dump: %w", err)
	}

	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var records []json.RawMessage
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("parse article dump %s: %w", f.path, err)
		}
		return records, nil
	}

	var l listing
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parse article dump %s: %w", f.path, err)
	}
	if l.Status != "" && l.Status != "ok" {
		return nil, fmt.Errorf("article dump %s has status %q", f.path, l.Status)
	}
	return l.Articles, nil
}
