package clustering

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"github.com/thebtf/storyline/internal/db/gorm"
	"github.com/thebtf/storyline/pkg/models"
	"github.com/thebtf/storyline/pkg/similarity"
)

// DefaultSimilarityThreshold is the similarity an article must strictly exceed to join a cluster.
const DefaultSimilarityThreshold = 0.50

// Store is the transactional write surface the engine needs.
type Store interface {
	WithTransaction(ctx context.Context, fn func(w gorm.ClusterWriter) error) error
}

var _ Store = (*gorm.ClusterStore)(nil)

// Config configures the clustering engine.
type Config struct {
	ExcludedSources map[string]struct{}
	Threshold       float64
	TiebreakRange   int
}

// Assignment summarizes one clustering pass.
type Assignment struct {
	// ClusterIDs holds created or extended clusters in first-touch order.
	ClusterIDs  []int64
	Created     int
	Attached    int
	Unclustered int
}

// Engine assigns new articles to recent clusters.
type Engine struct {
	log   zerolog.Logger
	store Store
	rand  *rand.Rand
	now   func() time.Time
	cfg   Config
}

// NewEngine creates a clustering engine.
func NewEngine(store Store, cfg Config, log zerolog.Logger) *Engine {
	if cfg.TiebreakRange <= 0 {
		cfg.TiebreakRange = 100
	}
	return &Engine{
		store: store,
		cfg:   cfg,
		log:   log.With().Str("component", "clustering").Logger(),
		rand:  rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now:   time.Now,
	}
}

// Assign places each result into the first cluster holding a member whose similarity strictly
// exceeds the threshold, or into a new cluster when none matches. Results are visited in order
// and every placement is visible to later results of the same pass. All writes share one
// transaction; on error nothing is persisted and the cache must be discarded.
func (e *Engine) Assign(ctx context.Context, results []*models.EnrichedArticle, cache *Cache) (*Assignment, error) {
	out := &Assignment{}
	if len(results) == 0 {
		return out, nil
	}

	// Corpus: cached members in enumeration order, then new articles.
	var corpus []string
	docs := make(map[int64][]int, cache.Len())
	order := make([]int64, 0, cache.Len())
	for _, entry := range cache.Entries() {
		order = append(order, entry.ClusterID)
		for _, m := range entry.Members {
			docs[entry.ClusterID] = append(docs[entry.ClusterID], len(corpus))
			corpus = append(corpus, m.Text)
		}
	}
	base := len(corpus)
	for _, r := range results {
		corpus = append(corpus, r.NormalizedText)
	}
	vectors := similarity.TFIDF(corpus)

	touched := make(map[int64]bool)
	touch := func(id int64) {
		if !touched[id] {
			touched[id] = true
			out.ClusterIDs = append(out.ClusterIDs, id)
		}
	}

	err := e.store.WithTransaction(ctx, func(w gorm.ClusterWriter) error {
		for i, r := range results {
			if err := ctx.Err(); err != nil {
				return err
			}
			doc := base + i
			member := Member{ArticleID: r.ID, Text: r.NormalizedText}

			matched, ok := e.firstMatch(vectors, doc, order, docs)
			if ok {
				if err := w.AddMember(ctx, matched, r.ID, e.now()); err != nil {
					return fmt.Errorf("add article %d to cluster %d: %w", r.ID, matched, err)
				}
				if err := cache.AddMember(matched, member); err != nil {
					return err
				}
				docs[matched] = append(docs[matched], doc)
				touch(matched)
				out.Attached++
				continue
			}

			if _, excluded := e.cfg.ExcludedSources[r.Source]; excluded {
				e.log.Debug().Int64("article_id", r.ID).Str("source", r.Source).Msg("excluded source, no cluster created")
				out.Unclustered++
				continue
			}

			id, err := w.CreateCluster(ctx, r.ID, e.rand.IntN(e.cfg.TiebreakRange), e.now())
			if err != nil {
				return fmt.Errorf("create cluster for article %d: %w", r.ID, err)
			}
			cache.AddCluster(id, member)
			order = append(order, id)
			docs[id] = []int{doc}
			touch(id)
			out.Created++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Int("articles", len(results)).
		Int("attached", out.Attached).
		Int("created", out.Created).
		Int("unclustered", out.Unclustered).
		Int("cached_clusters", len(order)-out.Created).
		Msg("clustering pass complete")
	return out, nil
}

// firstMatch returns the first cluster in enumeration order with a member whose similarity to
// doc strictly exceeds the threshold.
func (e *Engine) firstMatch(vectors []similarity.Vector, doc int, order []int64, docs map[int64][]int) (int64, bool) {
	for _, id := range order {
		for _, other := range docs[id] {
			if similarity.Cosine(vectors[doc], vectors[other]) > e.cfg.Threshold {
				return id, true
			}
		}
	}
	return 0, false
}
