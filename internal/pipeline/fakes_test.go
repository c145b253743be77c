package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/thebtf/storyline/internal/db/gorm"
	"github.com/thebtf/storyline/pkg/models"
	"github.com/thebtf/storyline/pkg/similarity"
)

// longText is well above the minimum token count after normalization.
var longText = repeatWords("stock market rally investors", 12)

func repeatWords(phrase string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += phrase + " "
	}
	return out
}

type fakeArticleStore struct {
	existsErr   error
	storeErr    error
	titles      map[string]bool
	stored      []*models.EnrichedArticle
	existsCalls int
	nextID      int64
	mu          sync.Mutex
}

func newFakeArticleStore() *fakeArticleStore {
	return &fakeArticleStore{titles: make(map[string]bool)}
}

func (f *fakeArticleStore) TitleExists(_ context.Context, title string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.existsCalls++
	if f.existsErr != nil {
		return false, f.existsErr
	}
	return f.titles[title], nil
}

func (f *fakeArticleStore) StoreArticle(_ context.Context, a *models.EnrichedArticle) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.storeErr != nil {
		return 0, f.storeErr
	}
	if f.titles[a.Title] {
		return 0, fmt.Errorf("%w: %s", gorm.ErrDuplicateTitle, a.Title)
	}
	f.titles[a.Title] = true
	f.nextID++
	f.stored = append(f.stored, a)
	return f.nextID, nil
}

type mentionCall struct {
	name      string
	articleID int64
	score     float64
}

type fakeEntityStore struct {
	err       error
	calls     []mentionCall
	failFirst int
	mu        sync.Mutex
}

func (f *fakeEntityStore) RecordMention(_ context.Context, articleID int64, name string, score float64, _ time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, mentionCall{articleID: articleID, name: name, score: score})
	if f.failFirst > 0 {
		f.failFirst--
		return 0, f.err
	}
	if f.err != nil && f.failFirst < 0 {
		return 0, f.err
	}
	return int64(len(f.calls)), nil
}

type stubExtractor struct {
	texts map[string]string
	block bool
}

func (s *stubExtractor) GetText(ctx context.Context, url string) string {
	if s.block {
		<-ctx.Done()
		return ""
	}
	return s.texts[url]
}

func (s *stubExtractor) CleanText(text string) string {
	return similarity.Normalize(text)
}

type stubClassifier struct {
	category string
	calls    int
	mu       sync.Mutex
}

func (s *stubClassifier) Category(string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.category
}

type stubAnnotator struct {
	entities map[string]float64
}

func (s *stubAnnotator) Entities(context.Context, string) map[string]float64 {
	return s.entities
}
