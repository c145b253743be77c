package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/storyline/internal/db/gorm"
	"github.com/thebtf/storyline/pkg/models"
)

// SchedulerSuite validates batch windows, ordering and failure isolation.
type SchedulerSuite struct {
	suite.Suite
	ctx context.Context
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerSuite))
}

func (s *SchedulerSuite) SetupTest() {
	s.ctx = context.Background()
}

type mockProcessor struct {
	processFn func(context.Context, models.RawArticle) (*models.EnrichedArticle, error)
	events    []string
	mu        sync.Mutex
}

func (m *mockProcessor) Process(ctx context.Context, raw models.RawArticle) (*models.EnrichedArticle, error) {
	m.record("start:" + raw.Title)
	defer m.record("end:" + raw.Title)
	if m.processFn == nil {
		return &models.EnrichedArticle{Title: raw.Title}, nil
	}
	return m.processFn(ctx, raw)
}

func (m *mockProcessor) record(event string) {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
}

func (m *mockProcessor) indexOf(event string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Index(m.events, event)
}

func rawArticles(n int) []models.RawArticle {
	out := make([]models.RawArticle, n)
	for i := range out {
		out[i] = models.RawArticle{Title: fmt.Sprintf("a%d", i), URL: fmt.Sprintf("https://example.com/%d", i)}
	}
	return out
}

func titles(articles []*models.EnrichedArticle) []string {
	out := make([]string, len(articles))
	for i, a := range articles {
		out[i] = a.Title
	}
	return out
}

func (s *SchedulerSuite) newScheduler(p ArticleProcessor, cfg SchedulerConfig) *Scheduler {
	return NewScheduler(p, cfg, zerolog.Nop())
}

func (s *SchedulerSuite) TestRun_PreservesSubmissionOrder() {
	p := &mockProcessor{processFn: func(_ context.Context, raw models.RawArticle) (*models.EnrichedArticle, error) {
		// Earlier articles finish last.
		var idx int
		fmt.Sscanf(raw.Title, "a%d", &idx)
		time.Sleep(time.Duration(5-idx) * 5 * time.Millisecond)
		return &models.EnrichedArticle{Title: raw.Title}, nil
	}}
	sched := s.newScheduler(p, SchedulerConfig{BatchSize: 5, Workers: 5})

	out, err := sched.Run(s.ctx, rawArticles(5))
	s.Require().NoError(err)
	s.Equal([]string{"a0", "a1", "a2", "a3", "a4"}, titles(out))
}

func (s *SchedulerSuite) TestRun_WindowCompletesBeforeNextStarts() {
	p := &mockProcessor{processFn: func(_ context.Context, raw models.RawArticle) (*models.EnrichedArticle, error) {
		time.Sleep(10 * time.Millisecond)
		return &models.EnrichedArticle{Title: raw.Title}, nil
	}}
	sched := s.newScheduler(p, SchedulerConfig{BatchSize: 2, Workers: 4})

	out, err := sched.Run(s.ctx, rawArticles(4))
	s.Require().NoError(err)
	s.Len(out, 4)

	firstWindowDone := max(p.indexOf("end:a0"), p.indexOf("end:a1"))
	secondWindowStart := min(p.indexOf("start:a2"), p.indexOf("start:a3"))
	s.GreaterOrEqual(firstWindowDone, 0)
	s.Less(firstWindowDone, secondWindowStart)
}

func (s *SchedulerSuite) TestRun_SkipsRejectedAndFailed() {
	p := &mockProcessor{processFn: func(_ context.Context, raw models.RawArticle) (*models.EnrichedArticle, error) {
		switch raw.Title {
		case "a1":
			return nil, nil
		case "a2":
			return nil, &StageError{Stage: StageStoreEntities, Err: errors.New("boom")}
		}
		return &models.EnrichedArticle{Title: raw.Title}, nil
	}}
	sched := s.newScheduler(p, SchedulerConfig{BatchSize: 2, Workers: 2})

	out, err := sched.Run(s.ctx, rawArticles(4))
	s.Require().NoError(err)
	s.Equal([]string{"a0", "a3"}, titles(out))
}

func (s *SchedulerSuite) TestRun_PanicIsIsolated() {
	p := &mockProcessor{processFn: func(_ context.Context, raw models.RawArticle) (*models.EnrichedArticle, error) {
		if raw.Title == "a0" {
			panic("bad article")
		}
		return &models.EnrichedArticle{Title: raw.Title}, nil
	}}
	sched := s.newScheduler(p, SchedulerConfig{BatchSize: 3, Workers: 3})

	out, err := sched.Run(s.ctx, rawArticles(3))
	s.Require().NoError(err)
	s.Equal([]string{"a1", "a2"}, titles(out))
}

func (s *SchedulerSuite) TestRun_StoreUnavailableAborts() {
	p := &mockProcessor{processFn: func(_ context.Context, raw models.RawArticle) (*models.EnrichedArticle, error) {
		if raw.Title == "a2" {
			return nil, &StageError{Stage: StageDedup, Err: fmt.Errorf("%w: connection refused", gorm.ErrStoreUnavailable)}
		}
		return &models.EnrichedArticle{Title: raw.Title}, nil
	}}
	sched := s.newScheduler(p, SchedulerConfig{BatchSize: 2, Workers: 2})

	out, err := sched.Run(s.ctx, rawArticles(6))
	s.Require().Error(err)
	s.ErrorIs(err, gorm.ErrStoreUnavailable)
	s.Equal([]string{"a0", "a1"}, titles(out))
	s.Equal(-1, p.indexOf("start:a4"))
}

func (s *SchedulerSuite) TestRun_CanceledContextStopsBetweenWindows() {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	p := &mockProcessor{processFn: func(_ context.Context, raw models.RawArticle) (*models.EnrichedArticle, error) {
		if raw.Title == "a1" {
			cancel()
		}
		return &models.EnrichedArticle{Title: raw.Title}, nil
	}}
	sched := s.newScheduler(p, SchedulerConfig{BatchSize: 2, Workers: 1})

	out, err := sched.Run(ctx, rawArticles(4))
	s.ErrorIs(err, context.Canceled)
	s.Equal([]string{"a0", "a1"}, titles(out))
	s.Equal(-1, p.indexOf("start:a2"))
}

func (s *SchedulerSuite) TestRun_ReportsProgressPerWindow() {
	type progress struct{ processed, total int }
	var got []progress
	sched := s.newScheduler(&mockProcessor{}, SchedulerConfig{
		BatchSize: 2,
		Workers:   2,
		Progress: func(processed, total int) {
			got = append(got, progress{processed, total})
		},
	})

	_, err := sched.Run(s.ctx, rawArticles(5))
	s.Require().NoError(err)
	s.Equal([]progress{{2, 5}, {4, 5}, {5, 5}}, got)
}

func (s *SchedulerSuite) TestRun_Empty() {
	p := &mockProcessor{}
	sched := s.newScheduler(p, SchedulerConfig{})

	out, err := sched.Run(s.ctx, nil)
	s.Require().NoError(err)
	s.Empty(out)
	s.Empty(p.events)
}
