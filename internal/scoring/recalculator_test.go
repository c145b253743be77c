package scoring

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/storyline/internal/db/gorm"
	"github.com/thebtf/storyline/internal/db/gorm/gormtest"
	"github.com/thebtf/storyline/pkg/models"
)

// MockClusterStore is a mock implementation of ClusterStore for testing.
type MockClusterStore struct {
	listErr     error
	updateErr   error
	since       time.Time
	scores      map[int64]models.ClusterScore
	clusters    []*models.Cluster
	members     []models.ClusterMember
	updateCalls int
	mu          sync.Mutex
}

func (m *MockClusterStore) RecentClusters(_ context.Context, since time.Time) ([]*models.Cluster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.since = since
	return m.clusters, m.listErr
}

func (m *MockClusterStore) RecentClusterMembers(_ context.Context, _ time.Time) ([]models.ClusterMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.members, nil
}

func (m *MockClusterStore) UpdateClusterScores(_ context.Context, scores map[int64]models.ClusterScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if m.updateErr != nil {
		return m.updateErr
	}
	m.scores = scores
	return nil
}

func (m *MockClusterStore) UpdateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateCalls
}

func newTestRecalculator(store ClusterStore) *Recalculator {
	r := NewRecalculator(store, nil, 24*time.Hour, time.Hour, zerolog.Nop())
	r.now = func() time.Time { return refNow }
	return r
}

func TestNewRecalculator_Defaults(t *testing.T) {
	r := NewRecalculator(&MockClusterStore{}, nil, 0, 0, zerolog.Nop())
	require.NotNil(t, r.calculator)
	assert.Equal(t, 24*time.Hour, r.window)
	assert.Equal(t, time.Hour, r.interval)
	assert.False(t, r.GetStats().Running)
}

func TestRecalculator_RecalculateNow(t *testing.T) {
	store := &MockClusterStore{
		clusters: []*models.Cluster{{ID: 1}, {ID: 2}},
		members: []models.ClusterMember{
			member(1, 1, "sports", 48*time.Hour),
			member(2, 2, "business", 0),
			member(2, 3, "science", 0),
		},
	}
	r := newTestRecalculator(store)

	require.NoError(t, r.RecalculateNow(context.Background()))
	assert.Equal(t, refNow.Add(-24*time.Hour), store.since)
	assert.Equal(t, models.ClusterScore{Category: "sports", Rank: 0}, store.scores[1])
	assert.Equal(t, "business", store.scores[2].Category)
	assert.InDelta(t, 2.0, store.scores[2].Rank, 1e-9)

	stats := r.GetStats()
	assert.Equal(t, 2, stats.LastCount)
	assert.Equal(t, int64(1), stats.TotalRuns)
}

func TestRecalculator_NoClusters(t *testing.T) {
	store := &MockClusterStore{}
	r := newTestRecalculator(store)

	require.NoError(t, r.RecalculateNow(context.Background()))
	assert.Zero(t, store.UpdateCalls())
	assert.Equal(t, int64(1), r.GetStats().TotalRuns)
}

func TestRecalculator_Errors(t *testing.T) {
	boom := errors.New("boom")

	r := newTestRecalculator(&MockClusterStore{listErr: boom})
	assert.ErrorIs(t, r.RecalculateNow(context.Background()), boom)

	store := &MockClusterStore{clusters: []*models.Cluster{{ID: 1}}, updateErr: boom}
	r = newTestRecalculator(store)
	assert.ErrorIs(t, r.RecalculateNow(context.Background()), boom)
	assert.Zero(t, r.GetStats().TotalRuns)
}

func TestRecalculator_StartStop(t *testing.T) {
	store := &MockClusterStore{clusters: []*models.Cluster{{ID: 1}}}
	r := NewRecalculator(store, nil, time.Hour, 10*time.Millisecond, zerolog.Nop())

	go r.Start(context.Background())
	require.Eventually(t, func() bool { return store.UpdateCalls() > 0 }, time.Second, 5*time.Millisecond)
	assert.True(t, r.GetStats().Running)

	r.Stop()
	assert.False(t, r.GetStats().Running)
}

func TestRecalculator_StopsOnContextCancel(t *testing.T) {
	r := NewRecalculator(&MockClusterStore{}, nil, time.Hour, time.Hour, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return r.GetStats().Running }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("recalculator did not stop")
	}
}

func TestRecalculator_WithStore(t *testing.T) {
	store := gormtest.NewStore(t)
	articles := gorm.NewArticleStore(store)
	clusters := gorm.NewClusterStore(store)
	ctx := context.Background()

	now := time.Now()
	created := now.Add(-48 * time.Hour)
	id, err := articles.StoreArticle(ctx, &models.EnrichedArticle{Title: "old", Category: "world", CreatedAt: created})
	require.NoError(t, err)

	var clusterID int64
	require.NoError(t, clusters.WithTransaction(ctx, func(w gorm.ClusterWriter) error {
		clusterID, err = w.CreateCluster(ctx, id, 0, now)
		return err
	}))

	r := NewRecalculator(clusters, nil, 24*time.Hour, time.Hour, zerolog.Nop())
	require.NoError(t, r.RecalculateNow(ctx))

	got, err := clusters.GetCluster(ctx, clusterID)
	require.NoError(t, err)
	assert.Equal(t, "world", got.Category)
	assert.InDelta(t, 0.0, got.Rank, 1e-9)
}
