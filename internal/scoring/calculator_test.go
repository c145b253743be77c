package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/thebtf/storyline/pkg/models"
)

var refNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func member(clusterID, articleID int64, category string, age time.Duration) models.ClusterMember {
	return models.ClusterMember{
		ClusterID:      clusterID,
		ArticleID:      articleID,
		Category:       category,
		CreatedAtEpoch: refNow.Add(-age).UnixMilli(),
	}
}

func TestRankCluster(t *testing.T) {
	tests := []struct {
		name    string
		members []models.ClusterMember
		want    float64
	}{
		{"empty", nil, 0},
		{"fresh article", []models.ClusterMember{member(1, 1, "", 0)}, 1},
		{"one day old", []models.ClusterMember{member(1, 1, "", 24 * time.Hour)}, 0},
		{"48 hours old clamps to zero", []models.ClusterMember{member(1, 1, "", 48 * time.Hour)}, 0},
		{"12 hours old", []models.ClusterMember{member(1, 1, "", 12 * time.Hour)}, 0.5},
		{"two fresh articles", []models.ClusterMember{member(1, 1, "", 0), member(1, 2, "", 0)}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, RankCluster(tt.members, refNow), 1e-9)
		})
	}
}

func TestRankCluster_ClampIsPathDependent(t *testing.T) {
	old := member(1, 1, "", 72*time.Hour)
	fresh := member(1, 2, "", 0)

	// old first: 1-3 -> clamp 0, then +1 -> 1
	assert.InDelta(t, 1.0, RankCluster([]models.ClusterMember{old, fresh}, refNow), 1e-9)
	// fresh first: 1, then 1+1-3 -> clamp 0
	assert.InDelta(t, 0.0, RankCluster([]models.ClusterMember{fresh, old}, refNow), 1e-9)
}

func TestDominantCategory(t *testing.T) {
	tests := []struct {
		name       string
		categories []string
		want       string
	}{
		{"empty", nil, ""},
		{"single", []string{"sports"}, "sports"},
		{"majority", []string{"sports", "business", "business"}, "business"},
		{"tie goes to first encountered", []string{"sports", "business", "business", "sports"}, "sports"},
		{"three way tie", []string{"science", "sports", "business"}, "science"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			members := make([]models.ClusterMember, len(tt.categories))
			for i, c := range tt.categories {
				members[i] = member(1, int64(i+1), c, 0)
			}
			assert.Equal(t, tt.want, DominantCategory(members))
		})
	}
}

func TestCalculator_BatchCalculate(t *testing.T) {
	calc := NewCalculator()
	members := []models.ClusterMember{
		member(1, 1, "sports", 0),
		member(2, 2, "business", 12*time.Hour),
		member(1, 3, "sports", 0),
	}

	scores := calc.BatchCalculate([]int64{1, 2, 3}, members, refNow)
	assert.Len(t, scores, 3)
	assert.Equal(t, "sports", scores[1].Category)
	assert.InDelta(t, 2.0, scores[1].Rank, 1e-9)
	assert.Equal(t, "business", scores[2].Category)
	assert.InDelta(t, 0.5, scores[2].Rank, 1e-9)
	assert.Equal(t, models.ClusterScore{}, scores[3])
}
