// Package scoring recalculates cluster rank and dominant category.
package scoring

import (
	"time"

	"github.com/thebtf/storyline/pkg/models"
)

// Calculator computes cluster scores from member articles.
type Calculator struct{}

// NewCalculator creates a new scoring calculator.
func NewCalculator() *Calculator {
	return &Calculator{}
}

// Calculate returns the dominant category and rank of one cluster.
// Members must be in retrieval order (ascending article id).
func (c *Calculator) Calculate(members []models.ClusterMember, now time.Time) models.ClusterScore {
	return models.ClusterScore{
		Category: DominantCategory(members),
		Rank:     RankCluster(members, now),
	}
}

// BatchCalculate scores every cluster in clusterIDs. Members may belong to any cluster; a cluster
// without members keeps an empty category and zero rank.
func (c *Calculator) BatchCalculate(clusterIDs []int64, members []models.ClusterMember, now time.Time) map[int64]models.ClusterScore {
	grouped := make(map[int64][]models.ClusterMember, len(clusterIDs))
	for _, m := range members {
		grouped[m.ClusterID] = append(grouped[m.ClusterID], m)
	}

	scores := make(map[int64]models.ClusterScore, len(clusterIDs))
	for _, id := range clusterIDs {
		scores[id] = c.Calculate(grouped[id], now)
	}
	return scores
}

// DominantCategory returns the most frequent category among members.
// Ties go to the category encountered first.
func DominantCategory(members []models.ClusterMember) string {
	counts := make(map[string]int, len(members))
	var order []string
	for _, m := range members {
		if _, seen := counts[m.Category]; !seen {
			order = append(order, m.Category)
		}
		counts[m.Category]++
	}

	best, bestCount := "", 0
	for _, category := range order {
		if counts[category] > bestCount {
			best, bestCount = category, counts[category]
		}
	}
	return best
}

// RankCluster accumulates a recency-weighted rank: each member adds 1 and subtracts its age in
// days, and the running total is clamped at 0 after every member. The clamp makes the result
// depend on member order.
func RankCluster(members []models.ClusterMember, now time.Time) float64 {
	rank := 0.0
	for _, m := range members {
		rank++
		rank -= now.Sub(m.CreatedTime()).Hours() / 24
		if rank < 0 {
			rank = 0
		}
	}
	return rank
}
