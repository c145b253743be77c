// Package clustering groups newly ingested articles into story clusters.
package clustering

import (
	"context"
	"fmt"
	"time"

	"github.com/thebtf/storyline/internal/db/gorm"
	"github.com/thebtf/storyline/pkg/models"
)

// MemberSource loads the members of recently updated clusters.
type MemberSource interface {
	RecentClusterMembers(ctx context.Context, since time.Time) ([]models.ClusterMember, error)
}

var _ MemberSource = (*gorm.ClusterStore)(nil)

// Member is one cached cluster member.
type Member struct {
	Text      string
	ArticleID int64
}

// Entry is the cached snapshot of one cluster.
type Entry struct {
	Members   []Member
	ClusterID int64
}

// Cache is the per-run snapshot of recently updated clusters.
// Entries keep load order; clusters added during the run are appended in creation order.
// A Cache is owned by a single run and is not safe for concurrent use.
type Cache struct {
	byID    map[int64]*Entry
	entries []*Entry
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{byID: make(map[int64]*Entry)}
}

// LoadCache builds a cache from the clusters updated after since.
func LoadCache(ctx context.Context, src MemberSource, since time.Time) (*Cache, error) {
	members, err := src.RecentClusterMembers(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("load recent clusters: %w", err)
	}

	c := NewCache()
	for _, m := range members {
		entry, ok := c.byID[m.ClusterID]
		if !ok {
			entry = c.addEntry(m.ClusterID)
		}
		entry.Members = append(entry.Members, Member{ArticleID: m.ArticleID, Text: m.NormalizedText})
	}
	return c, nil
}

func (c *Cache) addEntry(clusterID int64) *Entry {
	entry := &Entry{ClusterID: clusterID}
	c.byID[clusterID] = entry
	c.entries = append(c.entries, entry)
	return entry
}

// Entries returns the cached clusters in enumeration order.
func (c *Cache) Entries() []*Entry {
	return c.entries
}

// Get returns the entry for a cluster, or nil.
func (c *Cache) Get(clusterID int64) *Entry {
	return c.byID[clusterID]
}

// Len returns the number of cached clusters.
func (c *Cache) Len() int {
	return len(c.entries)
}

// MemberCount returns the total number of cached members.
func (c *Cache) MemberCount() int {
	n := 0
	for _, e := range c.entries {
		n += len(e.Members)
	}
	return n
}

// AddCluster registers a new cluster with its first member at the end of the enumeration order.
func (c *Cache) AddCluster(clusterID int64, first Member) {
	entry, ok := c.byID[clusterID]
	if !ok {
		entry = c.addEntry(clusterID)
	}
	entry.Members = append(entry.Members, first)
}

// AddMember appends a member to a cached cluster.
func (c *Cache) AddMember(clusterID int64, m Member) error {
	entry, ok := c.byID[clusterID]
	if !ok {
		return fmt.Errorf("cluster %d not in cache", clusterID)
	}
	entry.Members = append(entry.Members, m)
	return nil
}
