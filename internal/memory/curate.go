package memory

import (
	"fmt"
	"sort"

	"github.com/kmorand/ensemble/pkg/models"
)

// Tag adds tags to a record, deduplicating against what it already carries.
func (s *Store) Tag(id string, tags ...string) (*models.MemoryRecord, error) {
	if len(tags) == 0 {
		return s.Get(id)
	}
	return s.update(id, func(rec *models.MemoryRecord) {
		rec.Tags = mergeStrings(rec.Tags, tags)
	})
}

// SetImportance replaces a record's importance. The value must be in [0, 1].
func (s *Store) SetImportance(id string, importance float64) (*models.MemoryRecord, error) {
	if importance < 0 || importance > 1 {
		return nil, fmt.Errorf("importance must be between 0 and 1, got %v", importance)
	}
	return s.update(id, func(rec *models.MemoryRecord) {
		rec.Importance = importance
	})
}

// SetPinned marks or unmarks a record as exempt from eviction.
func (s *Store) SetPinned(id string, pinned bool) (*models.MemoryRecord, error) {
	return s.update(id, func(rec *models.MemoryRecord) {
		rec.Pinned = pinned
	})
}

// ByTag returns copies of every record carrying the tag, newest first.
// An empty tier means all tiers.
func (s *Store) ByTag(tier models.MemoryTier, tag string) []*models.MemoryRecord {
	tiers := models.AllTiers()
	if tier != "" {
		tiers = []models.MemoryTier{tier}
	}

	var out []*models.MemoryRecord
	for _, t := range tiers {
		b := s.buckets[t]
		b.mu.RLock()
		for _, rec := range b.records {
			if hasString(rec.Tags, tag) {
				out = append(out, rec.Clone())
			}
		}
		b.mu.RUnlock()
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// mergeStrings unions two string slices preserving the order of first
// appearance.
func mergeStrings(existing, extra []string) []string {
	seen := make(map[string]bool, len(existing)+len(extra))
	out := make([]string, 0, len(existing)+len(extra))
	for _, v := range existing {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, v := range extra {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func hasString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
