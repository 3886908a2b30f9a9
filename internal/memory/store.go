package memory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kmorand/ensemble/internal/similarity"
	"github.com/kmorand/ensemble/pkg/models"
)

// ErrNotFound indicates no record exists with the given id.
var ErrNotFound = errors.New("record not found")

// ErrCapacity indicates a tier is full and eviction could not free space.
var ErrCapacity = errors.New("tier at capacity")

// ErrEmptyQuery indicates a retrieval was attempted with no query text.
var ErrEmptyQuery = errors.New("query is empty")

// bucket holds the records of one tier under its own lock, so retrieval in
// one tier never contends with maintenance in another.
type bucket struct {
	mu      sync.RWMutex
	records map[string]*models.MemoryRecord
}

type storeStats struct {
	mu      sync.Mutex
	saved   int
	evicted int
	expired int
}

// Store owns all memory records, partitioned by tier. Callers always
// receive copies.
//
// Lock order: the id index lock is acquired before any bucket lock, and
// bucket locks are acquired in tier rank order. No method acquires the
// index lock while holding a bucket lock.
type Store struct {
	policies map[models.MemoryTier]TierPolicy
	buckets  map[models.MemoryTier]*bucket

	idxMu sync.RWMutex
	index map[string]models.MemoryTier

	// persist, when set, receives every mutation and seeds the store on Load.
	persist RecordStore
	// vector, when set, mirrors record contents for candidate generation.
	// Index failures are logged, never fatal; the scan path still works.
	vector similarity.Index

	stats storeStats
	now   func() time.Time
}

// tierRank fixes the bucket lock order.
var tierRank = map[models.MemoryTier]int{
	models.TierWorking:    0,
	models.TierEpisodic:   1,
	models.TierSemantic:   2,
	models.TierProcedural: 3,
}

// NewStore creates a store with the given policies (nil for defaults).
// persist and vector are both optional.
func NewStore(policies map[models.MemoryTier]TierPolicy, persist RecordStore, vector similarity.Index) *Store {
	if policies == nil {
		policies = DefaultPolicies()
	}
	buckets := make(map[models.MemoryTier]*bucket, len(tierRank))
	for tier := range tierRank {
		buckets[tier] = &bucket{records: make(map[string]*models.MemoryRecord)}
	}
	return &Store{
		policies: policies,
		buckets:  buckets,
		index:    make(map[string]models.MemoryTier),
		persist:  persist,
		vector:   vector,
		now:      time.Now,
	}
}

// Load seeds the store from the persistence layer. Capacity is not enforced
// on load; whatever was durable comes back.
func (s *Store) Load(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}

	records, err := s.persist.LoadAll()
	if err != nil {
		return fmt.Errorf("load records: %w", err)
	}

	s.idxMu.Lock()
	for _, rec := range records {
		b, ok := s.buckets[rec.Tier]
		if !ok {
			log.Printf("[memory] skipping record %s with unknown tier %q", rec.ID, rec.Tier)
			continue
		}
		b.mu.Lock()
		b.records[rec.ID] = rec
		b.mu.Unlock()
		s.index[rec.ID] = rec.Tier
	}
	s.idxMu.Unlock()

	if s.vector != nil {
		for _, rec := range records {
			if err := s.vector.Add(ctx, string(rec.Tier), rec.ID, rec.Content); err != nil {
				log.Printf("[memory] index load for %s: %v", rec.ID, err)
			}
		}
	}

	log.Printf("[memory] loaded %d records", len(records))
	return nil
}

// Put stores a record in its tier, assigning an id and timestamps when
// missing. If the tier overflows, the lowest-retention unpinned records
// already present are evicted to make room; when nothing is evictable the
// put fails with ErrCapacity and the store is unchanged.
func (s *Store) Put(ctx context.Context, rec *models.MemoryRecord) (string, error) {
	if rec.Tier == "" {
		rec.Tier = models.TierWorking
	}
	if err := rec.Validate(); err != nil {
		return "", err
	}

	now := s.now()
	stored := rec.Clone()
	if stored.ID == "" {
		stored.ID = uuid.New().String()[:8]
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.LastAccessedAt.IsZero() {
		stored.LastAccessedAt = stored.CreatedAt
	}

	b := s.buckets[stored.Tier]
	pol := s.policies[stored.Tier]

	s.idxMu.Lock()
	if _, exists := s.index[stored.ID]; exists {
		s.idxMu.Unlock()
		return "", fmt.Errorf("record %s already exists", stored.ID)
	}

	b.mu.Lock()
	b.records[stored.ID] = stored
	evicted, err := s.evictOverflowLocked(b, stored.Tier, pol, stored.ID)
	if err != nil {
		delete(b.records, stored.ID)
		b.mu.Unlock()
		s.idxMu.Unlock()
		return "", err
	}
	if s.persist != nil {
		if perr := s.persist.Save(stored.Clone()); perr != nil {
			// Roll the insert back; the evicted records were not yet
			// removed from persistence either.
			for _, ev := range evicted {
				b.records[ev.ID] = ev
			}
			delete(b.records, stored.ID)
			b.mu.Unlock()
			s.idxMu.Unlock()
			return "", fmt.Errorf("persist record: %w", perr)
		}
		for _, ev := range evicted {
			if perr := s.persist.Delete(ev.ID); perr != nil {
				log.Printf("[memory] persist delete %s: %v", ev.ID, perr)
			}
		}
	}
	s.index[stored.ID] = stored.Tier
	for _, ev := range evicted {
		delete(s.index, ev.ID)
	}
	b.mu.Unlock()
	s.idxMu.Unlock()

	s.stats.mu.Lock()
	s.stats.saved++
	s.stats.evicted += len(evicted)
	s.stats.mu.Unlock()

	if s.vector != nil {
		if err := s.vector.Add(ctx, string(stored.Tier), stored.ID, stored.Content); err != nil {
			log.Printf("[memory] index add %s: %v", stored.ID, err)
		}
		for _, ev := range evicted {
			if err := s.vector.Remove(ctx, string(ev.Tier), ev.ID); err != nil {
				log.Printf("[memory] index remove %s: %v", ev.ID, err)
			}
		}
	}

	return stored.ID, nil
}

// evictOverflowLocked removes the lowest-retention unpinned records until
// the bucket fits its capacity. The record named by protectID (the one
// being inserted) is never a victim; per the capacity contract the eviction
// pool is what was already stored. Ties go to the older record.
// Returns the evicted records; the caller owns index and persistence
// cleanup. Requires the bucket lock.
func (s *Store) evictOverflowLocked(b *bucket, tier models.MemoryTier, pol TierPolicy, protectID string) ([]*models.MemoryRecord, error) {
	if pol.Capacity <= 0 || len(b.records) <= pol.Capacity {
		return nil, nil
	}

	now := s.now()
	type candidate struct {
		rec   *models.MemoryRecord
		score float64
	}
	var cands []candidate
	for id, rec := range b.records {
		if rec.Pinned || id == protectID {
			continue
		}
		cands = append(cands, candidate{rec: rec, score: retentionScore(rec, now)})
	}

	need := len(b.records) - pol.Capacity
	if len(cands) < need {
		return nil, fmt.Errorf("tier %s: %w", tier, ErrCapacity)
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score < cands[j].score
		}
		if !cands[i].rec.CreatedAt.Equal(cands[j].rec.CreatedAt) {
			return cands[i].rec.CreatedAt.Before(cands[j].rec.CreatedAt)
		}
		return cands[i].rec.ID < cands[j].rec.ID
	})

	evicted := make([]*models.MemoryRecord, 0, need)
	for i := 0; i < need; i++ {
		delete(b.records, cands[i].rec.ID)
		evicted = append(evicted, cands[i].rec)
	}
	return evicted, nil
}

// Get returns a copy of the record, or ErrNotFound.
func (s *Store) Get(id string) (*models.MemoryRecord, error) {
	s.idxMu.RLock()
	tier, ok := s.index[id]
	s.idxMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}

	b := s.buckets[tier]
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.records[id]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	return rec.Clone(), nil
}

// Delete removes a record everywhere.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.idxMu.Lock()
	tier, ok := s.index[id]
	if !ok {
		s.idxMu.Unlock()
		return fmt.Errorf("record %s: %w", id, ErrNotFound)
	}

	b := s.buckets[tier]
	b.mu.Lock()
	if s.persist != nil {
		if err := s.persist.Delete(id); err != nil {
			b.mu.Unlock()
			s.idxMu.Unlock()
			return fmt.Errorf("persist delete: %w", err)
		}
	}
	delete(b.records, id)
	delete(s.index, id)
	b.mu.Unlock()
	s.idxMu.Unlock()

	if s.vector != nil {
		if err := s.vector.Remove(ctx, string(tier), id); err != nil {
			log.Printf("[memory] index remove %s: %v", id, err)
		}
	}
	return nil
}

// Count returns the number of records in a tier.
func (s *Store) Count(tier models.MemoryTier) int {
	b, ok := s.buckets[tier]
	if !ok {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records)
}

// TotalCount returns the number of records across all tiers.
func (s *Store) TotalCount() int {
	total := 0
	for tier := range s.buckets {
		total += s.Count(tier)
	}
	return total
}

// All returns copies of every record in a tier, newest first.
func (s *Store) All(tier models.MemoryTier) []*models.MemoryRecord {
	b, ok := s.buckets[tier]
	if !ok {
		return nil
	}

	b.mu.RLock()
	out := make([]*models.MemoryRecord, 0, len(b.records))
	for _, rec := range b.records {
		out = append(out, rec.Clone())
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// candidates returns copies of the records in scope whose importance meets
// the floor. An empty tier means all tiers.
func (s *Store) candidates(tier models.MemoryTier, minImportance float64) []*models.MemoryRecord {
	tiers := models.AllTiers()
	if tier != "" {
		tiers = []models.MemoryTier{tier}
	}

	var out []*models.MemoryRecord
	for _, t := range tiers {
		b := s.buckets[t]
		b.mu.RLock()
		for _, rec := range b.records {
			if rec.Importance >= minImportance {
				out = append(out, rec.Clone())
			}
		}
		b.mu.RUnlock()
	}
	return out
}

// touch records a retrieval hit on each id: access count up, last access
// now. Returns fresh copies reflecting the bump. Persistence failures are
// logged; access stats are not worth failing a read.
func (s *Store) touch(ids []string) []*models.MemoryRecord {
	now := s.now()
	out := make([]*models.MemoryRecord, 0, len(ids))

	for _, id := range ids {
		s.idxMu.RLock()
		tier, ok := s.index[id]
		s.idxMu.RUnlock()
		if !ok {
			continue
		}

		b := s.buckets[tier]
		b.mu.Lock()
		rec, ok := b.records[id]
		if !ok {
			b.mu.Unlock()
			continue
		}
		rec.AccessCount++
		rec.LastAccessedAt = now
		cp := rec.Clone()
		b.mu.Unlock()

		if s.persist != nil {
			if err := s.persist.Save(cp.Clone()); err != nil {
				log.Printf("[memory] persist access update %s: %v", id, err)
			}
		}
		out = append(out, cp)
	}
	return out
}

// update applies fn to a record under its bucket lock and persists the
// result. Used by the curation operations.
func (s *Store) update(id string, fn func(*models.MemoryRecord)) (*models.MemoryRecord, error) {
	s.idxMu.RLock()
	tier, ok := s.index[id]
	s.idxMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}

	b := s.buckets[tier]
	b.mu.Lock()
	rec, ok := b.records[id]
	if !ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	fn(rec)
	cp := rec.Clone()
	var perr error
	if s.persist != nil {
		perr = s.persist.Save(rec.Clone())
	}
	b.mu.Unlock()

	if perr != nil {
		return nil, fmt.Errorf("persist record: %w", perr)
	}
	return cp, nil
}

// Evictions returns how many records capacity pressure has removed.
func (s *Store) Evictions() int {
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()
	return s.stats.evicted
}

// Saves returns how many records have been stored.
func (s *Store) Saves() int {
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()
	return s.stats.saved
}

// Expirations returns how many records the TTL sweep has removed.
func (s *Store) Expirations() int {
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()
	return s.stats.expired
}
