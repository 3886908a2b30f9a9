package memory

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/kmorand/ensemble/internal/similarity"
	"github.com/kmorand/ensemble/pkg/models"
)

// DefaultMaintenanceInterval is how often the background maintenance loop
// runs when no interval is configured.
const DefaultMaintenanceInterval = time.Hour

// TierManager moves records between tiers and keeps each tier within its
// retention rules. Promotion, consolidation, and expiry each take exclusive
// access to the id index and the tiers they touch while they run.
type TierManager struct {
	store  *Store
	scorer similarity.Scorer

	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu             sync.Mutex
	promotions     int
	consolidations int

	now func() time.Time // For testing
}

// NewTierManager creates a TierManager over the store. If scorer is nil a
// lexical scorer is used. If interval is 0, DefaultMaintenanceInterval
// applies.
func NewTierManager(store *Store, scorer similarity.Scorer, interval time.Duration) *TierManager {
	if scorer == nil {
		scorer = similarity.NewLexical()
	}
	if interval <= 0 {
		interval = DefaultMaintenanceInterval
	}
	return &TierManager{
		store:    store,
		scorer:   scorer,
		interval: interval,
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
}

// Promote moves a record into the next tier up, evicting from the
// destination if it is full. It fails with ErrCapacity when the
// destination cannot free space, leaving the record where it was.
// Records in semantic and procedural tiers cannot be promoted.
func (tm *TierManager) Promote(ctx context.Context, id string) (*models.MemoryRecord, error) {
	s := tm.store

	s.idxMu.Lock()
	tier, ok := s.index[id]
	if !ok {
		s.idxMu.Unlock()
		return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	next, ok := tier.Next()
	if !ok {
		s.idxMu.Unlock()
		return nil, fmt.Errorf("tier %s does not promote", tier)
	}

	from := s.buckets[tier]
	to := s.buckets[next]
	from.mu.Lock()
	to.mu.Lock()

	rec, ok := from.records[id]
	if !ok {
		to.mu.Unlock()
		from.mu.Unlock()
		s.idxMu.Unlock()
		return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}

	rec.Tier = next
	to.records[id] = rec
	evicted, err := s.evictOverflowLocked(to, next, s.policies[next], id)
	if err != nil {
		delete(to.records, id)
		rec.Tier = tier
		to.mu.Unlock()
		from.mu.Unlock()
		s.idxMu.Unlock()
		return nil, err
	}
	delete(from.records, id)

	if s.persist != nil {
		if perr := s.persist.Save(rec.Clone()); perr != nil {
			from.records[id] = rec
			delete(to.records, id)
			rec.Tier = tier
			for _, ev := range evicted {
				to.records[ev.ID] = ev
			}
			to.mu.Unlock()
			from.mu.Unlock()
			s.idxMu.Unlock()
			return nil, fmt.Errorf("persist promotion: %w", perr)
		}
		for _, ev := range evicted {
			if perr := s.persist.Delete(ev.ID); perr != nil {
				log.Printf("[memory] warning: persist delete %s: %v", ev.ID, perr)
			}
		}
	}

	s.index[id] = next
	for _, ev := range evicted {
		delete(s.index, ev.ID)
	}
	cp := rec.Clone()
	to.mu.Unlock()
	from.mu.Unlock()
	s.idxMu.Unlock()

	s.stats.mu.Lock()
	s.stats.evicted += len(evicted)
	s.stats.mu.Unlock()

	tm.mu.Lock()
	tm.promotions++
	tm.mu.Unlock()

	// The vector index keys documents by tier, so a promotion is a move.
	if s.vector != nil {
		if err := s.vector.Remove(ctx, string(tier), id); err != nil {
			log.Printf("[memory] warning: index remove %s: %v", id, err)
		}
		if err := s.vector.Add(ctx, string(next), id, cp.Content); err != nil {
			log.Printf("[memory] warning: index add %s: %v", id, err)
		}
		for _, ev := range evicted {
			if err := s.vector.Remove(ctx, string(ev.Tier), ev.ID); err != nil {
				log.Printf("[memory] warning: index remove %s: %v", ev.ID, err)
			}
		}
	}

	return cp, nil
}

// PromoteEligible sweeps the working and episodic tiers and promotes every
// record that meets its tier's promotion criteria:
//   - importance at or above the tier's promotion threshold
//   - access count at or above the tier's minimum
//   - age at or above the tier's minimum
//
// Returns the number of records promoted. A full destination stops
// promotions into that tier; the sweep moves on.
func (tm *TierManager) PromoteEligible(ctx context.Context) int {
	promoted := 0
	for _, tier := range models.AllTiers() {
		if _, ok := tier.Next(); !ok {
			continue
		}
		pol := tm.store.policies[tier]
		now := tm.now()

		var eligible []string
		b := tm.store.buckets[tier]
		b.mu.RLock()
		for id, rec := range b.records {
			if tm.eligibleForPromotion(rec, pol, now) {
				eligible = append(eligible, id)
			}
		}
		b.mu.RUnlock()
		sort.Strings(eligible)

		for _, id := range eligible {
			if _, err := tm.Promote(ctx, id); err != nil {
				// The record may have moved or expired since the scan, or
				// the destination is full. Either way the sweep continues.
				log.Printf("[memory] warning: promote %s: %v", id, err)
				continue
			}
			promoted++
		}
	}
	if promoted > 0 {
		log.Printf("[memory] promoted %d records", promoted)
	}
	return promoted
}

func (tm *TierManager) eligibleForPromotion(rec *models.MemoryRecord, pol TierPolicy, now time.Time) bool {
	return rec.Importance >= pol.PromotionThreshold &&
		rec.AccessCount >= pol.MinAccess &&
		rec.Age(now) >= pol.MinAge
}

// Consolidate merges near-duplicate records within one tier. Records are
// visited oldest first; when two score at or above ConsolidationThreshold
// the older record survives with the higher importance and the union of
// tags and keywords, and the newer record is removed. Running it again on
// an already-consolidated tier changes nothing.
// Returns the number of records merged away.
func (tm *TierManager) Consolidate(ctx context.Context, tier models.MemoryTier) (int, error) {
	if !tier.Valid() {
		return 0, fmt.Errorf("unknown tier %q", tier)
	}
	s := tm.store
	b := s.buckets[tier]

	s.idxMu.Lock()
	b.mu.Lock()

	snapshot := make([]*models.MemoryRecord, 0, len(b.records))
	for _, rec := range b.records {
		snapshot = append(snapshot, rec)
	}
	sort.Slice(snapshot, func(i, j int) bool {
		if !snapshot[i].CreatedAt.Equal(snapshot[j].CreatedAt) {
			return snapshot[i].CreatedAt.Before(snapshot[j].CreatedAt)
		}
		return snapshot[i].ID < snapshot[j].ID
	})

	consumed := make(map[string]bool, len(snapshot))
	changed := make(map[string]*models.MemoryRecord)
	var removed []string

	for i, canonical := range snapshot {
		if consumed[canonical.ID] {
			continue
		}
		for _, other := range snapshot[i+1:] {
			if consumed[other.ID] {
				continue
			}
			score, err := tm.scorer.Score(ctx, canonical.Content, other.Content)
			if err != nil {
				b.mu.Unlock()
				s.idxMu.Unlock()
				return 0, fmt.Errorf("score records %s and %s: %w", canonical.ID, other.ID, err)
			}
			if score < ConsolidationThreshold {
				continue
			}

			if other.Importance > canonical.Importance {
				canonical.Importance = other.Importance
			}
			canonical.Tags = mergeStrings(canonical.Tags, other.Tags)
			canonical.Keywords = mergeStrings(canonical.Keywords, other.Keywords)
			canonical.Pinned = canonical.Pinned || other.Pinned
			consumed[other.ID] = true
			changed[canonical.ID] = canonical
			removed = append(removed, other.ID)
		}
	}

	if s.persist != nil {
		for _, rec := range changed {
			if err := s.persist.Save(rec.Clone()); err != nil {
				log.Printf("[memory] warning: persist merge %s: %v", rec.ID, err)
			}
		}
		for _, id := range removed {
			if err := s.persist.Delete(id); err != nil {
				log.Printf("[memory] warning: persist delete %s: %v", id, err)
			}
		}
	}
	for _, id := range removed {
		delete(b.records, id)
		delete(s.index, id)
	}
	b.mu.Unlock()
	s.idxMu.Unlock()

	if len(removed) > 0 {
		tm.mu.Lock()
		tm.consolidations += len(removed)
		tm.mu.Unlock()
		log.Printf("[memory] consolidated %d records in %s tier", len(removed), tier)
	}

	if s.vector != nil {
		for _, id := range removed {
			if err := s.vector.Remove(ctx, string(tier), id); err != nil {
				log.Printf("[memory] warning: index remove %s: %v", id, err)
			}
		}
	}

	return len(removed), nil
}

// Sweep removes records whose tier TTL has elapsed. Pinned records are
// kept; pinning is an explicit instruction to retain. Returns the number
// of records removed.
func (tm *TierManager) Sweep(ctx context.Context) int {
	s := tm.store
	now := tm.now()
	total := 0

	for _, tier := range models.AllTiers() {
		pol := s.policies[tier]
		if pol.TTL <= 0 {
			continue
		}
		b := s.buckets[tier]

		s.idxMu.Lock()
		b.mu.Lock()
		var expired []string
		for id, rec := range b.records {
			if rec.Pinned {
				continue
			}
			if rec.Age(now) > pol.TTL {
				expired = append(expired, id)
			}
		}
		for _, id := range expired {
			if s.persist != nil {
				if err := s.persist.Delete(id); err != nil {
					log.Printf("[memory] warning: persist delete %s: %v", id, err)
					continue
				}
			}
			delete(b.records, id)
			delete(s.index, id)
			total++
		}
		b.mu.Unlock()
		s.idxMu.Unlock()

		if s.vector != nil {
			for _, id := range expired {
				if err := s.vector.Remove(ctx, string(tier), id); err != nil {
					log.Printf("[memory] warning: index remove %s: %v", id, err)
				}
			}
		}
	}

	if total > 0 {
		s.stats.mu.Lock()
		s.stats.expired += total
		s.stats.mu.Unlock()
		log.Printf("[memory] expired %d records", total)
	}
	return total
}

// Run starts the background maintenance loop: each tick sweeps expired
// records, promotes eligible ones, and consolidates the working tier.
// Larger tiers are consolidated on demand; scoring every pair of a full
// semantic tier is too much work for a periodic tick.
func (tm *TierManager) Run(ctx context.Context) {
	tm.wg.Add(1)
	go func() {
		defer tm.wg.Done()
		ticker := time.NewTicker(tm.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				tm.Sweep(ctx)
				tm.PromoteEligible(ctx)
				if _, err := tm.Consolidate(ctx, models.TierWorking); err != nil {
					log.Printf("[memory] warning: consolidate working tier: %v", err)
				}
			case <-tm.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the maintenance loop and waits for it to finish.
func (tm *TierManager) Stop() {
	tm.stopOnce.Do(func() {
		close(tm.stopCh)
	})
	tm.wg.Wait()
}

// Promotions returns how many records have been promoted.
func (tm *TierManager) Promotions() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.promotions
}

// Consolidations returns how many records consolidation has merged away.
func (tm *TierManager) Consolidations() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.consolidations
}
