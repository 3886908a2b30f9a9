package memory

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/kmorand/ensemble/internal/similarity"
	"github.com/kmorand/ensemble/pkg/models"
)

// Query describes one retrieval. The zero value is not useful; build
// queries with NewQuery so the standard limit and importance floor apply.
type Query struct {
	// Text is what to match against record contents. Required.
	Text string
	// Tier restricts the search to one tier. Empty searches all tiers.
	Tier models.MemoryTier
	// Limit caps how many records come back. Zero or negative means
	// DefaultLimit.
	Limit int
	// MinImportance drops records below this importance before ranking.
	// Zero admits everything; NewQuery seeds the standard floor.
	MinImportance float64
}

// NewQuery returns a Query for text with the default limit and
// importance floor.
func NewQuery(text string) Query {
	return Query{
		Text:          text,
		Limit:         DefaultLimit,
		MinImportance: DefaultMinImportance,
	}
}

// Result is one ranked retrieval hit.
type Result struct {
	// Record is a copy reflecting the access this retrieval recorded.
	Record *models.MemoryRecord
	// Score is the combined rank score in [0,1].
	Score float64
	// Similarity is the text similarity component of the score.
	Similarity float64
}

// Retriever ranks stored records against query text. Rank score blends
// three signals: 50% text similarity, 30% importance, 20% recency, where
// recency decays linearly to zero over thirty days.
type Retriever struct {
	store  *Store
	scorer similarity.Scorer
	now    func() time.Time // For testing
}

// NewRetriever creates a Retriever over the store. If scorer is nil a
// lexical scorer is used.
func NewRetriever(store *Store, scorer similarity.Scorer) *Retriever {
	if scorer == nil {
		scorer = similarity.NewLexical()
	}
	return &Retriever{
		store:  store,
		scorer: scorer,
		now:    time.Now,
	}
}

// Retrieve returns the best-matching records for the query, highest score
// first. Every returned record has its access count and last-access time
// updated; records that merely matched but did not make the cut are left
// untouched. An empty store yields an empty result, not an error.
func (r *Retriever) Retrieve(ctx context.Context, q Query) ([]Result, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, ErrEmptyQuery
	}
	if q.Tier != "" && !q.Tier.Valid() {
		return nil, fmt.Errorf("unknown tier %q", q.Tier)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	scored, err := r.rank(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	if len(scored) > limit {
		scored = scored[:limit]
	}

	ids := make([]string, len(scored))
	for i, res := range scored {
		ids[i] = res.Record.ID
	}
	touched := r.store.touch(ids)
	byID := make(map[string]*models.MemoryRecord, len(touched))
	for _, rec := range touched {
		byID[rec.ID] = rec
	}

	out := make([]Result, 0, len(scored))
	for _, res := range scored {
		rec, ok := byID[res.Record.ID]
		if !ok {
			// Removed between ranking and the access update.
			continue
		}
		res.Record = rec
		out = append(out, res)
	}
	return out, nil
}

// rank scores the candidate set and orders it best first.
func (r *Retriever) rank(ctx context.Context, q Query, limit int) ([]Result, error) {
	candidates, sims, err := r.gather(ctx, q, limit)
	if err != nil {
		return nil, err
	}

	now := r.now()
	results := make([]Result, 0, len(candidates))
	for i, rec := range candidates {
		score := 0.5*sims[i] + 0.3*rec.Importance + 0.2*recencyScore(rec.CreatedAt, now)
		results = append(results, Result{Record: rec, Score: score, Similarity: sims[i]})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		ri, rj := results[i].Record, results[j].Record
		if !ri.LastAccessedAt.Equal(rj.LastAccessedAt) {
			return ri.LastAccessedAt.After(rj.LastAccessedAt)
		}
		return ri.ID < rj.ID
	})
	return results, nil
}

// gather produces candidate records with their similarity to the query.
// When a vector index is present it narrows the candidate set; otherwise
// every record in scope is scored directly.
func (r *Retriever) gather(ctx context.Context, q Query, limit int) ([]*models.MemoryRecord, []float64, error) {
	if r.store.vector != nil {
		recs, sims, err := r.gatherIndexed(ctx, q, limit)
		if err == nil {
			return recs, sims, nil
		}
		log.Printf("[memory] warning: vector query failed, scanning instead: %v", err)
	}
	return r.gatherScan(ctx, q)
}

func (r *Retriever) gatherIndexed(ctx context.Context, q Query, limit int) ([]*models.MemoryRecord, []float64, error) {
	tiers := models.AllTiers()
	if q.Tier != "" {
		tiers = []models.MemoryTier{q.Tier}
	}

	// Over-fetch per tier; importance and recency reshuffle the order
	// after similarity narrows it.
	perTier := limit * 2

	var recs []*models.MemoryRecord
	var sims []float64
	for _, tier := range tiers {
		matches, err := r.store.vector.Query(ctx, string(tier), q.Text, perTier)
		if err != nil {
			return nil, nil, fmt.Errorf("query %s tier: %w", tier, err)
		}
		for _, m := range matches {
			rec, err := r.store.Get(m.ID)
			if err != nil {
				// Indexed but since removed from the store.
				continue
			}
			if rec.Importance < q.MinImportance {
				continue
			}
			recs = append(recs, rec)
			sims = append(sims, m.Score)
		}
	}
	return recs, sims, nil
}

func (r *Retriever) gatherScan(ctx context.Context, q Query) ([]*models.MemoryRecord, []float64, error) {
	candidates := r.store.candidates(q.Tier, q.MinImportance)
	recs := make([]*models.MemoryRecord, 0, len(candidates))
	sims := make([]float64, 0, len(candidates))
	for _, rec := range candidates {
		sim, err := r.scorer.Score(ctx, q.Text, rec.Content)
		if err != nil {
			return nil, nil, fmt.Errorf("score record %s: %w", rec.ID, err)
		}
		recs = append(recs, rec)
		sims = append(sims, sim)
	}
	return recs, sims, nil
}
