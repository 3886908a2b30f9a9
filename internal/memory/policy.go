package memory

import (
	"time"

	"github.com/kmorand/ensemble/pkg/models"
)

// Retrieval and retention defaults.
const (
	// DefaultLimit is the retrieval result count when none is given.
	DefaultLimit = 5
	// DefaultMinImportance is the retrieval importance floor when none is given.
	DefaultMinImportance = 0.3
	// ConsolidationThreshold is the similarity at which two records merge.
	ConsolidationThreshold = 0.85
	// recencyHorizon is the window over which recency decays to zero.
	recencyHorizon = 30 * 24 * time.Hour
)

// TierPolicy holds the retention parameters of one tier.
type TierPolicy struct {
	// Capacity is the maximum number of records; eviction keeps the tier
	// at or below this.
	Capacity int
	// TTL is how long a record may live in the tier; 0 means no expiry.
	TTL time.Duration
	// PromotionThreshold is the minimum importance to promote out.
	PromotionThreshold float64
	// MinAccess is the minimum access count to promote out.
	MinAccess int
	// MinAge is the minimum age to promote out.
	MinAge time.Duration
}

// DefaultPolicies returns the standard per-tier retention parameters.
func DefaultPolicies() map[models.MemoryTier]TierPolicy {
	return map[models.MemoryTier]TierPolicy{
		models.TierWorking: {
			Capacity:           50,
			TTL:                24 * time.Hour,
			PromotionThreshold: 0.7,
			MinAccess:          3,
			MinAge:             7 * 24 * time.Hour,
		},
		models.TierEpisodic: {
			Capacity:           500,
			TTL:                30 * 24 * time.Hour,
			PromotionThreshold: 0.5,
			MinAccess:          10,
			MinAge:             7 * 24 * time.Hour,
		},
		models.TierSemantic: {
			Capacity: 5000,
		},
		models.TierProcedural: {
			Capacity: 1000,
		},
	}
}

// retentionScore ranks a record for eviction: higher scores survive longer.
// Access normalizes against ten retrievals; recency decays linearly over
// the horizon.
func retentionScore(rec *models.MemoryRecord, now time.Time) float64 {
	access := float64(rec.AccessCount) / 10
	if access > 1 {
		access = 1
	}
	return 0.4*rec.Importance + 0.3*access + 0.3*recencyScore(rec.CreatedAt, now)
}

// recencyScore is 1 for brand-new records, decaying linearly to 0 at the
// recency horizon.
func recencyScore(createdAt, now time.Time) float64 {
	age := now.Sub(createdAt)
	if age <= 0 {
		return 1
	}
	score := 1 - float64(age)/float64(recencyHorizon)
	if score < 0 {
		return 0
	}
	return score
}
