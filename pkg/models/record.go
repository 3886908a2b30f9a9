package models

import (
	"fmt"
	"strings"
	"time"
)

// MemoryTier classifies records by retention characteristics.
type MemoryTier string

const (
	// TierWorking holds immediate context; small and volatile.
	TierWorking MemoryTier = "working"
	// TierEpisodic holds time-bound events and session outcomes.
	TierEpisodic MemoryTier = "episodic"
	// TierSemantic holds long-lived factual knowledge.
	TierSemantic MemoryTier = "semantic"
	// TierProcedural holds solution patterns and workflows.
	TierProcedural MemoryTier = "procedural"
)

// AllTiers lists every tier in promotion order, procedural last.
func AllTiers() []MemoryTier {
	return []MemoryTier{TierWorking, TierEpisodic, TierSemantic, TierProcedural}
}

// Valid returns true if the tier is a known value.
func (t MemoryTier) Valid() bool {
	switch t {
	case TierWorking, TierEpisodic, TierSemantic, TierProcedural:
		return true
	default:
		return false
	}
}

// Next returns the tier a record promotes into, if any. Procedural sits
// outside the promotion chain; records are moved there explicitly.
func (t MemoryTier) Next() (MemoryTier, bool) {
	switch t {
	case TierWorking:
		return TierEpisodic, true
	case TierEpisodic:
		return TierSemantic, true
	default:
		return "", false
	}
}

// MemorySource records where a memory came from.
type MemorySource string

const (
	// SourceUser marks records saved directly by a person.
	SourceUser MemorySource = "user"
	// SourceWorker marks records produced by worker output.
	SourceWorker MemorySource = "worker"
	// SourceCoordinator marks session summaries written by the engine.
	SourceCoordinator MemorySource = "coordinator"
	// SourceSystem marks records created by maintenance.
	SourceSystem MemorySource = "system"
)

// MemoryRecord is one stored memory. The store owns records; callers
// receive copies.
type MemoryRecord struct {
	// ID is the unique identifier, an 8-character prefix of a UUID.
	ID string `json:"id"`
	// Content is the memory text.
	Content string `json:"content"`
	// Tier is the retention class the record currently belongs to.
	Tier MemoryTier `json:"tier"`
	// Importance weighs the record for retention and retrieval, in [0,1].
	Importance float64 `json:"importance"`
	// Tags are category labels attached by callers or consolidation.
	Tags []string `json:"tags,omitempty"`
	// Keywords are search hints attached by callers or consolidation.
	Keywords []string `json:"keywords,omitempty"`
	// Source records where the memory came from.
	Source MemorySource `json:"source,omitempty"`
	// Pinned records are never evicted by capacity pressure.
	Pinned bool `json:"pinned,omitempty"`
	// CreatedAt is when the record was stored.
	CreatedAt time.Time `json:"created_at"`
	// LastAccessedAt is when the record was last returned by retrieval.
	LastAccessedAt time.Time `json:"last_accessed_at"`
	// AccessCount is how many times retrieval has returned the record.
	AccessCount int `json:"access_count"`
}

// Validate checks that the record is well-formed for storage.
func (r *MemoryRecord) Validate() error {
	if strings.TrimSpace(r.Content) == "" {
		return fmt.Errorf("record content is required")
	}
	if !r.Tier.Valid() {
		return fmt.Errorf("unknown tier %q", r.Tier)
	}
	if r.Importance < 0 || r.Importance > 1 {
		return fmt.Errorf("importance %v out of range [0,1]", r.Importance)
	}
	return nil
}

// Clone returns a deep copy of the record.
func (r *MemoryRecord) Clone() *MemoryRecord {
	cp := *r
	if r.Tags != nil {
		cp.Tags = append([]string(nil), r.Tags...)
	}
	if r.Keywords != nil {
		cp.Keywords = append([]string(nil), r.Keywords...)
	}
	return &cp
}

// Age returns how long the record has existed as of now.
func (r *MemoryRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}
