// Package memory provides the tiered memory-retention system.
//
// # Tiers
//
// Records live in exactly one of four tiers, each with its own capacity,
// TTL, and promotion criteria:
//
//   - working: immediate context, small and volatile (1 day TTL)
//   - episodic: time-bound events and session outcomes (30 day TTL)
//   - semantic: long-lived factual knowledge (no TTL)
//   - procedural: solution patterns and workflows (no TTL)
//
// Records promote working -> episodic -> semantic when they prove important
// and frequently accessed. Procedural sits outside the promotion chain and
// is populated explicitly.
//
// # Retention
//
// When a tier exceeds its capacity, the lowest-value records are evicted
// by a retention score combining importance, access frequency, and recency.
// Pinned records are never evicted. Similar records within a tier are
// consolidated into one, keeping the oldest as canonical.
package memory
