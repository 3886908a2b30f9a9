package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/kmorand/ensemble/internal/similarity"
	"github.com/kmorand/ensemble/pkg/models"
)

// SystemConfig configures a memory System.
type SystemConfig struct {
	// DBPath is the SQLite file backing the system. Empty means
	// memory-only; nothing survives the process.
	DBPath string
	// Scorer ranks text similarity. Nil means lexical scoring.
	Scorer similarity.Scorer
	// Index narrows retrieval candidates. Optional.
	Index similarity.Index
	// Policies override the default tier policies. Nil means defaults.
	Policies map[models.MemoryTier]TierPolicy
	// MaintenanceInterval is how often the background loop runs. Zero
	// means DefaultMaintenanceInterval.
	MaintenanceInterval time.Duration
}

// System integrates the store, retriever, and tier manager behind one
// surface. It is what the coordinator and the CLI talk to.
type System struct {
	store     *Store
	retriever *Retriever
	tiers     *TierManager
	persist   RecordStore
}

// NewSystem creates a memory System with all components wired together.
// When a database path is configured it opens the database, runs
// migrations, and seeds the store from it; ctx governs that initial load.
func NewSystem(ctx context.Context, cfg SystemConfig) (*System, error) {
	var persist RecordStore
	if cfg.DBPath != "" {
		sqlStore, err := NewSQLiteRecordStore(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open memory database: %w", err)
		}
		persist = sqlStore
	}

	store := NewStore(cfg.Policies, persist, cfg.Index)
	if err := store.Load(ctx); err != nil {
		if persist != nil {
			persist.Close()
		}
		return nil, fmt.Errorf("seed memory store: %w", err)
	}

	return &System{
		store:     store,
		retriever: NewRetriever(store, cfg.Scorer),
		tiers:     NewTierManager(store, cfg.Scorer, cfg.MaintenanceInterval),
		persist:   persist,
	}, nil
}

// Close stops maintenance and releases the database.
func (sys *System) Close() error {
	sys.tiers.Stop()
	if sys.persist != nil {
		return sys.persist.Close()
	}
	return nil
}

// StartMaintenance launches the background sweep loop.
func (sys *System) StartMaintenance(ctx context.Context) {
	sys.tiers.Run(ctx)
}

// Save stores a record and returns its id.
func (sys *System) Save(ctx context.Context, rec *models.MemoryRecord) (string, error) {
	return sys.store.Put(ctx, rec)
}

// Get returns a copy of one record by id.
func (sys *System) Get(id string) (*models.MemoryRecord, error) {
	return sys.store.Get(id)
}

// Delete removes a record.
func (sys *System) Delete(ctx context.Context, id string) error {
	return sys.store.Delete(ctx, id)
}

// Search ranks stored records against the query.
func (sys *System) Search(ctx context.Context, q Query) ([]Result, error) {
	return sys.retriever.Retrieve(ctx, q)
}

// SearchKeywords runs a full-text search against the database index.
// It requires a database-backed system.
func (sys *System) SearchKeywords(query string, limit int) ([]*models.MemoryRecord, error) {
	if sys.persist == nil {
		return nil, fmt.Errorf("keyword search requires a database-backed memory system")
	}
	return sys.persist.SearchKeywords(query, limit)
}

// List returns every record in a tier, newest first.
func (sys *System) List(tier models.MemoryTier) []*models.MemoryRecord {
	return sys.store.All(tier)
}

// ByTag returns every record carrying the tag.
func (sys *System) ByTag(tier models.MemoryTier, tag string) []*models.MemoryRecord {
	return sys.store.ByTag(tier, tag)
}

// Tag adds tags to a record.
func (sys *System) Tag(id string, tags ...string) (*models.MemoryRecord, error) {
	return sys.store.Tag(id, tags...)
}

// SetImportance replaces a record's importance.
func (sys *System) SetImportance(id string, importance float64) (*models.MemoryRecord, error) {
	return sys.store.SetImportance(id, importance)
}

// SetPinned marks or unmarks a record as exempt from eviction.
func (sys *System) SetPinned(id string, pinned bool) (*models.MemoryRecord, error) {
	return sys.store.SetPinned(id, pinned)
}

// Promote moves a record into the next tier up.
func (sys *System) Promote(ctx context.Context, id string) (*models.MemoryRecord, error) {
	return sys.tiers.Promote(ctx, id)
}

// PromoteEligible promotes every record meeting its tier's criteria.
func (sys *System) PromoteEligible(ctx context.Context) int {
	return sys.tiers.PromoteEligible(ctx)
}

// Consolidate merges near-duplicates within a tier.
func (sys *System) Consolidate(ctx context.Context, tier models.MemoryTier) (int, error) {
	return sys.tiers.Consolidate(ctx, tier)
}

// Sweep removes expired records.
func (sys *System) Sweep(ctx context.Context) int {
	return sys.tiers.Sweep(ctx)
}

// SaveSessionSummary records a coordination session's synthesized output
// as an episodic memory so later sessions can retrieve it.
func (sys *System) SaveSessionSummary(ctx context.Context, sessionID, summary string) (string, error) {
	rec := &models.MemoryRecord{
		Content:    summary,
		Tier:       models.TierEpisodic,
		Importance: 0.6,
		Tags:       []string{"coordination", "session:" + sessionID},
		Source:     models.SourceCoordinator,
	}
	return sys.store.Put(ctx, rec)
}

// SummaryStats counts what the system has done since it started.
type SummaryStats struct {
	// Saves is how many records have been stored.
	Saves int `json:"saves"`
	// Promotions is how many records moved up a tier.
	Promotions int `json:"promotions"`
	// Consolidations is how many records merged away as duplicates.
	Consolidations int `json:"consolidations"`
	// Prunings is how many records capacity eviction and TTL expiry removed.
	Prunings int `json:"prunings"`
}

// Summary describes the current shape of stored memory.
type Summary struct {
	// Total is the record count across all tiers.
	Total int `json:"total"`
	// ByTier counts records per tier.
	ByTier map[models.MemoryTier]int `json:"by_tier"`
	// ByImportance buckets records into critical (>= 0.9), high (>= 0.7),
	// medium (>= 0.4), and low bands.
	ByImportance map[string]int `json:"by_importance"`
	// AgeDistribution buckets records by age: today, week, month, older.
	AgeDistribution map[string]int `json:"age_distribution"`
	// Stats counts lifecycle activity since startup.
	Stats SummaryStats `json:"stats"`
}

// Summarize reports record counts by tier, importance band, and age,
// along with lifecycle activity counters.
func (sys *System) Summarize() Summary {
	now := sys.store.now()
	sum := Summary{
		ByTier:          make(map[models.MemoryTier]int, 4),
		ByImportance:    map[string]int{"critical": 0, "high": 0, "medium": 0, "low": 0},
		AgeDistribution: map[string]int{"today": 0, "week": 0, "month": 0, "older": 0},
	}

	for _, tier := range models.AllTiers() {
		records := sys.store.All(tier)
		sum.ByTier[tier] = len(records)
		sum.Total += len(records)
		for _, rec := range records {
			sum.ByImportance[importanceBand(rec.Importance)]++
			sum.AgeDistribution[ageBand(rec.Age(now))]++
		}
	}

	sum.Stats = SummaryStats{
		Saves:          sys.store.Saves(),
		Promotions:     sys.tiers.Promotions(),
		Consolidations: sys.tiers.Consolidations(),
		Prunings:       sys.store.Evictions() + sys.store.Expirations(),
	}
	return sum
}

func importanceBand(importance float64) string {
	switch {
	case importance >= 0.9:
		return "critical"
	case importance >= 0.7:
		return "high"
	case importance >= 0.4:
		return "medium"
	default:
		return "low"
	}
}

func ageBand(age time.Duration) string {
	switch {
	case age < 24*time.Hour:
		return "today"
	case age < 7*24*time.Hour:
		return "week"
	case age < 30*24*time.Hour:
		return "month"
	default:
		return "older"
	}
}
