package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kmorand/ensemble/internal/config"
	"github.com/kmorand/ensemble/internal/memory"
	"github.com/kmorand/ensemble/internal/similarity"
	"github.com/kmorand/ensemble/pkg/models"
)

// scoreCacheEntries bounds the similarity score cache for CLI searches.
const scoreCacheEntries = 8192

var (
	memSaveTier       string
	memSaveImportance float64
	memSaveTags       []string
	memSearchTier     string
	memSearchLimit    int
	memSearchKeyword  bool
	memPinRemove      bool
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Save, search, and curate stored memories",
	Long: `Work with the tiered memory store.

Records live in one of four tiers: working (short-lived scratch), episodic
(session events), semantic (durable facts), and procedural (how-to
knowledge). Records are promoted, consolidated, and pruned automatically;
pinning exempts a record from eviction and expiry.`,
}

var memSaveCmd = &cobra.Command{
	Use:   "save <content>",
	Short: "Save a memory record",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemorySave,
}

var memSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search memories by similarity, importance, and recency",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemorySearch,
}

var memTagCmd = &cobra.Command{
	Use:   "tag <id> <tag>...",
	Short: "Add tags to a record",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runMemoryTag,
}

var memPinCmd = &cobra.Command{
	Use:   "pin <id>",
	Short: "Pin a record so lifecycle maintenance never removes it",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemoryPin,
}

var memImportanceCmd = &cobra.Command{
	Use:   "importance <id> <value>",
	Short: "Set a record's importance (0.0 to 1.0)",
	Args:  cobra.ExactArgs(2),
	RunE:  runMemoryImportance,
}

var memStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show record counts and lifecycle activity",
	RunE:  runMemoryStats,
}

func init() {
	memSaveCmd.Flags().StringVar(&memSaveTier, "tier", "working", "Tier to store in: working, episodic, semantic, or procedural")
	memSaveCmd.Flags().Float64Var(&memSaveImportance, "importance", 0, "Importance in [0,1]; defaults to memory.save_importance")
	memSaveCmd.Flags().StringSliceVar(&memSaveTags, "tag", nil, "Tags to attach (repeatable)")
	memSearchCmd.Flags().StringVar(&memSearchTier, "tier", "", "Restrict to one tier")
	memSearchCmd.Flags().IntVar(&memSearchLimit, "limit", 0, "Maximum results; defaults to memory.retrieval_limit")
	memSearchCmd.Flags().BoolVar(&memSearchKeyword, "keyword", false, "Exact keyword match instead of similarity ranking")
	memPinCmd.Flags().BoolVar(&memPinRemove, "remove", false, "Unpin instead of pin")

	memoryCmd.AddCommand(memSaveCmd)
	memoryCmd.AddCommand(memSearchCmd)
	memoryCmd.AddCommand(memTagCmd)
	memoryCmd.AddCommand(memPinCmd)
	memoryCmd.AddCommand(memImportanceCmd)
	memoryCmd.AddCommand(memStatsCmd)
}

// openMemory loads config and opens the memory system for the current
// project. Callers own Close.
func openMemory(ctx context.Context) (*memory.System, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	root, err := os.Getwd()
	if err != nil {
		return nil, nil, fmt.Errorf("get working directory: %w", err)
	}
	sys, err := newMemorySystem(ctx, cfg, root)
	if err != nil {
		return nil, nil, err
	}
	return sys, cfg, nil
}

// newMemorySystem builds the memory system the way sessions use it: hash
// embeddings behind a score cache, a persistent vector index, and records
// persisted under the project data dir.
func newMemorySystem(ctx context.Context, cfg *config.Config, root string) (*memory.System, error) {
	embedder := similarity.NewHashEmbedder()
	var scorer similarity.Scorer = similarity.NewEmbeddingScorer(embedder)
	if cached, err := similarity.NewCached(scorer, scoreCacheEntries); err == nil {
		scorer = cached
	}

	// The index is a rebuildable candidate cache; without it retrieval
	// scans, so a failed open is not fatal.
	var index similarity.Index
	if persisted, err := similarity.NewPersistentChromemIndex(filepath.Join(config.DataDir(root), "vectors"), embedder); err == nil {
		index = persisted
	} else {
		fmt.Fprintf(os.Stderr, "Warning: vector index unavailable: %v\n", err)
	}

	return memory.NewSystem(ctx, memory.SystemConfig{
		DBPath: cfg.MemoryDBPath(root),
		Scorer: scorer,
		Index:  index,
	})
}

func runMemorySave(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	sys, cfg, err := openMemory(ctx)
	if err != nil {
		return err
	}
	defer sys.Close()

	tier := models.MemoryTier(memSaveTier)
	if !tier.Valid() {
		return fmt.Errorf("unknown tier %q: must be working, episodic, semantic, or procedural", memSaveTier)
	}
	importance := cfg.Memory.SaveImportance
	if cmd.Flags().Changed("importance") {
		importance = memSaveImportance
	}

	id, err := sys.Save(ctx, &models.MemoryRecord{
		Content:    args[0],
		Tier:       tier,
		Importance: importance,
		Tags:       memSaveTags,
		Source:     models.SourceUser,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Saved %s (%s, importance %.2f)\n", id, tier, importance)
	return nil
}

func runMemorySearch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	sys, cfg, err := openMemory(ctx)
	if err != nil {
		return err
	}
	defer sys.Close()

	limit := cfg.Memory.RetrievalLimit
	if cmd.Flags().Changed("limit") {
		limit = memSearchLimit
	}

	if memSearchKeyword {
		records, err := sys.SearchKeywords(args[0], limit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No matches.")
			return nil
		}
		for i, rec := range records {
			printRecord(i+1, rec, -1)
		}
		return nil
	}

	q := memory.NewQuery(args[0])
	q.Limit = limit
	if memSearchTier != "" {
		tier := models.MemoryTier(memSearchTier)
		if !tier.Valid() {
			return fmt.Errorf("unknown tier %q", memSearchTier)
		}
		q.Tier = tier
	}

	results, err := sys.Search(ctx, q)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("No matches.")
		return nil
	}
	for i, res := range results {
		printRecord(i+1, res.Record, res.Score)
	}
	return nil
}

// printRecord writes one search hit. A negative score means keyword mode,
// which has no ranking.
func printRecord(n int, rec *models.MemoryRecord, score float64) {
	header := fmt.Sprintf("%d. %s", n, rec.ID)
	if score >= 0 {
		header += fmt.Sprintf("  score %.2f", score)
	}
	header += fmt.Sprintf("  (%s, importance %.2f)", rec.Tier, rec.Importance)
	color.New(color.FgCyan).Println(header)

	content := rec.Content
	if len(content) > 200 {
		content = content[:200] + "..."
	}
	fmt.Printf("   %s\n", content)
	if len(rec.Tags) > 0 {
		fmt.Printf("   tags: %s\n", strings.Join(rec.Tags, ", "))
	}
}

func runMemoryTag(cmd *cobra.Command, args []string) error {
	sys, _, err := openMemory(context.Background())
	if err != nil {
		return err
	}
	defer sys.Close()

	rec, err := sys.Tag(args[0], args[1:]...)
	if err != nil {
		return err
	}
	fmt.Printf("Tagged %s: %s\n", rec.ID, strings.Join(rec.Tags, ", "))
	return nil
}

func runMemoryPin(cmd *cobra.Command, args []string) error {
	sys, _, err := openMemory(context.Background())
	if err != nil {
		return err
	}
	defer sys.Close()

	rec, err := sys.SetPinned(args[0], !memPinRemove)
	if err != nil {
		return err
	}
	if rec.Pinned {
		fmt.Printf("Pinned %s\n", rec.ID)
	} else {
		fmt.Printf("Unpinned %s\n", rec.ID)
	}
	return nil
}

func runMemoryImportance(cmd *cobra.Command, args []string) error {
	value, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("parse importance %q: %w", args[1], err)
	}

	sys, _, err := openMemory(context.Background())
	if err != nil {
		return err
	}
	defer sys.Close()

	rec, err := sys.SetImportance(args[0], value)
	if err != nil {
		return err
	}
	fmt.Printf("Set importance of %s to %.2f\n", rec.ID, rec.Importance)
	return nil
}

func runMemoryStats(cmd *cobra.Command, args []string) error {
	sys, _, err := openMemory(context.Background())
	if err != nil {
		return err
	}
	defer sys.Close()

	sum := sys.Summarize()
	fmt.Printf("Records: %d\n", sum.Total)

	fmt.Println("\nBy tier:")
	for _, tier := range models.AllTiers() {
		fmt.Printf("  %-12s %d\n", tier, sum.ByTier[tier])
	}

	fmt.Println("\nBy importance:")
	for _, band := range []string{"critical", "high", "medium", "low"} {
		fmt.Printf("  %-12s %d\n", band, sum.ByImportance[band])
	}

	fmt.Println("\nBy age:")
	for _, band := range []string{"today", "week", "month", "older"} {
		fmt.Printf("  %-12s %d\n", band, sum.AgeDistribution[band])
	}

	fmt.Println("\nLifecycle:")
	fmt.Printf("  %-15s %d\n", "saves", sum.Stats.Saves)
	fmt.Printf("  %-15s %d\n", "promotions", sum.Stats.Promotions)
	fmt.Printf("  %-15s %d\n", "consolidations", sum.Stats.Consolidations)
	fmt.Printf("  %-15s %d\n", "prunings", sum.Stats.Prunings)
	return nil
}
