package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"

	"github.com/kmorand/ensemble/internal/config"
	"github.com/kmorand/ensemble/internal/coordinator"
	"github.com/kmorand/ensemble/internal/state"
	"github.com/kmorand/ensemble/internal/worker"
	"github.com/kmorand/ensemble/pkg/models"
)

var (
	runStrategy  string
	runMaxAgents int
	runTimeout   time.Duration
	runDryRun    bool
	runWatchFlag bool
	runMemory    bool
	runNoMemory  bool
)

var runCmd = &cobra.Command{
	Use:   "run [taskfile]",
	Short: "Run a task file through the coordination engine",
	Long: `Run the tasks declared in a YAML task file (default: ensemble.yaml).

Tasks are scheduled according to the chosen strategy:
  sequential   one task at a time, in dependency order
  parallel     every task at once; dependencies are not consulted
  adaptive     dependency waves, each wave fully in parallel (default)

Each task is dispatched to a worker matching its profile (researcher,
developer, analyst, or planner; inferred from the instructions when
omitted). Results are folded into one synthesized summary, persisted to
.ensemble/state.db, and - when memory is enabled - written back as an
episodic memory.

A running session can be controlled from outside the process by dropping
files into .ensemble/signals/: cancel-<session-id>, cancel-all, pause,
and resume.

Use --dry-run to exercise the full coordination path with a deterministic
echo worker instead of the API.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSession,
}

func init() {
	runCmd.Flags().StringVar(&runStrategy, "strategy", "", "Scheduling strategy: sequential, parallel, or adaptive")
	runCmd.Flags().IntVar(&runMaxAgents, "max-agents", 0, "Worker pool size")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Default per-task timeout (e.g. 2m30s)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Echo tasks with a deterministic worker instead of calling the API")
	runCmd.Flags().BoolVar(&runWatchFlag, "watch", false, "Render live progress in a terminal UI")
	runCmd.Flags().BoolVar(&runMemory, "memory", false, "Force memory write-back on")
	runCmd.Flags().BoolVar(&runNoMemory, "no-memory", false, "Force memory write-back off")
}

func runSession(cmd *cobra.Command, args []string) error {
	if runMemory && runNoMemory {
		return fmt.Errorf("--memory and --no-memory are mutually exclusive")
	}

	taskPath := "ensemble.yaml"
	if len(args) > 0 {
		taskPath = args[0]
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	root, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	tasks, err := loadTaskFile(taskPath)
	if err != nil {
		return err
	}

	// Flags override config, which overrides the built-in defaults.
	strategy := models.Strategy(cfg.Coordinator.Strategy)
	if runStrategy != "" {
		strategy = models.Strategy(runStrategy)
		if !strategy.Valid() {
			return fmt.Errorf("unknown strategy %q: must be sequential, parallel, or adaptive", runStrategy)
		}
	}
	maxAgents := cfg.Coordinator.MaxAgents
	if runMaxAgents > 0 {
		maxAgents = runMaxAgents
	}
	taskTimeout := cfg.Coordinator.TaskTimeout
	if runTimeout > 0 {
		taskTimeout = runTimeout
	}
	memoryEnabled := cfg.Memory.Enabled
	if runMemory {
		memoryEnabled = true
	}
	if runNoMemory {
		memoryEnabled = false
	}

	registry := coordinator.NewWorkerRegistry()
	if runDryRun {
		if err := registry.RegisterAll(&worker.DryRunWorker{}); err != nil {
			return err
		}
		fmt.Println("Dry run: tasks are echoed by a local worker, nothing reaches the API.")
	} else {
		w, err := buildAnthropicWorker(cfg, root)
		if err != nil {
			return err
		}
		if err := registry.RegisterAll(w); err != nil {
			return err
		}
	}

	db, err := state.Open(state.DefaultPath(root))
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate state database: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Memory is an enhancement; a session can run without it.
	var memSink coordinator.MemorySink
	if memoryEnabled {
		memSys, err := newMemorySystem(ctx, cfg, root)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: memory system unavailable: %v\n", err)
		} else {
			defer memSys.Close()
			memSys.StartMaintenance(ctx)
			memSink = memSys
		}
	}

	var debugLogger *coordinator.DebugLogger
	if cfg.Logging.Debug {
		if cfg.Logging.Dir != "" {
			debugLogger, err = coordinator.NewDebugLogger(filepath.Join(cfg.Logging.Dir, "coordinator-debug.log"))
			if err != nil {
				return fmt.Errorf("open debug log: %w", err)
			}
		} else {
			debugLogger = coordinator.NewDebugLoggerForDir(root)
		}
		defer debugLogger.Close()
	}

	engine := coordinator.NewEngine(registry, coordinator.EngineConfig{
		MaxConcurrentAgents: maxAgents,
		DefaultTaskTimeout:  taskTimeout,
		Logger:              debugLogger,
	})
	defer engine.Close()

	manager := coordinator.NewManager(engine, coordinator.ManagerConfig{
		Store:  db,
		Memory: memSink,
	})
	defer manager.Stop()

	watcher, err := watchControlSignals(manager, config.SignalsDir(root))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: signal watcher unavailable: %v\n", err)
	} else {
		defer watcher.Close()
	}

	// Ctrl-C cancels the session; in-flight tasks become Cancelled and
	// accumulated results are kept.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupt received, cancelling session...")
		manager.CancelAll()
	}()

	id, err := manager.Submit(tasks, strategy)
	if err != nil {
		return err
	}
	fmt.Printf("Session %s: %d tasks, strategy %s, %d workers\n", id, len(tasks), strategy, maxAgents)

	var snap *coordinator.SessionSnapshot
	if runWatchFlag {
		snap, err = runWithWatch(ctx, manager, engine, id)
	} else {
		go streamEvents(engine.Events())
		snap, err = manager.Wait(ctx, id)
	}
	if err != nil {
		return err
	}

	printOutcome(snap)
	if snap.Session.Status != models.SessionStatusCompleted {
		return fmt.Errorf("session %s %s", id, snap.Session.Status)
	}
	return nil
}

// buildAnthropicWorker constructs the API-backed worker from config,
// loading persona overrides when a profiles file is present.
func buildAnthropicWorker(cfg *config.Config, root string) (*worker.AnthropicWorker, error) {
	var apiKey string
	if !cfg.Worker.Bedrock {
		key, err := config.GetAPIKey(cfg)
		if err != nil {
			return nil, fmt.Errorf("%w\n\nSet ANTHROPIC_API_KEY, or add worker.api_key to %s,\nor use --dry-run to execute without the API", err, config.GetUserConfigPath())
		}
		apiKey = key
	}

	var profiles map[models.Profile]worker.ProfileSpec
	if path := cfg.ProfilesPath(root); path != "" {
		loaded, err := worker.LoadProfiles(path)
		if err != nil {
			return nil, fmt.Errorf("load profiles: %w", err)
		}
		profiles = loaded
	}

	return worker.NewAnthropicWorker(worker.AnthropicConfig{
		Model:         anthropic.Model(cfg.Worker.Model),
		APIKey:        apiKey,
		UseAWSBedrock: cfg.Worker.Bedrock,
		AWSRegion:     cfg.Worker.AWSRegion,
		AWSProfile:    cfg.Worker.AWSProfile,
		MaxTokens:     cfg.Worker.MaxTokens,
	}, profiles)
}

// streamEvents prints engine events as plain lines. Used when the watch
// TUI is off.
func streamEvents(events <-chan coordinator.Event) {
	for ev := range events {
		switch ev.Type {
		case coordinator.EventWaveStarted:
			fmt.Printf("[wave %d] %s\n", ev.Wave+1, ev.Message)
		case coordinator.EventTaskStarted:
			fmt.Printf("[started] %s (%s)\n", ev.TaskID, ev.Profile)
		case coordinator.EventTaskCompleted:
			fmt.Printf("[done] %s\n", ev.TaskID)
		case coordinator.EventTaskFailed:
			fmt.Printf("[failed] %s: %s\n", ev.TaskID, ev.Message)
		case coordinator.EventTaskSkipped:
			fmt.Printf("[skipped] %s: %s\n", ev.TaskID, ev.Message)
		case coordinator.EventTaskCancelled:
			fmt.Printf("[cancelled] %s\n", ev.TaskID)
		case coordinator.EventSessionDone:
			fmt.Printf("[session] %s %s\n", ev.SessionID, ev.Message)
		}
	}
}

// printOutcome writes the per-task results and the synthesized summary.
func printOutcome(snap *coordinator.SessionSnapshot) {
	fmt.Println()
	for _, r := range snap.Results {
		line := fmt.Sprintf("  %-9s %s (%s)", r.Status, r.TaskID, r.Profile)
		if r.Reason != "" {
			line += " - " + r.Reason
		}
		fmt.Println(statusColor(r.Status).Sprint(line))
	}
	fmt.Println()
	fmt.Println(snap.Session.Summary)
}
