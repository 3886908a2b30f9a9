package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kmorand/ensemble/internal/state"
	"github.com/kmorand/ensemble/pkg/models"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Show recorded coordination sessions",
	Long: `Display recorded coordination sessions from the project state database.

Without arguments, lists recent sessions newest first. With a session ID,
shows the per-task results and the synthesized summary for that session.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatusCmd,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "Number of sessions to list")
}

func runStatusCmd(cmd *cobra.Command, args []string) error {
	root, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	dbPath := state.DefaultPath(root)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No sessions recorded. Run 'ensemble run <taskfile>' to start one.")
		return nil
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate state database: %w", err)
	}

	if len(args) == 1 {
		return showSession(db, args[0])
	}
	return listSessions(db)
}

func listSessions(db state.SessionReader) error {
	sessions, err := db.ListSessions(statusLimit)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions recorded. Run 'ensemble run <taskfile>' to start one.")
		return nil
	}

	fmt.Printf("%-10s %-12s %-18s %-6s %s\n", "ID", "STRATEGY", "STATUS", "TASKS", "STARTED")
	for _, s := range sessions {
		fmt.Printf("%-10s %-12s %-18s %-6d %s ago\n",
			s.ID,
			s.Strategy,
			sessionColor(s.Status).Sprintf("%-18s", s.Status),
			s.TaskCount,
			formatDuration(time.Since(s.CreatedAt)))
	}
	return nil
}

func showSession(db state.SessionReader, id string) error {
	s, err := db.GetSession(id)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return fmt.Errorf("no session %q; run 'ensemble status' to list recorded sessions", id)
		}
		return fmt.Errorf("get session: %w", err)
	}

	fmt.Printf("Session %s\n", s.ID)
	fmt.Printf("  Strategy: %s\n", s.Strategy)
	fmt.Printf("  Status:   %s\n", sessionColor(s.Status).Sprint(s.Status))
	fmt.Printf("  Tasks:    %d\n", s.TaskCount)
	fmt.Printf("  Started:  %s ago\n", formatDuration(time.Since(s.CreatedAt)))
	if s.CompletedAt != nil {
		fmt.Printf("  Took:     %s\n", formatDuration(s.CompletedAt.Sub(s.CreatedAt)))
	}

	results, err := db.GetTaskResults(id)
	if err != nil {
		return fmt.Errorf("get task results: %w", err)
	}
	if len(results) > 0 {
		fmt.Println()
		fmt.Printf("  %-10s %-12s %-10s %-5s %s\n", "TASK", "PROFILE", "STATUS", "WAVE", "REASON")
		for _, r := range results {
			fmt.Printf("  %-10s %-12s %-10s %-5d %s\n",
				r.TaskID,
				r.Profile,
				statusColor(r.Status).Sprintf("%-10s", r.Status),
				r.Wave+1,
				r.Reason)
		}
	}

	if s.Summary != "" {
		fmt.Println()
		fmt.Println(s.Summary)
	}
	return nil
}

func statusColor(s models.TaskStatus) *color.Color {
	switch s {
	case models.TaskStatusDone:
		return color.New(color.FgGreen)
	case models.TaskStatusRunning:
		return color.New(color.FgCyan)
	case models.TaskStatusFailed:
		return color.New(color.FgRed)
	case models.TaskStatusSkipped:
		return color.New(color.FgYellow)
	case models.TaskStatusCancelled:
		return color.New(color.FgHiBlack)
	default:
		return color.New(color.FgWhite)
	}
}

func sessionColor(s models.SessionStatus) *color.Color {
	switch s {
	case models.SessionStatusCompleted:
		return color.New(color.FgGreen)
	case models.SessionStatusRunning:
		return color.New(color.FgCyan)
	case models.SessionStatusPartiallyFailed:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

// formatDuration renders a duration coarsely for status lines.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dd", int(d.Hours())/24)
}
