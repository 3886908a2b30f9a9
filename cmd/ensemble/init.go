package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kmorand/ensemble/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize an ensemble project",
	Long: `Initialize a directory for use with ensemble.

Creates the .ensemble data directory (state, memory, signals, logs), an
example task file, and a starter worker-profiles file.

The directory argument is optional and defaults to the current directory.

Examples:
  ensemble init              # Initialize current directory
  ensemble init ./myproject  # Initialize specific directory
  ensemble init --force      # Overwrite the example files if present`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing example files")
}

const exampleTaskFile = `# ensemble task file
# Run with: ensemble run ensemble.yaml

tasks:
  - id: research
    profile: researcher
    instructions: Gather background material on the topic.
    priority: 5

  - id: draft
    profile: developer
    instructions: Draft the deliverable from the research notes.
    depends_on: [research]
    timeout: 5m

  - id: review
    profile: analyst
    instructions: Review the draft for gaps and inconsistencies.
    depends_on: [draft]
`

const starterProfiles = `# Worker persona overrides. Built-in personas are used for any
# profile not listed here.

profiles: []

# Example:
# profiles:
#   - name: researcher
#     description: Domain-specific research specialist
#     persona: |
#       You research the marine robotics domain. Cite sources.
`

func runInit(cmd *cobra.Command, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}
	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", absPath, err)
	}

	fmt.Printf("Initializing ensemble in %s...\n\n", absPath)

	dataDir := config.DataDir(absPath)
	for _, dir := range []string{dataDir, config.SignalsDir(absPath), filepath.Join(dataDir, "logs")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	printStatus("✓", "Created .ensemble directory structure", color.FgGreen)

	if err := writeExampleFile(filepath.Join(absPath, "ensemble.yaml"), exampleTaskFile, "example task file ensemble.yaml"); err != nil {
		return err
	}
	if err := writeExampleFile(filepath.Join(dataDir, "profiles.yaml"), starterProfiles, "starter profiles in .ensemble/profiles.yaml"); err != nil {
		return err
	}

	// Only touch .gitignore in repositories; init does not create one.
	if _, err := os.Stat(filepath.Join(absPath, ".git")); err == nil {
		if err := updateGitignore(absPath); err != nil {
			return fmt.Errorf("update .gitignore: %w", err)
		}
		printStatus("✓", "Updated .gitignore", color.FgGreen)
	}

	if os.Getenv("ANTHROPIC_API_KEY") != "" || os.Getenv("ENSEMBLE_WORKER_API_KEY") != "" {
		printStatus("✓", "API key is set", color.FgGreen)
	} else {
		printStatus("⚠", "No API key set (required unless running with --dry-run)", color.FgYellow)
	}

	fmt.Printf("\n%s ensemble initialization complete!\n\n", color.GreenString("✓"))
	fmt.Println("Next steps:")
	fmt.Println("  1. Edit ensemble.yaml to describe your tasks")
	fmt.Println()
	fmt.Println("  2. Try a dry run:")
	fmt.Println("     ensemble run --dry-run --watch")
	fmt.Println()
	fmt.Println("  3. Run for real:")
	fmt.Println("     export ANTHROPIC_API_KEY=your-key-here")
	fmt.Println("     ensemble run")
	return nil
}

// writeExampleFile writes content to path unless the file already exists
// and --force is off.
func writeExampleFile(path, content, label string) error {
	if _, err := os.Stat(path); err == nil && !initForce {
		printStatus("⚠", "Kept existing "+label+" (use --force to overwrite)", color.FgYellow)
		return nil
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	printStatus("✓", "Created "+label, color.FgGreen)
	return nil
}

// updateGitignore appends the ensemble data dir to .gitignore if missing.
func updateGitignore(root string) error {
	path := filepath.Join(root, ".gitignore")
	var existing string
	if data, err := os.ReadFile(path); err == nil {
		existing = string(data)
	}
	if strings.Contains(existing, ".ensemble/") {
		return nil
	}

	var b strings.Builder
	b.WriteString(existing)
	if len(existing) > 0 && !strings.HasSuffix(existing, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("\n# ensemble\n.ensemble/\n")
	return os.WriteFile(path, []byte(b.String()), 0644)
}

// printStatus prints a status line with a colored symbol.
func printStatus(symbol, message string, attr color.Attribute) {
	fmt.Printf("%s %s\n", color.New(attr).Sprint(symbol), message)
}
