package coordinator

import (
	"fmt"
	"strings"

	"github.com/kmorand/ensemble/internal/graph"
	"github.com/kmorand/ensemble/pkg/models"
)

// Synthesize folds per-task results into one summary document. Tasks appear
// in topological order; each section carries the task's terminal status and
// either its output or the reason it produced none. The function is pure and
// performs no worker calls, so the same inputs always yield the same text.
func Synthesize(g *graph.TaskGraph, results map[string]*models.TaskResult) string {
	var b strings.Builder
	b.WriteString("# Coordination Results\n")

	for _, id := range g.Flatten() {
		task := g.Task(id)
		res := results[id]

		profile := task.Profile
		status := task.Status
		if res != nil {
			profile = res.Profile
			status = res.Status
		}

		fmt.Fprintf(&b, "\n## %s (%s)\n\nStatus: %s\n", id, profile, status)

		if res == nil {
			continue
		}
		if out := strings.TrimSpace(res.Output); out != "" {
			b.WriteString("\n" + out + "\n")
		} else if res.Reason != "" {
			fmt.Fprintf(&b, "Reason: %s\n", res.Reason)
		}
	}

	return b.String()
}
