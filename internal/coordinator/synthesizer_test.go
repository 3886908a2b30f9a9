package coordinator

import (
	"strings"
	"testing"

	"github.com/kmorand/ensemble/pkg/models"
)

func TestSynthesize_Format(t *testing.T) {
	g := mustBuild(t, testTask("t1"), testTask("t2", "t1"), testTask("t3"))
	results := map[string]*models.TaskResult{
		"t1": {TaskID: "t1", Profile: models.ProfileResearcher, Status: models.TaskStatusDone, Output: "found three candidates"},
		"t2": {TaskID: "t2", Profile: models.ProfileDeveloper, Status: models.TaskStatusFailed, Reason: "timeout"},
		"t3": {TaskID: "t3", Profile: models.ProfileAnalyst, Status: models.TaskStatusSkipped, Reason: "dependency t2 failed"},
	}

	got := Synthesize(g, results)

	if !strings.HasPrefix(got, "# Coordination Results\n") {
		t.Errorf("summary does not start with the header:\n%s", got)
	}
	for _, want := range []string{
		"## t1 (researcher)",
		"Status: done",
		"found three candidates",
		"## t2 (developer)",
		"Status: failed",
		"Reason: timeout",
		"## t3 (analyst)",
		"Status: skipped",
		"Reason: dependency t2 failed",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("summary missing %q:\n%s", want, got)
		}
	}

	// Sections follow topological order: t1 and t3 share wave zero in
	// submission order, t2 comes after.
	i1 := strings.Index(got, "## t1")
	i3 := strings.Index(got, "## t3")
	i2 := strings.Index(got, "## t2")
	if !(i1 < i3 && i3 < i2) {
		t.Errorf("section order wrong: t1@%d t3@%d t2@%d\n%s", i1, i3, i2, got)
	}
}

func TestSynthesize_Deterministic(t *testing.T) {
	g := mustBuild(t, testTask("a"), testTask("b", "a"))
	results := map[string]*models.TaskResult{
		"a": {TaskID: "a", Profile: models.ProfileDeveloper, Status: models.TaskStatusDone, Output: "alpha"},
		"b": {TaskID: "b", Profile: models.ProfileDeveloper, Status: models.TaskStatusDone, Output: "beta"},
	}

	first := Synthesize(g, results)
	for i := 0; i < 10; i++ {
		if again := Synthesize(g, results); again != first {
			t.Fatalf("Synthesize() is not deterministic:\n%s\n---\n%s", first, again)
		}
	}
}

func TestSynthesize_MissingResultFallsBackToTaskStatus(t *testing.T) {
	pending := testTask("waiting")
	g := mustBuild(t, pending)

	got := Synthesize(g, map[string]*models.TaskResult{})
	if !strings.Contains(got, "## waiting (developer)") {
		t.Errorf("summary missing section for unresolved task:\n%s", got)
	}
	if !strings.Contains(got, "Status: pending") {
		t.Errorf("summary should carry the task's own status:\n%s", got)
	}
}
