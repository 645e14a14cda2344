package db

import (
	"testing"
	"time"

	"github.com/waymarklabs/waymark/internal/errors"
)

func TestCreateAndGetWorkflow(t *testing.T) {
	t.Parallel()
	store := NewTestStore(t)

	w, err := store.CreateWorkflow(42, "feature/issue-42", "/tmp/wt-42")
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}
	if w.ID == "" {
		t.Fatal("expected generated workflow ID")
	}
	if w.Phase != PhaseResearch || w.Status != StatusRunning {
		t.Errorf("new workflow = %s/%s, want research/running", w.Phase, w.Status)
	}

	got, err := store.GetWorkflow(w.ID)
	if err != nil {
		t.Fatalf("get workflow: %v", err)
	}
	if got == nil {
		t.Fatal("expected workflow, got nil")
	}
	if got.IssueNumber != 42 || got.Branch != "feature/issue-42" || got.WorktreePath != "/tmp/wt-42" {
		t.Errorf("unexpected workflow fields: %+v", got)
	}
}

func TestGetWorkflowMissing(t *testing.T) {
	t.Parallel()
	store := NewTestStore(t)

	got, err := store.GetWorkflow("nope")
	if err != nil {
		t.Fatalf("get workflow: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for unknown workflow, got %+v", got)
	}
}

func TestSaveWorkflowNotFound(t *testing.T) {
	t.Parallel()
	store := NewTestStore(t)

	err := store.SaveWorkflow(&Workflow{ID: "ghost", Branch: "b", Phase: PhaseReview, Status: StatusRunning})
	if !errors.HasCode(err, errors.CodeWorkflowNotFound) {
		t.Errorf("expected WORKFLOW_NOT_FOUND, got %v", err)
	}
}

func TestSetPhaseAndStatus(t *testing.T) {
	t.Parallel()
	store := NewTestStore(t)

	w, err := store.CreateWorkflow(7, "fix/7", "")
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}

	if err := store.SetWorkflowPhase(w.ID, PhaseImplement); err != nil {
		t.Fatalf("set phase: %v", err)
	}
	if err := store.SetWorkflowStatus(w.ID, StatusPaused); err != nil {
		t.Fatalf("set status: %v", err)
	}

	got, err := store.GetWorkflow(w.ID)
	if err != nil {
		t.Fatalf("get workflow: %v", err)
	}
	if got.Phase != PhaseImplement || got.Status != StatusPaused {
		t.Errorf("got %s/%s, want implement/paused", got.Phase, got.Status)
	}

	if err := store.SetWorkflowPhase("ghost", PhaseReview); !errors.HasCode(err, errors.CodeWorkflowNotFound) {
		t.Errorf("expected WORKFLOW_NOT_FOUND for unknown id, got %v", err)
	}
}

func TestIncrementRetry(t *testing.T) {
	t.Parallel()
	store := NewTestStore(t)

	w, err := store.CreateWorkflow(9, "fix/9", "")
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}

	for want := 1; want <= 3; want++ {
		got, err := store.IncrementRetry(w.ID)
		if err != nil {
			t.Fatalf("increment retry: %v", err)
		}
		if got != want {
			t.Errorf("retry count = %d, want %d", got, want)
		}
	}

	if _, err := store.IncrementRetry("ghost"); !errors.HasCode(err, errors.CodeWorkflowNotFound) {
		t.Errorf("expected WORKFLOW_NOT_FOUND for unknown id, got %v", err)
	}
}

func TestLogActionRequiresWorkflow(t *testing.T) {
	t.Parallel()
	store := NewTestStore(t)

	_, err := store.LogAction("ghost", "research_complete", ResultSuccess, nil)
	if !errors.HasCode(err, errors.CodeWorkflowNotFound) {
		t.Errorf("expected WORKFLOW_NOT_FOUND, got %v", err)
	}

	var n int
	if err := store.QueryRow("SELECT COUNT(*) FROM actions").Scan(&n); err != nil {
		t.Fatalf("count actions: %v", err)
	}
	if n != 0 {
		t.Errorf("expected no action rows after rejected insert, got %d", n)
	}
}

func TestLogActionMetadataInvalid(t *testing.T) {
	t.Parallel()
	store := NewTestStore(t)

	w, err := store.CreateWorkflow(5, "fix/5", "")
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}

	_, err = store.LogAction(w.ID, "bad_meta", ResultSuccess, map[string]any{"ch": make(chan int)})
	if !errors.HasCode(err, errors.CodeMetadataInvalid) {
		t.Errorf("expected METADATA_INVALID, got %v", err)
	}
}

func TestLoadWorkflowHistory(t *testing.T) {
	t.Parallel()
	store := NewTestStore(t)

	w, err := store.CreateWorkflow(11, "fix/11", "")
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}

	names := []string{"research_started", "gate-1-research", "implement_started"}
	for _, name := range names {
		if _, err := store.LogAction(w.ID, name, ResultSuccess, map[string]any{"step": name}); err != nil {
			t.Fatalf("log action %s: %v", name, err)
		}
	}
	if _, err := store.LogCommit(w.ID, "abc123", "initial work"); err != nil {
		t.Fatalf("log commit: %v", err)
	}

	cp, err := store.LoadWorkflow(w.ID)
	if err != nil {
		t.Fatalf("load workflow: %v", err)
	}
	if cp == nil {
		t.Fatal("expected checkpoint, got nil")
	}
	if len(cp.Actions) != len(names) {
		t.Fatalf("got %d actions, want %d", len(cp.Actions), len(names))
	}
	for i, a := range cp.Actions {
		if a.Action != names[i] {
			t.Errorf("action[%d] = %s, want %s", i, a.Action, names[i])
		}
	}
	if len(cp.Commits) != 1 || cp.Commits[0].SHA != "abc123" {
		t.Errorf("unexpected commits: %+v", cp.Commits)
	}

	missing, err := store.LoadWorkflow("ghost")
	if err != nil {
		t.Fatalf("load missing workflow: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown workflow, got %+v", missing)
	}
}

func TestFindWorkflowByIssueLatestWins(t *testing.T) {
	t.Parallel()
	store := NewTestStore(t)

	first, err := store.CreateWorkflow(77, "fix/77-attempt-1", "")
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	// Backdate the first attempt so the second is unambiguously newer.
	if _, err := store.Exec("UPDATE workflows SET created_at = ? WHERE id = ?",
		fmtTime(time.Now().Add(-time.Hour)), first.ID); err != nil {
		t.Fatalf("backdate first: %v", err)
	}
	second, err := store.CreateWorkflow(77, "fix/77-attempt-2", "")
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	got, err := store.FindWorkflowByIssue(77)
	if err != nil {
		t.Fatalf("find by issue: %v", err)
	}
	if got == nil || got.ID != second.ID {
		t.Errorf("expected latest attempt %s, got %+v", second.ID, got)
	}

	none, err := store.FindWorkflowByIssue(9999)
	if err != nil {
		t.Fatalf("find unknown issue: %v", err)
	}
	if none != nil {
		t.Errorf("expected nil for unknown issue, got %+v", none)
	}
}

func TestListActiveWorkflows(t *testing.T) {
	t.Parallel()
	store := NewTestStore(t)

	running, err := store.CreateWorkflow(1, "a", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	paused, err := store.CreateWorkflow(2, "b", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	done, err := store.CreateWorkflow(3, "c", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.SetWorkflowStatus(paused.ID, StatusPaused); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := store.SetWorkflowStatus(done.ID, StatusCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}

	active, err := store.ListActiveWorkflows()
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("got %d active workflows, want 2", len(active))
	}
	ids := map[string]bool{active[0].ID: true, active[1].ID: true}
	if !ids[running.ID] || !ids[paused.ID] {
		t.Errorf("active set missing expected workflows: %+v", active)
	}
}

func TestDeleteWorkflowCascades(t *testing.T) {
	t.Parallel()
	store := NewTestStore(t)

	w, err := store.CreateWorkflow(13, "fix/13", "")
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}
	if _, err := store.LogAction(w.ID, "step", ResultSuccess, nil); err != nil {
		t.Fatalf("log action: %v", err)
	}
	if _, err := store.LogCommit(w.ID, "def456", "msg"); err != nil {
		t.Fatalf("log commit: %v", err)
	}

	if err := store.DeleteWorkflow(w.ID); err != nil {
		t.Fatalf("delete workflow: %v", err)
	}
	for _, table := range []string{"actions", "commits"} {
		var n int
		if err := store.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if n != 0 {
			t.Errorf("%s rows survived workflow delete: %d", table, n)
		}
	}

	// Deleting again is a no-op.
	if err := store.DeleteWorkflow(w.ID); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestLogActionSafe(t *testing.T) {
	t.Parallel()
	store := NewTestStore(t)

	w, err := store.CreateWorkflow(21, "fix/21", "")
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}

	if !store.LogActionSafe(w.ID, "step", ResultSuccess, nil) {
		t.Error("expected safe log to succeed for existing workflow")
	}

	if err := store.DeleteWorkflow(w.ID); err != nil {
		t.Fatalf("delete workflow: %v", err)
	}
	// Both the entry and its failure marker hit the missing workflow.
	if store.LogActionSafe(w.ID, "step", ResultSuccess, nil) {
		t.Error("expected safe log to report failure for deleted workflow")
	}
}

func TestCleanupStaleWorkflows(t *testing.T) {
	t.Parallel()
	store := NewTestStore(t)

	stale, err := store.CreateWorkflow(31, "fix/31", "")
	if err != nil {
		t.Fatalf("create stale: %v", err)
	}
	fresh, err := store.CreateWorkflow(32, "fix/32", "")
	if err != nil {
		t.Fatalf("create fresh: %v", err)
	}
	pausedOld, err := store.CreateWorkflow(33, "fix/33", "")
	if err != nil {
		t.Fatalf("create paused: %v", err)
	}
	if err := store.SetWorkflowStatus(pausedOld.ID, StatusPaused); err != nil {
		t.Fatalf("pause: %v", err)
	}

	old := fmtTime(time.Now().Add(-48 * time.Hour))
	for _, id := range []string{stale.ID, pausedOld.ID} {
		if _, err := store.Exec("UPDATE workflows SET updated_at = ? WHERE id = ?", old, id); err != nil {
			t.Fatalf("backdate %s: %v", id, err)
		}
	}

	cleaned, err := store.CleanupStaleWorkflows(24)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if cleaned != 1 {
		t.Fatalf("cleaned %d workflows, want 1", cleaned)
	}

	got, err := store.GetWorkflow(stale.ID)
	if err != nil {
		t.Fatalf("get stale: %v", err)
	}
	if got.Status != StatusFailed {
		t.Errorf("stale workflow status = %s, want failed", got.Status)
	}

	cp, err := store.LoadWorkflow(stale.ID)
	if err != nil {
		t.Fatalf("load stale: %v", err)
	}
	found := false
	for _, a := range cp.Actions {
		if a.Action == StaleCleanupAction && a.Result == ResultFailed {
			found = true
		}
	}
	if !found {
		t.Error("expected a workflow_stale_cleanup action on the cleaned workflow")
	}

	// Fresh running and old-but-paused workflows are untouched.
	for _, tc := range []struct {
		id   string
		want Status
	}{{fresh.ID, StatusRunning}, {pausedOld.ID, StatusPaused}} {
		w, err := store.GetWorkflow(tc.id)
		if err != nil {
			t.Fatalf("get workflow: %v", err)
		}
		if w.Status != tc.want {
			t.Errorf("workflow %s status = %s, want %s", tc.id, w.Status, tc.want)
		}
	}
}
