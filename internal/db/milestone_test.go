package db

import (
	"testing"

	"github.com/waymarklabs/waymark/internal/errors"
)

func TestCreateAndGetMilestone(t *testing.T) {
	t.Parallel()
	store := NewTestStore(t)

	ghNumber := 3
	m, err := store.CreateMilestone("auth-overhaul", &ghNumber)
	if err != nil {
		t.Fatalf("create milestone: %v", err)
	}
	if m.Phase != PhasePlanning || m.Status != StatusRunning {
		t.Errorf("new milestone = %s/%s, want planning/running", m.Phase, m.Status)
	}

	cp, err := store.GetMilestone(m.ID)
	if err != nil {
		t.Fatalf("get milestone: %v", err)
	}
	if cp == nil {
		t.Fatal("expected checkpoint, got nil")
	}
	if cp.Milestone.Name != "auth-overhaul" {
		t.Errorf("name = %s, want auth-overhaul", cp.Milestone.Name)
	}
	if cp.Milestone.GitHubMilestoneNumber == nil || *cp.Milestone.GitHubMilestoneNumber != 3 {
		t.Errorf("github number = %v, want 3", cp.Milestone.GitHubMilestoneNumber)
	}
	if cp.Baseline != nil {
		t.Errorf("expected no baseline before capture, got %+v", cp.Baseline)
	}
	if len(cp.Workflows) != 0 {
		t.Errorf("expected no linked workflows, got %d", len(cp.Workflows))
	}

	missing, err := store.GetMilestone("ghost")
	if err != nil {
		t.Fatalf("get missing milestone: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown milestone, got %+v", missing)
	}
}

func TestFindMilestoneByName(t *testing.T) {
	t.Parallel()
	store := NewTestStore(t)

	if _, err := store.CreateMilestone("rollout", nil); err != nil {
		t.Fatalf("create milestone: %v", err)
	}

	m, err := store.FindMilestoneByName("rollout")
	if err != nil {
		t.Fatalf("find milestone: %v", err)
	}
	if m == nil || m.Name != "rollout" {
		t.Errorf("expected rollout milestone, got %+v", m)
	}
	if m.GitHubMilestoneNumber != nil {
		t.Errorf("expected nil github number, got %d", *m.GitHubMilestoneNumber)
	}

	none, err := store.FindMilestoneByName("unknown")
	if err != nil {
		t.Fatalf("find unknown milestone: %v", err)
	}
	if none != nil {
		t.Errorf("expected nil for unknown name, got %+v", none)
	}
}

func TestSetMilestonePhaseAndStatus(t *testing.T) {
	t.Parallel()
	store := NewTestStore(t)

	m, err := store.CreateMilestone("phase-walk", nil)
	if err != nil {
		t.Fatalf("create milestone: %v", err)
	}
	if err := store.SetMilestonePhase(m.ID, PhaseExecute); err != nil {
		t.Fatalf("set phase: %v", err)
	}
	if err := store.SetMilestoneStatus(m.ID, StatusCompleted); err != nil {
		t.Fatalf("set status: %v", err)
	}

	got, err := store.FindMilestoneByName("phase-walk")
	if err != nil {
		t.Fatalf("find milestone: %v", err)
	}
	if got.Phase != PhaseExecute || got.Status != StatusCompleted {
		t.Errorf("got %s/%s, want execute/completed", got.Phase, got.Status)
	}

	if err := store.SetMilestonePhase("ghost", PhaseMerge); !errors.HasCode(err, errors.CodeMilestoneNotFound) {
		t.Errorf("expected MILESTONE_NOT_FOUND, got %v", err)
	}
}

func TestBaselineReplacedOnRecapture(t *testing.T) {
	t.Parallel()
	store := NewTestStore(t)

	m, err := store.CreateMilestone("quality-gate", nil)
	if err != nil {
		t.Fatalf("create milestone: %v", err)
	}

	if err := store.SaveBaseline(m.ID, BaselineData{LintWarnings: 12, LintErrors: 3, TypecheckErrors: 1}); err != nil {
		t.Fatalf("first baseline: %v", err)
	}
	if err := store.SaveBaseline(m.ID, BaselineData{LintWarnings: 4, LintErrors: 0, TypecheckExitCode: 1}); err != nil {
		t.Fatalf("second baseline: %v", err)
	}

	b, err := store.GetBaseline(m.ID)
	if err != nil {
		t.Fatalf("get baseline: %v", err)
	}
	if b == nil {
		t.Fatal("expected baseline, got nil")
	}
	if b.LintWarnings != 4 || b.LintErrors != 0 || b.TypecheckExitCode != 1 {
		t.Errorf("baseline not replaced: %+v", b)
	}

	var n int
	if err := store.QueryRow("SELECT COUNT(*) FROM baselines WHERE milestone_id = ?", m.ID).Scan(&n); err != nil {
		t.Fatalf("count baselines: %v", err)
	}
	if n != 1 {
		t.Errorf("got %d baseline rows, want exactly 1", n)
	}
}

func TestSaveBaselineUnknownMilestone(t *testing.T) {
	t.Parallel()
	store := NewTestStore(t)

	err := store.SaveBaseline("ghost", BaselineData{LintErrors: 1})
	if !errors.HasCode(err, errors.CodeMilestoneNotFound) {
		t.Errorf("expected MILESTONE_NOT_FOUND, got %v", err)
	}
}

func TestLinkWorkflowsAcrossWaves(t *testing.T) {
	t.Parallel()
	store := NewTestStore(t)

	m, err := store.CreateMilestone("waved", nil)
	if err != nil {
		t.Fatalf("create milestone: %v", err)
	}
	wave2, err := store.CreateWorkflow(201, "fix/201", "")
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}
	wave1, err := store.CreateWorkflow(202, "fix/202", "")
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}

	// Linked out of wave order; listing must come back wave-sorted.
	if err := store.LinkWorkflowToMilestone(wave2.ID, m.ID, 2); err != nil {
		t.Fatalf("link wave 2: %v", err)
	}
	if err := store.LinkWorkflowToMilestone(wave1.ID, m.ID, 0); err != nil {
		t.Fatalf("link wave 1: %v", err)
	}

	linked, err := store.ListMilestoneWorkflows(m.ID)
	if err != nil {
		t.Fatalf("list linked: %v", err)
	}
	if len(linked) != 2 {
		t.Fatalf("got %d linked workflows, want 2", len(linked))
	}
	if linked[0].ID != wave1.ID || linked[0].WaveNumber != 1 {
		t.Errorf("first linked = %s wave %d, want %s wave 1 (wave <= 0 defaults to 1)",
			linked[0].ID, linked[0].WaveNumber, wave1.ID)
	}
	if linked[1].ID != wave2.ID || linked[1].WaveNumber != 2 {
		t.Errorf("second linked = %s wave %d, want %s wave 2",
			linked[1].ID, linked[1].WaveNumber, wave2.ID)
	}

	// Re-linking moves the workflow to the new wave without duplicating it.
	if err := store.LinkWorkflowToMilestone(wave2.ID, m.ID, 3); err != nil {
		t.Fatalf("relink: %v", err)
	}
	linked, err = store.ListMilestoneWorkflows(m.ID)
	if err != nil {
		t.Fatalf("list after relink: %v", err)
	}
	if len(linked) != 2 || linked[1].WaveNumber != 3 {
		t.Errorf("relink did not update wave: %+v", linked)
	}
}

func TestLinkNamesMissingSide(t *testing.T) {
	t.Parallel()
	store := NewTestStore(t)

	m, err := store.CreateMilestone("half-linked", nil)
	if err != nil {
		t.Fatalf("create milestone: %v", err)
	}
	w, err := store.CreateWorkflow(301, "fix/301", "")
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}

	if err := store.LinkWorkflowToMilestone("ghost-workflow", m.ID, 1); !errors.HasCode(err, errors.CodeWorkflowNotFound) {
		t.Errorf("expected WORKFLOW_NOT_FOUND, got %v", err)
	}
	if err := store.LinkWorkflowToMilestone(w.ID, "ghost-milestone", 1); !errors.HasCode(err, errors.CodeMilestoneNotFound) {
		t.Errorf("expected MILESTONE_NOT_FOUND, got %v", err)
	}
}

func TestDeleteMilestoneCascades(t *testing.T) {
	t.Parallel()
	store := NewTestStore(t)

	m, err := store.CreateMilestone("short-lived", nil)
	if err != nil {
		t.Fatalf("create milestone: %v", err)
	}
	w, err := store.CreateWorkflow(401, "fix/401", "")
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}
	if err := store.LinkWorkflowToMilestone(w.ID, m.ID, 1); err != nil {
		t.Fatalf("link: %v", err)
	}
	if err := store.SaveBaseline(m.ID, BaselineData{LintWarnings: 2}); err != nil {
		t.Fatalf("baseline: %v", err)
	}

	if err := store.DeleteMilestone(m.ID); err != nil {
		t.Fatalf("delete milestone: %v", err)
	}
	for _, table := range []string{"baselines", "milestone_workflows"} {
		var n int
		if err := store.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if n != 0 {
			t.Errorf("%s rows survived milestone delete: %d", table, n)
		}
	}

	// The workflow itself is not owned by the milestone.
	if got, err := store.GetWorkflow(w.ID); err != nil || got == nil {
		t.Errorf("workflow should survive milestone delete: %v, %+v", err, got)
	}

	if err := store.DeleteMilestone(m.ID); err != nil {
		t.Errorf("second delete: %v", err)
	}
}
