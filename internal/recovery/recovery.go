// Package recovery reconstructs a hierarchical task plan from stored workflow
// and milestone state. It is the read path used to redraw an external task
// list after the driving process restarts: everything here is a pure
// projection of the store, never a mutation of it.
package recovery

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/waymarklabs/waymark/internal/db"
)

// Status is the derived state of one recovered task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Archetype selects the task template for a single-issue workflow.
type Archetype string

const (
	// ArchetypeAuto infers gated vs phased from the action log.
	ArchetypeAuto   Archetype = "auto"
	ArchetypeGated  Archetype = "gated"
	ArchetypePhased Archetype = "phased"
)

// Task is one entry of a recovery plan. BlockedBy holds indices into the
// plan's task list that must complete before this task can start.
type Task struct {
	Subject     string         `json:"subject"`
	Description string         `json:"description"`
	ActiveForm  string         `json:"activeForm"`
	Status      Status         `json:"status"`
	BlockedBy   []int          `json:"blockedBy"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Plan is the reconstructed task list for one workflow or milestone.
type Plan struct {
	WorkflowType string `json:"workflowType"`
	Tasks        []Task `json:"tasks"`
	Summary      string `json:"summary"`
}

// Store is the read surface recovery needs.
type Store interface {
	FindWorkflowByIssue(issueNumber int) (*db.Workflow, error)
	LoadWorkflow(id string) (*db.WorkflowCheckpoint, error)
	FindMilestoneByName(name string) (*db.Milestone, error)
	GetMilestone(id string) (*db.MilestoneCheckpoint, error)
}

// Engine derives recovery plans from stored state.
type Engine struct {
	store Store
}

// NewEngine returns an engine reading from the given store.
func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// gateMarker matches gate completion actions such as "gate-2-plan-approved".
var gateMarker = regexp.MustCompile(`^gate-(\d+)`)

// RecoverTasksByIssue rebuilds the task plan for an issue's most recent
// workflow. With ArchetypeAuto the template is inferred: any gate marker in
// the action log means gated, otherwise phased. An issue with no workflow
// yields a nil plan and no error.
func (e *Engine) RecoverTasksByIssue(issueNumber int, archetype Archetype) (*Plan, error) {
	w, err := e.store.FindWorkflowByIssue(issueNumber)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, nil
	}

	cp, err := e.store.LoadWorkflow(w.ID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, nil
	}

	if archetype == "" || archetype == ArchetypeAuto {
		archetype = inferArchetype(cp.Actions)
	}
	if archetype == ArchetypeGated {
		return gatedPlan(cp), nil
	}
	return phasedPlan(cp), nil
}

// inferArchetype classifies a workflow by its action names. Gate markers only
// appear in gated workflows.
func inferArchetype(actions []db.Action) Archetype {
	for _, a := range actions {
		if gateMarker.MatchString(a.Action) {
			return ArchetypeGated
		}
	}
	return ArchetypePhased
}

// gatedPlan derives status from gate completion markers: every entry up to
// the highest successfully completed gate is done, the next entry is the
// active one, the rest wait.
func gatedPlan(cp *db.WorkflowCheckpoint) *Plan {
	lastGate := 0
	for _, a := range cp.Actions {
		if a.Result != db.ResultSuccess {
			continue
		}
		m := gateMarker.FindStringSubmatch(a.Action)
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > lastGate {
			lastGate = n
		}
	}

	// Gate n completes template entry n-1.
	tasks := buildLinear(gatedTemplate, lastGate-1, cp)
	done := 0
	for _, t := range tasks {
		if t.Status == StatusCompleted {
			done++
		}
	}

	summary := fmt.Sprintf("Workflow for issue #%d (gated): %d/%d steps complete",
		cp.Workflow.IssueNumber, done, len(tasks))
	summary = appendResumeHint(summary, tasks, cp)

	return &Plan{WorkflowType: string(ArchetypeGated), Tasks: tasks, Summary: summary}
}

// phasedPlan derives status from the workflow's phase field. Setup is always
// complete once the workflow row exists.
func phasedPlan(cp *db.WorkflowCheckpoint) *Plan {
	tasks := buildLinear(phasedTemplate, phaseIndex(cp.Workflow.Phase)-1, cp)
	done := 0
	for _, t := range tasks {
		if t.Status == StatusCompleted {
			done++
		}
	}

	summary := fmt.Sprintf("Workflow for issue #%d (phased): %d/%d steps complete",
		cp.Workflow.IssueNumber, done, len(tasks))
	summary = appendResumeHint(summary, tasks, cp)

	return &Plan{WorkflowType: string(ArchetypePhased), Tasks: tasks, Summary: summary}
}

// buildLinear materializes a template as a strict linear chain. Entries up to
// lastDone are completed, the next entry is in progress (or completed with a
// failure flag when the workflow itself failed), the rest pending. A
// completed workflow forces every entry to completed.
func buildLinear(template []planEntry, lastDone int, cp *db.WorkflowCheckpoint) []Task {
	tasks := make([]Task, len(template))
	for i, entry := range template {
		t := Task{
			Subject:     entry.subject,
			Description: entry.description,
			ActiveForm:  entry.activeForm,
			Status:      StatusPending,
		}
		if i > 0 {
			t.BlockedBy = []int{i - 1}
		}

		switch {
		case cp.Workflow.Status == db.StatusCompleted:
			t.Status = StatusCompleted
		case i <= lastDone:
			t.Status = StatusCompleted
		case i == lastDone+1:
			if cp.Workflow.Status == db.StatusFailed {
				t.Status = StatusCompleted
				t.Metadata = failureMetadata(cp.Actions)
			} else {
				t.Status = StatusInProgress
			}
		}
		tasks[i] = t
	}
	return tasks
}

// failureMetadata flags a step that ended in workflow failure, carrying the
// most recent recorded error when the action log has one.
func failureMetadata(actions []db.Action) map[string]any {
	meta := map[string]any{"failed": true}
	if reason := lastFailureReason(actions); reason != "" {
		meta["error"] = reason
	}
	return meta
}

// lastFailureReason pulls the error string out of the newest failed action
// that recorded one.
func lastFailureReason(actions []db.Action) string {
	for i := len(actions) - 1; i >= 0; i-- {
		a := actions[i]
		if a.Result != db.ResultFailed || a.Metadata == "" {
			continue
		}
		if msg := gjson.Get(a.Metadata, "error").String(); msg != "" {
			return msg
		}
	}
	return ""
}

// appendResumeHint names the active step, or the failure, in the summary.
func appendResumeHint(summary string, tasks []Task, cp *db.WorkflowCheckpoint) string {
	if cp.Workflow.Status == db.StatusFailed {
		if reason := lastFailureReason(cp.Actions); reason != "" {
			return summary + "; failed: " + reason
		}
		return summary + "; workflow failed"
	}
	for _, t := range tasks {
		if t.Status == StatusInProgress {
			return summary + "; resume at " + strconv.Quote(t.Subject)
		}
	}
	return summary
}

// RecoverTasksByMilestone rebuilds the task plan for a milestone: one task
// per linked workflow in wave order, each wave blocked by the full index set
// of the wave before it. An unknown name yields a nil plan and no error.
func (e *Engine) RecoverTasksByMilestone(name string) (*Plan, error) {
	m, err := e.store.FindMilestoneByName(name)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, nil
	}

	cp, err := e.store.GetMilestone(m.ID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, nil
	}

	var (
		tasks       []Task
		prevIndices []int
		curIndices  []int
		curWave     = -1
		waves       int
		done        int
		active      int
	)
	for _, mw := range cp.Workflows {
		if mw.WaveNumber != curWave {
			prevIndices = curIndices
			curIndices = nil
			curWave = mw.WaveNumber
			waves++
		}

		t := Task{
			Subject:     fmt.Sprintf("Issue #%d", mw.IssueNumber),
			Description: fmt.Sprintf("Workflow on %s (wave %d)", mw.Branch, mw.WaveNumber),
			ActiveForm:  fmt.Sprintf("Working issue #%d", mw.IssueNumber),
			BlockedBy:   slices.Clone(prevIndices),
		}
		switch mw.Status {
		case db.StatusCompleted:
			t.Status = StatusCompleted
			done++
		case db.StatusFailed:
			t.Status = StatusCompleted
			t.Metadata = map[string]any{"failed": true}
			done++
		case db.StatusRunning, db.StatusPaused:
			t.Status = StatusInProgress
			active++
		default:
			t.Status = StatusPending
		}

		curIndices = append(curIndices, len(tasks))
		tasks = append(tasks, t)
	}

	summary := fmt.Sprintf("Milestone %q: %d workflows across %d waves; %d finished, %d in progress",
		cp.Milestone.Name, len(tasks), waves, done, active)

	return &Plan{WorkflowType: "milestone", Tasks: tasks, Summary: summary}, nil
}
