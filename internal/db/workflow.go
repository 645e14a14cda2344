package db

import (
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/waymarklabs/waymark/internal/errors"
)

// Phase identifies where a workflow is in its lifecycle. Issue-scoped
// workflows move through research/implement/review/finalize; milestone-scoped
// workflows through planning/execute/review/merge/cleanup. The store does not
// police transition order; callers own the sequencing.
type Phase string

const (
	PhaseResearch  Phase = "research"
	PhaseImplement Phase = "implement"
	PhaseReview    Phase = "review"
	PhaseFinalize  Phase = "finalize"

	PhasePlanning Phase = "planning"
	PhaseExecute  Phase = "execute"
	PhaseMerge    Phase = "merge"
	PhaseCleanup  Phase = "cleanup"
)

// Status is the run state of a workflow or milestone.
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ActionResult is the outcome recorded with an action log entry.
type ActionResult string

const (
	ResultSuccess ActionResult = "success"
	ResultFailed  ActionResult = "failed"
	ResultPending ActionResult = "pending"
)

// StaleCleanupAction is the action name appended when a stale running
// workflow is transitioned to failed.
const StaleCleanupAction = "workflow_stale_cleanup"

// Workflow is one tracked unit of automated work for a single issue.
type Workflow struct {
	ID           string
	IssueNumber  int
	Branch       string
	WorktreePath string
	Phase        Phase
	Status       Status
	RetryCount   int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Action is one append-only history entry. Metadata is the raw JSON blob as
// stored; empty when the entry carries none.
type Action struct {
	ID         int64
	WorkflowID string
	Action     string
	Result     ActionResult
	Metadata   string
	CreatedAt  time.Time
}

// Commit is one append-only audit entry. Not read by recovery.
type Commit struct {
	ID         int64
	WorkflowID string
	SHA        string
	Message    string
	CreatedAt  time.Time
}

// WorkflowCheckpoint is the full stored state of one workflow.
type WorkflowCheckpoint struct {
	Workflow Workflow
	Actions  []Action
	Commits  []Commit
}

// MilestoneWorkflow is a workflow together with its wave inside a milestone.
type MilestoneWorkflow struct {
	Workflow
	WaveNumber int
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

// encodeMetadata serializes optional metadata at the store boundary. A map
// that cannot round-trip through JSON is a hard failure, not a silent null.
func encodeMetadata(action string, metadata map[string]any) (*string, error) {
	if metadata == nil {
		return nil, nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, errors.ErrMetadataInvalid(action, err)
	}
	s := string(raw)
	return &s, nil
}

// CreateWorkflow inserts a new workflow for one issue attempt. The row starts
// at phase research, status running.
func (s *Store) CreateWorkflow(issueNumber int, branch, worktreePath string) (*Workflow, error) {
	now := time.Now().UTC().Truncate(time.Second)
	w := &Workflow{
		ID:           uuid.NewString(),
		IssueNumber:  issueNumber,
		Branch:       branch,
		WorktreePath: worktreePath,
		Phase:        PhaseResearch,
		Status:       StatusRunning,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var worktree *string
	if w.WorktreePath != "" {
		worktree = &w.WorktreePath
	}

	_, err := s.Exec(`
		INSERT INTO workflows (id, issue_number, branch, worktree_path, phase, status, retry_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, w.ID, w.IssueNumber, w.Branch, worktree, w.Phase, w.Status, w.RetryCount,
		fmtTime(w.CreatedAt), fmtTime(w.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("create workflow: %w", err)
	}
	return w, nil
}

// SaveWorkflow overwrites the mutable fields of an existing workflow.
func (s *Store) SaveWorkflow(w *Workflow) error {
	var worktree *string
	if w.WorktreePath != "" {
		worktree = &w.WorktreePath
	}

	w.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	result, err := s.Exec(`
		UPDATE workflows
		SET branch = ?, worktree_path = ?, phase = ?, status = ?, retry_count = ?, updated_at = ?
		WHERE id = ?
	`, w.Branch, worktree, w.Phase, w.Status, w.RetryCount, fmtTime(w.UpdatedAt), w.ID)
	if err != nil {
		return fmt.Errorf("save workflow: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("save workflow: %w", err)
	}
	if rows == 0 {
		return errors.ErrWorkflowNotFound(w.ID)
	}
	return nil
}

const workflowColumns = "id, issue_number, branch, worktree_path, phase, status, retry_count, created_at, updated_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(sc scanner) (*Workflow, error) {
	var w Workflow
	var worktree sql.NullString
	var createdAt, updatedAt string
	if err := sc.Scan(&w.ID, &w.IssueNumber, &w.Branch, &worktree, &w.Phase,
		&w.Status, &w.RetryCount, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if worktree.Valid {
		w.WorktreePath = worktree.String
	}
	w.CreatedAt = parseTime(createdAt)
	w.UpdatedAt = parseTime(updatedAt)
	return &w, nil
}

// GetWorkflow retrieves a workflow by ID. Returns nil when missing.
func (s *Store) GetWorkflow(id string) (*Workflow, error) {
	row := s.QueryRow("SELECT "+workflowColumns+" FROM workflows WHERE id = ?", id)
	w, err := scanWorkflow(row)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get workflow %s: %w", id, err)
	}
	return w, nil
}

// LoadWorkflow retrieves a workflow with its full action and commit history.
// Returns nil when the workflow does not exist. Actions come back in canonical
// history order: creation time, then insert id as tiebreaker.
func (s *Store) LoadWorkflow(id string) (*WorkflowCheckpoint, error) {
	w, err := s.GetWorkflow(id)
	if err != nil || w == nil {
		return nil, err
	}

	actions, err := s.listActions(id)
	if err != nil {
		return nil, err
	}
	commits, err := s.listCommits(id)
	if err != nil {
		return nil, err
	}

	return &WorkflowCheckpoint{Workflow: *w, Actions: actions, Commits: commits}, nil
}

// FindWorkflowByIssue returns the most recently created workflow for an issue,
// or nil when none exists.
func (s *Store) FindWorkflowByIssue(issueNumber int) (*Workflow, error) {
	row := s.QueryRow(`
		SELECT `+workflowColumns+` FROM workflows
		WHERE issue_number = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, issueNumber)
	w, err := scanWorkflow(row)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find workflow for issue %d: %w", issueNumber, err)
	}
	return w, nil
}

// SetWorkflowPhase records a phase transition. Unknown ids fail loudly.
func (s *Store) SetWorkflowPhase(id string, phase Phase) error {
	return s.updateWorkflowField(id, "phase", string(phase))
}

// SetWorkflowStatus records a status transition. Unknown ids fail loudly.
func (s *Store) SetWorkflowStatus(id string, status Status) error {
	return s.updateWorkflowField(id, "status", string(status))
}

func (s *Store) updateWorkflowField(id, column, value string) error {
	result, err := s.Exec(
		"UPDATE workflows SET "+column+" = ?, updated_at = ? WHERE id = ?",
		value, fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("set workflow %s: %w", column, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set workflow %s: %w", column, err)
	}
	if rows == 0 {
		return errors.ErrWorkflowNotFound(id)
	}
	return nil
}

// IncrementRetry bumps the retry counter and returns the post-increment value.
func (s *Store) IncrementRetry(id string) (int, error) {
	var count int
	err := s.QueryRow(`
		UPDATE workflows SET retry_count = retry_count + 1, updated_at = ?
		WHERE id = ?
		RETURNING retry_count
	`, fmtTime(time.Now()), id).Scan(&count)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return 0, errors.ErrWorkflowNotFound(id)
		}
		return 0, fmt.Errorf("increment retry for %s: %w", id, err)
	}
	return count, nil
}

// LogAction appends one entry to a workflow's action history. The workflow
// must already exist; a referential-integrity violation comes back as a
// workflow-not-found error telling the caller to create the workflow first.
func (s *Store) LogAction(workflowID, action string, result ActionResult, metadata map[string]any) (*Action, error) {
	meta, err := encodeMetadata(action, metadata)
	if err != nil {
		return nil, err
	}

	a := &Action{
		WorkflowID: workflowID,
		Action:     action,
		Result:     result,
		CreatedAt:  time.Now().UTC(),
	}
	if meta != nil {
		a.Metadata = *meta
	}

	err = s.QueryRow(`
		INSERT INTO actions (workflow_id, action, result, metadata, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`, workflowID, action, result, meta, fmtTime(a.CreatedAt)).Scan(&a.ID)
	if err != nil {
		if s.Driver().IsForeignKeyViolation(err) {
			return nil, errors.ErrWorkflowNotFound(workflowID).WithCause(err)
		}
		return nil, fmt.Errorf("log action %q: %w", action, err)
	}
	return a, nil
}

// LogActionSafe logs an action without ever failing the caller. When the log
// write fails, a best-effort "{action}_failed" entry records the failure; if
// that write fails too (the workflow may have been deleted mid-flight) the
// double failure is logged at error level and false is returned.
func (s *Store) LogActionSafe(workflowID, action string, result ActionResult, metadata map[string]any) bool {
	_, err := s.LogAction(workflowID, action, result, metadata)
	if err == nil {
		return true
	}
	slog.Warn("action log failed, recording failure marker",
		"workflow", workflowID, "action", action, "error", err)

	if _, ferr := s.LogAction(workflowID, action+"_failed", ResultFailed,
		map[string]any{"error": err.Error()}); ferr != nil {
		slog.Error("failure marker could not be recorded",
			"workflow", workflowID, "action", action, "error", ferr)
	}
	return false
}

// LogCommit appends one entry to a workflow's commit audit trail.
func (s *Store) LogCommit(workflowID, sha, message string) (*Commit, error) {
	c := &Commit{
		WorkflowID: workflowID,
		SHA:        sha,
		Message:    message,
		CreatedAt:  time.Now().UTC(),
	}

	err := s.QueryRow(`
		INSERT INTO commits (workflow_id, sha, message, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`, workflowID, sha, message, fmtTime(c.CreatedAt)).Scan(&c.ID)
	if err != nil {
		if s.Driver().IsForeignKeyViolation(err) {
			return nil, errors.ErrWorkflowNotFound(workflowID).WithCause(err)
		}
		return nil, fmt.Errorf("log commit %s: %w", sha, err)
	}
	return c, nil
}

// ListActiveWorkflows returns workflows whose status is running or paused.
func (s *Store) ListActiveWorkflows() ([]Workflow, error) {
	rows, err := s.Query(`
		SELECT ` + workflowColumns + ` FROM workflows
		WHERE status IN ('running', 'paused')
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list active workflows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var workflows []Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		workflows = append(workflows, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflows: %w", err)
	}
	return workflows, nil
}

// DeleteWorkflow removes a workflow and its dependent rows. Deleting an
// unknown id is a no-op.
func (s *Store) DeleteWorkflow(id string) error {
	if _, err := s.Exec("DELETE FROM workflows WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	return nil
}

// CleanupStaleWorkflows fails every running workflow whose last update is
// older than thresholdHours (default 24 when <= 0) and appends a
// workflow_stale_cleanup action to each. Per-workflow failures are logged and
// skipped; the returned count covers fully cleaned workflows only.
func (s *Store) CleanupStaleWorkflows(thresholdHours int) (int, error) {
	if thresholdHours <= 0 {
		thresholdHours = 24
	}
	cutoff := time.Now().UTC().Add(-time.Duration(thresholdHours) * time.Hour)

	rows, err := s.Query(`
		SELECT `+workflowColumns+` FROM workflows
		WHERE status = 'running' AND updated_at < ?
		ORDER BY updated_at
	`, fmtTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("find stale workflows: %w", err)
	}

	var stale []Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("scan stale workflow: %w", err)
		}
		stale = append(stale, *w)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, fmt.Errorf("iterate stale workflows: %w", err)
	}
	_ = rows.Close()

	cleaned := 0
	for _, w := range stale {
		if err := s.SetWorkflowStatus(w.ID, StatusFailed); err != nil {
			slog.Warn("stale cleanup: status update failed, skipping",
				"workflow", w.ID, "error", err)
			continue
		}
		_, err := s.LogAction(w.ID, StaleCleanupAction, ResultFailed, map[string]any{
			"reason":          fmt.Sprintf("no update in over %dh", thresholdHours),
			"last_update":     fmtTime(w.UpdatedAt),
			"threshold_hours": thresholdHours,
		})
		if err != nil {
			slog.Warn("stale cleanup: action log failed, skipping",
				"workflow", w.ID, "error", err)
			continue
		}
		cleaned++
	}
	return cleaned, nil
}

// LinkWorkflowToMilestone places a workflow into a milestone's wave. A wave
// number <= 0 means wave 1. Re-linking updates the wave.
func (s *Store) LinkWorkflowToMilestone(workflowID, milestoneID string, waveNumber int) error {
	if waveNumber <= 0 {
		waveNumber = 1
	}

	_, err := s.Exec(`
		INSERT INTO milestone_workflows (milestone_id, workflow_id, wave_number)
		VALUES (?, ?, ?)
		ON CONFLICT(milestone_id, workflow_id) DO UPDATE SET
			wave_number = excluded.wave_number
	`, milestoneID, workflowID, waveNumber)
	if err != nil {
		if s.Driver().IsForeignKeyViolation(err) {
			return s.classifyLinkFailure(workflowID, milestoneID, err)
		}
		return fmt.Errorf("link workflow to milestone: %w", err)
	}
	return nil
}

// classifyLinkFailure names the missing side of a failed link insert.
func (s *Store) classifyLinkFailure(workflowID, milestoneID string, cause error) error {
	if w, err := s.GetWorkflow(workflowID); err == nil && w == nil {
		return errors.ErrWorkflowNotFound(workflowID).WithCause(cause)
	}
	if m, err := s.getMilestone(milestoneID); err == nil && m == nil {
		return errors.ErrMilestoneNotFound(milestoneID).WithCause(cause)
	}
	return errors.ErrStoreConstraint(
		"link workflow to milestone rejected",
		"create both the workflow and the milestone before linking them", cause)
}

// ListMilestoneWorkflows returns a milestone's workflows ordered by wave, then
// creation time.
func (s *Store) ListMilestoneWorkflows(milestoneID string) ([]MilestoneWorkflow, error) {
	rows, err := s.Query(`
		SELECT w.id, w.issue_number, w.branch, w.worktree_path, w.phase, w.status,
		       w.retry_count, w.created_at, w.updated_at, mw.wave_number
		FROM milestone_workflows mw
		JOIN workflows w ON w.id = mw.workflow_id
		WHERE mw.milestone_id = ?
		ORDER BY mw.wave_number, w.created_at, w.id
	`, milestoneID)
	if err != nil {
		return nil, fmt.Errorf("list milestone workflows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var linked []MilestoneWorkflow
	for rows.Next() {
		var mw MilestoneWorkflow
		var worktree sql.NullString
		var createdAt, updatedAt string
		if err := rows.Scan(&mw.ID, &mw.IssueNumber, &mw.Branch, &worktree, &mw.Phase,
			&mw.Status, &mw.RetryCount, &createdAt, &updatedAt, &mw.WaveNumber); err != nil {
			return nil, fmt.Errorf("scan milestone workflow: %w", err)
		}
		if worktree.Valid {
			mw.WorktreePath = worktree.String
		}
		mw.CreatedAt = parseTime(createdAt)
		mw.UpdatedAt = parseTime(updatedAt)
		linked = append(linked, mw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate milestone workflows: %w", err)
	}
	return linked, nil
}

// listActions returns a workflow's actions in canonical history order.
func (s *Store) listActions(workflowID string) ([]Action, error) {
	rows, err := s.Query(`
		SELECT id, workflow_id, action, result, metadata, created_at
		FROM actions
		WHERE workflow_id = ?
		ORDER BY created_at, id
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var actions []Action
	for rows.Next() {
		var a Action
		var metadata sql.NullString
		var createdAt string
		if err := rows.Scan(&a.ID, &a.WorkflowID, &a.Action, &a.Result, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		if metadata.Valid {
			a.Metadata = metadata.String
		}
		a.CreatedAt = parseTime(createdAt)
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return actions, nil
}

// listCommits returns a workflow's commits in insertion order.
func (s *Store) listCommits(workflowID string) ([]Commit, error) {
	rows, err := s.Query(`
		SELECT id, workflow_id, sha, message, created_at
		FROM commits
		WHERE workflow_id = ?
		ORDER BY created_at, id
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list commits: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var commits []Commit
	for rows.Next() {
		var c Commit
		var createdAt string
		if err := rows.Scan(&c.ID, &c.WorkflowID, &c.SHA, &c.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("scan commit: %w", err)
		}
		c.CreatedAt = parseTime(createdAt)
		commits = append(commits, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commits: %w", err)
	}
	return commits, nil
}
