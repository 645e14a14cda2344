package db

import (
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/waymarklabs/waymark/internal/errors"
)

// SnapshotStatus is the recorded state of one task at capture time.
type SnapshotStatus string

const (
	SnapshotPending    SnapshotStatus = "pending"
	SnapshotInProgress SnapshotStatus = "in_progress"
	SnapshotCompleted  SnapshotStatus = "completed"
)

// TaskSnapshot is a point-in-time record of one task. Rows are never updated;
// a state change is a new snapshot with the same TaskID. ID is the monotonic
// insertion sequence and the latest snapshot per TaskID is the one with the
// highest ID.
type TaskSnapshot struct {
	ID           int64
	WorkflowID   string
	Phase        Phase
	TaskID       string
	Subject      string
	Status       SnapshotStatus
	Metadata     string
	ParentTaskID string
	CapturedAt   time.Time
}

// SnapshotInput carries the fields for one snapshot capture.
type SnapshotInput struct {
	WorkflowID   string
	Phase        Phase
	TaskID       string
	Subject      string
	Status       SnapshotStatus
	ParentTaskID string
	Metadata     map[string]any
}

// SaveTaskSnapshot appends a snapshot. The workflow must exist; metadata that
// cannot be encoded is a hard failure.
func (s *Store) SaveTaskSnapshot(in SnapshotInput) (*TaskSnapshot, error) {
	meta, err := encodeMetadata("snapshot "+in.TaskID, in.Metadata)
	if err != nil {
		return nil, err
	}

	snap := &TaskSnapshot{
		WorkflowID:   in.WorkflowID,
		Phase:        in.Phase,
		TaskID:       in.TaskID,
		Subject:      in.Subject,
		Status:       in.Status,
		ParentTaskID: in.ParentTaskID,
		CapturedAt:   time.Now().UTC(),
	}
	if meta != nil {
		snap.Metadata = *meta
	}

	var phase, parent *string
	if in.Phase != "" {
		p := string(in.Phase)
		phase = &p
	}
	if in.ParentTaskID != "" {
		parent = &in.ParentTaskID
	}

	err = s.QueryRow(`
		INSERT INTO task_snapshots (workflow_id, phase, task_id, subject, status, metadata, parent_task_id, captured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, in.WorkflowID, phase, in.TaskID, in.Subject, in.Status, meta, parent,
		fmtTime(snap.CapturedAt)).Scan(&snap.ID)
	if err != nil {
		if s.Driver().IsForeignKeyViolation(err) {
			return nil, errors.ErrWorkflowNotFound(in.WorkflowID).WithCause(err)
		}
		return nil, fmt.Errorf("save task snapshot %s: %w", in.TaskID, err)
	}
	return snap, nil
}

const snapshotColumns = "id, workflow_id, phase, task_id, subject, status, metadata, parent_task_id, captured_at"

func scanSnapshot(sc scanner) (*TaskSnapshot, error) {
	var t TaskSnapshot
	var phase, metadata, parent sql.NullString
	var capturedAt string
	if err := sc.Scan(&t.ID, &t.WorkflowID, &phase, &t.TaskID, &t.Subject,
		&t.Status, &metadata, &parent, &capturedAt); err != nil {
		return nil, err
	}
	if phase.Valid {
		t.Phase = Phase(phase.String)
	}
	if metadata.Valid {
		t.Metadata = metadata.String
	}
	if parent.Valid {
		t.ParentTaskID = parent.String
	}
	t.CapturedAt = parseTime(capturedAt)
	return &t, nil
}

// LatestSnapshot returns the authoritative snapshot for a task, or nil when
// the task has never been captured.
func (s *Store) LatestSnapshot(taskID string) (*TaskSnapshot, error) {
	row := s.QueryRow(`
		SELECT `+snapshotColumns+` FROM task_snapshots
		WHERE task_id = ?
		ORDER BY id DESC
		LIMIT 1
	`, taskID)
	t, err := scanSnapshot(row)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest snapshot for %s: %w", taskID, err)
	}
	return t, nil
}

// LatestChildSnapshots returns, for each distinct child task of the given
// parent, only its latest snapshot. A task counts as a child when its latest
// snapshot names the parent; older snapshots with different parents are
// superseded.
func (s *Store) LatestChildSnapshots(parentTaskID string) ([]TaskSnapshot, error) {
	rows, err := s.Query(`
		SELECT `+snapshotColumns+` FROM task_snapshots ts
		WHERE ts.id = (SELECT MAX(id) FROM task_snapshots WHERE task_id = ts.task_id)
		  AND ts.parent_task_id = ?
		ORDER BY ts.id
	`, parentTaskID)
	if err != nil {
		return nil, fmt.Errorf("latest child snapshots for %s: %w", parentTaskID, err)
	}
	return collectSnapshots(rows)
}

// LatestSnapshots returns the latest snapshot per task, optionally filtered
// to one workflow (empty workflowID means all).
func (s *Store) LatestSnapshots(workflowID string) ([]TaskSnapshot, error) {
	query := `
		SELECT ` + snapshotColumns + ` FROM task_snapshots ts
		WHERE ts.id = (SELECT MAX(id) FROM task_snapshots WHERE task_id = ts.task_id)
	`
	var args []any
	if workflowID != "" {
		query += " AND ts.workflow_id = ?"
		args = append(args, workflowID)
	}
	query += " ORDER BY ts.id"

	rows, err := s.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("latest snapshots: %w", err)
	}
	return collectSnapshots(rows)
}

func collectSnapshots(rows *sql.Rows) ([]TaskSnapshot, error) {
	defer func() { _ = rows.Close() }()

	var snapshots []TaskSnapshot
	for rows.Next() {
		t, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snapshots = append(snapshots, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return snapshots, nil
}
