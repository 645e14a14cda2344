package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/waymarklabs/waymark/internal/errors"
)

// Milestone is a named group of workflows executed across dependency-ordered
// waves.
type Milestone struct {
	ID                    string
	Name                  string
	GitHubMilestoneNumber *int
	Phase                 Phase
	Status                Status
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Baseline is a point-in-time quality snapshot for a milestone. At most one
// exists per milestone.
type Baseline struct {
	MilestoneID       string
	CapturedAt        time.Time
	LintExitCode      int
	LintWarnings      int
	LintErrors        int
	TypecheckExitCode int
	TypecheckErrors   int
}

// BaselineData carries the measured values for a baseline capture.
type BaselineData struct {
	LintExitCode      int
	LintWarnings      int
	LintErrors        int
	TypecheckExitCode int
	TypecheckErrors   int
}

// MilestoneCheckpoint is the full stored state of one milestone.
type MilestoneCheckpoint struct {
	Milestone Milestone
	Baseline  *Baseline
	Workflows []MilestoneWorkflow
}

// CreateMilestone inserts a new milestone. The row starts at phase planning,
// status running. githubNumber is optional.
func (s *Store) CreateMilestone(name string, githubNumber *int) (*Milestone, error) {
	now := time.Now().UTC().Truncate(time.Second)
	m := &Milestone{
		ID:                    uuid.NewString(),
		Name:                  name,
		GitHubMilestoneNumber: githubNumber,
		Phase:                 PhasePlanning,
		Status:                StatusRunning,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	_, err := s.Exec(`
		INSERT INTO milestones (id, name, github_milestone_number, phase, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.Name, m.GitHubMilestoneNumber, m.Phase, m.Status,
		fmtTime(m.CreatedAt), fmtTime(m.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("create milestone: %w", err)
	}
	return m, nil
}

const milestoneColumns = "id, name, github_milestone_number, phase, status, created_at, updated_at"

func scanMilestone(sc scanner) (*Milestone, error) {
	var m Milestone
	var ghNumber sql.NullInt64
	var createdAt, updatedAt string
	if err := sc.Scan(&m.ID, &m.Name, &ghNumber, &m.Phase, &m.Status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if ghNumber.Valid {
		n := int(ghNumber.Int64)
		m.GitHubMilestoneNumber = &n
	}
	m.CreatedAt = parseTime(createdAt)
	m.UpdatedAt = parseTime(updatedAt)
	return &m, nil
}

// getMilestone retrieves just the milestone row. Returns nil when missing.
func (s *Store) getMilestone(id string) (*Milestone, error) {
	row := s.QueryRow("SELECT "+milestoneColumns+" FROM milestones WHERE id = ?", id)
	m, err := scanMilestone(row)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get milestone %s: %w", id, err)
	}
	return m, nil
}

// GetMilestone retrieves a milestone with its baseline (nil when never
// captured) and linked workflows ordered by wave then creation time. Returns
// nil when the milestone does not exist.
func (s *Store) GetMilestone(id string) (*MilestoneCheckpoint, error) {
	m, err := s.getMilestone(id)
	if err != nil || m == nil {
		return nil, err
	}

	baseline, err := s.GetBaseline(id)
	if err != nil {
		return nil, err
	}
	workflows, err := s.ListMilestoneWorkflows(id)
	if err != nil {
		return nil, err
	}

	return &MilestoneCheckpoint{Milestone: *m, Baseline: baseline, Workflows: workflows}, nil
}

// FindMilestoneByName returns the most recently created milestone with the
// given name, or nil when none exists.
func (s *Store) FindMilestoneByName(name string) (*Milestone, error) {
	row := s.QueryRow(`
		SELECT `+milestoneColumns+` FROM milestones
		WHERE name = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, name)
	m, err := scanMilestone(row)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find milestone %q: %w", name, err)
	}
	return m, nil
}

// SetMilestonePhase records a phase transition. Unknown ids fail loudly.
func (s *Store) SetMilestonePhase(id string, phase Phase) error {
	return s.updateMilestoneField(id, "phase", string(phase))
}

// SetMilestoneStatus records a status transition. Unknown ids fail loudly.
func (s *Store) SetMilestoneStatus(id string, status Status) error {
	return s.updateMilestoneField(id, "status", string(status))
}

func (s *Store) updateMilestoneField(id, column, value string) error {
	result, err := s.Exec(
		"UPDATE milestones SET "+column+" = ?, updated_at = ? WHERE id = ?",
		value, fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("set milestone %s: %w", column, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set milestone %s: %w", column, err)
	}
	if rows == 0 {
		return errors.ErrMilestoneNotFound(id)
	}
	return nil
}

// SaveBaseline replaces the milestone's baseline. Delete and insert run in a
// single transaction so a failed insert cannot lose a prior baseline.
func (s *Store) SaveBaseline(milestoneID string, data BaselineData) error {
	capturedAt := time.Now().UTC().Truncate(time.Second)

	err := s.RunInTx(context.Background(), func(tx *TxOps) error {
		if _, err := tx.Exec("DELETE FROM baselines WHERE milestone_id = ?", milestoneID); err != nil {
			return fmt.Errorf("clear prior baseline: %w", err)
		}
		if _, err := tx.Exec(`
			INSERT INTO baselines (milestone_id, captured_at, lint_exit_code, lint_warnings, lint_errors, typecheck_exit_code, typecheck_errors)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, milestoneID, fmtTime(capturedAt), data.LintExitCode, data.LintWarnings,
			data.LintErrors, data.TypecheckExitCode, data.TypecheckErrors); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		if s.Driver().IsForeignKeyViolation(err) {
			return errors.ErrMilestoneNotFound(milestoneID).WithCause(err)
		}
		return fmt.Errorf("save baseline: %w", err)
	}
	return nil
}

// GetBaseline retrieves a milestone's baseline, or nil when never captured.
func (s *Store) GetBaseline(milestoneID string) (*Baseline, error) {
	row := s.QueryRow(`
		SELECT milestone_id, captured_at, lint_exit_code, lint_warnings, lint_errors, typecheck_exit_code, typecheck_errors
		FROM baselines WHERE milestone_id = ?
	`, milestoneID)

	var b Baseline
	var capturedAt string
	err := row.Scan(&b.MilestoneID, &capturedAt, &b.LintExitCode, &b.LintWarnings,
		&b.LintErrors, &b.TypecheckExitCode, &b.TypecheckErrors)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get baseline for %s: %w", milestoneID, err)
	}
	b.CapturedAt = parseTime(capturedAt)
	return &b, nil
}

// ListActiveMilestones returns milestones whose status is running or paused.
func (s *Store) ListActiveMilestones() ([]Milestone, error) {
	rows, err := s.Query(`
		SELECT ` + milestoneColumns + ` FROM milestones
		WHERE status IN ('running', 'paused')
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list active milestones: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var milestones []Milestone
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, fmt.Errorf("scan milestone: %w", err)
		}
		milestones = append(milestones, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate milestones: %w", err)
	}
	return milestones, nil
}

// DeleteMilestone removes a milestone, its baseline, and its workflow links.
// Deleting an unknown id is a no-op.
func (s *Store) DeleteMilestone(id string) error {
	if _, err := s.Exec("DELETE FROM milestones WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete milestone: %w", err)
	}
	return nil
}
