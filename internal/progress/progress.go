// Package progress aggregates task completion over the snapshot hierarchy.
// All computation is read-only and tolerant of corrupt parent links: a cycle
// degrades to a zeroed result instead of recursing forever.
package progress

import (
	"math"

	"github.com/waymarklabs/waymark/internal/db"
)

// SnapshotSource is the read surface the aggregator needs.
type SnapshotSource interface {
	LatestSnapshot(taskID string) (*db.TaskSnapshot, error)
	LatestChildSnapshots(parentTaskID string) ([]db.TaskSnapshot, error)
	LatestSnapshots(workflowID string) ([]db.TaskSnapshot, error)
}

// Progress is the aggregated completion state of one subtree.
type Progress struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	InProgress int `json:"inProgress"`
	Pending    int `json:"pending"`
	Percentage int `json:"percentage"`
}

// TreeNode is one task with its children and subtree progress.
type TreeNode struct {
	Task     db.TaskSnapshot `json:"task"`
	Children []TreeNode      `json:"children,omitempty"`
	Progress Progress        `json:"progress"`
}

// Aggregator computes progress over latest-per-task snapshots.
type Aggregator struct {
	source SnapshotSource
}

// NewAggregator returns an aggregator reading from the given source.
func NewAggregator(source SnapshotSource) *Aggregator {
	return &Aggregator{source: source}
}

// ChildTasks returns the latest snapshot of every child of a task.
func (a *Aggregator) ChildTasks(parentTaskID string) ([]db.TaskSnapshot, error) {
	return a.source.LatestChildSnapshots(parentTaskID)
}

// TaskProgress computes the completion state of a task's subtree. A leaf
// counts its own latest snapshot; a task with children sums its children and
// ignores its own status.
func (a *Aggregator) TaskProgress(taskID string) (Progress, error) {
	return a.taskProgress(taskID, map[string]bool{})
}

func (a *Aggregator) taskProgress(taskID string, visited map[string]bool) (Progress, error) {
	// Cycle guard first: a revisited task terminates the walk with a zeroed
	// result no matter how corrupt the parent links are.
	if visited[taskID] {
		return Progress{}, nil
	}
	visited[taskID] = true

	children, err := a.source.LatestChildSnapshots(taskID)
	if err != nil {
		return Progress{}, err
	}

	if len(children) == 0 {
		snap, err := a.source.LatestSnapshot(taskID)
		if err != nil {
			return Progress{}, err
		}
		if snap == nil {
			return Progress{}, nil
		}
		return leafProgress(snap.Status), nil
	}

	var p Progress
	for _, child := range children {
		cp, err := a.taskProgress(child.TaskID, visited)
		if err != nil {
			return Progress{}, err
		}
		p.Total += cp.Total
		p.Completed += cp.Completed
		p.InProgress += cp.InProgress
		p.Pending += cp.Pending
	}
	p.Percentage = percentage(p.Completed, p.Total)
	return p, nil
}

func leafProgress(status db.SnapshotStatus) Progress {
	p := Progress{Total: 1}
	switch status {
	case db.SnapshotCompleted:
		p.Completed = 1
	case db.SnapshotInProgress:
		p.InProgress = 1
	default:
		p.Pending = 1
	}
	p.Percentage = percentage(p.Completed, p.Total)
	return p
}

func percentage(completed, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(completed) / float64(total) * 100))
}

// TaskTree builds the full task forest in a single pass over the latest
// snapshots, optionally filtered to one workflow (empty means all). Roots are
// tasks whose latest snapshot names no parent; members of a parent cycle have
// no root and simply never appear.
func (a *Aggregator) TaskTree(workflowID string) ([]TreeNode, error) {
	snapshots, err := a.source.LatestSnapshots(workflowID)
	if err != nil {
		return nil, err
	}

	byParent := map[string][]db.TaskSnapshot{}
	var roots []db.TaskSnapshot
	for _, s := range snapshots {
		if s.ParentTaskID == "" {
			roots = append(roots, s)
			continue
		}
		byParent[s.ParentTaskID] = append(byParent[s.ParentTaskID], s)
	}

	nodes := make([]TreeNode, 0, len(roots))
	for _, root := range roots {
		nodes = append(nodes, buildNode(root, byParent, map[string]bool{}))
	}
	return nodes, nil
}

func buildNode(snap db.TaskSnapshot, byParent map[string][]db.TaskSnapshot, visited map[string]bool) TreeNode {
	visited[snap.TaskID] = true
	node := TreeNode{Task: snap}

	children := byParent[snap.TaskID]
	if len(children) == 0 {
		node.Progress = leafProgress(snap.Status)
		return node
	}

	for _, child := range children {
		if visited[child.TaskID] {
			continue
		}
		cn := buildNode(child, byParent, visited)
		node.Children = append(node.Children, cn)
		node.Progress.Total += cn.Progress.Total
		node.Progress.Completed += cn.Progress.Completed
		node.Progress.InProgress += cn.Progress.InProgress
		node.Progress.Pending += cn.Progress.Pending
	}
	node.Progress.Percentage = percentage(node.Progress.Completed, node.Progress.Total)
	return node
}
