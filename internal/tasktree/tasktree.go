// Package tasktree holds the pure recursive algorithms over a project's
// nested work items. No I/O; callers persist the returned tree themselves.
package tasktree

import (
	"math"
	"time"

	"siteline/internal/domain"
)

// FindByID returns the first task matching id in pre-order, or nil.
// If ids collide, the first match wins and later duplicates are unreachable.
func FindByID(tasks []domain.Task, id string) *domain.Task {
	for i := range tasks {
		if tasks[i].ID == id {
			return &tasks[i]
		}
		if found := FindByID(tasks[i].SubTasks, id); found != nil {
			return found
		}
	}
	return nil
}

// UpdateStatus returns a copy of the tree with the matching task's status
// replaced and its last-updated stamp set to now. The traversal stops at the
// first match. The second result reports whether a match was found.
func UpdateStatus(tasks []domain.Task, id string, status domain.TaskStatus, now time.Time) ([]domain.Task, bool) {
	out := Clone(tasks)
	if t := FindByID(out, id); t != nil {
		t.Status = status
		t.LastUpdated = now
		return out, true
	}
	return out, false
}

// AddChild returns a copy of the tree with child appended. An empty parentID
// appends to the root list; otherwise the child is appended to the sub-tasks
// of the first task matching parentID. The second result reports whether the
// parent was found.
func AddChild(tasks []domain.Task, parentID string, child domain.Task) ([]domain.Task, bool) {
	out := Clone(tasks)
	if parentID == "" {
		return append(out, child), true
	}
	if parent := FindByID(out, parentID); parent != nil {
		parent.SubTasks = append(parent.SubTasks, child)
		return out, true
	}
	return out, false
}

// Progress is the value-weighted completion percentage: completed leaf value
// over the project budget, rounded to the nearest integer. A zero budget or
// empty tree yields 0. The result is not clamped; leaves whose values sum
// past the budget can push it over 100.
func Progress(tasks []domain.Task, budget float64) int {
	if budget == 0 || len(tasks) == 0 {
		return 0
	}
	var done float64
	for _, leaf := range Leaves(tasks) {
		if leaf.Status == domain.TaskCompleted {
			done += leaf.Value
		}
	}
	return int(math.Round(done / budget * 100))
}

// Leaves flattens the tree to tasks with no sub-tasks, in pre-order.
func Leaves(tasks []domain.Task) []domain.Task {
	var out []domain.Task
	for _, t := range tasks {
		if t.IsLeaf() {
			out = append(out, t)
			continue
		}
		out = append(out, Leaves(t.SubTasks)...)
	}
	return out
}

// RemainingValue is a parent's value minus the values of its direct children.
// For the project level, pass the project budget and the root tasks.
func RemainingValue(value float64, children []domain.Task) float64 {
	for _, c := range children {
		value -= c.Value
	}
	return value
}

// Count walks every node of the tree, not just leaves, and returns the total
// node count and how many of them are completed. This drives the count-based
// progress metric, which is deliberately distinct from Progress.
func Count(tasks []domain.Task) (total, completed int) {
	for _, t := range tasks {
		total++
		if t.Status == domain.TaskCompleted {
			completed++
		}
		st, sc := Count(t.SubTasks)
		total += st
		completed += sc
	}
	return total, completed
}

// Clone deep-copies a task tree.
func Clone(tasks []domain.Task) []domain.Task {
	if tasks == nil {
		return nil
	}
	out := make([]domain.Task, len(tasks))
	for i, t := range tasks {
		t.SubTasks = Clone(t.SubTasks)
		out[i] = t
	}
	return out
}
