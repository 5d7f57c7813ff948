// Package engine holds the aggregate services. ProjectService owns the
// project's task tree and turns every tree mutation into a whole-document
// rewrite; ContractService manages payments, change orders and version
// snapshots inline in the contract document.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"siteline/internal/domain"
	"siteline/internal/events"
	"siteline/internal/repo"
	"siteline/internal/tasktree"
)

type ProjectService struct {
	Repo   repo.Repository[domain.Project]
	Events events.Writer
	Now    func() time.Time
	NewID  func() string
}

func NewProjectService(r repo.Repository[domain.Project], w events.Writer) ProjectService {
	return ProjectService{
		Repo:   r,
		Events: w,
		Now:    time.Now,
		NewID:  func() string { return ulid.Make().String() },
	}
}

func (s ProjectService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s ProjectService) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return ulid.Make().String()
}

type ProjectCreateOptions struct {
	Title       string
	Description string
	StartDate   time.Time
	EndDate     time.Time
	Value       float64
	ActorID     string
}

func (s ProjectService) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	if opts.Title == "" {
		return domain.Project{}, domain.ValidationError{Field: "title", Msg: "required"}
	}
	if opts.Value < 0 {
		return domain.Project{}, domain.ValidationError{Field: "value", Msg: "must not be negative"}
	}
	if !opts.EndDate.After(opts.StartDate) {
		return domain.Project{}, domain.ValidationError{Field: "end_date", Msg: "must be after start date"}
	}
	now := s.now().UTC()
	p, err := s.Repo.Create(ctx, domain.Project{
		Title:       opts.Title,
		Description: opts.Description,
		StartDate:   opts.StartDate,
		EndDate:     opts.EndDate,
		Value:       opts.Value,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return domain.Project{}, err
	}
	if err := s.Events.Append(ctx, "project.created", "project", p.ID, opts.ActorID, events.EventPayload{"title": p.Title}); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// GetProject fails with domain.ErrNotFound rather than returning nil; the
// aggregate layer always validates the project exists.
func (s ProjectService) GetProject(ctx context.Context, id string) (domain.Project, error) {
	p, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	if p == nil {
		return domain.Project{}, fmt.Errorf("project %s: %w", id, domain.ErrNotFound)
	}
	return *p, nil
}

func (s ProjectService) ListProjects(ctx context.Context) ([]domain.Project, error) {
	return s.Repo.GetAll(ctx)
}

func (s ProjectService) DeleteProject(ctx context.Context, id, actorID string) error {
	if _, err := s.GetProject(ctx, id); err != nil {
		return err
	}
	if err := s.Repo.Delete(ctx, id); err != nil {
		return err
	}
	return s.Events.Append(ctx, "project.deleted", "project", id, actorID, nil)
}

// UpdateTaskStatus replaces one task's status anywhere in the tree and
// rewrites the whole tasks array back. The write cost is O(tree size) no
// matter how small the edit.
func (s ProjectService) UpdateTaskStatus(ctx context.Context, projectID, taskID string, status domain.TaskStatus, actorID string) (domain.Project, error) {
	if !domain.ValidTaskStatus(status) {
		return domain.Project{}, domain.ValidationError{Field: "status", Msg: fmt.Sprintf("unknown status %q", status)}
	}
	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	tree, found := tasktree.UpdateStatus(p.Tasks, taskID, status, s.now().UTC())
	if !found {
		return domain.Project{}, fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}
	upd, err := s.persistTasks(ctx, projectID, tree)
	if err != nil {
		return domain.Project{}, err
	}
	if err := s.Events.Append(ctx, "task.status.updated", "task", taskID, actorID, events.EventPayload{
		"project_id": projectID,
		"status":     status,
	}); err != nil {
		return domain.Project{}, err
	}
	return upd, nil
}

type TaskInput struct {
	Title     string
	Quantity  float64
	UnitPrice float64
	// Value overrides the derived quantity*unit_price when set.
	Value *float64
}

// AddTask appends a fresh task under parentTaskID, or at the root when
// parentTaskID is empty. Task ids are ULIDs: unique across the tree even
// under rapid successive calls.
func (s ProjectService) AddTask(ctx context.Context, projectID, parentTaskID string, input TaskInput, actorID string) (domain.Task, error) {
	if input.Title == "" {
		return domain.Task{}, domain.ValidationError{Field: "title", Msg: "required"}
	}
	if input.Quantity < 0 {
		return domain.Task{}, domain.ValidationError{Field: "quantity", Msg: "must not be negative"}
	}
	if input.UnitPrice < 0 {
		return domain.Task{}, domain.ValidationError{Field: "unit_price", Msg: "must not be negative"}
	}
	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return domain.Task{}, err
	}
	value := input.Quantity * input.UnitPrice
	if input.Value != nil {
		value = *input.Value
	}
	task := domain.Task{
		ID:          s.newID(),
		Title:       input.Title,
		Status:      domain.TaskPending,
		LastUpdated: s.now().UTC(),
		Quantity:    input.Quantity,
		UnitPrice:   input.UnitPrice,
		Value:       value,
	}
	tree, found := tasktree.AddChild(p.Tasks, parentTaskID, task)
	if !found {
		return domain.Task{}, fmt.Errorf("parent task %s: %w", parentTaskID, domain.ErrNotFound)
	}
	if _, err := s.persistTasks(ctx, projectID, tree); err != nil {
		return domain.Task{}, err
	}
	if err := s.Events.Append(ctx, "task.created", "task", task.ID, actorID, events.EventPayload{
		"project_id": projectID,
		"title":      task.Title,
		"value":      task.Value,
	}); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

func (s ProjectService) persistTasks(ctx context.Context, projectID string, tree []domain.Task) (domain.Project, error) {
	return s.Repo.Update(ctx, projectID, map[string]any{
		"tasks":      tree,
		"updated_at": s.now().UTC(),
	})
}

// ProgressReport is the count-based metric: completed nodes over all nodes.
// It is deliberately distinct from ValueProgress; dashboards use one or the
// other depending on the screen.
type ProgressReport struct {
	TotalTasks         int `json:"total_tasks"`
	CompletedTasks     int `json:"completed_tasks"`
	ProgressPercentage int `json:"progress_percentage"`
}

func (s ProjectService) Progress(ctx context.Context, projectID string) (ProgressReport, error) {
	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return ProgressReport{}, err
	}
	total, completed := tasktree.Count(p.Tasks)
	rep := ProgressReport{TotalTasks: total, CompletedTasks: completed}
	if total > 0 {
		rep.ProgressPercentage = completed * 100 / total
	}
	return rep, nil
}

// ValueProgress is the value-weighted metric: completed leaf value over the
// project budget. Clamped to [0,100] here at the service edge; the raw
// figure can exceed 100 when leaf values sum past the budget.
func (s ProjectService) ValueProgress(ctx context.Context, projectID string) (int, error) {
	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return 0, err
	}
	pct := tasktree.Progress(p.Tasks, p.Value)
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct, nil
}

// RemainingValue reports unallocated budget: the project budget minus root
// task values, or a parent task's value minus its direct children's.
func (s ProjectService) RemainingValue(ctx context.Context, projectID, parentTaskID string) (float64, error) {
	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return 0, err
	}
	if parentTaskID == "" {
		return tasktree.RemainingValue(p.Value, p.Tasks), nil
	}
	parent := tasktree.FindByID(p.Tasks, parentTaskID)
	if parent == nil {
		return 0, fmt.Errorf("task %s: %w", parentTaskID, domain.ErrNotFound)
	}
	return tasktree.RemainingValue(parent.Value, parent.SubTasks), nil
}
