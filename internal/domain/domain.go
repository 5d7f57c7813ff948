package domain

import "time"

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// ValidTaskStatus reports whether s is one of the known task statuses.
func ValidTaskStatus(s TaskStatus) bool {
	switch s {
	case TaskPending, TaskInProgress, TaskCompleted:
		return true
	}
	return false
}

// Task is a unit of project work. SubTasks nest to arbitrary depth; ids are
// unique across the entire tree of a project, not just among siblings.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Status      TaskStatus `json:"status" enum:"pending,in_progress,completed"`
	LastUpdated time.Time  `json:"last_updated" format:"date-time"`
	Quantity    float64    `json:"quantity"`
	UnitPrice   float64    `json:"unit_price"`
	Value       float64    `json:"value"`
	SubTasks    []Task     `json:"sub_tasks,omitempty"`
}

// IsLeaf reports whether the task has no sub-tasks. Leaves are the unit for
// value-weighted progress.
func (t Task) IsLeaf() bool { return len(t.SubTasks) == 0 }

// Project owns its task tree; every tree mutation rewrites the whole tasks
// slice back to the store.
type Project struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	StartDate   time.Time `json:"start_date" format:"date-time"`
	EndDate     time.Time `json:"end_date" format:"date-time"`
	Value       float64   `json:"value"`
	Tasks       []Task    `json:"tasks,omitempty"`
	CreatedAt   time.Time `json:"created_at" format:"date-time"`
	UpdatedAt   time.Time `json:"updated_at" format:"date-time"`
}

type ContractStatus string

const (
	ContractDraft     ContractStatus = "draft"
	ContractActive    ContractStatus = "active"
	ContractSuspended ContractStatus = "suspended"
	ContractClosed    ContractStatus = "closed"
)

type Payment struct {
	ID     string    `json:"id"`
	Amount float64   `json:"amount"`
	Date   time.Time `json:"date" format:"date-time"`
	Note   string    `json:"note,omitempty"`
}

type ChangeOrder struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Delta       float64   `json:"delta"`
	ApprovedAt  time.Time `json:"approved_at" format:"date-time"`
}

// ContractVersion captures the contract terms at a point in time.
type ContractVersion struct {
	Number     int            `json:"number"`
	TotalValue float64        `json:"total_value"`
	Status     ContractStatus `json:"status"`
	SnappedAt  time.Time      `json:"snapped_at" format:"date-time"`
}

// Contract is a flat aggregate; payments, change orders and versions are
// stored inline in the contract document.
type Contract struct {
	ID           string            `json:"id"`
	Client       string            `json:"client"`
	Contractor   string            `json:"contractor"`
	Status       ContractStatus    `json:"status" enum:"draft,active,suspended,closed"`
	TotalValue   float64           `json:"total_value"`
	Payments     []Payment         `json:"payments,omitempty"`
	ChangeOrders []ChangeOrder     `json:"change_orders,omitempty"`
	Versions     []ContractVersion `json:"versions,omitempty"`
	SignedAt     time.Time         `json:"signed_at" format:"date-time"`
	CreatedAt    time.Time         `json:"created_at" format:"date-time"`
	UpdatedAt    time.Time         `json:"updated_at" format:"date-time"`
}

// Event is an audit log entry appended on every aggregate mutation.
type Event struct {
	ID         string         `json:"id"`
	TS         time.Time      `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}
