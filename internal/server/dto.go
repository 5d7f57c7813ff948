package server

import (
	"time"

	"siteline/internal/domain"
	"siteline/internal/engine"
)

// Request payloads

type CreateProjectRequest struct {
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	StartDate   time.Time `json:"start_date" format:"date-time"`
	EndDate     time.Time `json:"end_date" format:"date-time"`
	Value       float64   `json:"value"`
}

type CreateTaskRequest struct {
	ParentID  *string  `json:"parent_id,omitempty"`
	Title     string   `json:"title"`
	Quantity  float64  `json:"quantity"`
	UnitPrice float64  `json:"unit_price"`
	Value     *float64 `json:"value,omitempty"`
}

type UpdateTaskStatusRequest struct {
	Status string `json:"status" enum:"pending,in_progress,completed"`
}

type CreateContractRequest struct {
	Client     string    `json:"client"`
	Contractor string    `json:"contractor"`
	TotalValue float64   `json:"total_value"`
	SignedAt   time.Time `json:"signed_at,omitempty" format:"date-time"`
}

type UpdateContractStatusRequest struct {
	Status string `json:"status" enum:"draft,active,suspended,closed"`
}

type AddPaymentRequest struct {
	Amount float64   `json:"amount"`
	Date   time.Time `json:"date" format:"date-time"`
	Note   string    `json:"note,omitempty"`
}

type AddChangeOrderRequest struct {
	Description string  `json:"description"`
	Delta       float64 `json:"delta"`
}

// Responses

type ProjectResponse struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	StartDate   time.Time     `json:"start_date" format:"date-time"`
	EndDate     time.Time     `json:"end_date" format:"date-time"`
	Value       float64       `json:"value"`
	Tasks       []domain.Task `json:"tasks,omitempty"`
	CreatedAt   time.Time     `json:"created_at" format:"date-time"`
	UpdatedAt   time.Time     `json:"updated_at" format:"date-time"`
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		StartDate:   p.StartDate,
		EndDate:     p.EndDate,
		Value:       p.Value,
		Tasks:       p.Tasks,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	out := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		out = append(out, projectResponse(p))
	}
	return out
}

type ProgressResponse struct {
	engine.ProgressReport
	ValuePercentage float64 `json:"value_percentage"`
	RemainingValue  float64 `json:"remaining_value"`
}

type ContractResponse struct {
	ID           string                   `json:"id"`
	Client       string                   `json:"client"`
	Contractor   string                   `json:"contractor"`
	Status       domain.ContractStatus    `json:"status"`
	TotalValue   float64                  `json:"total_value"`
	Payments     []domain.Payment         `json:"payments,omitempty"`
	ChangeOrders []domain.ChangeOrder     `json:"change_orders,omitempty"`
	Versions     []domain.ContractVersion `json:"versions,omitempty"`
	SignedAt     time.Time                `json:"signed_at" format:"date-time"`
	CreatedAt    time.Time                `json:"created_at" format:"date-time"`
	UpdatedAt    time.Time                `json:"updated_at" format:"date-time"`
}

func contractResponse(c domain.Contract) ContractResponse {
	return ContractResponse{
		ID:           c.ID,
		Client:       c.Client,
		Contractor:   c.Contractor,
		Status:       c.Status,
		TotalValue:   c.TotalValue,
		Payments:     c.Payments,
		ChangeOrders: c.ChangeOrders,
		Versions:     c.Versions,
		SignedAt:     c.SignedAt,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func mapContracts(items []domain.Contract) []ContractResponse {
	out := make([]ContractResponse, 0, len(items))
	for _, c := range items {
		out = append(out, contractResponse(c))
	}
	return out
}

type EventsPageResponse struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
	HasNext    bool           `json:"has_next"`
}
