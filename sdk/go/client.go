package sitelinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a minimal Siteline HTTP API client.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents a node of the project task tree.
type Task struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Status      string  `json:"status"`
	LastUpdated string  `json:"last_updated"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Value       float64 `json:"value"`
	SubTasks    []Task  `json:"sub_tasks,omitempty"`
}

// Project represents the API project model.
type Project struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	StartDate   string  `json:"start_date"`
	EndDate     string  `json:"end_date"`
	Value       float64 `json:"value"`
	Tasks       []Task  `json:"tasks,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

// Progress is the project progress report.
type Progress struct {
	TotalTasks         int     `json:"total_tasks"`
	CompletedTasks     int     `json:"completed_tasks"`
	ProgressPercentage int     `json:"progress_percentage"`
	ValuePercentage    float64 `json:"value_percentage"`
	RemainingValue     float64 `json:"remaining_value"`
}

// Payment represents a recorded payment.
type Payment struct {
	ID     string  `json:"id"`
	Amount float64 `json:"amount"`
	Date   string  `json:"date"`
	Note   string  `json:"note,omitempty"`
}

// ChangeOrder represents an approved scope change.
type ChangeOrder struct {
	ID          string  `json:"id"`
	Description string  `json:"description"`
	Delta       float64 `json:"delta"`
	ApprovedAt  string  `json:"approved_at"`
}

// ContractVersion is a frozen snapshot of contract terms.
type ContractVersion struct {
	Number     int     `json:"number"`
	TotalValue float64 `json:"total_value"`
	Status     string  `json:"status"`
	SnappedAt  string  `json:"snapped_at"`
}

// Contract represents the API contract model.
type Contract struct {
	ID           string            `json:"id"`
	Client       string            `json:"client"`
	Contractor   string            `json:"contractor"`
	Status       string            `json:"status"`
	TotalValue   float64           `json:"total_value"`
	Payments     []Payment         `json:"payments,omitempty"`
	ChangeOrders []ChangeOrder     `json:"change_orders,omitempty"`
	Versions     []ContractVersion `json:"versions,omitempty"`
}

// Event represents an audit log entry.
type Event struct {
	ID         string         `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
	HasNext    bool    `json:"has_next"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProject creates a project.
func (c *Client) CreateProject(ctx context.Context, title, startDate, endDate string, value float64) (Project, error) {
	body := map[string]any{
		"title":      title,
		"start_date": startDate,
		"end_date":   endDate,
		"value":      value,
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "v0/projects", body, &resp)
	return resp, err
}

// ListProjects returns all projects.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var resp []Project
	err := c.do(ctx, http.MethodGet, "v0/projects", nil, &resp)
	return resp, err
}

// GetProject fetches a project with its full task tree.
func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, "v0/projects/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// DeleteProject removes a project.
func (c *Client) DeleteProject(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "v0/projects/"+url.PathEscape(id), nil, nil)
}

// AddTask appends a task under parentID, or at the root when parentID is
// empty.
func (c *Client) AddTask(ctx context.Context, projectID, parentID, title string, quantity, unitPrice float64) (Task, error) {
	body := map[string]any{
		"title":      title,
		"quantity":   quantity,
		"unit_price": unitPrice,
	}
	if parentID != "" {
		body["parent_id"] = parentID
	}
	var resp Task
	endpoint := fmt.Sprintf("v0/projects/%s/tasks", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// UpdateTaskStatus sets one task's status anywhere in the tree.
func (c *Client) UpdateTaskStatus(ctx context.Context, projectID, taskID, status string) (Project, error) {
	var resp Project
	endpoint := fmt.Sprintf("v0/projects/%s/tasks/%s/status", url.PathEscape(projectID), url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// Progress returns the project progress report.
func (c *Client) Progress(ctx context.Context, projectID string) (Progress, error) {
	var resp Progress
	endpoint := fmt.Sprintf("v0/projects/%s/progress", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CreateContract creates a contract.
func (c *Client) CreateContract(ctx context.Context, client, contractor string, totalValue float64) (Contract, error) {
	body := map[string]any{
		"client":      client,
		"contractor":  contractor,
		"total_value": totalValue,
	}
	var resp Contract
	err := c.do(ctx, http.MethodPost, "v0/contracts", body, &resp)
	return resp, err
}

// ListContracts returns all contracts.
func (c *Client) ListContracts(ctx context.Context) ([]Contract, error) {
	var resp []Contract
	err := c.do(ctx, http.MethodGet, "v0/contracts", nil, &resp)
	return resp, err
}

// GetContract fetches a contract.
func (c *Client) GetContract(ctx context.Context, id string) (Contract, error) {
	var resp Contract
	err := c.do(ctx, http.MethodGet, "v0/contracts/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// UpdateContractStatus moves a contract through its lifecycle.
func (c *Client) UpdateContractStatus(ctx context.Context, id, status string) (Contract, error) {
	var resp Contract
	endpoint := fmt.Sprintf("v0/contracts/%s/status", url.PathEscape(id))
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// AddPayment records a payment against a contract.
func (c *Client) AddPayment(ctx context.Context, contractID string, amount float64, date, note string) (Payment, error) {
	body := map[string]any{
		"amount": amount,
		"date":   date,
		"note":   note,
	}
	var resp Payment
	endpoint := fmt.Sprintf("v0/contracts/%s/payments", url.PathEscape(contractID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// AddChangeOrder appends a change order and adjusts the contract value.
func (c *Client) AddChangeOrder(ctx context.Context, contractID, description string, delta float64) (ChangeOrder, error) {
	body := map[string]any{
		"description": description,
		"delta":       delta,
	}
	var resp ChangeOrder
	endpoint := fmt.Sprintf("v0/contracts/%s/change-orders", url.PathEscape(contractID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// SnapshotVersion freezes the current contract terms.
func (c *Client) SnapshotVersion(ctx context.Context, contractID string) (ContractVersion, error) {
	var resp ContractVersion
	endpoint := fmt.Sprintf("v0/contracts/%s/versions", url.PathEscape(contractID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent audit events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// WatchProjects opens a websocket stream of project collection snapshots.
// The returned channel closes when ctx is canceled or the server goes away.
func (c *Client) WatchProjects(ctx context.Context) (<-chan []Project, error) {
	return watchStream[[]Project](ctx, c, "v0/watch/projects")
}

// WatchContracts opens a websocket stream of contract collection snapshots.
func (c *Client) WatchContracts(ctx context.Context) (<-chan []Contract, error) {
	return watchStream[[]Contract](ctx, c, "v0/watch/contracts")
}

func watchStream[T any](ctx context.Context, c *Client, endpoint string) (<-chan T, error) {
	wsBase := c.base()
	switch {
	case strings.HasPrefix(wsBase, "https://"):
		wsBase = "wss://" + strings.TrimPrefix(wsBase, "https://")
	case strings.HasPrefix(wsBase, "http://"):
		wsBase = "ws://" + strings.TrimPrefix(wsBase, "http://")
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsBase+"/"+endpoint, nil)
	if err != nil {
		return nil, err
	}
	out := make(chan T)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			var snap T
			if err := conn.ReadJSON(&snap); err != nil {
				return
			}
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
