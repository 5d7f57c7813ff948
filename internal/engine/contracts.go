package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"siteline/internal/domain"
	"siteline/internal/events"
	"siteline/internal/repo"
)

// ValidContractStatus reports whether s is one of the known contract
// statuses.
func ValidContractStatus(s domain.ContractStatus) bool {
	switch s {
	case domain.ContractDraft, domain.ContractActive, domain.ContractSuspended, domain.ContractClosed:
		return true
	}
	return false
}

type ContractService struct {
	Repo   repo.Repository[domain.Contract]
	Events events.Writer
	Now    func() time.Time
	NewID  func() string
}

func NewContractService(r repo.Repository[domain.Contract], w events.Writer) ContractService {
	return ContractService{
		Repo:   r,
		Events: w,
		Now:    time.Now,
		NewID:  func() string { return ulid.Make().String() },
	}
}

func (s ContractService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s ContractService) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return ulid.Make().String()
}

type ContractCreateOptions struct {
	Client     string
	Contractor string
	TotalValue float64
	SignedAt   time.Time
	ActorID    string
}

func (s ContractService) CreateContract(ctx context.Context, opts ContractCreateOptions) (domain.Contract, error) {
	if opts.Client == "" {
		return domain.Contract{}, domain.ValidationError{Field: "client", Msg: "required"}
	}
	if opts.Contractor == "" {
		return domain.Contract{}, domain.ValidationError{Field: "contractor", Msg: "required"}
	}
	if opts.TotalValue < 0 {
		return domain.Contract{}, domain.ValidationError{Field: "total_value", Msg: "must not be negative"}
	}
	now := s.now().UTC()
	c, err := s.Repo.Create(ctx, domain.Contract{
		Client:     opts.Client,
		Contractor: opts.Contractor,
		Status:     domain.ContractDraft,
		TotalValue: opts.TotalValue,
		SignedAt:   opts.SignedAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return domain.Contract{}, err
	}
	if err := s.Events.Append(ctx, "contract.created", "contract", c.ID, opts.ActorID, events.EventPayload{
		"client":      c.Client,
		"total_value": c.TotalValue,
	}); err != nil {
		return domain.Contract{}, err
	}
	return c, nil
}

func (s ContractService) GetContract(ctx context.Context, id string) (domain.Contract, error) {
	c, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		return domain.Contract{}, err
	}
	if c == nil {
		return domain.Contract{}, fmt.Errorf("contract %s: %w", id, domain.ErrNotFound)
	}
	return *c, nil
}

func (s ContractService) ListContracts(ctx context.Context) ([]domain.Contract, error) {
	return s.Repo.GetAll(ctx)
}

func (s ContractService) UpdateStatus(ctx context.Context, id string, status domain.ContractStatus, actorID string) (domain.Contract, error) {
	if !ValidContractStatus(status) {
		return domain.Contract{}, domain.ValidationError{Field: "status", Msg: fmt.Sprintf("unknown status %q", status)}
	}
	if _, err := s.GetContract(ctx, id); err != nil {
		return domain.Contract{}, err
	}
	upd, err := s.Repo.Update(ctx, id, map[string]any{
		"status":     status,
		"updated_at": s.now().UTC(),
	})
	if err != nil {
		return domain.Contract{}, err
	}
	if err := s.Events.Append(ctx, "contract.status.updated", "contract", id, actorID, events.EventPayload{"status": status}); err != nil {
		return domain.Contract{}, err
	}
	return upd, nil
}

// AddPayment records a payment against the contract. Payments exceeding the
// remaining balance are rejected.
func (s ContractService) AddPayment(ctx context.Context, contractID string, amount float64, date time.Time, note, actorID string) (domain.Payment, error) {
	if amount <= 0 {
		return domain.Payment{}, domain.ValidationError{Field: "amount", Msg: "must be positive"}
	}
	c, err := s.GetContract(ctx, contractID)
	if err != nil {
		return domain.Payment{}, err
	}
	var paid float64
	for _, p := range c.Payments {
		paid += p.Amount
	}
	if paid+amount > c.TotalValue {
		return domain.Payment{}, domain.ValidationError{Field: "amount", Msg: "exceeds remaining contract value"}
	}
	pay := domain.Payment{ID: s.newID(), Amount: amount, Date: date, Note: note}
	if _, err := s.Repo.Update(ctx, contractID, map[string]any{
		"payments":   append(c.Payments, pay),
		"updated_at": s.now().UTC(),
	}); err != nil {
		return domain.Payment{}, err
	}
	if err := s.Events.Append(ctx, "contract.payment.added", "contract", contractID, actorID, events.EventPayload{
		"payment_id": pay.ID,
		"amount":     amount,
	}); err != nil {
		return domain.Payment{}, err
	}
	return pay, nil
}

// AddChangeOrder appends a change order and adjusts TotalValue by its delta
// in the same document rewrite.
func (s ContractService) AddChangeOrder(ctx context.Context, contractID, description string, delta float64, actorID string) (domain.ChangeOrder, error) {
	if description == "" {
		return domain.ChangeOrder{}, domain.ValidationError{Field: "description", Msg: "required"}
	}
	c, err := s.GetContract(ctx, contractID)
	if err != nil {
		return domain.ChangeOrder{}, err
	}
	if c.TotalValue+delta < 0 {
		return domain.ChangeOrder{}, domain.ValidationError{Field: "delta", Msg: "would make contract value negative"}
	}
	now := s.now().UTC()
	co := domain.ChangeOrder{ID: s.newID(), Description: description, Delta: delta, ApprovedAt: now}
	if _, err := s.Repo.Update(ctx, contractID, map[string]any{
		"change_orders": append(c.ChangeOrders, co),
		"total_value":   c.TotalValue + delta,
		"updated_at":    now,
	}); err != nil {
		return domain.ChangeOrder{}, err
	}
	if err := s.Events.Append(ctx, "contract.change_order.added", "contract", contractID, actorID, events.EventPayload{
		"change_order_id": co.ID,
		"delta":           delta,
	}); err != nil {
		return domain.ChangeOrder{}, err
	}
	return co, nil
}

// SnapshotVersion freezes the current terms as the next numbered version.
func (s ContractService) SnapshotVersion(ctx context.Context, contractID, actorID string) (domain.ContractVersion, error) {
	c, err := s.GetContract(ctx, contractID)
	if err != nil {
		return domain.ContractVersion{}, err
	}
	now := s.now().UTC()
	v := domain.ContractVersion{
		Number:     len(c.Versions) + 1,
		TotalValue: c.TotalValue,
		Status:     c.Status,
		SnappedAt:  now,
	}
	if _, err := s.Repo.Update(ctx, contractID, map[string]any{
		"versions":   append(c.Versions, v),
		"updated_at": now,
	}); err != nil {
		return domain.ContractVersion{}, err
	}
	if err := s.Events.Append(ctx, "contract.version.snapped", "contract", contractID, actorID, events.EventPayload{
		"number": v.Number,
	}); err != nil {
		return domain.ContractVersion{}, err
	}
	return v, nil
}
