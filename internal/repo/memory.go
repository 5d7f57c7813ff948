package repo

import (
	"context"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"

	"siteline/internal/docstore"
	"siteline/internal/domain"
)

// Memory is an in-process Repository used by tests and demo mode. It mutates
// a plain list under a mutex and hands out deep copies.
type Memory[R any] struct {
	mu    sync.Mutex
	order []string
	items map[string]R

	idOf  func(R) string
	setID func(R, string) R
	newID func() string
}

func NewMemory[R any](idOf func(R) string, setID func(R, string) R) *Memory[R] {
	return &Memory[R]{
		items: map[string]R{},
		idOf:  idOf,
		setID: setID,
		newID: func() string { return ulid.Make().String() },
	}
}

func (m *Memory[R]) GetAll(ctx context.Context) ([]R, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]R, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, deepCopy(m.items[id]))
	}
	return out, nil
}

func (m *Memory[R]) GetByID(ctx context.Context, id string) (*R, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	cp := deepCopy(rec)
	return &cp, nil
}

func (m *Memory[R]) Create(ctx context.Context, rec R) (R, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.newID()
	rec = m.setID(rec, id)
	m.items[id] = deepCopy(rec)
	m.order = append(m.order, id)
	return rec, nil
}

func (m *Memory[R]) Update(ctx context.Context, id string, patch map[string]any) (R, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var zero R
	rec, ok := m.items[id]
	if !ok {
		return zero, fmt.Errorf("update %s: %w", id, domain.ErrNotFound)
	}
	merged, err := docstore.MergePatch(rec, patch)
	if err != nil {
		return zero, fmt.Errorf("merge patch: %w", err)
	}
	merged = m.setID(merged, id)
	m.items[id] = deepCopy(merged)
	return merged, nil
}

func (m *Memory[R]) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return fmt.Errorf("delete %s: %w", id, domain.ErrNotFound)
	}
	delete(m.items, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func deepCopy[R any](rec R) R {
	cp, err := docstore.MergePatch(rec, nil)
	if err != nil {
		return rec
	}
	return cp
}
