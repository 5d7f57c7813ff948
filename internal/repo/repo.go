// Package repo defines the repository contract every aggregate service
// consumes, and its two implementations: an in-memory mock and a
// document-store-backed repository with an optimistic mutation cache.
package repo

import "context"

// Repository is the CRUD boundary the rest of the system depends on. Create
// ignores any caller-supplied id; Update fails with domain.ErrNotFound when
// the record is absent; GetByID returns nil, not an error, for a miss.
type Repository[R any] interface {
	GetAll(ctx context.Context) ([]R, error)
	GetByID(ctx context.Context, id string) (*R, error)
	Create(ctx context.Context, rec R) (R, error)
	Update(ctx context.Context, id string, patch map[string]any) (R, error)
	Delete(ctx context.Context, id string) error
}
