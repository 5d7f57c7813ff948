package repo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"siteline/internal/cache"
	"siteline/internal/docstore"
	"siteline/internal/domain"
)

// Cached is the store-backed Repository. Reads go through the mutation cache
// keyed by query signature; writes either patch the cache optimistically with
// rollback on failure, or invalidate it and force a re-fetch.
//
// Transport failures are logged with their original cause and surfaced as a
// fixed per-operation message; callers see what failed, logs see why.
type Cached[R any] struct {
	store *docstore.Store[R]
	cache *cache.Cache[R]
	log   *slog.Logger
	kind  string

	// Optimistic selects speculative cache patching over the
	// invalidate-and-refetch path.
	Optimistic bool
}

func NewCached[R any](store *docstore.Store[R], c *cache.Cache[R], log *slog.Logger) *Cached[R] {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Cached[R]{store: store, cache: c, log: log, kind: store.Collection()}
}

func (r *Cached[R]) GetAll(ctx context.Context) ([]R, error) {
	return r.Query(ctx, docstore.Query{})
}

// Query is GetAll narrowed by filters; structurally equal queries share one
// cache entry.
func (r *Cached[R]) Query(ctx context.Context, q docstore.Query) ([]R, error) {
	sig := r.store.Signature(q)
	if items, ok := r.cache.GetList(sig); ok {
		return items, nil
	}
	items, err := r.store.GetAll(ctx, q)
	if err != nil {
		return nil, r.transport("fetch", err)
	}
	r.cache.PutList(sig, q, items)
	return items, nil
}

func (r *Cached[R]) GetByID(ctx context.Context, id string) (*R, error) {
	if rec, ok := r.cache.GetDoc(id); ok {
		return rec, nil
	}
	rec, err := r.store.GetByID(ctx, id)
	if err != nil {
		return nil, r.transport("fetch", err)
	}
	if rec != nil {
		r.cache.PutDoc(id, *rec)
	}
	return rec, nil
}

func (r *Cached[R]) Create(ctx context.Context, rec R) (R, error) {
	var zero R
	if !r.Optimistic {
		id, err := r.store.Create(ctx, rec)
		if err != nil {
			return zero, r.transport("create", err)
		}
		r.cache.Invalidate()
		return r.fetchCreated(ctx, id)
	}
	m := r.cache.OptimisticCreate(rec)
	id, err := r.store.Create(ctx, rec)
	if err != nil {
		m.Rollback()
		return zero, r.transport("create", err)
	}
	final, err := r.store.GetByID(ctx, id)
	if err != nil || final == nil {
		// the write landed; settle the cache by refetching instead
		m.Confirm(id, nil)
		r.cache.Invalidate()
		return r.fetchCreated(ctx, id)
	}
	m.Confirm(id, final)
	return *final, nil
}

func (r *Cached[R]) Update(ctx context.Context, id string, patch map[string]any) (R, error) {
	var zero R
	if !r.Optimistic {
		if err := r.store.Update(ctx, id, patch); err != nil {
			return zero, r.mutationErr("update", id, err)
		}
		r.cache.Invalidate()
		return r.fetchUpdated(ctx, id)
	}
	m, err := r.cache.OptimisticUpdate(id, patch)
	if err != nil {
		return zero, fmt.Errorf("update %s: %w", r.kind, err)
	}
	if err := r.store.Update(ctx, id, patch); err != nil {
		m.Rollback()
		return zero, r.mutationErr("update", id, err)
	}
	m.Confirm("", nil)
	return r.fetchUpdated(ctx, id)
}

func (r *Cached[R]) Delete(ctx context.Context, id string) error {
	if !r.Optimistic {
		if err := r.store.Delete(ctx, id); err != nil {
			return r.mutationErr("delete", id, err)
		}
		r.cache.Invalidate()
		return nil
	}
	m := r.cache.OptimisticDelete(id)
	if err := r.store.Delete(ctx, id); err != nil {
		m.Rollback()
		return r.mutationErr("delete", id, err)
	}
	m.Confirm("", nil)
	return nil
}

func (r *Cached[R]) fetchCreated(ctx context.Context, id string) (R, error) {
	var zero R
	rec, err := r.store.GetByID(ctx, id)
	if err != nil {
		return zero, r.transport("fetch", err)
	}
	if rec == nil {
		return zero, fmt.Errorf("created %s %s: %w", r.kind, id, domain.ErrNotFound)
	}
	r.cache.PutDoc(id, *rec)
	return *rec, nil
}

func (r *Cached[R]) fetchUpdated(ctx context.Context, id string) (R, error) {
	var zero R
	rec, err := r.store.GetByID(ctx, id)
	if err != nil {
		return zero, r.transport("fetch", err)
	}
	if rec == nil {
		return zero, fmt.Errorf("updated %s %s: %w", r.kind, id, domain.ErrNotFound)
	}
	r.cache.PutDoc(id, *rec)
	return *rec, nil
}

// mutationErr maps an absent document onto domain.ErrNotFound; everything
// else is a transport failure.
func (r *Cached[R]) mutationErr(op, id string, err error) error {
	if errors.Is(err, docstore.ErrNoDocument) {
		return fmt.Errorf("%s %s %s: %w", op, r.kind, id, domain.ErrNotFound)
	}
	return r.transport(op, err)
}

func (r *Cached[R]) transport(op string, err error) error {
	r.log.Error("store operation failed", "op", op, "collection", r.kind, "error", err)
	return fmt.Errorf("%s %s failed", op, r.kind)
}
