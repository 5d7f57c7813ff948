package docstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoDocument marks an absent document inside a transport failure chain.
var ErrNoDocument = errors.New("no such document")

// TransportError wraps a failure talking to the backing store: network,
// storage, permission, quota. The original error is kept for logging but
// callers get a stable type to match on.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func transportErr(op string, err error) error {
	return &TransportError{Op: op, Err: err}
}

// Document is the raw stored form: an id plus wire-format JSON bytes.
type Document struct {
	ID   string
	Data []byte
}

// Backend is the minimal surface a backing store must provide. Filtering,
// ordering, pagination, timestamp conversion and change notification all live
// above it in Store, so backends stay thin.
type Backend interface {
	List(ctx context.Context, collection string) ([]Document, error)
	// Get returns nil with no error when the document is absent.
	Get(ctx context.Context, collection, id string) (*Document, error)
	Put(ctx context.Context, collection string, doc Document) error
	Delete(ctx context.Context, collection, id string) error
	// Apply writes all puts and deletes atomically, or none of them.
	Apply(ctx context.Context, collection string, puts []Document, deletes []string) error
	Close() error
}
