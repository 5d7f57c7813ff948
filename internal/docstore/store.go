// Package docstore is a generic client for a collection-oriented document
// store. It layers filtered queries, ordering, cursor pagination, batched
// writes and push-based change subscriptions over a pluggable Backend, and
// owns the wire-format timestamp conversion on both paths.
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
)

// Store is a typed view over one collection of the backing store. It is safe
// for concurrent use as long as the Backend is.
type Store[R any] struct {
	backend    Backend
	collection string
	log        *slog.Logger
	hub        *hub

	// JSON keys of R's time.Time fields; only these take the native
	// timestamp form on the wire.
	dates map[string]bool

	// NewID assigns identifiers on create. ULIDs by default: monotonic and
	// collision-free under rapid successive calls.
	NewID func() string
	Now   func() time.Time
}

// New returns a store for one collection. A nil logger discards.
func New[R any](b Backend, collection string, log *slog.Logger) *Store[R] {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store[R]{
		backend:    b,
		collection: collection,
		log:        log,
		hub:        newHub(),
		dates:      timeFieldKeys(reflect.TypeOf(*new(R))),
		NewID:      func() string { return ulid.Make().String() },
		Now:        time.Now,
	}
}

// Collection returns the collection name this store reads and writes.
func (s *Store[R]) Collection() string { return s.collection }

// Signature returns the cache key for a query against this collection.
func (s *Store[R]) Signature(q Query) string { return q.Signature(s.collection) }

// GetAll returns every document matching the query, ordered and limited.
func (s *Store[R]) GetAll(ctx context.Context, q Query) ([]R, error) {
	decoded, err := s.load(ctx, q)
	if err != nil {
		return nil, err
	}
	if q.Limit > 0 && len(decoded) > q.Limit {
		decoded = decoded[:q.Limit]
	}
	out := make([]R, len(decoded))
	for i, d := range decoded {
		out[i] = d.rec
	}
	return out, nil
}

// GetByID returns nil, not an error, when the document is absent.
func (s *Store[R]) GetByID(ctx context.Context, id string) (*R, error) {
	doc, err := s.backend.Get(ctx, s.collection, id)
	if err != nil {
		return nil, transportErr("get", err)
	}
	if doc == nil {
		return nil, nil
	}
	rec, _, err := s.decode(*doc)
	if err != nil {
		return nil, transportErr("get", err)
	}
	return &rec, nil
}

// Create writes the record under a store-assigned id and returns that id.
func (s *Store[R]) Create(ctx context.Context, data R) (string, error) {
	id := s.NewID()
	doc, err := s.encode(id, data)
	if err != nil {
		return "", transportErr("create", err)
	}
	if err := s.backend.Put(ctx, s.collection, doc); err != nil {
		return "", transportErr("create", err)
	}
	s.notify()
	return id, nil
}

// Update merges the patch into the stored document field by field. An absent
// document surfaces as a TransportError carrying ErrNoDocument; the store
// does not pre-check existence as a separate step.
func (s *Store[R]) Update(ctx context.Context, id string, patch map[string]any) error {
	doc, err := s.mergedDoc(ctx, id, patch)
	if err != nil {
		return err
	}
	if err := s.backend.Put(ctx, s.collection, *doc); err != nil {
		return transportErr("update", err)
	}
	s.notify()
	return nil
}

func (s *Store[R]) Delete(ctx context.Context, id string) error {
	if err := s.backend.Delete(ctx, s.collection, id); err != nil {
		return transportErr("delete", err)
	}
	s.notify()
	return nil
}

// PageResult is one page of a paginated read. LastDocCursor is only set when
// HasNextPage is true; re-submit it as StartAfter to fetch the next page.
type PageResult[R any] struct {
	Data          []R
	HasNextPage   bool
	LastDocCursor Cursor
}

// GetPaginated requests pageSize+1 documents past the cursor; receiving all
// of them means another page exists and the extra one is dropped.
func (s *Store[R]) GetPaginated(ctx context.Context, p Page) (PageResult[R], error) {
	if p.PageSize <= 0 {
		return PageResult[R]{}, transportErr("paginate", fmt.Errorf("page size %d", p.PageSize))
	}
	decoded, err := s.load(ctx, p.Query)
	if err != nil {
		return PageResult[R]{}, err
	}
	start := 0
	if p.StartAfter != "" {
		after, err := decodeCursor(p.StartAfter)
		if err != nil {
			return PageResult[R]{}, transportErr("paginate", err)
		}
		for start < len(decoded) && !afterCursor(decoded[start], after, p.OrderBy) {
			start++
		}
	}
	batch := decoded[start:]
	if len(batch) > p.PageSize+1 {
		batch = batch[:p.PageSize+1]
	}
	res := PageResult[R]{}
	if len(batch) == p.PageSize+1 {
		batch = batch[:p.PageSize]
		res.HasNextPage = true
		res.LastDocCursor = cursorFor(batch[len(batch)-1], p.OrderBy)
	}
	res.Data = make([]R, len(batch))
	for i, d := range batch {
		res.Data[i] = d.rec
	}
	return res, nil
}

type OpType string

const (
	OpCreate OpType = "create"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// Op is one entry of a batched write.
type Op struct {
	Type OpType
	ID   string
	Data any
}

// Batch applies the listed operations all-or-nothing. Update reads happen
// before the atomic apply; the write set itself either fully lands or not at
// all.
func (s *Store[R]) Batch(ctx context.Context, ops []Op) error {
	var puts []Document
	var deletes []string
	for _, op := range ops {
		switch op.Type {
		case OpCreate:
			id := op.ID
			if id == "" {
				id = s.NewID()
			}
			doc, err := s.encode(id, op.Data)
			if err != nil {
				return transportErr("batch", err)
			}
			puts = append(puts, doc)
		case OpUpdate:
			patch, ok := op.Data.(map[string]any)
			if !ok {
				return transportErr("batch", fmt.Errorf("update %s: data must be a field map", op.ID))
			}
			doc, err := s.mergedDoc(ctx, op.ID, patch)
			if err != nil {
				return err
			}
			puts = append(puts, *doc)
		case OpDelete:
			deletes = append(deletes, op.ID)
		default:
			return transportErr("batch", fmt.Errorf("unknown op type %q", op.Type))
		}
	}
	if err := s.backend.Apply(ctx, s.collection, puts, deletes); err != nil {
		return transportErr("batch", err)
	}
	s.notify()
	return nil
}

// cursorFor captures a document's ordering position: the order-field value
// alongside the id. The next page resumes from that position even when the
// document itself has gone.
func cursorFor[R any](d decodedDoc[R], order *Order) Cursor {
	if order != nil {
		if v, ok := lookupField(d.fields, order.Field); ok {
			return encodeCursor(d.id, v, true)
		}
	}
	return encodeCursor(d.id, nil, false)
}

// afterCursor reports whether d sorts strictly after the cursor position,
// under the same order sortDocs applies: order field first, id ascending as
// tie-break.
func afterCursor[R any](d decodedDoc[R], after cursorPayload, order *Order) bool {
	if order != nil && after.Keyed {
		if v, ok := lookupField(d.fields, order.Field); ok {
			if cmp, ordered := compareValues(v, after.Key); ordered && cmp != 0 {
				if order.Desc {
					return cmp < 0
				}
				return cmp > 0
			}
		}
	}
	return d.id > after.ID
}

type decodedDoc[R any] struct {
	id     string
	rec    R
	fields map[string]any
}

// load lists, decodes, filters and orders the collection.
func (s *Store[R]) load(ctx context.Context, q Query) ([]decodedDoc[R], error) {
	docs, err := s.backend.List(ctx, s.collection)
	if err != nil {
		return nil, transportErr("list", err)
	}
	out := make([]decodedDoc[R], 0, len(docs))
	for _, doc := range docs {
		rec, fields, err := s.decode(doc)
		if err != nil {
			return nil, transportErr("list", err)
		}
		if !q.Matches(fields) {
			continue
		}
		out = append(out, decodedDoc[R]{id: doc.ID, rec: rec, fields: fields})
	}
	sortDocs(out, q.OrderBy)
	return out, nil
}

// sortDocs orders by the requested field with id as tie-break, or by id alone
// for a stable default order. ULID ids sort chronologically.
func sortDocs[R any](docs []decodedDoc[R], order *Order) {
	sort.SliceStable(docs, func(i, j int) bool {
		if order != nil {
			a, aok := lookupField(docs[i].fields, order.Field)
			b, bok := lookupField(docs[j].fields, order.Field)
			if aok && bok {
				if cmp, comparable := compareValues(a, b); comparable && cmp != 0 {
					if order.Desc {
						return cmp > 0
					}
					return cmp < 0
				}
			}
		}
		return docs[i].id < docs[j].id
	})
}

func (s *Store[R]) encode(id string, data any) (Document, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return Document{}, err
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return Document{}, fmt.Errorf("record must encode to an object: %w", err)
	}
	fields["id"] = id
	wire, err := json.Marshal(encodeTimestamps(fields, "", s.dates))
	if err != nil {
		return Document{}, err
	}
	return Document{ID: id, Data: wire}, nil
}

func (s *Store[R]) decode(doc Document) (R, map[string]any, error) {
	var zero R
	var fields map[string]any
	if err := json.Unmarshal(doc.Data, &fields); err != nil {
		return zero, nil, err
	}
	fields = decodeTimestamps(fields, "", s.dates).(map[string]any)
	fields["id"] = doc.ID
	b, err := json.Marshal(fields)
	if err != nil {
		return zero, nil, err
	}
	var rec R
	if err := json.Unmarshal(b, &rec); err != nil {
		return zero, nil, err
	}
	return rec, fields, nil
}

func (s *Store[R]) mergedDoc(ctx context.Context, id string, patch map[string]any) (*Document, error) {
	existing, err := s.backend.Get(ctx, s.collection, id)
	if err != nil {
		return nil, transportErr("update", err)
	}
	if existing == nil {
		return nil, transportErr("update", fmt.Errorf("%s/%s: %w", s.collection, id, ErrNoDocument))
	}
	var fields map[string]any
	if err := json.Unmarshal(existing.Data, &fields); err != nil {
		return nil, transportErr("update", err)
	}
	patchFields, err := normalizeMap(patch)
	if err != nil {
		return nil, transportErr("update", err)
	}
	for k, v := range encodeTimestamps(patchFields, "", s.dates).(map[string]any) {
		fields[k] = v
	}
	fields["id"] = id
	wire, err := json.Marshal(fields)
	if err != nil {
		return nil, transportErr("update", err)
	}
	return &Document{ID: id, Data: wire}, nil
}

// normalizeMap round-trips a patch through JSON so domain values (time.Time,
// nested structs) land in the same shape as stored fields.
func normalizeMap(m map[string]any) (map[string]any, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MergePatch applies a partial-field patch to a record the same way the store
// does on update. Used by the mutation cache to keep optimistic state in step
// with what the server will produce.
func MergePatch[R any](rec R, patch map[string]any) (R, error) {
	var zero R
	b, err := json.Marshal(rec)
	if err != nil {
		return zero, err
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return zero, err
	}
	patchFields, err := normalizeMap(patch)
	if err != nil {
		return zero, err
	}
	for k, v := range patchFields {
		fields[k] = v
	}
	merged, err := json.Marshal(fields)
	if err != nil {
		return zero, err
	}
	var out R
	if err := json.Unmarshal(merged, &out); err != nil {
		return zero, err
	}
	return out, nil
}

// Fields returns the JSON field map of a record, for predicate evaluation
// outside the store. Date fields come out in the same fixed-width form the
// store decodes to, so clause comparisons agree with stored documents.
func Fields(rec any) (map[string]any, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	dates := timeFieldKeys(reflect.TypeOf(rec))
	return decodeTimestamps(encodeTimestamps(out, "", dates), "", dates).(map[string]any), nil
}
