package docstore_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"siteline/internal/db"
	"siteline/internal/docstore"
	"siteline/internal/domain"
)

func newBackend(t *testing.T) docstore.Backend {
	t.Helper()
	bdb, err := db.OpenBadgerInMemory()
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { bdb.Close() })
	return docstore.NewBadgerBackend(bdb)
}

func newContractStore(t *testing.T) *docstore.Store[domain.Contract] {
	t.Helper()
	return docstore.New[domain.Contract](newBackend(t), "contracts", nil)
}

func TestCreateGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newContractStore(t)
	signed := time.Date(2025, 2, 10, 9, 30, 0, 0, time.UTC)
	id, err := s.Create(ctx, domain.Contract{
		Client:     "Acme",
		Contractor: "BuildCo",
		Status:     domain.ContractActive,
		TotalValue: 250000,
		SignedAt:   signed,
		Payments: []domain.Payment{
			{ID: "p1", Amount: 50000, Date: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := s.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.ID != id || got.Client != "Acme" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if !got.SignedAt.Equal(signed) {
		t.Fatalf("timestamp not round-tripped: %v", got.SignedAt)
	}
	// nested dates survive the wire conversion too
	if len(got.Payments) != 1 || !got.Payments[0].Date.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("nested payment date: %+v", got.Payments)
	}
}

func TestDateLikeStringsStayStrings(t *testing.T) {
	ctx := context.Background()
	s := newContractStore(t)
	// client and note are plain strings; values that parse as dates must
	// come back byte-identical
	id, err := s.Create(ctx, domain.Contract{
		Client:     "2026-01-01T00:00:00Z",
		Contractor: "BuildCo",
		SignedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Payments: []domain.Payment{
			{ID: "p1", Amount: 100, Date: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), Note: "2026-02-01T00:00:00Z"},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := s.GetByID(ctx, id)
	if err != nil || got == nil {
		t.Fatalf("get: %+v err %v", got, err)
	}
	if got.Client != "2026-01-01T00:00:00Z" {
		t.Fatalf("client altered by round trip: %q", got.Client)
	}
	if got.Payments[0].Note != "2026-02-01T00:00:00Z" {
		t.Fatalf("note altered by round trip: %q", got.Payments[0].Note)
	}
	if !got.SignedAt.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("signed_at lost: %v", got.SignedAt)
	}
}

func TestGetByIDAbsentIsNil(t *testing.T) {
	s := newContractStore(t)
	got, err := s.GetByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestUpdateMergesFields(t *testing.T) {
	ctx := context.Background()
	s := newContractStore(t)
	id, err := s.Create(ctx, domain.Contract{Client: "Acme", Status: domain.ContractDraft, TotalValue: 1000})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Update(ctx, id, map[string]any{"status": domain.ContractActive}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := s.GetByID(ctx, id)
	if got.Status != domain.ContractActive {
		t.Fatalf("status not patched: %s", got.Status)
	}
	if got.Client != "Acme" || got.TotalValue != 1000 {
		t.Fatalf("untouched fields changed: %+v", got)
	}
}

func TestUpdateAbsentIsTransportError(t *testing.T) {
	s := newContractStore(t)
	err := s.Update(context.Background(), "missing", map[string]any{"status": "active"})
	var te *docstore.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if !errors.Is(err, docstore.ErrNoDocument) {
		t.Fatalf("expected ErrNoDocument in chain: %v", err)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := newContractStore(t)
	id, _ := s.Create(ctx, domain.Contract{Client: "Acme"})
	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := s.GetByID(ctx, id)
	if err != nil || got != nil {
		t.Fatalf("expected gone, got %+v err %v", got, err)
	}
}

func TestGetAllFilterOrderLimit(t *testing.T) {
	ctx := context.Background()
	s := newContractStore(t)
	for i, v := range []float64{300, 100, 200, 50} {
		status := domain.ContractActive
		if i == 3 {
			status = domain.ContractClosed
		}
		if _, err := s.Create(ctx, domain.Contract{Client: fmt.Sprintf("c%d", i), Status: status, TotalValue: v}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.GetAll(ctx, docstore.Query{
		Where:   []docstore.Clause{{Field: "status", Op: docstore.OpEq, Value: domain.ContractActive}},
		OrderBy: &docstore.Order{Field: "total_value", Desc: true},
		Limit:   2,
	})
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(got) != 2 || got[0].TotalValue != 300 || got[1].TotalValue != 200 {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestWhereConjunction(t *testing.T) {
	ctx := context.Background()
	s := newContractStore(t)
	s.Create(ctx, domain.Contract{Client: "a", Status: domain.ContractActive, TotalValue: 100})
	s.Create(ctx, domain.Contract{Client: "b", Status: domain.ContractActive, TotalValue: 900})
	s.Create(ctx, domain.Contract{Client: "c", Status: domain.ContractDraft, TotalValue: 900})
	got, err := s.GetAll(ctx, docstore.Query{Where: []docstore.Clause{
		{Field: "status", Op: docstore.OpEq, Value: "active"},
		{Field: "total_value", Op: docstore.OpGte, Value: 500},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Client != "b" {
		t.Fatalf("expected only b: %+v", got)
	}
}

func TestRangeOperatorsNotOrderedOnBoolsAndNulls(t *testing.T) {
	fields := map[string]any{"archived": true, "closed_at": nil}
	for _, op := range []docstore.Operator{docstore.OpGt, docstore.OpGte, docstore.OpLt, docstore.OpLte} {
		q := docstore.Query{Where: []docstore.Clause{{Field: "archived", Op: op, Value: false}}}
		if q.Matches(fields) {
			t.Fatalf("%s on bool must match nothing", op)
		}
		q = docstore.Query{Where: []docstore.Clause{{Field: "closed_at", Op: op, Value: nil}}}
		if q.Matches(fields) {
			t.Fatalf("%s on null must match nothing", op)
		}
	}
	eq := docstore.Query{Where: []docstore.Clause{{Field: "archived", Op: docstore.OpEq, Value: true}}}
	if !eq.Matches(fields) {
		t.Fatalf("equality on bool must still work")
	}
	neq := docstore.Query{Where: []docstore.Clause{{Field: "closed_at", Op: docstore.OpNeq, Value: nil}}}
	if neq.Matches(fields) {
		t.Fatalf("null must equal null")
	}
}

func TestQuerySignatureStructuralEquality(t *testing.T) {
	a := docstore.Query{Where: []docstore.Clause{
		{Field: "status", Op: docstore.OpEq, Value: "active"},
		{Field: "total_value", Op: docstore.OpGte, Value: 500},
	}, Limit: 10}
	b := docstore.Query{Where: []docstore.Clause{
		{Field: "total_value", Op: docstore.OpGte, Value: 500},
		{Field: "status", Op: docstore.OpEq, Value: "active"},
	}, Limit: 10}
	if a.Signature("contracts") != b.Signature("contracts") {
		t.Fatalf("clause order must not change the signature")
	}
	c := docstore.Query{Limit: 10}
	if a.Signature("contracts") == c.Signature("contracts") {
		t.Fatalf("different queries must differ")
	}
}

func TestPaginationChaining(t *testing.T) {
	ctx := context.Background()
	s := newContractStore(t)
	for i := 0; i < 25; i++ {
		if _, err := s.Create(ctx, domain.Contract{Client: fmt.Sprintf("client-%02d", i)}); err != nil {
			t.Fatal(err)
		}
	}
	var (
		cursor   docstore.Cursor
		sizes    []int
		hasNexts []bool
		seen     = map[string]bool{}
	)
	for {
		page, err := s.GetPaginated(ctx, docstore.Page{PageSize: 10, StartAfter: cursor})
		if err != nil {
			t.Fatalf("paginate: %v", err)
		}
		sizes = append(sizes, len(page.Data))
		hasNexts = append(hasNexts, page.HasNextPage)
		for _, c := range page.Data {
			if seen[c.ID] {
				t.Fatalf("duplicate across pages: %s", c.ID)
			}
			seen[c.ID] = true
		}
		if !page.HasNextPage {
			if page.LastDocCursor != "" {
				t.Fatalf("cursor must be empty on the last page")
			}
			break
		}
		cursor = page.LastDocCursor
	}
	if len(sizes) != 3 || sizes[0] != 10 || sizes[1] != 10 || sizes[2] != 5 {
		t.Fatalf("page sizes %v", sizes)
	}
	if !hasNexts[0] || !hasNexts[1] || hasNexts[2] {
		t.Fatalf("hasNext sequence %v", hasNexts)
	}
	if len(seen) != 25 {
		t.Fatalf("omissions: saw %d of 25", len(seen))
	}
}

func TestPaginationSurvivesDeletedCursorRecord(t *testing.T) {
	ctx := context.Background()
	s := newContractStore(t)
	var ids []string
	for i := 0; i < 6; i++ {
		id, err := s.Create(ctx, domain.Contract{Client: fmt.Sprintf("client-%d", i)})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	// default order is by id
	sort.Strings(ids)
	first, err := s.GetPaginated(ctx, docstore.Page{PageSize: 3})
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(first.Data) != 3 || !first.HasNextPage {
		t.Fatalf("page 1: %d docs hasNext=%t", len(first.Data), first.HasNextPage)
	}
	// the cursor references the last doc of page 1; deleting it must not
	// reset the scan to the top
	if err := s.Delete(ctx, first.Data[2].ID); err != nil {
		t.Fatal(err)
	}
	second, err := s.GetPaginated(ctx, docstore.Page{PageSize: 3, StartAfter: first.LastDocCursor})
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(second.Data) != 3 || second.HasNextPage {
		t.Fatalf("page 2: %d docs hasNext=%t", len(second.Data), second.HasNextPage)
	}
	seen := map[string]bool{}
	for _, c := range first.Data {
		seen[c.ID] = true
	}
	for _, c := range second.Data {
		if seen[c.ID] {
			t.Fatalf("page 2 re-delivered %s", c.ID)
		}
	}
	if second.Data[0].ID != ids[3] {
		t.Fatalf("page 2 starts at %s, want %s", second.Data[0].ID, ids[3])
	}
}

func TestOrderedPaginationSurvivesDeletedCursorRecord(t *testing.T) {
	ctx := context.Background()
	s := newContractStore(t)
	for _, v := range []float64{100, 200, 300, 400, 500, 600} {
		if _, err := s.Create(ctx, domain.Contract{Client: fmt.Sprintf("c%v", v), TotalValue: v}); err != nil {
			t.Fatal(err)
		}
	}
	order := &docstore.Order{Field: "total_value", Desc: true}
	first, err := s.GetPaginated(ctx, docstore.Page{
		Query:    docstore.Query{OrderBy: order},
		PageSize: 2,
	})
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(first.Data) != 2 || first.Data[0].TotalValue != 600 || first.Data[1].TotalValue != 500 {
		t.Fatalf("page 1: %+v", first.Data)
	}
	if err := s.Delete(ctx, first.Data[1].ID); err != nil {
		t.Fatal(err)
	}
	second, err := s.GetPaginated(ctx, docstore.Page{
		Query:      docstore.Query{OrderBy: order},
		PageSize:   2,
		StartAfter: first.LastDocCursor,
	})
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(second.Data) != 2 || second.Data[0].TotalValue != 400 || second.Data[1].TotalValue != 300 {
		t.Fatalf("page 2 must resume below the deleted boundary: %+v", second.Data)
	}
}

func TestBatchAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := newContractStore(t)
	a, _ := s.Create(ctx, domain.Contract{Client: "a"})
	b, _ := s.Create(ctx, domain.Contract{Client: "b"})
	err := s.Batch(ctx, []docstore.Op{
		{Type: docstore.OpUpdate, ID: a, Data: map[string]any{"client": "a2"}},
		{Type: docstore.OpDelete, ID: b},
		{Type: docstore.OpCreate, Data: domain.Contract{Client: "c"}},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	all, _ := s.GetAll(ctx, docstore.Query{})
	if len(all) != 2 {
		t.Fatalf("expected 2 docs after batch, got %d", len(all))
	}
	got, _ := s.GetByID(ctx, a)
	if got.Client != "a2" {
		t.Fatalf("batched update lost: %+v", got)
	}
	// an op against a missing document fails the whole batch
	err = s.Batch(ctx, []docstore.Op{
		{Type: docstore.OpUpdate, ID: a, Data: map[string]any{"client": "a3"}},
		{Type: docstore.OpUpdate, ID: "missing", Data: map[string]any{"client": "x"}},
	})
	if err == nil {
		t.Fatalf("expected batch failure")
	}
	got, _ = s.GetByID(ctx, a)
	if got.Client != "a2" {
		t.Fatalf("failed batch must not apply partially: %+v", got)
	}
}

func TestWatchCollection(t *testing.T) {
	ctx := context.Background()
	s := newContractStore(t)
	sub, err := s.WatchCollection(ctx, docstore.Query{})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer sub.Unsubscribe()

	first := recv(t, sub.C)
	if len(first) != 0 {
		t.Fatalf("initial snapshot should be empty: %+v", first)
	}
	if _, err := s.Create(ctx, domain.Contract{Client: "Acme"}); err != nil {
		t.Fatal(err)
	}
	next := recv(t, sub.C)
	if len(next) != 1 || next[0].Client != "Acme" {
		t.Fatalf("snapshot after create: %+v", next)
	}
}

func TestWatchDocumentOrdering(t *testing.T) {
	ctx := context.Background()
	s := newContractStore(t)
	id, _ := s.Create(ctx, domain.Contract{Client: "Acme", TotalValue: 1})
	sub, err := s.WatchDocument(ctx, id)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer sub.Unsubscribe()

	got := recv(t, sub.C)
	if got == nil || got.TotalValue != 1 {
		t.Fatalf("initial doc: %+v", got)
	}
	if err := s.Update(ctx, id, map[string]any{"total_value": 2}); err != nil {
		t.Fatal(err)
	}
	got = recv(t, sub.C)
	if got == nil || got.TotalValue != 2 {
		t.Fatalf("doc after update: %+v", got)
	}
	if err := s.Delete(ctx, id); err != nil {
		t.Fatal(err)
	}
	got = recv(t, sub.C)
	if got != nil {
		t.Fatalf("expected nil after delete: %+v", got)
	}
}

func TestUnsubscribeClosesStream(t *testing.T) {
	ctx := context.Background()
	s := newContractStore(t)
	sub, err := s.WatchCollection(ctx, docstore.Query{})
	if err != nil {
		t.Fatal(err)
	}
	recv(t, sub.C)
	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent
	select {
	case _, ok := <-sub.C:
		if ok {
			// a snapshot may still be buffered; the close must follow
			if _, ok := <-sub.C; ok {
				t.Fatalf("stream still open after unsubscribe")
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stream not closed")
	}
}

func TestSQLiteBackend(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	backend, err := docstore.NewSQLiteBackend(conn)
	if err != nil {
		t.Fatalf("backend: %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	ctx := context.Background()
	s := docstore.New[domain.Project](backend, "projects", nil)
	id, err := s.Create(ctx, domain.Project{Title: "HQ refit", Value: 100000})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := s.GetByID(ctx, id)
	if err != nil || got == nil || got.Title != "HQ refit" {
		t.Fatalf("round trip: %+v err %v", got, err)
	}
	if err := s.Batch(ctx, []docstore.Op{
		{Type: docstore.OpUpdate, ID: id, Data: map[string]any{"value": 120000}},
		{Type: docstore.OpCreate, Data: domain.Project{Title: "Annex"}},
	}); err != nil {
		t.Fatalf("batch: %v", err)
	}
	all, err := s.GetAll(ctx, docstore.Query{})
	if err != nil || len(all) != 2 {
		t.Fatalf("get all: %d err %v", len(all), err)
	}
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for emission")
		panic("unreachable")
	}
}
