package cache_test

import (
	"reflect"
	"strings"
	"testing"

	"siteline/internal/cache"
	"siteline/internal/docstore"
	"siteline/internal/domain"
)

func newContractCache() *cache.Cache[domain.Contract] {
	return cache.New(
		func(c domain.Contract) string { return c.ID },
		func(c domain.Contract, id string) domain.Contract { c.ID = id; return c },
	)
}

func activeQuery() (docstore.Query, string) {
	q := docstore.Query{Where: []docstore.Clause{{Field: "status", Op: docstore.OpEq, Value: "active"}}}
	return q, q.Signature("contracts")
}

func seed(t *testing.T, c *cache.Cache[domain.Contract]) (string, []domain.Contract) {
	t.Helper()
	q, sig := activeQuery()
	items := []domain.Contract{
		{ID: "c1", Client: "Acme", Status: domain.ContractActive, TotalValue: 100},
		{ID: "c2", Client: "BuildCo", Status: domain.ContractActive, TotalValue: 200},
	}
	c.PutList(sig, q, items)
	c.PutDoc("c1", items[0])
	return sig, items
}

func TestListHitAndMiss(t *testing.T) {
	c := newContractCache()
	sig, items := seed(t, c)
	got, ok := c.GetList(sig)
	if !ok || !reflect.DeepEqual(got, items) {
		t.Fatalf("expected hit: %+v", got)
	}
	if _, ok := c.GetList("contracts|other"); ok {
		t.Fatalf("expected miss for unknown signature")
	}
}

func TestInvalidateMarksStale(t *testing.T) {
	c := newContractCache()
	sig, _ := seed(t, c)
	c.Invalidate()
	if _, ok := c.GetList(sig); ok {
		t.Fatalf("stale entry must be a miss")
	}
	if _, ok := c.GetDoc("c1"); ok {
		t.Fatalf("doc cache must be dropped")
	}
}

func TestOptimisticCreateInsertsIntoMatchingLists(t *testing.T) {
	c := newContractCache()
	sig, _ := seed(t, c)
	// a second cached list the new record does not match
	qDraft := docstore.Query{Where: []docstore.Clause{{Field: "status", Op: docstore.OpEq, Value: "draft"}}}
	sigDraft := qDraft.Signature("contracts")
	c.PutList(sigDraft, qDraft, nil)

	m := c.OptimisticCreate(domain.Contract{Client: "NewCo", Status: domain.ContractActive})
	if m.State() != cache.StateApplied {
		t.Fatalf("state %s", m.State())
	}
	if !strings.HasPrefix(m.TempID(), cache.TempIDPrefix) {
		t.Fatalf("temp id %q", m.TempID())
	}
	got, _ := c.GetList(sig)
	if len(got) != 3 || got[2].ID != m.TempID() {
		t.Fatalf("speculative record missing: %+v", got)
	}
	if drafts, _ := c.GetList(sigDraft); len(drafts) != 0 {
		t.Fatalf("must not leak into non-matching lists: %+v", drafts)
	}

	final := domain.Contract{ID: "real-1", Client: "NewCo", Status: domain.ContractActive}
	m.Confirm("real-1", &final)
	got, _ = c.GetList(sig)
	if got[2].ID != "real-1" {
		t.Fatalf("temp id not replaced: %+v", got[2])
	}
	if doc, ok := c.GetDoc("real-1"); !ok || doc.Client != "NewCo" {
		t.Fatalf("confirmed doc missing")
	}
	if _, ok := c.GetDoc(m.TempID()); ok {
		t.Fatalf("temp doc entry must be gone")
	}
}

func TestOptimisticCreateRollbackRestoresExactState(t *testing.T) {
	c := newContractCache()
	sig, _ := seed(t, c)
	before, _ := c.GetList(sig)
	beforeDoc, _ := c.GetDoc("c1")

	m := c.OptimisticCreate(domain.Contract{Client: "NewCo", Status: domain.ContractActive})
	m.Rollback()
	if m.State() != cache.StateRolledBack {
		t.Fatalf("state %s", m.State())
	}

	after, ok := c.GetList(sig)
	if !ok || !reflect.DeepEqual(before, after) {
		t.Fatalf("list not restored:\nbefore %+v\nafter  %+v", before, after)
	}
	afterDoc, ok := c.GetDoc("c1")
	if !ok || !reflect.DeepEqual(beforeDoc, afterDoc) {
		t.Fatalf("doc not restored")
	}
	if _, ok := c.GetDoc(m.TempID()); ok {
		t.Fatalf("temp doc survived rollback")
	}
}

func TestOptimisticUpdatePatchesListsAndDoc(t *testing.T) {
	c := newContractCache()
	sig, _ := seed(t, c)
	m, err := c.OptimisticUpdate("c1", map[string]any{"total_value": 999})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := c.GetList(sig)
	if got[0].TotalValue != 999 {
		t.Fatalf("list not patched: %+v", got[0])
	}
	if got[0].Client != "Acme" {
		t.Fatalf("other fields must survive the patch: %+v", got[0])
	}
	doc, _ := c.GetDoc("c1")
	if doc.TotalValue != 999 {
		t.Fatalf("doc not patched: %+v", doc)
	}
	m.Confirm("", nil)
	if m.State() != cache.StateConfirmed {
		t.Fatalf("state %s", m.State())
	}
}

func TestOptimisticUpdateRollback(t *testing.T) {
	c := newContractCache()
	sig, before := seed(t, c)
	m, _ := c.OptimisticUpdate("c1", map[string]any{"total_value": 999})
	m.Rollback()
	after, _ := c.GetList(sig)
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("rollback mismatch:\nbefore %+v\nafter  %+v", before, after)
	}
	doc, _ := c.GetDoc("c1")
	if doc.TotalValue != 100 {
		t.Fatalf("doc not restored: %+v", doc)
	}
}

func TestOptimisticDelete(t *testing.T) {
	c := newContractCache()
	sig, _ := seed(t, c)
	m := c.OptimisticDelete("c1")
	got, _ := c.GetList(sig)
	if len(got) != 1 || got[0].ID != "c2" {
		t.Fatalf("record not removed: %+v", got)
	}
	if doc, ok := c.GetDoc("c1"); !ok || doc != nil {
		t.Fatalf("doc entry should be a cached null, got %+v ok=%t", doc, ok)
	}
	m.Rollback()
	got, _ = c.GetList(sig)
	if len(got) != 2 {
		t.Fatalf("delete not rolled back: %+v", got)
	}
	if doc, _ := c.GetDoc("c1"); doc == nil || doc.Client != "Acme" {
		t.Fatalf("doc not restored: %+v", doc)
	}
}

func TestSettledMutationIsInert(t *testing.T) {
	c := newContractCache()
	sig, _ := seed(t, c)
	m, _ := c.OptimisticUpdate("c1", map[string]any{"total_value": 999})
	m.Confirm("", nil)
	m.Rollback() // no-op after confirm
	if m.State() != cache.StateConfirmed {
		t.Fatalf("state %s", m.State())
	}
	got, _ := c.GetList(sig)
	if got[0].TotalValue != 999 {
		t.Fatalf("confirmed value lost: %+v", got[0])
	}
}
