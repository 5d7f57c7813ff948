package docstore

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

type Operator string

const (
	OpEq  Operator = "=="
	OpNeq Operator = "!="
	OpGt  Operator = ">"
	OpGte Operator = ">="
	OpLt  Operator = "<"
	OpLte Operator = "<="
)

// Clause is a single field predicate. Clauses in a query are ANDed; there is
// no OR support.
type Clause struct {
	Field string   `json:"field"`
	Op    Operator `json:"op"`
	Value any      `json:"value"`
}

type Order struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc"`
}

// Query narrows and orders a collection read. At most one order field.
type Query struct {
	Where   []Clause `json:"where,omitempty"`
	OrderBy *Order   `json:"order_by,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

// Page extends a query with cursor pagination.
type Page struct {
	Query
	PageSize   int    `json:"page_size"`
	StartAfter Cursor `json:"start_after,omitempty"`
}

// Cursor is an opaque continuation token referencing the last item of a page.
// Callers only re-submit it; they must not interpret it.
type Cursor string

// cursorPayload records an ordering position, not just a document id, so a
// page can resume past the boundary even after that document is deleted.
type cursorPayload struct {
	ID    string `json:"id"`
	Key   any    `json:"key,omitempty"`
	Keyed bool   `json:"keyed,omitempty"`
}

func encodeCursor(id string, key any, keyed bool) Cursor {
	b, _ := json.Marshal(cursorPayload{ID: id, Key: key, Keyed: keyed})
	return Cursor(base64.RawURLEncoding.EncodeToString(b))
}

func decodeCursor(c Cursor) (cursorPayload, error) {
	b, err := base64.RawURLEncoding.DecodeString(string(c))
	if err != nil {
		return cursorPayload{}, fmt.Errorf("invalid cursor: %w", err)
	}
	var p cursorPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return cursorPayload{}, fmt.Errorf("invalid cursor: %w", err)
	}
	return p, nil
}

// Matches evaluates every clause against the decoded document fields.
func (q Query) Matches(fields map[string]any) bool {
	for _, c := range q.Where {
		got, ok := lookupField(fields, c.Field)
		if !ok {
			return false
		}
		want := normalizeValue(c.Value)
		switch c.Op {
		case OpEq:
			if !reflect.DeepEqual(got, want) {
				return false
			}
		case OpNeq:
			if reflect.DeepEqual(got, want) {
				return false
			}
		case OpGt, OpGte, OpLt, OpLte:
			cmp, ordered := compareValues(got, want)
			if !ordered {
				return false
			}
			switch {
			case c.Op == OpGt && cmp <= 0:
				return false
			case c.Op == OpGte && cmp < 0:
				return false
			case c.Op == OpLt && cmp >= 0:
				return false
			case c.Op == OpLte && cmp > 0:
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Signature returns the normalized cache key for this query against a
// collection. Two structurally equal queries produce the same signature.
func (q Query) Signature(collection string) string {
	clauses := make([]string, 0, len(q.Where))
	for _, c := range q.Where {
		v, _ := json.Marshal(normalizeValue(c.Value))
		clauses = append(clauses, c.Field+string(c.Op)+string(v))
	}
	sort.Strings(clauses)
	var sb strings.Builder
	sb.WriteString(collection)
	sb.WriteString("|")
	sb.WriteString(strings.Join(clauses, "&"))
	if q.OrderBy != nil {
		fmt.Fprintf(&sb, "|order=%s,desc=%t", q.OrderBy.Field, q.OrderBy.Desc)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&sb, "|limit=%d", q.Limit)
	}
	return sb.String()
}

// lookupField resolves a dotted path against nested maps.
func lookupField(fields map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = fields
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// normalizeValue maps a caller-supplied value onto the JSON-decoded domain
// (float64 numbers, fixed-width strings for times) so comparisons line up
// with stored fields. Time values must be passed as time.Time; a bare string
// is treated as a string even when it happens to parse as a date.
func normalizeValue(v any) any {
	switch tv := v.(type) {
	case time.Time:
		return tv.UTC().Format(wireTimeLayout)
	case *time.Time:
		if tv != nil {
			return tv.UTC().Format(wireTimeLayout)
		}
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

// compareValues returns -1/0/1 and whether the two values carry a total
// order. Only numbers and strings do; booleans, nulls and mixed types report
// not ordered, so range operators on them match nothing.
func compareValues(a, b any) (int, bool) {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		}
		return 0, true
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	}
	return 0, false
}
