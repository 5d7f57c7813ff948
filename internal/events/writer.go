package events

import (
	"context"
	"fmt"
	"time"

	"siteline/internal/docstore"
	"siteline/internal/domain"
)

// Writer appends audit events to the events collection.
type Writer struct {
	Store *docstore.Store[domain.Event]
	Now   func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Store == nil {
		return nil
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	evt := domain.Event{
		TS:         now().UTC(),
		Type:       evtType,
		EntityKind: entityKind,
		EntityID:   entityID,
		ActorID:    actorID,
		Payload:    payload,
	}
	if _, err := w.Store.Create(ctx, evt); err != nil {
		return fmt.Errorf("append event %s: %w", evtType, err)
	}
	return nil
}

// Page lists events newest first, cursor-chained.
func (w Writer) Page(ctx context.Context, limit int, cursor docstore.Cursor) (docstore.PageResult[domain.Event], error) {
	if limit <= 0 {
		limit = 100
	}
	return w.Store.GetPaginated(ctx, docstore.Page{
		Query:      docstore.Query{OrderBy: &docstore.Order{Field: "ts", Desc: true}},
		PageSize:   limit,
		StartAfter: cursor,
	})
}
