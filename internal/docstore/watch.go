package docstore

import (
	"context"
	"sync"
)

// hub fans a "collection changed" kick out to every live watcher. Watchers
// re-evaluate their own query on each kick, so emissions are full snapshots
// that supersede the previous state, not deltas.
type hub struct {
	mu     sync.Mutex
	nextID int
	kicks  map[int]chan struct{}
}

func newHub() *hub {
	return &hub{kicks: map[int]chan struct{}{}}
}

func (h *hub) add() (int, chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	kick := make(chan struct{}, 1)
	h.kicks[id] = kick
	return id, kick
}

func (h *hub) remove(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.kicks, id)
}

func (h *hub) broadcast() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, kick := range h.kicks {
		select {
		case kick <- struct{}{}:
		default: // a pending kick already covers this change
		}
	}
}

func (s *Store[R]) notify() { s.hub.broadcast() }

// Subscription is a live change stream. C carries full snapshots; each value
// supersedes the previous one, and a slow consumer only ever misses
// intermediate states, never the latest. Unsubscribe stops emissions and
// releases the watcher; it is safe to call more than once.
type Subscription[T any] struct {
	C <-chan T

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// Unsubscribe releases the underlying watcher. C is closed once the watcher
// goroutine has exited.
func (s *Subscription[T]) Unsubscribe() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}

// WatchCollection pushes the query's result set on subscribe and again after
// every write to the collection. Subscriptions are independent: two watchers
// of the same query each hold their own stream.
func (s *Store[R]) WatchCollection(ctx context.Context, q Query) (*Subscription[[]R], error) {
	snapshot := func(ctx context.Context) ([]R, error) {
		return s.GetAll(ctx, q)
	}
	return watch(ctx, s, snapshot)
}

// WatchDocument pushes the document (nil when absent) on subscribe and after
// every write to the collection that could have touched it. Emissions for a
// single document arrive in the order the store applied its writes.
func (s *Store[R]) WatchDocument(ctx context.Context, id string) (*Subscription[*R], error) {
	snapshot := func(ctx context.Context) (*R, error) {
		return s.GetByID(ctx, id)
	}
	return watch(ctx, s, snapshot)
}

func watch[R, T any](ctx context.Context, s *Store[R], snapshot func(context.Context) (T, error)) (*Subscription[T], error) {
	first, err := snapshot(ctx)
	if err != nil {
		return nil, err
	}
	id, kick := s.hub.add()
	out := make(chan T, 1)
	sub := &Subscription[T]{
		C:    out,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go func() {
		defer func() {
			s.hub.remove(id)
			close(out)
			close(sub.done)
		}()
		emit := func(v T) bool {
			// drop a stale pending snapshot so the latest always lands
			select {
			case <-out:
			default:
			}
			select {
			case out <- v:
				return true
			case <-sub.stop:
				return false
			case <-ctx.Done():
				return false
			}
		}
		if !emit(first) {
			return
		}
		for {
			select {
			case <-sub.stop:
				return
			case <-ctx.Done():
				return
			case <-kick:
				snap, err := snapshot(ctx)
				if err != nil {
					s.log.Error("watch snapshot failed", "collection", s.collection, "error", err)
					continue
				}
				if !emit(snap) {
					return
				}
			}
		}
	}()
	return sub, nil
}
