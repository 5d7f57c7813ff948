package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"siteline/internal/app"
	"siteline/internal/docstore"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// registerWatch mounts websocket endpoints that stream collection snapshots.
// Every mutation to the collection pushes a fresh JSON snapshot frame; stale
// intermediate snapshots are superseded, the client always lands on the
// latest state.
func registerWatch(router chi.Router, basePath string, a *app.App) {
	router.Get(basePath+"/watch/projects", watchHandler(a.ProjectStore))
	router.Get(basePath+"/watch/contracts", watchHandler(a.ContractStore))
}

func watchHandler[R any](store *docstore.Store[R]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := store.WatchCollection(r.Context(), docstore.Query{})
		if err != nil {
			http.Error(w, "subscribe failed", http.StatusInternalServerError)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			sub.Unsubscribe()
			return
		}
		defer conn.Close()
		defer sub.Unsubscribe()

		// Reader loop only to notice the peer going away.
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case snapshot, ok := <-sub.C:
				if !ok {
					return
				}
				if err := conn.WriteJSON(snapshot); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}
}
