// ABOUTME: Admin HTTP surface: health, reload broadcast, stream proxy mount
// ABOUTME: Routed with chi alongside the WebSocket endpoint
package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/syncjam/syncjam-go/internal/room"
	"github.com/syncjam/syncjam-go/pkg/protocol"
)

type healthResponse struct {
	Status        string `json:"status"`
	Clients       int    `json:"clients"`
	Mode          string `json:"mode"`
	QueueLen      int    `json:"queueLen"`
	SnapshotStore string `json:"snapshotStore"`
}

// Routes builds the server's HTTP router. streamProxy and snaps are
// optional.
func Routes(hub *Hub, coord *room.Coordinator, snaps room.SnapshotStore, streamProxy http.Handler, logger zerolog.Logger) chi.Router {
	r := chi.NewRouter()

	r.Get("/ws", hub.HandleWS)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		stats := coord.Stats()

		storeState := "disabled"
		if snaps != nil {
			if snaps.Healthy(req.Context()) {
				storeState = "ok"
			} else {
				storeState = "down"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(healthResponse{
			Status:        "ok",
			Clients:       stats.Clients,
			Mode:          stats.Mode,
			QueueLen:      stats.QueueLen,
			SnapshotStore: storeState,
		})
	})

	r.Post("/reload", func(w http.ResponseWriter, req *http.Request) {
		logger.Info().Msg("admin reload requested")
		hub.Broadcast(protocol.TypeForceReload, nil)
		w.WriteHeader(http.StatusNoContent)
	})

	if streamProxy != nil {
		r.Get("/stream/{id}", streamProxy.ServeHTTP)
	}

	return r
}
