package handler

import (
	"net/http"

	"github.com/daniellavrushin/httpcopy/session"
)

func (api *API) RegisterSessionsApi() {
	api.router.Get("/api/sessions", api.handleSessions)
}

func (api *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := []session.Info{}
	if api.sessions != nil {
		sessions = api.sessions.Snapshot()
	}

	if state := r.URL.Query().Get("state"); state != "" {
		filtered := sessions[:0]
		for _, s := range sessions {
			if s.State.String() == state {
				filtered = append(filtered, s)
			}
		}
		sessions = filtered
	}

	writeJSON(w, http.StatusOK, SessionsResponse{Sessions: sessions, Count: len(sessions)})
}
