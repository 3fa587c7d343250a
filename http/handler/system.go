package handler

import (
	"net/http"
	"time"
)

func (api *API) RegisterSystemApi() {
	api.router.Get("/health", api.handleHealth)
	api.router.Get("/api/version", api.handleVersion)
}

func (api *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if api.metrics != nil {
		resp.Uptime = time.Since(api.metrics.StartTime).Round(time.Second).String()
	}
	if api.sessions != nil {
		resp.Sessions = len(api.sessions.Snapshot())
	}
	if api.target != nil {
		st := api.target.Status()
		resp.TestServer = &st
		if !st.CheckedAt.IsZero() && !st.Reachable {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (api *API) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: Date,
	})
}
