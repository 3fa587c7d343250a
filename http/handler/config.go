package handler

import "net/http"

func (api *API) RegisterConfigApi() {
	api.router.Get("/api/config", api.getConfig)
}

// getConfig reports the effective configuration. It is read only: changes
// go through the config file and a restart.
func (api *API) getConfig(w http.ResponseWriter, r *http.Request) {
	if api.cfg == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no configuration"})
		return
	}
	writeJSON(w, http.StatusOK, api.cfg)
}
