package handler

import (
	"net/http"
	"strconv"

	"github.com/daniellavrushin/httpcopy/log"
	"github.com/go-chi/chi/v5"
)

const (
	defaultExchangeLimit = 50
	maxExchangeLimit     = 1000
)

func (api *API) RegisterExchangesApi() {
	api.router.Get("/api/exchanges", api.handleRecentExchanges)
	api.router.Get("/api/exchanges/{session}", api.handleSessionExchanges)
}

func (api *API) handleRecentExchanges(w http.ResponseWriter, r *http.Request) {
	limit := defaultExchangeLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxExchangeLimit)
	}

	exchanges, err := api.exchanges.Recent(r.Context(), limit)
	if err != nil {
		log.Errorf("Failed to list exchanges: %v", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to list exchanges"})
		return
	}
	writeJSON(w, http.StatusOK, ExchangesResponse{Exchanges: exchanges})
}

func (api *API) handleSessionExchanges(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session")
	exchanges, err := api.exchanges.Session(r.Context(), id)
	if err != nil {
		log.Errorf("Failed to load exchanges of session %s: %v", id, err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to load exchanges"})
		return
	}
	if len(exchanges) == 0 {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "session not found"})
		return
	}

	details := make([]ExchangeDetail, len(exchanges))
	for i, ex := range exchanges {
		details[i] = ExchangeDetail{
			Exchange:               ex,
			RequestText:            string(ex.Request),
			ProductionResponseText: string(ex.ProductionResponse),
			TestResponseText:       string(ex.TestResponse),
		}
	}
	writeJSON(w, http.StatusOK, details)
}
