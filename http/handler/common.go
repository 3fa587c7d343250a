package handler

import (
	"encoding/json"
	"net/http"

	"github.com/daniellavrushin/httpcopy/config"
	"github.com/daniellavrushin/httpcopy/metrics"
	"github.com/go-chi/chi/v5"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func NewAPIHandler(cfg *config.Config, sessions SessionSource, m *metrics.MetricsCollector, exchanges ExchangeSource) *API {
	return &API{
		cfg:       cfg,
		sessions:  sessions,
		metrics:   m,
		exchanges: exchanges,
	}
}

// WithTarget adds test server reachability to /health.
func (api *API) WithTarget(t TargetSource) *API {
	api.target = t
	return api
}

func (api *API) RegisterEndpoints(r chi.Router) {
	api.router = r

	api.RegisterSystemApi()
	api.RegisterSessionsApi()
	api.RegisterMetricsApi()
	api.RegisterConfigApi()
	if api.exchanges != nil {
		api.RegisterExchangesApi()
	}
}

func setJsonHeader(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	setJsonHeader(w)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
