package handler

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (api *API) RegisterMetricsApi() {
	api.router.Get("/api/metrics", api.handleMetrics)
	if api.metrics != nil && api.metrics.Prometheus() != nil {
		api.router.Handle("/metrics", promhttp.HandlerFor(api.metrics.Prometheus().Registry(), promhttp.HandlerOpts{}))
	}
}

func (api *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if api.metrics == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "metrics disabled"})
		return
	}
	writeJSON(w, http.StatusOK, api.metrics.GetSnapshot())
}
