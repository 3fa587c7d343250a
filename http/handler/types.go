package handler

import (
	"context"

	"github.com/daniellavrushin/httpcopy/config"
	"github.com/daniellavrushin/httpcopy/forward"
	"github.com/daniellavrushin/httpcopy/metrics"
	"github.com/daniellavrushin/httpcopy/record"
	"github.com/daniellavrushin/httpcopy/session"
	"github.com/go-chi/chi/v5"
)

// SessionSource lists the sessions the engine is tracking.
type SessionSource interface {
	Snapshot() []session.Info
}

// TargetSource reports test server reachability.
type TargetSource interface {
	Status() forward.TargetStatus
}

// ExchangeSource lists recorded exchanges. Only the SQLite index
// implements it.
type ExchangeSource interface {
	Recent(ctx context.Context, limit int) ([]record.Exchange, error)
	Session(ctx context.Context, sessionID string) ([]record.Exchange, error)
}

type API struct {
	cfg       *config.Config
	router    chi.Router
	sessions  SessionSource
	metrics   *metrics.MetricsCollector
	exchanges ExchangeSource
	target    TargetSource
}

type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Uptime   string `json:"uptime"`
	Sessions int    `json:"sessions"`

	TestServer *forward.TargetStatus `json:"test_server,omitempty"`
}

type SessionsResponse struct {
	Sessions []session.Info `json:"sessions"`
	Count    int            `json:"count"`
}

type ExchangesResponse struct {
	Exchanges []record.Exchange `json:"exchanges"`
}

// ExchangeDetail carries the byte streams as text for inspection.
type ExchangeDetail struct {
	record.Exchange
	RequestText            string `json:"request"`
	ProductionResponseText string `json:"production_response"`
	TestResponseText       string `json:"test_response"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
