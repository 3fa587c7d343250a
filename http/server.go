package http

import (
	"fmt"
	"io"
	"net"
	stdhttp "net/http"
	"strconv"
	"time"

	"github.com/daniellavrushin/httpcopy/config"
	"github.com/daniellavrushin/httpcopy/http/handler"
	"github.com/daniellavrushin/httpcopy/http/ws"
	"github.com/daniellavrushin/httpcopy/log"
	"github.com/daniellavrushin/httpcopy/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Deps are the engine parts the status server reports on.
type Deps struct {
	Sessions  handler.SessionSource
	Metrics   *metrics.MetricsCollector
	Exchanges handler.ExchangeSource
	Target    handler.TargetSource
}

// NewRouter builds the status API.
func NewRouter(cfg *config.Config, deps Deps) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// WebSocket endpoint for log streaming
	r.Get("/api/ws/logs", ws.HandleLogsWebSocket)

	api := handler.NewAPIHandler(cfg, deps.Sessions, deps.Metrics, deps.Exchanges)
	if deps.Target != nil {
		api.WithTarget(deps.Target)
	}
	api.RegisterEndpoints(r)

	return r
}

// StartServer serves the status API in the background. It returns nil when
// the server is disabled.
func StartServer(cfg *config.Config, deps Deps) (*stdhttp.Server, error) {
	if !cfg.System.WebServer.IsEnabled {
		log.Infof("Status server disabled (port 0)")
		return nil, nil
	}

	addr := net.JoinHostPort(cfg.System.WebServer.BindAddress, strconv.Itoa(cfg.System.WebServer.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("status server listen on %s: %w", addr, err)
	}
	log.Infof("Starting status server on %s", ln.Addr())

	if deps.Metrics != nil {
		deps.Metrics.RecordEvent("info", fmt.Sprintf("Status server started on %s", ln.Addr()))
	}

	srv := &stdhttp.Server{
		Addr:              addr,
		Handler:           NewRouter(cfg, deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && err != stdhttp.ErrServerClosed {
			log.Errorf("Status server error: %v", err)
			if deps.Metrics != nil {
				deps.Metrics.RecordEvent("error", fmt.Sprintf("Status server error: %v", err))
			}
		}
	}()

	return srv, nil
}

func LogWriter() io.Writer {
	return ws.LogWriter()
}

func Shutdown() {
	ws.Shutdown()
}
