// Package server wires the orchestration components behind the HTTP
// surface: chat endpoints, the streaming socket and the handler
// registry API.
package server

import (
	"log/slog"
	"net/http"

	"github.com/majorfree/agentd/pkg/config"
	"github.com/majorfree/agentd/pkg/engine"
	"github.com/majorfree/agentd/pkg/session"
	"github.com/majorfree/agentd/pkg/stream"
	"github.com/majorfree/agentd/pkg/supervisor"
	"github.com/majorfree/agentd/pkg/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Server holds the wired components behind the HTTP surface.
type Server struct {
	config     config.ServerConfig
	logger     *slog.Logger
	metrics    *telemetry.Metrics
	engine     *engine.Engine
	store      *session.Store
	supervisor *supervisor.Supervisor
	bridge     *stream.Bridge
}

// New assembles the server. All dependencies are required except
// metrics, which may be nil.
func New(cfg config.ServerConfig, logger *slog.Logger, metrics *telemetry.Metrics,
	eng *engine.Engine, store *session.Store, sup *supervisor.Supervisor, bridge *stream.Bridge) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:     cfg,
		logger:     logger.With("component", "server"),
		metrics:    metrics,
		engine:     eng,
		store:      store,
		supervisor: sup,
		bridge:     bridge,
	}
}

// Handler builds the full route table with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/llm/chat", s.handleChat)
	mux.HandleFunc("POST /api/v1/llm/query", s.handleQuery)

	mux.HandleFunc("GET /api/v1/handlers", s.handleListHandlers)
	mux.HandleFunc("POST /api/v1/handlers", s.handleRegisterHandler)
	mux.HandleFunc("GET /api/v1/handlers/{name}", s.handleDescribeHandler)
	mux.HandleFunc("POST /api/v1/handlers/{name}/run", s.handleRunHandler)
	mux.HandleFunc("POST /api/v1/handlers/{name}/stop", s.handleStopHandler)
	mux.HandleFunc("GET /api/v1/handlers/{name}/health", s.handleHandlerHealth)

	mux.Handle("GET /api/v1/llm/ws", s.bridge)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	var handler http.Handler = mux
	handler = withRequestLog(s.logger, handler)
	handler = withCorrelation(handler)
	return otelhttp.NewHandler(handler, "agentd.http")
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, "ok", nil)
}
