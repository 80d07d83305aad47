// Package server assembles the gateway: routes, middleware chain, and the
// handler dependencies behind them.
package server

import (
	"log/slog"
	"net/http"

	"github.com/carevox/carevox/pkg/core/conversation"
	"github.com/carevox/carevox/pkg/core/escalation"
	"github.com/carevox/carevox/pkg/gateway/config"
	"github.com/carevox/carevox/pkg/gateway/handlers"
	"github.com/carevox/carevox/pkg/gateway/lifecycle"
	"github.com/carevox/carevox/pkg/gateway/mw"
	"github.com/carevox/carevox/pkg/metrics"
	"github.com/carevox/carevox/pkg/nlu"
	"github.com/carevox/carevox/pkg/staff"
)

// Deps carries the long-lived collaborators the handlers dispatch into.
type Deps struct {
	Conversations        *conversation.Manager
	Escalations          *escalation.Manager
	EscalationRepository *escalation.Repository
	Hub                  *staff.Hub
	Classifier           nlu.Classifier
	Metrics              *metrics.Collector
	Lifecycle            *lifecycle.Lifecycle
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	deps   Deps
	mux    *http.ServeMux
}

func New(cfg config.Config, logger *slog.Logger, deps Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Lifecycle == nil {
		deps.Lifecycle = &lifecycle.Lifecycle{}
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		deps:   deps,
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Lifecycle: s.deps.Lifecycle})
	if s.deps.Metrics != nil {
		s.mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}

	conv := handlers.ConversationsHandler{
		Config:        s.cfg,
		Conversations: s.deps.Conversations,
		Escalations:   s.deps.Escalations,
		Classifier:    s.deps.Classifier,
		Logger:        s.logger,
	}
	s.mux.HandleFunc("POST /v1/conversations", conv.Start)
	s.mux.HandleFunc("GET /v1/conversations/{id}", conv.Get)
	s.mux.HandleFunc("POST /v1/conversations/{id}/turns", conv.AddTurn)
	s.mux.HandleFunc("POST /v1/conversations/{id}/topic", conv.ChangeTopic)
	s.mux.HandleFunc("GET /v1/conversations/{id}/context", conv.Context)
	s.mux.HandleFunc("POST /v1/conversations/{id}/end", conv.End)
	s.mux.HandleFunc("GET /v1/conversations/{id}/summary", conv.Summary)
	s.mux.HandleFunc("POST /v1/conversations/{id}/events", conv.RecordEvent)

	esc := handlers.EscalationsHandler{
		Config:     s.cfg,
		Manager:    s.deps.Escalations,
		Repository: s.deps.EscalationRepository,
	}
	s.mux.HandleFunc("GET /v1/escalations/metrics", esc.Metrics)
	s.mux.HandleFunc("GET /v1/escalations/{id}", esc.Get)
	s.mux.HandleFunc("POST /v1/escalations/{id}/acknowledge", esc.Acknowledge)
	s.mux.HandleFunc("POST /v1/escalations/{id}/resolve", esc.Resolve)
	s.mux.HandleFunc("GET /v1/conversations/{id}/escalations", esc.ListForConversation)

	s.mux.Handle("GET /v1/staff/ws", handlers.StaffWSHandler{
		Config:      s.cfg,
		Hub:         s.deps.Hub,
		Escalations: s.deps.Escalations,
		Logger:      s.logger,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
