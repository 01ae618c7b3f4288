// Package httpapi implements the §6.1 HTTP surface: a single chat endpoint
// and its streaming counterpart, both fronting the C13 Pipeline
// Orchestrator. Grounded on the teacher's internal/agentd route
// registration style (explicit method-qualified patterns on
// http.ServeMux) and its SSE write conventions (internal/agentd/handlers_chat.go).
package httpapi

import (
	"net/http"

	"taskpilot/internal/pipeline"
)

// Server exposes the task-management chat API over HTTP.
type Server struct {
	orchestrator *pipeline.Orchestrator
	mux          *http.ServeMux
}

// NewServer creates the HTTP API server wired to the pipeline orchestrator.
func NewServer(orchestrator *pipeline.Orchestrator) *Server {
	s := &Server{orchestrator: orchestrator, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /task-manager/chat", s.handleChat)
	s.mux.HandleFunc("GET /task-manager/chat-stream", s.handleChatStream)
}
