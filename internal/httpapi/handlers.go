package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"taskpilot/internal/observability"
	"taskpilot/internal/pipeline"
)

// chatRequest is the §6.1 POST body.
type chatRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"sessionId"`
}

// handleChat implements POST /task-manager/chat (§6.1). Status 200 covers
// every non-transport failure - the Pipeline Orchestrator already renders
// user-facing error text into Response.Answer, so a malformed body is the
// only case that gets a 4xx here.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 64*1024)
	defer r.Body.Close()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}

	resp := s.orchestrator.Process(r.Context(), pipeline.Request{Query: req.Query, SessionID: req.SessionID})

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		observability.LoggerWithTrace(r.Context()).Error().Err(err).Msg("encode_chat_response")
	}
}

// handleChatStream implements GET /task-manager/chat-stream (§6.1): the
// §4.13 streaming variant relayed as server-sent events.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}
	sessionID := r.URL.Query().Get("sessionId")

	fl, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	log := observability.LoggerWithTrace(r.Context())

	writeSSE := func(event pipeline.EventType, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			log.Error().Err(err).Msg("marshal_sse_event")
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b)
		fl.Flush()
	}

	s.orchestrator.ProcessStream(r.Context(), pipeline.Request{Query: query, SessionID: sessionID}, func(ev pipeline.Event) {
		switch ev.Type {
		case pipeline.EventStart:
			writeSSE(ev.Type, map[string]string{})
		case pipeline.EventStatus:
			writeSSE(ev.Type, map[string]string{"status": ev.Status})
		case pipeline.EventSources:
			writeSSE(ev.Type, map[string]any{"sources": ev.Sources})
		case pipeline.EventChunk:
			writeSSE(ev.Type, map[string]string{"chunk": ev.Chunk})
		case pipeline.EventComplete:
			writeSSE(ev.Type, ev.Response)
		case pipeline.EventError:
			writeSSE(ev.Type, map[string]string{"error": ev.Err})
		}
	})
}
