// Package server exposes the agent over HTTP: REST endpoints for session
// management and a websocket for driving conversations.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/vheckthor/goose-sub001/pkg/agent"
	"github.com/vheckthor/goose-sub001/pkg/store"
)

// Server serves the session API and the chat websocket.
type Server struct {
	manager store.Manager
	agent   *agent.Agent
	srv     *http.Server
}

// New creates a Server.
func New(manager store.Manager, a *agent.Agent) *Server {
	return &Server{manager: manager, agent: a}
}

// Start starts the HTTP server and blocks.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("POST /api/sessions/{id}/status", s.handleSetStatus)

	mux.HandleFunc("/api/sessions/{id}/chat", s.handleChatWebSocket)

	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.corsMiddleware(mux),
	}

	slog.Info("Starting server", "addr", addr)
	return s.srv.ListenAndServe()
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	infos, err := s.manager.List()
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, infos)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkingDir string `json:"working_dir"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err.Error() != "EOF" {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	sess, err := s.manager.New(req.WorkingDir)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	defer sess.Close()
	s.jsonResponse(w, http.StatusCreated, map[string]string{"id": sess.ID(), "path": sess.Path()})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Load(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, err)
		return
	}
	defer sess.Close()

	messages, err := sess.Messages()
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	usage, err := sess.TotalUsage()
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"id":          sess.ID(),
		"working_dir": sess.WorkingDir(),
		"messages":    messages,
		"usage":       usage,
	})
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if err := s.manager.SetStatus(r.PathValue("id"), req.Status); err != nil {
		s.errorResponse(w, http.StatusNotFound, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": req.Status})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, err error) {
	slog.Error("API Error", "error", err)
	s.jsonResponse(w, status, map[string]string{"error": err.Error()})
}
