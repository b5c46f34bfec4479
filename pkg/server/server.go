// Package server exposes research sessions and their artifacts over HTTP and
// websockets.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/nstogner/agency/pkg/domain"
	"github.com/nstogner/agency/pkg/model"
	"github.com/nstogner/agency/pkg/session"
	"github.com/nstogner/agency/pkg/store"
)

// Options configure the research sessions the server starts.
type Options struct {
	Roles                  domain.Roles
	MinReportChars         int
	MaxClarificationRounds int
	// NewStreamer builds the agency of a new websocket session.
	NewStreamer func(sessionID string) (session.Streamer, error)
	// NewPersister builds the report writer of a new session. Nil disables
	// persistence.
	NewPersister func(sessionID string) session.Persister
}

// Server serves the REST API and research websocket.
type Server struct {
	conversations store.ConversationStore
	documents     store.DocumentStore
	reports       store.ReportStore
	provider      model.Provider
	opts          Options
	srv           *http.Server
}

// New creates a new Server.
func New(
	conversations store.ConversationStore,
	documents store.DocumentStore,
	reports store.ReportStore,
	provider model.Provider,
	opts Options,
) *Server {
	return &Server{
		conversations: conversations,
		documents:     documents,
		reports:       reports,
		provider:      provider,
		opts:          opts,
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Reports
	mux.HandleFunc("GET /api/reports", s.handleListReports)
	mux.HandleFunc("GET /api/reports/{id}", s.handleGetReport)
	mux.HandleFunc("GET /api/reports/{id}/pdf", s.handleDownloadReport)

	// Documents
	mux.HandleFunc("GET /api/documents", s.handleListDocuments)
	mux.HandleFunc("POST /api/documents", s.handleCreateDocument)
	mux.HandleFunc("GET /api/documents/search", s.handleSearchDocuments)
	mux.HandleFunc("GET /api/documents/{id}", s.handleGetDocument)
	mux.HandleFunc("DELETE /api/documents/{id}", s.handleDeleteDocument)

	// Conversations
	mux.HandleFunc("GET /api/sessions/{id}/entries", s.handleGetEntries)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)

	// Models
	mux.HandleFunc("GET /api/models", s.handleListModels)

	// WebSocket
	mux.HandleFunc("/api/research", s.handleResearchWebSocket)

	return s.corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	slog.Info("Starting web server", "addr", addr)
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
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
