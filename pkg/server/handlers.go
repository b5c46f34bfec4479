package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/nstogner/agency/pkg/domain"
	"github.com/nstogner/agency/pkg/store"
)

func statusFor(err error) int {
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// --- Reports ---

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	reports, err := s.reports.ListReports(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	if reports == nil {
		reports = []domain.Report{}
	}
	s.jsonResponse(w, http.StatusOK, reports)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.reports.GetReport(r.Context(), r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}
	s.jsonResponse(w, http.StatusOK, rep)
}

func (s *Server) handleDownloadReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.reports.GetReport(r.Context(), r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(rep.Path)))
	http.ServeFile(w, r, rep.Path)
}

// --- Documents ---

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.documents.ListDocuments(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	if docs == nil {
		docs = []domain.Document{}
	}
	s.jsonResponse(w, http.StatusOK, docs)
}

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var doc domain.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(doc.Title) == "" || strings.TrimSpace(doc.Content) == "" {
		s.errorResponse(w, http.StatusBadRequest, errors.New("title and content are required"))
		return
	}
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if err := s.documents.CreateDocument(r.Context(), &doc); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, doc)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.documents.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}
	s.jsonResponse(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.documents.DeleteDocument(r.Context(), r.PathValue("id")); err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearchDocuments(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	docs, err := s.documents.SearchDocuments(r.Context(), query, limit)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	if docs == nil {
		docs = []domain.Document{}
	}
	s.jsonResponse(w, http.StatusOK, docs)
}

// --- Conversations ---

func (s *Server) handleGetEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.conversations.GetEntries(r.Context(), r.PathValue("id"), 0)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []domain.StreamEntry{}
	}
	s.jsonResponse(w, http.StatusOK, entries)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.conversations.DeleteSession(r.Context(), r.PathValue("id")); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Models ---

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	if s.provider == nil {
		s.jsonResponse(w, http.StatusOK, []domain.Model{})
		return
	}
	models, err := s.provider.List(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, models)
}
