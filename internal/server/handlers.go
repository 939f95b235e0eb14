package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/studyhall/kioku/internal/models"
	"github.com/studyhall/kioku/internal/registry"
	"github.com/studyhall/kioku/internal/search"
	"go.uber.org/zap"
)

// defaultTenant is used when a request carries no tenant identity.
const defaultTenant = "demo"

func tenantFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("tenant_id"); t != "" {
		return t
	}
	if t := r.FormValue("tenant_id"); t != "" {
		return t
	}
	if t := r.Header.Get("X-Tenant-ID"); t != "" {
		return t
	}
	return defaultTenant
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()
	content, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read file")
		return
	}
	if len(content) > maxUploadBytes {
		s.respondError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	tenant := tenantFromRequest(r)
	subject := r.FormValue("subject")
	filename := filepath.Base(header.Filename)
	s.logger.Debug("upload request",
		zap.String("tenant_id", tenant),
		zap.String("filename", filename),
		zap.String("subject", subject),
	)

	rec, added, err := s.ingest.IngestUpload(r.Context(), tenant, content, filename, subject)
	if err != nil {
		s.logger.Error("upload failed", zap.String("filename", filename), zap.Error(err))
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"success":        true,
		"document_id":    rec.ID,
		"filename":       rec.Filename,
		"subject":        rec.Subject,
		"chunks_created": added,
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFromRequest(r)
	docs, err := s.registry.ListByTenant(r.Context(), tenant)
	if err != nil {
		s.logger.Error("list documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	if docs == nil {
		docs = []*models.DocumentRecord{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"documents": docs})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFromRequest(r)
	id := chi.URLParam(r, "id")
	if err := s.ingest.DeleteDocument(r.Context(), tenant, id); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "document not found")
			return
		}
		s.logger.Error("delete document failed",
			zap.String("document_id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to delete document")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

type searchRequest struct {
	TenantID string `json:"tenant_id"`
	Query    string `json:"query"`
	NResults int    `json:"n_results"`
	Subject  string `json:"subject,omitempty"`
}

// handleSearch never surfaces provider or ranking failures to the caller:
// they are logged and presented as an empty, well-formed result list. Callers
// treat empty results as "no context", not as failure.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TenantID == "" {
		req.TenantID = tenantFromRequest(r)
	}
	results, err := s.engine.Search(r.Context(), req.TenantID, req.Query, req.NResults, req.Subject)
	if err != nil {
		if errors.Is(err, search.ErrEmptyQuery) {
			s.respondError(w, http.StatusBadRequest, "query is required")
			return
		}
		s.logger.Error("search failed, returning empty results",
			zap.String("tenant_id", req.TenantID), zap.Error(err))
		results = []models.SearchResult{}
	}
	if results == nil {
		results = []models.SearchResult{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFromRequest(r)
	stats := s.store.Stats(tenant)
	docCount, err := s.registry.CountByTenant(r.Context(), tenant)
	if err != nil {
		s.logger.Error("stats: count documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to read stats")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"total_chunks": stats.TotalChunks,
		"documents":    docCount,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
