package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/docrag/internal/auth"
	"github.com/hyperjump/docrag/internal/indexer"
	"github.com/hyperjump/docrag/internal/models"
	"github.com/hyperjump/docrag/internal/pointid"
	"github.com/hyperjump/docrag/internal/provider"
	"github.com/hyperjump/docrag/internal/syncer"
)

const systemCheckTimeout = 20 * time.Second

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid form")
			return
		}
		req.Username = r.PostForm.Get("username")
		req.Password = r.PostForm.Get("password")
	}
	token, err := s.auth.Login(req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		s.logger.Warn("invalid login attempt", zap.String("username", req.Username))
		w.Header().Set("WWW-Authenticate", "Bearer")
		s.respondError(w, http.StatusUnauthorized, "incorrect username or password")
		return
	}
	if err != nil {
		s.logger.Error("issuing token failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	s.respondJSON(w, http.StatusOK, token)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	entries, err := s.provider.ListFiles(r.Context(), p)
	if err != nil {
		s.respondProviderError(w, "listing failed", p, err)
		return
	}
	if entries == nil {
		entries = []*models.FileEntry{}
	}
	s.respondJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	p, ok := s.documentPath(w, r)
	if !ok {
		return
	}
	content, err := s.provider.DownloadFile(r.Context(), p)
	if err != nil {
		s.respondProviderError(w, "download failed", p, err)
		return
	}
	if strings.TrimSpace(content) == "" {
		s.respondError(w, http.StatusNotFound, "document not found or empty")
		return
	}
	id := pointid.DocumentID(p)
	s.respondJSON(w, http.StatusOK, &models.Document{
		ID:      id,
		Name:    pointid.DocumentName(id),
		Path:    pointid.DocumentPath(id),
		Type:    models.EntryTypeFile,
		Content: content,
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	p, ok := s.documentPath(w, r)
	if !ok {
		return
	}
	s.logger.Debug("index document request", zap.String("path", p))
	res, err := s.indexer.IndexPath(r.Context(), p)
	switch {
	case err == nil:
	case errors.Is(err, indexer.ErrContentTooShort), errors.Is(err, indexer.ErrEmptyContent),
		errors.Is(err, indexer.ErrNoChunks), errors.Is(err, provider.ErrInvalidPath):
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, provider.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "document not found or could not be downloaded")
		return
	default:
		s.logger.Error("indexing failed", zap.String("path", p), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"message":     "document indexed",
		"document_id": res.DocumentID,
		"chunks":      res.Chunks,
		"persisted":   res.Persisted,
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	p, ok := s.documentPath(w, r)
	if !ok {
		return
	}
	id := pointid.DocumentID(p)
	n, err := s.indexer.DeleteDocument(r.Context(), id)
	if err != nil {
		s.logger.Error("deletion failed", zap.String("document_id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"document_id": id, "deleted": n})
}

func (s *Server) handleCheckIndexes(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string][]string{"indexes": s.store.ListDocumentIDs(r.Context())})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("top_k", query.TopK))
	response, err := s.engine.Answer(r.Context(), &query)
	if errors.Is(err, models.ErrEmptyQuery) {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

type syncRequest struct {
	Full bool `json:"full"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		s.respondError(w, http.StatusNotImplemented, "sync not enabled")
		return
	}
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rep, err := s.syncer.Run(r.Context(), req.Full)
	if errors.Is(err, syncer.ErrAlreadyRunning) {
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("sync failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, rep)
}

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

func (s *Server) handleSystemCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), systemCheckTimeout)
	defer cancel()
	results := map[string]componentStatus{}

	if err := s.provider.Check(ctx); err != nil {
		results["provider"] = componentStatus{Status: "error", Message: err.Error()}
	} else {
		results["provider"] = componentStatus{Status: "ok", Details: map[string]string{"name": s.provider.Name()}}
	}

	if err := s.store.Healthy(ctx); err != nil {
		results["vector_store"] = componentStatus{Status: "error", Message: err.Error()}
	} else {
		ids := s.store.ListDocumentIDs(ctx)
		results["vector_store"] = componentStatus{Status: "ok", Details: map[string]any{
			"collection":        s.store.Collection().Name,
			"dimensions":        s.store.Dimensions(),
			"indexed_documents": len(ids),
			"points":            s.store.Count(ctx),
			"breaker":           s.store.BreakerState().String(),
		}}
	}

	if s.generator == nil {
		results["llm"] = componentStatus{Status: "disabled"}
	} else if answer, err := s.generator.Generate(ctx, "What is 2+2?", ""); err != nil {
		results["llm"] = componentStatus{Status: "error", Message: err.Error()}
	} else {
		results["llm"] = componentStatus{Status: "ok", Details: map[string]string{"response": answer}}
	}
	s.respondJSON(w, http.StatusOK, results)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// documentPath returns the provider path from the route wildcard.
func (s *Server) documentPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := chi.URLParam(r, "*")
	p, err := url.PathUnescape(raw)
	if err != nil {
		p = raw
	}
	if strings.Trim(p, "/") == "" {
		s.respondError(w, http.StatusBadRequest, "document path is required")
		return "", false
	}
	return "/" + strings.TrimPrefix(p, "/"), true
}

func (s *Server) respondProviderError(w http.ResponseWriter, msg, p string, err error) {
	switch {
	case errors.Is(err, provider.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "document not found")
	case errors.Is(err, provider.ErrInvalidPath):
		s.respondError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error(msg, zap.String("path", p), zap.Error(err))
		s.respondError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
