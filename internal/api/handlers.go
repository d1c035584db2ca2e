package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/sift/internal/model"
	"github.com/sells-group/sift/internal/pipeline"
	"github.com/sells-group/sift/internal/store"
)

const (
	statusSuccess      = "success"
	statusError        = "error"
	statusLimitReached = "limit_reached"
)

// submitResponse is the envelope of POST /api/sift.
type submitResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    *model.Sift `json:"data,omitempty"`
}

type archiveRequest struct {
	ID     string `json:"id"`
	Action string `json:"action"`
	UserID string `json:"user_id"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		zap.L().Warn("api: health check failed", zap.Error(err))
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	if err := decodeBody(w, r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, submitResponse{Status: statusError, Message: "invalid request body"})
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		respondJSON(w, http.StatusBadRequest, submitResponse{Status: statusError, Message: "URL is required"})
		return
	}
	if req.UserID == "" {
		respondJSON(w, http.StatusBadRequest, submitResponse{Status: statusError, Message: "user_id is required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	sift, err := s.pipeline.Submit(ctx, req)
	if err != nil {
		status, body := submitError(err)
		if status >= http.StatusInternalServerError {
			zap.L().Error("api: submission failed", zap.String("url", req.URL), zap.Error(err))
		}
		respondJSON(w, status, body)
		return
	}
	respondJSON(w, http.StatusOK, submitResponse{Status: statusSuccess, Data: sift})
}

func submitError(err error) (int, submitResponse) {
	switch {
	case errors.Is(err, model.ErrInvalidURL):
		return http.StatusBadRequest, submitResponse{Status: statusError, Message: "invalid url"}
	case errors.Is(err, model.ErrInvalidRequest):
		return http.StatusBadRequest, submitResponse{Status: statusError, Message: "invalid request"}
	case errors.Is(err, model.ErrQuotaExceeded):
		return http.StatusTooManyRequests, submitResponse{Status: statusLimitReached, Message: "daily limit reached"}
	case errors.Is(err, model.ErrPersistenceFailed):
		return http.StatusInternalServerError, submitResponse{Status: statusError, Message: "could not save sift"}
	default:
		return http.StatusInternalServerError, submitResponse{Status: statusError, Message: "internal server error"}
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "Missing user_id")
		return
	}
	archived, _ := strconv.ParseBool(q.Get("archived"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	s.list(w, r, store.SiftFilter{UserID: userID, Archived: archived, Limit: limit, Offset: offset})
}

func (s *Server) handleListArchived(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "Missing user_id")
		return
	}
	s.list(w, r, store.SiftFilter{UserID: userID, Archived: true})
}

func (s *Server) list(w http.ResponseWriter, r *http.Request, f store.SiftFilter) {
	sifts, err := s.store.ListSifts(r.Context(), f)
	if err != nil {
		zap.L().Error("api: list sifts failed", zap.String("user_id", f.UserID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "could not list sifts")
		return
	}
	if sifts == nil {
		sifts = []model.Sift{}
	}
	respondJSON(w, http.StatusOK, sifts)
}

func (s *Server) handleSetArchived(w http.ResponseWriter, r *http.Request) {
	var req archiveRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID == "" || req.Action == "" || req.UserID == "" {
		respondError(w, http.StatusBadRequest, "Missing id, action, or user_id")
		return
	}

	var archived bool
	switch req.Action {
	case "archive":
		archived = true
	case "unarchive":
	default:
		respondError(w, http.StatusBadRequest, "action must be archive or unarchive")
		return
	}

	if err := s.store.SetArchived(r.Context(), req.ID, req.UserID, archived); err != nil {
		s.storeError(w, err, "set archived")
		return
	}
	sift, err := s.store.GetSift(r.Context(), req.ID, req.UserID)
	if err != nil {
		s.storeError(w, err, "get sift")
		return
	}
	respondJSON(w, http.StatusOK, sift)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id, userID := q.Get("id"), q.Get("user_id")
	if id == "" || userID == "" {
		respondError(w, http.StatusBadRequest, "Missing id or user_id")
		return
	}
	if err := s.store.DeleteSift(r.Context(), id, userID); err != nil {
		s.storeError(w, err, "delete sift")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sift, err := s.store.GetShared(r.Context(), id)
	if err != nil {
		s.storeError(w, err, "get shared sift")
		return
	}
	respondJSON(w, http.StatusOK, sift)
}

func (s *Server) storeError(w http.ResponseWriter, err error, op string) {
	if errors.Is(err, model.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Item not found or access denied")
		return
	}
	zap.L().Error("api: store call failed", zap.String("op", op), zap.Error(err))
	respondError(w, http.StatusInternalServerError, "internal server error")
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Debug("api: write response failed", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
