package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mailcron/internal/store"
	"mailcron/internal/tasks"
	"mailcron/internal/version"
)

// HealthCheck handles GET /api/v1/health
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: version.Version,
	})
}

// ListTasks handles GET /api/v1/tasks
func (s *Server) ListTasks(w http.ResponseWriter, r *http.Request) {
	list := s.svc.List(r.Context())
	s.jsonResponse(w, http.StatusOK, TaskListResponse{Tasks: list, Total: len(list)})
}

// CreateTask handles POST /api/v1/tasks
func (s *Server) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req tasks.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	created, err := s.svc.Create(r.Context(), req)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, created)
}

// GetTask handles GET /api/v1/tasks/{id}
func (s *Server) GetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, t)
}

// UpdateTask handles PATCH /api/v1/tasks/{id}
func (s *Server) UpdateTask(w http.ResponseWriter, r *http.Request) {
	var req tasks.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	updated, err := s.svc.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, updated)
}

// DeleteTask handles DELETE /api/v1/tasks/{id}
func (s *Server) DeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, SuccessResponse{
		Success: true,
		Message: "Task deleted",
	})
}

// PatchRecipients handles PATCH /api/v1/tasks/{id}/recipients
func (s *Server) PatchRecipients(w http.ResponseWriter, r *http.Request) {
	var req RecipientsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	updated, err := s.svc.ModifyRecipients(r.Context(), chi.URLParam(r, "id"), req.Action, req.Email)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, updated)
}

// SendNow handles POST /api/v1/tasks/{id}/send-now. A transport failure is
// already recorded on the task; it surfaces here as a 502 with the message.
func (s *Server) SendNow(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.SendNow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			s.errorResponse(w, http.StatusNotFound, "Task not found", nil)
		case errors.Is(err, tasks.ErrNoSMTP):
			s.errorResponse(w, http.StatusBadRequest, err.Error(), nil)
		default:
			s.errorResponse(w, http.StatusBadGateway, err.Error(), nil)
		}
		return
	}
	s.jsonResponse(w, http.StatusOK, SendNowResponse{OK: true, Task: t})
}

// serviceError maps service failures onto status codes.
func (s *Server) serviceError(w http.ResponseWriter, err error) {
	var verrs tasks.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		s.jsonResponse(w, http.StatusBadRequest, ValidationResponse{Errors: verrs})
	case errors.Is(err, store.ErrNotFound):
		s.errorResponse(w, http.StatusNotFound, "Task not found", nil)
	case errors.Is(err, store.ErrAlreadyExists):
		s.errorResponse(w, http.StatusConflict, "Task already exists", nil)
	default:
		s.errorResponse(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{
		Error: message,
	}
	if err != nil {
		resp.Details = err.Error()
	}
	s.jsonResponse(w, status, resp)
}
