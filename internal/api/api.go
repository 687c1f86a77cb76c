// Package api is the HTTP front of the task service. Authentication and
// the browser UI live outside this repository.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"mailcron/internal/tasks"
)

// Server represents the API server
type Server struct {
	svc    *tasks.Service
	router chi.Router
}

// NewServer creates a new API server
func NewServer(svc *tasks.Service) *Server {
	s := &Server{
		svc:    svc,
		router: chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CORS)

	r.Get("/api/v1/health", s.HealthCheck)

	// Tasks
	r.Get("/api/v1/tasks", s.ListTasks)
	r.Post("/api/v1/tasks", s.CreateTask)
	r.Get("/api/v1/tasks/{id}", s.GetTask)
	r.Patch("/api/v1/tasks/{id}", s.UpdateTask)
	r.Delete("/api/v1/tasks/{id}", s.DeleteTask)
	r.Patch("/api/v1/tasks/{id}/recipients", s.PatchRecipients)
	r.Post("/api/v1/tasks/{id}/send-now", s.SendNow)
}

// Router returns the chi router for use with http.Server
func (s *Server) Router() http.Handler {
	return s.router
}

// CORS allows any origin; the API carries no cookies or credentials.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
