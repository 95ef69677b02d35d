// Package web exposes the catalog and the activation flows over a JSON
// REST API. Authentication is delegated to Identity-Aware Proxy; the
// server trusts the identity header IAP injects.
package web

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"google.golang.org/grpc/status"

	"go.cloudsolutions.dev/jitaccess/internal/apierror"
	"go.cloudsolutions.dev/jitaccess/internal/catalog/project"
	"go.cloudsolutions.dev/jitaccess/internal/diagnostics"
)

// Server wires the HTTP surface to the catalog and activator.
type Server struct {
	catalog     *project.Catalog
	activator   *project.Activator
	diagnostics *diagnostics.Runner
	logger      *slog.Logger
}

func NewServer(
	catalog *project.Catalog,
	activator *project.Activator,
	runner *diagnostics.Runner,
	logger *slog.Logger,
) *Server {
	return &Server{
		catalog:     catalog,
		activator:   activator,
		diagnostics: runner,
		logger:      logger,
	}
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(s.logRequests)
	router.Use(middleware.Recoverer)

	router.Get("/healthz/alive", s.handleAlive)
	router.Get("/healthz/ready", s.handleReady)

	router.Route("/api", func(api chi.Router) {
		api.Use(s.authenticate)
		api.Use(countRequests)

		api.Get("/policy", s.handlePolicy)
		api.Get("/projects", s.handleListProjects)
		api.Route("/projects/{projectId}", func(r chi.Router) {
			r.Get("/roles", s.handleListRoles)
			r.Get("/peers", s.handleListPeers)
			r.Post("/roles/self-activate", s.handleSelfActivate)
			r.Post("/roles/request", s.handleRequestActivation)
		})
		api.Get("/activation-request", s.handleIntrospectActivation)
		api.Post("/activation-request", s.handleApproveActivation)
	})

	return router
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("failed to write response", "error", err)
	}
}

type errorResponse struct {
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apierror.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path, "error", err)
	}

	s.writeJSON(w, status, errorResponse{
		Message: messageOf(err),
		Reason:  apierror.Reason(err),
	})
}

func messageOf(err error) string {
	if s, ok := status.FromError(err); ok {
		return s.Message()
	}
	return err.Error()
}
