package web

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"go.cloudsolutions.dev/jitaccess/internal/apierror"
	"go.cloudsolutions.dev/jitaccess/internal/auth"
)

// iapIdentityHeader carries the authenticated user, injected by
// Identity-Aware Proxy as "accounts.google.com:user@example.com".
const iapIdentityHeader = "X-Goog-Authenticated-User-Email"

type principalKey struct{}

// principal returns the authenticated user stored by the authentication
// middleware.
func principal(ctx context.Context) auth.UserID {
	user, _ := ctx.Value(principalKey{}).(auth.UserID)
	return user
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(iapIdentityHeader)
		email, found := strings.CutPrefix(header, "accounts.google.com:")
		if !found || email == "" {
			s.writeError(w, r, apierror.NotAuthenticated(
				"the request lacks a verified identity").Err())
			return
		}

		ctx := context.WithValue(r.Context(), principalKey{}, auth.UserID{Email: email})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

var requestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "jitaccess_api_requests_total",
		Help: "API requests by method, route, and response status.",
	},
	[]string{"method", "route", "status"},
)

func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(recorder, r)

		route := "unmatched"
		if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
			if pattern := routeCtx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		requestsTotal.WithLabelValues(
			r.Method, route, strconv.Itoa(recorder.Status())).Inc()
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		recorder := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(recorder, r)

		s.logger.InfoContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.Status(),
			"duration", time.Since(started),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
