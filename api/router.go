package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// Router wires every handler onto one mux.
type Router struct {
	Projects *ProjectHandler
	Domains  *DomainHandler
	Auth     *AuthHandler
	Guard    mux.MiddlewareFunc // bearer token check
	Logger   *slog.Logger
}

// Handler builds the HTTP handler.
func (rt Router) Handler() http.Handler {
	router := mux.NewRouter()
	guard := rt.Guard
	if guard == nil {
		guard = func(h http.Handler) http.Handler { return h }
	}

	router.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, rt.Logger, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	if rt.Auth != nil {
		rt.Auth.RegisterAuthHandlers(router)
	}
	if rt.Projects != nil {
		rt.Projects.RegisterProjectHandlers(router, guard)
	}
	if rt.Domains != nil {
		rt.Domains.RegisterDomainHandlers(router, guard)
	}

	router.Use(rt.loggingMiddleware)
	return router
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs incoming requests
func (rt Router) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		rt.Logger.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}
