// Package api assembles the HTTP surfaces of the two services: the
// query side answers questions, the update side serves document CRUD,
// manual event intake, and pipeline introspection. Both share CORS,
// health, readiness, and metrics plumbing.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	log "github.com/sirupsen/logrus"

	"github.com/ragline/ragline/health"
)

// Origins the dashboard dev servers run on.
var allowedOrigins = []string{
	"http://localhost:5173",
	"http://localhost:3000",
	"http://localhost:5174",
}

func newRouter() *chi.Mux {
	var r = chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var start = time.Now()
		var ww = middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.WithFields(log.Fields{
			"method":  r.Method,
			"path":    r.URL.Path,
			"status":  ww.Status(),
			"tookMs":  time.Since(start).Seconds() * 1000,
			"request": middleware.GetReqID(r.Context()),
		}).Debug("served request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithField("err", err).Error("writing response")
	}
}

// writeDetail writes the error shape clients expect: {"detail": msg}.
func writeDetail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

// queryInt reads an integer query parameter, using |fallback| when the
// parameter is absent.
func queryInt(r *http.Request, name string, fallback int) (int, error) {
	var raw = r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

// healthBody shapes the health report with the responding service named.
func healthBody(service string, report health.Report) map[string]interface{} {
	return map[string]interface{}{
		"status":   report.Status,
		"service":  service,
		"services": report.Services,
	}
}

// readyBody flattens readiness into the service, the conjunction, and
// one boolean per probed dependency.
func readyBody(service string, ready bool, deps map[string]bool) map[string]interface{} {
	var body = map[string]interface{}{
		"service": service,
		"ready":   ready,
	}
	for name, ok := range deps {
		body[name] = ok
	}
	return body
}
