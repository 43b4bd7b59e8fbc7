package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/TrialConsent/internal/models"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// handle registers h under pattern and records its requests by route.
func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	route := pattern
	if i := strings.IndexByte(pattern, ' '); i >= 0 {
		route = pattern[i+1:]
	}
	mux.Handle(pattern, s.instrument(route, h))
}

func (s *Server) instrument(route string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		elapsed := time.Since(start)
		s.metrics.RecordHTTPRequest(r.Method, route, rec.status, elapsed)
		slog.Debug("Server.instrument: request served", "method", r.Method, "route", route, "status", rec.status, "elapsed", elapsed)
	})
}

func (s *Server) metricsHandler() http.HandlerFunc {
	h := promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
	return h.ServeHTTP
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]any{
		"form_sessions": s.ActiveFormSessions(),
		"chats":         s.chats.Len(),
	}))
}
