// Package api is the operational HTTP surface: health, runtime stats and
// Prometheus metrics. Chat traffic never goes through HTTP.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/caspian-yx/socket-chat-app/internal/db"
	"github.com/caspian-yx/socket-chat-app/internal/server"
)

type Server struct {
	router *chi.Mux
}

func NewServer(
	database *db.DB,
	registry *server.Registry,
	users *db.UserRepository,
	messages *db.MessageRepository,
	rooms *db.RoomRepository,
) *Server {
	healthHandler := NewHealthHandler(database)
	statsHandler := NewStatsHandler(registry, users, messages, rooms)

	r := chi.NewRouter()
	r.Use(slogRequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(httprate.LimitByIP(120, time.Minute))

	r.Get("/health", healthHandler.Check)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", statsHandler.Get)
	})

	return &Server{router: r}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"remote", r.RemoteAddr,
		)
	})
}
