package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"tradeguard/internal/notify"
	"tradeguard/internal/observability"
	"tradeguard/internal/stream"
)

// Backend is what the HTTP surface reads from and acts on.
type Backend interface {
	Notifications() []notify.Notification
	Dismiss(ctx context.Context, id string) (notify.Notification, bool)
	StreamState() stream.State
	LatestMessage() (stream.Message, bool)
}

// Server exposes the notification list, dismissal, stream status and ops endpoints.
type Server struct {
	httpServer *http.Server
	backend    Backend
	logger     zerolog.Logger
}

// NewServer builds the router and the underlying http.Server.
func NewServer(addr string, backend Backend, metrics *observability.Metrics, logger zerolog.Logger) *Server {
	s := &Server{
		backend: backend,
		logger:  logger.With().Str("component", "http").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(api chi.Router) {
		api.Get("/notifications", s.handleListNotifications)
		api.Delete("/notifications/{id}", s.handleDismiss)
		api.Get("/stream", s.handleStream)
	})

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http server starting")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type notificationView struct {
	notify.Notification
	SeverityPercent string `json:"severity_percent"`
}

type notificationList struct {
	Count         int                `json:"count"`
	Notifications []notificationView `json:"notifications"`
}

type dismissResponse struct {
	ID        string `json:"id"`
	Dismissed bool   `json:"dismissed"`
}

type streamStatus struct {
	State  string          `json:"state"`
	Latest *stream.Message `json:"latest"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	state := s.backend.StreamState()
	if state != stream.Connected {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"stream": state.String(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "stream": state.String()})
}

func (s *Server) handleListNotifications(w http.ResponseWriter, _ *http.Request) {
	notes := s.backend.Notifications()
	views := make([]notificationView, 0, len(notes))
	for _, n := range notes {
		views = append(views, notificationView{Notification: n, SeverityPercent: n.SeverityPercent()})
	}
	writeJSON(w, http.StatusOK, notificationList{Count: len(views), Notifications: views})
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	_, ok := s.backend.Dismiss(r.Context(), id)
	writeJSON(w, http.StatusOK, dismissResponse{ID: id, Dismissed: ok})
}

func (s *Server) handleStream(w http.ResponseWriter, _ *http.Request) {
	status := streamStatus{State: s.backend.StreamState().String()}
	if msg, ok := s.backend.LatestMessage(); ok {
		status.Latest = &msg
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
