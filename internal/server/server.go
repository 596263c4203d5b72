package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gustavoprado11/kinevo-2.0-sub002/internal/models"
	"github.com/gustavoprado11/kinevo-2.0-sub002/internal/session"
	"github.com/gustavoprado11/kinevo-2.0-sub002/internal/watch"
)

// WatchService is the sync core the admin API drives. session.Service
// satisfies it.
type WatchService interface {
	NextWorkout(ctx context.Context) *watch.WorkoutSnapshot
	RefreshWatch(ctx context.Context) (*watch.WorkoutSnapshot, error)
	Status() session.Status
}

// SessionHistory lists recorded workout sessions. storage.DB satisfies it.
type SessionHistory interface {
	GetStudent(ctx context.Context, userID string) (*watch.Student, error)
	RecentSessions(ctx context.Context, studentID string, limit int) ([]models.WorkoutSessionRow, error)
}

// Pinger reports database health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the components behind the HTTP API.
type Deps struct {
	Watch   WatchService
	Bridge  watch.Bridge
	History SessionHistory
	DB      Pinger
	// Link accepts the companion's WebSocket connection.
	Link   http.Handler
	UserID string
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	deps   Deps
	log    *slog.Logger
	apiKey string
	whois  WhoIser
	router chi.Router
}

// New creates a new Server with all routes configured.
func New(deps Deps, apiKey string, log *slog.Logger) *Server {
	s := &Server{
		deps:   deps,
		log:    log,
		apiKey: apiKey,
		router: chi.NewRouter(),
	}
	s.routes()
	return s
}

// SetTailscale enables tailnet identity lookups for the companion link.
func (s *Server) SetTailscale(whois WhoIser) {
	s.whois = whois
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(RequestLogging(s.log))
	s.router.Use(CORS)

	s.router.Get("/healthz", s.handleHealth)

	// Admin endpoints (API key required)
	s.router.Route("/api/v1/watch", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(APIKeyAuth(s.apiKey))
			r.Get("/next-workout", s.handleNextWorkout)
			r.Post("/push", s.handlePush)
			r.Get("/status", s.handleStatus)
			r.Get("/sessions", s.handleSessions)
			r.Get("/debug-logs", s.handleDebugLogs)
			r.Delete("/debug-logs", s.handleClearDebugLogs)
		})

		// Companion link (no API key; tsnet handles access)
		r.With(s.tailnetIdentity).Get("/ws", s.handleWatchLink)
	})
}
