package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Nickostick/project-lift-off/internal/ingest"
	"github.com/Nickostick/project-lift-off/internal/metrics"
	"github.com/Nickostick/project-lift-off/internal/models"
	"github.com/Nickostick/project-lift-off/internal/session"
	"github.com/Nickostick/project-lift-off/internal/templates"
	"github.com/go-chi/chi/v5"
)

// Store is the read side of the durable store exposed over HTTP.
type Store interface {
	ListPersonalRecords(ctx context.Context, userID string) ([]models.PersonalRecord, error)
	QueryWorkoutLogs(ctx context.Context, userID string, start, end time.Time) ([]models.WorkoutLog, error)
	GetTrainingSummary(ctx context.Context, userID string, start, end time.Time, bucket string) ([]models.StrengthVolumeSummary, error)
	GetExerciseProgression(ctx context.Context, userID, exercise string, start, end time.Time) ([]models.ExerciseProgression, error)
	GetDataStats(ctx context.Context, userID string) (*models.DataStats, error)
	QueryImportLogs(ctx context.Context, userID string, limit int) ([]models.ImportLog, error)
}

// Importer ingests an exported training history.
type Importer interface {
	Ingest(ctx context.Context, r io.Reader, userID string) (*ingest.Result, error)
}

// Deps are the collaborators a Server routes to.
type Deps struct {
	// UserID owns every workout, record and level served here.
	UserID   string
	Session  *session.Controller
	Store    Store
	Catalog  *templates.Catalog
	Importer Importer
	Metrics  *metrics.Manager
	// APIKey guards the import endpoint. Empty rejects every import.
	APIKey string
	// Identity resolves the caller. Defaults to DevIdentity for UserID.
	Identity func(http.Handler) http.Handler
	Logger   *slog.Logger
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	userID   string
	session  *session.Controller
	store    Store
	catalog  *templates.Catalog
	importer Importer
	metrics  *metrics.Manager
	apiKey   string
	identity func(http.Handler) http.Handler
	log      *slog.Logger
	router   chi.Router
}

// New creates a new Server with all routes configured.
func New(d Deps) *Server {
	s := &Server{
		userID:   d.UserID,
		session:  d.Session,
		store:    d.Store,
		catalog:  d.Catalog,
		importer: d.Importer,
		metrics:  d.Metrics,
		apiKey:   d.APIKey,
		identity: d.Identity,
		log:      d.Logger,
		router:   chi.NewRouter(),
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.identity == nil {
		s.identity = DevIdentity(UserInfo{Login: d.UserID, DisplayName: d.UserID})
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(RequestLogging(s.log))
	s.router.Use(CORS)

	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler())
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.identity)

			r.Get("/me", s.handleMe)

			r.Route("/session", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Get("/events", s.handleSessionEvents)
				r.Post("/start", s.handleStartSession)
				r.Post("/refresh", s.handleRefreshSession)
				r.Post("/complete", s.handleCompleteSession)
				r.Post("/discard", s.handleDiscardSession)
				r.Post("/exercises", s.handleAddExercise)
				r.Delete("/exercises/{ex}", s.handleRemoveExercise)
				r.Post("/exercises/{ex}/sets", s.handleAddSet)
				r.Put("/exercises/{ex}/sets/{set}", s.handleUpdateSet)
				r.Delete("/exercises/{ex}/sets/{set}", s.handleRemoveSet)
			})

			r.Route("/level", func(r chi.Router) {
				r.Get("/", s.handleGetLevel)
				r.Get("/events", s.handleLevelEvents)
				r.Post("/ack", s.handleAcknowledgeLevelUp)
			})

			r.Get("/templates", s.handleListTemplates)
			r.Get("/records", s.handleListRecords)
			r.Get("/logs", s.handleQueryLogs)
			r.Get("/summary", s.handleTrainingSummary)
			r.Get("/progression", s.handleExerciseProgression)
			r.Get("/stats", s.handleStats)
			r.Get("/imports", s.handleImportLogs)
		})

		// History import (API key required)
		r.Group(func(r chi.Router) {
			r.Use(APIKeyAuth(s.apiKey))
			r.Post("/import/alpha", s.handleAlphaImport)
		})
	})
}
