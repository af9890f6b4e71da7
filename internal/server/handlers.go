package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Nickostick/project-lift-off/internal/models"
	"github.com/Nickostick/project-lift-off/internal/session"
	"github.com/Nickostick/project-lift-off/internal/templates"
	"github.com/go-chi/chi/v5"
)

const (
	defaultImportLogs = 50
	maxImportLogs     = 500
)

// startRequest starts a session from a template day, or a blank one when
// ProgramID is empty.
type startRequest struct {
	ProgramID string `json:"program_id"`
	Day       string `json:"day"`
	Label     string `json:"label"`
}

type updateSetRequest struct {
	Reps      int     `json:"reps"`
	Weight    float64 `json:"weight"`
	Completed bool    `json:"completed"`
}

// mutationResponse reports whether an edit took effect. Edits that don't
// apply (bad index, no active workout) are not errors.
type mutationResponse struct {
	Applied bool             `json:"applied"`
	Session session.Snapshot `json:"session"`
}

type completionFailure struct {
	Error     string `json:"error"`
	Stage     string `json:"stage"`
	Retryable bool   `json:"retryable"`
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userInfoFromContext(r))
}

func (s *Server) handleGetSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeBody(w, r, &req) {
		return
	}

	src := session.Blank(req.Label)
	if req.ProgramID != "" {
		day, err := s.catalog.Day(req.ProgramID, req.Day)
		if errors.Is(err, templates.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		src = session.FromTemplate(req.ProgramID, day)
		src.DayName = req.Label
	}

	if s.session.Start(r.Context(), src) == nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "a workout is being completed"})
		return
	}
	writeJSON(w, http.StatusCreated, s.session.Snapshot())
}

func (s *Server) handleRefreshSession(w http.ResponseWriter, _ *http.Request) {
	s.session.RefreshElapsed()
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleCompleteSession(w http.ResponseWriter, r *http.Request) {
	res, err := s.session.Complete(r.Context())
	var cerr *session.CompletionError
	switch {
	case errors.As(err, &cerr):
		writeJSON(w, http.StatusBadGateway, completionFailure{
			Error:     cerr.Error(),
			Stage:     cerr.Stage,
			Retryable: true,
		})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	case res == nil:
		writeJSON(w, http.StatusConflict, map[string]string{"error": "no active workout to complete"})
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleDiscardSession(w http.ResponseWriter, _ *http.Request) {
	s.writeMutation(w, s.session.Discard())
}

func (s *Server) handleAddExercise(w http.ResponseWriter, r *http.Request) {
	var req models.TemplateExercise
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Reps < 0 || req.Weight < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reps and weight must not be negative"})
		return
	}
	s.writeMutation(w, s.session.AddExercise(session.NewExercise(req)))
}

func (s *Server) handleRemoveExercise(w http.ResponseWriter, r *http.Request) {
	ex, ok := pathIndex(w, r, "ex")
	if !ok {
		return
	}
	s.writeMutation(w, s.session.RemoveExercise(ex))
}

func (s *Server) handleAddSet(w http.ResponseWriter, r *http.Request) {
	ex, ok := pathIndex(w, r, "ex")
	if !ok {
		return
	}
	s.writeMutation(w, s.session.AddSet(ex))
}

func (s *Server) handleUpdateSet(w http.ResponseWriter, r *http.Request) {
	ex, ok := pathIndex(w, r, "ex")
	if !ok {
		return
	}
	set, ok := pathIndex(w, r, "set")
	if !ok {
		return
	}
	var req updateSetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.writeMutation(w, s.session.UpdateSet(ex, set, req.Reps, req.Weight, req.Completed))
}

func (s *Server) handleRemoveSet(w http.ResponseWriter, r *http.Request) {
	ex, ok := pathIndex(w, r, "ex")
	if !ok {
		return
	}
	set, ok := pathIndex(w, r, "set")
	if !ok {
		return
	}
	s.writeMutation(w, s.session.RemoveSet(ex, set))
}

func (s *Server) handleGetLevel(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Level())
}

func (s *Server) handleAcknowledgeLevelUp(w http.ResponseWriter, _ *http.Request) {
	acked := s.session.AcknowledgeLevelUp()
	writeJSON(w, http.StatusOK, map[string]any{
		"acknowledged": acked,
		"level":        s.session.Level(),
	})
}

func (s *Server) handleListTemplates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog.List())
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListPersonalRecords(r.Context(), s.userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if recs == nil {
		recs = []models.PersonalRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleQueryLogs(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseTimeRange(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	logs, err := s.store.QueryWorkoutLogs(r.Context(), s.userID, start, end)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if logs == nil {
		logs = []models.WorkoutLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleTrainingSummary(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseTimeRange(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	var bucket string
	switch r.URL.Query().Get("bucket") {
	case "week":
		bucket = "1 week"
	case "", "month":
		bucket = "1 month"
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bucket must be week or month"})
		return
	}

	rows, err := s.store.GetTrainingSummary(r.Context(), s.userID, start, end, bucket)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if rows == nil {
		rows = []models.StrengthVolumeSummary{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleExerciseProgression(w http.ResponseWriter, r *http.Request) {
	exercise := r.URL.Query().Get("exercise")
	if exercise == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "exercise parameter required"})
		return
	}
	start, end, err := parseTimeRange(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	rows, err := s.store.GetExerciseProgression(r.Context(), s.userID, exercise, start, end)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if rows == nil {
		rows = []models.ExerciseProgression{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetDataStats(r.Context(), s.userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleImportLogs lists recent imports, newest first. limit defaults to
// defaultImportLogs and is capped at maxImportLogs.
func (s *Server) handleImportLogs(w http.ResponseWriter, r *http.Request) {
	limit := defaultImportLogs
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxImportLogs)
	}

	logs, err := s.store.QueryImportLogs(r.Context(), s.userID, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if logs == nil {
		logs = []models.ImportLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleAlphaImport(w http.ResponseWriter, r *http.Request) {
	result, err := s.importer.Ingest(r.Context(), r.Body, s.userID)
	if err != nil {
		s.log.Error("alpha import error", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) writeMutation(w http.ResponseWriter, applied bool) {
	writeJSON(w, http.StatusOK, mutationResponse{Applied: applied, Session: s.session.Snapshot()})
}

// pathIndex parses an integer URL parameter. Range checks are left to the
// controller, which ignores out-of-range edits.
func pathIndex(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid " + name + " index"})
		return 0, false
	}
	return n, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return false
	}
	return true
}

// parseTimeRange extracts start/end from query params. Defaults to the last
// 30 days. Accepts RFC3339 or 2006-01-02; a date-only end covers that day.
func parseTimeRange(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	start := now.AddDate(0, 0, -30)
	end := now

	if s := r.URL.Query().Get("start"); s != "" {
		t, err := parseTimeParam(s)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start time: %w", err)
		}
		start = t
	}

	if e := r.URL.Query().Get("end"); e != "" {
		t, err := parseTimeParam(e)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end time: %w", err)
		}
		if len(e) == len("2006-01-02") {
			t = t.Add(24 * time.Hour)
		}
		end = t
	}

	if !start.Before(end) {
		return time.Time{}, time.Time{}, errors.New("start must be before end")
	}
	return start, end, nil
}

func parseTimeParam(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
