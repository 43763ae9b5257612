package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ttommys/trainos/internal/interpret"
	"github.com/ttommys/trainos/internal/query"
	"github.com/ttommys/trainos/internal/store"
)

func (s *Server) handleInterpret(w http.ResponseWriter, r *http.Request) {
	var req interpret.Request
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	resp, err := s.interpreter.Interpret(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	start, end, err := rangeParams(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	sessions, err := s.store.SessionsInRange(r.Context(), start, end)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var sess store.Session
	if err := decodeBody(r, &sess); err != nil {
		s.writeError(w, err)
		return
	}
	if err := validateSession(sess); err != nil {
		s.writeError(w, err)
		return
	}
	created, err := s.store.CreateSession(r.Context(), sess)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var sess store.Session
	if err := decodeBody(r, &sess); err != nil {
		s.writeError(w, err)
		return
	}
	if err := validateSession(sess); err != nil {
		s.writeError(w, err)
		return
	}
	updated, err := s.store.UpdateSession(r.Context(), id, sess)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.store.DeleteSession(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListDayNotes(w http.ResponseWriter, r *http.Request) {
	start, end, err := rangeParams(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	notes, err := s.store.DayNotesInRange(r.Context(), start, end)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

func (s *Server) handleUpsertDayNote(w http.ResponseWriter, r *http.Request) {
	var note store.DayNote
	if err := decodeBody(r, &note); err != nil {
		s.writeError(w, err)
		return
	}
	if note.Date.IsZero() {
		s.writeError(w, &interpret.RequestError{Reason: "date is required"})
		return
	}
	saved, err := s.store.UpsertDayNote(r.Context(), note)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleUpsertPlan(w http.ResponseWriter, r *http.Request) {
	var plan store.WeeklyPlan
	if err := decodeBody(r, &plan); err != nil {
		s.writeError(w, err)
		return
	}
	if plan.Year < 1 || plan.WeekNumber < 1 || plan.WeekNumber > 53 {
		s.writeError(w, &interpret.RequestError{Reason: "year and week_number (1-53) are required"})
		return
	}
	saved, err := s.store.UpsertWeeklyPlan(r.Context(), plan)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	year, week, err := yearWeekParams(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	plan, err := s.store.WeeklyPlan(r.Context(), year, week)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleWeekSummary(w http.ResponseWriter, r *http.Request) {
	year, week, err := yearWeekParams(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	window := query.ResolveWindow(query.WindowInput{AnchorYear: &year, AnchorWeek: &week}, time.Now().UTC())
	aggregate, err := query.NewService(s.store).BuildContext(r.Context(), query.ContextRequest{
		Window:                 window,
		Levels:                 []string{query.LevelWeek},
		MaxSessionsPerLevel:    interpret.DefaultMaxSessionsPerLevel,
		MultiWeekCount:         interpret.DefaultMultiWeekCount,
		IncludeSalient:         true,
		SalientDistanceKm:      interpret.DefaultSalientDistanceKm,
		SalientDurationMinutes: interpret.DefaultSalientDurationMin,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, aggregate)
}

func validateSession(sess store.Session) error {
	if sess.Date.IsZero() {
		return &interpret.RequestError{Reason: "date is required"}
	}
	if !store.ValidSessionType(sess.Type) {
		return &interpret.RequestError{Reason: "unknown session type " + strconv.Quote(sess.Type)}
	}
	if sess.DurationMinutes < 0 {
		return &interpret.RequestError{Reason: "duration_minutes must not be negative"}
	}
	return nil
}

func rangeParams(r *http.Request) (time.Time, time.Time, error) {
	start, err := dateParam(r, "date_start")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := dateParam(r, "date_end")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if end.Before(start) {
		start, end = end, start
	}
	return start, end, nil
}

func dateParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, &interpret.RequestError{Reason: name + " is required"}
	}
	day, err := store.ParseDate(raw)
	if err != nil {
		return time.Time{}, &interpret.RequestError{Reason: name + " must be YYYY-MM-DD"}
	}
	return day, nil
}

func yearWeekParams(r *http.Request) (int, int, error) {
	year, err := strconv.Atoi(r.PathValue("year"))
	if err != nil || year < 1 {
		return 0, 0, &interpret.RequestError{Reason: "year must be a positive integer"}
	}
	week, err := strconv.Atoi(r.PathValue("week"))
	if err != nil || week < 1 || week > 53 {
		return 0, 0, &interpret.RequestError{Reason: "week must be between 1 and 53"}
	}
	return year, week, nil
}

func pathInt64(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id < 1 {
		return 0, &interpret.RequestError{Reason: name + " must be a positive integer"}
	}
	return id, nil
}
