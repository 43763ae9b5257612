package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ttommys/trainos/internal/store"
)

type fakeReader struct {
	sessions []store.Session
	notes    []store.DayNote
	plans    map[weekKey]store.WeeklyPlan
}

func (r *fakeReader) SessionsInRange(_ context.Context, start, end time.Time) ([]store.Session, error) {
	var out []store.Session
	for _, s := range r.sessions {
		if !s.Date.Before(start) && !s.Date.After(end) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeReader) DayNotesInRange(_ context.Context, start, end time.Time) ([]store.DayNote, error) {
	var out []store.DayNote
	for _, n := range r.notes {
		if !n.Date.Before(start) && !n.Date.After(end) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (r *fakeReader) DayNote(_ context.Context, day time.Time) (*store.DayNote, error) {
	for _, n := range r.notes {
		if n.Date.Equal(day) {
			note := n
			return &note, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *fakeReader) WeeklyPlan(_ context.Context, year, week int) (*store.WeeklyPlan, error) {
	if plan, ok := r.plans[weekKey{Year: year, Week: week}]; ok {
		return &plan, nil
	}
	return nil, store.ErrNotFound
}

func (r *fakeReader) SessionByID(_ context.Context, id int64) (*store.Session, error) {
	for _, s := range r.sessions {
		if s.ID == id {
			session := s
			return &session, nil
		}
	}
	return nil, store.ErrNotFound
}

func ptr[T any](v T) *T { return &v }

func session(t *testing.T, id int64, iso, typ string, duration int, distance float64, elevation int) store.Session {
	t.Helper()
	s := store.Session{
		ID:              id,
		Date:            date(t, iso),
		Type:            typ,
		DurationMinutes: duration,
	}
	if distance > 0 {
		s.DistanceKm = &distance
	}
	if elevation > 0 {
		s.ElevationGainM = &elevation
	}
	return s
}

func anchorWindow(t *testing.T, year, week int) Window {
	t.Helper()
	return ResolveWindow(WindowInput{AnchorYear: &year, AnchorWeek: &week}, date(t, "2026-06-01"))
}

func TestComputeTotals_TypeRules(t *testing.T) {
	sessions := []store.Session{
		session(t, 1, "2026-02-16", store.TypeRun, 60, 12.0, 100),
		session(t, 2, "2026-02-17", store.TypeTrail, 120, 18.5, 800),
		session(t, 3, "2026-02-18", store.TypeHike, 180, 9.0, 600),
		session(t, 4, "2026-02-19", store.TypeBike, 90, 40.0, 400),
		session(t, 5, "2026-02-20", store.TypeStrength, 45, 0, 0),
	}
	totals := ComputeTotals(sessions)

	assert.Equal(t, 5, totals.TotalSessions)
	assert.Equal(t, 495, totals.TotalDurationMinutes)
	// distance counts run + trail only
	assert.Equal(t, 30.5, totals.TotalDistanceKm)
	// elevation counts run + trail + hike
	assert.Equal(t, 1500, totals.TotalElevationGainM)
}

func TestBuildContext_TotalsIdenticalAcrossLevels(t *testing.T) {
	reader := &fakeReader{
		sessions: []store.Session{
			session(t, 1, "2026-02-16", store.TypeRun, 60, 12.0, 100),
			session(t, 2, "2026-02-18", store.TypeTrail, 120, 18.5, 800),
			session(t, 3, "2026-02-21", store.TypeBike, 90, 40.0, 400),
		},
	}
	window := anchorWindow(t, 2026, 8)

	out, err := NewService(reader).BuildContext(context.Background(), ContextRequest{
		Window:         window,
		Levels:         []string{LevelSession, LevelDay, LevelWeek, LevelMultiWeek, LevelBlock},
		MultiWeekCount: 4,
	})
	require.NoError(t, err)

	want := ComputeTotals(reader.sessions)

	var dayTotals Totals
	for _, day := range out.Levels.Day.Items {
		dayTotals.TotalSessions += day.Totals.TotalSessions
		dayTotals.TotalDurationMinutes += day.Totals.TotalDurationMinutes
		dayTotals.TotalDistanceKm += day.Totals.TotalDistanceKm
		dayTotals.TotalElevationGainM += day.Totals.TotalElevationGainM
	}
	dayTotals.TotalDistanceKm = Round3(dayTotals.TotalDistanceKm)
	assert.Equal(t, want, dayTotals)

	require.Len(t, out.Levels.Week.Items, 1)
	assert.Equal(t, want, out.Levels.Week.Items[0].Totals)
	assert.Equal(t, want, out.Levels.Block.Totals)
}

func TestBuildContext_WeekLevelAnchorScenario(t *testing.T) {
	reader := &fakeReader{
		sessions: []store.Session{
			session(t, 1, "2026-02-16", store.TypeRun, 60, 10.0, 0),
			session(t, 2, "2026-02-18", store.TypeRun, 45, 8.0, 0),
			session(t, 3, "2026-02-21", store.TypeTrail, 150, 20.0, 0),
		},
		plans: map[weekKey]store.WeeklyPlan{
			{Year: 2026, Week: 8}: {
				Year:           2026,
				WeekNumber:     8,
				Description:    "build week",
				TargetSessions: ptr(4),
			},
		},
	}
	window := anchorWindow(t, 2026, 8)
	require.Equal(t, "2026-02-16", window.StartDate.Format(store.DateLayout))
	require.Equal(t, "2026-02-22", window.EndDate.Format(store.DateLayout))

	out, err := NewService(reader).BuildContext(context.Background(), ContextRequest{
		Window: window,
		Levels: []string{LevelWeek},
	})
	require.NoError(t, err)

	require.Len(t, out.Levels.Week.Items, 1)
	entry := out.Levels.Week.Items[0]
	assert.Equal(t, 3, entry.SessionsCount)
	require.NotNil(t, entry.Plan)
	assert.Equal(t, "build week", entry.Plan.Description)
	require.NotNil(t, entry.PlanVsActual.Delta.Sessions)
	// delta.sessions == actual - target
	assert.Equal(t, 3-4, *entry.PlanVsActual.Delta.Sessions)
}

func TestBuildContext_WeekTotalsCoverFullWeek(t *testing.T) {
	reader := &fakeReader{
		sessions: []store.Session{
			session(t, 1, "2026-02-16", store.TypeRun, 60, 10.0, 0), // outside the window, same ISO week
			session(t, 2, "2026-02-18", store.TypeRun, 45, 8.0, 0),
		},
	}
	start := date(t, "2026-02-18")
	end := date(t, "2026-02-19")
	window := ResolveWindow(WindowInput{DateStart: &start, DateEnd: &end}, date(t, "2026-06-01"))

	out, err := NewService(reader).BuildContext(context.Background(), ContextRequest{
		Window: window,
		Levels: []string{LevelWeek},
	})
	require.NoError(t, err)

	require.Len(t, out.Levels.Week.Items, 1)
	entry := out.Levels.Week.Items[0]
	// totals span the full ISO week, sessions_count only the window slice
	assert.Equal(t, 2, entry.Totals.TotalSessions)
	assert.Equal(t, 1, entry.SessionsCount)
	assert.Equal(t, "2026-02-18", entry.DateStart)
	assert.Equal(t, "2026-02-19", entry.DateEnd)
}

func TestBuildContext_MultiWeekWindow(t *testing.T) {
	reader := &fakeReader{
		sessions: []store.Session{
			session(t, 1, "2026-01-28", store.TypeRun, 60, 10.0, 0), // W5
			session(t, 2, "2026-02-18", store.TypeRun, 45, 8.0, 0),  // W8
		},
	}
	out, err := NewService(reader).BuildContext(context.Background(), ContextRequest{
		Window:         anchorWindow(t, 2026, 8),
		Levels:         []string{LevelMultiWeek},
		MultiWeekCount: 4,
	})
	require.NoError(t, err)

	level := out.Levels.MultiWeek
	require.NotNil(t, level)
	assert.Equal(t, 4, level.Count)
	assert.Equal(t, "2026-01-26", level.Window.DateStart) // Monday of W5
	assert.Equal(t, "2026-02-22", level.Window.DateEnd)   // Sunday of W8
	require.Len(t, level.Items, 4)
	assert.Equal(t, 5, level.Items[0].WeekNumber)
	assert.Equal(t, 1, level.Items[0].Totals.TotalSessions)
	assert.Equal(t, 8, level.Items[3].WeekNumber)
	assert.Equal(t, 1, level.Items[3].Totals.TotalSessions)
}

func TestBuildContext_BlockTrendClipped(t *testing.T) {
	reader := &fakeReader{
		sessions: []store.Session{
			session(t, 1, "2026-02-16", store.TypeRun, 60, 10.0, 0), // W8, outside block
			session(t, 2, "2026-02-18", store.TypeRun, 45, 8.0, 0),  // W8, inside block
			session(t, 3, "2026-02-24", store.TypeRun, 30, 6.0, 0),  // W9, inside block
		},
		notes: []store.DayNote{
			{Date: date(t, "2026-02-18"), Note: "solid"},
			{Date: date(t, "2026-02-20"), Note: "   "},
		},
	}
	start := date(t, "2026-02-18")
	end := date(t, "2026-02-25")
	window := ResolveWindow(WindowInput{DateStart: &start, DateEnd: &end}, date(t, "2026-06-01"))

	out, err := NewService(reader).BuildContext(context.Background(), ContextRequest{
		Window: window,
		Levels: []string{LevelBlock},
	})
	require.NoError(t, err)

	block := out.Levels.Block
	require.NotNil(t, block)
	assert.Equal(t, 2, block.Totals.TotalSessions)
	// blank notes do not count
	assert.Equal(t, 1, block.DayNotesCount)
	require.Len(t, block.WeeklyTrend, 2)
	// the trend clips each week to the window
	assert.Equal(t, 45, block.WeeklyTrend[0].DurationMinutes)
	assert.Equal(t, 30, block.WeeklyTrend[1].DurationMinutes)
}

func TestBuildContext_EmptySingleDayWindow(t *testing.T) {
	reader := &fakeReader{}
	start := date(t, "2026-02-18")
	window := ResolveWindow(WindowInput{DateStart: &start, DateEnd: &start}, date(t, "2026-06-01"))

	out, err := NewService(reader).BuildContext(context.Background(), ContextRequest{
		Window:         window,
		Levels:         []string{LevelSession, LevelDay, LevelWeek, LevelMultiWeek, LevelBlock},
		MultiWeekCount: 2,
		IncludeSalient: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 0, out.Levels.Session.Count)
	require.Equal(t, 1, out.Levels.Day.Count)
	assert.Equal(t, Totals{}, out.Levels.Day.Items[0].Totals)
	assert.Equal(t, 1, out.Levels.Week.Count)
	assert.Equal(t, 2, out.Levels.MultiWeek.Count)
	assert.Equal(t, Totals{}, out.Levels.Block.Totals)
	assert.Empty(t, out.SalientSessions)
	assert.Equal(t, 0, out.SalientSessionsCount)
}

func TestBuildContext_SessionCap(t *testing.T) {
	reader := &fakeReader{
		sessions: []store.Session{
			session(t, 1, "2026-02-16", store.TypeRun, 30, 5, 0),
			session(t, 2, "2026-02-17", store.TypeRun, 30, 5, 0),
			session(t, 3, "2026-02-18", store.TypeRun, 30, 5, 0),
		},
	}
	out, err := NewService(reader).BuildContext(context.Background(), ContextRequest{
		Window:              anchorWindow(t, 2026, 8),
		Levels:              []string{LevelSession},
		MaxSessionsPerLevel: 2,
	})
	require.NoError(t, err)

	// count stays untruncated
	assert.Equal(t, 3, out.Levels.Session.Count)
	assert.Len(t, out.Levels.Session.Items, 2)
}

func TestSelectSalient(t *testing.T) {
	long := session(t, 1, "2026-02-16", store.TypeRun, 95, 10, 0)
	long.Notes = ptr("felt strong")
	hard := session(t, 2, "2026-02-17", store.TypeStrength, 30, 0, 0)
	hard.PerceivedIntensity = ptr(8)
	far := session(t, 3, "2026-02-18", store.TypeTrail, 80, 16, 0)
	plain := session(t, 4, "2026-02-19", store.TypeRun, 30, 5, 0)

	out := SelectSalient([]store.Session{long, hard, far, plain}, 15, 90)

	require.Len(t, out, 3)
	assert.ElementsMatch(t, []string{ReasonHasNote, ReasonLongDuration}, out[0].SalientReasons)
	assert.Equal(t, []string{ReasonHighIntensity}, out[1].SalientReasons)
	assert.Equal(t, []string{ReasonLongDistance}, out[2].SalientReasons)
}
