package query

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ttommys/trainos/internal/store"
)

// Aggregation levels.
const (
	LevelSession   = "session"
	LevelDay       = "day"
	LevelWeek      = "week"
	LevelMultiWeek = "multi_week"
	LevelBlock     = "block"
)

var knownLevels = map[string]bool{
	LevelSession:   true,
	LevelDay:       true,
	LevelWeek:      true,
	LevelMultiWeek: true,
	LevelBlock:     true,
}

// ValidLevel reports whether level is one of the five aggregation levels.
func ValidLevel(level string) bool {
	return knownLevels[level]
}

// Reader is the read-only slice of the record store the aggregation core
// consumes.
type Reader interface {
	SessionsInRange(ctx context.Context, start, end time.Time) ([]store.Session, error)
	DayNotesInRange(ctx context.Context, start, end time.Time) ([]store.DayNote, error)
	DayNote(ctx context.Context, day time.Time) (*store.DayNote, error)
	WeeklyPlan(ctx context.Context, year, week int) (*store.WeeklyPlan, error)
	SessionByID(ctx context.Context, id int64) (*store.Session, error)
}

// ContextRequest selects what BuildContext aggregates.
type ContextRequest struct {
	Window                 Window
	Levels                 []string
	MaxSessionsPerLevel    int
	MultiWeekCount         int
	IncludeSalient         bool
	SalientDistanceKm      float64
	SalientDurationMinutes int
}

// Totals are the shared aggregate semantics used at every level: duration
// sums all sessions, distance sums run and trail sessions, elevation sums
// run, trail and hike sessions.
type Totals struct {
	TotalSessions        int     `json:"total_sessions"`
	TotalDurationMinutes int     `json:"total_duration_minutes"`
	TotalDistanceKm      float64 `json:"total_distance_km"`
	TotalElevationGainM  int     `json:"total_elevation_gain_m"`
}

// ComputeTotals computes Totals over a session list, distance rounded to
// three decimals.
func ComputeTotals(sessions []store.Session) Totals {
	t := Totals{TotalSessions: len(sessions)}
	var distance float64
	for _, s := range sessions {
		t.TotalDurationMinutes += s.DurationMinutes
		if s.Type == store.TypeRun || s.Type == store.TypeTrail {
			distance += s.Distance()
		}
		if s.Type == store.TypeRun || s.Type == store.TypeTrail || s.Type == store.TypeHike {
			t.TotalElevationGainM += s.Elevation()
		}
	}
	t.TotalDistanceKm = Round3(distance)
	return t
}

// Round3 rounds to three decimal places.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// Round1 rounds to one decimal place.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// SessionItem is the full per-session payload exposed to the model.
type SessionItem struct {
	ID                     int64    `json:"id"`
	Date                   string   `json:"date"`
	StartTime              *string  `json:"start_time"`
	Type                   string   `json:"type"`
	DurationMinutes        int      `json:"duration_minutes"`
	MovingDurationMinutes  *int     `json:"moving_duration_minutes"`
	ElapsedDurationMinutes *int     `json:"elapsed_duration_minutes"`
	DistanceKm             *float64 `json:"distance_km"`
	ElevationGainM         *int     `json:"elevation_gain_m"`
	AveragePaceMinPerKm    *float64 `json:"average_pace_min_per_km"`
	AverageHeartRateBpm    *float64 `json:"average_heart_rate_bpm"`
	MaxHeartRateBpm        *float64 `json:"max_heart_rate_bpm"`
	PerceivedIntensity     *int     `json:"perceived_intensity"`
	HasNotes               bool     `json:"has_notes"`
	Notes                  *string  `json:"notes"`
	ExternalID             *string  `json:"external_id"`
}

// NewSessionItem converts a stored session to its payload form.
func NewSessionItem(s store.Session) SessionItem {
	var startTime *string
	if s.StartTime != nil {
		v := s.StartTime.UTC().Format(time.RFC3339)
		startTime = &v
	}
	return SessionItem{
		ID:                     s.ID,
		Date:                   s.DateISO(),
		StartTime:              startTime,
		Type:                   s.Type,
		DurationMinutes:        s.DurationMinutes,
		MovingDurationMinutes:  s.MovingDurationMinutes,
		ElapsedDurationMinutes: s.ElapsedDurationMinutes,
		DistanceKm:             s.DistanceKm,
		ElevationGainM:         s.ElevationGainM,
		AveragePaceMinPerKm:    s.AveragePaceMinPerKm,
		AverageHeartRateBpm:    s.AverageHeartRateBpm,
		MaxHeartRateBpm:        s.MaxHeartRateBpm,
		PerceivedIntensity:     s.PerceivedIntensity,
		HasNotes:               s.HasNotes(),
		Notes:                  s.Notes,
		ExternalID:             s.ExternalID,
	}
}

// SalientSession is a session flagged as noteworthy, with the reasons.
type SalientSession struct {
	SessionItem
	SalientReasons []string `json:"salient_reasons"`
}

// PlanInfo is the weekly plan payload.
type PlanInfo struct {
	Year             int      `json:"year"`
	WeekNumber       int      `json:"week_number"`
	Description      string   `json:"description"`
	TargetDistanceKm *float64 `json:"target_distance_km"`
	TargetSessions   *int     `json:"target_sessions"`
	Tags             *string  `json:"tags"`
}

// PlanVsActual compares a week's totals against its plan targets. Delta
// fields are nil where the plan sets no target.
type PlanVsActual struct {
	Actual struct {
		Sessions        int     `json:"sessions"`
		DistanceKm      float64 `json:"distance_km"`
		DurationMinutes int     `json:"duration_minutes"`
		ElevationGainM  int     `json:"elevation_gain_m"`
	} `json:"actual"`
	Targets struct {
		Sessions   *int     `json:"sessions"`
		DistanceKm *float64 `json:"distance_km"`
	} `json:"targets"`
	Delta struct {
		Sessions   *int     `json:"sessions"`
		DistanceKm *float64 `json:"distance_km"`
	} `json:"delta"`
}

// SessionLevel is the session-resolution payload; Count is the untruncated
// total even when Items is capped.
type SessionLevel struct {
	Count int           `json:"count"`
	Items []SessionItem `json:"items"`
}

// DayEntry is one calendar day with its note, sessions and totals. Days
// with no sessions still appear with zero totals.
type DayEntry struct {
	Date     string        `json:"date"`
	DayNote  *string       `json:"day_note"`
	Sessions []SessionItem `json:"sessions"`
	Totals   Totals        `json:"totals"`
}

// DayLevel is the per-day payload.
type DayLevel struct {
	Count int        `json:"count"`
	Items []DayEntry `json:"items"`
}

// WeekEntry is one ISO week intersecting the window. Totals and the plan
// comparison cover the full ISO week; SessionsCount covers only the part of
// the week inside the window.
type WeekEntry struct {
	Year          int          `json:"year"`
	WeekNumber    int          `json:"week_number"`
	DateStart     string       `json:"date_start"`
	DateEnd       string       `json:"date_end"`
	Plan          *PlanInfo    `json:"plan"`
	Totals        Totals       `json:"totals"`
	PlanVsActual  PlanVsActual `json:"plan_vs_actual"`
	SessionsCount int          `json:"sessions_count"`
}

// WeekLevel is the per-ISO-week payload.
type WeekLevel struct {
	Count int         `json:"count"`
	Items []WeekEntry `json:"items"`
}

// MultiWeekEntry is one trailing ISO week with totals and plan comparison.
type MultiWeekEntry struct {
	Year         int          `json:"year"`
	WeekNumber   int          `json:"week_number"`
	Totals       Totals       `json:"totals"`
	PlanVsActual PlanVsActual `json:"plan_vs_actual"`
}

// MultiWeekLevel is the trailing-weeks payload ending at the anchor week.
type MultiWeekLevel struct {
	Count  int              `json:"count"`
	Window RangeISO         `json:"window"`
	Items  []MultiWeekEntry `json:"items"`
}

// RangeISO is an inclusive ISO date range.
type RangeISO struct {
	DateStart string `json:"date_start"`
	DateEnd   string `json:"date_end"`
}

// WeekTrendPoint is one week of the block-level trend series.
type WeekTrendPoint struct {
	Year            int     `json:"year"`
	WeekNumber      int     `json:"week_number"`
	DistanceKm      float64 `json:"distance_km"`
	DurationMinutes int     `json:"duration_minutes"`
}

// BlockLevel is the whole-window payload.
type BlockLevel struct {
	DateStart     string           `json:"date_start"`
	DateEnd       string           `json:"date_end"`
	Totals        Totals           `json:"totals"`
	DayNotesCount int              `json:"day_notes_count"`
	WeeklyTrend   []WeekTrendPoint `json:"weekly_trend"`
}

// Levels carries the requested level payloads; absent levels are nil and
// omitted from JSON.
type Levels struct {
	Session   *SessionLevel   `json:"session,omitempty"`
	Day       *DayLevel       `json:"day,omitempty"`
	Week      *WeekLevel      `json:"week,omitempty"`
	MultiWeek *MultiWeekLevel `json:"multi_week,omitempty"`
	Block     *BlockLevel     `json:"block,omitempty"`
}

// WindowMeta describes the resolved window in the context meta block.
type WindowMeta struct {
	DateStart  string `json:"date_start"`
	DateEnd    string `json:"date_end"`
	AnchorYear int    `json:"anchor_year"`
	AnchorWeek int    `json:"anchor_week"`
}

// Meta is the context meta block.
type Meta struct {
	GeneratedAtUTC string     `json:"generated_at_utc"`
	Window         WindowMeta `json:"window"`
	Levels         []string   `json:"levels"`
}

// Context is the full multi-resolution aggregate handed to the model.
type Context struct {
	Meta                 Meta             `json:"meta"`
	Levels               Levels           `json:"levels"`
	SalientSessions      []SalientSession `json:"salient_sessions"`
	SalientSessionsCount int              `json:"salient_sessions_count"`
}

// Service builds multi-resolution context from the record store.
type Service struct {
	reader Reader
}

// NewService wraps a store reader.
func NewService(reader Reader) *Service {
	return &Service{reader: reader}
}

// BuildContext aggregates the requested levels over the request window.
func (s *Service) BuildContext(ctx context.Context, req ContextRequest) (*Context, error) {
	window := req.Window
	sessions, err := s.reader.SessionsInRange(ctx, window.StartDate, window.EndDate)
	if err != nil {
		return nil, fmt.Errorf("load window sessions: %w", err)
	}
	dayNotes, err := s.reader.DayNotesInRange(ctx, window.StartDate, window.EndDate)
	if err != nil {
		return nil, fmt.Errorf("load window day notes: %w", err)
	}

	out := &Context{
		Meta: Meta{
			GeneratedAtUTC: time.Now().UTC().Format(time.RFC3339),
			Window: WindowMeta{
				DateStart:  window.StartDate.Format(store.DateLayout),
				DateEnd:    window.EndDate.Format(store.DateLayout),
				AnchorYear: window.AnchorYear,
				AnchorWeek: window.AnchorWeek,
			},
			Levels: req.Levels,
		},
		SalientSessions: []SalientSession{},
	}

	requested := map[string]bool{}
	for _, level := range req.Levels {
		requested[level] = true
	}

	if requested[LevelSession] {
		out.Levels.Session = buildSessionLevel(sessions, req.MaxSessionsPerLevel)
	}
	if requested[LevelDay] {
		out.Levels.Day = buildDayLevel(window, sessions, dayNotes)
	}
	if requested[LevelWeek] {
		level, err := s.buildWeekLevel(ctx, window)
		if err != nil {
			return nil, err
		}
		out.Levels.Week = level
	}
	if requested[LevelMultiWeek] {
		level, err := s.buildMultiWeekLevel(ctx, window, req.MultiWeekCount)
		if err != nil {
			return nil, err
		}
		out.Levels.MultiWeek = level
	}
	if requested[LevelBlock] {
		level, err := s.buildBlockLevel(ctx, window, sessions, dayNotes)
		if err != nil {
			return nil, err
		}
		out.Levels.Block = level
	}

	if req.IncludeSalient {
		out.SalientSessions = SelectSalient(sessions, req.SalientDistanceKm, req.SalientDurationMinutes)
	}
	out.SalientSessionsCount = len(out.SalientSessions)

	return out, nil
}

func buildSessionLevel(sessions []store.Session, maxItems int) *SessionLevel {
	items := make([]SessionItem, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, NewSessionItem(s))
	}
	level := &SessionLevel{Count: len(items), Items: items}
	if maxItems > 0 && len(level.Items) > maxItems {
		level.Items = level.Items[:maxItems]
	}
	return level
}

func buildDayLevel(window Window, sessions []store.Session, dayNotes []store.DayNote) *DayLevel {
	notesByDate := make(map[string]string, len(dayNotes))
	for _, n := range dayNotes {
		notesByDate[n.DateISO()] = n.Note
	}
	perDay := map[string][]store.Session{}
	for _, s := range sessions {
		perDay[s.DateISO()] = append(perDay[s.DateISO()], s)
	}

	var items []DayEntry
	for day := window.StartDate; !day.After(window.EndDate); day = day.AddDate(0, 0, 1) {
		iso := day.Format(store.DateLayout)
		daySessions := perDay[iso]
		entry := DayEntry{
			Date:     iso,
			Sessions: make([]SessionItem, 0, len(daySessions)),
			Totals:   ComputeTotals(daySessions),
		}
		if note, ok := notesByDate[iso]; ok {
			entry.DayNote = &note
		}
		for _, s := range daySessions {
			entry.Sessions = append(entry.Sessions, NewSessionItem(s))
		}
		items = append(items, entry)
	}
	return &DayLevel{Count: len(items), Items: items}
}

func (s *Service) buildWeekLevel(ctx context.Context, window Window) (*WeekLevel, error) {
	var items []WeekEntry
	for _, span := range weeksInRange(window.StartDate, window.EndDate) {
		// Totals and plan comparison cover the full ISO week even when the
		// window clips it; the clipped fetch only feeds sessions_count.
		weekSessions, err := s.reader.SessionsInRange(ctx, span.Start, span.End)
		if err != nil {
			return nil, fmt.Errorf("load week sessions: %w", err)
		}
		clippedCount := 0
		for _, sess := range weekSessions {
			if !sess.Date.Before(span.ClippedStart) && !sess.Date.After(span.ClippedEnd) {
				clippedCount++
			}
		}
		plan, err := s.weeklyPlan(ctx, span.Year, span.Week)
		if err != nil {
			return nil, err
		}
		items = append(items, WeekEntry{
			Year:          span.Year,
			WeekNumber:    span.Week,
			DateStart:     span.ClippedStart.Format(store.DateLayout),
			DateEnd:       span.ClippedEnd.Format(store.DateLayout),
			Plan:          newPlanInfo(plan),
			Totals:        ComputeTotals(weekSessions),
			PlanVsActual:  comparePlan(plan, weekSessions),
			SessionsCount: clippedCount,
		})
	}
	return &WeekLevel{Count: len(items), Items: items}, nil
}

func (s *Service) buildMultiWeekLevel(ctx context.Context, window Window, count int) (*MultiWeekLevel, error) {
	if count < 1 {
		count = 1
	}
	anchorEnd := ISOWeekEnd(window.AnchorYear, window.AnchorWeek)
	anchorStart := anchorEnd.AddDate(0, 0, -7*(count-1))
	start := StartOfISOWeek(anchorStart)

	var items []MultiWeekEntry
	for _, span := range weeksInRange(start, anchorEnd) {
		weekSessions, err := s.reader.SessionsInRange(ctx, span.Start, span.End)
		if err != nil {
			return nil, fmt.Errorf("load multi-week sessions: %w", err)
		}
		plan, err := s.weeklyPlan(ctx, span.Year, span.Week)
		if err != nil {
			return nil, err
		}
		items = append(items, MultiWeekEntry{
			Year:         span.Year,
			WeekNumber:   span.Week,
			Totals:       ComputeTotals(weekSessions),
			PlanVsActual: comparePlan(plan, weekSessions),
		})
	}
	return &MultiWeekLevel{
		Count: len(items),
		Window: RangeISO{
			DateStart: start.Format(store.DateLayout),
			DateEnd:   anchorEnd.Format(store.DateLayout),
		},
		Items: items,
	}, nil
}

func (s *Service) buildBlockLevel(ctx context.Context, window Window, sessions []store.Session, dayNotes []store.DayNote) (*BlockLevel, error) {
	notesCount := 0
	for _, n := range dayNotes {
		if strings.TrimSpace(n.Note) != "" {
			notesCount++
		}
	}
	level := &BlockLevel{
		DateStart:     window.StartDate.Format(store.DateLayout),
		DateEnd:       window.EndDate.Format(store.DateLayout),
		Totals:        ComputeTotals(sessions),
		DayNotesCount: notesCount,
		WeeklyTrend:   []WeekTrendPoint{},
	}
	for _, span := range weeksInRange(window.StartDate, window.EndDate) {
		weekSessions, err := s.reader.SessionsInRange(ctx, span.ClippedStart, span.ClippedEnd)
		if err != nil {
			return nil, fmt.Errorf("load trend sessions: %w", err)
		}
		totals := ComputeTotals(weekSessions)
		level.WeeklyTrend = append(level.WeeklyTrend, WeekTrendPoint{
			Year:            span.Year,
			WeekNumber:      span.Week,
			DistanceKm:      totals.TotalDistanceKm,
			DurationMinutes: totals.TotalDurationMinutes,
		})
	}
	return level, nil
}

func (s *Service) weeklyPlan(ctx context.Context, year, week int) (*store.WeeklyPlan, error) {
	plan, err := s.reader.WeeklyPlan(ctx, year, week)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load weekly plan: %w", err)
	}
	return plan, nil
}

func newPlanInfo(plan *store.WeeklyPlan) *PlanInfo {
	if plan == nil {
		return nil
	}
	return &PlanInfo{
		Year:             plan.Year,
		WeekNumber:       plan.WeekNumber,
		Description:      plan.Description,
		TargetDistanceKm: plan.TargetDistanceKm,
		TargetSessions:   plan.TargetSessions,
		Tags:             plan.Tags,
	}
}

func comparePlan(plan *store.WeeklyPlan, sessions []store.Session) PlanVsActual {
	totals := ComputeTotals(sessions)
	var out PlanVsActual
	out.Actual.Sessions = totals.TotalSessions
	out.Actual.DistanceKm = totals.TotalDistanceKm
	out.Actual.DurationMinutes = totals.TotalDurationMinutes
	out.Actual.ElevationGainM = totals.TotalElevationGainM

	if plan == nil {
		return out
	}
	out.Targets.Sessions = plan.TargetSessions
	out.Targets.DistanceKm = plan.TargetDistanceKm
	if plan.TargetSessions != nil {
		delta := totals.TotalSessions - *plan.TargetSessions
		out.Delta.Sessions = &delta
	}
	if plan.TargetDistanceKm != nil {
		delta := Round3(totals.TotalDistanceKm - *plan.TargetDistanceKm)
		out.Delta.DistanceKm = &delta
	}
	return out
}

// Salience reasons.
const (
	ReasonHasNote       = "has_note"
	ReasonLongDistance  = "long_distance"
	ReasonLongDuration  = "long_duration"
	ReasonHighIntensity = "high_intensity"
)

// highIntensityFloor is the perceived-intensity value at which a session is
// always considered salient.
const highIntensityFloor = 8

// SelectSalient flags noteworthy sessions: a non-blank note, distance or
// duration at or above the thresholds, or perceived intensity >= 8. A
// session can carry several reasons at once.
func SelectSalient(sessions []store.Session, distanceKmThreshold float64, durationMinThreshold int) []SalientSession {
	out := []SalientSession{}
	for _, s := range sessions {
		var reasons []string
		if s.HasNotes() {
			reasons = append(reasons, ReasonHasNote)
		}
		if s.Distance() >= distanceKmThreshold {
			reasons = append(reasons, ReasonLongDistance)
		}
		if s.DurationMinutes >= durationMinThreshold {
			reasons = append(reasons, ReasonLongDuration)
		}
		if s.Intensity() >= highIntensityFloor {
			reasons = append(reasons, ReasonHighIntensity)
		}
		if len(reasons) == 0 {
			continue
		}
		out = append(out, SalientSession{SessionItem: NewSessionItem(s), SalientReasons: reasons})
	}
	return out
}
