package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ttommys/trainos/internal/query"
	"github.com/ttommys/trainos/internal/store"
	"github.com/ttommys/trainos/internal/timeref"
)

// Dispatcher executes tool calls against the record store.
type Dispatcher struct {
	reader query.Reader
}

// NewDispatcher wraps a store reader.
func NewDispatcher(reader query.Reader) *Dispatcher {
	return &Dispatcher{reader: reader}
}

// Execute runs one named operation. Arguments arrive as a decoded JSON
// object; resolver handles any nested time resolution and may be nil when
// the caller knows no temporal references occur. now anchors defaulted
// dates.
func (d *Dispatcher) Execute(ctx context.Context, name string, args map[string]any, resolver timeref.Resolver, now time.Time) (any, error) {
	kind, err := ParseKind(name)
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}

	switch kind {
	case KindResolveTimeReference:
		return d.resolveTimeReference(ctx, args, resolver, now)
	case KindWeekSummary:
		return d.weekSummary(ctx, args, resolver, now)
	case KindDayDetails:
		return d.dayDetails(ctx, args, resolver, now)
	case KindSessionDetails:
		return d.sessionDetails(ctx, args)
	case KindBlockSummary:
		return d.blockSummary(ctx, args, resolver, now)
	case KindSubmitFinalAnswer:
		return map[string]any{"status": "received"}, nil
	default:
		return nil, &ValidationError{Reason: fmt.Sprintf("unhandled tool kind %d", kind)}
	}
}

func (d *Dispatcher) resolveTimeReference(ctx context.Context, args map[string]any, resolver timeref.Resolver, now time.Time) (any, error) {
	if resolver == nil {
		return nil, &ValidationError{Reason: NameResolveTimeReference + " requires a time resolver"}
	}
	phrase := argString(args, "query")
	nowISO := argString(args, "now_iso_date")
	if nowISO == "" {
		nowISO = now.Format(store.DateLayout)
	}
	language := argString(args, "language")

	raw, err := resolver.Resolve(ctx, phrase, nowISO, language)
	if err != nil {
		return nil, fmt.Errorf("resolve time reference: %w", err)
	}
	return timeref.Normalize(raw, phrase, nowISO), nil
}

// WeekSummary is the get_week_summary payload.
type WeekSummary struct {
	Year       int              `json:"year"`
	WeekNumber int              `json:"week_number"`
	DateStart  string           `json:"date_start"`
	DateEnd    string           `json:"date_end"`
	Totals     query.Totals     `json:"totals"`
	Plan       WeekPlanFields   `json:"plan"`
	DayNotes   []DayNoteItem    `json:"day_notes"`
	Sessions   []CompactSession `json:"sessions,omitempty"`
}

// WeekPlanFields carries the plan fields with nils when no plan exists.
type WeekPlanFields struct {
	Description      *string  `json:"description"`
	TargetDistanceKm *float64 `json:"target_distance_km"`
	TargetSessions   *int     `json:"target_sessions"`
	Tags             *string  `json:"tags"`
}

// DayNoteItem is one day note in a tool payload.
type DayNoteItem struct {
	Date string `json:"date"`
	Note string `json:"note"`
}

// CompactSession is the truncated per-session form used by week summaries.
type CompactSession struct {
	Date                  string   `json:"date"`
	Type                  string   `json:"type"`
	MovingDurationMinutes *int     `json:"moving_duration_minutes"`
	DurationMinutes       int      `json:"duration_minutes"`
	DistanceKm            *float64 `json:"distance_km"`
	ElevationGainM        *int     `json:"elevation_gain_m"`
	Notes                 *string  `json:"notes"`
}

func (d *Dispatcher) weekSummary(ctx context.Context, args map[string]any, resolver timeref.Resolver, now time.Time) (any, error) {
	day, err := d.singleDate(ctx, args, resolver, now)
	if err != nil {
		return nil, err
	}
	year, week := day.ISOWeek()
	start := query.ISOWeekStart(year, week)
	end := query.ISOWeekEnd(year, week)

	sessions, err := d.reader.SessionsInRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("week summary sessions: %w", err)
	}
	dayNotes, err := d.reader.DayNotesInRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("week summary day notes: %w", err)
	}
	plan, err := d.weeklyPlan(ctx, year, week)
	if err != nil {
		return nil, err
	}

	totals := query.ComputeTotals(sessions)
	totals.TotalDistanceKm = query.Round1(totals.TotalDistanceKm)

	out := WeekSummary{
		Year:       year,
		WeekNumber: week,
		DateStart:  start.Format(store.DateLayout),
		DateEnd:    end.Format(store.DateLayout),
		Totals:     totals,
		DayNotes:   make([]DayNoteItem, 0, len(dayNotes)),
	}
	if plan != nil {
		out.Plan = WeekPlanFields{
			Description:      &plan.Description,
			TargetDistanceKm: plan.TargetDistanceKm,
			TargetSessions:   plan.TargetSessions,
			Tags:             plan.Tags,
		}
	}
	for _, note := range dayNotes {
		out.DayNotes = append(out.DayNotes, DayNoteItem{Date: note.DateISO(), Note: note.Note})
	}

	if argBool(args, "include_sessions") {
		for _, s := range sessions {
			out.Sessions = append(out.Sessions, CompactSession{
				Date:                  s.DateISO(),
				Type:                  s.Type,
				MovingDurationMinutes: s.MovingDurationMinutes,
				DurationMinutes:       s.DurationMinutes,
				DistanceKm:            s.DistanceKm,
				ElevationGainM:        s.ElevationGainM,
				Notes:                 truncateNotes(s.Notes, compactNotesChars),
			})
		}
	}
	return out, nil
}

// DayTotals extends the shared totals with moving time for day payloads.
type DayTotals struct {
	query.Totals
	TotalMovingMinutes int `json:"total_moving_minutes"`
}

// DayDetailSession is the per-session form used by get_day_details.
type DayDetailSession struct {
	ID                     int64    `json:"id"`
	ExternalID             *string  `json:"external_id"`
	Type                   string   `json:"type"`
	StartTime              *string  `json:"start_time"`
	DurationMinutes        int      `json:"duration_minutes"`
	ElapsedDurationMinutes *int     `json:"elapsed_duration_minutes"`
	MovingDurationMinutes  *int     `json:"moving_duration_minutes"`
	DistanceKm             *float64 `json:"distance_km"`
	ElevationGainM         *int     `json:"elevation_gain_m"`
	PerceivedIntensity     *int     `json:"perceived_intensity"`
	Notes                  *string  `json:"notes"`
}

// DayDetails is the get_day_details payload.
type DayDetails struct {
	Date     string             `json:"date"`
	DayNote  *string            `json:"day_note"`
	Totals   DayTotals          `json:"totals"`
	Sessions []DayDetailSession `json:"sessions"`
}

func (d *Dispatcher) dayDetails(ctx context.Context, args map[string]any, resolver timeref.Resolver, now time.Time) (any, error) {
	day, err := d.singleDate(ctx, args, resolver, now)
	if err != nil {
		return nil, err
	}
	truncateChars := argInt(args, "truncate_notes_chars", DefaultTruncateNotesChars)
	if truncateChars < MinTruncateNotesChars {
		truncateChars = MinTruncateNotesChars
	}
	if truncateChars > MaxTruncateNotesChars {
		truncateChars = MaxTruncateNotesChars
	}

	sessions, err := d.reader.SessionsInRange(ctx, day, day)
	if err != nil {
		return nil, fmt.Errorf("day details sessions: %w", err)
	}
	note, err := d.reader.DayNote(ctx, day)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("day details note: %w", err)
	}

	totals := query.ComputeTotals(sessions)
	totals.TotalDistanceKm = query.Round1(totals.TotalDistanceKm)
	out := DayDetails{
		Date:     day.Format(store.DateLayout),
		Totals:   DayTotals{Totals: totals},
		Sessions: make([]DayDetailSession, 0, len(sessions)),
	}
	if note != nil {
		out.DayNote = &note.Note
	}
	for _, s := range sessions {
		if s.MovingDurationMinutes != nil {
			out.Totals.TotalMovingMinutes += *s.MovingDurationMinutes
		}
		var startTime *string
		if s.StartTime != nil {
			v := s.StartTime.UTC().Format(time.RFC3339)
			startTime = &v
		}
		out.Sessions = append(out.Sessions, DayDetailSession{
			ID:                     s.ID,
			ExternalID:             s.ExternalID,
			Type:                   s.Type,
			StartTime:              startTime,
			DurationMinutes:        s.DurationMinutes,
			ElapsedDurationMinutes: s.ElapsedDurationMinutes,
			MovingDurationMinutes:  s.MovingDurationMinutes,
			DistanceKm:             s.DistanceKm,
			ElevationGainM:         s.ElevationGainM,
			PerceivedIntensity:     s.PerceivedIntensity,
			Notes:                  truncateNotes(s.Notes, truncateChars),
		})
	}
	return out, nil
}

// SessionNotFound is the structured miss result of get_session_details.
// A missing id is an answerable fact, not a dispatch failure.
type SessionNotFound struct {
	Error     string `json:"error"`
	SessionID int64  `json:"session_id"`
}

func (d *Dispatcher) sessionDetails(ctx context.Context, args map[string]any) (any, error) {
	id := int64(argInt(args, "session_id", 0))
	sess, err := d.reader.SessionByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return SessionNotFound{Error: "session_not_found", SessionID: id}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session details: %w", err)
	}
	return query.NewSessionItem(*sess), nil
}

// NormalizedRates are block metrics scaled to a 7-day rate.
type NormalizedRates struct {
	DistanceKmPer7d      float64 `json:"distance_km_per_7d"`
	DurationMinutesPer7d float64 `json:"duration_minutes_per_7d"`
	ElevationGainMPer7d  float64 `json:"elevation_gain_m_per_7d"`
}

// BlockSummary is the get_block_summary payload.
type BlockSummary struct {
	DateStart          string          `json:"date_start"`
	DateEnd            string          `json:"date_end"`
	Days               int             `json:"days"`
	Totals             query.Totals    `json:"totals"`
	ActiveDays         int             `json:"active_days"`
	DaysWithNotes      int             `json:"days_with_notes"`
	LongestRunSession  *CompactSession `json:"longest_run_session"`
	NormalizedPer7Days NormalizedRates `json:"normalized_per_7_days"`
}

func (d *Dispatcher) blockSummary(ctx context.Context, args map[string]any, resolver timeref.Resolver, now time.Time) (any, error) {
	start, end, err := d.dateRange(ctx, args, resolver, now)
	if err != nil {
		return nil, err
	}

	sessions, err := d.reader.SessionsInRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("block summary sessions: %w", err)
	}
	dayNotes, err := d.reader.DayNotesInRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("block summary day notes: %w", err)
	}

	activeDays := map[string]bool{}
	for _, s := range sessions {
		activeDays[s.DateISO()] = true
	}
	daysWithNotes := 0
	for _, n := range dayNotes {
		if strings.TrimSpace(n.Note) != "" {
			daysWithNotes++
		}
	}

	days := int(end.Sub(start).Hours()/24) + 1
	totals := query.ComputeTotals(sessions)

	out := BlockSummary{
		DateStart:         start.Format(store.DateLayout),
		DateEnd:           end.Format(store.DateLayout),
		Days:              days,
		Totals:            totals,
		ActiveDays:        len(activeDays),
		DaysWithNotes:     daysWithNotes,
		LongestRunSession: longestRunSession(sessions),
	}
	if days > 0 {
		factor := 7.0 / float64(days)
		out.NormalizedPer7Days = NormalizedRates{
			DistanceKmPer7d:      query.Round1(totals.TotalDistanceKm * factor),
			DurationMinutesPer7d: query.Round1(float64(totals.TotalDurationMinutes) * factor),
			ElevationGainMPer7d:  query.Round1(float64(totals.TotalElevationGainM) * factor),
		}
	}
	return out, nil
}

// longestRunSession picks the longest run or trail session, ties broken by
// distance, then duration, then id, all descending.
func longestRunSession(sessions []store.Session) *CompactSession {
	var candidates []store.Session
	for _, s := range sessions {
		if s.Type == store.TypeRun || s.Type == store.TypeTrail {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Distance() != b.Distance() {
			return a.Distance() > b.Distance()
		}
		if a.DurationMinutes != b.DurationMinutes {
			return a.DurationMinutes > b.DurationMinutes
		}
		return a.ID > b.ID
	})
	best := candidates[0]
	return &CompactSession{
		Date:                  best.DateISO(),
		Type:                  best.Type,
		MovingDurationMinutes: best.MovingDurationMinutes,
		DurationMinutes:       best.DurationMinutes,
		DistanceKm:            best.DistanceKm,
		ElevationGainM:        best.ElevationGainM,
		Notes:                 truncateNotes(best.Notes, compactNotesChars),
	}
}

// singleDate resolves the date argument of a day- or week-scoped tool:
// either an explicit date_iso, or a temporal_ref interpreted by the
// resolver. Ranges resolve to their start date.
func (d *Dispatcher) singleDate(ctx context.Context, args map[string]any, resolver timeref.Resolver, now time.Time) (time.Time, error) {
	if iso := argString(args, "date_iso"); iso != "" {
		day, err := store.ParseDate(iso)
		if err != nil {
			return time.Time{}, &ValidationError{Reason: fmt.Sprintf("invalid date_iso %q", iso)}
		}
		return day, nil
	}

	phrase := argString(args, "temporal_ref")
	if phrase == "" {
		return time.Time{}, &ValidationError{Reason: "either date_iso or temporal_ref is required"}
	}
	res, err := d.resolvePhrase(ctx, args, resolver, phrase, now)
	if err != nil {
		return time.Time{}, err
	}
	iso := res.ReferenceDate
	if res.Mode == timeref.ModeRange {
		iso = res.RangeStart
	}
	day, err := store.ParseDate(iso)
	if err != nil {
		return time.Time{}, fmt.Errorf("resolved date %q: %w", iso, err)
	}
	return day, nil
}

// dateRange resolves the range arguments of get_block_summary. A reversed
// explicit range is swapped; a single-date temporal resolution yields a
// one-day block.
func (d *Dispatcher) dateRange(ctx context.Context, args map[string]any, resolver timeref.Resolver, now time.Time) (time.Time, time.Time, error) {
	startISO := argString(args, "date_start_iso")
	endISO := argString(args, "date_end_iso")
	if startISO != "" && endISO != "" {
		start, err := store.ParseDate(startISO)
		if err != nil {
			return time.Time{}, time.Time{}, &ValidationError{Reason: fmt.Sprintf("invalid date_start_iso %q", startISO)}
		}
		end, err := store.ParseDate(endISO)
		if err != nil {
			return time.Time{}, time.Time{}, &ValidationError{Reason: fmt.Sprintf("invalid date_end_iso %q", endISO)}
		}
		if end.Before(start) {
			start, end = end, start
		}
		return start, end, nil
	}

	phrase := argString(args, "temporal_ref")
	if phrase == "" {
		return time.Time{}, time.Time{}, &ValidationError{Reason: "either date_start_iso and date_end_iso, or temporal_ref, is required"}
	}
	res, err := d.resolvePhrase(ctx, args, resolver, phrase, now)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if res.Mode == timeref.ModeRange {
		start, err := store.ParseDate(res.RangeStart)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("resolved range start %q: %w", res.RangeStart, err)
		}
		end, err := store.ParseDate(res.RangeEnd)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("resolved range end %q: %w", res.RangeEnd, err)
		}
		return start, end, nil
	}
	day, err := store.ParseDate(res.ReferenceDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("resolved date %q: %w", res.ReferenceDate, err)
	}
	return day, day, nil
}

func (d *Dispatcher) resolvePhrase(ctx context.Context, args map[string]any, resolver timeref.Resolver, phrase string, now time.Time) (timeref.Resolution, error) {
	if resolver == nil {
		return timeref.Resolution{}, &ValidationError{Reason: "temporal_ref requires a time resolver"}
	}
	nowISO := argString(args, "now_iso_date")
	if nowISO == "" {
		nowISO = now.Format(store.DateLayout)
	}
	raw, err := resolver.Resolve(ctx, phrase, nowISO, argString(args, "language"))
	if err != nil {
		return timeref.Resolution{}, fmt.Errorf("resolve %q: %w", phrase, err)
	}
	return timeref.Normalize(raw, phrase, nowISO), nil
}

func (d *Dispatcher) weeklyPlan(ctx context.Context, year, week int) (*store.WeeklyPlan, error) {
	plan, err := d.reader.WeeklyPlan(ctx, year, week)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("weekly plan: %w", err)
	}
	return plan, nil
}

func truncateNotes(notes *string, maxChars int) *string {
	if notes == nil {
		return nil
	}
	text := strings.TrimSpace(*notes)
	if len([]rune(text)) <= maxChars {
		return &text
	}
	runes := []rune(text)
	truncated := strings.TrimRight(string(runes[:maxChars-1]), " \t\n") + "…"
	return &truncated
}

func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func argBool(args map[string]any, key string) bool {
	v, ok := args[key].(bool)
	return ok && v
}

func argInt(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}
