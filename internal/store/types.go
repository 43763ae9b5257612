package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire and storage format for calendar dates.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD string into a UTC date.
func ParseDate(value string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, strings.TrimSpace(value), time.UTC)
}

// Session types. Distance totals count run and trail; elevation totals
// additionally count hike.
const (
	TypeRun      = "run"
	TypeTrail    = "trail"
	TypeSwim     = "swim"
	TypeBike     = "bike"
	TypeHike     = "hike"
	TypeSkate    = "skate"
	TypeStrength = "strength"
	TypeMobility = "mobility"
	TypeOther    = "other"
)

var sessionTypes = map[string]bool{
	TypeRun:      true,
	TypeTrail:    true,
	TypeSwim:     true,
	TypeBike:     true,
	TypeHike:     true,
	TypeSkate:    true,
	TypeStrength: true,
	TypeMobility: true,
	TypeOther:    true,
}

// ValidSessionType reports whether t is one of the known session types.
func ValidSessionType(t string) bool {
	return sessionTypes[t]
}

// Session is one recorded training session.
type Session struct {
	ID                     int64      `json:"id"`
	Date                   time.Time  `json:"-"`
	StartTime              *time.Time `json:"start_time,omitempty"`
	ExternalID             *string    `json:"external_id,omitempty"`
	Type                   string     `json:"type"`
	DurationMinutes        int        `json:"duration_minutes"`
	ElapsedDurationMinutes *int       `json:"elapsed_duration_minutes,omitempty"`
	MovingDurationMinutes  *int       `json:"moving_duration_minutes,omitempty"`
	DistanceKm             *float64   `json:"distance_km,omitempty"`
	ElevationGainM         *int       `json:"elevation_gain_m,omitempty"`
	AveragePaceMinPerKm    *float64   `json:"average_pace_min_per_km,omitempty"`
	AverageHeartRateBpm    *float64   `json:"average_heart_rate_bpm,omitempty"`
	MaxHeartRateBpm        *float64   `json:"max_heart_rate_bpm,omitempty"`
	PerceivedIntensity     *int       `json:"perceived_intensity,omitempty"`
	Notes                  *string    `json:"notes,omitempty"`
}

// DateISO returns the session date formatted as YYYY-MM-DD.
func (s Session) DateISO() string {
	return s.Date.Format(DateLayout)
}

// HasNotes reports whether the session carries a non-blank note.
func (s Session) HasNotes() bool {
	return s.Notes != nil && strings.TrimSpace(*s.Notes) != ""
}

// Distance returns the recorded distance, or zero when absent.
func (s Session) Distance() float64 {
	if s.DistanceKm == nil {
		return 0
	}
	return *s.DistanceKm
}

// Elevation returns the recorded elevation gain, or zero when absent.
func (s Session) Elevation() int {
	if s.ElevationGainM == nil {
		return 0
	}
	return *s.ElevationGainM
}

// Intensity returns the perceived intensity, or zero when absent.
func (s Session) Intensity() int {
	if s.PerceivedIntensity == nil {
		return 0
	}
	return *s.PerceivedIntensity
}

type sessionJSON struct {
	Date string `json:"date"`
	sessionAlias
}

type sessionAlias Session

// MarshalJSON renders the date as YYYY-MM-DD alongside the remaining fields.
func (s Session) MarshalJSON() ([]byte, error) {
	return json.Marshal(sessionJSON{Date: s.DateISO(), sessionAlias: sessionAlias(s)})
}

// UnmarshalJSON accepts a YYYY-MM-DD date field.
func (s *Session) UnmarshalJSON(data []byte) error {
	var raw sessionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	date, err := ParseDate(raw.Date)
	if err != nil {
		return fmt.Errorf("session date: %w", err)
	}
	*s = Session(raw.sessionAlias)
	s.Date = date
	return nil
}

// DayNote is a free-text note attached to one calendar day.
type DayNote struct {
	Date time.Time `json:"-"`
	Note string    `json:"note"`
}

// DateISO returns the note date formatted as YYYY-MM-DD.
func (n DayNote) DateISO() string {
	return n.Date.Format(DateLayout)
}

type dayNoteJSON struct {
	Date string `json:"date"`
	Note string `json:"note"`
}

func (n DayNote) MarshalJSON() ([]byte, error) {
	return json.Marshal(dayNoteJSON{Date: n.DateISO(), Note: n.Note})
}

func (n *DayNote) UnmarshalJSON(data []byte) error {
	var raw dayNoteJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	date, err := ParseDate(raw.Date)
	if err != nil {
		return fmt.Errorf("day note date: %w", err)
	}
	n.Date = date
	n.Note = raw.Note
	return nil
}

// WeeklyPlan is the training plan for one ISO week.
type WeeklyPlan struct {
	Year             int      `json:"year"`
	WeekNumber       int      `json:"week_number"`
	Description      string   `json:"description"`
	TargetDistanceKm *float64 `json:"target_distance_km,omitempty"`
	TargetSessions   *int     `json:"target_sessions,omitempty"`
	Tags             *string  `json:"tags,omitempty"`
}
