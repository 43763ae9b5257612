package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by point lookups and mutations that match no record.
var ErrNotFound = errors.New("record not found")

// Store is the sqlite-backed record store for sessions, day notes and
// weekly plans. All reads used by the analysis core are range or point
// queries; no transactional semantics are required beyond single statements.
type Store struct {
	db  *sql.DB
	log *zap.Logger
}

// Open opens (and if needed creates) the database at dbPath.
func Open(dbPath string, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db, log: log}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			date TEXT NOT NULL,
			start_time TEXT,
			external_id TEXT UNIQUE,
			type TEXT NOT NULL,
			duration_minutes INTEGER NOT NULL,
			elapsed_duration_minutes INTEGER,
			moving_duration_minutes INTEGER,
			distance_km REAL,
			elevation_gain_m INTEGER,
			average_pace_min_per_km REAL,
			average_heart_rate_bpm REAL,
			max_heart_rate_bpm REAL,
			perceived_intensity INTEGER,
			notes TEXT,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_date ON sessions(date)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_type ON sessions(type)`,
		`CREATE TABLE IF NOT EXISTS day_notes (
			date TEXT PRIMARY KEY,
			note TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS weekly_plans (
			year INTEGER NOT NULL,
			week_number INTEGER NOT NULL,
			description TEXT NOT NULL,
			target_distance_km REAL,
			target_sessions INTEGER,
			tags TEXT,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT,
			PRIMARY KEY (year, week_number)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

const sessionColumns = `id, date, start_time, external_id, type, duration_minutes,
	elapsed_duration_minutes, moving_duration_minutes, distance_km, elevation_gain_m,
	average_pace_min_per_km, average_heart_rate_bpm, max_heart_rate_bpm,
	perceived_intensity, notes`

// SessionsInRange returns all sessions with start <= date <= end, ordered by
// date, start time and id ascending.
func (s *Store) SessionsInRange(ctx context.Context, start, end time.Time) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE date >= ? AND date <= ?
		ORDER BY date ASC, start_time ASC, id ASC
	`, start.Format(DateLayout), end.Format(DateLayout))
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// SessionByID returns one session, or ErrNotFound.
func (s *Store) SessionByID(ctx context.Context, id int64) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// CreateSession inserts a session and returns it with its assigned id.
func (s *Store) CreateSession(ctx context.Context, sess Session) (*Session, error) {
	if !ValidSessionType(sess.Type) {
		return nil, fmt.Errorf("create session: unknown type %q", sess.Type)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (date, start_time, external_id, type, duration_minutes,
			elapsed_duration_minutes, moving_duration_minutes, distance_km, elevation_gain_m,
			average_pace_min_per_km, average_heart_rate_bpm, max_heart_rate_bpm,
			perceived_intensity, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sessionArgs(sess)...)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("session insert id: %w", err)
	}
	sess.ID = id
	s.log.Debug("session created", zap.Int64("id", id), zap.String("date", sess.DateISO()))
	return &sess, nil
}

// UpdateSession replaces all mutable fields of an existing session.
func (s *Store) UpdateSession(ctx context.Context, id int64, sess Session) (*Session, error) {
	if !ValidSessionType(sess.Type) {
		return nil, fmt.Errorf("update session: unknown type %q", sess.Type)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET date = ?, start_time = ?, external_id = ?, type = ?,
			duration_minutes = ?, elapsed_duration_minutes = ?, moving_duration_minutes = ?,
			distance_km = ?, elevation_gain_m = ?, average_pace_min_per_km = ?,
			average_heart_rate_bpm = ?, max_heart_rate_bpm = ?, perceived_intensity = ?,
			notes = ?, updated_at = datetime('now')
		WHERE id = ?
	`, append(sessionArgs(sess), id)...)
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update session rows: %w", err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}
	sess.ID = id
	return &sess, nil
}

// DeleteSession removes a session by id.
func (s *Store) DeleteSession(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DayNote returns the note for one day, or ErrNotFound.
func (s *Store) DayNote(ctx context.Context, day time.Time) (*DayNote, error) {
	var note DayNote
	var dateStr string
	err := s.db.QueryRowContext(ctx, `SELECT date, note FROM day_notes WHERE date = ?`,
		day.Format(DateLayout)).Scan(&dateStr, &note.Note)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query day note: %w", err)
	}
	note.Date, err = ParseDate(dateStr)
	if err != nil {
		return nil, fmt.Errorf("day note date: %w", err)
	}
	return &note, nil
}

// DayNotesInRange returns notes with start <= date <= end, ordered by date.
func (s *Store) DayNotesInRange(ctx context.Context, start, end time.Time) ([]DayNote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, note FROM day_notes
		WHERE date >= ? AND date <= ?
		ORDER BY date ASC
	`, start.Format(DateLayout), end.Format(DateLayout))
	if err != nil {
		return nil, fmt.Errorf("query day notes: %w", err)
	}
	defer rows.Close()

	var out []DayNote
	for rows.Next() {
		var note DayNote
		var dateStr string
		if err := rows.Scan(&dateStr, &note.Note); err != nil {
			return nil, fmt.Errorf("scan day note: %w", err)
		}
		note.Date, err = ParseDate(dateStr)
		if err != nil {
			return nil, fmt.Errorf("day note date: %w", err)
		}
		out = append(out, note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate day notes: %w", err)
	}
	return out, nil
}

// UpsertDayNote creates or replaces the note for a day.
func (s *Store) UpsertDayNote(ctx context.Context, note DayNote) (*DayNote, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO day_notes (date, note) VALUES (?, ?)
		ON CONFLICT(date) DO UPDATE SET note = excluded.note, updated_at = datetime('now')
	`, note.DateISO(), note.Note)
	if err != nil {
		return nil, fmt.Errorf("upsert day note: %w", err)
	}
	return &note, nil
}

// WeeklyPlan returns the plan for an ISO week, or ErrNotFound.
func (s *Store) WeeklyPlan(ctx context.Context, year, week int) (*WeeklyPlan, error) {
	var plan WeeklyPlan
	err := s.db.QueryRowContext(ctx, `
		SELECT year, week_number, description, target_distance_km, target_sessions, tags
		FROM weekly_plans WHERE year = ? AND week_number = ?
	`, year, week).Scan(&plan.Year, &plan.WeekNumber, &plan.Description,
		&plan.TargetDistanceKm, &plan.TargetSessions, &plan.Tags)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query weekly plan: %w", err)
	}
	return &plan, nil
}

// UpsertWeeklyPlan creates or replaces the plan for an ISO week.
func (s *Store) UpsertWeeklyPlan(ctx context.Context, plan WeeklyPlan) (*WeeklyPlan, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO weekly_plans (year, week_number, description, target_distance_km, target_sessions, tags)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(year, week_number) DO UPDATE SET
			description = excluded.description,
			target_distance_km = excluded.target_distance_km,
			target_sessions = excluded.target_sessions,
			tags = excluded.tags,
			updated_at = datetime('now')
	`, plan.Year, plan.WeekNumber, plan.Description, plan.TargetDistanceKm, plan.TargetSessions, plan.Tags)
	if err != nil {
		return nil, fmt.Errorf("upsert weekly plan: %w", err)
	}
	return &plan, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var sess Session
	var dateStr string
	var startTime sql.NullString
	err := row.Scan(&sess.ID, &dateStr, &startTime, &sess.ExternalID, &sess.Type,
		&sess.DurationMinutes, &sess.ElapsedDurationMinutes, &sess.MovingDurationMinutes,
		&sess.DistanceKm, &sess.ElevationGainM, &sess.AveragePaceMinPerKm,
		&sess.AverageHeartRateBpm, &sess.MaxHeartRateBpm, &sess.PerceivedIntensity, &sess.Notes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("scan session: %w", err)
	}
	sess.Date, err = ParseDate(dateStr)
	if err != nil {
		return Session{}, fmt.Errorf("session date: %w", err)
	}
	if startTime.Valid {
		t, err := time.Parse(time.RFC3339, startTime.String)
		if err != nil {
			return Session{}, fmt.Errorf("session start time: %w", err)
		}
		sess.StartTime = &t
	}
	return sess, nil
}

func sessionArgs(sess Session) []any {
	var startTime any
	if sess.StartTime != nil {
		startTime = sess.StartTime.UTC().Format(time.RFC3339)
	}
	return []any{
		sess.DateISO(), startTime, sess.ExternalID, sess.Type, sess.DurationMinutes,
		sess.ElapsedDurationMinutes, sess.MovingDurationMinutes, sess.DistanceKm,
		sess.ElevationGainM, sess.AveragePaceMinPerKm, sess.AverageHeartRateBpm,
		sess.MaxHeartRateBpm, sess.PerceivedIntensity, sess.Notes,
	}
}
