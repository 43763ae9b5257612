package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ttommys/trainos/internal/store"
)

func date(t *testing.T, iso string) time.Time {
	t.Helper()
	day, err := store.ParseDate(iso)
	if err != nil {
		t.Fatalf("parse date %q: %v", iso, err)
	}
	return day
}

func TestISOWeekBounds(t *testing.T) {
	cases := []struct {
		year, week int
		start, end string
	}{
		{2026, 8, "2026-02-16", "2026-02-22"},
		{2026, 1, "2025-12-29", "2026-01-04"},
		{2025, 1, "2024-12-30", "2025-01-05"},
		{2026, 53, "2026-12-28", "2027-01-03"}, // 2026 has 53 ISO weeks
	}
	for _, tc := range cases {
		assert.Equal(t, tc.start, ISOWeekStart(tc.year, tc.week).Format(store.DateLayout))
		assert.Equal(t, tc.end, ISOWeekEnd(tc.year, tc.week).Format(store.DateLayout))
	}
}

func TestStartOfISOWeek(t *testing.T) {
	assert.Equal(t, "2026-02-16", StartOfISOWeek(date(t, "2026-02-16")).Format(store.DateLayout))
	assert.Equal(t, "2026-02-16", StartOfISOWeek(date(t, "2026-02-18")).Format(store.DateLayout))
	assert.Equal(t, "2026-02-16", StartOfISOWeek(date(t, "2026-02-22")).Format(store.DateLayout))
}

func TestResolveWindow_Anchor(t *testing.T) {
	year, week := 2026, 8
	w := ResolveWindow(WindowInput{AnchorYear: &year, AnchorWeek: &week}, date(t, "2026-06-01"))

	assert.Equal(t, "2026-02-16", w.StartDate.Format(store.DateLayout))
	assert.Equal(t, "2026-02-22", w.EndDate.Format(store.DateLayout))
	assert.Equal(t, 2026, w.AnchorYear)
	assert.Equal(t, 8, w.AnchorWeek)
}

func TestResolveWindow_ExplicitRange(t *testing.T) {
	start := date(t, "2026-02-10")
	end := date(t, "2026-02-20")
	w := ResolveWindow(WindowInput{DateStart: &start, DateEnd: &end}, date(t, "2026-06-01"))

	assert.Equal(t, "2026-02-10", w.StartDate.Format(store.DateLayout))
	assert.Equal(t, "2026-02-20", w.EndDate.Format(store.DateLayout))
	// anchor comes from the end date
	assert.Equal(t, 2026, w.AnchorYear)
	assert.Equal(t, 8, w.AnchorWeek)
}

func TestResolveWindow_ReversedRange(t *testing.T) {
	start := date(t, "2026-07-01")
	end := date(t, "2026-06-01")
	w := ResolveWindow(WindowInput{DateStart: &start, DateEnd: &end}, date(t, "2026-08-01"))

	assert.Equal(t, "2026-06-01", w.StartDate.Format(store.DateLayout))
	assert.Equal(t, "2026-07-01", w.EndDate.Format(store.DateLayout))
	assert.False(t, w.EndDate.Before(w.StartDate))
}

func TestResolveWindow_Default(t *testing.T) {
	w := ResolveWindow(WindowInput{}, date(t, "2026-02-18"))

	assert.Equal(t, "2026-02-16", w.StartDate.Format(store.DateLayout))
	assert.Equal(t, "2026-02-22", w.EndDate.Format(store.DateLayout))
	assert.Equal(t, 2026, w.AnchorYear)
	assert.Equal(t, 8, w.AnchorWeek)
}

func TestWeeksInRange_Dedup(t *testing.T) {
	spans := weeksInRange(date(t, "2026-02-10"), date(t, "2026-02-25"))

	// W7 (clipped), W8 (full), W9 (clipped)
	if assert.Len(t, spans, 3) {
		assert.Equal(t, 7, spans[0].Week)
		assert.Equal(t, "2026-02-10", spans[0].ClippedStart.Format(store.DateLayout))
		assert.Equal(t, 8, spans[1].Week)
		assert.Equal(t, "2026-02-16", spans[1].ClippedStart.Format(store.DateLayout))
		assert.Equal(t, "2026-02-22", spans[1].ClippedEnd.Format(store.DateLayout))
		assert.Equal(t, 9, spans[2].Week)
		assert.Equal(t, "2026-02-25", spans[2].ClippedEnd.Format(store.DateLayout))
	}
}
