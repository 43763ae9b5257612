package query

import "time"

// ISOWeekStart returns the Monday of the given ISO week.
func ISOWeekStart(year, week int) time.Time {
	// January 4th is always inside ISO week 1.
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	week1Monday := jan4.AddDate(0, 0, 1-isoWeekday(jan4))
	return week1Monday.AddDate(0, 0, (week-1)*7)
}

// ISOWeekEnd returns the Sunday of the given ISO week.
func ISOWeekEnd(year, week int) time.Time {
	return ISOWeekStart(year, week).AddDate(0, 0, 6)
}

// StartOfISOWeek returns the Monday of the ISO week containing day.
func StartOfISOWeek(day time.Time) time.Time {
	return day.AddDate(0, 0, 1-isoWeekday(day))
}

// isoWeekday maps Go weekdays (Sunday=0) onto ISO weekdays (Monday=1 .. Sunday=7).
func isoWeekday(day time.Time) int {
	wd := int(day.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// weekKey identifies one ISO week.
type weekKey struct {
	Year int
	Week int
}

// weekSpan is one ISO week intersecting a window, with the intersection bounds.
type weekSpan struct {
	Year         int
	Week         int
	Start        time.Time // full ISO week Monday
	End          time.Time // full ISO week Sunday
	ClippedStart time.Time
	ClippedEnd   time.Time
}

// weeksInRange returns the distinct ISO weeks intersecting [start, end],
// sorted ascending by (year, week). Both full and window-clipped bounds are
// reported; callers choose which to aggregate over.
func weeksInRange(start, end time.Time) []weekSpan {
	seen := map[weekKey]bool{}
	var out []weekSpan
	for current := start; !current.After(end); current = current.AddDate(0, 0, 1) {
		year, week := current.ISOWeek()
		key := weekKey{Year: year, Week: week}
		if seen[key] {
			continue
		}
		seen[key] = true
		weekStart := ISOWeekStart(year, week)
		weekEnd := ISOWeekEnd(year, week)
		span := weekSpan{
			Year:         year,
			Week:         week,
			Start:        weekStart,
			End:          weekEnd,
			ClippedStart: maxDate(weekStart, start),
			ClippedEnd:   minDate(weekEnd, end),
		}
		out = append(out, span)
	}
	// The day walk already yields (year, week) in ascending order.
	return out
}

func maxDate(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minDate(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
