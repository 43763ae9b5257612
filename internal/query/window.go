package query

import "time"

// Window is a resolved, normalized date range with its ISO week anchor.
// StartDate <= EndDate always holds.
type Window struct {
	StartDate  time.Time
	EndDate    time.Time
	AnchorYear int
	AnchorWeek int
}

// WindowInput is the partial window selection carried by an interpret request.
// Either the anchor pair, the explicit range, or neither may be set.
type WindowInput struct {
	AnchorYear *int
	AnchorWeek *int
	DateStart  *time.Time
	DateEnd    *time.Time
}

// ResolveWindow turns a partial window selection into a concrete window.
// An anchor (year, week) pair wins over an explicit range; with neither,
// the ISO week containing today is used. Reversed explicit ranges are
// swapped, and the anchor of an explicit range is derived from its end date.
func ResolveWindow(in WindowInput, today time.Time) Window {
	if in.AnchorYear != nil && in.AnchorWeek != nil {
		year, week := *in.AnchorYear, *in.AnchorWeek
		return Window{
			StartDate:  ISOWeekStart(year, week),
			EndDate:    ISOWeekEnd(year, week),
			AnchorYear: year,
			AnchorWeek: week,
		}
	}

	if in.DateStart != nil && in.DateEnd != nil {
		start, end := *in.DateStart, *in.DateEnd
		if end.Before(start) {
			start, end = end, start
		}
		year, week := end.ISOWeek()
		return Window{StartDate: start, EndDate: end, AnchorYear: year, AnchorWeek: week}
	}

	year, week := today.ISOWeek()
	return Window{
		StartDate:  ISOWeekStart(year, week),
		EndDate:    ISOWeekEnd(year, week),
		AnchorYear: year,
		AnchorWeek: week,
	}
}
