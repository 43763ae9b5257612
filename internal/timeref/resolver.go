// Package timeref turns free-text time expressions ("last monday", "début
// juillet") into explicit dates or date ranges. Interpretation is delegated
// to a pluggable resolver; this package only validates and normalizes the
// delegate's output, with fixed fallbacks for malformed results.
package timeref

import (
	"context"
	"strings"
	"time"

	"github.com/ttommys/trainos/internal/store"
)

// Resolution modes.
const (
	ModeDate  = "date"
	ModeRange = "range"
)

// Raw is the unvalidated structure a resolving delegate returns. ISO fields
// may be blank or malformed; Normalize cleans them up.
type Raw struct {
	Mode          string
	ReferenceDate string
	RangeStart    string
	RangeEnd      string
	Label         string
}

// Resolution is a validated time reference: either a single date or an
// ordered inclusive range, with a human-readable label.
type Resolution struct {
	Mode          string `json:"mode"`
	ReferenceDate string `json:"reference_date_iso,omitempty"`
	RangeStart    string `json:"range_start_iso,omitempty"`
	RangeEnd      string `json:"range_end_iso,omitempty"`
	Label         string `json:"label"`
}

// Resolver interprets a time phrase against a "now" anchor. Implementations
// may be rule tables or model calls; either way the contract is phrase +
// now date + language in, mode-tagged raw result out. Errors are reserved
// for delegate infrastructure failures (e.g. an unreachable model backend);
// malformed output is not an error, it is normalized away.
type Resolver interface {
	Resolve(ctx context.Context, phrase, nowISO, language string) (Raw, error)
}

// Normalize validates a delegate result. Unparseable dates fall back to the
// supplied now date as a single-date result, reversed ranges are swapped,
// and a blank label echoes the input phrase.
func Normalize(raw Raw, phrase, nowISO string) Resolution {
	label := raw.Label
	if strings.TrimSpace(label) == "" {
		label = phrase
	}

	mode := strings.ToLower(strings.TrimSpace(raw.Mode))
	if mode == ModeRange {
		startISO := firstNonBlank(raw.RangeStart, nowISO)
		endISO := firstNonBlank(raw.RangeEnd, startISO)

		start, errStart := store.ParseDate(startISO)
		end, errEnd := store.ParseDate(endISO)
		if errStart != nil || errEnd != nil {
			fallback, err := store.ParseDate(nowISO)
			if err != nil {
				fallback = time.Now().UTC()
			}
			start, end = fallback, fallback
		}
		if end.Before(start) {
			start, end = end, start
		}
		return Resolution{
			Mode:       ModeRange,
			RangeStart: start.Format(store.DateLayout),
			RangeEnd:   end.Format(store.DateLayout),
			Label:      label,
		}
	}

	refISO := firstNonBlank(raw.ReferenceDate, nowISO)
	ref, err := store.ParseDate(refISO)
	if err != nil {
		ref, err = store.ParseDate(nowISO)
		if err != nil {
			ref = time.Now().UTC()
		}
	}
	return Resolution{
		Mode:          ModeDate,
		ReferenceDate: ref.Format(store.DateLayout),
		Label:         label,
	}
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
