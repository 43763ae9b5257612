// Package tools publishes the read-only query operations the model may call
// during orchestration, and dispatches requested calls against the record
// store and the aggregation core.
package tools

import (
	"fmt"

	"github.com/ttommys/trainos/internal/llm"
)

// Kind enumerates the closed set of callable operations.
type Kind int

const (
	KindResolveTimeReference Kind = iota
	KindWeekSummary
	KindDayDetails
	KindSessionDetails
	KindBlockSummary
	KindSubmitFinalAnswer
)

// Wire names of the operations.
const (
	NameResolveTimeReference = "resolve_time_reference"
	NameWeekSummary          = "get_week_summary"
	NameDayDetails           = "get_day_details"
	NameSessionDetails       = "get_session_details"
	NameBlockSummary         = "get_block_summary"
	NameSubmitFinalAnswer    = "submit_final_answer"
)

var kindsByName = map[string]Kind{
	NameResolveTimeReference: KindResolveTimeReference,
	NameWeekSummary:          KindWeekSummary,
	NameDayDetails:           KindDayDetails,
	NameSessionDetails:       KindSessionDetails,
	NameBlockSummary:         KindBlockSummary,
	NameSubmitFinalAnswer:    KindSubmitFinalAnswer,
}

// ParseKind maps a wire name onto its operation kind. An unknown name is a
// caller error, never silently ignored.
func ParseKind(name string) (Kind, error) {
	kind, ok := kindsByName[name]
	if !ok {
		return 0, &ValidationError{Reason: fmt.Sprintf("unknown tool %q", name)}
	}
	return kind, nil
}

// ValidationError marks a tool call the dispatcher refuses: an unknown
// operation name or arguments missing a required alternative. The
// orchestration loop does not catch it; it propagates to the request
// boundary.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "tool validation: " + e.Reason
}

// Note truncation bounds for get_day_details.
const (
	DefaultTruncateNotesChars = 220
	MinTruncateNotesChars     = 40
	MaxTruncateNotesChars     = 1000
)

// compactNotesChars is the fixed truncation used by get_week_summary's
// optional session list.
const compactNotesChars = 140

// Schemas returns the published tool catalog in OpenAI function-tool form.
// Every parameter object forbids additional properties.
func Schemas() []llm.ToolSchema {
	return []llm.ToolSchema{
		{
			Type: "function",
			Function: llm.ToolFunction{
				Name:        NameResolveTimeReference,
				Description: "Resolve natural language time references into either a single date or an explicit date range.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"query":        map[string]any{"type": "string"},
						"now_iso_date": map[string]any{"type": "string"},
						"language":     map[string]any{"type": "string"},
					},
					"required":             []string{"query", "now_iso_date"},
					"additionalProperties": false,
				},
			},
		},
		{
			Type: "function",
			Function: llm.ToolFunction{
				Name:        NameWeekSummary,
				Description: "Get summary metrics, plan and notes for the ISO week containing a date. Provide date_iso, or temporal_ref with now_iso_date. The optional session list is compact and truncated.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"date_iso":         map[string]any{"type": "string"},
						"temporal_ref":     map[string]any{"type": "string"},
						"now_iso_date":     map[string]any{"type": "string"},
						"include_sessions": map[string]any{"type": "boolean"},
					},
					"additionalProperties": false,
				},
			},
		},
		{
			Type: "function",
			Function: llm.ToolFunction{
				Name:        NameDayDetails,
				Description: "Get details for one day, including per-session details with moving time and truncated notes. Provide date_iso, or temporal_ref with now_iso_date.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"date_iso":     map[string]any{"type": "string"},
						"temporal_ref": map[string]any{"type": "string"},
						"now_iso_date": map[string]any{"type": "string"},
						"truncate_notes_chars": map[string]any{
							"type":    "integer",
							"minimum": MinTruncateNotesChars,
							"maximum": MaxTruncateNotesChars,
						},
					},
					"additionalProperties": false,
				},
			},
		},
		{
			Type: "function",
			Function: llm.ToolFunction{
				Name:        NameSessionDetails,
				Description: "Get all available details for one session by session id.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"session_id": map[string]any{"type": "integer"},
					},
					"required":             []string{"session_id"},
					"additionalProperties": false,
				},
			},
		},
		{
			Type: "function",
			Function: llm.ToolFunction{
				Name:        NameBlockSummary,
				Description: "Get an aggregate over an arbitrary multi-day range: totals, active days, longest run or trail session, and 7-day normalized rates. Provide date_start_iso and date_end_iso, or temporal_ref with now_iso_date.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"date_start_iso": map[string]any{"type": "string"},
						"date_end_iso":   map[string]any{"type": "string"},
						"temporal_ref":   map[string]any{"type": "string"},
						"now_iso_date":   map[string]any{"type": "string"},
					},
					"additionalProperties": false,
				},
			},
		},
		{
			Type: "function",
			Function: llm.ToolFunction{
				Name:        NameSubmitFinalAnswer,
				Description: "Submit the final answer and end the conversation. Call this once the question is fully answered.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"answer": map[string]any{"type": "string"},
					},
					"required":             []string{"answer"},
					"additionalProperties": false,
				},
			},
		},
	}
}
