// Package interpret runs the interpretation request end to end: prompt
// selection, context assembly or tool-driven orchestration against the
// completion provider, and audit accounting.
package interpret

import (
	"fmt"

	"github.com/ttommys/trainos/internal/llm"
	"github.com/ttommys/trainos/internal/query"
)

// Request knob bounds and defaults.
const (
	DefaultMultiWeekCount      = 4
	MaxMultiWeekCount          = 24
	DefaultMaxSessionsPerLevel = 50
	MaxMaxSessionsPerLevel     = 500
	DefaultSalientDistanceKm   = 15
	DefaultSalientDurationMin  = 90
)

// Request is the interpret call contract.
type Request struct {
	Query    string   `json:"query"`
	Levels   []string `json:"levels,omitempty"`
	Language string   `json:"language,omitempty"`

	AnchorYear *int   `json:"anchor_year,omitempty"`
	AnchorWeek *int   `json:"anchor_week,omitempty"`
	DateStart  string `json:"date_start,omitempty"`
	DateEnd    string `json:"date_end,omitempty"`

	MultiWeekCount                  int      `json:"multi_week_count,omitempty"`
	IncludeSalientSessions          *bool    `json:"include_salient_sessions,omitempty"`
	SalientDistanceKmThreshold      float64  `json:"salient_distance_km_threshold,omitempty"`
	SalientDurationMinutesThreshold int      `json:"salient_duration_minutes_threshold,omitempty"`
	MaxSessionsPerLevel             int      `json:"max_sessions_per_level,omitempty"`
	ToolHints                       []string `json:"tool_hints,omitempty"`

	GenericPromptKey string `json:"generic_prompt_key,omitempty"`
	PrivatePromptKey string `json:"private_prompt_key,omitempty"`

	Provider      string `json:"provider,omitempty"`
	Model         string `json:"model,omitempty"`
	Deterministic *bool  `json:"deterministic,omitempty"`

	IncludeContextInResponse bool `json:"include_context_in_response,omitempty"`
	IncludeInputPreview      bool `json:"include_input_preview,omitempty"`
}

// RequestError reports an interpret request that fails validation.
type RequestError struct {
	Reason string
}

func (e *RequestError) Error() string {
	return "invalid request: " + e.Reason
}

// normalize applies defaults and validates knob ranges in place.
func (r *Request) normalize() error {
	if r.Query == "" {
		return &RequestError{Reason: "query is required"}
	}
	if len(r.Levels) == 0 {
		r.Levels = []string{query.LevelWeek}
	}
	for _, level := range r.Levels {
		if !query.ValidLevel(level) {
			return &RequestError{Reason: fmt.Sprintf("unknown level %q", level)}
		}
	}
	if r.MultiWeekCount == 0 {
		r.MultiWeekCount = DefaultMultiWeekCount
	}
	if r.MultiWeekCount < 1 || r.MultiWeekCount > MaxMultiWeekCount {
		return &RequestError{Reason: fmt.Sprintf("multi_week_count must be between 1 and %d", MaxMultiWeekCount)}
	}
	if r.MaxSessionsPerLevel == 0 {
		r.MaxSessionsPerLevel = DefaultMaxSessionsPerLevel
	}
	if r.MaxSessionsPerLevel < 1 || r.MaxSessionsPerLevel > MaxMaxSessionsPerLevel {
		return &RequestError{Reason: fmt.Sprintf("max_sessions_per_level must be between 1 and %d", MaxMaxSessionsPerLevel)}
	}
	if r.SalientDistanceKmThreshold == 0 {
		r.SalientDistanceKmThreshold = DefaultSalientDistanceKm
	}
	if r.SalientDurationMinutesThreshold == 0 {
		r.SalientDurationMinutesThreshold = DefaultSalientDurationMin
	}
	return nil
}

func (r *Request) includeSalient() bool {
	return r.IncludeSalientSessions == nil || *r.IncludeSalientSessions
}

func (r *Request) deterministic() bool {
	return r.Deterministic == nil || *r.Deterministic
}

// Trace entry types.
const (
	TraceToolCall    = "tool_call"
	TraceFinalAnswer = "final_answer"
)

// TraceEntry is one recorded step of the tool loop: either a tool call with
// its arguments and result, or the final answer.
type TraceEntry struct {
	Type          string         `json:"type"`
	Name          string         `json:"name,omitempty"`
	Arguments     map[string]any `json:"arguments,omitempty"`
	ResultPreview any            `json:"result_preview,omitempty"`
	Content       string         `json:"content,omitempty"`
}

// InputPreview exposes the exact prompt material sent to the provider.
type InputPreview struct {
	SystemPrompt string        `json:"system_prompt"`
	UserMessage  string        `json:"user_message"`
	Messages     []llm.Message `json:"messages"`
}

// Audit records the provenance of one interpret response.
type Audit struct {
	RequestID         string           `json:"request_id"`
	GeneratedAtUTC    string           `json:"generated_at_utc"`
	Provider          string           `json:"provider"`
	Model             string           `json:"model"`
	Language          string           `json:"language"`
	Deterministic     bool             `json:"deterministic"`
	Levels            []string         `json:"levels"`
	Window            query.WindowMeta `json:"window"`
	PromptGenericKey  string           `json:"prompt_generic_key,omitempty"`
	PromptGenericPath string           `json:"prompt_generic_path,omitempty"`
	PromptPrivateKey  string           `json:"prompt_private_key,omitempty"`
	PromptPrivatePath string           `json:"prompt_private_path,omitempty"`
	ToolHints         []string         `json:"tool_hints,omitempty"`
	Usage             llm.Usage        `json:"usage"`
	ResolverUsage     *llm.Usage       `json:"resolver_usage,omitempty"`
}

// Response is the interpret call result.
type Response struct {
	Answer       string        `json:"answer"`
	Context      any           `json:"context,omitempty"`
	InputPreview *InputPreview `json:"input_preview,omitempty"`
	ToolTrace    []TraceEntry  `json:"tool_trace,omitempty"`
	Audit        Audit         `json:"audit"`
}
