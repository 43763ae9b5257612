package timeref

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/ttommys/trainos/internal/llm"
)

const resolverSystemPrompt = "You resolve temporal expressions into either a single date or an explicit date range. " +
	"Return strict JSON only with keys: mode, reference_date_iso, range_start_iso, range_end_iso, label. " +
	"mode must be exactly one of: date, range. " +
	"For mode=date, provide reference_date_iso (YYYY-MM-DD). " +
	"For mode=range, provide range_start_iso and range_end_iso (YYYY-MM-DD)."

const resolverMaxTokens = 300

// LLMResolver is a model-backed resolving delegate. It issues one plain
// completion with a strict-JSON instruction and tolerantly extracts the
// fields from whatever the model returns. Provider failures propagate;
// unusable output yields a zero Raw that Normalize turns into the now-date
// fallback.
//
// Token usage is accumulated across calls and reported separately from the
// orchestration loop's own usage.
type LLMResolver struct {
	provider llm.Provider
	model    string
	usage    llm.Usage
}

// NewLLMResolver binds a resolver to a provider and model.
func NewLLMResolver(provider llm.Provider, model string) *LLMResolver {
	return &LLMResolver{provider: provider, model: model}
}

// Usage returns the tokens consumed by resolver calls so far.
func (r *LLMResolver) Usage() llm.Usage {
	return r.usage
}

// Resolve asks the model to interpret the phrase.
func (r *LLMResolver) Resolve(ctx context.Context, phrase, nowISO, language string) (Raw, error) {
	userPayload, err := json.Marshal(map[string]string{
		"query":         phrase,
		"now_iso_date":  nowISO,
		"language":      language,
		"calendar_hint": "Use ISO calendar logic when the query refers to weeks.",
	})
	if err != nil {
		return Raw{}, err
	}

	text, usage, err := r.provider.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: resolverSystemPrompt},
			{Role: llm.RoleUser, Content: string(userPayload)},
		},
		Model:       r.model,
		Temperature: 0,
		MaxTokens:   resolverMaxTokens,
	})
	if err != nil {
		return Raw{}, err
	}
	r.usage.Add(usage)

	return parseRaw(text), nil
}

// parseRaw extracts the resolver fields from model output, tolerating code
// fences and surrounding prose around the JSON object.
func parseRaw(text string) Raw {
	fragment := extractJSONObject(text)
	if fragment == "" {
		return Raw{}
	}
	parsed := gjson.Parse(fragment)
	if !parsed.IsObject() {
		return Raw{}
	}
	return Raw{
		Mode:          parsed.Get("mode").String(),
		ReferenceDate: parsed.Get("reference_date_iso").String(),
		RangeStart:    parsed.Get("range_start_iso").String(),
		RangeEnd:      parsed.Get("range_end_iso").String(),
		Label:         parsed.Get("label").String(),
	}
}

func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
