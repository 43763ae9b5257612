package interpret

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ttommys/trainos/internal/config"
	"github.com/ttommys/trainos/internal/llm"
	"github.com/ttommys/trainos/internal/prompts"
	"github.com/ttommys/trainos/internal/query"
	"github.com/ttommys/trainos/internal/store"
	"github.com/ttommys/trainos/internal/timeref"
	"github.com/ttommys/trainos/internal/tools"
)

const behaviorContract = "You are the training log analysis assistant. " +
	"You must interpret the provided structured context only. " +
	"Do not invent missing facts. " +
	"If information is missing, say it explicitly. " +
	"Focus on concise coaching insights and deterministic reasoning."

const toolModeInstruction = "Use tools to fetch only the minimum data required to answer accurately. " +
	"Prefer calling data tools directly with explicit ISO dates/ranges whenever you can infer them from the user query. " +
	"Use temporal_ref only when ISO values are not explicit or are relative/ambiguous (e.g., last monday, last month). " +
	"For comparisons of two explicit periods, call get_block_summary for each range directly; do not call resolve_time_reference first."

// fallbackAnswer is returned when the tool loop exhausts its round budget
// without producing a final answer.
const fallbackAnswer = "I could not complete the tool workflow for this request."

// Service orchestrates one interpretation request: prompt resolution,
// provider construction, then either a single context-stuffed completion or
// the bounded tool loop.
type Service struct {
	cfg     *config.Config
	reader  query.Reader
	prompts *prompts.Repository
	log     *zap.Logger

	// replaced in tests to inject stub providers
	buildProvider func(name string) (llm.Provider, error)
}

func NewService(cfg *config.Config, reader query.Reader, repo *prompts.Repository, log *zap.Logger) *Service {
	s := &Service{
		cfg:     cfg,
		reader:  reader,
		prompts: repo,
		log:     log,
	}
	s.buildProvider = func(name string) (llm.Provider, error) {
		timeout := time.Duration(cfg.Provider.TimeoutSeconds) * time.Second
		return llm.BuildProvider(name, cfg.Provider.APIKey, cfg.Provider.BaseURL, timeout)
	}
	return s
}

// Interpret answers one request. Tool mode runs the bounded orchestration
// loop; the echo provider and disabled tools fall back to a single
// completion over the pre-built aggregate context.
func (s *Service) Interpret(ctx context.Context, req Request) (*Response, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}

	language := resolveLanguage(req.Language, s.cfg.LLM.UserLanguage, s.cfg.LLM.DefaultLanguage)
	defaultLanguage := strings.ToLower(strings.TrimSpace(s.cfg.LLM.DefaultLanguage))
	if defaultLanguage == "" {
		defaultLanguage = config.DefaultLanguage
	}

	bundle, err := s.resolvePrompts(&req, language, defaultLanguage)
	if err != nil {
		return nil, err
	}

	systemPrompt := assembleSystemPrompt(bundle)

	providerName := strings.TrimSpace(req.Provider)
	if providerName == "" {
		providerName = s.cfg.Provider.Name
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = s.cfg.Provider.Model
	}
	temperature := s.cfg.LLM.Temperature
	if req.deterministic() {
		temperature = 0
	}

	provider, err := s.buildProvider(providerName)
	if err != nil {
		return nil, err
	}

	run := runContext{
		req:          req,
		provider:     provider,
		providerName: providerName,
		model:        model,
		temperature:  temperature,
		language:     language,
		systemPrompt: systemPrompt,
		bundle:       bundle,
	}

	if s.cfg.LLM.ToolsEnabled && !strings.EqualFold(providerName, llm.ProviderEcho) {
		return s.interpretWithTools(ctx, run)
	}
	return s.interpretLegacy(ctx, run)
}

// runContext carries the per-request collaborators resolved before the
// legacy/tool-mode split.
type runContext struct {
	req          Request
	provider     llm.Provider
	providerName string
	model        string
	temperature  float64
	language     string
	systemPrompt string
	bundle       *prompts.Bundle
}

func (s *Service) resolvePrompts(req *Request, language, defaultLanguage string) (*prompts.Bundle, error) {
	var generic []string
	if req.GenericPromptKey != "" {
		generic = []string{req.GenericPromptKey}
	} else {
		generic = candidateKeys(s.cfg.LLM.GenericPromptBasename, language, defaultLanguage)
	}

	var private []string
	switch {
	case req.PrivatePromptKey != "":
		private = candidateKeys(req.PrivatePromptKey, language, defaultLanguage)
	case s.cfg.LLM.PrivatePromptBasename != "":
		private = candidateKeys(s.cfg.LLM.PrivatePromptBasename, language, defaultLanguage)
	}
	if base := s.cfg.LLM.PrivateTemplateBasename; base != "" {
		private = append(private, candidateKeys(base, language, defaultLanguage)...)
	}

	return s.prompts.ResolveFromCandidates(generic, private, req.PrivatePromptKey != "")
}

func (s *Service) interpretLegacy(ctx context.Context, run runContext) (*Response, error) {
	window, err := resolveRequestWindow(run.req, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	aggregate, err := query.NewService(s.reader).BuildContext(ctx, query.ContextRequest{
		Window:                 window,
		Levels:                 run.req.Levels,
		MaxSessionsPerLevel:    run.req.MaxSessionsPerLevel,
		MultiWeekCount:         run.req.MultiWeekCount,
		IncludeSalient:         run.req.includeSalient(),
		SalientDistanceKm:      run.req.SalientDistanceKmThreshold,
		SalientDurationMinutes: run.req.SalientDurationMinutesThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("build context: %w", err)
	}

	userPayload := struct {
		Constraints struct {
			InterpretNotCompute bool `json:"interpret_not_compute"`
			MaxBullets          int  `json:"max_bullets"`
		} `json:"constraints"`
		Context   *query.Context `json:"context"`
		Question  string         `json:"question"`
		ToolHints []string       `json:"tool_hints"`
	}{
		Context:   aggregate,
		Question:  run.req.Query,
		ToolHints: run.req.ToolHints,
	}
	userPayload.Constraints.InterpretNotCompute = true
	userPayload.Constraints.MaxBullets = 8

	userMessage, err := json.Marshal(userPayload)
	if err != nil {
		return nil, fmt.Errorf("encode user payload: %w", err)
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: run.systemPrompt},
		{Role: llm.RoleUser, Content: string(userMessage)},
	}

	answer, usage, err := run.provider.Complete(ctx, llm.CompletionRequest{
		Messages:    messages,
		Model:       run.model,
		Temperature: run.temperature,
		MaxTokens:   s.cfg.LLM.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	resp := &Response{
		Answer: answer,
		Audit:  s.newAudit(run, run.req.Levels, aggregate.Meta.Window, usage, nil),
	}
	if run.req.IncludeContextInResponse {
		resp.Context = aggregate
	}
	if run.req.IncludeInputPreview {
		resp.InputPreview = &InputPreview{
			SystemPrompt: run.systemPrompt,
			UserMessage:  string(userMessage),
			Messages:     messages,
		}
	}
	return resp, nil
}

// loopState is the explicit per-round accumulation of the tool loop.
type loopState struct {
	messages []llm.Message
	trace    []TraceEntry
	usage    llm.Usage
	rounds   int
	answer   string
	done     bool
}

func (s *Service) interpretWithTools(ctx context.Context, run runContext) (*Response, error) {
	now := time.Now().UTC()
	nowISO := now.Format(store.DateLayout)

	userPayload := struct {
		CurrentUTCDate     string `json:"current_utc_date"`
		Question           string `json:"question"`
		NowISODate         string `json:"now_iso_date"`
		Locale             string `json:"locale"`
		FallbackAnchorYear *int   `json:"fallback_anchor_year"`
		FallbackAnchorWeek *int   `json:"fallback_anchor_week"`
		Instruction        string `json:"instruction"`
	}{
		CurrentUTCDate:     nowISO,
		Question:           run.req.Query,
		NowISODate:         nowISO,
		Locale:             run.language,
		FallbackAnchorYear: run.req.AnchorYear,
		FallbackAnchorWeek: run.req.AnchorWeek,
		Instruction:        toolModeInstruction,
	}
	userMessage, err := json.Marshal(userPayload)
	if err != nil {
		return nil, fmt.Errorf("encode user payload: %w", err)
	}

	systemContent := run.systemPrompt + "\n\n" +
		"Current UTC date anchor: " + nowISO + ".\n" +
		"Tool mode is enabled. You MUST use tools when data is needed. " +
		"Do not claim missing data before trying appropriate tools. " +
		"Prefer minimal tool calls and minimal data volume."

	state := loopState{
		messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemContent},
			{Role: llm.RoleUser, Content: string(userMessage)},
		},
		trace: []TraceEntry{},
	}

	dispatcher := tools.NewDispatcher(s.reader)
	resolver := timeref.NewLLMResolver(run.provider, run.model)
	schemas := tools.Schemas()
	maxRounds := s.cfg.LLM.MaxToolCalls + 1

	for state.rounds = 0; state.rounds < maxRounds && !state.done; state.rounds++ {
		completion, err := run.provider.CompleteWithTools(ctx, llm.ToolCompletionRequest{
			Messages:    state.messages,
			Tools:       schemas,
			Model:       run.model,
			Temperature: run.temperature,
			MaxTokens:   s.cfg.LLM.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		state.usage.Add(completion.Usage)

		if len(completion.Message.ToolCalls) == 0 {
			state.answer = strings.TrimSpace(completion.Message.Content)
			state.trace = append(state.trace, TraceEntry{Type: TraceFinalAnswer, Content: state.answer})
			state.done = true
			break
		}

		state.messages = append(state.messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   strings.TrimSpace(completion.Message.Content),
			ToolCalls: completion.Message.ToolCalls,
		})

		for _, call := range completion.Message.ToolCalls {
			if err := s.executeToolCall(ctx, &state, dispatcher, resolver, call, now); err != nil {
				return nil, err
			}
			if state.done {
				break
			}
		}
	}

	if state.answer == "" {
		state.answer = fallbackAnswer
	}

	resolverUsage := resolver.Usage()
	var resolverBlock *llm.Usage
	if resolverUsage.TotalTokens > 0 || resolverUsage.PromptTokens > 0 || resolverUsage.CompletionTokens > 0 {
		resolverBlock = &resolverUsage
	}

	resp := &Response{
		Answer:    state.answer,
		ToolTrace: state.trace,
		Audit:     s.newAudit(run, []string{"tools"}, query.WindowMeta{}, state.usage, resolverBlock),
	}
	if run.req.IncludeContextInResponse {
		resp.Context = map[string]any{"tool_trace": state.trace}
	}
	if run.req.IncludeInputPreview {
		resp.InputPreview = &InputPreview{
			SystemPrompt: systemContent,
			UserMessage:  string(userMessage),
			Messages:     state.messages,
		}
	}
	return resp, nil
}

// executeToolCall runs one requested tool and appends the trace entry and
// tool turn. A submit_final_answer call captures the answer and ends the
// loop. Validation errors propagate to the request boundary uncaught.
func (s *Service) executeToolCall(ctx context.Context, state *loopState, dispatcher *tools.Dispatcher, resolver timeref.Resolver, call llm.ToolCall, now time.Time) error {
	name := call.Function.Name

	args := map[string]any{}
	if raw := call.Function.Arguments; raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			s.log.Debug("malformed tool arguments", zap.String("tool", name), zap.Error(err))
			args = map[string]any{}
		}
	}

	result, err := dispatcher.Execute(ctx, name, args, resolver, now)
	if err != nil {
		return err
	}

	state.trace = append(state.trace, TraceEntry{
		Type:          TraceToolCall,
		Name:          name,
		Arguments:     args,
		ResultPreview: result,
	})

	content, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode tool result: %w", err)
	}
	state.messages = append(state.messages, llm.Message{
		Role:       llm.RoleTool,
		ToolCallID: call.ID,
		Name:       name,
		Content:    string(content),
	})

	if name == tools.NameSubmitFinalAnswer {
		if answer, ok := args["answer"].(string); ok {
			state.answer = strings.TrimSpace(answer)
		}
		state.trace = append(state.trace, TraceEntry{Type: TraceFinalAnswer, Content: state.answer})
		state.done = true
	}
	return nil
}

func (s *Service) newAudit(run runContext, levels []string, window query.WindowMeta, usage llm.Usage, resolverUsage *llm.Usage) Audit {
	return Audit{
		RequestID:         uuid.NewString(),
		GeneratedAtUTC:    time.Now().UTC().Format(time.RFC3339),
		Provider:          run.providerName,
		Model:             run.model,
		Language:          run.language,
		Deterministic:     run.req.deterministic(),
		Levels:            levels,
		Window:            window,
		PromptGenericKey:  run.bundle.GenericKey,
		PromptGenericPath: run.bundle.GenericPath,
		PromptPrivateKey:  run.bundle.PrivateKey,
		PromptPrivatePath: run.bundle.PrivatePath,
		ToolHints:         run.req.ToolHints,
		Usage:             usage,
		ResolverUsage:     resolverUsage,
	}
}

// resolveRequestWindow maps the request's optional window selection onto a
// concrete ISO-week-anchored window.
func resolveRequestWindow(req Request, today time.Time) (query.Window, error) {
	input := query.WindowInput{
		AnchorYear: req.AnchorYear,
		AnchorWeek: req.AnchorWeek,
	}
	if req.DateStart != "" {
		start, err := store.ParseDate(req.DateStart)
		if err != nil {
			return query.Window{}, &RequestError{Reason: "date_start must be YYYY-MM-DD"}
		}
		input.DateStart = &start
	}
	if req.DateEnd != "" {
		end, err := store.ParseDate(req.DateEnd)
		if err != nil {
			return query.Window{}, &RequestError{Reason: "date_end must be YYYY-MM-DD"}
		}
		input.DateEnd = &end
	}
	return query.ResolveWindow(input, today), nil
}

func assembleSystemPrompt(bundle *prompts.Bundle) string {
	parts := []string{behaviorContract, bundle.GenericText}
	if bundle.PrivateText != "" {
		parts = append(parts, bundle.PrivateText)
	}
	var kept []string
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}
	return strings.Join(kept, "\n\n")
}

// candidateKeys orders prompt lookup keys: language-qualified, then
// default-language-qualified, then bare.
func candidateKeys(base, language, defaultLanguage string) []string {
	return []string{
		base + "." + language,
		base + "." + defaultLanguage,
		base,
	}
}

func resolveLanguage(requested, userDefault, systemDefault string) string {
	for _, candidate := range []string{requested, userDefault, systemDefault} {
		if trimmed := strings.ToLower(strings.TrimSpace(candidate)); trimmed != "" {
			return trimmed
		}
	}
	return config.DefaultLanguage
}
