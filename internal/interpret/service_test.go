package interpret

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ttommys/trainos/internal/config"
	"github.com/ttommys/trainos/internal/llm"
	"github.com/ttommys/trainos/internal/prompts"
	"github.com/ttommys/trainos/internal/store"
	"github.com/ttommys/trainos/internal/tools"
)

type stubReader struct {
	sessions []store.Session
	notes    []store.DayNote
}

func (r *stubReader) SessionsInRange(_ context.Context, start, end time.Time) ([]store.Session, error) {
	var out []store.Session
	for _, s := range r.sessions {
		if !s.Date.Before(start) && !s.Date.After(end) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *stubReader) DayNotesInRange(_ context.Context, start, end time.Time) ([]store.DayNote, error) {
	var out []store.DayNote
	for _, n := range r.notes {
		if !n.Date.Before(start) && !n.Date.After(end) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (r *stubReader) DayNote(_ context.Context, day time.Time) (*store.DayNote, error) {
	for _, n := range r.notes {
		if n.Date.Equal(day) {
			note := n
			return &note, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *stubReader) WeeklyPlan(_ context.Context, _, _ int) (*store.WeeklyPlan, error) {
	return nil, store.ErrNotFound
}

func (r *stubReader) SessionByID(_ context.Context, id int64) (*store.Session, error) {
	for _, s := range r.sessions {
		if s.ID == id {
			session := s
			return &session, nil
		}
	}
	return nil, store.ErrNotFound
}

// countingProvider scripts CompleteWithTools responses and counts rounds.
type countingProvider struct {
	calls    int
	response func(round int) *llm.ToolCompletion
}

func (p *countingProvider) Complete(_ context.Context, _ llm.CompletionRequest) (string, llm.Usage, error) {
	return "", llm.Usage{}, nil
}

func (p *countingProvider) CompleteWithTools(_ context.Context, _ llm.ToolCompletionRequest) (*llm.ToolCompletion, error) {
	p.calls++
	return p.response(p.calls), nil
}

func toolCallCompletion(name, arguments string) *llm.ToolCompletion {
	return &llm.ToolCompletion{
		Message: llm.Message{
			Role: llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{{
				ID:   "call-1",
				Type: "function",
				Function: llm.FunctionCall{
					Name:      name,
					Arguments: arguments,
				},
			}},
		},
		Usage:        llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		FinishReason: "tool_calls",
	}
}

func newTestService(t *testing.T, providerName string, provider llm.Provider, reader *stubReader) *Service {
	t.Helper()

	promptsDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(promptsDir, "generic"), 0755))
	require.NoError(t, os.WriteFile(
		filepath.Join(promptsDir, "generic", "weekly_analysis_v1.txt"),
		[]byte("Analyze the training data."), 0644))

	cfg := config.DefaultConfig()
	cfg.Provider.Name = providerName
	cfg.Provider.Model = "test-model"
	cfg.LLM.MaxToolCalls = 2
	cfg.LLM.PromptsDir = promptsDir

	svc := NewService(cfg, reader, prompts.NewRepository(promptsDir), zap.NewNop())
	svc.buildProvider = func(string) (llm.Provider, error) {
		return provider, nil
	}
	return svc
}

func TestInterpret_ToolBudgetExhausted(t *testing.T) {
	provider := &countingProvider{
		response: func(int) *llm.ToolCompletion {
			return toolCallCompletion(tools.NameSessionDetails, `{"session_id": 999}`)
		},
	}
	svc := newTestService(t, "mistral", provider, &stubReader{})

	resp, err := svc.Interpret(context.Background(), Request{Query: "how was my week?"})
	require.NoError(t, err)

	// maxToolCalls+1 rounds, then the fixed fallback
	assert.Equal(t, 3, provider.calls)
	assert.Equal(t, fallbackAnswer, resp.Answer)
	assert.Len(t, resp.ToolTrace, 3)
	for _, entry := range resp.ToolTrace {
		assert.Equal(t, TraceToolCall, entry.Type)
		assert.Equal(t, tools.NameSessionDetails, entry.Name)
	}
	assert.Equal(t, 45, resp.Audit.Usage.TotalTokens)
	assert.Nil(t, resp.Audit.ResolverUsage)
}

func TestInterpret_SubmitFinalAnswer(t *testing.T) {
	provider := &countingProvider{
		response: func(int) *llm.ToolCompletion {
			return toolCallCompletion(tools.NameSubmitFinalAnswer, `{"answer": "Easy week, one long run."}`)
		},
	}
	svc := newTestService(t, "mistral", provider, &stubReader{})

	resp, err := svc.Interpret(context.Background(), Request{Query: "summarize"})
	require.NoError(t, err)

	assert.Equal(t, 1, provider.calls)
	assert.Equal(t, "Easy week, one long run.", resp.Answer)
	require.Len(t, resp.ToolTrace, 2)
	assert.Equal(t, TraceToolCall, resp.ToolTrace[0].Type)
	assert.Equal(t, TraceFinalAnswer, resp.ToolTrace[1].Type)
	assert.Equal(t, "Easy week, one long run.", resp.ToolTrace[1].Content)
}

func TestInterpret_TextAnswer(t *testing.T) {
	provider := &countingProvider{
		response: func(int) *llm.ToolCompletion {
			return &llm.ToolCompletion{
				Message:      llm.Message{Role: llm.RoleAssistant, Content: "All good."},
				FinishReason: "stop",
			}
		},
	}
	svc := newTestService(t, "mistral", provider, &stubReader{})

	resp, err := svc.Interpret(context.Background(), Request{Query: "status?"})
	require.NoError(t, err)

	assert.Equal(t, 1, provider.calls)
	assert.Equal(t, "All good.", resp.Answer)
	require.Len(t, resp.ToolTrace, 1)
	assert.Equal(t, TraceFinalAnswer, resp.ToolTrace[0].Type)
}

func TestInterpret_ToolsThenAnswer(t *testing.T) {
	date, _ := store.ParseDate("2026-02-16")
	reader := &stubReader{
		sessions: []store.Session{{
			ID:              1,
			Date:            date,
			Type:            store.TypeRun,
			DurationMinutes: 60,
		}},
	}
	provider := &countingProvider{
		response: func(round int) *llm.ToolCompletion {
			if round == 1 {
				return toolCallCompletion(tools.NameWeekSummary, `{"date_iso": "2026-02-16"}`)
			}
			return &llm.ToolCompletion{
				Message:      llm.Message{Role: llm.RoleAssistant, Content: "One run, sixty minutes."},
				FinishReason: "stop",
			}
		},
	}
	svc := newTestService(t, "mistral", provider, reader)

	resp, err := svc.Interpret(context.Background(), Request{
		Query:               "what did I do that week?",
		IncludeInputPreview: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, provider.calls)
	assert.Equal(t, "One run, sixty minutes.", resp.Answer)
	require.Len(t, resp.ToolTrace, 2)
	assert.Equal(t, TraceToolCall, resp.ToolTrace[0].Type)
	assert.Equal(t, tools.NameWeekSummary, resp.ToolTrace[0].Name)
	assert.Equal(t, TraceFinalAnswer, resp.ToolTrace[1].Type)

	require.NotNil(t, resp.InputPreview)
	// system + user + assistant(tool call) + tool result
	assert.Len(t, resp.InputPreview.Messages, 4)
	assert.Equal(t, llm.RoleTool, resp.InputPreview.Messages[3].Role)
}

func TestInterpret_ValidationErrorPropagates(t *testing.T) {
	provider := &countingProvider{
		response: func(int) *llm.ToolCompletion {
			return toolCallCompletion("not_a_tool", `{}`)
		},
	}
	svc := newTestService(t, "mistral", provider, &stubReader{})

	_, err := svc.Interpret(context.Background(), Request{Query: "hm"})
	var verr *tools.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestInterpret_EchoUsesLegacyPath(t *testing.T) {
	svc := newTestService(t, "echo", llm.EchoProvider{}, &stubReader{})

	resp, err := svc.Interpret(context.Background(), Request{
		Query:                    "echo me",
		IncludeContextInResponse: true,
	})
	require.NoError(t, err)

	// the echo answer is the serialized user payload
	assert.Contains(t, resp.Answer, `"question":"echo me"`)
	assert.NotNil(t, resp.Context)
	assert.Empty(t, resp.ToolTrace)
	assert.Equal(t, []string{"week"}, resp.Audit.Levels)
	assert.NotEmpty(t, resp.Audit.Window.DateStart)
	assert.NotEmpty(t, resp.Audit.RequestID)
	assert.Equal(t, "weekly_analysis_v1", resp.Audit.PromptGenericKey)
}

func TestInterpret_RequestValidation(t *testing.T) {
	svc := newTestService(t, "echo", llm.EchoProvider{}, &stubReader{})

	cases := []struct {
		name string
		req  Request
	}{
		{"missing query", Request{}},
		{"unknown level", Request{Query: "q", Levels: []string{"bogus"}}},
		{"multi week count too high", Request{Query: "q", MultiWeekCount: 25}},
		{"session cap too high", Request{Query: "q", MaxSessionsPerLevel: 501}},
		{"bad date", Request{Query: "q", DateStart: "02/16/2026", DateEnd: "2026-02-22"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Interpret(context.Background(), tc.req)
			var rerr *RequestError
			assert.ErrorAs(t, err, &rerr)
		})
	}
}

func TestInterpret_PromptNotFound(t *testing.T) {
	svc := newTestService(t, "echo", llm.EchoProvider{}, &stubReader{})
	svc.prompts = prompts.NewRepository(t.TempDir())

	_, err := svc.Interpret(context.Background(), Request{Query: "q"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, prompts.ErrPromptNotFound))
}

func TestCandidateKeys(t *testing.T) {
	keys := candidateKeys("weekly_analysis_v1", "fr", "en")
	assert.Equal(t, []string{
		"weekly_analysis_v1.fr",
		"weekly_analysis_v1.en",
		"weekly_analysis_v1",
	}, keys)
}

func TestResolveLanguage(t *testing.T) {
	assert.Equal(t, "fr", resolveLanguage(" FR ", "es", "en"))
	assert.Equal(t, "es", resolveLanguage("", "es", "en"))
	assert.Equal(t, "en", resolveLanguage("", "", ""))
}
