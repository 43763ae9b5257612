// Package llm is the uniform adapter over completion backends: plain
// completions and tool-augmented completions against any OpenAI-compatible
// chat completions endpoint, plus a deterministic echo stub for tests and
// offline runs.
package llm

import "context"

// Message is one conversation turn on the chat completions wire format.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// Turn roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the requested operation name and its raw JSON
// argument payload.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolSchema is one published tool in OpenAI function-tool form.
type ToolSchema struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction describes a callable operation and its parameter schema.
type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Usage counts tokens for one or more completions.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another completion's usage.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// CompletionRequest is a plain text completion call.
type CompletionRequest struct {
	Messages    []Message
	Model       string
	Temperature float64
	MaxTokens   int
}

// ToolCompletionRequest is a completion call that may answer with tool-call
// requests instead of text.
type ToolCompletionRequest struct {
	Messages    []Message
	Tools       []ToolSchema
	Model       string
	Temperature float64
	MaxTokens   int
}

// ToolCompletion is the result of a tool-augmented completion round.
type ToolCompletion struct {
	Message      Message
	Usage        Usage
	FinishReason string
}

// Provider is the uniform completion backend interface.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (string, Usage, error)
	CompleteWithTools(ctx context.Context, req ToolCompletionRequest) (*ToolCompletion, error)
}
