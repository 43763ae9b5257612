package llm

import (
	"context"
	"strings"
)

// EchoProvider is the deterministic local stub: it answers with the
// concatenation of all user-turn contents, in order, and never requests a
// tool call.
type EchoProvider struct{}

func (EchoProvider) Complete(_ context.Context, req CompletionRequest) (string, Usage, error) {
	return joinUserTurns(req.Messages), Usage{}, nil
}

func (EchoProvider) CompleteWithTools(_ context.Context, req ToolCompletionRequest) (*ToolCompletion, error) {
	return &ToolCompletion{
		Message: Message{
			Role:    RoleAssistant,
			Content: joinUserTurns(req.Messages),
		},
		FinishReason: "stop",
	}, nil
}

func joinUserTurns(messages []Message) string {
	var contents []string
	for _, m := range messages {
		if m.Role == RoleUser {
			contents = append(contents, m.Content)
		}
	}
	return strings.Join(contents, "\n\n")
}
