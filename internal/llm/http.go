package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPProvider talks to an OpenAI-compatible /chat/completions endpoint
// with bearer authentication. Mistral, OpenAI and most proxies share this
// wire shape.
type HTTPProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewHTTPProvider builds a network-backed provider. baseURL is the API root
// without the /chat/completions suffix.
func NewHTTPProvider(apiKey, baseURL string, timeout time.Duration) (*HTTPProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, &ConfigurationError{Reason: "api key is missing"}
	}
	if strings.TrimSpace(baseURL) == "" {
		return nil, &ConfigurationError{Reason: "base url is missing"}
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPProvider{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type chatRequest struct {
	Model       string       `json:"model"`
	Messages    []Message    `json:"messages"`
	Temperature float64      `json:"temperature"`
	MaxTokens   int          `json:"max_tokens"`
	Tools       []ToolSchema `json:"tools,omitempty"`
	ToolChoice  string       `json:"tool_choice,omitempty"`
}

// wireContent tolerates both string content and the part-list form some
// backends return.
type wireContent string

func (c *wireContent) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		*c = wireContent(plain)
		return nil
	}
	if string(data) == "null" {
		*c = ""
		return nil
	}
	var parts []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("unsupported content shape: %s", data)
	}
	texts := make([]string, 0, len(parts))
	for _, part := range parts {
		if part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	*c = wireContent(strings.TrimSpace(strings.Join(texts, "\n")))
	return nil
}

type wireMessage struct {
	Role      string      `json:"role"`
	Content   wireContent `json:"content"`
	ToolCalls []ToolCall  `json:"tool_calls"`
}

type chatResponse struct {
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// Complete performs a plain completion and returns the text and usage.
func (p *HTTPProvider) Complete(ctx context.Context, req CompletionRequest) (string, Usage, error) {
	decoded, err := p.send(ctx, chatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", Usage{}, err
	}
	if len(decoded.Choices) == 0 {
		return "", Usage{}, &ProviderError{Op: "complete", Err: fmt.Errorf("response has no choices")}
	}
	text := strings.TrimSpace(string(decoded.Choices[0].Message.Content))
	return text, decoded.Usage, nil
}

// CompleteWithTools performs a completion that may answer with tool-call
// requests.
func (p *HTTPProvider) CompleteWithTools(ctx context.Context, req ToolCompletionRequest) (*ToolCompletion, error) {
	decoded, err := p.send(ctx, chatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Tools:       req.Tools,
		ToolChoice:  "auto",
	})
	if err != nil {
		return nil, err
	}
	if len(decoded.Choices) == 0 {
		return nil, &ProviderError{Op: "complete_with_tools", Err: fmt.Errorf("response has no choices")}
	}
	choice := decoded.Choices[0]
	return &ToolCompletion{
		Message: Message{
			Role:      choice.Message.Role,
			Content:   strings.TrimSpace(string(choice.Message.Content)),
			ToolCalls: choice.Message.ToolCalls,
		},
		Usage:        decoded.Usage,
		FinishReason: choice.FinishReason,
	}, nil
}

func (p *HTTPProvider) send(ctx context.Context, body chatRequest) (*chatResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &ProviderError{Op: "encode request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, &ProviderError{Op: "create request", Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Op: "send request", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Op: "read response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProviderError{
			Op:  "chat completions",
			Err: fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))),
		}
	}

	var decoded chatResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, &ProviderError{Op: "decode response", Err: err}
	}
	return &decoded, nil
}
