package llm

import (
	"fmt"
	"strings"
	"time"
)

// Provider names accepted by BuildProvider. "mistral" and "openai" share
// the same wire format and differ only in defaults supplied by config.
const (
	ProviderMistral = "mistral"
	ProviderOpenAI  = "openai"
	ProviderEcho    = "echo"
)

// BuildProvider selects a provider implementation by name.
func BuildProvider(name, apiKey, baseURL string, timeout time.Duration) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case ProviderMistral, ProviderOpenAI:
		return NewHTTPProvider(apiKey, baseURL, timeout)
	case ProviderEcho:
		return EchoProvider{}, nil
	default:
		return nil, &ConfigurationError{Reason: fmt.Sprintf("unsupported provider %q", name)}
	}
}
