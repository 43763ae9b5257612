package llm

import "fmt"

// ConfigurationError marks a client-correctable setup failure: a missing
// credential or an unknown provider selection. Never retried.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "llm configuration: " + e.Reason
}

// ProviderError marks an upstream failure: the backend is unreachable,
// times out, or returns an unexpected shape.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("llm provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
