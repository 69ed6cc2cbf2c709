package llm

import "context"

// Client is the interface the orchestration loop depends on. The model
// service is an opaque function-calling endpoint: instructions, tool
// schemas and messages in, text or tool-call requests out.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
