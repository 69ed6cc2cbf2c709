// Package llm provides the model service client.
package llm

import "time"

// Message represents a chat message for the model.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall represents a tool call requested by the model.
type ToolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

// NewToolCall builds a ToolCall for name and args. Mostly useful in tests
// and fakes; the wire decoder fills the struct directly.
func NewToolCall(name string, args map[string]any) ToolCall {
	var tc ToolCall
	tc.Function.Name = name
	tc.Function.Arguments = args
	return tc
}

// ChatResponse is the reply from one model round trip. When the model
// requests tools, Message.ToolCalls is non-empty and Content may be
// blank; otherwise Content carries the final text.
type ChatResponse struct {
	Model     string
	CreatedAt time.Time
	Message   Message

	InputTokens  int
	OutputTokens int
}

// Empty reports whether the reply carries neither text nor tool calls.
// Callers treat an empty reply as a model failure.
func (r *ChatResponse) Empty() bool {
	return r == nil || (r.Message.Content == "" && len(r.Message.ToolCalls) == 0)
}
