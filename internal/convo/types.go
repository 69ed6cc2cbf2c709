// Package convo persists conversations and their append-only messages.
package convo

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrForbidden is returned when a conversation is not owned by the
// caller. A conversation that does not exist yields the same error, so
// callers cannot probe for other users' conversation IDs.
var ErrForbidden = errors.New("conversation access denied")

// Roles for persisted messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	// PageSize bounds conversation listings.
	PageSize = 20
)

// Conversation groups the messages of one chat thread for one user.
// The owner never changes after creation.
type Conversation struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ToolCallRecord is audit data for one tool invocation inside an
// assistant message: what the model asked for and what came back. It is
// descriptive only and never re-executed from storage.
type ToolCallRecord struct {
	Tool       string          `json:"tool"`
	Parameters map[string]any  `json:"parameters"`
	Result     json.RawMessage `json:"result"`
}

// Message is one turn's content. Messages are immutable once written;
// the conversation is an audit log, not a mutable document.
type Message struct {
	ID             int64            `json:"id"`
	ConversationID int64            `json:"conversation_id"`
	Role           string           `json:"role"`
	Content        string           `json:"content"`
	ToolCalls      []ToolCallRecord `json:"tool_calls,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Store persists conversations. Every method takes the owning user ID
// and scopes all access by it.
type Store interface {
	// GetOrCreate resolves conversation id for the user, creating a new
	// conversation when id is zero. Returns ErrForbidden when id names
	// a conversation the user does not own (or that does not exist).
	GetOrCreate(ctx context.Context, userID string, id int64) (*Conversation, error)

	// AppendTurn appends the user message and the assistant reply (with
	// its tool-call records) in order and advances the conversation's
	// updated_at. Both writes happen in one transaction: a turn is either
	// fully recorded or not at all.
	AppendTurn(ctx context.Context, userID string, convID int64, userText, reply string, calls []ToolCallRecord) error

	// Recent returns up to n of the most recent messages, oldest first.
	Recent(ctx context.Context, userID string, convID int64, n int) ([]Message, error)

	// List returns the user's conversations, most recently updated
	// first, bounded by limit.
	List(ctx context.Context, userID string, limit int) ([]Conversation, error)

	// Messages returns the full message history, oldest first.
	Messages(ctx context.Context, userID string, convID int64) ([]Message, error)

	// Delete removes a conversation and all its messages.
	Delete(ctx context.Context, userID string, convID int64) error

	Close() error
}

// marshalCalls serializes tool-call records for the JSON column.
// Returns empty for no calls so the column stays NULL.
func marshalCalls(calls []ToolCallRecord) (string, error) {
	if len(calls) == 0 {
		return "", nil
	}
	b, err := json.Marshal(calls)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// unmarshalCalls parses the JSON column back into records.
func unmarshalCalls(raw string) []ToolCallRecord {
	if raw == "" {
		return nil
	}
	var calls []ToolCallRecord
	if err := json.Unmarshal([]byte(raw), &calls); err != nil {
		return nil
	}
	return calls
}
