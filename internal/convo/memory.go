package convo

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore keeps conversations in process memory for tests and the
// one-shot ask command.
type InMemoryStore struct {
	mu       sync.Mutex
	nextConv int64
	nextMsg  int64
	convs    map[int64]*Conversation
	messages map[int64][]Message // conversation id -> ordered messages
}

// NewInMemoryStore creates an empty in-memory conversation store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		convs:    make(map[int64]*Conversation),
		messages: make(map[int64][]Message),
	}
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) GetOrCreate(ctx context.Context, userID string, id int64) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == 0 {
		s.nextConv++
		now := time.Now().UTC()
		c := &Conversation{ID: s.nextConv, UserID: userID, CreatedAt: now, UpdatedAt: now}
		s.convs[c.ID] = c
		cp := *c
		return &cp, nil
	}

	c, ok := s.convs[id]
	if !ok || c.UserID != userID {
		return nil, ErrForbidden
	}
	cp := *c
	return &cp, nil
}

func (s *InMemoryStore) AppendTurn(ctx context.Context, userID string, convID int64, userText, reply string, calls []ToolCallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[convID]
	if !ok || c.UserID != userID {
		return ErrForbidden
	}

	now := time.Now().UTC()
	s.nextMsg++
	s.messages[convID] = append(s.messages[convID], Message{
		ID:             s.nextMsg,
		ConversationID: convID,
		Role:           RoleUser,
		Content:        userText,
		CreatedAt:      now,
	})
	s.nextMsg++
	s.messages[convID] = append(s.messages[convID], Message{
		ID:             s.nextMsg,
		ConversationID: convID,
		Role:           RoleAssistant,
		Content:        reply,
		ToolCalls:      calls,
		CreatedAt:      now,
	})
	c.UpdatedAt = now
	return nil
}

func (s *InMemoryStore) Recent(ctx context.Context, userID string, convID int64, n int) ([]Message, error) {
	msgs, err := s.Messages(ctx, userID, convID)
	if err != nil {
		return nil, err
	}
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs, nil
}

func (s *InMemoryStore) List(ctx context.Context, userID string, limit int) ([]Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Conversation
	for _, c := range s.convs {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	// Most recently updated first.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].UpdatedAt.After(out[i].UpdatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) Messages(ctx context.Context, userID string, convID int64) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[convID]
	if !ok || c.UserID != userID {
		return nil, ErrForbidden
	}

	msgs := make([]Message, len(s.messages[convID]))
	copy(msgs, s.messages[convID])
	return msgs, nil
}

func (s *InMemoryStore) Delete(ctx context.Context, userID string, convID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[convID]
	if !ok || c.UserID != userID {
		return ErrForbidden
	}

	delete(s.convs, convID)
	delete(s.messages, convID)
	return nil
}
