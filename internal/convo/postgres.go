package convo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists conversations in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL and ensures the schema.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initConvoSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// NewPostgresStoreFromPool wraps a pool shared with the task store.
func NewPostgresStoreFromPool(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if err := initConvoSchema(ctx, pool); err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initConvoSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations (user_id, updated_at);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_calls TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at, id);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init convo schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) GetOrCreate(ctx context.Context, userID string, id int64) (*Conversation, error) {
	if id == 0 {
		now := time.Now().UTC()
		var newID int64
		err := s.pool.QueryRow(ctx, `
			INSERT INTO conversations (user_id, created_at, updated_at)
			VALUES ($1, $2, $2) RETURNING id
		`, userID, now).Scan(&newID)
		if err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
		return &Conversation{ID: newID, UserID: userID, CreatedAt: now, UpdatedAt: now}, nil
	}

	return s.owned(ctx, userID, id)
}

func (s *PostgresStore) owned(ctx context.Context, userID string, id int64) (*Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, created_at, updated_at
		FROM conversations WHERE id = $1 AND user_id = $2
	`, id, userID)

	var c Conversation
	if err := row.Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrForbidden
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) AppendTurn(ctx context.Context, userID string, convID int64, userText, reply string, calls []ToolCallRecord) error {
	if _, err := s.owned(ctx, userID, convID); err != nil {
		return err
	}

	callsJSON, err := marshalCalls(calls)
	if err != nil {
		return fmt.Errorf("encode tool calls: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		INSERT INTO messages (conversation_id, user_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, convID, userID, RoleUser, userText, now)
	if err != nil {
		return fmt.Errorf("insert user message: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO messages (conversation_id, user_id, role, content, tool_calls, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
	`, convID, userID, RoleAssistant, reply, callsJSON, now)
	if err != nil {
		return fmt.Errorf("insert assistant message: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE conversations SET updated_at = $1 WHERE id = $2`, now, convID)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) Recent(ctx context.Context, userID string, convID int64, n int) ([]Message, error) {
	if _, err := s.owned(ctx, userID, convID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, role, content, COALESCE(tool_calls, ''), created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, convID, n)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanPgMessages(rows)
	if err != nil {
		return nil, err
	}

	// Reverse into chronological order for prompt coherence.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *PostgresStore) List(ctx context.Context, userID string, limit int) ([]Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, created_at, updated_at
		FROM conversations
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

func (s *PostgresStore) Messages(ctx context.Context, userID string, convID int64) ([]Message, error) {
	if _, err := s.owned(ctx, userID, convID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, role, content, COALESCE(tool_calls, ''), created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC
	`, convID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	return scanPgMessages(rows)
}

func (s *PostgresStore) Delete(ctx context.Context, userID string, convID int64) error {
	if _, err := s.owned(ctx, userID, convID); err != nil {
		return err
	}

	// ON DELETE CASCADE removes the messages.
	if _, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, convID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

func scanPgMessages(rows pgx.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var m Message
		var calls string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &calls, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ToolCalls = unmarshalCalls(calls)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
