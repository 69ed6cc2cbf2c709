package convo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a SQLite-backed conversation store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the conversation database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

// NewSQLiteStoreFromDB wraps an existing handle shared with the task store.
func NewSQLiteStoreFromDB(db *sql.DB) (*SQLiteStore, error) {
	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id INTEGER NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tool_calls TEXT,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at, id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetOrCreate resolves or creates a conversation for the user.
func (s *SQLiteStore) GetOrCreate(ctx context.Context, userID string, id int64) (*Conversation, error) {
	if id == 0 {
		now := time.Now().UTC()
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO conversations (user_id, created_at, updated_at)
			VALUES (?, ?, ?)
		`, userID, now, now)
		if err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
		newID, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("conversation id: %w", err)
		}
		return &Conversation{ID: newID, UserID: userID, CreatedAt: now, UpdatedAt: now}, nil
	}

	return s.owned(ctx, userID, id)
}

// owned fetches a conversation, enforcing ownership. Missing and
// foreign conversations are both ErrForbidden.
func (s *SQLiteStore) owned(ctx context.Context, userID string, id int64) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, created_at, updated_at
		FROM conversations WHERE id = ? AND user_id = ?
	`, id, userID)

	var c Conversation
	if err := row.Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrForbidden
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	return &c, nil
}

// AppendTurn writes the user and assistant messages in one transaction.
func (s *SQLiteStore) AppendTurn(ctx context.Context, userID string, convID int64, userText, reply string, calls []ToolCallRecord) error {
	if _, err := s.owned(ctx, userID, convID); err != nil {
		return err
	}

	callsJSON, err := marshalCalls(calls)
	if err != nil {
		return fmt.Errorf("encode tool calls: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, user_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, convID, userID, RoleUser, userText, now)
	if err != nil {
		return fmt.Errorf("insert user message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, user_id, role, content, tool_calls, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, convID, userID, RoleAssistant, reply, nullable(callsJSON), now)
	if err != nil {
		return fmt.Errorf("insert assistant message: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, now, convID)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}

	return tx.Commit()
}

// Recent returns the last n messages in chronological order.
func (s *SQLiteStore) Recent(ctx context.Context, userID string, convID int64, n int) ([]Message, error) {
	if _, err := s.owned(ctx, userID, convID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, tool_calls, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, convID, n)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	// Reverse into chronological order for prompt coherence.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// List returns the user's conversations, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context, userID string, limit int) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, created_at, updated_at
		FROM conversations
		WHERE user_id = ?
		ORDER BY updated_at DESC
		LIMIT ?
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

// Messages returns the full history in chronological order.
func (s *SQLiteStore) Messages(ctx context.Context, userID string, convID int64) ([]Message, error) {
	if _, err := s.owned(ctx, userID, convID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, tool_calls, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC
	`, convID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// Delete removes a conversation and its messages.
func (s *SQLiteStore) Delete(ctx context.Context, userID string, convID int64) error {
	if _, err := s.owned(ctx, userID, convID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, convID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, convID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}

	return tx.Commit()
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var m Message
		var calls sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &calls, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if calls.Valid {
			m.ToolCalls = unmarshalCalls(calls.String)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// nullable stores empty strings as NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
