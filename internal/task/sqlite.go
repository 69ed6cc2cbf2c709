package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a SQLite-backed task store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the task database at dbPath.
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

// NewSQLiteStoreFromDB wraps an existing handle. The convo store and
// task store share one database file in the default deployment.
func NewSQLiteStoreFromDB(db *sql.DB) (*SQLiteStore, error) {
	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		task_number INTEGER NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		completed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (user_id, task_number)
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id, task_number);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Create inserts a task with the next per-user number. The number is
// assigned inside a transaction so concurrent creates for the same user
// cannot collide on the unique constraint.
func (s *SQLiteStore) Create(ctx context.Context, userID, title, description string) (*Task, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var next int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(task_number), 0) + 1 FROM tasks WHERE user_id = ?`,
		userID).Scan(&next)
	if err != nil {
		return nil, fmt.Errorf("next task number: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (user_id, task_number, title, description, completed, created_at, updated_at)
		VALUES (?, ?, ?, ?, FALSE, ?, ?)
	`, userID, next, title, nullable(description), now, now)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return &Task{
		Number:      next,
		Title:       title,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// List returns the user's tasks matching the filter, ordered by number.
func (s *SQLiteStore) List(ctx context.Context, userID string, filter Filter) ([]Task, error) {
	q := `SELECT task_number, title, description, completed, created_at, updated_at
		FROM tasks WHERE user_id = ?`
	switch filter {
	case FilterActive:
		q += ` AND completed = FALSE`
	case FilterCompleted:
		q += ` AND completed = TRUE`
	}
	q += ` ORDER BY task_number ASC`

	rows, err := s.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		var desc sql.NullString
		if err := rows.Scan(&t.Number, &t.Title, &desc, &t.Completed, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.Description = desc.String
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// get fetches one task scoped by user.
func (s *SQLiteStore) get(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, userID string, number int64) (*Task, error) {
	row := q.QueryRowContext(ctx, `
		SELECT task_number, title, description, completed, created_at, updated_at
		FROM tasks WHERE user_id = ? AND task_number = ?
	`, userID, number)

	var t Task
	var desc sql.NullString
	if err := row.Scan(&t.Number, &t.Title, &desc, &t.Completed, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query task: %w", err)
	}
	t.Description = desc.String
	return &t, nil
}

// Complete marks a task done.
func (s *SQLiteStore) Complete(ctx context.Context, userID string, number int64) (*Task, bool, error) {
	t, err := s.get(ctx, s.db, userID, number)
	if err != nil {
		return nil, false, err
	}

	wasComplete := t.Completed
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		UPDATE tasks SET completed = TRUE, updated_at = ?
		WHERE user_id = ? AND task_number = ?
	`, now, userID, number)
	if err != nil {
		return nil, false, fmt.Errorf("complete task: %w", err)
	}

	t.Completed = true
	t.UpdatedAt = now
	return t, wasComplete, nil
}

// Delete removes a task permanently.
func (s *SQLiteStore) Delete(ctx context.Context, userID string, number int64) (*Task, error) {
	t, err := s.get(ctx, s.db, userID, number)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE user_id = ? AND task_number = ?`, userID, number)
	if err != nil {
		return nil, fmt.Errorf("delete task: %w", err)
	}
	return t, nil
}

// Update applies a partial update.
func (s *SQLiteStore) Update(ctx context.Context, userID string, number int64, upd Update) (*Task, error) {
	t, err := s.get(ctx, s.db, userID, number)
	if err != nil {
		return nil, err
	}

	var sets []string
	var args []any
	if upd.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *upd.Title)
		t.Title = *upd.Title
	}
	if upd.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, nullable(*upd.Description))
		t.Description = *upd.Description
	}
	if len(sets) == 0 {
		return t, nil
	}

	now := time.Now().UTC()
	sets = append(sets, "updated_at = ?")
	args = append(args, now, userID, number)

	_, err = s.db.ExecContext(ctx,
		`UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE user_id = ? AND task_number = ?`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}

	t.UpdatedAt = now
	return t, nil
}

// nullable stores empty strings as NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
