package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists tasks in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL and ensures the schema.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initTaskSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// NewPostgresStoreFromPool wraps an existing pool so the task and convo
// stores can share one connection pool.
func NewPostgresStoreFromPool(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if err := initTaskSchema(ctx, pool); err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initTaskSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			task_number BIGINT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			completed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (user_id, task_number)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks (user_id, task_number);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init task schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, userID, title, description string) (*Task, error) {
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var next int64
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(task_number), 0) + 1 FROM tasks WHERE user_id = $1`,
		userID).Scan(&next)
	if err != nil {
		return nil, fmt.Errorf("next task number: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO tasks (user_id, task_number, title, description, completed, created_at, updated_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), FALSE, $5, $5)`,
		userID, next, title, description, now)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
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

func (s *PostgresStore) List(ctx context.Context, userID string, filter Filter) ([]Task, error) {
	q := `SELECT task_number, title, COALESCE(description, ''), completed, created_at, updated_at
		FROM tasks WHERE user_id = $1`
	switch filter {
	case FilterActive:
		q += ` AND completed = FALSE`
	case FilterCompleted:
		q += ` AND completed = TRUE`
	}
	q += ` ORDER BY task_number ASC`

	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.Number, &t.Title, &t.Description, &t.Completed, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *PostgresStore) get(ctx context.Context, userID string, number int64) (*Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT task_number, title, COALESCE(description, ''), completed, created_at, updated_at
		 FROM tasks WHERE user_id = $1 AND task_number = $2`,
		userID, number)

	var t Task
	if err := row.Scan(&t.Number, &t.Title, &t.Description, &t.Completed, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query task: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) Complete(ctx context.Context, userID string, number int64) (*Task, bool, error) {
	t, err := s.get(ctx, userID, number)
	if err != nil {
		return nil, false, err
	}

	wasComplete := t.Completed
	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx,
		`UPDATE tasks SET completed = TRUE, updated_at = $1 WHERE user_id = $2 AND task_number = $3`,
		now, userID, number)
	if err != nil {
		return nil, false, fmt.Errorf("complete task: %w", err)
	}

	t.Completed = true
	t.UpdatedAt = now
	return t, wasComplete, nil
}

func (s *PostgresStore) Delete(ctx context.Context, userID string, number int64) (*Task, error) {
	t, err := s.get(ctx, userID, number)
	if err != nil {
		return nil, err
	}

	_, err = s.pool.Exec(ctx,
		`DELETE FROM tasks WHERE user_id = $1 AND task_number = $2`, userID, number)
	if err != nil {
		return nil, fmt.Errorf("delete task: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) Update(ctx context.Context, userID string, number int64, upd Update) (*Task, error) {
	t, err := s.get(ctx, userID, number)
	if err != nil {
		return nil, err
	}

	var sets []string
	var args []any
	n := 1
	if upd.Title != nil {
		sets = append(sets, fmt.Sprintf("title = $%d", n))
		args = append(args, *upd.Title)
		t.Title = *upd.Title
		n++
	}
	if upd.Description != nil {
		sets = append(sets, fmt.Sprintf("description = NULLIF($%d, '')", n))
		args = append(args, *upd.Description)
		t.Description = *upd.Description
		n++
	}
	if len(sets) == 0 {
		return t, nil
	}

	now := time.Now().UTC()
	sets = append(sets, fmt.Sprintf("updated_at = $%d", n))
	args = append(args, now, userID, number)

	q := fmt.Sprintf(`UPDATE tasks SET %s WHERE user_id = $%d AND task_number = $%d`,
		strings.Join(sets, ", "), n+1, n+2)
	if _, err := s.pool.Exec(ctx, q, args...); err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}

	t.UpdatedAt = now
	return t, nil
}
