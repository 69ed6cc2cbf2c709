// Package task provides the user-scoped task record store.
package task

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a task number does not exist within the
// caller's scope. A task owned by another user is indistinguishable
// from one that never existed.
var ErrNotFound = errors.New("task not found")

// Filter selects tasks by completion state.
type Filter string

const (
	FilterAll       Filter = "all"
	FilterActive    Filter = "active"
	FilterCompleted Filter = "completed"
)

// Valid reports whether f is one of the known filter values.
func (f Filter) Valid() bool {
	switch f {
	case FilterAll, FilterActive, FilterCompleted:
		return true
	}
	return false
}

// Task is a single todo item. Number is the user-visible ID: a
// per-user sequence starting at 1, independent of any storage row ID.
type Task struct {
	Number      int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Update describes a partial task update. Nil fields are left unchanged.
type Update struct {
	Title       *string
	Description *string
}

// Store persists tasks. Every method takes the owning user ID first and
// must scope all reads and writes by it.
type Store interface {
	// Create inserts a task and assigns the next number for the user.
	Create(ctx context.Context, userID, title, description string) (*Task, error)

	// List returns the user's tasks matching the filter, ordered by number.
	List(ctx context.Context, userID string, filter Filter) ([]Task, error)

	// Complete marks a task done. Returns the updated task and whether
	// it was already complete before the call.
	Complete(ctx context.Context, userID string, number int64) (*Task, bool, error)

	// Delete removes a task permanently, returning the deleted record.
	Delete(ctx context.Context, userID string, number int64) (*Task, error)

	// Update applies a partial update and returns the new state.
	Update(ctx context.Context, userID string, number int64, upd Update) (*Task, error)

	Close() error
}
