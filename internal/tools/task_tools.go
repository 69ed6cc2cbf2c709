package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/taskpilot/taskpilot/internal/identity"
	"github.com/taskpilot/taskpilot/internal/task"
)

const (
	maxTitleLen       = 200
	maxDescriptionLen = 1000
)

// NewRegistry creates the tool registry backed by the given task store.
func NewRegistry(store task.Store) *Registry {
	r := &Registry{tools: make(map[string]*Tool)}
	r.registerTaskTools(store)
	return r
}

func (r *Registry) registerTaskTools(store task.Store) {
	r.Register(&Tool{
		Name:        "add_task",
		Description: "Add a new task to the user's list. Use when the user wants to create, add, or remember something to do.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title": map[string]any{
					"type":        "string",
					"description": "Task title (1-200 characters)",
				},
				"description": map[string]any{
					"type":        "string",
					"description": "Optional longer description (max 1000 characters)",
				},
			},
			"required": []string{"title"},
		},
		Handler: handleAddTask(store),
	})

	r.Register(&Tool{
		Name:        "list_tasks",
		Description: "List the user's tasks. Filter by 'all', 'active' (not yet done), or 'completed'.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"filter": map[string]any{
					"type":        "string",
					"description": "Which tasks to show: all, active, or completed (default all)",
					"enum":        []string{"all", "active", "completed"},
				},
			},
		},
		Handler: handleListTasks(store),
	})

	r.Register(&Tool{
		Name:        "complete_task",
		Description: "Mark a task as complete. The task_id is the number shown when listing tasks.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task_id": map[string]any{
					"type":        "integer",
					"description": "The task number to complete",
				},
			},
			"required": []string{"task_id"},
		},
		Handler: handleCompleteTask(store),
	})

	r.Register(&Tool{
		Name:        "delete_task",
		Description: "Delete a task permanently. The task_id is the number shown when listing tasks.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task_id": map[string]any{
					"type":        "integer",
					"description": "The task number to delete",
				},
			},
			"required": []string{"task_id"},
		},
		Handler: handleDeleteTask(store),
	})

	r.Register(&Tool{
		Name:        "update_task",
		Description: "Change a task's title or description. Provide at least one of the two.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task_id": map[string]any{
					"type":        "integer",
					"description": "The task number to update",
				},
				"title": map[string]any{
					"type":        "string",
					"description": "New title (1-200 characters)",
				},
				"description": map[string]any{
					"type":        "string",
					"description": "New description (max 1000 characters)",
				},
			},
			"required": []string{"task_id"},
		},
		Handler: handleUpdateTask(store),
	})
}

func handleAddTask(store task.Store) func(context.Context, identity.Context, map[string]any) string {
	return func(ctx context.Context, id identity.Context, args map[string]any) string {
		title, _ := args["title"].(string)
		title = strings.TrimSpace(title)
		if title == "" {
			return fail("Title cannot be empty")
		}
		if utf8.RuneCountInString(title) > maxTitleLen {
			return fail("Title must be 1-200 characters")
		}

		description, _ := args["description"].(string)
		if utf8.RuneCountInString(description) > maxDescriptionLen {
			return fail("Description must be under 1000 characters")
		}
		description = strings.TrimSpace(description)

		t, err := store.Create(ctx, id.UserID, title, description)
		if err != nil {
			return fail("Failed to create task")
		}
		return ok(map[string]any{"task": taskPayload(t)})
	}
}

func handleListTasks(store task.Store) func(context.Context, identity.Context, map[string]any) string {
	return func(ctx context.Context, id identity.Context, args map[string]any) string {
		filter := task.FilterAll
		if raw, present := args["filter"]; present {
			s, _ := raw.(string)
			filter = task.Filter(s)
			if !filter.Valid() {
				return fail("Invalid filter. Must be one of: all, active, completed")
			}
		}

		tasks, err := store.List(ctx, id.UserID, filter)
		if err != nil {
			return fail("Failed to retrieve tasks")
		}

		items := make([]map[string]any, 0, len(tasks))
		for i := range tasks {
			items = append(items, taskPayload(&tasks[i]))
		}
		return ok(map[string]any{
			"tasks":  items,
			"count":  len(items),
			"filter": string(filter),
		})
	}
}

func handleCompleteTask(store task.Store) func(context.Context, identity.Context, map[string]any) string {
	return func(ctx context.Context, id identity.Context, args map[string]any) string {
		number, valid := taskNumber(args["task_id"])
		if !valid {
			return fail("Invalid task ID")
		}

		t, wasComplete, err := store.Complete(ctx, id.UserID, number)
		if errors.Is(err, task.ErrNotFound) {
			return failf("Task %d not found", number)
		}
		if err != nil {
			return fail("Failed to complete task")
		}

		fields := map[string]any{
			"task": map[string]any{
				"id":         t.Number,
				"title":      t.Title,
				"completed":  t.Completed,
				"updated_at": t.UpdatedAt.Format(time.RFC3339),
			},
		}
		if wasComplete {
			fields["message"] = "Task was already complete"
		}
		return ok(fields)
	}
}

func handleDeleteTask(store task.Store) func(context.Context, identity.Context, map[string]any) string {
	return func(ctx context.Context, id identity.Context, args map[string]any) string {
		number, valid := taskNumber(args["task_id"])
		if !valid {
			return fail("Invalid task ID")
		}

		t, err := store.Delete(ctx, id.UserID, number)
		if errors.Is(err, task.ErrNotFound) {
			return failf("Task %d not found", number)
		}
		if err != nil {
			return fail("Failed to delete task")
		}

		return ok(map[string]any{
			"task_id": t.Number,
			"title":   t.Title,
			"message": "Task deleted successfully",
		})
	}
}

func handleUpdateTask(store task.Store) func(context.Context, identity.Context, map[string]any) string {
	return func(ctx context.Context, id identity.Context, args map[string]any) string {
		number, valid := taskNumber(args["task_id"])
		if !valid {
			return fail("Invalid task ID")
		}

		var upd task.Update

		if raw, present := args["title"]; present {
			s, _ := raw.(string)
			s = strings.TrimSpace(s)
			if s == "" {
				return fail("Title cannot be empty")
			}
			if utf8.RuneCountInString(s) > maxTitleLen {
				return fail("Title must be 1-200 characters")
			}
			upd.Title = &s
		}

		if raw, present := args["description"]; present {
			s, _ := raw.(string)
			if utf8.RuneCountInString(s) > maxDescriptionLen {
				return fail("Description must be under 1000 characters")
			}
			s = strings.TrimSpace(s)
			upd.Description = &s
		}

		if upd.Title == nil && upd.Description == nil {
			return fail("Must provide at least one field to update (title or description)")
		}

		t, err := store.Update(ctx, id.UserID, number, upd)
		if errors.Is(err, task.ErrNotFound) {
			return failf("Task %d not found", number)
		}
		if err != nil {
			return fail("Failed to update task")
		}
		return ok(map[string]any{"task": taskPayload(t)})
	}
}

// taskNumber coerces a decoded JSON argument into a positive task
// number. Models sometimes send "3" instead of 3, so digit strings are
// accepted too.
func taskNumber(raw any) (int64, bool) {
	switch v := raw.(type) {
	case float64:
		n := int64(v)
		if float64(n) != v || n <= 0 {
			return 0, false
		}
		return n, true
	case int64:
		if v <= 0 {
			return 0, false
		}
		return v, true
	case int:
		if v <= 0 {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil || n <= 0 {
			return 0, false
		}
		return n, true
	case string:
		var n int64
		for _, c := range v {
			if c < '0' || c > '9' {
				return 0, false
			}
			n = n*10 + int64(c-'0')
			if n > 1<<31 {
				return 0, false
			}
		}
		if v == "" || n <= 0 {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func taskPayload(t *task.Task) map[string]any {
	payload := map[string]any{
		"id":         t.Number,
		"title":      t.Title,
		"completed":  t.Completed,
		"created_at": t.CreatedAt.Format(time.RFC3339),
	}
	if t.Description != "" {
		payload["description"] = t.Description
	}
	return payload
}
