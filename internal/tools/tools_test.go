package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/taskpilot/taskpilot/internal/identity"
	"github.com/taskpilot/taskpilot/internal/task"
)

func testRegistry(t *testing.T) (*Registry, task.Store) {
	t.Helper()
	store := task.NewInMemoryStore()
	t.Cleanup(func() { store.Close() })
	return NewRegistry(store), store
}

func decode(t *testing.T, result string) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal([]byte(result), &payload); err != nil {
		t.Fatalf("result is not valid JSON: %v\n%s", err, result)
	}
	return payload
}

func TestListReturnsAllSchemas(t *testing.T) {
	r, _ := testRegistry(t)

	schemas := r.List()
	if len(schemas) != 5 {
		t.Fatalf("expected 5 tool schemas, got %d", len(schemas))
	}

	want := []string{"add_task", "list_tasks", "complete_task", "delete_task", "update_task"}
	for i, schema := range schemas {
		fn, ok := schema["function"].(map[string]any)
		if !ok {
			t.Fatalf("schema %d missing function block", i)
		}
		if fn["name"] != want[i] {
			t.Errorf("schema %d: got name %v, want %s", i, fn["name"], want[i])
		}
		if fn["parameters"] == nil {
			t.Errorf("schema %d (%s): missing parameters", i, want[i])
		}
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	r, _ := testRegistry(t)

	payload := decode(t, r.Execute(context.Background(), identity.New("alice"), "launch_missiles", nil))
	if payload["success"] != false {
		t.Error("unknown tool should fail")
	}
	if !strings.Contains(payload["error"].(string), "launch_missiles") {
		t.Errorf("error should name the tool: %v", payload["error"])
	}
}

func TestAddTask(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]any
		wantOK  bool
		wantErr string
	}{
		{
			name:   "valid title",
			args:   map[string]any{"title": "buy milk"},
			wantOK: true,
		},
		{
			name:   "title with description",
			args:   map[string]any{"title": "write report", "description": "quarterly numbers"},
			wantOK: true,
		},
		{
			name:   "whitespace trimmed",
			args:   map[string]any{"title": "  padded  "},
			wantOK: true,
		},
		{
			name:    "missing title",
			args:    map[string]any{},
			wantErr: "Title cannot be empty",
		},
		{
			name:    "blank title",
			args:    map[string]any{"title": "   "},
			wantErr: "Title cannot be empty",
		},
		{
			name:    "title too long",
			args:    map[string]any{"title": strings.Repeat("x", 201)},
			wantErr: "Title must be 1-200 characters",
		},
		{
			// 200 three-byte runes is 600 bytes; the limit counts characters.
			name:   "multibyte title at the limit",
			args:   map[string]any{"title": strings.Repeat("日", 200)},
			wantOK: true,
		},
		{
			name:    "multibyte title too long",
			args:    map[string]any{"title": strings.Repeat("日", 201)},
			wantErr: "Title must be 1-200 characters",
		},
		{
			name:   "multibyte description at the limit",
			args:   map[string]any{"title": "ok", "description": strings.Repeat("é", 1000)},
			wantOK: true,
		},
		{
			name:    "description too long",
			args:    map[string]any{"title": "ok", "description": strings.Repeat("d", 1001)},
			wantErr: "Description must be under 1000 characters",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := testRegistry(t)
			payload := decode(t, r.Execute(context.Background(), identity.New("alice"), "add_task", tt.args))
			if tt.wantOK {
				if payload["success"] != true {
					t.Fatalf("expected success, got %v", payload)
				}
				return
			}
			if payload["success"] != false {
				t.Fatalf("expected failure, got %v", payload)
			}
			if payload["error"] != tt.wantErr {
				t.Errorf("got error %q, want %q", payload["error"], tt.wantErr)
			}
		})
	}
}

func TestAddTaskTrimsTitle(t *testing.T) {
	r, _ := testRegistry(t)

	payload := decode(t, r.Execute(context.Background(), identity.New("alice"), "add_task",
		map[string]any{"title": "  buy milk  "}))
	taskObj := payload["task"].(map[string]any)
	if taskObj["title"] != "buy milk" {
		t.Errorf("title not trimmed: %q", taskObj["title"])
	}
	if taskObj["id"].(float64) != 1 {
		t.Errorf("first task should be number 1, got %v", taskObj["id"])
	}
}

func TestListTasksFilters(t *testing.T) {
	r, _ := testRegistry(t)
	ctx := context.Background()
	id := identity.New("alice")

	r.Execute(ctx, id, "add_task", map[string]any{"title": "one"})
	r.Execute(ctx, id, "add_task", map[string]any{"title": "two"})
	r.Execute(ctx, id, "complete_task", map[string]any{"task_id": float64(1)})

	tests := []struct {
		filter    any
		wantCount float64
	}{
		{nil, 2},
		{"all", 2},
		{"active", 1},
		{"completed", 1},
	}

	for _, tt := range tests {
		args := map[string]any{}
		if tt.filter != nil {
			args["filter"] = tt.filter
		}
		payload := decode(t, r.Execute(ctx, id, "list_tasks", args))
		if payload["success"] != true {
			t.Fatalf("filter %v: %v", tt.filter, payload)
		}
		if payload["count"].(float64) != tt.wantCount {
			t.Errorf("filter %v: got count %v, want %v", tt.filter, payload["count"], tt.wantCount)
		}
	}

	payload := decode(t, r.Execute(ctx, id, "list_tasks", map[string]any{"filter": "done"}))
	if payload["success"] != false {
		t.Error("invalid filter should fail")
	}
}

func TestCompleteTask(t *testing.T) {
	r, _ := testRegistry(t)
	ctx := context.Background()
	id := identity.New("alice")

	r.Execute(ctx, id, "add_task", map[string]any{"title": "one"})

	payload := decode(t, r.Execute(ctx, id, "complete_task", map[string]any{"task_id": float64(1)}))
	if payload["success"] != true {
		t.Fatalf("complete failed: %v", payload)
	}
	if _, present := payload["message"]; present {
		t.Error("first completion should carry no notice")
	}

	// Completing again succeeds but says so.
	payload = decode(t, r.Execute(ctx, id, "complete_task", map[string]any{"task_id": float64(1)}))
	if payload["success"] != true {
		t.Fatalf("repeat complete failed: %v", payload)
	}
	if payload["message"] != "Task was already complete" {
		t.Errorf("got message %v, want already-complete notice", payload["message"])
	}

	payload = decode(t, r.Execute(ctx, id, "complete_task", map[string]any{"task_id": float64(99)}))
	if payload["error"] != "Task 99 not found" {
		t.Errorf("got error %v", payload["error"])
	}
}

func TestDeleteTask(t *testing.T) {
	r, _ := testRegistry(t)
	ctx := context.Background()
	id := identity.New("alice")

	r.Execute(ctx, id, "add_task", map[string]any{"title": "ephemeral"})

	payload := decode(t, r.Execute(ctx, id, "delete_task", map[string]any{"task_id": float64(1)}))
	if payload["success"] != true {
		t.Fatalf("delete failed: %v", payload)
	}
	if payload["title"] != "ephemeral" {
		t.Errorf("delete should echo the title, got %v", payload["title"])
	}

	payload = decode(t, r.Execute(ctx, id, "delete_task", map[string]any{"task_id": float64(1)}))
	if payload["error"] != "Task 1 not found" {
		t.Errorf("second delete: got %v", payload["error"])
	}
}

func TestUpdateTask(t *testing.T) {
	r, _ := testRegistry(t)
	ctx := context.Background()
	id := identity.New("alice")

	r.Execute(ctx, id, "add_task", map[string]any{"title": "draft"})

	payload := decode(t, r.Execute(ctx, id, "update_task", map[string]any{"task_id": float64(1)}))
	if payload["error"] != "Must provide at least one field to update (title or description)" {
		t.Errorf("no-field update: got %v", payload["error"])
	}

	payload = decode(t, r.Execute(ctx, id, "update_task",
		map[string]any{"task_id": float64(1), "title": "final"}))
	if payload["success"] != true {
		t.Fatalf("update failed: %v", payload)
	}
	taskObj := payload["task"].(map[string]any)
	if taskObj["title"] != "final" {
		t.Errorf("got title %v", taskObj["title"])
	}

	payload = decode(t, r.Execute(ctx, id, "update_task",
		map[string]any{"task_id": float64(1), "title": "  "}))
	if payload["error"] != "Title cannot be empty" {
		t.Errorf("blank title update: got %v", payload["error"])
	}

	payload = decode(t, r.Execute(ctx, id, "update_task",
		map[string]any{"task_id": float64(1), "title": strings.Repeat("日", 200)}))
	if payload["success"] != true {
		t.Errorf("multibyte title within the character limit rejected: %v", payload)
	}
}

func TestUserIsolation(t *testing.T) {
	r, _ := testRegistry(t)
	ctx := context.Background()
	alice := identity.New("alice")
	bob := identity.New("bob")

	r.Execute(ctx, alice, "add_task", map[string]any{"title": "alice secret"})

	// Bob sees nothing of Alice's.
	payload := decode(t, r.Execute(ctx, bob, "list_tasks", nil))
	if payload["count"].(float64) != 0 {
		t.Fatalf("bob sees %v tasks", payload["count"])
	}

	// Bob cannot touch Alice's task by number; the answer is the same
	// as for a task that never existed.
	for _, tool := range []string{"complete_task", "delete_task"} {
		payload = decode(t, r.Execute(ctx, bob, tool, map[string]any{"task_id": float64(1)}))
		if payload["error"] != "Task 1 not found" {
			t.Errorf("%s: got %v, want not-found", tool, payload["error"])
		}
	}

	// A user_id in the arguments is ignored; the caller identity wins.
	payload = decode(t, r.Execute(ctx, bob, "list_tasks", map[string]any{"user_id": "alice"}))
	if payload["count"].(float64) != 0 {
		t.Error("model-supplied user_id must not override the caller")
	}
}

func TestTaskNumberCoercion(t *testing.T) {
	tests := []struct {
		name  string
		raw   any
		want  int64
		valid bool
	}{
		{"float", float64(3), 3, true},
		{"digit string", "7", 7, true},
		{"json number", json.Number("12"), 12, true},
		{"zero", float64(0), 0, false},
		{"negative", float64(-1), 0, false},
		{"fractional", 2.5, 0, false},
		{"word", "seven", 0, false},
		{"empty string", "", 0, false},
		{"nil", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, valid := taskNumber(tt.raw)
			if valid != tt.valid || got != tt.want {
				t.Errorf("taskNumber(%v) = (%d, %v), want (%d, %v)", tt.raw, got, valid, tt.want, tt.valid)
			}
		})
	}
}
