package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/taskpilot/taskpilot/internal/agent"
	"github.com/taskpilot/taskpilot/internal/convo"
	"github.com/taskpilot/taskpilot/internal/identity"
	"github.com/taskpilot/taskpilot/internal/task"
)

type stubProcessor struct {
	turn *agent.Turn
	err  error
	last struct {
		id     identity.Context
		text   string
		convID int64
	}
}

func (p *stubProcessor) ProcessTurn(ctx context.Context, id identity.Context, text string, conversationID int64) (*agent.Turn, error) {
	p.last.id = id
	p.last.text = text
	p.last.convID = conversationID
	return p.turn, p.err
}

func testServer(t *testing.T, proc *stubProcessor) (*Server, convo.Store, task.Store) {
	t.Helper()
	convos := convo.NewInMemoryStore()
	tasks := task.NewInMemoryStore()
	t.Cleanup(func() {
		convos.Close()
		tasks.Close()
	})
	auth := identity.NewStaticProvider(map[string]string{
		"alice-token": "alice",
		"bob-token":   "bob",
	})
	logger := slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
	return New(logger, auth, proc, convos, tasks, nil), convos, tasks
}

func doRequest(t *testing.T, s *Server, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestChatSuccess(t *testing.T) {
	proc := &stubProcessor{turn: &agent.Turn{
		Reply:          "Task added!",
		ConversationID: 7,
		Timestamp:      time.Now().UTC(),
	}}
	s, _, _ := testServer(t, proc)

	rec := doRequest(t, s, http.MethodPost, "/api/alice/chat", "alice-token",
		`{"message":"add a task","conversation_id":7}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}

	var turn agent.Turn
	if err := json.Unmarshal(rec.Body.Bytes(), &turn); err != nil {
		t.Fatal(err)
	}
	if turn.Reply != "Task added!" || turn.ConversationID != 7 {
		t.Errorf("unexpected turn: %+v", turn)
	}
	if proc.last.id.UserID != "alice" {
		t.Errorf("processor saw user %q", proc.last.id.UserID)
	}
	if proc.last.id.RequestID == "" {
		t.Error("request id should be assigned")
	}
}

func TestAuthFailures(t *testing.T) {
	s, _, _ := testServer(t, &stubProcessor{})

	tests := []struct {
		name     string
		token    string
		path     string
		wantCode int
	}{
		{"missing token", "", "/api/alice/chat", http.StatusUnauthorized},
		{"bad token", "wrong", "/api/alice/chat", http.StatusUnauthorized},
		{"path user mismatch", "bob-token", "/api/alice/chat", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, s, http.MethodPost, tt.path, tt.token, `{"message":"hi"}`)
			if rec.Code != tt.wantCode {
				t.Errorf("got %d, want %d: %s", rec.Code, tt.wantCode, rec.Body)
			}
		})
	}
}

func TestChatBodyTooLarge(t *testing.T) {
	proc := &stubProcessor{turn: &agent.Turn{Reply: "ok"}}
	s, _, _ := testServer(t, proc)

	body := fmt.Sprintf(`{"message":%q}`, strings.Repeat("x", maxBodyBytes+1))
	rec := doRequest(t, s, http.MethodPost, "/api/alice/chat", "alice-token", body)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("got status %d, want 413", rec.Code)
	}
	if proc.last.text != "" {
		t.Error("oversized body must not reach the orchestrator")
	}
}

func TestChatErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"invalid message", fmt.Errorf("%w: empty", agent.ErrInvalidMessage), http.StatusBadRequest},
		{"rate limited", agent.ErrRateLimited, http.StatusTooManyRequests},
		{"forbidden conversation", convo.ErrForbidden, http.StatusForbidden},
		{"storage failure", fmt.Errorf("persisting turn: disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, _ := testServer(t, &stubProcessor{err: tt.err})
			rec := doRequest(t, s, http.MethodPost, "/api/alice/chat", "alice-token", `{"message":"hi"}`)
			if rec.Code != tt.wantCode {
				t.Errorf("got %d, want %d: %s", rec.Code, tt.wantCode, rec.Body)
			}
			if tt.wantCode == http.StatusInternalServerError &&
				strings.Contains(rec.Body.String(), "disk full") {
				t.Error("internal error detail must not leak to the caller")
			}
		})
	}
}

func TestListConversations(t *testing.T) {
	s, convos, _ := testServer(t, &stubProcessor{})
	ctx := context.Background()

	conv, err := convos.GetOrCreate(ctx, "alice", 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := convos.AppendTurn(ctx, "alice", conv.ID, "hi", "hello", nil); err != nil {
		t.Fatal(err)
	}

	rec := doRequest(t, s, http.MethodGet, "/api/alice/conversations", "alice-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var got []convo.Conversation
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != conv.ID {
		t.Errorf("got %+v", got)
	}

	// Bob sees an empty list, not Alice's conversations.
	rec = doRequest(t, s, http.MethodGet, "/api/bob/conversations", "bob-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("bob should see [], got %s", body)
	}
}

func TestGetMessages(t *testing.T) {
	s, convos, _ := testServer(t, &stubProcessor{})
	ctx := context.Background()

	conv, _ := convos.GetOrCreate(ctx, "alice", 0)
	if err := convos.AppendTurn(ctx, "alice", conv.ID, "question", "answer", nil); err != nil {
		t.Fatal(err)
	}

	path := fmt.Sprintf("/api/alice/conversations/%d/messages", conv.ID)
	rec := doRequest(t, s, http.MethodGet, path, "alice-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var msgs []convo.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &msgs); err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("want 2 messages, got %d", len(msgs))
	}

	// A foreign conversation is denied without revealing existence.
	path = fmt.Sprintf("/api/bob/conversations/%d/messages", conv.ID)
	rec = doRequest(t, s, http.MethodGet, path, "bob-token", "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("foreign conversation: got %d", rec.Code)
	}

	// A nonexistent conversation gets the same answer.
	rec = doRequest(t, s, http.MethodGet, "/api/bob/conversations/9999/messages", "bob-token", "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("missing conversation: got %d, want same as foreign", rec.Code)
	}
}

func TestDeleteConversation(t *testing.T) {
	s, convos, _ := testServer(t, &stubProcessor{})
	ctx := context.Background()

	conv, _ := convos.GetOrCreate(ctx, "alice", 0)
	if err := convos.AppendTurn(ctx, "alice", conv.ID, "hi", "hello", nil); err != nil {
		t.Fatal(err)
	}

	path := fmt.Sprintf("/api/alice/conversations/%d", conv.ID)
	rec := doRequest(t, s, http.MethodDelete, path, "alice-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}

	// Deleted conversations behave like they never existed.
	rec = doRequest(t, s, http.MethodGet, path+"/messages", "alice-token", "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("after delete: got %d", rec.Code)
	}
}

func TestListTasksEndpoint(t *testing.T) {
	s, _, tasks := testServer(t, &stubProcessor{})
	ctx := context.Background()

	if _, err := tasks.Create(ctx, "alice", "buy milk", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := tasks.Create(ctx, "alice", "write report", ""); err != nil {
		t.Fatal(err)
	}
	if _, _, err := tasks.Complete(ctx, "alice", 1); err != nil {
		t.Fatal(err)
	}

	rec := doRequest(t, s, http.MethodGet, "/api/alice/tasks?filter=active", "alice-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var got []task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Title != "write report" {
		t.Errorf("got %+v", got)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/alice/tasks?filter=bogus", "alice-token", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad filter: got %d", rec.Code)
	}
}

func TestHealthAndRoot(t *testing.T) {
	s, _, _ := testServer(t, &stubProcessor{})

	rec := doRequest(t, s, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("health body: %s", rec.Body)
	}

	rec = doRequest(t, s, http.MethodGet, "/", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("root: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"name":"taskpilot"`) {
		t.Errorf("root body: %s", rec.Body)
	}
}
