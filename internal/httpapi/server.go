// Package httpapi exposes the chat and conversation endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/taskpilot/taskpilot/internal/agent"
	"github.com/taskpilot/taskpilot/internal/buildinfo"
	"github.com/taskpilot/taskpilot/internal/convo"
	"github.com/taskpilot/taskpilot/internal/identity"
	"github.com/taskpilot/taskpilot/internal/task"
)

// TurnProcessor is the orchestrator surface the HTTP layer needs.
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, id identity.Context, text string, conversationID int64) (*agent.Turn, error)
}

// Server wires HTTP routes to the orchestrator and stores.
type Server struct {
	logger  *slog.Logger
	auth    identity.Provider
	orch    TurnProcessor
	convos  convo.Store
	tasks   task.Store
	metrics http.Handler
}

// New creates the API server. metrics may be nil to disable /metrics.
func New(logger *slog.Logger, auth identity.Provider, orch TurnProcessor, convos convo.Store, tasks task.Store, metrics http.Handler) *Server {
	return &Server{
		logger:  logger,
		auth:    auth,
		orch:    orch,
		convos:  convos,
		tasks:   tasks,
		metrics: metrics,
	}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/{userID}", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Get("/conversations", s.handleListConversations)
		r.Get("/conversations/{conversationID}/messages", s.handleGetMessages)
		r.Delete("/conversations/{conversationID}", s.handleDeleteConversation)
		r.Get("/tasks", s.handleListTasks)
	})

	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"name":    "taskpilot",
		"version": buildinfo.Version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": buildinfo.Version,
		"uptime":  buildinfo.Uptime().String(),
	})
}

// authorize verifies the bearer token and checks it matches the user in
// the path. On failure it writes the error response and returns false.
// The identity travels from here as an explicit value, never inside the
// request context.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) (identity.Context, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing or malformed bearer token")
		return identity.Context{}, false
	}

	userID, ok := s.auth.Verify(token)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return identity.Context{}, false
	}

	if pathUser := chi.URLParam(r, "userID"); pathUser != userID {
		respondError(w, http.StatusForbidden, "forbidden", "Access denied to this resource")
		return identity.Context{}, false
	}

	return identity.New(userID), true
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID int64  `json:"conversation_id,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	id, ok := s.authorize(w, r)
	if !ok {
		return
	}

	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "message_too_large", "Request body is too large")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	turn, err := s.orch.ProcessTurn(r.Context(), id, req.Message, req.ConversationID)
	if err != nil {
		s.respondTurnError(w, id, err)
		return
	}

	respondJSON(w, http.StatusOK, turn)
}

func (s *Server) respondTurnError(w http.ResponseWriter, id identity.Context, err error) {
	switch {
	case errors.Is(err, agent.ErrInvalidMessage):
		respondError(w, http.StatusBadRequest, "invalid_message", err.Error())
	case errors.Is(err, agent.ErrRateLimited):
		respondError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests. Please wait a moment and try again.")
	case errors.Is(err, convo.ErrForbidden):
		respondError(w, http.StatusForbidden, "forbidden", "Access denied to this resource")
	default:
		// The user message may or may not have been persisted; flag for
		// reconciliation.
		s.logger.Error("turn failed after side effects possible",
			"user", id.UserID,
			"request_id", id.RequestID,
			"error", err,
		)
		respondError(w, http.StatusInternalServerError, "internal_error", "An error occurred processing your message.")
	}
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	id, ok := s.authorize(w, r)
	if !ok {
		return
	}

	convs, err := s.convos.List(r.Context(), id.UserID, convo.PageSize)
	if err != nil {
		s.logger.Error("list conversations failed", "user", id.UserID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve conversations")
		return
	}
	if convs == nil {
		convs = []convo.Conversation{}
	}
	respondJSON(w, http.StatusOK, convs)
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := s.authorize(w, r)
	if !ok {
		return
	}
	convID, ok := s.conversationID(w, r)
	if !ok {
		return
	}

	msgs, err := s.convos.Messages(r.Context(), id.UserID, convID)
	if errors.Is(err, convo.ErrForbidden) {
		respondError(w, http.StatusForbidden, "forbidden", "Access denied to this resource")
		return
	}
	if err != nil {
		s.logger.Error("get messages failed", "user", id.UserID, "conversation", convID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve messages")
		return
	}
	if msgs == nil {
		msgs = []convo.Message{}
	}
	respondJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := s.authorize(w, r)
	if !ok {
		return
	}
	convID, ok := s.conversationID(w, r)
	if !ok {
		return
	}

	err := s.convos.Delete(r.Context(), id.UserID, convID)
	if errors.Is(err, convo.ErrForbidden) {
		respondError(w, http.StatusForbidden, "forbidden", "Access denied to this resource")
		return
	}
	if err != nil {
		s.logger.Error("delete conversation failed", "user", id.UserID, "conversation", convID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to delete conversation")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Conversation deleted successfully"})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	id, ok := s.authorize(w, r)
	if !ok {
		return
	}

	filter := task.FilterAll
	if raw := r.URL.Query().Get("filter"); raw != "" {
		filter = task.Filter(raw)
		if !filter.Valid() {
			respondError(w, http.StatusBadRequest, "invalid_filter", "filter must be one of: all, active, completed")
			return
		}
	}

	tasks, err := s.tasks.List(r.Context(), id.UserID, filter)
	if err != nil {
		s.logger.Error("list tasks failed", "user", id.UserID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve tasks")
		return
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	respondJSON(w, http.StatusOK, tasks)
}

func (s *Server) conversationID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "conversationID")
	convID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || convID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid conversation id")
		return 0, false
	}
	return convID, true
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// maxBodyBytes bounds request bodies before decoding. Sized to fit the
// largest accepted chat message in UTF-8 plus JSON envelope overhead.
const maxBodyBytes = 6*agent.MaxMessageLen + 4096

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer body.Close()
	return json.NewDecoder(body).Decode(out)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
