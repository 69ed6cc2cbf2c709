// Package agent implements the chat orchestration loop: one user
// message in, a bounded sequence of model and tool rounds, one
// assistant reply out, both persisted as a single turn.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/taskpilot/taskpilot/internal/convo"
	"github.com/taskpilot/taskpilot/internal/identity"
	"github.com/taskpilot/taskpilot/internal/llm"
	"github.com/taskpilot/taskpilot/internal/observability"
	"github.com/taskpilot/taskpilot/internal/ratelimit"
	"github.com/taskpilot/taskpilot/internal/tools"
)

const (
	// MaxMessageLen bounds the user message after trimming.
	MaxMessageLen = 10000

	// HistoryWindow is how many prior messages feed the model.
	HistoryWindow = 50

	// MaxToolRounds caps model round trips per turn. A model stuck in
	// a tool loop terminates here rather than running forever.
	MaxToolRounds = 5

	// ModelRetries is how many extra model attempts follow a failure.
	ModelRetries = 1

	retryBackoff = 500 * time.Millisecond
)

// Limits tunes the per-turn bounds. Zero fields fall back to the
// package defaults, so the zero value is a usable configuration.
type Limits struct {
	MaxMessageLen int
	HistoryWindow int
	MaxToolRounds int
	ModelRetries  int
}

func (l Limits) withDefaults() Limits {
	if l.MaxMessageLen <= 0 {
		l.MaxMessageLen = MaxMessageLen
	}
	if l.HistoryWindow <= 0 {
		l.HistoryWindow = HistoryWindow
	}
	if l.MaxToolRounds <= 0 {
		l.MaxToolRounds = MaxToolRounds
	}
	if l.ModelRetries <= 0 {
		l.ModelRetries = ModelRetries
	}
	return l
}

var (
	// ErrRateLimited means the per-user limiter rejected the request
	// before any work was done.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrInvalidMessage means the user message failed validation.
	ErrInvalidMessage = errors.New("invalid message")
)

// Canned replies for turns the model could not finish. These are real
// assistant messages: they are persisted and count as the turn's reply.
const (
	replyModelFailed = "I'm sorry, I encountered an error processing your request. Please try again in a moment."
	replyRoundCap    = "I wasn't able to complete that request. Could you try rephrasing it, or break it into smaller steps?"
)

// Turn is the outcome of one processed chat message.
type Turn struct {
	Reply          string                 `json:"reply"`
	ConversationID int64                  `json:"conversation_id"`
	ToolCalls      []convo.ToolCallRecord `json:"tool_calls,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}

// Orchestrator runs the turn state machine.
type Orchestrator struct {
	logger  *slog.Logger
	client  llm.Client
	model   string
	tools   *tools.Registry
	convos  convo.Store
	limiter *ratelimit.PerUser
	limits  Limits
	metrics *observability.Metrics
}

// New creates an orchestrator. All dependencies are required except
// metrics, which may be nil in tests.
func New(logger *slog.Logger, client llm.Client, model string, reg *tools.Registry, convos convo.Store, limiter *ratelimit.PerUser, limits Limits, metrics *observability.Metrics) *Orchestrator {
	return &Orchestrator{
		logger:  logger,
		client:  client,
		model:   model,
		tools:   reg,
		convos:  convos,
		limiter: limiter,
		limits:  limits.withDefaults(),
		metrics: metrics,
	}
}

// ProcessTurn handles one user message end to end. conversationID of 0
// starts a new conversation. The returned error is one of the package
// sentinels, convo.ErrForbidden, or a storage error; model failures do
// not surface as errors, they become an apology reply inside the turn.
func (o *Orchestrator) ProcessTurn(ctx context.Context, id identity.Context, text string, conversationID int64) (*Turn, error) {
	log := o.logger.With("user", id.UserID, "request_id", id.RequestID)

	if !o.limiter.Allow(id.UserID) {
		log.Warn("rate limited")
		o.countTurn("rate_limited")
		if o.metrics != nil {
			o.metrics.RateLimited.Inc()
		}
		return nil, ErrRateLimited
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: message is empty", ErrInvalidMessage)
	}
	if utf8.RuneCountInString(text) > o.limits.MaxMessageLen {
		return nil, fmt.Errorf("%w: message exceeds %d characters", ErrInvalidMessage, o.limits.MaxMessageLen)
	}

	conv, err := o.convos.GetOrCreate(ctx, id.UserID, conversationID)
	if err != nil {
		return nil, err
	}
	log = log.With("conversation", conv.ID)

	// History failures degrade rather than fail: the turn proceeds
	// with an empty window and the user message is still answered.
	history, err := o.convos.Recent(ctx, id.UserID, conv.ID, o.limits.HistoryWindow)
	if err != nil {
		log.Warn("history load failed, continuing without context", "error", err)
		history = nil
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: systemPrompt})
	for _, m := range history {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: text})

	reply, records, outcome := o.runRounds(ctx, log, id, messages)
	o.countTurn(outcome)

	if err := o.convos.AppendTurn(ctx, id.UserID, conv.ID, text, reply, records); err != nil {
		log.Error("turn persistence failed", "error", err)
		return nil, fmt.Errorf("persisting turn: %w", err)
	}

	log.Info("turn complete",
		"outcome", outcome,
		"tool_calls", len(records),
		"reply_len", len(reply),
	)

	return &Turn{
		Reply:          reply,
		ConversationID: conv.ID,
		ToolCalls:      records,
		Timestamp:      time.Now().UTC(),
	}, nil
}

// runRounds drives the model/tool exchange until the model produces a
// final text reply, fails, or hits the round cap.
func (o *Orchestrator) runRounds(ctx context.Context, log *slog.Logger, id identity.Context, messages []llm.Message) (string, []convo.ToolCallRecord, string) {
	var records []convo.ToolCallRecord
	schemas := o.tools.List()

	for round := 0; round < o.limits.MaxToolRounds; round++ {
		resp, err := o.chatWithRetry(ctx, messages, schemas)
		if err != nil {
			log.Error("model unavailable", "round", round, "error", err)
			return replyModelFailed, records, "model_failure"
		}

		calls := resp.Message.ToolCalls
		if len(calls) == 0 {
			return resp.Message.Content, records, "ok"
		}

		messages = append(messages, resp.Message)
		for _, call := range calls {
			name := call.Function.Name
			result := o.tools.Execute(ctx, id, name, call.Function.Arguments)
			log.Debug("tool executed", "tool", name, "round", round)
			o.countToolCall(name, result)

			records = append(records, convo.ToolCallRecord{
				Tool:       name,
				Parameters: call.Function.Arguments,
				Result:     json.RawMessage(result),
			})
			messages = append(messages, llm.Message{Role: "tool", Content: result})
		}
	}

	log.Warn("round cap reached", "rounds", o.limits.MaxToolRounds)
	return replyRoundCap, records, "round_cap"
}

// chatWithRetry calls the model, retrying after a short backoff up to
// the configured retry count. An empty reply counts as a failure.
func (o *Orchestrator) chatWithRetry(ctx context.Context, messages []llm.Message, schemas []map[string]any) (*llm.ChatResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= o.limits.ModelRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		start := time.Now()
		resp, err := o.client.Chat(ctx, o.model, messages, schemas)
		if o.metrics != nil {
			o.metrics.ObserveModelLatency(time.Since(start))
		}

		if err == nil && resp.Empty() {
			err = errors.New("model returned empty response")
		}
		if err != nil {
			lastErr = err
			o.countModelCall("error")
			continue
		}
		o.countModelCall("ok")
		return resp, nil
	}
	return nil, lastErr
}

func (o *Orchestrator) countTurn(outcome string) {
	if o.metrics != nil {
		o.metrics.Turns.WithLabelValues(outcome).Inc()
	}
}

func (o *Orchestrator) countModelCall(status string) {
	if o.metrics != nil {
		o.metrics.ModelCalls.WithLabelValues(status).Inc()
	}
}

func (o *Orchestrator) countToolCall(name, result string) {
	if o.metrics == nil {
		return
	}
	status := "ok"
	var payload struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal([]byte(result), &payload); err != nil || !payload.Success {
		status = "error"
	}
	o.metrics.ToolCalls.WithLabelValues(name, status).Inc()
}
