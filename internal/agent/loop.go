// Package agent implements the core conversation loop: history
// assembly, model calls, bounded tool rounds, and persistence.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/oxleyk/canvas-agent/internal/canvas"
	"github.com/oxleyk/canvas-agent/internal/chat"
	"github.com/oxleyk/canvas-agent/internal/llm"
	"github.com/oxleyk/canvas-agent/internal/prompts"
	"github.com/oxleyk/canvas-agent/internal/tools"
)

// DefaultMaxRounds bounds how many tool rounds one turn may take.
const DefaultMaxRounds = 10

// Turn is one user turn entering the loop.
type Turn struct {
	// SessionID targets an existing session; empty starts a new one.
	SessionID string

	// UserID is the authenticated owner. Required.
	UserID string

	// Message is the user's text. Required.
	Message string

	// Location is the optional device location sent with the turn.
	Location *canvas.Location
}

// TurnResult summarizes a completed turn.
type TurnResult struct {
	SessionID    string
	NewSession   bool
	Content      string
	Rounds       int
	InputTokens  int
	OutputTokens int
}

// Loop drives turns against the model and the tool registry.
type Loop struct {
	logger    *slog.Logger
	client    llm.Client
	registry  *tools.Registry
	sessions  *chat.Store
	model     string
	maxRounds int
}

// New creates a loop. maxRounds <= 0 uses DefaultMaxRounds.
func New(client llm.Client, registry *tools.Registry, sessions *chat.Store, model string, maxRounds int, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	return &Loop{
		logger:    logger.With("component", "agent"),
		client:    client,
		registry:  registry,
		sessions:  sessions,
		model:     model,
		maxRounds: maxRounds,
	}
}

// Run executes one turn. Tokens stream to callback as they arrive;
// what was streamed is exactly what gets persisted. A model failure
// before any content aborts the turn with nothing persisted beyond the
// user row; a mid-stream failure persists the partial content the
// caller already saw.
func (l *Loop) Run(ctx context.Context, turn Turn, callback llm.StreamCallback) (*TurnResult, error) {
	if turn.UserID == "" {
		return nil, fmt.Errorf("agent: user id is required")
	}
	if strings.TrimSpace(turn.Message) == "" {
		return nil, fmt.Errorf("agent: message is empty")
	}

	sess, isNew, err := l.resolveSession(turn)
	if err != nil {
		return nil, err
	}

	logger := l.logger.With("session_id", sess.ID)
	logger.Info("turn started", "new_session", isNew, "message_len", len(turn.Message))

	// The user row is persisted first: it happened regardless of what
	// the model does next.
	if err := l.sessions.AppendMessage(&chat.Message{
		SessionID: sess.ID,
		Role:      chat.RoleUser,
		Content:   turn.Message,
		Location:  turn.Location,
	}); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}

	rows, err := l.sessions.ListMessages(sess.ID)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}

	activeCanvas := sess.ActiveCanvasID
	if activeCanvas == "" {
		// Sessions older than the active_canvas_id column fall back to
		// scanning the transcript.
		activeCanvas = chat.DetectActiveCanvas(rows)
	}

	messages := make([]llm.Message, 0, len(rows)+1)
	messages = append(messages, llm.Message{
		Role:    chat.RoleSystem,
		Content: prompts.BuildInstructions(prompts.Context{ActiveCanvasID: activeCanvas}),
	})
	messages = append(messages, chat.BuildHistory(rows)...)

	// Tool executions run on a non-cancellable context: a dropped HTTP
	// connection must not lose a canvas write that the model already
	// committed to.
	toolCtx := tools.WithUserID(context.WithoutCancel(ctx), turn.UserID)
	toolCtx = tools.WithSessionID(toolCtx, sess.ID)
	toolCtx = tools.WithLocation(toolCtx, turn.Location)

	result := &TurnResult{SessionID: sess.ID, NewSession: isNew}
	var streamed strings.Builder

	for round := 1; round <= l.maxRounds; round++ {
		result.Rounds = round

		resp, err := l.client.ChatStream(ctx, l.model, messages, l.registry.List(), callback)
		if err != nil {
			if resp != nil && resp.Message.Content != "" {
				// Mid-stream failure: the caller already saw these
				// bytes, so they must survive.
				if perr := l.sessions.AppendMessage(&chat.Message{
					SessionID: sess.ID,
					Role:      chat.RoleAssistant,
					Content:   resp.Message.Content,
				}); perr != nil {
					logger.Error("persist partial response failed", "error", perr)
				}
				logger.Warn("stream interrupted, partial persisted",
					"round", round, "partial_len", len(resp.Message.Content))
			}
			return nil, fmt.Errorf("model call failed: %w", err)
		}

		streamed.WriteString(resp.Message.Content)
		result.InputTokens += resp.InputTokens
		result.OutputTokens += resp.OutputTokens

		if err := l.sessions.AppendMessage(&chat.Message{
			SessionID: sess.ID,
			Role:      chat.RoleAssistant,
			Content:   resp.Message.Content,
			ToolCalls: resp.Message.ToolCalls,
		}); err != nil {
			return nil, fmt.Errorf("persist assistant message: %w", err)
		}

		if len(resp.Message.ToolCalls) == 0 {
			break
		}

		messages = append(messages, llm.Message{
			Role:      chat.RoleAssistant,
			Content:   resp.Message.Content,
			ToolCalls: resp.Message.ToolCalls,
		})

		// Same-round calls run sequentially, in call order. Results go
		// back to the model and the transcript in that same order.
		for _, call := range resp.Message.ToolCalls {
			name := call.Function.Name
			if callback != nil {
				callback(llm.StreamEvent{Kind: llm.KindToolCallStart, ToolCall: &call})
			}

			res := l.registry.Execute(toolCtx, name, call.Function.Arguments)
			encoded := res.Encode()
			logger.Debug("tool executed", "round", round, "tool", name, "status", res.Status)

			if callback != nil {
				callback(llm.StreamEvent{Kind: llm.KindToolCallDone, ToolName: name, ToolResult: encoded})
			}

			if err := l.sessions.AppendMessage(&chat.Message{
				SessionID:  sess.ID,
				Role:       chat.RoleTool,
				Content:    encoded,
				ToolCallID: call.ID,
			}); err != nil {
				return nil, fmt.Errorf("persist tool result: %w", err)
			}
			messages = append(messages, llm.Message{
				Role:       chat.RoleTool,
				Content:    encoded,
				ToolCallID: call.ID,
			})
		}

		// Tool results are executed and recorded even on the last
		// round, so every persisted tool call has an answering tool
		// row and the transcript stays replayable. Only the follow-up
		// model call is skipped.
		if round == l.maxRounds {
			logger.Warn("tool round budget exhausted", "rounds", round)
		}
	}

	result.Content = streamed.String()

	if err := l.sessions.TouchSession(sess.ID); err != nil {
		logger.Error("touch session failed", "error", err)
	}

	if callback != nil {
		callback(llm.StreamEvent{Kind: llm.KindDone, Response: &llm.ChatResponse{
			Model:        l.model,
			Message:      llm.Message{Role: chat.RoleAssistant, Content: result.Content},
			Done:         true,
			InputTokens:  result.InputTokens,
			OutputTokens: result.OutputTokens,
		}})
	}

	logger.Info("turn finished",
		"rounds", result.Rounds,
		"content_len", len(result.Content),
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
	)
	return result, nil
}

// resolveSession loads the targeted session or starts a new one titled
// after the opening message.
func (l *Loop) resolveSession(turn Turn) (*chat.Session, bool, error) {
	if turn.SessionID != "" {
		sess, err := l.sessions.GetSession(turn.SessionID, turn.UserID)
		if err != nil {
			return nil, false, fmt.Errorf("load session: %w", err)
		}
		if sess == nil {
			return nil, false, fmt.Errorf("agent: session %s not found", turn.SessionID)
		}
		return sess, false, nil
	}

	sess, err := l.sessions.CreateSession("", turn.UserID, chat.TitleFromMessage(turn.Message))
	if err != nil {
		return nil, false, fmt.Errorf("create session: %w", err)
	}
	return sess, true, nil
}
