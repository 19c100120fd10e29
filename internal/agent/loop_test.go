package agent

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/oxleyk/canvas-agent/internal/canvas"
	"github.com/oxleyk/canvas-agent/internal/chat"
	"github.com/oxleyk/canvas-agent/internal/llm"
	"github.com/oxleyk/canvas-agent/internal/tools"
)

// scriptedClient replays canned responses, one per model call, and
// streams their content through the callback the way a real provider
// would.
type scriptedClient struct {
	responses []*llm.ChatResponse
	errs      []error
	calls     int
	seen      [][]llm.Message
}

func (c *scriptedClient) Chat(ctx context.Context, model string, messages []llm.Message, defs []map[string]any) (*llm.ChatResponse, error) {
	return c.ChatStream(ctx, model, messages, defs, nil)
}

func (c *scriptedClient) ChatStream(ctx context.Context, model string, messages []llm.Message, defs []map[string]any, callback llm.StreamCallback) (*llm.ChatResponse, error) {
	i := c.calls
	c.calls++
	c.seen = append(c.seen, messages)

	if i >= len(c.responses) {
		return nil, fmt.Errorf("unexpected model call %d", i)
	}
	resp := c.responses[i]
	var err error
	if i < len(c.errs) {
		err = c.errs[i]
	}
	if resp != nil && callback != nil && resp.Message.Content != "" {
		// Stream in two chunks to exercise accumulation.
		content := resp.Message.Content
		half := len(content) / 2
		callback(llm.StreamEvent{Kind: llm.KindToken, Token: content[:half]})
		callback(llm.StreamEvent{Kind: llm.KindToken, Token: content[half:]})
	}
	return resp, err
}

func (c *scriptedClient) Ping(ctx context.Context) error { return nil }

func textResponse(content string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Message:      llm.Message{Role: "assistant", Content: content},
		Done:         true,
		InputTokens:  10,
		OutputTokens: 5,
	}
}

func toolResponse(content string, calls ...llm.ToolCall) *llm.ChatResponse {
	return &llm.ChatResponse{
		Message: llm.Message{Role: "assistant", Content: content, ToolCalls: calls},
		Done:    true,
	}
}

type fixture struct {
	loop     *Loop
	sessions *chat.Store
	canvases *canvas.Store
	client   *scriptedClient
}

func newFixture(t *testing.T, client *scriptedClient) *fixture {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	canvases, err := canvas.NewStore(db)
	if err != nil {
		t.Fatalf("canvas store: %v", err)
	}
	sessions, err := chat.NewStore(db)
	if err != nil {
		t.Fatalf("chat store: %v", err)
	}

	registry := tools.NewRegistry(nil)
	tools.RegisterCanvasTools(registry, canvases, sessions, nil)

	return &fixture{
		loop:     New(client, registry, sessions, "test-model", 5, nil),
		sessions: sessions,
		canvases: canvases,
		client:   client,
	}
}

func collectTokens(streamed *strings.Builder) llm.StreamCallback {
	return func(ev llm.StreamEvent) {
		if ev.Kind == llm.KindToken {
			streamed.WriteString(ev.Token)
		}
	}
}

func TestRunPlainAnswer(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{
		textResponse("Great idea. Who's the customer?"),
	}}
	f := newFixture(t, client)

	var streamed strings.Builder
	res, err := f.loop.Run(context.Background(), Turn{
		UserID:  "u1",
		Message: "I want to open a coffee cart",
	}, collectTokens(&streamed))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if !res.NewSession || res.SessionID == "" {
		t.Errorf("expected new session: %+v", res)
	}
	if res.Content != "Great idea. Who's the customer?" {
		t.Errorf("content: %q", res.Content)
	}
	if streamed.String() != res.Content {
		t.Errorf("streamed %q != persisted %q", streamed.String(), res.Content)
	}
	if res.Rounds != 1 {
		t.Errorf("rounds: %d", res.Rounds)
	}

	sess, _ := f.sessions.GetSession(res.SessionID, "u1")
	if sess.Title != "I want to open a coffee cart" {
		t.Errorf("title: %q", sess.Title)
	}

	rows, _ := f.sessions.ListMessages(res.SessionID)
	if len(rows) != 2 || rows[0].Role != chat.RoleUser || rows[1].Role != chat.RoleAssistant {
		t.Errorf("rows: %+v", rows)
	}
	if rows[1].Content != res.Content {
		t.Error("persisted assistant text differs from streamed text")
	}

	// The model saw the system prompt first, then the user row.
	first := client.seen[0]
	if first[0].Role != "system" || first[len(first)-1].Role != "user" {
		t.Errorf("model request shape: %+v", first)
	}
}

func TestRunToolRound(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{
		toolResponse("", llm.NewToolCall("call_1", tools.NameCreateCanvas, map[string]any{
			"blocks": []any{map[string]any{"tag": "channels", "content": "cart at the station"}},
		})),
		textResponse("Saved. Let's talk costs."),
	}}
	f := newFixture(t, client)

	res, err := f.loop.Run(context.Background(), Turn{UserID: "u1", Message: "save it"}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Rounds != 2 {
		t.Errorf("rounds: %d", res.Rounds)
	}

	rows, _ := f.sessions.ListMessages(res.SessionID)
	wantRoles := []string{chat.RoleUser, chat.RoleAssistant, chat.RoleTool, chat.RoleAssistant}
	if len(rows) != len(wantRoles) {
		t.Fatalf("rows: %d, want %d", len(rows), len(wantRoles))
	}
	for i, want := range wantRoles {
		if rows[i].Role != want {
			t.Errorf("row %d role = %q, want %q", i, rows[i].Role, want)
		}
	}
	if !strings.Contains(rows[2].Content, `"status":"success"`) {
		t.Errorf("tool row: %q", rows[2].Content)
	}
	if rows[2].ToolCallID != "call_1" {
		t.Errorf("tool row id: %q", rows[2].ToolCallID)
	}

	// The canvas exists and continuity points at it.
	canvases, _ := f.canvases.ListByOwner("u1")
	if len(canvases) != 1 {
		t.Fatalf("canvases: %d", len(canvases))
	}
	sess, _ := f.sessions.GetSession(res.SessionID, "u1")
	if sess.ActiveCanvasID != canvases[0].ID {
		t.Errorf("active canvas = %q, want %q", sess.ActiveCanvasID, canvases[0].ID)
	}

	// Round two included the tool result.
	second := client.seen[1]
	last := second[len(second)-1]
	if last.Role != "tool" || last.ToolCallID != "call_1" {
		t.Errorf("second request tail: %+v", last)
	}
}

func TestRunToolFailureContinuesTurn(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{
		toolResponse("", llm.NewToolCall("call_1", "imaginary_tool", nil)),
		textResponse("Hm, let me try something else."),
	}}
	f := newFixture(t, client)

	res, err := f.loop.Run(context.Background(), Turn{UserID: "u1", Message: "go"}, nil)
	if err != nil {
		t.Fatalf("a bad tool call must not abort the turn: %v", err)
	}

	rows, _ := f.sessions.ListMessages(res.SessionID)
	if len(rows) != 4 {
		t.Fatalf("rows: %d", len(rows))
	}
	if !strings.Contains(rows[2].Content, `"status":"not_found"`) {
		t.Errorf("tool row: %q", rows[2].Content)
	}
	if res.Content != "Hm, let me try something else." {
		t.Errorf("content: %q", res.Content)
	}
}

func TestRunSameRoundCallsInOrder(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{
		toolResponse("",
			llm.NewToolCall("call_a", tools.NameGetLocation, nil),
			llm.NewToolCall("call_b", "imaginary_tool", nil),
		),
		textResponse("done"),
	}}
	f := newFixture(t, client)

	res, err := f.loop.Run(context.Background(), Turn{UserID: "u1", Message: "go"}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	rows, _ := f.sessions.ListMessages(res.SessionID)
	// user, assistant, tool(call_a), tool(call_b), assistant
	if len(rows) != 5 {
		t.Fatalf("rows: %d", len(rows))
	}
	if rows[2].ToolCallID != "call_a" || rows[3].ToolCallID != "call_b" {
		t.Errorf("tool results out of call order: %q then %q", rows[2].ToolCallID, rows[3].ToolCallID)
	}
}

func TestRunDuplicateCreatesOneCanvas(t *testing.T) {
	blocks := func(content string) map[string]any {
		return map[string]any{"blocks": []any{
			map[string]any{"tag": "channels", "content": content},
		}}
	}
	client := &scriptedClient{responses: []*llm.ChatResponse{
		toolResponse("",
			llm.NewToolCall("call_a", tools.NameCreateCanvas, blocks("web")),
			llm.NewToolCall("call_b", tools.NameCreateCanvas, blocks("retail")),
		),
		textResponse("Saved it."),
	}}
	f := newFixture(t, client)

	if _, err := f.loop.Run(context.Background(), Turn{UserID: "u1", Message: "save twice"}, nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	all, err := f.canvases.ListByOwner("u1")
	if err != nil {
		t.Fatalf("list canvases: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("canvas count = %d, want 1", len(all))
	}
	// Second call's blocks won.
	if all[0].Blocks[0].Content != "retail" {
		t.Errorf("blocks = %+v", all[0].Blocks)
	}
}

func TestRunModelFailureAbortsCleanly(t *testing.T) {
	client := &scriptedClient{
		responses: []*llm.ChatResponse{nil},
		errs:      []error{fmt.Errorf("connection refused")},
	}
	f := newFixture(t, client)

	sess, _ := f.sessions.CreateSession("", "u1", "t")
	_, err := f.loop.Run(context.Background(), Turn{SessionID: sess.ID, UserID: "u1", Message: "hi"}, nil)
	if err == nil {
		t.Fatal("expected error")
	}

	// Only the user row made it; no assistant half-turn.
	rows, _ := f.sessions.ListMessages(sess.ID)
	if len(rows) != 1 || rows[0].Role != chat.RoleUser {
		t.Errorf("rows after aborted turn: %+v", rows)
	}
}

func TestRunMidStreamFailurePersistsPartial(t *testing.T) {
	partial := &llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: "The market for"}}
	client := &scriptedClient{
		responses: []*llm.ChatResponse{partial},
		errs:      []error{fmt.Errorf("read stream: connection reset")},
	}
	f := newFixture(t, client)

	sess, _ := f.sessions.CreateSession("", "u1", "t")
	_, err := f.loop.Run(context.Background(), Turn{SessionID: sess.ID, UserID: "u1", Message: "hi"}, nil)
	if err == nil {
		t.Fatal("expected error")
	}

	rows, _ := f.sessions.ListMessages(sess.ID)
	if len(rows) != 2 {
		t.Fatalf("rows: %d", len(rows))
	}
	if rows[1].Role != chat.RoleAssistant || rows[1].Content != "The market for" {
		t.Errorf("partial row: %+v", rows[1])
	}
}

func TestRunRoundBudgetTerminates(t *testing.T) {
	// Model insists on tools forever; the loop must still finish.
	endless := make([]*llm.ChatResponse, 10)
	for i := range endless {
		endless[i] = toolResponse("", llm.NewToolCall(fmt.Sprintf("call_%d", i), tools.NameGetLocation, nil))
	}
	client := &scriptedClient{responses: endless}
	f := newFixture(t, client)

	res, err := f.loop.Run(context.Background(), Turn{UserID: "u1", Message: "loop forever"}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Rounds != 5 {
		t.Errorf("rounds = %d, want the configured budget of 5", res.Rounds)
	}
	if client.calls != 5 {
		t.Errorf("model calls = %d, want 5", client.calls)
	}

	// The final round's tools still ran: user + 5×(assistant + tool).
	rows, err := f.sessions.ListMessages(res.SessionID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(rows) != 11 {
		t.Fatalf("rows = %d, want 11", len(rows))
	}

	// Replay stays well-formed: every assistant tool call is answered
	// by a later tool row, so the next turn's history is accepted.
	answered := make(map[string]bool)
	for _, row := range rows {
		if row.Role == chat.RoleTool {
			answered[row.ToolCallID] = true
		}
	}
	for _, msg := range chat.BuildHistory(rows) {
		for _, call := range msg.ToolCalls {
			if !answered[call.ID] {
				t.Errorf("tool call %s has no answering tool row", call.ID)
			}
		}
	}
}

func TestRunValidation(t *testing.T) {
	f := newFixture(t, &scriptedClient{})

	if _, err := f.loop.Run(context.Background(), Turn{UserID: "u1", Message: "  "}, nil); err == nil {
		t.Error("blank message accepted")
	}
	if _, err := f.loop.Run(context.Background(), Turn{Message: "hi"}, nil); err == nil {
		t.Error("missing user accepted")
	}
	if _, err := f.loop.Run(context.Background(), Turn{SessionID: "ghost", UserID: "u1", Message: "hi"}, nil); err == nil {
		t.Error("unknown session accepted")
	}
	if f.client.calls != 0 {
		t.Errorf("validation failures must not reach the model: %d calls", f.client.calls)
	}
}

func TestRunUsesStoredActiveCanvasInPrompt(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{textResponse("ok")}}
	f := newFixture(t, client)

	sess, _ := f.sessions.CreateSession("", "u1", "t")
	f.sessions.SetActiveCanvas(sess.ID, "canvas-99")

	if _, err := f.loop.Run(context.Background(), Turn{SessionID: sess.ID, UserID: "u1", Message: "hi"}, nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	system := client.seen[0][0]
	if system.Role != "system" || !strings.Contains(system.Content, "canvas-99") {
		t.Error("active canvas id missing from instructions")
	}
}

func TestRunFallsBackToTranscriptScan(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{textResponse("ok")}}
	f := newFixture(t, client)

	// A legacy session: canvas activity in the transcript but no
	// active_canvas_id column value.
	sess, _ := f.sessions.CreateSession("", "u1", "t")
	f.sessions.AppendMessage(&chat.Message{SessionID: sess.ID, Role: chat.RoleUser, Content: "save"})
	f.sessions.AppendMessage(&chat.Message{SessionID: sess.ID, Role: chat.RoleAssistant, ToolCalls: []llm.ToolCall{
		llm.NewToolCall("call_1", tools.NameCreateCanvas, nil),
	}})
	f.sessions.AppendMessage(&chat.Message{SessionID: sess.ID, Role: chat.RoleTool,
		Content: `{"status":"success","canvas_id":"legacy-7"}`, ToolCallID: "call_1"})

	if _, err := f.loop.Run(context.Background(), Turn{SessionID: sess.ID, UserID: "u1", Message: "update it"}, nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	system := client.seen[0][0]
	if !strings.Contains(system.Content, "legacy-7") {
		t.Error("transcript-scan fallback did not surface the canvas id")
	}
}
