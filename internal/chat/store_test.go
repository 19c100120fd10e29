package chat

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/oxleyk/canvas-agent/internal/canvas"
	"github.com/oxleyk/canvas-agent/internal/llm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)

	sess, err := s.CreateSession("", "user-1", "Coffee shop plan")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("session has no id")
	}

	got, err := s.GetSession(sess.ID, "user-1")
	if err != nil || got == nil {
		t.Fatalf("get session = (%v, %v)", got, err)
	}
	if got.Title != "Coffee shop plan" {
		t.Errorf("title: %q", got.Title)
	}
	if got.ActiveCanvasID != "" {
		t.Errorf("new session should have no active canvas, got %q", got.ActiveCanvasID)
	}

	// Sessions are invisible to other users.
	if got, _ := s.GetSession(sess.ID, "user-2"); got != nil {
		t.Error("cross-user GetSession leaked a session")
	}

	list, err := s.ListSessions("user-1")
	if err != nil || len(list) != 1 {
		t.Fatalf("list sessions = (%v, %v)", list, err)
	}

	ok, err := s.DeleteSession(sess.ID, "user-2")
	if err != nil || ok {
		t.Error("cross-user delete succeeded")
	}
	ok, err = s.DeleteSession(sess.ID, "user-1")
	if err != nil || !ok {
		t.Fatalf("delete = (%v, %v)", ok, err)
	}
	if got, _ := s.GetSession(sess.ID, "user-1"); got != nil {
		t.Error("session still present after delete")
	}
}

func TestSetActiveCanvas(t *testing.T) {
	s := newTestStore(t)

	sess, _ := s.CreateSession("", "user-1", "t")

	if err := s.SetActiveCanvas(sess.ID, "canvas-1"); err != nil {
		t.Fatalf("set active canvas: %v", err)
	}
	got, _ := s.GetSession(sess.ID, "user-1")
	if got.ActiveCanvasID != "canvas-1" {
		t.Errorf("active canvas = %q", got.ActiveCanvasID)
	}

	// Last write wins.
	if err := s.SetActiveCanvas(sess.ID, "canvas-2"); err != nil {
		t.Fatalf("set active canvas: %v", err)
	}
	got, _ = s.GetSession(sess.ID, "user-1")
	if got.ActiveCanvasID != "canvas-2" {
		t.Errorf("active canvas = %q", got.ActiveCanvasID)
	}

	if err := s.SetActiveCanvas("no-such-session", "c"); err == nil {
		t.Error("expected error for missing session")
	}
}

func TestMessageRoundTrip(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.CreateSession("", "user-1", "t")

	msgs := []*Message{
		{SessionID: sess.ID, Role: RoleUser, Content: "make me a canvas",
			Location: &canvas.Location{Lat: 1.5, Lon: 2.5}},
		{SessionID: sess.ID, Role: RoleAssistant, Content: "", ToolCalls: []llm.ToolCall{
			llm.NewToolCall("call_1", "create_canvas", map[string]any{"title": "x"}),
		}},
		{SessionID: sess.ID, Role: RoleTool, Content: `{"status":"success","canvas_id":"c1"}`, ToolCallID: "call_1"},
		{SessionID: sess.ID, Role: RoleAssistant, Content: "All set."},
	}
	for _, m := range msgs {
		if err := s.AppendMessage(m); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := s.ListMessages(sess.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("got %d messages, want 4", len(got))
	}

	if got[0].Location == nil || got[0].Location.Lat != 1.5 {
		t.Errorf("location did not round-trip: %+v", got[0].Location)
	}
	if len(got[1].ToolCalls) != 1 {
		t.Fatalf("tool calls did not round-trip: %+v", got[1])
	}
	tc := got[1].ToolCalls[0]
	if tc.ID != "call_1" || tc.Function.Name != "create_canvas" || tc.Function.Arguments["title"] != "x" {
		t.Errorf("tool call: %+v", tc)
	}
	if got[2].ToolCallID != "call_1" {
		t.Errorf("tool_call_id: %q", got[2].ToolCallID)
	}

	// The round-tripped rows must survive history reconstruction intact.
	history := BuildHistory(got)
	if len(history) != 4 {
		t.Errorf("history: %d messages, want 4", len(history))
	}
}

func TestLatestLocation(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.CreateSession("", "user-1", "t")

	if loc, err := s.LatestLocation(sess.ID); err != nil || loc != nil {
		t.Errorf("empty session LatestLocation = (%v, %v)", loc, err)
	}

	s.AppendMessage(&Message{SessionID: sess.ID, Role: RoleUser, Content: "a",
		Location: &canvas.Location{Lat: 1, Lon: 1}})
	s.AppendMessage(&Message{SessionID: sess.ID, Role: RoleUser, Content: "b"})
	s.AppendMessage(&Message{SessionID: sess.ID, Role: RoleUser, Content: "c",
		Location: &canvas.Location{Lat: 9, Lon: 9}})

	loc, err := s.LatestLocation(sess.ID)
	if err != nil || loc == nil {
		t.Fatalf("LatestLocation = (%v, %v)", loc, err)
	}
	if loc.Lat != 9 {
		t.Errorf("got %+v, want most recent location", loc)
	}
}

func TestDeleteSessionRemovesMessages(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.CreateSession("", "user-1", "t")
	s.AppendMessage(&Message{SessionID: sess.ID, Role: RoleUser, Content: "hi"})

	if _, err := s.DeleteSession(sess.ID, "user-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	msgs, _ := s.ListMessages(sess.ID)
	if len(msgs) != 0 {
		t.Errorf("messages survived session delete: %d", len(msgs))
	}
}
