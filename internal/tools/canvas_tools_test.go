package tools

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/oxleyk/canvas-agent/internal/canvas"
	"github.com/oxleyk/canvas-agent/internal/chat"
)

func newCanvasRegistry(t *testing.T) (*Registry, *canvas.Store, *chat.Store) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	canvases, err := canvas.NewStore(db)
	if err != nil {
		t.Fatalf("canvas store: %v", err)
	}
	sessions, err := chat.NewStore(db)
	if err != nil {
		t.Fatalf("chat store: %v", err)
	}

	r := NewRegistry(nil)
	RegisterCanvasTools(r, canvases, sessions, nil)
	return r, canvases, sessions
}

func turnContext(userID, sessionID string) context.Context {
	ctx := WithUserID(context.Background(), userID)
	return WithSessionID(ctx, sessionID)
}

func TestCreateCanvasTool(t *testing.T) {
	r, canvases, sessions := newCanvasRegistry(t)
	sess, _ := sessions.CreateSession("", "u1", "t")
	ctx := turnContext("u1", sess.ID)

	res := r.Execute(ctx, NameCreateCanvas, map[string]any{
		"blocks": []any{
			map[string]any{"tag": "customerSegments", "content": "students"},
			map[string]any{"tag": "channels", "content": "campus pop-ups"},
		},
	})
	if res.Status != StatusSuccess {
		t.Fatalf("result: %+v", res)
	}
	if res.CanvasID == "" {
		t.Fatal("successful create carries no canvas_id")
	}

	c, _ := canvases.Find(res.CanvasID, "u1")
	if c == nil {
		t.Fatal("canvas not persisted")
	}
	if c.Blocks[0].Tag != canvas.TagCustomerSegments {
		t.Errorf("tag not normalized: %q", c.Blocks[0].Tag)
	}

	// Continuity moved to the new canvas.
	got, _ := sessions.GetSession(sess.ID, "u1")
	if got.ActiveCanvasID != res.CanvasID {
		t.Errorf("active canvas = %q, want %q", got.ActiveCanvasID, res.CanvasID)
	}
}

func TestCreateCanvasToolReplacesActiveCanvas(t *testing.T) {
	r, canvases, sessions := newCanvasRegistry(t)
	sess, _ := sessions.CreateSession("", "u1", "t")
	ctx := turnContext("u1", sess.ID)

	first := r.Execute(ctx, NameCreateCanvas, map[string]any{
		"blocks": []any{map[string]any{"tag": "channels", "content": "web"}},
	})
	second := r.Execute(ctx, NameCreateCanvas, map[string]any{
		"blocks": []any{map[string]any{"tag": "channels", "content": "retail"}},
	})
	if first.Status != StatusSuccess || second.Status != StatusSuccess {
		t.Fatalf("results: %+v / %+v", first, second)
	}

	// The second save replaced the session's canvas instead of
	// minting another one.
	if second.CanvasID != first.CanvasID {
		t.Errorf("second create made a new canvas: %q vs %q", second.CanvasID, first.CanvasID)
	}
	all, _ := canvases.ListByOwner("u1")
	if len(all) != 1 {
		t.Fatalf("canvas count = %d, want 1", len(all))
	}
	if all[0].Blocks[0].Content != "retail" {
		t.Errorf("blocks not replaced: %+v", all[0].Blocks)
	}
}

func TestCreateCanvasToolRecoversFromStaleActiveID(t *testing.T) {
	r, canvases, sessions := newCanvasRegistry(t)
	sess, _ := sessions.CreateSession("", "u1", "t")
	sessions.SetActiveCanvas(sess.ID, "gone-42")
	ctx := turnContext("u1", sess.ID)

	res := r.Execute(ctx, NameCreateCanvas, map[string]any{
		"blocks": []any{map[string]any{"tag": "channels", "content": "web"}},
	})
	if res.Status != StatusSuccess {
		t.Fatalf("result: %+v", res)
	}
	if c, _ := canvases.Find(res.CanvasID, "u1"); c == nil {
		t.Fatal("fresh canvas not created for stale active id")
	}
	got, _ := sessions.GetSession(sess.ID, "u1")
	if got.ActiveCanvasID != res.CanvasID {
		t.Errorf("active canvas = %q, want %q", got.ActiveCanvasID, res.CanvasID)
	}
}

func TestCreateCanvasToolRejectsInvalidBlocks(t *testing.T) {
	r, _, _ := newCanvasRegistry(t)
	ctx := turnContext("u1", "")

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing blocks", map[string]any{}},
		{"blocks not an array", map[string]any{"blocks": "nope"}},
		{"empty blocks", map[string]any{"blocks": []any{}}},
		{"unknown tag", map[string]any{"blocks": []any{
			map[string]any{"tag": "swot", "content": "x"},
		}}},
		{"empty content", map[string]any{"blocks": []any{
			map[string]any{"tag": "channels", "content": ""},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Execute(ctx, NameCreateCanvas, tt.args)
			if res.Status != StatusFailed {
				t.Errorf("status = %q, want failed", res.Status)
			}
			if res.CanvasID != "" {
				t.Error("failed create must not carry a canvas_id")
			}
		})
	}
}

func TestCreateCanvasToolRequiresUser(t *testing.T) {
	r, _, _ := newCanvasRegistry(t)
	res := r.Execute(context.Background(), NameCreateCanvas, map[string]any{
		"blocks": []any{map[string]any{"tag": "channels", "content": "web"}},
	})
	if res.Status != StatusFailed {
		t.Errorf("status = %q, want failed", res.Status)
	}
}

func TestUpdateCanvasTool(t *testing.T) {
	r, canvases, sessions := newCanvasRegistry(t)
	sess, _ := sessions.CreateSession("", "u1", "t")
	ctx := turnContext("u1", sess.ID)

	c, _ := canvases.Create("u1", []canvas.Block{{Tag: "channels", Content: "web"}}, false, "", nil)

	res := r.Execute(ctx, NameUpdateCanvas, map[string]any{
		"canvas_id": c.ID,
		"blocks": []any{
			map[string]any{"tag": "channels", "content": "web"},
			map[string]any{"tag": "revenueStreams", "content": "ads"},
		},
	})
	if res.Status != StatusSuccess || res.CanvasID != c.ID {
		t.Fatalf("result: %+v", res)
	}

	after, _ := canvases.Find(c.ID, "u1")
	if len(after.Blocks) != 2 {
		t.Errorf("blocks after update: %+v", after.Blocks)
	}
	got, _ := sessions.GetSession(sess.ID, "u1")
	if got.ActiveCanvasID != c.ID {
		t.Errorf("continuity did not follow the update: %q", got.ActiveCanvasID)
	}
}

func TestUpdateCanvasToolMissingCanvas(t *testing.T) {
	r, _, _ := newCanvasRegistry(t)
	ctx := turnContext("u1", "")

	res := r.Execute(ctx, NameUpdateCanvas, map[string]any{
		"canvas_id": "ghost",
		"blocks":    []any{map[string]any{"tag": "channels", "content": "web"}},
	})
	if res.Status != StatusNotFound {
		t.Errorf("status = %q, want not_found", res.Status)
	}
}

func TestUpdateCanvasToolCrossOwner(t *testing.T) {
	r, canvases, _ := newCanvasRegistry(t)
	c, _ := canvases.Create("owner", []canvas.Block{{Tag: "channels", Content: "web"}}, false, "", nil)

	res := r.Execute(turnContext("intruder", ""), NameUpdateCanvas, map[string]any{
		"canvas_id": c.ID,
		"blocks":    []any{map[string]any{"tag": "channels", "content": "hacked"}},
	})
	if res.Status != StatusNotFound {
		t.Errorf("cross-owner update status = %q, want not_found", res.Status)
	}
	after, _ := canvases.Find(c.ID, "owner")
	if after.Blocks[0].Content != "web" {
		t.Error("cross-owner update mutated the canvas")
	}
}

func TestGetLocationTool(t *testing.T) {
	r, _, _ := newCanvasRegistry(t)

	// With a reported location.
	loc := &canvas.Location{Lat: 35.6, Lon: 139.7}
	ctx := WithLocation(turnContext("u1", ""), loc)
	res := r.Execute(ctx, NameGetLocation, nil)
	if res.Status != StatusSuccess {
		t.Fatalf("result: %+v", res)
	}
	data := res.Data.(map[string]any)
	if data["lat"] != 35.6 {
		t.Errorf("data: %v", data)
	}

	// Without one, falls back to the default.
	res = r.Execute(turnContext("u1", ""), NameGetLocation, nil)
	data = res.Data.(map[string]any)
	if data["lat"] != canvas.DefaultLocation.Lat {
		t.Errorf("fallback data: %v", data)
	}
}
