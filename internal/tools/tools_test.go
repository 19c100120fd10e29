package tools

import (
	"context"
	"encoding/json"
	"testing"
)

func TestExecuteUnknownTool(t *testing.T) {
	r := NewRegistry(nil)
	res := r.Execute(context.Background(), "no_such_tool", nil)
	if res.Status != StatusNotFound {
		t.Errorf("status = %q, want not_found", res.Status)
	}
}

func TestExecuteRecoversPanic(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&Tool{
		Name: "explode",
		Handler: func(ctx context.Context, args map[string]any) Result {
			panic("boom")
		},
	})
	res := r.Execute(context.Background(), "explode", nil)
	if res.Status != StatusFailed {
		t.Errorf("panicking handler should yield failed, got %q", res.Status)
	}
}

func TestExecutePassesArgs(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&Tool{
		Name: "echo",
		Handler: func(ctx context.Context, args map[string]any) Result {
			return Result{Status: StatusSuccess, Message: args["text"].(string)}
		},
	})
	res := r.Execute(context.Background(), "echo", map[string]any{"text": "hi"})
	if res.Status != StatusSuccess || res.Message != "hi" {
		t.Errorf("result: %+v", res)
	}
}

func TestListIsStableAndWireShaped(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&Tool{Name: "zeta", Description: "z", Parameters: map[string]any{"type": "object"}})
	r.Register(&Tool{Name: "alpha", Description: "a", Parameters: map[string]any{"type": "object"}})

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("got %d tools", len(list))
	}
	first, ok := list[0]["function"].(map[string]any)
	if !ok {
		t.Fatal("missing function envelope")
	}
	if first["name"] != "alpha" {
		t.Errorf("tools not in name order: %v", first["name"])
	}
	if list[0]["type"] != "function" {
		t.Errorf("missing type discriminator: %v", list[0])
	}
}

func TestResultEncode(t *testing.T) {
	res := Result{Status: StatusSuccess, Message: "ok", CanvasID: "c1"}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(res.Encode()), &decoded); err != nil {
		t.Fatalf("Encode produced invalid JSON: %v", err)
	}
	if decoded["status"] != "success" || decoded["canvas_id"] != "c1" {
		t.Errorf("decoded: %v", decoded)
	}
	if _, present := decoded["data"]; present {
		t.Error("empty data should be omitted")
	}

	// Unencodable data degrades to a failed result, never an error.
	bad := Result{Status: StatusSuccess, Data: make(chan int)}
	if err := json.Unmarshal([]byte(bad.Encode()), &decoded); err != nil {
		t.Fatalf("fallback encoding invalid: %v", err)
	}
	if decoded["status"] != "failed" {
		t.Errorf("unencodable data should collapse to failed: %v", decoded)
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if UserIDFromContext(ctx) != "" || SessionIDFromContext(ctx) != "" || LocationFromContext(ctx) != nil {
		t.Error("empty context should yield zero values")
	}
	ctx = WithUserID(ctx, "u1")
	ctx = WithSessionID(ctx, "s1")
	if UserIDFromContext(ctx) != "u1" || SessionIDFromContext(ctx) != "s1" {
		t.Error("context round-trip failed")
	}
}
