package prompts

import (
	"strings"
	"testing"
)

func TestBuildInstructionsIsPure(t *testing.T) {
	a := BuildInstructions(Context{ActiveCanvasID: "c1"})
	b := BuildInstructions(Context{ActiveCanvasID: "c1"})
	if a != b {
		t.Error("BuildInstructions is not deterministic")
	}
}

func TestBuildInstructionsWithoutCanvas(t *testing.T) {
	got := BuildInstructions(Context{})
	if strings.Contains(got, "SYSTEM INFO") {
		t.Error("no-canvas prompt should not contain a SYSTEM INFO section")
	}
	for _, want := range []string{"create_canvas", "update_canvas", "customer_segments", "cost_structure"} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildInstructionsWithCanvas(t *testing.T) {
	got := BuildInstructions(Context{ActiveCanvasID: "canvas-42"})
	if !strings.Contains(got, "SYSTEM INFO") {
		t.Error("prompt missing SYSTEM INFO section")
	}
	if !strings.Contains(got, "canvas-42") {
		t.Error("prompt missing the active canvas id")
	}
	// The id goes at the end, after the static rules.
	if strings.Index(got, "canvas-42") < strings.Index(got, "VOICE EXAMPLES") {
		t.Error("system info should follow the static prompt")
	}
}
