package chat

import (
	"encoding/json"
	"strings"

	"github.com/oxleyk/canvas-agent/internal/llm"
)

// BuildHistory converts persisted transcript rows into the message
// list sent to the model. It never fails: rows that cannot contribute
// to a coherent request are dropped.
//
// Rules, in order of application per row:
//   - system rows are never replayed; instructions are rebuilt fresh
//     for every turn
//   - assistant rows with neither content (after trimming) nor tool
//     calls carry no information and are dropped
//   - tool rows whose tool_call_id does not match a tool call from an
//     earlier assistant row are orphans and are dropped
//   - tool content is always a string on the wire; missing content
//     becomes ""
func BuildHistory(rows []Message) []llm.Message {
	knownCalls := make(map[string]bool)
	out := make([]llm.Message, 0, len(rows))

	for _, row := range rows {
		switch row.Role {
		case RoleSystem:
			continue

		case RoleAssistant:
			content := row.Content
			if strings.TrimSpace(content) == "" {
				// Whitespace-only content carries no information.
				content = ""
			}
			if content == "" && len(row.ToolCalls) == 0 {
				continue
			}
			for _, tc := range row.ToolCalls {
				if tc.ID != "" {
					knownCalls[tc.ID] = true
				}
			}
			out = append(out, llm.Message{
				Role:      RoleAssistant,
				Content:   content,
				ToolCalls: row.ToolCalls,
			})

		case RoleTool:
			if row.ToolCallID == "" || !knownCalls[row.ToolCallID] {
				continue
			}
			out = append(out, llm.Message{
				Role:       RoleTool,
				Content:    row.Content,
				ToolCallID: row.ToolCallID,
			})

		case RoleUser:
			out = append(out, llm.Message{Role: RoleUser, Content: row.Content})

		default:
			// Unknown roles are skipped rather than confusing the model.
		}
	}
	return out
}

// toolPayload is the slice of a tool result the continuity scan cares
// about.
type toolPayload struct {
	Status   string `json:"status"`
	CanvasID string `json:"canvas_id"`
}

// DetectActiveCanvas scans a transcript for the canvas most recently
// touched by a successful tool call. Later results win. This is the
// fallback path for sessions persisted before the active_canvas_id
// column existed; new writes go through Store.SetActiveCanvas.
func DetectActiveCanvas(rows []Message) string {
	var active string
	for _, row := range rows {
		if row.Role != RoleTool || row.Content == "" {
			continue
		}
		var p toolPayload
		if err := json.Unmarshal([]byte(row.Content), &p); err != nil {
			continue
		}
		if p.Status == "success" && p.CanvasID != "" {
			active = p.CanvasID
		}
	}
	return active
}
