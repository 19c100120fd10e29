package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/oxleyk/canvas-agent/internal/canvas"
	"github.com/oxleyk/canvas-agent/internal/chat"
)

var blockSchema = map[string]any{
	"type":        "array",
	"description": "Business model canvas blocks gathered from the conversation",
	"items": map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tag": map[string]any{
				"type":        "string",
				"description": "Block tag, one of: " + strings.Join(canvas.Tags, ", "),
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Block content in the user's own framing",
			},
		},
		"required": []string{"tag", "content"},
	},
}

// RegisterCanvasTools wires the canvas mutation tools plus
// get_location into the registry. Canvas mutations also move session
// continuity via the chat store.
func RegisterCanvasTools(r *Registry, canvases *canvas.Store, sessions *chat.Store, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "canvas_tools")

	r.Register(&Tool{
		Name:        NameCreateCanvas,
		Description: "Save a new business model canvas assembled from the conversation so far. Call this when the user wants their canvas created or saved.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"blocks": blockSchema,
			},
			"required": []string{"blocks"},
		},
		Handler: func(ctx context.Context, args map[string]any) Result {
			userID := UserIDFromContext(ctx)
			if userID == "" {
				return Failed("no authenticated user for this conversation")
			}

			blocks, err := parseBlocks(args["blocks"])
			if err != nil {
				return Failed(err.Error())
			}
			if problems := canvas.ValidateBlocks(blocks); len(problems) > 0 {
				return Failed("invalid canvas: " + strings.Join(problems, "; "))
			}

			sessionID := SessionIDFromContext(ctx)

			// One canvas per session: once this session has an active
			// canvas, further saves replace its blocks instead of
			// minting a second entity. This is also what serializes
			// duplicate create calls within one round into one canvas.
			if sessionID != "" {
				sess, err := sessions.GetSession(sessionID, userID)
				if err != nil {
					logger.Error("session lookup failed", "session_id", sessionID, "error", err)
					return Failed("could not save the canvas")
				}
				if sess != nil && sess.ActiveCanvasID != "" {
					c, err := canvases.Update(sess.ActiveCanvasID, userID, blocks)
					if err != nil {
						logger.Error("update canvas failed", "canvas_id", sess.ActiveCanvasID, "error", err)
						return Failed("could not save the canvas")
					}
					if c != nil {
						logger.Info("canvas replaced", "canvas_id", c.ID, "blocks", len(c.Blocks))
						return Result{
							Status:   StatusSuccess,
							Message:  fmt.Sprintf("Canvas updated, now %d blocks.", len(c.Blocks)),
							CanvasID: c.ID,
						}
					}
					// The tracked canvas is gone; fall through and
					// create a fresh one.
				}
			}

			c, err := canvases.Create(userID, blocks, false, sessionID, LocationFromContext(ctx))
			if err != nil {
				logger.Error("create canvas failed", "error", err)
				return Failed("could not save the canvas")
			}

			if sessionID != "" {
				if err := sessions.SetActiveCanvas(sessionID, c.ID); err != nil {
					logger.Error("set active canvas failed", "session_id", sessionID, "canvas_id", c.ID, "error", err)
				}
			}

			logger.Info("canvas created", "canvas_id", c.ID, "blocks", len(c.Blocks))
			return Result{
				Status:   StatusSuccess,
				Message:  fmt.Sprintf("Canvas saved with %d blocks.", len(c.Blocks)),
				CanvasID: c.ID,
			}
		},
	})

	r.Register(&Tool{
		Name:        NameUpdateCanvas,
		Description: "Update an existing business model canvas. Requires the canvas_id from system info and the complete, updated blocks array.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"canvas_id": map[string]any{
					"type":        "string",
					"description": "The id of the canvas to update",
				},
				"blocks": blockSchema,
			},
			"required": []string{"canvas_id", "blocks"},
		},
		Handler: func(ctx context.Context, args map[string]any) Result {
			userID := UserIDFromContext(ctx)
			if userID == "" {
				return Failed("no authenticated user for this conversation")
			}

			canvasID, _ := args["canvas_id"].(string)
			if canvasID == "" {
				return Failed("canvas_id is required")
			}
			blocks, err := parseBlocks(args["blocks"])
			if err != nil {
				return Failed(err.Error())
			}
			if problems := canvas.ValidateBlocks(blocks); len(problems) > 0 {
				return Failed("invalid canvas: " + strings.Join(problems, "; "))
			}

			c, err := canvases.Update(canvasID, userID, blocks)
			if err != nil {
				logger.Error("update canvas failed", "canvas_id", canvasID, "error", err)
				return Failed("could not update the canvas")
			}
			if c == nil {
				return NotFound(fmt.Sprintf("canvas %s does not exist", canvasID))
			}

			if sessionID := SessionIDFromContext(ctx); sessionID != "" {
				if err := sessions.SetActiveCanvas(sessionID, c.ID); err != nil {
					logger.Error("set active canvas failed", "session_id", sessionID, "canvas_id", c.ID, "error", err)
				}
			}

			logger.Info("canvas updated", "canvas_id", c.ID, "blocks", len(c.Blocks))
			return Result{
				Status:   StatusSuccess,
				Message:  fmt.Sprintf("Canvas updated, now %d blocks.", len(c.Blocks)),
				CanvasID: c.ID,
			}
		},
	})

	r.Register(&Tool{
		Name:        NameGetLocation,
		Description: "Get the user's current coordinates, for grounding location-sensitive business advice.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: func(ctx context.Context, args map[string]any) Result {
			loc := LocationFromContext(ctx)
			if loc == nil {
				fallback := canvas.DefaultLocation
				loc = &fallback
			}
			return Result{
				Status: StatusSuccess,
				Data:   map[string]any{"lat": loc.Lat, "lon": loc.Lon},
			}
		},
	})
}

// parseBlocks coerces the model-supplied blocks argument into typed
// blocks. Tags are left as sent; normalization happens in the store.
func parseBlocks(raw any) ([]canvas.Block, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("blocks must be an array of {tag, content} objects")
	}

	blocks := make([]canvas.Block, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("block %d is not an object", i)
		}
		tag, _ := obj["tag"].(string)
		content, _ := obj["content"].(string)
		blocks = append(blocks, canvas.Block{Tag: tag, Content: content})
	}
	return blocks, nil
}
