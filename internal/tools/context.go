package tools

import (
	"context"

	"github.com/oxleyk/canvas-agent/internal/canvas"
)

type contextKey string

const (
	userIDKey    contextKey = "user_id"
	sessionIDKey contextKey = "session_id"
	locationKey  contextKey = "location"
)

// WithUserID adds the authenticated user id to the context.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserIDFromContext extracts the user id from the context. Returns ""
// if not set.
func UserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}

// WithSessionID adds the session id to the context.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionIDFromContext extracts the session id from the context.
// Returns "" if not set.
func SessionIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(sessionIDKey).(string); ok {
		return id
	}
	return ""
}

// WithLocation adds the user's reported location to the context. Nil
// locations are ignored.
func WithLocation(ctx context.Context, loc *canvas.Location) context.Context {
	if loc == nil {
		return ctx
	}
	return context.WithValue(ctx, locationKey, loc)
}

// LocationFromContext extracts the user's location. Returns nil if no
// location was reported this turn.
func LocationFromContext(ctx context.Context) *canvas.Location {
	if loc, ok := ctx.Value(locationKey).(*canvas.Location); ok {
		return loc
	}
	return nil
}
