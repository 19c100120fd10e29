package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/oxleyk/canvas-agent/internal/agent"
	"github.com/oxleyk/canvas-agent/internal/auth"
	"github.com/oxleyk/canvas-agent/internal/canvas"
	"github.com/oxleyk/canvas-agent/internal/chat"
	"github.com/oxleyk/canvas-agent/internal/llm"
)

// chatRequest is one user turn.
type chatRequest struct {
	Message   string           `json:"message"`
	SessionID string           `json:"session_id,omitempty"`
	Location  *canvas.Location `json:"location,omitempty"`
}

// chatFrame is one SSE data frame. Chunk frames carry a token slice;
// the terminal frame sets Done (or Error when the turn failed after
// streaming began).
type chatFrame struct {
	Chunk        string `json:"chunk,omitempty"`
	SessionID    string `json:"session_id"`
	IsNewSession bool   `json:"is_new_session"`
	Done         bool   `json:"done,omitempty"`
	Error        string `json:"error,omitempty"`
}

// handleChat runs one turn and streams the assistant reply as SSE.
// The session is resolved before streaming starts so every frame can
// name it; errors past that point arrive as a terminal error frame
// because the status line is already written.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	userID := auth.UserID(r.Context())

	sessionID := req.SessionID
	isNew := false
	if sessionID == "" {
		sess, err := s.sessions.CreateSession("", userID, chat.TitleFromMessage(req.Message))
		if err != nil {
			s.logger.Error("session create failed", "error", err)
			s.errorResponse(w, http.StatusInternalServerError, "session create failed")
			return
		}
		sessionID = sess.ID
		isNew = true
	} else {
		sess, err := s.sessions.GetSession(sessionID, userID)
		if err != nil {
			s.logger.Error("session lookup failed", "error", err)
			s.errorResponse(w, http.StatusInternalServerError, "session lookup failed")
			return
		}
		if sess == nil {
			s.errorResponse(w, http.StatusNotFound, "session not found")
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorResponse(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	rc := http.NewResponseController(w)

	writeFrame := func(f chatFrame) {
		f.SessionID = sessionID
		f.IsNewSession = isNew
		data, err := json.Marshal(f)
		if err != nil {
			s.logger.Debug("failed to marshal SSE frame", "error", err)
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			s.logger.Debug("failed to write SSE frame", "error", err)
		}
		flusher.Flush()
	}

	callback := func(event llm.StreamEvent) {
		switch event.Kind {
		case llm.KindToken:
			writeFrame(chatFrame{Chunk: event.Token})

		case llm.KindToolCallStart, llm.KindToolCallDone:
			// SSE comment as keepalive during tool execution
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}

		// Reset write deadline after every event so multi-round tool
		// loops do not trip the server write timeout.
		if err := rc.SetWriteDeadline(time.Now().Add(120 * time.Second)); err != nil {
			s.logger.Debug("failed to reset write deadline", "error", err)
		}
	}

	turn := agent.Turn{
		SessionID: sessionID,
		UserID:    userID,
		Message:   req.Message,
		Location:  req.Location,
	}

	if _, err := s.loop.Run(r.Context(), turn, callback); err != nil {
		s.logger.Error("turn failed", "session_id", sessionID, "error", err)
		writeFrame(chatFrame{Error: "the assistant could not complete this turn"})
		return
	}

	writeFrame(chatFrame{Done: true})
	fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	sessions, err := s.sessions.ListSessions(userID)
	if err != nil {
		s.logger.Error("session list failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "session list failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	}, s.logger)
}

// transcriptMessage is the user-facing view of a persisted row. Tool
// plumbing (tool rows, tool-call-only assistant rows) stays internal.
type transcriptMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	id := r.PathValue("id")

	sess, err := s.sessions.GetSession(id, userID)
	if err != nil {
		s.logger.Error("session lookup failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "session lookup failed")
		return
	}
	if sess == nil {
		s.errorResponse(w, http.StatusNotFound, "session not found")
		return
	}

	rows, err := s.sessions.ListMessages(id)
	if err != nil {
		s.logger.Error("message list failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "message list failed")
		return
	}

	filtered := make([]transcriptMessage, 0, len(rows))
	for _, m := range rows {
		if m.Role != chat.RoleUser && m.Role != chat.RoleAssistant {
			continue
		}
		if m.Content == "" {
			continue
		}
		filtered = append(filtered, transcriptMessage{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"session":  sess,
		"messages": filtered,
		"count":    len(filtered),
	}, s.logger)
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	id := r.PathValue("id")

	deleted, err := s.sessions.DeleteSession(id, userID)
	if err != nil {
		s.logger.Error("session delete failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "session delete failed")
		return
	}
	if !deleted {
		s.errorResponse(w, http.StatusNotFound, "session not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
