package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oxleyk/canvas-agent/internal/agent"
	"github.com/oxleyk/canvas-agent/internal/auth"
	"github.com/oxleyk/canvas-agent/internal/chat"
	"github.com/oxleyk/canvas-agent/internal/llm"
)

const wsWriteTimeout = 120 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser clients connect from a separate origin; tokens gate access.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleChatWS is the WebSocket variant of the chat endpoint. The
// client sends one JSON chatRequest per turn and receives the same
// frames the SSE endpoint emits, one JSON message each. Turns on a
// single connection run sequentially.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written its own error response.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	for {
		var req chatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read failed", "error", err)
			}
			return
		}

		if err := s.runTurnWS(r, conn, userID, req); err != nil {
			s.logger.Debug("websocket write failed", "error", err)
			return
		}
	}
}

func (s *Server) runTurnWS(r *http.Request, conn *websocket.Conn, userID string, req chatRequest) error {
	writeFrame := func(f chatFrame) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(f)
	}

	if strings.TrimSpace(req.Message) == "" {
		return writeFrame(chatFrame{Error: "message is required"})
	}

	sessionID := req.SessionID
	isNew := false
	if sessionID == "" {
		sess, err := s.sessions.CreateSession("", userID, chat.TitleFromMessage(req.Message))
		if err != nil {
			s.logger.Error("session create failed", "error", err)
			return writeFrame(chatFrame{Error: "session create failed"})
		}
		sessionID = sess.ID
		isNew = true
	} else {
		sess, err := s.sessions.GetSession(sessionID, userID)
		if err != nil {
			s.logger.Error("session lookup failed", "error", err)
			return writeFrame(chatFrame{Error: "session lookup failed"})
		}
		if sess == nil {
			return writeFrame(chatFrame{SessionID: sessionID, Error: "session not found"})
		}
	}

	frame := func(f chatFrame) error {
		f.SessionID = sessionID
		f.IsNewSession = isNew
		return writeFrame(f)
	}

	var writeErr error
	callback := func(event llm.StreamEvent) {
		if writeErr != nil {
			return
		}
		switch event.Kind {
		case llm.KindToken:
			writeErr = frame(chatFrame{Chunk: event.Token})

		case llm.KindToolCallStart, llm.KindToolCallDone:
			// Ping as keepalive during tool execution.
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			writeErr = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
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
		return frame(chatFrame{Error: "the assistant could not complete this turn"})
	}
	if writeErr != nil {
		return writeErr
	}
	return frame(chatFrame{Done: true})
}
