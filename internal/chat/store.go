// Package chat provides session and message persistence plus the
// history reconstruction rules that turn persisted rows into a model
// request.
package chat

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oxleyk/canvas-agent/internal/canvas"
	"github.com/oxleyk/canvas-agent/internal/llm"
)

// Message roles as persisted.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Session is one conversation thread owned by a user.
type Session struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Title          string    `json:"title"`
	ActiveCanvasID string    `json:"active_canvas_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Message is one persisted row of a session transcript.
type Message struct {
	ID         string           `json:"id"`
	SessionID  string           `json:"session_id"`
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []llm.ToolCall   `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Location   *canvas.Location `json:"location,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Store is a SQLite-backed session store.
type Store struct {
	db *sql.DB
}

// NewStore creates a session store on an open database handle and
// ensures the schema exists.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate sessions: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		active_canvas_id TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tool_calls TEXT,
		tool_call_id TEXT,
		location TEXT,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateSession inserts a new session. An empty id gets a fresh UUIDv7.
func (s *Store) CreateSession(id, userID, title string) (*Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("create session: user id is required")
	}
	if id == "" {
		id = uuid.Must(uuid.NewV7()).String()
	}
	now := time.Now().UTC()

	_, err := s.db.Exec(`
		INSERT INTO sessions (id, user_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, userID, title, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	return &Session{ID: id, UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}, nil
}

// GetSession returns a user's session, or nil when it does not exist
// or belongs to another user.
func (s *Store) GetSession(id, userID string) (*Session, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, title, active_canvas_id, created_at, updated_at
		FROM sessions WHERE id = ? AND user_id = ?
	`, id, userID)

	var sess Session
	var activeCanvas sql.NullString
	err := row.Scan(&sess.ID, &sess.UserID, &sess.Title, &activeCanvas, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if activeCanvas.Valid {
		sess.ActiveCanvasID = activeCanvas.String
	}
	return &sess, nil
}

// ListSessions returns a user's sessions, most recently active first.
func (s *Store) ListSessions(userID string) ([]*Session, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, title, active_canvas_id, created_at, updated_at
		FROM sessions WHERE user_id = ? ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		var sess Session
		var activeCanvas sql.NullString
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Title, &activeCanvas, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			continue
		}
		if activeCanvas.Valid {
			sess.ActiveCanvasID = activeCanvas.String
		}
		out = append(out, &sess)
	}
	return out, rows.Err()
}

// TouchSession bumps the session's updated_at timestamp.
func (s *Store) TouchSession(id string) error {
	_, err := s.db.Exec(`UPDATE sessions SET updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

// SetActiveCanvas records the canvas currently being worked on in a
// session. Called by the canvas tools in the same transaction scope as
// the canvas mutation itself, so continuity never lags the canvas.
func (s *Store) SetActiveCanvas(sessionID, canvasID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`
		UPDATE sessions SET active_canvas_id = ?, updated_at = ? WHERE id = ?
	`, canvasID, time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("set active canvas: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set active canvas: session %s not found", sessionID)
	}
	return tx.Commit()
}

// DeleteSession removes a user's session and its messages. Returns
// false when nothing matched.
func (s *Store) DeleteSession(id, userID string) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`DELETE FROM sessions WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}
	if _, err := tx.Exec(`DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// AppendMessage persists one transcript row. The message gets an id
// and timestamp if missing.
func (s *Store) AppendMessage(m *Message) error {
	if m.SessionID == "" {
		return fmt.Errorf("append message: session id is required")
	}
	if m.ID == "" {
		m.ID = uuid.Must(uuid.NewV7()).String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	var toolCalls any
	if len(m.ToolCalls) > 0 {
		blob, err := json.Marshal(m.ToolCalls)
		if err != nil {
			return fmt.Errorf("encode tool calls: %w", err)
		}
		toolCalls = string(blob)
	}
	var location any
	if m.Location != nil {
		blob, err := json.Marshal(m.Location)
		if err != nil {
			return fmt.Errorf("encode location: %w", err)
		}
		location = string(blob)
	}

	_, err := s.db.Exec(`
		INSERT INTO messages (id, session_id, role, content, tool_calls, tool_call_id, location, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.SessionID, m.Role, m.Content, toolCalls, nullable(m.ToolCallID), location, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages returns all rows of a session in insertion order. Rows
// with undecodable tool_calls payloads are skipped rather than
// poisoning the whole transcript.
func (s *Store) ListMessages(sessionID string) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, role, content, tool_calls, tool_call_id, location, created_at
		FROM messages WHERE session_id = ? ORDER BY created_at ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var toolCalls, toolCallID, location sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &toolCalls, &toolCallID, &location, &m.CreatedAt); err != nil {
			continue
		}
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
				continue // malformed row
			}
		}
		if toolCallID.Valid {
			m.ToolCallID = toolCallID.String
		}
		if location.Valid && location.String != "" {
			var loc canvas.Location
			if err := json.Unmarshal([]byte(location.String), &loc); err == nil {
				m.Location = &loc
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LatestLocation returns the most recent user-supplied location in a
// session, or nil when none was ever sent.
func (s *Store) LatestLocation(sessionID string) (*canvas.Location, error) {
	row := s.db.QueryRow(`
		SELECT location FROM messages
		WHERE session_id = ? AND location IS NOT NULL
		ORDER BY created_at DESC, id DESC LIMIT 1
	`, sessionID)

	var raw string
	err := row.Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest location: %w", err)
	}
	var loc canvas.Location
	if err := json.Unmarshal([]byte(raw), &loc); err != nil {
		return nil, nil
	}
	return &loc, nil
}

// TitleFromMessage derives a session title from its first user
// message: the first 50 characters, whitespace-trimmed.
func TitleFromMessage(content string) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) > 50 {
		return string(runes[:50])
	}
	return content
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
