package canvas

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store is a SQLite-backed canvas store. All reads and writes are scoped
// by owner where the operation mutates or exposes private data.
type Store struct {
	db *sql.DB
}

// NewStore creates a canvas store on an open database handle and
// ensures the schema exists.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate canvases: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS canvases (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		session_id TEXT,
		is_public BOOLEAN NOT NULL DEFAULT FALSE,
		lat REAL NOT NULL,
		lon REAL NOT NULL,
		blocks TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_canvases_owner ON canvases(owner_id, updated_at);
	CREATE INDEX IF NOT EXISTS idx_canvases_public ON canvases(is_public, updated_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Create persists a new canvas for ownerID. Tags are normalized before
// storage. sessionID may be empty; loc nil falls back to DefaultLocation.
func (s *Store) Create(ownerID string, blocks []Block, isPublic bool, sessionID string, loc *Location) (*Canvas, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("create canvas: owner id is required")
	}

	location := DefaultLocation
	if loc != nil {
		location = *loc
	}

	c := &Canvas{
		ID:        uuid.Must(uuid.NewV7()).String(),
		OwnerID:   ownerID,
		SessionID: sessionID,
		IsPublic:  isPublic,
		Location:  location,
		Blocks:    NormalizeBlocks(blocks),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	blob, err := json.Marshal(c.Blocks)
	if err != nil {
		return nil, fmt.Errorf("encode blocks: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO canvases (id, owner_id, session_id, is_public, lat, lon, blocks, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.OwnerID, nullable(c.SessionID), c.IsPublic, c.Location.Lat, c.Location.Lon, string(blob), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert canvas: %w", err)
	}

	return c, nil
}

// Update replaces the block list of an owned canvas. Returns nil (no
// error) when the canvas does not exist or belongs to another owner —
// callers must treat that as a rejection, never create a new canvas.
func (s *Store) Update(id, ownerID string, blocks []Block) (*Canvas, error) {
	normalized := NormalizeBlocks(blocks)
	blob, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("encode blocks: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.db.Exec(`
		UPDATE canvases SET blocks = ?, updated_at = ?
		WHERE id = ? AND owner_id = ?
	`, string(blob), now, id, ownerID)
	if err != nil {
		return nil, fmt.Errorf("update canvas: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}

	return s.Find(id, ownerID)
}

// Find returns an owned canvas, or nil when it does not exist or is
// owned by someone else.
func (s *Store) Find(id, ownerID string) (*Canvas, error) {
	return s.scanOne(`
		SELECT id, owner_id, session_id, is_public, lat, lon, blocks, created_at, updated_at
		FROM canvases WHERE id = ? AND owner_id = ?
	`, id, ownerID)
}

// Get returns a canvas visible to userID: either owned by them or public.
func (s *Store) Get(id, userID string) (*Canvas, error) {
	return s.scanOne(`
		SELECT id, owner_id, session_id, is_public, lat, lon, blocks, created_at, updated_at
		FROM canvases WHERE id = ? AND (owner_id = ? OR is_public = TRUE)
	`, id, userID)
}

// ListByOwner returns all canvases owned by ownerID, newest first.
func (s *Store) ListByOwner(ownerID string) ([]*Canvas, error) {
	return s.scanMany(`
		SELECT id, owner_id, session_id, is_public, lat, lon, blocks, created_at, updated_at
		FROM canvases WHERE owner_id = ? ORDER BY updated_at DESC
	`, ownerID)
}

// ListPublic returns public canvases, newest first, capped at limit.
func (s *Store) ListPublic(limit int) ([]*Canvas, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.scanMany(`
		SELECT id, owner_id, session_id, is_public, lat, lon, blocks, created_at, updated_at
		FROM canvases WHERE is_public = TRUE ORDER BY updated_at DESC LIMIT ?
	`, limit)
}

// SetVisibility toggles the public flag on an owned canvas. Returns the
// updated row, or nil when not found/not owned.
func (s *Store) SetVisibility(id, ownerID string, isPublic bool) (*Canvas, error) {
	res, err := s.db.Exec(`
		UPDATE canvases SET is_public = ?, updated_at = ?
		WHERE id = ? AND owner_id = ?
	`, isPublic, time.Now().UTC(), id, ownerID)
	if err != nil {
		return nil, fmt.Errorf("set visibility: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	return s.Find(id, ownerID)
}

// Delete removes an owned canvas. Returns false when nothing was deleted.
func (s *Store) Delete(id, ownerID string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM canvases WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return false, fmt.Errorf("delete canvas: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) scanOne(query string, args ...any) (*Canvas, error) {
	row := s.db.QueryRow(query, args...)
	c, err := scanCanvas(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (s *Store) scanMany(query string, args ...any) ([]*Canvas, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query canvases: %w", err)
	}
	defer rows.Close()

	var out []*Canvas
	for rows.Next() {
		c, err := scanCanvas(rows.Scan)
		if err != nil {
			continue // skip malformed rows
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCanvas(scan func(...any) error) (*Canvas, error) {
	var c Canvas
	var sessionID sql.NullString
	var blocks string
	if err := scan(&c.ID, &c.OwnerID, &sessionID, &c.IsPublic,
		&c.Location.Lat, &c.Location.Lon, &blocks, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if sessionID.Valid {
		c.SessionID = sessionID.String
	}
	if err := json.Unmarshal([]byte(blocks), &c.Blocks); err != nil {
		// Malformed block payloads are treated as an empty canvas rather
		// than failing the whole read.
		c.Blocks = nil
	}
	return &c, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
