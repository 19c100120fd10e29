// Package auth provides user accounts, bearer tokens, and the HTTP
// middleware that resolves them.
package auth

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// User is a registered account. The password hash never leaves this
// package.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is a SQLite-backed user store.
type Store struct {
	db *sql.DB
}

// NewStore creates a user store on an open database handle and ensures
// the schema exists.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate users: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Register creates an account. Email comparison is case-insensitive.
func (s *Store) Register(email, name, password string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("register: a valid email is required")
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("register: password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &User{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Email:     email,
		Name:      strings.TrimSpace(name),
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.Exec(`
		INSERT INTO users (id, email, name, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, u.ID, u.Email, u.Name, string(hash), u.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, fmt.Errorf("register: email already in use")
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// Authenticate checks credentials and returns the user on success.
// Wrong email and wrong password return the same error, so callers
// cannot probe for accounts.
func (s *Store) Authenticate(email, password string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	row := s.db.QueryRow(`
		SELECT id, email, name, password_hash, created_at FROM users WHERE email = ?
	`, email)

	var u User
	var hash string
	err := row.Scan(&u.ID, &u.Email, &u.Name, &hash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("invalid credentials")
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, fmt.Errorf("invalid credentials")
	}
	return &u, nil
}

// Get returns a user by id, or nil when not found.
func (s *Store) Get(id string) (*User, error) {
	row := s.db.QueryRow(`SELECT id, email, name, created_at FROM users WHERE id = ?`, id)
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}
