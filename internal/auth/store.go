// Package auth persists named bearer credentials for the upstream API.
package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var (
	ErrCredentialNotFound  = errors.New("credential not found")
	ErrNoDefaultCredential = errors.New("no default credential configured")
)

// Credential is a stored bearer token under a user-chosen name.
type Credential struct {
	Name       string
	Token      string
	Default    bool
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// Store handles credential persistence with a SQLite backend.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the credential database in dataDir.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "credentials.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS credentials (
		name TEXT PRIMARY KEY,
		token TEXT NOT NULL,
		is_default INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_used_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_credentials_default ON credentials(is_default);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores or replaces the credential under name. The first saved
// credential becomes the default.
func (s *Store) Save(name, token string) error {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM credentials`).Scan(&count); err != nil {
		return fmt.Errorf("failed to count credentials: %w", err)
	}
	isDefault := 0
	if count == 0 {
		isDefault = 1
	}

	_, err := s.db.Exec(
		`INSERT INTO credentials (name, token, is_default, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET token = excluded.token`,
		name, token, isDefault, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// SetDefault marks name as the default credential.
func (s *Store) SetDefault(name string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.Exec(`UPDATE credentials SET is_default = 1 WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to set default: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrCredentialNotFound
	}
	if _, err := tx.Exec(`UPDATE credentials SET is_default = 0 WHERE name != ?`, name); err != nil {
		return fmt.Errorf("failed to clear previous default: %w", err)
	}
	return tx.Commit()
}

// Get returns the credential stored under name.
func (s *Store) Get(name string) (*Credential, error) {
	return s.queryOne(`SELECT name, token, is_default, created_at, last_used_at FROM credentials WHERE name = ?`, name)
}

// Default returns the default credential.
func (s *Store) Default() (*Credential, error) {
	cred, err := s.queryOne(`SELECT name, token, is_default, created_at, last_used_at FROM credentials WHERE is_default = 1`)
	if errors.Is(err, ErrCredentialNotFound) {
		return nil, ErrNoDefaultCredential
	}
	return cred, err
}

func (s *Store) queryOne(query string, args ...any) (*Credential, error) {
	var cred Credential
	var isDefault int
	var lastUsedAt sql.NullTime

	err := s.db.QueryRow(query, args...).
		Scan(&cred.Name, &cred.Token, &isDefault, &cred.CreatedAt, &lastUsedAt)
	if err == sql.ErrNoRows {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query credential: %w", err)
	}

	cred.Default = isDefault == 1
	if lastUsedAt.Valid {
		cred.LastUsedAt = &lastUsedAt.Time
	}
	return &cred, nil
}

// List returns all stored credentials ordered by creation time.
func (s *Store) List() ([]*Credential, error) {
	rows, err := s.db.Query(
		`SELECT name, token, is_default, created_at, last_used_at FROM credentials ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var creds []*Credential
	for rows.Next() {
		var cred Credential
		var isDefault int
		var lastUsedAt sql.NullTime

		if err := rows.Scan(&cred.Name, &cred.Token, &isDefault, &cred.CreatedAt, &lastUsedAt); err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		cred.Default = isDefault == 1
		if lastUsedAt.Valid {
			cred.LastUsedAt = &lastUsedAt.Time
		}
		creds = append(creds, &cred)
	}

	return creds, rows.Err()
}

// Delete removes the credential under name.
func (s *Store) Delete(name string) error {
	result, err := s.db.Exec(`DELETE FROM credentials WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

func (s *Store) touchUsed(name string) {
	_, _ = s.db.Exec(`UPDATE credentials SET last_used_at = ? WHERE name = ?`, time.Now(), name)
}

// Source returns a credential source backed by the store. An empty
// name resolves the default credential at call time, so rotations take
// effect without restarting.
func (s *Store) Source(name string) *StoreSource {
	return &StoreSource{store: s, name: name}
}

// StoreSource resolves a bearer token from the store on each call.
type StoreSource struct {
	store *Store
	name  string
}

// BearerToken implements the request layer's credential lookup. The
// second return is false when no usable credential exists, which the
// caller treats as "do not attempt the request".
func (ss *StoreSource) BearerToken() (string, bool) {
	var cred *Credential
	var err error
	if ss.name == "" {
		cred, err = ss.store.Default()
	} else {
		cred, err = ss.store.Get(ss.name)
	}
	if err != nil || cred.Token == "" {
		return "", false
	}
	go ss.store.touchUsed(cred.Name)
	return cred.Token, true
}
