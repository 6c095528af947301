package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const credentialKey = "credential"

// LocalStore keeps the durable client state: the bearer credential and the
// last-known value of cached collections.
type LocalStore struct {
	db *sql.DB
}

func NewLocalStore(path string) (*LocalStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local state database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	ls := &LocalStore{db: db}
	if err := ls.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate local state database: %w", err)
	}
	return ls, nil
}

func (s *LocalStore) Close() error {
	return s.db.Close()
}

func (s *LocalStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS preferences (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS cache_snapshots (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			updated_at DATETIME NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *LocalStore) getPreference(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM preferences WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read preference %s: %w", key, err)
	}
	return value, nil
}

func (s *LocalStore) setPreference(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO preferences (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write preference %s: %w", key, err)
	}
	return nil
}

// LoadCredential returns the persisted credential, or "" when none is stored.
func (s *LocalStore) LoadCredential() (string, error) {
	return s.getPreference(credentialKey)
}

func (s *LocalStore) SaveCredential(credential string) error {
	return s.setPreference(credentialKey, credential)
}

func (s *LocalStore) ClearCredential() error {
	if _, err := s.db.Exec("DELETE FROM preferences WHERE key = ?", credentialKey); err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}
	return nil
}

// SaveSnapshot stores the JSON encoding of a cached value under its key.
func (s *LocalStore) SaveSnapshot(key string, value []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO cache_snapshots (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", key, err)
	}
	return nil
}

// LoadSnapshot returns the stored value for key; ok is false when absent.
func (s *LocalStore) LoadSnapshot(key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRow("SELECT value FROM cache_snapshots WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load snapshot %s: %w", key, err)
	}
	return value, true, nil
}

// ClearSnapshots drops every snapshot, used on logout.
func (s *LocalStore) ClearSnapshots() error {
	if _, err := s.db.Exec("DELETE FROM cache_snapshots"); err != nil {
		return fmt.Errorf("failed to clear snapshots: %w", err)
	}
	return nil
}
