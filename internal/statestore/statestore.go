// Package statestore persists client state (navigation, recent paths,
// device fingerprint) in a local SQLite database.
package statestore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	keyCurrentDisk = "current_disk"
	keyCurrentPath = "current_path"
	keyFingerprint = "device_fingerprint"
)

// DefaultRecentLimit bounds the recently visited path history.
const DefaultRecentLimit = 20

// Store is a durable key-value + recents store backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the state database under dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dir, "state.db"))
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS state (
		key TEXT NOT NULL PRIMARY KEY,
		value TEXT
	);
	CREATE TABLE IF NOT EXISTS recent_paths (
		path TEXT NOT NULL PRIMARY KEY,
		visited_at INTEGER NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) get(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO state (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// SaveNav persists the current disk id and folder path.
func (s *Store) SaveNav(diskID string, path []string) error {
	if err := s.set(keyCurrentDisk, diskID); err != nil {
		return err
	}
	data, err := json.Marshal(path)
	if err != nil {
		return err
	}
	return s.set(keyCurrentPath, string(data))
}

// LoadNav restores the last persisted disk id and folder path.
func (s *Store) LoadNav() (diskID string, path []string, err error) {
	diskID, err = s.get(keyCurrentDisk)
	if err != nil {
		return "", nil, err
	}
	raw, err := s.get(keyCurrentPath)
	if err != nil {
		return "", nil, err
	}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &path); err != nil {
			// Corrupt persisted path: discard, land at a safe default.
			return diskID, nil, nil
		}
	}
	return diskID, path, nil
}

// SaveFingerprint persists the device fingerprint.
func (s *Store) SaveFingerprint(fp string) error {
	return s.set(keyFingerprint, fp)
}

// LoadFingerprint returns the stored device fingerprint, or "".
func (s *Store) LoadFingerprint() (string, error) {
	return s.get(keyFingerprint)
}

// AddRecentPath records a visited path string, trimming the history to limit.
func (s *Store) AddRecentPath(path string, limit int) error {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	_, err := s.db.Exec(
		`INSERT INTO recent_paths (path, visited_at) VALUES (?, ?)
		 ON CONFLICT (path) DO UPDATE SET visited_at = excluded.visited_at`,
		path, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("add recent path: %w", err)
	}
	_, err = s.db.Exec(
		`DELETE FROM recent_paths WHERE path NOT IN (
			SELECT path FROM recent_paths ORDER BY visited_at DESC LIMIT ?
		 )`, limit)
	if err != nil {
		return fmt.Errorf("trim recent paths: %w", err)
	}
	return nil
}

// RecentPaths returns visited paths, most recent first.
func (s *Store) RecentPaths(limit int) ([]string, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	rows, err := s.db.Query(
		`SELECT path FROM recent_paths ORDER BY visited_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}
