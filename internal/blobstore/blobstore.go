// Package blobstore holds device-local copies of uploaded file content so
// items uploaded from this device can be shown without a network round trip.
package blobstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/breezedrive/breezedrive/internal/metrics"
)

type entry struct {
	path       string
	size       int64
	lastAccess time.Time
}

// Store manages locally cached blobs with a size cap and age-based pruning.
type Store struct {
	dir     string
	maxSize int64

	mu      sync.Mutex
	entries map[string]*entry
	size    int64
}

// Open creates the blob directory if needed and indexes existing blobs.
func Open(dir string, maxSize int64) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}

	s := &Store{
		dir:     dir,
		maxSize: maxSize,
		entries: make(map[string]*entry),
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan blob dir: %w", err)
	}
	for _, f := range files {
		if f.IsDir() || strings.HasSuffix(f.Name(), ".tmp") {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		s.entries[f.Name()] = &entry{
			path:       filepath.Join(dir, f.Name()),
			size:       info.Size(),
			lastAccess: info.ModTime(),
		}
		s.size += info.Size()
	}
	metrics.SetBlobCacheBytes(s.size)

	return s, nil
}

// Put stores a blob. Content is written atomically (temp file then rename).
func (s *Store) Put(id string, r io.Reader) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, safeKey(id))
	tempPath := path + ".tmp"

	f, err := os.Create(tempPath)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	written, err := io.Copy(f, r)
	f.Close()
	if err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("rename temp file: %w", err)
	}

	if old, ok := s.entries[safeKey(id)]; ok {
		s.size -= old.size
	}
	s.entries[safeKey(id)] = &entry{path: path, size: written, lastAccess: time.Now()}
	s.size += written

	// A non-positive cap means unbounded.
	for s.maxSize > 0 && s.size > s.maxSize {
		if !s.evictOldest() {
			break
		}
	}
	metrics.SetBlobCacheBytes(s.size)

	return path, nil
}

// Get returns the local path of a blob, if present.
func (s *Store) Get(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[safeKey(id)]
	if !ok {
		return "", false
	}
	e.lastAccess = time.Now()
	return e.path, true
}

// Delete removes a blob. Removing an absent blob is a no-op.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[safeKey(id)]
	if !ok {
		return nil
	}
	os.Remove(e.path)
	s.size -= e.size
	delete(s.entries, safeKey(id))
	metrics.SetBlobCacheBytes(s.size)
	return nil
}

// Rekey moves a blob from one id to another. Used when an optimistic upload
// placeholder is confirmed with its real id.
func (s *Store) Rekey(oldID, newID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[safeKey(oldID)]
	if !ok {
		return nil
	}
	newPath := filepath.Join(s.dir, safeKey(newID))
	if err := os.Rename(e.path, newPath); err != nil {
		return fmt.Errorf("rekey blob: %w", err)
	}
	delete(s.entries, safeKey(oldID))
	e.path = newPath
	s.entries[safeKey(newID)] = e
	return nil
}

// PruneOlderThan removes blobs not accessed within maxAge. Returns the
// number removed.
func (s *Store) PruneOlderThan(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, e := range s.entries {
		if e.lastAccess.Before(cutoff) {
			os.Remove(e.path)
			s.size -= e.size
			delete(s.entries, id)
			removed++
		}
	}
	metrics.SetBlobCacheBytes(s.size)
	return removed
}

// Stats returns current size, cap, and blob count.
func (s *Store) Stats() (size, maxSize int64, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size, s.maxSize, len(s.entries)
}

// evictOldest removes the least recently accessed blob. Lock held.
func (s *Store) evictOldest() bool {
	var oldest *entry
	var oldestID string
	for id, e := range s.entries {
		if oldest == nil || e.lastAccess.Before(oldest.lastAccess) {
			oldest = e
			oldestID = id
		}
	}
	if oldest == nil {
		return false
	}
	os.Remove(oldest.path)
	s.size -= oldest.size
	delete(s.entries, oldestID)
	return true
}

// safeKey converts an item id to a filesystem-safe name.
func safeKey(id string) string {
	return strings.ReplaceAll(id, "/", "_")
}
