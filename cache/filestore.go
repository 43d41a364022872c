package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"blog-mirror/logging"

	"go.uber.org/zap"
)

// fileVersion is the schema version written to and expected from disk. A
// file with any other version is ignored.
const fileVersion = 1

type fileDocument struct {
	Version int              `json:"version"`
	Entries map[string]Entry `json:"entries"`
}

// FileStore keeps the cache in one JSON document, rewritten on every
// mutation. Negative entries stay in memory.
type FileStore struct {
	Path      string
	mu        sync.RWMutex
	entries   map[string]Entry
	negatives sessionNegatives
}

// DefaultFilePath returns the default FileStore location,
// $XDG_CACHE_HOME/blog-mirror/cache.json.
func DefaultFilePath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine cache directory: %w", err)
	}
	return filepath.Join(dir, "blog-mirror", "cache.json"), nil
}

// OpenFile opens the FileStore at path, loading any existing document.
// If path is empty, DefaultFilePath is used.
func OpenFile(path string) (*FileStore, error) {
	if path == "" {
		p, err := DefaultFilePath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	s := &FileStore{
		Path:    path,
		entries: make(map[string]Entry),
	}
	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return s, nil
}

// load reads the document from disk. A document with another version, or
// one that does not parse, leaves the store empty.
func (s *FileStore) load() error {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return err
	}
	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		logging.L().Warn("ignoring unreadable cache file", zap.String("path", s.Path), zap.Error(err))
		return nil
	}
	if doc.Version != fileVersion {
		logging.L().Info("ignoring cache file with unexpected version",
			zap.String("path", s.Path), zap.Int("version", doc.Version))
		return nil
	}
	for k, e := range doc.Entries {
		if e.Status == Success {
			s.entries[k] = e
		}
	}
	return nil
}

// saveLocked writes the document to a temporary file next to Path and
// renames it into place. Callers hold mu.
func (s *FileStore) saveLocked() error {
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	data, err := json.MarshalIndent(fileDocument{Version: fileVersion, Entries: s.entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".cache-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write cache: %w", err)
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace cache file: %w", err)
	}
	return nil
}

func (s *FileStore) Get(_ context.Context, key string) (Entry, bool, error) {
	if e, ok := s.negatives.get(key); ok {
		return e, true, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e, ok, nil
}

// set applies one mutation and persists it, restoring the previous value
// if the save fails.
func (s *FileStore) set(key string, e Entry, remove bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.entries[key]
	if remove {
		delete(s.entries, key)
	} else {
		s.entries[key] = e
	}
	if err := s.saveLocked(); err != nil {
		if had {
			s.entries[key] = prev
		} else {
			delete(s.entries, key)
		}
		return err
	}
	return nil
}

func (s *FileStore) Put(_ context.Context, key string, payload []byte, sha string) error {
	p := make([]byte, len(payload))
	copy(p, payload)
	s.negatives.remove(key)
	return s.set(key, Entry{Status: Success, Payload: p, SHA: sha, StoredAt: time.Now()}, false)
}

func (s *FileStore) PutNegative(_ context.Context, key string, sha string) error {
	s.negatives.put(key, sha)
	return nil
}

func (s *FileStore) Evict(_ context.Context, key string) error {
	s.negatives.remove(key)
	s.mu.RLock()
	_, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	return s.set(key, Entry{}, true)
}

func (s *FileStore) Clear(_ context.Context) error {
	s.negatives.clear()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]Entry)
	return s.saveLocked()
}

func (s *FileStore) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	return s.negatives.merge(keys), nil
}

func (s *FileStore) Close() error { return nil }

var _ Store = (*FileStore)(nil)
