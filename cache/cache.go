// Package cache stores fetched and computed artifacts (tree snapshot, post
// HTML, entity lists, sentiment scores, definitions) under composite
// string keys, including negative entries for failed fetches.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"blog-mirror/blogpath"
)

// TreeKey is the key of the tree listing snapshot.
const TreeKey = "data"

// ErrNegative is returned for a key whose last fetch failed. Negative
// entries last for the session: every backend keeps them in memory only,
// and they stop matching once the content they were fetched for changes.
var ErrNegative = errors.New("cached failure")

// Status is the state of an Entry.
type Status int

const (
	// Pending is the zero Status: nothing has been materialized. Get
	// never returns a Pending entry; in-flight fetches are tracked by the
	// coordinator, not the cache.
	Pending Status = iota
	Success
	Negative
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Negative:
		return "negative"
	default:
		return "pending"
	}
}

// Entry is one cached value.
type Entry struct {
	Status   Status          `json:"status"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	SHA      string          `json:"sha,omitempty"`
	StoredAt time.Time       `json:"stored_at"`
}

// Store is a goroutine-safe key-value store of entries. Get has no side
// effects; writes only touch the key they name.
type Store interface {
	// Get returns the entry for key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (e Entry, ok bool, err error)

	// Put records a successful payload. sha identifies the content the
	// payload was derived from and may be empty.
	Put(ctx context.Context, key string, payload []byte, sha string) error

	// PutNegative records a failed fetch of the content identified by
	// sha. The entry is never persisted.
	PutNegative(ctx context.Context, key string, sha string) error

	// Evict removes key.
	Evict(ctx context.Context, key string) error

	// Clear removes every key.
	Clear(ctx context.Context) error

	// Keys returns every key, sorted.
	Keys(ctx context.Context) ([]string, error)

	// Close releases the backend.
	Close() error
}

// Key builds the key of a per-post artifact: "<kind>::<category>/<post>".
func Key(kind, category, post string) string {
	return kind + "::" + blogpath.Join(blogpath.Normalize(category), post)
}

// PostKey builds the key of a per-post artifact from the post's path.
func PostKey(kind, postPath string) string {
	return Key(kind, blogpath.Dirname(postPath), blogpath.Basename(postPath))
}

// DefineKey builds the key of a word definition.
func DefineKey(word string) string {
	return "define::" + strings.ToLower(strings.TrimSpace(word))
}

// Open creates a Store for the named backend: "memory", "file" or
// "sqlite". path is ignored by the memory backend; an empty path selects
// the default location in the user cache directory.
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", "memory":
		return NewMemory(), nil
	case "file", "json":
		return OpenFile(path)
	case "sqlite":
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}

// sessionNegatives holds the negative entries of a persistent store so
// that a failed fetch is retried after a restart.
type sessionNegatives struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func (n *sessionNegatives) get(key string) (Entry, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	e, ok := n.entries[key]
	return e, ok
}

func (n *sessionNegatives) put(key, sha string) {
	n.mu.Lock()
	if n.entries == nil {
		n.entries = make(map[string]Entry)
	}
	n.entries[key] = Entry{Status: Negative, SHA: sha, StoredAt: time.Now()}
	n.mu.Unlock()
}

func (n *sessionNegatives) remove(key string) {
	n.mu.Lock()
	delete(n.entries, key)
	n.mu.Unlock()
}

func (n *sessionNegatives) clear() {
	n.mu.Lock()
	n.entries = nil
	n.mu.Unlock()
}

// merge returns the sorted union of keys and the negative keys.
func (n *sessionNegatives) merge(keys []string) []string {
	n.mu.RLock()
	for k := range n.entries {
		keys = append(keys, k)
	}
	n.mu.RUnlock()
	sort.Strings(keys)
	out := keys[:0]
	for i, k := range keys {
		if i > 0 && keys[i-1] == k {
			continue
		}
		out = append(out, k)
	}
	return out
}
