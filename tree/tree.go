// Package tree indexes the flat remote content listing into categories
// (directories) and posts (files) addressable by absolute path.
package tree

import (
	"errors"
	"math/rand"
	"sort"
	"strings"

	"blog-mirror/blogapi"
	"blog-mirror/blogpath"

	"github.com/sahilm/fuzzy"
)

// DefaultMaxFileSize is the largest post admitted into the index.
const DefaultMaxFileSize = 1 << 20

// maxRandomDepth is the deepest path (counted in slashes) eligible for
// random selection: top-level posts and posts one category deep.
const maxRandomDepth = 2

// ErrNoEligiblePost is returned by RandomPost when no post qualifies.
var ErrNoEligiblePost = errors.New("no post eligible for random selection")

// Kind classifies a Node.
type Kind int

const (
	// Unknown nodes are classified by file extension in Build.
	Unknown Kind = iota
	Directory
	File
)

func (k Kind) String() string {
	switch k {
	case Directory:
		return "directory"
	case File:
		return "file"
	default:
		return "unknown"
	}
}

// Node is one entry of the content listing.
type Node struct {
	Path string `json:"path"`
	Kind Kind   `json:"kind"`
	SHA  string `json:"sha"`
	Size int64  `json:"size,omitempty"`
}

type children struct {
	dirs  []string
	files []string
}

// Index is an immutable lookup structure over one listing.
type Index struct {
	dirs     map[string]Node
	files    map[string]Node
	children map[string]*children
	eligible []string
}

type options struct {
	maxFileSize int64
}

// Option configures Build.
type Option func(*options)

// WithMaxFileSize overrides DefaultMaxFileSize. Posts larger than n bytes
// are left out of the index.
func WithMaxFileSize(n int64) Option {
	return func(o *options) {
		o.maxFileSize = n
	}
}

// FromListing converts a Git tree listing into nodes. Paths become
// absolute. Blobs that are not content files are dropped, and so is any
// entry whose name contains a dot without being a content file.
func FromListing(listing blogapi.TreeListing) []Node {
	nodes := make([]Node, 0, len(listing.Tree))
	for _, e := range listing.Tree {
		p := "/" + strings.TrimLeft(e.Path, "/")
		isFile := blogpath.IsFile(p)
		if strings.Contains(blogpath.Basename(p), ".") && !isFile {
			continue
		}
		var kind Kind
		switch e.Type {
		case "tree":
			kind = Directory
		case "blob":
			if !isFile {
				continue
			}
			kind = File
		default:
			continue
		}
		nodes = append(nodes, Node{Path: p, Kind: kind, SHA: e.SHA, Size: e.Size})
	}
	return nodes
}

// Build indexes nodes. Nodes without a path or SHA, dot-prefixed nodes
// and oversized files are skipped; Build never fails.
func Build(nodes []Node, opts ...Option) *Index {
	o := options{maxFileSize: DefaultMaxFileSize}
	for _, opt := range opts {
		opt(&o)
	}

	idx := &Index{
		dirs:     make(map[string]Node),
		files:    make(map[string]Node),
		children: make(map[string]*children),
	}
	for _, n := range nodes {
		if n.Path == "" || n.SHA == "" {
			continue
		}
		p := blogpath.Normalize(n.Path)
		if p == blogpath.Root || hidden(p) {
			continue
		}
		kind := n.Kind
		if kind == Unknown {
			kind = Directory
			if blogpath.IsFile(p) {
				kind = File
			}
		}
		n.Path = p
		n.Kind = kind

		parent := idx.childrenOf(blogpath.Dirname(p))
		switch kind {
		case Directory:
			if _, dup := idx.dirs[p]; dup {
				continue
			}
			idx.dirs[p] = n
			parent.dirs = append(parent.dirs, blogpath.Basename(p))
		case File:
			if n.Size > o.maxFileSize {
				continue
			}
			if _, dup := idx.files[p]; dup {
				continue
			}
			idx.files[p] = n
			parent.files = append(parent.files, blogpath.Basename(p))
			if blogpath.Depth(p) <= maxRandomDepth {
				idx.eligible = append(idx.eligible, p)
			}
		}
	}
	for _, c := range idx.children {
		sort.Strings(c.dirs)
		sort.Strings(c.files)
	}
	sort.Strings(idx.eligible)
	return idx
}

func (idx *Index) childrenOf(p string) *children {
	c, ok := idx.children[p]
	if !ok {
		c = &children{}
		idx.children[p] = c
	}
	return c
}

func hidden(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

// ChildrenOf returns the basenames of the direct children of path with
// the given kind, sorted. Unknown paths have no children.
func (idx *Index) ChildrenOf(path string, kind Kind) []string {
	c, ok := idx.children[blogpath.Normalize(path)]
	if !ok {
		return []string{}
	}
	var src []string
	switch kind {
	case Directory:
		src = c.dirs
	case File:
		src = c.files
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// File returns the post at path.
func (idx *Index) File(path string) (Node, bool) {
	n, ok := idx.files[blogpath.Normalize(path)]
	return n, ok
}

// Dir returns the category at path.
func (idx *Index) Dir(path string) (Node, bool) {
	n, ok := idx.dirs[blogpath.Normalize(path)]
	return n, ok
}

// HasDir reports whether path is Root or a known category.
func (idx *Index) HasDir(path string) bool {
	path = blogpath.Normalize(path)
	if path == blogpath.Root {
		return true
	}
	_, ok := idx.dirs[path]
	return ok
}

// Files returns all post paths, sorted.
func (idx *Index) Files() []string {
	return sortedKeys(idx.files)
}

// Dirs returns all category paths, sorted.
func (idx *Index) Dirs() []string {
	return sortedKeys(idx.dirs)
}

func sortedKeys(m map[string]Node) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RandomPost picks a post uniformly from those at most one category
// deep. A nil r uses the global source.
func (idx *Index) RandomPost(r *rand.Rand) (string, error) {
	if len(idx.eligible) == 0 {
		return "", ErrNoEligiblePost
	}
	var i int
	if r != nil {
		i = r.Intn(len(idx.eligible))
	} else {
		i = rand.Intn(len(idx.eligible))
	}
	return idx.eligible[i], nil
}

// Search fuzzy-matches pattern against every post path and returns up to
// limit paths, best match first. A limit <= 0 returns all matches.
func (idx *Index) Search(pattern string, limit int) []string {
	paths := idx.Files()
	matches := fuzzy.Find(pattern, paths)
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Str
	}
	return out
}

// Len returns the number of categories and posts.
func (idx *Index) Len() (dirs, files int) {
	return len(idx.dirs), len(idx.files)
}
