// Package jsonfs exposes a JSON document as a read-only FUSE tree.
//
// Objects become directories keyed by field name, arrays become directories
// whose entries are the indices 0, 1, 2 and so on, and scalars become files
// holding the value followed by a newline. Null values are left out, so a
// missing file means the value is unknown.
package jsonfs

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// Config controls timestamps and kernel caching of the generated nodes.
// A nil *Config is valid.
type Config struct {
	// ModTime is reported for every node. Zero means time.Now() at build.
	ModTime time.Time

	// CacheTimeout, when positive, lets the kernel cache entries, attributes
	// and file contents. Snapshots never change once built.
	CacheTimeout time.Duration
}

func (c *Config) modTime() time.Time {
	if c == nil || c.ModTime.IsZero() {
		return time.Now()
	}
	return c.ModTime
}

func (c *Config) cacheTimeout() time.Duration {
	if c == nil {
		return 0
	}
	return c.CacheTimeout
}

// FromValue builds a tree from any value encoding/json can marshal.
func FromValue(v any, cfg *Config) (fs.InodeEmbedder, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return FromJSON(data, cfg)
}

// FromJSON builds a tree from raw JSON. The root must be an object or an
// array.
func FromJSON(data []byte, cfg *Config) (fs.InodeEmbedder, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	t := cfg.modTime()
	node := build(v, cfg, t)
	if _, ok := node.(*dirNode); !ok {
		return nil, fmt.Errorf("JSON root is a scalar, not an object or array")
	}
	return node, nil
}

// entry is one child of a directory. Nodes are built on every Lookup,
// since a go-fuse node belongs to exactly one inode.
type entry struct {
	name  string
	value any
}

func build(v any, cfg *Config, t time.Time) fs.InodeEmbedder {
	switch v := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k, child := range v {
			if child != nil && k != "" {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		d := &dirNode{cfg: cfg, modTime: t, entries: make([]entry, 0, len(keys))}
		for _, k := range keys {
			d.entries = append(d.entries, entry{name: k, value: v[k]})
		}
		return d
	case []any:
		d := &dirNode{cfg: cfg, modTime: t, entries: make([]entry, 0, len(v))}
		for i, child := range v {
			if child != nil {
				d.entries = append(d.entries, entry{name: strconv.Itoa(i), value: child})
			}
		}
		return d
	default:
		return &fileNode{cfg: cfg, modTime: t, content: []byte(formatScalar(v) + "\n")}
	}
}

func formatScalar(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		data, _ := json.Marshal(v)
		return string(data)
	}
}

func modeOf(v any) uint32 {
	switch v.(type) {
	case map[string]any, []any:
		return fuse.S_IFDIR
	}
	return fuse.S_IFREG
}

func setTimestamps(attr *fuse.Attr, t time.Time) {
	attr.Atime = uint64(t.Unix())
	attr.Atimensec = uint32(t.Nanosecond())
	attr.Mtime = uint64(t.Unix())
	attr.Mtimensec = uint32(t.Nanosecond())
	attr.Ctime = uint64(t.Unix())
	attr.Ctimensec = uint32(t.Nanosecond())
}

// fillAttr writes the attributes of n, which is a *dirNode or *fileNode.
func fillAttr(attr *fuse.Attr, n fs.InodeEmbedder) {
	switch n := n.(type) {
	case *dirNode:
		attr.Mode = fuse.S_IFDIR | 0555
		setTimestamps(attr, n.modTime)
	case *fileNode:
		attr.Mode = fuse.S_IFREG | 0444
		attr.Size = uint64(len(n.content))
		setTimestamps(attr, n.modTime)
	}
}

type dirNode struct {
	fs.Inode
	cfg     *Config
	modTime time.Time
	entries []entry
}

var _ = (fs.NodeLookuper)((*dirNode)(nil))
var _ = (fs.NodeReaddirer)((*dirNode)(nil))
var _ = (fs.NodeGetattrer)((*dirNode)(nil))
var _ = (fs.NodeOpendirHandler)((*dirNode)(nil))

func (d *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	for _, e := range d.entries {
		if e.name != name {
			continue
		}
		child := build(e.value, d.cfg, d.modTime)
		if ttl := d.cfg.cacheTimeout(); ttl > 0 {
			out.SetEntryTimeout(ttl)
			out.SetAttrTimeout(ttl)
			fillAttr(&out.Attr, child)
		}
		return d.NewInode(ctx, child, fs.StableAttr{Mode: modeOf(e.value)}), 0
	}
	return nil, syscall.ENOENT
}

func (d *dirNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	list := make([]fuse.DirEntry, len(d.entries))
	for i, e := range d.entries {
		list[i] = fuse.DirEntry{Name: e.name, Mode: modeOf(e.value)}
	}
	return fs.NewListDirStream(list), 0
}

func (d *dirNode) OpendirHandle(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if d.cfg.cacheTimeout() > 0 {
		return nil, fuse.FOPEN_CACHE_DIR, 0
	}
	return nil, 0, 0
}

func (d *dirNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	fillAttr(&out.Attr, d)
	if ttl := d.cfg.cacheTimeout(); ttl > 0 {
		out.SetTimeout(ttl)
	}
	return 0
}

type fileNode struct {
	fs.Inode
	cfg     *Config
	modTime time.Time
	content []byte
}

var _ = (fs.NodeOpener)((*fileNode)(nil))
var _ = (fs.NodeReader)((*fileNode)(nil))
var _ = (fs.NodeGetattrer)((*fileNode)(nil))

func (n *fileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	if n.cfg.cacheTimeout() > 0 {
		return nil, fuse.FOPEN_KEEP_CACHE, 0
	}
	return nil, fuse.FOPEN_DIRECT_IO, 0
}

func (n *fileNode) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	return fuse.ReadResultData(ReadAt(n.content, dest, off)), 0
}

func (n *fileNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	fillAttr(&out.Attr, n)
	if ttl := n.cfg.cacheTimeout(); ttl > 0 {
		out.SetTimeout(ttl)
	}
	return 0
}

// ReadAt copies the part of data at offset off into dest and returns the
// filled prefix of dest.
func ReadAt(data, dest []byte, off int64) []byte {
	if off >= int64(len(data)) {
		return nil
	}
	n := copy(dest, data[off:])
	return dest[:n]
}
