// Package fuse mounts the mirrored blog as a read-only filesystem: rendered
// posts, raw markdown, per-post annotations and word definitions.
package fuse

import (
	"context"
	_ "embed"
	"errors"
	"sync"
	"syscall"
	"time"

	"blog-mirror/blogapi"
	"blog-mirror/cache"
	"blog-mirror/coord"
	"blog-mirror/diag"
	"blog-mirror/jsonfs"
	"blog-mirror/logging"
	"blog-mirror/nav"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"
)

// Kernel cache timeouts. Global mount timeouts are 0; these per-node
// values override them.
const (
	// cacheTTLStatic covers nodes that never change: the root, README.md
	// and the top-level view directories.
	cacheTTLStatic = 1 * time.Hour

	// cacheTTLTree covers categories and posts, which change when the
	// tree is refreshed.
	cacheTTLTree = 30 * time.Second

	// cacheTTLSnapshot covers annotation snapshots and definitions.
	cacheTTLSnapshot = 5 * time.Minute
)

// Top-level directory names.
const (
	dirPosts  = "posts"
	dirRaw    = "raw"
	dirNLP    = "nlp"
	dirDefine = "define"
)

//go:embed README.md
var readmeContent string

// FS is the root inode of the mirror filesystem.
type FS struct {
	fs.Inode
	nav       *nav.Navigator
	store     cache.Store
	startTime time.Time
	Diag      *diag.Tracker

	mu      sync.Mutex
	loadErr error
}

// Option configures an FS.
type Option func(*FS)

// WithTracker records FUSE operations in t instead of a private tracker.
func WithTracker(t *diag.Tracker) Option {
	return func(f *FS) { f.Diag = t }
}

// NewFS creates the filesystem over n. The navigator should be created
// with nav.WithPerResourceCoordination so that concurrent readers do not
// supersede each other. store is listed under define/.
func NewFS(n *nav.Navigator, store cache.Store, opts ...Option) *FS {
	f := &FS{
		nav:       n,
		store:     store,
		startTime: time.Now(),
		Diag:      diag.NewTracker(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Load fetches the tree. A failure is kept and shown in /ERROR until a
// later Load succeeds.
func (f *FS) Load(ctx context.Context) error {
	err := f.nav.Load(ctx)
	f.mu.Lock()
	f.loadErr = err
	f.mu.Unlock()
	if err != nil {
		logging.WithContext(ctx).Error("initial tree load failed", zap.Error(err))
	}
	return err
}

func (f *FS) lastError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadErr
}

var _ = (fs.NodeLookuper)((*FS)(nil))
var _ = (fs.NodeReaddirer)((*FS)(nil))
var _ = (fs.NodeGetattrer)((*FS)(nil))

func (f *FS) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	out.SetEntryTimeout(cacheTTLStatic)
	switch name {
	case "README.md":
		return f.NewInode(ctx, &staticFile{content: []byte(readmeContent), modTime: f.startTime}, fs.StableAttr{Mode: fuse.S_IFREG}), 0
	case dirPosts:
		return f.NewInode(ctx, &CategoryNode{fsys: f, view: viewHTML, path: "/"}, fs.StableAttr{Mode: fuse.S_IFDIR}), 0
	case dirRaw:
		return f.NewInode(ctx, &CategoryNode{fsys: f, view: viewRaw, path: "/"}, fs.StableAttr{Mode: fuse.S_IFDIR}), 0
	case dirNLP:
		return f.NewInode(ctx, &CategoryNode{fsys: f, view: viewNLP, path: "/"}, fs.StableAttr{Mode: fuse.S_IFDIR}), 0
	case dirDefine:
		return f.NewInode(ctx, &DefineDirNode{fsys: f}, fs.StableAttr{Mode: fuse.S_IFDIR}), 0
	case "ERROR":
		err := f.lastError()
		if err == nil {
			return nil, syscall.ENOENT
		}
		// ERROR comes and goes with the load state.
		out.SetEntryTimeout(0)
		return f.NewInode(ctx, &staticFile{content: []byte(err.Error() + "\n"), modTime: time.Now()}, fs.StableAttr{Mode: fuse.S_IFREG}), 0
	}
	return nil, syscall.ENOENT
}

func (f *FS) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries := []fuse.DirEntry{
		{Name: "README.md", Mode: fuse.S_IFREG},
		{Name: dirDefine, Mode: fuse.S_IFDIR},
		{Name: dirNLP, Mode: fuse.S_IFDIR},
		{Name: dirPosts, Mode: fuse.S_IFDIR},
		{Name: dirRaw, Mode: fuse.S_IFDIR},
	}
	if f.lastError() != nil {
		entries = append([]fuse.DirEntry{{Name: "ERROR", Mode: fuse.S_IFREG}}, entries...)
	}
	return fs.NewListDirStream(entries), 0
}

func (f *FS) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = fuse.S_IFDIR | 0555
	setTimestamps(&out.Attr, f.startTime)
	return 0
}

// --- staticFile: README.md and ERROR ---

type staticFile struct {
	fs.Inode
	content []byte
	modTime time.Time
}

var _ = (fs.NodeOpener)((*staticFile)(nil))
var _ = (fs.NodeReader)((*staticFile)(nil))
var _ = (fs.NodeGetattrer)((*staticFile)(nil))

func (s *staticFile) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	return nil, fuse.FOPEN_DIRECT_IO, 0
}

func (s *staticFile) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	return fuse.ReadResultData(jsonfs.ReadAt(s.content, dest, off)), 0
}

func (s *staticFile) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = fuse.S_IFREG | 0444
	out.Size = uint64(len(s.content))
	setTimestamps(&out.Attr, s.modTime)
	return 0
}

// --- helpers ---

func setTimestamps(attr *fuse.Attr, t time.Time) {
	attr.Atime = uint64(t.Unix())
	attr.Atimensec = uint32(t.Nanosecond())
	attr.Mtime = uint64(t.Unix())
	attr.Mtimensec = uint32(t.Nanosecond())
	attr.Ctime = uint64(t.Unix())
	attr.Ctimensec = uint32(t.Nanosecond())
}

// errno maps a mirror error to the errno reported to the kernel.
func errno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, nav.ErrNotFound), errors.Is(err, blogapi.ErrNotFound), errors.Is(err, nav.ErrNotLoaded):
		return syscall.ENOENT
	case coord.IsCanceled(err), errors.Is(err, context.DeadlineExceeded):
		return syscall.EINTR
	default:
		return syscall.EIO
	}
}
