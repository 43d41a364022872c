package fuse

import (
	"context"
	"syscall"
	"time"

	"blog-mirror/blogpath"
	"blog-mirror/diag"
	"blog-mirror/jsonfs"
	"blog-mirror/logging"
	"blog-mirror/tree"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"
)

// view selects what a post looks like under one of the top-level
// directories.
type view int

const (
	viewHTML view = iota // posts/: rendered HTML
	viewRaw              // raw/: markdown
	viewNLP              // nlp/: annotation snapshot directory
)

func (v view) String() string {
	switch v {
	case viewRaw:
		return dirRaw
	case viewNLP:
		return dirNLP
	default:
		return dirPosts
	}
}

// --- CategoryNode: a category of the mirrored tree under one view ---

type CategoryNode struct {
	fs.Inode
	fsys *FS
	view view
	path string
}

var _ = (fs.NodeLookuper)((*CategoryNode)(nil))
var _ = (fs.NodeReaddirer)((*CategoryNode)(nil))
var _ = (fs.NodeGetattrer)((*CategoryNode)(nil))

func (c *CategoryNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	defer diag.Track(c.fsys.Diag, "CategoryNode", "Lookup", c.view.String()+blogpath.Join(c.path, name)).Done()
	idx := c.fsys.nav.Index()
	if idx == nil {
		return nil, syscall.ENOENT
	}
	p := blogpath.Join(c.path, name)
	out.SetEntryTimeout(cacheTTLTree)

	if node, ok := idx.File(p); ok {
		if c.view == viewNLP {
			return c.lookupAnnotations(ctx, p, out)
		}
		return c.NewInode(ctx, &PostNode{fsys: c.fsys, view: c.view, node: node}, fs.StableAttr{Mode: fuse.S_IFREG}), 0
	}
	if p != blogpath.Root && idx.HasDir(p) {
		return c.NewInode(ctx, &CategoryNode{fsys: c.fsys, view: c.view, path: p}, fs.StableAttr{Mode: fuse.S_IFDIR}), 0
	}
	return nil, syscall.ENOENT
}

// lookupAnnotations computes the snapshot of post p and exposes it as a
// directory.
func (c *CategoryNode) lookupAnnotations(ctx context.Context, p string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	results, text, err := c.fsys.nav.ReadAnnotations(ctx, p)
	if err != nil {
		logging.WithContext(ctx).Warn("cannot annotate post", zap.String("path", p), zap.Error(err))
		return nil, errno(err)
	}
	root, err := jsonfs.FromValue(Snapshot(results, text), &jsonfs.Config{
		ModTime:      c.fsys.startTime,
		CacheTimeout: cacheTTLSnapshot,
	})
	if err != nil {
		return nil, syscall.EIO
	}
	out.SetEntryTimeout(cacheTTLSnapshot)
	return c.NewInode(ctx, root, fs.StableAttr{Mode: fuse.S_IFDIR}), 0
}

func (c *CategoryNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	defer diag.Track(c.fsys.Diag, "CategoryNode", "Readdir", c.view.String()+c.path).Done()
	idx := c.fsys.nav.Index()
	if idx == nil {
		return fs.NewListDirStream(nil), 0
	}
	dirs := idx.ChildrenOf(c.path, tree.Directory)
	files := idx.ChildrenOf(c.path, tree.File)
	postMode := uint32(fuse.S_IFREG)
	if c.view == viewNLP {
		postMode = fuse.S_IFDIR
	}
	entries := make([]fuse.DirEntry, 0, len(dirs)+len(files))
	for _, d := range dirs {
		entries = append(entries, fuse.DirEntry{Name: d, Mode: fuse.S_IFDIR})
	}
	for _, f := range files {
		entries = append(entries, fuse.DirEntry{Name: f, Mode: postMode})
	}
	return fs.NewListDirStream(entries), 0
}

func (c *CategoryNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = fuse.S_IFDIR | 0555
	setTimestamps(&out.Attr, c.fsys.startTime)
	if c.path == blogpath.Root {
		out.SetTimeout(cacheTTLStatic)
	} else {
		out.SetTimeout(cacheTTLTree)
	}
	return 0
}

// --- PostNode: posts/<path> and raw/<path> ---

type PostNode struct {
	fs.Inode
	fsys *FS
	view view
	node tree.Node
}

var _ = (fs.NodeOpener)((*PostNode)(nil))
var _ = (fs.NodeGetattrer)((*PostNode)(nil))

// Open fetches the post once; every read of the handle sees the same
// content.
func (p *PostNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	op := diag.Track(p.fsys.Diag, "PostNode", "Open", p.view.String()+p.node.Path)
	defer op.Done()

	op.SetPhase("fetch")
	post, err := p.fsys.nav.ReadPost(ctx, p.node.Path)
	if err != nil {
		logging.WithContext(ctx).Warn("cannot read post", zap.String("path", p.node.Path), zap.Error(err))
		return nil, 0, errno(err)
	}
	content := post.HTML
	if p.view == viewRaw {
		content = post.Raw
	}
	return &postHandle{content: []byte(content), modTime: p.fsys.startTime}, fuse.FOPEN_DIRECT_IO, 0
}

// Getattr reports the size from the tree listing for raw posts. Rendered
// sizes are only known after Open, through the handle.
func (p *PostNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	if h, ok := f.(*postHandle); ok {
		return h.Getattr(ctx, out)
	}
	out.Mode = fuse.S_IFREG | 0444
	if p.view == viewRaw && p.node.Size > 0 {
		out.Size = uint64(p.node.Size)
	}
	setTimestamps(&out.Attr, p.fsys.startTime)
	out.SetTimeout(cacheTTLTree)
	return 0
}

type postHandle struct {
	content []byte
	modTime time.Time
}

var _ = (fs.FileReader)((*postHandle)(nil))
var _ = (fs.FileGetattrer)((*postHandle)(nil))

func (h *postHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	return fuse.ReadResultData(jsonfs.ReadAt(h.content, dest, off)), 0
}

func (h *postHandle) Getattr(ctx context.Context, out *fuse.AttrOut) syscall.Errno {
	out.Mode = fuse.S_IFREG | 0444
	out.Size = uint64(len(h.content))
	setTimestamps(&out.Attr, h.modTime)
	return 0
}
