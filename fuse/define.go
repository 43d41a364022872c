package fuse

import (
	"context"
	"errors"
	"strings"
	"syscall"

	"blog-mirror/blogapi"
	"blog-mirror/cache"
	"blog-mirror/diag"
	"blog-mirror/logging"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"
)

const definePrefix = "define::"

// DefineDirNode is define/. Looking up any name defines that word; the
// listing shows the words already defined.
type DefineDirNode struct {
	fs.Inode
	fsys *FS
}

var _ = (fs.NodeLookuper)((*DefineDirNode)(nil))
var _ = (fs.NodeReaddirer)((*DefineDirNode)(nil))
var _ = (fs.NodeGetattrer)((*DefineDirNode)(nil))

func (d *DefineDirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	op := diag.Track(d.fsys.Diag, "DefineDirNode", "Lookup", name)
	defer op.Done()
	if strings.TrimSpace(name) == "" || strings.HasPrefix(name, ".") {
		return nil, syscall.ENOENT
	}

	op.SetPhase("fetch")
	def, err := d.fsys.nav.Define(ctx, name)
	if err != nil {
		return nil, defineErrno(err)
	}
	content := []byte(def + "\n")
	out.SetEntryTimeout(cacheTTLSnapshot)
	out.SetAttrTimeout(cacheTTLSnapshot)
	out.Mode = fuse.S_IFREG | 0444
	out.Size = uint64(len(content))
	return d.NewInode(ctx, &staticFile{content: content, modTime: d.fsys.startTime}, fs.StableAttr{Mode: fuse.S_IFREG}), 0
}

// defineErrno reports unknown words, including remembered failures, as
// missing files.
func defineErrno(err error) syscall.Errno {
	if errors.Is(err, cache.ErrNegative) || errors.Is(err, blogapi.ErrNotFound) {
		return syscall.ENOENT
	}
	return errno(err)
}

func (d *DefineDirNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	keys, err := d.fsys.store.Keys(ctx)
	if err != nil {
		logging.WithContext(ctx).Warn("cannot list definitions", zap.Error(err))
		return nil, syscall.EIO
	}
	var entries []fuse.DirEntry
	for _, k := range keys {
		word, ok := strings.CutPrefix(k, definePrefix)
		if !ok || word == "" {
			continue
		}
		if e, ok, err := d.fsys.store.Get(ctx, k); err != nil || !ok || e.Status != cache.Success {
			continue
		}
		entries = append(entries, fuse.DirEntry{Name: word, Mode: fuse.S_IFREG})
	}
	return fs.NewListDirStream(entries), 0
}

func (d *DefineDirNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = fuse.S_IFDIR | 0555
	setTimestamps(&out.Attr, d.fsys.startTime)
	return 0
}
