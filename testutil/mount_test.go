package testutil

import (
	"context"
	"os"
	"syscall"
	"testing"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

type rootNode struct {
	fs.Inode
}

func (r *rootNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	return fs.NewListDirStream([]fuse.DirEntry{{Name: "hello", Mode: fuse.S_IFREG}}), 0
}

func (r *rootNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if name != "hello" {
		return nil, syscall.ENOENT
	}
	return r.NewInode(ctx, &fs.MemRegularFile{Data: []byte("world\n"), Attr: fuse.Attr{Mode: 0444}}, fs.StableAttr{Mode: fuse.S_IFREG}), 0
}

func TestStartMount(t *testing.T) {
	m := StartMount(t, &rootNode{}, nil)

	entries, err := os.ReadDir(m.MountPoint)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "hello" {
		t.Errorf("entries = %v", entries)
	}
	data, err := os.ReadFile(m.MountPoint + "/hello")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "world\n" {
		t.Errorf("hello = %q", data)
	}

	if err := m.Unmount(); err != nil {
		t.Fatal(err)
	}
	if err := m.Unmount(); err != nil {
		t.Errorf("second Unmount: %v", err)
	}
}
