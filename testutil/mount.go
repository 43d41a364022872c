// Package testutil mounts filesystems in-process for tests.
package testutil

import (
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// Mount is a filesystem served by the test process.
type Mount struct {
	Server     *fuse.Server
	MountPoint string
}

// MountConfig configures StartMount.
type MountConfig struct {
	// MountPoint defaults to a fresh t.TempDir().
	MountPoint string
	Debug      bool
	// Timeout bounds the wait for the mount to answer. Default 10s.
	Timeout time.Duration
}

// RequireFUSE skips t when the host cannot mount FUSE filesystems.
func RequireFUSE(t testing.TB) {
	t.Helper()
	if _, err := exec.LookPath("fusermount"); err != nil {
		if _, err := exec.LookPath("fusermount3"); err != nil {
			t.Skip("fusermount not found, skipping FUSE test")
		}
	}
	if _, err := os.Stat("/dev/fuse"); err != nil {
		t.Skip("/dev/fuse not available, skipping FUSE test")
	}
}

// StartMount mounts root and unmounts it when t finishes. Kernel caching
// is disabled so that tests observe every change.
func StartMount(t testing.TB, root fs.InodeEmbedder, cfg *MountConfig) *Mount {
	t.Helper()
	RequireFUSE(t)
	if cfg == nil {
		cfg = &MountConfig{}
	}
	mountPoint := cfg.MountPoint
	if mountPoint == "" {
		mountPoint = t.TempDir()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	zero := time.Duration(0)
	opts := &fs.Options{
		EntryTimeout:    &zero,
		AttrTimeout:     &zero,
		NegativeTimeout: &zero,
	}
	opts.Debug = cfg.Debug
	opts.FsName = "blog-mirror-test"

	server, err := fs.Mount(mountPoint, root, opts)
	if err != nil {
		t.Fatalf("mount %s: %v", mountPoint, err)
	}
	m := &Mount{Server: server, MountPoint: mountPoint}
	t.Cleanup(func() {
		if err := m.Unmount(); err != nil {
			t.Logf("unmount %s: %v", mountPoint, err)
		}
	})
	if err := m.waitReady(timeout); err != nil {
		t.Fatal(err)
	}
	return m
}

func (m *Mount) waitReady(timeout time.Duration) error {
	errc := make(chan error, 1)
	go func() { errc <- m.Server.WaitMount() }()
	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("mount %s not ready: %w", m.MountPoint, err)
		}
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for mount at %s", m.MountPoint)
	}
}

// Unmount detaches the filesystem. Calling it twice is harmless.
func (m *Mount) Unmount() error {
	if m.Server == nil {
		return nil
	}
	s := m.Server
	m.Server = nil
	return s.Unmount()
}
