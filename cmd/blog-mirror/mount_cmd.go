package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	blogfuse "blog-mirror/fuse"
	"blog-mirror/events"
	"blog-mirror/logging"
	"blog-mirror/metrics"
	"blog-mirror/nav"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMountCmd(get func() *app) *cobra.Command {
	var (
		debug     bool
		debugAddr string
	)
	cmd := &cobra.Command{
		Use:   "mount <mountpoint>",
		Short: "Mount the blog as a read-only filesystem",
		Long: `Mount exposes rendered posts under posts/, markdown under raw/, per-post
annotations under nlp/ and word definitions under define/. It runs until
interrupted and then unmounts.`,
		GroupID: groupServe,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			ctx := cmd.Context()
			broadcaster := events.NewBroadcaster()
			n := a.navigator(nav.WithPerResourceCoordination(), nav.WithObserver(broadcaster))
			root := blogfuse.NewFS(n, a.store, blogfuse.WithTracker(a.tracker))
			// A failed load is reported in /ERROR rather than aborting.
			root.Load(ctx)

			if debugAddr != "" {
				srv, err := startDebugServer(debugAddr, a, broadcaster)
				if err != nil {
					return err
				}
				defer srv.Close()
			}

			zero := time.Duration(0)
			opts := &fs.Options{
				EntryTimeout:    &zero,
				AttrTimeout:     &zero,
				NegativeTimeout: &zero,
			}
			opts.Debug = debug
			opts.FsName = "blog-mirror"
			opts.Name = "blog-mirror"

			server, err := fs.Mount(args[0], root, opts)
			if err != nil {
				return fmt.Errorf("mount %s: %w", args[0], err)
			}
			logging.L().Info("mounted", zap.String("mountpoint", args[0]))

			go func() {
				<-ctx.Done()
				if err := server.Unmount(); err != nil {
					logging.L().Error("unmount failed", zap.Error(err))
				}
			}()
			server.Wait()
			return nil
		},
	}
	cmd.Flags().BoolVar(&debug, "debug", false, "log every FUSE request")
	cmd.Flags().StringVar(&debugAddr, "debug-addr", "", "serve /debug/inflight, /debug/events and /metrics on this address")
	return cmd
}

// startDebugServer serves diagnostics on addr until the returned server
// is closed.
func startDebugServer(addr string, a *app, b *events.Broadcaster) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/debug/inflight", a.tracker.Handler())
	mux.Handle("/debug/events", b.Handler())
	mux.Handle("/metrics", metrics.Handler())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("debug listener: %w", err)
	}
	srv := &http.Server{
		Handler:           logging.Middleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.Background() },
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.L().Error("debug server stopped", zap.Error(err))
		}
	}()
	logging.L().Info("debug server listening", zap.String("addr", ln.Addr().String()))
	return srv, nil
}
