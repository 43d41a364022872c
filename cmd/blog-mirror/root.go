package main

import (
	"errors"
	"fmt"
	"time"

	"blog-mirror/blogapi"
	"blog-mirror/cache"
	"blog-mirror/config"
	"blog-mirror/coord"
	"blog-mirror/diag"
	"blog-mirror/logging"
	"blog-mirror/nav"

	"github.com/spf13/cobra"
)

// Command group IDs for organizing help output
const (
	groupBrowse = "browse"
	groupServe  = "serve"
)

// app holds what every subcommand shares. It is built in
// PersistentPreRunE once flags are parsed.
type app struct {
	cfg     config.Config
	client  *blogapi.CachingClient
	store   cache.Store
	tracker *diag.Tracker
	coord   *coord.Coordinator
}

func newApp(cfg config.Config) (*app, error) {
	opts := []blogapi.Option{
		blogapi.WithAuthorization(cfg.API.Authorization, cfg.NLP.Authorization),
	}
	if cfg.API.Branch != "" {
		opts = append(opts, blogapi.WithBranch(cfg.API.Branch))
	}
	if cfg.API.Timeout.Duration > 0 {
		opts = append(opts, blogapi.WithTimeout(cfg.API.Timeout.Duration))
	}
	client := blogapi.NewClient(cfg.API.Root, cfg.NLP.Root, opts...)

	store, err := cache.Open(cfg.Cache.Backend, cfg.Cache.Path)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	tracker := diag.NewTracker()
	return &app{
		cfg:     cfg,
		client:  blogapi.NewCachingClient(client, cfg.Cache.TreeTTL.Duration),
		store:   store,
		tracker: tracker,
		coord:   coord.New(coord.WithTracker(tracker)),
	}, nil
}

// navigator creates a navigator over the shared transport and store.
func (a *app) navigator(opts ...nav.Option) *nav.Navigator {
	base := []nav.Option{
		nav.WithAssetsRoot(a.cfg.AssetsRoot),
		nav.WithMaxFileSize(a.cfg.MaxFileSize),
	}
	return nav.New(a.client, a.store, a.coord, append(base, opts...)...)
}

func (a *app) Close() error {
	a.coord.CancelAll()
	return a.store.Close()
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
		a          *app
	)

	cmd := &cobra.Command{
		Use:   "blog-mirror",
		Short: "Browse and annotate a blog stored in a git repository",
		Long: `blog-mirror reads a blog from a git hosting API, renders its posts and
annotates them with entities, sentiment and reading statistics.

Settings are read from ~/.config/blog-mirror/config.toml unless --config
names another file. BLOG_MIRROR_* environment variables override the file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if err := logging.Init(logging.Config{
				Level:      cfg.Log.Level,
				Format:     cfg.Log.Format,
				OutputPath: cfg.Log.File,
			}); err != nil {
				return fmt.Errorf("init logging: %w", err)
			}
			a, err = newApp(cfg)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a == nil {
				return nil
			}
			err := a.Close()
			logging.Sync()
			return err
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/blog-mirror/config.toml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")

	cmd.AddGroup(
		&cobra.Group{ID: groupBrowse, Title: "Browse Commands:"},
		&cobra.Group{ID: groupServe, Title: "Serve Commands:"},
	)

	get := func() *app { return a }
	cmd.AddCommand(
		newTreeCmd(get),
		newShowCmd(get),
		newRandomCmd(get),
		newFindCmd(get),
		newDefineCmd(get),
		newMountCmd(get),
		newCacheCmd(get),
	)
	return cmd
}

// errNoPosts is returned by commands that need at least one post.
var errNoPosts = errors.New("the blog has no posts")

const loadTimeout = 2 * time.Minute
