// Package nav holds the navigation state of a mirror session: the loaded
// tree, the current category and post, the post body, its annotations and
// the loading labels consumers use to avoid showing stale data.
package nav

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"blog-mirror/annotate"
	"blog-mirror/blogapi"
	"blog-mirror/blogpath"
	"blog-mirror/cache"
	"blog-mirror/coord"
	"blog-mirror/logging"
	"blog-mirror/metrics"
	"blog-mirror/tree"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Loading labels.
const (
	LabelData     = "data"
	LabelPostText = "postText"
	LabelWord     = "word"
)

// Coordinator keys of the navigator's own operations.
const (
	coordPost = "post"
	coordWord = "word"
)

var (
	// ErrNotFound is returned for paths that are not in the tree.
	ErrNotFound = fmt.Errorf("path %w", blogapi.ErrNotFound)

	// ErrNotLoaded is returned before a successful Load.
	ErrNotLoaded = errors.New("tree not loaded")
)

// Observer receives every visible state change.
type Observer interface {
	annotate.Observer
	OnLoadingChanged(label string, loading bool)
	OnPostChanged(category, post string)
}

type nopObserver struct{}

func (nopObserver) OnLoadingChanged(string, bool)        {}
func (nopObserver) OnAnnotationReady(annotate.Kind, any) {}
func (nopObserver) OnPostChanged(string, string)         {}

// State is the navigation position.
type State struct {
	Category string `json:"category"`
	Post     string `json:"post,omitempty"`
	PostBody string `json:"-"`
}

// Navigator resolves navigation against the mirrored tree. All methods are
// safe for concurrent use.
type Navigator struct {
	transport   blogapi.Transport
	store       cache.Store
	coord       *coord.Coordinator
	pipeline    *annotate.Pipeline
	reader      *annotate.Pipeline
	reads       singleflight.Group
	observer    Observer
	history     History
	assetsRoot  string
	maxFileSize int64
	kinds       []annotate.Kind
	perResource bool

	rngMu sync.Mutex
	rng   *rand.Rand

	mu          sync.Mutex
	index       *tree.Index
	state       State
	raw         string
	text        string
	gen         uint64
	loading     []string
	annotations map[annotate.Kind]any
	annDone     chan struct{}
}

// Option configures a Navigator.
type Option func(*Navigator)

// WithObserver delivers state changes to o.
func WithObserver(o Observer) Option {
	return func(n *Navigator) { n.observer = o }
}

// WithHistory records every GotoCategory and GotoPost in h.
func WithHistory(h History) Option {
	return func(n *Navigator) { n.history = h }
}

// WithAssetsRoot sets the host relative image sources are rewritten to.
func WithAssetsRoot(root string) Option {
	return func(n *Navigator) { n.assetsRoot = root }
}

// WithMaxFileSize overrides tree.DefaultMaxFileSize.
func WithMaxFileSize(size int64) Option {
	return func(n *Navigator) { n.maxFileSize = size }
}

// WithKinds restricts the annotations computed for a post.
func WithKinds(kinds ...annotate.Kind) Option {
	return func(n *Navigator) { n.kinds = kinds }
}

// WithRand sets the source used by GotoRandomPost.
func WithRand(r *rand.Rand) Option {
	return func(n *Navigator) { n.rng = r }
}

// WithPerResourceCoordination coordinates post, annotation and definition
// fetches per resource instead of per kind of operation. Use it when many
// independent readers share one Navigator, as the filesystem does.
func WithPerResourceCoordination() Option {
	return func(n *Navigator) { n.perResource = true }
}

// New creates a Navigator. Nothing is fetched until Load.
func New(t blogapi.Transport, s cache.Store, c *coord.Coordinator, opts ...Option) *Navigator {
	n := &Navigator{
		transport:   t,
		store:       s,
		coord:       c,
		observer:    nopObserver{},
		history:     discardHistory{},
		maxFileSize: tree.DefaultMaxFileSize,
		kinds:       annotate.AllKinds,
		state:       State{Category: blogpath.Root},
		annotations: make(map[annotate.Kind]any),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.rng == nil {
		n.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	popts := []annotate.Option{annotate.WithLoader(n)}
	if n.perResource {
		popts = append(popts, annotate.WithPerPostCoordination())
	}
	n.pipeline = annotate.NewPipeline(t, s, c, popts...)
	n.reader = annotate.NewPipeline(t, s, c, annotate.WithPerPostCoordination(), annotate.WithCoordPrefix(readerCoordPrefix))
	return n
}

// Load fetches the tree snapshot (from the cache when present) and builds
// the index. A failure leaves the previous index in place.
func (n *Navigator) Load(ctx context.Context) error {
	n.BeginLoading(LabelData)
	defer n.EndLoading(LabelData)

	listing, err := cache.Fetch(ctx, n.store, n.coord, cache.Request{Key: cache.TreeKey}, n.transport.FetchTree)
	if err != nil {
		return fmt.Errorf("load tree: %w", err)
	}
	idx := tree.Build(tree.FromListing(listing), tree.WithMaxFileSize(n.maxFileSize))
	dirs, files := idx.Len()
	metrics.SetTreeSize(dirs, files)
	logging.WithContext(ctx).Info("tree loaded", zap.Int("categories", dirs), zap.Int("posts", files))

	n.mu.Lock()
	n.index = idx
	if !idx.HasDir(n.state.Category) {
		n.state = State{Category: blogpath.Root}
		n.raw, n.text = "", ""
		n.gen++
		n.resetAnnotationsLocked()
	} else if n.state.Post != "" {
		if _, ok := idx.File(blogpath.Join(n.state.Category, n.state.Post)); !ok {
			n.state.Post, n.state.PostBody = "", ""
			n.raw, n.text = "", ""
			n.gen++
			n.resetAnnotationsLocked()
		}
	}
	n.mu.Unlock()
	return nil
}

// Refresh drops every cached result and reloads the tree.
func (n *Navigator) Refresh(ctx context.Context) error {
	if err := n.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	if c, ok := n.transport.(interface{ InvalidateAll() }); ok {
		c.InvalidateAll()
	}
	return n.Load(ctx)
}

// Index returns the loaded tree, or nil before Load.
func (n *Navigator) Index() *tree.Index {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.index
}

func (n *Navigator) loadedIndex() (*tree.Index, error) {
	idx := n.Index()
	if idx == nil {
		return nil, ErrNotLoaded
	}
	return idx, nil
}

// State returns the current position and post body.
func (n *Navigator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// GotoCategory moves to the category at path. Moving to the current
// category is a no-op, even with a post open; an unknown category leaves
// the state unchanged.
func (n *Navigator) GotoCategory(path string) error {
	return n.gotoCategory(path, true)
}

// gotoCategory moves to path. Restoring a history entry (record false)
// closes an open post of the same category, since that is the state the
// entry describes.
func (n *Navigator) gotoCategory(path string, record bool) error {
	idx, err := n.loadedIndex()
	if err != nil {
		return err
	}
	p := blogpath.Normalize(path)

	n.mu.Lock()
	if n.state.Category == p && (record || n.state.Post == "") {
		n.mu.Unlock()
		return nil
	}
	if !idx.HasDir(p) {
		n.mu.Unlock()
		logging.L().Warn("category not found", zap.String("path", p))
		return fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	n.state = State{Category: p}
	n.raw, n.text = "", ""
	n.gen++
	n.resetAnnotationsLocked()
	n.mu.Unlock()

	n.coord.Cancel(coordPost)
	if record {
		n.history.Push(Entry{Category: p})
	}
	n.observer.OnPostChanged(p, "")
	return nil
}

// GotoPost moves to the post at path, fetches and renders its body and
// starts its annotations. Moving to the current post is a no-op; an
// unknown post leaves the state unchanged. A superseded call returns nil.
func (n *Navigator) GotoPost(ctx context.Context, path string) error {
	return n.gotoPost(ctx, path, true)
}

func (n *Navigator) gotoPost(ctx context.Context, path string, record bool) error {
	idx, err := n.loadedIndex()
	if err != nil {
		return err
	}
	p := blogpath.Normalize(path)
	node, ok := idx.File(p)
	if !ok {
		logging.L().Warn("post not found", zap.String("path", p))
		return fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	category, post := blogpath.Dirname(p), blogpath.Basename(p)

	n.mu.Lock()
	if n.state.Category == category && n.state.Post == post {
		n.mu.Unlock()
		return nil
	}
	n.state = State{Category: category, Post: post}
	n.raw, n.text = "", ""
	n.gen++
	gen := n.gen
	n.resetAnnotationsLocked()
	n.mu.Unlock()

	if record {
		n.history.Push(Entry{Category: category, Post: post})
	}
	n.observer.OnPostChanged(category, post)
	for _, k := range n.kinds {
		n.observer.OnAnnotationReady(k, annotate.Result{Kind: k}.Value())
	}

	n.BeginLoading(LabelPostText)
	coordKey := coordPost
	if n.perResource {
		coordKey = cache.PostKey("post", p)
	}
	body, err := n.fetchPost(ctx, node, coordKey)
	n.EndLoading(LabelPostText)
	if err != nil {
		if coord.IsCanceled(err) {
			logging.WithContext(ctx).Debug("post fetch superseded", zap.String("path", p))
			return nil
		}
		logging.WithContext(ctx).Warn("cannot load post", zap.String("path", p), zap.Error(err))
		return fmt.Errorf("load post %s: %w", p, err)
	}
	text, err := annotate.ExtractText(body.HTML, annotate.MaxBodyText)
	if err != nil {
		return fmt.Errorf("extract text of %s: %w", p, err)
	}

	n.mu.Lock()
	if n.gen != gen {
		n.mu.Unlock()
		return nil
	}
	n.state.PostBody = body.HTML
	n.raw, n.text = body.Raw, text
	done := make(chan struct{})
	n.annDone = done
	n.mu.Unlock()

	n.startAnnotations(ctx, gen, p, text, done)
	return nil
}

// GotoRandomPost moves to a post picked uniformly among those at most one
// category deep.
func (n *Navigator) GotoRandomPost(ctx context.Context) error {
	idx, err := n.loadedIndex()
	if err != nil {
		return err
	}
	n.rngMu.Lock()
	p, err := idx.RandomPost(n.rng)
	n.rngMu.Unlock()
	if err != nil {
		return err
	}
	logging.WithContext(ctx).Info("opening random post", zap.String("path", p))
	return n.GotoPost(ctx, p)
}

// GotoPath moves to path the way a deep link does: a post path opens the
// post, the root opens a random post and anything else is a category.
func (n *Navigator) GotoPath(ctx context.Context, path string) error {
	p := blogpath.Normalize(path)
	switch {
	case blogpath.IsFile(p):
		return n.GotoPost(ctx, p)
	case p == blogpath.Root:
		err := n.GotoRandomPost(ctx)
		if errors.Is(err, tree.ErrNoEligiblePost) {
			return n.GotoCategory(p)
		}
		return err
	default:
		return n.GotoCategory(p)
	}
}

// Restore moves to e without recording it in the history, as when
// stepping back.
func (n *Navigator) Restore(ctx context.Context, e Entry) error {
	if e.Post != "" {
		return n.gotoPost(ctx, blogpath.Join(e.Category, e.Post), false)
	}
	return n.gotoCategory(e.Category, false)
}

// Raw returns the current post's markdown.
func (n *Navigator) Raw() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.raw
}

// Text returns the current post's extracted text, the input of the
// annotations.
func (n *Navigator) Text() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.text
}

// Stats summarizes the current post's text.
func (n *Navigator) Stats() annotate.Stats {
	return annotate.ReadStats(n.Text())
}
