package nav

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"

	"blog-mirror/annotate"
	"blog-mirror/blogpath"
	"blog-mirror/cache"
	"blog-mirror/coord"
	"blog-mirror/logging"
	"blog-mirror/tree"

	"go.uber.org/zap"
)

// Post is a rendered post body.
type Post struct {
	Raw  string `json:"raw"`
	HTML string `json:"html"`
}

// readerCoordPrefix keeps the coordinator keys of ReadPost and
// ReadAnnotations apart from those of navigation.
const readerCoordPrefix = "read:"

// fetchPost reads the post body through the cache. Failures are not
// remembered: a post that failed to load is fetched again next time.
func (n *Navigator) fetchPost(ctx context.Context, node tree.Node, coordKey string) (Post, error) {
	req := cache.Request{
		Key:      cache.PostKey("post", node.Path),
		CoordKey: coordKey,
		SHA:      node.SHA,
	}
	return cache.Fetch(ctx, n.store, n.coord, req, func(ctx context.Context) (Post, error) {
		blob, err := n.transport.FetchBlob(ctx, node.SHA)
		if err != nil {
			return Post{}, err
		}
		raw, err := blob.Decode()
		if err != nil {
			return Post{}, err
		}
		html, err := n.transport.RenderMarkdown(ctx, raw)
		if err != nil {
			return Post{}, err
		}
		html, err = annotate.RewriteImageSources(html, n.assetsRoot, blogpath.Dirname(node.Path))
		if err != nil {
			return Post{}, err
		}
		return Post{Raw: raw, HTML: html}, nil
	})
}

// shared runs fn once for all concurrent readers of key. The shared call
// is detached from any single reader's cancellation; each reader still
// stops waiting when its own ctx is done.
func (n *Navigator) shared(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, error) {
	detached := context.WithoutCancel(ctx)
	ch := n.reads.DoChan(key, func() (any, error) {
		return fn(detached)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ReadPost returns the body of the post at path without moving to it.
// Concurrent reads of the same post share one fetch, and reads never
// supersede each other or a navigation.
func (n *Navigator) ReadPost(ctx context.Context, path string) (Post, error) {
	idx, err := n.loadedIndex()
	if err != nil {
		return Post{}, err
	}
	p := blogpath.Normalize(path)
	node, ok := idx.File(p)
	if !ok {
		return Post{}, fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	key := cache.PostKey("post", node.Path)
	v, err := n.shared(ctx, key, func(ctx context.Context) (any, error) {
		return n.fetchPost(ctx, node, readerCoordPrefix+key)
	})
	if err != nil {
		return Post{}, err
	}
	return v.(Post), nil
}

// ReadAnnotations computes every configured kind for the post at path
// without touching the navigation state. Like ReadPost, concurrent calls
// for one post share their work.
func (n *Navigator) ReadAnnotations(ctx context.Context, path string) (map[annotate.Kind]annotate.Result, string, error) {
	post, err := n.ReadPost(ctx, path)
	if err != nil {
		return nil, "", err
	}
	text, err := annotate.ExtractText(post.HTML, annotate.MaxBodyText)
	if err != nil {
		return nil, "", err
	}
	p := blogpath.Normalize(path)
	v, err := n.shared(ctx, "annotations::"+p, func(ctx context.Context) (any, error) {
		run := n.reader.Annotate(ctx, p, text, n.kinds)
		results := run.Collect()
		if err := run.Wait(); err != nil {
			logging.WithContext(ctx).Debug("annotations incomplete", zap.String("path", p), zap.Error(err))
		}
		return results, nil
	})
	if err != nil {
		return nil, "", err
	}
	return maps.Clone(v.(map[annotate.Kind]annotate.Result)), text, nil
}

func (n *Navigator) resetAnnotationsLocked() {
	n.annotations = make(map[annotate.Kind]any, len(n.kinds))
	for _, k := range n.kinds {
		n.annotations[k] = annotate.Result{Kind: k}.Value()
	}
	n.annDone = nil
}

// startAnnotations runs the pipeline for the current post. Results reach
// the observer only while gen is still current.
func (n *Navigator) startAnnotations(ctx context.Context, gen uint64, postPath, text string, done chan struct{}) {
	run := n.pipeline.Annotate(ctx, postPath, text, n.kinds)
	results := run.Results()

	remaining := len(results)
	settled := make(chan struct{}, len(results))
	for k, ch := range results {
		go func(k annotate.Kind, ch <-chan annotate.Result) {
			defer func() { settled <- struct{}{} }()
			res, ok := <-ch
			if !ok {
				return
			}
			n.mu.Lock()
			current := n.gen == gen
			if current {
				n.annotations[k] = res.Value()
			}
			n.mu.Unlock()
			if current {
				n.observer.OnAnnotationReady(k, res.Value())
			}
		}(k, ch)
	}
	go func() {
		for ; remaining > 0; remaining-- {
			<-settled
		}
		if err := run.Wait(); err != nil && !coord.IsCanceled(err) {
			logging.WithContext(ctx).Debug("annotations incomplete", zap.String("path", postPath), zap.Error(err))
		}
		close(done)
	}()
}

// Annotations waits until the current post's annotations settle, or ctx
// is done, and returns their values by kind.
func (n *Navigator) Annotations(ctx context.Context) (map[annotate.Kind]any, error) {
	n.mu.Lock()
	done := n.annDone
	n.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[annotate.Kind]any, len(n.annotations))
	for k, v := range n.annotations {
		out[k] = v
	}
	return out, nil
}

// Define looks up word. Definitions are cached per lowercased word; a
// newer Define supersedes an older one still in flight, which then
// returns coord.ErrCanceled.
func (n *Navigator) Define(ctx context.Context, word string) (string, error) {
	word = strings.TrimSpace(word)
	if word == "" {
		return "", errors.New("empty word")
	}
	n.BeginLoading(LabelWord)
	defer n.EndLoading(LabelWord)

	req := cache.Request{Key: cache.DefineKey(word), CoordKey: coordWord, CacheFailures: true}
	if n.perResource {
		req.CoordKey = req.Key
	}
	def, err := cache.Fetch(ctx, n.store, n.coord, req, func(ctx context.Context) (string, error) {
		return n.transport.FetchDefinition(ctx, word)
	})
	if err != nil && !coord.IsCanceled(err) {
		logging.WithContext(ctx).Info("definition unavailable", zap.String("word", word), zap.Error(err))
	}
	return def, err
}
