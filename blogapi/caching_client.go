package blogapi

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// CachingClient wraps a Client and caches the tree listing for cacheTTL
// and blobs indefinitely (a blob never changes for a given SHA). A
// cacheTTL of 0 disables caching. NLP calls are passed through; their
// results are memoized by the result cache instead.
//
// Uses singleflight to coalesce duplicate requests, preventing thundering
// herd on cache miss without holding locks during HTTP calls.
type CachingClient struct {
	client   *Client
	cacheTTL time.Duration

	mu sync.RWMutex

	sf singleflight.Group

	treeCache *cacheEntry
	blobCache map[string]Blob
}

// cacheEntry holds a cached listing with an expiration time.
type cacheEntry struct {
	listing   TreeListing
	expiresAt time.Time
}

// NewCachingClient creates a new CachingClient wrapping the given client.
// A cacheTTL of 0 disables caching.
func NewCachingClient(client *Client, cacheTTL time.Duration) *CachingClient {
	return &CachingClient{
		client:    client,
		cacheTTL:  cacheTTL,
		blobCache: make(map[string]Blob),
	}
}

// isValid returns true if the cache entry exists and hasn't expired.
func (e *cacheEntry) isValid() bool {
	return e != nil && time.Now().Before(e.expiresAt)
}

// shared runs fn once for all concurrent callers of key. The shared call
// runs detached from any single caller's cancellation; each caller still
// stops waiting when its own ctx is done.
func (c *CachingClient) shared(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.sf.DoChan(key, func() (any, error) {
		return fn(detached)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FetchTree returns the tree listing, using the cache if it is fresh.
func (c *CachingClient) FetchTree(ctx context.Context) (TreeListing, error) {
	if c.cacheTTL > 0 {
		c.mu.RLock()
		entry := c.treeCache
		c.mu.RUnlock()

		if entry.isValid() {
			return entry.listing, nil
		}
	}

	result, err := c.shared(ctx, "tree", func(ctx context.Context) (any, error) {
		listing, err := c.client.FetchTree(ctx)
		if err != nil {
			return TreeListing{}, err
		}
		if c.cacheTTL > 0 {
			c.mu.Lock()
			c.treeCache = &cacheEntry{
				listing:   listing,
				expiresAt: time.Now().Add(c.cacheTTL),
			}
			c.mu.Unlock()
		}
		return listing, nil
	})
	if err != nil {
		return TreeListing{}, err
	}
	return result.(TreeListing), nil
}

// FetchBlob returns a blob, using the cache if it was fetched before.
func (c *CachingClient) FetchBlob(ctx context.Context, sha string) (Blob, error) {
	if c.cacheTTL > 0 {
		c.mu.RLock()
		blob, ok := c.blobCache[sha]
		c.mu.RUnlock()

		if ok {
			return blob, nil
		}
	}

	result, err := c.shared(ctx, "blob:"+sha, func(ctx context.Context) (any, error) {
		blob, err := c.client.FetchBlob(ctx, sha)
		if err != nil {
			return Blob{}, err
		}
		if c.cacheTTL > 0 {
			c.mu.Lock()
			c.blobCache[sha] = blob
			c.mu.Unlock()
		}
		return blob, nil
	})
	if err != nil {
		return Blob{}, err
	}
	return result.(Blob), nil
}

// RenderMarkdown is not cached.
func (c *CachingClient) RenderMarkdown(ctx context.Context, raw string) (string, error) {
	return c.client.RenderMarkdown(ctx, raw)
}

// FetchEntities is not cached.
func (c *CachingClient) FetchEntities(ctx context.Context, text, kind string) ([]string, error) {
	return c.client.FetchEntities(ctx, text, kind)
}

// Tokenize is not cached.
func (c *CachingClient) Tokenize(ctx context.Context, text string) ([]string, error) {
	return c.client.Tokenize(ctx, text)
}

// FetchSentiment is not cached.
func (c *CachingClient) FetchSentiment(ctx context.Context, tokens []string) (float64, error) {
	return c.client.FetchSentiment(ctx, tokens)
}

// FetchDefinition is not cached.
func (c *CachingClient) FetchDefinition(ctx context.Context, word string) (string, error) {
	return c.client.FetchDefinition(ctx, word)
}

// InvalidateTree drops the cached tree listing.
func (c *CachingClient) InvalidateTree() {
	c.mu.Lock()
	c.treeCache = nil
	c.mu.Unlock()
}

// InvalidateAll clears all caches.
func (c *CachingClient) InvalidateAll() {
	c.mu.Lock()
	c.treeCache = nil
	c.blobCache = make(map[string]Blob)
	c.mu.Unlock()
}
