package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"blog-mirror/blogapi"
	"blog-mirror/coord"
	"blog-mirror/logging"
	"blog-mirror/metrics"

	"go.uber.org/zap"
)

// Request names one read-through lookup.
type Request struct {
	// Key is the cache key the result is stored under.
	Key string
	// CoordKey is the coordinator key; a newer Fetch with the same
	// CoordKey supersedes this one. Defaults to Key.
	CoordKey string
	// SHA, when set, must match the cached entry's SHA for a hit.
	SHA string
	// CacheFailures records failures that blogapi.IsNegative classifies
	// as negative entries, so later lookups in the session return
	// ErrNegative without fetching.
	CacheFailures bool
}

// Fetch returns the cached value for req.Key or runs fetch through the
// coordinator and stores its outcome. Successful values are stored as JSON.
// With req.CacheFailures, failures that blogapi.IsNegative classifies are
// stored as negative entries and later lookups return ErrNegative. An
// entry for other content than req.SHA is a miss either way. A superseded
// fetch returns coord.ErrCanceled and stores nothing.
func Fetch[T any](ctx context.Context, s Store, c *coord.Coordinator, req Request, fetch func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	log := logging.WithContext(ctx).With(logging.Key(req.Key))

	e, ok, err := s.Get(ctx, req.Key)
	if err != nil {
		log.Warn("cache read failed, fetching", zap.Error(err))
		ok = false
	}
	if ok {
		switch {
		case req.SHA != "" && e.SHA != req.SHA:
			log.Debug("cached entry is for other content", zap.String("cached_sha", e.SHA), zap.String("sha", req.SHA))
		case e.Status == Negative:
			metrics.RecordCacheLookup("negative")
			return zero, fmt.Errorf("%s: %w", req.Key, ErrNegative)
		default:
			var v T
			if err := json.Unmarshal(e.Payload, &v); err == nil {
				metrics.RecordCacheLookup("hit")
				return v, nil
			}
			log.Warn("evicting malformed cache entry")
			if err := s.Evict(ctx, req.Key); err != nil {
				log.Warn("cache evict failed", zap.Error(err))
			}
		}
	}
	metrics.RecordCacheLookup("miss")

	coordKey := req.CoordKey
	if coordKey == "" {
		coordKey = req.Key
	}
	return coord.Run(ctx, c, coordKey, fetch, func(v T, err error) {
		// Writes outlive the caller's context.
		wctx := context.WithoutCancel(ctx)
		switch {
		case err == nil:
			payload, merr := json.Marshal(v)
			if merr != nil {
				log.Error("cannot encode fetched value", zap.Error(merr))
				return
			}
			if perr := s.Put(wctx, req.Key, payload, req.SHA); perr != nil {
				log.Warn("cache write failed", zap.Error(perr))
			}
		case req.CacheFailures && blogapi.IsNegative(err):
			log.Debug("caching failed fetch", zap.Error(err))
			if perr := s.PutNegative(wctx, req.Key, req.SHA); perr != nil {
				log.Warn("cache write failed", zap.Error(perr))
			}
		}
	})
}
