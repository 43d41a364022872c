// Package annotate computes NLP annotations for a post: entity lists per
// kind and a sentiment score. Each kind is fetched independently, cached,
// and delivered as soon as it is ready.
package annotate

import (
	"context"
	"errors"
	"strings"

	"blog-mirror/blogapi"
	"blog-mirror/cache"
	"blog-mirror/coord"
	"blog-mirror/logging"
	"blog-mirror/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Kind names one annotation.
type Kind string

const (
	Places        Kind = "places"
	Organizations Kind = "organizations"
	Topics        Kind = "topics"
	People        Kind = "people"
	Sentiment     Kind = "sentiment"
)

// EntityKinds are the kinds whose value is a list of strings.
var EntityKinds = []Kind{Places, Organizations, Topics, People}

// AllKinds lists every kind in display order.
var AllKinds = []Kind{Places, Organizations, Topics, People, Sentiment}

// IsEntity reports whether k is an entity kind.
func (k Kind) IsEntity() bool {
	return k != Sentiment
}

// ParseKind returns the Kind named s.
func ParseKind(s string) (Kind, bool) {
	for _, k := range AllKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Result is the outcome of one kind.
type Result struct {
	Kind      Kind
	Entities  []string
	Sentiment *float64
	// Negative is set when the value could not be computed, now or in an
	// earlier fetch; the value is then empty.
	Negative bool
	Err      error
}

// Value returns the kind's visible value: a non-nil []string for entity
// kinds, a *float64 (possibly nil) for Sentiment.
func (r Result) Value() any {
	if r.Kind.IsEntity() {
		if r.Entities == nil {
			return []string{}
		}
		return r.Entities
	}
	return r.Sentiment
}

// Observer receives annotation values as they become visible.
type Observer interface {
	OnAnnotationReady(kind Kind, value any)
}

// Loader tracks loading labels. The pipeline begins a label per kind and
// ends it when the kind settles.
type Loader interface {
	BeginLoading(label string)
	EndLoading(label string)
}

// Pipeline runs annotation requests against the NLP transport.
type Pipeline struct {
	transport blogapi.Transport
	store     cache.Store
	coord     *coord.Coordinator
	observer  Observer
	loader    Loader
	perPost   bool

	// coordPrefix separates this pipeline's coordinator keys from those
	// of other pipelines sharing the coordinator.
	coordPrefix string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithObserver delivers reset and ready events to o.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// WithLoader reports per-kind loading labels to l.
func WithLoader(l Loader) Option {
	return func(p *Pipeline) { p.loader = l }
}

// WithPerPostCoordination coordinates by kind and post instead of by kind
// alone, so concurrent annotations of different posts do not supersede
// each other.
func WithPerPostCoordination() Option {
	return func(p *Pipeline) { p.perPost = true }
}

// WithCoordPrefix prefixes every coordinator key, so this pipeline never
// supersedes, or is superseded by, a pipeline with another prefix.
func WithCoordPrefix(prefix string) Option {
	return func(p *Pipeline) { p.coordPrefix = prefix }
}

// NewPipeline creates a Pipeline.
func NewPipeline(t blogapi.Transport, s cache.Store, c *coord.Coordinator, opts ...Option) *Pipeline {
	p := &Pipeline{transport: t, store: s, coord: c}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run is one Annotate call in progress.
type Run struct {
	results map[Kind]chan Result
	g       errgroup.Group
}

// Results returns one channel per requested kind. Each channel yields at
// most one Result and is then closed; a superseded kind yields nothing.
func (r *Run) Results() map[Kind]<-chan Result {
	out := make(map[Kind]<-chan Result, len(r.results))
	for k, ch := range r.results {
		out[k] = ch
	}
	return out
}

// Wait blocks until every kind has settled. It returns the first failure
// other than cancellation.
func (r *Run) Wait() error {
	return r.g.Wait()
}

// Collect waits for the run and returns the delivered results by kind. A
// kind that failed is still present, with the failure in its Err; Wait
// returns the first such failure.
func (r *Run) Collect() map[Kind]Result {
	out := make(map[Kind]Result, len(r.results))
	for k, ch := range r.results {
		if res, ok := <-ch; ok {
			out[k] = res
		}
	}
	_ = r.Wait() // failures are already in out
	return out
}

// Annotate starts computing kinds for the post at postPath whose visible
// text is text. Every kind is reset to its empty value first.
func (p *Pipeline) Annotate(ctx context.Context, postPath, text string, kinds []Kind) *Run {
	run := &Run{results: make(map[Kind]chan Result, len(kinds))}
	for _, k := range kinds {
		if _, dup := run.results[k]; dup {
			continue
		}
		run.results[k] = make(chan Result, 1)
		if p.loader != nil {
			p.loader.BeginLoading(string(k))
		}
		p.notify(k, Result{Kind: k}.Value())
	}

	for k, ch := range run.results {
		k, ch := k, ch
		run.g.Go(func() error {
			defer close(ch)
			if p.loader != nil {
				defer p.loader.EndLoading(string(k))
			}
			res := p.annotate(ctx, postPath, text, k)
			if res.Err != nil && coord.IsCanceled(res.Err) {
				metrics.RecordAnnotation(string(k), "canceled")
				return nil
			}
			ch <- res
			p.notify(k, res.Value())
			if res.Negative {
				metrics.RecordAnnotation(string(k), "negative")
			} else {
				metrics.RecordAnnotation(string(k), "ok")
			}
			return res.Err
		})
	}
	return run
}

func (p *Pipeline) notify(k Kind, v any) {
	if p.observer != nil {
		p.observer.OnAnnotationReady(k, v)
	}
}

func (p *Pipeline) annotate(ctx context.Context, postPath, text string, k Kind) Result {
	res := Result{Kind: k}
	if strings.TrimSpace(text) == "" {
		return res
	}

	req := cache.Request{
		Key:           cache.PostKey(string(k), postPath),
		CoordKey:      string(k),
		CacheFailures: true,
	}
	if p.perPost {
		req.CoordKey = req.Key
	}
	req.CoordKey = p.coordPrefix + req.CoordKey
	log := logging.WithContext(ctx).With(logging.Key(req.Key))

	var err error
	if k.IsEntity() {
		res.Entities, err = cache.Fetch(ctx, p.store, p.coord, req, func(ctx context.Context) ([]string, error) {
			raw, err := p.transport.FetchEntities(ctx, text, string(k))
			if err != nil {
				return nil, err
			}
			return FilterEntities(raw), nil
		})
	} else {
		var score float64
		score, err = cache.Fetch(ctx, p.store, p.coord, req, func(ctx context.Context) (float64, error) {
			tokens, err := p.transport.Tokenize(ctx, text)
			if err != nil {
				return 0, err
			}
			return p.transport.FetchSentiment(ctx, tokens)
		})
		if err == nil {
			res.Sentiment = &score
		}
	}

	switch {
	case err == nil:
	case coord.IsCanceled(err):
		log.Debug("annotation superseded")
		res.Err = err
	case errors.Is(err, cache.ErrNegative) || blogapi.IsNegative(err):
		log.Debug("annotation unavailable", zap.Error(err))
		res.Entities, res.Sentiment = nil, nil
		res.Negative = true
		res.Err = err
	default:
		log.Warn("annotation failed", zap.Error(err))
		res.Entities, res.Sentiment = nil, nil
		res.Negative = true
		res.Err = err
	}
	return res
}
