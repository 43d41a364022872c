package mockserver

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"blog-mirror/blogapi"
)

func TestNew_ServesTree(t *testing.T) {
	s := New(
		WithPost("/a/b/deep.md", "deep"),
		WithPost("/intro.md", "hi"),
		WithCategory("/empty"),
	)
	defer s.Close()

	listing, err := blogapi.NewClient(s.URL, s.URL).FetchTree(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	types := make(map[string]string)
	for _, e := range listing.Tree {
		types[e.Path] = e.Type
	}
	want := map[string]string{
		"a":           "tree",
		"a/b":         "tree",
		"a/b/deep.md": "blob",
		"empty":       "tree",
		"intro.md":    "blob",
	}
	for p, typ := range want {
		if types[p] != typ {
			t.Errorf("%s: type %q, want %q", p, types[p], typ)
		}
	}
	if s.Count(Trees) != 1 {
		t.Errorf("Count(Trees) = %d", s.Count(Trees))
	}
}

func TestNew_ServesBlobBySHA(t *testing.T) {
	long := "# Title\n\nA paragraph that is long enough to wrap the base64 encoding over several lines."
	s := New(WithPost("/a/post.md", long))
	defer s.Close()

	client := blogapi.NewClient(s.URL, s.URL)
	blob, err := client.FetchBlob(context.Background(), SHA(long))
	if err != nil {
		t.Fatal(err)
	}
	text, err := blob.Decode()
	if err != nil || text != long {
		t.Errorf("Decode = %q, %v", text, err)
	}

	_, err = client.FetchBlob(context.Background(), "nope")
	if !errors.Is(err, blogapi.ErrNotFound) {
		t.Errorf("unknown blob err = %v", err)
	}
}

func TestNew_ServesNLP(t *testing.T) {
	s := New(
		WithEntities("places", []string{"Paris"}),
		WithSentiment(-0.5),
		WithDefinition("Serendipity", "happy accident"),
	)
	defer s.Close()
	ctx := context.Background()
	client := blogapi.NewClient(s.URL, s.URL)

	if got, err := client.FetchEntities(ctx, "text", "places"); err != nil || len(got) != 1 || got[0] != "Paris" {
		t.Errorf("FetchEntities = %v, %v", got, err)
	}
	if got, err := client.FetchEntities(ctx, "text", "people"); err != nil || len(got) != 0 {
		t.Errorf("FetchEntities(people) = %v, %v", got, err)
	}
	if got, err := client.Tokenize(ctx, "a b  c"); err != nil || len(got) != 3 {
		t.Errorf("Tokenize = %v, %v", got, err)
	}
	if got, err := client.FetchSentiment(ctx, []string{"a"}); err != nil || got != -0.5 {
		t.Errorf("FetchSentiment = %v, %v", got, err)
	}
	if got, err := client.FetchDefinition(ctx, "serendipity"); err != nil || got != "happy accident" {
		t.Errorf("FetchDefinition = %q, %v", got, err)
	}
	if _, err := client.FetchDefinition(ctx, "xyzzy"); !errors.Is(err, blogapi.ErrNotFound) {
		t.Errorf("unknown word err = %v", err)
	}
}

func TestRenderMarkdown(t *testing.T) {
	got := RenderMarkdown("# Title\n\nSome <text>.\n\n- one\n- two\n\n![pic](img/a.png)")
	want := "<h1>Title</h1>\n<p>Some &lt;text&gt;.</p>\n<ul>\n<li>one</li>\n<li>two</li>\n</ul>\n<p><img src=\"img/a.png\" alt=\"pic\"/></p>\n"
	if got != want {
		t.Errorf("RenderMarkdown =\n%s\nwant\n%s", got, want)
	}
}

func TestWithErrorMode(t *testing.T) {
	s := New(WithErrorMode(http.StatusInternalServerError))
	defer s.Close()

	client := blogapi.NewClient(s.URL, s.URL, blogapi.WithRetry(blogapi.RetryConfig{MaxAttempts: 1}))
	_, err := client.FetchTree(context.Background())
	var se *blogapi.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusInternalServerError {
		t.Errorf("err = %v", err)
	}
}

func TestSetEndpointError(t *testing.T) {
	s := New(WithEndpointError(Define, http.StatusNotFound), WithDefinition("word", "w"))
	defer s.Close()
	client := blogapi.NewClient(s.URL, s.URL)

	if _, err := client.FetchDefinition(context.Background(), "word"); !errors.Is(err, blogapi.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
	s.SetEndpointError(Define, 0)
	if got, err := client.FetchDefinition(context.Background(), "word"); err != nil || got != "w" {
		t.Errorf("after clearing: %q, %v", got, err)
	}
}

func TestWithDelayHonorsCancel(t *testing.T) {
	s := New(WithDelay(Trees, 5*time.Second))
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := blogapi.NewClient(s.URL, s.URL).FetchTree(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("request was not aborted")
	}
}

func TestRequestHookAndResetCounts(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	s := New(WithRequestHook(func(r *http.Request) {
		mu.Lock()
		seen = append(seen, r.URL.Path)
		mu.Unlock()
	}))
	defer s.Close()

	blogapi.NewClient(s.URL, s.URL).FetchTree(context.Background())
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != "/trees/master" {
		t.Errorf("hook saw %v", seen)
	}
	s.ResetCounts()
	if s.Count(Trees) != 0 {
		t.Error("ResetCounts did not reset")
	}
}
