package blogapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func fastRetry() Option {
	return WithRetry(RetryConfig{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond, Multiplier: 2})
}

func TestFetchTree(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trees/main" || r.URL.Query().Get("recursive") != "1" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "token abc" {
			t.Errorf("Authorization = %q", got)
		}
		w.Write([]byte(`{"sha":"root","tree":[{"path":"a","type":"tree","sha":"t1"},{"path":"a/post.md","type":"blob","sha":"b1","size":100}]}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, server.URL, WithBranch("main"), WithAuthorization("token abc", ""))
	listing, err := c.FetchTree(context.Background())
	if err != nil {
		t.Fatalf("FetchTree: %v", err)
	}
	if listing.SHA != "root" || len(listing.Tree) != 2 {
		t.Fatalf("listing = %+v", listing)
	}
	if e := listing.Tree[1]; e.Path != "a/post.md" || e.Type != "blob" || e.Size != 100 {
		t.Errorf("entry = %+v", e)
	}
}

func TestFetchTreeMalformed(t *testing.T) {
	for name, body := range map[string]string{
		"not json": `<html>`,
		"no tree":  `{"sha":"x"}`,
	} {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))
			defer server.Close()

			_, err := NewClient(server.URL, server.URL).FetchTree(context.Background())
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("err = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestFetchBlobAndDecode(t *testing.T) {
	content := base64.StdEncoding.EncodeToString([]byte("# Hello\n\nworld"))
	wrapped := content[:8] + "\n" + content[8:]
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/blobs/b1" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(Blob{SHA: "b1", Content: wrapped, Encoding: "base64"})
	}))
	defer server.Close()

	c := NewClient(server.URL, server.URL)
	blob, err := c.FetchBlob(context.Background(), "b1")
	if err != nil {
		t.Fatalf("FetchBlob: %v", err)
	}
	text, err := blob.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if text != "# Hello\n\nworld" {
		t.Errorf("text = %q", text)
	}

	_, err = c.FetchBlob(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("missing blob err = %v, want ErrNotFound", err)
	}
	var serr *StatusError
	if !errors.As(err, &serr) || serr.StatusCode != 404 {
		t.Errorf("expected StatusError 404, got %v", err)
	}
}

func TestBlobDecodeEncodings(t *testing.T) {
	if s, err := (Blob{Content: "plain", Encoding: "utf-8"}).Decode(); err != nil || s != "plain" {
		t.Errorf("utf-8: %q %v", s, err)
	}
	if _, err := (Blob{Content: "x", Encoding: "rot13"}).Decode(); !errors.Is(err, ErrMalformed) {
		t.Errorf("unknown encoding err = %v", err)
	}
	if _, err := (Blob{Content: "!!!", Encoding: "base64"}).Decode(); !errors.Is(err, ErrMalformed) {
		t.Errorf("bad base64 err = %v", err)
	}
}

func TestNLPEndpoints(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "nlp-key" {
			t.Errorf("%s Authorization = %q", r.URL.Path, got)
		}
		switch r.URL.Path {
		case "/mdToHtml":
			body, _ := io.ReadAll(r.Body)
			if ct := r.Header.Get("Content-Type"); ct != "text/plain" {
				t.Errorf("mdToHtml Content-Type = %q", ct)
			}
			w.Write([]byte("<p>" + string(body) + "</p>"))
		case "/compromise":
			var req entitiesRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.Type != "places" {
				t.Errorf("type = %q", req.Type)
			}
			w.Write([]byte(`["Paris","London"]`))
		case "/tokenize":
			w.Write([]byte(`["good","day"]`))
		case "/sentiment":
			var req struct {
				Tokens []string `json:"tokens"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			if len(req.Tokens) != 2 {
				t.Errorf("tokens = %v", req.Tokens)
			}
			w.Write([]byte(`0.5`))
		case "/define":
			if r.URL.Query().Get("word") == "nothing" {
				return
			}
			w.Write([]byte("a definition\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	ctx := context.Background()
	c := NewClient("http://unused.invalid", server.URL, WithAuthorization("", "nlp-key"))

	html, err := c.RenderMarkdown(ctx, "hi")
	if err != nil || html != "<p>hi</p>" {
		t.Errorf("RenderMarkdown = %q, %v", html, err)
	}
	ents, err := c.FetchEntities(ctx, "text", "places")
	if err != nil || len(ents) != 2 || ents[0] != "Paris" {
		t.Errorf("FetchEntities = %v, %v", ents, err)
	}
	toks, err := c.Tokenize(ctx, "good day")
	if err != nil || len(toks) != 2 {
		t.Errorf("Tokenize = %v, %v", toks, err)
	}
	score, err := c.FetchSentiment(ctx, toks)
	if err != nil || score != 0.5 {
		t.Errorf("FetchSentiment = %v, %v", score, err)
	}
	def, err := c.FetchDefinition(ctx, "word")
	if err != nil || def != "a definition" {
		t.Errorf("FetchDefinition = %q, %v", def, err)
	}
	if _, err := c.FetchDefinition(ctx, "nothing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty definition err = %v, want ErrNotFound", err)
	}
}

func TestRetryOnServerError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`["x"]`))
	}))
	defer server.Close()

	c := NewClient(server.URL, server.URL, fastRetry())
	if _, err := c.Tokenize(context.Background(), "x"); err != nil {
		t.Fatalf("Tokenize after retry: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("calls = %d, want 2", n)
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	c := NewClient(server.URL, server.URL, fastRetry())
	_, err := c.FetchTree(context.Background())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestRetryExhausted(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := NewClient(server.URL, server.URL, fastRetry())
	_, err := c.FetchTree(context.Background())
	if !errors.Is(err, ErrTransport) {
		t.Errorf("err = %v, want ErrTransport", err)
	}
	if !IsNegative(err) {
		t.Error("exhausted retries should be negative-cacheable")
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestContextCancelIsNotTransportFailure(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := NewClient(server.URL, server.URL).FetchTree(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if IsNegative(err) {
		t.Error("cancellation must not be negative-cached")
	}
}

func TestNetworkErrorIsTransport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewClient(url, url, WithRetry(RetryConfig{MaxAttempts: 1})).FetchTree(context.Background())
	if !errors.Is(err, ErrTransport) {
		t.Errorf("err = %v, want ErrTransport", err)
	}
}
