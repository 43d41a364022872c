package blogapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func treeServer(t *testing.T, calls *int32, delay time.Duration) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if delay > 0 {
			time.Sleep(delay)
		}
		switch r.URL.Path {
		case "/trees/master":
			w.Write([]byte(`{"sha":"root","tree":[]}`))
		case "/blobs/b1":
			w.Write([]byte(`{"sha":"b1","content":"hi","encoding":"utf-8"}`))
		default:
			http.NotFound(w, r)
		}
	}))
}

// TestCachingClient_FetchTree_CachesResult verifies that repeated calls
// return the cached listing without hitting the backend.
func TestCachingClient_FetchTree_CachesResult(t *testing.T) {
	var calls int32
	server := treeServer(t, &calls, 0)
	defer server.Close()

	caching := NewCachingClient(NewClient(server.URL, server.URL), 5*time.Second)
	for i := 0; i < 3; i++ {
		if _, err := caching.FetchTree(context.Background()); err != nil {
			t.Fatalf("FetchTree #%d: %v", i, err)
		}
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected 1 backend call, got %d", n)
	}
}

// TestCachingClient_FetchTree_CacheExpires verifies that cache entries expire.
func TestCachingClient_FetchTree_CacheExpires(t *testing.T) {
	var calls int32
	server := treeServer(t, &calls, 0)
	defer server.Close()

	caching := NewCachingClient(NewClient(server.URL, server.URL), 20*time.Millisecond)
	caching.FetchTree(context.Background())
	time.Sleep(40 * time.Millisecond)
	caching.FetchTree(context.Background())
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("expected 2 backend calls after expiry, got %d", n)
	}
}

func TestCachingClient_ZeroTTLDisablesCache(t *testing.T) {
	var calls int32
	server := treeServer(t, &calls, 0)
	defer server.Close()

	caching := NewCachingClient(NewClient(server.URL, server.URL), 0)
	caching.FetchTree(context.Background())
	caching.FetchTree(context.Background())
	caching.FetchBlob(context.Background(), "b1")
	caching.FetchBlob(context.Background(), "b1")
	if n := atomic.LoadInt32(&calls); n != 4 {
		t.Fatalf("expected 4 backend calls with caching disabled, got %d", n)
	}
}

// TestCachingClient_FetchTree_Coalesces verifies that concurrent misses
// result in a single backend request.
func TestCachingClient_FetchTree_Coalesces(t *testing.T) {
	var calls int32
	server := treeServer(t, &calls, 50*time.Millisecond)
	defer server.Close()

	caching := NewCachingClient(NewClient(server.URL, server.URL), time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := caching.FetchTree(context.Background()); err != nil {
				t.Errorf("FetchTree: %v", err)
			}
		}()
	}
	wg.Wait()
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected 1 coalesced backend call, got %d", n)
	}
}

func TestCachingClient_FetchBlob_CachedBySHA(t *testing.T) {
	var calls int32
	server := treeServer(t, &calls, 0)
	defer server.Close()

	caching := NewCachingClient(NewClient(server.URL, server.URL), time.Millisecond)
	for i := 0; i < 3; i++ {
		blob, err := caching.FetchBlob(context.Background(), "b1")
		if err != nil || blob.Content != "hi" {
			t.Fatalf("FetchBlob: %+v %v", blob, err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("blobs should not expire, got %d calls", n)
	}

	caching.InvalidateAll()
	caching.FetchBlob(context.Background(), "b1")
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("expected refetch after InvalidateAll, got %d calls", n)
	}
}

func TestCachingClient_InvalidateTree(t *testing.T) {
	var calls int32
	server := treeServer(t, &calls, 0)
	defer server.Close()

	caching := NewCachingClient(NewClient(server.URL, server.URL), time.Minute)
	caching.FetchTree(context.Background())
	caching.InvalidateTree()
	caching.FetchTree(context.Background())
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("expected 2 calls after InvalidateTree, got %d", n)
	}
}

func TestCachingClient_CallerCancelDoesNotFailOthers(t *testing.T) {
	var calls int32
	server := treeServer(t, &calls, 50*time.Millisecond)
	defer server.Close()

	caching := NewCachingClient(NewClient(server.URL, server.URL), time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := caching.FetchTree(ctx)
		errs <- err
	}()
	time.Sleep(10 * time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := caching.FetchTree(context.Background())
		done <- err
	}()
	cancel()

	if err := <-errs; err == nil {
		t.Error("canceled caller should get an error")
	}
	if err := <-done; err != nil {
		t.Errorf("other caller failed: %v", err)
	}
}
