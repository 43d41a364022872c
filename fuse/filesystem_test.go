package fuse

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"syscall"
	"testing"

	"blog-mirror/annotate"
	"blog-mirror/blogapi"
	"blog-mirror/cache"
	"blog-mirror/coord"
	"blog-mirror/mockserver"
	"blog-mirror/nav"
	"blog-mirror/testutil"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

func newBlog(opts ...mockserver.Option) *mockserver.Server {
	base := []mockserver.Option{
		mockserver.WithPost("/a/post.md", "# Hello\n\nParis is lovely."),
		mockserver.WithPost("/a/b/deep.md", "# Deep\n\nDown here."),
		mockserver.WithPost("/top.md", "# Top"),
		mockserver.WithEntities("places", []string{"Paris"}),
		mockserver.WithSentiment(0.5),
		mockserver.WithDefinition("lovely", "very pleasant"),
	}
	return mockserver.New(append(base, opts...)...)
}

// newFS builds an unmounted filesystem over s. load controls whether the
// tree is fetched.
func newFS(t *testing.T, s *mockserver.Server, load bool) (*FS, cache.Store) {
	t.Helper()
	client := blogapi.NewClient(s.URL, s.URL, blogapi.WithRetry(blogapi.RetryConfig{MaxAttempts: 1}))
	store := cache.NewMemory()
	n := nav.New(client, store, coord.New(), nav.WithPerResourceCoordination())
	f := NewFS(n, store)
	if load {
		if err := f.Load(context.Background()); err != nil {
			t.Fatalf("Load: %v", err)
		}
	}
	return f, store
}

func dirNames(t *testing.T, n fs.NodeReaddirer) []string {
	t.Helper()
	stream, errno := n.Readdir(context.Background())
	if errno != 0 {
		t.Fatalf("Readdir: %v", errno)
	}
	var names []string
	for stream.HasNext() {
		e, errno := stream.Next()
		if errno != 0 {
			t.Fatalf("Next: %v", errno)
		}
		names = append(names, e.Name)
	}
	return names
}

func TestRootReaddir(t *testing.T) {
	s := newBlog()
	defer s.Close()
	f, _ := newFS(t, s, true)

	got := dirNames(t, f)
	want := []string{"README.md", "define", "nlp", "posts", "raw"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("root = %v, want %v", got, want)
	}
}

func TestRootShowsLoadError(t *testing.T) {
	s := newBlog(mockserver.WithEndpointError(mockserver.Trees, http.StatusInternalServerError))
	defer s.Close()
	f, _ := newFS(t, s, false)
	if err := f.Load(context.Background()); err == nil {
		t.Fatal("Load succeeded against a failing backend")
	}

	got := dirNames(t, f)
	if len(got) == 0 || got[0] != "ERROR" {
		t.Errorf("root = %v, want ERROR first", got)
	}

	s.SetEndpointError(mockserver.Trees, 0)
	if err := f.Load(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	got = dirNames(t, f)
	for _, name := range got {
		if name == "ERROR" {
			t.Errorf("ERROR still listed after a successful load: %v", got)
		}
	}
}

func TestCategoryReaddir(t *testing.T) {
	s := newBlog()
	defer s.Close()
	f, _ := newFS(t, s, true)

	tests := []struct {
		view view
		path string
		want []fuse.DirEntry
	}{
		{viewHTML, "/", []fuse.DirEntry{{Name: "a", Mode: fuse.S_IFDIR}, {Name: "top.md", Mode: fuse.S_IFREG}}},
		{viewRaw, "/a", []fuse.DirEntry{{Name: "b", Mode: fuse.S_IFDIR}, {Name: "post.md", Mode: fuse.S_IFREG}}},
		{viewNLP, "/a", []fuse.DirEntry{{Name: "b", Mode: fuse.S_IFDIR}, {Name: "post.md", Mode: fuse.S_IFDIR}}},
	}
	for _, tt := range tests {
		t.Run(tt.view.String()+tt.path, func(t *testing.T) {
			c := &CategoryNode{fsys: f, view: tt.view, path: tt.path}
			stream, errno := c.Readdir(context.Background())
			if errno != 0 {
				t.Fatal(errno)
			}
			var got []fuse.DirEntry
			for stream.HasNext() {
				e, _ := stream.Next()
				got = append(got, fuse.DirEntry{Name: e.Name, Mode: e.Mode})
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCategoryReaddirBeforeLoad(t *testing.T) {
	s := newBlog()
	defer s.Close()
	f, _ := newFS(t, s, false)

	c := &CategoryNode{fsys: f, view: viewHTML, path: "/"}
	if got := dirNames(t, c); len(got) != 0 {
		t.Errorf("entries before load = %v", got)
	}
}

func readHandle(t *testing.T, fh fs.FileHandle) string {
	t.Helper()
	h, ok := fh.(*postHandle)
	if !ok {
		t.Fatalf("handle is %T", fh)
	}
	res, errno := h.Read(context.Background(), make([]byte, 4096), 0)
	if errno != 0 {
		t.Fatal(errno)
	}
	data, _ := res.Bytes(nil)
	return string(data)
}

func TestPostNodeOpen(t *testing.T) {
	s := newBlog()
	defer s.Close()
	f, _ := newFS(t, s, true)
	node, ok := f.nav.Index().File("/a/post.md")
	if !ok {
		t.Fatal("post missing from index")
	}

	html := &PostNode{fsys: f, view: viewHTML, node: node}
	fh, _, errno := html.Open(context.Background(), syscall.O_RDONLY)
	if errno != 0 {
		t.Fatal(errno)
	}
	if got := readHandle(t, fh); !strings.Contains(got, "<h1>Hello</h1>") {
		t.Errorf("posts view = %q", got)
	}
	var out fuse.AttrOut
	html.Getattr(context.Background(), fh, &out)
	if out.Size == 0 || out.Mode != fuse.S_IFREG|0444 {
		t.Errorf("attr = %+v", out.Attr)
	}

	raw := &PostNode{fsys: f, view: viewRaw, node: node}
	fh, _, errno = raw.Open(context.Background(), syscall.O_RDONLY)
	if errno != 0 {
		t.Fatal(errno)
	}
	if got := readHandle(t, fh); got != "# Hello\n\nParis is lovely." {
		t.Errorf("raw view = %q", got)
	}

	// Both views come from one cached fetch.
	if n := s.Count(mockserver.Blobs); n != 1 {
		t.Errorf("blob fetches = %d, want 1", n)
	}

	if _, _, errno := raw.Open(context.Background(), syscall.O_WRONLY); errno != syscall.EROFS {
		t.Errorf("Open(O_WRONLY) = %v, want EROFS", errno)
	}
}

func TestPostNodeOpenFailure(t *testing.T) {
	s := newBlog(mockserver.WithEndpointError(mockserver.Blobs, http.StatusBadGateway))
	defer s.Close()
	f, _ := newFS(t, s, true)
	node, _ := f.nav.Index().File("/top.md")

	p := &PostNode{fsys: f, view: viewHTML, node: node}
	if _, _, errno := p.Open(context.Background(), syscall.O_RDONLY); errno != syscall.EIO {
		t.Errorf("Open = %v, want EIO", errno)
	}
}

func TestDefineReaddir(t *testing.T) {
	s := newBlog()
	defer s.Close()
	f, store := newFS(t, s, true)
	ctx := context.Background()

	if _, err := f.nav.Define(ctx, "Lovely"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.nav.Define(ctx, "zzyzx"); err == nil {
		t.Fatal("unknown word was defined")
	}
	store.Put(ctx, "post::/a/post.md", []byte(`{}`), "")

	d := &DefineDirNode{fsys: f}
	got := dirNames(t, d)
	if !reflect.DeepEqual(got, []string{"lovely"}) {
		t.Errorf("define/ = %v, want [lovely]", got)
	}
}

func TestErrno(t *testing.T) {
	tests := []struct {
		err  error
		want syscall.Errno
	}{
		{nil, 0},
		{fmt.Errorf("x: %w", nav.ErrNotFound), syscall.ENOENT},
		{nav.ErrNotLoaded, syscall.ENOENT},
		{fmt.Errorf("blob: %w", blogapi.ErrNotFound), syscall.ENOENT},
		{coord.ErrCanceled, syscall.EINTR},
		{context.DeadlineExceeded, syscall.EINTR},
		{fmt.Errorf("fetch: %w", blogapi.ErrTransport), syscall.EIO},
		{cache.ErrNegative, syscall.EIO},
		{errors.New("other"), syscall.EIO},
	}
	for _, tt := range tests {
		if got := errno(tt.err); got != tt.want {
			t.Errorf("errno(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
	if got := defineErrno(cache.ErrNegative); got != syscall.ENOENT {
		t.Errorf("defineErrno(ErrNegative) = %v, want ENOENT", got)
	}
}

func TestSnapshot(t *testing.T) {
	score := -0.4
	results := map[annotate.Kind]annotate.Result{
		annotate.Places:    {Kind: annotate.Places, Entities: []string{"Paris"}},
		annotate.People:    {Kind: annotate.People, Negative: true},
		annotate.Sentiment: {Kind: annotate.Sentiment, Sentiment: &score},
	}
	doc := Snapshot(results, "One two three.")
	if got := doc["places"]; !reflect.DeepEqual(got, []string{"Paris"}) {
		t.Errorf("places = %v", got)
	}
	if got := doc["people"]; !reflect.DeepEqual(got, []string{}) {
		t.Errorf("people = %#v, want empty list", got)
	}
	if doc["sentiment"] != -0.4 || doc["label"] != annotate.SentimentLabel(-0.4) {
		t.Errorf("sentiment = %v, label = %v", doc["sentiment"], doc["label"])
	}
	if st := doc["stats"].(annotate.Stats); st.Words != 3 {
		t.Errorf("stats = %+v", st)
	}

	delete(results, annotate.Sentiment)
	results[annotate.Sentiment] = annotate.Result{Kind: annotate.Sentiment, Negative: true}
	doc = Snapshot(results, "")
	if _, ok := doc["sentiment"]; ok {
		t.Error("unknown sentiment is present")
	}
	if _, ok := doc["label"]; ok {
		t.Error("label present without sentiment")
	}
}

func TestMount(t *testing.T) {
	testutil.RequireFUSE(t)
	s := newBlog()
	defer s.Close()
	f, _ := newFS(t, s, true)
	m := testutil.StartMount(t, f, nil)
	read := func(rel string) string {
		t.Helper()
		data, err := os.ReadFile(filepath.Join(m.MountPoint, rel))
		if err != nil {
			t.Fatalf("read %s: %v", rel, err)
		}
		return string(data)
	}

	if got := read("README.md"); !strings.Contains(got, "posts/") {
		t.Errorf("README.md = %q", got)
	}
	if got := read("posts/a/post.md"); !strings.Contains(got, "<p>Paris is lovely.</p>") {
		t.Errorf("posts/a/post.md = %q", got)
	}
	if got := read("raw/a/b/deep.md"); got != "# Deep\n\nDown here." {
		t.Errorf("raw/a/b/deep.md = %q", got)
	}
	if got := read("nlp/a/post.md/places/0"); got != "Paris\n" {
		t.Errorf("places/0 = %q", got)
	}
	if got := read("nlp/a/post.md/label"); got != "positive\n" {
		t.Errorf("label = %q", got)
	}
	if got := read("define/lovely"); got != "very pleasant\n" {
		t.Errorf("define/lovely = %q", got)
	}

	entries, err := os.ReadDir(filepath.Join(m.MountPoint, "define"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "lovely" {
		t.Errorf("define/ = %v", entries)
	}

	for _, rel := range []string{"posts/nope.md", "posts/a/nope", "define/zzyzx", "ERROR", "nlp/a/missing.md"} {
		if _, err := os.Stat(filepath.Join(m.MountPoint, rel)); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("stat %s = %v, want not exist", rel, err)
		}
	}
	if err := os.WriteFile(filepath.Join(m.MountPoint, "posts/a/post.md"), []byte("x"), 0644); err == nil {
		t.Error("write to a post succeeded")
	}
}
