package tree

import (
	"errors"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"blog-mirror/blogapi"
)

func sampleListing() blogapi.TreeListing {
	return blogapi.TreeListing{
		SHA: "root",
		Tree: []blogapi.TreeEntry{
			{Path: "a", Type: "tree", SHA: "t-a"},
			{Path: "a/post.md", Type: "blob", SHA: "b1", Size: 100},
			{Path: "a/zeta.md", Type: "blob", SHA: "b2", Size: 10},
			{Path: "a/b", Type: "tree", SHA: "t-ab"},
			{Path: "a/b/deep.md", Type: "blob", SHA: "b3", Size: 10},
			{Path: "c", Type: "tree", SHA: "t-c"},
			{Path: "intro.md", Type: "blob", SHA: "b4", Size: 10},
			{Path: ".github", Type: "tree", SHA: "t-gh"},
			{Path: ".github/workflow.yml", Type: "blob", SHA: "b5", Size: 10},
			{Path: "LICENSE", Type: "blob", SHA: "b6", Size: 10},
			{Path: "v1.2", Type: "tree", SHA: "t-v"},
			{Path: "a/huge.md", Type: "blob", SHA: "b7", Size: DefaultMaxFileSize + 1},
		},
	}
}

func TestChildrenOfMixedTree(t *testing.T) {
	idx := Build(FromListing(blogapi.TreeListing{Tree: []blogapi.TreeEntry{
		{Path: "a", Type: "tree", SHA: "t1"},
		{Path: "a/post.md", Type: "blob", SHA: "b1", Size: 100},
	}}))
	if got := idx.ChildrenOf("/a", File); !reflect.DeepEqual(got, []string{"post.md"}) {
		t.Errorf("ChildrenOf(/a, File) = %v", got)
	}
	if got := idx.ChildrenOf("/", Directory); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("ChildrenOf(/, Directory) = %v", got)
	}
}

func TestFromListingFilters(t *testing.T) {
	nodes := FromListing(sampleListing())
	var paths []string
	for _, n := range nodes {
		paths = append(paths, n.Path)
	}
	got := strings.Join(paths, ",")
	for _, unwanted := range []string{"/LICENSE", "/v1.2", ".github,"} {
		if strings.Contains(got+",", unwanted) {
			t.Errorf("FromListing kept %s: %s", unwanted, got)
		}
	}
	if !strings.Contains(got, "/a/post.md") {
		t.Errorf("FromListing dropped /a/post.md: %s", got)
	}
}

func TestBuild(t *testing.T) {
	idx := Build(FromListing(sampleListing()))

	tests := []struct {
		path string
		kind Kind
		want []string
	}{
		{"/", Directory, []string{"a", "c"}},
		{"/", File, []string{"intro.md"}},
		{"/a", File, []string{"post.md", "zeta.md"}},
		{"/a/", File, []string{"post.md", "zeta.md"}},
		{"/a", Directory, []string{"b"}},
		{"/a/b", File, []string{"deep.md"}},
		{"/c", File, []string{}},
		{"/missing", Directory, []string{}},
	}
	for _, tt := range tests {
		got := idx.ChildrenOf(tt.path, tt.kind)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ChildrenOf(%q, %v) = %v, want %v", tt.path, tt.kind, got, tt.want)
		}
	}

	if _, ok := idx.File("/a/huge.md"); ok {
		t.Error("oversized file admitted")
	}
	if _, ok := idx.File("/.github/workflow.yml"); ok {
		t.Error("dot-prefixed file admitted")
	}
	if n, ok := idx.File("/a/post.md"); !ok || n.SHA != "b1" || n.Kind != File {
		t.Errorf("File(/a/post.md) = %+v, %v", n, ok)
	}
	if !idx.HasDir("/") || !idx.HasDir("/a/b") || idx.HasDir("/a/post.md") {
		t.Error("HasDir misclassified")
	}
	if dirs, files := idx.Len(); dirs != 3 || files != 4 {
		t.Errorf("Len = %d, %d", dirs, files)
	}
}

func TestBuildSkipsMalformed(t *testing.T) {
	idx := Build([]Node{
		{Path: "", SHA: "x"},
		{Path: "/a/no-sha.md"},
		{Path: "/a/ok.md", SHA: "s"},
		{Path: "/", SHA: "root"},
	})
	if got := idx.Files(); !reflect.DeepEqual(got, []string{"/a/ok.md"}) {
		t.Errorf("Files = %v", got)
	}
}

func TestBuildClassifiesUnknownByExtension(t *testing.T) {
	idx := Build([]Node{
		{Path: "/notes", SHA: "1"},
		{Path: "/notes/today.md", SHA: "2"},
	})
	if _, ok := idx.Dir("/notes"); !ok {
		t.Error("/notes should be a directory")
	}
	if _, ok := idx.File("/notes/today.md"); !ok {
		t.Error("/notes/today.md should be a file")
	}
}

func TestWithMaxFileSize(t *testing.T) {
	idx := Build([]Node{{Path: "/x.md", SHA: "1", Size: 11}}, WithMaxFileSize(10))
	if _, ok := idx.File("/x.md"); ok {
		t.Error("file above custom limit admitted")
	}
}

func TestBuildIdempotent(t *testing.T) {
	nodes := FromListing(sampleListing())
	a, b := Build(nodes), Build(nodes)
	for _, p := range append([]string{"/"}, a.Dirs()...) {
		for _, k := range []Kind{Directory, File} {
			if !reflect.DeepEqual(a.ChildrenOf(p, k), b.ChildrenOf(p, k)) {
				t.Errorf("ChildrenOf(%q, %v) differs between builds", p, k)
			}
		}
	}
}

func TestChildrenOfReturnsCopy(t *testing.T) {
	idx := Build(FromListing(sampleListing()))
	got := idx.ChildrenOf("/a", File)
	got[0] = "mutated"
	if idx.ChildrenOf("/a", File)[0] != "post.md" {
		t.Error("ChildrenOf exposed internal slice")
	}
}

func TestRandomPost(t *testing.T) {
	idx := Build(FromListing(sampleListing()))
	r := rand.New(rand.NewSource(1))
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		p, err := idx.RandomPost(r)
		if err != nil {
			t.Fatalf("RandomPost: %v", err)
		}
		if strings.Count(p, "/") > 2 {
			t.Fatalf("RandomPost returned %q, deeper than one category", p)
		}
		seen[p] = true
	}
	if seen["/a/b/deep.md"] {
		t.Error("deep post selected")
	}
	if len(seen) != 3 {
		t.Errorf("expected all 3 eligible posts to be picked, got %v", seen)
	}
}

func TestRandomPostEmpty(t *testing.T) {
	idx := Build([]Node{{Path: "/a/b/c/deep.md", SHA: "1"}})
	if _, err := idx.RandomPost(nil); !errors.Is(err, ErrNoEligiblePost) {
		t.Errorf("err = %v, want ErrNoEligiblePost", err)
	}
}

func TestSearch(t *testing.T) {
	idx := Build(FromListing(sampleListing()))
	got := idx.Search("deep", 0)
	if len(got) == 0 || got[0] != "/a/b/deep.md" {
		t.Errorf("Search(deep) = %v", got)
	}
	if got := idx.Search("md", 2); len(got) != 2 {
		t.Errorf("Search limit not applied: %v", got)
	}
	if got := idx.Search("qqqq", 0); len(got) != 0 {
		t.Errorf("Search(qqqq) = %v", got)
	}
}
