// Package mockserver provides a fake content and NLP API for testing.
//
// One server answers both roots: the Git tree and blob endpoints of the
// content API and the mdToHtml, compromise, tokenize, sentiment and define
// endpoints of the NLP API.
//
// Usage:
//
//	s := mockserver.New(
//		mockserver.WithPost("/travel/paris.md", "# Paris\n\nParis is lovely."),
//		mockserver.WithEntities("places", []string{"Paris"}),
//	)
//	defer s.Close()
//	client := blogapi.NewClient(s.URL, s.URL)
package mockserver

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"blog-mirror/blogapi"
)

// Endpoint names used by Count and the per-endpoint options.
const (
	Trees      = "trees"
	Blobs      = "blobs"
	MdToHTML   = "mdToHtml"
	Compromise = "compromise"
	Tokenize   = "tokenize"
	Sentiment  = "sentiment"
	Define     = "define"
)

var endpoints = []string{Trees, Blobs, MdToHTML, Compromise, Tokenize, Sentiment, Define}

// Server wraps an httptest.Server with a preconfigured fake backend.
type Server struct {
	*httptest.Server

	counts map[string]*int32

	mu          sync.RWMutex
	dirs        map[string]bool
	posts       map[string]string // path -> markdown
	extra       []blogapi.TreeEntry
	entities    map[string][]string
	sentiment   float64
	definitions map[string]string
	delays      map[string]time.Duration
	failures    map[string]int

	// errorMode, if set, is returned by every endpoint.
	errorMode int

	// requestHook, if set, is called on every request before routing.
	requestHook func(r *http.Request)
}

// Option configures a mock server.
type Option func(*Server)

// WithPost registers a post at path (absolute, e.g. "/a/post.md") with
// markdown content. Parent categories are created implicitly.
func WithPost(path, markdown string) Option {
	return func(s *Server) {
		s.setPostLocked(path, markdown)
	}
}

// WithCategory registers an empty category.
func WithCategory(path string) Option {
	return func(s *Server) {
		s.addDirLocked(strings.Trim(path, "/"))
	}
}

// WithTreeEntry adds a raw entry to the tree listing, e.g. a non-content
// blob that the client is expected to ignore.
func WithTreeEntry(e blogapi.TreeEntry) Option {
	return func(s *Server) {
		s.extra = append(s.extra, e)
	}
}

// WithEntities sets the raw entities returned for kind.
func WithEntities(kind string, entities []string) Option {
	return func(s *Server) {
		s.entities[kind] = entities
	}
}

// WithSentiment sets the score returned by the sentiment endpoint.
func WithSentiment(score float64) Option {
	return func(s *Server) {
		s.sentiment = score
	}
}

// WithDefinition registers a dictionary definition. Unknown words get an
// empty 200 response.
func WithDefinition(word, definition string) Option {
	return func(s *Server) {
		s.definitions[strings.ToLower(word)] = definition
	}
}

// WithDelay makes endpoint sleep for d before answering. The sleep ends
// early when the client goes away.
func WithDelay(endpoint string, d time.Duration) Option {
	return func(s *Server) {
		s.delays[endpoint] = d
	}
}

// WithEndpointError makes endpoint answer with statusCode.
func WithEndpointError(endpoint string, statusCode int) Option {
	return func(s *Server) {
		s.failures[endpoint] = statusCode
	}
}

// WithErrorMode makes every endpoint return the given HTTP status code.
func WithErrorMode(statusCode int) Option {
	return func(s *Server) {
		s.errorMode = statusCode
	}
}

// WithRequestHook sets a callback invoked on every request before routing.
func WithRequestHook(h func(r *http.Request)) Option {
	return func(s *Server) {
		s.requestHook = h
	}
}

// New creates and starts a mock backend server.
func New(opts ...Option) *Server {
	s := &Server{
		counts:      make(map[string]*int32, len(endpoints)),
		dirs:        make(map[string]bool),
		posts:       make(map[string]string),
		entities:    make(map[string][]string),
		definitions: make(map[string]string),
		delays:      make(map[string]time.Duration),
		failures:    make(map[string]int),
	}
	for _, e := range endpoints {
		s.counts[e] = new(int32)
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handler))
	return s
}

// SHA returns the blob identifier the server assigns to content.
func SHA(content string) string {
	sum := sha1.Sum([]byte("blob " + content))
	return hex.EncodeToString(sum[:])
}

// SetPost adds or replaces a post while the server is running.
func (s *Server) SetPost(path, markdown string) {
	s.mu.Lock()
	s.setPostLocked(path, markdown)
	s.mu.Unlock()
}

// SetEndpointError changes the status returned by endpoint; 0 clears it.
func (s *Server) SetEndpointError(endpoint string, statusCode int) {
	s.mu.Lock()
	if statusCode == 0 {
		delete(s.failures, endpoint)
	} else {
		s.failures[endpoint] = statusCode
	}
	s.mu.Unlock()
}

func (s *Server) setPostLocked(path, markdown string) {
	p := strings.Trim(path, "/")
	s.posts[p] = markdown
	if i := strings.LastIndex(p, "/"); i > 0 {
		s.addDirLocked(p[:i])
	}
}

func (s *Server) addDirLocked(dir string) {
	for dir != "" {
		s.dirs[dir] = true
		i := strings.LastIndex(dir, "/")
		if i < 0 {
			return
		}
		dir = dir[:i]
	}
}

// Count returns the number of requests served by endpoint.
func (s *Server) Count(endpoint string) int32 {
	c, ok := s.counts[endpoint]
	if !ok {
		return 0
	}
	return atomic.LoadInt32(c)
}

// ResetCounts sets every endpoint counter to zero.
func (s *Server) ResetCounts() {
	for _, c := range s.counts {
		atomic.StoreInt32(c, 0)
	}
}

func (s *Server) handler(w http.ResponseWriter, r *http.Request) {
	if s.requestHook != nil {
		s.requestHook(r)
	}

	path := r.URL.Path
	var endpoint string
	switch {
	case strings.HasPrefix(path, "/trees/") && r.Method == http.MethodGet:
		endpoint = Trees
	case strings.HasPrefix(path, "/blobs/") && r.Method == http.MethodGet:
		endpoint = Blobs
	case path == "/mdToHtml" && r.Method == http.MethodPost:
		endpoint = MdToHTML
	case path == "/compromise" && r.Method == http.MethodPost:
		endpoint = Compromise
	case path == "/tokenize" && r.Method == http.MethodPost:
		endpoint = Tokenize
	case path == "/sentiment" && r.Method == http.MethodPost:
		endpoint = Sentiment
	case path == "/define" && r.Method == http.MethodGet:
		endpoint = Define
	default:
		http.NotFound(w, r)
		return
	}
	atomic.AddInt32(s.counts[endpoint], 1)

	s.mu.RLock()
	delay := s.delays[endpoint]
	status := s.failures[endpoint]
	s.mu.RUnlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if s.errorMode != 0 {
		status = s.errorMode
	}
	if status != 0 {
		w.WriteHeader(status)
		fmt.Fprintf(w, "mock error %d", status)
		return
	}

	switch endpoint {
	case Trees:
		s.serveTree(w)
	case Blobs:
		s.serveBlob(w, r, strings.TrimPrefix(path, "/blobs/"))
	case MdToHTML:
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, RenderMarkdown(string(body)))
	case Compromise:
		var req struct {
			Text string `json:"text"`
			Type string `json:"type"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.RLock()
		out := s.entities[req.Type]
		s.mu.RUnlock()
		if out == nil {
			out = []string{}
		}
		writeJSON(w, out)
	case Tokenize:
		var req struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, strings.Fields(req.Text))
	case Sentiment:
		s.mu.RLock()
		score := s.sentiment
		s.mu.RUnlock()
		writeJSON(w, score)
	case Define:
		s.mu.RLock()
		def := s.definitions[strings.ToLower(r.URL.Query().Get("word"))]
		s.mu.RUnlock()
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, def)
	}
}

func (s *Server) serveTree(w http.ResponseWriter) {
	s.mu.RLock()
	entries := make([]blogapi.TreeEntry, 0, len(s.dirs)+len(s.posts)+len(s.extra))
	for d := range s.dirs {
		entries = append(entries, blogapi.TreeEntry{Path: d, Mode: "040000", Type: "tree", SHA: SHA("tree " + d)})
	}
	for p, md := range s.posts {
		entries = append(entries, blogapi.TreeEntry{Path: p, Mode: "100644", Type: "blob", SHA: SHA(md), Size: int64(len(md))})
	}
	entries = append(entries, s.extra...)
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	writeJSON(w, blogapi.TreeListing{SHA: "root", Tree: entries})
}

func (s *Server) serveBlob(w http.ResponseWriter, r *http.Request, sha string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, md := range s.posts {
		if SHA(md) != sha {
			continue
		}
		// Wrapped at 60 columns like the real API.
		enc := base64.StdEncoding.EncodeToString([]byte(md))
		var b strings.Builder
		for len(enc) > 60 {
			b.WriteString(enc[:60])
			b.WriteByte('\n')
			enc = enc[60:]
		}
		b.WriteString(enc)
		writeJSON(w, blogapi.Blob{SHA: sha, Size: int64(len(md)), Content: b.String(), Encoding: "base64"})
		return
	}
	http.NotFound(w, r)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// RenderMarkdown is the server's markdown renderer. It understands ATX
// headings, "- " list items and images; every other line becomes a
// paragraph.
func RenderMarkdown(md string) string {
	var b strings.Builder
	inList := false
	closeList := func() {
		if inList {
			b.WriteString("</ul>\n")
			inList = false
		}
	}
	for _, block := range strings.Split(strings.ReplaceAll(md, "\r\n", "\n"), "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		for _, line := range strings.Split(block, "\n") {
			line = strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(line, "- "):
				if !inList {
					b.WriteString("<ul>\n")
					inList = true
				}
				fmt.Fprintf(&b, "<li>%s</li>\n", inline(line[2:]))
				continue
			case strings.HasPrefix(line, "#"):
				closeList()
				level := len(line) - len(strings.TrimLeft(line, "#"))
				if level > 6 {
					level = 6
				}
				fmt.Fprintf(&b, "<h%d>%s</h%d>\n", level, inline(strings.TrimSpace(line[level:])), level)
				continue
			}
			closeList()
			fmt.Fprintf(&b, "<p>%s</p>\n", inline(line))
		}
		closeList()
	}
	return b.String()
}

// inline escapes text and renders ![alt](src) images.
func inline(text string) string {
	if i := strings.Index(text, "!["); i >= 0 {
		if j := strings.Index(text[i:], "]("); j > 0 {
			if k := strings.Index(text[i+j:], ")"); k > 0 {
				alt := text[i+2 : i+j]
				src := text[i+j+2 : i+j+k]
				img := fmt.Sprintf(`<img src="%s" alt="%s"/>`, html.EscapeString(src), html.EscapeString(alt))
				return html.EscapeString(text[:i]) + img + inline(text[i+j+k+1:])
			}
		}
	}
	return html.EscapeString(text)
}
