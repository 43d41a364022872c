package blogapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"blog-mirror/logging"
	"blog-mirror/metrics"

	"go.uber.org/zap"
)

// maxErrorBody bounds how much of an error response is kept in StatusError.
const maxErrorBody = 512

// Client talks to the Git-object content API and the NLP API.
type Client struct {
	apiRoot    string
	nlpRoot    string
	apiAuth    string
	nlpAuth    string
	branch     string
	retry      RetryConfig
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithAuthorization sets the Authorization header values sent to the
// content API and the NLP API. Empty values send no header.
func WithAuthorization(api, nlp string) Option {
	return func(c *Client) {
		c.apiAuth = api
		c.nlpAuth = nlp
	}
}

// WithBranch selects the tree to list. The default is "master".
func WithBranch(branch string) Option {
	return func(c *Client) {
		if branch != "" {
			c.branch = branch
		}
	}
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetry replaces the retry policy.
func WithRetry(cfg RetryConfig) Option {
	return func(c *Client) {
		c.retry = cfg
	}
}

// NewClient creates a client for the given API roots.
func NewClient(apiRoot, nlpRoot string, opts ...Option) *Client {
	c := &Client{
		apiRoot: strings.TrimRight(apiRoot, "/"),
		nlpRoot: strings.TrimRight(nlpRoot, "/"),
		branch:  "master",
		retry:   DefaultRetryConfig(),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TreeEntry is one item of a recursive Git tree listing.
type TreeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode,omitempty"`
	Type string `json:"type"` // "blob" or "tree"
	SHA  string `json:"sha"`
	Size int64  `json:"size,omitempty"`
}

// TreeListing is the response of the recursive tree endpoint.
type TreeListing struct {
	SHA       string      `json:"sha"`
	Tree      []TreeEntry `json:"tree"`
	Truncated bool        `json:"truncated,omitempty"`
}

// Blob is the response of the blob endpoint.
type Blob struct {
	SHA      string `json:"sha"`
	Size     int64  `json:"size,omitempty"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// Decode returns the blob content as text.
func (b Blob) Decode() (string, error) {
	switch strings.ToLower(b.Encoding) {
	case "base64":
		// The API wraps base64 content at 60 columns.
		clean := strings.NewReplacer("\n", "", "\r", "").Replace(b.Content)
		data, err := base64.StdEncoding.DecodeString(clean)
		if err != nil {
			return "", malformed("decode blob "+b.SHA, err)
		}
		return string(data), nil
	case "utf-8", "utf8", "":
		return b.Content, nil
	default:
		return "", fmt.Errorf("%w: blob %s has unknown encoding %q", ErrMalformed, b.SHA, b.Encoding)
	}
}

// request describes one HTTP call. body is re-read on every attempt.
type request struct {
	endpoint    string // label used in logs and metrics
	method      string
	url         string
	auth        string
	contentType string
	accept      string
	body        []byte
}

// do performs req with retries and returns the response body of a 2xx
// response.
func (c *Client) do(ctx context.Context, req request) ([]byte, error) {
	return withRetry(ctx, c.retry, func() ([]byte, error) {
		return c.doOnce(ctx, req)
	})
}

func (c *Client) doOnce(ctx context.Context, req request) ([]byte, error) {
	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	httpReq.Header.Set("Accept", req.accept)
	if req.auth != "" {
		httpReq.Header.Set("Authorization", req.auth)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.RecordTransport(req.endpoint, 0, time.Since(start))
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", req.endpoint, ctx.Err())
		}
		return nil, retryableError{fmt.Errorf("%w: %s: failed to send request: %v", ErrTransport, req.endpoint, err)}
	}
	defer resp.Body.Close()
	metrics.RecordTransport(req.endpoint, resp.StatusCode, time.Since(start))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", req.endpoint, ctx.Err())
		}
		return nil, retryableError{fmt.Errorf("%w: %s: failed to read response body: %v", ErrTransport, req.endpoint, err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(data)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		serr := &StatusError{Endpoint: req.endpoint, StatusCode: resp.StatusCode, Body: snippet}
		logging.WithContext(ctx).Debug("API error",
			zap.String("endpoint", req.endpoint),
			zap.Int("status", resp.StatusCode),
		)
		if serr.retryable() {
			return nil, retryableError{serr}
		}
		return nil, serr
	}
	return data, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	data, err := c.do(ctx, request{
		endpoint:    endpoint,
		method:      http.MethodPost,
		url:         c.nlpRoot + "/" + endpoint,
		auth:        c.nlpAuth,
		contentType: "application/json",
		accept:      "application/json, */*",
		body:        body,
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return malformed("decode "+endpoint+" response", err)
	}
	return nil
}

// FetchTree lists the whole content tree recursively.
func (c *Client) FetchTree(ctx context.Context) (TreeListing, error) {
	data, err := c.do(ctx, request{
		endpoint: "trees",
		method:   http.MethodGet,
		url:      fmt.Sprintf("%s/trees/%s?recursive=1", c.apiRoot, url.PathEscape(c.branch)),
		auth:     c.apiAuth,
		accept:   "application/json, */*",
	})
	if err != nil {
		return TreeListing{}, err
	}
	var listing TreeListing
	if err := json.Unmarshal(data, &listing); err != nil {
		return TreeListing{}, malformed("decode tree listing", err)
	}
	if listing.Tree == nil {
		return TreeListing{}, fmt.Errorf("%w: tree listing has no \"tree\" field", ErrMalformed)
	}
	return listing, nil
}

// FetchBlob retrieves one blob by content identifier.
func (c *Client) FetchBlob(ctx context.Context, sha string) (Blob, error) {
	data, err := c.do(ctx, request{
		endpoint: "blobs",
		method:   http.MethodGet,
		url:      c.apiRoot + "/blobs/" + url.PathEscape(sha),
		auth:     c.apiAuth,
		accept:   "application/json, */*",
	})
	if err != nil {
		return Blob{}, err
	}
	var blob Blob
	if err := json.Unmarshal(data, &blob); err != nil {
		return Blob{}, malformed("decode blob "+sha, err)
	}
	if blob.SHA == "" {
		blob.SHA = sha
	}
	return blob, nil
}

// RenderMarkdown converts markdown to HTML on the NLP service.
func (c *Client) RenderMarkdown(ctx context.Context, raw string) (string, error) {
	data, err := c.do(ctx, request{
		endpoint:    "mdToHtml",
		method:      http.MethodPost,
		url:         c.nlpRoot + "/mdToHtml",
		auth:        c.nlpAuth,
		contentType: "text/plain",
		accept:      "text/html, text/plain, */*",
		body:        []byte(raw),
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

type entitiesRequest struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

// FetchEntities extracts entities of the given kind ("places",
// "organizations", "topics" or "people") from text. The result is the raw
// extraction; filtering happens in the annotation pipeline.
func (c *Client) FetchEntities(ctx context.Context, text, kind string) ([]string, error) {
	var out []string
	if err := c.postJSON(ctx, "compromise", entitiesRequest{Text: text, Type: kind}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Tokenize splits text into tokens for sentiment analysis.
func (c *Client) Tokenize(ctx context.Context, text string) ([]string, error) {
	var out []string
	if err := c.postJSON(ctx, "tokenize", struct {
		Text string `json:"text"`
	}{text}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchSentiment scores a token sequence. The score is nominally in
// [-1, 1] but is returned unclamped.
func (c *Client) FetchSentiment(ctx context.Context, tokens []string) (float64, error) {
	var out float64
	if err := c.postJSON(ctx, "sentiment", struct {
		Tokens []string `json:"tokens"`
	}{tokens}, &out); err != nil {
		return 0, err
	}
	return out, nil
}

// FetchDefinition looks up a dictionary definition for word.
func (c *Client) FetchDefinition(ctx context.Context, word string) (string, error) {
	data, err := c.do(ctx, request{
		endpoint: "define",
		method:   http.MethodGet,
		url:      c.nlpRoot + "/define?word=" + url.QueryEscape(word),
		auth:     c.nlpAuth,
		accept:   "text/plain, */*",
	})
	if err != nil {
		return "", err
	}
	def := strings.TrimSpace(string(data))
	if def == "" {
		return "", fmt.Errorf("definition of %q: %w", word, ErrNotFound)
	}
	return def, nil
}
