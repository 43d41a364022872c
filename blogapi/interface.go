package blogapi

import "context"

// Transport is the remote boundary of the mirror. Both Client and
// CachingClient implement it.
type Transport interface {
	// FetchTree lists the whole content tree.
	FetchTree(ctx context.Context) (TreeListing, error)

	// FetchBlob retrieves a post body by content identifier.
	FetchBlob(ctx context.Context, sha string) (Blob, error)

	// RenderMarkdown converts markdown to embeddable HTML.
	RenderMarkdown(ctx context.Context, raw string) (string, error)

	// FetchEntities extracts entities of one kind from text.
	FetchEntities(ctx context.Context, text, kind string) ([]string, error)

	// Tokenize splits text into tokens for FetchSentiment.
	Tokenize(ctx context.Context, text string) ([]string, error)

	// FetchSentiment scores a token sequence.
	FetchSentiment(ctx context.Context, tokens []string) (float64, error)

	// FetchDefinition looks up the definition of a word.
	FetchDefinition(ctx context.Context, word string) (string, error)
}

// Verify that Client implements Transport at compile time.
var _ Transport = (*Client)(nil)

// Verify that CachingClient implements Transport at compile time.
var _ Transport = (*CachingClient)(nil)
