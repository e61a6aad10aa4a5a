package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"
)

// Request describes one API call.
type Request struct {
	Method string
	// Path is resolved against the client base URL. Absolute URLs are used
	// as is.
	Path   string
	Params url.Values
	// Body is sent as JSON. A []byte is sent verbatim.
	Body   any
	Header http.Header

	// NoCache skips the response cache for this GET.
	NoCache bool
	// CacheTTL overrides the default cache TTL for this GET.
	CacheTTL time.Duration
}

// Response is a fully read API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Cached is set when the body came from the response cache.
	Cached   bool
	Metadata Metadata
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Metadata travels with a request through retries and the auth retry. It
// is never persisted.
type Metadata struct {
	RequestID        string
	StartTime        time.Time
	RetryCount       int
	RefreshAttempted bool

	retriesBeforeSend int
}

type metadataKey struct{}

func withMetadata(ctx context.Context, m *Metadata) context.Context {
	return context.WithValue(ctx, metadataKey{}, m)
}

// MetadataFrom returns the metadata of the request carried by ctx.
func MetadataFrom(ctx context.Context) (*Metadata, bool) {
	m, ok := ctx.Value(metadataKey{}).(*Metadata)
	return m, ok
}
