package pipeline

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// NewHTTPClient returns a pooled client enforcing TLS 1.2 or newer. timeout
// bounds each attempt; jar may be nil.
func NewHTTPClient(timeout time.Duration, jar http.CookieJar) *http.Client {
	t := cleanhttp.DefaultPooledTransport()
	t.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	return &http.Client{
		Transport: t,
		Timeout:   timeout,
		Jar:       jar,
	}
}

// Backoff returns the wait before the given retry (1-based):
// base * 2^(retry-1).
func Backoff(base time.Duration, retry int) time.Duration {
	if retry < 1 {
		return 0
	}
	return base << (retry - 1)
}

func isTransientStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

// checkRetry retries transient statuses and recoverable transport errors.
// Non-idempotent methods are only retried when allowed.
func checkRetry(allowed bool) retryablehttp.CheckRetry {
	return func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if !allowed {
			return false, nil
		}
		if err != nil {
			return retryablehttp.DefaultRetryPolicy(ctx, nil, err)
		}
		return isTransientStatus(resp.StatusCode), nil
	}
}

func backoff(base time.Duration) retryablehttp.Backoff {
	return func(_, _ time.Duration, attemptNum int, _ *http.Response) time.Duration {
		return Backoff(base, attemptNum+1)
	}
}

// countRetries records transient retries on the request metadata. The
// count carries over into the resend after a refresh.
func countRetries(_ retryablehttp.Logger, req *http.Request, attempt int) {
	if m, ok := MetadataFrom(req.Context()); ok {
		m.RetryCount = m.retriesBeforeSend + attempt
	}
}
