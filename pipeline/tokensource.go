package pipeline

import (
	"context"

	"golang.org/x/oauth2"
)

// TokenSource returns an oauth2.TokenSource serving the stored token and
// refreshing through the coordinator once it has expired. It lets the
// session drive clients built on golang.org/x/oauth2.
func (c *Client) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, c: c}
}

type tokenSource struct {
	ctx context.Context
	c   *Client
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	if pair, ok := ts.c.store.Read(ts.ctx); ok && ts.c.cfg.Clock.IsValid(pair.AccessToken) {
		return pair.OAuth2(), nil
	}
	pair, err := ts.c.refresher.Refresh(ts.ctx)
	if err != nil {
		return nil, err
	}
	return pair.OAuth2(), nil
}
