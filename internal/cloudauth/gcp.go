package cloudauth

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// GCPOAuthTransport decorates an http.RoundTripper with a GCP OAuth2
// bearer token resolved through Application Default Credentials. The
// Vertex hosting mode wraps the model client's transport with it.
// Token refresh is handled by the cached token source.
type GCPOAuthTransport struct {
	base   http.RoundTripper
	source oauth2.TokenSource
}

// NewGCPOAuthTransport resolves ADC for the given scopes and returns the
// wrapping transport. A nil base falls back to http.DefaultTransport.
func NewGCPOAuthTransport(ctx context.Context, base http.RoundTripper, scopes ...string) (*GCPOAuthTransport, error) {
	creds, err := google.FindDefaultCredentials(ctx, scopes...)
	if err != nil {
		return nil, fmt.Errorf("cloudauth: find GCP credentials: %w", err)
	}
	return &GCPOAuthTransport{
		base:   base,
		source: oauth2.ReuseTokenSource(nil, creds.TokenSource),
	}, nil
}

// newGCPOAuthTransportFromSource bypasses ADC resolution so tests can
// supply a canned token source.
func newGCPOAuthTransportFromSource(base http.RoundTripper, ts oauth2.TokenSource) *GCPOAuthTransport {
	return &GCPOAuthTransport{
		base:   base,
		source: oauth2.ReuseTokenSource(nil, ts),
	}
}

// RoundTrip sets the Authorization header on a clone of the request, so
// the caller's request is never mutated.
func (t *GCPOAuthTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	tok, err := t.source.Token()
	if err != nil {
		return nil, fmt.Errorf("cloudauth: obtain GCP token: %w", err)
	}
	r2 := r.Clone(r.Context())
	r2.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	return t.getBase().RoundTrip(r2)
}

func (t *GCPOAuthTransport) getBase() http.RoundTripper {
	if t.base != nil {
		return t.base
	}
	return http.DefaultTransport
}
