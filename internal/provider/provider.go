// Package provider contains shared plumbing for upstream model endpoints:
// a tuned HTTP transport with DNS caching and the common API error type.
package provider

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/dnscache"
)

// NewTransport returns a tuned *http.Transport with connection pooling and
// optional DNS caching for the upstream endpoint.
func NewTransport(resolver *dnscache.Resolver) *http.Transport {
	t := &http.Transport{
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     200,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	if resolver != nil {
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		}
	}
	return t
}

// APIError represents an error response from the upstream model endpoint.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

// Error returns a formatted error string including provider, status, and body.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
}

// HTTPStatus returns the HTTP status code of the upstream response.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// ParseAPIError reads up to 4KB from the response body and returns an APIError.
func ParseAPIError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{Provider: provider, StatusCode: resp.StatusCode, Body: string(body)}
}
