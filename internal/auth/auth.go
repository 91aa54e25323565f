// Package auth resolves caller identity for incoming requests. Opaque
// session tokens are validated against the store and cached in a
// W-TinyLFU cache; signed JWTs are verified locally without a store hit.
// Requests without credentials resolve to an anonymous identity keyed
// by network address.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/maypok86/otter/v2"

	warden "github.com/wardenlabs/warden/internal"
	"github.com/wardenlabs/warden/internal/storage"
)

const (
	defaultCacheTTL    = 30 * time.Second // short enough to pick up revocations promptly
	defaultCacheMaxLen = 10_000
)

// Resolver implements warden.Resolver. It is safe for concurrent use.
type Resolver struct {
	store  storage.SessionStore
	cache  *otter.Cache[string, *warden.Session]
	secret []byte
	limits func(warden.Tier) warden.TierLimits
}

// Options configures a Resolver.
type Options struct {
	JWTSecret    string // empty disables JWT verification
	CacheEntries int
	CacheTTL     time.Duration
	// Limits maps a tier to its effective limits. Required.
	Limits func(warden.Tier) warden.TierLimits
}

// New returns a Resolver backed by store.
func New(store storage.SessionStore, opts Options) (*Resolver, error) {
	if opts.Limits == nil {
		return nil, errors.New("auth: Limits lookup is required")
	}
	entries := opts.CacheEntries
	if entries <= 0 {
		entries = defaultCacheMaxLen
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	c, err := otter.New(&otter.Options[string, *warden.Session]{
		MaximumSize:      entries,
		ExpiryCalculator: otter.ExpiryWriting[string, *warden.Session](ttl),
	})
	if err != nil {
		return nil, fmt.Errorf("create auth cache: %w", err)
	}
	return &Resolver{
		store:  store,
		cache:  c,
		secret: []byte(opts.JWTSecret),
		limits: opts.Limits,
	}, nil
}

// Resolve extracts a Bearer token from the Authorization header and
// returns the caller's Identity. A missing header yields an anonymous
// identity; a present but invalid token is an error, never a silent
// downgrade to anonymous.
func (rs *Resolver) Resolve(ctx context.Context, r *http.Request) (*warden.Identity, error) {
	addr := clientAddr(r)

	header := r.Header.Get("Authorization")
	if header == "" {
		return rs.anonymous(addr), nil
	}
	raw := strings.TrimPrefix(header, "Bearer ")
	if raw == header || raw == "" {
		return nil, warden.ErrUnauthorized
	}

	if strings.HasPrefix(raw, warden.SessionTokenPrefix) {
		return rs.resolveSession(ctx, addr, raw)
	}
	if len(rs.secret) > 0 && strings.Count(raw, ".") == 2 {
		return rs.resolveJWT(addr, raw)
	}
	return nil, warden.ErrUnauthorized
}

func (rs *Resolver) anonymous(addr string) *warden.Identity {
	return &warden.Identity{
		Addr:   addr,
		Tier:   warden.TierAnonymous,
		Limits: rs.limits(warden.TierAnonymous),
	}
}

// resolveSession validates an opaque token against the session store.
func (rs *Resolver) resolveSession(ctx context.Context, addr, raw string) (*warden.Identity, error) {
	hash := warden.HashToken(raw)

	sess, ok := rs.cache.GetIfPresent(hash)
	if !ok {
		var err error
		sess, err = rs.store.GetSessionByTokenHash(ctx, hash)
		if err != nil {
			if errors.Is(err, warden.ErrNotFound) {
				return nil, warden.ErrUnauthorized
			}
			return nil, fmt.Errorf("%w: %w", warden.ErrStoreUnavailable, err)
		}
		rs.cache.Set(hash, sess)
	}

	if sess.Revoked {
		return nil, warden.ErrSessionRevoked
	}
	if sess.ExpiresAt != nil && sess.ExpiresAt.Before(time.Now()) {
		rs.cache.Invalidate(hash)
		return nil, warden.ErrSessionExpired
	}
	return rs.identity(addr, sess.Subject, sess.Tier), nil
}

// sessionClaims is the JWT claim set for signed session tokens.
type sessionClaims struct {
	Tier string `json:"tier,omitempty"`
	jwt.RegisteredClaims
}

// resolveJWT verifies an HMAC-signed token locally.
func (rs *Resolver) resolveJWT(addr, raw string) (*warden.Identity, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return rs.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, warden.ErrSessionExpired
		}
		return nil, warden.ErrUnauthorized
	}
	if claims.Subject == "" {
		return nil, warden.ErrUnauthorized
	}

	tier := warden.Tier(claims.Tier)
	if tier == "" {
		tier = warden.TierStandard
	}
	return rs.identity(addr, claims.Subject, tier), nil
}

func (rs *Resolver) identity(addr, subject string, tier warden.Tier) *warden.Identity {
	return &warden.Identity{
		Addr:    addr,
		Subject: subject,
		Tier:    tier,
		Limits:  rs.limits(tier),
	}
}

// Invalidate drops a cached session by token hash. Used after revocation.
func (rs *Resolver) Invalidate(tokenHash string) {
	rs.cache.Invalidate(tokenHash)
}

// clientAddr returns the request's network address without the port.
// X-Forwarded-For is deliberately ignored; trusting it would let callers
// mint fresh anonymous identities per request.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
