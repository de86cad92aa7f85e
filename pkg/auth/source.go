package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource supplies the bearer token for the next connection attempt.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Invalidator is implemented by sources that cache tokens. The synchronizer calls
// Invalidate when the server rejects a token.
type Invalidator interface {
	Invalidate()
}

type StaticSource string

func (s StaticSource) Token(context.Context) (string, error) {
	return string(s), nil
}

type FetchFunc func(ctx context.Context) (string, error)

// CachingSource reuses a fetched token until Leeway before it expires, or until
// Invalidate is called. Tokens without a readable expiry are reused until
// invalidated.
type CachingSource struct {
	fetch  FetchFunc
	Leeway time.Duration
	now    func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewCachingSource(fetch FetchFunc) *CachingSource {
	return &CachingSource{fetch: fetch, Leeway: 30 * time.Second, now: time.Now}
}

func (c *CachingSource) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && (c.expires.IsZero() || c.now().Add(c.Leeway).Before(c.expires)) {
		return c.token, nil
	}
	tok, err := c.fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch token: %w", err)
	}
	c.token = tok
	c.expires = expiry(tok)
	return tok, nil
}

func (c *CachingSource) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expires = time.Time{}
}

// expiry reads the exp claim without verifying the signature; the client only
// needs it to decide when to refresh.
func expiry(token string) time.Time {
	rc := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, rc); err != nil || rc.ExpiresAt == nil {
		return time.Time{}
	}
	return rc.ExpiresAt.Time
}

// IssuerSource mints a fresh token per fetch. It is meant for local development
// where the client holds the relay secret.
func IssuerSource(i *Issuer, subject string, ttl time.Duration) *CachingSource {
	return NewCachingSource(func(context.Context) (string, error) {
		return i.Mint(subject, ttl)
	})
}
