package anaf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/teresa-solution/fiscal-compliance-service/internal/errs"
	"github.com/teresa-solution/fiscal-compliance-service/internal/monitoring"
	"github.com/teresa-solution/fiscal-compliance-service/internal/ratelimit"
)

const defaultTokenLifetime = time.Hour

// TokenGrant is the result of a code exchange or refresh.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
	Scope        string
}

// AuthCodeURL returns the authorize redirect for state.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("token_content_type", "jwt"))
}

// Exchange trades an authorization code for tokens.
func (c *Client) Exchange(ctx context.Context, code string) (*TokenGrant, error) {
	if err := c.limiter.Allow(ratelimit.ANAF, ratelimit.OpToken); err != nil {
		return nil, err
	}
	start := time.Now()
	tok, err := c.oauth.Exchange(c.oauthContext(ctx), code, oauth2.SetAuthURLParam("token_content_type", "jwt"))
	monitoring.AuthorityRequestDuration.WithLabelValues(ratelimit.OpToken).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, c.tokenError(err)
	}
	monitoring.AuthorityRequests.WithLabelValues(ratelimit.OpToken, "ok").Inc()
	return c.grant(tok), nil
}

// Refresh runs the refresh-token grant.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenGrant, error) {
	if err := c.limiter.Allow(ratelimit.ANAF, ratelimit.OpToken); err != nil {
		return nil, err
	}
	start := time.Now()
	// An empty access token forces the source to hit the token endpoint.
	src := c.oauth.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	monitoring.AuthorityRequestDuration.WithLabelValues(ratelimit.OpToken).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, c.tokenError(err)
	}
	monitoring.AuthorityRequests.WithLabelValues(ratelimit.OpToken, "ok").Inc()
	return c.grant(tok), nil
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

func (c *Client) grant(tok *oauth2.Token) *TokenGrant {
	g := &TokenGrant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    expiresIn(tok, c.clock.Now()),
		Scope:        Scope,
	}
	if s, ok := tok.Extra("scope").(string); ok && s != "" {
		g.Scope = s
	}
	return g
}

// expiresIn prefers the raw expires_in field so expiry is computed against
// the injected clock rather than the library's wall clock.
func expiresIn(tok *oauth2.Token, now time.Time) time.Duration {
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		return time.Duration(v) * time.Second
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return time.Duration(n) * time.Second
		}
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	if !tok.Expiry.IsZero() {
		if d := tok.Expiry.Sub(now); d > 0 {
			return d
		}
	}
	return defaultTokenLifetime
}

func (c *Client) tokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		switch code := re.Response.StatusCode; {
		case code == http.StatusTooManyRequests:
			monitoring.AuthorityRequests.WithLabelValues(ratelimit.OpToken, "rate_limited").Inc()
			return &errs.RateLimitedError{
				Integration: ratelimit.ANAF,
				Operation:   ratelimit.OpToken,
				RetryAfter:  retryAfter(re.Response.Header.Get("Retry-After"), c.clock.Now()),
			}
		case re.ErrorCode != "":
			monitoring.AuthorityRequests.WithLabelValues(ratelimit.OpToken, "rejected").Inc()
			msg := re.ErrorCode
			if re.ErrorDescription != "" {
				msg += ": " + re.ErrorDescription
			}
			return &errs.AuthorityRejectedError{Messages: []string{msg}}
		default:
			monitoring.AuthorityRequests.WithLabelValues(ratelimit.OpToken, "http_error").Inc()
			return &errs.TransportError{Op: ratelimit.OpToken, StatusCode: code, Err: fmt.Errorf("%s", snippet(re.Body))}
		}
	}
	monitoring.AuthorityRequests.WithLabelValues(ratelimit.OpToken, "transport_error").Inc()
	return &errs.TransportError{Op: ratelimit.OpToken, Err: err}
}
