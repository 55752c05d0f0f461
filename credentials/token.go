package credentials

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const defaultTokenType = "Bearer"

// Token is an OAuth style credential. Expiry timestamps are absolute and
// derived from the TTLs at construction.
type Token struct {
	AccessToken         string    `json:"access_token"`
	RefreshToken        string    `json:"refresh_token,omitempty"`
	TokenType           string    `json:"token_type,omitempty"`
	Scope               string    `json:"scope,omitempty"`
	Expires             time.Time `json:"expires,omitzero"`
	RefreshTokenExpires time.Time `json:"refresh_token_expires,omitzero"`

	client GrantClient
	now    func() time.Time
}

// TokenResponse is the grant endpoint payload.
type TokenResponse struct {
	AccessToken           string
	RefreshToken          string
	TokenType             string
	Scope                 string
	ExpiresIn             int64
	RefreshTokenExpiresIn int64
}

// NewToken builds a Token from a grant response, resolving TTLs against now.
func NewToken(res TokenResponse, client GrantClient, now func() time.Time) *Token {
	if now == nil {
		now = defaultNow
	}
	issued := now()
	token := &Token{
		AccessToken:  strings.TrimSpace(res.AccessToken),
		RefreshToken: strings.TrimSpace(res.RefreshToken),
		TokenType:    normalizeTokenType(res.TokenType),
		Scope:        NormalizeScope(res.Scope),
		client:       client,
		now:          now,
	}
	if res.ExpiresIn > 0 {
		token.Expires = issued.Add(time.Duration(res.ExpiresIn) * time.Second)
	}
	if res.RefreshTokenExpiresIn > 0 {
		token.RefreshTokenExpires = issued.Add(time.Duration(res.RefreshTokenExpiresIn) * time.Second)
	}
	return token
}

func defaultNow() time.Time {
	return time.Now().UTC()
}

func normalizeTokenType(value string) string {
	value = strings.TrimSpace(value)
	if value == "" || strings.EqualFold(value, "bearer") {
		return defaultTokenType
	}
	return value
}

func (t *Token) bind(client GrantClient, now func() time.Time) *Token {
	if t == nil {
		return nil
	}
	t.client = client
	if now != nil {
		t.now = now
	}
	return t
}

func (t *Token) clock() time.Time {
	if t.now == nil {
		return defaultNow()
	}
	return t.now()
}

// String renders the authorization header value.
func (t *Token) String() string {
	if t == nil || t.AccessToken == "" {
		return ""
	}
	return normalizeTokenType(t.TokenType) + " " + t.AccessToken
}

func (t *Token) IsExpired() bool {
	if t == nil {
		return true
	}
	return !t.Expires.IsZero() && !t.clock().Before(t.Expires)
}

// CanRefresh reports whether a usable refresh token and grant client exist.
func (t *Token) CanRefresh() bool {
	if t == nil || t.client == nil || strings.TrimSpace(t.RefreshToken) == "" {
		return false
	}
	return t.RefreshTokenExpires.IsZero() || t.clock().Before(t.RefreshTokenExpires)
}

// Refresh exchanges the refresh token for a new Token. A response without a
// refresh token keeps the current one.
func (t *Token) Refresh(ctx context.Context) (*Token, error) {
	if !t.CanRefresh() {
		return nil, fmt.Errorf("credentials: token cannot be refreshed")
	}
	next, err := t.client.RefreshToken(ctx, t.RefreshToken)
	if err != nil {
		return nil, err
	}
	if next.RefreshToken == "" {
		next.RefreshToken = t.RefreshToken
		next.RefreshTokenExpires = t.RefreshTokenExpires
	}
	return next, nil
}

// Downscope derives a Token restricted to scope.
func (t *Token) Downscope(ctx context.Context, scope string) (*Token, error) {
	if t == nil || t.client == nil {
		return nil, fmt.Errorf("credentials: token cannot be downscoped")
	}
	scope = NormalizeScope(scope)
	if scope == "" {
		return nil, fmt.Errorf("credentials: downscope requires a scope")
	}
	return t.client.Downscope(ctx, t, scope)
}

// Revoke invalidates the access token at the grant server.
func (t *Token) Revoke(ctx context.Context) error {
	if t == nil || t.client == nil {
		return fmt.Errorf("credentials: token cannot be revoked")
	}
	return t.client.Revoke(ctx, t)
}
