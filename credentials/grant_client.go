package credentials

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-collab/core"
)

const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeClientCredentials = "client_credentials"
	GrantTypeScopeDowngrade    = "urn:cisco:oauth:grant-type:scope-downgrade"

	defaultGrantRequestTimeout = 30 * time.Second
)

// GrantClient performs the grant exchanges against the authorization server.
type GrantClient interface {
	AuthorizationCode(ctx context.Context, code string) (*Token, error)
	RefreshToken(ctx context.Context, refreshToken string) (*Token, error)
	ClientCredentials(ctx context.Context) (*Token, error)
	Downscope(ctx context.Context, token *Token, scope string) (*Token, error)
	Revoke(ctx context.Context, token *Token) error
}

type GrantConfig struct {
	TokenURL           string
	RevokeURL          string
	ClientID           string
	ClientSecret       string
	ClientSecretInBody bool
	RedirectURI        string
	Scope              string
	RequestTimeout     time.Duration
	Now                func() time.Time
	Transport          core.Transport
}

// GrantConfigFromCredentials maps the credentials config section.
func GrantConfigFromCredentials(cfg core.CredentialsConfig, transport core.Transport) GrantConfig {
	return GrantConfig{
		TokenURL:     cfg.TokenURL,
		RevokeURL:    cfg.RevokeURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURI:  cfg.RedirectURI,
		Scope:        cfg.Scope,
		Transport:    transport,
	}
}

// HTTPGrantClient posts form encoded grant requests through a core.Transport.
type HTTPGrantClient struct {
	cfg GrantConfig
}

func NewHTTPGrantClient(cfg GrantConfig) (*HTTPGrantClient, error) {
	cfg.TokenURL = strings.TrimSpace(cfg.TokenURL)
	cfg.RevokeURL = strings.TrimSpace(cfg.RevokeURL)
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("credentials: token url is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("credentials: client id is required")
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("credentials: grant transport is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultGrantRequestTimeout
	}
	if cfg.Now == nil {
		cfg.Now = defaultNow
	}
	return &HTTPGrantClient{cfg: cfg}, nil
}

func (c *HTTPGrantClient) AuthorizationCode(ctx context.Context, code string) (*Token, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, core.NewBadInputError("credentials: authorization code is required")
	}
	form := url.Values{}
	form.Set("grant_type", GrantTypeAuthorizationCode)
	form.Set("code", code)
	if c.cfg.RedirectURI != "" {
		form.Set("redirect_uri", c.cfg.RedirectURI)
	}
	if c.cfg.Scope != "" {
		form.Set("scope", NormalizeScope(c.cfg.Scope))
	}
	return c.exchange(ctx, form)
}

func (c *HTTPGrantClient) RefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, core.NewBadInputError("credentials: refresh token is required")
	}
	form := url.Values{}
	form.Set("grant_type", GrantTypeRefreshToken)
	form.Set("refresh_token", refreshToken)
	return c.exchange(ctx, form)
}

func (c *HTTPGrantClient) ClientCredentials(ctx context.Context) (*Token, error) {
	form := url.Values{}
	form.Set("grant_type", GrantTypeClientCredentials)
	if c.cfg.Scope != "" {
		form.Set("scope", NormalizeScope(c.cfg.Scope))
	}
	return c.exchange(ctx, form)
}

// Downscope trades the access token for a narrower one.
func (c *HTTPGrantClient) Downscope(ctx context.Context, token *Token, scope string) (*Token, error) {
	if token == nil || token.AccessToken == "" {
		return nil, core.NewBadInputError("credentials: downscope requires an access token")
	}
	form := url.Values{}
	form.Set("grant_type", GrantTypeScopeDowngrade)
	form.Set("token", token.AccessToken)
	form.Set("scope", NormalizeScope(scope))
	downscoped, err := c.exchange(ctx, form)
	if err != nil {
		return nil, err
	}
	if downscoped.Scope == "" {
		downscoped.Scope = NormalizeScope(scope)
	}
	return downscoped, nil
}

// Revoke is best effort; callers log rather than fail on its error.
func (c *HTTPGrantClient) Revoke(ctx context.Context, token *Token) error {
	if token == nil || token.AccessToken == "" {
		return core.NewBadInputError("credentials: revoke requires an access token")
	}
	if c.cfg.RevokeURL == "" {
		return fmt.Errorf("credentials: revoke url is not configured")
	}
	form := url.Values{}
	form.Set("token", token.AccessToken)
	form.Set("token_type_hint", "access_token")
	res, err := c.post(ctx, c.cfg.RevokeURL, form)
	if err != nil {
		return err
	}
	if !res.OK() {
		return core.NewHTTPError(res)
	}
	return nil
}

func (c *HTTPGrantClient) exchange(ctx context.Context, form url.Values) (*Token, error) {
	res, err := c.post(ctx, c.cfg.TokenURL, form)
	if err != nil {
		return nil, err
	}
	payload, parseErr := parseTokenPayload(res.Body, res.Header("Content-Type"))
	if !res.OK() || payload.ErrorCode != "" {
		if payload.ErrorCode != "" {
			return nil, &core.GrantError{
				Kind:        core.ParseGrantErrorKind(payload.ErrorCode),
				Description: payload.ErrorDescription,
				StatusCode:  res.StatusCode,
				Cause:       core.NewHTTPError(res),
			}
		}
		return nil, core.NewHTTPError(res)
	}
	if parseErr != nil {
		return nil, fmt.Errorf("credentials: decode token response: %w", parseErr)
	}
	if payload.AccessToken == "" {
		return nil, fmt.Errorf("credentials: token endpoint response missing access token")
	}
	return NewToken(payload.TokenResponse, c, c.cfg.Now), nil
}

func (c *HTTPGrantClient) post(ctx context.Context, endpoint string, form url.Values) (*core.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	values := url.Values{}
	for key, items := range form {
		if strings.TrimSpace(key) == "" {
			continue
		}
		for _, item := range items {
			values.Add(key, strings.TrimSpace(item))
		}
	}
	values.Set("client_id", c.cfg.ClientID)
	if c.cfg.ClientSecretInBody && c.cfg.ClientSecret != "" {
		values.Set("client_secret", c.cfg.ClientSecret)
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req := core.NewRequest(http.MethodPost, endpoint)
	req.Body = []byte(values.Encode())
	req.AddAuthHeader = core.BoolPtr(false)
	req.ShouldRefreshAccessToken = false
	req.SetHeader("Content-Type", "application/x-www-form-urlencoded")
	req.SetHeader("Accept", "application/json")
	if !c.cfg.ClientSecretInBody && c.cfg.ClientSecret != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(c.cfg.ClientID + ":" + c.cfg.ClientSecret))
		req.SetHeader(core.HeaderAuthorization, "Basic "+credentials)
	}
	res, err := c.cfg.Transport.Do(requestCtx, req)
	if err != nil {
		return nil, fmt.Errorf("credentials: grant request failed: %w", err)
	}
	if res == nil {
		return nil, fmt.Errorf("credentials: grant request returned no response")
	}
	return res, nil
}

type tokenEndpointPayload struct {
	TokenResponse
	ErrorCode        string
	ErrorDescription string
}

func parseTokenPayload(body []byte, contentType string) (tokenEndpointPayload, error) {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if strings.Contains(contentType, "x-www-form-urlencoded") || strings.Contains(contentType, "text/plain") {
		return parseTokenPayloadForm(body)
	}
	if payload, err := parseTokenPayloadJSON(body); err == nil || strings.Contains(contentType, "json") {
		return payload, err
	}
	return parseTokenPayloadForm(body)
}

func parseTokenPayloadJSON(body []byte) (tokenEndpointPayload, error) {
	if strings.TrimSpace(string(body)) == "" {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return tokenEndpointPayload{}, err
	}
	return tokenEndpointPayload{
		TokenResponse: TokenResponse{
			AccessToken:           readAnyString(decoded["access_token"]),
			RefreshToken:          readAnyString(decoded["refresh_token"]),
			TokenType:             readAnyString(decoded["token_type"]),
			Scope:                 readAnyString(decoded["scope"]),
			ExpiresIn:             readAnyInt64(decoded["expires_in"]),
			RefreshTokenExpiresIn: readAnyInt64(decoded["refresh_token_expires_in"]),
		},
		ErrorCode:        readAnyString(decoded["error"]),
		ErrorDescription: readAnyString(decoded["error_description"]),
	}, nil
}

func parseTokenPayloadForm(body []byte) (tokenEndpointPayload, error) {
	if strings.TrimSpace(string(body)) == "" {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return tokenEndpointPayload{}, err
	}
	expiresIn, _ := strconv.ParseInt(strings.TrimSpace(values.Get("expires_in")), 10, 64)
	refreshExpiresIn, _ := strconv.ParseInt(strings.TrimSpace(values.Get("refresh_token_expires_in")), 10, 64)
	return tokenEndpointPayload{
		TokenResponse: TokenResponse{
			AccessToken:           strings.TrimSpace(values.Get("access_token")),
			RefreshToken:          strings.TrimSpace(values.Get("refresh_token")),
			TokenType:             strings.TrimSpace(values.Get("token_type")),
			Scope:                 strings.TrimSpace(values.Get("scope")),
			ExpiresIn:             expiresIn,
			RefreshTokenExpiresIn: refreshExpiresIn,
		},
		ErrorCode:        strings.TrimSpace(values.Get("error")),
		ErrorDescription: strings.TrimSpace(values.Get("error_description")),
	}, nil
}

func readAnyString(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return strings.TrimSpace(typed.String())
	default:
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

func readAnyInt64(value any) int64 {
	switch typed := value.(type) {
	case int:
		return int64(typed)
	case int64:
		return typed
	case float64:
		return int64(typed)
	case json.Number:
		if parsed, err := typed.Int64(); err == nil {
			return parsed
		}
	case string:
		if parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}
