package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-collab/core"
)

const (
	defaultRESTClientTimeout             = 30 * time.Second
	defaultRESTResponseBodyLimit   int64 = 10 << 20 // 10 MiB
	noHTTPRedirectEnabled                = "true"
	transportMetadataKey                 = "transport"
	transportName                        = "rest"
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RESTTransport executes core.Request descriptors over net/http. It applies
// no retry, redirect or auth policy; those live in the interceptor pipeline.
type RESTTransport struct {
	Client               HTTPDoer
	BaseURL              string
	DefaultHeaders       http.Header
	MaxResponseBodyBytes int64
	Now                  func() time.Time
}

// NewRESTTransport wraps client. Automatic redirects are suppressed for
// requests carrying the no-http-redirect header so the redirect interceptor
// sees the 3xx response.
func NewRESTTransport(client *http.Client) *RESTTransport {
	if client == nil {
		client = &http.Client{Timeout: defaultRESTClientTimeout}
	}
	configured := *client
	if configured.CheckRedirect == nil {
		configured.CheckRedirect = checkRedirect
	}
	return &RESTTransport{
		Client:               &configured,
		DefaultHeaders:       http.Header{},
		MaxResponseBodyBytes: defaultRESTResponseBodyLimit,
		Now:                  func() time.Time { return time.Now().UTC() },
	}
}

func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) > 0 && strings.EqualFold(via[0].Header.Get(core.HeaderNoHTTPRedirect), noHTTPRedirectEnabled) {
		return http.ErrUseLastResponse
	}
	if len(via) >= 10 {
		return fmt.Errorf("transport: stopped after %d redirects", len(via))
	}
	return nil
}

func (t *RESTTransport) Do(ctx context.Context, req *core.Request) (*core.Response, error) {
	if t == nil || t.Client == nil {
		return nil, failure(nil, goerrors.CategoryInternal, "transport: rest transport requires an http client")
	}
	if req == nil {
		return nil, failure(nil, goerrors.CategoryBadInput, "transport: request is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	method := strings.TrimSpace(strings.ToUpper(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	rawURL := strings.TrimSpace(req.ResolvedURI(t.BaseURL))
	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Host == "" {
		return nil, failure(err, goerrors.CategoryBadInput, "transport: invalid request url", "url", rawURL)
	}

	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, parsedURL.String(), body)
	if err != nil {
		return nil, failure(err, goerrors.CategoryBadInput, "transport: create http request",
			"method", method, "url", parsedURL.String())
	}
	for key, values := range t.DefaultHeaders {
		for _, value := range values {
			httpReq.Header.Add(key, strings.TrimSpace(value))
		}
	}
	for key, values := range req.Headers {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Del(key)
		for _, value := range values {
			httpReq.Header.Add(key, strings.TrimSpace(value))
		}
	}

	req.Timings.NetworkStart = t.now()
	httpRes, err := t.Client.Do(httpReq)
	req.Timings.NetworkEnd = t.now()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &core.TimeoutError{Operation: "http_request", Target: parsedURL.String(), After: req.Timings.NetworkDuration()}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, failure(err, goerrors.CategoryExternal, "transport: execute http request",
			"method", method, "url", parsedURL.String())
	}
	defer httpRes.Body.Close()

	maxBodyBytes := t.MaxResponseBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultRESTResponseBodyLimit
	}
	payload, err := io.ReadAll(io.LimitReader(httpRes.Body, maxBodyBytes+1))
	if err != nil {
		return nil, failure(err, goerrors.CategoryExternal, "transport: read response body",
			"status_code", httpRes.StatusCode)
	}
	if int64(len(payload)) > maxBodyBytes {
		return nil, failure(nil, goerrors.CategoryExternal,
			fmt.Sprintf("transport: response body exceeds limit of %d bytes", maxBodyBytes),
			"status_code", httpRes.StatusCode, "response_limit_b", maxBodyBytes)
	}

	return &core.Response{
		StatusCode: httpRes.StatusCode,
		Headers:    httpRes.Header.Clone(),
		Body:       payload,
		Request:    req,
	}, nil
}

func (t *RESTTransport) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now().UTC()
}

var _ core.Transport = (*RESTTransport)(nil)
