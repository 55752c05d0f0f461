package core

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	HeaderAuthorization  = "Authorization"
	HeaderTrackingID     = "Trackingid"
	HeaderNoHTTPRedirect = "Cisco-No-Http-Redirect"
	HeaderLocation       = "Cisco-Location"
	HeaderRetryAfter     = "Retry-After"
)

// Timings holds latency marks stamped while a request moves through the
// pipeline.
type Timings struct {
	RequestStart time.Time
	RequestEnd   time.Time
	NetworkStart time.Time
	NetworkEnd   time.Time
}

func (t Timings) Duration() time.Duration {
	if t.RequestStart.IsZero() || t.RequestEnd.IsZero() {
		return 0
	}
	return t.RequestEnd.Sub(t.RequestStart)
}

func (t Timings) NetworkDuration() time.Duration {
	if t.NetworkStart.IsZero() || t.NetworkEnd.IsZero() {
		return 0
	}
	return t.NetworkEnd.Sub(t.NetworkStart)
}

// Request is the mutable descriptor flowing through the interceptor pipeline.
// It is created per call; replays get a clone carrying the counters forward.
type Request struct {
	Method   string
	URI      string
	Service  string
	Resource string
	Headers  http.Header
	Body     []byte

	// AddAuthHeader forces (true) or suppresses (false) the authorization
	// header. Nil lets the auth interceptor decide.
	AddAuthHeader *bool
	// ShouldRefreshAccessToken allows a 401 to trigger a credential refresh.
	ShouldRefreshAccessToken bool

	RedirectCount        int
	ServiceRedirectCount int
	ReplayCount          int
	ServerErrorCount     int

	TrackingID string
	Timings    Timings
	Metadata   map[string]any
}

func NewRequest(method string, uri string) *Request {
	return &Request{
		Method:                   strings.ToUpper(strings.TrimSpace(method)),
		URI:                      strings.TrimSpace(uri),
		Headers:                  http.Header{},
		ShouldRefreshAccessToken: true,
		Metadata:                 map[string]any{},
	}
}

// Clone copies the descriptor for a replay. Headers, counters and metadata
// are copied; the body slice is shared and must not be mutated.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	cloned := *r
	cloned.Headers = r.Headers.Clone()
	if cloned.Headers == nil {
		cloned.Headers = http.Header{}
	}
	if r.AddAuthHeader != nil {
		value := *r.AddAuthHeader
		cloned.AddAuthHeader = &value
	}
	cloned.Metadata = make(map[string]any, len(r.Metadata))
	for key, value := range r.Metadata {
		cloned.Metadata[key] = value
	}
	cloned.Timings = Timings{}
	return &cloned
}

func (r *Request) Header(name string) string {
	if r == nil || r.Headers == nil {
		return ""
	}
	return r.Headers.Get(name)
}

func (r *Request) SetHeader(name string, value string) {
	if r.Headers == nil {
		r.Headers = http.Header{}
	}
	r.Headers.Set(name, value)
}

func (r *Request) DeleteHeader(name string) {
	if r.Headers == nil {
		return
	}
	r.Headers.Del(name)
}

// ResolvedURI joins Service/Resource style requests onto a base URL when the
// descriptor has no absolute URI.
func (r *Request) ResolvedURI(base string) string {
	if r == nil {
		return ""
	}
	if strings.TrimSpace(r.URI) != "" {
		return r.URI
	}
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	resource := strings.TrimLeft(strings.TrimSpace(r.Resource), "/")
	if resource == "" {
		return base
	}
	return base + "/" + resource
}

// Host returns the lower-cased host of the request URI.
func (r *Request) Host() string {
	if r == nil {
		return ""
	}
	parsed, err := url.Parse(strings.TrimSpace(r.URI))
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}

type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Request    *Request
}

func (r *Response) Header(name string) string {
	if r == nil || r.Headers == nil {
		return ""
	}
	return r.Headers.Get(name)
}

func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

func BoolPtr(value bool) *bool {
	return &value
}
