package interceptors

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-collab/core"
	"github.com/goliatone/go-collab/credentials"
)

type Interceptor interface {
	Name() string
}

type RequestHook interface {
	OnRequest(ctx context.Context, call *Call) error
}

// ResponseHook may return an error to move the call into the error phase.
type ResponseHook interface {
	OnResponse(ctx context.Context, call *Call, res *core.Response) (*core.Response, error)
}

// ErrorHook may recover by returning a response and a nil error, or
// replace the error handed to the next hook.
type ErrorHook interface {
	OnResponseError(ctx context.Context, call *Call, err error) (*core.Response, error)
}

// ServiceCatalog is the catalog surface used by the pipeline.
type ServiceCatalog interface {
	IsServiceURL(rawURL string) bool
	FindServiceName(rawURL string) (string, bool)
	WaitForService(ctx context.Context, nameOrURL string, timeout time.Duration) (string, error)
	MarkFailedURL(rawURL string) (string, bool)
}

// CredentialSource is the credentials surface used by the pipeline.
type CredentialSource interface {
	GetUserToken(ctx context.Context, scope string) (*credentials.Token, error)
	IsRefreshable() bool
	Refresh(ctx context.Context) (*credentials.Token, error)
	Invalidate(ctx context.Context) error
}

// Call is one pass of a request through the pipeline.
type Call struct {
	Request  *core.Request
	pipeline *Pipeline
	replayed bool
}

// Replay runs req through a full, sequential pipeline pass. A nil req
// replays a clone of the current request.
func (c *Call) Replay(ctx context.Context, req *core.Request) (*core.Response, error) {
	if c == nil || c.pipeline == nil {
		return nil, fmt.Errorf("interceptors: call is not bound to a pipeline")
	}
	if req == nil {
		req = c.Request.Clone()
	}
	c.replayed = true
	return c.pipeline.run(ctx, req)
}

// Pipeline applies interceptors around a transport. It implements
// core.Transport so components such as the catalog discoverer can send
// through it.
type Pipeline struct {
	transport    core.Transport
	interceptors []Interceptor
}

func NewPipeline(transport core.Transport, interceptors ...Interceptor) (*Pipeline, error) {
	if transport == nil {
		return nil, fmt.Errorf("interceptors: transport is required")
	}
	seen := map[string]struct{}{}
	kept := make([]Interceptor, 0, len(interceptors))
	for _, interceptor := range interceptors {
		if interceptor == nil {
			continue
		}
		name := strings.TrimSpace(interceptor.Name())
		if name == "" {
			return nil, fmt.Errorf("interceptors: interceptor name is required")
		}
		if _, exists := seen[name]; exists {
			return nil, fmt.Errorf("interceptors: interceptor %q registered twice", name)
		}
		seen[name] = struct{}{}
		kept = append(kept, interceptor)
	}
	return &Pipeline{transport: transport, interceptors: kept}, nil
}

// Names lists the interceptors in registration order.
func (p *Pipeline) Names() []string {
	names := make([]string, 0, len(p.interceptors))
	for _, interceptor := range p.interceptors {
		names = append(names, interceptor.Name())
	}
	return names
}

func (p *Pipeline) Do(ctx context.Context, req *core.Request) (*core.Response, error) {
	if req == nil {
		return nil, core.NewBadInputError("interceptors: request is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Headers == nil {
		req.Headers = http.Header{}
	}
	return p.run(ctx, req)
}

func (p *Pipeline) run(ctx context.Context, req *core.Request) (*core.Response, error) {
	call := &Call{Request: req, pipeline: p}

	var err error
	for _, interceptor := range p.interceptors {
		hook, ok := interceptor.(RequestHook)
		if !ok {
			continue
		}
		if err = hook.OnRequest(ctx, call); err != nil {
			break
		}
	}

	var res *core.Response
	if err == nil {
		res, err = p.transport.Do(ctx, req)
		switch {
		case err != nil:
		case res == nil:
			err = fmt.Errorf("interceptors: transport returned no response")
		case res.Request == nil:
			res.Request = req
		}
		if err == nil && !res.OK() {
			err = core.NewHTTPError(res)
			res = nil
		}
	}

	for idx := len(p.interceptors) - 1; idx >= 0; idx-- {
		call.replayed = false
		switch interceptor := p.interceptors[idx].(type) {
		case ResponseHook:
			if err == nil {
				res, err = interceptor.OnResponse(ctx, call, res)
			} else if hook, ok := interceptor.(ErrorHook); ok {
				res, err = hook.OnResponseError(ctx, call, err)
			}
		case ErrorHook:
			if err != nil {
				res, err = interceptor.OnResponseError(ctx, call, err)
			}
		}
		if call.replayed {
			return res, err
		}
		if err == nil && res == nil {
			err = fmt.Errorf("interceptors: %s returned neither response nor error", p.interceptors[idx].Name())
		}
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

var _ core.Transport = (*Pipeline)(nil)
