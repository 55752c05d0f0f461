package collab

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/goliatone/go-collab/adapters/gojob"
	"github.com/goliatone/go-collab/adapters/gologger"
	"github.com/goliatone/go-collab/catalog"
	"github.com/goliatone/go-collab/core"
	"github.com/goliatone/go-collab/credentials"
	"github.com/goliatone/go-collab/interceptors"
	"github.com/goliatone/go-collab/ratelimit"
	"github.com/goliatone/go-collab/transport"
)

// Components are the collaborators a host application may supply on top of
// the resolved dependencies. Zero values fall back to the built in ones.
type Components struct {
	HTTPClient  *http.Client
	GrantClient credentials.GrantClient
	Devices     interceptors.DeviceClearer

	// RateLimitStates persists throttle windows. Defaults to the key value
	// store.
	RateLimitStates ratelimit.StateStore

	// Interceptors run after the default chain.
	Interceptors []interceptors.Interceptor
}

// Session owns one authenticated client context: the service catalog, the
// credentials manager and the interceptor pipeline every request goes
// through.
type Session struct {
	deps        core.Dependencies
	telemetry   core.Telemetry
	catalog     *catalog.Catalog
	credentials *credentials.Manager
	limiter     *ratelimit.Limiter
	tracking    *interceptors.Tracking
	transport   core.Transport
	pipeline    *interceptors.Pipeline
	discoverer  *catalog.Discoverer
}

func NewSession(cfg Config, opts ...Option) (*Session, error) {
	return NewSessionWithComponents(cfg, Components{}, opts...)
}

func NewSessionWithComponents(cfg Config, components Components, opts ...Option) (*Session, error) {
	deps, err := core.ResolveDependencies(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := deps.Config.Validate(); err != nil {
		return nil, deps.ErrorMapper(err)
	}
	resolved := deps.Config

	s := &Session{
		deps:      deps,
		telemetry: gologger.ComponentTelemetry(deps, "session"),
		tracking:  interceptors.NewTracking(resolved.SessionName),
	}

	s.transport = deps.Transport
	if s.transport == nil {
		s.transport = transport.NewRESTTransport(components.HTTPClient)
	}

	s.catalog = catalog.New(resolved.Catalog, catalog.WithTelemetry(gologger.ComponentTelemetry(deps, "catalog")))
	if path := strings.TrimSpace(resolved.Catalog.OverrideFile); path != "" {
		if err := s.catalog.LoadOverrideFile(path); err != nil {
			return nil, deps.ErrorMapper(err)
		}
	}

	grantClient := components.GrantClient
	if grantClient == nil && resolved.Credentials.TokenURL != "" && resolved.Credentials.ClientID != "" {
		// Grant exchanges bypass the pipeline so a 401 from the token
		// endpoint never recurses into a refresh.
		client, err := credentials.NewHTTPGrantClient(credentials.GrantConfigFromCredentials(resolved.Credentials, s.transport))
		if err != nil {
			return nil, deps.ErrorMapper(err)
		}
		grantClient = client
	}
	s.credentials = credentials.NewManager(resolved.Credentials, grantClient,
		credentials.WithStore(deps.Store),
		credentials.WithSecretProvider(deps.SecretProvider),
		credentials.WithTelemetry(gologger.ComponentTelemetry(deps, "credentials")),
		credentials.WithJobEnqueuer(deps.JobEnqueuer),
		credentials.WithClock(deps.Now),
	)

	states := components.RateLimitStates
	if states == nil {
		states = ratelimit.NewKeyValueStateStore(deps.Store)
	}
	s.limiter = ratelimit.NewLimiter(states)
	s.limiter.Now = deps.Now

	chain := interceptors.Defaults(interceptors.Dependencies{
		Config:      resolved,
		Catalog:     s.catalog,
		Credentials: s.credentials,
		Limiter:     s.limiter,
		Devices:     components.Devices,
		Telemetry:   gologger.ComponentTelemetry(deps, "http"),
		Tracking:    s.tracking,
		Now:         deps.Now,
	})
	chain = append(chain, components.Interceptors...)
	pipeline, err := interceptors.NewPipeline(s.transport, chain...)
	if err != nil {
		return nil, deps.ErrorMapper(err)
	}
	s.pipeline = pipeline

	if discoveryURL := strings.TrimSpace(resolved.Catalog.DiscoveryURL); discoveryURL != "" {
		s.discoverer = &catalog.Discoverer{
			Catalog:   s.catalog,
			Transport: pipeline,
			URL:       discoveryURL,
			Telemetry: gologger.ComponentTelemetry(deps, "catalog"),
		}
	}

	s.telemetry.Info(context.Background(), "session ready", map[string]any{
		"session_id":   s.tracking.SessionID(),
		"interceptors": strings.Join(pipeline.Names(), ","),
	})
	return s, nil
}

// Do sends req through the interceptor pipeline.
func (s *Session) Do(ctx context.Context, req *Request) (*Response, error) {
	if s == nil || s.pipeline == nil {
		return nil, fmt.Errorf("collab: session is not initialized")
	}
	return s.pipeline.Do(ctx, req)
}

// Restore loads persisted credentials into the manager.
func (s *Session) Restore(ctx context.Context) error {
	if err := s.credentials.Restore(ctx); err != nil {
		s.telemetry.Error(ctx, "session restore failed", map[string]any{"error": err.Error()})
		return s.deps.ErrorMapper(err)
	}
	return nil
}

// Discover fetches the host catalog for tier from the configured discovery
// endpoint.
func (s *Session) Discover(ctx context.Context, tier catalog.Tier, query url.Values) (catalog.DiscoveryPayload, error) {
	if s.discoverer == nil {
		return catalog.DiscoveryPayload{}, core.NewBadInputError("collab: catalog discovery_url is not configured")
	}
	return s.discoverer.Discover(ctx, tier, query)
}

// RegisterJobs installs the session's background job handlers on consumer.
func (s *Session) RegisterJobs(consumer *gojob.Consumer) error {
	if consumer == nil {
		return fmt.Errorf("collab: job consumer is required")
	}
	return consumer.Handle(credentials.RevokeJobID, s.credentials.HandleRevokeJob)
}

// NewJobConsumer builds a consumer over dequeuer with the session's job
// handlers already registered.
func (s *Session) NewJobConsumer(dequeuer core.JobDequeuer) (*gojob.Consumer, error) {
	consumer := gojob.NewConsumer(dequeuer, gologger.ComponentTelemetry(s.deps, "jobs"), gojob.WithConsumerClock(s.deps.Now))
	if err := s.RegisterJobs(consumer); err != nil {
		return nil, err
	}
	return consumer, nil
}

func (s *Session) Config() Config {
	return s.deps.Config
}

func (s *Session) Dependencies() core.Dependencies {
	return s.deps
}

func (s *Session) Catalog() *catalog.Catalog {
	return s.catalog
}

func (s *Session) Credentials() *credentials.Manager {
	return s.credentials
}

func (s *Session) Limiter() *ratelimit.Limiter {
	return s.limiter
}

func (s *Session) Pipeline() *interceptors.Pipeline {
	return s.pipeline
}

// SessionID is the tracking id prefix shared by every request of the
// session.
func (s *Session) SessionID() string {
	return s.tracking.SessionID()
}
