package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// Dependencies is the resolved set of collaborators shared by every
// component of a session.
type Dependencies struct {
	Config          Config
	Logger          Logger
	LoggerProvider  LoggerProvider
	MetricsRecorder MetricsRecorder
	ErrorMapper     ErrorMapper
	Store           KeyValueStore
	SecretProvider  SecretProvider
	Transport       Transport
	JobEnqueuer     JobEnqueuer
	Now             func() time.Time
}

type builder struct {
	runtimeConfig   Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	store           KeyValueStore
	secretProvider  SecretProvider
	transport       Transport
	jobEnqueuer     JobEnqueuer
	now             func() time.Time
}

type Option func(*builder)

func WithLogger(logger Logger) Option {
	return func(b *builder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *builder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *builder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *builder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *builder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *builder) {
		b.optionsResolver = resolver
	}
}

func WithKeyValueStore(store KeyValueStore) Option {
	return func(b *builder) {
		b.store = store
	}
}

func WithSecretProvider(provider SecretProvider) Option {
	return func(b *builder) {
		b.secretProvider = provider
	}
}

func WithTransport(transport Transport) Option {
	return func(b *builder) {
		b.transport = transport
	}
}

func WithJobEnqueuer(enqueuer JobEnqueuer) Option {
	return func(b *builder) {
		b.jobEnqueuer = enqueuer
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *builder) {
		b.now = now
	}
}

// ResolveDependencies applies options over the defaults, loads and merges the
// configuration layers and returns the resolved dependency bundle.
func ResolveDependencies(runtime Config, options ...Option) (Dependencies, error) {
	b := builder{runtimeConfig: runtime}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(&b)
	}

	provider, logger := glog.Resolve(DefaultSessionName, b.loggerProvider, b.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger(DefaultSessionName); named != nil {
			logger = glog.Ensure(named)
		}
	}
	if b.errorMapper == nil {
		b.errorMapper = ToServiceError
	}
	if b.metricsRecorder == nil {
		b.metricsRecorder = NopMetricsRecorder{}
	}
	if b.configProvider == nil {
		b.configProvider = NewCfgxConfigProvider(nil)
	}
	if b.optionsResolver == nil {
		b.optionsResolver = GoOptionsResolver{}
	}
	if b.store == nil {
		b.store = NewMemoryKeyValueStore()
	}
	if b.now == nil {
		b.now = func() time.Time { return time.Now().UTC() }
	}

	defaults := DefaultConfig()
	loaded, err := b.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return Dependencies{}, b.errorMapper(err)
	}
	resolved, err := b.optionsResolver.Resolve(defaults, loaded, b.runtimeConfig)
	if err != nil {
		return Dependencies{}, b.errorMapper(err)
	}

	return Dependencies{
		Config:          resolved,
		Logger:          logger,
		LoggerProvider:  provider,
		MetricsRecorder: b.metricsRecorder,
		ErrorMapper:     b.errorMapper,
		Store:           b.store,
		SecretProvider:  b.secretProvider,
		Transport:       b.transport,
		JobEnqueuer:     b.jobEnqueuer,
		Now:             b.now,
	}, nil
}

// NamedLogger returns the provider logger for name, falling back to the
// session logger.
func (d Dependencies) NamedLogger(name string) Logger {
	if d.LoggerProvider != nil {
		if named := d.LoggerProvider.GetLogger(name); named != nil {
			return glog.Ensure(named)
		}
	}
	return glog.Ensure(d.Logger)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// configToLayerMap flattens cfg into an options layer. Zero values are
// skipped for non-default layers so they never shadow lower layers.
func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.SessionName) != "" {
		layer["session_name"] = cfg.SessionName
	}

	redirects := map[string]any{}
	if includeZero || cfg.Redirects.MaxAppLevel != 0 {
		redirects["max_app_level"] = cfg.Redirects.MaxAppLevel
	}
	if includeZero || cfg.Redirects.MaxService != 0 {
		redirects["max_service"] = cfg.Redirects.MaxService
	}
	putSection(layer, "redirects", redirects)

	auth := map[string]any{}
	if includeZero || cfg.Auth.MaxReplays != 0 {
		auth["max_replays"] = cfg.Auth.MaxReplays
	}
	if includeZero || len(cfg.Auth.AllowedDomains) > 0 {
		auth["allowed_domains"] = append([]string(nil), cfg.Auth.AllowedDomains...)
	}
	if includeZero || cfg.Auth.ServiceWait != 0 {
		auth["service_wait"] = cfg.Auth.ServiceWait
	}
	putSection(layer, "auth", auth)

	catalog := map[string]any{}
	if includeZero || cfg.Catalog.WaitTimeout != 0 {
		catalog["wait_timeout"] = cfg.Catalog.WaitTimeout
	}
	if includeZero || len(cfg.Catalog.HAServices) > 0 {
		catalog["ha_services"] = append([]string(nil), cfg.Catalog.HAServices...)
	}
	if includeZero || cfg.Catalog.DiscoveryURL != "" {
		catalog["discovery_url"] = cfg.Catalog.DiscoveryURL
	}
	if includeZero || cfg.Catalog.OverrideFile != "" {
		catalog["override_file"] = cfg.Catalog.OverrideFile
	}
	if includeZero || cfg.Catalog.NoPriorityHostsPolicy != "" {
		catalog["no_priority_hosts_policy"] = string(cfg.Catalog.NoPriorityHostsPolicy)
	}
	putSection(layer, "catalog", catalog)

	credentials := map[string]any{}
	for key, value := range map[string]string{
		"scope":         cfg.Credentials.Scope,
		"client_id":     cfg.Credentials.ClientID,
		"client_secret": cfg.Credentials.ClientSecret,
		"redirect_uri":  cfg.Credentials.RedirectURI,
		"token_url":     cfg.Credentials.TokenURL,
		"authorize_url": cfg.Credentials.AuthorizeURL,
		"revoke_url":    cfg.Credentials.RevokeURL,
	} {
		if includeZero || strings.TrimSpace(value) != "" {
			credentials[key] = value
		}
	}
	if includeZero || cfg.Credentials.RefreshWindowMin != 0 {
		credentials["refresh_window_min"] = cfg.Credentials.RefreshWindowMin
	}
	if includeZero || cfg.Credentials.RefreshWindowMax != 0 {
		credentials["refresh_window_max"] = cfg.Credentials.RefreshWindowMax
	}
	putSection(layer, "credentials", credentials)

	if includeZero || cfg.Logging.HTTP {
		layer["logging"] = map[string]any{"http": cfg.Logging.HTTP}
	}
	return layer
}

func putSection(layer map[string]any, key string, section map[string]any) {
	if len(section) == 0 {
		return
	}
	layer[key] = section
}
