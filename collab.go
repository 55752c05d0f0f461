package collab

import (
	"github.com/goliatone/go-collab/core"
	"github.com/goliatone/go-collab/security"
)

type Config = core.Config

type Option = core.Option

type Dependencies = core.Dependencies

type Request = core.Request
type Response = core.Response

type KeyValueStore = core.KeyValueStore
type SecretProvider = core.SecretProvider
type Transport = core.Transport
type JobEnqueuer = core.JobEnqueuer

var (
	WithLogger          = core.WithLogger
	WithLoggerProvider  = core.WithLoggerProvider
	WithMetricsRecorder = core.WithMetricsRecorder
	WithErrorMapper     = core.WithErrorMapper
	WithConfigProvider  = core.WithConfigProvider
	WithOptionsResolver = core.WithOptionsResolver
	WithKeyValueStore   = core.WithKeyValueStore
	WithSecretProvider  = core.WithSecretProvider
	WithTransport       = core.WithTransport
	WithJobEnqueuer     = core.WithJobEnqueuer
	WithClock           = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewRequest(method string, uri string) *Request {
	return core.NewRequest(method, uri)
}

// NewAppKeySecretProvider seals persisted credentials with an application
// key. Wrap it in a security.Keyring to rotate keys.
func NewAppKeySecretProvider(key string, opts ...security.Option) (*security.AppKeySecretProvider, error) {
	return security.NewAppKeySecretProviderFromString(key, opts...)
}
