package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// NoPriorityHostsPolicy decides what MarkFailedURL hands back once every
// host of a service has failed and the hosts were reset.
type NoPriorityHostsPolicy string

const (
	NoPriorityHostsDefaultURL NoPriorityHostsPolicy = "default_url"
	NoPriorityHostsResetHost  NoPriorityHostsPolicy = "reset_host"
)

const (
	DefaultSessionName          = "collab"
	DefaultMaxAppLevelRedirects = 7
	DefaultMaxServiceRedirects  = 2
	DefaultMaxAuthReplays       = 1
	DefaultCatalogWaitTimeout   = 60 * time.Second
	DefaultServiceWaitTimeout   = 5 * time.Second
	DefaultRefreshWindowMin     = 0.6
	DefaultRefreshWindowMax     = 0.9
)

type RedirectConfig struct {
	MaxAppLevel int `koanf:"max_app_level" mapstructure:"max_app_level" validate:"gte=0"`
	MaxService  int `koanf:"max_service" mapstructure:"max_service" validate:"gte=0"`
}

type AuthConfig struct {
	MaxReplays     int           `koanf:"max_replays" mapstructure:"max_replays" validate:"gte=0"`
	AllowedDomains []string      `koanf:"allowed_domains" mapstructure:"allowed_domains"`
	ServiceWait    time.Duration `koanf:"service_wait" mapstructure:"service_wait" validate:"gte=0"`
}

type CatalogConfig struct {
	WaitTimeout           time.Duration         `koanf:"wait_timeout" mapstructure:"wait_timeout" validate:"gte=0"`
	HAServices            []string              `koanf:"ha_services" mapstructure:"ha_services"`
	DiscoveryURL          string                `koanf:"discovery_url" mapstructure:"discovery_url" validate:"omitempty,url"`
	OverrideFile          string                `koanf:"override_file" mapstructure:"override_file"`
	NoPriorityHostsPolicy NoPriorityHostsPolicy `koanf:"no_priority_hosts_policy" mapstructure:"no_priority_hosts_policy" validate:"omitempty,oneof=default_url reset_host"`
}

type CredentialsConfig struct {
	Scope            string  `koanf:"scope" mapstructure:"scope"`
	ClientID         string  `koanf:"client_id" mapstructure:"client_id"`
	ClientSecret     string  `koanf:"client_secret" mapstructure:"client_secret"`
	RedirectURI      string  `koanf:"redirect_uri" mapstructure:"redirect_uri" validate:"omitempty,url"`
	TokenURL         string  `koanf:"token_url" mapstructure:"token_url" validate:"omitempty,url"`
	AuthorizeURL     string  `koanf:"authorize_url" mapstructure:"authorize_url" validate:"omitempty,url"`
	RevokeURL        string  `koanf:"revoke_url" mapstructure:"revoke_url" validate:"omitempty,url"`
	RefreshWindowMin float64 `koanf:"refresh_window_min" mapstructure:"refresh_window_min" validate:"gte=0,lte=1"`
	RefreshWindowMax float64 `koanf:"refresh_window_max" mapstructure:"refresh_window_max" validate:"gte=0,lte=1"`
}

type LoggingConfig struct {
	HTTP bool `koanf:"http" mapstructure:"http"`
}

type Config struct {
	SessionName string            `koanf:"session_name" mapstructure:"session_name" validate:"required"`
	Redirects   RedirectConfig    `koanf:"redirects" mapstructure:"redirects"`
	Auth        AuthConfig        `koanf:"auth" mapstructure:"auth"`
	Catalog     CatalogConfig     `koanf:"catalog" mapstructure:"catalog"`
	Credentials CredentialsConfig `koanf:"credentials" mapstructure:"credentials"`
	Logging     LoggingConfig     `koanf:"logging" mapstructure:"logging"`
}

func DefaultConfig() Config {
	return Config{
		SessionName: DefaultSessionName,
		Redirects: RedirectConfig{
			MaxAppLevel: DefaultMaxAppLevelRedirects,
			MaxService:  DefaultMaxServiceRedirects,
		},
		Auth: AuthConfig{
			MaxReplays:     DefaultMaxAuthReplays,
			AllowedDomains: []string{"wbx2.com", "ciscospark.com", "webex.com", "webexapis.com"},
			ServiceWait:    DefaultServiceWaitTimeout,
		},
		Catalog: CatalogConfig{
			WaitTimeout:           DefaultCatalogWaitTimeout,
			NoPriorityHostsPolicy: NoPriorityHostsDefaultURL,
		},
		Credentials: CredentialsConfig{
			RefreshWindowMin: DefaultRefreshWindowMin,
			RefreshWindowMax: DefaultRefreshWindowMax,
		},
	}
}

var configValidator = validator.New()

func (c Config) Validate() error {
	if strings.TrimSpace(c.SessionName) == "" {
		return fmt.Errorf("core: session_name is required")
	}
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("core: invalid config: %w", err)
	}
	if c.Credentials.RefreshWindowMin > c.Credentials.RefreshWindowMax {
		return fmt.Errorf(
			"core: credentials refresh_window_min %.2f exceeds refresh_window_max %.2f",
			c.Credentials.RefreshWindowMin,
			c.Credentials.RefreshWindowMax,
		)
	}
	return nil
}

// IsHAService reports whether high availability host marking is enabled for
// the named service.
func (c Config) IsHAService(name string) bool {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return false
	}
	for _, candidate := range c.Catalog.HAServices {
		if strings.TrimSpace(strings.ToLower(candidate)) == name {
			return true
		}
	}
	return false
}

func (c Config) NoPriorityHosts() NoPriorityHostsPolicy {
	if c.Catalog.NoPriorityHostsPolicy == NoPriorityHostsResetHost {
		return NoPriorityHostsResetHost
	}
	return NoPriorityHostsDefaultURL
}
