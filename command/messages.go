package command

import (
	"net/url"
	"strings"

	"github.com/goliatone/go-collab/catalog"
	"github.com/goliatone/go-collab/core"
)

const (
	TypeRefreshCredentials    = "collab.command.credentials.refresh"
	TypeInvalidateCredentials = "collab.command.credentials.invalidate"
	TypeMarkHostFailed        = "collab.command.catalog.mark_host_failed"
	TypeUpdateCatalog         = "collab.command.catalog.update"
)

// RefreshCredentialsMessage forces a supertoken refresh outside the timer.
type RefreshCredentialsMessage struct{}

func (RefreshCredentialsMessage) Type() string { return TypeRefreshCredentials }

func (RefreshCredentialsMessage) Validate() error { return nil }

// InvalidateCredentialsMessage drops every token and queues revocation.
type InvalidateCredentialsMessage struct {
	Reason string
}

func (InvalidateCredentialsMessage) Type() string { return TypeInvalidateCredentials }

func (InvalidateCredentialsMessage) Validate() error { return nil }

type MarkHostFailedMessage struct {
	URL string
}

func (MarkHostFailedMessage) Type() string { return TypeMarkHostFailed }

func (m MarkHostFailedMessage) Validate() error {
	raw := strings.TrimSpace(m.URL)
	if raw == "" {
		return core.NewFieldError("command", "url", "url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return core.NewFieldError("command", "url", "url must be absolute")
	}
	return nil
}

// MarkHostFailedResult reports the host to use after the failure. Known is
// false when the URL does not belong to the catalog.
type MarkHostFailedResult struct {
	FailedURL string
	NextURL   string
	Known     bool
}

type UpdateCatalogMessage struct {
	Tier    string
	Payload catalog.DiscoveryPayload
}

func (UpdateCatalogMessage) Type() string { return TypeUpdateCatalog }

func (m UpdateCatalogMessage) Validate() error {
	if _, err := catalog.ParseTier(m.Tier); err != nil {
		return core.NewFieldError("command", "tier", err.Error())
	}
	if len(m.Payload.ServiceLinks) == 0 {
		return core.NewFieldError("command", "service_links", "at least one service link is required")
	}
	return nil
}

type UpdateCatalogResult struct {
	Tier     catalog.Tier
	Services map[string]string
}
