package query

import (
	"strings"
	"time"

	"github.com/goliatone/go-collab/catalog"
	"github.com/goliatone/go-collab/core"
)

const (
	TypeGetUserToken   = "collab.query.credentials.user_token"
	TypeServiceURL     = "collab.query.catalog.service_url"
	TypeClusterID      = "collab.query.catalog.cluster_id"
	TypeWaitForCatalog = "collab.query.catalog.wait"
)

// GetUserTokenMessage asks for a token. An empty scope returns the
// supertoken itself.
type GetUserTokenMessage struct {
	Scope string
}

func (GetUserTokenMessage) Type() string { return TypeGetUserToken }

func (GetUserTokenMessage) Validate() error { return nil }

// ServiceURLMessage resolves a service name. An empty Tier searches every
// tier in rank order.
type ServiceURLMessage struct {
	Name         string
	PriorityHost bool
	Tier         string
}

func (ServiceURLMessage) Type() string { return TypeServiceURL }

func (m ServiceURLMessage) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return core.NewFieldError("query", "name", "service name is required")
	}
	if strings.TrimSpace(m.Tier) != "" {
		if _, err := catalog.ParseTier(m.Tier); err != nil {
			return core.NewFieldError("query", "tier", err.Error())
		}
	}
	return nil
}

type ClusterIDMessage struct {
	URL string
}

func (ClusterIDMessage) Type() string { return TypeClusterID }

func (m ClusterIDMessage) Validate() error {
	if strings.TrimSpace(m.URL) == "" {
		return core.NewFieldError("query", "url", "url is required")
	}
	return nil
}

// WaitForCatalogMessage blocks until Tier is ready. A zero Timeout uses
// the configured catalog wait.
type WaitForCatalogMessage struct {
	Tier    string
	Timeout time.Duration
}

func (WaitForCatalogMessage) Type() string { return TypeWaitForCatalog }

func (m WaitForCatalogMessage) Validate() error {
	if _, err := catalog.ParseTier(m.Tier); err != nil {
		return core.NewFieldError("query", "tier", err.Error())
	}
	if m.Timeout < 0 {
		return core.NewFieldError("query", "timeout", "timeout must be >= 0")
	}
	return nil
}

type WaitForCatalogResult struct {
	Tier  catalog.Tier
	Ready bool
}
