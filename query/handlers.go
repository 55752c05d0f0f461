package query

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-collab/catalog"
	"github.com/goliatone/go-collab/core"
	"github.com/goliatone/go-collab/credentials"
)

type TokenSource interface {
	GetUserToken(ctx context.Context, scope string) (*credentials.Token, error)
}

type ServiceResolver interface {
	Get(name string, priorityHost bool, tier catalog.Tier) (string, bool)
	FindClusterID(rawURL string) (string, bool)
}

type CatalogWaiter interface {
	WaitForCatalog(ctx context.Context, tier catalog.Tier, timeout time.Duration) error
}

type GetUserTokenQuery struct {
	source TokenSource
}

func NewGetUserTokenQuery(source TokenSource) *GetUserTokenQuery {
	return &GetUserTokenQuery{source: source}
}

func (q *GetUserTokenQuery) Query(ctx context.Context, msg GetUserTokenMessage) (*credentials.Token, error) {
	if q == nil || q.source == nil {
		return nil, core.NewMissingDependencyError("query: token source is required")
	}
	return q.source.GetUserToken(ctx, msg.Scope)
}

type ServiceURLQuery struct {
	resolver ServiceResolver
}

func NewServiceURLQuery(resolver ServiceResolver) *ServiceURLQuery {
	return &ServiceURLQuery{resolver: resolver}
}

// Query returns a NotFoundError under the "catalog" namespace for unknown
// services.
func (q *ServiceURLQuery) Query(_ context.Context, msg ServiceURLMessage) (string, error) {
	if q == nil || q.resolver == nil {
		return "", core.NewMissingDependencyError("query: service resolver is required")
	}
	var tier catalog.Tier
	if strings.TrimSpace(msg.Tier) != "" {
		parsed, err := catalog.ParseTier(msg.Tier)
		if err != nil {
			return "", core.NewFieldError("query", "tier", err.Error())
		}
		tier = parsed
	}
	name := strings.TrimSpace(msg.Name)
	resolved, ok := q.resolver.Get(name, msg.PriorityHost, tier)
	if !ok {
		return "", core.NewNotFoundError("catalog", name)
	}
	return resolved, nil
}

type ClusterIDQuery struct {
	resolver ServiceResolver
}

func NewClusterIDQuery(resolver ServiceResolver) *ClusterIDQuery {
	return &ClusterIDQuery{resolver: resolver}
}

func (q *ClusterIDQuery) Query(_ context.Context, msg ClusterIDMessage) (string, error) {
	if q == nil || q.resolver == nil {
		return "", core.NewMissingDependencyError("query: service resolver is required")
	}
	rawURL := strings.TrimSpace(msg.URL)
	clusterID, ok := q.resolver.FindClusterID(rawURL)
	if !ok {
		return "", core.NewNotFoundError("cluster", rawURL)
	}
	return clusterID, nil
}

type WaitForCatalogQuery struct {
	waiter CatalogWaiter
}

func NewWaitForCatalogQuery(waiter CatalogWaiter) *WaitForCatalogQuery {
	return &WaitForCatalogQuery{waiter: waiter}
}

func (q *WaitForCatalogQuery) Query(ctx context.Context, msg WaitForCatalogMessage) (WaitForCatalogResult, error) {
	if q == nil || q.waiter == nil {
		return WaitForCatalogResult{}, core.NewMissingDependencyError("query: catalog waiter is required")
	}
	tier, err := catalog.ParseTier(msg.Tier)
	if err != nil {
		return WaitForCatalogResult{}, core.NewFieldError("query", "tier", err.Error())
	}
	if err := q.waiter.WaitForCatalog(ctx, tier, msg.Timeout); err != nil {
		return WaitForCatalogResult{Tier: tier}, err
	}
	return WaitForCatalogResult{Tier: tier, Ready: true}, nil
}
