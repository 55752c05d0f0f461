package command

import (
	"context"
	"strings"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-collab/catalog"
	"github.com/goliatone/go-collab/core"
	"github.com/goliatone/go-collab/credentials"
)

// CredentialsService is the slice of credentials.Manager the commands drive.
type CredentialsService interface {
	Refresh(ctx context.Context) (*credentials.Token, error)
	Invalidate(ctx context.Context) error
}

type HostFailover interface {
	MarkFailedURL(rawURL string) (string, bool)
}

type CatalogUpdater interface {
	Update(tier catalog.Tier, payload catalog.DiscoveryPayload) error
	List(priorityHost bool, tier catalog.Tier) map[string]string
}

type RefreshCredentialsCommand struct {
	service CredentialsService
}

func NewRefreshCredentialsCommand(service CredentialsService) *RefreshCredentialsCommand {
	return &RefreshCredentialsCommand{service: service}
}

// Execute stores the refreshed supertoken in the context result collector.
func (c *RefreshCredentialsCommand) Execute(ctx context.Context, _ RefreshCredentialsMessage) error {
	if c == nil || c.service == nil {
		return core.NewMissingDependencyError("command: credentials service is required")
	}
	token, err := c.service.Refresh(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, token)
	return nil
}

type InvalidateCredentialsCommand struct {
	service CredentialsService
}

func NewInvalidateCredentialsCommand(service CredentialsService) *InvalidateCredentialsCommand {
	return &InvalidateCredentialsCommand{service: service}
}

func (c *InvalidateCredentialsCommand) Execute(ctx context.Context, _ InvalidateCredentialsMessage) error {
	if c == nil || c.service == nil {
		return core.NewMissingDependencyError("command: credentials service is required")
	}
	return c.service.Invalidate(ctx)
}

type MarkHostFailedCommand struct {
	failover HostFailover
}

func NewMarkHostFailedCommand(failover HostFailover) *MarkHostFailedCommand {
	return &MarkHostFailedCommand{failover: failover}
}

func (c *MarkHostFailedCommand) Execute(ctx context.Context, msg MarkHostFailedMessage) error {
	if c == nil || c.failover == nil {
		return core.NewMissingDependencyError("command: catalog is required")
	}
	failed := strings.TrimSpace(msg.URL)
	next, known := c.failover.MarkFailedURL(failed)
	storeResult(ctx, MarkHostFailedResult{FailedURL: failed, NextURL: next, Known: known})
	return nil
}

type UpdateCatalogCommand struct {
	catalog CatalogUpdater
}

func NewUpdateCatalogCommand(updater CatalogUpdater) *UpdateCatalogCommand {
	return &UpdateCatalogCommand{catalog: updater}
}

func (c *UpdateCatalogCommand) Execute(ctx context.Context, msg UpdateCatalogMessage) error {
	if c == nil || c.catalog == nil {
		return core.NewMissingDependencyError("command: catalog is required")
	}
	tier, err := catalog.ParseTier(msg.Tier)
	if err != nil {
		return core.NewFieldError("command", "tier", err.Error())
	}
	if err := c.catalog.Update(tier, msg.Payload); err != nil {
		return err
	}
	storeResult(ctx, UpdateCatalogResult{Tier: tier, Services: c.catalog.List(true, tier)})
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
