package command

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-collab/catalog"
	"github.com/goliatone/go-collab/credentials"
)

var (
	_ gocmd.Commander[RefreshCredentialsMessage]    = (*RefreshCredentialsCommand)(nil)
	_ gocmd.Commander[InvalidateCredentialsMessage] = (*InvalidateCredentialsCommand)(nil)
	_ gocmd.Commander[MarkHostFailedMessage]        = (*MarkHostFailedCommand)(nil)
	_ gocmd.Commander[UpdateCatalogMessage]         = (*UpdateCatalogCommand)(nil)

	_ CredentialsService = (*credentials.Manager)(nil)
	_ HostFailover       = (*catalog.Catalog)(nil)
	_ CatalogUpdater     = (*catalog.Catalog)(nil)
)
