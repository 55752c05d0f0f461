package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-collab/catalog"
	"github.com/goliatone/go-collab/credentials"
)

var (
	_ gocmd.Querier[GetUserTokenMessage, *credentials.Token]     = (*GetUserTokenQuery)(nil)
	_ gocmd.Querier[ServiceURLMessage, string]                   = (*ServiceURLQuery)(nil)
	_ gocmd.Querier[ClusterIDMessage, string]                    = (*ClusterIDQuery)(nil)
	_ gocmd.Querier[WaitForCatalogMessage, WaitForCatalogResult] = (*WaitForCatalogQuery)(nil)

	_ TokenSource     = (*credentials.Manager)(nil)
	_ ServiceResolver = (*catalog.Catalog)(nil)
	_ CatalogWaiter   = (*catalog.Catalog)(nil)
)
