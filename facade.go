package collab

import (
	"fmt"

	"github.com/goliatone/go-collab/adapters/gocommand"
	collabcommand "github.com/goliatone/go-collab/command"
	"github.com/goliatone/go-collab/credentials"
	collabquery "github.com/goliatone/go-collab/query"
)

type Commands struct {
	RefreshCredentials    *collabcommand.RefreshCredentialsCommand
	InvalidateCredentials *collabcommand.InvalidateCredentialsCommand
	MarkHostFailed        *collabcommand.MarkHostFailedCommand
	UpdateCatalog         *collabcommand.UpdateCatalogCommand
}

type Queries struct {
	GetUserToken   *collabquery.GetUserTokenQuery
	ServiceURL     *collabquery.ServiceURLQuery
	ClusterID      *collabquery.ClusterIDQuery
	WaitForCatalog *collabquery.WaitForCatalogQuery
}

// Facade exposes a Session through go-command handlers.
type Facade struct {
	session  *Session
	commands Commands
	queries  Queries
}

func NewFacade(session *Session) (*Facade, error) {
	if session == nil || session.catalog == nil || session.credentials == nil {
		return nil, fmt.Errorf("collab: session is required")
	}
	facade := &Facade{session: session}
	facade.commands = Commands{
		RefreshCredentials:    collabcommand.NewRefreshCredentialsCommand(session.credentials),
		InvalidateCredentials: collabcommand.NewInvalidateCredentialsCommand(session.credentials),
		MarkHostFailed:        collabcommand.NewMarkHostFailedCommand(session.catalog),
		UpdateCatalog:         collabcommand.NewUpdateCatalogCommand(session.catalog),
	}
	facade.queries = Queries{
		GetUserToken:   collabquery.NewGetUserTokenQuery(session.credentials),
		ServiceURL:     collabquery.NewServiceURLQuery(session.catalog),
		ClusterID:      collabquery.NewClusterIDQuery(session.catalog),
		WaitForCatalog: collabquery.NewWaitForCatalogQuery(session.catalog),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Session() *Session {
	if f == nil {
		return nil
	}
	return f.session
}

// Register subscribes every handler on the go-command registry. The
// returned subscriptions release them all.
func (f *Facade) Register(adapter *gocommand.RegistryAdapter) (*gocommand.Subscriptions, error) {
	if f == nil {
		return nil, fmt.Errorf("collab: facade is required")
	}
	if adapter == nil {
		return nil, fmt.Errorf("collab: registry adapter is required")
	}
	return gocommand.Register(adapter,
		gocommand.CommandStep[collabcommand.RefreshCredentialsMessage](f.commands.RefreshCredentials),
		gocommand.CommandStep[collabcommand.InvalidateCredentialsMessage](f.commands.InvalidateCredentials),
		gocommand.CommandStep[collabcommand.MarkHostFailedMessage](f.commands.MarkHostFailed),
		gocommand.CommandStep[collabcommand.UpdateCatalogMessage](f.commands.UpdateCatalog),
		gocommand.QueryStep[collabquery.GetUserTokenMessage, *credentials.Token](f.queries.GetUserToken),
		gocommand.QueryStep[collabquery.ServiceURLMessage, string](f.queries.ServiceURL),
		gocommand.QueryStep[collabquery.ClusterIDMessage, string](f.queries.ClusterID),
		gocommand.QueryStep[collabquery.WaitForCatalogMessage, collabquery.WaitForCatalogResult](f.queries.WaitForCatalog),
	)
}
