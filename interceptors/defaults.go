package interceptors

import (
	"strconv"
	"time"

	"github.com/goliatone/go-collab/core"
	"github.com/goliatone/go-collab/ratelimit"
)

// Dependencies feeds Defaults. Nil collaborators drop the interceptors that
// need them.
type Dependencies struct {
	Config      core.Config
	Catalog     ServiceCatalog
	Credentials CredentialSource
	Limiter     *ratelimit.Limiter
	Devices     DeviceClearer
	Telemetry   core.Telemetry
	Tracking    *Tracking
	Now         func() time.Time
}

// Defaults returns the standard interceptor order: tracking, service,
// rate_limit, auth, embargo, redirect, server_error, timing, logging.
func Defaults(deps Dependencies) []Interceptor {
	cfg := deps.Config
	tracking := deps.Tracking
	if tracking == nil {
		tracking = NewTracking(cfg.SessionName)
	}
	out := []Interceptor{tracking}
	if deps.Catalog != nil {
		out = append(out, NewServiceResolver(deps.Catalog, cfg.Auth.ServiceWait))
	}
	if deps.Limiter != nil {
		out = append(out, NewRateLimit(deps.Limiter, deps.Catalog, deps.Telemetry))
	}
	if deps.Credentials != nil {
		out = append(out,
			NewAuth(cfg.Auth, deps.Catalog, deps.Credentials, deps.Telemetry),
			NewEmbargo(deps.Credentials, deps.Devices, deps.Telemetry),
		)
	}
	out = append(out, NewRedirect(cfg.Redirects, deps.Telemetry, cfg.Credentials.TokenURL, cfg.Credentials.AuthorizeURL))
	if deps.Catalog != nil {
		out = append(out, NewServerError(cfg, deps.Catalog, deps.Telemetry))
	}
	return append(out,
		NewTiming(deps.Telemetry, deps.Now),
		NewLogging(deps.Telemetry, cfg.Logging.HTTP),
	)
}

func itoa(value int) string {
	return strconv.Itoa(value)
}
