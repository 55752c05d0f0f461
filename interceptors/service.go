package interceptors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-collab/core"
)

// ServiceResolver turns Service and Resource descriptors into an absolute
// URI by waiting for the service to appear in the catalog.
type ServiceResolver struct {
	catalog ServiceCatalog
	wait    time.Duration
}

func NewServiceResolver(catalog ServiceCatalog, wait time.Duration) *ServiceResolver {
	if wait <= 0 {
		wait = core.DefaultServiceWaitTimeout
	}
	return &ServiceResolver{catalog: catalog, wait: wait}
}

func (*ServiceResolver) Name() string { return "service" }

func (s *ServiceResolver) OnRequest(ctx context.Context, call *Call) error {
	req := call.Request
	if strings.TrimSpace(req.URI) != "" {
		return nil
	}
	if strings.TrimSpace(req.Service) == "" {
		return core.NewBadInputError("interceptors: request requires a uri or a service")
	}
	base, err := s.catalog.WaitForService(ctx, req.Service, s.wait)
	if err != nil {
		return fmt.Errorf("interceptors: resolve service %q: %w", req.Service, err)
	}
	req.URI = req.ResolvedURI(base)
	return nil
}

func serviceName(catalog ServiceCatalog, req *core.Request) string {
	if name := strings.TrimSpace(req.Service); name != "" {
		return name
	}
	if catalog != nil {
		if name, ok := catalog.FindServiceName(req.URI); ok {
			return name
		}
	}
	return req.Host()
}
