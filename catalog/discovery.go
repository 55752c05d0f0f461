package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/goliatone/go-collab/core"
)

// DiscoveryHost is one host entry of a discovery payload host group.
type DiscoveryHost struct {
	ID       string `json:"id" yaml:"id"`
	Priority int    `json:"priority" yaml:"priority"`
	Host     string `json:"host" yaml:"host"`
	// HomeCluster defaults to true when absent.
	HomeCluster *bool `json:"homeCluster,omitempty" yaml:"homeCluster,omitempty"`
}

func (h DiscoveryHost) IsHomeCluster() bool {
	return h.HomeCluster == nil || *h.HomeCluster
}

// DiscoveryPayload is the service map produced by the discovery exchange.
type DiscoveryPayload struct {
	ServiceLinks map[string]string          `json:"serviceLinks" yaml:"serviceLinks"`
	HostCatalog  map[string][]DiscoveryHost `json:"hostCatalog" yaml:"hostCatalog"`
}

// ServiceURLs builds one ServiceURL per service link, attaching every host
// whose cluster id names that service.
func (p DiscoveryPayload) ServiceURLs() []ServiceURL {
	names := make([]string, 0, len(p.ServiceLinks))
	for name := range p.ServiceLinks {
		names = append(names, name)
	}
	sort.Strings(names)

	groups := make([]string, 0, len(p.HostCatalog))
	for group := range p.HostCatalog {
		groups = append(groups, group)
	}
	sort.Strings(groups)

	out := make([]ServiceURL, 0, len(names))
	for _, name := range names {
		service := ServiceURL{Name: name, DefaultURL: p.ServiceLinks[name]}
		for _, group := range groups {
			for _, entry := range p.HostCatalog[group] {
				if ServiceNameFromClusterID(entry.ID) != name {
					continue
				}
				service.Hosts = append(service.Hosts, HostRecord{
					Host:        entry.Host,
					Priority:    entry.Priority,
					HomeCluster: entry.IsHomeCluster(),
				})
			}
		}
		out = append(out, service)
	}
	return out
}

// Discoverer fetches a discovery payload and feeds it into a Catalog.
type Discoverer struct {
	Catalog   *Catalog
	Transport core.Transport
	URL       string
	Telemetry core.Telemetry
}

// Discover fetches the host map and updates tier. Extra query values are
// appended to the discovery URL.
func (d *Discoverer) Discover(ctx context.Context, tier Tier, query url.Values) (DiscoveryPayload, error) {
	if d == nil || d.Catalog == nil || d.Transport == nil {
		return DiscoveryPayload{}, core.NewBadInputError("catalog: discoverer requires catalog and transport")
	}
	if !tier.Valid() {
		return DiscoveryPayload{}, fmt.Errorf("catalog: invalid tier %q", tier)
	}
	endpoint, err := url.Parse(strings.TrimSpace(d.URL))
	if err != nil || endpoint.Host == "" {
		return DiscoveryPayload{}, core.NewBadInputError("catalog: discovery url is invalid")
	}
	values := endpoint.Query()
	values.Set("format", "hostmap")
	for key, items := range query {
		for _, item := range items {
			values.Add(key, item)
		}
	}
	endpoint.RawQuery = values.Encode()

	req := core.NewRequest(http.MethodGet, endpoint.String())
	req.Service = "u2c"
	if tier == TierPreAuth || tier == TierDiscovery {
		req.AddAuthHeader = core.BoolPtr(false)
	}
	res, err := d.Transport.Do(ctx, req)
	if err != nil {
		return DiscoveryPayload{}, err
	}
	if !res.OK() {
		return DiscoveryPayload{}, core.NewHTTPError(res)
	}
	var payload DiscoveryPayload
	if err := json.Unmarshal(res.Body, &payload); err != nil {
		return DiscoveryPayload{}, fmt.Errorf("catalog: decode discovery payload: %w", err)
	}
	if err := d.Catalog.Update(tier, payload); err != nil {
		return DiscoveryPayload{}, err
	}
	d.Telemetry.Info(ctx, "catalog discovery completed", map[string]any{
		"tier":     string(tier),
		"services": len(payload.ServiceLinks),
	})
	return payload, nil
}
